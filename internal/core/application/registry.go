package application

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ark-network/coinjoin/internal/core/domain"
)

// roundRegistry holds the rounds published by the coordinator and this
// wallet's Alices. It is owned by a single service instance.
type roundRegistry struct {
	lock        *sync.RWMutex
	rounds      map[string]domain.Round
	alices      map[domain.AliceKey]*domain.Alice
	inFlight    map[domain.AliceKey]struct{}
	registering map[domain.Outpoint]struct{}
}

func newRoundRegistry() *roundRegistry {
	return &roundRegistry{
		lock:        &sync.RWMutex{},
		rounds:      make(map[string]domain.Round),
		alices:      make(map[domain.AliceKey]*domain.Alice),
		inFlight:    make(map[domain.AliceKey]struct{}),
		registering: make(map[domain.Outpoint]struct{}),
	}
}

// update replaces the known rounds and returns the ids of those no longer
// published.
func (r *roundRegistry) update(rounds []domain.Round) []string {
	r.lock.Lock()
	defer r.lock.Unlock()

	published := make(map[string]domain.Round, len(rounds))
	for _, round := range rounds {
		published[round.Id] = round
	}

	vanished := make([]string, 0)
	for id := range r.rounds {
		if _, ok := published[id]; !ok {
			vanished = append(vanished, id)
		}
	}
	// Alices may outlive the round list of a fresh process.
	for key := range r.alices {
		if _, ok := published[key.RoundId]; !ok {
			if _, known := r.rounds[key.RoundId]; !known {
				vanished = append(vanished, key.RoundId)
			}
		}
	}
	r.rounds = published

	sort.Strings(vanished)
	return dedup(vanished)
}

func (r *roundRegistry) listRounds() []domain.Round {
	r.lock.RLock()
	defer r.lock.RUnlock()

	rounds := make([]domain.Round, 0, len(r.rounds))
	for _, round := range r.rounds {
		rounds = append(rounds, round)
	}
	sort.SliceStable(rounds, func(i, j int) bool {
		return rounds[i].InputRegistrationEnd.Before(rounds[j].InputRegistrationEnd)
	})
	return rounds
}

func (r *roundRegistry) push(alice *domain.Alice) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	key := alice.Key()
	if _, ok := r.alices[key]; ok {
		return fmt.Errorf("duplicated alice %s", key)
	}
	r.alices[key] = alice
	return nil
}

// updateAlice stores the new state of an Alice. It is a no-op if the Alice has
// been dropped meanwhile.
func (r *roundRegistry) updateAlice(alice *domain.Alice) bool {
	r.lock.Lock()
	defer r.lock.Unlock()

	key := alice.Key()
	if _, ok := r.alices[key]; !ok {
		return false
	}
	r.alices[key] = alice
	return true
}

func (r *roundRegistry) remove(key domain.AliceKey) (*domain.Alice, bool) {
	r.lock.Lock()
	defer r.lock.Unlock()

	alice, ok := r.alices[key]
	if !ok {
		return nil, false
	}
	delete(r.alices, key)
	return alice, true
}

func (r *roundRegistry) aliceByOutpoint(outpoint domain.Outpoint) (domain.Alice, bool) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	for key, alice := range r.alices {
		if key.Outpoint == outpoint {
			return *alice, true
		}
	}
	return domain.Alice{}, false
}

func (r *roundRegistry) alicesOfRound(roundId string) []domain.Alice {
	r.lock.RLock()
	defer r.lock.RUnlock()

	alices := make([]domain.Alice, 0)
	for key, alice := range r.alices {
		if key.RoundId == roundId {
			alices = append(alices, *alice)
		}
	}
	sortAlices(alices)
	return alices
}

func (r *roundRegistry) listAlices() []domain.Alice {
	r.lock.RLock()
	defer r.lock.RUnlock()

	alices := make([]domain.Alice, 0, len(r.alices))
	for _, alice := range r.alices {
		alices = append(alices, *alice)
	}
	sortAlices(alices)
	return alices
}

// markInFlight flags all the given Alices as busy, or none of them if any
// already is.
func (r *roundRegistry) markInFlight(keys ...domain.AliceKey) bool {
	r.lock.Lock()
	defer r.lock.Unlock()

	for _, key := range keys {
		if _, ok := r.inFlight[key]; ok {
			return false
		}
	}
	for _, key := range keys {
		r.inFlight[key] = struct{}{}
	}
	return true
}

func (r *roundRegistry) isInFlight(key domain.AliceKey) bool {
	r.lock.RLock()
	defer r.lock.RUnlock()

	_, ok := r.inFlight[key]
	return ok
}

func (r *roundRegistry) clearInFlight(keys ...domain.AliceKey) {
	r.lock.Lock()
	defer r.lock.Unlock()

	for _, key := range keys {
		delete(r.inFlight, key)
	}
}

func (r *roundRegistry) startRegistration(outpoint domain.Outpoint) bool {
	r.lock.Lock()
	defer r.lock.Unlock()

	if _, ok := r.registering[outpoint]; ok {
		return false
	}
	r.registering[outpoint] = struct{}{}
	return true
}

func (r *roundRegistry) endRegistration(outpoint domain.Outpoint) {
	r.lock.Lock()
	defer r.lock.Unlock()

	delete(r.registering, outpoint)
}

func sortAlices(alices []domain.Alice) {
	sort.SliceStable(alices, func(i, j int) bool {
		ki, kj := alices[i].Key(), alices[j].Key()
		if ki.RoundId != kj.RoundId {
			return ki.RoundId < kj.RoundId
		}
		return ki.Outpoint.String() < kj.Outpoint.String()
	})
}

func dedup(ids []string) []string {
	out := make([]string, 0, len(ids))
	for i, id := range ids {
		if i > 0 && ids[i-1] == id {
			continue
		}
		out = append(out, id)
	}
	return out
}
