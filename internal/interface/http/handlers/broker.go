package handlers

import (
	"sync"
)

const listenerBufferSize = 32

type listener[T any] struct {
	id string
	ch chan T
}

// broker fans events out to any number of listeners. Slow listeners miss
// events instead of blocking the others.
type broker[T any] struct {
	lock      *sync.Mutex
	listeners []*listener[T]
}

func newBroker[T any]() *broker[T] {
	return &broker[T]{
		lock:      &sync.Mutex{},
		listeners: make([]*listener[T], 0),
	}
}

func (b *broker[T]) pushListener(l *listener[T]) {
	b.lock.Lock()
	defer b.lock.Unlock()

	b.listeners = append(b.listeners, l)
}

func (b *broker[T]) removeListener(id string) {
	b.lock.Lock()
	defer b.lock.Unlock()

	for i, l := range b.listeners {
		if l.id == id {
			close(l.ch)
			b.listeners = append(b.listeners[:i], b.listeners[i+1:]...)
			return
		}
	}
}

func (b *broker[T]) count() int {
	b.lock.Lock()
	defer b.lock.Unlock()

	return len(b.listeners)
}

func (b *broker[T]) publish(ev T) int {
	b.lock.Lock()
	defer b.lock.Unlock()

	missed := 0
	for _, l := range b.listeners {
		select {
		case l.ch <- ev:
		default:
			missed++
		}
	}
	return missed
}

func (b *broker[T]) closeAll() {
	b.lock.Lock()
	defer b.lock.Unlock()

	for _, l := range b.listeners {
		close(l.ch)
	}
	b.listeners = make([]*listener[T], 0)
}
