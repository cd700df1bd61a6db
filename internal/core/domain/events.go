package domain

type ParticipationEvent interface {
	isEvent()
}

func (e AliceRegistered) isEvent() {}
func (e PhaseAdvanced) isEvent()   {}
func (e AliceDropped) isEvent()    {}
func (e AliceCompleted) isEvent()  {}

type AliceRegistered struct {
	Id        string
	RoundId   string
	Outpoint  Outpoint
	AliceId   string
	Amount    uint64
	Timestamp int64
}

type PhaseAdvanced struct {
	Id        string
	RoundId   string
	Outpoint  Outpoint
	From      Phase
	To        Phase
	Timestamp int64
}

type AliceDropped struct {
	Id       string
	RoundId  string
	Outpoint Outpoint
	Phase    Phase
	Reason   string
	// Committed is set when the Alice had already registered its outputs,
	// funds are then tied to an in-flight round.
	Committed bool
	Timestamp int64
}

type AliceCompleted struct {
	Id        string
	RoundId   string
	Outpoint  Outpoint
	Timestamp int64
}
