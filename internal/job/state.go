package job

// State is the position of a job in its pipeline. Transitions follow a
// single forward order; `done` and `error` are alternatives at the same
// rank, both reached from `connected` and both followed only by
// `instance_terminated`.
type State string

const (
	StateUnpaid             State = "unpaid"
	StatePaid               State = "paid"
	StateFilePrepared       State = "file_prepared"
	StateInstanceStarted    State = "instance_started"
	StateConnected          State = "connected"
	StateDone               State = "done"
	StateError              State = "error"
	StateInstanceTerminated State = "instance_terminated"
)

// stateRank orders states. Equal rank means mutually exclusive alternatives.
var stateRank = map[State]int{
	StateUnpaid:             0,
	StatePaid:               1,
	StateFilePrepared:       2,
	StateInstanceStarted:    3,
	StateConnected:          4,
	StateDone:               5,
	StateError:              5,
	StateInstanceTerminated: 6,
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	_, ok := stateRank[s]
	return ok
}

// CanAdvance reports whether a transition from s to next is allowed: next
// must be exactly one rank ahead, so states are never skipped or rewound.
func (s State) CanAdvance(next State) bool {
	from, ok := stateRank[s]
	if !ok {
		return false
	}
	to, ok := stateRank[next]
	if !ok {
		return false
	}
	return to == from+1
}

// Terminal reports whether no further transitions exist from s.
func (s State) Terminal() bool {
	return s == StateInstanceTerminated
}

func (s State) String() string {
	return string(s)
}
