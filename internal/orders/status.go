package orders

import "fmt"

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
)

// Effect is the side effect a transition carries besides persisting the new status.
type Effect int

const (
	EffectNone Effect = iota
	EffectRestoreStock
)

// transitions lists every legal move out of each status. Terminal statuses have none.
var transitions = map[Status]map[Status]Effect{
	StatusPending: {
		StatusProcessing: EffectNone,
		StatusCancelled:  EffectRestoreStock,
	},
	StatusProcessing: {
		StatusDelivered: EffectNone,
		StatusCancelled: EffectRestoreStock,
	},
	StatusDelivered: {},
	StatusCancelled: {},
}

func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if _, ok := transitions[st]; !ok {
		return "", fmt.Errorf("%w: unknown status %q", ErrInvalidInput, s)
	}
	return st, nil
}

func (s Status) Terminal() bool {
	next, ok := transitions[s]
	return ok && len(next) == 0
}

// Transition decides whether from -> to is allowed and what it implies.
// Requesting the current status is an idempotent no-op.
func Transition(from, to Status) (Effect, error) {
	next, ok := transitions[from]
	if !ok {
		return EffectNone, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, from)
	}
	if _, ok := transitions[to]; !ok {
		return EffectNone, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, to)
	}
	if from == to {
		return EffectNone, nil
	}
	eff, ok := next[to]
	if !ok {
		return EffectNone, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return eff, nil
}

func CanTransition(from, to Status) bool {
	_, err := Transition(from, to)
	return err == nil
}
