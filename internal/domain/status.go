package domain

// Status is a document's lifecycle state.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusIssued    Status = "issued"
	StatusPaid      Status = "paid"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// transitions is the lifecycle state machine. completed is terminal;
// cancelled documents may only be reopened to draft.
var transitions = map[Status][]Status{
	StatusDraft:     {StatusIssued, StatusCancelled},
	StatusIssued:    {StatusPaid, StatusCancelled},
	StatusPaid:      {StatusCompleted, StatusCancelled},
	StatusCompleted: {},
	StatusCancelled: {StatusDraft},
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// CanTransitionTo reports whether next is reachable from s. A no-op
// transition to the current status is always allowed.
func (s Status) CanTransitionTo(next Status) bool {
	if s == next {
		return true
	}
	for _, n := range transitions[s] {
		if n == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions exist from s.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}
