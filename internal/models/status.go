package models

// Status is the lifecycle state of a booking.
type Status string

const (
	StatusPending       Status = "pending"
	StatusPaidWaitAdmin Status = "paid_wait_admin"
	StatusConfirmed     Status = "confirmed"
	StatusCancelled     Status = "cancelled"
	StatusExpired       Status = "expired"
	StatusCompleted     Status = "completed"
)

// AllStatuses lists every valid status in lifecycle order.
var AllStatuses = []Status{
	StatusPending,
	StatusPaidWaitAdmin,
	StatusConfirmed,
	StatusCancelled,
	StatusExpired,
	StatusCompleted,
}

var transitions = map[Status][]Status{
	StatusPending:       {StatusPaidWaitAdmin, StatusCancelled, StatusExpired},
	StatusPaidWaitAdmin: {StatusConfirmed, StatusPending, StatusCancelled},
	StatusConfirmed:     {StatusCompleted, StatusCancelled},
	StatusCancelled:     nil,
	StatusExpired:       nil,
	StatusCompleted:     nil,
}

// ParseStatus validates a stored status string.
func ParseStatus(s string) (Status, bool) {
	st := Status(s)
	_, ok := transitions[st]
	return st, ok
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// CanTransition checks the central transition table.
func (s Status) CanTransition(to Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions exist.
func (s Status) IsTerminal() bool {
	return s.Valid() && len(transitions[s]) == 0
}

// IsAlive reports whether the booking still holds its interval.
func (s Status) IsAlive() bool {
	switch s {
	case StatusPending, StatusPaidWaitAdmin, StatusConfirmed:
		return true
	}
	return false
}

func (s Status) String() string { return string(s) }

// ConfirmOutcome is the reason code returned by an idempotent confirmation.
type ConfirmOutcome string

const (
	ConfirmOK      ConfirmOutcome = "confirmed"
	ConfirmAlready ConfirmOutcome = "already"
	ConfirmInvalid ConfirmOutcome = "invalid"
	ConfirmNotPaid ConfirmOutcome = "not_paid"
)
