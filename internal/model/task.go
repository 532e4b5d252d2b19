package model

import "time"

type Recurrence string

const (
	RecurrenceOnce     Recurrence = "once"
	RecurrenceDaily    Recurrence = "daily"
	RecurrenceWeekly   Recurrence = "weekly"
	RecurrenceBiweekly Recurrence = "biweekly"
	RecurrenceMonthly  Recurrence = "monthly"
)

func (r Recurrence) Valid() bool {
	switch r {
	case RecurrenceOnce, RecurrenceDaily, RecurrenceWeekly, RecurrenceBiweekly, RecurrenceMonthly:
		return true
	}
	return false
}

type DelegationStatus string

const (
	DelegationPending  DelegationStatus = "pending"
	DelegationAccepted DelegationStatus = "accepted"
)

type DelegationType string

const (
	DelegationFree DelegationType = "free"
	DelegationPaid DelegationType = "paid"
)

// PaidDelegationCost is the fixed point price of a paid delegation.
const PaidDelegationCost = 300

type Delegation struct {
	Status      DelegationStatus `json:"status"`
	RequestedBy PartnerRole      `json:"requestedBy"`
	Type        DelegationType   `json:"type"`
	Cost        int              `json:"cost,omitempty"`
	RequestedAt time.Time        `json:"requestedAt"`
	AcceptedAt  *time.Time       `json:"acceptedAt,omitempty"`
}

type Task struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Points      int         `json:"points"`
	AssignedTo  PartnerRole `json:"assignedTo"`
	Recurrence  Recurrence  `json:"recurrence"`
	Icon        string      `json:"icon"`
	Category    string      `json:"category"`
	CompletedAt *time.Time  `json:"completedAt"`
	Delegation  *Delegation `json:"delegationStatus"`
	CreatedAt   time.Time   `json:"createdAt"`
}

func (t Task) Completed() bool {
	return t.CompletedAt != nil
}

func (t Task) DelegationPending() bool {
	return t.Delegation != nil && t.Delegation.Status == DelegationPending
}

// PaidDelegationAccepted reports whether the task was handed over through
// an accepted paid delegation, which voids its point award.
func (t Task) PaidDelegationAccepted() bool {
	return t.Delegation != nil && t.Delegation.Type == DelegationPaid && t.Delegation.Status == DelegationAccepted
}

// Clone returns a copy that shares no pointers with t.
func (t Task) Clone() Task {
	if t.CompletedAt != nil {
		c := *t.CompletedAt
		t.CompletedAt = &c
	}
	if t.Delegation != nil {
		d := *t.Delegation
		if d.AcceptedAt != nil {
			a := *d.AcceptedAt
			d.AcceptedAt = &a
		}
		t.Delegation = &d
	}
	return t
}
