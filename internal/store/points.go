package store

import (
	"context"

	"github.com/dukerupert/mimitask/internal/model"
)

// AddPoints credits a partner and the couple total. Non-positive amounts
// are ignored.
func (l *Local) AddPoints(role model.PartnerRole, points int) {
	if points <= 0 || !role.Valid() {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.addPoints(role, points)
	l.persist()
	l.forwardStats()
}

func (l *Local) addPoints(role model.PartnerRole, points int) {
	l.data.Stats.Ref(role).TotalPoints += points
	l.data.Stats.CouplePoints += points
}

// DeductPoints debits a partner and the couple total. It returns false and
// changes nothing when the partner cannot cover the amount.
func (l *Local) DeductPoints(role model.PartnerRole, amount int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.deductPoints(role, amount) {
		return false
	}
	l.persist()
	l.forwardStats()
	return true
}

func (l *Local) deductPoints(role model.PartnerRole, amount int) bool {
	if !role.Valid() || amount < 0 {
		return false
	}
	p := l.data.Stats.Ref(role)
	if amount > p.TotalPoints {
		return false
	}
	p.TotalPoints -= amount
	l.data.Stats.CouplePoints -= amount
	return true
}

// UpdateStreak sets the current streak, raises the best streak when
// exceeded and records the activity day when one is given.
func (l *Local) UpdateStreak(role model.PartnerRole, streak int, day string) {
	if !role.Valid() {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	p := l.data.Stats.Ref(role)
	p.CurrentStreak = streak
	if streak > p.BestStreak {
		p.BestStreak = streak
	}
	if day != "" {
		p.LastActivityDate = day
	}
	l.persist()
	l.forwardStats()
}

// ResetStreak zeroes a partner's running streak. The best streak and the
// last activity day are kept.
func (l *Local) ResetStreak(role model.PartnerRole) {
	if !role.Valid() {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	p := l.data.Stats.Ref(role)
	p.CurrentStreak = 0
	l.persist()
	l.forwardStats()
}

func (l *Local) forwardStats() {
	s := l.data.Stats
	l.forward("write stats", func(r Remote, ctx context.Context) error {
		return r.WriteStats(ctx, s)
	})
}

// --- Delegation ---

// RequestDelegation marks a task as pending hand-over to the other partner.
// Paid requests debit cost from the requester first and fail as a whole
// when the requester cannot pay.
func (l *Local) RequestDelegation(taskID string, by model.PartnerRole, typ model.DelegationType, cost int) bool {
	if typ == "" {
		typ = model.DelegationFree
	}
	if typ != model.DelegationFree && typ != model.DelegationPaid {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	t := l.findTask(taskID)
	if t == nil || t.Completed() || t.DelegationPending() {
		return false
	}
	d := &model.Delegation{
		Status:      model.DelegationPending,
		RequestedBy: by,
		Type:        typ,
		RequestedAt: l.now().UTC(),
	}
	if typ == model.DelegationPaid {
		if !l.deductPoints(by, cost) {
			return false
		}
		d.Cost = cost
	}
	t.Delegation = d
	l.persist()
	l.forwardTask(*t)
	if typ == model.DelegationPaid {
		l.forwardStats()
	}
	return true
}

// AcceptDelegation hands the task to the other partner.
func (l *Local) AcceptDelegation(taskID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	t := l.findTask(taskID)
	if t == nil || !t.DelegationPending() {
		return false
	}
	t.AssignedTo = t.AssignedTo.Other()
	t.Delegation.Status = model.DelegationAccepted
	t.Delegation.AcceptedAt = l.stamp()
	l.persist()
	l.forwardTask(*t)
	return true
}

// DeclineDelegation clears a pending request, refunding paid ones in full.
func (l *Local) DeclineDelegation(taskID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	t := l.findTask(taskID)
	if t == nil || !t.DelegationPending() {
		return false
	}
	d := t.Delegation
	t.Delegation = nil
	refunded := false
	if d.Type == model.DelegationPaid {
		cost := d.Cost
		if cost == 0 {
			cost = model.PaidDelegationCost
		}
		if d.RequestedBy.Valid() {
			l.addPoints(d.RequestedBy, cost)
			refunded = true
		}
	}
	l.persist()
	l.forwardTask(*t)
	if refunded {
		l.forwardStats()
	}
	return true
}
