package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/dukerupert/mimitask/internal/model"
	"github.com/dukerupert/mimitask/internal/recurrence"
)

func newEntityID() string {
	return uuid.NewString()
}

// NewTask holds the user supplied fields of a task. Zero values pick the
// defaults: partnerA, daily, 📋, divers.
type NewTask struct {
	Name       string
	Points     int
	AssignedTo model.PartnerRole
	Recurrence model.Recurrence
	Icon       string
	Category   string
}

func (l *Local) buildTask(in NewTask) (model.Task, error) {
	name := CleanName(in.Name)
	if name == "" {
		return model.Task{}, ErrInvalidName
	}
	if in.Points < MinTaskPoints || in.Points > MaxTaskPoints {
		return model.Task{}, ErrInvalidPoints
	}
	t := model.Task{
		ID:         l.newID(),
		Name:       name,
		Points:     in.Points,
		AssignedTo: in.AssignedTo,
		Recurrence: in.Recurrence,
		Icon:       in.Icon,
		Category:   in.Category,
		CreatedAt:  l.now().UTC(),
	}
	if t.AssignedTo == "" {
		t.AssignedTo = model.PartnerA
	}
	if !t.AssignedTo.Valid() {
		return model.Task{}, ErrInvalidType
	}
	if t.Recurrence == "" {
		t.Recurrence = model.RecurrenceDaily
	}
	if !t.Recurrence.Valid() {
		return model.Task{}, ErrInvalidType
	}
	if t.Icon == "" {
		t.Icon = "📋"
	}
	if t.Category == "" {
		t.Category = "divers"
	}
	return t, nil
}

func (l *Local) Tasks() []model.Task {
	l.mu.Lock()
	defer l.mu.Unlock()
	return model.CloneTasks(l.data.Tasks)
}

func (l *Local) TasksByPartner(role model.PartnerRole) []model.Task {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []model.Task
	for _, t := range l.data.Tasks {
		if t.AssignedTo == role {
			out = append(out, t.Clone())
		}
	}
	return out
}

func (l *Local) Task(id string) (model.Task, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if t := l.findTask(id); t != nil {
		return t.Clone(), true
	}
	return model.Task{}, false
}

// PendingDelegations returns tasks awaiting a decision from role, that is
// pending delegations requested by the other partner.
func (l *Local) PendingDelegations(role model.PartnerRole) []model.Task {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []model.Task
	for _, t := range l.data.Tasks {
		if t.DelegationPending() && t.Delegation.RequestedBy != role {
			out = append(out, t.Clone())
		}
	}
	return out
}

func (l *Local) AddTask(in NewTask) (model.Task, error) {
	t, err := l.buildTask(in)
	if err != nil {
		return model.Task{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.data.Tasks = append(l.data.Tasks, t)
	l.persist()
	l.forwardTask(t)
	return t.Clone(), nil
}

// AddDefaultTasks adds onboarding templates, all assigned to partnerA, and
// pushes the whole task list in one batch.
func (l *Local) AddDefaultTasks(templates []NewTask) ([]model.Task, error) {
	added := make([]model.Task, 0, len(templates))
	for _, in := range templates {
		in.AssignedTo = model.PartnerA
		t, err := l.buildTask(in)
		if err != nil {
			return nil, err
		}
		added = append(added, t)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.data.Tasks = append(l.data.Tasks, added...)
	l.persist()
	all := model.CloneTasks(l.data.Tasks)
	l.forward("batch upsert tasks", func(r Remote, ctx context.Context) error {
		return r.BatchUpsertTasks(ctx, all)
	})
	return model.CloneTasks(added), nil
}

// CompleteTask stamps the task as completed and returns its base points.
func (l *Local) CompleteTask(id string) (int, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t := l.findTask(id)
	if t == nil {
		return 0, false
	}
	t.CompletedAt = l.stamp()
	l.persist()
	l.forwardTask(*t)
	return t.Points, true
}

func (l *Local) DeleteTask(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, t := range l.data.Tasks {
		if t.ID != id {
			continue
		}
		l.data.Tasks = append(l.data.Tasks[:i], l.data.Tasks[i+1:]...)
		l.persist()
		l.forward("delete task", func(r Remote, ctx context.Context) error {
			return r.DeleteTask(ctx, id)
		})
		return true
	}
	return false
}

// CheckAndResetRecurringTasks reverts completed recurring tasks whose
// window has elapsed. It runs at most once per calendar day and returns the
// number of tasks reset.
func (l *Local) CheckAndResetRecurringTasks() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	today := recurrence.Day(now)
	if l.data.Settings.LastResetDate == today {
		return 0
	}

	var reset []model.Task
	for i := range l.data.Tasks {
		t := &l.data.Tasks[i]
		if t.CompletedAt == nil || t.Recurrence == model.RecurrenceOnce {
			continue
		}
		if recurrence.Elapsed(t.Recurrence, *t.CompletedAt, now) {
			t.CompletedAt = nil
			t.Delegation = nil
			reset = append(reset, t.Clone())
		}
	}
	l.data.Settings.LastResetDate = today
	l.persist()

	if len(reset) > 0 {
		l.forward("batch upsert tasks", func(r Remote, ctx context.Context) error {
			return r.BatchUpsertTasks(ctx, reset)
		})
	}
	return len(reset)
}

func (l *Local) forwardTask(t model.Task) {
	t = t.Clone()
	l.forward("upsert task", func(r Remote, ctx context.Context) error {
		return r.UpsertTask(ctx, t)
	})
}
