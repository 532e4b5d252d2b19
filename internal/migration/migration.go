package migration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dukerupert/mimitask/internal/model"
	"github.com/dukerupert/mimitask/internal/store"
)

// ErrNotReady is returned by Run when the remote channel has no couple.
var ErrNotReady = errors.New("remote store not ready")

// Pusher is the part of the remote gateway a migration writes through.
type Pusher interface {
	Ready() bool
	BatchUpsertTasks(ctx context.Context, tasks []model.Task) error
	BatchUpsertRewards(ctx context.Context, rewards []model.Reward) error
	WriteStats(ctx context.Context, stats model.Stats) error
}

// Prompter asks the user whether the local data should be transferred.
type Prompter interface {
	ConfirmMigration(ctx context.Context, s Summary) (bool, error)
}

// Summary describes the local-only data a migration would push.
type Summary struct {
	Tasks   int
	Rewards int
	Points  int

	snap model.Snapshot
}

// Significant reports whether there is anything worth pushing.
func (s Summary) Significant() bool {
	return s.Tasks > 0 || s.Rewards > 0 || s.Points > 0
}

// Migrator moves data created before cloud sync was enabled into the
// couple's remote space.
type Migrator struct {
	storage store.Storage
	remote  Pusher
	now     func() time.Time
	logger  *slog.Logger
}

func New(storage store.Storage, remote Pusher, logger *slog.Logger) *Migrator {
	return &Migrator{
		storage: storage,
		remote:  remote,
		now:     time.Now,
		logger:  logger.With("component", "migration"),
	}
}

// IsDone reports whether a migration already succeeded on this device.
func (m *Migrator) IsDone() bool {
	_, ok, err := m.storage.Get(store.KeyMigrationDone)
	if err != nil {
		m.logger.Warn("read migration marker", "error", err)
	}
	return ok
}

// HasLocalData reports whether a local snapshot blob exists.
func (m *Migrator) HasLocalData() bool {
	_, ok, err := m.storage.Get(store.KeyData)
	if err != nil {
		m.logger.Warn("read local snapshot", "error", err)
	}
	return ok
}

// ClearLocalData drops the local snapshot and the migration marker.
func (m *Migrator) ClearLocalData() error {
	if err := m.storage.Delete(store.KeyData); err != nil {
		return fmt.Errorf("clear local data: %w", err)
	}
	if err := m.storage.Delete(store.KeyMigrationDone); err != nil {
		return fmt.Errorf("clear migration marker: %w", err)
	}
	return nil
}

// Check evaluates whether a migration should be offered. It never fails:
// an unreadable blob is the same as no blob.
func (m *Migrator) Check() (Summary, bool) {
	if m.IsDone() {
		return Summary{}, false
	}
	raw, ok, err := m.storage.Get(store.KeyData)
	if err != nil || !ok {
		return Summary{}, false
	}
	snap, err := store.DecodeSnapshot([]byte(raw))
	if err != nil {
		m.logger.Debug("local snapshot not migratable", "error", err)
		return Summary{}, false
	}
	s := Summary{
		Tasks:   len(snap.Tasks),
		Rewards: len(snap.Rewards),
		Points:  snap.Stats.CouplePoints,
		snap:    snap,
	}
	if !s.Significant() || !m.remote.Ready() {
		return s, false
	}
	return s, true
}

// Run pushes the summarized collections concurrently. The done marker is
// written only when every batch succeeded, so a failed run is offered
// again next time. Writes are keyed by entity id and safe to repeat.
func (m *Migrator) Run(ctx context.Context, s Summary) error {
	if !m.remote.Ready() {
		return ErrNotReady
	}
	snap := s.snap
	g, ctx := errgroup.WithContext(ctx)
	if len(snap.Tasks) > 0 {
		g.Go(func() error { return m.remote.BatchUpsertTasks(ctx, snap.Tasks) })
	}
	if len(snap.Rewards) > 0 {
		g.Go(func() error { return m.remote.BatchUpsertRewards(ctx, snap.Rewards) })
	}
	g.Go(func() error { return m.remote.WriteStats(ctx, snap.Stats) })
	if err := g.Wait(); err != nil {
		return fmt.Errorf("migrate local data: %w", err)
	}

	stamp := strconv.FormatInt(m.now().UnixMilli(), 10)
	if err := m.storage.Set(store.KeyMigrationDone, stamp); err != nil {
		return fmt.Errorf("mark migration done: %w", err)
	}
	m.logger.Info("local data migrated", "tasks", s.Tasks, "rewards", s.Rewards, "points", s.Points)
	return nil
}

// Offer checks the preconditions, asks p and runs the migration when the
// user accepts. It reports whether a migration ran.
func (m *Migrator) Offer(ctx context.Context, p Prompter) (bool, error) {
	s, ok := m.Check()
	if !ok {
		return false, nil
	}
	accept, err := p.ConfirmMigration(ctx, s)
	if err != nil {
		return false, fmt.Errorf("confirm migration: %w", err)
	}
	if !accept {
		return false, nil
	}
	if err := m.Run(ctx, s); err != nil {
		return false, err
	}
	return true, nil
}
