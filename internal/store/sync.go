package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dukerupert/mimitask/internal/model"
)

// ApplyFromRemote replaces one slice of the snapshot with a value received
// from the remote store and persists it. Last writer wins per slice.
func (l *Local) ApplyFromRemote(slice model.Slice, value any) error {
	_, err := l.ApplyFromRemoteUnless(slice, value, nil)
	return err
}

// ApplyFromRemoteUnless is ApplyFromRemote skipped when skip reports true.
// skip runs under the store lock, so no local mutation lands between the
// check and the apply.
func (l *Local) ApplyFromRemoteUnless(slice model.Slice, value any, skip func() bool) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if skip != nil && skip() {
		return false, nil
	}
	if err := l.applyLocked(slice, value); err != nil {
		return false, err
	}
	l.persist()
	return true, nil
}

func (l *Local) applyLocked(slice model.Slice, value any) error {
	switch slice {
	case model.SliceTasks:
		v, ok := value.([]model.Task)
		if !ok {
			return fmt.Errorf("apply %s: unexpected %T", slice, value)
		}
		l.data.Tasks = model.CloneTasks(v)
	case model.SliceRewards:
		v, ok := value.([]model.Reward)
		if !ok {
			return fmt.Errorf("apply %s: unexpected %T", slice, value)
		}
		l.data.Rewards = model.CloneRewards(v)
	case model.SliceStats:
		v, ok := value.(model.Stats)
		if !ok {
			return fmt.Errorf("apply %s: unexpected %T", slice, value)
		}
		l.data.Stats = v
	case model.SliceCouple:
		v, ok := value.(model.Couple)
		if !ok {
			return fmt.Errorf("apply %s: unexpected %T", slice, value)
		}
		l.data.Couple.PartnerA = v.PartnerA
		l.data.Couple.PartnerB = v.PartnerB
	case model.SliceMascot:
		v, ok := value.(model.MascotPrefs)
		if !ok {
			return fmt.Errorf("apply %s: unexpected %T", slice, value)
		}
		l.data.Mascot = v
	default:
		return fmt.Errorf("apply: unknown slice %q", slice)
	}
	return nil
}

// ReplaceFromRemote installs a full snapshot pulled at boot. The local
// mascot is kept when the remote has none.
func (l *Local) ReplaceFromRemote(snap model.Snapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if snap.Mascot.ColorID == "" {
		snap.Mascot = l.data.Mascot
	}
	if snap.Tasks == nil {
		snap.Tasks = []model.Task{}
	}
	if snap.Rewards == nil {
		snap.Rewards = []model.Reward{}
	}
	snap.SchemaVersion = model.SchemaVersion
	l.data = snap.Clone()
	l.persist()
}

// Export returns the snapshot as indented JSON.
func (l *Local) Export() ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out, err := json.MarshalIndent(l.data, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("export snapshot: %w", err)
	}
	return out, nil
}

// Import replaces the whole snapshot with an exported one and pushes every
// collection to the remote store.
func (l *Local) Import(data []byte) error {
	snap, err := DecodeSnapshot(data)
	if err != nil {
		return fmt.Errorf("import: %w", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.data = snap
	l.persist()
	l.pushAll()
	return nil
}

// PushAll mirrors every collection of the snapshot to the remote store, as
// done for a freshly created couple.
func (l *Local) PushAll() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pushAll()
}

func (l *Local) pushAll() {
	tasks := model.CloneTasks(l.data.Tasks)
	rewards := model.CloneRewards(l.data.Rewards)
	l.forward("batch upsert tasks", func(r Remote, ctx context.Context) error {
		return r.BatchUpsertTasks(ctx, tasks)
	})
	l.forward("batch upsert rewards", func(r Remote, ctx context.Context) error {
		return r.BatchUpsertRewards(ctx, rewards)
	})
	l.forwardStats()
	m := l.data.Mascot
	l.forward("write mascot", func(r Remote, ctx context.Context) error {
		return r.WriteMascot(ctx, m)
	})
}
