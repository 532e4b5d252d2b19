package migration

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/mimitask/internal/docstore"
	"github.com/dukerupert/mimitask/internal/gateway"
	"github.com/dukerupert/mimitask/internal/model"
	"github.com/dukerupert/mimitask/internal/store"
)

const code = "MIM-ABC"

type mapStorage struct {
	mu sync.Mutex
	m  map[string]string
}

func newMapStorage() *mapStorage {
	return &mapStorage{m: map[string]string{}}
}

func (s *mapStorage) Get(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.m[key]
	return v, ok, nil
}

func (s *mapStorage) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = value
	return nil
}

func (s *mapStorage) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, key)
	return nil
}

type fakePusher struct {
	mu      sync.Mutex
	ready   bool
	failOn  string
	calls   []string
	tasks   []model.Task
	rewards []model.Reward
	stats   *model.Stats
}

func (f *fakePusher) Ready() bool { return f.ready }

func (f *fakePusher) record(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, op)
	if op == f.failOn {
		return docstore.ErrUnavailable
	}
	return nil
}

func (f *fakePusher) BatchUpsertTasks(_ context.Context, tasks []model.Task) error {
	f.mu.Lock()
	f.tasks = tasks
	f.mu.Unlock()
	return f.record("tasks")
}

func (f *fakePusher) BatchUpsertRewards(_ context.Context, rewards []model.Reward) error {
	f.mu.Lock()
	f.rewards = rewards
	f.mu.Unlock()
	return f.record("rewards")
}

func (f *fakePusher) WriteStats(_ context.Context, s model.Stats) error {
	f.mu.Lock()
	f.stats = &s
	f.mu.Unlock()
	return f.record("stats")
}

type answer struct {
	accept bool
	err    error
	asked  *Summary
}

func (a *answer) ConfirmMigration(_ context.Context, s Summary) (bool, error) {
	a.asked = &s
	return a.accept, a.err
}

func discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// seed writes a local-only snapshot with the given content.
func seed(t *testing.T, storage store.Storage, tasks, rewards, points int) {
	t.Helper()
	l := store.NewLocal(storage)
	l.Init()
	for i := 0; i < tasks; i++ {
		_, err := l.AddTask(store.NewTask{Name: "Vaisselle", Points: 5})
		require.NoError(t, err)
	}
	for i := 0; i < rewards; i++ {
		_, err := l.AddReward(store.NewReward{Name: "Massage", PointsCost: 100, Type: model.RewardIndividual})
		require.NoError(t, err)
	}
	l.AddPoints(model.PartnerA, points)
}

func TestCheck(t *testing.T) {
	tests := []struct {
		name                    string
		tasks, rewards, points  int
		ready, done, noBlob, ok bool
	}{
		{name: "tasks only", tasks: 2, ready: true, ok: true},
		{name: "rewards only", rewards: 1, ready: true, ok: true},
		{name: "points only", points: 30, ready: true, ok: true},
		{name: "nothing significant", ready: true},
		{name: "remote not ready", tasks: 1},
		{name: "already done", tasks: 1, ready: true, done: true},
		{name: "no blob", ready: true, noBlob: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			storage := newMapStorage()
			if !tt.noBlob {
				seed(t, storage, tt.tasks, tt.rewards, tt.points)
			}
			if tt.done {
				require.NoError(t, storage.Set(store.KeyMigrationDone, "1"))
			}
			m := New(storage, &fakePusher{ready: tt.ready}, discard())

			s, ok := m.Check()
			assert.Equal(t, tt.ok, ok)
			if ok {
				assert.Equal(t, tt.tasks, s.Tasks)
				assert.Equal(t, tt.rewards, s.Rewards)
				assert.Equal(t, tt.points, s.Points)
			}
		})
	}
}

func TestCheckIgnoresCorruptBlob(t *testing.T) {
	storage := newMapStorage()
	require.NoError(t, storage.Set(store.KeyData, "{not json"))
	m := New(storage, &fakePusher{ready: true}, discard())

	_, ok := m.Check()
	assert.False(t, ok)
	assert.True(t, m.HasLocalData())
}

func TestRunMarksDoneOnSuccess(t *testing.T) {
	storage := newMapStorage()
	seed(t, storage, 3, 2, 40)
	p := &fakePusher{ready: true}
	m := New(storage, p, discard())
	m.now = func() time.Time { return time.UnixMilli(1700000000000) }

	s, ok := m.Check()
	require.True(t, ok)
	require.NoError(t, m.Run(context.Background(), s))

	assert.ElementsMatch(t, []string{"tasks", "rewards", "stats"}, p.calls)
	assert.Len(t, p.tasks, 3)
	assert.Len(t, p.rewards, 2)
	require.NotNil(t, p.stats)
	assert.Equal(t, 40, p.stats.CouplePoints)

	v, done, _ := storage.Get(store.KeyMigrationDone)
	assert.True(t, done)
	assert.Equal(t, "1700000000000", v)
	assert.True(t, m.IsDone())

	_, ok = m.Check()
	assert.False(t, ok, "a finished migration is never offered again")
}

func TestRunSkipsEmptyCollections(t *testing.T) {
	storage := newMapStorage()
	seed(t, storage, 0, 0, 10)
	p := &fakePusher{ready: true}
	m := New(storage, p, discard())

	s, ok := m.Check()
	require.True(t, ok)
	require.NoError(t, m.Run(context.Background(), s))
	assert.Equal(t, []string{"stats"}, p.calls)
}

func TestRunFailureWithholdsMarker(t *testing.T) {
	storage := newMapStorage()
	seed(t, storage, 1, 1, 0)
	p := &fakePusher{ready: true, failOn: "rewards"}
	m := New(storage, p, discard())

	s, ok := m.Check()
	require.True(t, ok)
	err := m.Run(context.Background(), s)
	require.Error(t, err)
	assert.ErrorIs(t, err, docstore.ErrUnavailable)
	assert.False(t, m.IsDone())

	// The next launch offers it again and a retry succeeds.
	p.failOn = ""
	s, ok = m.Check()
	require.True(t, ok)
	require.NoError(t, m.Run(context.Background(), s))
	assert.True(t, m.IsDone())
}

func TestRunNotReady(t *testing.T) {
	storage := newMapStorage()
	seed(t, storage, 1, 0, 0)
	m := New(storage, &fakePusher{}, discard())
	assert.ErrorIs(t, m.Run(context.Background(), Summary{Tasks: 1}), ErrNotReady)
}

func TestOffer(t *testing.T) {
	t.Run("declined", func(t *testing.T) {
		storage := newMapStorage()
		seed(t, storage, 2, 0, 0)
		p := &fakePusher{ready: true}
		m := New(storage, p, discard())
		a := &answer{}

		ran, err := m.Offer(context.Background(), a)
		require.NoError(t, err)
		assert.False(t, ran)
		require.NotNil(t, a.asked)
		assert.Equal(t, 2, a.asked.Tasks)
		assert.Empty(t, p.calls)
		assert.False(t, m.IsDone())
	})

	t.Run("accepted", func(t *testing.T) {
		storage := newMapStorage()
		seed(t, storage, 2, 0, 0)
		m := New(storage, &fakePusher{ready: true}, discard())

		ran, err := m.Offer(context.Background(), &answer{accept: true})
		require.NoError(t, err)
		assert.True(t, ran)
		assert.True(t, m.IsDone())
	})

	t.Run("prompt error", func(t *testing.T) {
		storage := newMapStorage()
		seed(t, storage, 2, 0, 0)
		m := New(storage, &fakePusher{ready: true}, discard())

		_, err := m.Offer(context.Background(), &answer{err: errors.New("closed")})
		assert.Error(t, err)
	})

	t.Run("not offered", func(t *testing.T) {
		m := New(newMapStorage(), &fakePusher{ready: true}, discard())
		a := &answer{}
		ran, err := m.Offer(context.Background(), a)
		require.NoError(t, err)
		assert.False(t, ran)
		assert.Nil(t, a.asked)
	})
}

func TestClearLocalData(t *testing.T) {
	storage := newMapStorage()
	seed(t, storage, 1, 0, 0)
	require.NoError(t, storage.Set(store.KeyMigrationDone, "1"))
	m := New(storage, &fakePusher{}, discard())

	require.NoError(t, m.ClearLocalData())
	assert.False(t, m.HasLocalData())
	assert.False(t, m.IsDone())
}

func TestRunAgainstGatewayIsIdempotent(t *testing.T) {
	mem := docstore.NewMemory()
	gw := gateway.New(mem)
	ctx := context.Background()
	require.NoError(t, gw.CreateCouple(ctx, code, model.CoupleDoc{
		PartnerA: model.RemotePartner{Name: "Alice", AuthUID: "a"},
	}))
	gw.SetCoupleCode(code)

	storage := newMapStorage()
	seed(t, storage, 3, 1, 20)
	m := New(storage, gw, discard())

	s, ok := m.Check()
	require.True(t, ok)
	require.NoError(t, m.Run(ctx, s))
	require.NoError(t, m.Run(ctx, s))

	tasks, err := mem.List(ctx, gateway.CouplePath(code)+"/tasks")
	require.NoError(t, err)
	assert.Len(t, tasks, 3)
	rewards, err := mem.List(ctx, gateway.CouplePath(code)+"/rewards")
	require.NoError(t, err)
	assert.Len(t, rewards, 1)

	snap, ok := gw.PullAll(ctx)
	require.True(t, ok)
	assert.Equal(t, 20, snap.Stats.CouplePoints)
}
