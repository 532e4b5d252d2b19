package syncer

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/mimitask/internal/database"
	"github.com/dukerupert/mimitask/internal/docstore"
	"github.com/dukerupert/mimitask/internal/gateway"
	"github.com/dukerupert/mimitask/internal/model"
	"github.com/dukerupert/mimitask/internal/outbox"
	"github.com/dukerupert/mimitask/internal/store"
	"github.com/dukerupert/mimitask/internal/syncstatus"
)

const code = "MIM-ABC"

type mapStorage struct {
	mu sync.Mutex
	m  map[string]string
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

type fakeViewer struct {
	mu        sync.Mutex
	visible   map[View]bool
	refreshes map[View]int
}

func newFakeViewer(visible ...View) *fakeViewer {
	v := &fakeViewer{visible: map[View]bool{}, refreshes: map[View]int{}}
	for _, view := range visible {
		v.visible[view] = true
	}
	return v
}

func (f *fakeViewer) IsVisible(v View) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.visible[v]
}

func (f *fakeViewer) Refresh(v View) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes[v]++
}

func (f *fakeViewer) count(v View) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshes[v]
}

type fixture struct {
	mem     *docstore.Memory
	mine    *gateway.Gateway
	partner *gateway.Gateway
	local   *store.Local
	status  *syncstatus.Indicator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := docstore.NewMemory()
	mine := gateway.New(mem.Client("me"))
	partner := gateway.New(mem.Client("partner"))
	mine.SetCoupleCode(code)
	partner.SetCoupleCode(code)
	require.NoError(t, partner.CreateCouple(context.Background(), code, model.CoupleDoc{
		PartnerA: model.RemotePartner{Name: "Alice", AuthUID: "a"},
		PartnerB: model.RemotePartner{Name: "Bruno", AuthUID: "b"},
	}))

	local := store.NewLocal(&mapStorage{m: map[string]string{}})
	local.Init()
	return &fixture{
		mem:     mem,
		mine:    mine,
		partner: partner,
		local:   local,
		status:  syncstatus.New(syncstatus.Offline),
	}
}

func (f *fixture) syncer(opts ...Option) *Syncer {
	return New(f.mine, f.local, f.status, opts...)
}

func TestStartWithoutCode(t *testing.T) {
	f := newFixture(t)
	f.mine.SetCoupleCode("")
	s := f.syncer()

	assert.NoError(t, s.Start(context.Background()))
	assert.Equal(t, Stopped, s.State())
	assert.Equal(t, 0, f.mem.ListenerCount())
}

func TestStartIsIdempotent(t *testing.T) {
	f := newFixture(t)
	s := f.syncer()
	ctx := context.Background()

	require.NoError(t, s.Start(ctx))
	require.NoError(t, s.Start(ctx))

	assert.Equal(t, Active, s.State())
	assert.True(t, s.IsSyncing())
	assert.Equal(t, len(gateway.Slices), f.mem.ListenerCount())
	assert.Equal(t, syncstatus.OK, f.status.State())
}

func TestAppliesRemoteChanges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.partner.UpsertTask(ctx, model.Task{ID: "t1", Name: "Vaisselle", Points: 10}))

	s := f.syncer()
	require.NoError(t, s.Start(ctx))
	defer s.Stop()

	// Initial state is applied on subscribe.
	require.Len(t, f.local.Tasks(), 1)
	assert.Equal(t, "Alice", f.local.Couple().PartnerA.Name)

	require.NoError(t, f.partner.UpsertTask(ctx, model.Task{ID: "t2", Name: "Linge", Points: 5}))
	assert.Len(t, f.local.Tasks(), 2)

	stats := model.Stats{PartnerA: model.PartnerStats{TotalPoints: 40}, CouplePoints: 40}
	require.NoError(t, f.partner.WriteStats(ctx, stats))
	assert.Equal(t, 40, f.local.Stats().CouplePoints)

	require.NoError(t, f.partner.WriteMascot(ctx, model.MascotPrefs{ColorID: "orange", AccessoryID: "none"}))
	assert.Equal(t, "orange", f.local.MascotPrefs().ColorID)
}

func TestAcknowledgedOwnWritesAreApplied(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.syncer()
	require.NoError(t, s.Start(ctx))
	defer s.Stop()

	require.NoError(t, f.mine.UpsertTask(ctx, model.Task{ID: "echo", Name: "Echo", Points: 1}))
	require.Len(t, f.local.Tasks(), 1)
	assert.Equal(t, "Echo", f.local.Tasks()[0].Name)
}

func taskNames(l *store.Local) []string {
	var names []string
	for _, t := range l.Tasks() {
		names = append(names, t.Name)
	}
	return names
}

func TestQueuedWritesConvergeWithPartnerChanges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	db, err := database.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	var down atomic.Bool
	down.Store(true)
	commit := func(ctx context.Context, op string, writes []docstore.Write) error {
		if down.Load() {
			return docstore.ErrUnavailable
		}
		return f.mine.Commit(ctx, op, writes)
	}
	var s *Syncer
	queue, err := outbox.New(store.NewOutboxStore(db), commit,
		outbox.WithBackoff(time.Millisecond, 5*time.Millisecond),
		outbox.WithLogger(slog.New(slog.DiscardHandler)),
		outbox.WithSettle(func() { s.Release() }))
	require.NoError(t, err)
	f.mine.UseQueue(queue)

	local := store.NewLocal(&mapStorage{m: map[string]string{}}, store.WithRemote(f.mine.Deferred()))
	local.Init()
	s = New(f.mine, local, f.status)
	require.NoError(t, s.Start(ctx))
	defer s.Stop()
	queue.Start(ctx)
	defer queue.Stop()

	_, err = local.AddTask(store.NewTask{Name: "AliceQueued", Points: 3})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return queue.Counters().Stalled }, time.Second, time.Millisecond)

	require.NoError(t, f.partner.UpsertTask(ctx, model.Task{ID: "bob", Name: "BobTask", Points: 2}))
	assert.Equal(t, []string{"AliceQueued"}, taskNames(local), "partner change is held while ours is queued")

	down.Store(false)
	require.Eventually(t, func() bool { return queue.Counters().Depth == 0 }, 2*time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return len(local.Tasks()) == 2 }, time.Second, time.Millisecond)
	assert.ElementsMatch(t, []string{"AliceQueued", "BobTask"}, taskNames(local))

	docs, err := f.mem.List(ctx, gateway.CouplePath(code)+"/tasks")
	require.NoError(t, err)
	assert.Len(t, docs, 2)
}

func TestStop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.syncer()
	require.NoError(t, s.Start(ctx))

	s.Stop()
	assert.Equal(t, Stopped, s.State())
	assert.Equal(t, 0, f.mem.ListenerCount())
	assert.Equal(t, syncstatus.Offline, f.status.State())

	require.NoError(t, f.partner.UpsertTask(ctx, model.Task{ID: "late", Name: "Late", Points: 1}))
	assert.Empty(t, f.local.Tasks())

	require.NoError(t, s.Start(ctx))
	assert.Len(t, f.local.Tasks(), 1)
	s.Stop()
}

func TestPermissionDeniedStopsSync(t *testing.T) {
	f := newFixture(t)
	var mu sync.Mutex
	var notices []string
	s := f.syncer(
		WithRetryDelay(10*time.Millisecond),
		WithNotice(func(msg string) {
			mu.Lock()
			notices = append(notices, msg)
			mu.Unlock()
		}),
	)
	require.NoError(t, s.Start(context.Background()))

	f.mem.FailListeners(gateway.CouplePath(code), docstore.ErrPermissionDenied)

	assert.Equal(t, Stopped, s.State())
	assert.Equal(t, syncstatus.Offline, f.status.State())
	assert.Equal(t, 0, f.mem.ListenerCount())
	mu.Lock()
	assert.Equal(t, []string{DeniedNotice}, notices)
	mu.Unlock()

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, Stopped, s.State(), "no resubscribe after a refusal")
}

func TestUnavailableResubscribes(t *testing.T) {
	f := newFixture(t)
	s := f.syncer(WithRetryDelay(10 * time.Millisecond))
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	f.mem.FailListeners(gateway.CouplePath(code), docstore.ErrUnavailable)
	assert.Equal(t, syncstatus.Offline, f.status.State())

	require.Eventually(t, func() bool { return s.State() == Active }, time.Second, 5*time.Millisecond)
	assert.Equal(t, len(gateway.Slices), f.mem.ListenerCount())
	assert.Equal(t, syncstatus.OK, f.status.State())
}

func TestNotificationsFilteredAndDeduplicated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var mu sync.Mutex
	var got []string
	s := f.syncer(WithNotifications(
		func() model.PartnerRole { return model.PartnerA },
		func(n model.Notification) {
			mu.Lock()
			got = append(got, n.ID)
			mu.Unlock()
		},
	))
	require.NoError(t, s.Start(ctx))
	defer s.Stop()

	send := func(id string, target model.PartnerRole) {
		require.NoError(t, f.partner.SendNotification(ctx, model.Notification{
			ID: id, Type: model.NotificationRewardUsed, Target: target, RewardName: "Massage",
		}))
	}
	send("n1", model.PartnerA)
	send("n2", model.PartnerB)
	send("n1", model.PartnerA)
	require.NoError(t, f.partner.SendNotification(ctx, model.Notification{ID: "n3", Type: "other", Target: model.PartnerA}))

	// Our own notifications are never delivered back.
	require.NoError(t, f.mine.SendNotification(ctx, model.Notification{ID: "n4", Type: model.NotificationRewardUsed, Target: model.PartnerA}))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"n1"}, got)
}

func TestRefreshIsDebouncedAndVisibilityGated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	viewer := newFakeViewer(ViewTasks)
	s := f.syncer(WithViewer(viewer), WithDebounce(20*time.Millisecond))
	require.NoError(t, s.Start(ctx))
	defer s.Stop()

	for _, id := range []string{"t1", "t2", "t3"} {
		require.NoError(t, f.partner.UpsertTask(ctx, model.Task{ID: id, Name: id, Points: 1}))
	}

	require.Eventually(t, func() bool { return viewer.count(ViewTasks) >= 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, 1, viewer.count(ViewTasks))
	assert.Equal(t, 0, viewer.count(ViewDashboard))
}
