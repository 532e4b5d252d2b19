package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/mimitask/internal/database"
	"github.com/dukerupert/mimitask/internal/docstore"
	"github.com/dukerupert/mimitask/internal/store"
)

// remote records delivered commits. fail, when set, decides the result of
// each attempt.
type remote struct {
	mu   sync.Mutex
	ops  []string
	fail func(op string) error
}

func (r *remote) commit(_ context.Context, op string, _ []docstore.Write) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		if err := r.fail(op); err != nil {
			return err
		}
	}
	r.ops = append(r.ops, op)
	return nil
}

func (r *remote) delivered() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ops...)
}

func journal(t *testing.T) *store.OutboxStore {
	t.Helper()
	db, err := database.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return store.NewOutboxStore(db)
}

func fast(t *testing.T, j Journal, r *remote, opts ...Option) *Outbox {
	t.Helper()
	opts = append([]Option{WithBackoff(time.Millisecond, 2*time.Millisecond)}, opts...)
	o, err := New(j, r.commit, opts...)
	require.NoError(t, err)
	return o
}

func flush(t *testing.T, o *Outbox) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, o.Flush(ctx))
}

func write(path string) []docstore.Write {
	return []docstore.Write{docstore.Delete(path)}
}

func TestDeliversInOrder(t *testing.T) {
	r := &remote{}
	o := fast(t, journal(t), r)
	o.Start(context.Background())
	defer o.Stop()

	for i := 0; i < 5; i++ {
		require.NoError(t, o.Enqueue(fmt.Sprintf("write %d", i), write("couples/C/tasks/t1")))
	}
	flush(t, o)

	assert.Equal(t, []string{"write 0", "write 1", "write 2", "write 3", "write 4"}, r.delivered())
	c := o.Counters()
	assert.Equal(t, uint64(5), c.Succeeded)
	assert.Zero(t, c.Depth)
}

func TestTransientErrorsStayQueued(t *testing.T) {
	var calls atomic.Int32
	r := &remote{fail: func(string) error {
		if calls.Add(1) <= 10 {
			return fmt.Errorf("dial: %w", docstore.ErrUnavailable)
		}
		return nil
	}}
	o := fast(t, journal(t), r)
	o.Start(context.Background())
	defer o.Stop()

	require.NoError(t, o.Enqueue("upsert task", write("couples/C/tasks/t1")))
	require.Eventually(t, func() bool { return len(r.delivered()) == 1 }, 2*time.Second, time.Millisecond)

	c := o.Counters()
	assert.Equal(t, uint64(1), c.Succeeded)
	assert.Equal(t, uint64(10), c.Retried)
	assert.Zero(t, c.Failed)
	assert.False(t, c.Stalled)
}

func TestPermanentErrorsAreDropped(t *testing.T) {
	j := journal(t)
	r := &remote{fail: func(op string) error {
		if op == "denied" {
			return docstore.ErrPermissionDenied
		}
		return nil
	}}
	o := fast(t, j, r)
	o.Start(context.Background())
	defer o.Stop()

	require.NoError(t, o.Enqueue("denied", write("couples/C/tasks/t1")))
	require.NoError(t, o.Enqueue("allowed", write("couples/C/tasks/t2")))
	flush(t, o)

	assert.Equal(t, []string{"allowed"}, r.delivered())
	assert.Equal(t, uint64(1), o.Counters().Failed)
	left, err := j.Pending()
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestQueueSurvivesRestart(t *testing.T) {
	j := journal(t)
	down := &remote{fail: func(string) error { return docstore.ErrUnavailable }}
	first := fast(t, j, down)
	first.Start(context.Background())

	require.NoError(t, first.Enqueue("upsert task", write("couples/C/tasks/offline")))
	require.Eventually(t, func() bool { return first.Counters().Stalled }, time.Second, time.Millisecond)
	assert.ErrorIs(t, first.Flush(context.Background()), ErrStalled)
	first.Stop()
	assert.ErrorIs(t, first.Flush(context.Background()), ErrNotRunning)

	up := &remote{}
	second := fast(t, j, up)
	assert.Equal(t, 1, second.Counters().Depth)
	assert.Equal(t, 1, second.Pending("couples/C/tasks"))

	second.Start(context.Background())
	defer second.Stop()
	flush(t, second)
	assert.Equal(t, []string{"upsert task"}, up.delivered())
	assert.Zero(t, second.Pending("couples/C/tasks"))
}

func TestPendingMatchesDocumentsAndCollections(t *testing.T) {
	o := fast(t, journal(t), &remote{})
	require.NoError(t, o.Enqueue("upsert task", write("couples/C/tasks/t1")))
	require.NoError(t, o.Enqueue("write stats", write("couples/C/stats/current")))

	assert.Equal(t, 1, o.Pending("couples/C/tasks"))
	assert.Equal(t, 1, o.Pending("couples/C/tasks/t1"))
	assert.Equal(t, 1, o.Pending("couples/C/stats/current"))
	assert.Zero(t, o.Pending("couples/C"), "the couple document is not written")
	assert.Zero(t, o.Pending("couples/C/rewards"))
}

func TestSettleRunsAfterEachCommitLeaves(t *testing.T) {
	var o *Outbox
	var mu sync.Mutex
	var seen []int
	o = fast(t, journal(t), &remote{}, WithSettle(func() {
		mu.Lock()
		seen = append(seen, o.Pending("couples/C/tasks"))
		mu.Unlock()
	}))
	require.NoError(t, o.Enqueue("a", write("couples/C/tasks/t1")))
	require.NoError(t, o.Enqueue("b", write("couples/C/tasks/t2")))

	o.Start(context.Background())
	defer o.Stop()
	flush(t, o)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{1, 0}, seen)
}

func TestUnreadableRowsAreDiscarded(t *testing.T) {
	j := journal(t)
	_, err := j.Append("broken", []byte("not json"))
	require.NoError(t, err)

	o := fast(t, j, &remote{})
	assert.Zero(t, o.Counters().Depth)
	left, err := j.Pending()
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestEmptyCommitsAreSkipped(t *testing.T) {
	o := fast(t, journal(t), &remote{})
	require.NoError(t, o.Enqueue("nothing", nil))
	assert.Zero(t, o.Counters().Depth)
}

func TestFlushHonoursContext(t *testing.T) {
	release := make(chan struct{})
	block := &remote{fail: func(string) error {
		<-release
		return nil
	}}
	o := fast(t, journal(t), block)
	o.Start(context.Background())
	defer o.Stop()
	defer close(release)
	require.NoError(t, o.Enqueue("slow", write("couples/C/tasks/t1")))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := o.Flush(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestStopIsIdempotent(t *testing.T) {
	o := fast(t, journal(t), &remote{})
	o.Start(context.Background())
	o.Start(context.Background())
	o.Stop()
	o.Stop()
}
