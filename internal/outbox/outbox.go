// Package outbox journals remote commits and delivers them in order on one
// background worker. Commits that fail because the store is unreachable
// stay queued, across restarts too, until they land.
package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/dukerupert/mimitask/internal/docstore"
	"github.com/dukerupert/mimitask/internal/store"
)

const (
	defaultBaseDelay = 200 * time.Millisecond
	defaultMaxDelay  = 30 * time.Second
)

var (
	// ErrStalled is returned by Flush while the head commit is waiting for
	// the store to come back.
	ErrStalled    = errors.New("outbox stalled")
	ErrNotRunning = errors.New("outbox not running")
)

// Journal persists queued commits. *store.OutboxStore implements it.
type Journal interface {
	Append(op string, writes []byte) (int64, error)
	Pending() ([]store.QueuedWrite, error)
	Ack(id int64) error
}

// CommitFunc sends one batch of writes to the remote store.
type CommitFunc func(ctx context.Context, op string, writes []docstore.Write) error

type entry struct {
	id     int64
	op     string
	writes []docstore.Write
}

// Counters are the aggregate outcomes exposed to the rest of the app.
type Counters struct {
	Succeeded uint64 `json:"succeeded"`
	Failed    uint64 `json:"failed"`
	Retried   uint64 `json:"retried"`
	Depth     int    `json:"depth"`
	Stalled   bool   `json:"stalled"`
}

type Outbox struct {
	journal Journal
	commit  CommitFunc

	mu      sync.Mutex
	queue   []entry
	stalled bool
	lastErr error
	changed chan struct{}
	wake    chan struct{}
	cancel  context.CancelFunc
	done    chan struct{}

	succeeded atomic.Uint64
	failed    atomic.Uint64
	retried   atomic.Uint64

	baseDelay time.Duration
	maxDelay  time.Duration
	retryable func(error) bool
	onSettle  func()
	logger    *slog.Logger
}

type Option func(*Outbox)

// WithBackoff sets the first retry delay and the delay cap.
func WithBackoff(base, max time.Duration) Option {
	return func(o *Outbox) {
		o.baseDelay = base
		o.maxDelay = max
	}
}

// WithRetryable decides which errors keep a commit queued.
func WithRetryable(fn func(error) bool) Option {
	return func(o *Outbox) { o.retryable = fn }
}

// WithSettle calls fn, with no lock held, each time the head commit leaves
// the queue.
func WithSettle(fn func()) Option {
	return func(o *Outbox) { o.onSettle = fn }
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *Outbox) { o.logger = logger }
}

// IsTransient reports errors caused by the store being unreachable.
func IsTransient(err error) bool {
	return errors.Is(err, docstore.ErrUnavailable)
}

// New loads the commits left in journal by earlier sessions. Nothing is
// sent until Start.
func New(journal Journal, commit CommitFunc, opts ...Option) (*Outbox, error) {
	o := &Outbox{
		journal:   journal,
		commit:    commit,
		changed:   make(chan struct{}),
		wake:      make(chan struct{}, 1),
		baseDelay: defaultBaseDelay,
		maxDelay:  defaultMaxDelay,
		retryable: IsTransient,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}

	queued, err := journal.Pending()
	if err != nil {
		return nil, fmt.Errorf("load outbox: %w", err)
	}
	for _, q := range queued {
		var writes []docstore.Write
		if err := json.Unmarshal(q.Writes, &writes); err != nil {
			o.logger.Warn("discarding unreadable queued write", "id", q.ID, "op", q.Op, "error", err)
			if err := journal.Ack(q.ID); err != nil {
				return nil, err
			}
			continue
		}
		o.queue = append(o.queue, entry{id: q.ID, op: q.Op, writes: writes})
	}
	if len(o.queue) > 0 {
		o.logger.Info("remote writes carried over", "count", len(o.queue))
	}
	return o, nil
}

// Enqueue journals a commit and wakes the worker. It never touches the
// network.
func (o *Outbox) Enqueue(op string, writes []docstore.Write) error {
	if len(writes) == 0 {
		return nil
	}
	data, err := json.Marshal(writes)
	if err != nil {
		return fmt.Errorf("encode %s: %w", op, err)
	}

	o.mu.Lock()
	id, err := o.journal.Append(op, data)
	if err != nil {
		o.mu.Unlock()
		return err
	}
	o.queue = append(o.queue, entry{id: id, op: op, writes: writes})
	o.mu.Unlock()

	select {
	case o.wake <- struct{}{}:
	default:
	}
	return nil
}

// Pending counts queued commits that write the document at path or a
// document directly inside the collection at path.
func (o *Outbox) Pending(path string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, e := range o.queue {
		for _, w := range e.writes {
			if w.Path == path || docstore.Parent(w.Path) == path {
				n++
				break
			}
		}
	}
	return n
}

// Start runs the worker until ctx is cancelled or Stop is called.
func (o *Outbox) Start(ctx context.Context) {
	o.mu.Lock()
	if o.cancel != nil {
		o.mu.Unlock()
		return
	}
	ctx, o.cancel = context.WithCancel(ctx)
	o.done = make(chan struct{})
	o.stalled, o.lastErr = false, nil
	done := o.done
	o.mu.Unlock()

	go func() {
		defer close(done)
		o.run(ctx)
	}()
}

// Stop cancels the worker and waits for it to exit. Queued commits stay
// in the journal.
func (o *Outbox) Stop() {
	o.mu.Lock()
	cancel, done := o.cancel, o.done
	o.cancel, o.done = nil, nil
	o.broadcastLocked()
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// Flush waits until the queue is empty. It gives up early with
// ErrStalled when the store is unreachable and with ErrNotRunning when
// the worker is stopped.
func (o *Outbox) Flush(ctx context.Context) error {
	for {
		o.mu.Lock()
		switch {
		case len(o.queue) == 0:
			o.mu.Unlock()
			return nil
		case o.cancel == nil:
			o.mu.Unlock()
			return ErrNotRunning
		case o.stalled:
			err := o.lastErr
			o.mu.Unlock()
			return fmt.Errorf("%w: %v", ErrStalled, err)
		}
		changed := o.changed
		o.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (o *Outbox) Counters() Counters {
	o.mu.Lock()
	depth, stalled := len(o.queue), o.stalled
	o.mu.Unlock()
	return Counters{
		Succeeded: o.succeeded.Load(),
		Failed:    o.failed.Load(),
		Retried:   o.retried.Load(),
		Depth:     depth,
		Stalled:   stalled,
	}
}

func (o *Outbox) run(ctx context.Context) {
	for {
		o.mu.Lock()
		var head entry
		ok := len(o.queue) > 0
		if ok {
			head = o.queue[0]
		}
		o.mu.Unlock()

		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-o.wake:
			}
			continue
		}
		if !o.deliver(ctx, head) {
			return
		}
	}
}

// deliver sends e until it lands or is rejected. It returns false when ctx
// ended first, leaving e queued.
func (o *Outbox) deliver(ctx context.Context, e entry) bool {
	b := retry.NewExponential(o.baseDelay)
	b = retry.WithCappedDuration(o.maxDelay, b)

	attempt := 0
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			o.retried.Add(1)
		}
		err := o.commit(ctx, e.op, e.writes)
		if err != nil && o.retryable(err) {
			o.stall(e, err)
			return retry.RetryableError(err)
		}
		return err
	})
	if ctx.Err() != nil {
		return false
	}

	if err != nil {
		o.failed.Add(1)
		o.logger.Warn("remote write rejected", "op", e.op, "attempts", attempt, "error", err)
	} else {
		o.succeeded.Add(1)
	}
	if err := o.journal.Ack(e.id); err != nil {
		o.logger.Error("ack queued write", "id", e.id, "error", err)
	}

	o.mu.Lock()
	o.queue = o.queue[1:]
	if len(o.queue) == 0 {
		o.queue = nil
	}
	if o.stalled {
		o.logger.Info("remote store reachable again", "queued", len(o.queue))
	}
	o.stalled, o.lastErr = false, nil
	o.broadcastLocked()
	o.mu.Unlock()

	if o.onSettle != nil {
		o.onSettle()
	}
	return true
}

func (o *Outbox) stall(e entry, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.stalled {
		o.logger.Info("remote store unreachable, keeping writes queued", "op", e.op, "queued", len(o.queue), "error", err)
	}
	o.stalled, o.lastErr = true, err
	o.broadcastLocked()
}

// broadcastLocked wakes every Flush waiting on a state change. Callers
// hold o.mu.
func (o *Outbox) broadcastLocked() {
	close(o.changed)
	o.changed = make(chan struct{})
}
