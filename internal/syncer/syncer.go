// Package syncer keeps the local store in step with the remote couple
// documents while a session is linked.
package syncer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/dukerupert/mimitask/internal/docstore"
	"github.com/dukerupert/mimitask/internal/gateway"
	"github.com/dukerupert/mimitask/internal/model"
	"github.com/dukerupert/mimitask/internal/syncstatus"
)

const (
	DefaultDebounce   = 150 * time.Millisecond
	DefaultRetryDelay = 5 * time.Second
)

// DeniedNotice is shown when the server refuses a subscription.
const DeniedNotice = "Sync refused. Please sign in again."

type State string

const (
	Stopped  State = "stopped"
	Starting State = "starting"
	Active   State = "active"
)

// Source is the remote side: one subscription per slice.
type Source interface {
	Ready() bool
	Listen(ctx context.Context, slice model.Slice, onUpdate func(gateway.Update), onErr func(error)) (func(), error)
	// Pending reports whether this device still has unacknowledged
	// queued writes to slice.
	Pending(slice model.Slice) bool
}

// Applier receives remote slices. *store.Local implements it.
type Applier interface {
	ApplyFromRemoteUnless(slice model.Slice, value any, skip func() bool) (bool, error)
}

type View string

const (
	ViewDashboard View = "dashboard"
	ViewTasks     View = "tasks"
	ViewRewards   View = "rewards"
	ViewSettings  View = "settings"
)

// Viewer re-renders views that depend on changed data.
type Viewer interface {
	IsVisible(v View) bool
	Refresh(v View)
}

// dependents lists the views to refresh after a slice changes.
var dependents = map[model.Slice][]View{
	model.SliceTasks:   {ViewTasks, ViewDashboard},
	model.SliceRewards: {ViewRewards, ViewDashboard},
	model.SliceStats:   {ViewDashboard},
	model.SliceCouple:  {ViewSettings, ViewTasks},
	model.SliceMascot:  {ViewDashboard},
}

type Syncer struct {
	source Source
	local  Applier
	status *syncstatus.Indicator
	logger *slog.Logger

	viewer     Viewer
	role       func() model.PartnerRole
	onNotify   func(model.Notification)
	onNotice   func(string)
	debounce   time.Duration
	retryDelay time.Duration

	// applyMu orders applies of listener updates and held slices.
	applyMu sync.Mutex

	mu      sync.Mutex
	held    map[model.Slice]gateway.Update
	state   State
	gen     uint64
	cancel  context.CancelFunc
	stops   []func()
	timers  map[View]*time.Timer
	retry   *time.Timer
	parent  context.Context
	seenIDs map[string]struct{}
}

type Option func(*Syncer)

func WithViewer(v Viewer) Option {
	return func(s *Syncer) { s.viewer = v }
}

// WithNotifications delivers reward_used notifications addressed to the
// role returned by role.
func WithNotifications(role func() model.PartnerRole, fn func(model.Notification)) Option {
	return func(s *Syncer) {
		s.role = role
		s.onNotify = fn
	}
}

// WithNotice sets the callback for user visible warnings.
func WithNotice(fn func(string)) Option {
	return func(s *Syncer) { s.onNotice = fn }
}

func WithDebounce(d time.Duration) Option {
	return func(s *Syncer) { s.debounce = d }
}

// WithRetryDelay sets how long to wait before resubscribing after a
// listener drops for a reason other than permission.
func WithRetryDelay(d time.Duration) Option {
	return func(s *Syncer) { s.retryDelay = d }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Syncer) { s.logger = logger }
}

func New(source Source, local Applier, status *syncstatus.Indicator, opts ...Option) *Syncer {
	s := &Syncer{
		source:     source,
		local:      local,
		status:     status,
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		debounce:   DefaultDebounce,
		retryDelay: DefaultRetryDelay,
		state:      Stopped,
		timers:     make(map[View]*time.Timer),
		held:       make(map[model.Slice]gateway.Update),
		seenIDs:    make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Syncer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Syncer) IsSyncing() bool {
	return s.State() == Active
}

// Start subscribes to every slice of the current couple. Calling it while
// starting or active, or before a couple code is known, does nothing.
func (s *Syncer) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != Stopped {
		s.mu.Unlock()
		return nil
	}
	if !s.source.Ready() {
		s.mu.Unlock()
		s.logger.Warn("sync not started: no couple code")
		return nil
	}
	s.state = Starting
	s.gen++
	gen := s.gen
	s.parent = ctx
	lctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	stops := make([]func(), 0, len(gateway.Slices))
	for _, slice := range gateway.Slices {
		stop, err := s.source.Listen(lctx, slice,
			func(u gateway.Update) { s.handle(gen, u) },
			func(err error) { s.handleError(gen, slice, err) },
		)
		if err != nil {
			for _, fn := range stops {
				fn()
			}
			s.abort(gen)
			s.handleError(gen, slice, err)
			return err
		}
		stops = append(stops, stop)
	}

	s.mu.Lock()
	if s.gen != gen || s.state != Starting {
		// Stopped while subscribing.
		s.mu.Unlock()
		for _, fn := range stops {
			fn()
		}
		return nil
	}
	s.stops = stops
	s.state = Active
	s.mu.Unlock()

	s.status.Set(syncstatus.OK)
	s.logger.Info("sync active", "listeners", len(stops))
	return nil
}

// abort resets a failed start without touching the retry timer.
func (s *Syncer) abort(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return
	}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.state = Stopped
}

// Stop cancels every subscription and pending refresh and marks the
// indicator offline.
func (s *Syncer) Stop() {
	s.mu.Lock()
	if s.retry != nil {
		s.retry.Stop()
		s.retry = nil
	}
	s.halt()
	s.mu.Unlock()
	s.status.Set(syncstatus.Offline)
}

// halt tears down subscriptions. Callers hold s.mu.
func (s *Syncer) halt() {
	for _, fn := range s.stops {
		fn()
	}
	s.stops = nil
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	for v, t := range s.timers {
		t.Stop()
		delete(s.timers, v)
	}
	clear(s.held)
	s.gen++
	if s.state != Stopped {
		s.logger.Info("sync stopped")
	}
	s.state = Stopped
}

func (s *Syncer) current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen == gen && s.state != Stopped
}

func (s *Syncer) handle(gen uint64, u gateway.Update) {
	if !s.current(gen) {
		return
	}
	if u.Slice == model.SliceNotifications {
		if u.FromSelf {
			return
		}
		added, _ := u.Value.([]model.Notification)
		for _, n := range added {
			s.deliver(n)
		}
		return
	}
	if !u.Exists {
		return
	}
	s.applyMu.Lock()
	defer s.applyMu.Unlock()
	s.apply(gen, u)
}

// apply installs u unless this device still has queued writes to its
// slice, in which case u is held until Release. Callers hold s.applyMu.
func (s *Syncer) apply(gen uint64, u gateway.Update) {
	pending := func() bool { return s.source.Pending(u.Slice) }
	applied := false
	if !u.Pending {
		var err error
		applied, err = s.local.ApplyFromRemoteUnless(u.Slice, u.Value, pending)
		if err != nil {
			s.logger.Warn("apply remote change", "slice", u.Slice, "error", err)
			return
		}
	}

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	if applied {
		delete(s.held, u.Slice)
	} else {
		s.held[u.Slice] = u
	}
	s.mu.Unlock()

	if !applied {
		s.logger.Debug("remote change held behind queued writes", "slice", u.Slice)
		return
	}
	for _, v := range dependents[u.Slice] {
		s.schedule(gen, v)
	}
}

// Release applies the latest held update of every slice whose queued
// writes have all been acknowledged. The outbox calls it after each
// commit leaves the queue.
func (s *Syncer) Release() {
	s.applyMu.Lock()
	defer s.applyMu.Unlock()

	s.mu.Lock()
	if s.state == Stopped || len(s.held) == 0 {
		s.mu.Unlock()
		return
	}
	gen := s.gen
	held := make([]gateway.Update, 0, len(s.held))
	for _, u := range s.held {
		held = append(held, u)
	}
	s.mu.Unlock()

	for _, u := range held {
		if s.source.Pending(u.Slice) {
			continue
		}
		u.Pending = false
		s.apply(gen, u)
	}
}

// deliver hands a reward_used notification to the handler once, and only
// when it is addressed to this partner.
func (s *Syncer) deliver(n model.Notification) {
	if n.Type != model.NotificationRewardUsed || s.onNotify == nil {
		return
	}
	s.mu.Lock()
	if _, seen := s.seenIDs[n.ID]; seen {
		s.mu.Unlock()
		return
	}
	s.seenIDs[n.ID] = struct{}{}
	s.mu.Unlock()

	if s.role == nil {
		return
	}
	role := s.role()
	if !role.Valid() || n.Target != role {
		return
	}
	s.onNotify(n)
}

func (s *Syncer) schedule(gen uint64, v View) {
	if s.viewer == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return
	}
	if t, ok := s.timers[v]; ok {
		t.Stop()
	}
	s.timers[v] = time.AfterFunc(s.debounce, func() {
		s.mu.Lock()
		if s.gen != gen {
			s.mu.Unlock()
			return
		}
		delete(s.timers, v)
		s.mu.Unlock()
		if s.viewer.IsVisible(v) {
			s.viewer.Refresh(v)
		}
	})
}

// handleError reacts to a failed subscription. A refusal stops syncing
// for good and warns the user. Any other failure goes offline and
// resubscribes after the retry delay.
func (s *Syncer) handleError(gen uint64, slice model.Slice, err error) {
	s.logger.Warn("listener error", "slice", slice, "error", err)

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	s.halt()
	denied := errors.Is(err, docstore.ErrPermissionDenied)
	if s.retry != nil {
		s.retry.Stop()
		s.retry = nil
	}
	if !denied && s.parent != nil && s.retryDelay > 0 {
		parent := s.parent
		s.retry = time.AfterFunc(s.retryDelay, func() {
			s.mu.Lock()
			s.retry = nil
			s.mu.Unlock()
			if parent.Err() != nil {
				return
			}
			s.Start(parent)
		})
	}
	s.mu.Unlock()

	s.status.Set(syncstatus.Offline)
	if denied && s.onNotice != nil {
		s.onNotice(DeniedNotice)
	}
}
