// Package syncstatus tracks the ok / pending / offline sync indicator.
package syncstatus

import (
	"sync"
	"time"
)

type State string

const (
	OK      State = "ok"
	Pending State = "pending"
	Offline State = "offline"
)

// DefaultPendingTimeout is how long pending may last before the indicator
// falls back to ok on its own.
const DefaultPendingTimeout = 5 * time.Second

// Messages are the user facing descriptions of each state.
var Messages = map[State]string{
	OK:      "Synced",
	Pending: "Syncing…",
	Offline: "Offline, changes will sync automatically",
}

type Indicator struct {
	mu        sync.Mutex
	state     State
	timeout   time.Duration
	timer     *time.Timer
	gen       uint64
	listeners []func(State)
}

type Option func(*Indicator)

func WithTimeout(d time.Duration) Option {
	return func(i *Indicator) { i.timeout = d }
}

// New returns an indicator in the initial state.
func New(initial State, opts ...Option) *Indicator {
	i := &Indicator{state: initial, timeout: DefaultPendingTimeout}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// OnChange registers fn to be called after every transition.
func (i *Indicator) OnChange(fn func(State)) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.listeners = append(i.listeners, fn)
}

func (i *Indicator) State() State {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state
}

// Set moves the indicator to s. Repeating the current state is ignored,
// except pending, which re-arms the safety timer.
func (i *Indicator) Set(s State) {
	i.mu.Lock()
	if s == i.state && s != Pending {
		i.mu.Unlock()
		return
	}
	i.state = s
	i.gen++
	if i.timer != nil {
		i.timer.Stop()
		i.timer = nil
	}
	if s == Pending {
		gen := i.gen
		i.timer = time.AfterFunc(i.timeout, func() { i.expire(gen) })
	}
	listeners := append([]func(State){}, i.listeners...)
	i.mu.Unlock()

	for _, fn := range listeners {
		fn(s)
	}
}

func (i *Indicator) expire(gen uint64) {
	i.mu.Lock()
	stale := gen != i.gen || i.state != Pending
	i.mu.Unlock()
	if !stale {
		i.Set(OK)
	}
}

// Wrap marks the indicator pending while fn runs and ok afterwards,
// whatever fn returns.
func (i *Indicator) Wrap(fn func() error) error {
	i.Set(Pending)
	err := fn()
	i.Set(OK)
	return err
}

func (i *Indicator) Message() string {
	return Messages[i.State()]
}
