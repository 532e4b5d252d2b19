package store

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/dukerupert/mimitask/internal/model"
	"github.com/dukerupert/mimitask/internal/points"
)

// Remote is the write surface of the remote gateway that local mutations
// are mirrored to. Calls are made with the store locked, so they must only
// record the write and return; delivery happens elsewhere.
type Remote interface {
	SetCoupleCode(code string)
	UpsertTask(ctx context.Context, task model.Task) error
	DeleteTask(ctx context.Context, id string) error
	BatchUpsertTasks(ctx context.Context, tasks []model.Task) error
	UpsertReward(ctx context.Context, reward model.Reward) error
	DeleteReward(ctx context.Context, id string) error
	BatchUpsertRewards(ctx context.Context, rewards []model.Reward) error
	WriteStats(ctx context.Context, stats model.Stats) error
	WriteMascot(ctx context.Context, prefs model.MascotPrefs) error
	WriteCoupleField(ctx context.Context, field string, value any) error
}

// Local owns the session's snapshot. Every read returns a copy and every
// mutation persists the snapshot and mirrors the change remotely without
// waiting for it.
type Local struct {
	mu      sync.Mutex
	data    model.Snapshot
	storage Storage
	remote  Remote
	now     func() time.Time
	newID   func() string
	logger  *slog.Logger
}

type Option func(*Local)

// WithRemote mirrors mutations to r.
func WithRemote(r Remote) Option {
	return func(l *Local) { l.remote = r }
}

func WithClock(now func() time.Time) Option {
	return func(l *Local) { l.now = now }
}

func WithIDGenerator(fn func() string) Option {
	return func(l *Local) { l.newID = fn }
}

func WithLogger(logger *slog.Logger) Option {
	return func(l *Local) { l.logger = logger }
}

func NewLocal(storage Storage, opts ...Option) *Local {
	l := &Local{
		data:    model.DefaultSnapshot(),
		storage: storage,
		now:     time.Now,
		newID:   newEntityID,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Init loads the persisted snapshot, falling back to defaults when the blob
// is missing or unusable, and returns a copy of the result.
func (l *Local) Init() model.Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.data = model.DefaultSnapshot()
	raw, ok, err := l.storage.Get(KeyData)
	switch {
	case err != nil:
		l.logger.Warn("read local snapshot", "error", err)
	case ok:
		snap, err := DecodeSnapshot([]byte(raw))
		if err != nil {
			l.logger.Warn("discarding local snapshot", "error", err)
		} else {
			l.data = snap
		}
	}
	l.persist()
	return l.data.Clone()
}

// persist writes the snapshot to durable storage. Failures are logged only.
func (l *Local) persist() {
	blob, err := json.Marshal(l.data)
	if err != nil {
		l.logger.Error("marshal snapshot", "error", err)
		return
	}
	if err := l.storage.Set(KeyData, string(blob)); err != nil {
		l.logger.Warn("persist snapshot", "error", err)
	}
}

func (l *Local) forward(name string, fn func(r Remote, ctx context.Context) error) {
	if l.remote == nil {
		return
	}
	if err := fn(l.remote, context.Background()); err != nil {
		l.logger.Warn("remote write not queued", "op", name, "error", err)
	}
}

func (l *Local) stamp() *time.Time {
	t := l.now().UTC()
	return &t
}

func (l *Local) findTask(id string) *model.Task {
	for i := range l.data.Tasks {
		if l.data.Tasks[i].ID == id {
			return &l.data.Tasks[i]
		}
	}
	return nil
}

func (l *Local) findReward(id string) *model.Reward {
	for i := range l.data.Rewards {
		if l.data.Rewards[i].ID == id {
			return &l.data.Rewards[i]
		}
	}
	return nil
}

// --- Accessors ---

func (l *Local) Data() model.Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.data.Clone()
}

func (l *Local) IsOnboardingDone() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.data.Settings.OnboardingDone
}

func (l *Local) Couple() model.Couple {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.data.Couple
}

func (l *Local) CoupleCode() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.data.Couple.CoupleCode
}

func (l *Local) Settings() model.Settings {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.data.Settings
}

func (l *Local) Stats() model.Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.data.Stats
}

func (l *Local) MascotPrefs() model.MascotPrefs {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.data.Mascot
}

// Balance returns each partner's share of the couple total in percent.
func (l *Local) Balance() model.Balance {
	l.mu.Lock()
	defer l.mu.Unlock()
	return points.Balance(l.data.Stats)
}

// --- Couple & settings ---

func (l *Local) SetOnboardingDone() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.data.Settings.OnboardingDone = true
	l.persist()
	l.forward("write couple field", func(r Remote, ctx context.Context) error {
		return r.WriteCoupleField(ctx, "settings.onboardingDone", true)
	})
}

// SetCouple records both partner names locally.
func (l *Local) SetCouple(nameA, nameB string) error {
	a, err := ValidatePartnerName(nameA)
	if err != nil {
		return err
	}
	b, err := ValidatePartnerName(nameB)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.data.Couple.PartnerA.Name = a
	l.data.Couple.PartnerB.Name = b
	l.persist()
	return nil
}

// SetCoupleCode links the snapshot to a remote couple document. Empty codes
// are ignored.
func (l *Local) SetCoupleCode(code string) {
	if code == "" {
		return
	}
	l.mu.Lock()
	l.data.Couple.CoupleCode = code
	l.persist()
	r := l.remote
	l.mu.Unlock()
	if r != nil {
		r.SetCoupleCode(code)
	}
}

// --- Mascot ---

// SetMascotPrefs merges the non-empty fields of prefs into the stored prefs.
func (l *Local) SetMascotPrefs(prefs model.MascotPrefs) error {
	if prefs.ColorID != "" && !contains(model.MascotColors, prefs.ColorID) {
		return ErrInvalidMascot
	}
	if prefs.AccessoryID != "" && !contains(model.MascotAccessories, prefs.AccessoryID) {
		return ErrInvalidMascot
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if prefs.ColorID != "" {
		l.data.Mascot.ColorID = prefs.ColorID
	}
	if prefs.AccessoryID != "" {
		l.data.Mascot.AccessoryID = prefs.AccessoryID
	}
	l.persist()
	m := l.data.Mascot
	l.forward("write mascot", func(r Remote, ctx context.Context) error {
		return r.WriteMascot(ctx, m)
	})
	return nil
}

// ResetAll drops the persisted snapshot and starts over from defaults.
func (l *Local) ResetAll() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.storage.Delete(KeyData); err != nil {
		l.logger.Warn("delete local snapshot", "error", err)
	}
	l.data = model.DefaultSnapshot()
	l.persist()
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
