// Package gateway translates local entities to and from documents stored
// under the couple's document in the remote store.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/dukerupert/mimitask/internal/docstore"
	"github.com/dukerupert/mimitask/internal/model"
	"github.com/dukerupert/mimitask/internal/syncstatus"
)

const (
	CouplesCollection = "couples"

	tasksColl         = "tasks"
	rewardsColl       = "rewards"
	notificationsColl = "notifications"
	statsDoc          = "stats/current"
	mascotDoc         = "mascot/prefs"
)

// CouplePath returns the path of a couple document.
func CouplePath(code string) string {
	return docstore.Join(CouplesCollection, code)
}

// Queue journals commits for background delivery. *outbox.Outbox
// implements it.
type Queue interface {
	Enqueue(op string, writes []docstore.Write) error
	// Pending counts queued commits touching the document or collection
	// at path.
	Pending(path string) int
}

// link is the state shared by a gateway and its deferred view.
type link struct {
	mu    sync.RWMutex
	code  string
	queue Queue
}

type Gateway struct {
	*link
	docs     docstore.Store
	status   *syncstatus.Indicator
	logger   *slog.Logger
	deferred bool
}

type Option func(*Gateway)

// WithStatus reports every write on ind.
func WithStatus(ind *syncstatus.Indicator) Option {
	return func(g *Gateway) { g.status = ind }
}

func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) { g.logger = logger }
}

func New(docs docstore.Store, opts ...Option) *Gateway {
	g := &Gateway{link: &link{}, docs: docs, logger: slog.Default()}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// UseQueue routes the writes of Deferred views through q.
func (g *Gateway) UseQueue(q Queue) {
	g.mu.Lock()
	g.queue = q
	g.mu.Unlock()
}

// Deferred returns a view of g whose entity writes are queued instead of
// committed. Couple lifecycle calls and reads stay direct. The view shares
// the couple code and queue with g.
func (g *Gateway) Deferred() *Gateway {
	d := *g
	d.deferred = true
	return &d
}

func (g *Gateway) queued() Queue {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.queue
}

func (g *Gateway) SetCoupleCode(code string) {
	g.mu.Lock()
	g.code = code
	g.mu.Unlock()
}

func (g *Gateway) CoupleCode() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.code
}

// Ready reports whether a couple code is established.
func (g *Gateway) Ready() bool {
	return g.CoupleCode() != ""
}

func (g *Gateway) couplePath() (string, bool) {
	code := g.CoupleCode()
	if code == "" {
		return "", false
	}
	return CouplePath(code), true
}

func (g *Gateway) path(rel string) (string, bool) {
	base, ok := g.couplePath()
	if !ok {
		return "", false
	}
	return base + "/" + rel, true
}

// Commit sends writes now, whatever the view. The outbox delivers queued
// commits through it.
func (g *Gateway) Commit(ctx context.Context, op string, writes []docstore.Write) error {
	return g.commit(ctx, op, writes...)
}

// send queues writes on a deferred view with a queue and commits them
// otherwise.
func (g *Gateway) send(ctx context.Context, op string, writes ...docstore.Write) error {
	if g.deferred {
		if q := g.queued(); q != nil {
			if err := q.Enqueue(op, writes); err != nil {
				return fmt.Errorf("queue %s: %w", op, err)
			}
			return nil
		}
	}
	return g.commit(ctx, op, writes...)
}

// commit sends writes with the indicator pending for the duration of the
// call. Failures are logged and returned.
func (g *Gateway) commit(ctx context.Context, op string, writes ...docstore.Write) error {
	run := func() error {
		_, err := g.docs.Commit(ctx, writes)
		return err
	}
	var err error
	if g.status != nil {
		err = g.status.Wrap(run)
	} else {
		err = run()
	}
	if err != nil {
		g.logger.Warn("remote write failed", "op", op, "error", err)
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (g *Gateway) upsert(ctx context.Context, op, rel string, v any) error {
	p, ok := g.path(rel)
	if !ok {
		return nil
	}
	w, err := docstore.Merge(p, v)
	if err != nil {
		return err
	}
	return g.send(ctx, op, w)
}

func (g *Gateway) remove(ctx context.Context, op, rel string) error {
	p, ok := g.path(rel)
	if !ok {
		return nil
	}
	return g.send(ctx, op, docstore.Delete(p))
}

func (g *Gateway) UpsertTask(ctx context.Context, t model.Task) error {
	return g.upsert(ctx, "upsert task", tasksColl+"/"+t.ID, t)
}

func (g *Gateway) DeleteTask(ctx context.Context, id string) error {
	return g.remove(ctx, "delete task", tasksColl+"/"+id)
}

// BatchUpsertTasks replaces every given task in one atomic commit.
func (g *Gateway) BatchUpsertTasks(ctx context.Context, tasks []model.Task) error {
	base, ok := g.couplePath()
	if !ok || len(tasks) == 0 {
		return nil
	}
	writes := make([]docstore.Write, 0, len(tasks))
	for _, t := range tasks {
		w, err := docstore.Set(docstore.Join(base, tasksColl, t.ID), t)
		if err != nil {
			return err
		}
		writes = append(writes, w)
	}
	return g.send(ctx, "batch upsert tasks", writes...)
}

func (g *Gateway) UpsertReward(ctx context.Context, r model.Reward) error {
	return g.upsert(ctx, "upsert reward", rewardsColl+"/"+r.ID, r)
}

func (g *Gateway) DeleteReward(ctx context.Context, id string) error {
	return g.remove(ctx, "delete reward", rewardsColl+"/"+id)
}

func (g *Gateway) BatchUpsertRewards(ctx context.Context, rewards []model.Reward) error {
	base, ok := g.couplePath()
	if !ok || len(rewards) == 0 {
		return nil
	}
	writes := make([]docstore.Write, 0, len(rewards))
	for _, r := range rewards {
		w, err := docstore.Set(docstore.Join(base, rewardsColl, r.ID), r)
		if err != nil {
			return err
		}
		writes = append(writes, w)
	}
	return g.send(ctx, "batch upsert rewards", writes...)
}

func (g *Gateway) WriteStats(ctx context.Context, s model.Stats) error {
	return g.upsert(ctx, "write stats", statsDoc, s)
}

func (g *Gateway) WriteMascot(ctx context.Context, m model.MascotPrefs) error {
	return g.upsert(ctx, "write mascot", mascotDoc, m)
}

// WriteCoupleField sets one dotted field of the couple document.
func (g *Gateway) WriteCoupleField(ctx context.Context, field string, value any) error {
	p, ok := g.couplePath()
	if !ok {
		return nil
	}
	w, err := docstore.Update(p, map[string]any{field: value})
	if err != nil {
		return err
	}
	return g.send(ctx, "write couple field", w)
}

func (g *Gateway) SendNotification(ctx context.Context, n model.Notification) error {
	p, ok := g.path(notificationsColl + "/" + n.ID)
	if !ok {
		return nil
	}
	w, err := docstore.Set(p, n)
	if err != nil {
		return err
	}
	return g.send(ctx, "send notification", w)
}

// DismissNotification deletes a handled notification.
func (g *Gateway) DismissNotification(ctx context.Context, id string) error {
	return g.remove(ctx, "dismiss notification", notificationsColl+"/"+id)
}

// --- Couple document ---

// GetCouple reads the couple document for code. A missing document
// returns ok false and no error.
func (g *Gateway) GetCouple(ctx context.Context, code string) (model.CoupleDoc, bool, error) {
	doc, err := g.docs.Get(ctx, CouplePath(code))
	if errors.Is(err, docstore.ErrNotFound) {
		return model.CoupleDoc{}, false, nil
	}
	if err != nil {
		return model.CoupleDoc{}, false, fmt.Errorf("get couple %s: %w", code, err)
	}
	var cd model.CoupleDoc
	if err := doc.DataTo(&cd); err != nil {
		return model.CoupleDoc{}, false, err
	}
	return cd, true, nil
}

func (g *Gateway) CreateCouple(ctx context.Context, code string, cd model.CoupleDoc) error {
	w, err := docstore.Set(CouplePath(code), cd)
	if err != nil {
		return err
	}
	return g.commit(ctx, "create couple", w)
}

func (g *Gateway) UpdateCouple(ctx context.Context, code string, fields map[string]any) error {
	w, err := docstore.Update(CouplePath(code), fields)
	if err != nil {
		return err
	}
	return g.commit(ctx, "update couple", w)
}

// --- Boot pull ---

// PullAll reads the couple document and every slice concurrently. It
// returns ok false when no code is set, the couple document is missing or
// any read fails.
func (g *Gateway) PullAll(ctx context.Context) (model.Snapshot, bool) {
	base, ok := g.couplePath()
	if !ok {
		return model.Snapshot{}, false
	}
	code := g.CoupleCode()

	var (
		cd      model.CoupleDoc
		tasks   []model.Task
		rewards []model.Reward
		stats   model.Stats
		mascot  = model.DefaultMascotPrefs()
	)
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		doc, err := g.docs.Get(ctx, base)
		if err != nil {
			return err
		}
		return doc.DataTo(&cd)
	})
	eg.Go(func() error {
		docs, err := g.docs.List(ctx, docstore.Join(base, tasksColl))
		if err != nil {
			return err
		}
		tasks, err = decodeTasks(docs)
		return err
	})
	eg.Go(func() error {
		docs, err := g.docs.List(ctx, docstore.Join(base, rewardsColl))
		if err != nil {
			return err
		}
		rewards, err = decodeRewards(docs)
		return err
	})
	eg.Go(func() error {
		return getOptional(ctx, g.docs, docstore.Join(base, statsDoc), &stats)
	})
	eg.Go(func() error {
		return getOptional(ctx, g.docs, docstore.Join(base, mascotDoc), &mascot)
	})
	if err := eg.Wait(); err != nil {
		if !errors.Is(err, docstore.ErrNotFound) {
			g.logger.Warn("pull all failed", "error", err)
		}
		return model.Snapshot{}, false
	}

	theme := cd.Settings.Theme
	if theme == "" {
		theme = "default"
	}
	return model.Snapshot{
		SchemaVersion: model.SchemaVersion,
		Couple: model.Couple{
			PartnerA:   model.Partner{Name: cd.PartnerA.Name, Avatar: cd.PartnerA.Avatar},
			PartnerB:   model.Partner{Name: cd.PartnerB.Name, Avatar: cd.PartnerB.Avatar},
			CoupleCode: code,
		},
		Tasks:   tasks,
		Rewards: rewards,
		Stats:   stats,
		Mascot:  mascot,
		Settings: model.Settings{
			Theme:          theme,
			OnboardingDone: true,
			LastResetDate:  cd.Settings.LastResetDate,
		},
	}, true
}

// getOptional decodes path into v, leaving v untouched when the document
// does not exist.
func getOptional(ctx context.Context, docs docstore.Backend, path string, v any) error {
	doc, err := docs.Get(ctx, path)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return doc.DataTo(v)
}

func decodeTasks(docs []docstore.Document) ([]model.Task, error) {
	tasks := make([]model.Task, 0, len(docs))
	for _, d := range docs {
		var t model.Task
		if err := d.DataTo(&t); err != nil {
			return nil, err
		}
		t.ID = d.ID()
		tasks = append(tasks, t)
	}
	return tasks, nil
}

func decodeRewards(docs []docstore.Document) ([]model.Reward, error) {
	rewards := make([]model.Reward, 0, len(docs))
	for _, d := range docs {
		var r model.Reward
		if err := d.DataTo(&r); err != nil {
			return nil, err
		}
		r.ID = d.ID()
		rewards = append(rewards, r)
	}
	return rewards, nil
}
