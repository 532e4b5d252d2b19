// Package app wires the local store, the remote gateway and the sync
// machinery together and runs the boot sequence.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukerupert/mimitask/internal/auth"
	"github.com/dukerupert/mimitask/internal/backup"
	"github.com/dukerupert/mimitask/internal/config"
	"github.com/dukerupert/mimitask/internal/database"
	"github.com/dukerupert/mimitask/internal/docclient"
	"github.com/dukerupert/mimitask/internal/docstore"
	"github.com/dukerupert/mimitask/internal/game"
	"github.com/dukerupert/mimitask/internal/gateway"
	"github.com/dukerupert/mimitask/internal/migration"
	"github.com/dukerupert/mimitask/internal/model"
	"github.com/dukerupert/mimitask/internal/outbox"
	"github.com/dukerupert/mimitask/internal/store"
	"github.com/dukerupert/mimitask/internal/syncer"
	"github.com/dukerupert/mimitask/internal/syncstatus"
)

// FlushTimeout bounds how long Boot and Close wait for queued remote
// writes.
const FlushTimeout = 5 * time.Second

// ErrOffline is returned by operations that need a document server.
var ErrOffline = errors.New("no document server configured")

// Remote bundles the document store and the sign-in provider behind it.
type Remote interface {
	docstore.Store
	auth.Authenticator
}

type Option func(*App)

// WithRemote replaces the HTTP document client built from the config.
func WithRemote(r Remote) Option {
	return func(a *App) { a.remote = r }
}

// WithPrompter offers the local-to-cloud migration through p at boot.
func WithPrompter(p migration.Prompter) Option {
	return func(a *App) { a.prompter = p }
}

// WithViewer forwards view refreshes from the synchronizer.
func WithViewer(v syncer.Viewer) Option {
	return func(a *App) { a.viewer = v }
}

// WithNotificationHandler receives partner notifications aimed at this
// device.
func WithNotificationHandler(fn func(model.Notification)) Option {
	return func(a *App) { a.onNotify = fn }
}

// WithNoticeHandler receives user-facing sync notices.
func WithNoticeHandler(fn func(string)) Option {
	return func(a *App) { a.onNotice = fn }
}

func WithClock(now func() time.Time) Option {
	return func(a *App) { a.now = now }
}

func WithLogger(logger *slog.Logger) Option {
	return func(a *App) { a.logger = logger }
}

// App is one client session. Online-only parts, the outbox included, are
// nil without a remote.
type App struct {
	DB       *sql.DB
	Local    *store.Local
	Status   *syncstatus.Indicator
	Outbox   *outbox.Outbox
	Game     *game.Service
	Backups  *backup.Manager
	Gateway  *gateway.Gateway
	Session  *auth.Session
	Syncer   *syncer.Syncer
	Migrator *migration.Migrator

	kv       *store.KVStore
	remote   Remote
	mirror   *gateway.Gateway
	prompter migration.Prompter
	viewer   syncer.Viewer
	onNotify func(model.Notification)
	onNotice func(string)
	now      func() time.Time
	logger   *slog.Logger
	cancel   context.CancelFunc
}

// New opens the local database and builds every component. Nothing talks
// to the network until Boot.
func New(ctx context.Context, cfg *config.Client, opts ...Option) (*App, error) {
	a := &App{now: time.Now, logger: slog.Default()}
	for _, opt := range opts {
		opt(a)
	}

	db, err := database.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	a.DB = db
	a.kv = store.NewKVStore(db)

	if a.remote == nil && !cfg.Offline() {
		a.remote = docclient.New(cfg.Server, docclient.WithLogger(a.logger.With("component", "docclient")))
	}

	a.Status = syncstatus.New(syncstatus.Offline)

	localOpts := []store.Option{
		store.WithClock(a.now),
		store.WithLogger(a.logger.With("component", "store")),
	}
	gameOpts := []game.Option{
		game.WithClock(a.now),
		game.WithLogger(a.logger.With("component", "game")),
	}
	if a.remote != nil {
		a.Gateway = gateway.New(a.remote,
			gateway.WithStatus(a.Status),
			gateway.WithLogger(a.logger.With("component", "gateway")))
		a.Outbox, err = outbox.New(store.NewOutboxStore(db), a.Gateway.Commit,
			outbox.WithSettle(a.release),
			outbox.WithLogger(a.logger.With("component", "outbox")))
		if err != nil {
			db.Close()
			return nil, err
		}
		a.Gateway.UseQueue(a.Outbox)
		a.mirror = a.Gateway.Deferred()
		localOpts = append(localOpts, store.WithRemote(a.mirror))
		gameOpts = append(gameOpts, game.WithNotifier(a.mirror))
	}
	a.Local = store.NewLocal(a.kv, localOpts...)
	a.Game = game.NewService(a.Local, gameOpts...)

	sink, err := backup.NewSink(ctx, cfg.Backup)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("backup sink: %w", err)
	}
	a.Backups = backup.NewManager(a.Local, store.NewBackupStore(db), sink, a.logger)

	if a.remote != nil {
		a.Session = auth.NewSession(a.remote, a.Gateway, a.kv,
			auth.WithSessionClock(a.now),
			auth.WithSessionLogger(a.logger.With("component", "auth")))
		a.Migrator = migration.New(a.kv, a.Gateway, a.logger)

		syncOpts := []syncer.Option{
			syncer.WithLogger(a.logger.With("component", "syncer")),
			syncer.WithNotifications(a.Role, a.notify),
			syncer.WithNotice(a.notice),
		}
		if a.viewer != nil {
			syncOpts = append(syncOpts, syncer.WithViewer(a.viewer))
		}
		a.Syncer = syncer.New(a.Gateway, a.Local, a.Status, syncOpts...)
	}
	return a, nil
}

// release lets the synchronizer apply slices held behind queued writes.
func (a *App) release() {
	if a.Syncer != nil {
		a.Syncer.Release()
	}
}

func (a *App) notify(n model.Notification) {
	if a.onNotify != nil {
		a.onNotify(n)
	}
}

func (a *App) notice(msg string) {
	if a.onNotice != nil {
		a.onNotice(msg)
	}
}

// Online reports whether a document server is configured.
func (a *App) Online() bool {
	return a.remote != nil
}

// Role is the partner this device plays. Unlinked devices act as partnerA.
func (a *App) Role() model.PartnerRole {
	if a.Session != nil {
		if r := a.Session.Role(); r.Valid() {
			return r
		}
	}
	return model.PartnerA
}

// BootReport summarizes what Boot did.
type BootReport struct {
	Online bool
	Linked bool
	Pulled bool
	// Queued counts local writes still waiting for the server. The boot
	// pull is skipped while any remain so they are not overwritten.
	Queued           int
	MigrationPending bool
	Migrated         bool
	TasksReset       int
	StreaksLost      []model.PartnerRole
}

// Boot loads local state and, when online, signs in, restores the couple
// link, offers the pending migration, replays writes queued by earlier
// sessions and pulls the remote snapshot. Remote failures leave the app
// usable offline. Streak decay and the recurring reset run last so they
// see the freshest data.
func (a *App) Boot(ctx context.Context) (BootReport, error) {
	var rep BootReport
	a.Local.Init()

	ctx, a.cancel = context.WithCancel(ctx)

	if a.remote != nil {
		rep.Online = true
		if err := a.Session.Init(ctx); err != nil {
			a.logger.Warn("sign in failed, staying offline", "error", err)
		} else {
			a.Outbox.Start(ctx)
			if code := a.Session.CoupleCode(); code != "" {
				a.Local.SetCoupleCode(code)
				rep.Linked = a.Session.Linked()
				a.bootRemote(ctx, &rep)
			}
		}
	}

	rep.StreaksLost = a.Game.CheckStreaksAtBoot()
	rep.TasksReset = a.Local.CheckAndResetRecurringTasks()
	return rep, nil
}

func (a *App) bootRemote(ctx context.Context, rep *BootReport) {
	if _, pending := a.Migrator.Check(); pending {
		rep.MigrationPending = true
		if a.prompter != nil {
			ran, err := a.Migrator.Offer(ctx, a.prompter)
			if err != nil {
				a.logger.Warn("migration failed", "error", err)
			}
			rep.Migrated = ran
			rep.MigrationPending = !ran
		}
	}
	if rep.Queued = a.drain(ctx); rep.Queued > 0 {
		a.logger.Info("keeping local data until queued writes land", "queued", rep.Queued)
		return
	}
	if snap, ok := a.Gateway.PullAll(ctx); ok {
		a.Local.ReplaceFromRemote(snap)
		a.Status.Set(syncstatus.OK)
		rep.Pulled = true
	}
}

// drain waits a bounded time for the outbox to empty and returns how many
// writes are still queued.
func (a *App) drain(ctx context.Context) int {
	ctx, cancel := context.WithTimeout(ctx, FlushTimeout)
	defer cancel()
	if err := a.Outbox.Flush(ctx); err != nil {
		a.logger.Warn("queued writes not delivered", "error", err)
	}
	return a.Outbox.Counters().Depth
}

// StartSync subscribes to the couple's remote changes until ctx ends or
// Close is called.
func (a *App) StartSync(ctx context.Context) error {
	if a.Syncer == nil {
		return ErrOffline
	}
	return a.Syncer.Start(ctx)
}

// CreateCouple registers a new couple with this device as partnerA and
// pushes the local data into it.
func (a *App) CreateCouple(ctx context.Context, nameA, nameB string) (string, error) {
	if a.Session == nil {
		return "", ErrOffline
	}
	code, err := a.Session.CreateCouple(ctx, nameA, nameB)
	if err != nil {
		return "", err
	}
	if err := a.Local.SetCouple(nameA, nameB); err != nil {
		return "", err
	}
	a.Local.SetCoupleCode(code)
	a.Local.PushAll()
	if err := a.markMigrated(); err != nil {
		a.logger.Warn("mark migration done", "error", err)
	}
	return code, nil
}

// JoinCouple links this device as partnerB and adopts the couple's remote
// data.
func (a *App) JoinCouple(ctx context.Context, code, name string) (auth.JoinResult, error) {
	if a.Session == nil {
		return auth.JoinResult{}, ErrOffline
	}
	res, err := a.Session.JoinCouple(ctx, code, name)
	if err != nil {
		return auth.JoinResult{}, err
	}
	a.Local.SetCoupleCode(res.CoupleCode)
	if a.drain(ctx) == 0 {
		if snap, ok := a.Gateway.PullAll(ctx); ok {
			a.Local.ReplaceFromRemote(snap)
		}
	}
	return res, nil
}

// DismissNotification queues the removal of a handled notification so
// later sessions do not show it again.
func (a *App) DismissNotification(id string) error {
	if a.mirror == nil {
		return ErrOffline
	}
	return a.mirror.DismissNotification(context.Background(), id)
}

// A freshly created couple already holds everything local.
func (a *App) markMigrated() error {
	return a.kv.Set(store.KeyMigrationDone, fmt.Sprint(a.now().UnixMilli()))
}

// Close stops syncing, gives queued writes a moment to drain and closes
// the database. Writes that do not land stay journaled for the next
// session.
func (a *App) Close() error {
	if a.Syncer != nil {
		a.Syncer.Stop()
	}
	if a.Outbox != nil {
		ctx, cancel := context.WithTimeout(context.Background(), FlushTimeout)
		if err := a.Outbox.Flush(ctx); err != nil {
			a.logger.Info("remote writes kept for next session", "queued", a.Outbox.Counters().Depth, "error", err)
		}
		cancel()
		a.Outbox.Stop()
	}
	if a.cancel != nil {
		a.cancel()
	}
	return a.DB.Close()
}
