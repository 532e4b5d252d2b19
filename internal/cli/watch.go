package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dukerupert/mimitask/internal/app"
	"github.com/dukerupert/mimitask/internal/model"
	"github.com/dukerupert/mimitask/internal/syncer"
)

// watcher prints remote activity as it arrives. Callbacks come from sync
// goroutines, so writes are serialized.
type watcher struct {
	mu  sync.Mutex
	w   io.Writer
	app *app.App
}

func (w *watcher) printf(format string, args ...any) {
	w.mu.Lock()
	defer w.mu.Unlock()
	fmt.Fprintf(w.w, "%s  "+format+"\n", append([]any{time.Now().Format("15:04:05")}, args...)...)
}

func (w *watcher) IsVisible(v syncer.View) bool {
	return v == syncer.ViewDashboard
}

func (w *watcher) Refresh(syncer.View) {
	w.mu.Lock()
	a := w.app
	w.mu.Unlock()
	if a == nil {
		return
	}
	s := a.Local.Stats()
	w.printf("points %d (%d / %d), %d task(s)", s.CouplePoints, s.PartnerA.TotalPoints, s.PartnerB.TotalPoints, len(a.Local.Tasks()))
}

func (w *watcher) notification(n model.Notification) {
	w.printf("%s used %s %s", n.SenderName, n.RewardIcon, n.RewardName)
	w.mu.Lock()
	a := w.app
	w.mu.Unlock()
	if a == nil {
		return
	}
	if err := a.DismissNotification(n.ID); err != nil {
		w.printf("could not dismiss notification: %v", err)
	}
}

func (w *watcher) notice(msg string) {
	w.printf("%s", msg)
}

func newWatchCommand(opts *RootOptions) *cobra.Command {
	var duration time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow your partner's activity live",
		Long: `Subscribe to the couple's data and print changes and reward
notifications until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := &watcher{w: cmd.OutOrStdout()}
			return opts.run(cmd, func(s *session) error {
				if !s.boot.Linked {
					return s.out.Fail(ExitFailure, ErrCodeRemote, "this device is not linked to a couple", nil)
				}
				w.mu.Lock()
				w.app = s.app
				w.mu.Unlock()

				ctx, stop := signal.NotifyContext(s.ctx, os.Interrupt, syscall.SIGTERM)
				defer stop()
				if duration > 0 {
					var cancel context.CancelFunc
					ctx, cancel = context.WithTimeout(ctx, duration)
					defer cancel()
				}
				if err := s.app.StartSync(ctx); err != nil {
					return failFor(s.out, err)
				}
				s.out.Notice("Watching %s. Press Ctrl+C to stop.", s.app.Local.CoupleCode())
				<-ctx.Done()
				return nil
			},
				app.WithViewer(w),
				app.WithNotificationHandler(w.notification),
				app.WithNoticeHandler(w.notice))
		},
	}
	cmd.Flags().DurationVar(&duration, "for", 0, "stop after this long (default: until interrupted)")
	return cmd
}
