package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"campus/internal/api"
	"campus/internal/auth"
)

// Run is the CLI entrypoint used by cmd/campus. It restores or establishes a
// session, then streams notifications until interrupted.
func Run() error {
	// A missing .env is fine; the environment wins either way.
	_ = godotenv.Load()

	cfg := LoadConfig()
	log := NewLogger(cfg.LogLevel, cfg.LogPretty)

	a, err := New(cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Error("storage.close.fail", "err", err)
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return a.Run(ctx)
}

// Run restores the persisted session (or logs in with configured
// credentials), prints incoming notifications, and blocks until the context
// is canceled.
func (a *App) Run(ctx context.Context) error {
	if err := a.session.Initialize(ctx); err != nil && !errors.Is(err, auth.ErrNotAuthenticated) {
		a.log.Warn("session.restore.fail", "err", err)
	}

	if !a.session.IsAuthenticated() {
		if a.cfg.Email == "" || a.cfg.Password == "" {
			return errors.New("no stored session and no credentials configured")
		}
		if err := a.session.Login(ctx, api.Credentials{Email: a.cfg.Email, Password: a.cfg.Password}); err != nil {
			return fmt.Errorf("login: %s", a.session.Err())
		}
	}

	user := a.session.User()
	a.log.Info("session.ready", "user", user.Email, "role", string(user.Role))

	a.Notifications.SetNewNotificationHook(func(n api.Notification) {
		fmt.Printf("[%s] %s\n", n.CreatedAt.Format("15:04:05"), n.Message)
	})

	if err := a.Notifications.Fetch(ctx); err == nil {
		a.log.Info("notifications.loaded", "total", len(a.Notifications.Items()), "unread", a.Notifications.Unread())
	}

	<-ctx.Done()
	a.log.Info("client.stop", "reason", "context_done")
	a.session.Logout()
	return nil
}
