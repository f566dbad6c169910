// Package app wires the campus client runtime: config, logging, the API
// client with its refresh transport, the session, and the feature stores.
package app

import (
	"fmt"
	"sync"

	"campus/internal/admin"
	"campus/internal/api"
	"campus/internal/auth"
	"campus/internal/forum"
	"campus/internal/messaging"
	"campus/internal/metrics"
	"campus/internal/news"
	"campus/internal/notifications"
	"campus/internal/realtime"
	"campus/internal/schedule"
)

// App owns the wired client runtime and the token storage lifecycle.
type App struct {
	cfg Config
	log Logger

	storage auth.Storage
	tokens  *auth.TokenStore
	metrics *metrics.Metrics
	client  *api.Client
	session *auth.Session
	guard   *auth.Guard
	nav     *navigator

	Notifications *notifications.Store
	Messaging     *messaging.Store
	News          *news.Store
	Forum         *forum.Store
	Schedule      *schedule.Store
	Admin         *admin.Store
}

// New constructs a fully wired App instance from config and logger.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogPretty)
	}

	storage, err := auth.NewSQLiteStorage(cfg.TokenDB)
	if err != nil {
		return nil, fmt.Errorf("open token storage: %w", err)
	}

	tokens := auth.NewTokenStore(log, storage)
	m := metrics.New()

	client := api.NewClient(api.Config{
		BaseURL: cfg.APIBaseURL,
		Tokens:  tokens,
		Logger:  log,
		Metrics: m,
		Timeout: cfg.RequestTimeout,
	})

	nav := &navigator{route: auth.RouteLogin}
	hub := &channelHub{}
	session := auth.NewSession(log, client, tokens, nav, hub)

	channels := &realtime.Factory{
		Log:            log,
		BaseURL:        cfg.WSBaseURL,
		Creds:          session,
		Metrics:        m,
		ReconnectDelay: cfg.ReconnectDelay,
	}

	a := &App{
		cfg:     cfg,
		log:     log,
		storage: storage,
		tokens:  tokens,
		metrics: m,
		client:  client,
		session: session,
		guard:   auth.NewGuard(session),
		nav:     nav,

		Notifications: notifications.New(log, client, channels),
		Messaging:     messaging.New(log, client, channels),
		News:          news.New(log, client),
		Forum:         forum.New(log, client),
		Schedule:      schedule.New(log, client),
		Admin:         admin.New(log, client),
	}

	// Login brings the realtime layer up; logout tears it down and drops
	// every store's state.
	hub.onConnect = a.Notifications.Connect
	hub.onDisconnect = a.resetStores

	return a, nil
}

// Session exposes the session for callers driving auth flows.
func (a *App) Session() *auth.Session { return a.session }

// Guard exposes the route guard.
func (a *App) Guard() *auth.Guard { return a.guard }

// Client exposes the API client.
func (a *App) Client() *api.Client { return a.client }

// CurrentRoute reports where the session last navigated.
func (a *App) CurrentRoute() string { return a.nav.Current() }

// Close releases the token storage.
func (a *App) Close() error {
	return a.storage.Close()
}

func (a *App) resetStores() {
	a.Notifications.Disconnect()
	a.Notifications.Reset()
	a.Messaging.Reset()
	a.News.Reset()
	a.Forum.Reset()
	a.Schedule.Reset()
	a.Admin.Reset()
}

// navigator records the session's navigation as the current route.
type navigator struct {
	mu    sync.Mutex
	route string
}

func (n *navigator) Replace(route string) {
	n.mu.Lock()
	n.route = route
	n.mu.Unlock()
}

func (n *navigator) Current() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.route
}

// channelHub fans the session's connect/disconnect out to the stores. The
// callbacks are fixed during wiring, before the session makes its first call.
type channelHub struct {
	onConnect    func()
	onDisconnect func()
}

func (h *channelHub) Connect() {
	if h.onConnect != nil {
		h.onConnect()
	}
}

func (h *channelHub) Disconnect() {
	if h.onDisconnect != nil {
		h.onDisconnect()
	}
}
