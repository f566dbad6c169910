// Package notifications holds the notification list, the per-user settings,
// and the global realtime channel that pushes new notifications in.
package notifications

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"

	"campus/internal/api"
	"campus/internal/optimistic"
	"campus/internal/realtime"
)

// Inbound event discriminants.
const (
	eventNew    = "new_notification"
	eventUpdate = "notification_update"
)

// Store is the notifications state container. Constructed once and injected;
// it also implements the session's ChannelController so login/logout drive
// the realtime channel through it.
type Store struct {
	log     *slog.Logger
	api     *api.Client
	channel *realtime.Channel

	mu              sync.Mutex
	items           []api.Notification // created_at descending
	settings        *api.NotificationSettings
	loadingList     bool
	loadingSettings bool
	errList         string
	errSettings     string

	gate optimistic.Gate

	// onNew, when set, observes each genuinely new inbound notification.
	onNew func(api.Notification)
}

// New wires the store and its realtime channel.
func New(log *slog.Logger, client *api.Client, channels *realtime.Factory) *Store {
	s := &Store{log: log, api: client}
	s.channel = channels.Channel("notifications", "notifications/", map[string]realtime.Handler{
		eventNew:    s.handleNew,
		eventUpdate: s.handleUpdate,
	})
	return s
}

// Connect opens the global notification channel.
func (s *Store) Connect() { s.channel.Open() }

// Disconnect closes it; called by the session before credentials are cleared.
func (s *Store) Disconnect() { s.channel.Close() }

// ChannelState exposes the channel state as a non-fatal status indicator.
func (s *Store) ChannelState() realtime.State { return s.channel.State() }

// SetNewNotificationHook registers an observer for inbound notifications.
func (s *Store) SetNewNotificationHook(fn func(api.Notification)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onNew = fn
}

// Fetch loads the notification list, newest first.
func (s *Store) Fetch(ctx context.Context) error {
	s.mu.Lock()
	if s.loadingList {
		s.mu.Unlock()
		return nil
	}
	s.loadingList = true
	s.errList = ""
	s.mu.Unlock()

	items, err := s.api.Notifications(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadingList = false
	if err != nil {
		s.errList = api.Normalize(err)
		s.items = nil
		return err
	}
	s.items = items
	sortNewestFirst(s.items)
	return nil
}

// FetchSettings loads the per-user settings.
func (s *Store) FetchSettings(ctx context.Context) error {
	s.mu.Lock()
	if s.loadingSettings {
		s.mu.Unlock()
		return nil
	}
	s.loadingSettings = true
	s.errSettings = ""
	s.mu.Unlock()

	settings, err := s.api.NotificationSettingsGet(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadingSettings = false
	if err != nil {
		s.errSettings = api.Normalize(err)
		s.settings = nil
		return err
	}
	s.settings = &settings
	return nil
}

// UpdateSettings patches the settings with the server's response.
func (s *Store) UpdateSettings(ctx context.Context, settings api.NotificationSettings) error {
	updated, err := s.api.NotificationSettingsUpdate(ctx, settings)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.errSettings = api.Normalize(err)
		return err
	}
	s.settings = &updated
	s.errSettings = ""
	return nil
}

// MarkRead optimistically flips one notification to read, rolling back if the
// call fails.
func (s *Store) MarkRead(ctx context.Context, id int64) error {
	return s.setReadState(ctx, id, true, s.api.MarkNotificationRead)
}

// MarkUnread is the inverse toggle.
func (s *Store) MarkUnread(ctx context.Context, id int64) error {
	return s.setReadState(ctx, id, false, s.api.MarkNotificationUnread)
}

func (s *Store) setReadState(ctx context.Context, id int64, read bool, call func(context.Context, int64) error) error {
	s.mu.Lock()
	idx := s.indexOfLocked(id)
	if idx < 0 {
		s.mu.Unlock()
		s.log.Warn("notifications.mark.not_found", "id", id)
		return nil
	}
	previous := s.items[idx].IsRead
	s.mu.Unlock()

	err := optimistic.Run(ctx, &s.gate, id, optimistic.Op{
		Apply:    func() { s.setRead(id, read) },
		Call:     func(ctx context.Context) error { return call(ctx, id) },
		Rollback: func() { s.setRead(id, previous) },
	})
	if err != nil && err != optimistic.ErrInFlight {
		s.mu.Lock()
		s.errList = api.Normalize(err)
		s.mu.Unlock()
	}
	return err
}

// MarkAllRead optimistically marks everything read, restoring the snapshot on
// failure.
func (s *Store) MarkAllRead(ctx context.Context) error {
	s.mu.Lock()
	var changed []int64
	for i := range s.items {
		if !s.items[i].IsRead {
			s.items[i].IsRead = true
			changed = append(changed, s.items[i].ID)
		}
	}
	s.mu.Unlock()

	if len(changed) == 0 {
		return nil
	}

	if err := s.api.MarkAllNotificationsRead(ctx); err != nil {
		s.mu.Lock()
		for _, id := range changed {
			if idx := s.indexOfLocked(id); idx >= 0 {
				s.items[idx].IsRead = false
			}
		}
		s.errList = api.Normalize(err)
		s.mu.Unlock()
		return err
	}
	return nil
}

// Items returns a copy of the notification list, newest first.
func (s *Store) Items() []api.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]api.Notification, len(s.items))
	copy(out, s.items)
	return out
}

// Settings returns a copy of the settings, or nil before they are fetched.
func (s *Store) Settings() *api.NotificationSettings {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.settings == nil {
		return nil
	}
	out := *s.settings
	return &out
}

// Unread counts the unread notifications.
func (s *Store) Unread() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for i := range s.items {
		if !s.items[i].IsRead {
			n++
		}
	}
	return n
}

// ListError returns the last list-level error message, or "".
func (s *Store) ListError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errList
}

// Reset drops all state; used on logout.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = nil
	s.settings = nil
	s.errList = ""
	s.errSettings = ""
}

// handleNew ingests an inbound new-notification event. A duplicate id is an
// update in disguise, never a second list entry.
func (s *Store) handleNew(payload json.RawMessage) {
	var n api.Notification
	if err := json.Unmarshal(payload, &n); err != nil || n.ID == 0 {
		s.log.Warn("notifications.event.malformed", "err", err)
		return
	}

	s.mu.Lock()
	if idx := s.indexOfLocked(n.ID); idx >= 0 {
		s.items[idx] = n
		sortNewestFirst(s.items)
		s.mu.Unlock()
		return
	}
	s.items = append(s.items, n)
	sortNewestFirst(s.items)
	hook := s.onNew
	s.mu.Unlock()

	if hook != nil {
		hook(n)
	}
}

// handleUpdate replaces a known notification in place; an unknown id is
// treated as new.
func (s *Store) handleUpdate(payload json.RawMessage) {
	var n api.Notification
	if err := json.Unmarshal(payload, &n); err != nil || n.ID == 0 {
		s.log.Warn("notifications.event.malformed", "err", err)
		return
	}

	s.mu.Lock()
	idx := s.indexOfLocked(n.ID)
	if idx < 0 {
		s.mu.Unlock()
		s.handleNew(payload)
		return
	}
	s.items[idx] = n
	sortNewestFirst(s.items)
	s.mu.Unlock()
}

func (s *Store) setRead(id int64, read bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx := s.indexOfLocked(id); idx >= 0 {
		s.items[idx].IsRead = read
	}
}

func (s *Store) indexOfLocked(id int64) int {
	for i := range s.items {
		if s.items[i].ID == id {
			return i
		}
	}
	return -1
}

func sortNewestFirst(items []api.Notification) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
}
