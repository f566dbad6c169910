package api

import (
	"context"
	"fmt"
	"time"
)

// Notification is one server-pushed or fetched notification.
type Notification struct {
	ID        int64     `json:"id"`
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
	Link      string    `json:"link,omitempty"`
	IsRead    bool      `json:"is_read"`
	CreatedAt time.Time `json:"created_at"`
}

// NotificationSettings is the per-user delivery preference set.
type NotificationSettings struct {
	EmailEnabled     bool `json:"email_enabled"`
	PushEnabled      bool `json:"push_enabled"`
	NewsEnabled      bool `json:"news_enabled"`
	ForumEnabled     bool `json:"forum_enabled"`
	MessagingEnabled bool `json:"messaging_enabled"`
}

// Notifications lists the current user's notifications.
func (c *Client) Notifications(ctx context.Context) ([]Notification, error) {
	var items []Notification
	err := c.get(ctx, "/api/notifications/list/", nil, &items)
	return items, err
}

// NotificationSettingsGet fetches the current user's notification settings.
func (c *Client) NotificationSettingsGet(ctx context.Context) (NotificationSettings, error) {
	var s NotificationSettings
	err := c.get(ctx, "/api/notifications/settings/", nil, &s)
	return s, err
}

// NotificationSettingsUpdate partially updates the settings and returns them.
func (c *Client) NotificationSettingsUpdate(ctx context.Context, s NotificationSettings) (NotificationSettings, error) {
	var out NotificationSettings
	err := c.patch(ctx, "/api/notifications/settings/", s, &out)
	return out, err
}

// MarkNotificationRead marks one notification read.
func (c *Client) MarkNotificationRead(ctx context.Context, id int64) error {
	return c.post(ctx, fmt.Sprintf("/api/notifications/list/%d/mark_read/", id), nil, nil)
}

// MarkNotificationUnread marks one notification unread.
func (c *Client) MarkNotificationUnread(ctx context.Context, id int64) error {
	return c.post(ctx, fmt.Sprintf("/api/notifications/list/%d/mark_unread/", id), nil, nil)
}

// MarkAllNotificationsRead marks every notification read.
func (c *Client) MarkAllNotificationsRead(ctx context.Context) error {
	return c.post(ctx, "/api/notifications/list/mark_all_read/", nil, nil)
}
