package api

import (
	"context"
	"fmt"
	"time"
)

// ChatType distinguishes direct chats from named groups.
type ChatType string

const (
	ChatDirect ChatType = "DIRECT"
	ChatGroup  ChatType = "GROUP"
)

// Chat is one conversation, with its last-message summary and the unread
// counter computed server-side for the current user.
type Chat struct {
	ID           int64     `json:"id"`
	ChatType     ChatType  `json:"chat_type"`
	Name         string    `json:"name,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	Participants []User    `json:"participants"`
	LastMessage  *Message  `json:"last_message_details"`
	UnreadCount  int       `json:"unread_count"`
	DisplayName  string    `json:"display_name"`
}

// Message is one chat message.
type Message struct {
	ID        int64     `json:"id"`
	ChatID    int64     `json:"chat_id"`
	Sender    User      `json:"sender"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	IsRead    bool      `json:"is_read"`
}

// ChatRequest creates a chat or names a participant for add/remove calls.
type ChatRequest struct {
	ChatType     ChatType `json:"chat_type,omitempty"`
	Name         string   `json:"name,omitempty"`
	Participants []int64  `json:"participants,omitempty"`
	UserID       int64    `json:"user_id,omitempty"`
}

// ChatPatch carries the mutable chat fields.
type ChatPatch struct {
	Name string `json:"name"`
}

// MessageRequest creates a message. ClientMsgID is a client-generated ULID
// the backend uses to deduplicate retried sends.
type MessageRequest struct {
	Chat        int64  `json:"chat"`
	Content     string `json:"content"`
	ClientMsgID string `json:"client_msg_id,omitempty"`
}

// Chats lists the current user's chats.
func (c *Client) Chats(ctx context.Context) ([]Chat, error) {
	var chats []Chat
	err := c.get(ctx, "/api/messaging/chats/", nil, &chats)
	return chats, err
}

// CreateChat creates a chat and returns it.
func (c *Client) CreateChat(ctx context.Context, req ChatRequest) (Chat, error) {
	var chat Chat
	err := c.post(ctx, "/api/messaging/chats/", req, &chat)
	return chat, err
}

// UpdateChat partially updates a chat (today: its name) and returns it.
func (c *Client) UpdateChat(ctx context.Context, id int64, patch ChatPatch) (Chat, error) {
	var chat Chat
	err := c.patch(ctx, fmt.Sprintf("/api/messaging/chats/%d/", id), patch, &chat)
	return chat, err
}

// AddParticipant adds a user to a group chat and returns the updated chat.
func (c *Client) AddParticipant(ctx context.Context, chatID, userID int64) (Chat, error) {
	var chat Chat
	err := c.post(ctx, fmt.Sprintf("/api/messaging/chats/%d/add_participant/", chatID), ChatRequest{UserID: userID}, &chat)
	return chat, err
}

// RemoveParticipant removes a user from a group chat and returns the updated chat.
func (c *Client) RemoveParticipant(ctx context.Context, chatID, userID int64) (Chat, error) {
	var chat Chat
	err := c.post(ctx, fmt.Sprintf("/api/messaging/chats/%d/remove_participant/", chatID), ChatRequest{UserID: userID}, &chat)
	return chat, err
}

// MarkChatRead marks every message of a chat read for the current user.
func (c *Client) MarkChatRead(ctx context.Context, chatID int64) error {
	return c.post(ctx, fmt.Sprintf("/api/messaging/chats/%d/mark_read/", chatID), nil, nil)
}

// Messages lists a chat's messages.
func (c *Client) Messages(ctx context.Context, chatID int64) ([]Message, error) {
	var msgs []Message
	err := c.get(ctx, fmt.Sprintf("/api/messaging/chats/%d/messages/", chatID), nil, &msgs)
	return msgs, err
}

// SendMessage creates a message in a chat and returns it.
func (c *Client) SendMessage(ctx context.Context, req MessageRequest) (Message, error) {
	var msg Message
	err := c.post(ctx, fmt.Sprintf("/api/messaging/chats/%d/messages/", req.Chat), req, &msg)
	return msg, err
}
