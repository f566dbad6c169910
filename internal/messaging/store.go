// Package messaging holds the chat list, the active conversation, and the
// per-chat realtime channel that streams messages in.
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"campus/internal/api"
	"campus/internal/realtime"
)

const eventMessage = "message"

// Store is the messaging state container. At most one chat channel is open at
// a time; switching the active chat tears the old socket down before the new
// one comes up so a late frame for the old chat can never land in the new one.
type Store struct {
	log      *slog.Logger
	api      *api.Client
	channels *realtime.Factory

	mu              sync.Mutex
	chats           []api.Chat // last-activity descending
	activeChatID    int64
	messages        []api.Message // timestamp ascending
	channel         *realtime.Channel
	loadingChats    bool
	loadingMessages bool
	sending         bool
	errChats        string
	errMessages     string
	errSend         string
	errAction       string
}

// New wires the store. Channels are created lazily per active chat.
func New(log *slog.Logger, client *api.Client, channels *realtime.Factory) *Store {
	return &Store{log: log, api: client, channels: channels}
}

// FetchChats loads the chat list, most recent activity first.
func (s *Store) FetchChats(ctx context.Context) error {
	s.mu.Lock()
	if s.loadingChats {
		s.mu.Unlock()
		return nil
	}
	s.loadingChats = true
	s.errChats = ""
	s.mu.Unlock()

	chats, err := s.api.Chats(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadingChats = false
	if err != nil {
		s.errChats = api.Normalize(err)
		return err
	}
	s.chats = chats
	sortByActivityLocked(s.chats)
	return nil
}

// SetActiveChat switches the conversation in view. Passing 0 just clears the
// active chat. The sequence is deliberate: close the old channel, fetch the
// message history, open the new channel, then mark the chat read.
func (s *Store) SetActiveChat(ctx context.Context, chatID int64) error {
	s.mu.Lock()
	if s.activeChatID == chatID {
		s.mu.Unlock()
		return nil
	}
	old := s.channel
	s.channel = nil
	s.activeChatID = chatID
	s.messages = nil
	s.errMessages = ""
	s.errSend = ""
	s.loadingMessages = chatID != 0
	s.mu.Unlock()

	if old != nil {
		old.Close()
	}
	if chatID == 0 {
		return nil
	}

	msgs, err := s.api.Messages(ctx, chatID)

	s.mu.Lock()
	if s.activeChatID != chatID {
		// Superseded by another switch while we were fetching.
		s.mu.Unlock()
		return nil
	}
	s.loadingMessages = false
	if err != nil {
		s.errMessages = api.Normalize(err)
		s.mu.Unlock()
		return err
	}
	s.messages = msgs
	sortOldestFirst(s.messages)
	ch := s.channels.Channel("chat", fmt.Sprintf("chat/%d/", chatID), map[string]realtime.Handler{
		eventMessage: s.handleInbound,
	})
	s.channel = ch
	s.mu.Unlock()

	ch.Open()
	return s.markRead(ctx, chatID)
}

// ActiveChatID returns the id of the chat in view, or 0.
func (s *Store) ActiveChatID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeChatID
}

// SendMessage posts a message to the active chat. Each send carries a fresh
// ULID so a retried request cannot create a duplicate server-side.
func (s *Store) SendMessage(ctx context.Context, content string) error {
	s.mu.Lock()
	chatID := s.activeChatID
	if chatID == 0 || s.sending {
		s.mu.Unlock()
		return nil
	}
	s.sending = true
	s.errSend = ""
	s.mu.Unlock()

	msg, err := s.api.SendMessage(ctx, api.MessageRequest{
		Chat:        chatID,
		Content:     content,
		ClientMsgID: ulid.Make().String(),
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sending = false
	if err != nil {
		s.errSend = api.Normalize(err)
		return err
	}
	if s.activeChatID == chatID {
		s.appendActiveLocked(msg)
	}
	s.bumpChatLocked(msg)
	return nil
}

// CreateChat creates a chat and puts it at the top of the list.
func (s *Store) CreateChat(ctx context.Context, req api.ChatRequest) (api.Chat, error) {
	chat, err := s.api.CreateChat(ctx, req)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.errAction = api.Normalize(err)
		return api.Chat{}, err
	}
	s.errAction = ""
	s.upsertChatLocked(chat)
	return chat, nil
}

// RenameChat renames a group chat.
func (s *Store) RenameChat(ctx context.Context, chatID int64, name string) error {
	chat, err := s.api.UpdateChat(ctx, chatID, api.ChatPatch{Name: name})
	return s.applyChatUpdate(chat, err)
}

// AddParticipant adds a user to a group chat.
func (s *Store) AddParticipant(ctx context.Context, chatID, userID int64) error {
	chat, err := s.api.AddParticipant(ctx, chatID, userID)
	return s.applyChatUpdate(chat, err)
}

// RemoveParticipant removes a user from a group chat.
func (s *Store) RemoveParticipant(ctx context.Context, chatID, userID int64) error {
	chat, err := s.api.RemoveParticipant(ctx, chatID, userID)
	return s.applyChatUpdate(chat, err)
}

// Chats returns a copy of the chat list.
func (s *Store) Chats() []api.Chat {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]api.Chat, len(s.chats))
	copy(out, s.chats)
	return out
}

// Messages returns a copy of the active chat's messages, oldest first.
func (s *Store) Messages() []api.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]api.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// TotalUnread sums the unread counters across chats.
func (s *Store) TotalUnread() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for i := range s.chats {
		n += s.chats[i].UnreadCount
	}
	return n
}

// ChatsError returns the last chat-list error message, or "".
func (s *Store) ChatsError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errChats
}

// SendError returns the last send error message, or "".
func (s *Store) SendError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errSend
}

// Reset drops all state and the active channel; used on logout.
func (s *Store) Reset() {
	s.mu.Lock()
	old := s.channel
	s.channel = nil
	s.chats = nil
	s.activeChatID = 0
	s.messages = nil
	s.errChats = ""
	s.errMessages = ""
	s.errSend = ""
	s.errAction = ""
	s.mu.Unlock()

	if old != nil {
		old.Close()
	}
}

// handleInbound routes one realtime message. If it belongs to the chat in
// view it is appended (dedupe by id) and the chat is marked read; otherwise
// the chat's unread counter is bumped. Either way the last-message summary
// moves the chat up the list.
func (s *Store) handleInbound(payload json.RawMessage) {
	var msg api.Message
	if err := json.Unmarshal(payload, &msg); err != nil || msg.ID == 0 {
		s.log.Warn("messaging.event.malformed", "err", err)
		return
	}

	s.mu.Lock()
	active := s.activeChatID == msg.ChatID
	if active {
		s.appendActiveLocked(msg)
	} else {
		if idx := s.indexOfChatLocked(msg.ChatID); idx >= 0 {
			s.chats[idx].UnreadCount++
		}
	}
	s.bumpChatLocked(msg)
	s.mu.Unlock()

	if active {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := s.markRead(ctx, msg.ChatID); err != nil {
				s.log.Warn("messaging.mark_read.failed", "chat", msg.ChatID, "err", err)
			}
		}()
	}
}

// markRead zeroes the unread counter optimistically and restores it if the
// server call fails.
func (s *Store) markRead(ctx context.Context, chatID int64) error {
	s.mu.Lock()
	idx := s.indexOfChatLocked(chatID)
	previous := 0
	if idx >= 0 {
		previous = s.chats[idx].UnreadCount
		s.chats[idx].UnreadCount = 0
	}
	s.mu.Unlock()

	if err := s.api.MarkChatRead(ctx, chatID); err != nil {
		s.mu.Lock()
		if idx := s.indexOfChatLocked(chatID); idx >= 0 {
			s.chats[idx].UnreadCount = previous
		}
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *Store) applyChatUpdate(chat api.Chat, err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.errAction = api.Normalize(err)
		return err
	}
	s.errAction = ""
	s.upsertChatLocked(chat)
	return nil
}

func (s *Store) appendActiveLocked(msg api.Message) {
	for i := range s.messages {
		if s.messages[i].ID == msg.ID {
			s.messages[i] = msg
			return
		}
	}
	s.messages = append(s.messages, msg)
	sortOldestFirst(s.messages)
}

// bumpChatLocked refreshes a chat's last-message summary and resorts the list.
func (s *Store) bumpChatLocked(msg api.Message) {
	idx := s.indexOfChatLocked(msg.ChatID)
	if idx < 0 {
		return
	}
	last := msg
	s.chats[idx].LastMessage = &last
	sortByActivityLocked(s.chats)
}

func (s *Store) upsertChatLocked(chat api.Chat) {
	if idx := s.indexOfChatLocked(chat.ID); idx >= 0 {
		s.chats[idx] = chat
	} else {
		s.chats = append(s.chats, chat)
	}
	sortByActivityLocked(s.chats)
}

func (s *Store) indexOfChatLocked(chatID int64) int {
	for i := range s.chats {
		if s.chats[i].ID == chatID {
			return i
		}
	}
	return -1
}

// sortByActivityLocked orders chats by last-message time, newest first; chats
// without messages fall back to their creation time.
func sortByActivityLocked(chats []api.Chat) {
	sort.SliceStable(chats, func(i, j int) bool {
		return chatActivity(chats[i]).After(chatActivity(chats[j]))
	})
}

func chatActivity(c api.Chat) time.Time {
	if c.LastMessage != nil {
		return c.LastMessage.Timestamp
	}
	return c.CreatedAt
}

func sortOldestFirst(msgs []api.Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Timestamp.Before(msgs[j].Timestamp)
	})
}
