// ABOUTME: Read-model projections for the conversation list and message history
// ABOUTME: Applies display-name and avatar fallback chains over store rows

package view

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/zalokit/gateway/internal/store"
)

// Fallback display names for rows missing user metadata
const (
	unknownUser   = "Unknown User"
	unknownSender = "Unknown Sender"
)

// ConversationView is one entry of the conversation list. UnreadCount and
// Online are fixed placeholders until read receipts and presence are
// mirrored.
type ConversationView struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Avatar      string     `json:"avatar"`
	LastMessage string     `json:"lastMessage"`
	Timestamp   *time.Time `json:"timestamp"`
	UnreadCount int        `json:"unreadCount"`
	Online      bool       `json:"online"`
}

// MessageView is one entry of a conversation's message history
type MessageView struct {
	ID           string       `json:"id"`
	SenderID     string       `json:"senderId"`
	SenderName   string       `json:"senderName"`
	SenderAvatar string       `json:"senderAvatar"`
	Content      string       `json:"content"`
	Timestamp    time.Time    `json:"timestamp"`
	IsEdited     bool         `json:"isEdited"`
	Attachments  []Attachment `json:"attachments"`
}

// Service builds display projections from store rows
type Service struct {
	store  store.Store
	logger *slog.Logger
}

// NewService creates a view service
func NewService(st store.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  st,
		logger: logger.With("component", "view"),
	}
}

// Conversations returns the conversation list ordered by most recent
// activity.
func (s *Service) Conversations(ctx context.Context, limit int) ([]ConversationView, error) {
	rows, err := s.store.ListConversationRows(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}

	views := make([]ConversationView, 0, len(rows))
	for _, row := range rows {
		name, known := conversationName(row)
		view := ConversationView{
			ID:        row.ID,
			Name:      name,
			Avatar:    pickAvatar(row, name, known),
			Timestamp: row.LastMessageTime,
			Online:    true,
		}
		if row.LastMessage != nil {
			view.LastMessage = *row.LastMessage
		}
		views = append(views, view)
	}
	return views, nil
}

// Messages returns a conversation's history in ascending send order,
// with sender display fields and recovered attachments.
func (s *Service) Messages(ctx context.Context, conversationID string, limit int) ([]MessageView, error) {
	msgs, err := s.store.ListMessages(ctx, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing messages for %s: %w", conversationID, err)
	}

	senderIDs := make([]string, 0, len(msgs))
	seen := make(map[string]bool)
	for _, msg := range msgs {
		if msg.SenderID != "" && !seen[msg.SenderID] {
			seen[msg.SenderID] = true
			senderIDs = append(senderIDs, msg.SenderID)
		}
	}
	senders, err := s.store.GetUsersByIDs(ctx, senderIDs)
	if err != nil {
		return nil, fmt.Errorf("loading senders: %w", err)
	}

	views := make([]MessageView, 0, len(msgs))
	for _, msg := range msgs {
		name, avatar := senderDisplay(senders[msg.SenderID], msg.SenderID)
		view := MessageView{
			ID:           msg.ID,
			SenderID:     msg.SenderID,
			SenderName:   name,
			SenderAvatar: avatar,
			Content:      msg.Content,
			Timestamp:    msg.SentAt,
			IsEdited:     msg.IsEdited,
			// Always serialized, as "attachments": [] when none.
			Attachments: []Attachment{},
		}
		if needsRecovery(msg.Content) {
			if recovered := decodeAttachments(msg.RawData); recovered != nil {
				view.Attachments = recovered
			}
			if view.Content == "" {
				view.Content = placeholderFor(view.Attachments)
			}
		}
		views = append(views, view)
	}
	return views, nil
}

// conversationName resolves the display name for a conversation row and
// reports whether a real name (not the unknown fallback) was found.
func conversationName(row *store.ConversationRow) (string, bool) {
	if row.Type == store.ConversationTypeGroup {
		if row.GroupName != nil && *row.GroupName != "" {
			return *row.GroupName, true
		}
		return "Group " + row.ID, true
	}

	if row.UserDisplayName != nil && *row.UserDisplayName != "" {
		return *row.UserDisplayName, true
	}
	if row.UserZaloName != nil && *row.UserZaloName != "" {
		return *row.UserZaloName, true
	}
	if row.ParticipantID != nil && *row.ParticipantID != "" {
		return *row.ParticipantID, true
	}
	return unknownUser, false
}

// pickAvatar prefers the stored avatar and falls back to a generated
// placeholder keyed on the name's first letter.
func pickAvatar(row *store.ConversationRow, name string, known bool) string {
	var stored *string
	if row.Type == store.ConversationTypeGroup {
		stored = row.GroupAvatar
	} else {
		stored = row.UserAvatar
	}
	if stored != nil && *stored != "" {
		return *stored
	}
	if !known {
		return placeholderAvatar("")
	}
	return placeholderAvatar(name)
}

// senderDisplay resolves the name and avatar for a message sender
func senderDisplay(user *store.User, senderID string) (string, string) {
	if user == nil {
		name := senderID
		if name == "" {
			name = unknownSender
			return name, placeholderAvatar("")
		}
		return name, placeholderAvatar(name)
	}

	name := user.DisplayName
	if name == "" {
		name = user.ZaloName
	}
	if name == "" {
		name = senderID
	}
	if name == "" {
		name = unknownSender
	}

	if user.AvatarURL != nil && *user.AvatarURL != "" {
		return name, *user.AvatarURL
	}
	if name == unknownSender {
		return name, placeholderAvatar("")
	}
	return name, placeholderAvatar(name)
}

// placeholderAvatar builds a ui-avatars.com URL keyed on the first
// letter of name, or "?" when no name is known.
func placeholderAvatar(name string) string {
	key := "?"
	if name != "" {
		r, _ := utf8.DecodeRuneInString(name)
		key = strings.ToUpper(string(r))
	}
	return "https://ui-avatars.com/api/?name=" + url.QueryEscape(key)
}
