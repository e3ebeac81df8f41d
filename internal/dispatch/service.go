// ABOUTME: Send pipeline service: resolve thread, dispatch, persist
// ABOUTME: Dedup via TTL cache fast path plus the store's OR-query

package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zalokit/gateway/internal/dedupe"
	"github.com/zalokit/gateway/internal/store"
	"github.com/zalokit/gateway/internal/zalo"
)

// SendRequest is a request to send one message into a conversation.
// ClientID is the caller's correlation identifier; when empty, the
// derived message ID takes its place.
type SendRequest struct {
	ConversationID string
	Content        string
	ClientID       string
}

// SenderSummary is the display projection of the sending user
type SenderSummary struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Avatar *string `json:"avatar,omitempty"`
}

// Result is the outcome of a successful (or idempotently replayed) send
type Result struct {
	MessageID        string
	ClientID         string
	ConversationID   string
	Content          string
	ThreadID         string
	SentAt           time.Time
	AlreadyProcessed bool
	Sender           SenderSummary
}

// Service runs the send pipeline against a store, a platform client and
// the dedupe cache.
type Service struct {
	store   store.Store
	client  zalo.Client
	cache   *dedupe.Cache
	timeout time.Duration
	logger  *slog.Logger
}

// NewService creates a dispatch service. timeout bounds each platform
// dispatch; zero means no bound beyond the caller's context.
func NewService(st store.Store, client zalo.Client, cache *dedupe.Cache, timeout time.Duration, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:   st,
		client:  client,
		cache:   cache,
		timeout: timeout,
		logger:  logger.With("component", "dispatch"),
	}
}

// ResolveThread maps a conversation to its platform thread address.
// A conversation carrying both identifiers addresses the group.
func (s *Service) ResolveThread(ctx context.Context, conversationID string) (string, zalo.ThreadType, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", 0, fmt.Errorf("%w: %s", ErrConversationNotFound, conversationID)
		}
		return "", 0, fmt.Errorf("loading conversation %s: %w", conversationID, err)
	}

	if conv.GroupID != nil && *conv.GroupID != "" {
		return *conv.GroupID, zalo.ThreadGroup, nil
	}
	if conv.ParticipantID != nil && *conv.ParticipantID != "" {
		return *conv.ParticipantID, zalo.ThreadUser, nil
	}
	return "", 0, fmt.Errorf("%w: %s", ErrUnresolvableThread, conversationID)
}

// Send runs the full pipeline for one message
func (s *Service) Send(ctx context.Context, req SendRequest) (*Result, error) {
	if strings.TrimSpace(req.ConversationID) == "" {
		return nil, fmt.Errorf("%w: conversationId is required", ErrValidation)
	}
	if strings.TrimSpace(req.Content) == "" {
		return nil, fmt.Errorf("%w: message content is required", ErrValidation)
	}

	status := s.client.GetStatus()
	if status.State != zalo.StateLoggedIn {
		return nil, fmt.Errorf("%w: status is %s", ErrNotConnected, status.State)
	}

	threadID, threadType, err := s.ResolveThread(ctx, req.ConversationID)
	if err != nil {
		return nil, err
	}

	res, err := s.dispatch(ctx, req.Content, threadID, threadType)
	if err != nil {
		var apiErr *zalo.APIError
		if errors.As(err, &apiErr) {
			if apiErr.Code == zalo.CodeInvalidRecipient {
				return nil, fmt.Errorf("%w: %s", ErrInvalidRecipient, apiErr.Message)
			}
			return nil, &DispatchError{Code: apiErr.Code, ThreadID: threadID, Err: err}
		}
		return nil, &DispatchError{ThreadID: threadID, Err: err}
	}

	messageID := res.MessageID
	if messageID == "" {
		messageID = synthesizeMessageID()
	}
	clientID := req.ClientID
	if clientID == "" {
		clientID = messageID
	}

	if s.cache.SeenSend(messageID, clientID) {
		if existing, lookupErr := s.store.GetMessageByAnyID(ctx, messageID, clientID); lookupErr == nil {
			s.logger.Info("duplicate send replayed", "message_id", existing.ID, "client_id", existing.ClientID)
			return s.replay(ctx, existing), nil
		}
		// Cache remembers a send whose row never landed; fall through to
		// the authoritative path.
	}

	existing, err := s.store.GetMessageByAnyID(ctx, messageID, clientID)
	switch {
	case err == nil:
		s.cache.MarkSend(existing.ID, existing.ClientID)
		s.logger.Info("duplicate send replayed", "message_id", existing.ID, "client_id", existing.ClientID)
		return s.replay(ctx, existing), nil
	case !errors.Is(err, store.ErrNotFound):
		return nil, &PersistenceError{MessageID: messageID, Err: err}
	}

	now := time.Now().UTC()
	msg := &store.Message{
		ID:             messageID,
		ClientID:       clientID,
		ConversationID: req.ConversationID,
		SenderID:       status.UserID,
		Content:        req.Content,
		RawData:        res.Raw,
		SentAt:         now,
		ReceivedAt:     now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.InsertMessage(ctx, msg); err != nil {
		return nil, &PersistenceError{MessageID: messageID, Err: err}
	}
	if err := s.store.SetLastMessage(ctx, req.ConversationID, messageID, now); err != nil {
		return nil, &PersistenceError{MessageID: messageID, Err: err}
	}
	s.cache.MarkSend(messageID, clientID)
	s.refreshSender(ctx, status.UserID)

	s.logger.Info("message sent",
		"message_id", messageID,
		"conversation_id", req.ConversationID,
		"thread_type", threadType.String())

	return &Result{
		MessageID:      messageID,
		ClientID:       clientID,
		ConversationID: req.ConversationID,
		Content:        req.Content,
		ThreadID:       threadID,
		SentAt:         now,
		Sender:         s.senderSummary(ctx, status.UserID),
	}, nil
}

// dispatch sends the payload to the platform under the configured timeout
func (s *Service) dispatch(ctx context.Context, content, threadID string, threadType zalo.ThreadType) (*zalo.SendResult, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	return s.client.SendMessage(ctx, zalo.MessagePayload{Msg: content}, threadID, threadType)
}

// replay projects an existing row as an idempotent send result
func (s *Service) replay(ctx context.Context, msg *store.Message) *Result {
	return &Result{
		MessageID:        msg.ID,
		ClientID:         msg.ClientID,
		ConversationID:   msg.ConversationID,
		Content:          msg.Content,
		SentAt:           msg.SentAt,
		AlreadyProcessed: true,
		Sender:           s.senderSummary(ctx, msg.SenderID),
	}
}

// refreshSender makes sure a row exists for the sending user. Display
// metadata only, so failure is logged rather than failing the send.
func (s *Service) refreshSender(ctx context.Context, userID string) {
	if userID == "" {
		return
	}
	if _, err := s.store.GetUser(ctx, userID); err == nil {
		return
	} else if !errors.Is(err, store.ErrNotFound) {
		s.logger.Warn("sender lookup failed", "user_id", userID, "error", err)
		return
	}
	if err := s.store.UpsertUser(ctx, &store.User{ID: userID}); err != nil {
		s.logger.Warn("sender row refresh failed", "user_id", userID, "error", err)
	}
}

func (s *Service) senderSummary(ctx context.Context, userID string) SenderSummary {
	summary := SenderSummary{ID: userID, Name: userID}
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return summary
	}
	if user.DisplayName != "" {
		summary.Name = user.DisplayName
	} else if user.ZaloName != "" {
		summary.Name = user.ZaloName
	}
	summary.Avatar = user.AvatarURL
	return summary
}

// synthesizeMessageID builds a locally unique message identifier for
// platforms that do not echo one back.
func synthesizeMessageID() string {
	return fmt.Sprintf("msg_%d_%s", time.Now().UnixMilli(), uuid.New().String()[:8])
}
