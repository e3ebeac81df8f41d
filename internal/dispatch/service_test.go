package dispatch

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zalokit/gateway/internal/dedupe"
	"github.com/zalokit/gateway/internal/store"
	"github.com/zalokit/gateway/internal/zalo"
)

func setupService(t *testing.T) (*Service, *store.SQLiteStore, *zalo.StubClient) {
	t.Helper()

	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cache := dedupe.New(time.Minute, 100)
	t.Cleanup(cache.Close)

	client := zalo.NewStubClient(nil)
	client.SetStatus(zalo.Status{State: zalo.StateLoggedIn, UserID: "me", Listening: true})

	return NewService(st, client, cache, time.Second, nil), st, client
}

func createDirectConversation(t *testing.T, st *store.SQLiteStore, id, participantID string) {
	t.Helper()
	require.NoError(t, st.CreateConversation(context.Background(), &store.Conversation{
		ID:            id,
		Type:          store.ConversationTypeDirect,
		ParticipantID: &participantID,
	}))
}

func TestSend_Validation(t *testing.T) {
	svc, _, _ := setupService(t)

	_, err := svc.Send(context.Background(), SendRequest{Content: "hi"})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.Send(context.Background(), SendRequest{ConversationID: "c1", Content: "  "})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestSend_NotConnected(t *testing.T) {
	svc, st, client := setupService(t)
	createDirectConversation(t, st, "c1", "u2")
	client.SetStatus(zalo.Status{State: zalo.StateLoggedOut})

	_, err := svc.Send(context.Background(), SendRequest{ConversationID: "c1", Content: "hi"})
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestSend_ConversationNotFound(t *testing.T) {
	svc, _, _ := setupService(t)

	_, err := svc.Send(context.Background(), SendRequest{ConversationID: "missing", Content: "hi"})
	assert.ErrorIs(t, err, ErrConversationNotFound)
}

func TestResolveThread_GroupWins(t *testing.T) {
	svc, st, _ := setupService(t)

	participant := "u2"
	group := "g1"
	require.NoError(t, st.CreateConversation(context.Background(), &store.Conversation{
		ID:            "c1",
		Type:          store.ConversationTypeGroup,
		ParticipantID: &participant,
		GroupID:       &group,
	}))

	threadID, threadType, err := svc.ResolveThread(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, "g1", threadID)
	assert.Equal(t, zalo.ThreadGroup, threadType)
}

func TestResolveThread_Unresolvable(t *testing.T) {
	svc, st, _ := setupService(t)

	require.NoError(t, st.CreateConversation(context.Background(), &store.Conversation{
		ID:   "c1",
		Type: store.ConversationTypeDirect,
	}))

	_, _, err := svc.ResolveThread(context.Background(), "c1")
	assert.ErrorIs(t, err, ErrUnresolvableThread)
}

func TestSend_PersistsMessageAndAdvancesPointer(t *testing.T) {
	svc, st, _ := setupService(t)
	createDirectConversation(t, st, "c1", "u2")

	result, err := svc.Send(context.Background(), SendRequest{
		ConversationID: "c1",
		Content:        "hello",
		ClientID:       "client-1",
	})
	require.NoError(t, err)
	assert.False(t, result.AlreadyProcessed)
	assert.Equal(t, "client-1", result.ClientID)
	assert.Equal(t, "u2", result.ThreadID)
	assert.Equal(t, "me", result.Sender.ID)

	msg, err := st.GetMessageByAnyID(context.Background(), result.MessageID, "")
	require.NoError(t, err)
	assert.Equal(t, "hello", msg.Content)
	assert.Equal(t, "me", msg.SenderID)
	assert.NotEmpty(t, msg.RawData)

	conv, err := st.GetConversation(context.Background(), "c1")
	require.NoError(t, err)
	require.NotNil(t, conv.LastMessageID)
	assert.Equal(t, result.MessageID, *conv.LastMessageID)
}

func TestSend_IdempotentReplay(t *testing.T) {
	svc, st, _ := setupService(t)
	createDirectConversation(t, st, "c1", "u2")

	first, err := svc.Send(context.Background(), SendRequest{
		ConversationID: "c1",
		Content:        "hello",
		ClientID:       "client-1",
	})
	require.NoError(t, err)

	// A retry reuses the client ID even though the platform assigns a
	// fresh message ID.
	second, err := svc.Send(context.Background(), SendRequest{
		ConversationID: "c1",
		Content:        "hello",
		ClientID:       "client-1",
	})
	require.NoError(t, err)
	assert.True(t, second.AlreadyProcessed)
	assert.Equal(t, first.MessageID, second.MessageID)

	msgs, err := st.ListMessages(context.Background(), "c1", 10)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestSend_InvalidRecipient(t *testing.T) {
	svc, st, client := setupService(t)
	createDirectConversation(t, st, "c1", "u2")

	client.SendFunc = func(ctx context.Context, payload zalo.MessagePayload, threadID string, threadType zalo.ThreadType) (*zalo.SendResult, error) {
		return nil, &zalo.APIError{Code: zalo.CodeInvalidRecipient, Message: "recipient blocked sender"}
	}

	_, err := svc.Send(context.Background(), SendRequest{ConversationID: "c1", Content: "hi"})
	assert.ErrorIs(t, err, ErrInvalidRecipient)
}

func TestSend_DispatchError(t *testing.T) {
	svc, st, client := setupService(t)
	createDirectConversation(t, st, "c1", "u2")

	client.SendFunc = func(ctx context.Context, payload zalo.MessagePayload, threadID string, threadType zalo.ThreadType) (*zalo.SendResult, error) {
		return nil, errors.New("connection reset")
	}

	_, err := svc.Send(context.Background(), SendRequest{ConversationID: "c1", Content: "hi"})

	var dispatchErr *DispatchError
	require.ErrorAs(t, err, &dispatchErr)
	assert.Equal(t, "u2", dispatchErr.ThreadID)

	// Nothing dispatched, nothing persisted.
	msgs, listErr := st.ListMessages(context.Background(), "c1", 10)
	require.NoError(t, listErr)
	assert.Empty(t, msgs)
}

func TestSend_SynthesizesMessageID(t *testing.T) {
	svc, st, client := setupService(t)
	createDirectConversation(t, st, "c1", "u2")

	client.SendFunc = func(ctx context.Context, payload zalo.MessagePayload, threadID string, threadType zalo.ThreadType) (*zalo.SendResult, error) {
		return &zalo.SendResult{}, nil
	}

	result, err := svc.Send(context.Background(), SendRequest{ConversationID: "c1", Content: "hi"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(result.MessageID, "msg_"))
	// Without a caller correlation ID the message ID doubles as one.
	assert.Equal(t, result.MessageID, result.ClientID)
}

// failingStore wraps a real store and fails InsertMessage, modeling a
// store outage that begins after the platform accepted the message.
type failingStore struct {
	store.Store
}

func (f *failingStore) InsertMessage(ctx context.Context, msg *store.Message) error {
	return errors.New("disk full")
}

func TestSend_PersistenceFailureAfterDispatch(t *testing.T) {
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	createDirectConversation(t, st, "c1", "u2")

	cache := dedupe.New(time.Minute, 100)
	t.Cleanup(cache.Close)

	client := zalo.NewStubClient(nil)
	client.SetStatus(zalo.Status{State: zalo.StateLoggedIn, UserID: "me"})

	svc := NewService(&failingStore{Store: st}, client, cache, time.Second, nil)

	_, err = svc.Send(context.Background(), SendRequest{ConversationID: "c1", Content: "hi"})

	var persistErr *PersistenceError
	require.ErrorAs(t, err, &persistErr)
	assert.NotEmpty(t, persistErr.MessageID)
}
