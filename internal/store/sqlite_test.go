package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestStore creates a temporary SQLite store for testing.
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)

	t.Cleanup(func() {
		store.Close()
	})

	return store
}

func strPtr(s string) *string { return &s }

func testMessage(id, clientID, conversationID string, at time.Time) *Message {
	return &Message{
		ID:             id,
		ClientID:       clientID,
		ConversationID: conversationID,
		SenderID:       "user-1",
		Content:        "hello",
		SentAt:         at,
		ReceivedAt:     at,
		CreatedAt:      at,
		UpdatedAt:      at,
	}
}

func TestStore_GetConversation(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	conv := &Conversation{
		ID:            "c1",
		Type:          ConversationTypeDirect,
		ParticipantID: strPtr("user-2"),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	require.NoError(t, store.CreateConversation(ctx, conv))

	retrieved, err := store.GetConversation(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "c1", retrieved.ID)
	assert.Equal(t, ConversationTypeDirect, retrieved.Type)
	require.NotNil(t, retrieved.ParticipantID)
	assert.Equal(t, "user-2", *retrieved.ParticipantID)
	assert.Nil(t, retrieved.GroupID)
	assert.Nil(t, retrieved.LastMessageID)
}

func TestStore_GetConversation_NotFound(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	_, err := store.GetConversation(ctx, "nonexistent")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_SetLastMessage(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	conv := &Conversation{
		ID:            "c1",
		Type:          ConversationTypeDirect,
		ParticipantID: strPtr("user-2"),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	require.NoError(t, store.CreateConversation(ctx, conv))

	require.NoError(t, store.SetLastMessage(ctx, "c1", "msg-1", now))

	retrieved, err := store.GetConversation(ctx, "c1")
	require.NoError(t, err)
	require.NotNil(t, retrieved.LastMessageID)
	assert.Equal(t, "msg-1", *retrieved.LastMessageID)
	require.NotNil(t, retrieved.LastMessageTime)
	assert.Equal(t, now, retrieved.LastMessageTime.UTC())
}

func TestStore_SetLastMessage_NotFound(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	err := store.SetLastMessage(ctx, "nonexistent", "msg-1", time.Now())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_InsertMessage_MergesOnConflict(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	msg := testMessage("msg-1", "msg-1", "c1", now)
	require.NoError(t, store.InsertMessage(ctx, msg))

	// Same primary ID with a new client ID merges instead of failing
	retry := testMessage("msg-1", "client-abc", "c1", now.Add(time.Second))
	require.NoError(t, store.InsertMessage(ctx, retry))

	found, err := store.GetMessageByAnyID(ctx, "msg-1", "")
	require.NoError(t, err)
	assert.Equal(t, "client-abc", found.ClientID)
	assert.Equal(t, "hello", found.Content)

	// Still a single row
	messages, err := store.ListMessages(ctx, "c1", 0)
	require.NoError(t, err)
	assert.Len(t, messages, 1)
}

func TestStore_GetMessageByAnyID(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	msg := testMessage("msg-1", "client-1", "c1", now)
	require.NoError(t, store.InsertMessage(ctx, msg))

	// Match by primary identifier
	found, err := store.GetMessageByAnyID(ctx, "msg-1", "other")
	require.NoError(t, err)
	assert.Equal(t, "msg-1", found.ID)

	// Match by client correlation identifier
	found, err = store.GetMessageByAnyID(ctx, "other", "client-1")
	require.NoError(t, err)
	assert.Equal(t, "msg-1", found.ID)

	// No match
	_, err = store.GetMessageByAnyID(ctx, "nope", "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_ListMessages_Order(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Second)
	for i, content := range []string{"first", "second", "third"} {
		msg := testMessage(fmt.Sprintf("msg-%d", i), fmt.Sprintf("msg-%d", i), "c1", base.Add(time.Duration(i)*time.Second))
		msg.Content = content
		require.NoError(t, store.InsertMessage(ctx, msg))
	}

	messages, err := store.ListMessages(ctx, "c1", 0)
	require.NoError(t, err)
	require.Len(t, messages, 3)

	assert.Equal(t, "first", messages[0].Content)
	assert.Equal(t, "second", messages[1].Content)
	assert.Equal(t, "third", messages[2].Content)
}

func TestStore_ListMessages_RawData(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	msg := testMessage("msg-1", "msg-1", "c1", now)
	msg.RawData = []byte(`{"message":{"attachments":[]}}`)
	require.NoError(t, store.InsertMessage(ctx, msg))

	messages, err := store.ListMessages(ctx, "c1", 0)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.JSONEq(t, `{"message":{"attachments":[]}}`, string(messages[0].RawData))
}

func TestStore_ListConversationRows(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, store.UpsertUser(ctx, &User{ID: "user-2", DisplayName: "Anh Tuan", ZaloName: "tuan.a"}))
	require.NoError(t, store.UpsertGroup(ctx, &Group{ID: "g1", Name: "Team", AvatarURL: strPtr("https://ava-grp-talk.zadn.vn/g1.jpg")}))

	direct := &Conversation{
		ID:            "c1",
		Type:          ConversationTypeDirect,
		ParticipantID: strPtr("user-2"),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	group := &Conversation{
		ID:        "c2",
		Type:      ConversationTypeGroup,
		GroupID:   strPtr("g1"),
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, store.CreateConversation(ctx, direct))
	require.NoError(t, store.CreateConversation(ctx, group))

	msg := testMessage("msg-1", "msg-1", "c1", now)
	msg.Content = "see you"
	require.NoError(t, store.InsertMessage(ctx, msg))
	require.NoError(t, store.SetLastMessage(ctx, "c1", "msg-1", now))
	require.NoError(t, store.SetLastMessage(ctx, "c2", "msg-x", now.Add(time.Second)))

	rows, err := store.ListConversationRows(ctx, 0)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	// Ordered by last_message_time descending
	assert.Equal(t, "c2", rows[0].ID)
	require.NotNil(t, rows[0].GroupName)
	assert.Equal(t, "Team", *rows[0].GroupName)
	// c2's last_message_id points at a message that was never mirrored
	assert.Nil(t, rows[0].LastMessage)

	assert.Equal(t, "c1", rows[1].ID)
	require.NotNil(t, rows[1].UserDisplayName)
	assert.Equal(t, "Anh Tuan", *rows[1].UserDisplayName)
	require.NotNil(t, rows[1].LastMessage)
	assert.Equal(t, "see you", *rows[1].LastMessage)
}

func TestStore_GetUsersByIDs(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertUser(ctx, &User{ID: "u1", DisplayName: "One"}))
	require.NoError(t, store.UpsertUser(ctx, &User{ID: "u2", ZaloName: "two"}))

	users, err := store.GetUsersByIDs(ctx, []string{"u1", "u2", "u3"})
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "One", users["u1"].DisplayName)
	assert.Equal(t, "two", users["u2"].ZaloName)
	assert.NotContains(t, users, "u3")
}

func TestStore_GetUsersByIDs_Empty(t *testing.T) {
	store := setupTestStore(t)

	users, err := store.GetUsersByIDs(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, users)
}

func TestStore_UpsertUser_Update(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertUser(ctx, &User{ID: "u1", DisplayName: "Before"}))
	require.NoError(t, store.UpsertUser(ctx, &User{ID: "u1", DisplayName: "After", AvatarURL: strPtr("https://avatar-talk.zadn.vn/u1.jpg")}))

	user, err := store.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "After", user.DisplayName)
	require.NotNil(t, user.AvatarURL)
	assert.Equal(t, "https://avatar-talk.zadn.vn/u1.jpg", *user.AvatarURL)
}

func TestStore_Sessions(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	_, err := store.GetSession(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, store.SaveSession(ctx, &Session{UserID: "u1", LoginTime: now, IsActive: true}))

	session, err := store.GetSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, "u1", session.UserID)
	assert.True(t, session.IsActive)
	assert.Equal(t, now, session.LoginTime.UTC())

	require.NoError(t, store.DeleteSession(ctx))
	_, err = store.GetSession(ctx)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_InMemory(t *testing.T) {
	store, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer store.Close()

	_, err = store.GetConversation(context.Background(), "c1")
	assert.ErrorIs(t, err, ErrNotFound)
}
