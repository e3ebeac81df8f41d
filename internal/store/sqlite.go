// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides conversation/message/user persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS conversations (
			id                TEXT PRIMARY KEY,
			type              TEXT NOT NULL,
			participant_id    TEXT,
			group_id          TEXT,
			last_message_id   TEXT,
			last_message_time TEXT,
			created_at        TEXT NOT NULL,
			updated_at        TEXT NOT NULL,

			CHECK (type IN ('direct', 'group'))
		);

		CREATE INDEX IF NOT EXISTS idx_conversations_last_message_time
			ON conversations(last_message_time DESC);

		CREATE TABLE IF NOT EXISTS messages (
			id              TEXT PRIMARY KEY,
			client_id       TEXT NOT NULL,
			conversation_id TEXT NOT NULL,
			sender_id       TEXT NOT NULL,
			content         TEXT NOT NULL,
			raw_data        TEXT,
			sent_at         TEXT NOT NULL,
			received_at     TEXT NOT NULL,
			is_edited       INTEGER NOT NULL DEFAULT 0,
			is_undone       INTEGER NOT NULL DEFAULT 0,
			created_at      TEXT NOT NULL,
			updated_at      TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_messages_client_id
			ON messages(client_id);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation_sent
			ON messages(conversation_id, sent_at);

		CREATE TABLE IF NOT EXISTS users (
			id           TEXT PRIMARY KEY,
			display_name TEXT NOT NULL DEFAULT '',
			zalo_name    TEXT NOT NULL DEFAULT '',
			avatar_url   TEXT
		);

		CREATE TABLE IF NOT EXISTS groups (
			id         TEXT PRIMARY KEY,
			name       TEXT NOT NULL DEFAULT '',
			avatar_url TEXT
		);

		CREATE TABLE IF NOT EXISTS sessions (
			user_id    TEXT PRIMARY KEY,
			login_time TEXT NOT NULL,
			is_active  INTEGER NOT NULL DEFAULT 1
		);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// GetConversation retrieves a conversation by ID.
// Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	query := `
		SELECT id, type, participant_id, group_id, last_message_id, last_message_time, created_at, updated_at
		FROM conversations
		WHERE id = ?
	`

	var conv Conversation
	var participantID, groupID, lastMessageID, lastMessageTime sql.NullString
	var createdAtStr, updatedAtStr string

	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&conv.ID,
		&conv.Type,
		&participantID,
		&groupID,
		&lastMessageID,
		&lastMessageTime,
		&createdAtStr,
		&updatedAtStr,
	)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}

	if participantID.Valid {
		conv.ParticipantID = &participantID.String
	}
	if groupID.Valid {
		conv.GroupID = &groupID.String
	}
	if lastMessageID.Valid {
		conv.LastMessageID = &lastMessageID.String
	}
	if lastMessageTime.Valid {
		t, err := time.Parse(time.RFC3339, lastMessageTime.String)
		if err != nil {
			return nil, fmt.Errorf("parsing last_message_time: %w", err)
		}
		conv.LastMessageTime = &t
	}

	conv.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	conv.UpdatedAt, err = time.Parse(time.RFC3339, updatedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	return &conv, nil
}

// CreateConversation inserts a conversation row. Conversation rows are
// normally created by external synchronization; this exists for that
// collaborator and for test setup.
func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	query := `
		INSERT INTO conversations (id, type, participant_id, group_id, last_message_id, last_message_time, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		conv.ID,
		conv.Type,
		nullableString(conv.ParticipantID),
		nullableString(conv.GroupID),
		nullableString(conv.LastMessageID),
		nullableTime(conv.LastMessageTime),
		conv.CreatedAt.UTC().Format(time.RFC3339),
		conv.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting conversation: %w", err)
	}

	s.logger.Debug("created conversation", "id", conv.ID, "type", conv.Type)
	return nil
}

// SetLastMessage advances the conversation's last-message pointer.
// Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) SetLastMessage(ctx context.Context, conversationID, messageID string, at time.Time) error {
	query := `
		UPDATE conversations
		SET last_message_id = ?, last_message_time = ?, updated_at = ?
		WHERE id = ?
	`

	ts := at.UTC().Format(time.RFC3339)
	result, err := s.db.ExecContext(ctx, query, messageID, ts, ts, conversationID)
	if err != nil {
		return fmt.Errorf("updating last message: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("advanced last message", "conversation_id", conversationID, "message_id", messageID)
	return nil
}

// ListConversationRows returns joined conversation rows ordered by
// last_message_time descending. If limit is 0 or negative, a default
// limit of 100 is used; the cap is 100.
func (s *SQLiteStore) ListConversationRows(ctx context.Context, limit int) ([]*ConversationRow, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	query := `
		SELECT c.id, c.type, c.participant_id, c.last_message_time,
		       g.name, g.avatar_url,
		       u.display_name, u.zalo_name, u.avatar_url,
		       m.content
		FROM conversations c
		LEFT JOIN groups g ON c.group_id = g.id
		LEFT JOIN users u ON c.participant_id = u.id
		LEFT JOIN messages m ON c.last_message_id = m.id
		ORDER BY c.last_message_time DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	var result []*ConversationRow
	for rows.Next() {
		var row ConversationRow
		var participantID, lastMessageTime sql.NullString
		var groupName, groupAvatar sql.NullString
		var userDisplayName, userZaloName, userAvatar sql.NullString
		var lastMessage sql.NullString

		if err := rows.Scan(
			&row.ID,
			&row.Type,
			&participantID,
			&lastMessageTime,
			&groupName,
			&groupAvatar,
			&userDisplayName,
			&userZaloName,
			&userAvatar,
			&lastMessage,
		); err != nil {
			return nil, fmt.Errorf("scanning conversation row: %w", err)
		}

		if participantID.Valid {
			row.ParticipantID = &participantID.String
		}
		if lastMessageTime.Valid {
			t, err := time.Parse(time.RFC3339, lastMessageTime.String)
			if err != nil {
				return nil, fmt.Errorf("parsing last_message_time: %w", err)
			}
			row.LastMessageTime = &t
		}
		if groupName.Valid {
			row.GroupName = &groupName.String
		}
		if groupAvatar.Valid {
			row.GroupAvatar = &groupAvatar.String
		}
		if userDisplayName.Valid {
			row.UserDisplayName = &userDisplayName.String
		}
		if userZaloName.Valid {
			row.UserZaloName = &userZaloName.String
		}
		if userAvatar.Valid {
			row.UserAvatar = &userAvatar.String
		}
		if lastMessage.Valid {
			row.LastMessage = &lastMessage.String
		}

		result = append(result, &row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating conversation rows: %w", err)
	}

	return result, nil
}

// GetMessageByAnyID returns the first message whose primary identifier
// equals messageID OR whose client correlation identifier equals clientID.
// This is the dedup query that makes retried sends idempotent.
// Returns ErrNotFound if no such message exists.
func (s *SQLiteStore) GetMessageByAnyID(ctx context.Context, messageID, clientID string) (*Message, error) {
	query := `
		SELECT id, client_id, conversation_id, sender_id, content, raw_data,
		       sent_at, received_at, is_edited, is_undone, created_at, updated_at
		FROM messages
		WHERE id = ? OR client_id = ?
		LIMIT 1
	`

	row := s.db.QueryRowContext(ctx, query, messageID, clientID)
	msg, err := scanMessage(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying message by id: %w", err)
	}
	return msg, nil
}

// InsertMessage inserts a message row. On a primary-key conflict (a race
// with a concurrent identical insert) it merges by updating client_id and
// updated_at rather than failing.
func (s *SQLiteStore) InsertMessage(ctx context.Context, msg *Message) error {
	query := `
		INSERT INTO messages (id, client_id, conversation_id, sender_id, content, raw_data,
		                      sent_at, received_at, is_edited, is_undone, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			client_id = excluded.client_id,
			updated_at = excluded.updated_at
	`

	var rawData any
	if len(msg.RawData) > 0 {
		rawData = string(msg.RawData)
	}

	_, err := s.db.ExecContext(ctx, query,
		msg.ID,
		msg.ClientID,
		msg.ConversationID,
		msg.SenderID,
		msg.Content,
		rawData,
		msg.SentAt.UTC().Format(time.RFC3339),
		msg.ReceivedAt.UTC().Format(time.RFC3339),
		boolToInt(msg.IsEdited),
		boolToInt(msg.IsUndone),
		msg.CreatedAt.UTC().Format(time.RFC3339),
		msg.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}

	s.logger.Debug("saved message", "id", msg.ID, "conversation_id", msg.ConversationID)
	return nil
}

// ListMessages retrieves messages for a conversation in chronological
// order (oldest first). If limit is 0 or negative, a default limit of
// 200 is used; the cap is 200.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error) {
	if limit <= 0 || limit > 200 {
		limit = 200
	}

	query := `
		SELECT id, client_id, conversation_id, sender_id, content, raw_data,
		       sent_at, received_at, is_edited, is_undone, created_at, updated_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY sent_at ASC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		msg, err := scanMessage(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}
		messages = append(messages, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message rows: %w", err)
	}

	return messages, nil
}

// scanMessage scans a message row using the given scan function.
func scanMessage(scan func(dest ...any) error) (*Message, error) {
	var msg Message
	var rawData sql.NullString
	var sentAtStr, receivedAtStr, createdAtStr, updatedAtStr string
	var isEdited, isUndone int

	err := scan(
		&msg.ID,
		&msg.ClientID,
		&msg.ConversationID,
		&msg.SenderID,
		&msg.Content,
		&rawData,
		&sentAtStr,
		&receivedAtStr,
		&isEdited,
		&isUndone,
		&createdAtStr,
		&updatedAtStr,
	)
	if err != nil {
		return nil, err
	}

	if rawData.Valid {
		msg.RawData = []byte(rawData.String)
	}
	msg.IsEdited = isEdited != 0
	msg.IsUndone = isUndone != 0

	if msg.SentAt, err = time.Parse(time.RFC3339, sentAtStr); err != nil {
		return nil, fmt.Errorf("parsing sent_at: %w", err)
	}
	if msg.ReceivedAt, err = time.Parse(time.RFC3339, receivedAtStr); err != nil {
		return nil, fmt.Errorf("parsing received_at: %w", err)
	}
	if msg.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if msg.UpdatedAt, err = time.Parse(time.RFC3339, updatedAtStr); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	return &msg, nil
}

// GetUser retrieves a user by ID.
// Returns ErrNotFound if the user doesn't exist.
func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*User, error) {
	query := `SELECT id, display_name, zalo_name, avatar_url FROM users WHERE id = ?`

	var user User
	var avatarURL sql.NullString

	err := s.db.QueryRowContext(ctx, query, id).Scan(&user.ID, &user.DisplayName, &user.ZaloName, &avatarURL)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}

	if avatarURL.Valid {
		user.AvatarURL = &avatarURL.String
	}

	return &user, nil
}

// GetUsersByIDs retrieves users for the given IDs, keyed by ID.
// Missing users are simply absent from the result map.
func (s *SQLiteStore) GetUsersByIDs(ctx context.Context, ids []string) (map[string]*User, error) {
	result := make(map[string]*User, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	placeholders := strings.Repeat("?,", len(ids)-1) + "?"
	query := fmt.Sprintf(`SELECT id, display_name, zalo_name, avatar_url FROM users WHERE id IN (%s)`, placeholders)

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying users: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var user User
		var avatarURL sql.NullString

		if err := rows.Scan(&user.ID, &user.DisplayName, &user.ZaloName, &avatarURL); err != nil {
			return nil, fmt.Errorf("scanning user row: %w", err)
		}
		if avatarURL.Valid {
			user.AvatarURL = &avatarURL.String
		}
		result[user.ID] = &user
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating user rows: %w", err)
	}

	return result, nil
}

// UpsertUser inserts or updates a user's display fields
func (s *SQLiteStore) UpsertUser(ctx context.Context, user *User) error {
	query := `
		INSERT INTO users (id, display_name, zalo_name, avatar_url)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			display_name = excluded.display_name,
			zalo_name = excluded.zalo_name,
			avatar_url = excluded.avatar_url
	`

	_, err := s.db.ExecContext(ctx, query,
		user.ID,
		user.DisplayName,
		user.ZaloName,
		nullableString(user.AvatarURL),
	)
	if err != nil {
		return fmt.Errorf("upserting user: %w", err)
	}

	return nil
}

// UpsertGroup inserts or updates a group's display fields
func (s *SQLiteStore) UpsertGroup(ctx context.Context, group *Group) error {
	query := `
		INSERT INTO groups (id, name, avatar_url)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			avatar_url = excluded.avatar_url
	`

	_, err := s.db.ExecContext(ctx, query, group.ID, group.Name, nullableString(group.AvatarURL))
	if err != nil {
		return fmt.Errorf("upserting group: %w", err)
	}

	return nil
}

// GetSession returns the most recent session.
// Returns ErrNotFound if no session has been saved.
func (s *SQLiteStore) GetSession(ctx context.Context) (*Session, error) {
	query := `SELECT user_id, login_time, is_active FROM sessions ORDER BY login_time DESC LIMIT 1`

	var session Session
	var loginTimeStr string
	var isActive int

	err := s.db.QueryRowContext(ctx, query).Scan(&session.UserID, &loginTimeStr, &isActive)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying session: %w", err)
	}

	session.IsActive = isActive != 0
	session.LoginTime, err = time.Parse(time.RFC3339, loginTimeStr)
	if err != nil {
		return nil, fmt.Errorf("parsing login_time: %w", err)
	}

	return &session, nil
}

// SaveSession inserts or replaces the session for a user
func (s *SQLiteStore) SaveSession(ctx context.Context, session *Session) error {
	query := `
		INSERT INTO sessions (user_id, login_time, is_active)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			login_time = excluded.login_time,
			is_active = excluded.is_active
	`

	_, err := s.db.ExecContext(ctx, query,
		session.UserID,
		session.LoginTime.UTC().Format(time.RFC3339),
		boolToInt(session.IsActive),
	)
	if err != nil {
		return fmt.Errorf("saving session: %w", err)
	}

	s.logger.Debug("saved session", "user_id", session.UserID)
	return nil
}

// DeleteSession removes all persisted sessions
func (s *SQLiteStore) DeleteSession(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions`); err != nil {
		return fmt.Errorf("deleting sessions: %w", err)
	}
	return nil
}

// nullableString returns nil for nil pointers, otherwise the value
func nullableString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

// nullableTime returns nil for nil pointers, otherwise the RFC3339 string
func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Ensure SQLiteStore implements Store interface
var _ Store = (*SQLiteStore)(nil)
