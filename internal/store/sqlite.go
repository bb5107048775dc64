// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides conversation/message persistence with automatic schema creation

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

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
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

	// Enable foreign keys
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

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS users (
			id         TEXT PRIMARY KEY,
			username   TEXT NOT NULL UNIQUE,
			avatar_url TEXT NOT NULL DEFAULT '',
			verified   INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_users_username ON users(username);

		CREATE TABLE IF NOT EXISTS products (
			id          TEXT PRIMARY KEY,
			seller_id   TEXT NOT NULL REFERENCES users(id),
			title       TEXT NOT NULL,
			price_cents INTEGER NOT NULL,
			image_url   TEXT NOT NULL DEFAULT '',
			status      TEXT NOT NULL DEFAULT 'active',
			created_at  TEXT NOT NULL,

			CHECK (status IN ('active', 'sold', 'removed')),
			CHECK (price_cents >= 0)
		);

		CREATE INDEX IF NOT EXISTS idx_products_seller ON products(seller_id);
		CREATE INDEX IF NOT EXISTS idx_products_status ON products(status);

		CREATE TABLE IF NOT EXISTS conversations (
			id               TEXT PRIMARY KEY,
			participant_a    TEXT NOT NULL,
			participant_b    TEXT NOT NULL,
			product_id       TEXT NOT NULL DEFAULT '',
			status           TEXT NOT NULL DEFAULT 'active',
			created_at       TEXT NOT NULL,
			last_activity_at TEXT NOT NULL,

			UNIQUE (participant_a, participant_b, product_id),
			CHECK (participant_a < participant_b),
			CHECK (status IN ('active', 'archived', 'blocked'))
		);

		CREATE INDEX IF NOT EXISTS idx_conversations_a ON conversations(participant_a, last_activity_at);
		CREATE INDEX IF NOT EXISTS idx_conversations_b ON conversations(participant_b, last_activity_at);

		CREATE TABLE IF NOT EXISTS messages (
			id                TEXT PRIMARY KEY,
			conversation_id   TEXT NOT NULL REFERENCES conversations(id),
			sender_id         TEXT NOT NULL,
			kind              TEXT NOT NULL DEFAULT 'text',
			content           TEXT NOT NULL,
			image_url         TEXT,
			shared_product_id TEXT,
			status            TEXT NOT NULL DEFAULT 'sent',
			read_at           TEXT,
			created_at        TEXT NOT NULL,

			CHECK (kind IN ('text', 'image', 'product_share', 'system')),
			CHECK (status IN ('sent', 'read'))
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at);
		CREATE INDEX IF NOT EXISTS idx_messages_unread ON messages(conversation_id, sender_id, status);

		CREATE TABLE IF NOT EXISTS follows (
			follower_id TEXT NOT NULL REFERENCES users(id),
			followee_id TEXT NOT NULL REFERENCES users(id),
			created_at  TEXT NOT NULL,

			PRIMARY KEY (follower_id, followee_id),
			CHECK (follower_id != followee_id)
		);

		CREATE INDEX IF NOT EXISTS idx_follows_followee ON follows(followee_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// runMigrations applies schema migrations for existing databases.
// These are idempotent - safe to run multiple times.
func (s *SQLiteStore) runMigrations() error {
	// SQLite doesn't support ADD COLUMN IF NOT EXISTS, so we check first
	migrations := []struct {
		check  string // Query to check if migration is needed
		apply  string // Query to apply the migration
		column string // Column name for logging
		table  string
	}{
		{
			check:  `SELECT 1 FROM pragma_table_info('messages') WHERE name = 'shared_product_id'`,
			apply:  `ALTER TABLE messages ADD COLUMN shared_product_id TEXT`,
			column: "shared_product_id",
			table:  "messages",
		},
		{
			check:  `SELECT 1 FROM pragma_table_info('conversations') WHERE name = 'status'`,
			apply:  `ALTER TABLE conversations ADD COLUMN status TEXT NOT NULL DEFAULT 'active'`,
			column: "status",
			table:  "conversations",
		},
	}

	for _, m := range migrations {
		var exists int
		err := s.db.QueryRow(m.check).Scan(&exists)
		if err == nil {
			// Column already exists, skip
			continue
		}
		if _, err := s.db.Exec(m.apply); err != nil {
			return fmt.Errorf("adding %s column to %s: %w", m.column, m.table, err)
		}
		s.logger.Info("applied migration", "column", m.column, "table", m.table)
	}

	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// nullString returns nil for empty strings, otherwise the string itself
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// placeholders returns a comma-joined list of n SQL placeholders
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// CreateConversation creates a new conversation row.
// Participants must already be in canonical order (participant_a < participant_b);
// the CHECK constraint rejects anything else. Returns ErrDuplicateConversation
// if a conversation for this pair and product scope already exists.
func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	status := conv.Status
	if status == "" {
		status = ConversationStatusActive
	}

	query := `
		INSERT INTO conversations (id, participant_a, participant_b, product_id, status, created_at, last_activity_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		conv.ID,
		conv.ParticipantA,
		conv.ParticipantB,
		conv.ProductID,
		status,
		conv.CreatedAt.UTC().Format(time.RFC3339),
		conv.LastActivityAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateConversation
		}
		return fmt.Errorf("inserting conversation: %w", err)
	}

	s.logger.Debug("created conversation",
		"id", conv.ID,
		"participant_a", conv.ParticipantA,
		"participant_b", conv.ParticipantB,
		"product_id", conv.ProductID)
	return nil
}

// GetConversation retrieves a conversation by ID.
// Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	query := `
		SELECT id, participant_a, participant_b, product_id, status, created_at, last_activity_at
		FROM conversations
		WHERE id = ?
	`
	return s.scanConversation(s.db.QueryRowContext(ctx, query, id))
}

// GetConversationByParticipants retrieves the conversation for a canonical
// participant pair and product scope. Callers must pass the pair in canonical
// order; productID "" selects the general (non-product) conversation.
// Returns ErrNotFound if no such conversation exists.
func (s *SQLiteStore) GetConversationByParticipants(ctx context.Context, participantA, participantB, productID string) (*Conversation, error) {
	query := `
		SELECT id, participant_a, participant_b, product_id, status, created_at, last_activity_at
		FROM conversations
		WHERE participant_a = ? AND participant_b = ? AND product_id = ?
	`
	return s.scanConversation(s.db.QueryRowContext(ctx, query, participantA, participantB, productID))
}

func (s *SQLiteStore) scanConversation(row *sql.Row) (*Conversation, error) {
	var conv Conversation
	var createdAtStr, lastActivityStr string

	err := row.Scan(
		&conv.ID,
		&conv.ParticipantA,
		&conv.ParticipantB,
		&conv.ProductID,
		&conv.Status,
		&createdAtStr,
		&lastActivityStr,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning conversation: %w", err)
	}

	conv.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	conv.LastActivityAt, err = time.Parse(time.RFC3339, lastActivityStr)
	if err != nil {
		return nil, fmt.Errorf("parsing last_activity_at: %w", err)
	}

	return &conv, nil
}

// ListConversationsByUser retrieves all conversations where the user is
// either participant, most recently active first. Ties on last_activity_at
// break by conversation ID for deterministic ordering.
func (s *SQLiteStore) ListConversationsByUser(ctx context.Context, userID string) ([]*Conversation, error) {
	query := `
		SELECT id, participant_a, participant_b, product_id, status, created_at, last_activity_at
		FROM conversations
		WHERE participant_a = ? OR participant_b = ?
		ORDER BY last_activity_at DESC, id
	`

	rows, err := s.db.QueryContext(ctx, query, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	var conversations []*Conversation
	for rows.Next() {
		var conv Conversation
		var createdAtStr, lastActivityStr string

		if err := rows.Scan(
			&conv.ID,
			&conv.ParticipantA,
			&conv.ParticipantB,
			&conv.ProductID,
			&conv.Status,
			&createdAtStr,
			&lastActivityStr,
		); err != nil {
			return nil, fmt.Errorf("scanning conversation row: %w", err)
		}

		conv.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		conv.LastActivityAt, err = time.Parse(time.RFC3339, lastActivityStr)
		if err != nil {
			return nil, fmt.Errorf("parsing last_activity_at: %w", err)
		}

		conversations = append(conversations, &conv)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating conversation rows: %w", err)
	}

	return conversations, nil
}

// TouchConversation updates a conversation's last_activity_at.
// Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) TouchConversation(ctx context.Context, id string, at time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET last_activity_at = ? WHERE id = ?`,
		at.UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("touching conversation: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// SaveMessage saves a message to the database
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *Message) error {
	kind := msg.Kind
	if kind == "" {
		kind = MessageKindText
	}
	status := msg.Status
	if status == "" {
		status = MessageStatusSent
	}

	var readAt any
	if msg.ReadAt != nil {
		readAt = msg.ReadAt.UTC().Format(time.RFC3339)
	}

	query := `
		INSERT INTO messages (id, conversation_id, sender_id, kind, content, image_url, shared_product_id, status, read_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		msg.ID,
		msg.ConversationID,
		msg.SenderID,
		kind,
		msg.Content,
		nullString(msg.ImageURL),
		nullString(msg.SharedProductID),
		status,
		readAt,
		msg.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}

	s.logger.Debug("saved message", "id", msg.ID, "conversation_id", msg.ConversationID, "kind", kind)
	return nil
}

// GetConversationMessages retrieves messages for a conversation, limited to
// the most recent `limit` messages, returned in chronological order (oldest
// first). If limit is 0 or negative, all messages are returned.
func (s *SQLiteStore) GetConversationMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error) {
	var query string
	var args []any

	if limit > 0 {
		// Get the N most recent messages, but return them in chronological order
		query = `
			SELECT id, conversation_id, sender_id, kind, content, image_url, shared_product_id, status, read_at, created_at
			FROM (
				SELECT id, conversation_id, sender_id, kind, content, image_url, shared_product_id, status, read_at, created_at
				FROM messages
				WHERE conversation_id = ?
				ORDER BY created_at DESC, id DESC
				LIMIT ?
			)
			ORDER BY created_at ASC, id ASC
		`
		args = []any{conversationID, limit}
	} else {
		query = `
			SELECT id, conversation_id, sender_id, kind, content, image_url, shared_product_id, status, read_at, created_at
			FROM messages
			WHERE conversation_id = ?
			ORDER BY created_at ASC, id ASC
		`
		args = []any{conversationID}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message rows: %w", err)
	}

	return messages, nil
}

// scanMessage scans a message row from either a *sql.Row or *sql.Rows
func scanMessage(rows *sql.Rows) (*Message, error) {
	var msg Message
	var createdAtStr string
	var imageURL, sharedProductID, readAtStr sql.NullString

	if err := rows.Scan(
		&msg.ID,
		&msg.ConversationID,
		&msg.SenderID,
		&msg.Kind,
		&msg.Content,
		&imageURL,
		&sharedProductID,
		&msg.Status,
		&readAtStr,
		&createdAtStr,
	); err != nil {
		return nil, fmt.Errorf("scanning message row: %w", err)
	}

	var err error
	msg.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing message created_at: %w", err)
	}

	if imageURL.Valid {
		msg.ImageURL = imageURL.String
	}
	if sharedProductID.Valid {
		msg.SharedProductID = sharedProductID.String
	}
	if readAtStr.Valid {
		t, err := time.Parse(time.RFC3339, readAtStr.String)
		if err != nil {
			return nil, fmt.Errorf("parsing message read_at: %w", err)
		}
		msg.ReadAt = &t
	}

	return &msg, nil
}

// MarkMessagesRead transitions every message in the conversation that was
// not sent by viewerID and is not yet read to status 'read' with read_at set.
// The update is a single bulk statement and is idempotent: when no messages
// qualify it affects zero rows and that is not an error. Returns the number
// of messages transitioned.
func (s *SQLiteStore) MarkMessagesRead(ctx context.Context, conversationID, viewerID string, at time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE messages
		SET status = ?, read_at = ?
		WHERE conversation_id = ? AND sender_id != ? AND status != ?
	`, MessageStatusRead, at.UTC().Format(time.RFC3339), conversationID, viewerID, MessageStatusRead)
	if err != nil {
		return 0, fmt.Errorf("marking messages read: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("getting rows affected: %w", err)
	}

	if rowsAffected > 0 {
		s.logger.Debug("marked messages read",
			"conversation_id", conversationID,
			"viewer_id", viewerID,
			"count", rowsAffected)
	}
	return rowsAffected, nil
}

// LatestMessages returns the most recent message for each of the given
// conversations in a single query. Conversations with no messages are
// absent from the result map.
func (s *SQLiteStore) LatestMessages(ctx context.Context, conversationIDs []string) (map[string]*Message, error) {
	latest := make(map[string]*Message)
	if len(conversationIDs) == 0 {
		return latest, nil
	}

	args := make([]any, len(conversationIDs))
	for i, id := range conversationIDs {
		args[i] = id
	}

	// One set-based query for the whole conversation set; ties on
	// created_at resolve to the larger message ID via the outer ordering.
	query := fmt.Sprintf(`
		SELECT m.id, m.conversation_id, m.sender_id, m.kind, m.content, m.image_url, m.shared_product_id, m.status, m.read_at, m.created_at
		FROM messages m
		JOIN (
			SELECT conversation_id, MAX(created_at) AS max_created
			FROM messages
			WHERE conversation_id IN (%s)
			GROUP BY conversation_id
		) latest ON m.conversation_id = latest.conversation_id AND m.created_at = latest.max_created
		ORDER BY m.id ASC
	`, placeholders(len(conversationIDs)))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying latest messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		latest[msg.ConversationID] = msg
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating latest message rows: %w", err)
	}

	return latest, nil
}

// UnreadCounts returns, for each of the given conversations, the number of
// messages not sent by viewerID and not yet read, in a single query.
// Conversations with no unread messages are absent from the result map.
func (s *SQLiteStore) UnreadCounts(ctx context.Context, conversationIDs []string, viewerID string) (map[string]int, error) {
	counts := make(map[string]int)
	if len(conversationIDs) == 0 {
		return counts, nil
	}

	args := make([]any, 0, len(conversationIDs)+2)
	for _, id := range conversationIDs {
		args = append(args, id)
	}
	args = append(args, viewerID, MessageStatusRead)

	query := fmt.Sprintf(`
		SELECT conversation_id, COUNT(*)
		FROM messages
		WHERE conversation_id IN (%s) AND sender_id != ? AND status != ?
		GROUP BY conversation_id
	`, placeholders(len(conversationIDs)))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying unread counts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var conversationID string
		var count int
		if err := rows.Scan(&conversationID, &count); err != nil {
			return nil, fmt.Errorf("scanning unread count row: %w", err)
		}
		counts[conversationID] = count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating unread count rows: %w", err)
	}

	return counts, nil
}

// UnreadTotal returns the total number of unread messages addressed to
// viewerID across all their conversations.
func (s *SQLiteStore) UnreadTotal(ctx context.Context, viewerID string) (int, error) {
	var total int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM messages m
		JOIN conversations c ON m.conversation_id = c.id
		WHERE (c.participant_a = ? OR c.participant_b = ?)
		  AND m.sender_id != ?
		  AND m.status != ?
	`, viewerID, viewerID, viewerID, MessageStatusRead).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("querying unread total: %w", err)
	}
	return total, nil
}

// Ensure SQLiteStore implements Store interface
var _ Store = (*SQLiteStore)(nil)
