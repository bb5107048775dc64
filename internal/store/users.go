// ABOUTME: User profile snapshot and follow persistence for the SQLite store
// ABOUTME: Covers user CRUD, batched lookups, and follower/following queries

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// CreateUser inserts a user profile snapshot.
// Returns ErrDuplicateUser if the ID or username is already taken.
func (s *SQLiteStore) CreateUser(ctx context.Context, user *User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, avatar_url, verified, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, user.ID, user.Username, user.AvatarURL, user.Verified,
		user.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateUser
		}
		return fmt.Errorf("inserting user: %w", err)
	}

	s.logger.Debug("created user", "id", user.ID, "username", user.Username)
	return nil
}

// GetUser retrieves a user by ID.
// Returns ErrNotFound if the user doesn't exist.
func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, username, avatar_url, verified, created_at
		FROM users
		WHERE id = ?
	`, id)

	var user User
	var createdAtStr string

	err := row.Scan(&user.ID, &user.Username, &user.AvatarURL, &user.Verified, &createdAtStr)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}

	user.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	return &user, nil
}

// GetUsers retrieves multiple users by ID in a single query.
// Missing IDs are simply absent from the result map, not an error.
func (s *SQLiteStore) GetUsers(ctx context.Context, ids []string) (map[string]*User, error) {
	users := make(map[string]*User)
	if len(ids) == 0 {
		return users, nil
	}

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	query := fmt.Sprintf(`
		SELECT id, username, avatar_url, verified, created_at
		FROM users
		WHERE id IN (%s)
	`, placeholders(len(ids)))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying users: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var user User
		var createdAtStr string
		if err := rows.Scan(&user.ID, &user.Username, &user.AvatarURL, &user.Verified, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scanning user row: %w", err)
		}
		user.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		users[user.ID] = &user
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating user rows: %w", err)
	}

	return users, nil
}

// CreateFollow records that followerID follows followeeID.
// Re-following is a no-op, not an error.
func (s *SQLiteStore) CreateFollow(ctx context.Context, followerID, followeeID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO follows (follower_id, followee_id, created_at)
		VALUES (?, ?, ?)
	`, followerID, followeeID, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("inserting follow: %w", err)
	}

	s.logger.Debug("created follow", "follower", followerID, "followee", followeeID)
	return nil
}

// DeleteFollow removes a follow relationship.
// Returns ErrNotFound if the relationship doesn't exist.
func (s *SQLiteStore) DeleteFollow(ctx context.Context, followerID, followeeID string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM follows WHERE follower_id = ? AND followee_id = ?`,
		followerID, followeeID)
	if err != nil {
		return fmt.Errorf("deleting follow: %w", err)
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

// ListFollowers returns the users following userID, most recent first.
func (s *SQLiteStore) ListFollowers(ctx context.Context, userID string, limit int) ([]*User, error) {
	return s.listFollowUsers(ctx, `
		SELECT u.id, u.username, u.avatar_url, u.verified, u.created_at
		FROM follows f
		JOIN users u ON u.id = f.follower_id
		WHERE f.followee_id = ?
		ORDER BY f.created_at DESC
		LIMIT ?
	`, userID, limit)
}

// ListFollowing returns the users that userID follows, most recent first.
func (s *SQLiteStore) ListFollowing(ctx context.Context, userID string, limit int) ([]*User, error) {
	return s.listFollowUsers(ctx, `
		SELECT u.id, u.username, u.avatar_url, u.verified, u.created_at
		FROM follows f
		JOIN users u ON u.id = f.followee_id
		WHERE f.follower_id = ?
		ORDER BY f.created_at DESC
		LIMIT ?
	`, userID, limit)
}

func (s *SQLiteStore) listFollowUsers(ctx context.Context, query, userID string, limit int) ([]*User, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}

	rows, err := s.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying follows: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		var user User
		var createdAtStr string
		if err := rows.Scan(&user.ID, &user.Username, &user.AvatarURL, &user.Verified, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scanning follow user row: %w", err)
		}
		user.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		users = append(users, &user)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating follow rows: %w", err)
	}

	return users, nil
}

// CountFollows returns the follower and following counts for a user.
func (s *SQLiteStore) CountFollows(ctx context.Context, userID string) (followers, following int, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM follows WHERE followee_id = ?),
			(SELECT COUNT(*) FROM follows WHERE follower_id = ?)
	`, userID, userID).Scan(&followers, &following)
	if err != nil {
		return 0, 0, fmt.Errorf("counting follows: %w", err)
	}
	return followers, following, nil
}
