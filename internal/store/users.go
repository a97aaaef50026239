// ABOUTME: User persistence methods on SQLiteStore
// ABOUTME: Creation runs in one transaction so the first-user rule and uniqueness check cannot race

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// CreateUser inserts a new user. The username is stored lowercased and
// must be unique case-insensitively; a duplicate returns
// ErrDuplicateUsername. The superuser flag is decided inside the same
// transaction as the insert: only the first user ever created on the
// device receives it, even under concurrent registrations.
func (s *SQLiteStore) CreateUser(ctx context.Context, user *User) (*User, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning user transaction: %w", err)
	}
	defer tx.Rollback()

	var count int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count); err != nil {
		return nil, fmt.Errorf("counting users: %w", err)
	}

	created := *user
	created.Username = strings.ToLower(user.Username)
	created.IsLocal = true
	created.IsSuperuser = count == 0
	if created.CreatedAt.IsZero() {
		created.CreatedAt = time.Now().UTC()
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO users (id, username, display_name, avatar, password_hash, is_local, is_superuser, created_at)
		VALUES (?, ?, ?, ?, ?, 1, ?, ?)
	`,
		created.ID,
		created.Username,
		created.DisplayName,
		created.Avatar,
		created.PasswordHash,
		boolToInt(created.IsSuperuser),
		created.CreatedAt.UnixMilli(),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return nil, ErrDuplicateUsername
		}
		return nil, fmt.Errorf("inserting user: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing user transaction: %w", err)
	}

	s.logger.Info("created user", "id", created.ID, "username", created.Username, "superuser", created.IsSuperuser)
	return &created, nil
}

// GetUserByUsername retrieves a user by username, case-insensitively.
// Returns ErrNotFound if no such user exists.
func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, username, display_name, avatar, password_hash, is_local, is_superuser, public_key, created_at, last_login
		FROM users
		WHERE username = ? COLLATE NOCASE
	`, strings.ToLower(username))
	return scanUser(row)
}

// GetUserByID retrieves a user by ID.
// Returns ErrNotFound if no such user exists.
func (s *SQLiteStore) GetUserByID(ctx context.Context, id string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, username, display_name, avatar, password_hash, is_local, is_superuser, public_key, created_at, last_login
		FROM users
		WHERE id = ?
	`, id)
	return scanUser(row)
}

// UpdateLastLogin records a successful login time.
func (s *SQLiteStore) UpdateLastLogin(ctx context.Context, userID string, at time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE users SET last_login = ? WHERE id = ?`,
		at.UnixMilli(), userID,
	)
	if err != nil {
		return fmt.Errorf("updating last login: %w", err)
	}
	return requireRowAffected(result)
}

// UpdateUserPassword replaces a user's password hash.
func (s *SQLiteStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE users SET password_hash = ? WHERE id = ?`,
		passwordHash, userID,
	)
	if err != nil {
		return fmt.Errorf("updating password: %w", err)
	}

	if err := requireRowAffected(result); err != nil {
		return err
	}
	s.logger.Info("updated user password", "id", userID)
	return nil
}

// UpdateUserProfile updates the mutable profile fields.
func (s *SQLiteStore) UpdateUserProfile(ctx context.Context, userID, displayName, avatar string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE users SET display_name = ?, avatar = ? WHERE id = ?`,
		displayName, avatar, userID,
	)
	if err != nil {
		return fmt.Errorf("updating profile: %w", err)
	}
	return requireRowAffected(result)
}

// CountUsers returns the number of registered users.
func (s *SQLiteStore) CountUsers(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting users: %w", err)
	}
	return count, nil
}

func scanUser(row *sql.Row) (*User, error) {
	var user User
	var displayName, avatar, publicKey sql.NullString
	var isLocal, isSuperuser int
	var createdAt int64
	var lastLogin sql.NullInt64

	err := row.Scan(
		&user.ID,
		&user.Username,
		&displayName,
		&avatar,
		&user.PasswordHash,
		&isLocal,
		&isSuperuser,
		&publicKey,
		&createdAt,
		&lastLogin,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning user: %w", err)
	}

	user.DisplayName = displayName.String
	user.Avatar = avatar.String
	user.PublicKey = publicKey.String
	user.IsLocal = isLocal == 1
	user.IsSuperuser = isSuperuser == 1
	user.CreatedAt = millisToTime(createdAt)
	if lastLogin.Valid {
		t := millisToTime(lastLogin.Int64)
		user.LastLogin = &t
	}

	return &user, nil
}

// requireRowAffected maps a zero-row UPDATE to ErrNotFound
func requireRowAffected(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
