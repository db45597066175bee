package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/vovakirdan/wirechat-dm/internal/store"
)

//go:embed schema.sql
var schema string

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// New creates a new SQLite store and applies the schema.
// dbPath is the path to the SQLite database file.
func New(dbPath string) (*SQLiteStore, error) {
	return NewWithSetup(dbPath, ApplySchema)
}

// NewWithSetup creates a new SQLite store and runs a setup function.
// Useful for tests to apply a custom schema.
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection; it also keeps ":memory:" databases alive.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if setup != nil {
		if err := setup(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// ApplySchema creates all tables and indexes if they do not exist.
func ApplySchema(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}

// ==== UserStore implementation ====

// CreateUser creates a new user with hashed password.
func (s *SQLiteStore) CreateUser(ctx context.Context, username, passwordHash string) (*store.User, error) {
	query := `
		INSERT INTO users (username, password_hash)
		VALUES (?, ?)
	`
	result, err := s.db.ExecContext(ctx, query, username, passwordHash)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("insert user: %w", store.ErrDuplicate)
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last insert id: %w", err)
	}

	return s.GetUserByID(ctx, id)
}

const userColumns = `id, username, password_hash, last_active_at, created_at`

func scanUser(row interface{ Scan(...any) error }) (*store.User, error) {
	var user store.User
	var lastActive sql.NullTime
	if err := row.Scan(&user.ID, &user.Username, &user.PasswordHash, &lastActive, &user.CreatedAt); err != nil {
		return nil, err
	}
	if lastActive.Valid {
		t := lastActive.Time
		user.LastActiveAt = &t
	}
	return &user, nil
}

// GetUserByID retrieves a user by ID.
func (s *SQLiteStore) GetUserByID(ctx context.Context, id int64) (*store.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = ?`
	user, err := scanUser(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user %d: %w", id, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	return user, nil
}

// GetUserByUsername retrieves a user by username.
func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*store.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE username = ?`
	user, err := scanUser(s.db.QueryRowContext(ctx, query, username))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user %q: %w", username, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	return user, nil
}

// SearchUsers returns up to 20 users whose username contains query, ordered by username.
func (s *SQLiteStore) SearchUsers(ctx context.Context, query string) ([]*store.User, error) {
	q := `
		SELECT ` + userColumns + `
		FROM users
		WHERE username LIKE '%' || ? || '%'
		ORDER BY username ASC
		LIMIT 20
	`
	rows, err := s.db.QueryContext(ctx, q, query)
	if err != nil {
		return nil, fmt.Errorf("search users: %w", err)
	}
	defer rows.Close()

	users := make([]*store.User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, user)
	}

	return users, rows.Err()
}

// TouchLastActive records when the user was last seen online.
func (s *SQLiteStore) TouchLastActive(ctx context.Context, userID int64, at time.Time) error {
	query := `UPDATE users SET last_active_at = ? WHERE id = ?`
	result, err := s.db.ExecContext(ctx, query, at.UTC(), userID)
	if err != nil {
		return fmt.Errorf("update last active: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("user %d: %w", userID, store.ErrNotFound)
	}
	return nil
}

// ==== MessageStore implementation ====

// AppendMessage persists a message to storage.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *store.Message) error {
	if msg.ID == "" {
		return errors.New("append message: empty id")
	}
	pair := store.NewPair(msg.SenderID, msg.RecipientID)
	query := `
		INSERT INTO messages (id, sender_id, recipient_id, pair_low, pair_high, body, created_at_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		msg.ID, msg.SenderID, msg.RecipientID, pair.Low, pair.High, msg.Body, msg.CreatedAt.UnixNano())
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert message %s: %w", msg.ID, store.ErrDuplicate)
		}
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// FetchHistory retrieves one page of a conversation in chronological order,
// starting after the cursor.
func (s *SQLiteStore) FetchHistory(ctx context.Context, pair store.Pair, after *store.HistoryCursor, limit int) ([]*store.Message, error) {
	query := `
		SELECT id, sender_id, recipient_id, body, created_at_ns
		FROM messages
		WHERE pair_low = ? AND pair_high = ?
	`
	args := []any{pair.Low, pair.High}
	if after != nil {
		ns := after.CreatedAt.UnixNano()
		query += ` AND (created_at_ns > ? OR (created_at_ns = ? AND id > ?))`
		args = append(args, ns, ns, after.ID)
	}
	query += ` ORDER BY created_at_ns ASC, id ASC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []*store.Message
	for rows.Next() {
		var msg store.Message
		var createdNs int64
		if err := rows.Scan(&msg.ID, &msg.SenderID, &msg.RecipientID, &msg.Body, &createdNs); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.CreatedAt = time.Unix(0, createdNs).UTC()
		messages = append(messages, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return messages, nil
}

// ==== FriendStore implementation ====

const friendColumns = `id, requester_id, target_id, status, version, created_at, updated_at`

func scanFriendRequest(row interface{ Scan(...any) error }) (*store.FriendRequest, error) {
	var req store.FriendRequest
	var status string
	if err := row.Scan(&req.ID, &req.RequesterID, &req.TargetID, &status, &req.Version, &req.CreatedAt, &req.UpdatedAt); err != nil {
		return nil, err
	}
	req.Status = store.FriendStatus(status)
	return &req, nil
}

// CreateFriendRequest creates a new friend request (pending status).
func (s *SQLiteStore) CreateFriendRequest(ctx context.Context, requesterID, targetID int64) (*store.FriendRequest, error) {
	pair := store.NewPair(requesterID, targetID)
	now := time.Now().UTC()
	query := `
		INSERT INTO friend_requests (requester_id, target_id, pair_low, pair_high, status, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, 'pending', 1, ?, ?)
	`
	result, err := s.db.ExecContext(ctx, query, requesterID, targetID, pair.Low, pair.High, now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("insert friend request: %w", store.ErrDuplicate)
		}
		return nil, fmt.Errorf("insert friend request: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last insert id: %w", err)
	}

	return s.GetFriendRequest(ctx, id)
}

// GetFriendRequest retrieves a friend request by ID.
func (s *SQLiteStore) GetFriendRequest(ctx context.Context, id int64) (*store.FriendRequest, error) {
	query := `SELECT ` + friendColumns + ` FROM friend_requests WHERE id = ?`
	req, err := scanFriendRequest(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("friend request %d: %w", id, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query friend request: %w", err)
	}
	return req, nil
}

// LoadRelationship returns the newest record for the pair.
func (s *SQLiteStore) LoadRelationship(ctx context.Context, pair store.Pair) (*store.FriendRequest, error) {
	query := `
		SELECT ` + friendColumns + `
		FROM friend_requests
		WHERE pair_low = ? AND pair_high = ?
		ORDER BY id DESC
		LIMIT 1
	`
	req, err := scanFriendRequest(s.db.QueryRowContext(ctx, query, pair.Low, pair.High))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("relationship %s: %w", pair.Key(), store.ErrNotFound)
		}
		return nil, fmt.Errorf("query relationship: %w", err)
	}
	return req, nil
}

// SaveTransition moves a pending request to rec.Status using optimistic versioning.
func (s *SQLiteStore) SaveTransition(ctx context.Context, rec *store.FriendRequest, expectedVersion int64) error {
	now := time.Now().UTC()
	query := `
		UPDATE friend_requests
		SET status = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ? AND status = 'pending'
	`
	result, err := s.db.ExecContext(ctx, query, string(rec.Status), now, rec.ID, expectedVersion)
	if err != nil {
		return fmt.Errorf("update friend request: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("friend request %d at version %d: %w", rec.ID, expectedVersion, store.ErrConflict)
	}
	rec.Version = expectedVersion + 1
	rec.UpdatedAt = now
	return nil
}

// ListFriendRequests lists friend requests of a user, newest first.
func (s *SQLiteStore) ListFriendRequests(ctx context.Context, userID int64, dir store.FriendDirection, status *store.FriendStatus) ([]*store.FriendRequest, error) {
	var where string
	var args []any

	switch dir {
	case store.DirectionIncoming:
		where = `target_id = ?`
		args = append(args, userID)
	case store.DirectionOutgoing:
		where = `requester_id = ?`
		args = append(args, userID)
	default:
		where = `(requester_id = ? OR target_id = ?)`
		args = append(args, userID, userID)
	}
	if status != nil {
		where += ` AND status = ?`
		args = append(args, string(*status))
	}

	query := `SELECT ` + friendColumns + ` FROM friend_requests WHERE ` + where + ` ORDER BY id DESC`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query friend requests: %w", err)
	}
	defer rows.Close()

	var requests []*store.FriendRequest
	for rows.Next() {
		req, err := scanFriendRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan friend request: %w", err)
		}
		requests = append(requests, req)
	}

	return requests, rows.Err()
}
