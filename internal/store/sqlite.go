// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides session/turn persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// maxChainHops bounds the backward walk in History. A chain longer than
// this is treated as pointer corruption rather than walked forever.
const maxChainHops = 10000

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
		CREATE TABLE IF NOT EXISTS sessions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_uuid TEXT NOT NULL UNIQUE,
			owner_id TEXT,
			head_turn_id INTEGER REFERENCES dialogue_turns(id),
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_uuid ON sessions(session_uuid);

		CREATE TABLE IF NOT EXISTS dialogue_turns (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id INTEGER NOT NULL REFERENCES sessions(id),
			correlation_id TEXT NOT NULL,
			request_text TEXT NOT NULL,
			response_json TEXT NOT NULL,
			previous_turn_id INTEGER REFERENCES dialogue_turns(id),
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_turns_session ON dialogue_turns(session_id);
		CREATE INDEX IF NOT EXISTS idx_turns_correlation ON dialogue_turns(correlation_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// runMigrations applies schema migrations for existing databases.
// These are idempotent - safe to run multiple times.
func (s *SQLiteStore) runMigrations() error {
	// Migration: Add owner_id to sessions (if it doesn't exist)
	// SQLite doesn't support ADD COLUMN IF NOT EXISTS, so we check first
	var exists int
	err := s.db.QueryRow(`SELECT 1 FROM pragma_table_info('sessions') WHERE name = 'owner_id'`).Scan(&exists)
	if err != nil {
		if _, err := s.db.Exec(`ALTER TABLE sessions ADD COLUMN owner_id TEXT`); err != nil {
			return fmt.Errorf("adding owner_id column to sessions: %w", err)
		}
		s.logger.Info("applied migration", "column", "owner_id", "table", "sessions")
	}

	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// CreateSession allocates a new session with a fresh UUID and nil head.
func (s *SQLiteStore) CreateSession(ctx context.Context, ownerID string) (*Session, error) {
	now := time.Now().UTC()
	session := &Session{
		UUID:      uuid.New().String(),
		OwnerID:   ownerID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	query := `
		INSERT INTO sessions (session_uuid, owner_id, head_turn_id, created_at, updated_at)
		VALUES (?, ?, NULL, ?, ?)
	`

	res, err := s.db.ExecContext(ctx, query,
		session.UUID,
		nullableString(ownerID),
		now.Format(time.RFC3339),
		now.Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("inserting session: %w", err)
	}

	session.ID, err = res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading session id: %w", err)
	}

	s.logger.Debug("created session", "session_uuid", session.UUID)
	return session, nil
}

// GetSessionByUUID retrieves a session by its external token.
// Returns ErrNotFound if the session doesn't exist.
func (s *SQLiteStore) GetSessionByUUID(ctx context.Context, token string) (*Session, error) {
	query := `
		SELECT id, session_uuid, owner_id, head_turn_id, created_at, updated_at
		FROM sessions
		WHERE session_uuid = ?
	`

	var session Session
	var ownerID sql.NullString
	var headTurnID sql.NullInt64
	var createdAtStr, updatedAtStr string

	err := s.db.QueryRowContext(ctx, query, token).Scan(
		&session.ID,
		&session.UUID,
		&ownerID,
		&headTurnID,
		&createdAtStr,
		&updatedAtStr,
	)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying session: %w", err)
	}

	if ownerID.Valid {
		session.OwnerID = ownerID.String
	}
	if headTurnID.Valid {
		head := headTurnID.Int64
		session.HeadTurnID = &head
	}

	session.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	session.UpdatedAt, err = time.Parse(time.RFC3339, updatedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	return &session, nil
}

// AppendTurn creates a new turn whose previous_turn_id is the session's
// current head, repoints the head to the new turn and bumps updated_at,
// all within one transaction. The head repoint is guarded against the
// head value read inside the transaction; if another append committed in
// between, the whole transaction rolls back with ErrConflict so no
// sibling branch is ever created.
func (s *SQLiteStore) AppendTurn(ctx context.Context, session *Session, requestText string, response *ResponseRecord, correlationID string) (*DialogueTurn, error) {
	respJSON, err := json.Marshal(response)
	if err != nil {
		return nil, fmt.Errorf("encoding response record: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	// Re-read the head inside the transaction; the session struct the
	// caller holds may be stale.
	var head sql.NullInt64
	err = tx.QueryRowContext(ctx, `SELECT head_turn_id FROM sessions WHERE id = ?`, session.ID).Scan(&head)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading session head: %w", err)
	}

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, `
		INSERT INTO dialogue_turns (session_id, correlation_id, request_text, response_json, previous_turn_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		session.ID,
		correlationID,
		requestText,
		string(respJSON),
		head,
		now.Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("inserting turn: %w", err)
	}

	turnID, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading turn id: %w", err)
	}

	// Guarded repoint: only succeeds if the head is still the one we read.
	var repoint sql.Result
	if head.Valid {
		repoint, err = tx.ExecContext(ctx, `
			UPDATE sessions SET head_turn_id = ?, updated_at = ? WHERE id = ? AND head_turn_id = ?
		`, turnID, now.Format(time.RFC3339), session.ID, head.Int64)
	} else {
		repoint, err = tx.ExecContext(ctx, `
			UPDATE sessions SET head_turn_id = ?, updated_at = ? WHERE id = ? AND head_turn_id IS NULL
		`, turnID, now.Format(time.RFC3339), session.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("repointing session head: %w", err)
	}

	affected, err := repoint.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("checking repoint: %w", err)
	}
	if affected == 0 {
		return nil, ErrConflict
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing turn: %w", err)
	}

	turn := &DialogueTurn{
		ID:            turnID,
		SessionID:     session.ID,
		CorrelationID: correlationID,
		RequestText:   requestText,
		Response:      *response,
		CreatedAt:     now,
	}
	if head.Valid {
		prev := head.Int64
		turn.PreviousTurnID = &prev
	}

	session.HeadTurnID = &turnID
	session.UpdatedAt = now

	s.logger.Debug("appended turn",
		"session_uuid", session.UUID,
		"turn_id", turnID,
		"correlation_id", correlationID)
	return turn, nil
}

// History walks the backward chain starting at the session head and
// returns the turns oldest first. The walk is bounded: revisiting a turn
// or exceeding maxChainHops returns ErrCorruptChain instead of looping.
func (s *SQLiteStore) History(ctx context.Context, session *Session) ([]*DialogueTurn, error) {
	if session.HeadTurnID == nil {
		return nil, nil
	}

	seen := make(map[int64]bool)
	var newestFirst []*DialogueTurn

	next := session.HeadTurnID
	for hops := 0; next != nil; hops++ {
		if hops >= maxChainHops || seen[*next] {
			s.logger.Error("turn chain corruption detected",
				"session_uuid", session.UUID,
				"turn_id", *next,
				"hops", hops)
			return nil, ErrCorruptChain
		}
		seen[*next] = true

		turn, err := s.getTurn(ctx, *next)
		if errors.Is(err, ErrNotFound) {
			s.logger.Error("turn chain has dangling pointer",
				"session_uuid", session.UUID,
				"turn_id", *next)
			return nil, ErrCorruptChain
		}
		if err != nil {
			return nil, err
		}

		newestFirst = append(newestFirst, turn)
		next = turn.PreviousTurnID
	}

	// Reverse into chronological order for prompt construction
	turns := make([]*DialogueTurn, len(newestFirst))
	for i, turn := range newestFirst {
		turns[len(turns)-1-i] = turn
	}
	return turns, nil
}

// getTurn retrieves a single turn by ID. Returns ErrNotFound if missing.
func (s *SQLiteStore) getTurn(ctx context.Context, id int64) (*DialogueTurn, error) {
	query := `
		SELECT id, session_id, correlation_id, request_text, response_json, previous_turn_id, created_at
		FROM dialogue_turns
		WHERE id = ?
	`

	var turn DialogueTurn
	var respJSON string
	var prevID sql.NullInt64
	var createdAtStr string

	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&turn.ID,
		&turn.SessionID,
		&turn.CorrelationID,
		&turn.RequestText,
		&respJSON,
		&prevID,
		&createdAtStr,
	)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying turn: %w", err)
	}

	if err := json.Unmarshal([]byte(respJSON), &turn.Response); err != nil {
		return nil, fmt.Errorf("decoding response record: %w", err)
	}

	if prevID.Valid {
		prev := prevID.Int64
		turn.PreviousTurnID = &prev
	}

	turn.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	return &turn, nil
}

// nullableString converts an empty string to a NULL for storage
func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
