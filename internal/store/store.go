// ABOUTME: Store interface and data types for chat-gateway persistence
// ABOUTME: Defines Session, DialogueTurn and the Store interface for turn-chain storage

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrCorruptChain is returned when the turn chain contains a cycle or a
// dangling previous-turn pointer. It indicates a persistence-layer bug and
// is logged loudly wherever it surfaces.
var ErrCorruptChain = errors.New("corrupt turn chain")

// ErrConflict is returned when two appends race for the same session head.
// The losing append is rolled back; the caller may retry with fresh state.
var ErrConflict = errors.New("concurrent append conflict")

// ResponseRecord is the structured assistant reply stored with a turn.
// It is persisted as JSON rather than raw text so auxiliary metadata can
// be added without a schema change.
type ResponseRecord struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Session represents a persisted conversation. The UUID is the
// externally-facing token; ID is the internal surrogate key. HeadTurnID
// points at the most recently appended turn, or is nil for an empty
// session.
type Session struct {
	ID         int64
	UUID       string
	OwnerID    string // empty when the session has no authenticated owner
	HeadTurnID *int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// DialogueTurn is one request/response exchange. Turns are immutable once
// created and form a singly linked list threaded backward through
// PreviousTurnID, terminating at the first turn (nil pointer).
type DialogueTurn struct {
	ID             int64
	SessionID      int64
	CorrelationID  string
	RequestText    string
	Response       ResponseRecord
	PreviousTurnID *int64
	CreatedAt      time.Time
}

// Store defines the persistence surface the conversation core requires.
type Store interface {
	// CreateSession allocates a new session with a fresh UUID and nil head.
	CreateSession(ctx context.Context, ownerID string) (*Session, error)

	// GetSessionByUUID looks up a session by its external token.
	// Returns ErrNotFound if no session matches.
	GetSessionByUUID(ctx context.Context, uuid string) (*Session, error)

	// AppendTurn creates a new turn linked to the session's current head
	// and repoints the head, all inside one transaction. Returns
	// ErrConflict if another append won the head pointer in the meantime.
	AppendTurn(ctx context.Context, session *Session, requestText string, response *ResponseRecord, correlationID string) (*DialogueTurn, error)

	// History walks the backward chain from the session head and returns
	// the turns oldest first. Returns ErrCorruptChain if the walk detects
	// a cycle or a dangling pointer.
	History(ctx context.Context, session *Session) ([]*DialogueTurn, error)

	// Close releases any resources held by the store
	Close() error
}
