// ABOUTME: In-memory mock implementation of the Store interface for testing
// ABOUTME: Backs sessions and turns with maps guarded by a mutex

package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockStore is an in-memory Store implementation for tests. It applies the
// same head-guard semantics as the SQLite store so conflict and chain
// behavior can be exercised without a database.
type MockStore struct {
	mu       sync.Mutex
	sessions map[string]*Session // keyed by UUID
	turns    map[int64]*DialogueTurn
	nextID   int64

	// FailAppend forces the next AppendTurn call to fail with the given
	// error. Cleared after one use.
	FailAppend error
}

// NewMockStore creates an empty MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		sessions: make(map[string]*Session),
		turns:    make(map[int64]*DialogueTurn),
	}
}

// CreateSession allocates a new in-memory session.
func (m *MockStore) CreateSession(ctx context.Context, ownerID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	now := time.Now().UTC()
	session := &Session{
		ID:        m.nextID,
		UUID:      uuid.New().String(),
		OwnerID:   ownerID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.sessions[session.UUID] = session
	return session, nil
}

// GetSessionByUUID looks up a session by token.
func (m *MockStore) GetSessionByUUID(ctx context.Context, token string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[token]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *session
	return &copied, nil
}

// AppendTurn creates a turn linked to the current head and repoints it.
func (m *MockStore) AppendTurn(ctx context.Context, session *Session, requestText string, response *ResponseRecord, correlationID string) (*DialogueTurn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailAppend != nil {
		err := m.FailAppend
		m.FailAppend = nil
		return nil, err
	}

	stored, ok := m.sessions[session.UUID]
	if !ok {
		return nil, ErrNotFound
	}

	m.nextID++
	now := time.Now().UTC()
	turn := &DialogueTurn{
		ID:             m.nextID,
		SessionID:      stored.ID,
		CorrelationID:  correlationID,
		RequestText:    requestText,
		Response:       *response,
		PreviousTurnID: stored.HeadTurnID,
		CreatedAt:      now,
	}
	m.turns[turn.ID] = turn

	head := turn.ID
	stored.HeadTurnID = &head
	stored.UpdatedAt = now
	session.HeadTurnID = &head
	session.UpdatedAt = now
	return turn, nil
}

// History walks the backward chain oldest first, with the same cycle cap
// as the SQLite store.
func (m *MockStore) History(ctx context.Context, session *Session) ([]*DialogueTurn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.sessions[session.UUID]
	if !ok {
		return nil, ErrNotFound
	}

	seen := make(map[int64]bool)
	var newestFirst []*DialogueTurn
	next := stored.HeadTurnID
	for hops := 0; next != nil; hops++ {
		if hops >= maxChainHops || seen[*next] {
			return nil, ErrCorruptChain
		}
		seen[*next] = true

		turn, ok := m.turns[*next]
		if !ok {
			return nil, ErrCorruptChain
		}
		newestFirst = append(newestFirst, turn)
		next = turn.PreviousTurnID
	}

	turns := make([]*DialogueTurn, len(newestFirst))
	for i, turn := range newestFirst {
		turns[len(turns)-1-i] = turn
	}
	return turns, nil
}

// Corrupt rewires a turn's previous pointer, for chain-corruption tests.
func (m *MockStore) Corrupt(turnID int64, previous *int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if turn, ok := m.turns[turnID]; ok {
		turn.PreviousTurnID = previous
	}
}

// Close is a no-op for the mock.
func (m *MockStore) Close() error {
	return nil
}
