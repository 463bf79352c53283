// Package store provides persistence for chat sessions and dialogue turns.
//
// # Data Model
//
// A Session is a persisted conversation identified by an external UUID
// token. Each request/response exchange is a DialogueTurn. Turns form a
// singly linked list threaded backward: the session row carries a pointer
// to the most recent turn (the head), and every turn points at its
// predecessor. The first turn of a session has a nil previous pointer.
//
// This makes an append a single localized write - one new row plus one
// pointer update on the session - with no renumbering of prior rows.
// Turns are never mutated or deleted; only the session head moves.
//
// # Appending
//
// AppendTurn runs inside one transaction: insert the turn with
// previous_turn_id set to the current head, then repoint the head. The
// repoint is guarded against the head value read inside the transaction,
// so two appends racing for the same session cannot silently create a
// sibling branch - the loser rolls back with ErrConflict.
//
// # History
//
// History reconstructs the conversation by walking the chain backward
// from the head and reversing the result. The walk is an explicit
// iterative loop bounded by a hop cap and a seen-set; a cycle or a
// dangling pointer surfaces as ErrCorruptChain rather than an unbounded
// traversal.
//
// # Implementations
//
//   - SQLiteStore: production backend using modernc.org/sqlite
//   - MockStore: in-memory implementation for tests
package store
