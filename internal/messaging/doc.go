// Package messaging implements the conversation directory and message
// thread manager for the marketplace.
//
// # Conversation identity
//
// A conversation between two users is addressed by the canonical ordering
// of their IDs: the lexicographically smaller ID is always participant_a.
// ResolveConversation canonicalizes its arguments before every lookup and
// insert, so resolve(A, B) and resolve(B, A) return the same row. Two
// concurrent resolves for the same pair are settled by the store's UNIQUE
// constraint; the losing insert re-fetches the winner's row.
//
// An optional product ID scopes a conversation to a listing. The empty
// product ID is the general thread for a pair, and counts as its own scope.
//
// # Unread tracking
//
// A message is unread for a viewer when it was sent by the other
// participant and its status is not yet 'read'. Unread counts are derived,
// never stored. Opening a thread via LoadThread transitions every qualifying
// message to 'read' in one bulk statement; the transition is monotonic and
// idempotent. LoadThread returns the pre-transition snapshot so callers can
// tell which messages were just marked read.
//
// # Errors
//
// Operations return one of the package sentinels (ErrInvalidRequest,
// ErrForbidden, ErrNotFound, ErrStoreUnavailable), wrapped with context.
// Read paths never mask a store failure as an empty result. The one
// deliberate exception is the read-state update inside LoadThread, which
// degrades to a logged warning because the message list itself is the
// primary deliverable.
package messaging
