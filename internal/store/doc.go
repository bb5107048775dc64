// Package store provides persistent storage for restitch-server using SQLite.
//
// # Architecture
//
// The Store interface covers users, products, follows, conversations, and
// messages. SQLiteStore implements it in a single struct over database/sql
// with the modernc.org/sqlite driver.
//
// # Data Models
//
//   - User: profile snapshot (username, avatar, verified) attached to
//     conversation listings; identity itself lives with the external
//     identity provider
//   - Product: second-hand listing referenced by conversations and
//     product-share messages
//   - Conversation: two-party thread with participants stored in canonical
//     order (participant_a < participant_b), optionally scoped to a product
//   - Message: message within a conversation with kind (text, image,
//     product_share, system) and a monotonic sent -> read status
//   - Follow: follower/followee edge between users
//
// # Canonical participant order
//
// The conversations table enforces participant_a < participant_b with a
// CHECK constraint and at most one row per (participant_a, participant_b,
// product_id) with a UNIQUE constraint. Callers canonicalize the pair
// before every lookup and insert; concurrent resolve calls for the same
// pair are settled by the UNIQUE constraint, not by locking.
//
// # Batched directory queries
//
// LatestMessages and UnreadCounts take a set of conversation IDs and answer
// in one round trip each, so the conversation directory never issues one
// query per conversation.
//
// # SQLite Configuration
//
// The store uses SQLite with WAL mode for concurrent reads:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// Timestamps are stored as RFC3339 UTC text.
//
// # Error Handling
//
// Common errors:
//
//   - ErrNotFound: requested entity does not exist
//   - ErrDuplicateConversation: conversation for the pair already exists
//   - ErrDuplicateUser: user ID or username already taken
//
// All methods accept context.Context for cancellation support.
package store
