// ABOUTME: Error taxonomy for the messaging service
// ABOUTME: Sentinel errors that HTTP and CLI callers map to status codes

package messaging

import "errors"

// ErrInvalidRequest is returned for malformed or self-referential input,
// such as resolving a conversation with yourself or sending an empty message.
var ErrInvalidRequest = errors.New("invalid request")

// ErrForbidden is returned when the viewer is not a participant of the
// conversation. The error carries no detail about the conversation's contents.
var ErrForbidden = errors.New("forbidden")

// ErrNotFound is returned when the requested conversation, user, or product
// does not exist.
var ErrNotFound = errors.New("not found")

// ErrStoreUnavailable is returned when the persistence layer fails or times
// out. Callers may retry; the service itself only retries the one
// uniqueness-race re-fetch during conversation resolution.
var ErrStoreUnavailable = errors.New("store unavailable")
