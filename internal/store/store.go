// ABOUTME: Store interface and data types for restitch-server persistence
// ABOUTME: Defines User, Product, Conversation, Message structs and the Store interface

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateConversation is returned when inserting a conversation for a
// participant pair (and product scope) that already has one
var ErrDuplicateConversation = errors.New("conversation already exists")

// ErrDuplicateUser is returned when a user ID or username is already taken
var ErrDuplicateUser = errors.New("user already exists")

// User is the profile snapshot the messaging directory attaches to
// conversations. Credentials live with the external identity provider.
type User struct {
	ID        string
	Username  string
	AvatarURL string
	Verified  bool
	CreatedAt time.Time
}

// ProductStatus constants for listing lifecycle
const (
	ProductStatusActive  = "active"
	ProductStatusSold    = "sold"
	ProductStatusRemoved = "removed"
)

// Product is a second-hand listing. Conversations and product-share
// messages reference it by ID.
type Product struct {
	ID         string
	SellerID   string
	Title      string
	PriceCents int64
	ImageURL   string
	Status     string
	CreatedAt  time.Time
}

// ConversationStatus constants
const (
	ConversationStatusActive   = "active"
	ConversationStatusArchived = "archived"
	ConversationStatusBlocked  = "blocked"
)

// Conversation is a two-party message thread. ParticipantA is always the
// lexicographically smaller user ID so that a pair lookup is a single
// equality query regardless of argument order. ProductID is "" for the
// general conversation between a pair, or a listing ID for a
// product-scoped thread; it never changes after creation.
type Conversation struct {
	ID             string
	ParticipantA   string
	ParticipantB   string
	ProductID      string
	Status         string
	CreatedAt      time.Time
	LastActivityAt time.Time
}

// Other returns the participant that is not viewerID.
func (c *Conversation) Other(viewerID string) string {
	if c.ParticipantA == viewerID {
		return c.ParticipantB
	}
	return c.ParticipantA
}

// HasParticipant reports whether userID is one of the two participants.
func (c *Conversation) HasParticipant(userID string) bool {
	return c.ParticipantA == userID || c.ParticipantB == userID
}

// MessageKind constants for message types
const (
	MessageKindText         = "text"
	MessageKindImage        = "image"
	MessageKindProductShare = "product_share"
	MessageKindSystem       = "system"
)

// MessageStatus constants. The transition is monotonic: sent -> read.
const (
	MessageStatusSent = "sent"
	MessageStatusRead = "read"
)

// Message is a single message within a conversation
type Message struct {
	ID              string
	ConversationID  string
	SenderID        string
	Kind            string
	Content         string
	ImageURL        string
	SharedProductID string
	Status          string
	ReadAt          *time.Time
	CreatedAt       time.Time
}

// Follow links a follower to the user they follow
type Follow struct {
	FollowerID string
	FolloweeID string
	CreatedAt  time.Time
}

// Store defines the interface for marketplace messaging persistence
type Store interface {
	// Users
	CreateUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, id string) (*User, error)
	GetUsers(ctx context.Context, ids []string) (map[string]*User, error)

	// Follows
	CreateFollow(ctx context.Context, followerID, followeeID string) error
	DeleteFollow(ctx context.Context, followerID, followeeID string) error
	ListFollowers(ctx context.Context, userID string, limit int) ([]*User, error)
	ListFollowing(ctx context.Context, userID string, limit int) ([]*User, error)
	CountFollows(ctx context.Context, userID string) (followers, following int, err error)

	// Products
	CreateProduct(ctx context.Context, product *Product) error
	GetProduct(ctx context.Context, id string) (*Product, error)
	UpdateProductStatus(ctx context.Context, id, status string) error
	ListProductsBySeller(ctx context.Context, sellerID string, limit int) ([]*Product, error)

	// Conversations
	CreateConversation(ctx context.Context, conv *Conversation) error
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	GetConversationByParticipants(ctx context.Context, participantA, participantB, productID string) (*Conversation, error)
	ListConversationsByUser(ctx context.Context, userID string) ([]*Conversation, error)
	TouchConversation(ctx context.Context, id string, at time.Time) error

	// Messages
	SaveMessage(ctx context.Context, msg *Message) error
	GetConversationMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error)
	MarkMessagesRead(ctx context.Context, conversationID, viewerID string, at time.Time) (int64, error)

	// Batched directory queries (one round trip per concern, not per conversation)
	LatestMessages(ctx context.Context, conversationIDs []string) (map[string]*Message, error)
	UnreadCounts(ctx context.Context, conversationIDs []string, viewerID string) (map[string]int, error)
	UnreadTotal(ctx context.Context, viewerID string) (int, error)

	// Close releases any resources held by the store
	Close() error
}
