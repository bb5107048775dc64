// ABOUTME: Tests for the messaging Service
// ABOUTME: Verifies canonical resolution, directory enrichment, and read-state transitions

package messaging

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/restitch/restitch-server/internal/store"
)

func createTestStore(t *testing.T) *store.SQLiteStore {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")
	s, err := store.NewSQLiteStore(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestService(t *testing.T) (*Service, *store.SQLiteStore) {
	s := createTestStore(t)
	return New(s, nil, Options{}), s
}

func createUser(t *testing.T, s *store.SQLiteStore, id string) {
	t.Helper()
	err := s.CreateUser(context.Background(), &store.User{
		ID:        id,
		Username:  id,
		CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
}

func TestResolveConversation_OrderIndependent(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.ResolveConversation(ctx, "bob", "alice", "")
	require.NoError(t, err)
	require.NotNil(t, first)

	// Canonical order regardless of argument order
	assert.Equal(t, "alice", first.ParticipantA)
	assert.Equal(t, "bob", first.ParticipantB)

	// Same pair, either order: same conversation, no duplicate row
	second, err := svc.ResolveConversation(ctx, "alice", "bob", "")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	third, err := svc.ResolveConversation(ctx, "bob", "alice", "")
	require.NoError(t, err)
	assert.Equal(t, first.ID, third.ID)
}

func TestResolveConversation_SelfRejected(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.ResolveConversation(context.Background(), "alice", "alice", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestResolveConversation_MissingIdentifiers(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.ResolveConversation(ctx, "", "bob", "")
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = svc.ResolveConversation(ctx, "alice", "", "")
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestResolveConversation_ProductScope(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	general, err := svc.ResolveConversation(ctx, "alice", "bob", "")
	require.NoError(t, err)

	scoped, err := svc.ResolveConversation(ctx, "alice", "bob", "prod-1")
	require.NoError(t, err)

	// Product-scoped thread is distinct from the general one
	assert.NotEqual(t, general.ID, scoped.ID)
	assert.Equal(t, "prod-1", scoped.ProductID)

	// And resolving the scope again is idempotent
	again, err := svc.ResolveConversation(ctx, "bob", "alice", "prod-1")
	require.NoError(t, err)
	assert.Equal(t, scoped.ID, again.ID)
}

func TestSendMessage_Validation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	conv, err := svc.ResolveConversation(ctx, "alice", "bob", "")
	require.NoError(t, err)

	tests := []struct {
		name string
		req  *SendRequest
	}{
		{"missing kind", &SendRequest{ConversationID: conv.ID, SenderID: "alice", Content: "hi"}},
		{"unknown kind", &SendRequest{ConversationID: conv.ID, SenderID: "alice", Kind: "video", Content: "hi"}},
		{"text without content", &SendRequest{ConversationID: conv.ID, SenderID: "alice", Kind: store.MessageKindText}},
		{"image without url", &SendRequest{ConversationID: conv.ID, SenderID: "alice", Kind: store.MessageKindImage}},
		{"share without product", &SendRequest{ConversationID: conv.ID, SenderID: "alice", Kind: store.MessageKindProductShare}},
		{"missing sender", &SendRequest{ConversationID: conv.ID, Kind: store.MessageKindText, Content: "hi"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.SendMessage(ctx, tt.req)
			assert.ErrorIs(t, err, ErrInvalidRequest)
		})
	}
}

func TestSendMessage_NonParticipantForbidden(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	conv, err := svc.ResolveConversation(ctx, "alice", "bob", "")
	require.NoError(t, err)

	_, err = svc.SendMessage(ctx, &SendRequest{
		ConversationID: conv.ID,
		SenderID:       "mallory",
		Kind:           store.MessageKindText,
		Content:        "let me in",
	})
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestSendMessage_UnknownSharedProduct(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	conv, err := svc.ResolveConversation(ctx, "alice", "bob", "")
	require.NoError(t, err)

	_, err = svc.SendMessage(ctx, &SendRequest{
		ConversationID:  conv.ID,
		SenderID:        "alice",
		Kind:            store.MessageKindProductShare,
		SharedProductID: "prod-missing",
	})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestSendMessage_BumpsActivity(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()

	conv, err := svc.ResolveConversation(ctx, "alice", "bob", "")
	require.NoError(t, err)

	before, err := s.GetConversation(ctx, conv.ID)
	require.NoError(t, err)

	time.Sleep(1100 * time.Millisecond) // RFC3339 timestamps have second resolution

	_, err = svc.SendMessage(ctx, &SendRequest{
		ConversationID: conv.ID,
		SenderID:       "bob",
		Kind:           store.MessageKindText,
		Content:        "still interested?",
	})
	require.NoError(t, err)

	after, err := s.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.True(t, after.LastActivityAt.After(before.LastActivityAt),
		"last_activity_at should advance on send: before=%v after=%v",
		before.LastActivityAt, after.LastActivityAt)
}

func TestLoadThread_Forbidden(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	conv, err := svc.ResolveConversation(ctx, "alice", "bob", "")
	require.NoError(t, err)

	_, err = svc.LoadThread(ctx, conv.ID, "mallory")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrForbidden)
	// The error must not leak message content
	assert.NotContains(t, err.Error(), "alice")
}

func TestLoadThread_NotFound(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.LoadThread(context.Background(), "nonexistent", "alice")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLoadThread_ReturnsPreUpdateSnapshot(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	conv, err := svc.ResolveConversation(ctx, "alice", "bob", "")
	require.NoError(t, err)

	_, err = svc.SendMessage(ctx, &SendRequest{
		ConversationID: conv.ID, SenderID: "bob",
		Kind: store.MessageKindText, Content: "hello alice",
	})
	require.NoError(t, err)

	thread, err := svc.LoadThread(ctx, conv.ID, "alice")
	require.NoError(t, err)
	require.Len(t, thread.Messages, 1)

	// The returned snapshot predates the read-state transition
	assert.Equal(t, store.MessageStatusSent, thread.Messages[0].Status)

	// But the transition has been applied underneath
	count, err := svc.UnreadCount(ctx, conv.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	// A reload shows the messages as read
	thread, err = svc.LoadThread(ctx, conv.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, store.MessageStatusRead, thread.Messages[0].Status)
	require.NotNil(t, thread.Messages[0].ReadAt)
}

func TestLoadThread_ReadStateScenario(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	conv, err := svc.ResolveConversation(ctx, "bob", "alice", "")
	require.NoError(t, err)
	assert.Equal(t, "alice", conv.ParticipantA)
	assert.Equal(t, "bob", conv.ParticipantB)

	// Three messages from bob, one from alice
	for i := 0; i < 3; i++ {
		_, err := svc.SendMessage(ctx, &SendRequest{
			ConversationID: conv.ID, SenderID: "bob",
			Kind: store.MessageKindText, Content: fmt.Sprintf("bob %d", i),
		})
		require.NoError(t, err)
	}
	_, err = svc.SendMessage(ctx, &SendRequest{
		ConversationID: conv.ID, SenderID: "alice",
		Kind: store.MessageKindText, Content: "alice 0",
	})
	require.NoError(t, err)

	count, err := svc.UnreadCount(ctx, conv.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	_, err = svc.LoadThread(ctx, conv.ID, "alice")
	require.NoError(t, err)

	count, err = svc.UnreadCount(ctx, conv.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	// Bob still has alice's one message unread
	count, err = svc.UnreadCount(ctx, conv.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestLoadThread_RepeatIsNoOp(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	conv, err := svc.ResolveConversation(ctx, "alice", "bob", "")
	require.NoError(t, err)

	_, err = svc.SendMessage(ctx, &SendRequest{
		ConversationID: conv.ID, SenderID: "bob",
		Kind: store.MessageKindText, Content: "hi",
	})
	require.NoError(t, err)

	_, err = svc.LoadThread(ctx, conv.ID, "alice")
	require.NoError(t, err)

	first, err := svc.LoadThread(ctx, conv.ID, "alice")
	require.NoError(t, err)
	require.NotNil(t, first.Messages[0].ReadAt)
	firstReadAt := *first.Messages[0].ReadAt

	// Once read, a later open never reverts the status or moves read_at
	again, err := svc.LoadThread(ctx, conv.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, store.MessageStatusRead, again.Messages[0].Status)
	assert.True(t, again.Messages[0].ReadAt.Equal(firstReadAt))
}

func TestLoadThread_PageBound(t *testing.T) {
	s := createTestStore(t)
	svc := New(s, nil, Options{ThreadPageSize: 2})
	ctx := context.Background()

	conv, err := svc.ResolveConversation(ctx, "alice", "bob", "")
	require.NoError(t, err)

	base := time.Now().UTC().Add(-time.Hour).Truncate(time.Second)
	for i := 0; i < 4; i++ {
		err := s.SaveMessage(ctx, &store.Message{
			ID:             fmt.Sprintf("m%d", i),
			ConversationID: conv.ID,
			SenderID:       "bob",
			Kind:           store.MessageKindText,
			Content:        fmt.Sprintf("msg %d", i),
			CreatedAt:      base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}

	thread, err := svc.LoadThread(ctx, conv.ID, "alice")
	require.NoError(t, err)

	// Most recent page, oldest first within the page
	require.Len(t, thread.Messages, 2)
	assert.Equal(t, "m2", thread.Messages[0].ID)
	assert.Equal(t, "m3", thread.Messages[1].ID)
}

func TestLoadThread_ProductMetadata(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()

	createUser(t, s, "bob")
	require.NoError(t, s.CreateProduct(ctx, &store.Product{
		ID: "prod-1", SellerID: "bob", Title: "Corduroy blazer",
		PriceCents: 3200, CreatedAt: time.Now().UTC(),
	}))

	conv, err := svc.ResolveConversation(ctx, "alice", "bob", "prod-1")
	require.NoError(t, err)

	thread, err := svc.LoadThread(ctx, conv.ID, "alice")
	require.NoError(t, err)
	require.NotNil(t, thread.Product)
	assert.Equal(t, "Corduroy blazer", thread.Product.Title)
	require.NotNil(t, thread.OtherUser)
	assert.Equal(t, "bob", thread.OtherUser.Username)
}

func TestListConversations_Empty(t *testing.T) {
	svc, _ := newTestService(t)

	summaries, err := svc.ListConversations(context.Background(), "alice")
	require.NoError(t, err)
	assert.Empty(t, summaries)
}

func TestListConversations_Enrichment(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()

	createUser(t, s, "bob")
	createUser(t, s, "carol")

	convBob, err := svc.ResolveConversation(ctx, "alice", "bob", "")
	require.NoError(t, err)
	convCarol, err := svc.ResolveConversation(ctx, "alice", "carol", "")
	require.NoError(t, err)

	time.Sleep(1100 * time.Millisecond) // RFC3339 timestamps have second resolution

	_, err = svc.SendMessage(ctx, &SendRequest{
		ConversationID: convBob.ID, SenderID: "bob",
		Kind: store.MessageKindText, Content: "first",
	})
	require.NoError(t, err)
	_, err = svc.SendMessage(ctx, &SendRequest{
		ConversationID: convBob.ID, SenderID: "bob",
		Kind: store.MessageKindText, Content: "latest from bob",
	})
	require.NoError(t, err)

	summaries, err := svc.ListConversations(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, summaries, 2)

	// Bob's conversation is more recently active, so it comes first
	first := summaries[0]
	assert.Equal(t, convBob.ID, first.Conversation.ID)
	require.NotNil(t, first.OtherUser)
	assert.Equal(t, "bob", first.OtherUser.Username)
	require.NotNil(t, first.LastMessage)
	assert.Equal(t, "latest from bob", first.LastMessage.Content)
	assert.Equal(t, 2, first.UnreadCount)

	second := summaries[1]
	assert.Equal(t, convCarol.ID, second.Conversation.ID)
	assert.Nil(t, second.LastMessage)
	assert.Equal(t, 0, second.UnreadCount)
}

func TestListConversations_OrderingStrictlyDescending(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Second)
	for i, other := range []string{"bob", "carol", "dave"} {
		low, high := "alice", other
		if other < low {
			low, high = other, low
		}
		err := s.CreateConversation(ctx, &store.Conversation{
			ID:             fmt.Sprintf("conv-%d", i),
			ParticipantA:   low,
			ParticipantB:   high,
			CreatedAt:      base,
			LastActivityAt: base.Add(time.Duration(i) * time.Hour),
		})
		require.NoError(t, err)
	}

	summaries, err := svc.ListConversations(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, summaries, 3)

	for i := 1; i < len(summaries); i++ {
		prev := summaries[i-1].Conversation.LastActivityAt
		cur := summaries[i].Conversation.LastActivityAt
		assert.True(t, prev.After(cur),
			"expected strictly descending activity, got %v then %v", prev, cur)
	}
}

func TestUnreadTotal(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	convBob, err := svc.ResolveConversation(ctx, "alice", "bob", "")
	require.NoError(t, err)
	convCarol, err := svc.ResolveConversation(ctx, "alice", "carol", "")
	require.NoError(t, err)

	for _, send := range []struct {
		conv   string
		sender string
	}{
		{convBob.ID, "bob"},
		{convBob.ID, "bob"},
		{convCarol.ID, "carol"},
		{convBob.ID, "alice"},
	} {
		_, err := svc.SendMessage(ctx, &SendRequest{
			ConversationID: send.conv, SenderID: send.sender,
			Kind: store.MessageKindText, Content: "hi",
		})
		require.NoError(t, err)
	}

	total, err := svc.UnreadTotal(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 3, total)

	_, err = svc.LoadThread(ctx, convBob.ID, "alice")
	require.NoError(t, err)

	total, err = svc.UnreadTotal(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

// failingStore wraps the SQLite store to fail specific calls
type failingStore struct {
	ConversationStore
	failMarkRead bool
	failList     bool
}

func (f *failingStore) MarkMessagesRead(ctx context.Context, conversationID, viewerID string, at time.Time) (int64, error) {
	if f.failMarkRead {
		return 0, errors.New("disk on fire")
	}
	return f.ConversationStore.MarkMessagesRead(ctx, conversationID, viewerID, at)
}

func (f *failingStore) ListConversationsByUser(ctx context.Context, userID string) ([]*store.Conversation, error) {
	if f.failList {
		return nil, errors.New("disk on fire")
	}
	return f.ConversationStore.ListConversationsByUser(ctx, userID)
}

func TestLoadThread_ReadStateFailureDoesNotFailLoad(t *testing.T) {
	s := createTestStore(t)
	wrapped := &failingStore{ConversationStore: s, failMarkRead: true}
	svc := New(wrapped, nil, Options{})
	ctx := context.Background()

	conv, err := svc.ResolveConversation(ctx, "alice", "bob", "")
	require.NoError(t, err)

	_, err = svc.SendMessage(ctx, &SendRequest{
		ConversationID: conv.ID, SenderID: "bob",
		Kind: store.MessageKindText, Content: "hi",
	})
	require.NoError(t, err)

	// The message list still loads even though the read-state update failed
	thread, err := svc.LoadThread(ctx, conv.ID, "alice")
	require.NoError(t, err)
	require.Len(t, thread.Messages, 1)

	// And nothing was marked read
	count, err := svc.UnreadCount(ctx, conv.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestListConversations_StoreFailureIsDistinguishable(t *testing.T) {
	s := createTestStore(t)
	wrapped := &failingStore{ConversationStore: s, failList: true}
	svc := New(wrapped, nil, Options{})

	// A failed fetch must surface as an error, never as an empty directory
	_, err := svc.ListConversations(context.Background(), "alice")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}
