// ABOUTME: HTTP API tests using httptest against a real SQLite store
// ABOUTME: Covers auth, conversation flows, error mapping, profiles, and products

package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/restitch/restitch-server/internal/auth"
	"github.com/restitch/restitch-server/internal/messaging"
	"github.com/restitch/restitch-server/internal/store"
)

type testServer struct {
	server   *Server
	store    *store.SQLiteStore
	verifier *auth.JWTVerifier
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := store.NewSQLiteStore(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	verifier := auth.NewJWTVerifier([]byte("test-secret"))
	svc := messaging.New(st, nil, messaging.Options{})

	srv := New(Options{
		Addr:      ":0",
		Store:     st,
		Messaging: svc,
		Verifier:  verifier,
	})

	return &testServer{server: srv, store: st, verifier: verifier}
}

func (ts *testServer) createUser(t *testing.T, id, username string) {
	t.Helper()
	err := ts.store.CreateUser(context.Background(), &store.User{
		ID:        id,
		Username:  username,
		CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
}

// do performs a request as the given user and returns the recorder.
func (ts *testServer) do(t *testing.T, userID, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	if userID != "" {
		token, err := ts.verifier.Generate(userID, time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, "", http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ok")
}

func TestAPI_RequiresAuth(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, "", http.MethodGet, "/api/conversations", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestResolveConversation(t *testing.T) {
	ts := newTestServer(t)
	ts.createUser(t, "alice", "alice")
	ts.createUser(t, "bob", "bob")

	rec := ts.do(t, "alice", http.MethodPost, "/api/conversations",
		ResolveConversationRequest{OtherUserID: "bob"})
	require.Equal(t, http.StatusOK, rec.Code)

	conv := decode[ConversationResponse](t, rec)
	assert.Equal(t, "alice", conv.ParticipantA)
	assert.Equal(t, "bob", conv.ParticipantB)

	// Resolving from the other side returns the same conversation
	rec = ts.do(t, "bob", http.MethodPost, "/api/conversations",
		ResolveConversationRequest{OtherUserID: "alice"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, conv.ID, decode[ConversationResponse](t, rec).ID)
}

func TestResolveConversation_Errors(t *testing.T) {
	ts := newTestServer(t)
	ts.createUser(t, "alice", "alice")

	// Self conversation
	rec := ts.do(t, "alice", http.MethodPost, "/api/conversations",
		ResolveConversationRequest{OtherUserID: "alice"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Missing other user ID
	rec = ts.do(t, "alice", http.MethodPost, "/api/conversations",
		ResolveConversationRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Malformed body
	req := httptest.NewRequest(http.MethodPost, "/api/conversations", bytes.NewBufferString("{oops"))
	token, _ := ts.verifier.Generate("alice", time.Hour)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestConversationFlow(t *testing.T) {
	ts := newTestServer(t)
	ts.createUser(t, "alice", "alice")
	ts.createUser(t, "bob", "bob")

	rec := ts.do(t, "alice", http.MethodPost, "/api/conversations",
		ResolveConversationRequest{OtherUserID: "bob"})
	require.Equal(t, http.StatusOK, rec.Code)
	conv := decode[ConversationResponse](t, rec)

	// Bob sends two messages
	for _, content := range []string{"is this still available?", "would you take 20?"} {
		rec = ts.do(t, "bob", http.MethodPost, "/api/conversations/"+conv.ID+"/messages",
			SendMessageRequest{Kind: store.MessageKindText, Content: content})
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	// Alice's directory shows bob's conversation with an unread count of 2
	rec = ts.do(t, "alice", http.MethodGet, "/api/conversations", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	summaries := decode[[]ConversationSummaryResponse](t, rec)
	require.Len(t, summaries, 1)
	assert.Equal(t, 2, summaries[0].UnreadCount)
	require.NotNil(t, summaries[0].OtherUser)
	assert.Equal(t, "bob", summaries[0].OtherUser.Username)
	require.NotNil(t, summaries[0].LastMessage)
	assert.Equal(t, "would you take 20?", summaries[0].LastMessage.Content)

	// Alice's badge count
	rec = ts.do(t, "alice", http.MethodGet, "/api/unread", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, decode[UnreadResponse](t, rec).Total)

	// Opening the thread returns the messages and clears the unread count
	rec = ts.do(t, "alice", http.MethodGet, "/api/conversations/"+conv.ID+"/messages", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	thread := decode[ThreadResponse](t, rec)
	require.Len(t, thread.Messages, 2)
	assert.Equal(t, "is this still available?", thread.Messages[0].Content)

	rec = ts.do(t, "alice", http.MethodGet, "/api/unread", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, decode[UnreadResponse](t, rec).Total)
}

func TestLoadThread_ErrorMapping(t *testing.T) {
	ts := newTestServer(t)
	ts.createUser(t, "alice", "alice")
	ts.createUser(t, "bob", "bob")
	ts.createUser(t, "mallory", "mallory")

	rec := ts.do(t, "alice", http.MethodPost, "/api/conversations",
		ResolveConversationRequest{OtherUserID: "bob"})
	conv := decode[ConversationResponse](t, rec)

	// Non-participant gets 403
	rec = ts.do(t, "mallory", http.MethodGet, "/api/conversations/"+conv.ID+"/messages", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Missing conversation gets 404
	rec = ts.do(t, "alice", http.MethodGet, "/api/conversations/nonexistent/messages", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Unknown sub-route gets 404
	rec = ts.do(t, "alice", http.MethodGet, "/api/conversations/"+conv.ID+"/attachments", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSendMessage_ErrorMapping(t *testing.T) {
	ts := newTestServer(t)
	ts.createUser(t, "alice", "alice")
	ts.createUser(t, "bob", "bob")

	rec := ts.do(t, "alice", http.MethodPost, "/api/conversations",
		ResolveConversationRequest{OtherUserID: "bob"})
	conv := decode[ConversationResponse](t, rec)

	// Missing content for a text message
	rec = ts.do(t, "alice", http.MethodPost, "/api/conversations/"+conv.ID+"/messages",
		SendMessageRequest{Kind: store.MessageKindText})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Product share referencing a missing product
	rec = ts.do(t, "alice", http.MethodPost, "/api/conversations/"+conv.ID+"/messages",
		SendMessageRequest{Kind: store.MessageKindProductShare, SharedProductID: "nope"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUserProfile(t *testing.T) {
	ts := newTestServer(t)
	ts.createUser(t, "alice", "alice")
	ts.createUser(t, "bob", "bob")
	ts.createUser(t, "carol", "carol")

	// bob and carol follow alice; alice follows bob
	rec := ts.do(t, "bob", http.MethodPost, "/api/users/alice/follow", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = ts.do(t, "carol", http.MethodPost, "/api/users/alice/follow", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = ts.do(t, "alice", http.MethodPost, "/api/users/bob/follow", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = ts.do(t, "bob", http.MethodGet, "/api/users/alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	profile := decode[ProfileResponse](t, rec)
	assert.Equal(t, "alice", profile.Username)
	assert.Equal(t, 2, profile.Followers)
	assert.Equal(t, 1, profile.Following)

	rec = ts.do(t, "bob", http.MethodGet, "/api/users/alice/followers", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[FollowListResponse](t, rec).Users, 2)

	rec = ts.do(t, "bob", http.MethodGet, "/api/users/alice/following", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[FollowListResponse](t, rec).Users, 1)
}

func TestFollow_Errors(t *testing.T) {
	ts := newTestServer(t)
	ts.createUser(t, "alice", "alice")

	// Self follow
	rec := ts.do(t, "alice", http.MethodPost, "/api/users/alice/follow", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Following a missing user
	rec = ts.do(t, "alice", http.MethodPost, "/api/users/ghost/follow", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Unfollowing someone never followed
	rec = ts.do(t, "alice", http.MethodDelete, "/api/users/ghost/follow", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Missing profile
	rec = ts.do(t, "alice", http.MethodGet, "/api/users/ghost", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProducts(t *testing.T) {
	ts := newTestServer(t)
	ts.createUser(t, "alice", "alice")
	ts.createUser(t, "bob", "bob")

	rec := ts.do(t, "bob", http.MethodPost, "/api/products",
		CreateProductRequest{Title: "Vintage denim jacket", PriceCents: 4500})
	require.Equal(t, http.StatusCreated, rec.Code)
	product := decode[ProductResponse](t, rec)
	assert.Equal(t, "bob", product.SellerID)
	assert.Equal(t, store.ProductStatusActive, product.Status)

	rec = ts.do(t, "alice", http.MethodGet, "/api/products/"+product.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Vintage denim jacket", decode[ProductResponse](t, rec).Title)

	rec = ts.do(t, "alice", http.MethodGet, "/api/products?seller_id=bob", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[ProductListResponse](t, rec).Products, 1)

	// Only the seller can mark it sold
	rec = ts.do(t, "alice", http.MethodPatch, "/api/products/"+product.ID+"/status",
		UpdateProductStatusRequest{Status: store.ProductStatusSold})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, "bob", http.MethodPatch, "/api/products/"+product.ID+"/status",
		UpdateProductStatusRequest{Status: store.ProductStatusSold})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, store.ProductStatusSold, decode[ProductResponse](t, rec).Status)
}

func TestProducts_Validation(t *testing.T) {
	ts := newTestServer(t)
	ts.createUser(t, "bob", "bob")

	rec := ts.do(t, "bob", http.MethodPost, "/api/products",
		CreateProductRequest{PriceCents: 100})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, "bob", http.MethodPost, "/api/products",
		CreateProductRequest{Title: "x", PriceCents: -1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, "bob", http.MethodGet, "/api/products/nonexistent", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, "bob", http.MethodPatch, "/api/products/nonexistent/status",
		UpdateProductStatusRequest{Status: "broken"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProductShareMessage(t *testing.T) {
	ts := newTestServer(t)
	ts.createUser(t, "alice", "alice")
	ts.createUser(t, "bob", "bob")

	rec := ts.do(t, "bob", http.MethodPost, "/api/products",
		CreateProductRequest{Title: "Corduroy blazer", PriceCents: 3200})
	require.Equal(t, http.StatusCreated, rec.Code)
	product := decode[ProductResponse](t, rec)

	// Product-scoped conversation
	rec = ts.do(t, "alice", http.MethodPost, "/api/conversations",
		ResolveConversationRequest{OtherUserID: "bob", ProductID: product.ID})
	require.Equal(t, http.StatusOK, rec.Code)
	conv := decode[ConversationResponse](t, rec)
	assert.Equal(t, product.ID, conv.ProductID)

	rec = ts.do(t, "alice", http.MethodPost, "/api/conversations/"+conv.ID+"/messages",
		SendMessageRequest{Kind: store.MessageKindProductShare, SharedProductID: product.ID})
	require.Equal(t, http.StatusCreated, rec.Code)

	// The thread carries the product metadata
	rec = ts.do(t, "bob", http.MethodGet, "/api/conversations/"+conv.ID+"/messages", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	thread := decode[ThreadResponse](t, rec)
	require.NotNil(t, thread.Product)
	assert.Equal(t, "Corduroy blazer", thread.Product.Title)
}
