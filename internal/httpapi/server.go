// ABOUTME: HTTP server wiring for the marketplace API
// ABOUTME: Registers routes, applies auth middleware, and handles graceful shutdown

package httpapi

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/restitch/restitch-server/internal/auth"
	"github.com/restitch/restitch-server/internal/cart"
	"github.com/restitch/restitch-server/internal/messaging"
	"github.com/restitch/restitch-server/internal/store"
)

// Server serves the marketplace JSON API.
type Server struct {
	store      store.Store
	messaging  *messaging.Service
	verifier   auth.TokenVerifier
	carts      *cartRegistry
	logger     *slog.Logger
	httpServer *http.Server
}

// Options configures a Server.
type Options struct {
	Addr          string
	Store         store.Store
	Messaging     *messaging.Service
	Verifier      auth.TokenVerifier
	CartPricing   cart.Pricing
	CartPersister cart.Persister // nil disables cart snapshots
	Logger        *slog.Logger
}

// New creates a Server with its routes registered.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		store:     opts.Store,
		messaging: opts.Messaging,
		verifier:  opts.Verifier,
		carts:     newCartRegistry(opts.CartPricing, opts.CartPersister),
		logger:    logger.With("component", "httpapi"),
	}

	mux := http.NewServeMux()
	s.registerRoutes(mux)

	s.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// registerRoutes wires the API routes onto the mux. Every /api route sits
// behind the bearer-token middleware; /health does not.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", s.handleHealth)

	authed := auth.Middleware(s.store, s.verifier)
	mux.Handle("/api/conversations", authed(http.HandlerFunc(s.handleConversations)))
	mux.Handle("/api/conversations/", authed(http.HandlerFunc(s.handleConversationRoutes)))
	mux.Handle("/api/unread", authed(http.HandlerFunc(s.handleUnread)))
	mux.Handle("/api/users/", authed(http.HandlerFunc(s.handleUserRoutes)))
	mux.Handle("/api/products", authed(http.HandlerFunc(s.handleProducts)))
	mux.Handle("/api/products/", authed(http.HandlerFunc(s.handleProductRoutes)))
	mux.Handle("/api/cart", authed(http.HandlerFunc(s.handleCart)))
	mux.Handle("/api/cart/items", authed(http.HandlerFunc(s.handleCartItems)))
	mux.Handle("/api/cart/items/", authed(http.HandlerFunc(s.handleCartItems)))
}

// Handler returns the server's root handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start runs the HTTP server until the context is cancelled, then shuts it
// down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s.logger.Info("shutting down http server")
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

// handleHealth handles GET /health requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintln(w, `{"status":"ok"}`)
}
