// ABOUTME: HTTP handlers for the per-user shopping cart
// ABOUTME: Serves cart reads, line mutations, and derived totals

package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/restitch/restitch-server/internal/auth"
	"github.com/restitch/restitch-server/internal/cart"
	"github.com/restitch/restitch-server/internal/store"
)

// cartRegistry hands out one Cart per user, restoring persisted snapshots on
// first access.
type cartRegistry struct {
	mu      sync.Mutex
	carts   map[string]*cart.Cart
	pricing cart.Pricing
	persist cart.Persister
}

func newCartRegistry(pricing cart.Pricing, persist cart.Persister) *cartRegistry {
	return &cartRegistry{
		carts:   make(map[string]*cart.Cart),
		pricing: pricing,
		persist: persist,
	}
}

func (r *cartRegistry) get(userID string) *cart.Cart {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.carts[userID]; ok {
		return c
	}
	c := cart.Restore(userID, r.pricing, r.persist, nil)
	r.carts[userID] = c
	return c
}

// AddCartItemRequest is the JSON request body for POST /api/cart/items.
type AddCartItemRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity,omitempty"`
}

// UpdateCartItemRequest is the JSON request body for PATCH /api/cart/items/{id}.
type UpdateCartItemRequest struct {
	Quantity int `json:"quantity"`
}

// CartResponse is the JSON response for cart reads and mutations.
type CartResponse struct {
	Items    []cart.Item `json:"items"`
	Count    int         `json:"count"`
	Subtotal int64       `json:"subtotal_cents"`
	Tax      int64       `json:"tax_cents"`
	Shipping int64       `json:"shipping_cents"`
	Total    int64       `json:"total_cents"`
}

func cartToResponse(c *cart.Cart) CartResponse {
	return CartResponse{
		Items:    c.Items(),
		Count:    c.Count(),
		Subtotal: c.Subtotal(),
		Tax:      c.Tax(),
		Shipping: c.Shipping(),
		Total:    c.Total(),
	}
}

// handleCart handles /api/cart: GET returns the cart, DELETE clears it.
func (s *Server) handleCart(w http.ResponseWriter, r *http.Request) {
	viewer := auth.MustFromContext(r.Context())
	c := s.carts.get(viewer.UserID)

	switch r.Method {
	case http.MethodGet:
		s.writeJSON(w, http.StatusOK, cartToResponse(c))
	case http.MethodDelete:
		c.Clear()
		s.writeJSON(w, http.StatusOK, cartToResponse(c))
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleCartItems dispatches /api/cart/items and /api/cart/items/{id}.
func (s *Server) handleCartItems(w http.ResponseWriter, r *http.Request) {
	viewer := auth.MustFromContext(r.Context())
	c := s.carts.get(viewer.UserID)

	rest := strings.TrimPrefix(r.URL.Path, "/api/cart/items")
	productID := strings.TrimPrefix(rest, "/")

	switch {
	case productID == "" && r.Method == http.MethodPost:
		s.handleAddCartItem(w, r, c)
	case productID != "" && r.Method == http.MethodPatch:
		s.handleUpdateCartItem(w, r, c, productID)
	case productID != "" && r.Method == http.MethodDelete:
		c.RemoveItem(productID)
		s.writeJSON(w, http.StatusOK, cartToResponse(c))
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleAddCartItem(w http.ResponseWriter, r *http.Request, c *cart.Cart) {
	var req AddCartItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ProductID == "" {
		s.sendJSONError(w, http.StatusBadRequest, "product_id is required")
		return
	}

	product, err := s.store.GetProduct(r.Context(), req.ProductID)
	if errors.Is(err, store.ErrNotFound) {
		s.sendJSONError(w, http.StatusNotFound, "product not found")
		return
	}
	if err != nil {
		s.logger.Error("loading product failed", "error", err, "product_id", req.ProductID)
		s.sendJSONError(w, http.StatusServiceUnavailable, "service temporarily unavailable")
		return
	}
	if product.Status != store.ProductStatusActive {
		s.sendJSONError(w, http.StatusBadRequest, "product is no longer available")
		return
	}

	if err := c.AddItem(cart.Item{
		ProductID:  product.ID,
		Title:      product.Title,
		PriceCents: product.PriceCents,
		ImageURL:   product.ImageURL,
		Quantity:   req.Quantity,
	}); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, cartToResponse(c))
}

func (s *Server) handleUpdateCartItem(w http.ResponseWriter, r *http.Request, c *cart.Cart, productID string) {
	var req UpdateCartItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := c.UpdateQuantity(productID, req.Quantity); err != nil {
		s.sendJSONError(w, http.StatusNotFound, err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, cartToResponse(c))
}
