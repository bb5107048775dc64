// ABOUTME: HTTP handlers for product listings
// ABOUTME: Serves create, fetch, seller listing, and status transition routes

package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/restitch/restitch-server/internal/auth"
	"github.com/restitch/restitch-server/internal/store"
)

const productListLimit = 100

// CreateProductRequest is the JSON request body for POST /api/products.
type CreateProductRequest struct {
	Title      string `json:"title"`
	PriceCents int64  `json:"price_cents"`
	ImageURL   string `json:"image_url,omitempty"`
}

// UpdateProductStatusRequest is the JSON request body for PATCH /api/products/{id}/status.
type UpdateProductStatusRequest struct {
	Status string `json:"status"`
}

// ProductResponse is the JSON shape of a product listing.
type ProductResponse struct {
	ID         string `json:"id"`
	SellerID   string `json:"seller_id"`
	Title      string `json:"title"`
	PriceCents int64  `json:"price_cents"`
	ImageURL   string `json:"image_url,omitempty"`
	Status     string `json:"status"`
	CreatedAt  string `json:"created_at"`
}

// ProductListResponse is the JSON response for GET /api/products?seller_id=X.
type ProductListResponse struct {
	Products []ProductResponse `json:"products"`
}

func productToResponse(p *store.Product) *ProductResponse {
	return &ProductResponse{
		ID:         p.ID,
		SellerID:   p.SellerID,
		Title:      p.Title,
		PriceCents: p.PriceCents,
		ImageURL:   p.ImageURL,
		Status:     p.Status,
		CreatedAt:  p.CreatedAt.Format(time.RFC3339),
	}
}

// handleProducts handles /api/products: POST creates a listing, GET lists a
// seller's listings.
func (s *Server) handleProducts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateProduct(w, r)
	case http.MethodGet:
		s.handleListProducts(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	viewer := auth.MustFromContext(r.Context())

	var req CreateProductRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Title == "" {
		s.sendJSONError(w, http.StatusBadRequest, "title is required")
		return
	}
	if req.PriceCents < 0 {
		s.sendJSONError(w, http.StatusBadRequest, "price_cents must not be negative")
		return
	}

	product := &store.Product{
		ID:         uuid.New().String(),
		SellerID:   viewer.UserID,
		Title:      req.Title,
		PriceCents: req.PriceCents,
		ImageURL:   req.ImageURL,
		Status:     store.ProductStatusActive,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.store.CreateProduct(r.Context(), product); err != nil {
		s.logger.Error("creating product failed", "error", err)
		s.sendJSONError(w, http.StatusServiceUnavailable, "service temporarily unavailable")
		return
	}

	s.writeJSON(w, http.StatusCreated, productToResponse(product))
}

func (s *Server) handleListProducts(w http.ResponseWriter, r *http.Request) {
	sellerID := r.URL.Query().Get("seller_id")
	if sellerID == "" {
		s.sendJSONError(w, http.StatusBadRequest, "seller_id query param is required")
		return
	}

	products, err := s.store.ListProductsBySeller(r.Context(), sellerID, productListLimit)
	if err != nil {
		s.logger.Error("listing products failed", "error", err, "seller_id", sellerID)
		s.sendJSONError(w, http.StatusServiceUnavailable, "service temporarily unavailable")
		return
	}

	response := ProductListResponse{Products: make([]ProductResponse, len(products))}
	for i, p := range products {
		response.Products[i] = *productToResponse(p)
	}

	s.writeJSON(w, http.StatusOK, response)
}

// handleProductRoutes dispatches /api/products/{id} and /api/products/{id}/status.
func (s *Server) handleProductRoutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/products/")
	productID, sub, _ := strings.Cut(rest, "/")
	if productID == "" {
		s.sendJSONError(w, http.StatusNotFound, "not found")
		return
	}

	switch sub {
	case "":
		s.handleGetProduct(w, r, productID)
	case "status":
		s.handleUpdateProductStatus(w, r, productID)
	default:
		s.sendJSONError(w, http.StatusNotFound, "not found")
	}
}

func (s *Server) handleGetProduct(w http.ResponseWriter, r *http.Request, productID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	product, err := s.store.GetProduct(r.Context(), productID)
	if errors.Is(err, store.ErrNotFound) {
		s.sendJSONError(w, http.StatusNotFound, "product not found")
		return
	}
	if err != nil {
		s.logger.Error("loading product failed", "error", err, "product_id", productID)
		s.sendJSONError(w, http.StatusServiceUnavailable, "service temporarily unavailable")
		return
	}

	s.writeJSON(w, http.StatusOK, productToResponse(product))
}

// handleUpdateProductStatus handles PATCH /api/products/{id}/status.
// Only the seller may change a listing's status.
func (s *Server) handleUpdateProductStatus(w http.ResponseWriter, r *http.Request, productID string) {
	if r.Method != http.MethodPatch {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	viewer := auth.MustFromContext(r.Context())

	var req UpdateProductStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	switch req.Status {
	case store.ProductStatusActive, store.ProductStatusSold, store.ProductStatusRemoved:
	default:
		s.sendJSONError(w, http.StatusBadRequest, "status must be active, sold, or removed")
		return
	}

	product, err := s.store.GetProduct(r.Context(), productID)
	if errors.Is(err, store.ErrNotFound) {
		s.sendJSONError(w, http.StatusNotFound, "product not found")
		return
	}
	if err != nil {
		s.logger.Error("loading product failed", "error", err, "product_id", productID)
		s.sendJSONError(w, http.StatusServiceUnavailable, "service temporarily unavailable")
		return
	}
	if product.SellerID != viewer.UserID {
		s.sendJSONError(w, http.StatusForbidden, "only the seller can update this listing")
		return
	}

	if err := s.store.UpdateProductStatus(r.Context(), productID, req.Status); err != nil {
		s.logger.Error("updating product status failed", "error", err, "product_id", productID)
		s.sendJSONError(w, http.StatusServiceUnavailable, "service temporarily unavailable")
		return
	}

	product.Status = req.Status
	s.writeJSON(w, http.StatusOK, productToResponse(product))
}
