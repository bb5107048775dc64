// ABOUTME: Product listing persistence for the SQLite store
// ABOUTME: Covers listing creation, lookup, status transitions, and seller queries

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// CreateProduct inserts a new listing.
func (s *SQLiteStore) CreateProduct(ctx context.Context, product *Product) error {
	status := product.Status
	if status == "" {
		status = ProductStatusActive
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, seller_id, title, price_cents, image_url, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, product.ID, product.SellerID, product.Title, product.PriceCents,
		product.ImageURL, status, product.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("inserting product: %w", err)
	}

	s.logger.Debug("created product", "id", product.ID, "seller", product.SellerID)
	return nil
}

// GetProduct retrieves a listing by ID.
// Returns ErrNotFound if the listing doesn't exist.
func (s *SQLiteStore) GetProduct(ctx context.Context, id string) (*Product, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, seller_id, title, price_cents, image_url, status, created_at
		FROM products
		WHERE id = ?
	`, id)

	var product Product
	var createdAtStr string

	err := row.Scan(&product.ID, &product.SellerID, &product.Title,
		&product.PriceCents, &product.ImageURL, &product.Status, &createdAtStr)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying product: %w", err)
	}

	product.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	return &product, nil
}

// UpdateProductStatus transitions a listing's status.
// Returns ErrNotFound if the listing doesn't exist.
func (s *SQLiteStore) UpdateProductStatus(ctx context.Context, id, status string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE products SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("updating product status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("updated product status", "id", id, "status", status)
	return nil
}

// ListProductsBySeller retrieves a seller's listings, newest first.
func (s *SQLiteStore) ListProductsBySeller(ctx context.Context, sellerID string, limit int) ([]*Product, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, seller_id, title, price_cents, image_url, status, created_at
		FROM products
		WHERE seller_id = ?
		ORDER BY created_at DESC, id
		LIMIT ?
	`, sellerID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying products: %w", err)
	}
	defer rows.Close()

	var products []*Product
	for rows.Next() {
		var product Product
		var createdAtStr string
		if err := rows.Scan(&product.ID, &product.SellerID, &product.Title,
			&product.PriceCents, &product.ImageURL, &product.Status, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scanning product row: %w", err)
		}
		product.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		products = append(products, &product)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating product rows: %w", err)
	}

	return products, nil
}
