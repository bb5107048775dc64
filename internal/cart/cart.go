// ABOUTME: Thread-safe shopping cart state container with derived money totals
// ABOUTME: Serializes and persists the cart on every mutation, last writer wins

package cart

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
)

// Pricing holds the rates used to derive money projections from cart contents.
type Pricing struct {
	TaxRate               float64 // e.g. 0.0725 for 7.25%
	ShippingCents         int64   // flat shipping charge
	FreeShippingOverCents int64   // subtotal at or above this ships free; 0 disables
}

// Item is a single cart line.
type Item struct {
	ProductID  string `json:"product_id"`
	Title      string `json:"title"`
	PriceCents int64  `json:"price_cents"`
	ImageURL   string `json:"image_url,omitempty"`
	Quantity   int    `json:"quantity"`
}

// Persister stores a serialized cart snapshot. Writes replace the previous
// snapshot wholesale; concurrent writers settle last-writer-wins.
type Persister interface {
	Save(key string, data []byte) error
	Load(key string) ([]byte, error)
}

// Cart is an explicit state container for one shopper's cart. All reads and
// mutations go through its methods; every mutation serializes the new state
// and hands it to the persister before returning.
type Cart struct {
	mu       sync.RWMutex
	key      string
	items    map[string]*Item // keyed by product ID
	pricing  Pricing
	persist  Persister
	logger   *slog.Logger
}

// New creates an empty cart for the given key (one per shopper session).
// A nil persister disables persistence.
func New(key string, pricing Pricing, persist Persister, logger *slog.Logger) *Cart {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cart{
		key:     key,
		items:   make(map[string]*Item),
		pricing: pricing,
		persist: persist,
		logger:  logger.With("component", "cart"),
	}
}

// Restore creates a cart and loads any previously persisted snapshot for the
// key. A missing or unreadable snapshot starts empty.
func Restore(key string, pricing Pricing, persist Persister, logger *slog.Logger) *Cart {
	c := New(key, pricing, persist, logger)
	if persist == nil {
		return c
	}

	data, err := persist.Load(key)
	if err != nil || len(data) == 0 {
		return c
	}

	var items []*Item
	if err := json.Unmarshal(data, &items); err != nil {
		c.logger.Warn("discarding unreadable cart snapshot", "key", key, "error", err)
		return c
	}
	for _, item := range items {
		if item.ProductID == "" || item.Quantity <= 0 {
			continue
		}
		c.items[item.ProductID] = item
	}
	return c
}

// AddItem adds a product to the cart, or increments its quantity when the
// product is already present.
func (c *Cart) AddItem(item Item) error {
	if item.ProductID == "" {
		return fmt.Errorf("product id is required")
	}
	if item.Quantity <= 0 {
		item.Quantity = 1
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.items[item.ProductID]; ok {
		existing.Quantity += item.Quantity
	} else {
		copied := item
		c.items[item.ProductID] = &copied
	}

	c.persistLocked()
	return nil
}

// RemoveItem removes a product from the cart. Removing an absent product is a no-op.
func (c *Cart) RemoveItem(productID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.items[productID]; !ok {
		return
	}
	delete(c.items, productID)
	c.persistLocked()
}

// UpdateQuantity sets the quantity for a product already in the cart.
// A quantity of zero or less removes the line.
func (c *Cart) UpdateQuantity(productID string, quantity int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, ok := c.items[productID]
	if !ok {
		return fmt.Errorf("product %s is not in the cart", productID)
	}

	if quantity <= 0 {
		delete(c.items, productID)
	} else {
		item.Quantity = quantity
	}

	c.persistLocked()
	return nil
}

// Clear empties the cart.
func (c *Cart) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*Item)
	c.persistLocked()
}

// Items returns a copy of the cart lines.
func (c *Cart) Items() []Item {
	c.mu.RLock()
	defer c.mu.RUnlock()

	items := make([]Item, 0, len(c.items))
	for _, item := range c.items {
		items = append(items, *item)
	}
	return items
}

// Count returns the total quantity across all lines.
func (c *Cart) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	total := 0
	for _, item := range c.items {
		total += item.Quantity
	}
	return total
}

// Subtotal returns the pre-tax, pre-shipping total in cents.
func (c *Cart) Subtotal() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subtotalLocked()
}

func (c *Cart) subtotalLocked() int64 {
	var total int64
	for _, item := range c.items {
		total += item.PriceCents * int64(item.Quantity)
	}
	return total
}

// Tax returns the tax in cents, rounded to the nearest cent.
func (c *Cart) Tax() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.taxLocked()
}

func (c *Cart) taxLocked() int64 {
	return int64(float64(c.subtotalLocked())*c.pricing.TaxRate + 0.5)
}

// Shipping returns the shipping charge in cents. An empty cart ships nothing;
// a subtotal at or above the free-shipping threshold ships free.
func (c *Cart) Shipping() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.shippingLocked()
}

func (c *Cart) shippingLocked() int64 {
	subtotal := c.subtotalLocked()
	if subtotal == 0 {
		return 0
	}
	if c.pricing.FreeShippingOverCents > 0 && subtotal >= c.pricing.FreeShippingOverCents {
		return 0
	}
	return c.pricing.ShippingCents
}

// Total returns subtotal + tax + shipping in cents.
func (c *Cart) Total() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subtotalLocked() + c.taxLocked() + c.shippingLocked()
}

// persistLocked serializes the current lines and hands them to the persister.
// Persistence failures are logged, not propagated: the in-memory state is the
// source of truth for the session.
func (c *Cart) persistLocked() {
	if c.persist == nil {
		return
	}

	items := make([]*Item, 0, len(c.items))
	for _, item := range c.items {
		items = append(items, item)
	}

	data, err := json.Marshal(items)
	if err != nil {
		c.logger.Warn("cart serialization failed", "key", c.key, "error", err)
		return
	}
	if err := c.persist.Save(c.key, data); err != nil {
		c.logger.Warn("cart persistence failed", "key", c.key, "error", err)
	}
}
