// Package cart is an explicit state container for a shopper's cart.
//
// A Cart is constructed once per session and owns its state: all mutations
// (AddItem, RemoveItem, UpdateQuantity, Clear) go through its methods, and
// every mutation serializes the new contents and hands them to the Persister
// before returning. Money figures (Count, Subtotal, Tax, Shipping, Total) are
// derived projections computed on read, never stored.
//
// Persistence is snapshot-replace with last-writer-wins semantics: there is
// no cross-session locking, and the in-memory state remains the session's
// source of truth even when a persist fails.
package cart
