// Package model defines domain types used by the order pipeline.
package model

import "github.com/shopspring/decimal"

// UnknownProductDescription is recorded for orders whose product is not in
// the inventory.
const UnknownProductDescription = "Invalid Product"

// Item is anything a producer may place on the order queue.
type Item interface {
	Source() int
}

// Order is a single customer order read from a producer's source.
type Order struct {
	CustomerID uint64 `json:"customer_id"`
	ProductID  uint64 `json:"product_id"`
	Quantity   uint64 `json:"quantity"`
	SourceID   int    `json:"source_id"`
}

// Source returns the producer that created the order.
func (o Order) Source() int { return o.SourceID }

// EndOfStream is enqueued exactly once by every producer, after its last order.
type EndOfStream struct {
	SourceID int
}

// Source returns the producer that finished.
func (e EndOfStream) Source() int { return e.SourceID }

// InventoryItem represents the current state of a product.
type InventoryItem struct {
	ProductID   uint64          `json:"product_id"`
	Price       decimal.Decimal `json:"price"`
	Stock       uint64          `json:"stock"`
	Description string          `json:"description"`
}

// TransactionRecord is the outcome of resolving one order.
type TransactionRecord struct {
	Seq         uint64          `json:"seq"`
	SourceID    int             `json:"source_id"`
	CustomerID  uint64          `json:"customer_id"`
	ProductID   uint64          `json:"product_id"`
	Description string          `json:"description"`
	Quantity    uint64          `json:"quantity"`
	Amount      decimal.Decimal `json:"amount"`
	Filled      bool            `json:"filled"`
}
