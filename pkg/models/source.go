// Package models defines the records flowing through starload: the raw
// source record sets, the conformed row-per-order record, and the fact row
// written to the warehouse.
package models

import (
	"github.com/shopspring/decimal"
)

// OrderItem is one row of the order-items source
type OrderItem struct {
	OrderID   string
	ItemSeq   int // order_item_id, 1-based position of the item in the order
	ProductID string
	Price     decimal.NullDecimal
	Freight   decimal.NullDecimal
}

// Payment is one row of the order-payments source
type Payment struct {
	OrderID      string
	Type         string
	Installments *int
}

// Order is one row of the orders source
type Order struct {
	OrderID           string
	CustomerID        string
	Status            string
	PurchaseTimestamp string
}

// Product is one row of the products source
type Product struct {
	ProductID string
	Category  string
}

// Customer is one row of the customers source
type Customer struct {
	CustomerID string
	City       string
	State      string
}

// Review is one review document reduced to what the pipeline needs
type Review struct {
	OrderID string
	Score   *int
}

// SourceSet holds every extracted record set of one run
type SourceSet struct {
	Items     []OrderItem
	Payments  []Payment
	Orders    []Order
	Products  []Product
	Customers []Customer
	Reviews   []Review
}

// Counts returns the number of rows per source, keyed like the config
func (s *SourceSet) Counts() map[string]int {
	return map[string]int{
		"order_items": len(s.Items),
		"payments":    len(s.Payments),
		"orders":      len(s.Orders),
		"products":    len(s.Products),
		"customers":   len(s.Customers),
		"reviews":     len(s.Reviews),
	}
}

// IntPtr returns a pointer to v
func IntPtr(v int) *int {
	return &v
}
