package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Null-handling sentinels
const (
	// PaymentMethodNotDefined replaces a missing payment method
	PaymentMethodNotDefined = "not defined"
	// NotInformed replaces a missing product category, customer city or state
	NotInformed = "not informed"
	// MissingScore replaces a missing review score; valid scores are 1..5
	MissingScore = -1
	// MissingInstallments replaces a missing installment count
	MissingInstallments = -1
)

// TimestampLayout is the layout of order_purchase_timestamp
const TimestampLayout = "2006-01-02 15:04:05"

// OrderTime is a purchase timestamp decomposed for the time dimension
type OrderTime struct {
	Timestamp time.Time
	Day       string // weekday name
	Month     string // month name
	Quarter   int
	Year      int
	Date      string // 2006-01-02
	TimeOfDay string // 15:04:05
}

// NewOrderTime decomposes ts, truncated to the second
func NewOrderTime(ts time.Time) OrderTime {
	ts = ts.UTC().Truncate(time.Second)
	return OrderTime{
		Timestamp: ts,
		Day:       ts.Weekday().String(),
		Month:     ts.Month().String(),
		Quarter:   (int(ts.Month())-1)/3 + 1,
		Year:      ts.Year(),
		Date:      ts.Format("2006-01-02"),
		TimeOfDay: ts.Format("15:04:05"),
	}
}

// Key is the natural key of the time dimension
func (t OrderTime) Key() string {
	return t.Timestamp.Format(TimestampLayout)
}

// ConformedRecord merges every source for one order, post deduplication
// and null handling. Empty CustomerID, Status or a nil OrderTime mean the
// order row itself was missing; such records cannot resolve every
// dimension and are held back by the fact loader.
type ConformedRecord struct {
	OrderID   string
	ItemCount int
	ProductID string

	Price        decimal.NullDecimal
	Freight      decimal.NullDecimal
	PaymentValue decimal.NullDecimal

	PaymentMethod string
	Installments  int

	CustomerID    string
	CustomerCity  string
	CustomerState string

	Status    string
	OrderTime *OrderTime

	ProductCategory string
	Score           int
}

// FactRow is one row of fact_order
type FactRow struct {
	OrderID      uuid.UUID
	Score        int
	PaymentValue decimal.NullDecimal
	ProductPrice decimal.NullDecimal
	FreightValue decimal.NullDecimal
	Installments int
	ItemCount    int

	TimeID          uuid.UUID
	CustomerID      uuid.UUID
	ProductID       uuid.UUID
	PaymentMethodID uuid.UUID
	StatusID        uuid.UUID
}
