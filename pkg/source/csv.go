package source

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/ajitpratap0/starload/pkg/models"
)

// TableStats counts what one tabular source yielded
type TableStats struct {
	Rows      int
	Malformed int // numeric cells that failed to parse and were treated as absent
}

// header maps column names to their position in a record
type header map[string]int

func (h header) get(record []string, column string) string {
	i, ok := h[column]
	if !ok || i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}

// scanCSV reads a header-led CSV stream, checks that every required column
// is present, and calls fn for each data row.
func scanCSV(r io.Reader, required []string, fn func(h header, record []string)) (int, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	names, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return 0, fmt.Errorf("empty file: no header row")
		}
		return 0, fmt.Errorf("read header: %w", err)
	}

	h := make(header, len(names))
	for i, name := range names {
		name = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
		if _, dup := h[name]; !dup {
			h[name] = i
		}
	}
	for _, col := range required {
		if _, ok := h[col]; !ok {
			return 0, &MissingColumnError{Column: col}
		}
	}

	rows := 0
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		if err != nil {
			return rows, fmt.Errorf("read row %d: %w", rows+1, err)
		}
		rows++
		fn(h, record)
	}
}

// MissingColumnError reports a required column absent from a header
type MissingColumnError struct {
	Column string
}

func (e *MissingColumnError) Error() string {
	return fmt.Sprintf("missing required column %q", e.Column)
}

// cellParser turns text cells into typed values, counting malformed ones
type cellParser struct {
	malformed int
}

func (p *cellParser) money(s string) decimal.NullDecimal {
	if s == "" {
		return decimal.NullDecimal{}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		p.malformed++
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: d, Valid: true}
}

func (p *cellParser) intPtr(s string) *int {
	if s == "" {
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		p.malformed++
		return nil
	}
	return &v
}

func (p *cellParser) integer(s string) int {
	if v := p.intPtr(s); v != nil {
		return *v
	}
	return 0
}

// ParseOrderItems reads the order-items CSV
func ParseOrderItems(r io.Reader) ([]models.OrderItem, TableStats, error) {
	var (
		out []models.OrderItem
		p   cellParser
	)
	rows, err := scanCSV(r, []string{"order_id", "order_item_id", "product_id", "price", "freight_value"},
		func(h header, rec []string) {
			out = append(out, models.OrderItem{
				OrderID:   h.get(rec, "order_id"),
				ItemSeq:   p.integer(h.get(rec, "order_item_id")),
				ProductID: h.get(rec, "product_id"),
				Price:     p.money(h.get(rec, "price")),
				Freight:   p.money(h.get(rec, "freight_value")),
			})
		})
	return out, TableStats{Rows: rows, Malformed: p.malformed}, err
}

// ParsePayments reads the order-payments CSV
func ParsePayments(r io.Reader) ([]models.Payment, TableStats, error) {
	var (
		out []models.Payment
		p   cellParser
	)
	rows, err := scanCSV(r, []string{"order_id", "payment_type", "payment_installments"},
		func(h header, rec []string) {
			out = append(out, models.Payment{
				OrderID:      h.get(rec, "order_id"),
				Type:         h.get(rec, "payment_type"),
				Installments: p.intPtr(h.get(rec, "payment_installments")),
			})
		})
	return out, TableStats{Rows: rows, Malformed: p.malformed}, err
}

// ParseOrders reads the orders CSV
func ParseOrders(r io.Reader) ([]models.Order, TableStats, error) {
	var out []models.Order
	rows, err := scanCSV(r, []string{"order_id", "customer_id", "order_status", "order_purchase_timestamp"},
		func(h header, rec []string) {
			out = append(out, models.Order{
				OrderID:           h.get(rec, "order_id"),
				CustomerID:        h.get(rec, "customer_id"),
				Status:            h.get(rec, "order_status"),
				PurchaseTimestamp: h.get(rec, "order_purchase_timestamp"),
			})
		})
	return out, TableStats{Rows: rows}, err
}

// ParseProducts reads the products CSV
func ParseProducts(r io.Reader) ([]models.Product, TableStats, error) {
	var out []models.Product
	rows, err := scanCSV(r, []string{"product_id", "product_category_name"},
		func(h header, rec []string) {
			out = append(out, models.Product{
				ProductID: h.get(rec, "product_id"),
				Category:  h.get(rec, "product_category_name"),
			})
		})
	return out, TableStats{Rows: rows}, err
}

// ParseCustomers reads the customers CSV
func ParseCustomers(r io.Reader) ([]models.Customer, TableStats, error) {
	var out []models.Customer
	rows, err := scanCSV(r, []string{"customer_id", "customer_city", "customer_state"},
		func(h header, rec []string) {
			out = append(out, models.Customer{
				CustomerID: h.get(rec, "customer_id"),
				City:       h.get(rec, "customer_city"),
				State:      h.get(rec, "customer_state"),
			})
		})
	return out, TableStats{Rows: rows}, err
}
