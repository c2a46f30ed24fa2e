package dimension

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ajitpratap0/starload/pkg/models"
	"github.com/ajitpratap0/starload/pkg/warehouse"
)

// Spec configures the resolution of one dimension: where it lives, how
// its natural key is read from a conformed record, and which attribute
// values are stored alongside it.
type Spec struct {
	// Name labels the dimension in logs, metrics and errors
	Name  string
	Table string

	SurrogateColumn string
	// KeyColumn holds the natural key and carries the unique constraint.
	// Pass-through dimensions use the surrogate column itself.
	KeyColumn  string
	Attributes []string

	// PassThrough dimensions use the natural id, parsed as a UUID, as the
	// surrogate key instead of generating one.
	PassThrough bool

	// KeyOf returns the canonical natural key of rec, false when rec has none
	KeyOf func(rec models.ConformedRecord) (string, bool)
	// Values returns the key column value (generated dimensions only) and
	// the attribute values of rec.
	Values func(rec models.ConformedRecord) (key any, attrs []any)
	// ScanKey canonicalizes a key read back from the warehouse
	ScanKey func(src any) (string, error)
}

// Columns returns the insert columns, surrogate first
func (s *Spec) Columns() []string {
	cols := []string{s.SurrogateColumn}
	if !s.PassThrough {
		cols = append(cols, s.KeyColumn)
	}
	return append(cols, s.Attributes...)
}

func (s *Spec) stageTable() string {
	return "stage_" + s.Table
}

// Status is the order-status dimension
var Status = &Spec{
	Name:            "status",
	Table:           warehouse.TableStatus,
	SurrogateColumn: "status_id",
	KeyColumn:       "order_status",
	KeyOf: func(rec models.ConformedRecord) (string, bool) {
		return rec.Status, rec.Status != ""
	},
	Values: func(rec models.ConformedRecord) (any, []any) {
		return rec.Status, nil
	},
	ScanKey: textKey,
}

// Time is the purchase-time dimension, keyed on the full timestamp so two
// orders on the same day at different times get distinct rows.
var Time = &Spec{
	Name:            "time",
	Table:           warehouse.TableTime,
	SurrogateColumn: "order_time_id",
	KeyColumn:       "order_datetime",
	Attributes:      []string{"order_day", "order_month", "order_quarter", "order_year", "order_date", "order_hour"},
	KeyOf: func(rec models.ConformedRecord) (string, bool) {
		if rec.OrderTime == nil {
			return "", false
		}
		return rec.OrderTime.Key(), true
	},
	Values: func(rec models.ConformedRecord) (any, []any) {
		t := rec.OrderTime
		return t.Timestamp, []any{t.Day, t.Month, t.Quarter, t.Year, t.Date, t.TimeOfDay}
	},
	ScanKey: timestampKey,
}

// Customer is the customer dimension. The customer id is the surrogate.
var Customer = &Spec{
	Name:            "customer",
	Table:           warehouse.TableCustomer,
	SurrogateColumn: "customer_id",
	KeyColumn:       "customer_id",
	Attributes:      []string{"customer_city", "customer_state"},
	PassThrough:     true,
	KeyOf: func(rec models.ConformedRecord) (string, bool) {
		return idKey(rec.CustomerID)
	},
	Values: func(rec models.ConformedRecord) (any, []any) {
		return nil, []any{rec.CustomerCity, rec.CustomerState}
	},
	ScanKey: uuidKey,
}

// Product is the product dimension. The product id is the surrogate.
var Product = &Spec{
	Name:            "product",
	Table:           warehouse.TableProduct,
	SurrogateColumn: "product_id",
	KeyColumn:       "product_id",
	Attributes:      []string{"product_category"},
	PassThrough:     true,
	KeyOf: func(rec models.ConformedRecord) (string, bool) {
		return idKey(rec.ProductID)
	},
	Values: func(rec models.ConformedRecord) (any, []any) {
		return nil, []any{rec.ProductCategory}
	},
	ScanKey: uuidKey,
}

// PaymentMethod is the payment-method dimension
var PaymentMethod = &Spec{
	Name:            "payment_method",
	Table:           warehouse.TablePaymentMethod,
	SurrogateColumn: "payment_method_id",
	KeyColumn:       "payment_method",
	KeyOf: func(rec models.ConformedRecord) (string, bool) {
		return rec.PaymentMethod, rec.PaymentMethod != ""
	},
	Values: func(rec models.ConformedRecord) (any, []any) {
		return rec.PaymentMethod, nil
	},
	ScanKey: textKey,
}

// All lists the dimensions in resolution order
var All = []*Spec{Status, Time, Customer, Product, PaymentMethod}

func idKey(raw string) (string, bool) {
	if raw == "" {
		return "", false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return "", false
	}
	return id.String(), true
}

func textKey(src any) (string, error) {
	switch v := src.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	}
	return "", fmt.Errorf("unexpected key type %T", src)
}

func uuidKey(src any) (string, error) {
	var id uuid.UUID
	if err := id.Scan(src); err != nil {
		return "", err
	}
	return id.String(), nil
}

var timestampLayouts = []string{
	models.TimestampLayout,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999 -0700 MST",
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
}

// timestampKey accepts the forms drivers return for a TIMESTAMP column:
// time.Time, or text in one of a few layouts.
func timestampKey(src any) (string, error) {
	var s string
	switch v := src.(type) {
	case time.Time:
		return v.UTC().Format(models.TimestampLayout), nil
	case string:
		s = v
	case []byte:
		s = string(v)
	default:
		return "", fmt.Errorf("unexpected timestamp type %T", src)
	}
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC().Format(models.TimestampLayout), nil
		}
	}
	return "", fmt.Errorf("unparseable timestamp %q", s)
}
