// Package conform merges the extracted record sets into one conformed
// record per order. Conform is a pure function: it never performs I/O and
// never rejects input. Absent or malformed join inputs are recovered through
// the null-handling policy, counted in Stats, and summarized by Stats.Err as
// a non-fatal conform error.
package conform

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ajitpratap0/starload/pkg/errors"
	"github.com/ajitpratap0/starload/pkg/models"
)

// Stats reports what the conformer recovered from. Every non-zero field
// other than the input counts and Records is a conform condition that was
// handled by policy rather than raised.
type Stats struct {
	Records int

	DuplicateItems     int // item rows superseded by a higher item sequence
	DuplicatePayments  int // repeated (order id, payment type) pairs
	DuplicateOrders    int
	DuplicateProducts  int
	DuplicateCustomers int
	DuplicateReviews   int

	OrphanItems          int // items whose order row is missing
	UnparseableTimestamp int

	FilledPaymentMethod int
	FilledInstallments  int
	FilledCategory      int
	FilledCity          int
	FilledState         int
	FilledScore         int
}

// Events returns the recovered conditions keyed by metric label
func (s Stats) Events() map[string]int {
	return map[string]int{
		"duplicate_item":          s.DuplicateItems,
		"duplicate_payment":       s.DuplicatePayments,
		"duplicate_order":         s.DuplicateOrders,
		"duplicate_product":       s.DuplicateProducts,
		"duplicate_customer":      s.DuplicateCustomers,
		"duplicate_review":        s.DuplicateReviews,
		"orphan_item":             s.OrphanItems,
		"unparseable_timestamp":   s.UnparseableTimestamp,
		"filled_payment_method":   s.FilledPaymentMethod,
		"filled_installments":     s.FilledInstallments,
		"filled_product_category": s.FilledCategory,
		"filled_customer_city":    s.FilledCity,
		"filled_customer_state":   s.FilledState,
		"filled_score":            s.FilledScore,
	}
}

// Err returns a conform error listing the non-zero events, or nil when
// nothing had to be recovered. The error is never fatal.
func (s Stats) Err() error {
	events := make(map[string]int)
	total := 0
	for event, n := range s.Events() {
		if n > 0 {
			events[event] = n
			total += n
		}
	}
	if total == 0 {
		return nil
	}
	return errors.Newf(errors.ErrorTypeConform, "recovered %d conform conditions across %d records", total, s.Records).
		WithDetail("events", events)
}

type paymentAgg struct {
	types        map[string]struct{}
	installments int
	hasInstall   bool
}

// Conform joins set into one record per order id, sorted by order id.
//
// Per order the item with the highest item sequence is kept; payments are
// deduplicated by (order id, type) and their types collapsed into a sorted,
// comma-joined method; orders, products, customers and reviews keep the
// first row seen per natural key.
func Conform(set *models.SourceSet) ([]models.ConformedRecord, Stats) {
	var stats Stats
	if set == nil {
		return nil, stats
	}

	items := latestItems(set.Items, &stats)
	payments := aggregatePayments(set.Payments, &stats)

	orders := make(map[string]models.Order, len(set.Orders))
	for _, o := range set.Orders {
		if _, ok := orders[o.OrderID]; ok {
			stats.DuplicateOrders++
			continue
		}
		orders[o.OrderID] = o
	}

	products := make(map[string]models.Product, len(set.Products))
	for _, p := range set.Products {
		if _, ok := products[p.ProductID]; ok {
			stats.DuplicateProducts++
			continue
		}
		products[p.ProductID] = p
	}

	customers := make(map[string]models.Customer, len(set.Customers))
	for _, c := range set.Customers {
		if _, ok := customers[c.CustomerID]; ok {
			stats.DuplicateCustomers++
			continue
		}
		customers[c.CustomerID] = c
	}

	scores := make(map[string]*int, len(set.Reviews))
	for _, r := range set.Reviews {
		if _, ok := scores[r.OrderID]; ok {
			stats.DuplicateReviews++
			continue
		}
		scores[r.OrderID] = r.Score
	}

	records := make([]models.ConformedRecord, 0, len(items))
	for _, item := range items {
		rec := models.ConformedRecord{
			OrderID:   item.OrderID,
			ItemCount: item.ItemSeq,
			ProductID: item.ProductID,
			Price:     round(item.Price),
			Freight:   round(item.Freight),
		}
		rec.PaymentValue = paymentValue(item.Price, item.Freight, item.ItemSeq)

		var hasInstallments bool
		if agg, ok := payments[item.OrderID]; ok {
			rec.PaymentMethod = joinTypes(agg.types)
			rec.Installments, hasInstallments = agg.installments, agg.hasInstall
		}

		var customer models.Customer
		var customerFound bool
		if order, ok := orders[item.OrderID]; ok {
			rec.CustomerID = order.CustomerID
			rec.Status = strings.TrimSpace(order.Status)
			if ts, err := time.Parse(models.TimestampLayout, strings.TrimSpace(order.PurchaseTimestamp)); err == nil {
				ot := models.NewOrderTime(ts)
				rec.OrderTime = &ot
			} else {
				stats.UnparseableTimestamp++
			}
			customer, customerFound = customers[order.CustomerID]
		} else {
			stats.OrphanItems++
		}

		if p, ok := products[item.ProductID]; ok {
			rec.ProductCategory = p.Category
		}

		if customerFound {
			rec.CustomerCity = customer.City
			rec.CustomerState = customer.State
		}

		var hasScore bool
		if score, ok := scores[item.OrderID]; ok && score != nil {
			rec.Score, hasScore = *score, true
		}

		applyNullPolicy(&rec, hasScore, hasInstallments, &stats)
		records = append(records, rec)
	}

	sort.Slice(records, func(i, j int) bool { return records[i].OrderID < records[j].OrderID })
	stats.Records = len(records)
	return records, stats
}

// applyNullPolicy fills absent fields, in order: payment method, product
// category, customer city and state, review score, installments.
func applyNullPolicy(rec *models.ConformedRecord, hasScore, hasInstallments bool, stats *Stats) {
	if rec.PaymentMethod == "" {
		rec.PaymentMethod = models.PaymentMethodNotDefined
		stats.FilledPaymentMethod++
	}
	if rec.ProductCategory == "" {
		rec.ProductCategory = models.NotInformed
		stats.FilledCategory++
	}
	if rec.CustomerCity == "" {
		rec.CustomerCity = models.NotInformed
		stats.FilledCity++
	}
	if rec.CustomerState == "" {
		rec.CustomerState = models.NotInformed
		stats.FilledState++
	}
	if !hasScore {
		rec.Score = models.MissingScore
		stats.FilledScore++
	}
	if !hasInstallments {
		rec.Installments = models.MissingInstallments
		stats.FilledInstallments++
	}
}

// latestItems keeps, per order id, the item with the maximum sequence
// number. Ties keep the first row seen. Order of first appearance is kept.
func latestItems(items []models.OrderItem, stats *Stats) []models.OrderItem {
	index := make(map[string]int, len(items))
	latest := make([]models.OrderItem, 0, len(items))
	for _, it := range items {
		i, ok := index[it.OrderID]
		if !ok {
			index[it.OrderID] = len(latest)
			latest = append(latest, it)
			continue
		}
		stats.DuplicateItems++
		if it.ItemSeq > latest[i].ItemSeq {
			latest[i] = it
		}
	}
	return latest
}

func aggregatePayments(payments []models.Payment, stats *Stats) map[string]*paymentAgg {
	seen := make(map[[2]string]struct{}, len(payments))
	aggs := make(map[string]*paymentAgg)
	for _, p := range payments {
		key := [2]string{p.OrderID, p.Type}
		if _, ok := seen[key]; ok {
			stats.DuplicatePayments++
			continue
		}
		seen[key] = struct{}{}

		agg, ok := aggs[p.OrderID]
		if !ok {
			agg = &paymentAgg{types: make(map[string]struct{})}
			aggs[p.OrderID] = agg
		}
		if t := strings.TrimSpace(p.Type); t != "" {
			agg.types[t] = struct{}{}
		}
		if p.Installments != nil && (!agg.hasInstall || *p.Installments > agg.installments) {
			agg.installments = *p.Installments
			agg.hasInstall = true
		}
	}
	return aggs
}

func joinTypes(types map[string]struct{}) string {
	if len(types) == 0 {
		return ""
	}
	out := make([]string, 0, len(types))
	for t := range types {
		out = append(out, t)
	}
	sort.Strings(out)
	return strings.Join(out, ",")
}

// paymentValue is price*count + freight*count, absent when either input is
func paymentValue(price, freight decimal.NullDecimal, count int) decimal.NullDecimal {
	if !price.Valid || !freight.Valid {
		return decimal.NullDecimal{}
	}
	n := decimal.NewFromInt(int64(count))
	v := price.Decimal.Mul(n).Add(freight.Decimal.Mul(n))
	return decimal.NullDecimal{Decimal: v.Round(2), Valid: true}
}

func round(d decimal.NullDecimal) decimal.NullDecimal {
	if !d.Valid {
		return d
	}
	return decimal.NullDecimal{Decimal: d.Decimal.Round(2), Valid: true}
}
