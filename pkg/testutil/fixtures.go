package testutil

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/starload/pkg/config"
	"github.com/ajitpratap0/starload/pkg/models"
)

// Olist ids used by the fixtures
const (
	OrderA = "e481f51cbdc54678b7cc49136f2d6af7"
	OrderB = "53cdb2fc8bc7dce0b6741e2150273451"
	OrderC = "47770eb9100c2d0c44946d9cf07ec65d"

	CustomerA = "9ef432eb6251297304e76186b10a928d"
	CustomerB = "b0830fb4747a6c6d20dea0b8c802d7ef"
	CustomerC = "41ce2a54c0b03bf3443c3d931a367089"

	ProductA = "87285b34884572647811a353c7ac498a"
	ProductB = "595fac2a385ac33a80bd5114aec74eb8"
)

// Money returns a valid NullDecimal parsed from s
func Money(s string) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: decimal.RequireFromString(s), Valid: true}
}

// FreshRunSet is two orders over three items: order A has items 1 and 2,
// order B has item 1. Only order A has a review.
func FreshRunSet() *models.SourceSet {
	return &models.SourceSet{
		Items: []models.OrderItem{
			{OrderID: OrderA, ItemSeq: 1, ProductID: ProductB, Price: Money("10.00"), Freight: Money("1.00")},
			{OrderID: OrderA, ItemSeq: 2, ProductID: ProductA, Price: Money("29.99"), Freight: Money("8.72")},
			{OrderID: OrderB, ItemSeq: 1, ProductID: ProductB, Price: Money("118.70"), Freight: Money("22.76")},
		},
		Payments: []models.Payment{
			{OrderID: OrderA, Type: "credit_card", Installments: models.IntPtr(1)},
			{OrderID: OrderA, Type: "voucher", Installments: models.IntPtr(1)},
			{OrderID: OrderB, Type: "boleto", Installments: models.IntPtr(1)},
		},
		Orders: []models.Order{
			{OrderID: OrderA, CustomerID: CustomerA, Status: "delivered", PurchaseTimestamp: "2017-10-02 10:56:33"},
			{OrderID: OrderB, CustomerID: CustomerB, Status: "delivered", PurchaseTimestamp: "2018-07-24 20:41:37"},
		},
		Products: []models.Product{
			{ProductID: ProductA, Category: "utilidades_domesticas"},
			{ProductID: ProductB, Category: "perfumaria"},
		},
		Customers: []models.Customer{
			{CustomerID: CustomerA, City: "sao paulo", State: "SP"},
			{CustomerID: CustomerB, City: "barreiras", State: "BA"},
		},
		Reviews: []models.Review{
			{OrderID: OrderA, Score: models.IntPtr(4)},
		},
	}
}

// WithOrderC returns a copy of set plus order C, whose status "processing"
// has not been seen before. Order C is placed on the same day as order A
// at a different time.
func WithOrderC(set *models.SourceSet) *models.SourceSet {
	out := *set
	out.Items = append(append([]models.OrderItem(nil), set.Items...),
		models.OrderItem{OrderID: OrderC, ItemSeq: 1, ProductID: ProductA, Price: Money("29.99"), Freight: Money("7.78")})
	out.Payments = append(append([]models.Payment(nil), set.Payments...),
		models.Payment{OrderID: OrderC, Type: "boleto", Installments: models.IntPtr(3)})
	out.Orders = append(append([]models.Order(nil), set.Orders...),
		models.Order{OrderID: OrderC, CustomerID: CustomerC, Status: "processing", PurchaseTimestamp: "2017-10-02 18:01:12"})
	out.Customers = append(append([]models.Customer(nil), set.Customers...),
		models.Customer{CustomerID: CustomerC, City: "campinas", State: "SP"})
	return &out
}

// WriteSources writes the tabular record sets of set as olist CSV files
// into a fresh directory and returns a sources config pointing at them.
func WriteSources(t *testing.T, set *models.SourceSet) config.SourcesConfig {
	t.Helper()
	dir := t.TempDir()

	items := [][]string{{"order_id", "order_item_id", "product_id", "price", "freight_value"}}
	for _, it := range set.Items {
		items = append(items, []string{it.OrderID, strconv.Itoa(it.ItemSeq), it.ProductID, cell(it.Price), cell(it.Freight)})
	}
	payments := [][]string{{"order_id", "payment_type", "payment_installments"}}
	for _, p := range set.Payments {
		n := ""
		if p.Installments != nil {
			n = strconv.Itoa(*p.Installments)
		}
		payments = append(payments, []string{p.OrderID, p.Type, n})
	}
	orders := [][]string{{"order_id", "customer_id", "order_status", "order_purchase_timestamp"}}
	for _, o := range set.Orders {
		orders = append(orders, []string{o.OrderID, o.CustomerID, o.Status, o.PurchaseTimestamp})
	}
	products := [][]string{{"product_id", "product_category_name"}}
	for _, p := range set.Products {
		products = append(products, []string{p.ProductID, p.Category})
	}
	customers := [][]string{{"customer_id", "customer_city", "customer_state"}}
	for _, c := range set.Customers {
		customers = append(customers, []string{c.CustomerID, c.City, c.State})
	}

	writeCSV(t, filepath.Join(dir, config.DefaultOrderItemsFile), items)
	writeCSV(t, filepath.Join(dir, config.DefaultPaymentsFile), payments)
	writeCSV(t, filepath.Join(dir, config.DefaultOrdersFile), orders)
	writeCSV(t, filepath.Join(dir, config.DefaultProductsFile), products)
	writeCSV(t, filepath.Join(dir, config.DefaultCustomersFile), customers)

	cfg := config.Default().Sources
	cfg.Dir = dir
	return cfg
}

func cell(d decimal.NullDecimal) string {
	if !d.Valid {
		return ""
	}
	return d.Decimal.StringFixed(2)
}

func writeCSV(t *testing.T, path string, records [][]string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	w := csv.NewWriter(f)
	require.NoError(t, w.WriteAll(records))
}
