package source

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOrderItems(t *testing.T) {
	input := "order_id,order_item_id,product_id,seller_id,shipping_limit_date,price,freight_value\n" +
		"00010242fe8c5a6d1ba2dd792cb16214,1,4244733e06e7ecb4970a6e2683c13e61,48436dade18ac8b2bce089ec2a041202,2017-09-19 09:45:35,58.90,13.29\n" +
		"00018f77f2f0320c557190d7a144bdd3,2,e5f2d52b802189ee658865ca93d83a8f,dd7ddc04e1b6c2c614352b383efe2d36,2017-05-03 11:05:13,abc,19.93\n" +
		"000229ec398224ef6ca0657da4fc703e,1,c777355d18b72b67abbeef9df44fd0fd,5b51032eddd242adc84c38acab88f23d,2018-01-18 14:48:30,,\n"

	items, stats, err := ParseOrderItems(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, 3, stats.Rows)
	assert.Equal(t, 1, stats.Malformed)

	assert.Equal(t, "00010242fe8c5a6d1ba2dd792cb16214", items[0].OrderID)
	assert.Equal(t, 1, items[0].ItemSeq)
	assert.Equal(t, "58.9", items[0].Price.Decimal.String())
	assert.True(t, items[0].Freight.Valid)

	assert.Equal(t, 2, items[1].ItemSeq)
	assert.False(t, items[1].Price.Valid, "malformed price is absent")
	assert.True(t, items[1].Freight.Valid)

	assert.False(t, items[2].Price.Valid, "empty price is absent")
	assert.False(t, items[2].Freight.Valid)
}

func TestParsePayments(t *testing.T) {
	input := "order_id,payment_sequential,payment_type,payment_installments,payment_value\n" +
		"b81ef226f3fe1789b1e8b2acac839d17,1,credit_card,8,99.33\n" +
		"a9810da82917af2d9aefd1278f1dcfa0,1,voucher,,24.39\n" +
		"25e8ea4e93396b6fa0d3dd708e76c1bd,1,boleto,x,65.71\n"

	payments, stats, err := ParsePayments(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, payments, 3)
	assert.Equal(t, 1, stats.Malformed)

	require.NotNil(t, payments[0].Installments)
	assert.Equal(t, 8, *payments[0].Installments)
	assert.Equal(t, "credit_card", payments[0].Type)
	assert.Nil(t, payments[1].Installments)
	assert.Nil(t, payments[2].Installments)
}

func TestParseOrders_ColumnOrderIndependent(t *testing.T) {
	input := "order_status,order_purchase_timestamp,order_id,customer_id\n" +
		"delivered,2017-10-02 10:56:33,e481f51cbdc54678b7cc49136f2d6af7,9ef432eb6251297304e76186b10a928d\n"

	orders, _, err := ParseOrders(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, "e481f51cbdc54678b7cc49136f2d6af7", orders[0].OrderID)
	assert.Equal(t, "9ef432eb6251297304e76186b10a928d", orders[0].CustomerID)
	assert.Equal(t, "delivered", orders[0].Status)
	assert.Equal(t, "2017-10-02 10:56:33", orders[0].PurchaseTimestamp)
}

func TestParse_HeaderErrors(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr string
	}{
		{"empty", "", "no header row"},
		{"missing column", "product_id\n1\n", `missing required column "product_category_name"`},
		{"byte order mark", "\ufeffproduct_id,product_category_name\n", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := ParseProducts(strings.NewReader(tt.input))
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseCustomers_ShortRows(t *testing.T) {
	input := "customer_id,customer_unique_id,customer_zip_code_prefix,customer_city,customer_state\n" +
		"06b8999e2fba1a1fbc88172c00ba8bc7,861eff4711a542e4b93843c6dd7febb0,14409,franca,SP\n" +
		"18955e83d337fd6b2def6b18a428ac77,290c77bc529b7ac935b93aa66c333dc3\n"

	customers, stats, err := ParseCustomers(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, customers, 2)
	assert.Equal(t, 2, stats.Rows)
	assert.Equal(t, "franca", customers[0].City)
	assert.Equal(t, "SP", customers[0].State)
	assert.Empty(t, customers[1].City)
	assert.Empty(t, customers[1].State)
}
