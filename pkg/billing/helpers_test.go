package billing_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lumeapp/billingd/pkg/catalog"
)

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()

	cat, err := catalog.New(context.Background(), catalog.NewInMemSource(
		catalog.Entry{
			Plan: catalog.PlanBasic, Period: catalog.PeriodMonthly,
			PriceID: "price_basic_m", ProductID: "prod_basic_m",
			Price: catalog.Money{Amount: 499, Currency: "USD"},
		},
		catalog.Entry{
			Plan: catalog.PlanPro, Period: catalog.PeriodMonthly,
			PriceID: "price_pro_m", ProductID: "prod_pro_m",
			Price: catalog.Money{Amount: 999, Currency: "USD"},
		},
		catalog.Entry{
			Plan: catalog.PlanPro, Period: catalog.PeriodYearly,
			PriceID: "price_pro_y", ProductID: "prod_pro_y",
			Price: catalog.Money{Amount: 9900, Currency: "USD"},
		},
	))
	require.NoError(t, err)
	return cat
}
