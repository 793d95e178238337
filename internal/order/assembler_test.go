package order

import (
	"context"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wichananm65/storefront-backend/internal/cart"
	"github.com/wichananm65/storefront-backend/internal/money"
	"github.com/wichananm65/storefront-backend/internal/owner"
)

func sampleLines() []cart.Line {
	return []cart.Line{
		{ProductID: 1, Name: "Kettle", SKU: "KT-1", Quantity: 2, UnitPrice: money.MustParse("180.00")},
		{ProductID: 2, Name: "Toaster", SKU: "TS-1", Quantity: 1, UnitPrice: money.MustParse("120.00")},
	}
}

func sampleDraft(method PaymentMethod) Draft {
	addr := Address{FirstName: "Wanjiru", LastName: "Kamau", Phone: "0712345678", Line1: "Moi Avenue 12", City: "Nairobi", Country: "KE"}
	return Draft{
		Owner:           owner.ForUser(7),
		Method:          method,
		ContactEmail:    "wanjiru@example.com",
		BillingAddress:  addr,
		ShippingAddress: addr,
	}
}

func TestAssemblerBuild_CashOnDeliveryScenario(t *testing.T) {
	o, err := NewAssembler(Pricing{}).Build(sampleDraft(MethodCashOnDelivery), sampleLines())
	require.NoError(t, err)

	assert.Equal(t, money.MustParse("480.00"), o.Total)
	assert.Equal(t, o.ItemsTotal(), o.Total)
	assert.Equal(t, StatusPending, o.Status)
	assert.Equal(t, PaymentPending, o.PaymentStatus)
	require.Len(t, o.Items, 2)
	assert.Equal(t, "KT-1", o.Items[0].SKU)
	assert.Equal(t, money.MustParse("360.00"), o.Items[0].LineTotal())
}

func TestAssemblerBuild_TaxAndShipping(t *testing.T) {
	a := NewAssembler(Pricing{TaxBasisPoints: 1600, ShippingFee: money.MustParse("250.00")})
	o, err := a.Build(sampleDraft(MethodMobileMoney), sampleLines())
	require.NoError(t, err)

	assert.Equal(t, money.MustParse("480.00"), o.Subtotal)
	assert.Equal(t, money.MustParse("76.80"), o.Tax)
	assert.Equal(t, money.MustParse("806.80"), o.Total)
}

func TestAssemblerBuild_Rejects(t *testing.T) {
	a := NewAssembler(Pricing{})
	_, err := a.Build(sampleDraft(MethodCashOnDelivery), nil)
	assert.ErrorIs(t, err, ErrNoLines)

	d := sampleDraft(MethodCashOnDelivery)
	d.Owner = owner.Key{}
	_, err = a.Build(d, sampleLines())
	assert.ErrorIs(t, err, owner.ErrInvalidKey)

	_, err = a.Build(sampleDraft("card"), sampleLines())
	assert.Error(t, err)
}

func TestAssemblerCreate_RetriesOnDuplicateNumber(t *testing.T) {
	repo := NewInMemoryRepository()
	fixed := func(time.Time) string { return "ORD-20240501-AAAAAAAA" }

	calls := 0
	sequence := func(time.Time) string {
		calls++
		if calls < 3 {
			return "ORD-20240501-AAAAAAAA"
		}
		return "ORD-20240501-BBBBBBBB"
	}

	ctx := context.Background()
	first, err := NewAssembler(Pricing{}, WithNumberSource(fixed)).Create(ctx, repo, sampleDraft(MethodCashOnDelivery), sampleLines())
	require.NoError(t, err)
	assert.Equal(t, "ORD-20240501-AAAAAAAA", first.Number)

	second, err := NewAssembler(Pricing{}, WithNumberSource(sequence)).Create(ctx, repo, sampleDraft(MethodCashOnDelivery), sampleLines())
	require.NoError(t, err)
	assert.Equal(t, "ORD-20240501-BBBBBBBB", second.Number)
	assert.Equal(t, 3, calls)

	_, err = NewAssembler(Pricing{}, WithNumberSource(fixed)).Create(ctx, repo, sampleDraft(MethodCashOnDelivery), sampleLines())
	assert.ErrorIs(t, err, ErrDuplicateNumber)
	assert.Equal(t, 2, repo.Count())
}

func TestRandomNumberFormat(t *testing.T) {
	now := time.Date(2024, 5, 1, 23, 30, 0, 0, time.FixedZone("EAT", 3*3600))
	n := RandomNumber(now)
	assert.Regexp(t, regexp.MustCompile(`^ORD-20240501-[0-9A-F]{8}$`), n)
}

func TestConcurrentCreateYieldsUniqueNumbers(t *testing.T) {
	repo := NewInMemoryRepository()
	a := NewAssembler(Pricing{})

	const workers = 50
	numbers := make(chan string, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o, err := a.Create(context.Background(), repo, sampleDraft(MethodCashOnDelivery), sampleLines())
			if err == nil {
				numbers <- o.Number
			}
		}()
	}
	wg.Wait()
	close(numbers)

	seen := map[string]bool{}
	for n := range numbers {
		assert.False(t, seen[n], "duplicate number %s", n)
		seen[n] = true
	}
	assert.Len(t, seen, workers)
}
