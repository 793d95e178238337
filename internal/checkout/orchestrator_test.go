package checkout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/wichananm65/storefront-backend/internal/cart"
	"github.com/wichananm65/storefront-backend/internal/metrics"
	"github.com/wichananm65/storefront-backend/internal/money"
	"github.com/wichananm65/storefront-backend/internal/mpesa"
	"github.com/wichananm65/storefront-backend/internal/order"
	"github.com/wichananm65/storefront-backend/internal/owner"
	"github.com/wichananm65/storefront-backend/internal/payment"
	"github.com/wichananm65/storefront-backend/internal/product"
	"github.com/wichananm65/storefront-backend/internal/store"
)

const checkoutRequestID = "ws_CO_191220191020363925"

type fakeGateway struct {
	mu     sync.Mutex
	calls  []mpesa.PushRequest
	err    error
	onPush func()
}

func (g *fakeGateway) PushPayment(_ context.Context, r mpesa.PushRequest) (mpesa.PushResponse, error) {
	g.mu.Lock()
	g.calls = append(g.calls, r)
	g.mu.Unlock()
	if g.onPush != nil {
		g.onPush()
	}
	if g.err != nil {
		return mpesa.PushResponse{}, g.err
	}
	return mpesa.PushResponse{
		MerchantRequestID: "29115-34620561-1",
		CheckoutRequestID: checkoutRequestID,
		ResponseCode:      "0",
		CustomerMessage:   "Success. Request accepted for processing",
	}, nil
}

type fixture struct {
	products  *product.InMemoryRepository
	carts     *cart.InMemoryRepository
	orders    *order.InMemoryRepository
	callbacks *order.InMemoryCallbackLog
	uow       *store.MemoryUnitOfWork
	gateway   *fakeGateway
	processor *payment.Processor
	metrics   *metrics.Metrics
}

func newFixture() *fixture {
	products := product.NewInMemoryRepository([]product.Product{
		{ID: 1, Name: "Kettle", SKU: "KT-1", Price: money.MustParse("180.00"), Active: true},
		{ID: 2, Name: "Toaster", SKU: "TS-1", Price: money.MustParse("120.00"), Active: true},
	})
	carts := cart.NewInMemoryRepository(products)
	orders := order.NewInMemoryRepository()
	callbacks := order.NewInMemoryCallbackLog()
	uow := store.NewMemoryUnitOfWork(carts, orders, callbacks)
	m := metrics.New(prometheus.NewRegistry())
	return &fixture{
		products:  products,
		carts:     carts,
		orders:    orders,
		callbacks: callbacks,
		uow:       uow,
		gateway:   &fakeGateway{},
		processor: payment.NewProcessor(uow, zap.NewNop(), m),
		metrics:   m,
	}
}

func (f *fixture) orchestrator(log *zap.Logger, pricing order.Pricing) *Orchestrator {
	return NewOrchestrator(f.uow, order.NewAssembler(pricing), log,
		WithGateway(f.gateway, 0),
		WithReconciler(f.processor),
		WithMetrics(f.metrics),
	)
}

func (f *fixture) fillCart(t *testing.T, key owner.Key) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.carts.Add(ctx, key, 1, 2, money.MustParse("180.00")))
	require.NoError(t, f.carts.Add(ctx, key, 2, 1, money.MustParse("120.00")))
}

func validInput(method order.PaymentMethod) Input {
	in := Input{
		Email: "Wanjiru@Example.com",
		BillingAddress: AddressInput{
			FirstName: "Wanjiru",
			LastName:  "Kamau",
			Phone:     "0712345678",
			Line1:     "Moi Avenue 12",
			City:      "Nairobi",
			Country:   "KE",
		},
		PaymentMethod: string(method),
	}
	if method == order.MethodMobileMoney {
		in.MpesaPhone = "0712345678"
	}
	return in
}

func TestProcessCashOnDelivery(t *testing.T) {
	f := newFixture()
	key := owner.ForSession("abc")
	f.fillCart(t, key)
	ctx := context.Background()

	res, err := f.orchestrator(zap.NewNop(), order.Pricing{}).Process(ctx, key, validInput(order.MethodCashOnDelivery))
	require.NoError(t, err)
	assert.Equal(t, money.MustParse("480.00"), res.Total)
	assert.Equal(t, order.StatusPending, res.Status)
	assert.Equal(t, order.PaymentPending, res.PaymentStatus)
	assert.Empty(t, f.gateway.calls)

	o, err := f.orders.GetByNumber(ctx, res.OrderNumber)
	require.NoError(t, err)
	require.Len(t, o.Items, 2)
	assert.Equal(t, o.ItemsTotal(), o.Total)
	assert.Equal(t, "wanjiru@example.com", o.ContactEmail)
	assert.Equal(t, o.BillingAddress, o.ShippingAddress)
	assert.Equal(t, key, o.Owner)

	items, err := f.carts.List(ctx, key)
	require.NoError(t, err)
	assert.Empty(t, items)

	events, _ := f.orders.Events(ctx, o.ID)
	require.Len(t, events, 1)
	assert.Equal(t, order.EventOrderCreated, events[0].Type)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Checkouts.WithLabelValues("cash_on_delivery", "placed")))
}

func TestProcessAppliesTaxAndShipping(t *testing.T) {
	f := newFixture()
	key := owner.ForUser(7)
	f.fillCart(t, key)

	res, err := f.orchestrator(zap.NewNop(), order.Pricing{TaxBasisPoints: 1600, ShippingFee: money.MustParse("250.00")}).
		Process(context.Background(), key, validInput(order.MethodCashOnDelivery))
	require.NoError(t, err)
	assert.Equal(t, money.MustParse("806.80"), res.Total)
}

func TestProcessEmptyCart(t *testing.T) {
	f := newFixture()
	_, err := f.orchestrator(zap.NewNop(), order.Pricing{}).Process(context.Background(), owner.ForUser(7), validInput(order.MethodCashOnDelivery))
	assert.ErrorIs(t, err, ErrEmptyCart)
	assert.Zero(t, f.orders.Count())
}

func TestProcessValidation(t *testing.T) {
	f := newFixture()
	key := owner.ForUser(7)
	f.fillCart(t, key)
	o := f.orchestrator(zap.NewNop(), order.Pricing{})
	ctx := context.Background()

	in := validInput(order.MethodCashOnDelivery)
	in.Email = "not-an-email"
	in.BillingAddress.City = "   "
	in.PaymentMethod = "card"
	_, err := o.Process(ctx, key, in)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "must be a valid email address", verr.Fields["email"])
	assert.Equal(t, "is required", verr.Fields["billingAddress.city"])
	assert.Contains(t, verr.Fields["paymentMethod"], "must be one of")

	in = validInput(order.MethodMobileMoney)
	in.MpesaPhone = ""
	_, err = o.Process(ctx, key, in)
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "is required", verr.Fields["mpesaPhone"])

	in.MpesaPhone = "12345"
	_, err = o.Process(ctx, key, in)
	require.True(t, errors.As(err, &verr))
	assert.Contains(t, verr.Fields["mpesaPhone"], "valid M-Pesa number")

	in = validInput(order.MethodCashOnDelivery)
	in.ShippingAddress = &AddressInput{FirstName: "Juma"}
	_, err = o.Process(ctx, key, in)
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "is required", verr.Fields["shippingAddress.line1"])

	assert.Zero(t, f.orders.Count())
	items, _ := f.carts.List(ctx, key)
	assert.Len(t, items, 2)
}

func TestProcessRejectsMobileMoneyWithoutGateway(t *testing.T) {
	f := newFixture()
	key := owner.ForUser(7)
	f.fillCart(t, key)

	o := NewOrchestrator(f.uow, order.NewAssembler(order.Pricing{}), zap.NewNop())
	_, err := o.Process(context.Background(), key, validInput(order.MethodMobileMoney))
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Contains(t, verr.Fields["paymentMethod"], "not available")
}

func TestProcessUnavailableProduct(t *testing.T) {
	f := newFixture()
	key := owner.ForUser(7)
	f.fillCart(t, key)
	ctx := context.Background()
	_, err := f.products.UpdatePricing(ctx, 2, money.MustParse("120.00"), false)
	require.NoError(t, err)

	_, err = f.orchestrator(zap.NewNop(), order.Pricing{}).Process(ctx, key, validInput(order.MethodCashOnDelivery))
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Contains(t, verr.Fields["cart"], "Toaster")
	assert.Zero(t, f.orders.Count())
	items, _ := f.carts.List(ctx, key)
	assert.Len(t, items, 2)
}

func TestProcessUsesCatalogPrices(t *testing.T) {
	f := newFixture()
	key := owner.ForUser(7)
	f.fillCart(t, key)
	ctx := context.Background()
	_, err := f.products.UpdatePricing(ctx, 1, money.MustParse("200.00"), true)
	require.NoError(t, err)

	core, logs := observer.New(zap.WarnLevel)
	in := validInput(order.MethodCashOnDelivery)
	clientTotal := money.MustParse("480.00")
	in.ExpectedTotal = &clientTotal

	res, err := f.orchestrator(zap.New(core), order.Pricing{}).Process(ctx, key, in)
	require.NoError(t, err)
	assert.Equal(t, money.MustParse("520.00"), res.Total)
	assert.Equal(t, 1, logs.FilterMessage("Client total differs from server total").Len())

	// Later catalog changes never reach the placed order.
	_, err = f.products.UpdatePricing(ctx, 1, money.MustParse("999.00"), true)
	require.NoError(t, err)
	o, _ := f.orders.GetByNumber(ctx, res.OrderNumber)
	assert.Equal(t, money.MustParse("200.00"), o.Items[0].UnitPrice)
}

func TestProcessMobileMoneyAccepted(t *testing.T) {
	f := newFixture()
	key := owner.ForUser(7)
	f.fillCart(t, key)
	ctx := context.Background()

	res, err := f.orchestrator(zap.NewNop(), order.Pricing{}).Process(ctx, key, validInput(order.MethodMobileMoney))
	require.NoError(t, err)
	assert.Equal(t, checkoutRequestID, res.CheckoutRequestID)
	assert.Equal(t, order.PaymentPending, res.PaymentStatus)

	require.Len(t, f.gateway.calls, 1)
	assert.Equal(t, "254712345678", f.gateway.calls[0].Phone)
	assert.Equal(t, money.MustParse("480.00"), f.gateway.calls[0].Amount)
	assert.Equal(t, res.OrderNumber, f.gateway.calls[0].Reference)

	o, err := f.orders.GetByNumber(ctx, res.OrderNumber)
	require.NoError(t, err)
	assert.Equal(t, order.PaymentPending, o.PaymentStatus)
	assert.Equal(t, checkoutRequestID, o.CheckoutRequestID)
	assert.Equal(t, "254712345678", o.PaymentPhone)

	events, _ := f.orders.Events(ctx, o.ID)
	require.Len(t, events, 2)
	assert.Equal(t, order.EventPaymentRequested, events[1].Type)

	items, _ := f.carts.List(ctx, key)
	assert.Empty(t, items)
}

func TestProcessGatewayFailureCancelsAndRestoresCart(t *testing.T) {
	f := newFixture()
	f.gateway.err = &mpesa.Error{Op: "stk_push", Status: 503}
	key := owner.ForSession("abc")
	f.fillCart(t, key)
	ctx := context.Background()

	_, err := f.orchestrator(zap.NewNop(), order.Pricing{}).Process(ctx, key, validInput(order.MethodMobileMoney))
	var gwErr *GatewayError
	require.True(t, errors.As(err, &gwErr))
	assert.ErrorIs(t, err, mpesa.ErrUnavailable)

	o, err := f.orders.GetByNumber(ctx, gwErr.OrderNumber)
	require.NoError(t, err)
	assert.Equal(t, order.StatusCancelled, o.Status)
	assert.Equal(t, order.PaymentFailed, o.PaymentStatus)
	assert.NotContains(t, o.PaymentFailureReason, "503")

	items, err := f.carts.List(ctx, key)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, 2, items[0].Quantity)

	events, _ := f.orders.Events(ctx, o.ID)
	require.Len(t, events, 2)
	assert.Equal(t, order.EventPaymentInitiationFailed, events[1].Type)

	// Retrying with cash on delivery works off the restored cart.
	res, err := f.orchestrator(zap.NewNop(), order.Pricing{}).Process(ctx, key, validInput(order.MethodCashOnDelivery))
	require.NoError(t, err)
	assert.Equal(t, money.MustParse("480.00"), res.Total)
}

func TestCallbackBeforeAttachIsReconciled(t *testing.T) {
	f := newFixture()
	key := owner.ForUser(7)
	f.fillCart(t, key)
	ctx := context.Background()

	f.gateway.onPush = func() {
		raw := fmt.Sprintf(`{"Body":{"stkCallback":{"MerchantRequestID":"29115-34620561-1","CheckoutRequestID":%q,"ResultCode":0,"ResultDesc":"ok","CallbackMetadata":{"Item":[{"Name":"MpesaReceiptNumber","Value":"NLJ7RT61SV"},{"Name":"Amount","Value":480}]}}}}`, checkoutRequestID)
		f.processor.HandleCallback(ctx, []byte(raw))
	}

	res, err := f.orchestrator(zap.NewNop(), order.Pricing{}).Process(ctx, key, validInput(order.MethodMobileMoney))
	require.NoError(t, err)

	o, err := f.orders.GetByNumber(ctx, res.OrderNumber)
	require.NoError(t, err)
	assert.Equal(t, order.PaymentPaid, o.PaymentStatus)
	assert.Equal(t, "NLJ7RT61SV", o.PaymentReference)

	records := f.callbacks.Records()
	require.Len(t, records, 1)
	assert.Equal(t, order.CallbackReplayed, records[0].Outcome)
}

func TestConcurrentCheckoutOfOneCart(t *testing.T) {
	f := newFixture()
	key := owner.ForUser(7)
	f.fillCart(t, key)
	o := f.orchestrator(zap.NewNop(), order.Pricing{})

	const attempts = 10
	errs := make(chan error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := o.Process(context.Background(), key, validInput(order.MethodCashOnDelivery))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	ok, empty := 0, 0
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrEmptyCart):
			empty++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, attempts-1, empty)
	assert.Equal(t, 1, f.orders.Count())
}

func TestConcurrentCheckoutsGetUniqueNumbers(t *testing.T) {
	f := newFixture()
	o := f.orchestrator(zap.NewNop(), order.Pricing{})

	const owners = 25
	for i := 1; i <= owners; i++ {
		f.fillCart(t, owner.ForUser(int64(i)))
	}

	numbers := make(chan string, owners)
	var wg sync.WaitGroup
	for i := 1; i <= owners; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			res, err := o.Process(context.Background(), owner.ForUser(id), validInput(order.MethodCashOnDelivery))
			if err != nil {
				t.Errorf("checkout for user %d: %v", id, err)
				return
			}
			numbers <- res.OrderNumber
		}(int64(i))
	}
	wg.Wait()
	close(numbers)

	seen := map[string]bool{}
	for n := range numbers {
		assert.False(t, seen[n], "duplicate order number %s", n)
		seen[n] = true
	}
	assert.Len(t, seen, owners)
}
