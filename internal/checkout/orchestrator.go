package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/wichananm65/storefront-backend/internal/cart"
	"github.com/wichananm65/storefront-backend/internal/logger"
	"github.com/wichananm65/storefront-backend/internal/metrics"
	"github.com/wichananm65/storefront-backend/internal/money"
	"github.com/wichananm65/storefront-backend/internal/mpesa"
	"github.com/wichananm65/storefront-backend/internal/order"
	"github.com/wichananm65/storefront-backend/internal/owner"
	"github.com/wichananm65/storefront-backend/internal/store"
)

const (
	defaultGatewayTimeout  = 20 * time.Second
	initiationFailedReason = "mobile payment could not be initiated"
)

// Gateway is the push-payment side of the mobile money client.
type Gateway interface {
	PushPayment(ctx context.Context, r mpesa.PushRequest) (mpesa.PushResponse, error)
}

// Reconciler replays callbacks that beat the checkout request id to the order.
type Reconciler interface {
	Reconcile(ctx context.Context, checkoutRequestID string) (int, error)
}

type Result struct {
	OrderID           int64               `json:"orderId"`
	OrderNumber       string              `json:"orderNumber"`
	Status            order.Status        `json:"status"`
	PaymentStatus     order.PaymentStatus `json:"paymentStatus"`
	PaymentMethod     order.PaymentMethod `json:"paymentMethod"`
	Total             money.Amount        `json:"total"`
	CheckoutRequestID string              `json:"checkoutRequestId,omitempty"`
	Message           string              `json:"message"`
}

type Orchestrator struct {
	uow        store.UnitOfWork
	assembler  *order.Assembler
	validate   *validator.Validate
	gateway    Gateway
	timeout    time.Duration
	reconciler Reconciler
	metrics    *metrics.Metrics
	log        *zap.Logger
}

type Option func(*Orchestrator)

// WithGateway enables mobile money. Without it the method is rejected as
// invalid input.
func WithGateway(g Gateway, timeout time.Duration) Option {
	return func(o *Orchestrator) {
		o.gateway = g
		if timeout > 0 {
			o.timeout = timeout
		}
	}
}

func WithReconciler(r Reconciler) Option {
	return func(o *Orchestrator) { o.reconciler = r }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

func NewOrchestrator(uow store.UnitOfWork, assembler *order.Assembler, log *zap.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		uow:       uow,
		assembler: assembler,
		validate:  newValidator(),
		timeout:   defaultGatewayTimeout,
		log:       log,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Process places an order from the owner's cart. The order and the cart
// clear commit together before any gateway call; a failed push cancels the
// order and puts the lines back.
func (o *Orchestrator) Process(ctx context.Context, key owner.Key, in Input) (Result, error) {
	log := logger.For(ctx, o.log).With(zap.String("owner", key.String()), zap.String("payment_method", in.PaymentMethod))

	if err := key.Validate(); err != nil {
		return Result{}, err
	}
	d, err := draft(o.validate, key, in, o.gateway != nil)
	if err != nil {
		o.metrics.Checkout(in.PaymentMethod, "invalid")
		return Result{}, err
	}

	placed, lines, err := o.place(ctx, d)
	if err != nil {
		var verr *ValidationError
		switch {
		case errors.Is(err, ErrEmptyCart):
			o.metrics.Checkout(string(d.Method), "empty_cart")
		case errors.As(err, &verr):
			o.metrics.Checkout(string(d.Method), "invalid")
		default:
			o.metrics.Checkout(string(d.Method), "error")
			log.Error("Placing order failed", zap.Error(err))
			err = &PersistenceError{Err: err}
		}
		return Result{}, err
	}
	log = log.With(zap.String("order_number", placed.Number))

	if in.ExpectedTotal != nil && *in.ExpectedTotal != placed.Total {
		log.Warn("Client total differs from server total",
			zap.String("client_total", in.ExpectedTotal.String()),
			zap.String("server_total", placed.Total.String()),
		)
	}

	res := Result{
		OrderID:       placed.ID,
		OrderNumber:   placed.Number,
		Status:        placed.Status,
		PaymentStatus: placed.PaymentStatus,
		PaymentMethod: placed.PaymentMethod,
		Total:         placed.Total,
	}

	if d.Method == order.MethodCashOnDelivery {
		o.metrics.Checkout(string(d.Method), "placed")
		log.Info("Order placed")
		res.Message = "Order placed. Pay on delivery."
		return res, nil
	}

	pushCtx, cancel := context.WithTimeout(ctx, o.timeout)
	push, err := o.gateway.PushPayment(pushCtx, mpesa.PushRequest{
		Phone:       d.PaymentPhone,
		Amount:      placed.Total,
		Reference:   placed.Number,
		Description: "Order " + placed.Number,
	})
	cancel()

	// The request may be gone by now; the follow-up write must still land.
	bg := context.WithoutCancel(ctx)
	if err != nil {
		o.metrics.Checkout(string(d.Method), "gateway_failed")
		log.Warn("Payment push failed", zap.Error(err))
		if cErr := o.compensate(bg, key, placed.Number, lines, err); cErr != nil {
			log.Error("Compensating failed payment push failed", zap.Error(cErr))
		}
		return Result{}, &GatewayError{OrderNumber: placed.Number, Err: err}
	}

	if err := o.attach(bg, placed.Number, push); err != nil {
		o.metrics.Checkout(string(d.Method), "error")
		log.Error("Recording payment request failed",
			zap.Error(err),
			zap.String("checkout_request_id", push.CheckoutRequestID),
		)
		return Result{}, &PersistenceError{Err: err}
	}

	if o.reconciler != nil {
		if _, err := o.reconciler.Reconcile(bg, push.CheckoutRequestID); err != nil {
			log.Error("Replaying early callbacks failed", zap.Error(err))
		}
	}

	o.metrics.Checkout(string(d.Method), "payment_requested")
	log.Info("Payment push accepted", zap.String("checkout_request_id", push.CheckoutRequestID))
	res.CheckoutRequestID = push.CheckoutRequestID
	res.Message = push.CustomerMessage
	if res.Message == "" {
		res.Message = "Check your phone to authorize the payment."
	}
	return res, nil
}

// place runs the first transaction: lock the cart, create the order, clear
// the cart.
func (o *Orchestrator) place(ctx context.Context, d order.Draft) (order.Order, []cart.Line, error) {
	var placed order.Order
	var lines []cart.Line
	err := o.uow.Do(ctx, func(ctx context.Context, repos store.Repos) error {
		var err error
		lines, err = repos.Carts.CheckoutLines(ctx, d.Owner)
		if err != nil {
			var unavailable *cart.UnavailableError
			if errors.As(err, &unavailable) {
				return invalid("cart", fmt.Sprintf("%s is no longer available, remove it to continue", unavailable.Name))
			}
			return err
		}
		if len(lines) == 0 {
			return ErrEmptyCart
		}

		placed, err = o.assembler.Create(ctx, repos.Orders, d, lines)
		if err != nil {
			return err
		}
		if err := repos.Orders.AppendEvent(ctx, order.NewEvent(&placed, order.EventOrderCreated, map[string]any{
			"total":     placed.Total.String(),
			"itemCount": len(placed.Items),
			"method":    string(placed.PaymentMethod),
		})); err != nil {
			return err
		}
		return repos.Carts.Clear(ctx, d.Owner)
	})
	return placed, lines, err
}

func (o *Orchestrator) attach(ctx context.Context, number string, push mpesa.PushResponse) error {
	return o.uow.Do(ctx, func(ctx context.Context, repos store.Repos) error {
		if err := repos.Callbacks.Lock(ctx, push.CheckoutRequestID); err != nil {
			return err
		}
		ord, err := repos.Orders.LockByNumber(ctx, number)
		if err != nil {
			return err
		}
		ord.AttachPaymentRequest(push.CheckoutRequestID, push.MerchantRequestID)
		if err := repos.Orders.Update(ctx, &ord); err != nil {
			return err
		}
		return repos.Orders.AppendEvent(ctx, order.NewEvent(&ord, order.EventPaymentRequested, map[string]any{
			"checkoutRequestId": push.CheckoutRequestID,
			"merchantRequestId": push.MerchantRequestID,
		}))
	})
}

func (o *Orchestrator) compensate(ctx context.Context, key owner.Key, number string, lines []cart.Line, cause error) error {
	return o.uow.Do(ctx, func(ctx context.Context, repos store.Repos) error {
		ord, err := repos.Orders.LockByNumber(ctx, number)
		if err != nil {
			return err
		}
		if err := ord.FailInitiation(initiationFailedReason); err != nil {
			return err
		}
		if err := repos.Orders.Update(ctx, &ord); err != nil {
			return err
		}
		if err := repos.Orders.AppendEvent(ctx, order.NewEvent(&ord, order.EventPaymentInitiationFailed, map[string]any{
			"reason": cause.Error(),
		})); err != nil {
			return err
		}
		return repos.Carts.Restore(ctx, key, lines)
	})
}
