package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/wichananm65/storefront-backend/internal/logger"
	"github.com/wichananm65/storefront-backend/internal/metrics"
	"github.com/wichananm65/storefront-backend/internal/mpesa"
	"github.com/wichananm65/storefront-backend/internal/order"
	"github.com/wichananm65/storefront-backend/internal/store"
)

// Ack is the body the provider expects back from a callback.
type Ack struct {
	ResultCode int    `json:"ResultCode"`
	ResultDesc string `json:"ResultDesc"`
}

var (
	Accepted = Ack{ResultCode: 0, ResultDesc: "Accepted"}
	Rejected = Ack{ResultCode: 1, ResultDesc: "Rejected"}
)

// Processor applies payment callbacks to orders. Deliveries are
// at-least-once and may arrive before the order knows its checkout request
// id; both cases are absorbed here.
type Processor struct {
	uow     store.UnitOfWork
	log     *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewProcessor(uow store.UnitOfWork, log *zap.Logger, m *metrics.Metrics) *Processor {
	return &Processor{uow: uow, log: log, metrics: m, now: time.Now}
}

// HandleCallback never fails towards the provider: internal errors are
// recorded for operators and still acknowledged.
func (p *Processor) HandleCallback(ctx context.Context, raw []byte) Ack {
	log := logger.For(ctx, p.log)

	res, err := mpesa.ParseCallback(raw)
	if err != nil {
		log.Warn("Malformed payment callback",
			zap.Error(err),
			zap.String("checkout_request_id", res.CheckoutRequestID),
			zap.ByteString("payload", raw),
		)
		p.recordOutside(ctx, res, order.CallbackMalformed, raw)
		return Rejected
	}

	var outcome order.CallbackOutcome
	err = p.uow.Do(ctx, func(ctx context.Context, repos store.Repos) error {
		// Held until commit so an attach for the same id either sees this
		// unmatched row or is seen by the lookup below.
		if err := repos.Callbacks.Lock(ctx, res.CheckoutRequestID); err != nil {
			return err
		}
		var err error
		outcome, err = p.apply(ctx, repos, res)
		if err != nil {
			return err
		}
		_, err = repos.Callbacks.Record(ctx, record(res, outcome, raw))
		return err
	})
	if err != nil {
		log.Error("Payment callback processing failed",
			zap.Error(err),
			zap.String("checkout_request_id", res.CheckoutRequestID),
			zap.ByteString("payload", raw),
		)
		p.recordOutside(ctx, res, order.CallbackError, raw)
		return Accepted
	}

	p.metrics.Callback(string(outcome))
	log.Info("Payment callback processed",
		zap.String("checkout_request_id", res.CheckoutRequestID),
		zap.Int("result_code", res.ResultCode),
		zap.String("outcome", string(outcome)),
	)
	return Accepted
}

// Reconcile replays callbacks that arrived before an order carried
// checkoutRequestID. It returns how many were replayed.
func (p *Processor) Reconcile(ctx context.Context, checkoutRequestID string) (int, error) {
	replayed := 0
	err := p.uow.Do(ctx, func(ctx context.Context, repos store.Repos) error {
		replayed = 0
		if err := repos.Callbacks.Lock(ctx, checkoutRequestID); err != nil {
			return err
		}
		pending, err := repos.Callbacks.Unmatched(ctx, checkoutRequestID)
		if err != nil {
			return err
		}
		for _, rec := range pending {
			res, err := mpesa.ParseCallback(rec.Payload)
			if err != nil {
				if err := repos.Callbacks.MarkOutcome(ctx, rec.ID, order.CallbackMalformed); err != nil {
					return err
				}
				continue
			}
			outcome, err := p.apply(ctx, repos, res)
			if err != nil {
				return err
			}
			if outcome == order.CallbackUnmatched {
				continue
			}
			if err := repos.Callbacks.MarkOutcome(ctx, rec.ID, order.CallbackReplayed); err != nil {
				return err
			}
			replayed++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("reconcile %s: %w", checkoutRequestID, err)
	}
	if replayed > 0 {
		p.metrics.Callback(string(order.CallbackReplayed))
		logger.For(ctx, p.log).Info("Replayed early payment callbacks",
			zap.String("checkout_request_id", checkoutRequestID),
			zap.Int("count", replayed),
		)
	}
	return replayed, nil
}

// apply settles the order matching res inside the caller's unit of work.
func (p *Processor) apply(ctx context.Context, repos store.Repos, res mpesa.CallbackResult) (order.CallbackOutcome, error) {
	o, err := repos.Orders.FindByCheckoutRequest(ctx, res.CheckoutRequestID)
	if errors.Is(err, order.ErrNotFound) {
		return order.CallbackUnmatched, nil
	}
	if err != nil {
		return "", err
	}

	wasCancelled := o.Status == order.StatusCancelled
	changed := o.ApplyPaymentResult(order.PaymentResult{
		Success: res.Success(),
		Receipt: res.Receipt,
		Reason:  res.ResultDesc,
	}, p.now().UTC())
	if !changed {
		return order.CallbackDuplicate, nil
	}

	if err := repos.Orders.Update(ctx, &o); err != nil {
		return "", err
	}

	extra := map[string]any{
		"checkoutRequestId": res.CheckoutRequestID,
		"resultCode":        res.ResultCode,
	}
	eventType := order.EventPaymentFailed
	if res.Success() {
		eventType = order.EventPaymentPaid
		extra["receipt"] = res.Receipt
		extra["amount"] = res.Amount.String()
		if res.Phone != "" {
			extra["phone"] = res.Phone
		}
		if !res.TransactionDate.IsZero() {
			extra["transactionDate"] = res.TransactionDate.UTC().Format(time.RFC3339)
		}
		if res.Amount != 0 && res.Amount.WholeUnitsCeil() != o.Total.WholeUnitsCeil() {
			logger.For(ctx, p.log).Warn("Paid amount differs from order total",
				zap.String("order_number", o.Number),
				zap.String("paid", res.Amount.String()),
				zap.String("total", o.Total.String()),
			)
		}
	} else {
		extra["reason"] = res.ResultDesc
	}
	if err := repos.Orders.AppendEvent(ctx, order.NewEvent(&o, eventType, extra)); err != nil {
		return "", err
	}

	// The customer paid for an order that no longer ships.
	if wasCancelled && res.Success() {
		logger.For(ctx, p.log).Warn("Payment received for cancelled order",
			zap.String("order_number", o.Number),
			zap.String("receipt", res.Receipt),
		)
		if err := repos.Orders.AppendEvent(ctx, order.NewEvent(&o, order.EventPaymentRefundRequired, map[string]any{
			"receipt": res.Receipt,
			"amount":  res.Amount.String(),
		})); err != nil {
			return "", err
		}
	}
	return order.CallbackApplied, nil
}

func (p *Processor) recordOutside(ctx context.Context, res mpesa.CallbackResult, outcome order.CallbackOutcome, raw []byte) {
	p.metrics.Callback(string(outcome))
	err := p.uow.Do(ctx, func(ctx context.Context, repos store.Repos) error {
		_, err := repos.Callbacks.Record(ctx, record(res, outcome, raw))
		return err
	})
	if err != nil {
		logger.For(ctx, p.log).Error("Recording payment callback failed", zap.Error(err), zap.ByteString("payload", raw))
	}
}

func record(res mpesa.CallbackResult, outcome order.CallbackOutcome, raw []byte) order.CallbackRecord {
	rec := order.CallbackRecord{
		CheckoutRequestID: res.CheckoutRequestID,
		Outcome:           outcome,
		Payload:           raw,
	}
	if outcome != order.CallbackMalformed {
		code := res.ResultCode
		rec.ResultCode = &code
	}
	return rec
}
