package order

import "time"

type EventType string

const (
	EventOrderCreated            EventType = "order.created"
	EventPaymentRequested        EventType = "payment.requested"
	EventPaymentInitiationFailed EventType = "payment.initiation_failed"
	EventPaymentPaid             EventType = "payment.paid"
	EventPaymentFailed           EventType = "payment.failed"
	EventPaymentRefunded         EventType = "payment.refunded"
	EventPaymentRefundRequired   EventType = "payment.refund_required"
	EventStatusChanged           EventType = "order.status_changed"
)

// Event is an outbox row written in the same transaction as the state change
// it describes.
type Event struct {
	ID        int64          `json:"eventId"`
	OrderID   int64          `json:"orderId"`
	Type      EventType      `json:"type"`
	Payload   map[string]any `json:"payload"`
	CreatedAt time.Time      `json:"createdAt"`
}

func NewEvent(o *Order, t EventType, extra map[string]any) Event {
	payload := map[string]any{
		"orderNumber":   o.Number,
		"status":        string(o.Status),
		"paymentStatus": string(o.PaymentStatus),
	}
	for k, v := range extra {
		payload[k] = v
	}
	return Event{OrderID: o.ID, Type: t, Payload: payload}
}
