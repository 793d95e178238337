package order

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/wichananm65/storefront-backend/internal/money"
	"github.com/wichananm65/storefront-backend/internal/owner"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusConfirmed  Status = "confirmed"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
)

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentFailed   PaymentStatus = "failed"
	PaymentRefunded PaymentStatus = "refunded"
)

type PaymentMethod string

const (
	MethodMobileMoney    PaymentMethod = "mobile_money"
	MethodCashOnDelivery PaymentMethod = "cash_on_delivery"
)

func (m PaymentMethod) Valid() bool {
	return m == MethodMobileMoney || m == MethodCashOnDelivery
}

// Address is the snapshot stored with the order. Later profile edits never
// reach it.
type Address struct {
	FirstName  string `json:"firstName"`
	LastName   string `json:"lastName"`
	Email      string `json:"email,omitempty"`
	Phone      string `json:"phone"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	County     string `json:"county,omitempty"`
	PostalCode string `json:"postalCode,omitempty"`
	Country    string `json:"country"`
}

func (a Address) Value() (driver.Value, error) {
	return json.Marshal(a)
}

func (a *Address) Scan(src any) error {
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, a)
	case string:
		return json.Unmarshal([]byte(v), a)
	case nil:
		*a = Address{}
		return nil
	default:
		return fmt.Errorf("scan address: unsupported type %T", src)
	}
}

// Item is immutable once the order is placed. Its line total is always
// derived from quantity and unit price.
type Item struct {
	ID        int64        `json:"orderItemId"`
	OrderID   int64        `json:"-"`
	ProductID int64        `json:"productId"`
	Name      string       `json:"productName"`
	SKU       string       `json:"sku"`
	Quantity  int          `json:"quantity"`
	UnitPrice money.Amount `json:"unitPrice"`
}

func (i Item) LineTotal() money.Amount { return i.UnitPrice.Mul(i.Quantity) }

func (i Item) MarshalJSON() ([]byte, error) {
	type plain Item
	return json.Marshal(struct {
		plain
		LineTotal money.Amount `json:"lineTotal"`
	}{plain(i), i.LineTotal()})
}

type Order struct {
	ID            int64         `json:"orderId"`
	Number        string        `json:"orderNumber"`
	Owner         owner.Key     `json:"-"`
	Status        Status        `json:"status"`
	PaymentStatus PaymentStatus `json:"paymentStatus"`
	PaymentMethod PaymentMethod `json:"paymentMethod"`

	Subtotal    money.Amount `json:"subtotal"`
	Tax         money.Amount `json:"tax"`
	ShippingFee money.Amount `json:"shippingFee"`
	Total       money.Amount `json:"total"`

	ContactEmail    string  `json:"contactEmail"`
	BillingAddress  Address `json:"billingAddress"`
	ShippingAddress Address `json:"shippingAddress"`
	PaymentPhone    string  `json:"paymentPhone,omitempty"`

	CheckoutRequestID    string `json:"checkoutRequestId,omitempty"`
	MerchantRequestID    string `json:"-"`
	PaymentReference     string `json:"paymentReference,omitempty"`
	PaymentFailureReason string `json:"paymentFailureReason,omitempty"`

	PaidAt      *time.Time `json:"paidAt,omitempty"`
	ShippedAt   *time.Time `json:"shippedAt,omitempty"`
	DeliveredAt *time.Time `json:"deliveredAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`

	Items []Item `json:"items"`
}

var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrPaymentSettled    = errors.New("payment already settled")
)

var transitions = map[Status][]Status{
	StatusPending:    {StatusConfirmed, StatusCancelled},
	StatusConfirmed:  {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusShipped, StatusCancelled},
	StatusShipped:    {StatusDelivered},
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusProcessing, StatusShipped, StatusDelivered, StatusCancelled:
		return true
	}
	return false
}

func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// TransitionTo moves the lifecycle forward, stamping shipped and delivered.
func (o *Order) TransitionTo(next Status, now time.Time) error {
	if !o.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, next)
	}
	o.Status = next
	switch next {
	case StatusShipped:
		o.ShippedAt = &now
	case StatusDelivered:
		o.DeliveredAt = &now
	}
	return nil
}

// PaymentResult is the provider's verdict on a push-payment attempt.
type PaymentResult struct {
	Success bool
	Receipt string
	Reason  string
}

// ApplyPaymentResult settles a pending payment. Anything but a pending
// payment is left untouched and reported as unchanged, so redelivered
// callbacks are harmless.
func (o *Order) ApplyPaymentResult(r PaymentResult, now time.Time) bool {
	if o.PaymentStatus != PaymentPending {
		return false
	}
	if r.Success {
		o.PaymentStatus = PaymentPaid
		o.PaymentReference = r.Receipt
		o.PaymentFailureReason = ""
		o.PaidAt = &now
		if o.Status == StatusPending {
			o.Status = StatusConfirmed
		}
		return true
	}
	o.PaymentStatus = PaymentFailed
	o.PaymentFailureReason = r.Reason
	return true
}

// AttachPaymentRequest records the gateway correlation ids of an accepted push.
func (o *Order) AttachPaymentRequest(checkoutRequestID, merchantRequestID string) {
	o.CheckoutRequestID = checkoutRequestID
	o.MerchantRequestID = merchantRequestID
}

// FailInitiation marks the payment failed and cancels the order when the
// gateway refused or never answered the push request.
func (o *Order) FailInitiation(reason string) error {
	if o.PaymentStatus != PaymentPending {
		return ErrPaymentSettled
	}
	o.PaymentStatus = PaymentFailed
	o.PaymentFailureReason = reason
	if o.Status.CanTransitionTo(StatusCancelled) {
		o.Status = StatusCancelled
	}
	return nil
}

func (o *Order) Refund() error {
	if o.PaymentStatus != PaymentPaid && o.PaymentStatus != PaymentFailed {
		return fmt.Errorf("%w: payment %s cannot be refunded", ErrInvalidTransition, o.PaymentStatus)
	}
	o.PaymentStatus = PaymentRefunded
	return nil
}

// ItemsTotal sums line totals in minor units.
func (o *Order) ItemsTotal() money.Amount {
	var total money.Amount
	for _, it := range o.Items {
		total = total.Add(it.LineTotal())
	}
	return total
}

// Confirmation is the limited view served to the checkout success page.
type Confirmation struct {
	Number        string        `json:"orderNumber"`
	Status        Status        `json:"status"`
	PaymentStatus PaymentStatus `json:"paymentStatus"`
	PaymentMethod PaymentMethod `json:"paymentMethod"`
	Total         money.Amount  `json:"total"`
	ItemCount     int           `json:"itemCount"`
	CreatedAt     time.Time     `json:"createdAt"`
}

func (o *Order) Confirmation() Confirmation {
	count := 0
	for _, it := range o.Items {
		count += it.Quantity
	}
	return Confirmation{
		Number:        o.Number,
		Status:        o.Status,
		PaymentStatus: o.PaymentStatus,
		PaymentMethod: o.PaymentMethod,
		Total:         o.Total,
		ItemCount:     count,
		CreatedAt:     o.CreatedAt,
	}
}
