package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wichananm65/storefront-backend/internal/cart"
	"github.com/wichananm65/storefront-backend/internal/money"
	"github.com/wichananm65/storefront-backend/internal/owner"
)

const maxNumberAttempts = 5

var ErrNoLines = errors.New("order needs at least one line")

// Pricing holds the server-side charges added on top of the line items.
type Pricing struct {
	TaxBasisPoints int64
	ShippingFee    money.Amount
}

// Draft carries the validated checkout input the assembler turns into an order.
type Draft struct {
	Owner           owner.Key
	Method          PaymentMethod
	ContactEmail    string
	BillingAddress  Address
	ShippingAddress Address
	PaymentPhone    string
}

type Assembler struct {
	pricing Pricing
	numbers NumberSource
	now     func() time.Time
}

type AssemblerOption func(*Assembler)

func WithNumberSource(src NumberSource) AssemblerOption {
	return func(a *Assembler) { a.numbers = src }
}

func WithClock(now func() time.Time) AssemblerOption {
	return func(a *Assembler) { a.now = now }
}

func NewAssembler(pricing Pricing, opts ...AssemblerOption) *Assembler {
	a := &Assembler{pricing: pricing, numbers: RandomNumber, now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Build prices the lines and snapshots names, SKUs and unit prices. It does
// not touch storage.
func (a *Assembler) Build(d Draft, lines []cart.Line) (Order, error) {
	if len(lines) == 0 {
		return Order{}, ErrNoLines
	}
	if err := d.Owner.Validate(); err != nil {
		return Order{}, err
	}
	if !d.Method.Valid() {
		return Order{}, fmt.Errorf("unsupported payment method %q", d.Method)
	}

	o := Order{
		Owner:           d.Owner,
		Status:          StatusPending,
		PaymentStatus:   PaymentPending,
		PaymentMethod:   d.Method,
		ContactEmail:    d.ContactEmail,
		BillingAddress:  d.BillingAddress,
		ShippingAddress: d.ShippingAddress,
		PaymentPhone:    d.PaymentPhone,
		Items:           make([]Item, 0, len(lines)),
	}
	for _, l := range lines {
		if l.Quantity < 1 {
			return Order{}, fmt.Errorf("line for product %d has quantity %d", l.ProductID, l.Quantity)
		}
		o.Items = append(o.Items, Item{
			ProductID: l.ProductID,
			Name:      l.Name,
			SKU:       l.SKU,
			Quantity:  l.Quantity,
			UnitPrice: l.UnitPrice,
		})
	}

	o.Subtotal = o.ItemsTotal()
	o.Tax = o.Subtotal.ApplyBasisPoints(a.pricing.TaxBasisPoints)
	o.ShippingFee = a.pricing.ShippingFee
	o.Total = money.Sum(o.Subtotal, o.Tax, o.ShippingFee)
	return o, nil
}

// Create builds the order and inserts it through repo, drawing a fresh number
// whenever the store reports a collision.
func (a *Assembler) Create(ctx context.Context, repo Repository, d Draft, lines []cart.Line) (Order, error) {
	o, err := a.Build(d, lines)
	if err != nil {
		return Order{}, err
	}

	for attempt := 1; attempt <= maxNumberAttempts; attempt++ {
		o.Number = a.numbers(a.now())
		err = repo.Insert(ctx, &o)
		if err == nil {
			return o, nil
		}
		if !errors.Is(err, ErrDuplicateNumber) {
			return Order{}, err
		}
	}
	return Order{}, fmt.Errorf("allocate order number after %d attempts: %w", maxNumberAttempts, err)
}
