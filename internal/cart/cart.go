package cart

import (
	"github.com/wichananm65/storefront-backend/internal/money"
)

// MaxQuantity bounds a single cart line.
const MaxQuantity = 99

// Item is one cart line as stored: the unit price is the snapshot taken when
// the product was last added.
type Item struct {
	ID        int64        `json:"cartItemId"`
	ProductID int64        `json:"productId"`
	Name      string       `json:"productName"`
	SKU       string       `json:"sku"`
	Quantity  int          `json:"quantity"`
	UnitPrice money.Amount `json:"unitPrice"`
}

func (i Item) LineTotal() money.Amount { return i.UnitPrice.Mul(i.Quantity) }

// Line is a cart line priced from the live catalog, as handed to checkout.
type Line struct {
	ProductID int64
	Name      string
	SKU       string
	Quantity  int
	UnitPrice money.Amount
}

func (l Line) LineTotal() money.Amount { return l.UnitPrice.Mul(l.Quantity) }

type Cart struct {
	Items     []Item       `json:"items"`
	ItemCount int          `json:"itemCount"`
	Subtotal  money.Amount `json:"subtotal"`
}

type itemView struct {
	Item
	LineTotal money.Amount `json:"lineTotal"`
}

func newCart(items []Item) Cart {
	c := Cart{Items: items}
	if c.Items == nil {
		c.Items = []Item{}
	}
	for _, it := range items {
		c.ItemCount += it.Quantity
		c.Subtotal = c.Subtotal.Add(it.LineTotal())
	}
	return c
}

func (c Cart) view() []itemView {
	out := make([]itemView, 0, len(c.Items))
	for _, it := range c.Items {
		out = append(out, itemView{Item: it, LineTotal: it.LineTotal()})
	}
	return out
}
