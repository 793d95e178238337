package product

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/wichananm65/storefront-backend/internal/money"
)

// Product maps to the `products` table. Price is authoritative: carts and
// orders snapshot it but never trust a client-supplied value.
type Product struct {
	ID         int64        `json:"productId"`
	CategoryID *int64       `json:"categoryId,omitempty"`
	Name       string       `json:"productName"`
	SKU        string       `json:"sku"`
	Price      money.Amount `json:"productPrice"`
	Active     bool         `json:"active"`
	Attributes Attributes   `json:"attributes,omitempty"`
}

type Kind string

const (
	KindString Kind = "string"
	KindNumber Kind = "number"
	KindBool   Kind = "bool"
)

// Attributes is the flexible product attribute bag. Values are scalars only.
type Attributes map[string]any

// Schema lists the attribute keys a consumer understands and their kinds.
type Schema map[string]Kind

var ErrInvalidAttributes = errors.New("invalid product attributes")

// DefaultSchema covers the attributes the storefront renders.
var DefaultSchema = Schema{
	"brand":     KindString,
	"color":     KindString,
	"size":      KindString,
	"material":  KindString,
	"weight_kg": KindNumber,
	"warranty":  KindNumber,
	"organic":   KindBool,
	"fragile":   KindBool,
}

func (s Schema) Validate(attrs Attributes) error {
	var problems []string
	for _, key := range attrs.keys() {
		kind, ok := s[key]
		if !ok {
			problems = append(problems, fmt.Sprintf("%s: unknown attribute", key))
			continue
		}
		if !kindOf(attrs[key], kind) {
			problems = append(problems, fmt.Sprintf("%s: expected %s", key, kind))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidAttributes, strings.Join(problems, "; "))
	}
	return nil
}

func kindOf(v any, kind Kind) bool {
	switch kind {
	case KindString:
		_, ok := v.(string)
		return ok
	case KindBool:
		_, ok := v.(bool)
		return ok
	case KindNumber:
		switch v.(type) {
		case float64, float32, int, int64, int32, json.Number:
			return true
		}
	}
	return false
}

func (a Attributes) keys() []string {
	keys := make([]string, 0, len(a))
	for k := range a {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (a Attributes) String(key string) (string, bool) {
	v, ok := a[key].(string)
	return v, ok
}

func (a Attributes) Value() (driver.Value, error) {
	if a == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(a)
}

func (a *Attributes) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	case nil:
		*a = Attributes{}
		return nil
	default:
		return fmt.Errorf("scan attributes: unsupported type %T", src)
	}
	out := Attributes{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("scan attributes: %w", err)
	}
	*a = out
	return nil
}
