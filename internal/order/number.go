package order

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

const numberPrefix = "ORD"

// NumberSource produces a candidate order number. Uniqueness is enforced by
// the orders_order_number_key constraint, not by the generator.
type NumberSource func(now time.Time) string

// RandomNumber yields ORD-YYYYMMDD-XXXXXXXX: the UTC date plus eight hex
// characters from a random uuid.
func RandomNumber(now time.Time) string {
	salt := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return numberPrefix + "-" + now.UTC().Format("20060102") + "-" + salt
}
