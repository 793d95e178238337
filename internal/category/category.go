package category

import "errors"

var (
	ErrInvalidName = errors.New("category name is required")
	ErrDuplicate   = errors.New("category already exists")
)

// Category groups catalog products. Products point at it through
// category_id and the storefront filters on it.
type Category struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}
