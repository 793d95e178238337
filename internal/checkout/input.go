package checkout

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/wichananm65/storefront-backend/internal/money"
	"github.com/wichananm65/storefront-backend/internal/mpesa"
	"github.com/wichananm65/storefront-backend/internal/order"
	"github.com/wichananm65/storefront-backend/internal/owner"
)

type AddressInput struct {
	FirstName  string `json:"firstName" validate:"required,max=100"`
	LastName   string `json:"lastName" validate:"required,max=100"`
	Phone      string `json:"phone" validate:"required,max=20"`
	Line1      string `json:"line1" validate:"required,max=200"`
	Line2      string `json:"line2" validate:"max=200"`
	City       string `json:"city" validate:"required,max=100"`
	County     string `json:"county" validate:"max=100"`
	PostalCode string `json:"postalCode" validate:"max=20"`
	Country    string `json:"country" validate:"required,max=56"`
}

// Input is the checkout form. ShippingAddress defaults to the billing
// address. ExpectedTotal is what the client displayed and is only compared,
// never charged.
type Input struct {
	Email           string        `json:"email" validate:"required,email,max=254"`
	BillingAddress  AddressInput  `json:"billingAddress"`
	ShippingAddress *AddressInput `json:"shippingAddress" validate:"omitempty"`
	PaymentMethod   string        `json:"paymentMethod" validate:"required,oneof=mobile_money cash_on_delivery"`
	MpesaPhone      string        `json:"mpesaPhone" validate:"required_if=PaymentMethod mobile_money,max=20"`
	ExpectedTotal   *money.Amount `json:"expectedTotal"`
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func (a *AddressInput) trim() {
	for _, f := range []*string{&a.FirstName, &a.LastName, &a.Phone, &a.Line1, &a.Line2, &a.City, &a.County, &a.PostalCode, &a.Country} {
		*f = strings.TrimSpace(*f)
	}
}

func (a AddressInput) address(email string) order.Address {
	return order.Address{
		FirstName:  a.FirstName,
		LastName:   a.LastName,
		Email:      email,
		Phone:      a.Phone,
		Line1:      a.Line1,
		Line2:      a.Line2,
		City:       a.City,
		County:     a.County,
		PostalCode: a.PostalCode,
		Country:    a.Country,
	}
}

// draft validates in and turns it into an order draft for key.
func draft(v *validator.Validate, key owner.Key, in Input, mobileEnabled bool) (order.Draft, error) {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.PaymentMethod = strings.TrimSpace(in.PaymentMethod)
	in.MpesaPhone = strings.TrimSpace(in.MpesaPhone)
	in.BillingAddress.trim()
	if in.ShippingAddress != nil {
		in.ShippingAddress.trim()
	}

	if err := v.Struct(in); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return order.Draft{}, err
		}
		out := &ValidationError{Fields: make(map[string]string, len(verrs))}
		for _, fe := range verrs {
			out.Fields[fieldPath(fe)] = message(fe)
		}
		return order.Draft{}, out
	}

	method := order.PaymentMethod(in.PaymentMethod)
	d := order.Draft{
		Owner:          key,
		Method:         method,
		ContactEmail:   in.Email,
		BillingAddress: in.BillingAddress.address(in.Email),
	}
	d.ShippingAddress = d.BillingAddress
	if in.ShippingAddress != nil {
		d.ShippingAddress = in.ShippingAddress.address(in.Email)
	}

	if method == order.MethodMobileMoney {
		if !mobileEnabled {
			return order.Draft{}, invalid("paymentMethod", "mobile money is not available, choose cash on delivery")
		}
		phone, err := mpesa.NormalizePhone(in.MpesaPhone)
		if err != nil {
			return order.Draft{}, invalid("mpesaPhone", "must be a valid M-Pesa number such as 0712345678")
		}
		d.PaymentPhone = phone
	}
	return d, nil
}

// fieldPath drops the root struct name: Input.billingAddress.city -> billingAddress.city.
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_if":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "oneof":
		return "must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	default:
		return "is invalid"
	}
}
