// Package mpesa is a client for the Safaricom Daraja STK Push API: OAuth
// token retrieval, push payment requests and callback parsing.
package mpesa

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUnavailable is wrapped by every gateway failure. Callers treat it as
	// a soft "try again or pick another method" condition.
	ErrUnavailable       = errors.New("mobile payment unavailable")
	ErrInvalidPhone      = errors.New("invalid mobile money phone number")
	ErrMalformedCallback = errors.New("malformed payment callback")
)

type Config struct {
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	ShortCode      string
	PassKey        string
	CallbackURL    string
	Timeout        time.Duration
}

// Error describes a failed gateway operation. Rejected is set when the
// provider answered but refused the request.
type Error struct {
	Op       string
	Status   int
	Code     string
	Message  string
	Rejected bool
	Err      error
}

func (e *Error) Error() string {
	msg := "mpesa " + e.Op
	if e.Status != 0 {
		msg += fmt.Sprintf(": status %d", e.Status)
	}
	if e.Code != "" {
		msg += ": code " + e.Code
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrUnavailable}
	}
	return []error{ErrUnavailable, e.Err}
}

var nairobi = loadNairobi()

func loadNairobi() *time.Location {
	loc, err := time.LoadLocation("Africa/Nairobi")
	if err != nil {
		return time.FixedZone("EAT", 3*60*60)
	}
	return loc
}

const timestampLayout = "20060102150405"

// Timestamp formats t the way Daraja expects in passwords and callbacks.
func Timestamp(t time.Time) string {
	return t.In(nairobi).Format(timestampLayout)
}
