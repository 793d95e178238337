package mpesa

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/wichananm65/storefront-backend/internal/money"
)

// CallbackResult is the parsed stkCallback body. CheckoutRequestID is filled
// in whenever it could be read, even if the rest of the payload is rejected.
type CallbackResult struct {
	MerchantRequestID string
	CheckoutRequestID string
	ResultCode        int
	ResultDesc        string
	Receipt           string
	Amount            money.Amount
	TransactionDate   time.Time
	Phone             string
}

func (r CallbackResult) Success() bool { return r.ResultCode == 0 }

type callbackEnvelope struct {
	Body *struct {
		StkCallback *struct {
			MerchantRequestID string       `json:"MerchantRequestID"`
			CheckoutRequestID string       `json:"CheckoutRequestID"`
			ResultCode        *json.Number `json:"ResultCode"`
			ResultDesc        string       `json:"ResultDesc"`
			CallbackMetadata  *struct {
				Item []struct {
					Name  string `json:"Name"`
					Value any    `json:"Value"`
				} `json:"Item"`
			} `json:"CallbackMetadata"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

// ParseCallback validates the provider's asynchronous notification. Errors
// wrap ErrMalformedCallback.
func ParseCallback(raw []byte) (CallbackResult, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var env callbackEnvelope
	if err := dec.Decode(&env); err != nil {
		return CallbackResult{}, fmt.Errorf("%w: %v", ErrMalformedCallback, err)
	}
	if env.Body == nil || env.Body.StkCallback == nil {
		return CallbackResult{}, fmt.Errorf("%w: missing Body.stkCallback", ErrMalformedCallback)
	}
	cb := env.Body.StkCallback

	res := CallbackResult{
		MerchantRequestID: cb.MerchantRequestID,
		CheckoutRequestID: cb.CheckoutRequestID,
		ResultDesc:        cb.ResultDesc,
	}
	if cb.CheckoutRequestID == "" {
		return res, fmt.Errorf("%w: missing CheckoutRequestID", ErrMalformedCallback)
	}
	if cb.ResultCode == nil {
		return res, fmt.Errorf("%w: missing ResultCode", ErrMalformedCallback)
	}
	code, err := strconv.Atoi(cb.ResultCode.String())
	if err != nil {
		return res, fmt.Errorf("%w: ResultCode %q", ErrMalformedCallback, cb.ResultCode.String())
	}
	res.ResultCode = code

	if !res.Success() {
		return res, nil
	}
	if cb.CallbackMetadata == nil {
		return res, fmt.Errorf("%w: success without CallbackMetadata", ErrMalformedCallback)
	}
	for _, it := range cb.CallbackMetadata.Item {
		v := scalar(it.Value)
		switch it.Name {
		case "MpesaReceiptNumber":
			res.Receipt = v
		case "Amount":
			if a, err := money.Parse(v); err == nil {
				res.Amount = a
			}
		case "TransactionDate":
			if t, err := time.ParseInLocation(timestampLayout, v, nairobi); err == nil {
				res.TransactionDate = t
			}
		case "PhoneNumber":
			if p, err := NormalizePhone(v); err == nil {
				res.Phone = p
			} else {
				res.Phone = v
			}
		}
	}
	if res.Receipt == "" {
		return res, fmt.Errorf("%w: success without MpesaReceiptNumber", ErrMalformedCallback)
	}
	return res, nil
}

func scalar(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case json.Number:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}
