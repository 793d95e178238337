package mpesa

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/wichananm65/storefront-backend/internal/logger"
	"github.com/wichananm65/storefront-backend/internal/money"
)

const (
	tokenPath = "/oauth/v1/generate?grant_type=client_credentials"
	pushPath  = "/mpesa/stkpush/v1/processrequest"

	acceptedCode       = "0"
	tokenSafetyMargin  = 60 * time.Second
	maxReferenceLength = 12
	maxDescLength      = 13
)

// PushRequest is one STK Push prompt sent to the payer's handset.
type PushRequest struct {
	Phone       string
	Amount      money.Amount
	Reference   string
	Description string
}

// PushResponse carries the correlation ids of an accepted push.
type PushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

type stkPushBody struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

type tokenResponse struct {
	AccessToken string      `json:"access_token"`
	ExpiresIn   json.Number `json:"expires_in"`
}

type errorResponse struct {
	RequestID    string `json:"requestId"`
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

// Observer receives the duration of every gateway round trip.
type Observer func(op string, d time.Duration)

type Client struct {
	cfg      Config
	http     *http.Client
	tokens   TokenCache
	breaker  *gobreaker.CircuitBreaker[PushResponse]
	inflight singleflight.Group
	log      *zap.Logger
	now      func() time.Time
	observe  Observer
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithTokenCache(tc TokenCache) Option {
	return func(c *Client) { c.tokens = tc }
}

func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

func WithObserver(o Observer) Option {
	return func(c *Client) { c.observe = o }
}

func NewClient(cfg Config, log *zap.Logger, opts ...Option) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	c := &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		tokens:  NewMemoryTokenCache(),
		log:     log,
		now:     time.Now,
		observe: func(string, time.Duration) {},
	}
	for _, opt := range opts {
		opt(c)
	}

	c.breaker = gobreaker.NewCircuitBreaker[PushResponse](gobreaker.Settings{
		Name:        "mpesa-stk-push",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// Provider rejections mean the gateway is up.
		IsSuccessful: func(err error) bool {
			var gwErr *Error
			return err == nil || (errors.As(err, &gwErr) && gwErr.Rejected)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.log.Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return c
}

// Authenticate returns a cached access token or fetches a new one with the
// client credentials grant.
func (c *Client) Authenticate(ctx context.Context) (string, error) {
	token, err := c.tokens.Get(ctx)
	if err == nil && token != "" {
		return token, nil
	}
	if err != nil && !errors.Is(err, ErrTokenMiss) {
		logger.For(ctx, c.log).Warn("Token cache read failed", zap.Error(err))
	}

	// The fetch is shared by every waiter, so it must not die with the
	// first caller's context.
	ch := c.inflight.DoChan("token", func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.Timeout)
		defer cancel()
		return c.fetchToken(fetchCtx)
	})
	select {
	case <-ctx.Done():
		return "", &Error{Op: "oauth", Err: ctx.Err()}
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (c *Client) fetchToken(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+tokenPath, nil)
	if err != nil {
		return "", &Error{Op: "oauth", Err: err}
	}
	req.SetBasicAuth(c.cfg.ConsumerKey, c.cfg.ConsumerSecret)

	status, body, err := c.do(req, "oauth")
	if err != nil {
		return "", &Error{Op: "oauth", Err: err}
	}
	if status != http.StatusOK {
		return "", &Error{Op: "oauth", Status: status, Message: truncate(body)}
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", &Error{Op: "oauth", Status: status, Err: fmt.Errorf("decode response: %w", err)}
	}
	if tr.AccessToken == "" {
		return "", &Error{Op: "oauth", Status: status, Message: "empty access token"}
	}

	if secs, err := strconv.ParseInt(tr.ExpiresIn.String(), 10, 64); err == nil {
		ttl := time.Duration(secs)*time.Second - tokenSafetyMargin
		if ttl > 0 {
			if err := c.tokens.Set(ctx, tr.AccessToken, ttl); err != nil {
				logger.For(ctx, c.log).Warn("Token cache write failed", zap.Error(err))
			}
		}
	}
	return tr.AccessToken, nil
}

// Password is base64(shortcode + passkey + timestamp).
func (c *Client) Password(timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(c.cfg.ShortCode + c.cfg.PassKey + timestamp))
}

// PushPayment asks the payer's handset to authorize amount. The payment is
// not settled until the callback arrives. Every failure is an *Error.
func (c *Client) PushPayment(ctx context.Context, r PushRequest) (PushResponse, error) {
	phone, err := NormalizePhone(r.Phone)
	if err != nil {
		return PushResponse{}, &Error{Op: "stk_push", Rejected: true, Err: err}
	}

	res, err := c.breaker.Execute(func() (PushResponse, error) {
		return c.push(ctx, phone, r)
	})
	if err != nil {
		var gwErr *Error
		if !errors.As(err, &gwErr) {
			err = &Error{Op: "stk_push", Err: err}
		}
		return PushResponse{}, err
	}
	return res, nil
}

func (c *Client) push(ctx context.Context, phone string, r PushRequest) (PushResponse, error) {
	log := logger.For(ctx, c.log)

	token, err := c.Authenticate(ctx)
	if err != nil {
		log.Error("Mobile money authentication failed", zap.Error(err))
		return PushResponse{}, err
	}

	ts := Timestamp(c.now())
	body := stkPushBody{
		BusinessShortCode: c.cfg.ShortCode,
		Password:          c.Password(ts),
		Timestamp:         ts,
		TransactionType:   "CustomerPayBillOnline",
		Amount:            r.Amount.WholeUnitsCeil(),
		PartyA:            phone,
		PartyB:            c.cfg.ShortCode,
		PhoneNumber:       phone,
		CallBackURL:       c.cfg.CallbackURL,
	}
	body.AccountReference = AccountReference(r.Reference)
	body.TransactionDesc = describe(r.Description, body.AccountReference)
	fields := []zap.Field{
		zap.String("phone", phone),
		zap.Int64("amount", body.Amount),
		zap.String("reference", body.AccountReference),
		zap.String("short_code", body.BusinessShortCode),
		zap.String("timestamp", ts),
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return PushResponse{}, &Error{Op: "stk_push", Err: fmt.Errorf("marshal request: %w", err)}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+pushPath, bytes.NewReader(payload))
	if err != nil {
		return PushResponse{}, &Error{Op: "stk_push", Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	status, raw, err := c.do(req, "stk_push")
	if err != nil {
		log.Error("STK push request failed", append(fields, zap.Error(err))...)
		return PushResponse{}, &Error{Op: "stk_push", Err: err}
	}

	var res PushResponse
	decodeErr := json.Unmarshal(raw, &res)
	if status != http.StatusOK || decodeErr != nil || res.ResponseCode != acceptedCode {
		gwErr := &Error{Op: "stk_push", Status: status, Code: res.ResponseCode, Message: res.ResponseDescription}
		var er errorResponse
		if json.Unmarshal(raw, &er) == nil && er.ErrorCode != "" {
			gwErr.Code, gwErr.Message = er.ErrorCode, er.ErrorMessage
		}
		if gwErr.Message == "" {
			gwErr.Message = truncate(raw)
		}
		// 4xx and non-zero response codes are answers from a working gateway.
		gwErr.Rejected = status < http.StatusInternalServerError && decodeErr == nil
		if status == http.StatusUnauthorized {
			c.dropToken(ctx)
		}
		log.Warn("STK push not accepted", append(fields,
			zap.Int("status", status),
			zap.String("code", gwErr.Code),
			zap.String("message", gwErr.Message),
		)...)
		return PushResponse{}, gwErr
	}

	log.Info("STK push accepted", append(fields,
		zap.String("checkout_request_id", res.CheckoutRequestID),
		zap.String("merchant_request_id", res.MerchantRequestID),
	)...)
	return res, nil
}

func (c *Client) dropToken(ctx context.Context) {
	if err := c.tokens.Set(ctx, "", time.Millisecond); err != nil {
		logger.For(ctx, c.log).Warn("Token cache reset failed", zap.Error(err))
	}
}

func (c *Client) do(req *http.Request, op string) (int, []byte, error) {
	start := time.Now()
	resp, err := c.http.Do(req)
	c.observe(op, time.Since(start))
	if err != nil {
		return 0, nil, fmt.Errorf("http do: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, body, nil
}

// AccountReference fits an order number into the 12 characters Daraja
// accepts. Separators go first, then the leading characters, so the
// distinguishing tail survives: ORD-20240501-AB12CD34 becomes 0501AB12CD34.
func AccountReference(ref string) string {
	compact := make([]rune, 0, len(ref))
	for _, r := range ref {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			compact = append(compact, r)
		}
	}
	if len(compact) > maxReferenceLength {
		compact = compact[len(compact)-maxReferenceLength:]
	}
	return string(compact)
}

// describe keeps desc when it fits, otherwise the statement shows the
// account reference.
func describe(desc, ref string) string {
	if desc == "" || utf8.RuneCountInString(desc) > maxDescLength {
		return ref
	}
	return desc
}

func truncate(b []byte) string {
	const limit = 256
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}
