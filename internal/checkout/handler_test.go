package checkout

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v4"
	"go.uber.org/zap"

	"github.com/wichananm65/storefront-backend/internal/mpesa"
	"github.com/wichananm65/storefront-backend/internal/order"
	"github.com/wichananm65/storefront-backend/internal/owner"
	"github.com/wichananm65/storefront-backend/internal/store"
)

const testSession = "0b8d4f2e-3c1a-4e7b-9d55-1f2a3b4c5d6e"

func makeAppWithCheckoutHandler(f *fixture, perMinute int) *fiber.App {
	orders := order.NewService(f.orders, store.OrdersTx(f.uow))
	h := NewHandler(f.orchestrator(zap.NewNop(), order.Pricing{}), orders, NewRateLimiter(perMinute), zap.NewNop())

	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		if v := c.Get("X-User-ID"); v != "" {
			id, err := strconv.Atoi(v)
			if err == nil {
				claims := jwt.MapClaims{"user_id": id}
				tok := &jwt.Token{Claims: claims}
				c.Locals("user", tok)
			}
		}
		return c.Next()
	})
	app.Use(owner.Middleware(owner.Config{}))
	h.RegisterRoutes(app)
	return app
}

func postCheckout(t *testing.T, app *fiber.App, in Input) (*http.Response, map[string]any) {
	t.Helper()
	b, _ := json.Marshal(in)
	req := httptest.NewRequest("POST", "/api/v1/checkout", strings.NewReader(string(b)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Cookie", "sid="+testSession)
	res, err := app.Test(req)
	if err != nil {
		t.Fatalf("checkout request failed: %v", err)
	}
	var body map[string]any
	_ = json.NewDecoder(res.Body).Decode(&body)
	return res, body
}

func TestCheckoutEndpoint(t *testing.T) {
	f := newFixture()
	f.fillCart(t, owner.ForSession(testSession))
	app := makeAppWithCheckoutHandler(f, 30)

	res, body := postCheckout(t, app, validInput(order.MethodCashOnDelivery))
	if res.StatusCode != fiber.StatusCreated {
		t.Fatalf("expected 201 got %d: %v", res.StatusCode, body)
	}
	if body["total"] != "480.00" || body["paymentStatus"] != "pending" {
		t.Fatalf("unexpected body: %v", body)
	}
	number, _ := body["orderNumber"].(string)

	req := httptest.NewRequest("GET", "/api/v1/checkout/success?order="+number+"&email=wanjiru@example.com", nil)
	res, err := app.Test(req)
	if err != nil {
		t.Fatalf("success request failed: %v", err)
	}
	if res.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200 got %d", res.StatusCode)
	}

	req = httptest.NewRequest("GET", "/api/v1/checkout/success?order="+number+"&email=other@example.com", nil)
	res, _ = app.Test(req)
	if res.StatusCode != fiber.StatusNotFound {
		t.Fatalf("expected 404 for wrong email got %d", res.StatusCode)
	}

	res, body = postCheckout(t, app, validInput(order.MethodCashOnDelivery))
	if res.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("expected 400 for empty cart got %d: %v", res.StatusCode, body)
	}
}

func TestCheckoutEndpointValidation(t *testing.T) {
	f := newFixture()
	f.fillCart(t, owner.ForSession(testSession))
	app := makeAppWithCheckoutHandler(f, 30)

	in := validInput(order.MethodMobileMoney)
	in.MpesaPhone = ""
	res, body := postCheckout(t, app, in)
	if res.StatusCode != fiber.StatusUnprocessableEntity {
		t.Fatalf("expected 422 got %d", res.StatusCode)
	}
	fields, _ := body["errors"].(map[string]any)
	if fields["mpesaPhone"] != "is required" {
		t.Fatalf("expected mpesaPhone error, got %v", body)
	}
}

func TestCheckoutEndpointGatewayFailure(t *testing.T) {
	f := newFixture()
	f.gateway.err = &mpesa.Error{Op: "stk_push", Status: 500}
	f.fillCart(t, owner.ForSession(testSession))
	app := makeAppWithCheckoutHandler(f, 30)

	res, body := postCheckout(t, app, validInput(order.MethodMobileMoney))
	if res.StatusCode != fiber.StatusBadGateway {
		t.Fatalf("expected 502 got %d", res.StatusCode)
	}
	if body["message"] != gatewayUnavailableMessage {
		t.Fatalf("unexpected message: %v", body["message"])
	}
	if strings.Contains(body["message"].(string), "500") {
		t.Fatalf("internal detail leaked: %v", body)
	}
}

func TestCheckoutEndpointRateLimit(t *testing.T) {
	f := newFixture()
	app := makeAppWithCheckoutHandler(f, 2)

	for i := 0; i < 2; i++ {
		res, _ := postCheckout(t, app, validInput(order.MethodCashOnDelivery))
		if res.StatusCode != fiber.StatusBadRequest {
			t.Fatalf("expected 400 for empty cart got %d", res.StatusCode)
		}
	}
	res, _ := postCheckout(t, app, validInput(order.MethodCashOnDelivery))
	if res.StatusCode != fiber.StatusTooManyRequests {
		t.Fatalf("expected 429 got %d", res.StatusCode)
	}
}
