package order

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v4"
	"go.uber.org/zap"

	"github.com/wichananm65/storefront-backend/internal/owner"
)

// memTx runs fn against repo and rolls the repository back when fn fails.
func memTx(repo *InMemoryRepository) Tx {
	return func(ctx context.Context, fn func(ctx context.Context, repo Repository) error) error {
		restore := repo.Snapshot()
		if err := fn(ctx, repo); err != nil {
			restore()
			return err
		}
		return nil
	}
}

func seedOrder(t *testing.T, repo *InMemoryRepository, key owner.Key, number string) Order {
	t.Helper()
	d := sampleDraft(MethodCashOnDelivery)
	d.Owner = key
	a := NewAssembler(Pricing{}, WithNumberSource(func(_ time.Time) string { return number }))
	o, err := a.Create(context.Background(), repo, d, sampleLines())
	if err != nil {
		t.Fatalf("seed order: %v", err)
	}
	return o
}

func makeAppWithOrderHandler(h *Handler) *fiber.App {
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
	h.RegisterAdminRoutes(app.Group("/api/v1/admin"))
	return app
}

func request(t *testing.T, app *fiber.App, method, path, body, userID string) *http.Response {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	res, err := app.Test(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	return res
}

func TestOrdersEndpoint(t *testing.T) {
	repo := NewInMemoryRepository()
	seedOrder(t, repo, owner.ForUser(7), "ORD-20240501-00000001")
	seedOrder(t, repo, owner.ForUser(8), "ORD-20240501-00000002")
	app := makeAppWithOrderHandler(NewHandler(NewService(repo, memTx(repo)), zap.NewNop()))

	res := request(t, app, "GET", "/api/v1/orders", "", "7")
	if res.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200 got %d", res.StatusCode)
	}
	var orders []Order
	if err := json.NewDecoder(res.Body).Decode(&orders); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(orders) != 1 || orders[0].Number != "ORD-20240501-00000001" {
		t.Fatalf("expected only own order, got %+v", orders)
	}
	if orders[0].Total.String() != "480.00" || len(orders[0].Items) != 2 {
		t.Fatalf("unexpected order body: %+v", orders[0])
	}
}

func TestOrderEndpointHidesOtherOwners(t *testing.T) {
	repo := NewInMemoryRepository()
	seedOrder(t, repo, owner.ForUser(8), "ORD-20240501-00000002")
	app := makeAppWithOrderHandler(NewHandler(NewService(repo, memTx(repo)), zap.NewNop()))

	res := request(t, app, "GET", "/api/v1/orders/ORD-20240501-00000002", "", "7")
	if res.StatusCode != fiber.StatusNotFound {
		t.Fatalf("expected 404 got %d", res.StatusCode)
	}

	res = request(t, app, "GET", "/api/v1/orders/ORD-20240501-00000002", "", "8")
	if res.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200 got %d", res.StatusCode)
	}
}

func TestAdminStatusEndpoint(t *testing.T) {
	repo := NewInMemoryRepository()
	seedOrder(t, repo, owner.ForUser(7), "ORD-20240501-00000001")
	app := makeAppWithOrderHandler(NewHandler(NewService(repo, memTx(repo)), zap.NewNop()))

	res := request(t, app, "PATCH", "/api/v1/admin/orders/ORD-20240501-00000001/status", `{"status":"shipped"}`, "1")
	if res.StatusCode != fiber.StatusConflict {
		t.Fatalf("expected 409 for pending -> shipped, got %d", res.StatusCode)
	}

	res = request(t, app, "PATCH", "/api/v1/admin/orders/ORD-20240501-00000001/status", `{"status":"confirmed"}`, "1")
	if res.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200 got %d", res.StatusCode)
	}
	var o Order
	if err := json.NewDecoder(res.Body).Decode(&o); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if o.Status != StatusConfirmed {
		t.Fatalf("expected confirmed got %s", o.Status)
	}

	res = request(t, app, "GET", "/api/v1/admin/orders/ORD-20240501-00000001/events", "", "1")
	var events []Event
	if err := json.NewDecoder(res.Body).Decode(&events); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(events) != 1 || events[0].Type != EventStatusChanged || events[0].Payload["from"] != "pending" {
		t.Fatalf("unexpected events: %+v", events)
	}
}

func TestAdminListFilters(t *testing.T) {
	repo := NewInMemoryRepository()
	seedOrder(t, repo, owner.ForUser(7), "ORD-20240501-00000001")
	seedOrder(t, repo, owner.ForSession("abc"), "ORD-20240501-00000002")
	app := makeAppWithOrderHandler(NewHandler(NewService(repo, memTx(repo)), zap.NewNop()))

	res := request(t, app, "GET", "/api/v1/admin/orders?status=pending&limit=1", "", "1")
	var orders []Order
	if err := json.NewDecoder(res.Body).Decode(&orders); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(orders) != 1 || orders[0].Number != "ORD-20240501-00000002" {
		t.Fatalf("expected newest order only, got %+v", orders)
	}

	res = request(t, app, "GET", "/api/v1/admin/orders?status=lost", "", "1")
	if res.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("expected 400 got %d", res.StatusCode)
	}
}

func TestAdminRefundEndpoint(t *testing.T) {
	repo := NewInMemoryRepository()
	seedOrder(t, repo, owner.ForUser(7), "ORD-20240501-00000001")
	app := makeAppWithOrderHandler(NewHandler(NewService(repo, memTx(repo)), zap.NewNop()))

	res := request(t, app, "POST", "/api/v1/admin/orders/ORD-20240501-00000001/refund", `{"reason":"damaged"}`, "1")
	if res.StatusCode != fiber.StatusConflict {
		t.Fatalf("expected 409 refunding an unpaid order, got %d", res.StatusCode)
	}
	events, _ := repo.Events(context.Background(), 1)
	if len(events) != 0 {
		t.Fatalf("failed refund must not write events, got %+v", events)
	}

	res = request(t, app, "POST", "/api/v1/admin/orders/ORD-20240501-00009999/refund", "", "1")
	if res.StatusCode != fiber.StatusNotFound {
		t.Fatalf("expected 404 got %d", res.StatusCode)
	}
}
