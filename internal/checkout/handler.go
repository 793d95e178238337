package checkout

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/wichananm65/storefront-backend/internal/logger"
	"github.com/wichananm65/storefront-backend/internal/order"
	"github.com/wichananm65/storefront-backend/internal/owner"
)

const gatewayUnavailableMessage = "Mobile payment is temporarily unavailable. Please try again or choose cash on delivery."

type Handler struct {
	orchestrator *Orchestrator
	orders       *order.Service
	limiter      *RateLimiter
	log          *zap.Logger
}

func NewHandler(o *Orchestrator, orders *order.Service, limiter *RateLimiter, log *zap.Logger) *Handler {
	return &Handler{orchestrator: o, orders: orders, limiter: limiter, log: log}
}

// RegisterRoutes expects owner.Middleware to run first.
func (h *Handler) RegisterRoutes(app *fiber.App) {
	app.Post("/api/v1/checkout", h.limiter.Middleware(), h.checkout)
	app.Get("/api/v1/checkout/success", h.success)
}

func (h *Handler) checkout(c *fiber.Ctx) error {
	key, err := owner.FromCtx(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"message": "unauthorized"})
	}

	in := new(Input)
	if err := c.BodyParser(in); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "invalid request body"})
	}

	res, err := h.orchestrator.Process(c.UserContext(), key, *in)
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(res)
}

func (h *Handler) success(c *fiber.Ctx) error {
	number, email := c.Query("order"), c.Query("email")
	if number == "" || email == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "order and email are required"})
	}

	conf, err := h.orders.Confirm(c.UserContext(), number, email)
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"message": "order not found"})
		}
		logger.For(c.UserContext(), h.log).Error("Loading order confirmation failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"message": "something went wrong"})
	}
	return c.JSON(conf)
}

func (h *Handler) fail(c *fiber.Ctx, err error) error {
	var verr *ValidationError
	var gwErr *GatewayError
	switch {
	case errors.As(err, &verr):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"message": "Please correct the highlighted fields.", "errors": verr.Fields})
	case errors.Is(err, ErrEmptyCart):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "Your cart is empty."})
	case errors.As(err, &gwErr):
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"message": gatewayUnavailableMessage, "orderNumber": gwErr.OrderNumber})
	case errors.Is(err, owner.ErrInvalidKey):
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"message": "unauthorized"})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"message": "We could not place your order. Please try again."})
	}
}
