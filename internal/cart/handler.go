package cart

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/wichananm65/storefront-backend/internal/logger"
	"github.com/wichananm65/storefront-backend/internal/owner"
)

// Handler delegates cart operations to the cart service.
type Handler struct {
	service *Service
	log     *zap.Logger
}

func NewHandler(s *Service, log *zap.Logger) *Handler {
	return &Handler{service: s, log: log}
}

// RegisterRoutes expects owner.Middleware to run first.
func (h *Handler) RegisterRoutes(app *fiber.App) {
	app.Get("/api/v1/cart", h.getCart)
	app.Post("/api/v1/cart", h.addToCart)
	app.Delete("/api/v1/cart", h.clearCart)
	app.Patch("/api/v1/cart/items/:productId", h.setQuantity)
	app.Delete("/api/v1/cart/items/:productId", h.removeItem)
	app.Post("/api/v1/cart/merge", h.mergeCart)
}

type addRequest struct {
	ProductID int64 `json:"productId"`
	Quantity  int   `json:"quantity,omitempty"`
}

type quantityRequest struct {
	Quantity *int `json:"quantity"`
}

func (h *Handler) getCart(c *fiber.Ctx) error {
	o, err := owner.FromCtx(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"message": "unauthorized"})
	}

	cart, err := h.service.Get(c.UserContext(), o)
	if err != nil {
		return h.fail(c, err)
	}
	return h.respond(c, cart)
}

func (h *Handler) addToCart(c *fiber.Ctx) error {
	payload := new(addRequest)
	if err := c.BodyParser(payload); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": err.Error()})
	}
	if payload.ProductID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "invalid productId"})
	}
	if payload.Quantity == 0 {
		payload.Quantity = 1
	}
	o, err := owner.FromCtx(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"message": "unauthorized"})
	}

	cart, err := h.service.Add(c.UserContext(), o, payload.ProductID, payload.Quantity)
	if err != nil {
		return h.fail(c, err)
	}
	return h.respond(c, cart)
}

func (h *Handler) setQuantity(c *fiber.Ctx) error {
	productID, err := strconv.ParseInt(c.Params("productId"), 10, 64)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "invalid productId"})
	}
	payload := new(quantityRequest)
	if err := c.BodyParser(payload); err != nil || payload.Quantity == nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "quantity is required"})
	}
	o, err := owner.FromCtx(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"message": "unauthorized"})
	}

	cart, err := h.service.SetQuantity(c.UserContext(), o, productID, *payload.Quantity)
	if err != nil {
		return h.fail(c, err)
	}
	return h.respond(c, cart)
}

func (h *Handler) removeItem(c *fiber.Ctx) error {
	productID, err := strconv.ParseInt(c.Params("productId"), 10, 64)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "invalid productId"})
	}
	o, err := owner.FromCtx(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"message": "unauthorized"})
	}

	cart, err := h.service.Remove(c.UserContext(), o, productID)
	if err != nil {
		return h.fail(c, err)
	}
	return h.respond(c, cart)
}

func (h *Handler) clearCart(c *fiber.Ctx) error {
	o, err := owner.FromCtx(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"message": "unauthorized"})
	}
	if err := h.service.Clear(c.UserContext(), o); err != nil {
		return h.fail(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// mergeCart moves the anonymous session cart into the signed-in user's cart.
func (h *Handler) mergeCart(c *fiber.Ctx) error {
	o, err := owner.FromCtx(c)
	if err != nil || !o.IsUser() {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"message": "sign in to merge carts"})
	}
	session, ok := owner.SessionFromCtx(c)
	if !ok {
		return h.respondGet(c, o)
	}

	cart, err := h.service.Merge(c.UserContext(), session, o)
	if err != nil {
		return h.fail(c, err)
	}
	return h.respond(c, cart)
}

func (h *Handler) respondGet(c *fiber.Ctx, o owner.Key) error {
	cart, err := h.service.Get(c.UserContext(), o)
	if err != nil {
		return h.fail(c, err)
	}
	return h.respond(c, cart)
}

func (h *Handler) respond(c *fiber.Ctx, cart Cart) error {
	return c.JSON(fiber.Map{
		"items":     cart.view(),
		"itemCount": cart.ItemCount,
		"subtotal":  cart.Subtotal,
	})
}

func (h *Handler) fail(c *fiber.Ctx, err error) error {
	var unavailable *UnavailableError
	switch {
	case errors.As(err, &unavailable):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"message": unavailable.Error()})
	case errors.Is(err, ErrInvalidQuantity):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "quantity must be between 1 and " + strconv.Itoa(MaxQuantity)})
	case errors.Is(err, ErrItemNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"message": "item not in cart"})
	case errors.Is(err, owner.ErrInvalidKey):
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"message": "unauthorized"})
	default:
		logger.For(c.UserContext(), h.log).Error("cart operation failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"message": "something went wrong"})
	}
}
