package order

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/wichananm65/storefront-backend/internal/logger"
	"github.com/wichananm65/storefront-backend/internal/owner"
)

// Handler serves order history to owners and lifecycle changes to admins.
type Handler struct {
	service *Service
	log     *zap.Logger
}

func NewHandler(s *Service, log *zap.Logger) *Handler {
	return &Handler{service: s, log: log}
}

// RegisterRoutes expects owner.Middleware to run first.
func (h *Handler) RegisterRoutes(app *fiber.App) {
	app.Get("/api/v1/orders", h.getOrders)
	app.Get("/api/v1/orders/:number", h.getOrder)
}

// RegisterAdminRoutes expects the router to already be guarded by an admin check.
func (h *Handler) RegisterAdminRoutes(router fiber.Router) {
	router.Get("/orders", h.listOrders)
	router.Get("/orders/:number", h.adminGetOrder)
	router.Get("/orders/:number/events", h.getEvents)
	router.Patch("/orders/:number/status", h.updateStatus)
	router.Post("/orders/:number/refund", h.refund)
}

func (h *Handler) getOrders(c *fiber.Ctx) error {
	o, err := owner.FromCtx(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"message": "unauthorized"})
	}

	orders, err := h.service.ListForOwner(c.UserContext(), o)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(orders)
}

func (h *Handler) getOrder(c *fiber.Ctx) error {
	o, err := owner.FromCtx(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"message": "unauthorized"})
	}

	ord, err := h.service.GetForOwner(c.UserContext(), o, c.Params("number"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(ord)
}

func (h *Handler) listOrders(c *fiber.Ctx) error {
	var f ListFilter
	if raw := c.Query("status"); raw != "" {
		st := Status(raw)
		if !st.Valid() {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "unknown status"})
		}
		f.Status = &st
	}
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "invalid limit"})
		}
		f.Limit = n
	}

	orders, err := h.service.List(c.UserContext(), f)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(orders)
}

func (h *Handler) adminGetOrder(c *fiber.Ctx) error {
	ord, err := h.service.GetByNumber(c.UserContext(), c.Params("number"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(ord)
}

func (h *Handler) getEvents(c *fiber.Ctx) error {
	events, err := h.service.Events(c.UserContext(), c.Params("number"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(events)
}

type statusRequest struct {
	Status Status `json:"status"`
}

func (h *Handler) updateStatus(c *fiber.Ctx) error {
	payload := new(statusRequest)
	if err := c.BodyParser(payload); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": err.Error()})
	}

	ord, err := h.service.UpdateStatus(c.UserContext(), c.Params("number"), payload.Status)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(ord)
}

type refundRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) refund(c *fiber.Ctx) error {
	payload := new(refundRequest)
	if len(c.Body()) > 0 {
		if err := c.BodyParser(payload); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": err.Error()})
		}
	}

	ord, err := h.service.Refund(c.UserContext(), c.Params("number"), payload.Reason)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(ord)
}

func (h *Handler) fail(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"message": "order not found"})
	case IsClientError(err):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"message": err.Error()})
	case errors.Is(err, owner.ErrInvalidKey):
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"message": "unauthorized"})
	default:
		logger.For(c.UserContext(), h.log).Error("order operation failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"message": "something went wrong"})
	}
}
