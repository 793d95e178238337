package payment

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/wichananm65/storefront-backend/internal/logger"
)

type Handler struct {
	processor *Processor
	log       *zap.Logger
}

func NewHandler(p *Processor, log *zap.Logger) *Handler {
	return &Handler{processor: p, log: log}
}

// RegisterRoutes mounts the provider callback. It must stay outside any auth
// middleware.
func (h *Handler) RegisterRoutes(app *fiber.App) {
	app.Post("/api/v1/payments/mpesa/callback", h.callback)
}

// RegisterAdminRoutes expects the router to already be guarded by an admin check.
func (h *Handler) RegisterAdminRoutes(router fiber.Router) {
	router.Post("/payments/mpesa/reconcile/:checkoutRequestId", h.reconcile)
}

func (h *Handler) callback(c *fiber.Ctx) error {
	raw := append([]byte(nil), c.Body()...)
	ack := h.processor.HandleCallback(c.UserContext(), raw)
	return c.Status(fiber.StatusOK).JSON(ack)
}

func (h *Handler) reconcile(c *fiber.Ctx) error {
	n, err := h.processor.Reconcile(c.UserContext(), c.Params("checkoutRequestId"))
	if err != nil {
		logger.For(c.UserContext(), h.log).Error("Manual reconcile failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"message": "something went wrong"})
	}
	return c.JSON(fiber.Map{"replayed": n})
}
