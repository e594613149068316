package http

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/sakashimaa/stock-reservation/pkg/mylogger"
	"github.com/sakashimaa/stock-reservation/pkg/utils"
	"github.com/sakashimaa/stock-reservation/services/order/internal/domain"
	"github.com/sakashimaa/stock-reservation/services/order/internal/service"
	"go.uber.org/zap"
)

type OrderHandler struct {
	service  service.OrderService
	validate *validator.Validate
	logger   *zap.Logger
	timeout  time.Duration
}

func NewOrderHandler(service service.OrderService, timeout time.Duration, logger *zap.Logger) *OrderHandler {
	return &OrderHandler{
		service:  service,
		validate: utils.NewValidator(),
		logger:   logger,
		timeout:  timeout,
	}
}

type CreateOrderInput struct {
	ProductID     int64  `json:"productId" validate:"required,gt=0"`
	Quantity      int64  `json:"quantity" validate:"required,gt=0"`
	CustomerName  string `json:"customerName" validate:"required,min=1,max=100"`
	CustomerEmail string `json:"customerEmail" validate:"required,email,max=200"`
}

type UpdateStatusInput struct {
	Status string `json:"status" validate:"required,oneof=Confirmed Rejected Cancelled"`
}

type ListOrdersResponse struct {
	Orders []domain.Order `json:"orders"`
	Count  int            `json:"count"`
}

func (h *OrderHandler) Create(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), h.timeout)
	defer cancel()

	input := new(CreateOrderInput)
	if err := c.BodyParser(input); err != nil {
		mylogger.Warn(ctx, h.logger, "body parsing failed", zap.Error(err))

		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	if errs := h.validateInput(input); errs != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": errs})
	}

	order, err := h.service.CreateOrder(ctx, domain.CreateOrderInput{
		ProductID:     input.ProductID,
		Quantity:      input.Quantity,
		CustomerName:  input.CustomerName,
		CustomerEmail: input.CustomerEmail,
	})
	if err != nil {
		var rejection *domain.RejectionError
		if errors.As(err, &rejection) {
			mylogger.Info(ctx, h.logger, "order rejected at intake", zap.String("reason", rejection.Reason))

			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error":  rejection.Reason,
				"status": domain.OrderStatusRejected,
			})
		}

		return h.fail(ctx, c, "create order failed", err, zap.Int64("product_id", input.ProductID))
	}

	return c.Status(fiber.StatusCreated).JSON(order)
}

func (h *OrderHandler) GetByID(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), h.timeout)
	defer cancel()

	id, ok := h.parseID(ctx, c)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid order id"})
	}

	order, err := h.service.GetOrder(ctx, id)
	if err != nil {
		return h.fail(ctx, c, "get order failed", err, zap.Int64("order_id", id))
	}

	return c.Status(fiber.StatusOK).JSON(order)
}

func (h *OrderHandler) ListByCustomer(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), h.timeout)
	defer cancel()

	customer := c.Query("customer")
	if customer == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "customer query parameter is required",
		})
	}

	orders, err := h.service.ListByCustomer(ctx, customer)
	if err != nil {
		return h.fail(ctx, c, "list orders failed", err)
	}

	return c.Status(fiber.StatusOK).JSON(ListOrdersResponse{
		Orders: orders,
		Count:  len(orders),
	})
}

func (h *OrderHandler) UpdateStatus(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), h.timeout)
	defer cancel()

	id, ok := h.parseID(ctx, c)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid order id"})
	}

	input := new(UpdateStatusInput)
	if err := c.BodyParser(input); err != nil {
		mylogger.Warn(ctx, h.logger, "body parsing failed", zap.Error(err))

		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	if errs := h.validateInput(input); errs != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": errs})
	}

	order, err := h.service.UpdateStatus(ctx, id, domain.OrderStatus(input.Status))
	if err != nil {
		return h.fail(ctx, c, "update order status failed", err, zap.Int64("order_id", id))
	}

	return c.Status(fiber.StatusOK).JSON(order)
}

func (h *OrderHandler) parseID(ctx context.Context, c *fiber.Ctx) (int64, bool) {
	idStr := c.Params("id")

	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || id <= 0 {
		mylogger.Warn(ctx, h.logger, "invalid order id", zap.String("id", idStr))
		return 0, false
	}

	return id, true
}

func (h *OrderHandler) validateInput(input any) map[string]string {
	if err := h.validate.Struct(input); err != nil {
		return utils.FormatValidationError(err)
	}

	return nil
}

func (h *OrderHandler) fail(ctx context.Context, c *fiber.Ctx, msg string, err error, fields ...zap.Field) error {
	httpStatus := utils.HTTPStatusFromError(err)

	fields = append(fields, zap.Int("http_status", httpStatus), zap.Error(err))
	if httpStatus < fiber.StatusInternalServerError {
		mylogger.Warn(ctx, h.logger, msg, fields...)

		return c.Status(httpStatus).JSON(fiber.Map{"error": err.Error()})
	}

	mylogger.Error(ctx, h.logger, msg, fields...)

	if httpStatus == fiber.StatusServiceUnavailable {
		return c.Status(httpStatus).JSON(fiber.Map{
			"error": "inventory is temporarily unavailable, try again later",
		})
	}

	return c.Status(httpStatus).JSON(fiber.Map{"error": "internal server error"})
}
