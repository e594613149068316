package http

import (
	"context"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/sakashimaa/stock-reservation/pkg/mylogger"
	"github.com/sakashimaa/stock-reservation/pkg/utils"
	"github.com/sakashimaa/stock-reservation/services/inventory/internal/domain"
	"github.com/sakashimaa/stock-reservation/services/inventory/internal/service"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

type ProductHandler struct {
	service  service.LedgerService
	validate *validator.Validate
	logger   *zap.Logger
	timeout  time.Duration
}

func NewProductHandler(service service.LedgerService, timeout time.Duration, logger *zap.Logger) *ProductHandler {
	return &ProductHandler{
		service:  service,
		validate: utils.NewValidator(),
		logger:   logger,
		timeout:  timeout,
	}
}

type CreateProductInput struct {
	Name              string          `json:"name" validate:"required,min=1,max=100"`
	Description       string          `json:"description" validate:"max=500"`
	Price             decimal.Decimal `json:"price"`
	AvailableQuantity int64           `json:"availableQuantity" validate:"gte=0"`
}

type UpdateProductInput struct {
	Name              *string          `json:"name" validate:"omitempty,min=1,max=100"`
	Description       *string          `json:"description" validate:"omitempty,max=500"`
	Price             *decimal.Decimal `json:"price"`
	AvailableQuantity *int64           `json:"availableQuantity" validate:"omitempty,gte=0"`
}

type RestockInput struct {
	Quantity int64 `json:"quantity" validate:"required,gt=0"`
}

type AvailabilityResponse struct {
	ProductID         int64           `json:"productId"`
	ProductName       string          `json:"productName"`
	Price             decimal.Decimal `json:"price"`
	RequestedQuantity int64           `json:"requestedQuantity"`
	AvailableQuantity int64           `json:"availableQuantity"`
	IsAvailable       bool            `json:"isAvailable"`
}

type ListProductsResponse struct {
	Products   []domain.Product `json:"products"`
	TotalCount int64            `json:"totalCount"`
	Limit      int64            `json:"limit"`
	Offset     int64            `json:"offset"`
}

func (h *ProductHandler) Create(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), h.timeout)
	defer cancel()

	input := new(CreateProductInput)
	if err := c.BodyParser(input); err != nil {
		mylogger.Warn(ctx, h.logger, "body parsing failed", zap.Error(err))

		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	errs := h.validateInput(input)
	if !input.Price.IsPositive() {
		if errs == nil {
			errs = map[string]string{}
		}
		errs["price"] = "price must be greater than 0"
	}

	if errs != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": errs})
	}

	product, err := h.service.Create(ctx, &domain.Product{
		Name:              input.Name,
		Description:       input.Description,
		Price:             input.Price,
		AvailableQuantity: input.AvailableQuantity,
	})
	if err != nil {
		return h.fail(ctx, c, "create product failed", err)
	}

	mylogger.Info(ctx, h.logger, "product created", zap.Int64("product_id", product.ID))

	return c.Status(fiber.StatusCreated).JSON(product)
}

func (h *ProductHandler) FindByID(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), h.timeout)
	defer cancel()

	id, ok := h.parseID(ctx, c)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid product id"})
	}

	product, err := h.service.FindByID(ctx, id)
	if err != nil {
		return h.fail(ctx, c, "find product failed", err, zap.Int64("product_id", id))
	}

	return c.Status(fiber.StatusOK).JSON(product)
}

// GetAvailability answers the advisory stock query. quantity defaults to 1.
func (h *ProductHandler) GetAvailability(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), h.timeout)
	defer cancel()

	id, ok := h.parseID(ctx, c)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid product id"})
	}

	quantity := int64(1)
	if raw := c.Query("quantity"); raw != "" {
		q, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || q <= 0 {
			mylogger.Warn(ctx, h.logger, "quantity is invalid", zap.String("quantity", raw))

			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "quantity must be a positive integer",
			})
		}
		quantity = q
	}

	availability, err := h.service.GetAvailability(ctx, id)
	if err != nil {
		return h.fail(ctx, c, "availability check failed", err, zap.Int64("product_id", id))
	}

	return c.Status(fiber.StatusOK).JSON(AvailabilityResponse{
		ProductID:         availability.ProductID,
		ProductName:       availability.Name,
		Price:             availability.Price,
		RequestedQuantity: quantity,
		AvailableQuantity: availability.AvailableQuantity,
		IsAvailable:       availability.Covers(quantity),
	})
}

func (h *ProductHandler) List(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), h.timeout)
	defer cancel()

	limit := int64(c.QueryInt("limit", defaultListLimit))
	offset := int64(c.QueryInt("offset", 0))
	if limit <= 0 || limit > maxListLimit || offset < 0 {
		mylogger.Warn(ctx, h.logger, "pagination is invalid", zap.Int64("limit", limit), zap.Int64("offset", offset))

		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "limit must be in 1..100 and offset must not be negative",
		})
	}

	search := c.Query("search")

	products, total, err := h.service.List(ctx, limit, offset, search)
	if err != nil {
		return h.fail(ctx, c, "list products failed", err)
	}

	return c.Status(fiber.StatusOK).JSON(ListProductsResponse{
		Products:   products,
		TotalCount: total,
		Limit:      limit,
		Offset:     offset,
	})
}

func (h *ProductHandler) Update(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), h.timeout)
	defer cancel()

	id, ok := h.parseID(ctx, c)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid product id"})
	}

	input := new(UpdateProductInput)
	if err := c.BodyParser(input); err != nil {
		mylogger.Warn(ctx, h.logger, "body parsing failed", zap.Error(err))

		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	if errs := h.validateInput(input); errs != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": errs})
	}

	product, err := h.service.Update(ctx, id, &domain.UpdateProductInput{
		Name:              input.Name,
		Description:       input.Description,
		Price:             input.Price,
		AvailableQuantity: input.AvailableQuantity,
	})
	if err != nil {
		return h.fail(ctx, c, "update product failed", err, zap.Int64("product_id", id))
	}

	return c.Status(fiber.StatusOK).JSON(product)
}

func (h *ProductHandler) Delete(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), h.timeout)
	defer cancel()

	id, ok := h.parseID(ctx, c)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid product id"})
	}

	if err := h.service.Delete(ctx, id); err != nil {
		return h.fail(ctx, c, "delete product failed", err, zap.Int64("product_id", id))
	}

	mylogger.Info(ctx, h.logger, "product deleted", zap.Int64("product_id", id))

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *ProductHandler) Restock(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), h.timeout)
	defer cancel()

	id, ok := h.parseID(ctx, c)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid product id"})
	}

	input := new(RestockInput)
	if err := c.BodyParser(input); err != nil {
		mylogger.Warn(ctx, h.logger, "body parsing failed", zap.Error(err))

		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	if errs := h.validateInput(input); errs != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": errs})
	}

	product, err := h.service.Restock(ctx, id, input.Quantity)
	if err != nil {
		return h.fail(ctx, c, "restock failed", err, zap.Int64("product_id", id))
	}

	return c.Status(fiber.StatusOK).JSON(product)
}

func (h *ProductHandler) parseID(ctx context.Context, c *fiber.Ctx) (int64, bool) {
	idStr := c.Params("id")

	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || id <= 0 {
		mylogger.Warn(ctx, h.logger, "invalid product id", zap.String("id", idStr))
		return 0, false
	}

	return id, true
}

func (h *ProductHandler) validateInput(input any) map[string]string {
	if err := h.validate.Struct(input); err != nil {
		return utils.FormatValidationError(err)
	}

	return nil
}

func (h *ProductHandler) fail(ctx context.Context, c *fiber.Ctx, msg string, err error, fields ...zap.Field) error {
	httpStatus := utils.HTTPStatusFromError(err)

	fields = append(fields, zap.Int("http_status", httpStatus), zap.Error(err))
	if httpStatus >= fiber.StatusInternalServerError {
		mylogger.Error(ctx, h.logger, msg, fields...)

		if httpStatus == fiber.StatusInternalServerError {
			return c.Status(httpStatus).JSON(fiber.Map{"error": "internal server error"})
		}
	} else {
		mylogger.Warn(ctx, h.logger, msg, fields...)
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"error": err.Error(),
	})
}
