package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sakashimaa/stock-reservation/pkg/config"
	pkgdomain "github.com/sakashimaa/stock-reservation/pkg/domain"
	"github.com/sakashimaa/stock-reservation/pkg/mylogger"
	"github.com/sakashimaa/stock-reservation/pkg/retry"
	"github.com/sakashimaa/stock-reservation/pkg/utils"
	"github.com/sakashimaa/stock-reservation/services/order/internal/domain"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

var ErrProductUnknown = fmt.Errorf("%w: %s", pkgdomain.ErrNotFound, domain.ReasonProductUnknown)

// availabilityRetry covers a blip within one order request. Each attempt is
// still bounded by the http client timeout.
var availabilityRetry = retry.Policy{
	MaxAttempts:    3,
	InitialBackoff: 50 * time.Millisecond,
	MaxBackoff:     200 * time.Millisecond,
}

// InventoryClient performs the advisory availability check against the inventory service.
type InventoryClient struct {
	baseURL    string
	httpClient *http.Client
	cb         *gobreaker.CircuitBreaker
	policy     retry.Policy
	logger     *zap.Logger
}

func NewInventoryClient(cfg config.Inventory, logger *zap.Logger) *InventoryClient {
	return NewInventoryClientWithHTTP(cfg.URL, &http.Client{
		Timeout:   cfg.Timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}, logger)
}

func NewInventoryClientWithHTTP(baseURL string, httpClient *http.Client, logger *zap.Logger) *InventoryClient {
	// an unknown product is an answer, not an outage
	cb := utils.NewBreaker("InventoryService", logger, func(err error) bool {
		return err == nil || errors.Is(err, pkgdomain.ErrNotFound)
	})

	return &InventoryClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		cb:         cb,
		policy:     availabilityRetry,
		logger:     logger,
	}
}

func (c *InventoryClient) GetAvailability(ctx context.Context, productID, quantity int64) (*domain.Availability, error) {
	availability, err := utils.ExecuteWithBreaker(c.cb, func() (*domain.Availability, error) {
		return c.fetchWithRetry(ctx, productID, quantity)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			mylogger.Warn(ctx, c.logger, "Inventory breaker is open", zap.Int64("product_id", productID))
			return nil, fmt.Errorf("%w: inventory service: %v", pkgdomain.ErrTransient, err)
		}

		return nil, err
	}

	return availability, nil
}

// fetchWithRetry retries transient failures only. The breaker sees one
// outcome per order request.
func (c *InventoryClient) fetchWithRetry(ctx context.Context, productID, quantity int64) (*domain.Availability, error) {
	availability, _, err := retry.Do(
		ctx,
		c.policy,
		func(ctx context.Context) (*domain.Availability, error) {
			availability, err := c.fetchAvailability(ctx, productID, quantity)
			if err != nil && !errors.Is(err, pkgdomain.ErrTransient) {
				return nil, retry.Permanent(err)
			}

			return availability, err
		},
		func(err error, next time.Duration) {
			mylogger.Warn(
				ctx,
				c.logger,
				"Retrying availability check",
				zap.Int64("product_id", productID),
				zap.Duration("backoff", next),
				zap.Error(err),
			)
		},
	)
	if err != nil && !errors.Is(err, pkgdomain.ErrTransient) && ctx.Err() != nil {
		return nil, fmt.Errorf("%w: inventory service: %v", pkgdomain.ErrTransient, err)
	}

	return availability, err
}

func (c *InventoryClient) fetchAvailability(ctx context.Context, productID, quantity int64) (*domain.Availability, error) {
	url := fmt.Sprintf("%s/products/%d/availability?quantity=%d", c.baseURL, productID, quantity)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build availability request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		mylogger.Warn(ctx, c.logger, "Inventory service unreachable", zap.Int64("product_id", productID), zap.Error(err))
		return nil, fmt.Errorf("%w: inventory service unreachable: %v", pkgdomain.ErrTransient, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusOK:
		var availability domain.Availability
		if err := json.NewDecoder(resp.Body).Decode(&availability); err != nil {
			return nil, fmt.Errorf("failed to decode availability of product %d: %w", productID, err)
		}

		return &availability, nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrProductUnknown
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError:
		return nil, fmt.Errorf("%w: inventory service returned %s", pkgdomain.ErrTransient, resp.Status)
	default:
		return nil, fmt.Errorf("inventory service returned %s for product %d", resp.Status, productID)
	}
}
