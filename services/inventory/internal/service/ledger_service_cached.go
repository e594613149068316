package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	pkgdomain "github.com/sakashimaa/stock-reservation/pkg/domain"
	"github.com/sakashimaa/stock-reservation/pkg/mylogger"
	"github.com/sakashimaa/stock-reservation/services/inventory/internal/domain"
	"go.uber.org/zap"
)

// cachedLedgerService serves product reads from redis. Only the advisory
// read path is cached; reservations always go to Postgres.
type cachedLedgerService struct {
	next        LedgerService
	redisClient redis.Cmdable
	cacheTTL    time.Duration
	logger      *zap.Logger
}

func NewCachedLedgerService(next LedgerService, redisClient redis.Cmdable, cacheTTL time.Duration, logger *zap.Logger) LedgerService {
	return &cachedLedgerService{
		next:        next,
		redisClient: redisClient,
		cacheTTL:    cacheTTL,
		logger:      logger,
	}
}

func productKey(id int64) string {
	return fmt.Sprintf("product:%d", id)
}

func generationKey(id int64) string {
	return fmt.Sprintf("product:%d:gen", id)
}

func (s *cachedLedgerService) ApplyReservation(
	ctx context.Context,
	cmd pkgdomain.ReservationCommand,
) (pkgdomain.ReservationResult, error) {
	result, err := s.next.ApplyReservation(ctx, cmd)
	if err != nil {
		return result, err
	}

	if result == pkgdomain.ReservationApplied {
		s.invalidate(ctx, cmd.ProductID)
	}

	return result, nil
}

func (s *cachedLedgerService) Delete(ctx context.Context, id int64) error {
	if err := s.next.Delete(ctx, id); err != nil {
		return err
	}

	s.invalidate(ctx, id)
	return nil
}

func (s *cachedLedgerService) Update(ctx context.Context, id int64, input *domain.UpdateProductInput) (*domain.Product, error) {
	product, err := s.next.Update(ctx, id, input)
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, id)
	return product, nil
}

func (s *cachedLedgerService) Restock(ctx context.Context, id, quantity int64) (*domain.Product, error) {
	product, err := s.next.Restock(ctx, id, quantity)
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, id)
	return product, nil
}

func (s *cachedLedgerService) Create(ctx context.Context, product *domain.Product) (*domain.Product, error) {
	return s.next.Create(ctx, product)
}

// cachedProduct is tagged with the generation read before the database, so
// a fill that raced an invalidation is never served.
type cachedProduct struct {
	Generation int64          `json:"generation"`
	Product    domain.Product `json:"product"`
}

func (s *cachedLedgerService) FindByID(ctx context.Context, id int64) (*domain.Product, error) {
	key := productKey(id)

	cached, generation, err := s.lookup(ctx, id)
	if err != nil {
		mylogger.Warn(ctx, s.logger, "Cache read failed", zap.String("key", key), zap.Error(err))
	}
	if cached != nil {
		return cached, nil
	}

	product, err := s.next.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(cachedProduct{Generation: generation, Product: *product}); err == nil {
		if err := s.redisClient.Set(ctx, key, data, s.cacheTTL).Err(); err != nil {
			mylogger.Warn(ctx, s.logger, "Cache write failed", zap.String("key", key), zap.Error(err))
		}
	}

	return product, nil
}

// lookup returns the cached product when it belongs to the current generation,
// and the generation a fresh fill must be tagged with.
func (s *cachedLedgerService) lookup(ctx context.Context, id int64) (*domain.Product, int64, error) {
	vals, err := s.redisClient.MGet(ctx, productKey(id), generationKey(id)).Result()
	if err != nil {
		return nil, 0, err
	}

	var generation int64
	if raw, ok := vals[1].(string); ok {
		generation, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, 0, fmt.Errorf("bad cache generation %q: %w", raw, err)
		}
	}

	raw, ok := vals[0].(string)
	if !ok {
		return nil, generation, nil
	}

	var entry cachedProduct
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		mylogger.Warn(ctx, s.logger, "Dropping unreadable cache entry", zap.Int64("product_id", id))
		return nil, generation, nil
	}

	if entry.Generation != generation {
		return nil, generation, nil
	}

	return &entry.Product, generation, nil
}

func (s *cachedLedgerService) GetAvailability(ctx context.Context, id int64) (*domain.Availability, error) {
	product, err := s.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	return product.Availability(), nil
}

func (s *cachedLedgerService) List(ctx context.Context, limit, offset int64, search string) ([]domain.Product, int64, error) {
	return s.next.List(ctx, limit, offset, search)
}

// invalidate bumps the product generation before dropping the entry, which
// also voids any fill still in flight from a read that started earlier.
func (s *cachedLedgerService) invalidate(ctx context.Context, id int64) {
	_, err := s.redisClient.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, generationKey(id))
		pipe.Expire(ctx, generationKey(id), s.generationTTL())
		pipe.Del(ctx, productKey(id))
		return nil
	})
	if err != nil {
		mylogger.Warn(ctx, s.logger, "Cache invalidation failed", zap.Int64("product_id", id), zap.Error(err))
	}
}

// generationTTL outlives every entry tagged with an older generation.
func (s *cachedLedgerService) generationTTL() time.Duration {
	return max(10*s.cacheTTL, time.Hour)
}
