package cache

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"parkovka/internal/events"
	"parkovka/internal/metrics"
	"parkovka/internal/models"
)

const freeSlotsKey = "parkovka:free_slots"

// FreeSlotSource is the authoritative listing behind the cache.
type FreeSlotSource interface {
	ListFreeIntervals(ctx context.Context, limit int) ([]models.FreeSlot, error)
}

// FreeSlots caches the nearest free intervals in Redis. Any availability or
// booking event drops the whole listing. A nil redis client disables caching.
type FreeSlots struct {
	source FreeSlotSource
	redis  *redis.Client
	ttl    time.Duration
	logger *zerolog.Logger
}

func NewFreeSlots(source FreeSlotSource, client *redis.Client, ttl time.Duration, logger *zerolog.Logger) *FreeSlots {
	if logger == nil {
		l := zerolog.Nop()
		logger = &l
	}
	return &FreeSlots{source: source, redis: client, ttl: ttl, logger: logger}
}

// List returns up to limit free intervals, from the cache when possible.
func (c *FreeSlots) List(ctx context.Context, limit int) ([]models.FreeSlot, error) {
	field := strconv.Itoa(limit)
	var slots []models.FreeSlot
	if c.readCache(ctx, field, &slots) {
		metrics.IncCacheLookup(true)
		return slots, nil
	}
	metrics.IncCacheLookup(false)

	slots, err := c.source.ListFreeIntervals(ctx, limit)
	if err != nil {
		return nil, err
	}
	c.writeCache(ctx, field, slots)
	return slots, nil
}

// Invalidate drops every cached listing.
func (c *FreeSlots) Invalidate(ctx context.Context) {
	if c.redis == nil {
		return
	}
	if err := c.redis.Del(ctx, freeSlotsKey).Err(); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to invalidate free slots cache")
	}
}

// Register drops the cache on every event that changes availability.
func (c *FreeSlots) Register(bus *events.EventBus) {
	handler := func(ctx context.Context, _ events.Event) error {
		c.Invalidate(ctx)
		return nil
	}
	for _, typ := range []string{
		events.EventIntervalFreed,
		events.EventBookingCreated,
		events.EventBookingCancelled,
		events.EventBookingExpired,
		events.EventBookingEdited,
	} {
		bus.Subscribe(typ, handler)
	}
}

func (c *FreeSlots) readCache(ctx context.Context, field string, out any) bool {
	if c.redis == nil || c.ttl <= 0 {
		return false
	}
	val, err := c.redis.HGet(ctx, freeSlotsKey, field).Result()
	if err != nil {
		return false
	}
	if err := json.Unmarshal([]byte(val), out); err != nil {
		return false
	}
	return true
}

func (c *FreeSlots) writeCache(ctx context.Context, field string, val any) {
	if c.redis == nil || c.ttl <= 0 {
		return
	}
	data, err := json.Marshal(val)
	if err != nil {
		return
	}
	pipe := c.redis.TxPipeline()
	pipe.HSet(ctx, freeSlotsKey, field, data)
	pipe.Expire(ctx, freeSlotsKey, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Debug().Err(err).Msg("Failed to write free slots cache")
	}
}
