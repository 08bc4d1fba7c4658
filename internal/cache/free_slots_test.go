package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parkovka/internal/events"
	"parkovka/internal/models"
)

type countingSource struct {
	calls int
	slots []models.FreeSlot
}

func (s *countingSource) ListFreeIntervals(_ context.Context, limit int) ([]models.FreeSlot, error) {
	s.calls++
	if limit < len(s.slots) {
		return s.slots[:limit], nil
	}
	return s.slots, nil
}

func newSource() *countingSource {
	start := time.Date(2030, 1, 10, 10, 0, 0, 0, time.UTC)
	return &countingSource{slots: []models.FreeSlot{
		{Interval: models.Interval{ID: 1, SpotID: 3, Start: start, End: start.Add(2 * time.Hour)}, SpotNumber: "A-1"},
		{Interval: models.Interval{ID: 2, SpotID: 4, Start: start.Add(time.Hour), End: start.Add(5 * time.Hour)}, SpotNumber: "A-2"},
	}}
}

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestFreeSlots_CachesUntilInvalidated(t *testing.T) {
	_, client := setupRedis(t)
	src := newSource()
	c := NewFreeSlots(src, client, time.Minute, nil)
	ctx := context.Background()

	first, err := c.List(ctx, 10)
	require.NoError(t, err)
	second, err := c.List(ctx, 10)
	require.NoError(t, err)

	assert.Equal(t, 1, src.calls)
	require.Len(t, second, 2)
	assert.Equal(t, first[1].SpotNumber, second[1].SpotNumber)
	assert.True(t, first[0].Start.Equal(second[0].Start))

	_, err = c.List(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, src.calls, "limits are cached separately")

	bus := events.NewEventBus()
	c.Register(bus)
	bus.Emit(ctx, events.EventBookingCreated, events.BookingPayload{BookingID: 1})

	_, err = c.List(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 3, src.calls)
}

func TestFreeSlots_Expires(t *testing.T) {
	mr, client := setupRedis(t)
	src := newSource()
	c := NewFreeSlots(src, client, 30*time.Second, nil)
	ctx := context.Background()

	_, err := c.List(ctx, 10)
	require.NoError(t, err)
	mr.FastForward(31 * time.Second)
	_, err = c.List(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, src.calls)
}

func TestFreeSlots_WithoutRedis(t *testing.T) {
	src := newSource()
	c := NewFreeSlots(src, nil, time.Minute, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := c.List(ctx, 10)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, src.calls)
	assert.NotPanics(t, func() { c.Invalidate(ctx) })
}

func TestFreeSlots_RedisDown(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	mr.Close()

	src := newSource()
	c := NewFreeSlots(src, client, time.Minute, nil)

	slots, err := c.List(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, slots, 2)
}
