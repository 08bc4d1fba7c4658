package notify

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parkovka/internal/database"
	"parkovka/internal/events"
	"parkovka/internal/models"
)

type fakeSender struct {
	mu   sync.Mutex
	sent map[int64][]string
	fail map[int64]bool
}

func newFakeSender() *fakeSender {
	return &fakeSender{sent: make(map[int64][]string), fail: make(map[int64]bool)}
}

func (f *fakeSender) SendText(_ context.Context, chatID int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[chatID] {
		return errors.New("blocked by user")
	}
	f.sent[chatID] = append(f.sent[chatID], text)
	return nil
}

type fixture struct {
	db    *database.DB
	spot  *models.Spot
	alice *models.User
	bob   *models.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "notify.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	f := &fixture{db: db}
	f.alice, err = db.EnsureUser(ctx, 111, "alice", "Alice")
	require.NoError(t, err)
	f.bob, err = db.EnsureUser(ctx, 222, "bob", "Bob")
	require.NoError(t, err)
	f.spot = &models.Spot{SupplierID: f.bob.ID, Number: "B-7", Address: "Lenina 1"}
	require.NoError(t, db.CreateSpot(ctx, f.spot))
	return f
}

func strPtr(s string) *string { return &s }

func TestLocalDates(t *testing.T) {
	msk := time.FixedZone("MSK", 3*3600)
	tests := []struct {
		name       string
		start, end time.Time
		loc        *time.Location
		from, to   string
	}{
		{
			name:  "same day",
			start: time.Date(2030, 1, 10, 10, 0, 0, 0, time.UTC),
			end:   time.Date(2030, 1, 10, 12, 0, 0, 0, time.UTC),
			loc:   time.UTC,
			from:  "2030-01-10",
			to:    "2030-01-10",
		},
		{
			name:  "ends exactly at midnight",
			start: time.Date(2030, 1, 10, 20, 0, 0, 0, time.UTC),
			end:   time.Date(2030, 1, 11, 0, 0, 0, 0, time.UTC),
			loc:   time.UTC,
			from:  "2030-01-10",
			to:    "2030-01-10",
		},
		{
			name:  "utc evening is next local day",
			start: time.Date(2030, 1, 10, 22, 0, 0, 0, time.UTC),
			end:   time.Date(2030, 1, 10, 23, 0, 0, 0, time.UTC),
			loc:   msk,
			from:  "2030-01-11",
			to:    "2030-01-11",
		},
		{
			name:  "overnight",
			start: time.Date(2030, 1, 10, 20, 0, 0, 0, time.UTC),
			end:   time.Date(2030, 1, 11, 8, 0, 0, 0, time.UTC),
			loc:   time.UTC,
			from:  "2030-01-10",
			to:    "2030-01-11",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			from, to := localDates(tt.start, tt.end, tt.loc)
			assert.Equal(t, tt.from, from)
			assert.Equal(t, tt.to, to)
		})
	}
}

func TestMatcher_Match(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	other := f.spot.ID + 1

	anySpot, err := f.db.CreateSubscription(ctx, f.alice.ID, nil, nil, nil)
	require.NoError(t, err)
	onDate, err := f.db.CreateSubscription(ctx, f.bob.ID, nil, strPtr("2030-01-11"), strPtr("2030-01-11"))
	require.NoError(t, err)
	_, err = f.db.CreateSubscription(ctx, f.bob.ID, &other, nil, nil)
	require.NoError(t, err)

	m := NewMatcher(f.db, time.UTC)
	subs, err := m.Match(ctx, f.spot.ID,
		time.Date(2030, 1, 10, 20, 0, 0, 0, time.UTC),
		time.Date(2030, 1, 11, 8, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, subs, 2)
	assert.Equal(t, anySpot.ID, subs[0].ID)
	assert.Equal(t, onDate.ID, subs[1].ID)

	subs, err = m.Match(ctx, f.spot.ID,
		time.Date(2030, 1, 10, 8, 0, 0, 0, time.UTC),
		time.Date(2030, 1, 10, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, anySpot.ID, subs[0].ID)

	_, err = m.Match(ctx, f.spot.ID, time.Date(2030, 1, 10, 8, 0, 0, 0, time.UTC), time.Date(2030, 1, 10, 8, 0, 0, 0, time.UTC))
	assert.ErrorIs(t, err, models.ErrInvalidInterval)
}

func TestDispatcher_SendsOnceAndDeactivates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.db.CreateSubscription(ctx, f.alice.ID, nil, nil, nil)
	require.NoError(t, err)
	_, err = f.db.CreateSubscription(ctx, f.alice.ID, &f.spot.ID, nil, nil)
	require.NoError(t, err)
	bobSub, err := f.db.CreateSubscription(ctx, f.bob.ID, nil, nil, nil)
	require.NoError(t, err)

	sender := newFakeSender()
	sender.fail[222] = true
	d := NewDispatcher(NewMatcher(f.db, time.UTC), f.db, sender, 1000, nil)

	bus := events.NewEventBus()
	d.Register(bus)
	start := time.Date(2030, 1, 10, 10, 0, 0, 0, time.UTC)
	bus.Emit(ctx, events.EventIntervalFreed, events.IntervalPayload{SpotID: f.spot.ID, Start: start, End: start.Add(2 * time.Hour)})

	require.Len(t, sender.sent[111], 1, "one message per chat")
	assert.Contains(t, sender.sent[111][0], "B-7")
	assert.Contains(t, sender.sent[111][0], "10.01 10:00")

	aliceSubs, err := f.db.ListSubscriptions(ctx, f.alice.ID)
	require.NoError(t, err)
	assert.Empty(t, aliceSubs)

	bobSubs, err := f.db.ListSubscriptions(ctx, f.bob.ID)
	require.NoError(t, err)
	require.Len(t, bobSubs, 1, "failed delivery keeps the subscription")
	assert.Equal(t, bobSub.ID, bobSubs[0].ID)

	sent, err := d.Dispatch(ctx, f.spot.ID, start, start.Add(time.Hour))
	assert.Error(t, err)
	assert.Zero(t, sent)
	assert.Len(t, sender.sent[111], 1, "deactivated subscriptions do not fire again")
}
