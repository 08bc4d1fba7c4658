package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parkovka/internal/database"
	"parkovka/internal/models"
	"parkovka/internal/service"
)

type fakeExpirer struct {
	calls   atomic.Int32
	timeout time.Duration
	result  []models.ExpiredBooking
	err     error
}

func (f *fakeExpirer) ExpireStale(_ context.Context, timeout time.Duration) ([]models.ExpiredBooking, error) {
	f.calls.Add(1)
	f.timeout = timeout
	out := f.result
	f.result = nil
	return out, f.err
}

type fakeSweeper struct{ err error }

func (f fakeSweeper) Run(context.Context) (service.HousekeepingReport, error) {
	return service.HousekeepingReport{}, f.err
}

type fakeReminders struct {
	now    time.Time
	due    []models.Reminder
	from   time.Time
	to     time.Time
	marked []int64
}

func (f *fakeReminders) Now() time.Time { return f.now }

func (f *fakeReminders) DueReminders(_ context.Context, from, to time.Time) ([]models.Reminder, error) {
	f.from, f.to = from, to
	return f.due, nil
}

func (f *fakeReminders) MarkReminderSent(_ context.Context, id int64) error {
	f.marked = append(f.marked, id)
	return nil
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent map[int64][]string
	fail map[int64]bool
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{sent: make(map[int64][]string), fail: make(map[int64]bool)}
}

func (f *fakeNotifier) SendText(_ context.Context, chatID int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[chatID] {
		return errors.New("forbidden")
	}
	f.sent[chatID] = append(f.sent[chatID], text)
	return nil
}

func TestExpireJob_NotifiesEachCustomerOnce(t *testing.T) {
	exp := &fakeExpirer{result: []models.ExpiredBooking{
		{BookingID: 1, CustomerTelegramID: 100},
		{BookingID: 2, CustomerTelegramID: 0},
		{BookingID: 3, CustomerTelegramID: 300},
	}}
	n := newFakeNotifier()
	n.fail[300] = true
	s := New(Config{BookingTimeout: 30 * time.Minute}, exp, fakeSweeper{}, &fakeReminders{}, nil, n, nil)

	require.NoError(t, s.ExpireJob(context.Background()))
	assert.Equal(t, 30*time.Minute, exp.timeout)
	require.Len(t, n.sent[100], 1)
	assert.Contains(t, n.sent[100][0], "#1")
	assert.Empty(t, n.sent[300])

	require.NoError(t, s.ExpireJob(context.Background()))
	assert.Len(t, n.sent[100], 1)
}

func TestExpireJob_NotifiesBeforeReportingViolation(t *testing.T) {
	violation := fmt.Errorf("%w: interval 4 of pending booking 2 is missing", models.ErrInvariant)
	exp := &fakeExpirer{
		result: []models.ExpiredBooking{{BookingID: 1, CustomerTelegramID: 100}},
		err:    violation,
	}
	n := newFakeNotifier()
	s := New(Config{BookingTimeout: 30 * time.Minute}, exp, fakeSweeper{}, &fakeReminders{}, nil, n, nil)

	err := s.ExpireJob(context.Background())
	assert.ErrorIs(t, err, models.ErrInvariant)
	require.Len(t, n.sent[100], 1)
	assert.Contains(t, n.sent[100][0], "#1")
}

func TestReminderJob(t *testing.T) {
	now := time.Date(2030, 1, 10, 9, 0, 0, 0, time.UTC)
	rem := &fakeReminders{now: now, due: []models.Reminder{
		{BookingID: 5, TelegramID: 100, SpotNumber: "A-1", Start: now.Add(90 * time.Minute)},
		{BookingID: 6, TelegramID: 200, SpotNumber: "A-2", Start: now.Add(100 * time.Minute)},
	}}
	n := newFakeNotifier()
	n.fail[200] = true
	s := New(Config{}, &fakeExpirer{}, fakeSweeper{}, rem, nil, n, nil)

	require.NoError(t, s.ReminderJob(context.Background()))
	assert.True(t, rem.from.Equal(now.Add(time.Hour)))
	assert.True(t, rem.to.Equal(now.Add(2*time.Hour)))
	require.Len(t, n.sent[100], 1)
	assert.Contains(t, n.sent[100][0], "10.01 10:30")
	assert.Equal(t, []int64{5}, rem.marked, "failed deliveries are retried next run")
}

func TestBackupJob(t *testing.T) {
	db, err := database.NewDB(filepath.Join(t.TempDir(), "src.db"), nil)
	require.NoError(t, err)
	defer db.Close()

	dir := t.TempDir()
	s := New(Config{BackupDir: dir, BackupRetention: 24 * time.Hour}, &fakeExpirer{}, fakeSweeper{}, &fakeReminders{}, db, newFakeNotifier(), nil)

	require.NoError(t, s.BackupJob(context.Background()))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Name(), "parkovka_")
}

func TestHousekeepingJob_PropagatesError(t *testing.T) {
	s := New(Config{}, &fakeExpirer{}, fakeSweeper{err: errors.New("disk full")}, &fakeReminders{}, nil, newFakeNotifier(), nil)
	assert.EqualError(t, s.HousekeepingJob(context.Background()), "disk full")
}

func TestStart(t *testing.T) {
	t.Run("invalid spec", func(t *testing.T) {
		s := New(Config{ExpireSpec: "every now and then"}, &fakeExpirer{}, fakeSweeper{}, &fakeReminders{}, nil, newFakeNotifier(), nil)
		assert.Error(t, s.Start(context.Background()))
	})

	t.Run("runs scheduled job", func(t *testing.T) {
		exp := &fakeExpirer{}
		s := New(Config{ExpireSpec: "@every 1s"}, exp, fakeSweeper{}, &fakeReminders{}, nil, newFakeNotifier(), nil)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		require.NoError(t, s.Start(ctx))
		assert.Eventually(t, func() bool { return exp.calls.Load() > 0 }, 3*time.Second, 50*time.Millisecond)
	})
}
