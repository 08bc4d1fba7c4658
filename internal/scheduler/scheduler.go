package scheduler

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"parkovka/internal/database"
	"parkovka/internal/metrics"
	"parkovka/internal/models"
	"parkovka/internal/service"
)

// Expirer expires unpaid bookings.
type Expirer interface {
	ExpireStale(ctx context.Context, timeout time.Duration) ([]models.ExpiredBooking, error)
}

// Sweeper runs the housekeeping sweeps.
type Sweeper interface {
	Run(ctx context.Context) (service.HousekeepingReport, error)
}

// ReminderStore finds upcoming confirmed bookings.
type ReminderStore interface {
	Now() time.Time
	DueReminders(ctx context.Context, from, to time.Time) ([]models.Reminder, error)
	MarkReminderSent(ctx context.Context, bookingID int64) error
}

// Backupper snapshots the database.
type Backupper interface {
	Backup(ctx context.Context, dest string) error
	CleanupBackups(dir string, retention time.Duration) (int, error)
}

// Notifier delivers a text message to a chat.
type Notifier interface {
	SendText(ctx context.Context, chatID int64, text string) error
}

// Config holds job schedules in cron syntax (descriptors like "@every 1m"
// are accepted).
type Config struct {
	Location         *time.Location
	ExpireSpec       string
	HousekeepingSpec string
	ReminderSpec     string
	BackupSpec       string
	BookingTimeout   time.Duration
	BackupDir        string
	BackupRetention  time.Duration
}

// Scheduler runs the periodic jobs of the engine.
type Scheduler struct {
	cfg       Config
	cron      *cron.Cron
	expirer   Expirer
	sweeper   Sweeper
	reminders ReminderStore
	backups   Backupper
	notifier  Notifier
	logger    *zerolog.Logger
}

func New(cfg Config, expirer Expirer, sweeper Sweeper, reminders ReminderStore, backups Backupper, notifier Notifier, logger *zerolog.Logger) *Scheduler {
	if logger == nil {
		l := zerolog.Nop()
		logger = &l
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	l := logger.With().Str("component", "scheduler").Logger()
	cl := cronLogger{logger: &l}
	return &Scheduler{
		cfg: cfg,
		cron: cron.New(
			cron.WithLocation(cfg.Location),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		expirer:   expirer,
		sweeper:   sweeper,
		reminders: reminders,
		backups:   backups,
		notifier:  notifier,
		logger:    &l,
	}
}

// Start registers the configured jobs and runs them until ctx is done. Empty
// specs disable a job.
func (s *Scheduler) Start(ctx context.Context) error {
	jobs := []struct {
		name string
		spec string
		run  func(context.Context) error
	}{
		{"expire", s.cfg.ExpireSpec, s.ExpireJob},
		{"housekeeping", s.cfg.HousekeepingSpec, s.HousekeepingJob},
		{"reminders", s.cfg.ReminderSpec, s.ReminderJob},
		{"backup", s.cfg.BackupSpec, s.BackupJob},
	}
	for _, j := range jobs {
		if j.spec == "" {
			continue
		}
		if _, err := s.cron.AddFunc(j.spec, s.wrap(ctx, j.name, j.run)); err != nil {
			return fmt.Errorf("schedule %s job %q: %w", j.name, j.spec, err)
		}
		s.logger.Info().Str("job", j.name).Str("spec", j.spec).Msg("Job scheduled")
	}

	s.cron.Start()
	go func() {
		<-ctx.Done()
		<-s.cron.Stop().Done()
		s.logger.Info().Msg("Scheduler stopped")
	}()
	return nil
}

func (s *Scheduler) wrap(ctx context.Context, name string, run func(context.Context) error) func() {
	return func() {
		if ctx.Err() != nil {
			return
		}
		started := time.Now()
		l := s.logger.With().Str("job", name).Logger()
		if err := run(l.WithContext(ctx)); err != nil {
			l.Error().Err(err).Msg("Job failed")
		}
		metrics.ObserveJob(name, time.Since(started).Seconds())
	}
}

// ExpireJob expires stale bookings and tells each customer once. Customers
// of bookings that did expire are notified even when the sweep also reports
// an error.
func (s *Scheduler) ExpireJob(ctx context.Context) error {
	expired, err := s.expirer.ExpireStale(ctx, s.cfg.BookingTimeout)
	for _, e := range expired {
		if e.CustomerTelegramID == 0 {
			continue
		}
		text := fmt.Sprintf("⏰ Бронь #%d отменена: оплата не поступила вовремя.", e.BookingID)
		if err := s.notifier.SendText(ctx, e.CustomerTelegramID, text); err != nil {
			metrics.IncNotification("expired", "error")
			zerolog.Ctx(ctx).Warn().Err(err).Int64("booking_id", e.BookingID).Msg("Failed to notify about expired booking")
			continue
		}
		metrics.IncNotification("expired", "sent")
	}
	return err
}

// HousekeepingJob completes finished bookings and prunes stale rows.
func (s *Scheduler) HousekeepingJob(ctx context.Context) error {
	_, err := s.sweeper.Run(ctx)
	return err
}

// ReminderJob reminds customers of confirmed bookings starting in one to two
// hours.
func (s *Scheduler) ReminderJob(ctx context.Context) error {
	now := s.reminders.Now()
	due, err := s.reminders.DueReminders(ctx, now.Add(time.Hour), now.Add(2*time.Hour))
	if err != nil {
		return fmt.Errorf("load reminders: %w", err)
	}
	for _, r := range due {
		text := fmt.Sprintf("🚗 Напоминание: бронь #%d, место %s, начало в %s.",
			r.BookingID, r.SpotNumber, r.Start.In(s.cfg.Location).Format("02.01 15:04"))
		if err := s.notifier.SendText(ctx, r.TelegramID, text); err != nil {
			metrics.IncNotification("reminder", "error")
			zerolog.Ctx(ctx).Warn().Err(err).Int64("booking_id", r.BookingID).Msg("Failed to send reminder")
			continue
		}
		metrics.IncNotification("reminder", "sent")
		if err := s.reminders.MarkReminderSent(ctx, r.BookingID); err != nil {
			return fmt.Errorf("mark reminder %d: %w", r.BookingID, err)
		}
	}
	return nil
}

// BackupJob writes a database snapshot and drops old ones.
func (s *Scheduler) BackupJob(ctx context.Context) error {
	dest := filepath.Join(s.cfg.BackupDir, database.BackupFileName(time.Now().In(s.cfg.Location)))
	if err := s.backups.Backup(ctx, dest); err != nil {
		return err
	}
	zerolog.Ctx(ctx).Info().Str("path", dest).Msg("Backup created")

	deleted, err := s.backups.CleanupBackups(s.cfg.BackupDir, s.cfg.BackupRetention)
	if err != nil {
		return err
	}
	if deleted > 0 {
		zerolog.Ctx(ctx).Info().Int("deleted", deleted).Msg("Old backups removed")
	}
	return nil
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	logger *zerolog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
