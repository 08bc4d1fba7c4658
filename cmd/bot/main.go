package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"parkovka/internal/bot"
	"parkovka/internal/cache"
	"parkovka/internal/config"
	"parkovka/internal/database"
	"parkovka/internal/events"
	"parkovka/internal/export"
	"parkovka/internal/metrics"
	"parkovka/internal/notify"
	"parkovka/internal/pricing"
	"parkovka/internal/scheduler"
	"parkovka/internal/service"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	logger := zerolog.New(output).With().Timestamp().Logger()

	configPath := os.Getenv("PARKOVKA_CONFIG")
	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if cfg.Telegram.BotToken == "" {
		logger.Fatal().Msg("set telegram.bot_token in config or PARKOVKA_BOT_TOKEN")
	}

	tariff, err := cfg.Tariff()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid tariff")
	}
	engine, err := pricing.NewEngine(tariff)
	if err != nil {
		logger.Fatal().Err(err).Msg("create pricing engine")
	}

	db, err := database.NewDB(cfg.Database.Path, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("open db error")
	}
	defer db.Close()

	var rdb *redis.Client
	if cfg.Redis.Address != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Address, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
	}

	bus := events.NewEventBus()
	bookings := service.NewBookingService(db, engine, bus, &logger)
	availability := service.NewAvailabilityService(db, bus, &logger)

	slots := cache.NewFreeSlots(db, rdb, cfg.CacheTTL(), &logger)
	slots.Register(bus)

	b, err := bot.New(cfg.Telegram.BotToken, bot.Deps{
		Bookings:     bookings,
		Availability: availability,
		Store:        db,
		Slots:        slots,
		Exporter:     export.NewExporter(db, tariff.Location, &logger),
	}, bot.Options{
		Admins:        cfg.Admins,
		Location:      tariff.Location,
		Address:       cfg.Location.Address,
		SlotsLimit:    cfg.Booking.FreeSlotsLimit,
		SendPerSecond: cfg.Booking.NotifyPerSecond,
		Tariff:        engine.Describe(),
		Debug:         cfg.Telegram.Debug,
	}, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("create bot error")
	}
	b.Register(bus)

	dispatcher := notify.NewDispatcher(notify.NewMatcher(db, tariff.Location), db, b.Sender(), cfg.Booking.NotifyPerSecond, &logger)
	dispatcher.Register(bus)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithContext(ctx)

	schedCfg := scheduler.Config{
		Location:         tariff.Location,
		ExpireSpec:       cfg.Booking.ExpireSchedule,
		HousekeepingSpec: cfg.Booking.HousekeepingSchedule,
		ReminderSpec:     cfg.Booking.ReminderSchedule,
		BookingTimeout:   cfg.BookingTimeout(),
		BackupDir:        cfg.Backup.Path,
		BackupRetention:  cfg.BackupRetention(),
	}
	var backups scheduler.Backupper
	if cfg.Backup.Enabled {
		schedCfg.BackupSpec = cfg.Backup.Schedule
		backups = db
	}
	housekeeper := service.NewHousekeeper(db, cfg.BookingRetention(), tariff.Location, &logger)
	sched := scheduler.New(schedCfg, bookings, housekeeper, db, backups, b.Sender(), &logger)
	if err := sched.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("start scheduler")
	}

	// Hot reload of the admin list
	if err := config.WatchAdmins(ctx, configPath, 30*time.Second, b.SetAdmins); err != nil {
		logger.Error().Err(err).Msg("admins watch failed")
	}

	if cfg.Monitoring.HealthCheckPort == 0 {
		cfg.Monitoring.HealthCheckPort = 8090
	}
	go startHealthServer(ctx, cfg.Monitoring.HealthCheckPort, db, rdb, &logger)

	if cfg.Monitoring.PrometheusEnabled {
		if cfg.Monitoring.PrometheusPort == 0 {
			cfg.Monitoring.PrometheusPort = 9090
		}
		metrics.Register()
		go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, &logger)
	}

	logger.Info().Str("address", cfg.Location.Address).Str("timezone", tariff.Location.String()).Msg("Parking bot started")
	b.Start(ctx)
	logger.Info().Msg("Shutting down")
}

func startHealthServer(ctx context.Context, port int, db *database.DB, rdb *redis.Client, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		ctxPing, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		if err := db.PingContext(ctxPing); err != nil {
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			return
		}
		if rdb != nil {
			if err := rdb.Ping(ctxPing).Err(); err != nil {
				http.Error(w, "redis not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("health server error")
	}
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
