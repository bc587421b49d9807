package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"salonbook/internal/availability"
	"salonbook/internal/bot"
	"salonbook/internal/client"
	"salonbook/internal/config"
	"salonbook/internal/domain"
	"salonbook/internal/logging"
	"salonbook/internal/repository"
	"salonbook/internal/service"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, baseLogger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func(c io.Closer) { _ = c.Close() })(closer)
	}
	logger := logging.Component(baseLogger, "bot-main")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	store, redisClient := initStore(ctx, cfg, loc, baseLogger)
	if redisClient != nil {
		defer func() { _ = repository.Close(redisClient) }()
	}

	hours, err := availability.ParseWorkingHours(cfg.Booking.WorkingHours.Open, cfg.Booking.WorkingHours.Close,
		cfg.Booking.WorkingHours.StepMinutes)
	if err != nil {
		return err
	}

	// Статусы меняются через тот же сервис, что и у фронтенда; сервер перепроверяет переходы
	orders := service.NewBookingService(store, nil, nil, nil, service.Options{
		MaxBookingDays: cfg.Booking.MaxBookingDays,
		AllowAnonymous: cfg.Booking.AllowAnonymous,
		Location:       loc,
		Hours:          hours,
	}, logging.Component(baseLogger, "booking-service"))

	wrapper, err := bot.Connect(cfg.Telegram.BotToken, cfg.Telegram.Debug)
	if err != nil {
		return err
	}
	tgService := service.NewTelegramService(wrapper)

	var metrics *bot.Metrics
	if cfg.Monitoring.PrometheusEnabled {
		metrics = bot.NewMetrics(prometheus.DefaultRegisterer)
		go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, logger)
	}

	staffBot, err := bot.NewBot(tgService, orders, cfg, metrics, logging.Component(baseLogger, "bot"))
	if err != nil {
		return fmt.Errorf("create bot: %w", err)
	}
	staffBot.StartDigest(ctx)

	go func() {
		<-ctx.Done()
		staffBot.Stop()
	}()

	logger.Info().Str("salon_id", cfg.Bot.SalonID).Int("managers", len(cfg.Bot.Managers)).Msg("Staff bot started")
	staffBot.Start(ctx)
	logger.Info().Msg("Staff bot stopped")
	return nil
}

func loadConfigAndLogger() (*config.Config, *zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateBot(); err != nil {
		return nil, nil, nil, fmt.Errorf("bot config: %w", err)
	}

	logger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, logger, closer, nil
}

// initStore returns the REST store, or the local document store when no API
// base url is configured.
func initStore(ctx context.Context, cfg *config.Config, loc *time.Location, baseLogger *zerolog.Logger) (domain.BookingStore, *redis.Client) {
	logger := logging.Component(baseLogger, "store")
	if cfg.Client.BaseURL != "" {
		logger.Info().Str("base_url", cfg.Client.BaseURL).Msg("using REST orders store")
		return client.NewOrdersClient(cfg.Client, logger), nil
	}

	var kv domain.KV = repository.NewMemoryKV()
	var redisClient *redis.Client
	if cfg.LocalStore.UseRedis && cfg.Redis.Address != "" {
		redisClient = repository.NewRedisClient(cfg.Redis)
		if err := repository.Ping(ctx, redisClient); err != nil {
			logger.Warn().Err(err).Msg("redis connection failed, local store starts in memory")
		}
		kv = repository.NewFailoverKV(repository.NewRedisKV(redisClient), kv, logger)
	}

	logger.Warn().Str("key", cfg.LocalStore.Key).Bool("redis", redisClient != nil).
		Msg("no client.base_url, using the single-device local store")
	return repository.NewLocalBookingStore(kv, cfg.LocalStore.Key, loc, logger), redisClient
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
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
