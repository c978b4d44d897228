// Package app собирает компоненты сервиса pointmarket по конфигурации.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mmeshcher/pointmarket/internal/config"
	"github.com/mmeshcher/pointmarket/internal/events"
	"github.com/mmeshcher/pointmarket/internal/metrics"
	"github.com/mmeshcher/pointmarket/internal/repository"
	"github.com/mmeshcher/pointmarket/internal/scheduler"
	"github.com/mmeshcher/pointmarket/internal/service"
)

const lockPrefix = "pointmarket:job:"

// App содержит связанные между собой компоненты сервиса.
type App struct {
	Config    *config.Config
	Location  *time.Location
	Service   *service.Service
	Scheduler *scheduler.Scheduler
	Locker    scheduler.Locker
	Metrics   *metrics.Metrics

	logger *zap.Logger
	redis  *redis.Client
}

// New создаёт хранилище, публикатор событий, блокировку задач и сервис.
// Без DATABASE_URI используется хранилище в памяти, без KAFKA_BROKERS события не публикуются,
// без REDIS_ADDR блокировка задач действует только внутри процесса.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, reg prometheus.Registerer) (*App, error) {
	policy, err := cfg.Policy()
	if err != nil {
		return nil, err
	}

	a := &App{
		Config:   cfg,
		Location: policy.FeeLocation,
		Metrics:  metrics.New(reg),
		logger:   logger,
	}

	repo, err := newRepository(cfg, logger)
	if err != nil {
		return nil, err
	}

	publisher, err := newPublisher(cfg, logger)
	if err != nil {
		_ = repo.Close()
		return nil, err
	}

	a.Locker, err = a.newLocker(ctx)
	if err != nil {
		_ = publisher.Close()
		_ = repo.Close()
		return nil, err
	}

	a.Service = service.NewService(repo, policy,
		service.WithPublisher(publisher),
		service.WithMetrics(a.Metrics),
		service.WithLogger(logger),
	)

	a.Scheduler = scheduler.New(a.Location, a.Locker,
		scheduler.WithLogger(logger),
		scheduler.WithMetrics(a.Metrics),
	)
	for _, job := range a.Service.Jobs(cfg.PenaltySchedule, cfg.MembershipFeeSchedule) {
		if err := a.Scheduler.Add(job); err != nil {
			a.Close()
			return nil, err
		}
	}

	return a, nil
}

func newRepository(cfg *config.Config, logger *zap.Logger) (service.Repository, error) {
	if cfg.DatabaseURI == "" {
		logger.Warn("DATABASE_URI is empty, using in-memory storage")
		return repository.NewMemoryRepository(), nil
	}

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		return nil, fmt.Errorf("database initialization: %w", err)
	}
	return repo, nil
}

func newPublisher(cfg *config.Config, logger *zap.Logger) (events.Publisher, error) {
	if len(cfg.KafkaBrokers) == 0 {
		return events.NopPublisher{}, nil
	}

	p, err := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
	if err != nil {
		return nil, fmt.Errorf("kafka publisher: %w", err)
	}
	logger.Info("publishing events to kafka",
		zap.Strings("brokers", cfg.KafkaBrokers),
		zap.String("topic", cfg.KafkaTopic),
	)
	return p, nil
}

func (a *App) newLocker(ctx context.Context) (scheduler.Locker, error) {
	if a.Config.RedisAddr == "" {
		return scheduler.NewLocalLocker(), nil
	}

	a.redis = redis.NewClient(&redis.Options{Addr: a.Config.RedisAddr})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := a.redis.Ping(pingCtx).Err(); err != nil {
		_ = a.redis.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	a.logger.Info("using redis job locks", zap.String("addr", a.Config.RedisAddr))
	return scheduler.NewRedisLocker(a.redis, lockPrefix), nil
}

// Bootstrap создаёт администратора из ADMIN_LOGIN и ADMIN_PASSWORD, если он ещё не существует.
func (a *App) Bootstrap(ctx context.Context) error {
	if a.Config.AdminLogin == "" || a.Config.AdminPassword == "" {
		a.logger.Info("admin bootstrap skipped, ADMIN_LOGIN or ADMIN_PASSWORD is empty")
		return nil
	}

	created, err := a.Service.EnsureAdmin(ctx, a.Config.AdminLogin, a.Config.AdminPassword, a.Config.AdminName)
	if err != nil {
		return fmt.Errorf("ensure admin: %w", err)
	}
	if created {
		a.logger.Info("admin created", zap.String("login", a.Config.AdminLogin))
	}
	return nil
}

// Close освобождает хранилище, публикатор и клиент Redis.
func (a *App) Close() {
	if a.Service != nil {
		if err := a.Service.Close(); err != nil {
			a.logger.Warn("close service", zap.Error(err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("close redis", zap.Error(err))
		}
	}
}
