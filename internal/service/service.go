// Package service реализует движок заказов и баллов семейного магазина.
package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/pointmarket/internal/events"
	"github.com/mmeshcher/pointmarket/internal/metrics"
	"github.com/mmeshcher/pointmarket/internal/model"
	"github.com/mmeshcher/pointmarket/internal/pricing"
	"github.com/mmeshcher/pointmarket/internal/rental"
	"github.com/mmeshcher/pointmarket/internal/repository"
)

// Repository описывает контракт доступа к данным, используемый сервисом.
// Изменения нескольких сущностей выполняются только внутри WithTx.
type Repository interface {
	Close() error
	WithTx(ctx context.Context, fn func(repository.Tx) error) error

	GetUser(ctx context.Context, id int64) (*model.User, error)
	GetUserByLogin(ctx context.Context, login string) (*model.User, error)
	ListUserIDsByTier(ctx context.Context, tier model.MembershipTier) ([]int64, error)

	CreateProduct(ctx context.Context, p *model.Product) (int64, error)

	GetOrder(ctx context.Context, id int64) (*model.Order, error)
	GetOrdersByUser(ctx context.Context, userID int64) ([]model.Order, error)
	ListOrders(ctx context.Context) ([]model.Order, error)
	ListRentedOrders(ctx context.Context) ([]model.Order, error)
	ListRentedOrdersByUser(ctx context.Context, userID int64) ([]model.Order, error)

	GetLedgerByUser(ctx context.Context, userID int64) ([]model.LedgerEntry, error)

	CreateMission(ctx context.Context, m *model.Mission) (int64, error)
	GetMission(ctx context.Context, id int64) (*model.Mission, error)
	ListMissions(ctx context.Context, templates bool) ([]model.Mission, error)
	DeleteMission(ctx context.Context, id int64) error
}

// Policy объединяет настраиваемые параметры движка.
type Policy struct {
	Pricing pricing.Policy
	Rental  rental.Policy

	MembershipFee int64
	UpgradeCost   int64
	// FeeLocation задаёт часовой пояс, в котором определяется расчётный месяц взноса.
	FeeLocation *time.Location
}

// DefaultPolicy возвращает параметры по умолчанию.
func DefaultPolicy() Policy {
	return Policy{
		Pricing:       pricing.DefaultPolicy(),
		Rental:        rental.DefaultPolicy(),
		MembershipFee: 100,
		UpgradeCost:   1000,
		FeeLocation:   time.UTC,
	}
}

// Service содержит бизнес-логику магазина.
type Service struct {
	repo      Repository
	policy    Policy
	publisher events.Publisher
	metrics   *metrics.Metrics
	logger    *zap.Logger
	now       func() time.Time
}

// Option настраивает Service.
type Option func(*Service)

// WithPublisher задаёт издателя доменных событий.
func WithPublisher(p events.Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithMetrics задаёт коллекторы Prometheus.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger задаёт логгер.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithClock подменяет источник текущего времени.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService создаёт сервис поверх репозитория.
func NewService(repo Repository, policy Policy, opts ...Option) *Service {
	if policy.FeeLocation == nil {
		policy.FeeLocation = time.UTC
	}
	s := &Service{
		repo:      repo,
		policy:    policy,
		publisher: events.NopPublisher{},
		logger:    zap.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.publisher != nil {
		if err := s.publisher.Close(); err != nil {
			s.logger.Warn("close publisher", zap.Error(err))
		}
	}
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// publish отправляет события после фиксации транзакции. Ошибка доставки не отменяет операцию.
func (s *Service) publish(ctx context.Context, evs ...events.Event) {
	for _, e := range evs {
		if err := s.publisher.Publish(ctx, e); err != nil {
			s.logger.Warn("publish event",
				zap.String("type", string(e.Type)),
				zap.Int64("user_id", e.UserID),
				zap.Int64("order_id", e.OrderID),
				zap.Error(err),
			)
		}
	}
}
