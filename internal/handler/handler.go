// Package handler содержит HTTP-обработчики API сервиса pointmarket.
package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"go.uber.org/zap"

	"github.com/mmeshcher/pointmarket/internal/middleware"
	"github.com/mmeshcher/pointmarket/internal/model"
	"github.com/mmeshcher/pointmarket/internal/scheduler"
	"github.com/mmeshcher/pointmarket/internal/validation"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	Authenticate(ctx context.Context, login, password string) (*model.User, error)
	GetProfile(ctx context.Context, userID int64) (*model.Profile, error)
	CheckRentals(ctx context.Context, userID int64, now time.Time) (*model.RentalCheck, error)
	UpgradeMembership(ctx context.Context, userID int64) (*model.User, error)

	PlaceOrder(ctx context.Context, userID int64, cart []model.CartLine) (*model.Receipt, error)
	GetOrdersByUser(ctx context.Context, userID int64) ([]model.Order, error)
	RequestReturn(ctx context.Context, actor model.Actor, orderID int64, reason string) (*model.Order, error)

	CreateMember(ctx context.Context, m model.NewMember) (*model.User, error)
	AdjustPoints(ctx context.Context, userID, amount int64) (int64, error)
	CreateProduct(ctx context.Context, p *model.Product) (int64, error)
	ListOrders(ctx context.Context) ([]model.Order, error)
	SetOrderStatus(ctx context.Context, ch model.StatusChange) (*model.Order, error)

	ListMissionTemplates(ctx context.Context) ([]model.Mission, error)
	ReportMission(ctx context.Context, userID int64, r model.MissionReport) (*model.Mission, error)
	CreateMission(ctx context.Context, adminID int64, title, description string, rewardPoints int64) (*model.Mission, error)
	ListMissions(ctx context.Context) ([]model.Mission, error)
	SetMissionStatus(ctx context.Context, missionID int64, status model.MissionStatus) (*model.Mission, error)
	DeleteMission(ctx context.Context, missionID int64) error
}

// JobRunner запускает периодическую задачу вне расписания.
type JobRunner interface {
	Trigger(ctx context.Context, name string) error
}

// Handler реализует HTTP-обработчики API сервиса pointmarket.
type Handler struct {
	service        Service
	jobs           JobRunner
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
	limiter        *middleware.RateLimiter
	metrics        http.Handler
	validator      *validation.Validator
	now            func() time.Time
}

// Option настраивает Handler.
type Option func(*Handler)

// WithRateLimiter ограничивает частоту оформления заказов.
func WithRateLimiter(l *middleware.RateLimiter) Option {
	return func(h *Handler) { h.limiter = l }
}

// WithMetricsHandler публикует метрики по пути /metrics.
func WithMetricsHandler(m http.Handler) Option {
	return func(h *Handler) { h.metrics = m }
}

// WithClock подменяет источник текущего времени.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) { h.now = now }
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, jobs JobRunner, logger *zap.Logger, auth *middleware.AuthMiddleware, opts ...Option) *Handler {
	h := &Handler{
		service:        s,
		jobs:           jobs,
		logger:         logger,
		authMiddleware: auth,
		validator:      validation.New(),
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type errorResponse struct {
	Error string `json:"error"`
}

// statusFor сопоставляет доменную ошибку HTTP-статусу.
func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrInsufficientStock),
		errors.Is(err, model.ErrUserExists),
		errors.Is(err, model.ErrAlreadyElevated),
		errors.Is(err, scheduler.ErrJobBusy):
		return http.StatusConflict
	case errors.Is(err, model.ErrInsufficientFunds):
		return http.StatusPaymentRequired
	case errors.Is(err, model.ErrInvalidTransition):
		return http.StatusUnprocessableEntity
	case errors.Is(err, model.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, model.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, model.ErrInvalidCart),
		errors.Is(err, model.ErrInvalidInput),
		errors.Is(err, validation.ErrInvalid):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// writeError отвечает статусом, соответствующим ошибке. Внутренние ошибки логируются
// и не раскрываются клиенту.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error, msg string, fields ...zap.Field) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error(msg, append(fields, zap.Error(err))...)
		render.Status(r, status)
		render.JSON(w, r, errorResponse{Error: http.StatusText(status)})
		return
	}

	render.Status(r, status)
	render.JSON(w, r, errorResponse{Error: err.Error()})
}

func badRequest(w http.ResponseWriter, r *http.Request, msg string) {
	render.Status(r, http.StatusBadRequest)
	render.JSON(w, r, errorResponse{Error: msg})
}

// decode читает JSON-тело запроса и проверяет его по тегам validate.
// Пустое тело допустимо, если allowEmpty.
func (h *Handler) decode(r *http.Request, v any, allowEmpty bool) error {
	if err := render.DecodeJSON(r.Body, v); err != nil {
		if !(allowEmpty && errors.Is(err, io.EOF)) {
			return err
		}
	}
	return h.validator.Struct(v)
}

func (h *Handler) decodeOrFail(w http.ResponseWriter, r *http.Request, v any, allowEmpty bool) bool {
	if err := h.decode(r, v, allowEmpty); err != nil {
		if errors.Is(err, validation.ErrInvalid) {
			badRequest(w, r, err.Error())
			return false
		}
		badRequest(w, r, "malformed JSON body")
		return false
	}
	return true
}

func idParam(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func currentActor(w http.ResponseWriter, r *http.Request) (model.Actor, bool) {
	actor, ok := middleware.GetActorFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return model.Actor{}, false
	}
	return actor, true
}
