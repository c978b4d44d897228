// Package scheduler запускает периодические задачи по расписанию cron.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/mmeshcher/pointmarket/internal/metrics"
)

// ErrJobBusy возвращается, если задача уже выполняется.
var ErrJobBusy = errors.New("job is already running")

// Job описывает периодическую задачу.
type Job struct {
	Name string
	// Spec задаёт расписание в стандартном формате cron из пяти полей или дескриптором вида @daily.
	Spec string
	Run  func(ctx context.Context, now time.Time) error
}

// Scheduler запускается один раз при старте сервиса и останавливается вместе с ним.
type Scheduler struct {
	loc     *time.Location
	locker  Locker
	lockTTL time.Duration
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	jobs []Job
}

// Option настраивает Scheduler.
type Option func(*Scheduler)

// WithLogger задаёт логгер.
func WithLogger(l *zap.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithMetrics задаёт коллекторы Prometheus.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithLockTTL задаёт время жизни распределённой блокировки задачи.
func WithLockTTL(ttl time.Duration) Option {
	return func(s *Scheduler) { s.lockTTL = ttl }
}

// WithClock подменяет источник текущего времени.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// New создаёт планировщик. Расписания интерпретируются в часовом поясе loc.
func New(loc *time.Location, locker Locker, opts ...Option) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	if locker == nil {
		locker = NewLocalLocker()
	}
	s := &Scheduler{
		loc:     loc,
		locker:  locker,
		lockTTL: 30 * time.Minute,
		logger:  zap.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add регистрирует задачу. Расписание проверяется сразу.
func (s *Scheduler) Add(job Job) error {
	if job.Name == "" || job.Run == nil {
		return errors.New("job name and run func are required")
	}
	if _, err := cron.ParseStandard(job.Spec); err != nil {
		return fmt.Errorf("parse schedule of %s: %w", job.Name, err)
	}
	s.jobs = append(s.jobs, job)
	return nil
}

// Start запускает задачи по расписанию и блокируется до отмены ctx.
// После отмены ждёт завершения уже запущенных задач.
func (s *Scheduler) Start(ctx context.Context) error {
	cl := cronLogger{l: s.logger.Sugar()}
	c := cron.New(
		cron.WithLocation(s.loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	for _, job := range s.jobs {
		if _, err := c.AddFunc(job.Spec, func() {
			if err := s.Trigger(ctx, job.Name); err != nil && !errors.Is(err, ErrJobBusy) {
				s.logger.Error("scheduled job failed", zap.String("job", job.Name), zap.Error(err))
			}
		}); err != nil {
			return fmt.Errorf("schedule %s: %w", job.Name, err)
		}
		s.logger.Info("job scheduled", zap.String("job", job.Name), zap.String("spec", job.Spec))
	}

	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	s.logger.Info("scheduler stopped")
	return nil
}

// Trigger немедленно выполняет задачу по имени. Используется расписанием и ручным запуском.
func (s *Scheduler) Trigger(ctx context.Context, name string) error {
	job, ok := s.find(name)
	if !ok {
		return fmt.Errorf("unknown job %q", name)
	}

	unlock, ok, err := s.locker.TryLock(ctx, job.Name, s.lockTTL)
	if err != nil {
		return err
	}
	if !ok {
		s.logger.Info("job skipped, already running", zap.String("job", job.Name))
		return ErrJobBusy
	}
	defer func() {
		// Блокировку нужно снять и после отмены ctx.
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("release job lock", zap.String("job", job.Name), zap.Error(err))
		}
	}()

	started := time.Now()
	now := s.now().In(s.loc)
	s.logger.Info("job started", zap.String("job", job.Name), zap.Time("now", now))

	err = job.Run(ctx, now)
	elapsed := time.Since(started)
	s.metrics.JobFinished(job.Name, elapsed.Seconds(), err)
	if err != nil {
		return fmt.Errorf("run %s: %w", job.Name, err)
	}

	s.logger.Info("job finished", zap.String("job", job.Name), zap.Duration("elapsed", elapsed))
	return nil
}

func (s *Scheduler) find(name string) (Job, bool) {
	for _, j := range s.jobs {
		if j.Name == name {
			return j, true
		}
	}
	return Job{}, false
}

// cronLogger передаёт сообщения cron в zap.
type cronLogger struct {
	l *zap.SugaredLogger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Errorw(msg, append(keysAndValues, "error", err)...)
}
