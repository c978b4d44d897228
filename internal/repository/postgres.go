// Package repository содержит реализации хранилища данных магазина: PostgreSQL и in-memory.
package repository

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/mmeshcher/pointmarket/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	userColumns  = `id, login, name, password_hash, role, point_balance, membership_tier, last_fee_period, created_at`
	orderColumns = `id, user_id, items, shipping_fee, total_price, status, return_reason, rented_at, penalty_days_charged, created_at, updated_at`

	missionColumns = `id, user_id, template_id, title, description, proof_text, proof_image, reward_points, status, rewarded_at, created_at, updated_at`
)

var retryDelays = []time.Duration{100 * time.Millisecond, 500 * time.Millisecond, 1 * time.Second}

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// withRetry повторяет fn при конфликте сериализации, взаимной блокировке или обрыве соединения.
// fn должна целиком описывать транзакцию, чтобы повтор был безопасен.
func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error
	for i := 0; i <= len(retryDelays); i++ {
		err = fn()
		if err == nil || !isRetryable(err) || i == len(retryDelays) {
			return err
		}

		timer := time.NewTimer(retryDelays[i])
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}

func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
	}

	return isConnectionError(err)
}

func isConnectionError(err error) bool {
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// WithTx выполняет fn в транзакции. Транзакция фиксируется, только если fn вернула nil.
func (r *PostgresRepository) WithTx(ctx context.Context, fn func(Tx) error) error {
	return r.withRetry(ctx, func() error {
		tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		if err := fn(&pgTx{tx: tx}); err != nil {
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(row scanner) (*model.User, error) {
	var (
		u    model.User
		role string
		tier string
	)
	if err := row.Scan(&u.ID, &u.Login, &u.Name, &u.PasswordHash, &role, &u.PointBalance, &tier, &u.LastFeePeriod, &u.CreatedAt); err != nil {
		return nil, err
	}
	u.Role = model.Role(role)
	u.MembershipTier = model.MembershipTier(tier)
	return &u, nil
}

func scanOrder(row scanner) (*model.Order, error) {
	var (
		o      model.Order
		items  []byte
		status string
	)
	err := row.Scan(&o.ID, &o.UserID, &items, &o.ShippingFee, &o.TotalPrice, &status,
		&o.ReturnReason, &o.RentedAt, &o.PenaltyDaysCharged, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(items, &o.Items); err != nil {
		return nil, fmt.Errorf("decode order items: %w", err)
	}
	o.Status = model.OrderStatus(status)
	return &o, nil
}

func scanMission(row scanner) (*model.Mission, error) {
	var (
		m      model.Mission
		status string
	)
	err := row.Scan(&m.ID, &m.UserID, &m.TemplateID, &m.Title, &m.Description, &m.ProofText, &m.ProofImage,
		&m.RewardPoints, &status, &m.RewardedAt, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	m.Status = model.MissionStatus(status)
	return &m, nil
}

func collectOrders(rows pgx.Rows) ([]model.Order, error) {
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, *o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return orders, nil
}

// GetUser возвращает пользователя по идентификатору.
func (r *PostgresRepository) GetUser(ctx context.Context, id int64) (*model.User, error) {
	u, err := scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: user %d", model.ErrNotFound, id)
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// GetUserByLogin возвращает пользователя по логину.
func (r *PostgresRepository) GetUserByLogin(ctx context.Context, login string) (*model.User, error) {
	u, err := scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE login = $1`, login))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: user %q", model.ErrNotFound, login)
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// ListUserIDsByTier возвращает идентификаторы пользователей с указанным уровнем членства.
func (r *PostgresRepository) ListUserIDsByTier(ctx context.Context, tier model.MembershipTier) ([]int64, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id FROM users WHERE membership_tier = $1 ORDER BY id`,
		string(tier),
	)
	if err != nil {
		return nil, fmt.Errorf("select users by tier: %w", err)
	}

	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("collect user ids: %w", err)
	}
	return ids, nil
}

// CreateProduct добавляет товар в каталог.
func (r *PostgresRepository) CreateProduct(ctx context.Context, p *model.Product) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO products (title, price, stock, type) VALUES ($1, $2, $3, $4) RETURNING id`,
		p.Title, p.Price, p.Stock, string(p.Type),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create product: %w", err)
	}
	return id, nil
}

// GetOrder возвращает заказ по идентификатору.
func (r *PostgresRepository) GetOrder(ctx context.Context, id int64) (*model.Order, error) {
	o, err := scanOrder(r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: order %d", model.ErrNotFound, id)
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	return o, nil
}

// GetOrdersByUser возвращает заказы пользователя, новые первыми.
func (r *PostgresRepository) GetOrdersByUser(ctx context.Context, userID int64) ([]model.Order, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE user_id = $1 ORDER BY created_at DESC, id DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}
	return collectOrders(rows)
}

// ListOrders возвращает все заказы, новые первыми.
func (r *PostgresRepository) ListOrders(ctx context.Context) ([]model.Order, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+orderColumns+` FROM orders ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}
	return collectOrders(rows)
}

// ListRentedOrders возвращает выданные заказы с зафиксированным временем начала аренды.
func (r *PostgresRepository) ListRentedOrders(ctx context.Context) ([]model.Order, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE status = $1 AND rented_at IS NOT NULL ORDER BY id`,
		string(model.OrderStatusFulfilled),
	)
	if err != nil {
		return nil, fmt.Errorf("select rented orders: %w", err)
	}
	return collectOrders(rows)
}

// ListRentedOrdersByUser возвращает арендованные выданные заказы пользователя.
func (r *PostgresRepository) ListRentedOrdersByUser(ctx context.Context, userID int64) ([]model.Order, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE user_id = $1 AND status = $2 AND rented_at IS NOT NULL ORDER BY id`,
		userID, string(model.OrderStatusFulfilled),
	)
	if err != nil {
		return nil, fmt.Errorf("select rented orders: %w", err)
	}
	return collectOrders(rows)
}

// GetLedgerByUser возвращает журнал изменений баланса пользователя, новые записи первыми.
func (r *PostgresRepository) GetLedgerByUser(ctx context.Context, userID int64) ([]model.LedgerEntry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, amount, balance_after, reason, order_id, created_at
		 FROM point_ledger
		 WHERE user_id = $1
		 ORDER BY created_at DESC, id DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select ledger: %w", err)
	}
	defer rows.Close()

	var res []model.LedgerEntry
	for rows.Next() {
		var (
			e      model.LedgerEntry
			reason string
		)
		if err := rows.Scan(&e.ID, &e.UserID, &e.Amount, &e.BalanceAfter, &reason, &e.OrderID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		e.Reason = model.LedgerReason(reason)
		res = append(res, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

// CreateMission сохраняет миссию или отчёт участника.
func (r *PostgresRepository) CreateMission(ctx context.Context, m *model.Mission) (int64, error) {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO missions (user_id, template_id, title, description, proof_text, proof_image, reward_points, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id, created_at, updated_at`,
		m.UserID, m.TemplateID, m.Title, m.Description, m.ProofText, m.ProofImage, m.RewardPoints, string(m.Status),
	).Scan(&m.ID, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation {
			return 0, fmt.Errorf("%w: user %d", model.ErrNotFound, m.UserID)
		}
		return 0, fmt.Errorf("create mission: %w", err)
	}
	return m.ID, nil
}

// GetMission возвращает миссию по идентификатору.
func (r *PostgresRepository) GetMission(ctx context.Context, id int64) (*model.Mission, error) {
	m, err := scanMission(r.pool.QueryRow(ctx, `SELECT `+missionColumns+` FROM missions WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: mission %d", model.ErrNotFound, id)
		}
		return nil, fmt.Errorf("get mission: %w", err)
	}
	return m, nil
}

// ListMissions возвращает опубликованные миссии (templates) или отчёты участников, новые первыми.
func (r *PostgresRepository) ListMissions(ctx context.Context, templates bool) ([]model.Mission, error) {
	op := "<>"
	if templates {
		op = "="
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+missionColumns+` FROM missions WHERE status `+op+` $1 ORDER BY created_at DESC, id DESC`,
		string(model.MissionTemplate),
	)
	if err != nil {
		return nil, fmt.Errorf("select missions: %w", err)
	}
	defer rows.Close()

	var res []model.Mission
	for rows.Next() {
		m, err := scanMission(rows)
		if err != nil {
			return nil, fmt.Errorf("scan mission: %w", err)
		}
		res = append(res, *m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

// DeleteMission удаляет миссию.
func (r *PostgresRepository) DeleteMission(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM missions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete mission: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: mission %d", model.ErrNotFound, id)
	}
	return nil
}
