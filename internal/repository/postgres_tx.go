package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/mmeshcher/pointmarket/internal/model"
)

const stockConstraint = "products_stock_non_negative"

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) UserForUpdate(ctx context.Context, id int64) (*model.User, error) {
	u, err := scanUser(t.tx.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: user %d", model.ErrNotFound, id)
		}
		return nil, fmt.Errorf("lock user: %w", err)
	}
	return u, nil
}

func (t *pgTx) ProductsForUpdate(ctx context.Context, ids []int64) (map[int64]*model.Product, error) {
	sorted := slices.Clone(ids)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	// ORDER BY id задаёт порядок захвата блокировок.
	rows, err := t.tx.Query(ctx,
		`SELECT id, title, price, stock, type FROM products WHERE id = ANY($1) ORDER BY id FOR UPDATE`,
		sorted,
	)
	if err != nil {
		return nil, fmt.Errorf("lock products: %w", err)
	}
	defer rows.Close()

	res := make(map[int64]*model.Product, len(sorted))
	for rows.Next() {
		var (
			p   model.Product
			typ string
		)
		if err := rows.Scan(&p.ID, &p.Title, &p.Price, &p.Stock, &typ); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		p.Type = model.ItemType(typ)
		res[p.ID] = &p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	for _, id := range sorted {
		if _, ok := res[id]; !ok {
			return nil, fmt.Errorf("%w: product %d", model.ErrNotFound, id)
		}
	}
	return res, nil
}

func (t *pgTx) OrderForUpdate(ctx context.Context, id int64) (*model.Order, error) {
	o, err := scanOrder(t.tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: order %d", model.ErrNotFound, id)
		}
		return nil, fmt.Errorf("lock order: %w", err)
	}
	return o, nil
}

func (t *pgTx) MissionForUpdate(ctx context.Context, id int64) (*model.Mission, error) {
	m, err := scanMission(t.tx.QueryRow(ctx, `SELECT `+missionColumns+` FROM missions WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: mission %d", model.ErrNotFound, id)
		}
		return nil, fmt.Errorf("lock mission: %w", err)
	}
	return m, nil
}

func (t *pgTx) UpdateMission(ctx context.Context, m *model.Mission) error {
	err := t.tx.QueryRow(ctx,
		`UPDATE missions SET status = $2, rewarded_at = $3, updated_at = now() WHERE id = $1 RETURNING updated_at`,
		m.ID, string(m.Status), m.RewardedAt,
	).Scan(&m.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: mission %d", model.ErrNotFound, m.ID)
		}
		return fmt.Errorf("update mission: %w", err)
	}
	return nil
}

func (t *pgTx) ApplyBalance(ctx context.Context, userID, delta int64, floorAtZero bool, reason model.LedgerReason, orderID *int64) (int64, error) {
	var before, after int64
	err := t.tx.QueryRow(ctx,
		`UPDATE users u
		 SET point_balance = CASE WHEN $3 THEN GREATEST(prev.point_balance + $2, 0) ELSE prev.point_balance + $2 END
		 FROM (SELECT id, point_balance FROM users WHERE id = $1 FOR UPDATE) prev
		 WHERE u.id = prev.id
		 RETURNING prev.point_balance, u.point_balance`,
		userID, delta, floorAtZero,
	).Scan(&before, &after)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("%w: user %d", model.ErrNotFound, userID)
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.NumericValueOutOfRange {
			return 0, fmt.Errorf("%w: balance of user %d out of range", model.ErrInvalidInput, userID)
		}
		return 0, fmt.Errorf("apply balance: %w", err)
	}

	applied := after - before
	if applied == 0 {
		return after, nil
	}

	_, err = t.tx.Exec(ctx,
		`INSERT INTO point_ledger (user_id, amount, balance_after, reason, order_id) VALUES ($1, $2, $3, $4, $5)`,
		userID, applied, after, string(reason), orderID,
	)
	if err != nil {
		return 0, fmt.Errorf("insert ledger entry: %w", err)
	}

	return after, nil
}

func (t *pgTx) ApplyStock(ctx context.Context, productID, delta int64) (int64, error) {
	var stock int64
	err := t.tx.QueryRow(ctx,
		`UPDATE products SET stock = stock + $2 WHERE id = $1 RETURNING stock`,
		productID, delta,
	).Scan(&stock)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("%w: product %d", model.ErrNotFound, productID)
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.CheckViolation && pgErr.ConstraintName == stockConstraint {
			return 0, fmt.Errorf("%w: product %d", model.ErrInsufficientStock, productID)
		}
		return 0, fmt.Errorf("apply stock: %w", err)
	}
	return stock, nil
}

func (t *pgTx) CreateOrder(ctx context.Context, o *model.Order) error {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("encode order items: %w", err)
	}

	err = t.tx.QueryRow(ctx,
		`INSERT INTO orders (user_id, items, shipping_fee, total_price, status, return_reason, rented_at, penalty_days_charged)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id, created_at, updated_at`,
		o.UserID, items, o.ShippingFee, o.TotalPrice, string(o.Status), o.ReturnReason, o.RentedAt, o.PenaltyDaysCharged,
	).Scan(&o.ID, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (t *pgTx) UpdateOrder(ctx context.Context, o *model.Order) error {
	err := t.tx.QueryRow(ctx,
		`UPDATE orders
		 SET status = $2, return_reason = $3, rented_at = $4, penalty_days_charged = $5, updated_at = now()
		 WHERE id = $1
		 RETURNING updated_at`,
		o.ID, string(o.Status), o.ReturnReason, o.RentedAt, o.PenaltyDaysCharged,
	).Scan(&o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: order %d", model.ErrNotFound, o.ID)
		}
		return fmt.Errorf("update order: %w", err)
	}
	return nil
}

func (t *pgTx) CreateUser(ctx context.Context, u *model.User) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx,
		`INSERT INTO users (login, name, password_hash, role, membership_tier) VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		u.Login, u.Name, u.PasswordHash, string(u.Role), string(u.MembershipTier),
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return 0, fmt.Errorf("%w: %s", model.ErrUserExists, u.Login)
		}
		return 0, fmt.Errorf("create user: %w", err)
	}
	return id, nil
}

func (t *pgTx) SetMembershipTier(ctx context.Context, userID int64, tier model.MembershipTier) error {
	return t.execUser(ctx, `UPDATE users SET membership_tier = $2 WHERE id = $1`, userID, string(tier))
}

func (t *pgTx) SetFeePeriod(ctx context.Context, userID int64, period string) error {
	return t.execUser(ctx, `UPDATE users SET last_fee_period = $2 WHERE id = $1`, userID, period)
}

func (t *pgTx) execUser(ctx context.Context, query string, userID int64, value string) error {
	tag, err := t.tx.Exec(ctx, query, userID, value)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: user %d", model.ErrNotFound, userID)
	}
	return nil
}
