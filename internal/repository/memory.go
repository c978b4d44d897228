package repository

import (
	"context"
	"fmt"
	"math"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/mmeshcher/pointmarket/internal/model"
)

// MemoryRepository хранит данные в памяти процесса.
// Используется без DATABASE_URI и в тестах. Транзакции сериализуются мьютексом
// и работают над копией состояния, которая заменяет текущее только при успехе.
type MemoryRepository struct {
	mu    sync.Mutex
	state *memState
	now   func() time.Time
}

type memState struct {
	users    map[int64]model.User
	products map[int64]model.Product
	orders   map[int64]model.Order
	missions map[int64]model.Mission
	ledger   []model.LedgerEntry

	lastUserID    int64
	lastProductID int64
	lastOrderID   int64
	lastLedgerID  int64
	lastMissionID int64
}

// NewMemoryRepository создаёт пустое in-memory хранилище.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		state: &memState{
			users:    make(map[int64]model.User),
			products: make(map[int64]model.Product),
			orders:   make(map[int64]model.Order),
			missions: make(map[int64]model.Mission),
		},
		now: time.Now,
	}
}

func (s *memState) clone() *memState {
	c := *s
	c.users = make(map[int64]model.User, len(s.users))
	for k, v := range s.users {
		c.users[k] = v
	}
	c.products = make(map[int64]model.Product, len(s.products))
	for k, v := range s.products {
		c.products[k] = v
	}
	c.orders = make(map[int64]model.Order, len(s.orders))
	for k, v := range s.orders {
		c.orders[k] = v.Clone()
	}
	c.missions = make(map[int64]model.Mission, len(s.missions))
	for k, v := range s.missions {
		c.missions[k] = v.Clone()
	}
	c.ledger = slices.Clone(s.ledger)
	return &c
}

// Close ничего не делает и существует для совместимости с PostgresRepository.
func (r *MemoryRepository) Close() error {
	return nil
}

// WithTx выполняет fn над копией состояния и публикует её, если fn вернула nil.
func (r *MemoryRepository) WithTx(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	work := r.state.clone()
	if err := fn(&memTx{s: work, now: r.now}); err != nil {
		return err
	}
	r.state = work
	return nil
}

// GetUser возвращает пользователя по идентификатору.
func (r *MemoryRepository) GetUser(_ context.Context, id int64) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.state.users[id]
	if !ok {
		return nil, fmt.Errorf("%w: user %d", model.ErrNotFound, id)
	}
	return &u, nil
}

// GetUserByLogin возвращает пользователя по логину.
func (r *MemoryRepository) GetUserByLogin(_ context.Context, login string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, u := range r.state.users {
		if u.Login == login {
			return &u, nil
		}
	}
	return nil, fmt.Errorf("%w: user %q", model.ErrNotFound, login)
}

// ListUserIDsByTier возвращает идентификаторы пользователей с указанным уровнем.
func (r *MemoryRepository) ListUserIDsByTier(_ context.Context, tier model.MembershipTier) ([]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var ids []int64
	for id, u := range r.state.users {
		if u.MembershipTier == tier {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

// CreateProduct добавляет товар в каталог.
func (r *MemoryRepository) CreateProduct(_ context.Context, p *model.Product) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.state.lastProductID++
	stored := *p
	stored.ID = r.state.lastProductID
	r.state.products[stored.ID] = stored
	return stored.ID, nil
}

// GetProduct возвращает товар по идентификатору.
func (r *MemoryRepository) GetProduct(_ context.Context, id int64) (*model.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.state.products[id]
	if !ok {
		return nil, fmt.Errorf("%w: product %d", model.ErrNotFound, id)
	}
	return &p, nil
}

// GetOrder возвращает заказ по идентификатору.
func (r *MemoryRepository) GetOrder(_ context.Context, id int64) (*model.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.state.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: order %d", model.ErrNotFound, id)
	}
	c := o.Clone()
	return &c, nil
}

// GetOrdersByUser возвращает заказы пользователя, новые первыми.
func (r *MemoryRepository) GetOrdersByUser(_ context.Context, userID int64) ([]model.Order, error) {
	return r.filterOrders(func(o *model.Order) bool { return o.UserID == userID }, true), nil
}

// ListOrders возвращает все заказы, новые первыми.
func (r *MemoryRepository) ListOrders(_ context.Context) ([]model.Order, error) {
	return r.filterOrders(func(*model.Order) bool { return true }, true), nil
}

// ListRentedOrders возвращает выданные заказы с зафиксированным началом аренды.
func (r *MemoryRepository) ListRentedOrders(_ context.Context) ([]model.Order, error) {
	return r.filterOrders(isRented, false), nil
}

// ListRentedOrdersByUser возвращает арендованные выданные заказы пользователя.
func (r *MemoryRepository) ListRentedOrdersByUser(_ context.Context, userID int64) ([]model.Order, error) {
	return r.filterOrders(func(o *model.Order) bool { return o.UserID == userID && isRented(o) }, false), nil
}

func isRented(o *model.Order) bool {
	return o.Status == model.OrderStatusFulfilled && o.RentedAt != nil
}

func (r *MemoryRepository) filterOrders(keep func(*model.Order) bool, newestFirst bool) []model.Order {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res []model.Order
	for _, o := range r.state.orders {
		if keep(&o) {
			res = append(res, o.Clone())
		}
	}
	sort.Slice(res, func(i, j int) bool {
		if newestFirst {
			return res[i].ID > res[j].ID
		}
		return res[i].ID < res[j].ID
	})
	return res
}

// GetLedgerByUser возвращает журнал баланса пользователя, новые записи первыми.
func (r *MemoryRepository) GetLedgerByUser(_ context.Context, userID int64) ([]model.LedgerEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res []model.LedgerEntry
	for i := len(r.state.ledger) - 1; i >= 0; i-- {
		if e := r.state.ledger[i]; e.UserID == userID {
			res = append(res, e)
		}
	}
	return res, nil
}

// CreateMission сохраняет миссию или отчёт участника.
func (r *MemoryRepository) CreateMission(_ context.Context, m *model.Mission) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.state.users[m.UserID]; !ok {
		return 0, fmt.Errorf("%w: user %d", model.ErrNotFound, m.UserID)
	}

	r.state.lastMissionID++
	now := r.now()
	stored := m.Clone()
	stored.ID = r.state.lastMissionID
	stored.CreatedAt = now
	stored.UpdatedAt = now
	r.state.missions[stored.ID] = stored

	m.ID, m.CreatedAt, m.UpdatedAt = stored.ID, now, now
	return stored.ID, nil
}

// GetMission возвращает миссию по идентификатору.
func (r *MemoryRepository) GetMission(_ context.Context, id int64) (*model.Mission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.state.missions[id]
	if !ok {
		return nil, fmt.Errorf("%w: mission %d", model.ErrNotFound, id)
	}
	c := m.Clone()
	return &c, nil
}

// ListMissions возвращает опубликованные миссии (templates) или отчёты участников, новые первыми.
func (r *MemoryRepository) ListMissions(_ context.Context, templates bool) ([]model.Mission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res []model.Mission
	for _, m := range r.state.missions {
		if (m.Status == model.MissionTemplate) == templates {
			res = append(res, m.Clone())
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID > res[j].ID })
	return res, nil
}

// DeleteMission удаляет миссию. Отчёты по удалённой опубликованной миссии сохраняются.
func (r *MemoryRepository) DeleteMission(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.state.missions[id]; !ok {
		return fmt.Errorf("%w: mission %d", model.ErrNotFound, id)
	}
	delete(r.state.missions, id)

	for k, m := range r.state.missions {
		if m.TemplateID != nil && *m.TemplateID == id {
			m.TemplateID = nil
			r.state.missions[k] = m
		}
	}
	return nil
}

type memTx struct {
	s   *memState
	now func() time.Time
}

func (t *memTx) UserForUpdate(_ context.Context, id int64) (*model.User, error) {
	u, ok := t.s.users[id]
	if !ok {
		return nil, fmt.Errorf("%w: user %d", model.ErrNotFound, id)
	}
	return &u, nil
}

func (t *memTx) ProductsForUpdate(_ context.Context, ids []int64) (map[int64]*model.Product, error) {
	res := make(map[int64]*model.Product, len(ids))
	for _, id := range ids {
		p, ok := t.s.products[id]
		if !ok {
			return nil, fmt.Errorf("%w: product %d", model.ErrNotFound, id)
		}
		res[id] = &p
	}
	return res, nil
}

func (t *memTx) OrderForUpdate(_ context.Context, id int64) (*model.Order, error) {
	o, ok := t.s.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: order %d", model.ErrNotFound, id)
	}
	c := o.Clone()
	return &c, nil
}

func (t *memTx) MissionForUpdate(_ context.Context, id int64) (*model.Mission, error) {
	m, ok := t.s.missions[id]
	if !ok {
		return nil, fmt.Errorf("%w: mission %d", model.ErrNotFound, id)
	}
	c := m.Clone()
	return &c, nil
}

func (t *memTx) UpdateMission(_ context.Context, m *model.Mission) error {
	stored, ok := t.s.missions[m.ID]
	if !ok {
		return fmt.Errorf("%w: mission %d", model.ErrNotFound, m.ID)
	}
	stored.Status = m.Status
	stored.RewardedAt = m.RewardedAt
	stored.UpdatedAt = t.now()
	m.UpdatedAt = stored.UpdatedAt
	t.s.missions[m.ID] = stored.Clone()
	return nil
}

func (t *memTx) ApplyBalance(_ context.Context, userID, delta int64, floorAtZero bool, reason model.LedgerReason, orderID *int64) (int64, error) {
	u, ok := t.s.users[userID]
	if !ok {
		return 0, fmt.Errorf("%w: user %d", model.ErrNotFound, userID)
	}

	before := u.PointBalance
	if (delta > 0 && before > math.MaxInt64-delta) || (delta < 0 && before < math.MinInt64-delta) {
		return 0, fmt.Errorf("%w: balance of user %d out of range", model.ErrInvalidInput, userID)
	}
	after := before + delta
	if floorAtZero && after < 0 {
		after = 0
	}
	if after == before {
		return after, nil
	}

	u.PointBalance = after
	t.s.users[userID] = u

	t.s.lastLedgerID++
	entry := model.LedgerEntry{
		ID:           t.s.lastLedgerID,
		UserID:       userID,
		Amount:       after - before,
		BalanceAfter: after,
		Reason:       reason,
		CreatedAt:    t.now(),
	}
	if orderID != nil {
		id := *orderID
		entry.OrderID = &id
	}
	t.s.ledger = append(t.s.ledger, entry)

	return after, nil
}

func (t *memTx) ApplyStock(_ context.Context, productID, delta int64) (int64, error) {
	p, ok := t.s.products[productID]
	if !ok {
		return 0, fmt.Errorf("%w: product %d", model.ErrNotFound, productID)
	}
	if p.Stock+delta < 0 {
		return 0, fmt.Errorf("%w: product %d", model.ErrInsufficientStock, productID)
	}
	p.Stock += delta
	t.s.products[productID] = p
	return p.Stock, nil
}

func (t *memTx) CreateOrder(_ context.Context, o *model.Order) error {
	t.s.lastOrderID++
	now := t.now()
	o.ID = t.s.lastOrderID
	o.CreatedAt = now
	o.UpdatedAt = now
	t.s.orders[o.ID] = o.Clone()
	return nil
}

func (t *memTx) UpdateOrder(_ context.Context, o *model.Order) error {
	stored, ok := t.s.orders[o.ID]
	if !ok {
		return fmt.Errorf("%w: order %d", model.ErrNotFound, o.ID)
	}
	stored.Status = o.Status
	stored.ReturnReason = o.ReturnReason
	stored.RentedAt = o.RentedAt
	stored.PenaltyDaysCharged = o.PenaltyDaysCharged
	stored.UpdatedAt = t.now()
	o.UpdatedAt = stored.UpdatedAt
	t.s.orders[o.ID] = stored.Clone()
	return nil
}

func (t *memTx) CreateUser(_ context.Context, u *model.User) (int64, error) {
	for _, existing := range t.s.users {
		if existing.Login == u.Login {
			return 0, fmt.Errorf("%w: %s", model.ErrUserExists, u.Login)
		}
	}

	t.s.lastUserID++
	stored := *u
	stored.ID = t.s.lastUserID
	stored.PointBalance = 0
	stored.CreatedAt = t.now()
	if stored.MembershipTier == "" {
		stored.MembershipTier = model.TierNormal
	}
	t.s.users[stored.ID] = stored
	return stored.ID, nil
}

func (t *memTx) SetMembershipTier(_ context.Context, userID int64, tier model.MembershipTier) error {
	u, ok := t.s.users[userID]
	if !ok {
		return fmt.Errorf("%w: user %d", model.ErrNotFound, userID)
	}
	u.MembershipTier = tier
	t.s.users[userID] = u
	return nil
}

func (t *memTx) SetFeePeriod(_ context.Context, userID int64, period string) error {
	u, ok := t.s.users[userID]
	if !ok {
		return fmt.Errorf("%w: user %d", model.ErrNotFound, userID)
	}
	u.LastFeePeriod = period
	t.s.users[userID] = u
	return nil
}
