package repository

import (
	"context"

	"github.com/mmeshcher/pointmarket/internal/model"
)

// Tx описывает операции, выполняемые внутри одной транзакции.
// Все изменения, сделанные через Tx, фиксируются вместе или не фиксируются совсем.
// Блокировки берутся в порядке заказ или миссия -> пользователь -> товары.
type Tx interface {
	// UserForUpdate читает пользователя и блокирует его строку до конца транзакции.
	UserForUpdate(ctx context.Context, id int64) (*model.User, error)
	// ProductsForUpdate читает и блокирует товары в порядке возрастания идентификаторов.
	ProductsForUpdate(ctx context.Context, ids []int64) (map[int64]*model.Product, error)
	// OrderForUpdate читает и блокирует заказ.
	OrderForUpdate(ctx context.Context, id int64) (*model.Order, error)
	// MissionForUpdate читает и блокирует миссию.
	MissionForUpdate(ctx context.Context, id int64) (*model.Mission, error)

	// ApplyBalance изменяет баланс пользователя на delta и пишет запись в журнал.
	// При floorAtZero баланс не опускается ниже нуля. Возвращает новый баланс.
	ApplyBalance(ctx context.Context, userID, delta int64, floorAtZero bool, reason model.LedgerReason, orderID *int64) (int64, error)
	// ApplyStock изменяет остаток товара на delta. Отрицательный остаток не фиксируется.
	ApplyStock(ctx context.Context, productID, delta int64) (int64, error)

	CreateOrder(ctx context.Context, o *model.Order) error
	UpdateOrder(ctx context.Context, o *model.Order) error
	// UpdateMission сохраняет статус миссии и время начисления награды.
	UpdateMission(ctx context.Context, m *model.Mission) error

	CreateUser(ctx context.Context, u *model.User) (int64, error)
	SetMembershipTier(ctx context.Context, userID int64, tier model.MembershipTier) error
	SetFeePeriod(ctx context.Context, userID int64, period string) error
}
