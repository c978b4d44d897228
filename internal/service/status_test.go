package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/pointmarket/internal/events"
	"github.com/mmeshcher/pointmarket/internal/model"
	"github.com/mmeshcher/pointmarket/internal/repository"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to model.OrderStatus
		force    bool
		want     bool
	}{
		{model.OrderStatusPending, model.OrderStatusApproved, false, true},
		{model.OrderStatusPending, model.OrderStatusRejected, false, true},
		{model.OrderStatusPending, model.OrderStatusFulfilled, false, false},
		{model.OrderStatusPending, model.OrderStatusReturned, false, false},
		{model.OrderStatusPending, model.OrderStatusReturned, true, true},
		{model.OrderStatusPending, model.OrderStatusReturnRequested, true, false},
		{model.OrderStatusApproved, model.OrderStatusFulfilled, false, true},
		{model.OrderStatusFulfilled, model.OrderStatusReturnRequested, false, true},
		{model.OrderStatusFulfilled, model.OrderStatusReturned, false, true},
		{model.OrderStatusFulfilled, model.OrderStatusRejected, false, false},
		{model.OrderStatusReturnRequested, model.OrderStatusReturned, false, true},
		{model.OrderStatusRejected, model.OrderStatusApproved, true, false},
		{model.OrderStatusReturned, model.OrderStatusFulfilled, true, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, canTransition(tt.from, tt.to, tt.force))
		})
	}
}

func TestSetOrderStatus_RejectRefundsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := f.user(t, "kid", 200, model.TierNormal)
	lego := f.product(t, "Lego", 10, 5, model.ItemTypeBuy)
	bike := f.product(t, "Bike", 30, 2, model.ItemTypeRent)

	receipt, err := f.svc.PlaceOrder(ctx, userID, []model.CartLine{{ProductID: lego, Quantity: 2}, {ProductID: bike, Quantity: 1}})
	require.NoError(t, err)
	require.Equal(t, int64(100), receipt.NewBalance)

	o := f.setStatus(t, receipt.Order.ID, model.OrderStatusRejected)
	assert.Equal(t, model.OrderStatusRejected, o.Status)
	assert.Equal(t, int64(200), f.balance(t, userID))
	assert.Equal(t, int64(5), f.stock(t, lego))
	assert.Equal(t, int64(2), f.stock(t, bike))

	f.setStatus(t, receipt.Order.ID, model.OrderStatusRejected)
	assert.Equal(t, int64(200), f.balance(t, userID), "second reject must not refund again")
	assert.Equal(t, int64(5), f.stock(t, lego))

	assert.Equal(t, []events.Type{events.OrderPlaced, events.OrderStatusChanged}, f.pub.types())
}

func TestSetOrderStatus_FulfilledStampsRentalOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := f.user(t, "kid", 200, model.TierNormal)
	bike := f.product(t, "Bike", 30, 2, model.ItemTypeRent)

	receipt, err := f.svc.PlaceOrder(ctx, userID, []model.CartLine{{ProductID: bike, Quantity: 1}})
	require.NoError(t, err)

	f.setStatus(t, receipt.Order.ID, model.OrderStatusApproved)
	o := f.setStatus(t, receipt.Order.ID, model.OrderStatusFulfilled)
	require.NotNil(t, o.RentedAt)
	assert.True(t, baseTime.Equal(*o.RentedAt))

	f.now = baseTime.Add(time.Hour)
	o = f.setStatus(t, receipt.Order.ID, model.OrderStatusFulfilled)
	assert.True(t, baseTime.Equal(*o.RentedAt), "re-set keeps the original rental start")
}

func TestSetOrderStatus_BuyOnlyOrderHasNoRentalStart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := f.user(t, "kid", 200, model.TierNormal)
	lego := f.product(t, "Lego", 10, 5, model.ItemTypeBuy)

	receipt, err := f.svc.PlaceOrder(ctx, userID, []model.CartLine{{ProductID: lego, Quantity: 1}})
	require.NoError(t, err)

	f.setStatus(t, receipt.Order.ID, model.OrderStatusApproved)
	o := f.setStatus(t, receipt.Order.ID, model.OrderStatusFulfilled)
	assert.Nil(t, o.RentedAt)

	rented, err := f.repo.ListRentedOrders(ctx)
	require.NoError(t, err)
	assert.Empty(t, rented)
}

func TestSetOrderStatus_PendingToReturnedIsInvalid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := f.user(t, "kid", 200, model.TierNormal)
	lego := f.product(t, "Lego", 10, 5, model.ItemTypeBuy)

	receipt, err := f.svc.PlaceOrder(ctx, userID, []model.CartLine{{ProductID: lego, Quantity: 1}})
	require.NoError(t, err)

	_, err = f.svc.SetOrderStatus(ctx, model.StatusChange{OrderID: receipt.Order.ID, Status: model.OrderStatusReturned, Actor: admin})
	require.ErrorIs(t, err, model.ErrInvalidTransition)
	assert.Equal(t, int64(140), f.balance(t, userID))
	assert.Equal(t, int64(4), f.stock(t, lego))

	o, err := f.svc.SetOrderStatus(ctx, model.StatusChange{OrderID: receipt.Order.ID, Status: model.OrderStatusReturned, Actor: admin, Force: true})
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusReturned, o.Status)
	assert.Equal(t, int64(145), f.balance(t, userID))
	assert.Equal(t, int64(5), f.stock(t, lego))
}

func TestSetOrderStatus_ForceIgnoredForUsers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := f.user(t, "kid", 200, model.TierNormal)
	lego := f.product(t, "Lego", 10, 5, model.ItemTypeBuy)

	receipt, err := f.svc.PlaceOrder(ctx, userID, []model.CartLine{{ProductID: lego, Quantity: 1}})
	require.NoError(t, err)

	owner := model.Actor{UserID: userID, Role: model.RoleUser}
	_, err = f.svc.SetOrderStatus(ctx, model.StatusChange{OrderID: receipt.Order.ID, Status: model.OrderStatusApproved, Actor: owner, Force: true})
	require.ErrorIs(t, err, model.ErrUnauthorized)

	_, err = f.svc.SetOrderStatus(ctx, model.StatusChange{OrderID: receipt.Order.ID, Status: model.OrderStatusReturnRequested, Actor: owner, Force: true})
	require.ErrorIs(t, err, model.ErrInvalidTransition)
}

func TestSetOrderStatus_ReturnFlow(t *testing.T) {
	tests := []struct {
		name       string
		tier       model.MembershipTier
		wantRefund int64
	}{
		// Покупка: 3 x 11 = 33, аренда не возвращается.
		{name: "normal tier", tier: model.TierNormal, wantRefund: 16},
		{name: "elevated tier", tier: model.TierElevated, wantRefund: 19},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			userID := f.user(t, "kid", 500, tt.tier)
			lego := f.product(t, "Lego", 11, 5, model.ItemTypeBuy)
			bike := f.product(t, "Bike", 30, 2, model.ItemTypeRent)

			receipt, err := f.svc.PlaceOrder(ctx, userID, []model.CartLine{{ProductID: lego, Quantity: 3}, {ProductID: bike, Quantity: 1}})
			require.NoError(t, err)
			f.setStatus(t, receipt.Order.ID, model.OrderStatusApproved)
			f.setStatus(t, receipt.Order.ID, model.OrderStatusFulfilled)

			owner := model.Actor{UserID: userID, Role: model.RoleUser}
			o, err := f.svc.RequestReturn(ctx, owner, receipt.Order.ID, "too small")
			require.NoError(t, err)
			assert.Equal(t, model.OrderStatusReturnRequested, o.Status)
			assert.Equal(t, "too small", o.ReturnReason)

			before := f.balance(t, userID)
			o = f.setStatus(t, receipt.Order.ID, model.OrderStatusReturned)
			assert.Equal(t, model.OrderStatusReturned, o.Status)
			assert.Equal(t, before+tt.wantRefund, f.balance(t, userID))
			assert.Equal(t, int64(5), f.stock(t, lego))
			assert.Equal(t, int64(2), f.stock(t, bike))

			f.setStatus(t, receipt.Order.ID, model.OrderStatusReturned)
			assert.Equal(t, before+tt.wantRefund, f.balance(t, userID))
		})
	}
}

func TestSetOrderStatus_ReturnRequestRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := f.user(t, "kid", 200, model.TierNormal)
	otherID := f.user(t, "sibling", 0, model.TierNormal)
	lego := f.product(t, "Lego", 10, 5, model.ItemTypeBuy)

	receipt, err := f.svc.PlaceOrder(ctx, userID, []model.CartLine{{ProductID: lego, Quantity: 1}})
	require.NoError(t, err)

	owner := model.Actor{UserID: userID, Role: model.RoleUser}
	_, err = f.svc.RequestReturn(ctx, owner, receipt.Order.ID, "")
	require.ErrorIs(t, err, model.ErrInvalidTransition, "only fulfilled orders can be returned")

	f.setStatus(t, receipt.Order.ID, model.OrderStatusApproved)
	f.setStatus(t, receipt.Order.ID, model.OrderStatusFulfilled)

	_, err = f.svc.RequestReturn(ctx, model.Actor{UserID: otherID, Role: model.RoleUser}, receipt.Order.ID, "")
	require.ErrorIs(t, err, model.ErrUnauthorized)

	_, err = f.svc.RequestReturn(ctx, admin, receipt.Order.ID, "")
	require.ErrorIs(t, err, model.ErrUnauthorized)

	_, err = f.svc.SetOrderStatus(ctx, model.StatusChange{OrderID: receipt.Order.ID, Status: model.OrderStatusReturned, Actor: owner})
	require.ErrorIs(t, err, model.ErrUnauthorized)
}

func TestSetOrderStatus_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.SetOrderStatus(ctx, model.StatusChange{OrderID: 77, Status: model.OrderStatusApproved, Actor: admin})
	require.ErrorIs(t, err, model.ErrNotFound)

	_, err = f.svc.SetOrderStatus(ctx, model.StatusChange{OrderID: 77, Status: "lost", Actor: admin})
	require.ErrorIs(t, err, model.ErrInvalidTransition)
}

func TestSetOrderStatus_RetryAfterConcurrentChangeReportsNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := f.user(t, "kid", 200, model.TierNormal)
	lego := f.product(t, "Lego", 10, 5, model.ItemTypeBuy)

	receipt, err := f.svc.PlaceOrder(ctx, userID, []model.CartLine{{ProductID: lego, Quantity: 2}})
	require.NoError(t, err)
	orderID := receipt.Order.ID

	repo := &retryingRepo{
		MemoryRepository: f.repo,
		conflict: func(tx repository.Tx) error {
			o, err := tx.OrderForUpdate(ctx, orderID)
			if err != nil {
				return err
			}
			o.Status = model.OrderStatusRejected
			return tx.UpdateOrder(ctx, o)
		},
	}
	pub := &recordingPublisher{}
	svc := NewService(repo, DefaultPolicy(), WithPublisher(pub))

	o, err := svc.SetOrderStatus(ctx, model.StatusChange{OrderID: orderID, Status: model.OrderStatusRejected, Actor: admin})
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusRejected, o.Status)
	assert.True(t, repo.retried)
	assert.Empty(t, pub.types(), "the committed attempt changed nothing")
	assert.Equal(t, receipt.NewBalance, f.balance(t, userID), "the rolled back attempt must not refund")
}
