package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/pointmarket/internal/events"
	"github.com/mmeshcher/pointmarket/internal/model"
)

const day = 24 * time.Hour

// rentedOrder оформляет аренду и доводит заказ до fulfilled в момент f.now.
func (f *fixture) rentedOrder(t *testing.T, userID int64) int64 {
	t.Helper()
	bike := f.product(t, "Bike", 30, 1, model.ItemTypeRent)

	receipt, err := f.svc.PlaceOrder(context.Background(), userID, []model.CartLine{{ProductID: bike, Quantity: 1}})
	require.NoError(t, err)
	f.setStatus(t, receipt.Order.ID, model.OrderStatusApproved)
	f.setStatus(t, receipt.Order.ID, model.OrderStatusFulfilled)
	return receipt.Order.ID
}

func TestRunRentalPenaltyScan_IdempotentPerDay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := f.user(t, "kid", 200, model.TierNormal)
	orderID := f.rentedOrder(t, userID)
	require.Equal(t, int64(120), f.balance(t, userID))

	now := baseTime.Add(day + day + time.Hour)

	report, err := f.svc.RunRentalPenaltyScan(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, model.PenaltyReport{OrdersScanned: 1, OrdersCharged: 1, TotalPenalty: 1}, report)
	assert.Equal(t, int64(119), f.balance(t, userID))

	report, err = f.svc.RunRentalPenaltyScan(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, model.PenaltyReport{OrdersScanned: 1}, report)
	assert.Equal(t, int64(119), f.balance(t, userID))

	report, err = f.svc.RunRentalPenaltyScan(ctx, now.Add(day))
	require.NoError(t, err)
	assert.Equal(t, 1, report.OrdersCharged)
	assert.Equal(t, int64(1), report.TotalPenalty)
	assert.Equal(t, int64(118), f.balance(t, userID))

	o, err := f.repo.GetOrder(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), o.PenaltyDaysCharged)

	assert.Contains(t, f.pub.types(), events.RentalPenaltyCharged)
}

func TestRunRentalPenaltyScan_WithinGraceChargesNothing(t *testing.T) {
	f := newFixture(t)
	userID := f.user(t, "kid", 200, model.TierNormal)
	f.rentedOrder(t, userID)

	report, err := f.svc.RunRentalPenaltyScan(context.Background(), baseTime.Add(day))
	require.NoError(t, err)
	assert.Equal(t, model.PenaltyReport{OrdersScanned: 1}, report)
	assert.Equal(t, int64(120), f.balance(t, userID))
}

func TestRunRentalPenaltyScan_SkipsBuyOnlyOrders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := f.user(t, "kid", 200, model.TierNormal)
	lego := f.product(t, "Lego", 10, 5, model.ItemTypeBuy)

	receipt, err := f.svc.PlaceOrder(ctx, userID, []model.CartLine{{ProductID: lego, Quantity: 1}})
	require.NoError(t, err)
	f.setStatus(t, receipt.Order.ID, model.OrderStatusApproved)
	f.setStatus(t, receipt.Order.ID, model.OrderStatusFulfilled)

	report, err := f.svc.RunRentalPenaltyScan(ctx, baseTime.Add(30*day))
	require.NoError(t, err)
	assert.Equal(t, model.PenaltyReport{}, report)
	assert.Equal(t, int64(140), f.balance(t, userID))
}

func TestRunRentalPenaltyScan_FloorsAtZero(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := f.user(t, "kid", 80, model.TierNormal)
	orderID := f.rentedOrder(t, userID)
	require.Zero(t, f.balance(t, userID))

	report, err := f.svc.RunRentalPenaltyScan(ctx, baseTime.Add(day+5*day))
	require.NoError(t, err)
	assert.Equal(t, int64(5), report.TotalPenalty)
	assert.Zero(t, f.balance(t, userID))

	o, err := f.repo.GetOrder(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), o.PenaltyDaysCharged, "days are consumed even when nothing could be debited")

	ledger, err := f.repo.GetLedgerByUser(ctx, userID)
	require.NoError(t, err)
	for _, e := range ledger {
		assert.NotEqual(t, model.LedgerRentalPenalty, e.Reason)
	}
}

func TestRunRentalPenaltyScan_ContinuesAfterFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.user(t, "kid", 200, model.TierNormal)
	second := f.user(t, "sibling", 200, model.TierNormal)
	f.rentedOrder(t, first)
	f.rentedOrder(t, second)

	repo := &failingTxRepo{MemoryRepository: f.repo, fail: map[int]bool{1: true}}
	svc := NewService(repo, DefaultPolicy(), WithClock(func() time.Time { return f.now }))

	report, err := svc.RunRentalPenaltyScan(ctx, baseTime.Add(3*day))
	require.NoError(t, err)
	assert.Equal(t, 2, report.OrdersScanned)
	assert.Equal(t, 1, report.OrdersCharged)
	assert.Equal(t, 1, report.Failures)
	assert.Equal(t, int64(2), report.TotalPenalty)

	assert.Equal(t, int64(120), f.balance(t, first))
	assert.Equal(t, int64(118), f.balance(t, second))

	report, err = svc.RunRentalPenaltyScan(ctx, baseTime.Add(3*day))
	require.NoError(t, err)
	assert.Equal(t, 1, report.OrdersCharged, "failed order is picked up by the next run")
	assert.Equal(t, int64(118), f.balance(t, first))
}

func TestRunRentalPenaltyScan_Cancelled(t *testing.T) {
	f := newFixture(t)
	userID := f.user(t, "kid", 200, model.TierNormal)
	f.rentedOrder(t, userID)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.svc.RunRentalPenaltyScan(ctx, baseTime.Add(3*day))
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int64(120), f.balance(t, userID))
}

func TestCheckRentals_DueSoon(t *testing.T) {
	f := newFixture(t)
	userID := f.user(t, "kid", 200, model.TierNormal)
	orderID := f.rentedOrder(t, userID)

	check, err := f.svc.CheckRentals(context.Background(), userID, baseTime.Add(20*time.Hour))
	require.NoError(t, err)

	require.Len(t, check.Alerts, 1)
	alert := check.Alerts[0]
	assert.Equal(t, orderID, alert.OrderID)
	assert.Equal(t, model.RentalDueSoon, alert.Status)
	assert.Equal(t, int64(4), alert.HoursLeft)
	assert.True(t, baseTime.Add(day).Equal(alert.Deadline))
	require.Len(t, alert.Items, 1)
	assert.Equal(t, "Bike", alert.Items[0].Title)
	assert.Zero(t, check.PenaltyApplied)
	assert.Equal(t, int64(120), check.PointBalance)
}

func TestCheckRentals_MatchesBackgroundScan(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := f.user(t, "kid", 200, model.TierNormal)
	f.rentedOrder(t, userID)
	now := baseTime.Add(day + 2*day + 3*time.Hour)

	check, err := f.svc.CheckRentals(ctx, userID, now)
	require.NoError(t, err)
	require.Len(t, check.Alerts, 1)
	assert.Equal(t, model.RentalOverdue, check.Alerts[0].Status)
	assert.Equal(t, int64(2), check.Alerts[0].OverdueDays)
	assert.Equal(t, int64(2), check.Alerts[0].PenaltyDaysCharged)
	assert.Equal(t, int64(2), check.PenaltyApplied)
	assert.Equal(t, int64(118), check.PointBalance)

	again, err := f.svc.CheckRentals(ctx, userID, now)
	require.NoError(t, err)
	assert.Zero(t, again.PenaltyApplied)
	assert.Equal(t, check.Alerts, again.Alerts)

	report, err := f.svc.RunRentalPenaltyScan(ctx, now)
	require.NoError(t, err)
	assert.Zero(t, report.OrdersCharged)
	assert.Equal(t, int64(118), f.balance(t, userID))
}

func TestCheckRentals_UnknownUser(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CheckRentals(context.Background(), 404, baseTime)
	require.ErrorIs(t, err, model.ErrNotFound)
}
