package repository

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/pointmarket/internal/model"
)

func seedUser(t *testing.T, r *MemoryRepository, login string, balance int64) int64 {
	t.Helper()

	var id int64
	err := r.WithTx(context.Background(), func(tx Tx) error {
		var err error
		id, err = tx.CreateUser(context.Background(), &model.User{Login: login, Role: model.RoleUser})
		if err != nil {
			return err
		}
		_, err = tx.ApplyBalance(context.Background(), id, balance, false, model.LedgerAdjustment, nil)
		return err
	})
	require.NoError(t, err)
	return id
}

func TestMemoryWithTx_RollbackOnError(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository()
	userID := seedUser(t, r, "kid", 100)
	productID, err := r.CreateProduct(ctx, &model.Product{Title: "Lego", Price: 10, Stock: 3, Type: model.ItemTypeBuy})
	require.NoError(t, err)

	boom := errors.New("boom")
	err = r.WithTx(ctx, func(tx Tx) error {
		if _, err := tx.ApplyStock(ctx, productID, -2); err != nil {
			return err
		}
		if _, err := tx.ApplyBalance(ctx, userID, -20, false, model.LedgerPurchase, nil); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	p, err := r.GetProduct(ctx, productID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), p.Stock)

	u, err := r.GetUser(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), u.PointBalance)

	ledger, err := r.GetLedgerByUser(ctx, userID)
	require.NoError(t, err)
	assert.Len(t, ledger, 1)
}

func TestMemoryApplyStock_RejectsNegative(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository()
	productID, err := r.CreateProduct(ctx, &model.Product{Title: "Bike", Price: 100, Stock: 1, Type: model.ItemTypeRent})
	require.NoError(t, err)

	err = r.WithTx(ctx, func(tx Tx) error {
		_, err := tx.ApplyStock(ctx, productID, -2)
		return err
	})
	require.ErrorIs(t, err, model.ErrInsufficientStock)
}

func TestMemoryApplyBalance_FloorAtZero(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository()
	userID := seedUser(t, r, "kid", 3)

	var floored, negative int64
	err := r.WithTx(ctx, func(tx Tx) error {
		var err error
		floored, err = tx.ApplyBalance(ctx, userID, -5, true, model.LedgerRentalPenalty, nil)
		if err != nil {
			return err
		}
		negative, err = tx.ApplyBalance(ctx, userID, -100, false, model.LedgerMembershipFee, nil)
		return err
	})
	require.NoError(t, err)
	assert.Zero(t, floored)
	assert.Equal(t, int64(-100), negative)

	ledger, err := r.GetLedgerByUser(ctx, userID)
	require.NoError(t, err)
	require.Len(t, ledger, 3)
	assert.Equal(t, model.LedgerMembershipFee, ledger[0].Reason)
	assert.Equal(t, int64(-3), ledger[1].Amount, "ledger records the amount actually applied")
}

func TestMemoryCreateUser_Duplicate(t *testing.T) {
	r := NewMemoryRepository()
	seedUser(t, r, "kid", 0)

	err := r.WithTx(context.Background(), func(tx Tx) error {
		_, err := tx.CreateUser(context.Background(), &model.User{Login: "kid"})
		return err
	})
	require.ErrorIs(t, err, model.ErrUserExists)
}

func TestMemoryOrders_Isolation(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository()
	userID := seedUser(t, r, "kid", 0)

	order := &model.Order{
		UserID: userID,
		Items:  []model.OrderItem{{ProductID: 1, Title: "Lego", Price: 10, Quantity: 1, Type: model.ItemTypeBuy}},
		Status: model.OrderStatusPending,
	}
	require.NoError(t, r.WithTx(ctx, func(tx Tx) error { return tx.CreateOrder(ctx, order) }))

	got, err := r.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	got.Items[0].Title = "changed"

	again, err := r.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, "Lego", again.Items[0].Title)

	_, err = r.GetOrder(ctx, 999)
	require.ErrorIs(t, err, model.ErrNotFound)
}

func TestMemoryMissions(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository()
	adminID := seedUser(t, r, "mom", 0)
	kidID := seedUser(t, r, "kid", 0)

	tmpl := &model.Mission{UserID: adminID, Title: "Wash dishes", RewardPoints: 30, Status: model.MissionTemplate}
	tmplID, err := r.CreateMission(ctx, tmpl)
	require.NoError(t, err)
	assert.Equal(t, tmplID, tmpl.ID)

	report := &model.Mission{UserID: kidID, TemplateID: &tmplID, Title: "Wash dishes", RewardPoints: 30, Status: model.MissionPending}
	_, err = r.CreateMission(ctx, report)
	require.NoError(t, err)

	_, err = r.CreateMission(ctx, &model.Mission{UserID: 404, Title: "x", RewardPoints: 1, Status: model.MissionPending})
	require.ErrorIs(t, err, model.ErrNotFound)

	templates, err := r.ListMissions(ctx, true)
	require.NoError(t, err)
	require.Len(t, templates, 1)
	assert.Equal(t, tmplID, templates[0].ID)

	reports, err := r.ListMissions(ctx, false)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, report.ID, reports[0].ID)

	rewardedAt := time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)
	err = r.WithTx(ctx, func(tx Tx) error {
		m, err := tx.MissionForUpdate(ctx, report.ID)
		if err != nil {
			return err
		}
		m.Status = model.MissionApproved
		m.RewardedAt = &rewardedAt
		return tx.UpdateMission(ctx, m)
	})
	require.NoError(t, err)

	require.NoError(t, r.DeleteMission(ctx, tmplID))
	require.ErrorIs(t, r.DeleteMission(ctx, tmplID), model.ErrNotFound)

	got, err := r.GetMission(ctx, report.ID)
	require.NoError(t, err)
	assert.Equal(t, model.MissionApproved, got.Status)
	require.NotNil(t, got.RewardedAt)
	assert.True(t, rewardedAt.Equal(*got.RewardedAt))
	assert.Nil(t, got.TemplateID, "reports outlive their template")
}

func TestMemoryApplyBalance_OutOfRange(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository()
	userID := seedUser(t, r, "kid", math.MaxInt64-1)

	err := r.WithTx(ctx, func(tx Tx) error {
		_, err := tx.ApplyBalance(ctx, userID, 2, false, model.LedgerMissionReward, nil)
		return err
	})
	require.ErrorIs(t, err, model.ErrInvalidInput)

	u, err := r.GetUser(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64-1), u.PointBalance)
}
