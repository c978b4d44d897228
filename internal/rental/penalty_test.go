package rental

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/mmeshcher/pointmarket/internal/model"
)

func rentedOrder(rentedAt time.Time, charged int64) *model.Order {
	return &model.Order{
		ID:                 1,
		Status:             model.OrderStatusFulfilled,
		Items:              []model.OrderItem{{ProductID: 1, Quantity: 1, Type: model.ItemTypeRent}},
		RentedAt:           &rentedAt,
		PenaltyDaysCharged: charged,
	}
}

func TestAssess(t *testing.T) {
	rentedAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	p := DefaultPolicy()

	tests := []struct {
		name    string
		order   *model.Order
		now     time.Time
		state   State
		overdue int64
		newDays int64
		left    int64
	}{
		{
			name:  "inside grace period",
			order: rentedOrder(rentedAt, 0),
			now:   rentedAt.Add(5*time.Hour + 30*time.Minute),
			state: StateDueSoon,
			left:  19,
		},
		{
			name:  "exactly at grace boundary",
			order: rentedOrder(rentedAt, 0),
			now:   rentedAt.Add(24 * time.Hour),
			state: StateDueSoon,
		},
		{
			name:  "overdue less than a whole day",
			order: rentedOrder(rentedAt, 0),
			now:   rentedAt.Add(47 * time.Hour),
			state: StateOverdue,
		},
		{
			name:    "three whole days overdue",
			order:   rentedOrder(rentedAt, 0),
			now:     rentedAt.Add(24*time.Hour + 3*24*time.Hour + time.Hour),
			state:   StateOverdue,
			overdue: 3,
			newDays: 3,
		},
		{
			name:    "already charged days are not repeated",
			order:   rentedOrder(rentedAt, 3),
			now:     rentedAt.Add(24*time.Hour + 3*24*time.Hour + time.Hour),
			state:   StateOverdue,
			overdue: 3,
		},
		{
			name:    "one more day charges one day",
			order:   rentedOrder(rentedAt, 3),
			now:     rentedAt.Add(24*time.Hour + 4*24*time.Hour + time.Hour),
			state:   StateOverdue,
			overdue: 4,
			newDays: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := p.Assess(tt.order, tt.now)
			assert.Equal(t, tt.state, a.State)
			assert.Equal(t, tt.overdue, a.OverdueDays)
			assert.Equal(t, tt.newDays, a.NewDays)
			assert.Equal(t, tt.newDays*p.PenaltyPerDay, a.Penalty)
			assert.Equal(t, tt.left, a.HoursLeft)
			assert.Equal(t, rentedAt.Add(p.Grace), a.Deadline)
		})
	}
}

func TestAssess_NotEligible(t *testing.T) {
	now := time.Now()
	p := DefaultPolicy()

	buyOnly := rentedOrder(now.Add(-100*time.Hour), 0)
	buyOnly.Items[0].Type = model.ItemTypeBuy
	assert.Equal(t, StateNone, p.Assess(buyOnly, now).State)

	returned := rentedOrder(now.Add(-100*time.Hour), 0)
	returned.Status = model.OrderStatusReturnRequested
	assert.Equal(t, StateNone, p.Assess(returned, now).State)

	notRented := rentedOrder(now, 0)
	notRented.RentedAt = nil
	assert.Equal(t, StateNone, p.Assess(notRented, now).State)
}
