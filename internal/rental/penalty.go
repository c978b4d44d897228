// Package rental оценивает просрочку арендованных заказов.
package rental

import (
	"math"
	"time"

	"github.com/mmeshcher/pointmarket/internal/model"
)

// Policy содержит параметры начисления штрафов.
type Policy struct {
	Grace         time.Duration
	PenaltyPerDay int64
}

// DefaultPolicy возвращает политику: сутки без штрафа, далее 1 балл за день.
func DefaultPolicy() Policy {
	return Policy{
		Grace:         24 * time.Hour,
		PenaltyPerDay: 1,
	}
}

// State описывает состояние аренды относительно срока возврата.
type State int

const (
	// StateNone: заказ не участвует в начислении штрафов.
	StateNone State = iota
	// StateDueSoon: льготный период ещё не истёк.
	StateDueSoon
	// StateOverdue: льготный период истёк.
	StateOverdue
)

// Assessment описывает результат оценки одного заказа на момент now.
type Assessment struct {
	State       State
	Deadline    time.Time
	HoursLeft   int64
	OverdueDays int64
	// NewDays содержит дни просрочки, которые ещё не были списаны.
	NewDays int64
	Penalty int64
}

// Eligible сообщает, участвует ли заказ в начислении штрафов.
func Eligible(o *model.Order) bool {
	return o.Status == model.OrderStatusFulfilled && o.RentedAt != nil && o.HasRentItems()
}

// Assess рассчитывает просрочку заказа. Результат зависит только от заказа и now:
// повторный вызов после сохранения PenaltyDaysCharged = OverdueDays даёт NewDays = 0.
func (p Policy) Assess(o *model.Order, now time.Time) Assessment {
	if !Eligible(o) {
		return Assessment{State: StateNone}
	}

	rentedAt := *o.RentedAt
	a := Assessment{Deadline: rentedAt.Add(p.Grace)}
	elapsed := now.Sub(rentedAt)

	if elapsed <= p.Grace {
		a.State = StateDueSoon
		a.HoursLeft = int64(math.Ceil((p.Grace - elapsed).Hours()))
		return a
	}

	a.State = StateOverdue
	a.OverdueDays = int64((elapsed - p.Grace) / (24 * time.Hour))
	if newDays := a.OverdueDays - o.PenaltyDaysCharged; newDays > 0 {
		a.NewDays = newDays
		a.Penalty = newDays * p.PenaltyPerDay
	}
	return a
}
