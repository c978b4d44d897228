package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/pointmarket/internal/events"
	"github.com/mmeshcher/pointmarket/internal/model"
	"github.com/mmeshcher/pointmarket/internal/rental"
	"github.com/mmeshcher/pointmarket/internal/repository"
)

// accrual содержит результат начисления штрафа по одному заказу.
type accrual struct {
	order      model.Order
	assessment rental.Assessment
	// charged хранит фактически списанную сумму с учётом нижней границы баланса.
	charged int64
	balance int64
}

// accruePenalty начисляет штраф за новые дни просрочки заказа.
// Счётчик PenaltyDaysCharged обновляется в той же транзакции, что и списание,
// поэтому повторный вызов с тем же now ничего не списывает.
func (s *Service) accruePenalty(ctx context.Context, orderID int64, now time.Time) (accrual, error) {
	var res accrual
	err := s.repo.WithTx(ctx, func(tx repository.Tx) error {
		order, err := tx.OrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}

		a := s.policy.Rental.Assess(order, now)
		res = accrual{order: *order, assessment: a}
		if a.NewDays == 0 {
			return nil
		}

		user, err := tx.UserForUpdate(ctx, order.UserID)
		if err != nil {
			return err
		}
		balance, err := tx.ApplyBalance(ctx, order.UserID, -a.Penalty, true, model.LedgerRentalPenalty, &order.ID)
		if err != nil {
			return err
		}

		order.PenaltyDaysCharged = a.OverdueDays
		if err := tx.UpdateOrder(ctx, order); err != nil {
			return err
		}

		res.order = *order
		res.charged = user.PointBalance - balance
		res.balance = balance
		return nil
	})
	return res, err
}

func (s *Service) afterAccrual(ctx context.Context, res accrual) {
	if res.assessment.NewDays == 0 {
		return
	}

	s.metrics.PenaltyDaysCharged(res.assessment.NewDays)
	s.metrics.PointsMoved(string(model.LedgerRentalPenalty), res.charged)
	s.logger.Info("rental penalty charged",
		zap.Int64("order_id", res.order.ID),
		zap.Int64("user_id", res.order.UserID),
		zap.Int64("new_days", res.assessment.NewDays),
		zap.Int64("overdue_days", res.assessment.OverdueDays),
		zap.Int64("charged", res.charged),
	)

	e := events.New(events.RentalPenaltyCharged, res.order.UserID, s.now())
	e.OrderID = res.order.ID
	e.Amount = res.charged
	s.publish(ctx, e)
}

// RunRentalPenaltyScan начисляет штрафы по всем просроченным арендованным заказам.
// Каждый заказ обрабатывается в отдельной транзакции: ошибка по одному заказу
// записывается в отчёт и не прерывает обход остальных.
func (s *Service) RunRentalPenaltyScan(ctx context.Context, now time.Time) (model.PenaltyReport, error) {
	var report model.PenaltyReport

	orders, err := s.repo.ListRentedOrders(ctx)
	if err != nil {
		return report, err
	}

	for i := range orders {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		o := &orders[i]
		if !rental.Eligible(o) {
			continue
		}
		report.OrdersScanned++

		if s.policy.Rental.Assess(o, now).NewDays == 0 {
			continue
		}

		res, err := s.accruePenalty(ctx, o.ID, now)
		if err != nil {
			report.Failures++
			s.logger.Error("rental penalty failed", zap.Int64("order_id", o.ID), zap.Error(err))
			continue
		}
		if res.assessment.NewDays == 0 {
			continue
		}

		report.OrdersCharged++
		report.TotalPenalty += res.assessment.Penalty
		s.afterAccrual(ctx, res)
	}

	s.logger.Info("rental penalty scan finished",
		zap.Int("scanned", report.OrdersScanned),
		zap.Int("charged", report.OrdersCharged),
		zap.Int64("total_penalty", report.TotalPenalty),
		zap.Int("failures", report.Failures),
	)
	return report, nil
}

// CheckRentals синхронно начисляет штрафы по арендованным заказам пользователя
// и возвращает уведомления о приближающемся сроке и просрочке.
// Начисление совпадает с фоновым прогоном для тех же заказа и now.
func (s *Service) CheckRentals(ctx context.Context, userID int64, now time.Time) (*model.RentalCheck, error) {
	orders, err := s.repo.ListRentedOrdersByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	check := &model.RentalCheck{}
	for i := range orders {
		o := orders[i]
		a := s.policy.Rental.Assess(&o, now)

		if a.NewDays > 0 {
			res, err := s.accruePenalty(ctx, o.ID, now)
			if err != nil {
				check.Failures++
				s.logger.Error("rental check failed", zap.Int64("order_id", o.ID), zap.Int64("user_id", userID), zap.Error(err))
			} else {
				o, a = res.order, res.assessment
				check.PenaltyApplied += res.charged
				s.afterAccrual(ctx, res)
			}
		}

		switch a.State {
		case rental.StateDueSoon:
			check.Alerts = append(check.Alerts, model.RentalAlert{
				OrderID:   o.ID,
				Status:    model.RentalDueSoon,
				Items:     o.RentItems(),
				Deadline:  a.Deadline,
				HoursLeft: a.HoursLeft,
			})
		case rental.StateOverdue:
			check.Alerts = append(check.Alerts, model.RentalAlert{
				OrderID:            o.ID,
				Status:             model.RentalOverdue,
				Items:              o.RentItems(),
				Deadline:           a.Deadline,
				OverdueDays:        a.OverdueDays,
				PenaltyDaysCharged: o.PenaltyDaysCharged,
			})
		}
	}

	user, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	check.PointBalance = user.PointBalance

	return check, nil
}
