package service

import (
	"context"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/mmeshcher/pointmarket/internal/events"
	"github.com/mmeshcher/pointmarket/internal/model"
	"github.com/mmeshcher/pointmarket/internal/repository"
)

// transitions перечисляет допустимые переходы без принудительного режима.
var transitions = map[model.OrderStatus][]model.OrderStatus{
	model.OrderStatusPending:         {model.OrderStatusApproved, model.OrderStatusRejected},
	model.OrderStatusApproved:        {model.OrderStatusFulfilled, model.OrderStatusRejected},
	model.OrderStatusFulfilled:       {model.OrderStatusReturnRequested, model.OrderStatusReturned},
	model.OrderStatusReturnRequested: {model.OrderStatusReturned},
}

// canTransition сообщает, разрешён ли переход from -> to.
// Из терминальных статусов переходов нет даже в принудительном режиме.
func canTransition(from, to model.OrderStatus, force bool) bool {
	if from.Terminal() {
		return false
	}
	if slices.Contains(transitions[from], to) {
		return true
	}
	return force && to != model.OrderStatusReturnRequested
}

// SetOrderStatus меняет статус заказа и применяет побочные эффекты первого входа в статус.
// Возврат баллов, возврат остатков и запись статуса фиксируются одной транзакцией.
// Повторная установка текущего статуса ничего не меняет.
func (s *Service) SetOrderStatus(ctx context.Context, ch model.StatusChange) (*model.Order, error) {
	if !ch.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", model.ErrInvalidTransition, ch.Status)
	}
	// Пользователь может только запросить возврат, все остальные переходы делает администратор.
	if ch.Status != model.OrderStatusReturnRequested && !ch.Actor.IsAdmin() {
		return nil, fmt.Errorf("%w: status %s requires admin", model.ErrUnauthorized, ch.Status)
	}

	var (
		result  *model.Order
		from    model.OrderStatus
		refund  int64
		changed bool
	)

	err := s.repo.WithTx(ctx, func(tx repository.Tx) error {
		// Транзакция может быть выполнена повторно, состояние прошлой попытки сбрасывается.
		result, from, refund, changed = nil, "", 0, false

		order, err := tx.OrderForUpdate(ctx, ch.OrderID)
		if err != nil {
			return err
		}

		if ch.Status == model.OrderStatusReturnRequested && order.UserID != ch.Actor.UserID {
			return fmt.Errorf("%w: order %d belongs to another user", model.ErrUnauthorized, order.ID)
		}

		from = order.Status
		result = order
		if order.Status == ch.Status {
			return nil
		}

		force := ch.Force && ch.Actor.IsAdmin()
		if !canTransition(order.Status, ch.Status, force) {
			return fmt.Errorf("%w: %s -> %s", model.ErrInvalidTransition, order.Status, ch.Status)
		}

		switch ch.Status {
		case model.OrderStatusFulfilled:
			if order.HasRentItems() && order.RentedAt == nil {
				now := s.now()
				order.RentedAt = &now
			}

		case model.OrderStatusRejected:
			refund = order.TotalPrice
			if _, err := tx.ApplyBalance(ctx, order.UserID, refund, false, model.LedgerRejectRefund, &order.ID); err != nil {
				return err
			}
			if err := restock(ctx, tx, order.Items); err != nil {
				return err
			}

		case model.OrderStatusReturnRequested:
			order.ReturnReason = ch.Reason

		case model.OrderStatusReturned:
			user, err := tx.UserForUpdate(ctx, order.UserID)
			if err != nil {
				return err
			}
			refund = s.policy.Pricing.ReturnRefund(order.Items, user.MembershipTier)
			if _, err := tx.ApplyBalance(ctx, order.UserID, refund, false, model.LedgerReturnRefund, &order.ID); err != nil {
				return err
			}
			if err := restock(ctx, tx, order.Items); err != nil {
				return err
			}
		}

		order.Status = ch.Status
		changed = true
		return tx.UpdateOrder(ctx, order)
	})
	if err != nil {
		return nil, err
	}
	if !changed {
		return result, nil
	}

	s.metrics.StatusChanged(string(from), string(result.Status))
	switch result.Status {
	case model.OrderStatusRejected:
		s.metrics.PointsMoved(string(model.LedgerRejectRefund), refund)
	case model.OrderStatusReturned:
		s.metrics.PointsMoved(string(model.LedgerReturnRefund), refund)
	}

	s.logger.Info("order status changed",
		zap.Int64("order_id", result.ID),
		zap.String("from", string(from)),
		zap.String("to", string(result.Status)),
		zap.Int64("actor_id", ch.Actor.UserID),
		zap.Bool("force", ch.Force),
		zap.Int64("refund", refund),
	)

	e := events.New(events.OrderStatusChanged, result.UserID, s.now())
	e.OrderID = result.ID
	e.OldStatus = string(from)
	e.NewStatus = string(result.Status)
	e.Amount = refund
	s.publish(ctx, e)

	return result, nil
}

// RequestReturn запрашивает возврат выполненного заказа от имени владельца.
func (s *Service) RequestReturn(ctx context.Context, actor model.Actor, orderID int64, reason string) (*model.Order, error) {
	return s.SetOrderStatus(ctx, model.StatusChange{
		OrderID: orderID,
		Status:  model.OrderStatusReturnRequested,
		Actor:   actor,
		Reason:  reason,
	})
}

// restock возвращает остатки по позициям заказа. Товары обновляются по возрастанию
// идентификаторов, как и при оформлении заказа.
func restock(ctx context.Context, tx repository.Tx, items []model.OrderItem) error {
	qty := make(map[int64]int64, len(items))
	ids := make([]int64, 0, len(items))
	for _, it := range items {
		if _, ok := qty[it.ProductID]; !ok {
			ids = append(ids, it.ProductID)
		}
		qty[it.ProductID] += it.Quantity
	}
	slices.Sort(ids)

	for _, id := range ids {
		if _, err := tx.ApplyStock(ctx, id, qty[id]); err != nil {
			return err
		}
	}
	return nil
}
