package service

import (
	"context"
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/mmeshcher/pointmarket/internal/events"
	"github.com/mmeshcher/pointmarket/internal/model"
	"github.com/mmeshcher/pointmarket/internal/pricing"
	"github.com/mmeshcher/pointmarket/internal/repository"
)

// PlaceOrder оформляет заказ пользователя. Списание остатков, списание баллов и создание
// заказа фиксируются одной транзакцией: при любой ошибке ничего не меняется.
// Цена и название позиций всегда берутся из каталога.
func (s *Service) PlaceOrder(ctx context.Context, userID int64, cart []model.CartLine) (*model.Receipt, error) {
	lines, err := normalizeCart(cart)
	if err != nil {
		s.metrics.OrderRejected(rejectionReason(err))
		return nil, err
	}

	ids := make([]int64, 0, len(lines))
	for _, l := range lines {
		ids = append(ids, l.ProductID)
	}

	var receipt *model.Receipt
	err = s.repo.WithTx(ctx, func(tx repository.Tx) error {
		user, err := tx.UserForUpdate(ctx, userID)
		if err != nil {
			return err
		}

		products, err := tx.ProductsForUpdate(ctx, ids)
		if err != nil {
			return err
		}

		items := make([]model.OrderItem, 0, len(lines))
		quoteLines := make([]pricing.Line, 0, len(lines))
		for _, l := range lines {
			p, ok := products[l.ProductID]
			if !ok {
				return fmt.Errorf("%w: product %d", model.ErrNotFound, l.ProductID)
			}
			if p.Stock < l.Quantity {
				return fmt.Errorf("%w: product %d has %d, requested %d", model.ErrInsufficientStock, p.ID, p.Stock, l.Quantity)
			}
			items = append(items, model.OrderItem{
				ProductID: p.ID,
				Title:     p.Title,
				Price:     p.Price,
				Quantity:  l.Quantity,
				Type:      p.Type,
			})
			quoteLines = append(quoteLines, pricing.Line{Price: p.Price, Quantity: l.Quantity})
		}

		quote, err := s.policy.Pricing.Quote(quoteLines, user.MembershipTier)
		if err != nil {
			return err
		}
		if user.PointBalance < quote.FinalPrice {
			return fmt.Errorf("%w: balance %d, price %d", model.ErrInsufficientFunds, user.PointBalance, quote.FinalPrice)
		}

		for _, it := range items {
			if _, err := tx.ApplyStock(ctx, it.ProductID, -it.Quantity); err != nil {
				return err
			}
		}

		order := &model.Order{
			UserID:      user.ID,
			Items:       items,
			ShippingFee: quote.ShippingFee,
			TotalPrice:  quote.FinalPrice,
			Status:      model.OrderStatusPending,
		}
		if err := tx.CreateOrder(ctx, order); err != nil {
			return err
		}

		balance, err := tx.ApplyBalance(ctx, user.ID, -quote.FinalPrice, false, model.LedgerPurchase, &order.ID)
		if err != nil {
			return err
		}

		receipt = &model.Receipt{Order: *order, NewBalance: balance, Pricing: quote}
		return nil
	})
	if err != nil {
		s.metrics.OrderRejected(rejectionReason(err))
		return nil, err
	}

	s.metrics.OrderPlaced()
	s.metrics.PointsMoved(string(model.LedgerPurchase), receipt.Pricing.FinalPrice)
	s.logger.Info("order placed",
		zap.Int64("order_id", receipt.Order.ID),
		zap.Int64("user_id", userID),
		zap.Int64("total_price", receipt.Order.TotalPrice),
	)

	e := events.New(events.OrderPlaced, userID, s.now())
	e.OrderID = receipt.Order.ID
	e.NewStatus = string(receipt.Order.Status)
	e.Amount = receipt.Order.TotalPrice
	s.publish(ctx, e)

	return receipt, nil
}

// normalizeCart проверяет корзину и объединяет строки одного товара, сохраняя порядок.
func normalizeCart(cart []model.CartLine) ([]model.CartLine, error) {
	if len(cart) == 0 {
		return nil, fmt.Errorf("%w: cart is empty", model.ErrInvalidCart)
	}

	res := make([]model.CartLine, 0, len(cart))
	index := make(map[int64]int, len(cart))
	for _, l := range cart {
		if l.ProductID <= 0 {
			return nil, fmt.Errorf("%w: invalid product id %d", model.ErrInvalidCart, l.ProductID)
		}
		if l.Quantity <= 0 {
			return nil, fmt.Errorf("%w: quantity must be positive for product %d", model.ErrInvalidCart, l.ProductID)
		}
		if i, ok := index[l.ProductID]; ok {
			if res[i].Quantity > math.MaxInt64-l.Quantity {
				return nil, fmt.Errorf("%w: quantity overflows for product %d", model.ErrInvalidCart, l.ProductID)
			}
			res[i].Quantity += l.Quantity
			continue
		}
		index[l.ProductID] = len(res)
		res = append(res, l)
	}
	return res, nil
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, model.ErrInvalidCart):
		return "invalid_cart"
	case errors.Is(err, model.ErrNotFound):
		return "not_found"
	case errors.Is(err, model.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, model.ErrInsufficientFunds):
		return "insufficient_funds"
	default:
		return "internal"
	}
}

// GetOrdersByUser возвращает заказы пользователя.
func (s *Service) GetOrdersByUser(ctx context.Context, userID int64) ([]model.Order, error) {
	return s.repo.GetOrdersByUser(ctx, userID)
}

// ListOrders возвращает все заказы для администратора.
func (s *Service) ListOrders(ctx context.Context) ([]model.Order, error) {
	return s.repo.ListOrders(ctx)
}

// CreateProduct добавляет позицию в каталог.
func (s *Service) CreateProduct(ctx context.Context, p *model.Product) (int64, error) {
	if p.Title == "" || p.Price < 0 || p.Stock < 0 || !p.Type.Valid() {
		return 0, fmt.Errorf("%w: product %q", model.ErrInvalidInput, p.Title)
	}
	return s.repo.CreateProduct(ctx, p)
}
