// Package pricing рассчитывает стоимость корзины и сумму возврата баллов.
package pricing

import (
	"fmt"
	"math"

	"github.com/mmeshcher/pointmarket/internal/model"
)

// ShippingMode задаёт правило расчёта доставки для обычных участников.
type ShippingMode string

const (
	// ShippingFlat: фиксированная плата за доставку.
	ShippingFlat ShippingMode = "flat"
	// ShippingThreshold: доставка бесплатна, если сумма после скидки не меньше порога.
	ShippingThreshold ShippingMode = "threshold"
)

// Policy содержит параметры ценообразования.
type Policy struct {
	ShippingMode          ShippingMode
	ShippingFee           int64
	FreeShippingThreshold int64

	DiscountMinQuantity int64
	DiscountPercent     int64

	ReturnRefundPercent         int64
	ElevatedReturnRefundPercent int64
}

// DefaultPolicy возвращает политику с фиксированной доставкой в 50 баллов.
func DefaultPolicy() Policy {
	return Policy{
		ShippingMode:                ShippingFlat,
		ShippingFee:                 50,
		FreeShippingThreshold:       1000,
		DiscountMinQuantity:         5,
		DiscountPercent:             50,
		ReturnRefundPercent:         50,
		ElevatedReturnRefundPercent: 60,
	}
}

// Validate проверяет согласованность параметров.
func (p Policy) Validate() error {
	switch p.ShippingMode {
	case ShippingFlat, ShippingThreshold:
	default:
		return fmt.Errorf("unknown shipping mode %q", p.ShippingMode)
	}
	if p.ShippingFee <= 0 {
		return fmt.Errorf("shipping fee must be positive, got %d", p.ShippingFee)
	}
	if p.DiscountPercent < 0 || p.DiscountPercent > 100 {
		return fmt.Errorf("discount percent out of range: %d", p.DiscountPercent)
	}
	if p.ReturnRefundPercent < 0 || p.ReturnRefundPercent > 100 ||
		p.ElevatedReturnRefundPercent < 0 || p.ElevatedReturnRefundPercent > 100 {
		return fmt.Errorf("refund percent out of range")
	}
	return nil
}

// Line описывает строку корзины для расчёта: цена из каталога и количество.
type Line struct {
	Price    int64
	Quantity int64
}

// Quote рассчитывает базовую цену, скидку, доставку и итог. Функция не имеет побочных эффектов.
// Корзина, стоимость которой не помещается в int64, отклоняется с model.ErrInvalidCart.
func (p Policy) Quote(lines []Line, tier model.MembershipTier) (model.PriceBreakdown, error) {
	var totalQty, base int64
	for _, l := range lines {
		sub, ok := mul(l.Price, l.Quantity)
		if !ok {
			return model.PriceBreakdown{}, fmt.Errorf("%w: line total overflows (price %d, quantity %d)", model.ErrInvalidCart, l.Price, l.Quantity)
		}
		if base, ok = add(base, sub); !ok {
			return model.PriceBreakdown{}, fmt.Errorf("%w: cart total overflows", model.ErrInvalidCart)
		}
		if totalQty, ok = add(totalQty, l.Quantity); !ok {
			return model.PriceBreakdown{}, fmt.Errorf("%w: cart quantity overflows", model.ErrInvalidCart)
		}
	}

	var res model.PriceBreakdown
	elevated := tier == model.TierElevated

	if elevated && totalQty >= p.DiscountMinQuantity {
		base = percentOf(base, 100-p.DiscountPercent)
		res.DiscountApplied = true
	}
	res.BasePrice = base
	res.ShippingFee = p.shippingFee(base, elevated)

	var ok bool
	if res.FinalPrice, ok = add(base, res.ShippingFee); !ok {
		return model.PriceBreakdown{}, fmt.Errorf("%w: cart total overflows", model.ErrInvalidCart)
	}

	return res, nil
}

func (p Policy) shippingFee(base int64, elevated bool) int64 {
	if elevated {
		return 0
	}
	if p.ShippingMode == ShippingThreshold && base >= p.FreeShippingThreshold {
		return 0
	}
	return p.ShippingFee
}

// ReturnRefund возвращает сумму возврата при приёме возврата заказа.
// Покупки возвращаются частично, доля зависит от уровня; аренда не возвращается.
func (p Policy) ReturnRefund(items []model.OrderItem, tier model.MembershipTier) int64 {
	percent := p.ReturnRefundPercent
	if tier == model.TierElevated {
		percent = p.ElevatedReturnRefundPercent
	}

	var refund int64
	for _, it := range items {
		if it.Type != model.ItemTypeBuy {
			continue
		}
		refund += percentOf(it.Subtotal(), percent)
	}
	return refund
}

// percentOf возвращает floor(v*percent/100) для v >= 0 и percent в [0, 100] без переполнения.
func percentOf(v, percent int64) int64 {
	return v/100*percent + v%100*percent/100
}

func mul(a, b int64) (int64, bool) {
	if a < 0 || b < 0 {
		return 0, false
	}
	if a != 0 && b > math.MaxInt64/a {
		return 0, false
	}
	return a * b, true
}

func add(a, b int64) (int64, bool) {
	if b > 0 && a > math.MaxInt64-b {
		return 0, false
	}
	return a + b, true
}
