package model

import "time"

// LedgerReason описывает причину изменения баланса.
type LedgerReason string

const (
	LedgerPurchase          LedgerReason = "purchase"
	LedgerRejectRefund      LedgerReason = "reject_refund"
	LedgerReturnRefund      LedgerReason = "return_refund"
	LedgerRentalPenalty     LedgerReason = "rental_penalty"
	LedgerMembershipFee     LedgerReason = "membership_fee"
	LedgerMembershipUpgrade LedgerReason = "membership_upgrade"
	LedgerAdjustment        LedgerReason = "adjustment"
	LedgerMissionReward     LedgerReason = "mission_reward"
)

// LedgerEntry описывает запись журнала изменений баланса.
type LedgerEntry struct {
	ID           int64
	UserID       int64
	Amount       int64
	BalanceAfter int64
	Reason       LedgerReason
	OrderID      *int64
	CreatedAt    time.Time
}

// PriceBreakdown содержит результат расчёта стоимости корзины.
type PriceBreakdown struct {
	BasePrice       int64 `json:"base_price"`
	DiscountApplied bool  `json:"discount_applied"`
	ShippingFee     int64 `json:"shipping_fee"`
	FinalPrice      int64 `json:"final_price"`
}

// Receipt возвращается после успешного оформления заказа.
type Receipt struct {
	Order      Order
	NewBalance int64
	Pricing    PriceBreakdown
}

// Profile объединяет данные пользователя, его заказы и журнал баланса.
type Profile struct {
	User   User
	Orders []Order
	Ledger []LedgerEntry
}

// PenaltyReport содержит итог прогона начисления штрафов за просрочку аренды.
type PenaltyReport struct {
	OrdersScanned int   `json:"orders_scanned"`
	OrdersCharged int   `json:"orders_charged"`
	TotalPenalty  int64 `json:"total_penalty"`
	Failures      int   `json:"failures"`
}

// FeeReport содержит итог прогона списания ежемесячного взноса.
type FeeReport struct {
	UsersCharged int `json:"users_charged"`
	UsersSkipped int `json:"users_skipped"`
	Failures     int `json:"failures"`
}

// RentalAlertStatus описывает состояние арендованного заказа для уведомления.
type RentalAlertStatus string

const (
	RentalDueSoon RentalAlertStatus = "due_soon"
	RentalOverdue RentalAlertStatus = "overdue"
)

// RentalAlert описывает уведомление об арендованном заказе.
type RentalAlert struct {
	OrderID            int64
	Status             RentalAlertStatus
	Items              []OrderItem
	Deadline           time.Time
	HoursLeft          int64
	OverdueDays        int64
	PenaltyDaysCharged int64
}

// RentalCheck содержит результат синхронной проверки аренды пользователя.
type RentalCheck struct {
	Alerts         []RentalAlert
	PenaltyApplied int64
	PointBalance   int64
	Failures       int
}
