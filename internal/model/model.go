// Package model содержит доменные сущности сервиса pointmarket.
package model

import "time"

// Role описывает роль пользователя в системе.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// Valid сообщает, является ли значение известной ролью.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleUser
}

// MembershipTier описывает уровень членства пользователя.
type MembershipTier string

const (
	TierNormal MembershipTier = "normal"
	// TierElevated означает повышенный уровень (Star) со скидкой и бесплатной доставкой за ежемесячный взнос.
	TierElevated MembershipTier = "star"
)

// ItemType описывает способ получения товара: покупка или аренда.
type ItemType string

const (
	ItemTypeBuy  ItemType = "buy"
	ItemTypeRent ItemType = "rent"
)

// Valid сообщает, является ли значение одним из известных типов товара.
func (t ItemType) Valid() bool {
	return t == ItemTypeBuy || t == ItemTypeRent
}

// OrderStatus описывает статус заказа.
type OrderStatus string

const (
	OrderStatusPending         OrderStatus = "pending"
	OrderStatusApproved        OrderStatus = "approved"
	OrderStatusFulfilled       OrderStatus = "fulfilled"
	OrderStatusRejected        OrderStatus = "rejected"
	OrderStatusReturnRequested OrderStatus = "return_requested"
	OrderStatusReturned        OrderStatus = "returned"
)

// Valid сообщает, является ли значение одним из известных статусов.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusApproved, OrderStatusFulfilled,
		OrderStatusRejected, OrderStatusReturnRequested, OrderStatusReturned:
		return true
	}
	return false
}

// Terminal сообщает, что из статуса больше нет переходов.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusRejected || s == OrderStatusReturned
}

// User представляет участника семейного магазина.
type User struct {
	ID             int64
	Login          string
	Name           string
	PasswordHash   string
	Role           Role
	PointBalance   int64
	MembershipTier MembershipTier
	// LastFeePeriod хранит период (YYYY-MM), за который уже списан ежемесячный взнос.
	LastFeePeriod string
	CreatedAt     time.Time
}

// Product описывает позицию каталога.
type Product struct {
	ID    int64
	Title string
	Price int64
	Stock int64
	Type  ItemType
}

// OrderItem хранит снимок позиции каталога на момент оформления заказа.
type OrderItem struct {
	ProductID int64    `json:"product_id"`
	Title     string   `json:"title"`
	Price     int64    `json:"price"`
	Quantity  int64    `json:"quantity"`
	Type      ItemType `json:"type"`
}

// Subtotal возвращает стоимость позиции без скидок.
func (i OrderItem) Subtotal() int64 {
	return i.Price * i.Quantity
}

// Order описывает заказ пользователя.
type Order struct {
	ID           int64
	UserID       int64
	Items        []OrderItem
	ShippingFee  int64
	TotalPrice   int64
	Status       OrderStatus
	ReturnReason string
	// RentedAt выставляется один раз при первом переходе в fulfilled, если в заказе есть аренда.
	RentedAt *time.Time
	// PenaltyDaysCharged хранит число уже списанных дней просрочки.
	PenaltyDaysCharged int64
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// HasRentItems сообщает, содержит ли заказ хотя бы одну арендованную позицию.
func (o *Order) HasRentItems() bool {
	for _, it := range o.Items {
		if it.Type == ItemTypeRent {
			return true
		}
	}
	return false
}

// RentItems возвращает только арендованные позиции заказа.
func (o *Order) RentItems() []OrderItem {
	var res []OrderItem
	for _, it := range o.Items {
		if it.Type == ItemTypeRent {
			res = append(res, it)
		}
	}
	return res
}

// Clone возвращает глубокую копию заказа.
func (o Order) Clone() Order {
	c := o
	c.Items = append([]OrderItem(nil), o.Items...)
	if o.RentedAt != nil {
		t := *o.RentedAt
		c.RentedAt = &t
	}
	return c
}

// CartLine описывает строку корзины, пришедшую от клиента. Цена и название берутся только из каталога.
type CartLine struct {
	ProductID int64
	Quantity  int64
}

// Actor описывает пользователя, от имени которого выполняется операция.
type Actor struct {
	UserID int64
	Role   Role
}

// IsAdmin сообщает, обладает ли actor правами администратора.
func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

// StatusChange описывает запрос на смену статуса заказа.
type StatusChange struct {
	OrderID int64
	Status  OrderStatus
	Actor   Actor
	// Force разрешает администратору пропустить промежуточные статусы.
	Force  bool
	Reason string
}

// NewMember описывает участника, которого регистрирует администратор.
type NewMember struct {
	Login         string
	Password      string
	Name          string
	Role          Role
	InitialPoints int64
}
