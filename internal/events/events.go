// Package events публикует доменные события магазина после фиксации транзакций.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Type описывает тип доменного события.
type Type string

const (
	OrderPlaced          Type = "order.placed"
	OrderStatusChanged   Type = "order.status_changed"
	RentalPenaltyCharged Type = "rental.penalty_charged"
	MembershipFeeCharged Type = "membership.fee_charged"
	MissionRewarded      Type = "mission.rewarded"
)

// Event описывает доменное событие.
type Event struct {
	ID         string    `json:"id"`
	Type       Type      `json:"type"`
	UserID     int64     `json:"user_id"`
	OrderID    int64     `json:"order_id,omitempty"`
	MissionID  int64     `json:"mission_id,omitempty"`
	OldStatus  string    `json:"old_status,omitempty"`
	NewStatus  string    `json:"new_status,omitempty"`
	Amount     int64     `json:"amount,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// New создаёт событие с уникальным идентификатором.
func New(typ Type, userID int64, at time.Time) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       typ,
		UserID:     userID,
		OccurredAt: at.UTC(),
	}
}

// Publisher отправляет события во внешнюю систему.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// NopPublisher отбрасывает события. Используется, когда брокер не настроен.
type NopPublisher struct{}

// Publish ничего не делает.
func (NopPublisher) Publish(context.Context, Event) error { return nil }

// Close ничего не делает.
func (NopPublisher) Close() error { return nil }
