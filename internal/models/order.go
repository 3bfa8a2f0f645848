package models

import (
	"time"

	"github.com/google/uuid"
)

// Order описывает заказ услуги с эскроу-блокировкой оплаты.
// client_id, provider_id и price не меняются после создания.
type Order struct {
	ID           uuid.UUID   `db:"id" json:"id"`
	ServiceID    uuid.UUID   `db:"service_id" json:"service_id"`
	ClientID     int64       `db:"client_id" json:"client_id"`
	ProviderID   int64       `db:"provider_id" json:"provider_id"`
	Price        int64       `db:"price" json:"price"`
	Status       OrderStatus `db:"status" json:"status"`
	EscrowLocked bool        `db:"escrow_locked" json:"escrow_locked"`
	PayoutDone   bool        `db:"payout_done" json:"payout_done"`
	CreatedAt    time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time   `db:"updated_at" json:"updated_at"`
	CompletedAt  *time.Time  `db:"completed_at" json:"completed_at,omitempty"`
}

// OrderUpdate содержит поля, которые меняются вместе со статусом.
// nil означает «оставить как есть».
type OrderUpdate struct {
	EscrowLocked *bool
	PayoutDone   *bool
	CompletedAt  *time.Time
}

// RoleOf возвращает роль пользователя в заказе.
func (o *Order) RoleOf(userID int64) (OrderRole, bool) {
	switch userID {
	case o.ClientID:
		return OrderRoleClient, true
	case o.ProviderID:
		return OrderRoleProvider, true
	default:
		return "", false
	}
}

// Counterpart возвращает второго участника заказа.
func (o *Order) Counterpart(userID int64) int64 {
	if userID == o.ClientID {
		return o.ProviderID
	}
	return o.ClientID
}

// Apply применяет OrderUpdate к копии заказа в памяти.
func (o *Order) Apply(status OrderStatus, upd OrderUpdate, now time.Time) {
	o.Status = status
	if upd.EscrowLocked != nil {
		o.EscrowLocked = *upd.EscrowLocked
	}
	if upd.PayoutDone != nil {
		o.PayoutDone = *upd.PayoutDone
	}
	if upd.CompletedAt != nil {
		t := *upd.CompletedAt
		o.CompletedAt = &t
	}
	o.UpdatedAt = now
}
