package models

import (
	"time"

	"github.com/google/uuid"
)

// OrderHistory фиксирует применённое к заказу событие.
type OrderHistory struct {
	ID         uuid.UUID    `db:"id" json:"id"`
	OrderID    uuid.UUID    `db:"order_id" json:"order_id"`
	ActorID    int64        `db:"actor_id" json:"actor_id"`
	Event      OrderEvent   `db:"event" json:"event"`
	FromStatus *OrderStatus `db:"from_status" json:"from_status,omitempty"`
	ToStatus   OrderStatus  `db:"to_status" json:"to_status"`
	CreatedAt  time.Time    `db:"created_at" json:"created_at"`
}
