package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Notification описывает событие, сохранённое для пользователя.
type Notification struct {
	ID        uuid.UUID       `db:"id" json:"id"`
	UserID    int64           `db:"user_id" json:"user_id"`
	Payload   json.RawMessage `db:"payload" json:"payload"`
	IsRead    bool            `db:"is_read" json:"is_read"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}

// MessageKind тип системного сообщения в чате заказа.
type MessageKind string

const (
	// MessageKindProviderPrompt просит исполнителя принять или отклонить заказ.
	MessageKindProviderPrompt MessageKind = "action_prompt_provider"
	// MessageKindClientPrompt просит заказчика подтвердить выполнение или открыть спор.
	MessageKindClientPrompt MessageKind = "action_prompt_client"
	// MessageKindStatusUpdate информирует о смене статуса.
	MessageKindStatusUpdate MessageKind = "status_update"
)

// MessageAction кнопка действия, предлагаемая получателю.
type MessageAction struct {
	Event OrderEvent `json:"event"`
	Label string     `json:"label"`
}

// MessagePayload данные системного сообщения.
type MessagePayload struct {
	OrderID uuid.UUID       `json:"order_id"`
	Status  OrderStatus     `json:"status"`
	Event   OrderEvent      `json:"event"`
	Amount  int64           `json:"amount"`
	Role    OrderRole       `json:"role"`
	Actions []MessageAction `json:"actions,omitempty"`
}

// OutboundMessage сообщение для доставки в чат/уведомления.
type OutboundMessage struct {
	RecipientID int64          `json:"recipient_id"`
	Kind        MessageKind    `json:"kind"`
	Template    string         `json:"template"`
	Payload     MessagePayload `json:"payload"`
}
