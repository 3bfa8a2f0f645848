package models

// OrderStatus статус заказа в жизненном цикле эскроу.
type OrderStatus string

const (
	OrderStatusPending             OrderStatus = "pending"
	OrderStatusAccepted            OrderStatus = "accepted"
	OrderStatusInProgress          OrderStatus = "in_progress"
	OrderStatusCompletedByProvider OrderStatus = "completed_by_provider"
	OrderStatusCompleted           OrderStatus = "completed"
	OrderStatusCancelled           OrderStatus = "cancelled"
	OrderStatusDispute             OrderStatus = "dispute"
	OrderStatusRefunded            OrderStatus = "refunded"
)

// ValidOrderStatuses список валидных статусов заказов
var ValidOrderStatuses = map[OrderStatus]struct{}{
	OrderStatusPending:             {},
	OrderStatusAccepted:            {},
	OrderStatusInProgress:          {},
	OrderStatusCompletedByProvider: {},
	OrderStatusCompleted:           {},
	OrderStatusCancelled:           {},
	OrderStatusDispute:             {},
	OrderStatusRefunded:            {},
}

// IsTerminal сообщает, что из статуса нет переходов.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusCompleted, OrderStatusCancelled, OrderStatusRefunded:
		return true
	}
	return false
}

// OrderEvent событие, переводящее заказ между статусами.
type OrderEvent string

const (
	OrderEventPlace         OrderEvent = "place"
	OrderEventAccept        OrderEvent = "accept"
	OrderEventReject        OrderEvent = "reject"
	OrderEventCancel        OrderEvent = "cancel"
	OrderEventStart         OrderEvent = "start"
	OrderEventComplete      OrderEvent = "complete"
	OrderEventConfirm       OrderEvent = "confirm"
	OrderEventDispute       OrderEvent = "dispute"
	OrderEventRefund        OrderEvent = "refund"
	OrderEventForceComplete OrderEvent = "forceComplete"
)

// OrderRole роль пользователя относительно заказа.
type OrderRole string

const (
	OrderRoleClient   OrderRole = "client"
	OrderRoleProvider OrderRole = "provider"
	OrderRoleAny      OrderRole = "any"
)

// ValidOrderRoles список ролей для выборки заказов
var ValidOrderRoles = map[OrderRole]struct{}{
	OrderRoleClient:   {},
	OrderRoleProvider: {},
	OrderRoleAny:      {},
}

// Роли пользователей в токене
const (
	UserRoleUser  = "user"
	UserRoleAdmin = "admin"
)
