package escrow

import (
	"github.com/FanTMS/digital-symbiosis-sub000/internal/models"
)

type effect int

const (
	effectNone effect = iota
	// effectRefund возвращает цену заказа из locked_credits заказчику.
	effectRefund
	// effectPayout переводит цену заказа исполнителю.
	effectPayout
)

type rule struct {
	from   []models.OrderStatus
	to     models.OrderStatus
	actor  models.OrderRole
	admin  bool
	effect effect
}

func (r rule) allows(status models.OrderStatus) bool {
	for _, s := range r.from {
		if s == status {
			return true
		}
	}
	return false
}

var rules = map[models.OrderEvent]rule{
	models.OrderEventAccept: {
		from:  []models.OrderStatus{models.OrderStatusPending},
		to:    models.OrderStatusAccepted,
		actor: models.OrderRoleProvider,
	},
	models.OrderEventReject: {
		from:   []models.OrderStatus{models.OrderStatusPending, models.OrderStatusAccepted},
		to:     models.OrderStatusCancelled,
		actor:  models.OrderRoleProvider,
		effect: effectRefund,
	},
	models.OrderEventCancel: {
		from:   []models.OrderStatus{models.OrderStatusPending, models.OrderStatusAccepted},
		to:     models.OrderStatusCancelled,
		actor:  models.OrderRoleClient,
		effect: effectRefund,
	},
	models.OrderEventStart: {
		from:  []models.OrderStatus{models.OrderStatusAccepted},
		to:    models.OrderStatusInProgress,
		actor: models.OrderRoleProvider,
	},
	models.OrderEventComplete: {
		from:  []models.OrderStatus{models.OrderStatusAccepted, models.OrderStatusInProgress},
		to:    models.OrderStatusCompletedByProvider,
		actor: models.OrderRoleProvider,
	},
	models.OrderEventConfirm: {
		from:   []models.OrderStatus{models.OrderStatusCompletedByProvider},
		to:     models.OrderStatusCompleted,
		actor:  models.OrderRoleClient,
		effect: effectPayout,
	},
	models.OrderEventDispute: {
		from:  []models.OrderStatus{models.OrderStatusCompletedByProvider},
		to:    models.OrderStatusDispute,
		actor: models.OrderRoleClient,
	},
	models.OrderEventRefund: {
		from:   []models.OrderStatus{models.OrderStatusDispute},
		to:     models.OrderStatusRefunded,
		admin:  true,
		effect: effectRefund,
	},
	models.OrderEventForceComplete: {
		from:   []models.OrderStatus{models.OrderStatusDispute},
		to:     models.OrderStatusCompleted,
		admin:  true,
		effect: effectPayout,
	},
}

// ParseEvent проверяет имя события из запроса.
func ParseEvent(name string) (models.OrderEvent, bool) {
	event := models.OrderEvent(name)
	_, ok := rules[event]
	return event, ok
}

// IsAdminEvent сообщает, что событие доступно только администратору.
func IsAdminEvent(event models.OrderEvent) bool {
	return rules[event].admin
}

// AvailableEvents возвращает события, которые пользователь может применить к заказу сейчас.
func AvailableEvents(order *models.Order, userID int64) []models.OrderEvent {
	role, ok := order.RoleOf(userID)
	if !ok {
		return nil
	}
	var events []models.OrderEvent
	for _, event := range eventOrder {
		r := rules[event]
		if !r.admin && r.actor == role && r.allows(order.Status) {
			events = append(events, event)
		}
	}
	return events
}

var eventOrder = []models.OrderEvent{
	models.OrderEventAccept,
	models.OrderEventReject,
	models.OrderEventCancel,
	models.OrderEventStart,
	models.OrderEventComplete,
	models.OrderEventConfirm,
	models.OrderEventDispute,
	models.OrderEventRefund,
	models.OrderEventForceComplete,
}
