// Package notify формирует системные сообщения по событиям заказов и доставляет их.
package notify

import (
	"github.com/FanTMS/digital-symbiosis-sub000/internal/models"
)

// Шаблоны сообщений
const (
	TemplateOrderNew             = "order_new"
	TemplateOrderPlaced          = "order_placed"
	TemplateOrderAccepted        = "order_accepted"
	TemplateOrderAcceptedByYou   = "order_accepted_by_you"
	TemplateOrderRejected        = "order_rejected"
	TemplateOrderCancelled       = "order_cancelled"
	TemplateOrderStarted         = "order_started"
	TemplateOrderInProgress      = "order_in_progress"
	TemplateOrderDelivered       = "order_delivered"
	TemplateAwaitingConfirmation = "order_awaiting_confirmation"
	TemplateOrderPaid            = "order_paid"
	TemplateDisputeOpened        = "dispute_opened"
	TemplateOrderRefunded        = "order_refunded"
	TemplateOrderForceCompleted  = "order_force_completed"
)

// EmitContext данные о том, кто инициировал событие.
type EmitContext struct {
	ActorID int64
}

type messageSpec struct {
	kind     models.MessageKind
	template string
	actions  []models.MessageAction
}

type messagePair struct {
	client   *messageSpec
	provider *messageSpec
}

var (
	actionAccept   = models.MessageAction{Event: models.OrderEventAccept, Label: "Принять"}
	actionReject   = models.MessageAction{Event: models.OrderEventReject, Label: "Отклонить"}
	actionStart    = models.MessageAction{Event: models.OrderEventStart, Label: "Начать работу"}
	actionComplete = models.MessageAction{Event: models.OrderEventComplete, Label: "Работа выполнена"}
	actionConfirm  = models.MessageAction{Event: models.OrderEventConfirm, Label: "Подтвердить"}
	actionDispute  = models.MessageAction{Event: models.OrderEventDispute, Label: "Открыть спор"}
)

func status(template string) *messageSpec {
	return &messageSpec{kind: models.MessageKindStatusUpdate, template: template}
}

var messages = map[models.OrderEvent]messagePair{
	models.OrderEventPlace: {
		client: status(TemplateOrderPlaced),
		provider: &messageSpec{
			kind:     models.MessageKindProviderPrompt,
			template: TemplateOrderNew,
			actions:  []models.MessageAction{actionAccept, actionReject},
		},
	},
	models.OrderEventAccept: {
		client: status(TemplateOrderAccepted),
		provider: &messageSpec{
			kind:     models.MessageKindProviderPrompt,
			template: TemplateOrderAcceptedByYou,
			actions:  []models.MessageAction{actionStart, actionComplete},
		},
	},
	models.OrderEventReject: {
		client:   status(TemplateOrderRejected),
		provider: status(TemplateOrderRejected),
	},
	models.OrderEventCancel: {
		client:   status(TemplateOrderCancelled),
		provider: status(TemplateOrderCancelled),
	},
	models.OrderEventStart: {
		client: status(TemplateOrderStarted),
		provider: &messageSpec{
			kind:     models.MessageKindProviderPrompt,
			template: TemplateOrderInProgress,
			actions:  []models.MessageAction{actionComplete},
		},
	},
	models.OrderEventComplete: {
		client: &messageSpec{
			kind:     models.MessageKindClientPrompt,
			template: TemplateOrderDelivered,
			actions:  []models.MessageAction{actionConfirm, actionDispute},
		},
		provider: status(TemplateAwaitingConfirmation),
	},
	models.OrderEventConfirm: {
		client:   status(TemplateOrderPaid),
		provider: status(TemplateOrderPaid),
	},
	models.OrderEventDispute: {
		client:   status(TemplateDisputeOpened),
		provider: status(TemplateDisputeOpened),
	},
	models.OrderEventRefund: {
		client:   status(TemplateOrderRefunded),
		provider: status(TemplateOrderRefunded),
	},
	models.OrderEventForceComplete: {
		client:   status(TemplateOrderForceCompleted),
		provider: status(TemplateOrderForceCompleted),
	},
}

// Emit возвращает сообщения, которые нужно отправить после применения события к заказу.
// order должен отражать состояние после перехода. Функция не выполняет ввод-вывод.
// При переходе в конечный статус сообщение инициатору не отправляется.
func Emit(event models.OrderEvent, order *models.Order, ec EmitContext) []models.OutboundMessage {
	pair, ok := messages[event]
	if !ok || order == nil {
		return nil
	}

	out := make([]models.OutboundMessage, 0, 2)
	add := func(spec *messageSpec, recipient int64, role models.OrderRole) {
		if spec == nil {
			return
		}
		if order.Status.IsTerminal() && recipient == ec.ActorID {
			return
		}
		var actions []models.MessageAction
		if len(spec.actions) > 0 {
			actions = append(actions, spec.actions...)
		}
		out = append(out, models.OutboundMessage{
			RecipientID: recipient,
			Kind:        spec.kind,
			Template:    spec.template,
			Payload: models.MessagePayload{
				OrderID: order.ID,
				Status:  order.Status,
				Event:   event,
				Amount:  order.Price,
				Role:    role,
				Actions: actions,
			},
		})
	}

	add(pair.client, order.ClientID, models.OrderRoleClient)
	add(pair.provider, order.ProviderID, models.OrderRoleProvider)
	return out
}
