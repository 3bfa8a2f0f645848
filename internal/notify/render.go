package notify

import (
	"fmt"
	"strings"

	"github.com/FanTMS/digital-symbiosis-sub000/internal/models"
)

var texts = map[string]string{
	TemplateOrderNew:             "Новый заказ на %d кредитов. Примите или отклоните его.",
	TemplateOrderPlaced:          "Заказ оформлен, %d кредитов заморожено до завершения.",
	TemplateOrderAccepted:        "Исполнитель принял заказ на %d кредитов.",
	TemplateOrderAcceptedByYou:   "Вы приняли заказ на %d кредитов. Можно приступать к работе.",
	TemplateOrderRejected:        "Исполнитель отклонил заказ, %d кредитов возвращено на баланс.",
	TemplateOrderCancelled:       "Заказчик отменил заказ на %d кредитов.",
	TemplateOrderStarted:         "Исполнитель приступил к работе по заказу на %d кредитов.",
	TemplateOrderInProgress:      "Заказ на %d кредитов в работе. Отметьте выполнение, когда закончите.",
	TemplateOrderDelivered:       "Исполнитель сдал работу по заказу на %d кредитов. Подтвердите выполнение или откройте спор.",
	TemplateAwaitingConfirmation: "Работа сдана, ожидаем подтверждения заказчика (%d кредитов).",
	TemplateOrderPaid:            "Заказ подтверждён, %d кредитов зачислено на ваш баланс.",
	TemplateDisputeOpened:        "По заказу на %d кредитов открыт спор. Администратор рассмотрит его.",
	TemplateOrderRefunded:        "Спор решён возвратом: %d кредитов возвращено заказчику.",
	TemplateOrderForceCompleted:  "Спор решён в пользу исполнителя: %d кредитов выплачено.",
}

// Render превращает сообщение в текст для каналов без разметки.
func Render(msg models.OutboundMessage) string {
	text, ok := texts[msg.Template]
	if !ok {
		text = "Статус заказа изменён (%d кредитов)."
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf(text, msg.Payload.Amount))
	b.WriteString("\nЗаказ: ")
	b.WriteString(msg.Payload.OrderID.String())
	if len(msg.Payload.Actions) > 0 {
		labels := make([]string, 0, len(msg.Payload.Actions))
		for _, a := range msg.Payload.Actions {
			labels = append(labels, a.Label)
		}
		b.WriteString("\nДействия: ")
		b.WriteString(strings.Join(labels, " / "))
	}
	return b.String()
}
