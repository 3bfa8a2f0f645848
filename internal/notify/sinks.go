package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"gopkg.in/tucnak/telebot.v2"

	"github.com/FanTMS/digital-symbiosis-sub000/internal/models"
)

// Broadcaster отправляет событие пользователю в реальном времени (WebSocket хаб).
type Broadcaster interface {
	BroadcastToUser(ctx context.Context, userID int64, event string, data any) error
}

// HubSink доставляет сообщения в открытые WebSocket подключения.
type HubSink struct {
	hub Broadcaster
}

// NewHubSink создаёт канал доставки через хаб.
func NewHubSink(hub Broadcaster) *HubSink {
	return &HubSink{hub: hub}
}

func (s *HubSink) Name() string { return "websocket" }

func (s *HubSink) Deliver(ctx context.Context, msg models.OutboundMessage) error {
	return s.hub.BroadcastToUser(ctx, msg.RecipientID, string(msg.Kind), msg)
}

type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink публикует сообщения в топик, из которого их забирает чат-бот.
// Ключ сообщения = id заказа, поэтому события одного заказа попадают в одну партицию.
type KafkaSink struct {
	w kafkaWriter
}

// NewKafkaSink создаёт продюсера с подтверждением от всех реплик.
func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return &KafkaSink{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			MaxAttempts:  5,
			WriteTimeout: 5 * time.Second,
			ReadTimeout:  5 * time.Second,
			BatchTimeout: 50 * time.Millisecond,
		},
	}
}

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) Deliver(ctx context.Context, msg models.OutboundMessage) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("kafka sink: marshal %w", err)
	}
	return s.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(msg.Payload.OrderID.String()),
		Value: b,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(msg.Kind)},
			{Key: "template", Value: []byte(msg.Template)},
		},
	})
}

// Close освобождает writer.
func (s *KafkaSink) Close() error { return s.w.Close() }

type telegramSender interface {
	Send(to telebot.Recipient, what interface{}, options ...interface{}) (*telebot.Message, error)
}

// chatRecipient id личного чата совпадает с id пользователя мессенджера.
type chatRecipient int64

func (r chatRecipient) Recipient() string { return strconv.FormatInt(int64(r), 10) }

// TelegramSink отправляет текст сообщения пользователю в личный чат с ботом.
type TelegramSink struct {
	bot telegramSender
}

// NewTelegramSink создаёт бота по токену. Обновления бот не получает, только отправляет.
func NewTelegramSink(token string) (*TelegramSink, error) {
	bot, err := telebot.NewBot(telebot.Settings{Token: token})
	if err != nil {
		return nil, fmt.Errorf("telegram sink: create bot %w", err)
	}
	return &TelegramSink{bot: bot}, nil
}

func (s *TelegramSink) Name() string { return "telegram" }

func (s *TelegramSink) Deliver(_ context.Context, msg models.OutboundMessage) error {
	if _, err := s.bot.Send(chatRecipient(msg.RecipientID), Render(msg)); err != nil {
		return fmt.Errorf("telegram sink: send %w", err)
	}
	return nil
}
