package notify

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/FanTMS/digital-symbiosis-sub000/internal/goroutine"
	"github.com/FanTMS/digital-symbiosis-sub000/internal/logger"
	"github.com/FanTMS/digital-symbiosis-sub000/internal/metrics"
	"github.com/FanTMS/digital-symbiosis-sub000/internal/models"
)

// Sink канал доставки системных сообщений.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, msg models.OutboundMessage) error
}

// Dispatcher рассылает сообщения по всем каналам в фоне.
// Ошибки доставки логируются и никогда не возвращаются вызывающему.
type Dispatcher struct {
	sinks   []Sink
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewDispatcher создаёт диспетчер. timeout ограничивает доставку одного пакета в один канал.
func NewDispatcher(timeout time.Duration, sinks ...Sink) *Dispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Dispatcher{sinks: sinks, timeout: timeout}
}

// Dispatch запускает доставку и сразу возвращается.
// Контекст запроса отвязывается от отмены, значения (трассировка) сохраняются.
func (d *Dispatcher) Dispatch(ctx context.Context, msgs []models.OutboundMessage) {
	if len(msgs) == 0 || len(d.sinks) == 0 {
		return
	}
	base := context.WithoutCancel(ctx)

	for _, sink := range d.sinks {
		sink := sink
		d.wg.Add(1)
		goroutine.SafeGo("notify:"+sink.Name(), func() {
			defer d.wg.Done()

			ctx, cancel := context.WithTimeout(base, d.timeout)
			defer cancel()

			for _, msg := range msgs {
				if err := sink.Deliver(ctx, msg); err != nil {
					metrics.NotificationsTotal.WithLabelValues(sink.Name(), "error").Inc()
					logger.Log.WithError(err).WithFields(logrus.Fields{
						"sink":         sink.Name(),
						"order_id":     msg.Payload.OrderID,
						"recipient_id": msg.RecipientID,
						"template":     msg.Template,
					}).Warn("notify: доставка не удалась")
					continue
				}
				metrics.NotificationsTotal.WithLabelValues(sink.Name(), "ok").Inc()
			}
		})
	}
}

// Wait дожидается завершения начатых доставок.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
