// Package escrow реализует жизненный цикл заказа и связанные с ним движения кредитов.
//
// Каждое событие выполняется в одной транзакции хранилища: чтение заказа с блокировкой
// строки, проверка статуса и роли, операция над балансом, запись статуса и истории.
// Ошибка на любом шаге откатывает всё. Уведомления отправляются только после фиксации.
package escrow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/FanTMS/digital-symbiosis-sub000/internal/logger"
	"github.com/FanTMS/digital-symbiosis-sub000/internal/metrics"
	"github.com/FanTMS/digital-symbiosis-sub000/internal/models"
	"github.com/FanTMS/digital-symbiosis-sub000/internal/notify"
	"github.com/FanTMS/digital-symbiosis-sub000/internal/pkg/apperror"
	"github.com/FanTMS/digital-symbiosis-sub000/internal/repository"
	"github.com/FanTMS/digital-symbiosis-sub000/internal/syncutil"
	"github.com/FanTMS/digital-symbiosis-sub000/internal/tracing"
)

// Ledger операции над балансами, которые использует движок.
type Ledger interface {
	LockFunds(ctx context.Context, userID, amount int64, orderID uuid.UUID) error
	UnlockFunds(ctx context.Context, userID, amount int64, orderID uuid.UUID) error
	SettleFunds(ctx context.Context, fromID, toID, amount int64, orderID uuid.UUID) error
}

// OrderStore хранилище заказов.
type OrderStore interface {
	Create(ctx context.Context, order *models.Order) error
	Get(ctx context.Context, id uuid.UUID) (*models.Order, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*models.Order, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status models.OrderStatus, upd models.OrderUpdate) (*models.Order, error)
	ListForUser(ctx context.Context, userID int64, role models.OrderRole) ([]models.Order, error)
	ListByStatus(ctx context.Context, status models.OrderStatus, limit, offset int) ([]models.Order, error)
}

// HistoryStore журнал применённых событий.
type HistoryStore interface {
	Add(ctx context.Context, entry *models.OrderHistory) error
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.OrderHistory, error)
}

// Transactor выполняет функцию атомарно относительно хранилищ.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Notifier принимает сообщения на доставку и не блокирует вызывающего.
type Notifier interface {
	Dispatch(ctx context.Context, msgs []models.OutboundMessage)
}

// Actor пользователь, инициирующий действие. Role берётся из токена.
type Actor struct {
	UserID int64
	Role   string
}

// PlaceOrderInput параметры нового заказа. OrderID задаётся вызывающим,
// когда повтор запроса должен попасть в тот же заказ; пустой генерируется.
type PlaceOrderInput struct {
	OrderID    uuid.UUID
	ClientID   int64
	ProviderID int64
	ServiceID  uuid.UUID
	Price      int64
}

// Engine конечный автомат заказа.
type Engine struct {
	orders   OrderStore
	ledger   Ledger
	history  HistoryStore
	tx       Transactor
	notifier Notifier
	locks    *syncutil.KeyedMutex
	timeout  time.Duration
	now      func() time.Time
}

// NewEngine создаёт движок. notifier может быть nil.
func NewEngine(orders OrderStore, ledger Ledger, history HistoryStore, tx Transactor, notifier Notifier, timeout time.Duration) *Engine {
	return &Engine{
		orders:   orders,
		ledger:   ledger,
		history:  history,
		tx:       tx,
		notifier: notifier,
		locks:    syncutil.NewKeyedMutex(0),
		timeout:  timeout,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// PlaceOrder блокирует цену на балансе заказчика и создаёт заказ в статусе pending.
func (e *Engine) PlaceOrder(ctx context.Context, in PlaceOrderInput) (_ *models.Order, err error) {
	started := time.Now()
	ctx, span := tracing.StartSpan(ctx, "escrow.PlaceOrder", tracing.UserID(in.ClientID), tracing.Amount(in.Price))
	defer func() {
		tracing.EndSpan(span, err)
		metrics.ObserveTransition(string(models.OrderEventPlace), resultLabel(err), started)
	}()

	if in.Price <= 0 {
		return nil, apperror.ErrInvalidPrice
	}
	if in.ClientID == in.ProviderID {
		return nil, apperror.ErrSelfOrder
	}

	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	unlock, err := e.locks.Lock(ctx, fmt.Sprintf("balance:%d", in.ClientID))
	if err != nil {
		return nil, e.classify(err, uuid.Nil)
	}
	defer unlock()

	orderID := in.OrderID
	if orderID == uuid.Nil {
		orderID = uuid.New()
	}
	var order *models.Order
	err = e.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := e.ledger.LockFunds(ctx, in.ClientID, in.Price, orderID); err != nil {
			return err
		}

		created := &models.Order{
			ID:         orderID,
			ServiceID:  in.ServiceID,
			ClientID:   in.ClientID,
			ProviderID: in.ProviderID,
			Price:      in.Price,
		}
		if err := e.orders.Create(ctx, created); err != nil {
			return err
		}

		locked := true
		updated, err := e.orders.UpdateStatus(ctx, orderID, models.OrderStatusPending, models.OrderUpdate{EscrowLocked: &locked})
		if err != nil {
			return err
		}
		order = updated

		return e.history.Add(ctx, &models.OrderHistory{
			OrderID:  orderID,
			ActorID:  in.ClientID,
			Event:    models.OrderEventPlace,
			ToStatus: models.OrderStatusPending,
		})
	})
	if err != nil {
		return nil, e.classify(err, uuid.Nil)
	}

	metrics.AddCredits("lock", in.Price)
	logger.Log.WithFields(logrus.Fields{
		"order_id":    order.ID,
		"client_id":   order.ClientID,
		"provider_id": order.ProviderID,
		"price":       order.Price,
	}).Info("escrow: заказ создан, средства заморожены")

	e.notify(ctx, models.OrderEventPlace, order, in.ClientID)
	return order, nil
}

// Transition применяет событие участника заказа. События администратора
// доступны только через Resolver.
func (e *Engine) Transition(ctx context.Context, orderID uuid.UUID, event models.OrderEvent, actor Actor) (*models.Order, error) {
	r, ok := rules[event]
	if !ok {
		return nil, apperror.ErrUnknownEvent.With("order_id", orderID.String())
	}
	if r.admin {
		return nil, apperror.ErrForbidden.With("order_id", orderID.String())
	}
	return e.apply(ctx, orderID, event, actor, false)
}

func (e *Engine) apply(ctx context.Context, orderID uuid.UUID, event models.OrderEvent, actor Actor, adminGranted bool) (_ *models.Order, err error) {
	r := rules[event]

	started := time.Now()
	ctx, span := tracing.StartSpan(ctx, "escrow.Transition",
		tracing.OrderID(orderID.String()), tracing.Event(string(event)), tracing.UserID(actor.UserID))
	defer func() {
		tracing.EndSpan(span, err)
		metrics.ObserveTransition(string(event), resultLabel(err), started)
	}()

	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	unlock, err := e.locks.Lock(ctx, "order:"+orderID.String())
	if err != nil {
		return nil, e.classify(err, orderID)
	}
	defer unlock()

	var (
		result  *models.Order
		applied bool
		from    models.OrderStatus
	)
	err = e.tx.WithinTx(ctx, func(ctx context.Context) error {
		order, err := e.orders.GetForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if err := authorize(r, order, actor, adminGranted); err != nil {
			return err
		}

		// Повторное подтверждение после выплаты ничего не меняет.
		if r.effect == effectPayout && order.PayoutDone {
			result = order
			return nil
		}
		if !r.allows(order.Status) {
			return apperror.ErrInvalidTransition
		}

		upd, err := e.applyEffect(ctx, r, order)
		if err != nil {
			return err
		}

		updated, err := e.orders.UpdateStatus(ctx, orderID, r.to, upd)
		if err != nil {
			return err
		}

		from = order.Status
		if err := e.history.Add(ctx, &models.OrderHistory{
			OrderID:    orderID,
			ActorID:    actor.UserID,
			Event:      event,
			FromStatus: &from,
			ToStatus:   r.to,
		}); err != nil {
			return err
		}

		result = updated
		applied = true
		return nil
	})
	if err != nil {
		return nil, e.classify(err, orderID)
	}

	fields := logrus.Fields{
		"order_id": orderID,
		"event":    event,
		"actor_id": actor.UserID,
	}
	if !applied {
		logger.Log.WithFields(fields).Info("escrow: повторное подтверждение, выплата уже выполнена")
		return result, nil
	}

	switch r.effect {
	case effectRefund:
		metrics.AddCredits("unlock", result.Price)
	case effectPayout:
		metrics.AddCredits("settle", result.Price)
	}
	fields["from"] = from
	fields["to"] = result.Status
	logger.Log.WithFields(fields).Info("escrow: статус заказа изменён")

	e.notify(ctx, event, result, actor.UserID)
	return result, nil
}

func (e *Engine) applyEffect(ctx context.Context, r rule, order *models.Order) (models.OrderUpdate, error) {
	var upd models.OrderUpdate

	switch r.effect {
	case effectRefund:
		if !order.EscrowLocked {
			return upd, apperror.ErrInvalidTransition
		}
		if err := e.ledger.UnlockFunds(ctx, order.ClientID, order.Price, order.ID); err != nil {
			return upd, err
		}
		upd.EscrowLocked = boolPtr(false)

	case effectPayout:
		if !order.EscrowLocked {
			return upd, apperror.ErrInvalidTransition
		}
		if err := e.ledger.SettleFunds(ctx, order.ClientID, order.ProviderID, order.Price, order.ID); err != nil {
			return upd, err
		}
		now := e.now()
		upd.PayoutDone = boolPtr(true)
		upd.EscrowLocked = boolPtr(false)
		upd.CompletedAt = &now
	}

	return upd, nil
}

func authorize(r rule, order *models.Order, actor Actor, adminGranted bool) error {
	if r.admin {
		if !adminGranted {
			return apperror.ErrForbidden
		}
		return nil
	}
	role, ok := order.RoleOf(actor.UserID)
	if !ok || role != r.actor {
		return apperror.ErrForbidden
	}
	return nil
}

// GetOrder возвращает заказ по идентификатору.
func (e *Engine) GetOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	order, err := e.orders.Get(ctx, orderID)
	if err != nil {
		return nil, e.classify(err, orderID)
	}
	return order, nil
}

// ListOrders возвращает заказы пользователя в роли, новые первыми.
func (e *Engine) ListOrders(ctx context.Context, userID int64, role models.OrderRole) ([]models.Order, error) {
	if _, ok := models.ValidOrderRoles[role]; !ok {
		return nil, apperror.New(apperror.ErrCodeValidation, "роль должна быть client, provider или any")
	}
	orders, err := e.orders.ListForUser(ctx, userID, role)
	if err != nil {
		return nil, e.classify(err, uuid.Nil)
	}
	return orders, nil
}

// History возвращает журнал событий заказа.
func (e *Engine) History(ctx context.Context, orderID uuid.UUID) ([]models.OrderHistory, error) {
	history, err := e.history.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, e.classify(err, orderID)
	}
	return history, nil
}

func (e *Engine) notify(ctx context.Context, event models.OrderEvent, order *models.Order, actorID int64) {
	if e.notifier == nil {
		return
	}
	msgs := notify.Emit(event, order, notify.EmitContext{ActorID: actorID})
	e.notifier.Dispatch(ctx, msgs)
}

func (e *Engine) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.timeout)
}

// classify переводит ошибки хранилища в ошибки приложения с id заказа.
func (e *Engine) classify(err error, orderID uuid.UUID) error {
	var appErr *apperror.AppError
	switch {
	case errors.As(err, &appErr):
	case errors.Is(err, repository.ErrOrderNotFound):
		appErr = apperror.ErrOrderNotFound
	case errors.Is(err, repository.ErrInsufficientFunds):
		appErr = apperror.ErrInsufficientFunds
	case errors.Is(err, repository.ErrOrderExists):
		appErr = apperror.ErrRequestInProgress
	case errors.Is(err, repository.ErrInvalidOrder):
		appErr = apperror.Wrap(err, apperror.ErrCodeValidation, "некорректные параметры заказа")
	case errors.Is(err, repository.ErrLockedBalanceMismatch):
		logger.Log.WithError(err).WithField("order_id", orderID).Error("escrow: заблокированных средств меньше цены заказа")
		appErr = apperror.ErrLedgerState.WithCause(err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		logger.Log.WithError(err).WithField("order_id", orderID).Warn("escrow: операция не завершилась вовремя")
		appErr = apperror.ErrUnknownOutcome.WithCause(err)
	default:
		logger.Log.WithError(err).WithField("order_id", orderID).Error("escrow: ошибка хранилища")
		appErr = apperror.ErrStorage.WithCause(err)
	}

	if orderID != uuid.Nil {
		return appErr.With("order_id", orderID.String())
	}
	return appErr
}

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	if code := apperror.CodeOf(err); code != "" {
		return string(code)
	}
	return "error"
}

func boolPtr(v bool) *bool { return &v }
