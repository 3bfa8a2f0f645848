package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/FanTMS/digital-symbiosis-sub000/internal/escrow"
	"github.com/FanTMS/digital-symbiosis-sub000/internal/idempotency"
	"github.com/FanTMS/digital-symbiosis-sub000/internal/logger"
	"github.com/FanTMS/digital-symbiosis-sub000/internal/models"
	"github.com/FanTMS/digital-symbiosis-sub000/internal/pkg/apperror"
	"github.com/FanTMS/digital-symbiosis-sub000/internal/validation"
)

// CreateOrderInput параметры заказа от заказчика.
type CreateOrderInput struct {
	ProviderID int64
	ServiceID  uuid.UUID
	Price      int64
}

// OrderView заказ вместе с действиями, доступными текущему пользователю.
type OrderView struct {
	models.Order
	AvailableEvents []models.OrderEvent `json:"available_events"`
}

// OrderService связывает HTTP слой с движком заказов.
type OrderService struct {
	engine   *escrow.Engine
	resolver *escrow.Resolver
	idem     idempotency.Store
	idemTTL  time.Duration
}

// NewOrderService создаёт сервис заказов. idem может быть nil, тогда повторы не отслеживаются.
func NewOrderService(engine *escrow.Engine, resolver *escrow.Resolver, idem idempotency.Store, idemTTL time.Duration) *OrderService {
	return &OrderService{
		engine:   engine,
		resolver: resolver,
		idem:     idem,
		idemTTL:  idemTTL,
	}
}

// PlaceOrder создаёт заказ от имени заказчика. Повтор запроса с тем же ключом
// возвращает ранее созданный заказ и replayed=true.
//
// Если исход первой попытки неизвестен (истёк таймаут, сбой хранилища), ключ
// сохраняется с идентификатором заказа, который она пыталась создать. Повтор
// ищет этот заказ и создаёт его заново, только если его нет.
func (s *OrderService) PlaceOrder(ctx context.Context, actor escrow.Actor, in CreateOrderInput, idemKey string) (*models.Order, bool, error) {
	if err := validateCreateOrder(in, idemKey); err != nil {
		return nil, false, apperror.New(apperror.ErrCodeValidation, err.Error())
	}

	if idemKey == "" || s.idem == nil {
		order, err := s.place(ctx, actor, in, uuid.Nil)
		return order, false, err
	}
	key := idempotency.Key(actor.UserID, idemKey)
	value, reserved, err := s.idem.Reserve(ctx, key, s.idemTTL)
	switch {
	case errors.Is(err, idempotency.ErrInProgress):
		return nil, false, apperror.ErrRequestInProgress
	case err != nil:
		logger.Log.WithError(err).Error("order service: хранилище ключей идемпотентности недоступно")
		return nil, false, apperror.ErrStorage.WithCause(err)
	case !reserved:
		return s.replay(ctx, actor, in, value)
	}

	orderID := uuid.New()
	order, err := s.place(ctx, actor, in, orderID)
	// Ключ сохраняется и освобождается вне отмены запроса.
	bg := context.WithoutCancel(ctx)
	if err != nil {
		if outcomeUnknown(err) {
			s.completeKey(bg, key, orderID)
			return nil, false, err
		}
		if relErr := s.idem.Release(bg, key); relErr != nil {
			logger.Log.WithError(relErr).WithField("key", key).Warn("order service: не удалось освободить ключ идемпотентности")
		}
		return nil, false, err
	}
	s.completeKey(bg, key, order.ID)
	return order, false, nil
}

func (s *OrderService) place(ctx context.Context, actor escrow.Actor, in CreateOrderInput, orderID uuid.UUID) (*models.Order, error) {
	return s.engine.PlaceOrder(ctx, escrow.PlaceOrderInput{
		OrderID:    orderID,
		ClientID:   actor.UserID,
		ProviderID: in.ProviderID,
		ServiceID:  in.ServiceID,
		Price:      in.Price,
	})
}

// replay отвечает на повтор по завершённому ключу. Заказа может не быть,
// если предыдущая попытка завершилась с неизвестным исходом и не зафиксировалась.
func (s *OrderService) replay(ctx context.Context, actor escrow.Actor, in CreateOrderInput, value string) (*models.Order, bool, error) {
	orderID, err := uuid.Parse(value)
	if err != nil {
		return nil, false, apperror.ErrStorage.WithCause(err)
	}
	order, err := s.engine.GetOrder(ctx, orderID)
	if err == nil {
		return order, true, nil
	}
	if !apperror.IsNotFound(err) {
		return nil, false, err
	}

	logger.Log.WithFields(logrus.Fields{
		"order_id":  orderID,
		"client_id": actor.UserID,
	}).Info("order service: предыдущая попытка не создала заказ, повторяем")
	order, err = s.place(ctx, actor, in, orderID)
	if err != nil {
		return nil, false, err
	}
	return order, false, nil
}

func (s *OrderService) completeKey(ctx context.Context, key string, orderID uuid.UUID) {
	if err := s.idem.Complete(ctx, key, orderID.String(), s.idemTTL); err != nil {
		logger.Log.WithError(err).WithFields(logrus.Fields{
			"key":      key,
			"order_id": orderID,
		}).Warn("order service: не удалось сохранить ключ идемпотентности")
	}
}

// outcomeUnknown ошибка, после которой заказ мог быть зафиксирован.
func outcomeUnknown(err error) bool {
	code := apperror.CodeOf(err)
	return code == "" || code == apperror.ErrCodeStorage
}

// GetOrder возвращает заказ участнику или администратору.
// Для остальных заказ выглядит несуществующим.
func (s *OrderService) GetOrder(ctx context.Context, actor escrow.Actor, orderID uuid.UUID) (*OrderView, error) {
	order, err := s.visibleOrder(ctx, actor, orderID)
	if err != nil {
		return nil, err
	}
	return s.view(order, actor), nil
}

// ListOrders возвращает заказы пользователя в роли client, provider или any.
func (s *OrderService) ListOrders(ctx context.Context, actor escrow.Actor, role models.OrderRole) ([]OrderView, error) {
	if role == "" {
		role = models.OrderRoleAny
	}
	orders, err := s.engine.ListOrders(ctx, actor.UserID, role)
	if err != nil {
		return nil, err
	}
	views := make([]OrderView, 0, len(orders))
	for i := range orders {
		views = append(views, *s.view(&orders[i], actor))
	}
	return views, nil
}

// History возвращает журнал событий заказа.
func (s *OrderService) History(ctx context.Context, actor escrow.Actor, orderID uuid.UUID) ([]models.OrderHistory, error) {
	if _, err := s.visibleOrder(ctx, actor, orderID); err != nil {
		return nil, err
	}
	return s.engine.History(ctx, orderID)
}

// Transition применяет событие по имени из запроса.
func (s *OrderService) Transition(ctx context.Context, actor escrow.Actor, orderID uuid.UUID, eventName string) (*OrderView, error) {
	event, ok := escrow.ParseEvent(eventName)
	if !ok {
		return nil, apperror.ErrUnknownEvent.With("order_id", orderID.String())
	}
	order, err := s.resolver.Resolve(ctx, orderID, event, actor)
	if err != nil {
		return nil, err
	}
	return s.view(order, actor), nil
}

// Refund возвращает средства заказчику по спору.
func (s *OrderService) Refund(ctx context.Context, actor escrow.Actor, orderID uuid.UUID) (*models.Order, error) {
	return s.resolver.Refund(ctx, orderID, actor)
}

// ForceComplete выплачивает средства исполнителю по спору.
func (s *OrderService) ForceComplete(ctx context.Context, actor escrow.Actor, orderID uuid.UUID) (*models.Order, error) {
	return s.resolver.ForceComplete(ctx, orderID, actor)
}

// ListByStatus очередь заказов для администратора.
func (s *OrderService) ListByStatus(ctx context.Context, actor escrow.Actor, status models.OrderStatus, limit, offset int) ([]models.Order, error) {
	limit, offset = validation.ClampPage(limit, offset, 50)
	return s.resolver.ListByStatus(ctx, actor, status, limit, offset)
}

// validateCreateOrder проверяет ввод до обращения к движку.
// Положительность цены проверяет движок.
func validateCreateOrder(in CreateOrderInput, idemKey string) error {
	if err := validation.ValidateUserID("provider_id", in.ProviderID); err != nil {
		return err
	}
	if in.Price > validation.MaxAmount {
		return validation.ValidateAmount("цена", in.Price)
	}
	return validation.ValidateIdempotencyKey(idemKey)
}

func (s *OrderService) visibleOrder(ctx context.Context, actor escrow.Actor, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.engine.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if _, ok := order.RoleOf(actor.UserID); !ok && !s.resolver.IsAdmin(actor) {
		return nil, apperror.ErrOrderNotFound.With("order_id", orderID.String())
	}
	return order, nil
}

func (s *OrderService) view(order *models.Order, actor escrow.Actor) *OrderView {
	events := escrow.AvailableEvents(order, actor.UserID)
	if events == nil {
		events = []models.OrderEvent{}
	}
	return &OrderView{Order: *order, AvailableEvents: events}
}
