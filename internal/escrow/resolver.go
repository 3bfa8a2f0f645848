package escrow

import (
	"context"

	"github.com/google/uuid"

	"github.com/FanTMS/digital-symbiosis-sub000/internal/models"
	"github.com/FanTMS/digital-symbiosis-sub000/internal/pkg/apperror"
)

// Resolver пропускает события спора только администраторам,
// остальные события передаёт движку без изменений.
type Resolver struct {
	engine *Engine
	orders OrderStore
	admins map[int64]struct{}
}

// NewResolver создаёт резолвер. Администратор: роль admin в токене
// либо id из adminIDs.
func NewResolver(engine *Engine, adminIDs []int64) *Resolver {
	admins := make(map[int64]struct{}, len(adminIDs))
	for _, id := range adminIDs {
		admins[id] = struct{}{}
	}
	return &Resolver{engine: engine, orders: engine.orders, admins: admins}
}

// IsAdmin сообщает, есть ли у пользователя права администратора.
func (r *Resolver) IsAdmin(actor Actor) bool {
	if actor.Role == models.UserRoleAdmin {
		return true
	}
	_, ok := r.admins[actor.UserID]
	return ok
}

// Resolve применяет любое событие: события администратора проверяются здесь,
// события участников передаются в Engine.Transition.
func (r *Resolver) Resolve(ctx context.Context, orderID uuid.UUID, event models.OrderEvent, actor Actor) (*models.Order, error) {
	rl, ok := rules[event]
	if !ok {
		return nil, apperror.ErrUnknownEvent.With("order_id", orderID.String())
	}
	if !rl.admin {
		return r.engine.Transition(ctx, orderID, event, actor)
	}
	if !r.IsAdmin(actor) {
		return nil, apperror.ErrForbidden.With("order_id", orderID.String())
	}
	return r.engine.apply(ctx, orderID, event, actor, true)
}

// Refund возвращает заблокированные средства заказчику по спорному заказу.
func (r *Resolver) Refund(ctx context.Context, orderID uuid.UUID, actor Actor) (*models.Order, error) {
	return r.Resolve(ctx, orderID, models.OrderEventRefund, actor)
}

// ForceComplete выплачивает средства исполнителю по спорному заказу.
func (r *Resolver) ForceComplete(ctx context.Context, orderID uuid.UUID, actor Actor) (*models.Order, error) {
	return r.Resolve(ctx, orderID, models.OrderEventForceComplete, actor)
}

// ListByStatus возвращает очередь заказов в статусе, например споры на разбор.
func (r *Resolver) ListByStatus(ctx context.Context, actor Actor, status models.OrderStatus, limit, offset int) ([]models.Order, error) {
	if !r.IsAdmin(actor) {
		return nil, apperror.ErrForbidden
	}
	if _, ok := models.ValidOrderStatuses[status]; !ok {
		return nil, apperror.New(apperror.ErrCodeValidation, "неизвестный статус заказа")
	}
	orders, err := r.orders.ListByStatus(ctx, status, limit, offset)
	if err != nil {
		return nil, r.engine.classify(err, uuid.Nil)
	}
	return orders, nil
}
