package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/FanTMS/digital-symbiosis-sub000/internal/models"
	"github.com/FanTMS/digital-symbiosis-sub000/internal/repository/common"
)

// Ошибки уровня репозитория.
var (
	ErrOrderNotFound = errors.New("order not found")
	ErrInvalidOrder  = errors.New("invalid order")
	ErrOrderExists   = errors.New("order already exists")
)

const orderColumns = `id, service_id, client_id, provider_id, price, status, escrow_locked, payout_done,
		       created_at, updated_at, completed_at`

// OrderRepository отвечает за хранение заказов.
type OrderRepository struct {
	db *sqlx.DB
}

// NewOrderRepository создаёт новый экземпляр.
func NewOrderRepository(db *sqlx.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// ValidateNewOrder проверяет поля нового заказа.
func ValidateNewOrder(order *models.Order) error {
	if order.Price <= 0 {
		return fmt.Errorf("%w: price must be positive", ErrInvalidOrder)
	}
	if order.ClientID == order.ProviderID {
		return fmt.Errorf("%w: client and provider must differ", ErrInvalidOrder)
	}
	return nil
}

// Create сохраняет новый заказ в статусе pending без блокировки и выплаты.
func (r *OrderRepository) Create(ctx context.Context, order *models.Order) error {
	if err := ValidateNewOrder(order); err != nil {
		return err
	}
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	order.Status = models.OrderStatusPending
	order.EscrowLocked = false
	order.PayoutDone = false
	order.CompletedAt = nil

	query := `
		INSERT INTO orders (id, service_id, client_id, provider_id, price, status, escrow_locked, payout_done)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, FALSE)
		RETURNING created_at, updated_at
	`
	if err := common.ExecutorFrom(ctx, r.db).QueryRowxContext(
		ctx,
		query,
		order.ID,
		order.ServiceID,
		order.ClientID,
		order.ProviderID,
		order.Price,
		order.Status,
	).Scan(&order.CreatedAt, &order.UpdatedAt); err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return ErrOrderExists
		}
		return fmt.Errorf("order repository: create %w", err)
	}

	return nil
}

// Get возвращает заказ по идентификатору.
func (r *OrderRepository) Get(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	order, err := common.GetOne[models.Order](ctx, common.ExecutorFrom(ctx, r.db), ErrOrderNotFound,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	if err != nil && !errors.Is(err, ErrOrderNotFound) {
		return nil, fmt.Errorf("order repository: get %w", err)
	}
	return order, err
}

// GetForUpdate возвращает заказ и блокирует строку до конца текущей транзакции.
func (r *OrderRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	order, err := common.GetOne[models.Order](ctx, common.ExecutorFrom(ctx, r.db), ErrOrderNotFound,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id)
	if err != nil && !errors.Is(err, ErrOrderNotFound) {
		return nil, fmt.Errorf("order repository: get for update %w", err)
	}
	return order, err
}

// UpdateStatus записывает новый статус и сопутствующие поля. Допустимость перехода не проверяется.
func (r *OrderRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status models.OrderStatus, upd models.OrderUpdate) (*models.Order, error) {
	query := `
		UPDATE orders SET
			status = $2,
			escrow_locked = COALESCE($3, escrow_locked),
			payout_done = COALESCE($4, payout_done),
			completed_at = COALESCE($5, completed_at),
			updated_at = NOW()
		WHERE id = $1
		RETURNING ` + orderColumns
	order, err := common.GetOne[models.Order](ctx, common.ExecutorFrom(ctx, r.db), ErrOrderNotFound,
		query, id, status, upd.EscrowLocked, upd.PayoutDone, upd.CompletedAt)
	if err != nil && !errors.Is(err, ErrOrderNotFound) {
		return nil, fmt.Errorf("order repository: update status %w", err)
	}
	return order, err
}

// ListForUser возвращает заказы пользователя в выбранной роли, новые первыми.
func (r *OrderRepository) ListForUser(ctx context.Context, userID int64, role models.OrderRole) ([]models.Order, error) {
	var where string
	switch role {
	case models.OrderRoleClient:
		where = "client_id = $1"
	case models.OrderRoleProvider:
		where = "provider_id = $1"
	default:
		where = "(client_id = $1 OR provider_id = $1)"
	}

	orders := []models.Order{}
	query := `SELECT ` + orderColumns + ` FROM orders WHERE ` + where + ` ORDER BY created_at DESC`
	if err := common.ExecutorFrom(ctx, r.db).SelectContext(ctx, &orders, query, userID); err != nil {
		return nil, fmt.Errorf("order repository: list for user %w", err)
	}
	return orders, nil
}

// ListByStatus возвращает заказы в статусе, старые первыми (очередь разбора).
func (r *OrderRepository) ListByStatus(ctx context.Context, status models.OrderStatus, limit, offset int) ([]models.Order, error) {
	orders := []models.Order{}
	query := `SELECT ` + orderColumns + ` FROM orders WHERE status = $1 ORDER BY updated_at ASC LIMIT $2 OFFSET $3`
	if err := common.ExecutorFrom(ctx, r.db).SelectContext(ctx, &orders, query, status, limit, offset); err != nil {
		return nil, fmt.Errorf("order repository: list by status %w", err)
	}
	return orders, nil
}
