package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/FanTMS/digital-symbiosis-sub000/internal/models"
	"github.com/FanTMS/digital-symbiosis-sub000/internal/repository/common"
)

type OrderHistoryRepository struct {
	db *sqlx.DB
}

func NewOrderHistoryRepository(db *sqlx.DB) *OrderHistoryRepository {
	return &OrderHistoryRepository{db: db}
}

func (r *OrderHistoryRepository) Add(ctx context.Context, entry *models.OrderHistory) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	err := common.ExecutorFrom(ctx, r.db).QueryRowxContext(ctx, `
		INSERT INTO order_history (id, order_id, actor_id, event, from_status, to_status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, entry.ID, entry.OrderID, entry.ActorID, entry.Event, entry.FromStatus, entry.ToStatus).Scan(&entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("order history repository: add %w", err)
	}
	return nil
}

func (r *OrderHistoryRepository) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.OrderHistory, error) {
	history := []models.OrderHistory{}
	err := common.ExecutorFrom(ctx, r.db).SelectContext(ctx, &history, `
		SELECT * FROM order_history WHERE order_id = $1 ORDER BY created_at ASC
	`, orderID)
	return history, err
}
