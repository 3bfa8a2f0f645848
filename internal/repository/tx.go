package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/FanTMS/digital-symbiosis-sub000/internal/repository/common"
)

// TxManager открывает транзакции PostgreSQL и передаёт их репозиториям через контекст.
type TxManager struct {
	db *sqlx.DB
}

// NewTxManager создаёт менеджер транзакций.
func NewTxManager(db *sqlx.DB) *TxManager {
	return &TxManager{db: db}
}

// WithinTx выполняет fn в одной транзакции. Вложенные вызовы присоединяются к внешней.
func (m *TxManager) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return common.WithTransaction(ctx, m.db, fn)
}
