package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/FanTMS/digital-symbiosis-sub000/internal/models"
	"github.com/FanTMS/digital-symbiosis-sub000/internal/repository/common"
)

var (
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrLockedBalanceMismatch = errors.New("locked balance is lower than requested amount")
)

const balanceColumns = `user_id, credits, locked_credits, updated_at`

// LedgerRepository хранит балансы пользователей и журнал движения кредитов.
type LedgerRepository struct {
	db *sqlx.DB
}

// NewLedgerRepository создаёт репозиторий балансов.
func NewLedgerRepository(db *sqlx.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// GetBalance возвращает баланс пользователя, создаёт если не существует.
func (r *LedgerRepository) GetBalance(ctx context.Context, userID int64) (*models.UserBalance, error) {
	var balance models.UserBalance
	query := `
		INSERT INTO user_balances (user_id, credits, locked_credits)
		VALUES ($1, 0, 0)
		ON CONFLICT (user_id) DO UPDATE SET user_id = EXCLUDED.user_id
		RETURNING ` + balanceColumns
	if err := common.ExecutorFrom(ctx, r.db).GetContext(ctx, &balance, query, userID); err != nil {
		return nil, fmt.Errorf("ledger repository: get balance %w", err)
	}
	return &balance, nil
}

// Deposit начисляет кредиты пользователю.
func (r *LedgerRepository) Deposit(ctx context.Context, userID, amount int64, description string) (*models.LedgerEntry, error) {
	if amount <= 0 {
		return nil, common.ErrInvalidAmount
	}

	var entry *models.LedgerEntry
	err := common.WithTransaction(ctx, r.db, func(ctx context.Context) error {
		ex := common.ExecutorFrom(ctx, r.db)

		if _, err := ex.ExecContext(ctx, `
			INSERT INTO user_balances (user_id, credits, locked_credits)
			VALUES ($1, $2, 0)
			ON CONFLICT (user_id) DO UPDATE SET credits = user_balances.credits + $2, updated_at = NOW()
		`, userID, amount); err != nil {
			return fmt.Errorf("ledger repository: deposit update balance %w", err)
		}

		var err error
		entry, err = r.insertEntry(ctx, ex, userID, nil, models.LedgerEntryDeposit, amount, description)
		return err
	})
	if err != nil {
		return nil, err
	}

	return entry, nil
}

// LockFunds переводит amount из credits в locked_credits.
func (r *LedgerRepository) LockFunds(ctx context.Context, userID, amount int64, orderID uuid.UUID) error {
	if amount <= 0 {
		return common.ErrInvalidAmount
	}

	return common.WithTransaction(ctx, r.db, func(ctx context.Context) error {
		ex := common.ExecutorFrom(ctx, r.db)

		balance, err := r.selectForUpdate(ctx, ex, userID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrInsufficientFunds
			}
			return fmt.Errorf("ledger repository: lock funds select %w", err)
		}
		if balance.Credits < amount {
			return ErrInsufficientFunds
		}

		if _, err := ex.ExecContext(ctx, `
			UPDATE user_balances
			SET credits = credits - $2, locked_credits = locked_credits + $2, updated_at = NOW()
			WHERE user_id = $1
		`, userID, amount); err != nil {
			return fmt.Errorf("ledger repository: lock funds update %w", err)
		}

		_, err = r.insertEntry(ctx, ex, userID, &orderID, models.LedgerEntryEscrowHold, amount, "Заморозка средств для заказа")
		return err
	})
}

// UnlockFunds возвращает amount из locked_credits в credits.
func (r *LedgerRepository) UnlockFunds(ctx context.Context, userID, amount int64, orderID uuid.UUID) error {
	if amount <= 0 {
		return common.ErrInvalidAmount
	}

	return common.WithTransaction(ctx, r.db, func(ctx context.Context) error {
		ex := common.ExecutorFrom(ctx, r.db)

		balance, err := r.selectForUpdate(ctx, ex, userID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrLockedBalanceMismatch
			}
			return fmt.Errorf("ledger repository: unlock funds select %w", err)
		}
		if balance.LockedCredits < amount {
			return ErrLockedBalanceMismatch
		}

		if _, err := ex.ExecContext(ctx, `
			UPDATE user_balances
			SET credits = credits + $2, locked_credits = locked_credits - $2, updated_at = NOW()
			WHERE user_id = $1
		`, userID, amount); err != nil {
			return fmt.Errorf("ledger repository: unlock funds update %w", err)
		}

		_, err = r.insertEntry(ctx, ex, userID, &orderID, models.LedgerEntryEscrowRefund, amount, "Возврат средств по заказу")
		return err
	})
}

// SettleFunds списывает amount из locked_credits отправителя и начисляет получателю.
func (r *LedgerRepository) SettleFunds(ctx context.Context, fromID, toID, amount int64, orderID uuid.UUID) error {
	if amount <= 0 {
		return common.ErrInvalidAmount
	}
	if fromID == toID {
		return common.ErrInvalidInput
	}

	return common.WithTransaction(ctx, r.db, func(ctx context.Context) error {
		ex := common.ExecutorFrom(ctx, r.db)

		if _, err := ex.ExecContext(ctx, `
			INSERT INTO user_balances (user_id, credits, locked_credits)
			VALUES ($1, 0, 0)
			ON CONFLICT (user_id) DO NOTHING
		`, toID); err != nil {
			return fmt.Errorf("ledger repository: settle ensure receiver %w", err)
		}

		// Блокируем обе строки в порядке user_id, чтобы встречные расчёты не взаимоблокировались.
		var rows []models.UserBalance
		if err := ex.SelectContext(ctx, &rows, `
			SELECT `+balanceColumns+` FROM user_balances
			WHERE user_id IN ($1, $2)
			ORDER BY user_id
			FOR UPDATE
		`, fromID, toID); err != nil {
			return fmt.Errorf("ledger repository: settle select %w", err)
		}

		var from *models.UserBalance
		for i := range rows {
			if rows[i].UserID == fromID {
				from = &rows[i]
			}
		}
		if from == nil || from.LockedCredits < amount {
			return ErrLockedBalanceMismatch
		}

		if _, err := ex.ExecContext(ctx, `
			UPDATE user_balances SET locked_credits = locked_credits - $2, updated_at = NOW()
			WHERE user_id = $1
		`, fromID, amount); err != nil {
			return fmt.Errorf("ledger repository: settle debit %w", err)
		}
		if _, err := ex.ExecContext(ctx, `
			UPDATE user_balances SET credits = credits + $2, updated_at = NOW()
			WHERE user_id = $1
		`, toID, amount); err != nil {
			return fmt.Errorf("ledger repository: settle credit %w", err)
		}

		if _, err := r.insertEntry(ctx, ex, fromID, &orderID, models.LedgerEntryEscrowRelease, amount, "Оплата заказа"); err != nil {
			return err
		}
		_, err := r.insertEntry(ctx, ex, toID, &orderID, models.LedgerEntryEscrowPayout, amount, "Получение оплаты за заказ")
		return err
	})
}

// ListEntries возвращает журнал пользователя, новые записи первыми.
func (r *LedgerRepository) ListEntries(ctx context.Context, userID int64, limit, offset int) ([]models.LedgerEntry, error) {
	var entries []models.LedgerEntry
	if err := common.ExecutorFrom(ctx, r.db).SelectContext(ctx, &entries, `
		SELECT * FROM ledger_entries
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset); err != nil {
		return nil, fmt.Errorf("ledger repository: list entries %w", err)
	}
	return entries, nil
}

func (r *LedgerRepository) selectForUpdate(ctx context.Context, ex common.Executor, userID int64) (*models.UserBalance, error) {
	var balance models.UserBalance
	if err := ex.GetContext(ctx, &balance, `SELECT `+balanceColumns+` FROM user_balances WHERE user_id = $1 FOR UPDATE`, userID); err != nil {
		return nil, err
	}
	return &balance, nil
}

func (r *LedgerRepository) insertEntry(ctx context.Context, ex common.Executor, userID int64, orderID *uuid.UUID, entryType string, amount int64, description string) (*models.LedgerEntry, error) {
	var entry models.LedgerEntry
	if err := ex.GetContext(ctx, &entry, `
		INSERT INTO ledger_entries (id, user_id, order_id, type, amount, description)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, user_id, order_id, type, amount, description, created_at
	`, uuid.New(), userID, orderID, entryType, amount, description); err != nil {
		return nil, fmt.Errorf("ledger repository: insert entry %w", err)
	}
	return &entry, nil
}
