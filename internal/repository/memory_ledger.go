package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/FanTMS/digital-symbiosis-sub000/internal/models"
	"github.com/FanTMS/digital-symbiosis-sub000/internal/repository/common"
)

// MemoryLedger in-memory реализация хранилища балансов для разработки и тестов.
type MemoryLedger struct {
	mu       sync.Mutex
	balances map[int64]*models.UserBalance
	entries  []models.LedgerEntry
	tx       *MemoryTxManager
}

// NewMemoryLedger создаёт пустое хранилище балансов.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{balances: make(map[int64]*models.UserBalance)}
}

func (l *MemoryLedger) bindTx(m *MemoryTxManager) { l.tx = m }

// GetBalance возвращает баланс пользователя, создаёт если не существует.
func (l *MemoryLedger) GetBalance(ctx context.Context, userID int64) (*models.UserBalance, error) {
	var cp models.UserBalance
	err := l.tx.committed(ctx, func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		cp = *l.balance(userID)
	})
	if err != nil {
		return nil, err
	}
	return &cp, nil
}

// Deposit начисляет кредиты пользователю.
func (l *MemoryLedger) Deposit(ctx context.Context, userID, amount int64, description string) (*models.LedgerEntry, error) {
	if amount <= 0 {
		return nil, common.ErrInvalidAmount
	}

	var entry models.LedgerEntry
	err := l.tx.committed(ctx, func() {
		l.mu.Lock()
		defer l.mu.Unlock()

		l.move(ctx, userID, amount, 0)
		entry = l.appendEntry(ctx, userID, nil, models.LedgerEntryDeposit, amount, description)
	})
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// LockFunds переводит amount из credits в locked_credits.
func (l *MemoryLedger) LockFunds(ctx context.Context, userID, amount int64, orderID uuid.UUID) error {
	if amount <= 0 {
		return common.ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.balances[userID]
	if !ok || b.Credits < amount {
		return ErrInsufficientFunds
	}

	l.move(ctx, userID, -amount, amount)
	l.appendEntry(ctx, userID, &orderID, models.LedgerEntryEscrowHold, amount, "Заморозка средств для заказа")
	return nil
}

// UnlockFunds возвращает amount из locked_credits в credits.
func (l *MemoryLedger) UnlockFunds(ctx context.Context, userID, amount int64, orderID uuid.UUID) error {
	if amount <= 0 {
		return common.ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.balances[userID]
	if !ok || b.LockedCredits < amount {
		return ErrLockedBalanceMismatch
	}

	l.move(ctx, userID, amount, -amount)
	l.appendEntry(ctx, userID, &orderID, models.LedgerEntryEscrowRefund, amount, "Возврат средств по заказу")
	return nil
}

// SettleFunds списывает amount из locked_credits отправителя и начисляет получателю.
func (l *MemoryLedger) SettleFunds(ctx context.Context, fromID, toID, amount int64, orderID uuid.UUID) error {
	if amount <= 0 {
		return common.ErrInvalidAmount
	}
	if fromID == toID {
		return common.ErrInvalidInput
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.balances[fromID]
	if !ok || b.LockedCredits < amount {
		return ErrLockedBalanceMismatch
	}

	l.move(ctx, fromID, 0, -amount)
	l.move(ctx, toID, amount, 0)
	l.appendEntry(ctx, fromID, &orderID, models.LedgerEntryEscrowRelease, amount, "Оплата заказа")
	l.appendEntry(ctx, toID, &orderID, models.LedgerEntryEscrowPayout, amount, "Получение оплаты за заказ")
	return nil
}

// ListEntries возвращает журнал пользователя, новые записи первыми.
func (l *MemoryLedger) ListEntries(ctx context.Context, userID int64, limit, offset int) ([]models.LedgerEntry, error) {
	result := []models.LedgerEntry{}
	err := l.tx.committed(ctx, func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		for i := len(l.entries) - 1; i >= 0; i-- {
			if l.entries[i].UserID == userID {
				result = append(result, l.entries[i])
			}
		}
	})
	if err != nil {
		return nil, err
	}
	if offset >= len(result) {
		return []models.LedgerEntry{}, nil
	}
	result = result[offset:]
	if limit > 0 && limit < len(result) {
		result = result[:limit]
	}
	return result, nil
}

// Snapshot возвращает копию всех балансов, отсортированную по user_id.
func (l *MemoryLedger) Snapshot() []models.UserBalance {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]models.UserBalance, 0, len(l.balances))
	for _, b := range l.balances {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

func (l *MemoryLedger) balance(userID int64) *models.UserBalance {
	b, ok := l.balances[userID]
	if !ok {
		b = &models.UserBalance{UserID: userID, UpdatedAt: time.Now()}
		l.balances[userID] = b
	}
	return b
}

// move изменяет баланс на дельты и регистрирует обратную операцию. Вызывается под l.mu.
func (l *MemoryLedger) move(ctx context.Context, userID, creditsDelta, lockedDelta int64) {
	b := l.balance(userID)
	b.Credits += creditsDelta
	b.LockedCredits += lockedDelta
	b.UpdatedAt = time.Now()

	onRollback(ctx, func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		b := l.balance(userID)
		b.Credits -= creditsDelta
		b.LockedCredits -= lockedDelta
	})
}

func (l *MemoryLedger) appendEntry(ctx context.Context, userID int64, orderID *uuid.UUID, entryType string, amount int64, description string) models.LedgerEntry {
	desc := description
	entry := models.LedgerEntry{
		ID:          uuid.New(),
		UserID:      userID,
		OrderID:     orderID,
		Type:        entryType,
		Amount:      amount,
		Description: &desc,
		CreatedAt:   time.Now(),
	}
	l.entries = append(l.entries, entry)

	onRollback(ctx, func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		for i := len(l.entries) - 1; i >= 0; i-- {
			if l.entries[i].ID == entry.ID {
				l.entries = append(l.entries[:i], l.entries[i+1:]...)
				return
			}
		}
	})
	return entry
}
