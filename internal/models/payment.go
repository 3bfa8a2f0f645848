package models

import (
	"time"

	"github.com/google/uuid"
)

// Типы записей журнала баланса
const (
	LedgerEntryDeposit       = "deposit"
	LedgerEntryEscrowHold    = "escrow_hold"
	LedgerEntryEscrowRefund  = "escrow_refund"
	LedgerEntryEscrowRelease = "escrow_release"
	LedgerEntryEscrowPayout  = "escrow_payout"
)

// UserBalance представляет баланс пользователя в кредитах.
type UserBalance struct {
	UserID        int64     `db:"user_id" json:"user_id"`
	Credits       int64     `db:"credits" json:"credits"`
	LockedCredits int64     `db:"locked_credits" json:"locked_credits"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// Total возвращает сумму свободных и заблокированных кредитов.
func (b UserBalance) Total() int64 {
	return b.Credits + b.LockedCredits
}

// LedgerEntry запись журнала движения кредитов.
type LedgerEntry struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	UserID      int64      `db:"user_id" json:"user_id"`
	OrderID     *uuid.UUID `db:"order_id" json:"order_id,omitempty"`
	Type        string     `db:"type" json:"type"`
	Amount      int64      `db:"amount" json:"amount"`
	Description *string    `db:"description" json:"description,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
}
