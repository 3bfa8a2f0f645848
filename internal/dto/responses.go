package dto

import (
	"time"

	"github.com/FanTMS/digital-symbiosis-sub000/internal/models"
)

// BalanceResponse баланс пользователя вместе с итоговой суммой.
type BalanceResponse struct {
	UserID        int64     `json:"user_id"`
	Credits       int64     `json:"credits"`
	LockedCredits int64     `json:"locked_credits"`
	Total         int64     `json:"total"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// NewBalanceResponse creates a BalanceResponse from a stored balance
func NewBalanceResponse(b *models.UserBalance) *BalanceResponse {
	return &BalanceResponse{
		UserID:        b.UserID,
		Credits:       b.Credits,
		LockedCredits: b.LockedCredits,
		Total:         b.Total(),
		UpdatedAt:     b.UpdatedAt,
	}
}

// UnreadCountResponse число непрочитанных уведомлений.
type UnreadCountResponse struct {
	Count int `json:"count"`
}
