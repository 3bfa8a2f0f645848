package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/FanTMS/digital-symbiosis-sub000/internal/logger"
	"github.com/FanTMS/digital-symbiosis-sub000/internal/metrics"
	"github.com/FanTMS/digital-symbiosis-sub000/internal/models"
	"github.com/FanTMS/digital-symbiosis-sub000/internal/pkg/apperror"
	"github.com/FanTMS/digital-symbiosis-sub000/internal/repository/common"
	"github.com/FanTMS/digital-symbiosis-sub000/internal/validation"
)

// BalanceRepository операции с балансами, доступные вне жизненного цикла заказа.
type BalanceRepository interface {
	GetBalance(ctx context.Context, userID int64) (*models.UserBalance, error)
	Deposit(ctx context.Context, userID, amount int64, description string) (*models.LedgerEntry, error)
	ListEntries(ctx context.Context, userID int64, limit, offset int) ([]models.LedgerEntry, error)
}

type PaymentService struct {
	repo BalanceRepository
}

func NewPaymentService(repo BalanceRepository) *PaymentService {
	return &PaymentService{repo: repo}
}

// GetBalance возвращает баланс пользователя.
func (s *PaymentService) GetBalance(ctx context.Context, userID int64) (*models.UserBalance, error) {
	balance, err := s.repo.GetBalance(ctx, userID)
	if err != nil {
		return nil, apperror.ErrStorage.WithCause(err)
	}
	return balance, nil
}

// ListEntries возвращает журнал движения кредитов.
func (s *PaymentService) ListEntries(ctx context.Context, userID int64, limit, offset int) ([]models.LedgerEntry, error) {
	limit, offset = validation.ClampPage(limit, offset, 20)
	entries, err := s.repo.ListEntries(ctx, userID, limit, offset)
	if err != nil {
		return nil, apperror.ErrStorage.WithCause(err)
	}
	return entries, nil
}

// Deposit начисляет кредиты пользователю от имени администратора.
func (s *PaymentService) Deposit(ctx context.Context, adminID, userID, amount int64) (*models.LedgerEntry, error) {
	if err := validation.ValidateUserID("user_id", userID); err != nil {
		return nil, apperror.New(apperror.ErrCodeValidation, err.Error())
	}
	if err := validation.ValidateAmount("сумма", amount); err != nil {
		return nil, apperror.New(apperror.ErrCodeValidation, err.Error())
	}

	entry, err := s.repo.Deposit(ctx, userID, amount, fmt.Sprintf("Пополнение администратором %d", adminID))
	if err != nil {
		if errors.Is(err, common.ErrInvalidAmount) {
			return nil, apperror.New(apperror.ErrCodeValidation, "сумма должна быть положительной")
		}
		return nil, apperror.ErrStorage.WithCause(err)
	}

	metrics.AddCredits("deposit", amount)
	logger.Log.WithFields(logrus.Fields{
		"admin_id": adminID,
		"user_id":  userID,
		"amount":   amount,
	}).Info("payment: баланс пополнен")
	return entry, nil
}
