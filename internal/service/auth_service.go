package service

import (
	"context"
	"errors"

	"golang.org/x/crypto/bcrypt"

	"github.com/FanTMS/digital-symbiosis-sub000/internal/logger"
	"github.com/FanTMS/digital-symbiosis-sub000/internal/models"
	"github.com/FanTMS/digital-symbiosis-sub000/internal/pkg/apperror"
	"github.com/FanTMS/digital-symbiosis-sub000/internal/validation"
)

// AdminLoginInput данные для входа администратора.
type AdminLoginInput struct {
	UserID   int64
	Password string
}

// AdminAuthService выдаёт токены администраторам.
// Обычные пользователи получают токены у провайдера идентификации мессенджера.
type AdminAuthService struct {
	tokenManager *TokenManager
	passwordHash []byte
	admins       map[int64]struct{}
}

// NewAdminAuthService создаёт сервис входа администратора.
// passwordHash bcrypt-хэш общего пароля админки.
func NewAdminAuthService(tokenManager *TokenManager, passwordHash string, adminIDs []int64) *AdminAuthService {
	admins := make(map[int64]struct{}, len(adminIDs))
	for _, id := range adminIDs {
		admins[id] = struct{}{}
	}
	return &AdminAuthService{
		tokenManager: tokenManager,
		passwordHash: []byte(passwordHash),
		admins:       admins,
	}
}

// Login проверяет пароль и выпускает токен с ролью admin.
func (s *AdminAuthService) Login(ctx context.Context, in AdminLoginInput) (*AccessToken, error) {
	if len(s.passwordHash) == 0 {
		return nil, apperror.New(apperror.ErrCodeForbidden, "вход администратора отключён")
	}
	if err := validation.ValidateNonEmpty("пароль", in.Password); err != nil {
		return nil, apperror.New(apperror.ErrCodeValidation, err.Error())
	}
	if _, ok := s.admins[in.UserID]; !ok {
		logger.Log.WithField("user_id", in.UserID).Warn("admin auth: попытка входа не администратора")
		return nil, apperror.ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword(s.passwordHash, []byte(in.Password)); err != nil {
		if !errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			logger.Log.WithError(err).Error("admin auth: некорректный хэш пароля")
		}
		return nil, apperror.ErrInvalidCredentials
	}

	token, err := s.tokenManager.GenerateAccess(in.UserID, models.UserRoleAdmin)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось выпустить токен")
	}

	logger.Log.WithField("user_id", in.UserID).Info("admin auth: вход администратора")
	return token, nil
}
