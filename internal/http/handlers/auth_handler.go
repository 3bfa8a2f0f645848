package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/FanTMS/digital-symbiosis-sub000/internal/dto"
	"github.com/FanTMS/digital-symbiosis-sub000/internal/http/response"
	"github.com/FanTMS/digital-symbiosis-sub000/internal/service"
)

// AuthHandler выдаёт токены администраторам.
type AuthHandler struct {
	auth *service.AdminAuthService
}

// NewAuthHandler создаёт хэндлер.
func NewAuthHandler(auth *service.AdminAuthService) *AuthHandler {
	return &AuthHandler{auth: auth}
}

// AdminLogin обрабатывает POST /auth/admin.
func (h *AuthHandler) AdminLogin(c *gin.Context) {
	var req dto.AdminLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "укажите user_id и password")
		return
	}

	token, err := h.auth.Login(c.Request.Context(), service.AdminLoginInput{
		UserID:   req.UserID,
		Password: req.Password,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, token)
}
