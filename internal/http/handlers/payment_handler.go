package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/FanTMS/digital-symbiosis-sub000/internal/dto"
	"github.com/FanTMS/digital-symbiosis-sub000/internal/http/handlers/common"
	"github.com/FanTMS/digital-symbiosis-sub000/internal/http/response"
	"github.com/FanTMS/digital-symbiosis-sub000/internal/service"
)

type PaymentHandler struct {
	payments *service.PaymentService
}

func NewPaymentHandler(payments *service.PaymentService) *PaymentHandler {
	return &PaymentHandler{payments: payments}
}

// GetBalance GET /balance
func (h *PaymentHandler) GetBalance(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		response.Unauthorized(c, err.Error())
		return
	}

	balance, err := h.payments.GetBalance(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, dto.NewBalanceResponse(balance))
}

// ListTransactions GET /balance/transactions
func (h *PaymentHandler) ListTransactions(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		response.Unauthorized(c, err.Error())
		return
	}

	limit, offset := common.GetPagination(c)
	entries, err := h.payments.ListEntries(c.Request.Context(), userID, limit, offset)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Paginated(c, entries, limit, offset)
}
