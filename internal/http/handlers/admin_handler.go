package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/FanTMS/digital-symbiosis-sub000/internal/dto"
	"github.com/FanTMS/digital-symbiosis-sub000/internal/http/handlers/common"
	"github.com/FanTMS/digital-symbiosis-sub000/internal/http/response"
	"github.com/FanTMS/digital-symbiosis-sub000/internal/models"
	"github.com/FanTMS/digital-symbiosis-sub000/internal/service"
)

// AdminHandler разбор споров и пополнение балансов.
type AdminHandler struct {
	orders   *service.OrderService
	payments *service.PaymentService
}

// NewAdminHandler создаёт хэндлер админки.
func NewAdminHandler(orders *service.OrderService, payments *service.PaymentService) *AdminHandler {
	return &AdminHandler{orders: orders, payments: payments}
}

// ListOrders GET /admin/orders?status=dispute
func (h *AdminHandler) ListOrders(c *gin.Context) {
	actor, err := common.CurrentActor(c)
	if err != nil {
		response.Unauthorized(c, err.Error())
		return
	}

	status := models.OrderStatus(c.DefaultQuery("status", string(models.OrderStatusDispute)))
	limit, offset := common.GetPagination(c)

	orders, err := h.orders.ListByStatus(c.Request.Context(), actor, status, limit, offset)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Paginated(c, orders, limit, offset)
}

// Refund POST /admin/orders/:id/refund
func (h *AdminHandler) Refund(c *gin.Context) {
	actor, err := common.CurrentActor(c)
	if err != nil {
		response.Unauthorized(c, err.Error())
		return
	}
	orderID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	order, err := h.orders.Refund(c.Request.Context(), actor, orderID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, order)
}

// ForceComplete POST /admin/orders/:id/force-complete
func (h *AdminHandler) ForceComplete(c *gin.Context) {
	actor, err := common.CurrentActor(c)
	if err != nil {
		response.Unauthorized(c, err.Error())
		return
	}
	orderID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	order, err := h.orders.ForceComplete(c.Request.Context(), actor, orderID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, order)
}

// Deposit POST /admin/users/:id/deposit {"amount": 100}
func (h *AdminHandler) Deposit(c *gin.Context) {
	adminID, err := common.CurrentUserID(c)
	if err != nil {
		response.Unauthorized(c, err.Error())
		return
	}
	userID, err := common.ParseInt64Param(c, "id")
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	var req dto.DepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "сумма должна быть положительной")
		return
	}

	entry, err := h.payments.Deposit(c.Request.Context(), adminID, userID, req.Amount)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, entry)
}
