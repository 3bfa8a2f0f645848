package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/FanTMS/digital-symbiosis-sub000/internal/dto"
	"github.com/FanTMS/digital-symbiosis-sub000/internal/http/handlers/common"
	"github.com/FanTMS/digital-symbiosis-sub000/internal/http/response"
	"github.com/FanTMS/digital-symbiosis-sub000/internal/models"
	"github.com/FanTMS/digital-symbiosis-sub000/internal/service"
)

// IdempotencyKeyHeader заголовок для безопасного повтора создания заказа.
const IdempotencyKeyHeader = "Idempotency-Key"

// OrderHandler обслуживает маршруты заказов.
type OrderHandler struct {
	orders *service.OrderService
}

// NewOrderHandler создаёт хэндлер заказов.
func NewOrderHandler(orders *service.OrderService) *OrderHandler {
	return &OrderHandler{orders: orders}
}

// CreateOrder обрабатывает POST /orders.
func (h *OrderHandler) CreateOrder(c *gin.Context) {
	actor, err := common.CurrentActor(c)
	if err != nil {
		response.Unauthorized(c, err.Error())
		return
	}

	var req dto.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "укажите provider_id и price")
		return
	}

	serviceID := uuid.Nil
	if req.ServiceID != "" {
		if serviceID, err = uuid.Parse(req.ServiceID); err != nil {
			response.BadRequest(c, "неверный service_id")
			return
		}
	}

	order, replayed, err := h.orders.PlaceOrder(c.Request.Context(), actor, service.CreateOrderInput{
		ProviderID: req.ProviderID,
		ServiceID:  serviceID,
		Price:      req.Price,
	}, c.GetHeader(IdempotencyKeyHeader))
	if err != nil {
		response.Error(c, err)
		return
	}

	if replayed {
		c.Header("Idempotent-Replayed", "true")
		response.Success(c, order)
		return
	}
	response.Created(c, order)
}

// ListOrders обрабатывает GET /orders?role=client|provider|any.
func (h *OrderHandler) ListOrders(c *gin.Context) {
	actor, err := common.CurrentActor(c)
	if err != nil {
		response.Unauthorized(c, err.Error())
		return
	}

	orders, err := h.orders.ListOrders(c.Request.Context(), actor, models.OrderRole(c.Query("role")))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, orders)
}

// GetOrder обрабатывает GET /orders/:id.
func (h *OrderHandler) GetOrder(c *gin.Context) {
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

	order, err := h.orders.GetOrder(c.Request.Context(), actor, orderID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, order)
}

// GetHistory обрабатывает GET /orders/:id/history.
func (h *OrderHandler) GetHistory(c *gin.Context) {
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

	history, err := h.orders.History(c.Request.Context(), actor, orderID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, history)
}

// Transition обрабатывает POST /orders/:id/transitions {"event": "..."}.
func (h *OrderHandler) Transition(c *gin.Context) {
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

	var req dto.TransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "укажите event")
		return
	}

	order, err := h.orders.Transition(c.Request.Context(), actor, orderID, req.Event)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, order)
}
