package dto

// CreateOrderRequest тело POST /orders.
type CreateOrderRequest struct {
	ProviderID int64  `json:"provider_id" binding:"required,gt=0"`
	ServiceID  string `json:"service_id"`
	Price      int64  `json:"price" binding:"required"`
}

// TransitionRequest тело POST /orders/:id/transitions.
type TransitionRequest struct {
	Event string `json:"event" binding:"required"`
}

// DepositRequest тело POST /admin/users/:id/deposit.
type DepositRequest struct {
	Amount int64 `json:"amount" binding:"required,gt=0"`
}

// AdminLoginRequest тело POST /auth/admin.
type AdminLoginRequest struct {
	UserID   int64  `json:"user_id" binding:"required,gt=0"`
	Password string `json:"password" binding:"required"`
}
