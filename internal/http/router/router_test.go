package router

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/FanTMS/digital-symbiosis-sub000/internal/config"
	"github.com/FanTMS/digital-symbiosis-sub000/internal/escrow"
	"github.com/FanTMS/digital-symbiosis-sub000/internal/http/handlers"
	"github.com/FanTMS/digital-symbiosis-sub000/internal/http/middleware"
	"github.com/FanTMS/digital-symbiosis-sub000/internal/idempotency"
	"github.com/FanTMS/digital-symbiosis-sub000/internal/models"
	"github.com/FanTMS/digital-symbiosis-sub000/internal/repository"
	"github.com/FanTMS/digital-symbiosis-sub000/internal/service"
	"github.com/FanTMS/digital-symbiosis-sub000/internal/ws"
)

const (
	clientID   int64 = 11
	providerID int64 = 22
	adminID    int64 = 99
)

type apiResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string            `json:"code"`
		Details map[string]string `json:"details"`
	} `json:"error"`
}

type testAPI struct {
	t      *testing.T
	engine *gin.Engine
	tokens *service.TokenManager
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hash, err := bcrypt.GenerateFromPassword([]byte("admin-pass"), bcrypt.MinCost)
	require.NoError(t, err)

	cfg := &config.Config{
		Env:               "test",
		AllowedOrigins:    []string{"http://localhost:3000"},
		RateLimitLimit:    1000,
		RateLimitPeriod:   time.Minute,
		AdminUserIDs:      []int64{adminID},
		AdminPasswordHash: string(hash),
	}

	tokens := service.NewTokenManager("router-test-secret", time.Hour)
	ledger := repository.NewMemoryLedger()
	engine := escrow.NewEngine(repository.NewMemoryOrders(), ledger, repository.NewMemoryOrderHistory(),
		repository.NewMemoryTxManager(), nil, time.Second)
	resolver := escrow.NewResolver(engine, cfg.AdminUserIDs)

	orders := service.NewOrderService(engine, resolver, idempotency.NewMemoryStore(), time.Hour)
	payments := service.NewPaymentService(ledger)
	notifications := service.NewNotificationService(repository.NewMemoryNotifications())

	store, err := middleware.NewRateLimitStore(nil)
	require.NoError(t, err)

	r := SetupRouter(cfg, Handlers{
		Health:        handlers.NewHealthHandler(),
		Auth:          handlers.NewAuthHandler(service.NewAdminAuthService(tokens, cfg.AdminPasswordHash, cfg.AdminUserIDs)),
		Orders:        handlers.NewOrderHandler(orders),
		Payments:      handlers.NewPaymentHandler(payments),
		Admin:         handlers.NewAdminHandler(orders, payments),
		Notifications: handlers.NewNotificationHandler(notifications),
		WS:            handlers.NewWSHandler(ws.NewHub(), tokens, cfg.AllowedOrigins),
	}, tokens, store)

	return &testAPI{t: t, engine: r, tokens: tokens}
}

func (a *testAPI) token(userID int64, role string) string {
	tok, err := a.tokens.GenerateAccess(userID, role)
	require.NoError(a.t, err)
	return tok.Token
}

func (a *testAPI) call(method, path, token string, body any, header map[string]string) (*httptest.ResponseRecorder, apiResponse) {
	a.t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req, _ := http.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}

	w := httptest.NewRecorder()
	a.engine.ServeHTTP(w, req)

	var resp apiResponse
	if w.Body.Len() > 0 {
		_ = json.Unmarshal(w.Body.Bytes(), &resp)
	}
	return w, resp
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

func TestRouter_EscrowLifecycle(t *testing.T) {
	api := newTestAPI(t)
	client := api.token(clientID, models.UserRoleUser)
	provider := api.token(providerID, models.UserRoleUser)

	// Админ входит по паролю и пополняет баланс заказчика.
	w, resp := api.call(http.MethodPost, "/api/auth/admin", "", gin.H{"user_id": adminID, "password": "admin-pass"}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	admin := decode[service.AccessToken](t, resp.Data).Token

	w, _ = api.call(http.MethodPost, "/api/admin/users/11/deposit", admin, gin.H{"amount": 100}, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	// Создание заказа с ключом идемпотентности.
	body := gin.H{"provider_id": providerID, "price": 30}
	key := map[string]string{"Idempotency-Key": "order-1"}
	w, resp = api.call(http.MethodPost, "/api/orders", client, body, key)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	order := decode[models.Order](t, resp.Data)
	assert.Equal(t, models.OrderStatusPending, order.Status)

	w, resp = api.call(http.MethodPost, "/api/orders", client, body, key)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "true", w.Header().Get("Idempotent-Replayed"))
	assert.Equal(t, order.ID, decode[models.Order](t, resp.Data).ID)

	w, resp = api.call(http.MethodGet, "/api/balance", client, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `70`, string(decode[map[string]json.RawMessage](t, resp.Data)["credits"]))
	assert.JSONEq(t, `30`, string(decode[map[string]json.RawMessage](t, resp.Data)["locked_credits"]))

	path := "/api/orders/" + order.ID.String()

	// Подтверждение до сдачи работы отклоняется.
	w, resp = api.call(http.MethodPost, path+"/transitions", client, gin.H{"event": "confirm"}, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "INVALID_TRANSITION", resp.Error.Code)
	assert.Equal(t, order.ID.String(), resp.Error.Details["order_id"])

	w, _ = api.call(http.MethodPost, path+"/transitions", client, gin.H{"event": "accept"}, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	for _, step := range []struct {
		token string
		event string
	}{
		{provider, "accept"},
		{provider, "complete"},
		{client, "confirm"},
	} {
		w, _ = api.call(http.MethodPost, path+"/transitions", step.token, gin.H{"event": step.event}, nil)
		require.Equal(t, http.StatusOK, w.Code, "%s: %s", step.event, w.Body.String())
	}

	w, resp = api.call(http.MethodGet, path, client, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	view := decode[service.OrderView](t, resp.Data)
	assert.Equal(t, models.OrderStatusCompleted, view.Status)
	assert.True(t, view.PayoutDone)
	assert.Empty(t, view.AvailableEvents)

	w, resp = api.call(http.MethodGet, "/api/balance", provider, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `30`, string(decode[map[string]json.RawMessage](t, resp.Data)["credits"]))

	w, resp = api.call(http.MethodGet, path+"/history", provider, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]models.OrderHistory](t, resp.Data), 4)

	w, resp = api.call(http.MethodGet, "/api/orders?role=provider", provider, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]service.OrderView](t, resp.Data), 1)
}

func TestRouter_DisputeResolvedByAdmin(t *testing.T) {
	api := newTestAPI(t)
	client := api.token(clientID, models.UserRoleUser)
	provider := api.token(providerID, models.UserRoleUser)
	admin := api.token(adminID, models.UserRoleUser)

	w, _ := api.call(http.MethodPost, "/api/admin/users/11/deposit", admin, gin.H{"amount": 50}, nil)
	require.Equal(t, http.StatusCreated, w.Code)

	w, resp := api.call(http.MethodPost, "/api/orders", client, gin.H{"provider_id": providerID, "price": 50}, nil)
	require.Equal(t, http.StatusCreated, w.Code)
	order := decode[models.Order](t, resp.Data)
	path := "/api/orders/" + order.ID.String() + "/transitions"

	api.call(http.MethodPost, path, provider, gin.H{"event": "accept"}, nil)
	api.call(http.MethodPost, path, provider, gin.H{"event": "complete"}, nil)
	w, _ = api.call(http.MethodPost, path, client, gin.H{"event": "dispute"}, nil)
	require.Equal(t, http.StatusOK, w.Code)

	// Участник не может вызвать событие администратора.
	w, _ = api.call(http.MethodPost, path, client, gin.H{"event": "refund"}, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w, _ = api.call(http.MethodPost, "/api/admin/orders/"+order.ID.String()+"/refund", client, nil, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, resp = api.call(http.MethodGet, "/api/admin/orders?status=dispute", admin, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]models.Order](t, resp.Data), 1)

	w, resp = api.call(http.MethodPost, "/api/admin/orders/"+order.ID.String()+"/refund", admin, nil, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, models.OrderStatusRefunded, decode[models.Order](t, resp.Data).Status)

	w, resp = api.call(http.MethodGet, "/api/balance", client, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `50`, string(decode[map[string]json.RawMessage](t, resp.Data)["credits"]))
}

func TestRouter_Errors(t *testing.T) {
	api := newTestAPI(t)
	client := api.token(clientID, models.UserRoleUser)

	w, _ := api.call(http.MethodGet, "/api/balance", "", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, resp := api.call(http.MethodPost, "/api/orders", client, gin.H{"provider_id": providerID, "price": 30}, nil)
	assert.Equal(t, http.StatusPaymentRequired, w.Code)
	assert.Equal(t, "INSUFFICIENT_FUNDS", resp.Error.Code)

	w, _ = api.call(http.MethodPost, "/api/orders", client, gin.H{"provider_id": clientID, "price": 30}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = api.call(http.MethodGet, "/api/orders/not-a-uuid", client, nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = api.call(http.MethodGet, "/api/orders/6f1c2a4e-3d4b-4c1a-9a55-0f2f6b7e9d10", client, nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = api.call(http.MethodGet, "/api/admin/orders", client, nil, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = api.call(http.MethodPost, "/api/auth/admin", "", gin.H{"user_id": adminID, "password": "wrong"}, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = api.call(http.MethodGet, "/health", "", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = api.call(http.MethodGet, "/api/notifications/unread/count", client, nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
