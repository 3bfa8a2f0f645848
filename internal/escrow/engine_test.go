package escrow

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FanTMS/digital-symbiosis-sub000/internal/models"
	"github.com/FanTMS/digital-symbiosis-sub000/internal/pkg/apperror"
	"github.com/FanTMS/digital-symbiosis-sub000/internal/repository"
)

const (
	clientA  int64 = 1001
	provider int64 = 2002
	stranger int64 = 3003
	adminID  int64 = 9009
)

type recordingNotifier struct {
	mu   sync.Mutex
	msgs []models.OutboundMessage
}

func (n *recordingNotifier) Dispatch(_ context.Context, msgs []models.OutboundMessage) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, msgs...)
}

func (n *recordingNotifier) all() []models.OutboundMessage {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]models.OutboundMessage, len(n.msgs))
	copy(out, n.msgs)
	return out
}

type fixture struct {
	engine   *Engine
	resolver *Resolver
	ledger   *repository.MemoryLedger
	orders   *repository.MemoryOrders
	history  *repository.MemoryOrderHistory
	notifier *recordingNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithOrders(t, nil)
}

func newFixtureWithOrders(t *testing.T, wrap func(*repository.MemoryOrders) OrderStore) *fixture {
	t.Helper()

	f := &fixture{
		ledger:   repository.NewMemoryLedger(),
		orders:   repository.NewMemoryOrders(),
		history:  repository.NewMemoryOrderHistory(),
		notifier: &recordingNotifier{},
	}
	var store OrderStore = f.orders
	if wrap != nil {
		store = wrap(f.orders)
	}
	f.engine = NewEngine(store, f.ledger, f.history, repository.NewMemoryTxManager(), f.notifier, time.Second)
	f.resolver = NewResolver(f.engine, []int64{adminID})
	return f
}

func (f *fixture) deposit(t *testing.T, userID, amount int64) {
	t.Helper()
	_, err := f.ledger.Deposit(context.Background(), userID, amount, "test")
	require.NoError(t, err)
}

func (f *fixture) balance(t *testing.T, userID int64) models.UserBalance {
	t.Helper()
	b, err := f.ledger.GetBalance(context.Background(), userID)
	require.NoError(t, err)
	return *b
}

func (f *fixture) total() int64 {
	var sum int64
	for _, b := range f.ledger.Snapshot() {
		sum += b.Total()
	}
	return sum
}

func (f *fixture) place(t *testing.T, price int64) *models.Order {
	t.Helper()
	order, err := f.engine.PlaceOrder(context.Background(), PlaceOrderInput{
		ClientID:   clientA,
		ProviderID: provider,
		ServiceID:  uuid.New(),
		Price:      price,
	})
	require.NoError(t, err)
	return order
}

func (f *fixture) step(t *testing.T, orderID uuid.UUID, event models.OrderEvent, userID int64) *models.Order {
	t.Helper()
	order, err := f.resolver.Resolve(context.Background(), orderID, event, Actor{UserID: userID, Role: models.UserRoleUser})
	require.NoError(t, err, "event %s", event)
	return order
}

func asClient() Actor   { return Actor{UserID: clientA, Role: models.UserRoleUser} }
func asProvider() Actor { return Actor{UserID: provider, Role: models.UserRoleUser} }
func asAdmin() Actor    { return Actor{UserID: adminID, Role: models.UserRoleUser} }

func TestEngine_HappyPathPaysProvider(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, clientA, 100)

	order := f.place(t, 30)
	assert.Equal(t, models.OrderStatusPending, order.Status)
	assert.True(t, order.EscrowLocked)
	assert.False(t, order.PayoutDone)
	assert.Equal(t, models.UserBalance{UserID: clientA, Credits: 70, LockedCredits: 30}, withoutTime(f.balance(t, clientA)))

	order = f.step(t, order.ID, models.OrderEventAccept, provider)
	assert.Equal(t, models.OrderStatusAccepted, order.Status)

	order = f.step(t, order.ID, models.OrderEventComplete, provider)
	assert.Equal(t, models.OrderStatusCompletedByProvider, order.Status)

	order = f.step(t, order.ID, models.OrderEventConfirm, clientA)
	assert.Equal(t, models.OrderStatusCompleted, order.Status)
	assert.True(t, order.PayoutDone)
	assert.False(t, order.EscrowLocked)
	require.NotNil(t, order.CompletedAt)

	a := f.balance(t, clientA)
	b := f.balance(t, provider)
	assert.Equal(t, int64(70), a.Credits)
	assert.Equal(t, int64(0), a.LockedCredits)
	assert.Equal(t, int64(30), b.Credits)
	assert.Equal(t, int64(0), b.LockedCredits)
	assert.Equal(t, int64(100), f.total())

	history, err := f.engine.History(context.Background(), order.ID)
	require.NoError(t, err)
	require.Len(t, history, 4)
	assert.Equal(t, models.OrderEventPlace, history[0].Event)
	assert.Equal(t, models.OrderEventConfirm, history[3].Event)
	require.NotNil(t, history[3].FromStatus)
	assert.Equal(t, models.OrderStatusCompletedByProvider, *history[3].FromStatus)
}

func TestEngine_StartThenComplete(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, clientA, 50)

	order := f.place(t, 50)
	f.step(t, order.ID, models.OrderEventAccept, provider)
	order = f.step(t, order.ID, models.OrderEventStart, provider)
	assert.Equal(t, models.OrderStatusInProgress, order.Status)
	order = f.step(t, order.ID, models.OrderEventComplete, provider)
	assert.Equal(t, models.OrderStatusCompletedByProvider, order.Status)
}

func TestEngine_DisputeRefund(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, clientA, 100)

	order := f.place(t, 30)
	f.step(t, order.ID, models.OrderEventAccept, provider)
	f.step(t, order.ID, models.OrderEventComplete, provider)
	order = f.step(t, order.ID, models.OrderEventDispute, clientA)
	assert.Equal(t, models.OrderStatusDispute, order.Status)

	_, err := f.resolver.Refund(context.Background(), order.ID, asClient())
	assert.True(t, apperror.IsForbidden(err))

	order, err = f.resolver.Refund(context.Background(), order.ID, asAdmin())
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusRefunded, order.Status)
	assert.False(t, order.EscrowLocked)
	assert.False(t, order.PayoutDone)

	a := f.balance(t, clientA)
	assert.Equal(t, int64(100), a.Credits)
	assert.Equal(t, int64(0), a.LockedCredits)
	assert.Equal(t, int64(0), f.balance(t, provider).Credits)

	// Повторный возврат невозможен: заказ в конечном статусе.
	_, err = f.resolver.Refund(context.Background(), order.ID, asAdmin())
	assert.True(t, apperror.IsInvalidTransition(err))
	assert.Equal(t, int64(100), f.total())
}

func TestEngine_ForceCompleteByTokenAdmin(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, clientA, 40)

	order := f.place(t, 40)
	f.step(t, order.ID, models.OrderEventAccept, provider)
	f.step(t, order.ID, models.OrderEventComplete, provider)
	f.step(t, order.ID, models.OrderEventDispute, clientA)

	admin := Actor{UserID: 5, Role: models.UserRoleAdmin}
	order, err := f.resolver.ForceComplete(context.Background(), order.ID, admin)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCompleted, order.Status)
	assert.True(t, order.PayoutDone)
	assert.Equal(t, int64(40), f.balance(t, provider).Credits)
	assert.Equal(t, int64(0), f.balance(t, clientA).LockedCredits)
}

func TestEngine_ConfirmIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, clientA, 100)

	order := f.place(t, 30)
	f.step(t, order.ID, models.OrderEventAccept, provider)
	f.step(t, order.ID, models.OrderEventComplete, provider)
	first := f.step(t, order.ID, models.OrderEventConfirm, clientA)
	second := f.step(t, order.ID, models.OrderEventConfirm, clientA)

	assert.Equal(t, first.Status, second.Status)
	assert.True(t, second.PayoutDone)
	assert.Equal(t, int64(30), f.balance(t, provider).Credits)

	// Принудительное завершение уже оплаченного заказа тоже ничего не меняет.
	_, err := f.resolver.ForceComplete(context.Background(), order.ID, asAdmin())
	require.NoError(t, err)
	assert.Equal(t, int64(30), f.balance(t, provider).Credits)

	history, err := f.engine.History(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Len(t, history, 4)
}

func TestEngine_ConcurrentConfirmPaysOnce(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, clientA, 100)

	order := f.place(t, 30)
	f.step(t, order.ID, models.OrderEventAccept, provider)
	f.step(t, order.ID, models.OrderEventComplete, provider)

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.Transition(context.Background(), order.ID, models.OrderEventConfirm, asClient())
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int64(30), f.balance(t, provider).Credits)
	assert.Equal(t, int64(70), f.balance(t, clientA).Credits)
}

func TestEngine_PlaceOrderInsufficientFunds(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, clientA, 20)

	_, err := f.engine.PlaceOrder(context.Background(), PlaceOrderInput{
		ClientID: clientA, ProviderID: provider, ServiceID: uuid.New(), Price: 30,
	})
	require.Error(t, err)
	assert.True(t, apperror.IsInsufficientFunds(err))

	a := f.balance(t, clientA)
	assert.Equal(t, int64(20), a.Credits)
	assert.Equal(t, int64(0), a.LockedCredits)

	orders, err := f.engine.ListOrders(context.Background(), clientA, models.OrderRoleAny)
	require.NoError(t, err)
	assert.Empty(t, orders)
	assert.Empty(t, f.notifier.all())
}

func TestEngine_PlaceOrderValidation(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, clientA, 100)

	tests := []struct {
		name string
		in   PlaceOrderInput
	}{
		{"zero price", PlaceOrderInput{ClientID: clientA, ProviderID: provider, Price: 0}},
		{"negative price", PlaceOrderInput{ClientID: clientA, ProviderID: provider, Price: -5}},
		{"self order", PlaceOrderInput{ClientID: clientA, ProviderID: clientA, Price: 10}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.PlaceOrder(context.Background(), tt.in)
			assert.True(t, apperror.IsValidation(err), "got %v", err)
		})
	}
	assert.Equal(t, int64(100), f.balance(t, clientA).Credits)
}

func TestEngine_IllegalTransitionLeavesStateUnchanged(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, clientA, 100)
	order := f.place(t, 30)

	_, err := f.engine.Transition(context.Background(), order.ID, models.OrderEventConfirm, asClient())
	require.Error(t, err)
	assert.True(t, apperror.IsInvalidTransition(err))

	var appErr *apperror.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, order.ID.String(), appErr.Details["order_id"])

	got, err := f.engine.GetOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPending, got.Status)
	assert.Equal(t, int64(30), f.balance(t, clientA).LockedCredits)
	assert.Equal(t, int64(0), f.balance(t, provider).Credits)
}

func TestEngine_RoleChecks(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, clientA, 100)
	order := f.place(t, 30)

	tests := []struct {
		name  string
		event models.OrderEvent
		actor Actor
	}{
		{"client cannot accept", models.OrderEventAccept, asClient()},
		{"stranger cannot accept", models.OrderEventAccept, Actor{UserID: stranger}},
		{"provider cannot cancel", models.OrderEventCancel, asProvider()},
		{"admin event via engine", models.OrderEventRefund, asAdmin()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.Transition(context.Background(), order.ID, tt.event, tt.actor)
			assert.True(t, apperror.IsForbidden(err), "got %v", err)
		})
	}

	got, err := f.engine.GetOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPending, got.Status)
}

func TestEngine_RejectAndCancelReturnFunds(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, clientA, 100)

	rejected := f.place(t, 30)
	f.step(t, rejected.ID, models.OrderEventAccept, provider)
	rejected = f.step(t, rejected.ID, models.OrderEventReject, provider)
	assert.Equal(t, models.OrderStatusCancelled, rejected.Status)
	assert.False(t, rejected.EscrowLocked)

	cancelled := f.place(t, 50)
	cancelled = f.step(t, cancelled.ID, models.OrderEventCancel, clientA)
	assert.Equal(t, models.OrderStatusCancelled, cancelled.Status)

	a := f.balance(t, clientA)
	assert.Equal(t, int64(100), a.Credits)
	assert.Equal(t, int64(0), a.LockedCredits)

	_, err := f.engine.Transition(context.Background(), cancelled.ID, models.OrderEventAccept, asProvider())
	assert.True(t, apperror.IsInvalidTransition(err))
}

func TestEngine_UnknownOrderAndEvent(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.Transition(context.Background(), uuid.New(), models.OrderEventAccept, asProvider())
	assert.True(t, apperror.IsNotFound(err))

	_, err = f.engine.GetOrder(context.Background(), uuid.New())
	assert.True(t, apperror.IsNotFound(err))

	_, err = f.resolver.Resolve(context.Background(), uuid.New(), models.OrderEvent("teleport"), asClient())
	assert.True(t, apperror.IsValidation(err))
}

func TestEngine_ConcurrentPlaceOrdersCannotOverspend(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, clientA, 100)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded, insufficient := 0, 0

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.PlaceOrder(context.Background(), PlaceOrderInput{
				ClientID: clientA, ProviderID: provider, ServiceID: uuid.New(), Price: 30,
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case apperror.IsInsufficientFunds(err):
				insufficient++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, succeeded)
	assert.Equal(t, 7, insufficient)
	a := f.balance(t, clientA)
	assert.Equal(t, int64(10), a.Credits)
	assert.Equal(t, int64(90), a.LockedCredits)
}

type failingOrders struct {
	*repository.MemoryOrders
	failOn models.OrderStatus
}

func (s *failingOrders) UpdateStatus(ctx context.Context, id uuid.UUID, status models.OrderStatus, upd models.OrderUpdate) (*models.Order, error) {
	if status == s.failOn {
		return nil, errors.New("connection reset by peer")
	}
	return s.MemoryOrders.UpdateStatus(ctx, id, status, upd)
}

func TestEngine_StatusWriteFailureReversesLock(t *testing.T) {
	f := newFixtureWithOrders(t, func(m *repository.MemoryOrders) OrderStore {
		return &failingOrders{MemoryOrders: m, failOn: models.OrderStatusPending}
	})
	f.deposit(t, clientA, 100)

	_, err := f.engine.PlaceOrder(context.Background(), PlaceOrderInput{
		ClientID: clientA, ProviderID: provider, ServiceID: uuid.New(), Price: 30,
	})
	require.Error(t, err)
	assert.True(t, apperror.IsStorage(err))

	a := f.balance(t, clientA)
	assert.Equal(t, int64(100), a.Credits)
	assert.Equal(t, int64(0), a.LockedCredits)

	orders, err := f.orders.ListForUser(context.Background(), clientA, models.OrderRoleAny)
	require.NoError(t, err)
	assert.Empty(t, orders)

	entries, err := f.ledger.ListEntries(context.Background(), clientA, 10, 0)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "only the deposit entry remains")
	assert.Empty(t, f.notifier.all())
}

func TestEngine_StatusWriteFailureReversesSettlement(t *testing.T) {
	f := newFixtureWithOrders(t, func(m *repository.MemoryOrders) OrderStore {
		return &failingOrders{MemoryOrders: m, failOn: models.OrderStatusCompleted}
	})
	f.deposit(t, clientA, 100)

	order := f.place(t, 30)
	f.step(t, order.ID, models.OrderEventAccept, provider)
	f.step(t, order.ID, models.OrderEventComplete, provider)

	_, err := f.engine.Transition(context.Background(), order.ID, models.OrderEventConfirm, asClient())
	assert.True(t, apperror.IsStorage(err))

	assert.Equal(t, int64(30), f.balance(t, clientA).LockedCredits)
	assert.Equal(t, int64(0), f.balance(t, provider).Credits)

	got, err := f.engine.GetOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCompletedByProvider, got.Status)
	assert.False(t, got.PayoutDone)
}

type stalledOrders struct {
	*repository.MemoryOrders
}

func (s *stalledOrders) GetForUpdate(ctx context.Context, _ uuid.UUID) (*models.Order, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestEngine_TimeoutReportsUnknownOutcome(t *testing.T) {
	f := newFixtureWithOrders(t, func(m *repository.MemoryOrders) OrderStore {
		return &stalledOrders{MemoryOrders: m}
	})
	f.engine.timeout = 20 * time.Millisecond

	_, err := f.engine.Transition(context.Background(), uuid.New(), models.OrderEventAccept, asProvider())
	require.Error(t, err)
	assert.True(t, apperror.IsStorage(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestEngine_NotificationsFollowCommit(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, clientA, 100)

	order := f.place(t, 30)
	msgs := f.notifier.all()
	require.Len(t, msgs, 2)
	assert.Equal(t, clientA, msgs[0].RecipientID)
	assert.Equal(t, models.MessageKindStatusUpdate, msgs[0].Kind)
	assert.Equal(t, provider, msgs[1].RecipientID)
	assert.Equal(t, models.MessageKindProviderPrompt, msgs[1].Kind)
	assert.Equal(t, order.ID, msgs[1].Payload.OrderID)

	// Отклонённое событие ничего не отправляет.
	_, _ = f.engine.Transition(context.Background(), order.ID, models.OrderEventConfirm, asClient())
	assert.Len(t, f.notifier.all(), 2)
}

func TestEngine_ConservationUnderRandomOperations(t *testing.T) {
	f := newFixture(t)
	users := []int64{11, 12, 13, 14}
	for _, u := range users {
		f.deposit(t, u, 1000)
	}
	const expectedTotal = int64(4000)

	rng := rand.New(rand.NewSource(42))
	events := []models.OrderEvent{
		models.OrderEventAccept, models.OrderEventReject, models.OrderEventCancel,
		models.OrderEventStart, models.OrderEventComplete, models.OrderEventConfirm,
		models.OrderEventDispute, models.OrderEventRefund, models.OrderEventForceComplete,
	}
	var orderIDs []uuid.UUID

	for i := 0; i < 400; i++ {
		if len(orderIDs) == 0 || rng.Intn(4) == 0 {
			client := users[rng.Intn(len(users))]
			prov := users[rng.Intn(len(users))]
			order, err := f.engine.PlaceOrder(context.Background(), PlaceOrderInput{
				ClientID: client, ProviderID: prov, ServiceID: uuid.New(), Price: int64(rng.Intn(400)) - 20,
			})
			if err == nil {
				orderIDs = append(orderIDs, order.ID)
			}
		} else {
			id := orderIDs[rng.Intn(len(orderIDs))]
			actor := Actor{UserID: users[rng.Intn(len(users))]}
			if rng.Intn(5) == 0 {
				actor = asAdmin()
			}
			_, _ = f.resolver.Resolve(context.Background(), id, events[rng.Intn(len(events))], actor)
		}

		var total int64
		for _, b := range f.ledger.Snapshot() {
			require.GreaterOrEqual(t, b.Credits, int64(0))
			require.GreaterOrEqual(t, b.LockedCredits, int64(0))
			total += b.Total()
		}
		require.Equal(t, expectedTotal, total, "step %d", i)
	}

	var lockedByOrders int64
	for _, id := range orderIDs {
		o, err := f.engine.GetOrder(context.Background(), id)
		require.NoError(t, err)
		if o.PayoutDone {
			assert.Equal(t, models.OrderStatusCompleted, o.Status)
			assert.False(t, o.EscrowLocked)
		}
		if o.EscrowLocked {
			lockedByOrders += o.Price
		}
	}
	var lockedInLedger int64
	for _, b := range f.ledger.Snapshot() {
		lockedInLedger += b.LockedCredits
	}
	assert.Equal(t, lockedByOrders, lockedInLedger)
}

func TestAvailableEvents(t *testing.T) {
	order := &models.Order{ClientID: clientA, ProviderID: provider, Status: models.OrderStatusPending}
	assert.Equal(t, []models.OrderEvent{models.OrderEventAccept, models.OrderEventReject}, AvailableEvents(order, provider))
	assert.Equal(t, []models.OrderEvent{models.OrderEventCancel}, AvailableEvents(order, clientA))
	assert.Nil(t, AvailableEvents(order, stranger))

	order.Status = models.OrderStatusCompletedByProvider
	assert.Equal(t, []models.OrderEvent{models.OrderEventConfirm, models.OrderEventDispute}, AvailableEvents(order, clientA))
}

func withoutTime(b models.UserBalance) models.UserBalance {
	b.UpdatedAt = time.Time{}
	return b
}
