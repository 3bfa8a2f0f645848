package escrow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FanTMS/digital-symbiosis-sub000/internal/models"
	"github.com/FanTMS/digital-symbiosis-sub000/internal/pkg/apperror"
)

func TestResolver_IsAdmin(t *testing.T) {
	f := newFixture(t)

	assert.True(t, f.resolver.IsAdmin(Actor{UserID: adminID}))
	assert.True(t, f.resolver.IsAdmin(Actor{UserID: 1, Role: models.UserRoleAdmin}))
	assert.False(t, f.resolver.IsAdmin(Actor{UserID: clientA, Role: models.UserRoleUser}))
}

func TestResolver_AdminEventsOnlyFromDispute(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, clientA, 100)
	order := f.place(t, 30)

	_, err := f.resolver.ForceComplete(context.Background(), order.ID, asAdmin())
	assert.True(t, apperror.IsInvalidTransition(err))

	_, err = f.resolver.Refund(context.Background(), order.ID, asAdmin())
	assert.True(t, apperror.IsInvalidTransition(err))

	got, err := f.engine.GetOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPending, got.Status)
	assert.Equal(t, int64(30), f.balance(t, clientA).LockedCredits)
}

func TestResolver_ParticipantCannotResolveDispute(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, clientA, 100)

	order := f.place(t, 30)
	f.step(t, order.ID, models.OrderEventAccept, provider)
	f.step(t, order.ID, models.OrderEventComplete, provider)
	f.step(t, order.ID, models.OrderEventDispute, clientA)

	_, err := f.resolver.ForceComplete(context.Background(), order.ID, asProvider())
	assert.True(t, apperror.IsForbidden(err))

	_, err = f.resolver.Resolve(context.Background(), order.ID, models.OrderEventConfirm, asClient())
	assert.True(t, apperror.IsInvalidTransition(err), "confirm is not allowed once a dispute is open")
}

func TestResolver_AdminCannotActAsParticipant(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, clientA, 100)
	order := f.place(t, 30)

	_, err := f.resolver.Resolve(context.Background(), order.ID, models.OrderEventAccept, asAdmin())
	assert.True(t, apperror.IsForbidden(err))
}

func TestResolver_ListByStatus(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, clientA, 100)

	disputed := f.place(t, 30)
	f.step(t, disputed.ID, models.OrderEventAccept, provider)
	f.step(t, disputed.ID, models.OrderEventComplete, provider)
	f.step(t, disputed.ID, models.OrderEventDispute, clientA)
	f.place(t, 10)

	orders, err := f.resolver.ListByStatus(context.Background(), asAdmin(), models.OrderStatusDispute, 10, 0)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, disputed.ID, orders[0].ID)

	_, err = f.resolver.ListByStatus(context.Background(), asClient(), models.OrderStatusDispute, 10, 0)
	assert.True(t, apperror.IsForbidden(err))

	_, err = f.resolver.ListByStatus(context.Background(), asAdmin(), models.OrderStatus("lost"), 10, 0)
	assert.True(t, apperror.IsValidation(err))
}
