package services

import (
	"context"
	"testing"
	"time"

	"quickbite/internal/apperr"
	"quickbite/internal/auth"
	"quickbite/internal/models"
	"quickbite/internal/repository"
	"quickbite/internal/tracking"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type trackingFixture struct {
	db           *gorm.DB
	svc          TrackingService
	orderSvc     OrderService
	trackingRepo repository.TrackingRepository
	cache        *fakeCache
	hub          *tracking.Hub
}

// newTrackingFixture wires the tracking service against a real order walked
// into transit, with the teardown cleaner attached to the state machine the
// way the API server wires it.
func newTrackingFixture(t *testing.T) (*trackingFixture, *models.Order) {
	t.Helper()
	db := newTestDB(t)
	orderRepo := repository.NewOrderRepository(db)
	trackingRepo := repository.NewTrackingRepository(db)
	cache := &fakeCache{}
	hub := tracking.NewHub()

	couponSvc := NewCouponService(repository.NewCouponRepository(db))
	orderSvc := NewOrderService(orderRepo, couponSvc, &fakePublisher{},
		NewTrackingCleaner(trackingRepo, cache), Pricing{DeliveryFee: 30})

	svc := NewTrackingService(orderRepo, trackingRepo, cache, hub, TrackingConfig{
		MinInterval:     0,
		MinDisplacement: 10,
		PersistInterval: 0,
		CacheTTL:        time.Hour,
	})

	f := &trackingFixture{db: db, svc: svc, orderSvc: orderSvc, trackingRepo: trackingRepo, cache: cache, hub: hub}

	order, err := orderSvc.Create(customer, sampleDraft())
	require.NoError(t, err)
	f.walkTo(t, order.ID, models.OrderOnTheWay)
	return f, order
}

// walkTo resumes the happy path from wherever the order currently is.
func (f *trackingFixture) walkTo(t *testing.T, orderID string, want models.OrderStatus) {
	t.Helper()
	ctx := context.Background()

	order, err := f.orderSvc.GetByID(admin, orderID)
	require.NoError(t, err)
	if order.AssignedAgentID == "" {
		require.NoError(t, f.orderSvc.AssignAgent(admin, orderID, agent.UID))
	}

	path := []struct {
		status models.OrderStatus
		by     auth.Principal
	}{
		{models.OrderConfirmed, admin},
		{models.OrderPreparing, admin},
		{models.OrderReady, admin},
		{models.OrderPickedUp, agent},
		{models.OrderOnTheWay, agent},
		{models.OrderDelivered, agent},
	}
	reached := order.Status == models.OrderPending
	for _, step := range path {
		if !reached {
			reached = step.status == order.Status
			continue
		}
		_, err := f.orderSvc.UpdateStatus(ctx, step.by, orderID, step.status)
		require.NoError(t, err)
		if step.status == want {
			return
		}
	}
}

func TestPublishFansOutAndMirrors(t *testing.T) {
	f, order := newTrackingFixture(t)
	ctx := context.Background()

	sub, cancel, last, err := f.svc.Subscribe(ctx, customer, order.ID)
	require.NoError(t, err)
	defer cancel()
	assert.Nil(t, last)

	require.NoError(t, f.svc.Publish(ctx, agent.UID, order.ID, 12.97, 77.59))

	select {
	case evt := <-sub.C:
		assert.Equal(t, tracking.EventPosition, evt.Type)
		require.NotNil(t, evt.Position)
		assert.Equal(t, 12.97, evt.Position.Lat)
		assert.Equal(t, agent.UID, evt.Position.AgentID)
	default:
		t.Fatal("expected a position event in the room")
	}

	// First sample lands in both the cache and the durable mirror.
	cached, err := f.cache.GetLastPosition(ctx, order.ID)
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, 77.59, cached.Lng)

	session, err := f.trackingRepo.GetByOrderID(order.ID)
	require.NoError(t, err)
	assert.Equal(t, agent.UID, session.AgentID)
	assert.Equal(t, models.OrderOnTheWay, session.Status)
}

func TestPublishGuards(t *testing.T) {
	f, order := newTrackingFixture(t)
	ctx := context.Background()

	err := f.svc.Publish(ctx, "agent-2", order.ID, 12.97, 77.59)
	assert.Equal(t, apperr.PermissionDenied, apperr.KindOf(err))

	pending, err := f.orderSvc.Create(customer, sampleDraft())
	require.NoError(t, err)
	err = f.svc.Publish(ctx, agent.UID, pending.ID, 12.97, 77.59)
	assert.Equal(t, apperr.FailedPrecondition, apperr.KindOf(err))

	err = f.svc.Publish(ctx, agent.UID, "missing", 12.97, 77.59)
	assert.Equal(t, apperr.NotFound, apperr.KindOf(err))
}

// TestStationaryAgentIsThrottled publishes the same coordinates twice; the
// second sample moves less than the displacement threshold and is dropped
// without reaching subscribers.
func TestStationaryAgentIsThrottled(t *testing.T) {
	f, order := newTrackingFixture(t)
	ctx := context.Background()

	sub, cancel, _, err := f.svc.Subscribe(ctx, customer, order.ID)
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, f.svc.Publish(ctx, agent.UID, order.ID, 12.97, 77.59))
	require.NoError(t, f.svc.Publish(ctx, agent.UID, order.ID, 12.97, 77.59))

	var got int
	for {
		select {
		case <-sub.C:
			got++
			continue
		default:
		}
		break
	}
	assert.Equal(t, 1, got)

	// A real move passes the threshold and flows through.
	require.NoError(t, f.svc.Publish(ctx, agent.UID, order.ID, 12.98, 77.59))
	select {
	case evt := <-sub.C:
		assert.Equal(t, 12.98, evt.Position.Lat)
	default:
		t.Fatal("expected the moved sample to fan out")
	}
}

func TestSubscribeRequiresTrackedOrder(t *testing.T) {
	f, order := newTrackingFixture(t)
	ctx := context.Background()

	_, _, _, err := f.svc.Subscribe(ctx, auth.Principal{UID: "user-2", Role: auth.RoleCustomer}, order.ID)
	assert.Equal(t, apperr.PermissionDenied, apperr.KindOf(err))

	pending, err := f.orderSvc.Create(customer, sampleDraft())
	require.NoError(t, err)
	_, _, _, err = f.svc.Subscribe(ctx, customer, pending.ID)
	assert.Equal(t, apperr.NotFound, apperr.KindOf(err))
}

func TestSubscribeReplaysLastKnownPosition(t *testing.T) {
	f, order := newTrackingFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.Publish(ctx, agent.UID, order.ID, 12.97, 77.59))

	_, cancel, last, err := f.svc.Subscribe(ctx, customer, order.ID)
	require.NoError(t, err)
	defer cancel()
	require.NotNil(t, last)
	assert.Equal(t, 12.97, last.Lat)

	// With the cache cold the durable mirror still answers.
	require.NoError(t, f.cache.DeleteLastPosition(ctx, order.ID))
	pos, err := f.svc.LastPosition(ctx, customer, order.ID)
	require.NoError(t, err)
	assert.Equal(t, 12.97, pos.Lat)
}

func TestLastPositionNotFoundWithoutSession(t *testing.T) {
	f, order := newTrackingFixture(t)

	_, err := f.svc.LastPosition(context.Background(), customer, order.ID)
	assert.Equal(t, apperr.NotFound, apperr.KindOf(err))
}

// TestDeliveryTearsTrackingDown drives the order terminal and checks the full
// teardown chain: durable session and cache gone, close notice published, and
// a fresh subscription refused.
func TestDeliveryTearsTrackingDown(t *testing.T) {
	f, order := newTrackingFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.Publish(ctx, agent.UID, order.ID, 12.97, 77.59))
	sub, cancel, _, err := f.svc.Subscribe(ctx, customer, order.ID)
	require.NoError(t, err)
	defer cancel()
	<-sub.C // drain the position event

	f.walkTo(t, order.ID, models.OrderDelivered)

	_, err = f.trackingRepo.GetByOrderID(order.ID)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
	cached, err := f.cache.GetLastPosition(ctx, order.ID)
	require.NoError(t, err)
	assert.Nil(t, cached)
	assert.Equal(t, []string{order.ID}, f.cache.closed)

	// The tracker process reacts to the close notice by closing the room.
	f.svc.CloseRoom(ctx, order.ID)
	evt, ok := <-sub.C
	require.True(t, ok)
	assert.Equal(t, tracking.EventClosed, evt.Type)
	_, ok = <-sub.C
	assert.False(t, ok)
	assert.Equal(t, 0, f.hub.RoomSize(order.ID))

	_, _, _, err = f.svc.Subscribe(ctx, customer, order.ID)
	assert.Equal(t, apperr.NotFound, apperr.KindOf(err))
}

func TestRunControlLoopClosesRooms(t *testing.T) {
	f, order := newTrackingFixture(t)
	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	sub, cancel, _, err := f.svc.Subscribe(ctx, customer, order.ID)
	require.NoError(t, err)
	defer cancel()

	closed := make(chan string, 1)
	done := make(chan struct{})
	go func() {
		f.svc.RunControlLoop(ctx, closed)
		close(done)
	}()

	closed <- order.ID

	select {
	case evt := <-sub.C:
		assert.Equal(t, tracking.EventClosed, evt.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("control loop did not close the room")
	}

	stop()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("control loop did not stop on context cancel")
	}
}
