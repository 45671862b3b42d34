package services

import (
	"context"
	"errors"
	"log"
	"math"
	"sync"
	"time"

	"quickbite/internal/apperr"
	"quickbite/internal/auth"
	"quickbite/internal/models"
	"quickbite/internal/repository"
	"quickbite/internal/tracking"

	"gorm.io/gorm"
)

// PositionCache is the fast side-channel for reconnect recovery and
// cross-process teardown notices.
type PositionCache interface {
	SetLastPosition(ctx context.Context, pos *models.Position, ttl time.Duration) error
	GetLastPosition(ctx context.Context, orderID string) (*models.Position, error)
	DeleteLastPosition(ctx context.Context, orderID string) error
	PublishTrackingClosed(ctx context.Context, orderID string) error
}

// TrackingConfig tunes the publish cadence: a sample is fanned out only when
// both the minimum interval has elapsed and the agent moved far enough, so a
// stationary agent does not flood the room. Durable writes are further
// debounced by PersistInterval.
type TrackingConfig struct {
	MinInterval     time.Duration
	MinDisplacement float64 // meters
	PersistInterval time.Duration
	CacheTTL        time.Duration
}

type TrackingService interface {
	Publish(ctx context.Context, agentID, orderID string, lat, lng float64) error
	Subscribe(ctx context.Context, principal auth.Principal, orderID string) (*tracking.Subscriber, func(), *models.Position, error)
	LastPosition(ctx context.Context, principal auth.Principal, orderID string) (*models.Position, error)
	CloseRoom(ctx context.Context, orderID string)
	RunControlLoop(ctx context.Context, closed <-chan string)
}

type publisherState struct {
	lastLat, lastLng float64
	lastAcceptedAt   time.Time
	lastPersistedAt  time.Time
}

type trackingService struct {
	orderRepo    repository.OrderRepository
	trackingRepo repository.TrackingRepository
	cache        PositionCache
	hub          *tracking.Hub
	cfg          TrackingConfig

	mu    sync.Mutex
	state map[string]*publisherState
}

func NewTrackingService(
	orderRepo repository.OrderRepository,
	trackingRepo repository.TrackingRepository,
	cache PositionCache,
	hub *tracking.Hub,
	cfg TrackingConfig,
) TrackingService {
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = time.Hour
	}
	return &trackingService{
		orderRepo:    orderRepo,
		trackingRepo: trackingRepo,
		cache:        cache,
		hub:          hub,
		cfg:          cfg,
		state:        make(map[string]*publisherState),
	}
}

// Publish ingests one position sample from the delivery agent. Samples below
// the cadence thresholds are silently dropped; accepted samples fan out to
// the room, refresh the cache and debounce into durable storage.
func (s *trackingService) Publish(ctx context.Context, agentID, orderID string, lat, lng float64) error {
	order, err := s.loadOrder(orderID)
	if err != nil {
		return err
	}
	if !order.Status.Tracked() {
		return apperr.New(apperr.FailedPrecondition, "order is not being delivered")
	}
	if order.AssignedAgentID != agentID {
		return apperr.New(apperr.PermissionDenied, "not the assigned delivery agent")
	}

	now := time.Now()
	accepted, persist := s.admitSample(orderID, lat, lng, now)
	if !accepted {
		return nil
	}

	pos := &models.Position{
		OrderID: orderID,
		AgentID: agentID,
		Lat:     lat,
		Lng:     lng,
		At:      now,
	}

	s.hub.Publish(orderID, tracking.Event{Type: tracking.EventPosition, Position: pos})

	if err := s.cache.SetLastPosition(ctx, pos, s.cfg.CacheTTL); err != nil {
		log.Printf("Failed to cache position for order %s: %v", orderID, err)
	}

	if persist {
		session := &models.TrackingSession{
			OrderID:   orderID,
			AgentID:   agentID,
			Lat:       lat,
			Lng:       lng,
			Status:    order.Status,
			UpdatedAt: now,
		}
		if err := s.trackingRepo.Upsert(session); err != nil {
			return apperr.Wrap(apperr.Internal, "failed to persist tracking session", err)
		}
	}

	return nil
}

// admitSample applies the cadence thresholds and decides whether the durable
// mirror is due for a write. The first sample for an order both fans out and
// persists (it implicitly creates the session).
func (s *trackingService) admitSample(orderID string, lat, lng float64, now time.Time) (accepted, persist bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.state[orderID]
	if !ok {
		s.state[orderID] = &publisherState{
			lastLat: lat, lastLng: lng,
			lastAcceptedAt:  now,
			lastPersistedAt: now,
		}
		return true, true
	}

	if now.Sub(st.lastAcceptedAt) < s.cfg.MinInterval {
		return false, false
	}
	if haversineMeters(st.lastLat, st.lastLng, lat, lng) < s.cfg.MinDisplacement {
		return false, false
	}

	st.lastLat, st.lastLng = lat, lng
	st.lastAcceptedAt = now
	if now.Sub(st.lastPersistedAt) >= s.cfg.PersistInterval {
		st.lastPersistedAt = now
		return true, true
	}
	return true, false
}

// Subscribe joins the caller to the order's room and returns the last known
// position so the client can render before the next live sample.
func (s *trackingService) Subscribe(ctx context.Context, principal auth.Principal, orderID string) (*tracking.Subscriber, func(), *models.Position, error) {
	order, err := s.loadOrder(orderID)
	if err != nil {
		return nil, nil, nil, err
	}
	if !canView(principal, order) {
		return nil, nil, nil, apperr.New(apperr.PermissionDenied, "not authorized for this order")
	}
	if !order.Status.Tracked() {
		return nil, nil, nil, apperr.New(apperr.NotFound, "no tracking session for this order")
	}

	sub, cancel := s.hub.Subscribe(orderID)
	last := s.lastKnown(ctx, orderID)
	return sub, cancel, last, nil
}

func (s *trackingService) LastPosition(ctx context.Context, principal auth.Principal, orderID string) (*models.Position, error) {
	order, err := s.loadOrder(orderID)
	if err != nil {
		return nil, err
	}
	if !canView(principal, order) {
		return nil, apperr.New(apperr.PermissionDenied, "not authorized for this order")
	}

	if last := s.lastKnown(ctx, orderID); last != nil {
		return last, nil
	}
	return nil, apperr.New(apperr.NotFound, "no tracking session for this order")
}

// lastKnown prefers the cache and falls back to the durable mirror.
func (s *trackingService) lastKnown(ctx context.Context, orderID string) *models.Position {
	if pos, err := s.cache.GetLastPosition(ctx, orderID); err == nil && pos != nil {
		return pos
	}

	session, err := s.trackingRepo.GetByOrderID(orderID)
	if err != nil {
		return nil
	}
	return &models.Position{
		OrderID: session.OrderID,
		AgentID: session.AgentID,
		Lat:     session.Lat,
		Lng:     session.Lng,
		At:      session.UpdatedAt,
	}
}

func (s *trackingService) CloseRoom(ctx context.Context, orderID string) {
	s.hub.CloseRoom(orderID)

	s.mu.Lock()
	delete(s.state, orderID)
	s.mu.Unlock()
}

// RunControlLoop consumes teardown notices published by the API server and
// closes the matching rooms. Blocks until ctx is cancelled.
func (s *trackingService) RunControlLoop(ctx context.Context, closed <-chan string) {
	for {
		select {
		case <-ctx.Done():
			return
		case orderID, ok := <-closed:
			if !ok {
				return
			}
			log.Printf("Closing tracking room for order %s", orderID)
			s.CloseRoom(ctx, orderID)
		}
	}
}

func (s *trackingService) loadOrder(orderID string) (*models.Order, error) {
	order, err := s.orderRepo.GetByID(orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.New(apperr.NotFound, "order not found")
		}
		return nil, apperr.Wrap(apperr.Internal, "failed to load order", err)
	}
	return order, nil
}

const earthRadiusMeters = 6371000

func haversineMeters(lat1, lng1, lat2, lng2 float64) float64 {
	toRad := func(deg float64) float64 { return deg * math.Pi / 180 }
	dLat := toRad(lat2 - lat1)
	dLng := toRad(lng2 - lng1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusMeters * math.Asin(math.Sqrt(a))
}

// trackingCleanup is the API-server side of teardown: it removes the durable
// session and cache entry, then notifies tracker instances over the control
// channel. Absence of a session is not an error.
type trackingCleanup struct {
	trackingRepo repository.TrackingRepository
	cache        PositionCache
}

func NewTrackingCleaner(trackingRepo repository.TrackingRepository, cache PositionCache) TrackingCleaner {
	return &trackingCleanup{trackingRepo: trackingRepo, cache: cache}
}

func (c *trackingCleanup) Teardown(ctx context.Context, orderID string) error {
	if err := c.trackingRepo.Delete(orderID); err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	if err := c.cache.DeleteLastPosition(ctx, orderID); err != nil {
		log.Printf("Failed to clear cached position for order %s: %v", orderID, err)
	}
	return c.cache.PublishTrackingClosed(ctx, orderID)
}
