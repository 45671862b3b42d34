package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"quickbite/internal/database"
	"quickbite/internal/events"
	"quickbite/internal/models"
	"quickbite/pkg/razorpay"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// newTestDB opens an isolated in-memory database. The pool is pinned to one
// connection so concurrent transactions in tests serialize the way the
// production store serializes conflicting writes.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, database.AutoMigrate(db))
	return db
}

type fakePublisher struct {
	mu     sync.Mutex
	events []events.StatusChange
}

func (f *fakePublisher) PublishStatusChange(_ context.Context, evt events.StatusChange) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, evt)
	return nil
}

func (f *fakePublisher) published() []events.StatusChange {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]events.StatusChange, len(f.events))
	copy(out, f.events)
	return out
}

type fakeCleaner struct {
	mu       sync.Mutex
	tornDown []string
}

func (f *fakeCleaner) Teardown(_ context.Context, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tornDown = append(f.tornDown, orderID)
	return nil
}

func (f *fakeCleaner) orders() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.tornDown))
	copy(out, f.tornDown)
	return out
}

type fakeProcessor struct {
	mu       sync.Mutex
	calls    int
	lastReq  razorpay.CreateOrderRequest
	nextID   string
	failWith error
}

func (f *fakeProcessor) CreateOrder(_ context.Context, req razorpay.CreateOrderRequest) (*razorpay.OrderResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastReq = req
	if f.failWith != nil {
		return nil, f.failWith
	}
	id := f.nextID
	if id == "" {
		id = "intent_test_1"
	}
	return &razorpay.OrderResponse{
		ID:       id,
		Amount:   req.Amount,
		Currency: req.Currency,
		Receipt:  req.Receipt,
		Status:   "created",
	}, nil
}

type fakeDeduper struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (f *fakeDeduper) MarkWebhookEvent(_ context.Context, eventID string, _ time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.seen == nil {
		f.seen = make(map[string]bool)
	}
	if f.seen[eventID] {
		return false, nil
	}
	f.seen[eventID] = true
	return true, nil
}

func (f *fakeDeduper) UnmarkWebhookEvent(_ context.Context, eventID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.seen, eventID)
	return nil
}

type fakeCache struct {
	mu        sync.Mutex
	positions map[string]*models.Position
	closed    []string
}

func (f *fakeCache) SetLastPosition(_ context.Context, pos *models.Position, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.positions == nil {
		f.positions = make(map[string]*models.Position)
	}
	f.positions[pos.OrderID] = pos
	return nil
}

func (f *fakeCache) GetLastPosition(_ context.Context, orderID string) (*models.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.positions[orderID], nil
}

func (f *fakeCache) DeleteLastPosition(_ context.Context, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.positions, orderID)
	return nil
}

func (f *fakeCache) PublishTrackingClosed(_ context.Context, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, orderID)
	return nil
}
