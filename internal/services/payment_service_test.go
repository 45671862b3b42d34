package services

import (
	"context"
	"fmt"
	"testing"

	"quickbite/internal/apperr"
	"quickbite/internal/auth"
	"quickbite/internal/models"
	"quickbite/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const (
	testKeySecret     = "key-secret"
	testWebhookSecret = "webhook-secret"
)

type paymentFixture struct {
	db        *gorm.DB
	svc       PaymentService
	orderSvc  OrderService
	orderRepo repository.OrderRepository
	processor *fakeProcessor
	deduper   *fakeDeduper
}

func newPaymentFixture(t *testing.T) *paymentFixture {
	t.Helper()
	db := newTestDB(t)
	orderRepo := repository.NewOrderRepository(db)
	couponSvc := NewCouponService(repository.NewCouponRepository(db))
	orderSvc := NewOrderService(orderRepo, couponSvc, &fakePublisher{}, &fakeCleaner{}, Pricing{DeliveryFee: 30})
	processor := &fakeProcessor{}
	deduper := &fakeDeduper{}
	svc := NewPaymentService(
		orderRepo,
		repository.NewPaymentRepository(db),
		processor,
		deduper,
		testKeySecret,
		testWebhookSecret,
	)
	return &paymentFixture{db: db, svc: svc, orderSvc: orderSvc, orderRepo: orderRepo, processor: processor, deduper: deduper}
}

func (f *paymentFixture) newOnlineOrder(t *testing.T) *models.Order {
	t.Helper()
	draft := sampleDraft()
	draft.PaymentMethod = models.PaymentOnline
	order, err := f.orderSvc.Create(customer, draft)
	require.NoError(t, err)
	return order
}

func (f *paymentFixture) reload(t *testing.T, orderID string) *models.Order {
	t.Helper()
	order, err := f.orderRepo.GetByID(orderID)
	require.NoError(t, err)
	return order
}

func TestCreateIntentIsIdempotentPerOrder(t *testing.T) {
	f := newPaymentFixture(t)
	order := f.newOnlineOrder(t)
	ctx := context.Background()

	first, err := f.svc.CreateIntent(ctx, customer, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.IntentCreated, first.Status)
	assert.Equal(t, order.FinalAmount, first.Amount)

	// The amount is converted to the processor's minor unit server-side.
	assert.Equal(t, int64(order.FinalAmount*100), f.processor.lastReq.Amount)
	assert.Equal(t, order.ID, f.processor.lastReq.Notes["order_id"])

	second, err := f.svc.CreateIntent(ctx, customer, order.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, f.processor.calls)
}

// TestCreateIntentRaceReturnsWinner: when another request persisted its
// intent first, the losing request answers with that intent rather than an
// internal error on the unique index.
func TestCreateIntentRaceReturnsWinner(t *testing.T) {
	f := newPaymentFixture(t)
	order := f.newOnlineOrder(t)

	winner := &models.PaymentIntent{
		ID:       "intent_winner",
		OrderID:  order.ID,
		Amount:   order.FinalAmount,
		Currency: "INR",
		Status:   models.IntentCreated,
	}
	require.NoError(t, repository.NewPaymentRepository(f.db).CreateIntent(winner))

	intent, err := f.svc.CreateIntent(context.Background(), customer, order.ID)
	require.NoError(t, err)
	assert.Equal(t, "intent_winner", intent.ID)
}

func TestCreateIntentGuards(t *testing.T) {
	f := newPaymentFixture(t)
	ctx := context.Background()

	online := f.newOnlineOrder(t)
	stranger := auth.Principal{UID: "user-2", Role: auth.RoleCustomer}
	_, err := f.svc.CreateIntent(ctx, stranger, online.ID)
	assert.Equal(t, apperr.PermissionDenied, apperr.KindOf(err))

	cod, err := f.orderSvc.Create(customer, sampleDraft())
	require.NoError(t, err)
	_, err = f.svc.CreateIntent(ctx, customer, cod.ID)
	assert.Equal(t, apperr.InvalidArgument, apperr.KindOf(err))

	_, err = f.svc.CreateIntent(ctx, customer, "missing")
	assert.Equal(t, apperr.NotFound, apperr.KindOf(err))
}

func TestVerifyInteractiveMarksPaid(t *testing.T) {
	f := newPaymentFixture(t)
	ctx := context.Background()
	order := f.newOnlineOrder(t)

	intent, err := f.svc.CreateIntent(ctx, customer, order.ID)
	require.NoError(t, err)

	sig := signHMAC(testKeySecret, []byte(intent.ID+"|pay_1"))
	require.NoError(t, f.svc.VerifyInteractive(ctx, customer, intent.ID, "pay_1", sig, order.ID))

	paid := f.reload(t, order.ID)
	assert.Equal(t, models.PaymentStatusPaid, paid.PaymentStatus)
	assert.Equal(t, "pay_1", paid.PaymentID)
	require.NotNil(t, paid.PaidAt)
	firstPaidAt := *paid.PaidAt

	// Re-verification of the same payment is accepted without side effects.
	require.NoError(t, f.svc.VerifyInteractive(ctx, customer, intent.ID, "pay_1", sig, order.ID))
	again := f.reload(t, order.ID)
	require.NotNil(t, again.PaidAt)
	assert.True(t, again.PaidAt.Equal(firstPaidAt))
}

func TestVerifyInteractiveTamperedSignature(t *testing.T) {
	f := newPaymentFixture(t)
	ctx := context.Background()
	order := f.newOnlineOrder(t)

	intent, err := f.svc.CreateIntent(ctx, customer, order.ID)
	require.NoError(t, err)

	err = f.svc.VerifyInteractive(ctx, customer, intent.ID, "pay_1", "deadbeef", order.ID)
	require.Error(t, err)
	assert.Equal(t, apperr.PermissionDenied, apperr.KindOf(err))

	failed := f.reload(t, order.ID)
	assert.Equal(t, models.PaymentStatusFailed, failed.PaymentStatus)
	assert.Empty(t, failed.PaymentID)
}

func TestVerifyInteractivePaidNeverDowngraded(t *testing.T) {
	f := newPaymentFixture(t)
	ctx := context.Background()
	order := f.newOnlineOrder(t)

	intent, err := f.svc.CreateIntent(ctx, customer, order.ID)
	require.NoError(t, err)

	sig := signHMAC(testKeySecret, []byte(intent.ID+"|pay_1"))
	require.NoError(t, f.svc.VerifyInteractive(ctx, customer, intent.ID, "pay_1", sig, order.ID))

	// A bad signature arriving after payment is rejected but cannot undo it.
	err = f.svc.VerifyInteractive(ctx, customer, intent.ID, "pay_1", "deadbeef", order.ID)
	require.Error(t, err)

	still := f.reload(t, order.ID)
	assert.Equal(t, models.PaymentStatusPaid, still.PaymentStatus)
	assert.Equal(t, "pay_1", still.PaymentID)
}

func webhookBody(event, paymentID, orderID, errDesc string) []byte {
	return []byte(fmt.Sprintf(
		`{"event":%q,"payload":{"payment":{"entity":{"id":%q,"notes":{"order_id":%q},"error_description":%q}}}}`,
		event, paymentID, orderID, errDesc,
	))
}

func TestWebhookCapturedMarksPaid(t *testing.T) {
	f := newPaymentFixture(t)
	ctx := context.Background()
	order := f.newOnlineOrder(t)
	_, err := f.svc.CreateIntent(ctx, customer, order.ID)
	require.NoError(t, err)

	body := webhookBody("payment.captured", "pay_7", order.ID, "")
	require.NoError(t, f.svc.HandleWebhook(ctx, body, signHMAC(testWebhookSecret, body)))

	paid := f.reload(t, order.ID)
	assert.Equal(t, models.PaymentStatusPaid, paid.PaymentStatus)
	assert.Equal(t, "pay_7", paid.PaymentID)

	// Exact redelivery is absorbed by the dedup marker.
	require.NoError(t, f.svc.HandleWebhook(ctx, body, signHMAC(testWebhookSecret, body)))
	assert.Equal(t, models.PaymentStatusPaid, f.reload(t, order.ID).PaymentStatus)
}

// flakyOrderRepo fails a set number of reads before behaving normally,
// standing in for a store that is transiently down.
type flakyOrderRepo struct {
	repository.OrderRepository
	failures int
}

func (r *flakyOrderRepo) GetByID(id string) (*models.Order, error) {
	if r.failures > 0 {
		r.failures--
		return nil, fmt.Errorf("connection reset")
	}
	return r.OrderRepository.GetByID(id)
}

// TestWebhookRetryAfterStoreFailure: a delivery that fails mid-application
// must not poison the dedup marker; the processor's retry of the identical
// event has to land.
func TestWebhookRetryAfterStoreFailure(t *testing.T) {
	db := newTestDB(t)
	orderRepo := repository.NewOrderRepository(db)
	couponSvc := NewCouponService(repository.NewCouponRepository(db))
	orderSvc := NewOrderService(orderRepo, couponSvc, &fakePublisher{}, &fakeCleaner{}, Pricing{DeliveryFee: 30})
	flaky := &flakyOrderRepo{OrderRepository: orderRepo, failures: 1}
	svc := NewPaymentService(flaky, repository.NewPaymentRepository(db), &fakeProcessor{}, &fakeDeduper{},
		testKeySecret, testWebhookSecret)

	draft := sampleDraft()
	draft.PaymentMethod = models.PaymentOnline
	order, err := orderSvc.Create(customer, draft)
	require.NoError(t, err)

	ctx := context.Background()
	body := webhookBody("payment.captured", "pay_13", order.ID, "")
	sig := signHMAC(testWebhookSecret, body)

	require.Error(t, svc.HandleWebhook(ctx, body, sig))
	reloaded, err := orderRepo.GetByID(order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPending, reloaded.PaymentStatus)

	// Identical redelivery applies cleanly.
	require.NoError(t, svc.HandleWebhook(ctx, body, sig))
	reloaded, err = orderRepo.GetByID(order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPaid, reloaded.PaymentStatus)

	// A third copy is now a true duplicate and stays absorbed.
	require.NoError(t, svc.HandleWebhook(ctx, body, sig))
	assert.Equal(t, models.PaymentStatusPaid, reloaded.PaymentStatus)
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	f := newPaymentFixture(t)
	ctx := context.Background()
	order := f.newOnlineOrder(t)

	body := webhookBody("payment.captured", "pay_7", order.ID, "")
	err := f.svc.HandleWebhook(ctx, body, "deadbeef")
	require.Error(t, err)
	assert.Equal(t, apperr.PermissionDenied, apperr.KindOf(err))

	// Signature covers the exact bytes: any mutation invalidates it.
	sig := signHMAC(testWebhookSecret, body)
	tampered := append([]byte(nil), body...)
	tampered[len(tampered)-2] = ' '
	err = f.svc.HandleWebhook(ctx, tampered, sig)
	require.Error(t, err)

	// The order was never touched.
	assert.Equal(t, models.PaymentStatusPending, f.reload(t, order.ID).PaymentStatus)
}

func TestWebhookFailedEvent(t *testing.T) {
	f := newPaymentFixture(t)
	ctx := context.Background()
	order := f.newOnlineOrder(t)

	body := webhookBody("payment.failed", "pay_8", order.ID, "card declined")
	require.NoError(t, f.svc.HandleWebhook(ctx, body, signHMAC(testWebhookSecret, body)))

	failed := f.reload(t, order.ID)
	assert.Equal(t, models.PaymentStatusFailed, failed.PaymentStatus)
	assert.Equal(t, "card declined", failed.PaymentError)
}

func TestWebhookFailureCannotDowngradePaid(t *testing.T) {
	f := newPaymentFixture(t)
	ctx := context.Background()
	order := f.newOnlineOrder(t)

	captured := webhookBody("payment.captured", "pay_9", order.ID, "")
	require.NoError(t, f.svc.HandleWebhook(ctx, captured, signHMAC(testWebhookSecret, captured)))

	late := webhookBody("payment.failed", "pay_10", order.ID, "timeout")
	require.NoError(t, f.svc.HandleWebhook(ctx, late, signHMAC(testWebhookSecret, late)))

	still := f.reload(t, order.ID)
	assert.Equal(t, models.PaymentStatusPaid, still.PaymentStatus)
	assert.Empty(t, still.PaymentError)
}

func TestWebhookIgnoresUnknownEvents(t *testing.T) {
	f := newPaymentFixture(t)
	ctx := context.Background()
	order := f.newOnlineOrder(t)

	body := webhookBody("refund.created", "pay_11", order.ID, "")
	require.NoError(t, f.svc.HandleWebhook(ctx, body, signHMAC(testWebhookSecret, body)))
	assert.Equal(t, models.PaymentStatusPending, f.reload(t, order.ID).PaymentStatus)
}

func TestWebhookRequiresOrderReference(t *testing.T) {
	f := newPaymentFixture(t)

	body := []byte(`{"event":"payment.captured","payload":{"payment":{"entity":{"id":"pay_12","notes":{}}}}}`)
	err := f.svc.HandleWebhook(context.Background(), body, signHMAC(testWebhookSecret, body))
	require.Error(t, err)
	assert.Equal(t, apperr.InvalidArgument, apperr.KindOf(err))
}
