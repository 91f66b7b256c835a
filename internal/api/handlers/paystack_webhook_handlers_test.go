package handlers

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sendramp/ramp-service/internal/domain/entities"
	domainerrors "github.com/sendramp/ramp-service/internal/domain/errors"
	"github.com/sendramp/ramp-service/pkg/logger"
)

const testSecret = "sk_test_secret"

type fakeReconciler struct {
	mu     sync.Mutex
	events []entities.PaymentEvent
	err    error
}

func (f *fakeReconciler) Reconcile(_ context.Context, event entities.PaymentEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return f.err
}

type fakeFinalizer struct {
	mu        sync.Mutex
	completed []string
	failed    []string
}

func (f *fakeFinalizer) HandleTransferCompleted(_ context.Context, reference string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, reference)
	return nil
}

func (f *fakeFinalizer) HandleTransferFailed(_ context.Context, reference, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = append(f.failed, reference)
	return nil
}

// fakeRedis is an in-memory SetNX store.
type fakeRedis struct {
	mu   sync.Mutex
	keys map[string]string
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{keys: make(map[string]string)}
}

func (f *fakeRedis) SetNX(_ context.Context, key, value string, _ time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.keys[key]; ok {
		return false, nil
	}
	f.keys[key] = value
	return true, nil
}

func (f *fakeRedis) Del(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.keys, key)
	return nil
}

func (f *fakeRedis) Exists(_ context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.keys[key]
	return ok, nil
}

func (f *fakeRedis) Ping(context.Context) error { return nil }
func (f *fakeRedis) Close() error               { return nil }

func sign(body []byte) string {
	mac := hmac.New(sha512.New, []byte(testSecret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func setupWebhookRouter(reconciler *fakeReconciler, finalizer *fakeFinalizer, redis *fakeRedis) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewPaystackWebhookHandlers(reconciler, finalizer, redis, testSecret, logger.New("debug", "test"))
	router := gin.New()
	router.POST("/webhooks/paystack", h.HandleEvent)
	return router
}

func postWebhook(router *gin.Engine, body []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/paystack", bytes.NewReader(body))
	if signature != "" {
		req.Header.Set("x-paystack-signature", signature)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHandleEvent_ValidChargeSuccess(t *testing.T) {
	reconciler := &fakeReconciler{}
	router := setupWebhookRouter(reconciler, &fakeFinalizer{}, newFakeRedis())

	body := []byte(`{
		"event": "charge.success",
		"data": {
			"reference": "ref-1",
			"amount": 1000000,
			"currency": "NGN",
			"status": "success",
			"paid_at": "2025-06-01T12:00:00Z",
			"metadata": {"transaction_id": "tx-1", "destination_address": "0xabc"}
		}
	}`)

	w := postWebhook(router, body, sign(body))
	assert.Equal(t, http.StatusOK, w.Code)

	require.Len(t, reconciler.events, 1)
	event := reconciler.events[0]
	assert.Equal(t, "charge.success", event.EventType)
	assert.Equal(t, "ref-1", event.Reference)
	assert.Equal(t, int64(1000000), event.AmountMinor)
	assert.Equal(t, "tx-1", event.TransactionID)
	assert.Equal(t, "0xabc", event.DestinationAddress)
	assert.Equal(t, 2025, event.PaidAt.Year())
}

func TestHandleEvent_InvalidSignatureRejectedBeforeLedger(t *testing.T) {
	reconciler := &fakeReconciler{}
	router := setupWebhookRouter(reconciler, &fakeFinalizer{}, newFakeRedis())

	body := []byte(`{"event":"charge.success","data":{"reference":"ref-1","amount":1}}`)

	w := postWebhook(router, body, "deadbeef")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, reconciler.events)

	w = postWebhook(router, body, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, reconciler.events)
}

func TestHandleEvent_DuplicateDeliveryShortCircuits(t *testing.T) {
	reconciler := &fakeReconciler{}
	router := setupWebhookRouter(reconciler, &fakeFinalizer{}, newFakeRedis())

	body := []byte(`{"event":"charge.success","data":{"reference":"ref-1","amount":1000000,"metadata":{"transaction_id":"tx-1"}}}`)
	signature := sign(body)

	assert.Equal(t, http.StatusOK, postWebhook(router, body, signature).Code)
	assert.Equal(t, http.StatusOK, postWebhook(router, body, signature).Code)
	assert.Equal(t, http.StatusOK, postWebhook(router, body, signature).Code)

	assert.Len(t, reconciler.events, 1, "replays must not reach the reconciler")
}

func TestHandleEvent_RejectedEventStillReturns200(t *testing.T) {
	reconciler := &fakeReconciler{err: domainerrors.ValidationError("amount", "mismatch")}
	router := setupWebhookRouter(reconciler, &fakeFinalizer{}, newFakeRedis())

	body := []byte(`{"event":"charge.success","data":{"reference":"ref-1","amount":99,"metadata":{"transaction_id":"tx-1"}}}`)
	w := postWebhook(router, body, sign(body))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandleEvent_TransientFailureAsksForRetry(t *testing.T) {
	reconciler := &fakeReconciler{err: domainerrors.TransientError("gateway", nil)}
	redis := newFakeRedis()
	router := setupWebhookRouter(reconciler, &fakeFinalizer{}, redis)

	body := []byte(`{"event":"charge.success","data":{"reference":"ref-1","amount":1000000,"metadata":{"transaction_id":"tx-1"}}}`)
	w := postWebhook(router, body, sign(body))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	// The replay guard must be released so the redelivery reaches the ledger.
	reconciler.err = nil
	w = postWebhook(router, body, sign(body))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, reconciler.events, 2)
}

func TestHandleEvent_TransferEventsRouteToOfframp(t *testing.T) {
	finalizer := &fakeFinalizer{}
	router := setupWebhookRouter(&fakeReconciler{}, finalizer, newFakeRedis())

	success := []byte(`{"event":"transfer.success","data":{"reference":"offramp-1"}}`)
	assert.Equal(t, http.StatusOK, postWebhook(router, success, sign(success)).Code)

	failed := []byte(`{"event":"transfer.failed","data":{"reference":"offramp-2","reason":"invalid account"}}`)
	assert.Equal(t, http.StatusOK, postWebhook(router, failed, sign(failed)).Code)

	assert.Equal(t, []string{"offramp-1"}, finalizer.completed)
	assert.Equal(t, []string{"offramp-2"}, finalizer.failed)
}

func TestHandleEvent_UnknownEventIgnored(t *testing.T) {
	reconciler := &fakeReconciler{}
	finalizer := &fakeFinalizer{}
	router := setupWebhookRouter(reconciler, finalizer, newFakeRedis())

	body := []byte(`{"event":"subscription.create","data":{"reference":"sub-1"}}`)
	assert.Equal(t, http.StatusOK, postWebhook(router, body, sign(body)).Code)
	assert.Empty(t, reconciler.events)
	assert.Empty(t, finalizer.completed)
}

func TestHandleEvent_MissingReferenceRejected(t *testing.T) {
	router := setupWebhookRouter(&fakeReconciler{}, &fakeFinalizer{}, newFakeRedis())
	body := []byte(`{"event":"charge.success","data":{"amount":100}}`)
	assert.Equal(t, http.StatusBadRequest, postWebhook(router, body, sign(body)).Code)
}
