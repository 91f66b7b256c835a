package handlers

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sendramp/ramp-service/internal/domain/entities"
	domainerrors "github.com/sendramp/ramp-service/internal/domain/errors"
	"github.com/sendramp/ramp-service/internal/infrastructure/cache"
	"github.com/sendramp/ramp-service/pkg/logger"
	"github.com/sendramp/ramp-service/pkg/metrics"
)

const (
	signatureHeader = "x-paystack-signature"
	// replayTTL bounds how long a processed event id blocks replays.
	replayTTL = 24 * time.Hour
)

// PaymentReconciler drives charge events against the on-ramp ledger.
type PaymentReconciler interface {
	Reconcile(ctx context.Context, event entities.PaymentEvent) error
}

// TransferFinalizer drives transfer events against the off-ramp ledger.
type TransferFinalizer interface {
	HandleTransferCompleted(ctx context.Context, reference string) error
	HandleTransferFailed(ctx context.Context, reference, reason string) error
}

// PaystackWebhookHandlers handles inbound Paystack webhook events.
type PaystackWebhookHandlers struct {
	onramp    PaymentReconciler
	offramp   TransferFinalizer
	redis     cache.RedisClient
	secretKey string
	logger    *logger.Logger
}

func NewPaystackWebhookHandlers(
	onramp PaymentReconciler,
	offramp TransferFinalizer,
	redis cache.RedisClient,
	secretKey string,
	log *logger.Logger,
) *PaystackWebhookHandlers {
	return &PaystackWebhookHandlers{
		onramp:    onramp,
		offramp:   offramp,
		redis:     redis,
		secretKey: secretKey,
		logger:    log,
	}
}

// webhookPayload is the envelope Paystack posts for every event type.
type webhookPayload struct {
	Event string `json:"event"`
	Data  struct {
		Reference string `json:"reference"`
		Amount    int64  `json:"amount"` // minor units
		Currency  string `json:"currency"`
		Status    string `json:"status"`
		Reason    string `json:"reason"`
		PaidAt    string `json:"paid_at"`
		Metadata  struct {
			TransactionID      string `json:"transaction_id"`
			DestinationAddress string `json:"destination_address"`
		} `json:"metadata"`
	} `json:"data"`
}

// HandleEvent processes a Paystack webhook delivery.
// POST /webhooks/paystack
//
// The raw body's HMAC-SHA512 must match the signature header; anything else
// is rejected before any ledger access. Once an event is recorded (or seen
// before) the response is 200 so the gateway stops retrying; reconciliation
// outcomes are visible through the transaction status, not the webhook reply.
func (h *PaystackWebhookHandlers) HandleEvent(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		respondError(c, http.StatusBadRequest, ErrCodeInvalidRequest, "unable to read request body")
		return
	}

	if !h.validSignature(body, c.GetHeader(signatureHeader)) {
		h.logger.Warn("webhook signature mismatch", "client_ip", c.ClientIP())
		metrics.WebhooksProcessed.WithLabelValues("rejected").Inc()
		respondError(c, http.StatusUnauthorized, ErrCodeInvalidSignature, "signature verification failed")
		return
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		respondError(c, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid payload")
		return
	}
	if payload.Data.Reference == "" {
		respondError(c, http.StatusBadRequest, ErrCodeInvalidRequest, "event carries no reference")
		return
	}

	// Replay guard: the same (event, reference) pair is processed once. A
	// lost guard write fails open; the ledger's conditional updates are the
	// real idempotency barrier.
	guardKey := "webhook:paystack:" + payload.Event + ":" + payload.Data.Reference
	if fresh, err := h.redis.SetNX(c.Request.Context(), guardKey, "1", replayTTL); err == nil && !fresh {
		h.logger.Info("duplicate webhook delivery",
			"event", payload.Event,
			"reference", payload.Data.Reference,
		)
		metrics.WebhooksProcessed.WithLabelValues("duplicate").Inc()
		c.JSON(http.StatusOK, gin.H{"status": "duplicate"})
		return
	}

	if err := h.dispatch(c, payload); err != nil {
		// Validation failures are final; transient ones ask for a retry.
		// Release the guard so the redelivery is not mistaken for a replay.
		if domainerrors.IsRetryable(err) {
			if delErr := h.redis.Del(c.Request.Context(), guardKey); delErr != nil {
				h.logger.Warn("failed to release webhook guard", "key", guardKey, "error", delErr)
			}
			respondError(c, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "temporarily unable to process event")
			return
		}
		h.logger.Warn("webhook event rejected",
			"event", payload.Event,
			"reference", payload.Data.Reference,
			"error", err,
		)
	}

	c.JSON(http.StatusOK, gin.H{"status": "received"})
}

func (h *PaystackWebhookHandlers) dispatch(c *gin.Context, payload webhookPayload) error {
	ctx := c.Request.Context()

	switch payload.Event {
	case "charge.success":
		event := entities.PaymentEvent{
			EventType:          payload.Event,
			Reference:          payload.Data.Reference,
			AmountMinor:        payload.Data.Amount,
			Currency:           payload.Data.Currency,
			Status:             payload.Data.Status,
			TransactionID:      payload.Data.Metadata.TransactionID,
			DestinationAddress: payload.Data.Metadata.DestinationAddress,
		}
		if t, err := time.Parse(time.RFC3339, payload.Data.PaidAt); err == nil {
			event.PaidAt = t
		}
		return h.onramp.Reconcile(ctx, event)

	case "transfer.success":
		return h.offramp.HandleTransferCompleted(ctx, payload.Data.Reference)

	case "transfer.failed", "transfer.reversed":
		return h.offramp.HandleTransferFailed(ctx, payload.Data.Reference, payload.Data.Reason)

	default:
		h.logger.Info("ignoring unhandled webhook event", "event", payload.Event)
		return nil
	}
}

func (h *PaystackWebhookHandlers) validSignature(body []byte, signature string) bool {
	if signature == "" {
		return false
	}
	mac := hmac.New(sha512.New, []byte(h.secretKey))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
