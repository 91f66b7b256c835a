package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/sendramp/ramp-service/internal/domain/entities"
	"github.com/sendramp/ramp-service/internal/domain/services/onramp"
	"github.com/sendramp/ramp-service/pkg/logger"
)

// OnrampService is the on-ramp surface the handlers depend on.
type OnrampService interface {
	Create(ctx context.Context, req onramp.CreateRequest) (*entities.OnrampTransaction, error)
	Get(ctx context.Context, id string) (*entities.OnrampTransaction, error)
	Reconcile(ctx context.Context, event entities.PaymentEvent) error
}

// OnrampHandlers handles on-ramp transaction endpoints.
type OnrampHandlers struct {
	service OnrampService
	logger  *logger.Logger
}

func NewOnrampHandlers(service OnrampService, log *logger.Logger) *OnrampHandlers {
	return &OnrampHandlers{service: service, logger: log}
}

type createOnrampRequest struct {
	DestinationAddress string          `json:"destination_address" binding:"required"`
	FiatAmount         decimal.Decimal `json:"fiat_amount" binding:"required"`
	ExchangeRate       decimal.Decimal `json:"exchange_rate" binding:"required"`
}

// Create opens a pending on-ramp transaction with a rate snapshot.
// POST /api/v1/onramp
func (h *OnrampHandlers) Create(c *gin.Context) {
	var req createOnrampRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid request payload")
		return
	}

	tx, err := h.service.Create(c.Request.Context(), onramp.CreateRequest{
		ID:                 uuid.New().String(),
		DestinationAddress: req.DestinationAddress,
		FiatAmount:         req.FiatAmount,
		ExchangeRate:       req.ExchangeRate,
	})
	if err != nil {
		respondDomainError(c, err)
		return
	}

	c.JSON(http.StatusCreated, tx)
}

// Get returns transaction status for polling.
// GET /api/v1/onramp/:id
func (h *OnrampHandlers) Get(c *gin.Context) {
	tx, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, tx)
}

type verifyOnrampRequest struct {
	Reference string `json:"reference" binding:"required"`
}

// Verify is the user's "I have paid" nudge: reconcile the given gateway
// reference against the transaction immediately instead of waiting for
// the webhook.
// POST /api/v1/onramp/:id/verify
func (h *OnrampHandlers) Verify(c *gin.Context) {
	var req verifyOnrampRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid request payload")
		return
	}

	id := c.Param("id")
	err := h.service.Reconcile(c.Request.Context(), entities.PaymentEvent{
		EventType:     "manual.verify",
		Reference:     req.Reference,
		TransactionID: id,
		PaidAt:        time.Now().UTC(),
	})
	if err != nil {
		respondDomainError(c, err)
		return
	}

	tx, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, tx)
}
