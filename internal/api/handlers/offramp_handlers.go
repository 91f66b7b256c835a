package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/sendramp/ramp-service/internal/domain/entities"
	"github.com/sendramp/ramp-service/internal/domain/services/offramp"
	"github.com/sendramp/ramp-service/pkg/logger"
)

// OfframpService is the off-ramp surface the handlers depend on.
type OfframpService interface {
	StartSession(ctx context.Context, req offramp.StartRequest) (*entities.OfframpTransaction, error)
	Get(ctx context.Context, id string) (*entities.OfframpTransaction, error)
	CheckDeposit(ctx context.Context, id string) (*entities.OfframpTransaction, error)
}

// OfframpHandlers handles off-ramp session endpoints.
type OfframpHandlers struct {
	service OfframpService
	logger  *logger.Logger
}

func NewOfframpHandlers(service OfframpService, log *logger.Logger) *OfframpHandlers {
	return &OfframpHandlers{service: service, logger: log}
}

type startOfframpRequest struct {
	OwnerIdentifier     string `json:"owner_identifier" binding:"required"`
	AssetAddress        string `json:"asset_address"`
	PayoutBankCode      string `json:"payout_bank_code" binding:"required"`
	PayoutAccountNumber string `json:"payout_account_number" binding:"required,nuban"`
	PayoutAccountName   string `json:"payout_account_name" binding:"required"`
}

// Start opens an off-ramp session and returns the deposit address.
// POST /api/v1/offramp
func (h *OfframpHandlers) Start(c *gin.Context) {
	var req startOfframpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid request payload")
		return
	}

	tx, err := h.service.StartSession(c.Request.Context(), offramp.StartRequest{
		ID:                  uuid.New().String(),
		OwnerIdentifier:     req.OwnerIdentifier,
		AssetAddress:        req.AssetAddress,
		PayoutBankCode:      req.PayoutBankCode,
		PayoutAccountNumber: req.PayoutAccountNumber,
		PayoutAccountName:   req.PayoutAccountName,
	})
	if err != nil {
		respondDomainError(c, err)
		return
	}

	c.JSON(http.StatusCreated, tx)
}

// Get returns transaction status for polling.
// GET /api/v1/offramp/:id
func (h *OfframpHandlers) Get(c *gin.Context) {
	tx, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, tx)
}

// Check is the user's "I have transferred" nudge: re-check the deposit
// wallet immediately and advance the pipeline if funds have arrived.
// POST /api/v1/offramp/:id/check
func (h *OfframpHandlers) Check(c *gin.Context) {
	tx, err := h.service.CheckDeposit(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, tx)
}
