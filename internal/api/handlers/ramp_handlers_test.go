package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sendramp/ramp-service/internal/api/validation"
	"github.com/sendramp/ramp-service/internal/domain/entities"
	domainerrors "github.com/sendramp/ramp-service/internal/domain/errors"
	"github.com/sendramp/ramp-service/internal/domain/services/offramp"
	"github.com/sendramp/ramp-service/internal/domain/services/onramp"
	"github.com/sendramp/ramp-service/pkg/logger"
)

type fakeOnrampService struct {
	created    []onramp.CreateRequest
	reconciled []entities.PaymentEvent
	tx         *entities.OnrampTransaction
	getErr     error
	createErr  error
}

func (f *fakeOnrampService) Create(_ context.Context, req onramp.CreateRequest) (*entities.OnrampTransaction, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = append(f.created, req)
	return &entities.OnrampTransaction{
		ID:                 req.ID,
		DestinationAddress: req.DestinationAddress,
		FiatAmount:         req.FiatAmount,
		ExchangeRate:       req.ExchangeRate,
		Status:             entities.OnrampStatusPending,
	}, nil
}

func (f *fakeOnrampService) Get(_ context.Context, id string) (*entities.OnrampTransaction, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	if f.tx != nil {
		return f.tx, nil
	}
	return &entities.OnrampTransaction{ID: id, Status: entities.OnrampStatusPending}, nil
}

func (f *fakeOnrampService) Reconcile(_ context.Context, event entities.PaymentEvent) error {
	f.reconciled = append(f.reconciled, event)
	return nil
}

func setupOnrampRouter(svc *fakeOnrampService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewOnrampHandlers(svc, logger.New("debug", "test"))
	router := gin.New()
	router.POST("/onramp", h.Create)
	router.GET("/onramp/:id", h.Get)
	router.POST("/onramp/:id/verify", h.Verify)
	return router
}

func TestOnrampCreate_ReturnsPendingTransaction(t *testing.T) {
	svc := &fakeOnrampService{}
	router := setupOnrampRouter(svc)

	body := []byte(`{"destination_address":"0xabc","fiat_amount":"10000","exchange_rate":"50"}`)
	req := httptest.NewRequest(http.MethodPost, "/onramp", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusCreated, w.Code)
	require.Len(t, svc.created, 1)
	assert.NotEmpty(t, svc.created[0].ID)
	assert.Equal(t, "0xabc", svc.created[0].DestinationAddress)
	assert.True(t, svc.created[0].FiatAmount.Equal(decimal.NewFromInt(10000)))

	var tx entities.OnrampTransaction
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tx))
	assert.Equal(t, entities.OnrampStatusPending, tx.Status)
}

func TestOnrampCreate_MissingFieldsRejected(t *testing.T) {
	svc := &fakeOnrampService{}
	router := setupOnrampRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/onramp", bytes.NewReader([]byte(`{"fiat_amount":"10000"}`)))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, svc.created)
}

func TestOnrampGet_NotFoundMapsTo404(t *testing.T) {
	svc := &fakeOnrampService{getErr: domainerrors.NotFoundError("transaction")}
	router := setupOnrampRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/onramp/missing", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, ErrCodeNotFound, resp.Code)
}

func TestOnrampVerify_ReconcilesAndReturnsFreshState(t *testing.T) {
	svc := &fakeOnrampService{}
	router := setupOnrampRouter(svc)

	body := []byte(`{"reference":"ps-ref-9"}`)
	req := httptest.NewRequest(http.MethodPost, "/onramp/tx-1/verify", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	require.Len(t, svc.reconciled, 1)
	assert.Equal(t, "manual.verify", svc.reconciled[0].EventType)
	assert.Equal(t, "ps-ref-9", svc.reconciled[0].Reference)
	assert.Equal(t, "tx-1", svc.reconciled[0].TransactionID)
}

type fakeOfframpService struct {
	started  []offramp.StartRequest
	checked  []string
	startErr error
}

func (f *fakeOfframpService) StartSession(_ context.Context, req offramp.StartRequest) (*entities.OfframpTransaction, error) {
	if f.startErr != nil {
		return nil, f.startErr
	}
	f.started = append(f.started, req)
	return &entities.OfframpTransaction{
		ID:              req.ID,
		OwnerIdentifier: req.OwnerIdentifier,
		DepositAddress:  "0xdeposit",
		Status:          entities.OfframpStatusAwaitingDeposit,
	}, nil
}

func (f *fakeOfframpService) Get(_ context.Context, id string) (*entities.OfframpTransaction, error) {
	return &entities.OfframpTransaction{ID: id, Status: entities.OfframpStatusAwaitingDeposit}, nil
}

func (f *fakeOfframpService) CheckDeposit(_ context.Context, id string) (*entities.OfframpTransaction, error) {
	f.checked = append(f.checked, id)
	return &entities.OfframpTransaction{ID: id, Status: entities.OfframpStatusTokenReceived}, nil
}

func setupOfframpRouter(svc *fakeOfframpService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	_ = validation.Register()
	h := NewOfframpHandlers(svc, logger.New("debug", "test"))
	router := gin.New()
	router.POST("/offramp", h.Start)
	router.GET("/offramp/:id", h.Get)
	router.POST("/offramp/:id/check", h.Check)
	return router
}

func TestOfframpStart_ReturnsDepositAddress(t *testing.T) {
	svc := &fakeOfframpService{}
	router := setupOfframpRouter(svc)

	body := []byte(`{
		"owner_identifier": "user-7",
		"payout_bank_code": "058",
		"payout_account_number": "0123456789",
		"payout_account_name": "Ada Obi"
	}`)
	req := httptest.NewRequest(http.MethodPost, "/offramp", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusCreated, w.Code)
	require.Len(t, svc.started, 1)
	assert.Equal(t, "user-7", svc.started[0].OwnerIdentifier)
	assert.Empty(t, svc.started[0].AssetAddress, "asset address is optional (native deposit)")

	var tx entities.OfframpTransaction
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tx))
	assert.Equal(t, "0xdeposit", tx.DepositAddress)
	assert.Equal(t, entities.OfframpStatusAwaitingDeposit, tx.Status)
}

func TestOfframpStart_MissingBankDetailsRejected(t *testing.T) {
	svc := &fakeOfframpService{}
	router := setupOfframpRouter(svc)

	body := []byte(`{"owner_identifier":"user-7"}`)
	req := httptest.NewRequest(http.MethodPost, "/offramp", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, svc.started)
}

func TestOfframpStart_InvalidAccountNumberRejected(t *testing.T) {
	svc := &fakeOfframpService{}
	router := setupOfframpRouter(svc)

	body := []byte(`{
		"owner_identifier": "user-7",
		"payout_bank_code": "058",
		"payout_account_number": "12345",
		"payout_account_name": "Ada Obi"
	}`)
	req := httptest.NewRequest(http.MethodPost, "/offramp", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, svc.started)
}

func TestOfframpCheck_NudgesPipeline(t *testing.T) {
	svc := &fakeOfframpService{}
	router := setupOfframpRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/offramp/off-3/check", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"off-3"}, svc.checked)

	var tx entities.OfframpTransaction
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tx))
	assert.Equal(t, entities.OfframpStatusTokenReceived, tx.Status)
}

func TestOfframpStart_PolicyViolationMapsTo422(t *testing.T) {
	svc := &fakeOfframpService{startErr: domainerrors.PolicyError("UNSUPPORTED_ASSET", "asset not supported")}
	router := setupOfframpRouter(svc)

	body := []byte(`{
		"owner_identifier": "user-7",
		"asset_address": "0xbad",
		"payout_bank_code": "058",
		"payout_account_number": "0123456789",
		"payout_account_name": "Ada Obi"
	}`)
	req := httptest.NewRequest(http.MethodPost, "/offramp", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, ErrCodePolicyViolation, resp.Code)
}
