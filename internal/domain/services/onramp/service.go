// Package onramp implements the fiat → token side of the ledger: creating
// pending conversions, reconciling inbound payment events against them, and
// executing the exactly-once settlement transfer.
package onramp

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/sendramp/ramp-service/internal/domain/entities"
	domainerrors "github.com/sendramp/ramp-service/internal/domain/errors"
	"github.com/sendramp/ramp-service/internal/domain/services/conversion"
	"github.com/sendramp/ramp-service/internal/infrastructure/repositories"
	"github.com/sendramp/ramp-service/pkg/logger"
	"github.com/sendramp/ramp-service/pkg/metrics"
)

// LedgerRepository is the on-ramp slice of the ledger store.
type LedgerRepository interface {
	Create(ctx context.Context, tx *entities.OnrampTransaction) error
	Get(ctx context.Context, id string) (*entities.OnrampTransaction, error)
	Transition(ctx context.Context, id string, expected entities.OnrampStatus, m repositories.OnrampMutation) (*entities.OnrampTransaction, error)
	SetSettlementHash(ctx context.Context, id, txHash string) error
	FindByReference(ctx context.Context, reference string) (*entities.OnrampTransaction, error)
	FindClaimable(ctx context.Context, destinationAddress string, fiatAmount decimal.Decimal, since time.Time) ([]*entities.OnrampTransaction, error)
	ListUnsettled(ctx context.Context, limit int) ([]*entities.OnrampTransaction, error)
	AppendVerification(ctx context.Context, rec *entities.VerificationRecord) error
}

// GatewayClient re-fetches payments from the gateway's authoritative API.
type GatewayClient interface {
	VerifyTransaction(ctx context.Context, reference string) (*VerifiedPayment, error)
}

// VerifiedPayment is the gateway's view of a payment, re-fetched during
// reconciliation. The webhook body is never trusted directly.
type VerifiedPayment struct {
	Reference   string
	Status      string
	AmountMinor int64
	PaidAt      time.Time
}

// Successful reports whether the gateway considers the payment settled.
func (v *VerifiedPayment) Successful() bool {
	return v.Status == "success"
}

// TokenSender executes the settlement token transfer.
type TokenSender interface {
	Send(ctx context.Context, to string, amount decimal.Decimal) (string, error)
}

// Locker provides short-TTL mutual exclusion for the distribution trigger.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl, wait time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// Config holds on-ramp policy configuration.
type Config struct {
	// ClaimWindow bounds how far back the fuzzy matcher looks for pending
	// transactions when a payment event arrives without a transaction id.
	ClaimWindow time.Duration
}

// Service is the on-ramp reconciliation engine and distribution trigger.
type Service struct {
	repo    LedgerRepository
	gateway GatewayClient
	sender  TokenSender
	calc    *conversion.Calculator
	locker  Locker
	config  Config
	logger  *logger.Logger
}

// NewService creates the on-ramp service.
func NewService(
	repo LedgerRepository,
	gateway GatewayClient,
	sender TokenSender,
	calc *conversion.Calculator,
	locker Locker,
	config Config,
	log *logger.Logger,
) *Service {
	if config.ClaimWindow == 0 {
		config.ClaimWindow = 10 * time.Minute
	}
	return &Service{
		repo:    repo,
		gateway: gateway,
		sender:  sender,
		calc:    calc,
		locker:  locker,
		config:  config,
		logger:  log,
	}
}

// CreateRequest describes a new on-ramp conversion.
type CreateRequest struct {
	ID                 string
	DestinationAddress string
	FiatAmount         decimal.Decimal
	ExchangeRate       decimal.Decimal // fiat per token, snapshotted now
}

// Create records a pending on-ramp transaction with a rate snapshot. The fee
// and token amounts are computed from the snapshot immediately so they can be
// audited against the persisted inputs at any time.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*entities.OnrampTransaction, error) {
	if req.ID == "" {
		return nil, domainerrors.ValidationError("id", "transaction id is required")
	}
	if req.DestinationAddress == "" {
		return nil, domainerrors.ValidationError("destination_address", "destination address is required")
	}

	feeFiat, feeToken, tokenAmount, err := s.calc.Quote(req.FiatAmount, req.ExchangeRate)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	tx := &entities.OnrampTransaction{
		ID:                 req.ID,
		DestinationAddress: req.DestinationAddress,
		FiatAmount:         req.FiatAmount,
		TokenAmount:        tokenAmount,
		ExchangeRate:       req.ExchangeRate,
		FeeFiat:            feeFiat,
		FeeToken:           feeToken,
		Status:             entities.OnrampStatusPending,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	if err := s.repo.Create(ctx, tx); err != nil {
		return nil, err
	}

	s.logger.Info("onramp transaction created",
		"transaction_id", tx.ID,
		"fiat_amount", tx.FiatAmount.String(),
		"rate", tx.ExchangeRate.String(),
	)

	return tx, nil
}

// Get returns a transaction by id.
func (s *Service) Get(ctx context.Context, id string) (*entities.OnrampTransaction, error) {
	return s.repo.Get(ctx, id)
}

// Reconcile drives a payment event against the ledger. It is idempotent:
// duplicate deliveries, lost transition races and already-consumed references
// all resolve to a nil error so the gateway stops retrying. Only validation
// and transient failures propagate.
func (s *Service) Reconcile(ctx context.Context, event entities.PaymentEvent) error {
	ctx, span := otel.Tracer("onramp.service").Start(ctx, "Reconcile")
	defer span.End()
	span.SetAttributes(attribute.String("reference", event.Reference))

	start := time.Now()
	defer func() {
		metrics.ReconcileDuration.Observe(time.Since(start).Seconds())
	}()

	tx, err := s.resolveTransaction(ctx, event)
	if err != nil {
		metrics.WebhooksProcessed.WithLabelValues("rejected").Inc()
		return err
	}

	rec := entities.NewVerificationRecord(tx.ID, event.Reference)
	rec.SignatureOK = true // the handler verified the body signature

	// Duplicate delivery: already completed and settled.
	if tx.Status == entities.OnrampStatusCompleted {
		s.logger.Info("duplicate payment event for completed transaction",
			"transaction_id", tx.ID,
			"reference", event.Reference,
		)
		metrics.WebhooksProcessed.WithLabelValues("duplicate").Inc()
		return nil
	}
	if tx.Status == entities.OnrampStatusFailed {
		metrics.WebhooksProcessed.WithLabelValues("rejected").Inc()
		return domainerrors.ValidationError("status", "transaction has failed and cannot be reconciled")
	}

	// Duplicate-reference guard: a reference consumed by another completed
	// transaction must never credit a second one.
	if existing, err := s.repo.FindByReference(ctx, event.Reference); err == nil &&
		existing.ID != tx.ID && existing.Status == entities.OnrampStatusCompleted {
		s.logger.Warn("payment reference already consumed",
			"reference", event.Reference,
			"consumed_by", existing.ID,
			"candidate", tx.ID,
		)
		metrics.WebhooksProcessed.WithLabelValues("duplicate").Inc()
		return nil
	}

	// Re-verify against the gateway before trusting anything in the event.
	verified, err := s.gateway.VerifyTransaction(ctx, event.Reference)
	if err != nil {
		s.appendVerification(ctx, rec.WithError(err))
		metrics.WebhooksProcessed.WithLabelValues("error").Inc()
		return err
	}
	rec.GatewayOK = verified.Successful()

	if !verified.Successful() {
		err := domainerrors.ValidationError("status",
			fmt.Sprintf("gateway reports status %q for reference %s", verified.Status, event.Reference))
		s.appendVerification(ctx, rec.WithError(err))
		metrics.WebhooksProcessed.WithLabelValues("rejected").Inc()
		return err
	}

	expectedMinor := tx.FiatAmount.Shift(2).IntPart()
	rec.AmountOK = verified.AmountMinor == expectedMinor
	if !rec.AmountOK {
		err := domainerrors.ValidationError("amount",
			fmt.Sprintf("gateway amount %d does not match ledger amount %d", verified.AmountMinor, expectedMinor))
		s.appendVerification(ctx, rec.WithError(err))
		metrics.WebhooksProcessed.WithLabelValues("rejected").Inc()
		return err
	}

	// Recompute amounts from the persisted rate snapshot. The live rate is
	// never consulted during settlement.
	feeFiat, feeToken, tokenAmount, err := s.calc.Quote(tx.FiatAmount, tx.ExchangeRate)
	if err != nil {
		s.appendVerification(ctx, rec.WithError(err))
		return err
	}

	now := time.Now().UTC()
	reference := event.Reference
	_, err = s.repo.Transition(ctx, tx.ID, entities.OnrampStatusPending, repositories.OnrampMutation{
		Status:           entities.OnrampStatusCompleted,
		PaymentReference: &reference,
		TokenAmount:      &tokenAmount,
		FeeFiat:          &feeFiat,
		FeeToken:         &feeToken,
		CompletedAt:      &now,
	})
	if err != nil {
		if domainerrors.IsConflict(err) {
			// A concurrent delivery won the race; this one is a duplicate.
			s.logger.Info("lost reconciliation race, treating as duplicate",
				"transaction_id", tx.ID,
				"reference", event.Reference,
			)
			metrics.WebhooksProcessed.WithLabelValues("duplicate").Inc()
			return nil
		}
		s.appendVerification(ctx, rec.WithError(err))
		return err
	}

	s.appendVerification(ctx, rec)
	metrics.WebhooksProcessed.WithLabelValues("completed").Inc()

	s.logger.Info("onramp transaction completed",
		"transaction_id", tx.ID,
		"reference", event.Reference,
		"token_amount", tokenAmount.String(),
	)

	// Hand off to the distribution trigger. A failure here leaves the
	// transaction completed-but-unsettled; the retry worker re-drives it.
	if _, err := s.Distribute(ctx, tx.ID); err != nil && !domainerrors.IsConflict(err) {
		s.logger.Error("settlement transfer failed, will retry",
			"transaction_id", tx.ID,
			"error", err,
		)
	}

	return nil
}

// resolveTransaction loads the ledger entry a payment event belongs to,
// using the claim matcher when the event carries no transaction id.
func (s *Service) resolveTransaction(ctx context.Context, event entities.PaymentEvent) (*entities.OnrampTransaction, error) {
	if event.TransactionID != "" {
		return s.repo.Get(ctx, event.TransactionID)
	}

	if event.DestinationAddress == "" {
		return nil, domainerrors.ValidationError("event", "event carries neither transaction id nor destination address")
	}

	since := time.Now().Add(-s.config.ClaimWindow)
	candidates, err := s.repo.FindClaimable(ctx, event.DestinationAddress, decimal.New(event.AmountMinor, -2), since)
	if err != nil {
		return nil, err
	}

	for _, candidate := range MatchClaim(candidates, event) {
		// Skip candidates whose reference is already consumed elsewhere.
		existing, err := s.repo.FindByReference(ctx, event.Reference)
		if err == nil && existing.ID != candidate.ID && existing.Status == entities.OnrampStatusCompleted {
			continue
		}
		return candidate, nil
	}

	return nil, domainerrors.NotFoundError("claimable_transaction")
}

func (s *Service) appendVerification(ctx context.Context, rec *entities.VerificationRecord) {
	if err := s.repo.AppendVerification(ctx, rec); err != nil {
		s.logger.Error("failed to append verification record",
			"transaction_id", rec.TransactionID,
			"error", err,
		)
	}
}
