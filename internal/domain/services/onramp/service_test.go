package onramp

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sendramp/ramp-service/internal/domain/entities"
	domainerrors "github.com/sendramp/ramp-service/internal/domain/errors"
	"github.com/sendramp/ramp-service/internal/domain/services/conversion"
	"github.com/sendramp/ramp-service/internal/infrastructure/repositories"
	"github.com/sendramp/ramp-service/pkg/logger"
)

// fakeLedger is an in-memory ledger store with the same conditional-update
// semantics as the Postgres repository.
type fakeLedger struct {
	mu            sync.Mutex
	txs           map[string]*entities.OnrampTransaction
	verifications []*entities.VerificationRecord
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{txs: make(map[string]*entities.OnrampTransaction)}
}

func (f *fakeLedger) Create(_ context.Context, tx *entities.OnrampTransaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.txs[tx.ID]; ok {
		return domainerrors.AlreadyExistsError("onramp_transaction")
	}
	cp := *tx
	f.txs[tx.ID] = &cp
	return nil
}

func (f *fakeLedger) Get(_ context.Context, id string) (*entities.OnrampTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tx, ok := f.txs[id]
	if !ok {
		return nil, domainerrors.NotFoundError("onramp_transaction")
	}
	cp := *tx
	return &cp, nil
}

func (f *fakeLedger) Transition(_ context.Context, id string, expected entities.OnrampStatus, m repositories.OnrampMutation) (*entities.OnrampTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tx, ok := f.txs[id]
	if !ok {
		return nil, domainerrors.NotFoundError("onramp_transaction")
	}
	if tx.Status != expected {
		return nil, domainerrors.ConflictError("onramp_transaction", "status changed concurrently")
	}
	tx.Status = m.Status
	if m.PaymentReference != nil {
		tx.PaymentReference = m.PaymentReference
	}
	if m.TokenAmount != nil {
		tx.TokenAmount = *m.TokenAmount
	}
	if m.FeeFiat != nil {
		tx.FeeFiat = *m.FeeFiat
	}
	if m.FeeToken != nil {
		tx.FeeToken = *m.FeeToken
	}
	if m.CompletedAt != nil {
		tx.CompletedAt = m.CompletedAt
	}
	cp := *tx
	return &cp, nil
}

func (f *fakeLedger) SetSettlementHash(_ context.Context, id, txHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	tx, ok := f.txs[id]
	if !ok {
		return domainerrors.NotFoundError("onramp_transaction")
	}
	if tx.SettlementTxHash != nil {
		return domainerrors.ConflictError("onramp_transaction", "settlement hash already set")
	}
	tx.SettlementTxHash = &txHash
	return nil
}

func (f *fakeLedger) FindByReference(_ context.Context, reference string) (*entities.OnrampTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, tx := range f.txs {
		if tx.PaymentReference != nil && *tx.PaymentReference == reference {
			cp := *tx
			return &cp, nil
		}
	}
	return nil, domainerrors.NotFoundError("onramp_transaction")
}

func (f *fakeLedger) FindClaimable(_ context.Context, destination string, amount decimal.Decimal, since time.Time) ([]*entities.OnrampTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*entities.OnrampTransaction
	for _, tx := range f.txs {
		if tx.Status == entities.OnrampStatusPending &&
			tx.DestinationAddress == destination &&
			tx.FiatAmount.Equal(amount) &&
			!tx.CreatedAt.Before(since) {
			cp := *tx
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeLedger) ListUnsettled(_ context.Context, limit int) ([]*entities.OnrampTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*entities.OnrampTransaction
	for _, tx := range f.txs {
		if tx.Status == entities.OnrampStatusCompleted && tx.SettlementTxHash == nil {
			cp := *tx
			out = append(out, &cp)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (f *fakeLedger) AppendVerification(_ context.Context, rec *entities.VerificationRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verifications = append(f.verifications, rec)
	return nil
}

// fakeGateway returns a canned verification for each reference.
type fakeGateway struct {
	mu       sync.Mutex
	payments map[string]*VerifiedPayment
}

func (f *fakeGateway) VerifyTransaction(_ context.Context, reference string) (*VerifiedPayment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.payments[reference]
	if !ok {
		return nil, domainerrors.NotFoundError("payment")
	}
	cp := *p
	return &cp, nil
}

// fakeSender counts transfers and hands out sequential hashes.
type fakeSender struct {
	mu    sync.Mutex
	sends int
	fail  error
}

func (f *fakeSender) Send(_ context.Context, _ string, _ decimal.Decimal) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return "", f.fail
	}
	f.sends++
	return fmt.Sprintf("0xhash%d", f.sends), nil
}

func (f *fakeSender) sendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sends
}

// fakeLocker is an in-process lock table with the Locker semantics.
type fakeLocker struct {
	mu    sync.Mutex
	locks map[string]bool
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{locks: make(map[string]bool)}
}

func (f *fakeLocker) Acquire(ctx context.Context, key string, _, wait time.Duration) (bool, error) {
	deadline := time.Now().Add(wait)
	for {
		f.mu.Lock()
		if !f.locks[key] {
			f.locks[key] = true
			f.mu.Unlock()
			return true, nil
		}
		f.mu.Unlock()
		if time.Now().After(deadline) {
			return false, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
}

func (f *fakeLocker) Release(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.locks, key)
	return nil
}

type fixture struct {
	service *Service
	ledger  *fakeLedger
	gateway *fakeGateway
	sender  *fakeSender
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	calc, err := conversion.NewCalculator(decimal.RequireFromString("2.5"))
	require.NoError(t, err)

	ledger := newFakeLedger()
	gateway := &fakeGateway{payments: make(map[string]*VerifiedPayment)}
	sender := &fakeSender{}

	svc := NewService(ledger, gateway, sender, calc, newFakeLocker(),
		Config{ClaimWindow: 10 * time.Minute}, logger.New("debug", "test"))

	return &fixture{service: svc, ledger: ledger, gateway: gateway, sender: sender}
}

func (fx *fixture) createPending(t *testing.T, id string, fiat, rate int64) *entities.OnrampTransaction {
	t.Helper()
	tx, err := fx.service.Create(context.Background(), CreateRequest{
		ID:                 id,
		DestinationAddress: "0x000000000000000000000000000000000000dEaD",
		FiatAmount:         decimal.NewFromInt(fiat),
		ExchangeRate:       decimal.NewFromInt(rate),
	})
	require.NoError(t, err)
	return tx
}

func (fx *fixture) successfulPayment(reference string, amountMinor int64) {
	fx.gateway.mu.Lock()
	defer fx.gateway.mu.Unlock()
	fx.gateway.payments[reference] = &VerifiedPayment{
		Reference:   reference,
		Status:      "success",
		AmountMinor: amountMinor,
		PaidAt:      time.Now().UTC(),
	}
}

func TestReconcile_CompletesAndDistributes(t *testing.T) {
	fx := newFixture(t)
	fx.createPending(t, "tx-1", 10000, 50)
	fx.successfulPayment("ref-1", 1000000)

	event := entities.PaymentEvent{
		EventType:     "charge.success",
		Reference:     "ref-1",
		AmountMinor:   1000000,
		TransactionID: "tx-1",
	}
	require.NoError(t, fx.service.Reconcile(context.Background(), event))

	tx, err := fx.ledger.Get(context.Background(), "tx-1")
	require.NoError(t, err)
	assert.Equal(t, entities.OnrampStatusCompleted, tx.Status)
	require.NotNil(t, tx.PaymentReference)
	assert.Equal(t, "ref-1", *tx.PaymentReference)
	// (10000 - 250) / 50 = 195 tokens
	assert.True(t, tx.TokenAmount.Equal(decimal.NewFromInt(195)), "token amount = %s", tx.TokenAmount)
	assert.True(t, tx.IsSettled())
	assert.Equal(t, 1, fx.sender.sendCount())
}

func TestReconcile_ReplayedWebhookSettlesOnce(t *testing.T) {
	fx := newFixture(t)
	fx.createPending(t, "tx-1", 10000, 50)
	fx.successfulPayment("ref-1", 1000000)

	event := entities.PaymentEvent{
		Reference:     "ref-1",
		AmountMinor:   1000000,
		TransactionID: "tx-1",
	}
	for i := 0; i < 5; i++ {
		require.NoError(t, fx.service.Reconcile(context.Background(), event), "delivery %d", i)
	}

	assert.Equal(t, 1, fx.sender.sendCount(), "replays must not re-send the transfer")
}

func TestReconcile_AmountMismatchRejected(t *testing.T) {
	fx := newFixture(t)
	fx.createPending(t, "tx-1", 10000, 50)
	fx.successfulPayment("ref-1", 999999)

	event := entities.PaymentEvent{
		Reference:     "ref-1",
		AmountMinor:   999999,
		TransactionID: "tx-1",
	}
	err := fx.service.Reconcile(context.Background(), event)
	assert.True(t, domainerrors.IsInvalidInput(err))

	tx, getErr := fx.ledger.Get(context.Background(), "tx-1")
	require.NoError(t, getErr)
	assert.Equal(t, entities.OnrampStatusPending, tx.Status)
	assert.Equal(t, 0, fx.sender.sendCount())
}

func TestReconcile_GatewayStatusNotSuccessRejected(t *testing.T) {
	fx := newFixture(t)
	fx.createPending(t, "tx-1", 10000, 50)
	fx.gateway.payments["ref-1"] = &VerifiedPayment{
		Reference:   "ref-1",
		Status:      "abandoned",
		AmountMinor: 1000000,
	}

	err := fx.service.Reconcile(context.Background(), entities.PaymentEvent{
		Reference:     "ref-1",
		AmountMinor:   1000000,
		TransactionID: "tx-1",
	})
	assert.True(t, domainerrors.IsInvalidInput(err))
}

func TestReconcile_ClaimPathMatchesOldestPending(t *testing.T) {
	fx := newFixture(t)
	older := fx.createPending(t, "tx-old", 10000, 50)
	fx.createPending(t, "tx-new", 10000, 50)

	// Make tx-old visibly older.
	fx.ledger.mu.Lock()
	fx.ledger.txs["tx-old"].CreatedAt = time.Now().Add(-5 * time.Minute)
	fx.ledger.mu.Unlock()

	fx.successfulPayment("ref-claim", 1000000)

	// No transaction id: the lost-session claim path.
	err := fx.service.Reconcile(context.Background(), entities.PaymentEvent{
		Reference:          "ref-claim",
		AmountMinor:        1000000,
		DestinationAddress: older.DestinationAddress,
		PaidAt:             time.Now().UTC(),
	})
	require.NoError(t, err)

	claimed, err := fx.ledger.Get(context.Background(), "tx-old")
	require.NoError(t, err)
	assert.Equal(t, entities.OnrampStatusCompleted, claimed.Status)

	other, err := fx.ledger.Get(context.Background(), "tx-new")
	require.NoError(t, err)
	assert.Equal(t, entities.OnrampStatusPending, other.Status)
}

func TestReconcile_ConsumedReferenceIsNoOp(t *testing.T) {
	fx := newFixture(t)
	fx.createPending(t, "tx-1", 10000, 50)
	fx.createPending(t, "tx-2", 10000, 50)
	fx.successfulPayment("ref-1", 1000000)

	require.NoError(t, fx.service.Reconcile(context.Background(), entities.PaymentEvent{
		Reference: "ref-1", AmountMinor: 1000000, TransactionID: "tx-1",
	}))

	// Same reference aimed at a different transaction: must not credit it.
	require.NoError(t, fx.service.Reconcile(context.Background(), entities.PaymentEvent{
		Reference: "ref-1", AmountMinor: 1000000, TransactionID: "tx-2",
	}))

	tx2, err := fx.ledger.Get(context.Background(), "tx-2")
	require.NoError(t, err)
	assert.Equal(t, entities.OnrampStatusPending, tx2.Status)
	assert.Equal(t, 1, fx.sender.sendCount())
}

func TestReconcile_ConcurrentDeliveriesOneWinner(t *testing.T) {
	fx := newFixture(t)
	fx.createPending(t, "tx-1", 10000, 50)
	fx.successfulPayment("ref-1", 1000000)

	event := entities.PaymentEvent{
		Reference:     "ref-1",
		AmountMinor:   1000000,
		TransactionID: "tx-1",
	}

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = fx.service.Reconcile(context.Background(), event)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "delivery %d must be treated as success", i)
	}
	assert.Equal(t, 1, fx.sender.sendCount())
}

func TestDistribute_ConcurrentCallersShareOneHash(t *testing.T) {
	fx := newFixture(t)
	fx.createPending(t, "tx-1", 10000, 50)
	fx.successfulPayment("ref-1", 1000000)

	// Complete without distributing by failing the first transfer.
	fx.sender.fail = domainerrors.TransientError("chain RPC", nil)
	require.NoError(t, fx.service.Reconcile(context.Background(), entities.PaymentEvent{
		Reference: "ref-1", AmountMinor: 1000000, TransactionID: "tx-1",
	}))
	fx.sender.mu.Lock()
	fx.sender.fail = nil
	fx.sender.mu.Unlock()

	var wg sync.WaitGroup
	hashes := make([]string, 4)
	errs := make([]error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			hashes[i], errs[i] = fx.service.Distribute(context.Background(), "tx-1")
		}(i)
	}
	wg.Wait()

	var winning string
	for i := range hashes {
		require.NoError(t, errs[i])
		if winning == "" {
			winning = hashes[i]
		}
		assert.Equal(t, winning, hashes[i], "all callers must observe the same hash")
	}
	assert.Equal(t, 1, fx.sender.sendCount())
}

func TestDistribute_FailedTransferLeavesCompletedUnsettled(t *testing.T) {
	fx := newFixture(t)
	fx.createPending(t, "tx-1", 10000, 50)
	fx.successfulPayment("ref-1", 1000000)

	fx.sender.fail = domainerrors.TransientError("chain RPC", nil)
	require.NoError(t, fx.service.Reconcile(context.Background(), entities.PaymentEvent{
		Reference: "ref-1", AmountMinor: 1000000, TransactionID: "tx-1",
	}))

	tx, err := fx.ledger.Get(context.Background(), "tx-1")
	require.NoError(t, err)
	assert.Equal(t, entities.OnrampStatusCompleted, tx.Status)
	assert.False(t, tx.IsSettled())

	// The retry worker path picks it up once the chain recovers.
	fx.sender.mu.Lock()
	fx.sender.fail = nil
	fx.sender.mu.Unlock()
	require.NoError(t, fx.service.RetryUnsettled(context.Background(), 10))

	tx, err = fx.ledger.Get(context.Background(), "tx-1")
	require.NoError(t, err)
	assert.True(t, tx.IsSettled())
}

func TestCreate_DuplicateIDRejected(t *testing.T) {
	fx := newFixture(t)
	fx.createPending(t, "tx-1", 10000, 50)

	_, err := fx.service.Create(context.Background(), CreateRequest{
		ID:                 "tx-1",
		DestinationAddress: "0x000000000000000000000000000000000000dEaD",
		FiatAmount:         decimal.NewFromInt(5000),
		ExchangeRate:       decimal.NewFromInt(50),
	})
	assert.True(t, domainerrors.IsAlreadyExists(err))
}
