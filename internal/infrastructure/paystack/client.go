// Package paystack is the payment-gateway client. It serves two calls in the
// settlement core: re-verifying a transaction by reference (the source of
// truth during webhook reconciliation) and initiating fiat transfers for
// off-ramp payouts.
package paystack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	domainerrors "github.com/sendramp/ramp-service/internal/domain/errors"
	"github.com/sendramp/ramp-service/internal/infrastructure/config"
)

const defaultTimeout = 15 * time.Second

// VerifiedTransaction is the gateway's authoritative view of a payment.
type VerifiedTransaction struct {
	Reference          string
	Status             string
	AmountMinor        int64 // minor units (kobo)
	Currency           string
	PaidAt             time.Time
	TransactionID      string // metadata: internal transaction id, may be empty
	DestinationAddress string // metadata: destination wallet, may be empty
}

// Successful reports whether the gateway considers the payment settled.
func (v *VerifiedTransaction) Successful() bool {
	return v.Status == "success"
}

// TransferRecipient identifies a verified bank account.
type TransferRecipient struct {
	BankCode      string
	AccountNumber string
	AccountName   string
}

// TransferResult is the gateway's response to a transfer initiation.
type TransferResult struct {
	Reference string
	Status    string
}

// Client is a Paystack API client. External calls run behind a circuit
// breaker so a gateway outage degrades to fast transient failures.
type Client struct {
	baseURL        string
	secretKey      string
	httpClient     *http.Client
	circuitBreaker *gobreaker.CircuitBreaker
	logger         *zap.Logger
}

// NewClient creates a new Paystack client.
func NewClient(cfg config.PaystackConfig, logger *zap.Logger) *Client {
	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = defaultTimeout
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "paystack",
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})

	return &Client{
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		secretKey:      cfg.SecretKey,
		httpClient:     &http.Client{Timeout: timeout},
		circuitBreaker: cb,
		logger:         logger,
	}
}

type verifyResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		Reference string `json:"reference"`
		Status    string `json:"status"`
		Amount    int64  `json:"amount"`
		Currency  string `json:"currency"`
		PaidAt    string `json:"paid_at"`
		Metadata  struct {
			TransactionID      string `json:"transaction_id"`
			DestinationAddress string `json:"destination_address"`
		} `json:"metadata"`
	} `json:"data"`
}

// VerifyTransaction re-fetches a transaction by reference. Reconciliation
// trusts this response, never the webhook body.
func (c *Client) VerifyTransaction(ctx context.Context, reference string) (*VerifiedTransaction, error) {
	var out verifyResponse
	err := c.get(ctx, fmt.Sprintf("/transaction/verify/%s", reference), &out)
	if err != nil {
		return nil, err
	}
	if !out.Status {
		return nil, domainerrors.ValidationError("reference",
			fmt.Sprintf("gateway rejected verification: %s", out.Message))
	}

	paidAt, _ := time.Parse(time.RFC3339, out.Data.PaidAt)

	return &VerifiedTransaction{
		Reference:          out.Data.Reference,
		Status:             out.Data.Status,
		AmountMinor:        out.Data.Amount,
		Currency:           out.Data.Currency,
		PaidAt:             paidAt,
		TransactionID:      out.Data.Metadata.TransactionID,
		DestinationAddress: out.Data.Metadata.DestinationAddress,
	}, nil
}

type recipientResponse struct {
	Status bool `json:"status"`
	Data   struct {
		RecipientCode string `json:"recipient_code"`
	} `json:"data"`
}

type transferResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		Reference string `json:"reference"`
		Status    string `json:"status"`
	} `json:"data"`
}

// InitiateTransfer creates a transfer recipient for the payout account and
// initiates a bank transfer. The caller supplies the idempotency reference;
// replaying the same reference does not create a second transfer.
func (c *Client) InitiateTransfer(ctx context.Context, recipient TransferRecipient, amount decimal.Decimal, reference, reason string) (*TransferResult, error) {
	var rec recipientResponse
	err := c.post(ctx, "/transferrecipient", map[string]interface{}{
		"type":           "nuban",
		"name":           recipient.AccountName,
		"account_number": recipient.AccountNumber,
		"bank_code":      recipient.BankCode,
		"currency":       "NGN",
	}, &rec)
	if err != nil {
		return nil, err
	}
	if !rec.Status {
		return nil, domainerrors.ValidationError("payout_account", "gateway rejected transfer recipient")
	}

	var out transferResponse
	err = c.post(ctx, "/transfer", map[string]interface{}{
		"source":    "balance",
		"amount":    amount.Mul(decimal.NewFromInt(100)).IntPart(), // NGN -> kobo
		"recipient": rec.Data.RecipientCode,
		"reference": reference,
		"reason":    reason,
		"currency":  "NGN",
	}, &out)
	if err != nil {
		return nil, err
	}
	if !out.Status {
		return nil, domainerrors.TransientError("paystack", fmt.Errorf("transfer rejected: %s", out.Message))
	}

	return &TransferResult{Reference: out.Data.Reference, Status: out.Data.Status}, nil
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) post(ctx context.Context, path string, body interface{}, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}
	return c.do(ctx, http.MethodPost, path, payload, out)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out interface{}) error {
	_, err := c.circuitBreaker.Execute(func() (interface{}, error) {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.secretKey)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, domainerrors.TransientError("paystack", err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, domainerrors.TransientError("paystack", err)
		}

		if resp.StatusCode >= 500 {
			return nil, domainerrors.TransientError("paystack",
				fmt.Errorf("gateway returned %d", resp.StatusCode))
		}
		if resp.StatusCode >= 400 {
			c.logger.Warn("paystack request rejected",
				zap.String("path", path),
				zap.Int("status", resp.StatusCode),
			)
			return nil, domainerrors.ValidationError("request",
				fmt.Sprintf("gateway returned %d: %s", resp.StatusCode, string(respBody)))
		}

		if err := json.Unmarshal(respBody, out); err != nil {
			return nil, fmt.Errorf("failed to decode gateway response: %w", err)
		}

		return nil, nil
	})
	return err
}
