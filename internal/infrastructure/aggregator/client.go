// Package aggregator is the DEX aggregator client. It turns a (sell asset,
// buy asset, amount) request into an executable transaction payload with a
// slippage-bounded minimum output.
package aggregator

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	domainerrors "github.com/sendramp/ramp-service/internal/domain/errors"
	"github.com/sendramp/ramp-service/internal/infrastructure/config"
)

// NativeToken is the pseudo-address aggregators accept for the chain's
// native asset on the sell or buy side.
const NativeToken = "0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE"

// QuoteRequest describes the swap being priced.
type QuoteRequest struct {
	SellToken   string
	BuyToken    string
	SellAmount  *big.Int
	Taker       string
	SlippageBps int
}

// Quote is an executable swap transaction returned by the aggregator.
type Quote struct {
	To              string
	Data            []byte
	Value           *big.Int
	Gas             uint64
	BuyAmount       *big.Int
	MinBuyAmount    *big.Int
	AllowanceTarget string
}

// Client is a 0x-style aggregator API client.
type Client struct {
	baseURL        string
	apiKey         string
	chainID        int64
	httpClient     *http.Client
	circuitBreaker *gobreaker.CircuitBreaker
	logger         *zap.Logger
}

// NewClient creates a new aggregator client.
func NewClient(cfg config.AggregatorConfig, chainID int64, logger *zap.Logger) *Client {
	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "aggregator",
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})

	return &Client{
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:         cfg.APIKey,
		chainID:        chainID,
		httpClient:     &http.Client{Timeout: timeout},
		circuitBreaker: cb,
		logger:         logger,
	}
}

type quoteResponse struct {
	Transaction struct {
		To    string `json:"to"`
		Data  string `json:"data"`
		Value string `json:"value"`
		Gas   string `json:"gas"`
	} `json:"transaction"`
	BuyAmount    string `json:"buyAmount"`
	MinBuyAmount string `json:"minBuyAmount"`
	Issues       struct {
		Allowance *struct {
			Spender string `json:"spender"`
		} `json:"allowance"`
	} `json:"issues"`
}

// GetSwapQuote requests an executable quote for the given swap.
func (c *Client) GetSwapQuote(ctx context.Context, req QuoteRequest) (*Quote, error) {
	if req.SellAmount == nil || req.SellAmount.Sign() <= 0 {
		return nil, domainerrors.ValidationError("sell_amount", "sell amount must be positive")
	}

	params := url.Values{}
	params.Set("chainId", fmt.Sprintf("%d", c.chainID))
	params.Set("sellToken", req.SellToken)
	params.Set("buyToken", req.BuyToken)
	params.Set("sellAmount", req.SellAmount.String())
	params.Set("taker", req.Taker)
	params.Set("slippageBps", fmt.Sprintf("%d", req.SlippageBps))

	result, err := c.circuitBreaker.Execute(func() (interface{}, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
			c.baseURL+"/swap/allowance-holder/quote?"+params.Encode(), nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create quote request: %w", err)
		}
		httpReq.Header.Set("0x-api-key", c.apiKey)
		httpReq.Header.Set("0x-version", "v2")

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			return nil, domainerrors.TransientError("aggregator", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, domainerrors.TransientError("aggregator", err)
		}

		if resp.StatusCode >= 500 {
			return nil, domainerrors.TransientError("aggregator",
				fmt.Errorf("aggregator returned %d", resp.StatusCode))
		}
		if resp.StatusCode >= 400 {
			return nil, domainerrors.ValidationError("quote",
				fmt.Sprintf("aggregator returned %d: %s", resp.StatusCode, string(body)))
		}

		var out quoteResponse
		if err := json.Unmarshal(body, &out); err != nil {
			return nil, fmt.Errorf("failed to decode quote response: %w", err)
		}
		return &out, nil
	})
	if err != nil {
		return nil, err
	}

	out := result.(*quoteResponse)
	return c.buildQuote(out)
}

func (c *Client) buildQuote(out *quoteResponse) (*Quote, error) {
	data, err := decodeHex(out.Transaction.Data)
	if err != nil {
		return nil, fmt.Errorf("invalid quote calldata: %w", err)
	}

	value, ok := new(big.Int).SetString(zeroIfEmpty(out.Transaction.Value), 10)
	if !ok {
		return nil, fmt.Errorf("invalid quote value: %q", out.Transaction.Value)
	}
	buyAmount, ok := new(big.Int).SetString(zeroIfEmpty(out.BuyAmount), 10)
	if !ok {
		return nil, fmt.Errorf("invalid buy amount: %q", out.BuyAmount)
	}
	minBuyAmount, ok := new(big.Int).SetString(zeroIfEmpty(out.MinBuyAmount), 10)
	if !ok {
		return nil, fmt.Errorf("invalid min buy amount: %q", out.MinBuyAmount)
	}

	var gas uint64
	fmt.Sscanf(out.Transaction.Gas, "%d", &gas)

	quote := &Quote{
		To:           out.Transaction.To,
		Data:         data,
		Value:        value,
		Gas:          gas,
		BuyAmount:    buyAmount,
		MinBuyAmount: minBuyAmount,
	}
	if out.Issues.Allowance != nil {
		quote.AllowanceTarget = out.Issues.Allowance.Spender
	} else {
		// The allowance-holder endpoint spends from its entry point.
		quote.AllowanceTarget = out.Transaction.To
	}

	return quote, nil
}

func decodeHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(s, "0x")
	if len(s)%2 != 0 {
		s = "0" + s
	}
	return hex.DecodeString(s)
}

func zeroIfEmpty(s string) string {
	if s == "" {
		return "0"
	}
	return s
}
