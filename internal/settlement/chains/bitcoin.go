package chains

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// BitcoinClient implements BitcoinSource against an Esplora-style block
// explorer API plus a mempool fee-recommendation API.
type BitcoinClient struct {
	feeAPIURL      string // mempool.space-style recommended fees
	fallbackAPIURL string // esplora fee-estimates, block-target keyed
	explorerURL    string // esplora tx/block endpoints
	httpClient     *http.Client
	logger         *zap.Logger
}

// NewBitcoinClient builds a Bitcoin client from the configured endpoints.
func NewBitcoinClient(feeAPIURL, fallbackAPIURL, explorerURL string, logger *zap.Logger) *BitcoinClient {
	return &BitcoinClient{
		feeAPIURL:      feeAPIURL,
		fallbackAPIURL: fallbackAPIURL,
		explorerURL:    explorerURL,
		httpClient:     &http.Client{Timeout: 10 * time.Second},
		logger:         logger,
	}
}

// RecommendedFees fetches the primary mempool-based fee tiers in sat/vByte.
func (c *BitcoinClient) RecommendedFees(ctx context.Context) (*BitcoinFeeTiers, error) {
	var resp struct {
		FastestFee  int64 `json:"fastestFee"`
		HalfHourFee int64 `json:"halfHourFee"`
		HourFee     int64 `json:"hourFee"`
	}
	if err := c.getJSON(ctx, c.feeAPIURL+"/api/v1/fees/recommended", &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch recommended fees: %w", err)
	}
	return &BitcoinFeeTiers{Fastest: resp.FastestFee, HalfHour: resp.HalfHourFee, Hour: resp.HourFee}, nil
}

// FallbackFees fetches the secondary estimator, keyed by fixed
// block-confirmation targets (1, 3, 6, 144, ...).
func (c *BitcoinClient) FallbackFees(ctx context.Context) (map[int]int64, error) {
	var raw map[string]float64
	if err := c.getJSON(ctx, c.fallbackAPIURL+"/api/fee-estimates", &raw); err != nil {
		return nil, fmt.Errorf("failed to fetch fallback fee estimates: %w", err)
	}
	out := make(map[int]int64, len(raw))
	for target, rate := range raw {
		blocks, err := strconv.Atoi(target)
		if err != nil {
			continue
		}
		out[blocks] = int64(rate)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("fallback fee estimates empty")
	}
	return out, nil
}

// LatestHeight returns the current chain tip height.
func (c *BitcoinClient) LatestHeight(ctx context.Context) (uint64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.explorerURL+"/api/blocks/tip/height", nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch tip height: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("tip height query returned status %d", resp.StatusCode)
	}
	var height uint64
	if _, err := fmt.Fscan(resp.Body, &height); err != nil {
		return 0, fmt.Errorf("failed to parse tip height: %w", err)
	}
	return height, nil
}

// TransactionStatus queries the explorer for confirmation status. Bitcoin
// has no on-chain revert concept, so Failed is never reported here.
func (c *BitcoinClient) TransactionStatus(ctx context.Context, txHash string) (*TxStatus, error) {
	var status struct {
		Confirmed   bool   `json:"confirmed"`
		BlockHeight uint64 `json:"block_height"`
	}
	if err := c.getJSON(ctx, c.explorerURL+"/api/tx/"+txHash+"/status", &status); err != nil {
		return nil, fmt.Errorf("failed to fetch tx status for %s: %w", txHash, err)
	}
	if !status.Confirmed {
		return &TxStatus{}, nil
	}
	tip, err := c.LatestHeight(ctx)
	if err != nil {
		return nil, err
	}
	var confirmations uint64
	if tip >= status.BlockHeight {
		confirmations = tip - status.BlockHeight + 1
	}
	return &TxStatus{Confirmed: true, Confirmations: confirmations}, nil
}

func (c *BitcoinClient) getJSON(ctx context.Context, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
