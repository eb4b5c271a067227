package wallet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// CustodyClient implements Gateway against a vault-style custody provider
// HTTP API (one vault account holds the platform hot wallets).
type CustodyClient struct {
	baseURL        string
	apiKey         string
	vaultAccountID string
	httpClient     *http.Client
	logger         *zap.Logger
}

// NewCustodyClient builds the custody-provider gateway.
func NewCustodyClient(baseURL, apiKey, vaultAccountID string, timeout time.Duration, logger *zap.Logger) *CustodyClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &CustodyClient{
		baseURL:        strings.TrimRight(baseURL, "/"),
		apiKey:         apiKey,
		vaultAccountID: vaultAccountID,
		httpClient:     &http.Client{Timeout: timeout},
		logger:         logger,
	}
}

type custodyTransferRequest struct {
	AssetID     string `json:"asset_id"`
	Blockchain  string `json:"blockchain"`
	Source      string `json:"source"`
	Destination string `json:"destination"`
	Amount      string `json:"amount"`
	Reference   string `json:"reference"`
}

type custodyTransferResponse struct {
	TxHash string `json:"tx_hash"`
	Code   string `json:"code"`
	Error  string `json:"error"`
}

// Address returns the hot wallet address for a blockchain key.
func (c *CustodyClient) Address(ctx context.Context, blockchainKey string) (string, error) {
	url := fmt.Sprintf("%s/v1/vaults/%s/wallets/%s/address", c.baseURL, c.vaultAccountID, blockchainKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("custody address lookup failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("custody address lookup returned status %d", resp.StatusCode)
	}

	var body struct {
		Address string `json:"address"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("failed to decode custody address response: %w", err)
	}
	if body.Address == "" {
		return "", fmt.Errorf("custody returned empty address for %s", blockchainKey)
	}
	return body.Address, nil
}

// Transfer submits a signed transfer through the custody provider.
func (c *CustodyClient) Transfer(ctx context.Context, treq *TransferRequest) (*TransferResult, error) {
	payload, err := json.Marshal(custodyTransferRequest{
		AssetID:     treq.TokenID,
		Blockchain:  treq.BlockchainKey,
		Source:      treq.From,
		Destination: treq.To,
		Amount:      treq.Amount.String(),
		Reference:   treq.Reference,
	})
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/v1/vaults/%s/transactions", c.baseURL, c.vaultAccountID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-API-Key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("custody transfer submission failed: %w", err)
	}
	defer resp.Body.Close()

	var body custodyTransferResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode custody transfer response: %w", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		if body.Code == "INSUFFICIENT_FUNDS" {
			return nil, fmt.Errorf("custody transfer rejected: %s: %w", body.Error, ErrInsufficientFunds)
		}
		return nil, fmt.Errorf("custody transfer returned status %d: %s", resp.StatusCode, body.Error)
	}
	if body.TxHash == "" {
		return nil, fmt.Errorf("custody transfer returned no transaction hash")
	}

	c.logger.Info("custody transfer submitted",
		zap.String("blockchain", treq.BlockchainKey),
		zap.String("token", treq.TokenID),
		zap.String("reference", treq.Reference),
		zap.String("tx_hash", body.TxHash))
	return &TransferResult{TxHash: body.TxHash}, nil
}
