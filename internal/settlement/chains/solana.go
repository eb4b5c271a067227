package chains

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Confirmations assigned to a finalized Solana transaction. The RPC reports
// null confirmations once a transaction is rooted; 32 slots is finality.
const solanaFinalizedConfirmations = 32

// SolanaClient implements SolanaSource over the Solana JSON-RPC API.
type SolanaClient struct {
	rpcURL     string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewSolanaClient builds a Solana RPC client.
func NewSolanaClient(rpcURL string, logger *zap.Logger) *SolanaClient {
	return &SolanaClient{
		rpcURL:     rpcURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

type solanaRPCRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

type solanaRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (c *SolanaClient) call(ctx context.Context, method string, params []interface{}, result interface{}) error {
	body, err := json.Marshal(solanaRPCRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("solana rpc %s failed: %w", method, err)
	}
	defer resp.Body.Close()

	var envelope struct {
		Result json.RawMessage `json:"result"`
		Error  *solanaRPCError `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("solana rpc %s: failed to decode response: %w", method, err)
	}
	if envelope.Error != nil {
		return fmt.Errorf("solana rpc %s: %s (code %d)", method, envelope.Error.Message, envelope.Error.Code)
	}
	return json.Unmarshal(envelope.Result, result)
}

// LatestHeight returns the current slot.
func (c *SolanaClient) LatestHeight(ctx context.Context) (uint64, error) {
	var slot uint64
	if err := c.call(ctx, "getSlot", nil, &slot); err != nil {
		return 0, err
	}
	return slot, nil
}

// RecentPrioritizationFees returns the prioritization fees paid over the
// most recent slots, in micro-lamports per compute unit.
func (c *SolanaClient) RecentPrioritizationFees(ctx context.Context) ([]uint64, error) {
	var entries []struct {
		Slot              uint64 `json:"slot"`
		PrioritizationFee uint64 `json:"prioritizationFee"`
	}
	if err := c.call(ctx, "getRecentPrioritizationFees", []interface{}{}, &entries); err != nil {
		return nil, err
	}
	fees := make([]uint64, 0, len(entries))
	for _, e := range entries {
		fees = append(fees, e.PrioritizationFee)
	}
	return fees, nil
}

// TransactionStatus queries signature status. A finalized signature counts
// as fully confirmed; a transaction error means on-chain rejection.
func (c *SolanaClient) TransactionStatus(ctx context.Context, txHash string) (*TxStatus, error) {
	var result struct {
		Value []*struct {
			Confirmations      *uint64     `json:"confirmations"`
			ConfirmationStatus string      `json:"confirmationStatus"`
			Err                interface{} `json:"err"`
		} `json:"value"`
	}
	params := []interface{}{
		[]string{txHash},
		map[string]bool{"searchTransactionHistory": true},
	}
	if err := c.call(ctx, "getSignatureStatuses", params, &result); err != nil {
		return nil, err
	}
	if len(result.Value) == 0 || result.Value[0] == nil {
		return &TxStatus{}, nil
	}

	sig := result.Value[0]
	if sig.Err != nil {
		reason, _ := json.Marshal(sig.Err)
		return &TxStatus{Failed: true, FailureReason: string(reason)}, nil
	}

	confirmations := uint64(0)
	switch {
	case sig.ConfirmationStatus == "finalized" || sig.Confirmations == nil:
		confirmations = solanaFinalizedConfirmations
	default:
		confirmations = *sig.Confirmations
	}
	return &TxStatus{Confirmed: true, Confirmations: confirmations}, nil
}
