package rpc

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"solsniper/internal/types"
)

// HTTPClient is a reference Client implementation against a Solana-shaped
// JSON-RPC endpoint, grounded on the same net/http + encoding/json style
// the txbuilder reference builder uses against Jupiter's HTTP API. The RPC
// collaborator is specified as opaque (spec.md §6); this gives it one real,
// testable body instead of leaving every caller without a concrete Client.
type HTTPClient struct {
	endpoint   string
	httpClient *http.Client
	nextID     int
}

var _ Client = (*HTTPClient)(nil)

func NewHTTPClient(endpoint string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type jsonRPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params,omitempty"`
}

type jsonRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type jsonRPCResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *jsonRPCError   `json:"error"`
}

func (c *HTTPClient) call(ctx context.Context, method string, params []any, out any) error {
	c.nextID++
	body, err := json.Marshal(jsonRPCRequest{JSONRPC: "2.0", ID: c.nextID, Method: method, Params: params})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("rpc: %s returned status %d: %s", method, resp.StatusCode, raw)
	}

	var rpcResp jsonRPCResponse
	if err := json.Unmarshal(raw, &rpcResp); err != nil {
		return fmt.Errorf("rpc: decoding %s response: %w", method, err)
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("rpc: %s: %s (code %d)", method, rpcResp.Error.Message, rpcResp.Error.Code)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(rpcResp.Result, out)
}

// GetSlot implements Client.
func (c *HTTPClient) GetSlot(ctx context.Context) (uint64, error) {
	var slot uint64
	if err := c.call(ctx, "getSlot", nil, &slot); err != nil {
		return 0, err
	}
	return slot, nil
}

type accountInfoValue struct {
	Owner string   `json:"owner"`
	Data  []string `json:"data"`
}

type multipleAccountsResult struct {
	Value []*accountInfoValue `json:"value"`
}

// GetMultipleAccounts implements Client.
func (c *HTTPClient) GetMultipleAccounts(ctx context.Context, keys []types.Mint) ([]*AccountData, error) {
	addrs := make([]any, len(keys))
	for i, k := range keys {
		addrs[i] = base64.StdEncoding.EncodeToString(k[:])
	}

	var result multipleAccountsResult
	params := []any{addrs, map[string]string{"encoding": "base64"}}
	if err := c.call(ctx, "getMultipleAccounts", params, &result); err != nil {
		return nil, err
	}

	out := make([]*AccountData, len(result.Value))
	for i, v := range result.Value {
		if v == nil {
			continue
		}
		var owner types.ProgramID
		ownerBytes, err := base64.StdEncoding.DecodeString(v.Owner)
		if err == nil && len(ownerBytes) == len(owner) {
			copy(owner[:], ownerBytes)
		}
		var data []byte
		if len(v.Data) > 0 {
			data, _ = base64.StdEncoding.DecodeString(v.Data[0])
		}
		out[i] = &AccountData{Owner: owner, Data: data}
	}
	return out, nil
}

type simulateResult struct {
	Value struct {
		Err  any `json:"err"`
		Logs []string
	} `json:"value"`
}

// Simulate implements Client. A non-nil on-chain Err is reported as an
// advisory failure, which the engine logs before broadcasting anyway; only
// SimCriticalFailure aborts a buy, and this client never reports it
// (spec §4.D/§7).
func (c *HTTPClient) Simulate(ctx context.Context, tx SignedTx) (SimOutcome, error) {
	encoded := base64.StdEncoding.EncodeToString(tx.Bytes)
	var result simulateResult
	params := []any{encoded, map[string]any{"encoding": "base64"}}
	if err := c.call(ctx, "simulateTransaction", params, &result); err != nil {
		return SimOutcome{}, err
	}
	if result.Value.Err != nil {
		return SimOutcome{Status: SimAdvisoryFailure, Reason: fmt.Sprintf("%v", result.Value.Err)}, nil
	}
	return SimOutcome{Status: SimSuccess}, nil
}

// Broadcast implements Client. Fire-and-forget submission per spec §4.D:
// errors are reported only for the submission call itself, never for
// later on-chain confirmation.
func (c *HTTPClient) Broadcast(ctx context.Context, tx SignedTx) (Signature, error) {
	encoded := base64.StdEncoding.EncodeToString(tx.Bytes)
	var sigStr string
	params := []any{encoded, map[string]any{"encoding": "base64"}}
	if err := c.call(ctx, "sendTransaction", params, &sigStr); err != nil {
		return Signature{}, err
	}
	return tx.Signature, nil
}

// ClientSlotSource adapts any Client into a SlotSource, for the sniffer
// ingress path which needs current_slot() outside of a Candidate's own RPC
// call. A failed GetSlot reports math.MaxUint64 as the slot, pushing every
// Candidate's freshness comparison to reject rather than accept on a
// transient RPC hiccup.
type ClientSlotSource struct {
	Client  Client
	Timeout time.Duration
}

func (s ClientSlotSource) CurrentSlot() uint64 {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	slot, err := s.Client.GetSlot(ctx)
	if err != nil {
		return math.MaxUint64
	}
	return slot
}
