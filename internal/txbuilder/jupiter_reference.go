package txbuilder

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"solsniper/internal/rpc"
	"solsniper/internal/types"
)

// JupiterReferenceBuilder is the reference Builder implementation grounded
// on the teacher's Jupiter DEX client: it quotes and assembles a swap via
// Jupiter's HTTP API. It is a reference only — DEX instruction encoding is
// opaque per spec.md — but it gives the Builder contract a real, testable
// body instead of leaving it abstract.
type JupiterReferenceBuilder struct {
	baseURL    string
	httpClient *http.Client
	apiKey     string
}

var _ Builder = (*JupiterReferenceBuilder)(nil)

func NewJupiterReferenceBuilder(apiKey string) *JupiterReferenceBuilder {
	return &JupiterReferenceBuilder{
		baseURL:    "https://quote-api.jup.ag/v6",
		httpClient: &http.Client{Timeout: 5 * time.Second},
		apiKey:     apiKey,
	}
}

// jupiterQuoteResponse is the subset of Jupiter's /quote response this
// builder needs.
type jupiterQuoteResponse struct {
	InputMint  string `json:"inputMint"`
	OutputMint string `json:"outputMint"`
	InAmount   string `json:"inAmount"`
	OutAmount  string `json:"outAmount"`
}

type jupiterSwapResponse struct {
	SwapTransaction      string `json:"swapTransaction"`
	LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
}

const solMint = "So11111111111111111111111111111111111111112"

// BuildBuy implements Builder. It must call lease.AdvanceInstruction()
// first so the nonce is consumed even if the rest of the transaction fails
// on-chain (spec §4.D).
func (b *JupiterReferenceBuilder) BuildBuy(ctx context.Context, candidate types.Candidate, lease Lease, fee FeePolicy) (rpc.SignedTx, error) {
	advance, err := lease.AdvanceInstruction()
	if err != nil {
		return rpc.SignedTx{}, fmt.Errorf("txbuilder: advance_instruction: %w", err)
	}

	lamports := convertToLamports(notionalFor(candidate, fee))
	quote, err := b.getQuote(ctx, solMint, hex.EncodeToString(candidate.MintID[:]), lamports)
	if err != nil {
		return rpc.SignedTx{}, fmt.Errorf("txbuilder: get_quote: %w", err)
	}

	swap, err := b.getSwapTransaction(ctx, quote, hex.EncodeToString(lease.Address()[:]), fee)
	if err != nil {
		return rpc.SignedTx{}, fmt.Errorf("txbuilder: get_swap_tx: %w", err)
	}

	return assembleSignedTx(advance, swap), nil
}

// BuildSell implements Builder, swapping from the candidate mint back to
// SOL for an amount of fraction × fee.MaxNotional (converted to lamports);
// it does not look up current holdings.
func (b *JupiterReferenceBuilder) BuildSell(ctx context.Context, mint types.Mint, fraction decimal.Decimal, lease Lease, fee FeePolicy) (rpc.SignedTx, error) {
	advance, err := lease.AdvanceInstruction()
	if err != nil {
		return rpc.SignedTx{}, fmt.Errorf("txbuilder: advance_instruction: %w", err)
	}

	lamports := convertToLamports(fee.MaxNotional.Mul(fraction))
	quote, err := b.getQuote(ctx, hex.EncodeToString(mint[:]), solMint, lamports)
	if err != nil {
		return rpc.SignedTx{}, fmt.Errorf("txbuilder: get_quote: %w", err)
	}

	swap, err := b.getSwapTransaction(ctx, quote, hex.EncodeToString(lease.Address()[:]), fee)
	if err != nil {
		return rpc.SignedTx{}, fmt.Errorf("txbuilder: get_swap_tx: %w", err)
	}

	return assembleSignedTx(advance, swap), nil
}

func notionalFor(candidate types.Candidate, fee FeePolicy) decimal.Decimal {
	notional := decimal.NewFromFloat(candidate.VolumeHint)
	if fee.MaxNotional.IsPositive() && notional.GreaterThan(fee.MaxNotional) {
		return fee.MaxNotional
	}
	return notional
}

func (b *JupiterReferenceBuilder) getQuote(ctx context.Context, inputMint, outputMint string, amountLamports uint64) (*jupiterQuoteResponse, error) {
	url := fmt.Sprintf("%s/quote?inputMint=%s&outputMint=%s&amount=%d&slippageBps=100",
		b.baseURL, inputMint, outputMint, amountLamports)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if b.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.apiKey)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("quote api error %d: %s", resp.StatusCode, string(body))
	}

	var quote jupiterQuoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&quote); err != nil {
		return nil, err
	}
	return &quote, nil
}

func (b *JupiterReferenceBuilder) getSwapTransaction(ctx context.Context, quote *jupiterQuoteResponse, userPubkeyHex string, fee FeePolicy) (*jupiterSwapResponse, error) {
	reqBody := map[string]interface{}{
		"quoteResponse":         quote,
		"userPublicKey":         userPubkeyHex,
		"wrapAndUnwrapSol":      true,
		"useSharedAccounts":     true,
		"computeUnitPriceMicro": fee.PriorityFeeMicroLamports,
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/swap", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if b.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.apiKey)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("swap api error %d: %s", resp.StatusCode, string(body))
	}

	var swap jupiterSwapResponse
	if err := json.NewDecoder(resp.Body).Decode(&swap); err != nil {
		return nil, err
	}
	return &swap, nil
}

func assembleSignedTx(advance rpc.Instruction, swap *jupiterSwapResponse) rpc.SignedTx {
	buf := make([]byte, 0, len(advance.Data)+len(swap.SwapTransaction))
	buf = append(buf, advance.Data...)
	buf = append(buf, []byte(swap.SwapTransaction)...)
	return rpc.SignedTx{Bytes: buf}
}

// convertToLamports converts a SOL-denominated decimal to lamports
// (1 SOL = 1e9 lamports), matching the teacher's Jupiter client convention.
func convertToLamports(sol decimal.Decimal) uint64 {
	lamports := sol.Mul(decimal.NewFromInt(1_000_000_000))
	if lamports.IsNegative() {
		return 0
	}
	return uint64(lamports.IntPart())
}
