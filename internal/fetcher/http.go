package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"median-fee-estimator/internal/costmetric"
	"median-fee-estimator/internal/receipt"
)

const (
	tipPath    = "/v1/tip"
	blocksPath = "/v1/blocks/"

	originStacks    = "stacks"
	originBurnchain = "burnchain"

	maxResponseBytes = 32 << 20
)

// HTTPOptions parameterise the node API source.
type HTTPOptions struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
	// FeeDecimals shifts reported fee amounts into integer base units.
	FeeDecimals int32
}

// HTTPSource reads receipts from a node's JSON API.
type HTTPSource struct {
	opts    HTTPOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewHTTPSource constructs a node API source.
func NewHTTPSource(opts HTTPOptions, logger zerolog.Logger) *HTTPSource {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &HTTPSource{
		opts:    opts,
		logger:  logger.With().Str("component", "http_source").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
	}
}

// LatestHeight implements BlockSource.
func (s *HTTPSource) LatestHeight(ctx context.Context) (uint64, error) {
	var tip tipResponse
	if err := s.get(ctx, tipPath, &tip); err != nil {
		return 0, err
	}
	return tip.Height, nil
}

// Block implements BlockSource.
func (s *HTTPSource) Block(ctx context.Context, height uint64) (receipt.Block, error) {
	var payload blockResponse
	if err := s.get(ctx, blocksPath+strconv.FormatUint(height, 10), &payload); err != nil {
		return receipt.Block{}, err
	}
	if payload.Height != height {
		return receipt.Block{}, fmt.Errorf("node returned block %d for height %d", payload.Height, height)
	}

	block := receipt.Block{
		Height:       payload.Height,
		Hash:         payload.Hash,
		Limit:        payload.Limit,
		Transactions: make([]receipt.Tx, 0, len(payload.Transactions)),
	}
	for i, raw := range payload.Transactions {
		tx, err := s.convertTx(raw)
		if err != nil {
			return receipt.Block{}, fmt.Errorf("block %d tx %d: %w", height, i, err)
		}
		block.Transactions = append(block.Transactions, tx)
	}

	s.logger.Debug().Uint64("height", height).Int("transactions", len(block.Transactions)).Msg("fetched block")
	return block, nil
}

func (s *HTTPSource) convertTx(raw txResponse) (receipt.Tx, error) {
	var origin receipt.Origin
	switch strings.ToLower(raw.Origin) {
	case originStacks, "":
		origin = receipt.OriginTransaction
	case originBurnchain:
		origin = receipt.OriginExternal
	default:
		return receipt.Tx{}, fmt.Errorf("unknown origin %q", raw.Origin)
	}

	payload, err := receipt.ParsePayload(raw.Payload)
	if err != nil {
		return receipt.Tx{}, err
	}

	fee, err := ScaleFee(raw.Fee, s.opts.FeeDecimals)
	if err != nil {
		return receipt.Tx{}, err
	}

	return receipt.Tx{
		ID:      raw.TxID,
		Origin:  origin,
		Payload: payload,
		Fee:     fee,
		Length:  raw.TxLen,
		Cost:    raw.ExecutionCost,
	}, nil
}

// ScaleFee parses a decimal fee amount and shifts it by decimals into
// integer base units, truncating any remaining fraction.
func ScaleFee(amount string, decimals int32) (uint64, error) {
	if strings.TrimSpace(amount) == "" {
		return 0, nil
	}
	fee, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return 0, fmt.Errorf("parse fee: %w", err)
	}
	if fee.IsNegative() {
		return 0, fmt.Errorf("fee %s is negative", amount)
	}
	units := fee.Shift(decimals).Truncate(0).BigInt()
	if !units.IsUint64() {
		return 0, fmt.Errorf("fee %s overflows", amount)
	}
	return units.Uint64(), nil
}

func (s *HTTPSource) get(ctx context.Context, path string, out any) error {
	if s.baseURL == "" {
		return errors.New("source url not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(s.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "feeestimator/1.0")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return err
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return fmt.Errorf("%s: %w", path, ErrBlockNotFound)
	default:
		return parseHTTPError(resp.StatusCode, body)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

type tipResponse struct {
	Height uint64 `json:"height"`
}

type blockResponse struct {
	Height       uint64                   `json:"height"`
	Hash         string                   `json:"hash"`
	Limit        costmetric.ExecutionCost `json:"limit"`
	Transactions []txResponse             `json:"transactions"`
}

type txResponse struct {
	TxID          string                   `json:"txid"`
	Origin        string                   `json:"origin"`
	Payload       string                   `json:"payload"`
	Fee           string                   `json:"fee"`
	TxLen         uint64                   `json:"tx_len"`
	ExecutionCost costmetric.ExecutionCost `json:"execution_cost"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Error != "" {
			return fmt.Errorf("node api error (%d): %s", status, apiErr.Error)
		}
		if apiErr.Message != "" {
			return fmt.Errorf("node api error (%d): %s", status, apiErr.Message)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("node api error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("node api error (%d)", status)
}

var _ BlockSource = (*HTTPSource)(nil)
