package fetcher

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"median-fee-estimator/internal/costmetric"
	"median-fee-estimator/internal/receipt"
)

// EVMOptions parameterise the JSON-RPC source.
type EVMOptions struct {
	RPCURL  string
	Timeout time.Duration
	// FeeDecimals scales wei down before fees are handed to the sampler.
	// Nine reports fees in gwei.
	FeeDecimals int32
}

type evmClient interface {
	BlockNumber(ctx context.Context) (uint64, error)
	BlockByNumber(ctx context.Context, number *big.Int) (*types.Block, error)
	BlockReceipts(ctx context.Context, blockNrOrHash rpc.BlockNumberOrHash) ([]*types.Receipt, error)
}

// EVMSource maps EVM blocks onto receipts. Gas is the only cost dimension
// and is reported as runtime.
type EVMSource struct {
	opts      EVMOptions
	logger    zerolog.Logger
	client    evmClient
	clientMux sync.Mutex
}

// NewEVMSource builds a new JSON-RPC source. The connection is dialled on
// first use.
func NewEVMSource(opts EVMOptions, logger zerolog.Logger) *EVMSource {
	return &EVMSource{opts: opts, logger: logger.With().Str("component", "evm_source").Logger()}
}

// LatestHeight implements BlockSource.
func (s *EVMSource) LatestHeight(ctx context.Context) (uint64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	client, err := s.getClient(ctx)
	if err != nil {
		return 0, err
	}
	return client.BlockNumber(ctx)
}

// Block implements BlockSource.
func (s *EVMSource) Block(ctx context.Context, height uint64) (receipt.Block, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	client, err := s.getClient(ctx)
	if err != nil {
		return receipt.Block{}, err
	}

	number := new(big.Int).SetUint64(height)
	block, err := client.BlockByNumber(ctx, number)
	if errors.Is(err, ethereum.NotFound) {
		return receipt.Block{}, fmt.Errorf("block %d: %w", height, ErrBlockNotFound)
	}
	if err != nil {
		return receipt.Block{}, fmt.Errorf("get block %d: %w", height, err)
	}

	receipts, err := client.BlockReceipts(ctx, rpc.BlockNumberOrHashWithHash(block.Hash(), false))
	if err != nil {
		return receipt.Block{}, fmt.Errorf("get receipts %d: %w", height, err)
	}

	out, err := convertEVMBlock(height, block.Hash().Hex(), block.GasLimit(), block.Transactions(), receipts, s.opts.FeeDecimals)
	if err != nil {
		return receipt.Block{}, err
	}

	s.logger.Debug().Uint64("height", height).Int("transactions", len(out.Transactions)).Msg("fetched block")
	return out, nil
}

func convertEVMBlock(height uint64, hash string, gasLimit uint64, txs types.Transactions, receipts []*types.Receipt, feeDecimals int32) (receipt.Block, error) {
	if len(txs) != len(receipts) {
		return receipt.Block{}, fmt.Errorf("block %d: %d transactions but %d receipts", height, len(txs), len(receipts))
	}

	block := receipt.Block{
		Height:       height,
		Hash:         hash,
		Limit:        costmetric.ExecutionCost{Runtime: gasLimit},
		Transactions: make([]receipt.Tx, 0, len(txs)),
	}
	for i, tx := range txs {
		rcpt := receipts[i]
		if rcpt == nil || rcpt.TxHash != tx.Hash() {
			return receipt.Block{}, fmt.Errorf("block %d: receipt %d does not match transaction %s", height, i, tx.Hash().Hex())
		}

		fee, err := evmFee(rcpt, tx, feeDecimals)
		if err != nil {
			return receipt.Block{}, fmt.Errorf("block %d tx %s: %w", height, tx.Hash().Hex(), err)
		}

		block.Transactions = append(block.Transactions, receipt.Tx{
			ID:      tx.Hash().Hex(),
			Origin:  receipt.OriginTransaction,
			Payload: classifyEVM(tx),
			Fee:     fee,
			Length:  tx.Size(),
			Cost:    costmetric.ExecutionCost{Runtime: rcpt.GasUsed},
		})
	}
	return block, nil
}

func classifyEVM(tx *types.Transaction) receipt.Payload {
	switch {
	case tx.To() == nil:
		return receipt.PayloadContractDeploy
	case len(tx.Data()) == 0:
		return receipt.PayloadTransfer
	default:
		return receipt.PayloadContractCall
	}
}

func evmFee(rcpt *types.Receipt, tx *types.Transaction, decimals int32) (uint64, error) {
	price := rcpt.EffectiveGasPrice
	if price == nil {
		price = tx.GasPrice()
	}
	wei := new(big.Int).Mul(new(big.Int).SetUint64(rcpt.GasUsed), price)
	units := decimal.NewFromBigInt(wei, -decimals).Truncate(0).BigInt()
	if !units.IsUint64() {
		return 0, fmt.Errorf("fee %s wei overflows", wei.String())
	}
	return units.Uint64(), nil
}

func (s *EVMSource) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := s.opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}

func (s *EVMSource) getClient(ctx context.Context) (evmClient, error) {
	s.clientMux.Lock()
	defer s.clientMux.Unlock()

	if s.client != nil {
		return s.client, nil
	}
	if s.opts.RPCURL == "" {
		return nil, errors.New("ethereum rpc url not configured")
	}

	client, err := ethclient.DialContext(ctx, s.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	s.client = client
	return client, nil
}

var _ BlockSource = (*EVMSource)(nil)
