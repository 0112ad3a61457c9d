package fetcher

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"median-fee-estimator/internal/receipt"
)

type fakeEVMClient struct {
	tip uint64
	err error
}

func (f *fakeEVMClient) BlockNumber(context.Context) (uint64, error) {
	return f.tip, f.err
}

func (f *fakeEVMClient) BlockByNumber(context.Context, *big.Int) (*types.Block, error) {
	return nil, ethereum.NotFound
}

func (f *fakeEVMClient) BlockReceipts(context.Context, rpc.BlockNumberOrHash) ([]*types.Receipt, error) {
	return nil, errors.New("unexpected call")
}

func TestEVMSourceMissingConfig(t *testing.T) {
	src := NewEVMSource(EVMOptions{}, noopLogger())
	_, err := src.LatestHeight(context.Background())
	assert.Error(t, err)
}

func TestEVMSourceWithClient(t *testing.T) {
	src := NewEVMSource(EVMOptions{RPCURL: "http://unused"}, noopLogger())
	src.client = &fakeEVMClient{tip: 99}

	tip, err := src.LatestHeight(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(99), tip)

	_, err = src.Block(context.Background(), 100)
	assert.True(t, errors.Is(err, ErrBlockNotFound))
}

func TestConvertEVMBlock(t *testing.T) {
	to := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	transfer := types.NewTx(&types.LegacyTx{Nonce: 1, To: &to, Gas: 21000, GasPrice: big.NewInt(2e9)})
	call := types.NewTx(&types.LegacyTx{Nonce: 2, To: &to, Gas: 90000, GasPrice: big.NewInt(3e9), Data: []byte{0xa9, 0x05, 0x9c, 0xbb}})
	deploy := types.NewTx(&types.LegacyTx{Nonce: 3, Gas: 500000, GasPrice: big.NewInt(1e9), Data: []byte{0x60, 0x80}})

	txs := types.Transactions{transfer, call, deploy}
	receipts := []*types.Receipt{
		{TxHash: transfer.Hash(), GasUsed: 21000, EffectiveGasPrice: big.NewInt(2e9)},
		{TxHash: call.Hash(), GasUsed: 50000, EffectiveGasPrice: big.NewInt(3e9)},
		// a missing effective price falls back to the transaction's
		{TxHash: deploy.Hash(), GasUsed: 300000},
	}

	block, err := convertEVMBlock(12, "0xdead", 30_000_000, txs, receipts, 9)
	require.NoError(t, err)
	assert.Equal(t, uint64(30_000_000), block.Limit.Runtime)
	require.Len(t, block.Transactions, 3)

	assert.Equal(t, receipt.PayloadTransfer, block.Transactions[0].Payload)
	assert.Equal(t, uint64(42000), block.Transactions[0].Fee)
	assert.Equal(t, transfer.Size(), block.Transactions[0].Length)

	assert.Equal(t, receipt.PayloadContractCall, block.Transactions[1].Payload)
	assert.Equal(t, uint64(150000), block.Transactions[1].Fee)
	assert.Equal(t, uint64(50000), block.Transactions[1].Cost.Runtime)

	assert.Equal(t, receipt.PayloadContractDeploy, block.Transactions[2].Payload)
	assert.Equal(t, uint64(300000), block.Transactions[2].Fee)
	for _, tx := range block.Transactions {
		assert.Equal(t, receipt.OriginTransaction, tx.Origin)
	}
}

func TestConvertEVMBlockMismatch(t *testing.T) {
	to := common.HexToAddress("0x01")
	tx := types.NewTx(&types.LegacyTx{To: &to, Gas: 21000, GasPrice: big.NewInt(1)})

	_, err := convertEVMBlock(1, "", 0, types.Transactions{tx}, nil, 9)
	assert.Error(t, err)

	_, err = convertEVMBlock(1, "", 0, types.Transactions{tx}, []*types.Receipt{{TxHash: common.Hash{1}}}, 9)
	assert.Error(t, err)
}
