package estimator

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"median-fee-estimator/internal/costmetric"
	"median-fee-estimator/internal/receipt"
)

// lengthMetric weighs a transfer by its length and a contract transaction by
// runtime plus length.
type lengthMetric struct{}

func (lengthMetric) FromLength(txLen uint64) uint64 { return txLen }

func (lengthMetric) FromCostAndLength(cost, _ costmetric.ExecutionCost, txLen uint64) uint64 {
	return cost.Runtime + txLen
}

func (lengthMetric) Resolution() uint64 { return 100 }

func transfer(fee, length uint64) receipt.Tx {
	return receipt.Tx{Payload: receipt.PayloadTransfer, Fee: fee, Length: length}
}

func contractCall(fee, runtime, length uint64) receipt.Tx {
	return receipt.Tx{
		Payload: receipt.PayloadContractCall,
		Fee:     fee,
		Length:  length,
		Cost:    costmetric.ExecutionCost{Runtime: runtime},
	}
}

func TestEmptyBlockIsAllFiller(t *testing.T) {
	s := NewSampler(costmetric.ProportionDotProduct{BlockSizeLimit: costmetric.MaxBlockLength})
	require.Equal(t, 6*costmetric.ProportionResolution, s.FullBlockWeight())

	samples := s.Samples(receipt.Block{}, costmetric.MainnetBlockLimit)
	require.Len(t, samples, 1)
	assert.Equal(t, FeeRateAndWeight{FeeRate: 1, Weight: s.FullBlockWeight()}, samples[0])

	est, n, ok := s.Estimate(receipt.Block{}, costmetric.MainnetBlockLimit)
	require.True(t, ok)
	assert.Equal(t, 1, n)
	assert.Equal(t, FeeRateEstimate{High: 1, Middle: 1, Low: 1}, est)
}

func TestSingleTransactionBlock(t *testing.T) {
	s := NewSampler(lengthMetric{}, WithFullBlockWeight(10))
	block := receipt.Block{Transactions: []receipt.Tx{transfer(100, 10)}}

	est, n, ok := s.Estimate(block, costmetric.ExecutionCost{})
	require.True(t, ok)
	assert.Equal(t, 1, n)
	assert.Equal(t, FeeRateEstimate{High: 10, Middle: 10, Low: 10}, est)
}

func TestClassificationAndInterpolation(t *testing.T) {
	s := NewSampler(lengthMetric{})
	require.Equal(t, uint64(600), s.FullBlockWeight())

	external := contractCall(1_000_000, 50, 50)
	external.Origin = receipt.OriginExternal
	block := receipt.Block{Transactions: []receipt.Tx{
		transfer(1000, 100),
		{Payload: receipt.PayloadCoinbase, Fee: 99999, Length: 10},
		external,
		contractCall(50, 400, 100),
	}}

	samples := s.Samples(block, costmetric.ExecutionCost{})
	require.Equal(t, []FeeRateAndWeight{
		{FeeRate: 1, Weight: 500},
		{FeeRate: 10, Weight: 100},
	}, samples)

	est, _, ok := s.Estimate(block, costmetric.ExecutionCost{})
	require.True(t, ok)
	assert.InDelta(t, 1.0, est.Low, 1e-9)
	assert.InDelta(t, 2.5, est.Middle, 1e-9)
	assert.InDelta(t, 10.0, est.High, 1e-9)
}

func TestFillerMatchesEquivalentLowFeeTransaction(t *testing.T) {
	s := NewSampler(lengthMetric{})
	block := receipt.Block{Transactions: []receipt.Tx{transfer(1000, 100)}}

	samples := s.Samples(block, costmetric.ExecutionCost{})
	require.Equal(t, []FeeRateAndWeight{
		{FeeRate: 1, Weight: 500},
		{FeeRate: 10, Weight: 100},
	}, samples)

	est, _, ok := s.Estimate(block, costmetric.ExecutionCost{})
	require.True(t, ok)
	assert.InDelta(t, 2.5, est.Middle, 1e-9)
}

func TestNoFillerForFullBlock(t *testing.T) {
	s := NewSampler(lengthMetric{})
	block := receipt.Block{Transactions: []receipt.Tx{transfer(7000, 700)}}

	samples := s.Samples(block, costmetric.ExecutionCost{})
	assert.Equal(t, []FeeRateAndWeight{{FeeRate: 10, Weight: 700}}, samples)
}

func TestRateClampKeepsWeight(t *testing.T) {
	m := lengthMetric{}

	rate, ok := feeRateAndWeight(m, transfer(5, 50), costmetric.ExecutionCost{})
	require.True(t, ok)
	assert.Equal(t, FeeRateAndWeight{FeeRate: 1, Weight: 50}, rate)

	// zero weight divides by one
	rate, ok = feeRateAndWeight(m, transfer(30, 0), costmetric.ExecutionCost{})
	require.True(t, ok)
	assert.Equal(t, FeeRateAndWeight{FeeRate: 30, Weight: 0}, rate)

	rate, ok = feeRateAndWeight(m, transfer(0, 0), costmetric.ExecutionCost{})
	require.True(t, ok)
	assert.Equal(t, FeeRateAndWeight{FeeRate: 1, Weight: 0}, rate)

	_, ok = feeRateAndWeight(m, receipt.Tx{Payload: receipt.Payload(200)}, costmetric.ExecutionCost{})
	assert.False(t, ok)
}

func TestPenaltyAndDeployUseCost(t *testing.T) {
	m := lengthMetric{}
	for _, p := range []receipt.Payload{receipt.PayloadContractDeploy, receipt.PayloadPenalty} {
		tx := contractCall(900, 80, 10)
		tx.Payload = p
		rate, ok := feeRateAndWeight(m, tx, costmetric.ExecutionCost{})
		require.True(t, ok)
		assert.Equal(t, FeeRateAndWeight{FeeRate: 10, Weight: 90}, rate, p.String())
	}
}

func TestZeroFullBlockWeightSkips(t *testing.T) {
	s := NewSampler(lengthMetric{}, WithFullBlockWeight(0))

	_, n, ok := s.Estimate(receipt.Block{}, costmetric.ExecutionCost{})
	assert.False(t, ok)
	assert.Zero(t, n)

	// samples exist but carry no weight
	_, n, ok = s.Estimate(receipt.Block{Transactions: []receipt.Tx{transfer(10, 0)}}, costmetric.ExecutionCost{})
	assert.False(t, ok)
	assert.Equal(t, 1, n)
}

func TestEstimateFromEmpty(t *testing.T) {
	_, ok := EstimateFromSortedWeightedFees(nil)
	assert.False(t, ok)
}

func TestSortToleratesNaN(t *testing.T) {
	rates := []FeeRateAndWeight{
		{FeeRate: 3, Weight: 1},
		{FeeRate: math.NaN(), Weight: 1},
		{FeeRate: 1, Weight: 1},
		{FeeRate: 2, Weight: 1},
	}
	assert.NotPanics(t, func() {
		sortFeeRates(rates)
		EstimateFromSortedWeightedFees(rates)
	})
}

func TestSortIsStable(t *testing.T) {
	rates := []FeeRateAndWeight{
		{FeeRate: 2, Weight: 1},
		{FeeRate: 1, Weight: 2},
		{FeeRate: 2, Weight: 3},
		{FeeRate: 1, Weight: 4},
	}
	sortFeeRates(rates)
	assert.Equal(t, []FeeRateAndWeight{
		{FeeRate: 1, Weight: 2},
		{FeeRate: 1, Weight: 4},
		{FeeRate: 2, Weight: 1},
		{FeeRate: 2, Weight: 3},
	}, rates)
}

func TestEstimateIsOrdered(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 500; round++ {
		n := 1 + rng.Intn(40)
		rates := make([]FeeRateAndWeight, n)
		for i := range rates {
			rates[i] = FeeRateAndWeight{
				FeeRate: 1 + rng.Float64()*1000,
				Weight:  uint64(rng.Intn(10_000)),
			}
		}
		rates[0].Weight++
		sortFeeRates(rates)

		est, ok := EstimateFromSortedWeightedFees(rates)
		require.True(t, ok)
		// one ulp of slack for interpolation landing exactly on a sample
		const eps = 1e-9
		assert.LessOrEqual(t, est.Low, est.Middle+eps, "round %d", round)
		assert.LessOrEqual(t, est.Middle, est.High+eps, "round %d", round)
		assert.GreaterOrEqual(t, est.Low+eps, rates[0].FeeRate)
		assert.LessOrEqual(t, est.High, rates[n-1].FeeRate+eps)
	}
}
