package estimator

import (
	"math"
	"math/bits"
	"slices"

	"median-fee-estimator/internal/costmetric"
	"median-fee-estimator/internal/receipt"
)

// Percentiles reported as low, middle and high.
var targetPercentiles = [3]float64{0.05, 0.5, 0.95}

// minimumFeeRate is the rate given to filler capacity and to samples whose
// computed rate is below one or not finite.
const minimumFeeRate = 1.0

// Sampler turns the receipts of one block into a weighted percentile
// estimate. It keeps no state between blocks.
type Sampler struct {
	metric          costmetric.Metric
	fullBlockWeight uint64
}

// SamplerOption customises a Sampler.
type SamplerOption func(*Sampler)

// WithFullBlockWeight overrides the weight of a full block, which otherwise
// is derived from the metric's resolution.
func WithFullBlockWeight(weight uint64) SamplerOption {
	return func(s *Sampler) {
		s.fullBlockWeight = weight
	}
}

// NewSampler builds a sampler weighing transactions with metric.
func NewSampler(metric costmetric.Metric, opts ...SamplerOption) *Sampler {
	s := &Sampler{
		metric:          metric,
		fullBlockWeight: costmetric.FullBlockWeight(metric),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FullBlockWeight returns the weight below which filler is synthesised.
func (s *Sampler) FullBlockWeight() uint64 {
	return s.fullBlockWeight
}

// Samples converts every eligible transaction into a fee-rate sample and
// appends filler for unused capacity. The result is sorted by fee rate.
func (s *Sampler) Samples(block receipt.Block, limit costmetric.ExecutionCost) []FeeRateAndWeight {
	rates := make([]FeeRateAndWeight, 0, len(block.Transactions)+1)
	for _, tx := range block.Transactions {
		if rate, ok := feeRateAndWeight(s.metric, tx, limit); ok {
			rates = append(rates, rate)
		}
	}
	rates = addMinimumFeeRate(rates, s.fullBlockWeight)
	sortFeeRates(rates)
	return rates
}

// Estimate computes the block's estimate. ok is false when the block yields
// nothing to estimate from, which is not an error.
func (s *Sampler) Estimate(block receipt.Block, limit costmetric.ExecutionCost) (est FeeRateEstimate, samples int, ok bool) {
	rates := s.Samples(block, limit)
	est, ok = EstimateFromSortedWeightedFees(rates)
	return est, len(rates), ok
}

// feeRateAndWeight classifies tx and computes fee/weight. Coinbase and
// externally originated entries do not take part in the fee market.
func feeRateAndWeight(metric costmetric.Metric, tx receipt.Tx, limit costmetric.ExecutionCost) (FeeRateAndWeight, bool) {
	if tx.Origin != receipt.OriginTransaction {
		return FeeRateAndWeight{}, false
	}

	var weight uint64
	switch tx.Payload {
	case receipt.PayloadTransfer:
		weight = metric.FromLength(tx.Length)
	case receipt.PayloadContractCall, receipt.PayloadContractDeploy, receipt.PayloadPenalty:
		weight = metric.FromCostAndLength(tx.Cost, limit, tx.Length)
	default:
		return FeeRateAndWeight{}, false
	}

	denominator := float64(max(weight, 1))
	rate := float64(tx.Fee) / denominator
	if rate < minimumFeeRate || math.IsInf(rate, 0) || math.IsNaN(rate) {
		rate = minimumFeeRate
	}
	return FeeRateAndWeight{FeeRate: rate, Weight: weight}, true
}

// addMinimumFeeRate pads rates with a minimum-rate sample covering whatever
// part of a full block the transactions left unused.
func addMinimumFeeRate(rates []FeeRateAndWeight, fullBlockWeight uint64) []FeeRateAndWeight {
	var total uint64
	for _, r := range rates {
		sum, carry := bits.Add64(total, r.Weight, 0)
		if carry != 0 {
			return rates
		}
		total = sum
	}
	if total < fullBlockWeight {
		rates = append(rates, FeeRateAndWeight{
			FeeRate: minimumFeeRate,
			Weight:  fullBlockWeight - total,
		})
	}
	return rates
}

func sortFeeRates(rates []FeeRateAndWeight) {
	slices.SortStableFunc(rates, func(a, b FeeRateAndWeight) int {
		return compareRates(a.FeeRate, b.FeeRate)
	})
}

// EstimateFromSortedWeightedFees interpolates the weighted 5th, 50th and
// 95th percentiles of sorted, which must be in ascending fee-rate order.
// ok is false for an empty input or one whose total weight is zero.
func EstimateFromSortedWeightedFees(sorted []FeeRateAndWeight) (FeeRateEstimate, bool) {
	if len(sorted) == 0 {
		return FeeRateEstimate{}, false
	}

	var total float64
	for _, r := range sorted {
		total += float64(r.Weight)
	}
	if total == 0 {
		return FeeRateEstimate{}, false
	}

	percentiles := make([]float64, len(sorted))
	var cumulative float64
	for i, r := range sorted {
		w := float64(r.Weight)
		cumulative += w
		percentiles[i] = (cumulative - w/2) / total
	}

	var values [len(targetPercentiles)]float64
	idx := 0
	for i, target := range targetPercentiles {
		for idx < len(percentiles) && percentiles[idx] < target {
			idx++
		}
		switch {
		case idx == 0:
			values[i] = sorted[0].FeeRate
		case idx == len(percentiles):
			values[i] = sorted[len(sorted)-1].FeeRate
		default:
			vk, vk1 := sorted[idx-1].FeeRate, sorted[idx].FeeRate
			pk, pk1 := percentiles[idx-1], percentiles[idx]
			values[i] = vk + (target-pk)/(pk1-pk)*(vk1-vk)
		}
	}

	return FeeRateEstimate{
		Low:    values[0],
		Middle: values[1],
		High:   values[2],
	}, true
}
