// Package costmetric converts multi-dimensional transaction costs into the
// scalar weights used by the fee-rate estimator.
package costmetric

import (
	"errors"
	"fmt"
	"math/bits"
	"strings"
)

// ProportionResolution is the scalar value of consuming one full dimension
// of a block.
const ProportionResolution uint64 = 10_000

// CostDimensions is the number of dimensions a block can be filled on: the
// five execution cost dimensions plus transaction length.
const CostDimensions uint64 = 6

const (
	// NameProportionDotProduct selects ProportionDotProduct.
	NameProportionDotProduct = "proportion_dot_product"
	// NameUnit selects Unit.
	NameUnit = "unit"
)

// ErrUnknownMetric is returned by New for unsupported metric names.
var ErrUnknownMetric = errors.New("costmetric: unknown metric")

// Metric maps transaction costs to abstract scalar cost units.
type Metric interface {
	// FromLength weighs a transaction that only consumes block length.
	FromLength(txLen uint64) uint64
	// FromCostAndLength weighs a transaction with an execution cost.
	FromCostAndLength(cost, limit ExecutionCost, txLen uint64) uint64
	// Resolution is the weight of one fully consumed dimension.
	Resolution() uint64
}

// New returns the metric registered under name.
func New(name string, blockSizeLimit uint64) (Metric, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", NameProportionDotProduct:
		if blockSizeLimit == 0 {
			return nil, fmt.Errorf("%s requires a positive block size limit", NameProportionDotProduct)
		}
		return ProportionDotProduct{BlockSizeLimit: blockSizeLimit}, nil
	case NameUnit:
		return Unit{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMetric, name)
	}
}

// FullBlockWeight is the weight of a block filled on every dimension.
func FullBlockWeight(m Metric) uint64 {
	return saturatingMul(CostDimensions, m.Resolution())
}

// ProportionDotProduct weighs a transaction by the share of each block
// dimension it consumes.
type ProportionDotProduct struct {
	BlockSizeLimit uint64
}

// FromLength implements Metric.
func (p ProportionDotProduct) FromLength(txLen uint64) uint64 {
	return proportion(txLen, p.BlockSizeLimit, ProportionResolution)
}

// FromCostAndLength implements Metric.
func (p ProportionDotProduct) FromCostAndLength(cost, limit ExecutionCost, txLen uint64) uint64 {
	return saturatingAdd(cost.ProportionDotProduct(limit, ProportionResolution), p.FromLength(txLen))
}

// Resolution implements Metric.
func (ProportionDotProduct) Resolution() uint64 { return ProportionResolution }

// Unit weighs every transaction equally.
type Unit struct{}

// FromLength implements Metric.
func (Unit) FromLength(uint64) uint64 { return 1 }

// FromCostAndLength implements Metric.
func (Unit) FromCostAndLength(ExecutionCost, ExecutionCost, uint64) uint64 { return 1 }

// Resolution implements Metric.
func (Unit) Resolution() uint64 { return 1 }

func saturatingMul(a, b uint64) uint64 {
	hi, lo := bits.Mul64(a, b)
	if hi != 0 {
		return ^uint64(0)
	}
	return lo
}

var (
	_ Metric = ProportionDotProduct{}
	_ Metric = Unit{}
)
