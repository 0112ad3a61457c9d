package costmetric

import "math/bits"

// ExecutionCost is the multi-dimensional resource consumption of a
// transaction, or the capacity of a block when used as a limit.
type ExecutionCost struct {
	WriteLength uint64 `json:"write_length"`
	WriteCount  uint64 `json:"write_count"`
	ReadLength  uint64 `json:"read_length"`
	ReadCount   uint64 `json:"read_count"`
	Runtime     uint64 `json:"runtime"`
}

// MaxBlockLength is the byte length of a maximally sized block.
const MaxBlockLength uint64 = 2 * 1024 * 1024

// MainnetBlockLimit is a production-sized block limit, useful as a default
// for simulations and for sources that do not report one.
var MainnetBlockLimit = ExecutionCost{
	WriteLength: 15_000_000,
	WriteCount:  15_000,
	ReadLength:  100_000_000,
	ReadCount:   15_000,
	Runtime:     5_000_000_000,
}

// IsZero reports whether every dimension is zero.
func (c ExecutionCost) IsZero() bool {
	return c == ExecutionCost{}
}

// ProportionDotProduct sums, over every dimension, the share of limit that c
// consumes, each share scaled to resolution.
func (c ExecutionCost) ProportionDotProduct(limit ExecutionCost, resolution uint64) uint64 {
	total := proportion(c.WriteLength, limit.WriteLength, resolution)
	total = saturatingAdd(total, proportion(c.WriteCount, limit.WriteCount, resolution))
	total = saturatingAdd(total, proportion(c.ReadLength, limit.ReadLength, resolution))
	total = saturatingAdd(total, proportion(c.ReadCount, limit.ReadCount, resolution))
	total = saturatingAdd(total, proportion(c.Runtime, limit.Runtime, resolution))
	return total
}

// proportion computes value*resolution/limit without intermediate overflow.
// A zero limit contributes nothing.
func proportion(value, limit, resolution uint64) uint64 {
	if limit == 0 {
		return 0
	}
	hi, lo := bits.Mul64(value, resolution)
	if hi >= limit {
		return ^uint64(0)
	}
	quo, _ := bits.Div64(hi, lo, limit)
	return quo
}

func saturatingAdd(a, b uint64) uint64 {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return ^uint64(0)
	}
	return sum
}
