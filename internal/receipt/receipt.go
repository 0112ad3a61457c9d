// Package receipt models the per-block transaction receipts consumed by the
// fee-rate estimator.
package receipt

import (
	"fmt"
	"strings"

	"median-fee-estimator/internal/costmetric"
)

// Origin tells where a receipt's transaction came from.
type Origin uint8

const (
	// OriginTransaction is a fee-paying transaction submitted to the chain.
	OriginTransaction Origin = iota
	// OriginExternal covers entries materialised by the system or the burn
	// chain. They never pay into the fee market.
	OriginExternal
)

func (o Origin) String() string {
	switch o {
	case OriginTransaction:
		return "transaction"
	case OriginExternal:
		return "external"
	default:
		return fmt.Sprintf("origin(%d)", uint8(o))
	}
}

// Payload is the kind of transaction payload.
type Payload uint8

const (
	PayloadTransfer Payload = iota
	PayloadCoinbase
	PayloadContractCall
	PayloadContractDeploy
	PayloadPenalty
)

var payloadNames = map[Payload]string{
	PayloadTransfer:       "token_transfer",
	PayloadCoinbase:       "coinbase",
	PayloadContractCall:   "contract_call",
	PayloadContractDeploy: "smart_contract",
	PayloadPenalty:        "poison_microblock",
}

func (p Payload) String() string {
	if name, ok := payloadNames[p]; ok {
		return name
	}
	return fmt.Sprintf("payload(%d)", uint8(p))
}

// ParsePayload resolves a payload wire name.
func ParsePayload(name string) (Payload, error) {
	needle := strings.ToLower(strings.TrimSpace(name))
	for p, n := range payloadNames {
		if n == needle {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown payload kind %q", name)
}

// Tx is the receipt of one transaction in a block.
type Tx struct {
	ID      string
	Origin  Origin
	Payload Payload
	// Fee is the fee paid in the chain's smallest unit.
	Fee uint64
	// Length is the encoded transaction size in bytes.
	Length uint64
	// Cost is only meaningful for contract calls, deploys and penalties.
	Cost costmetric.ExecutionCost
}

// Block is an ordered set of receipts plus the block's resource limit.
type Block struct {
	Height       uint64
	Hash         string
	Limit        costmetric.ExecutionCost
	Transactions []Tx
}
