// Package fetcher retrieves block receipts from a chain node.
package fetcher

import (
	"context"
	"errors"

	"median-fee-estimator/internal/receipt"
)

// ErrBlockNotFound is returned when the node does not know the height yet.
var ErrBlockNotFound = errors.New("fetcher: block not found")

// BlockSource returns processed blocks together with their receipts.
type BlockSource interface {
	// LatestHeight returns the height of the chain tip.
	LatestHeight(ctx context.Context) (uint64, error)
	// Block returns the receipts of the block at height.
	Block(ctx context.Context, height uint64) (receipt.Block, error)
}
