package metadata

import "math"

// BlockAllocationHandle identifies a live allocation within a BlockMetadata
type BlockAllocationHandle uint64

const (
	NoAllocation BlockAllocationHandle = math.MaxUint64
)
