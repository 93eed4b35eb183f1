package metadata

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/poolsim/memutils"
	"golang.org/x/exp/slog"
)

// BlockMetadata represents the bookkeeping for a single contiguous region of memory. It manages
// suballocations within the block, allowing allocations to be requested, resized and freed, as well as
// enumerated and queried.
type BlockMetadata interface {
	// Init must be called before the BlockMetadata is used. It informs the implementation of the
	// size in bytes of the block of memory it will be managing.
	Init(size int)
	// Size retrieves the size in bytes that the block was initialized with
	Size() int

	// Validate performs internal consistency checks on the metadata. When the implementation is functioning
	// correctly, it should not be possible for this method to return an error, but this may assist in
	// diagnosing issues with the implementation.
	Validate() error
	// AllocationCount returns the number of suballocations currently live in the implementation. This number
	// should generally be the number of successful allocations minus the number of successful frees.
	AllocationCount() int
	// FreeRegionsCount returns the number of nonempty gaps between (and around) live suballocations.
	FreeRegionsCount() int
	// SumFreeSize returns the number of free bytes of memory in the block.
	SumFreeSize() int
	// IsEmpty will return true if this block has no live suballocations
	IsEmpty() bool

	// VisitAllRegions will call the provided callback once for each allocation and nonempty free region
	// in the block, in ascending offset order. Free regions are passed NoAllocation as their handle.
	VisitAllRegions(handleBlock func(handle BlockAllocationHandle, offset int, size int, free bool) error) error

	// FindAllocation returns the handle of the live allocation that begins exactly at the provided offset.
	// Offsets that fall inside an allocation but not at its start do not match.
	FindAllocation(offset int) (BlockAllocationHandle, bool)
	// AllocationOffset accepts a BlockAllocationHandle that maps to a live allocation within the block
	// and returns the offset in bytes within the block for that allocation.
	//
	// The implementation must return an error if the provided handle does not map to a live allocation
	// within this block.
	AllocationOffset(allocHandle BlockAllocationHandle) (int, error)
	// AllocationSize accepts a BlockAllocationHandle that maps to a live allocation within the block
	// and returns its size in bytes.
	//
	// The implementation must return an error if the provided handle does not map to a live allocation
	// within this block.
	AllocationSize(allocHandle BlockAllocationHandle) (int, error)

	// AddDetailedStatistics sums this block's allocation statistics into the statistics currently present
	// in the provided memutils.DetailedStatistics object.
	AddDetailedStatistics(stats *memutils.DetailedStatistics)
	// AddStatistics sums this block's allocation statistics into the statistics currently present in the
	// provided memutils.Statistics object.
	AddStatistics(stats *memutils.Statistics)

	// Clear instantly frees all allocations
	Clear()
	// BlockJsonData populates a json object with information about this block
	BlockJsonData(json *jwriter.ObjectState)
	// DebugLogAllAllocations calls logFunc once for each live allocation in the block
	DebugLogAllAllocations(logger *slog.Logger, logFunc func(log *slog.Logger, offset int, size int))

	// CreateAllocationRequest retrieves an AllocationRequest object indicating where the implementation
	// would place an allocation of allocSize bytes. The first return value is false if no free region
	// can hold the allocation. The request can be passed to Alloc to commit the allocation.
	CreateAllocationRequest(allocSize int) (bool, AllocationRequest, error)
	// Alloc commits an AllocationRequest object, creating the suballocation within the block based
	// on the data described in the AllocationRequest. The implementation must return an error if the
	// allocation is no longer valid- i.e. the requested free region no longer exists, is no longer
	// large enough to support the request, etc.
	Alloc(request AllocationRequest) error
	// ResizeInPlace attempts to change the size of a live allocation without changing its offset. It
	// returns false, leaving the allocation untouched, if the allocation cannot grow to newSize where it is.
	//
	// The implementation must return an error if the provided handle does not map to a live allocation
	// within this block.
	ResizeInPlace(allocHandle BlockAllocationHandle, newSize int) (bool, error)

	// Free frees a suballocation within the block, causing it to become a free region once again.
	//
	// The implementation must return an error if the provided handle does not map to a live allocation
	// within this block.
	Free(allocHandle BlockAllocationHandle) error
}

// BlockMetadataBase is a simple struct that provides a few shared utilities for BlockMetadata
// implementations.
type BlockMetadataBase struct {
	size int
}

// NewBlockMetadata creates a new, uninitialized BlockMetadataBase
func NewBlockMetadata() BlockMetadataBase {
	return BlockMetadataBase{
		size: 0,
	}
}

// Init prepares this structure for allocations and sizes the block in bytes based on the parameter size.
func (m *BlockMetadataBase) Init(size int) {
	m.size = size
}

// Size returns the size of the block in bytes
func (m *BlockMetadataBase) Size() int { return m.size }

// WriteBlockJson populates a json object with summary information about this block
func (m *BlockMetadataBase) WriteBlockJson(json *jwriter.ObjectState, unusedBytes, allocationCount, unusedRangeCount int) {
	json.Name("TotalBytes").Int(m.Size())
	json.Name("UnusedBytes").Int(unusedBytes)
	json.Name("Allocations").Int(allocationCount)
	json.Name("UnusedRanges").Int(unusedRangeCount)
}
