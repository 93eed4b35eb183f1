package metadata

import (
	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/poolsim/memutils"
	"golang.org/x/exp/slices"
	"golang.org/x/exp/slog"
)

// FirstFitBlockMetadata is a BlockMetadata implementation that keeps its live suballocations in
// a slice sorted by offset. New allocations are placed in the lowest-offset free gap that is large
// enough to hold them: the gap before the first suballocation, each gap between two neighboring
// suballocations, and finally the gap after the last suballocation, in that order. This is a
// greedy placement and makes no attempt to pick the tightest gap.
//
// Allocation handles are the allocation's offset plus one, so the zero handle never names a live
// allocation. Because allocations never change offset while they are live, handles are stable
// across resizes.
type FirstFitBlockMetadata struct {
	BlockMetadataBase

	sumFreeSize    int
	suballocations []memutils.Range
}

var _ BlockMetadata = &FirstFitBlockMetadata{}

// NewFirstFitBlockMetadata creates a new FirstFitBlockMetadata. Init must be called before use.
func NewFirstFitBlockMetadata() *FirstFitBlockMetadata {
	return &FirstFitBlockMetadata{
		BlockMetadataBase: NewBlockMetadata(),
		suballocations:    []memutils.Range{},
	}
}

func handleForOffset(offset int) BlockAllocationHandle {
	return BlockAllocationHandle(offset + 1)
}

func offsetForHandle(handle BlockAllocationHandle) int {
	return int(handle) - 1
}

// Init prepares this structure for allocations and sizes the block in bytes based on the parameter size.
func (m *FirstFitBlockMetadata) Init(size int) {
	m.BlockMetadataBase.Init(size)
	m.sumFreeSize = size
}

// SumFreeSize returns the number of free bytes of memory in the block.
func (m *FirstFitBlockMetadata) SumFreeSize() int {
	return m.sumFreeSize
}

// AllocationCount returns the number of live suballocations
func (m *FirstFitBlockMetadata) AllocationCount() int {
	return len(m.suballocations)
}

// IsEmpty will return true if this block has no live suballocations
func (m *FirstFitBlockMetadata) IsEmpty() bool {
	return len(m.suballocations) == 0
}

// FreeRegionsCount returns the number of nonempty gaps in the block
func (m *FirstFitBlockMetadata) FreeRegionsCount() int {
	var count int
	_ = m.visitFreeRegions(func(offset, size int) error {
		count++
		return nil
	})
	return count
}

// Validate checks that the suballocations are sorted, nonempty, non-overlapping, contained in the
// block, and that the tracked free size agrees with them.
func (m *FirstFitBlockMetadata) Validate() error {
	var prevEnd, usedSize int

	for index, suballoc := range m.suballocations {
		if suballoc.Size <= 0 {
			return errors.Newf("suballoc at index %d with offset %d has non-positive size %d", index, suballoc.Offset, suballoc.Size)
		}

		if suballoc.Offset < prevEnd {
			return errors.Newf("suballoc at index %d has offset %d- this collides with previous suballocations, expected offset of at least %d", index, suballoc.Offset, prevEnd)
		}

		prevEnd = suballoc.End()
		usedSize += suballoc.Size
	}

	if prevEnd > m.Size() {
		return errors.Newf("final suballocation ends at offset %d, but the metadata indicates a total size of %d, which is smaller", prevEnd, m.Size())
	}

	if m.sumFreeSize != m.Size()-usedSize {
		return errors.Newf("the metadata's free size %d and the calculated used size %d don't add up to the metadata-reported size of %d", m.sumFreeSize, usedSize, m.Size())
	}

	return nil
}

func (m *FirstFitBlockMetadata) findIndex(offset int) (int, bool) {
	return slices.BinarySearchFunc(m.suballocations, offset, func(suballoc memutils.Range, target int) int {
		return suballoc.Offset - target
	})
}

func (m *FirstFitBlockMetadata) findSuballocation(allocHandle BlockAllocationHandle) (int, error) {
	if allocHandle == NoAllocation || allocHandle == 0 {
		return -1, errors.Wrap(memutils.ErrUnknownAddress, "invalid allocation handle")
	}

	offset := offsetForHandle(allocHandle)
	index, found := m.findIndex(offset)
	if !found {
		return -1, errors.Wrapf(memutils.ErrUnknownAddress, "no suballocation begins at offset %d", offset)
	}

	return index, nil
}

// FindAllocation returns the handle of the live allocation that begins exactly at the provided offset.
func (m *FirstFitBlockMetadata) FindAllocation(offset int) (BlockAllocationHandle, bool) {
	if offset < 0 {
		return NoAllocation, false
	}

	_, found := m.findIndex(offset)
	if !found {
		return NoAllocation, false
	}

	return handleForOffset(offset), true
}

// AllocationOffset returns the offset of a live allocation
func (m *FirstFitBlockMetadata) AllocationOffset(allocHandle BlockAllocationHandle) (int, error) {
	index, err := m.findSuballocation(allocHandle)
	if err != nil {
		return 0, err
	}

	return m.suballocations[index].Offset, nil
}

// AllocationSize returns the size of a live allocation
func (m *FirstFitBlockMetadata) AllocationSize(allocHandle BlockAllocationHandle) (int, error) {
	index, err := m.findSuballocation(allocHandle)
	if err != nil {
		return 0, err
	}

	return m.suballocations[index].Size, nil
}

func (m *FirstFitBlockMetadata) visitFreeRegions(handleRegion func(offset, size int) error) error {
	return m.VisitAllRegions(func(handle BlockAllocationHandle, offset int, size int, free bool) error {
		if !free {
			return nil
		}
		return handleRegion(offset, size)
	})
}

// VisitAllRegions will call the provided callback once for each allocation and nonempty free region in
// the block, in ascending offset order.
func (m *FirstFitBlockMetadata) VisitAllRegions(handleBlock func(handle BlockAllocationHandle, offset int, size int, free bool) error) error {
	lastOffset := 0

	for _, suballoc := range m.suballocations {
		// Process free space before the allocation
		if lastOffset < suballoc.Offset {
			err := handleBlock(NoAllocation, lastOffset, suballoc.Offset-lastOffset, true)
			if err != nil {
				return err
			}
		}

		err := handleBlock(handleForOffset(suballoc.Offset), suballoc.Offset, suballoc.Size, false)
		if err != nil {
			return err
		}

		lastOffset = suballoc.End()
	}

	// Process free space after the final allocation
	if lastOffset < m.Size() {
		return handleBlock(NoAllocation, lastOffset, m.Size()-lastOffset, true)
	}

	return nil
}

// AddDetailedStatistics sums this block's allocation statistics into the statistics currently present
// in the provided memutils.DetailedStatistics object.
func (m *FirstFitBlockMetadata) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	stats.Statistics.PoolCount++
	stats.Statistics.PoolBytes += m.Size()

	_ = m.VisitAllRegions(
		func(handle BlockAllocationHandle, offset int, size int, free bool) error {
			if free {
				stats.AddUnusedRange(size)
			} else {
				stats.AddAllocation(size)
			}

			return nil
		})
}

// AddStatistics sums this block's allocation statistics into the statistics currently present in the
// provided memutils.Statistics object.
func (m *FirstFitBlockMetadata) AddStatistics(stats *memutils.Statistics) {
	stats.PoolCount++
	stats.PoolBytes += m.Size()
	stats.AllocationCount += len(m.suballocations)
	stats.AllocationBytes += m.Size() - m.sumFreeSize
}

// BlockJsonData populates a json object with information about this block
func (m *FirstFitBlockMetadata) BlockJsonData(json *jwriter.ObjectState) {
	m.WriteBlockJson(json, m.sumFreeSize, m.AllocationCount(), m.FreeRegionsCount())
}

// DebugLogAllAllocations calls logFunc once for each live allocation in the block
func (m *FirstFitBlockMetadata) DebugLogAllAllocations(logger *slog.Logger, logFunc func(log *slog.Logger, offset int, size int)) {
	for _, suballoc := range m.suballocations {
		logFunc(logger, suballoc.Offset, suballoc.Size)
	}
}

// Clear instantly frees all allocations
func (m *FirstFitBlockMetadata) Clear() {
	m.sumFreeSize = m.Size()
	m.suballocations = m.suballocations[:0]
}

// CreateAllocationRequest finds the lowest-offset free gap that can hold allocSize bytes. The block
// is not modified.
func (m *FirstFitBlockMetadata) CreateAllocationRequest(allocSize int) (bool, AllocationRequest, error) {
	if allocSize <= 0 {
		return false, AllocationRequest{}, errors.New("allocation size must be greater than 0")
	}
	memutils.DebugValidate(m)

	if allocSize > m.sumFreeSize {
		return false, AllocationRequest{}, nil
	}

	gapStart := 0
	for index := 0; index <= len(m.suballocations); index++ {
		gapEnd := m.Size()
		if index < len(m.suballocations) {
			gapEnd = m.suballocations[index].Offset
		}

		if gapEnd-gapStart >= allocSize {
			return true, AllocationRequest{
				BlockAllocationHandle: handleForOffset(gapStart),
				Size:                  allocSize,
				Item: memutils.Range{
					Offset: gapStart,
					Size:   allocSize,
				},
				InsertIndex: index,
			}, nil
		}

		if index < len(m.suballocations) {
			gapStart = m.suballocations[index].End()
		}
	}

	return false, AllocationRequest{}, nil
}

// Alloc commits an AllocationRequest created by CreateAllocationRequest. It returns an error if the
// block has changed in a way that invalidates the request.
func (m *FirstFitBlockMetadata) Alloc(req AllocationRequest) error {
	newSuballoc := req.Item
	if newSuballoc.Size <= 0 || newSuballoc.Size != req.Size {
		return errors.Newf("allocation request has inconsistent size %d for an item of size %d", req.Size, newSuballoc.Size)
	}

	if req.BlockAllocationHandle != handleForOffset(newSuballoc.Offset) {
		return errors.Newf("allocation request handle %d does not match offset %d", req.BlockAllocationHandle, newSuballoc.Offset)
	}

	if req.InsertIndex < 0 || req.InsertIndex > len(m.suballocations) {
		return errors.Newf("allocation request index %d is out of range for %d suballocations", req.InsertIndex, len(m.suballocations))
	}

	if req.InsertIndex > 0 && m.suballocations[req.InsertIndex-1].End() > newSuballoc.Offset {
		return errors.New("attempted to allocate memory in the middle of active memory")
	}

	nextBoundary := m.Size()
	if req.InsertIndex < len(m.suballocations) {
		nextBoundary = m.suballocations[req.InsertIndex].Offset
	}

	if newSuballoc.Offset < 0 || newSuballoc.End() > nextBoundary {
		return errors.Newf("attempted to allocate %d bytes at offset %d, but the free region ends at offset %d", newSuballoc.Size, newSuballoc.Offset, nextBoundary)
	}

	m.suballocations = slices.Insert(m.suballocations, req.InsertIndex, newSuballoc)
	m.sumFreeSize -= newSuballoc.Size

	memutils.DebugValidate(m)
	return nil
}

// ResizeInPlace changes the size of a live allocation without moving it. Shrinking always succeeds.
// Growing succeeds when the allocation's new end would not pass the next allocation's offset, or
// the end of the block if the allocation is the last one.
func (m *FirstFitBlockMetadata) ResizeInPlace(allocHandle BlockAllocationHandle, newSize int) (bool, error) {
	if newSize <= 0 {
		return false, errors.New("allocation size must be greater than 0")
	}

	index, err := m.findSuballocation(allocHandle)
	if err != nil {
		return false, err
	}

	suballoc := &m.suballocations[index]
	oldSize := suballoc.Size

	limit := m.Size() - suballoc.Offset
	if index+1 < len(m.suballocations) {
		limit = m.suballocations[index+1].Offset - suballoc.Offset
	}

	if newSize > oldSize && newSize > limit {
		return false, nil
	}

	suballoc.Size = newSize
	m.sumFreeSize -= newSize - oldSize

	memutils.DebugValidate(m)
	return true, nil
}

// Free removes a live allocation from the block
func (m *FirstFitBlockMetadata) Free(allocHandle BlockAllocationHandle) error {
	index, err := m.findSuballocation(allocHandle)
	if err != nil {
		return errors.Wrap(err, "allocation to free not found in this allocator")
	}

	m.sumFreeSize += m.suballocations[index].Size
	m.suballocations = slices.Delete(m.suballocations, index, index+1)

	memutils.DebugValidate(m)
	return nil
}
