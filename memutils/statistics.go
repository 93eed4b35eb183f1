package memutils

import "math"

// Statistics holds running totals describing a pool's live allocations. PoolCount is the number of
// pools that have added themselves, so a zeroed Statistics filled by one pool has a PoolCount of 1.
type Statistics struct {
	PoolCount       int
	PoolBytes       int
	AllocationCount int
	AllocationBytes int
}

// Clear zeroes every total so a pool can add itself from scratch
func (s *Statistics) Clear() {
	s.PoolCount = 0
	s.PoolBytes = 0
	s.AllocationCount = 0
	s.AllocationBytes = 0
}

// UnusedBytes is the number of pool bytes not covered by an allocation
func (s *Statistics) UnusedBytes() int {
	return s.PoolBytes - s.AllocationBytes
}

// DetailedStatistics extends Statistics with information about individual allocations and
// the free gaps between them
type DetailedStatistics struct {
	Statistics
	UnusedRangeCount   int
	AllocationSizeMin  int
	AllocationSizeMax  int
	UnusedRangeSizeMin int
	UnusedRangeSizeMax int
}

// Clear zeroes every total and resets the minimums to math.MaxInt, so the first allocation or
// unused range a pool reports becomes the minimum
func (s *DetailedStatistics) Clear() {
	s.Statistics.Clear()
	s.UnusedRangeCount = 0
	s.AllocationSizeMin = math.MaxInt
	s.AllocationSizeMax = 0
	s.UnusedRangeSizeMin = math.MaxInt
	s.UnusedRangeSizeMax = 0
}

// AddUnusedRange records one nonempty free gap of the pool
func (s *DetailedStatistics) AddUnusedRange(size int) {
	s.UnusedRangeCount++

	if size < s.UnusedRangeSizeMin {
		s.UnusedRangeSizeMin = size
	}

	if size > s.UnusedRangeSizeMax {
		s.UnusedRangeSizeMax = size
	}
}

// AddAllocation records one live allocation of the pool
func (s *DetailedStatistics) AddAllocation(size int) {
	s.AllocationCount++
	s.AllocationBytes += size

	if size < s.AllocationSizeMin {
		s.AllocationSizeMin = size
	}

	if size > s.AllocationSizeMax {
		s.AllocationSizeMax = size
	}
}

// ExternalFragmentation returns a value in [0, 1] describing how scattered the unused bytes are.
// 0 means all unused bytes form a single range (or there are none), values approaching 1 mean the
// largest unused range is a small share of the unused bytes.
func (s *DetailedStatistics) ExternalFragmentation() float64 {
	unused := s.UnusedBytes()
	if unused <= 0 || s.UnusedRangeCount == 0 {
		return 0
	}

	return 1 - float64(s.UnusedRangeSizeMax)/float64(unused)
}
