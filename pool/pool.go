package pool

import (
	"context"
	"io"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/poolsim/internal/utils"
	"github.com/vkngwrapper/poolsim/memutils"
	"github.com/vkngwrapper/poolsim/memutils/metadata"
	"golang.org/x/exp/slog"
)

const (
	// ActiveLabel prefixes the report produced by ReportActive
	ActiveLabel = "active"
	// AvailableLabel prefixes the report produced by ReportAvailable
	AvailableLabel = "available"
)

// Address identifies a live allocation within a Pool. Its value is the allocation's offset from the
// start of the pool's buffer. Only addresses returned from Allocate or Resize are valid handles:
// an offset that falls inside an allocation does not identify it.
type Address int

// NullAddress is returned alongside an error when an operation cannot produce an address, and is never
// a valid handle
const NullAddress Address = -1

// Pool simulates a fixed-capacity memory pool. It owns a byte buffer of a fixed size and places new
// allocations within it in the lowest-offset free gap large enough to hold them.
//
// Passing a non-positive size or capacity, calling a method on a nil Pool or one not created by New,
// or using a Pool after a successful Destroy are programming errors and cause a panic. Running out
// of space or passing an unknown address are reported through return values, and leave the pool
// unchanged.
type Pool struct {
	logger *slog.Logger
	mutex  utils.OptionalRWMutex

	buffer   []byte
	metadata metadata.BlockMetadata
}

func (p *Pool) checkUsable() {
	if p.metadata == nil {
		panic(errors.AssertionFailedf("attempted to use a pool that was destroyed or was not created with New"))
	}
}

// Capacity returns the size in bytes of the pool's buffer
func (p *Pool) Capacity() int {
	memutils.CheckNotNil(p, "pool")

	p.mutex.RLock()
	defer p.mutex.RUnlock()

	p.checkUsable()
	return p.metadata.Size()
}

// AllocationCount returns the number of live allocations in the pool
func (p *Pool) AllocationCount() int {
	memutils.CheckNotNil(p, "pool")

	p.mutex.RLock()
	defer p.mutex.RUnlock()

	p.checkUsable()
	return p.metadata.AllocationCount()
}

// SumFreeSize returns the number of bytes not covered by any allocation. These bytes are not
// necessarily contiguous.
func (p *Pool) SumFreeSize() int {
	memutils.CheckNotNil(p, "pool")

	p.mutex.RLock()
	defer p.mutex.RUnlock()

	p.checkUsable()
	return p.metadata.SumFreeSize()
}

// IsEmpty returns true if the pool has no live allocations
func (p *Pool) IsEmpty() bool {
	memutils.CheckNotNil(p, "pool")

	p.mutex.RLock()
	defer p.mutex.RUnlock()

	p.checkUsable()
	return p.metadata.IsEmpty()
}

// Allocate reserves size bytes in the lowest-offset free gap that can hold them and returns the
// address of the reserved range. If no gap is large enough, NullAddress and an error wrapping
// memutils.ErrOutOfSpace are returned. size must be greater than 0.
func (p *Pool) Allocate(size int) (Address, error) {
	memutils.CheckNotNil(p, "pool")
	memutils.CheckPositive(size, "size")

	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.checkUsable()
	p.logger.Debug("Pool::Allocate", slog.Int("Size", size))
	return p.allocateAfterLock(size)
}

func (p *Pool) allocateAfterLock(size int) (Address, error) {
	success, request, err := p.metadata.CreateAllocationRequest(size)
	if err != nil {
		return NullAddress, err
	}

	if !success {
		p.logger.Debug("  Pool::Allocate FAILED", slog.Int("Size", size), slog.Int("SumFreeSize", p.metadata.SumFreeSize()))
		return NullAddress, errors.Wrapf(memutils.ErrOutOfSpace, "could not allocate %d bytes in a pool with %d free bytes", size, p.metadata.SumFreeSize())
	}

	err = p.metadata.Alloc(request)
	if err != nil {
		return NullAddress, err
	}

	return Address(request.Item.Offset), nil
}

// Free releases the allocation at addr. It returns false, leaving the pool unchanged, if addr is
// NullAddress or is not the address of a live allocation.
func (p *Pool) Free(addr Address) bool {
	memutils.CheckNotNil(p, "pool")

	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.checkUsable()
	p.logger.Debug("Pool::Free", slog.Int("Address", int(addr)))
	return p.freeAfterLock(addr)
}

func (p *Pool) freeAfterLock(addr Address) bool {
	if addr == NullAddress || p.metadata.IsEmpty() {
		return false
	}

	handle, found := p.metadata.FindAllocation(int(addr))
	if !found {
		p.logger.Debug("  Pool::Free FAILED: unknown address", slog.Int("Address", int(addr)))
		return false
	}

	err := p.metadata.Free(handle)
	if err != nil {
		panic(errors.NewAssertionErrorWithWrappedErrf(err, "failed to free allocation at %d after locating it", addr))
	}

	return true
}

// Resize changes the size of the allocation at addr to newSize bytes and returns its address, which
// may differ from addr.
//
// The allocation keeps its address when it shrinks, or when it can grow without reaching the next
// allocation (or the end of the pool, if it is the last allocation). Otherwise a new range is
// allocated while the old one is still reserved, the first bytes of the old range are copied to it,
// and the old range is freed.
//
// If addr is unknown an error wrapping memutils.ErrUnknownAddress is returned, and if no new range
// can be found an error wrapping memutils.ErrOutOfSpace is returned. In both cases the original
// allocation is left untouched. newSize must be greater than 0.
func (p *Pool) Resize(addr Address, newSize int) (Address, error) {
	memutils.CheckNotNil(p, "pool")
	memutils.CheckPositive(newSize, "newSize")

	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.checkUsable()
	p.logger.Debug("Pool::Resize", slog.Int("Address", int(addr)), slog.Int("NewSize", newSize))

	handle, found := p.metadata.FindAllocation(int(addr))
	if !found {
		p.logger.Debug("  Pool::Resize FAILED: unknown address", slog.Int("Address", int(addr)))
		return NullAddress, errors.Wrapf(memutils.ErrUnknownAddress, "cannot resize allocation at %d", addr)
	}

	oldSize, err := p.metadata.AllocationSize(handle)
	if err != nil {
		return NullAddress, err
	}

	resized, err := p.metadata.ResizeInPlace(handle, newSize)
	if err != nil {
		return NullAddress, err
	}

	if resized {
		return addr, nil
	}

	// The old allocation stays reserved during the search so its range cannot be handed back
	newAddr, err := p.allocateAfterLock(newSize)
	if err != nil {
		p.logger.Debug("  Pool::Resize FAILED: could not move allocation", slog.Int("Address", int(addr)), slog.Int("OldSize", oldSize))
		return NullAddress, errors.Wrapf(err, "cannot move %d-byte allocation at %d", oldSize, addr)
	}

	copy(p.buffer[int(newAddr):int(newAddr)+oldSize], p.buffer[int(addr):int(addr)+oldSize])

	if !p.freeAfterLock(addr) {
		panic(errors.AssertionFailedf("allocation at %d disappeared while being moved to %d", addr, newAddr))
	}

	p.logger.Debug("  Pool::Resize moved allocation", slog.Int("From", int(addr)), slog.Int("To", int(newAddr)))
	return newAddr, nil
}

// Bytes returns the portion of the pool's buffer covered by the allocation at addr. The slice
// aliases the pool's buffer, so writes through it are visible to later calls, and its capacity
// is limited to the allocation's size. It returns false if addr is not the address of a live
// allocation.
//
// The slice is only valid until the allocation is freed or moved by Resize, and accesses through
// it are not synchronized by the pool.
func (p *Pool) Bytes(addr Address) ([]byte, bool) {
	memutils.CheckNotNil(p, "pool")

	p.mutex.RLock()
	defer p.mutex.RUnlock()

	p.checkUsable()

	handle, found := p.metadata.FindAllocation(int(addr))
	if !found {
		return nil, false
	}

	start, err := p.metadata.AllocationOffset(handle)
	if err != nil {
		return nil, false
	}

	size, err := p.metadata.AllocationSize(handle)
	if err != nil {
		return nil, false
	}

	return p.buffer[start : start+size : start+size], true
}

// Destroy releases the pool's buffer. If any allocations are still live, they are logged, an error
// wrapping memutils.ErrPoolNotEmpty is returned, and the pool remains fully usable. After a
// successful Destroy, every method on the pool panics.
func (p *Pool) Destroy() error {
	memutils.CheckNotNil(p, "pool")

	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.checkUsable()
	p.logger.Debug("Pool::Destroy")

	if !p.metadata.IsEmpty() {
		p.metadata.DebugLogAllAllocations(p.logger, logUnreleasedMemory)
		return errors.Wrapf(memutils.ErrPoolNotEmpty, "the pool still has %d allocations that remain unfreed", p.metadata.AllocationCount())
	}

	p.metadata.Clear()
	p.metadata = nil
	p.buffer = nil
	return nil
}

func logUnreleasedMemory(logger *slog.Logger, offset, size int) {
	logger.LogAttrs(context.Background(), slog.LevelWarn, "[UNRELEASED MEMORY] unfreed allocation",
		slog.Int("offset", offset),
		slog.Int("size", size),
	)
}

// ActiveRanges returns every live allocation in ascending address order
func (p *Pool) ActiveRanges() []memutils.Range {
	return p.ranges(false)
}

// AvailableRanges returns every nonempty free gap in ascending offset order
func (p *Pool) AvailableRanges() []memutils.Range {
	return p.ranges(true)
}

func (p *Pool) ranges(free bool) []memutils.Range {
	memutils.CheckNotNil(p, "pool")

	p.mutex.RLock()
	defer p.mutex.RUnlock()

	p.checkUsable()

	ranges := []memutils.Range{}
	_ = p.metadata.VisitAllRegions(func(handle metadata.BlockAllocationHandle, offset int, size int, isFree bool) error {
		if isFree == free {
			ranges = append(ranges, memutils.Range{Offset: offset, Size: size})
		}
		return nil
	})

	return ranges
}

// ReportActive lists every live allocation as "address [size]", for example
//
//	active: 0 [30], 30 [40]
//
// or "active: none" if there are no allocations. The report ends with a newline.
func (p *Pool) ReportActive() string {
	return memutils.FormatRanges(ActiveLabel, p.ActiveRanges())
}

// ReportAvailable lists every nonempty free gap as "offset [size]", for example
//
//	available: 20 [10], 70 [30]
//
// or "available: none" if the pool is full. The report ends with a newline.
func (p *Pool) ReportAvailable() string {
	return memutils.FormatRanges(AvailableLabel, p.AvailableRanges())
}

// WriteActive writes the output of ReportActive to w
func (p *Pool) WriteActive(w io.Writer) error {
	_, err := io.WriteString(w, p.ReportActive())
	return err
}

// WriteAvailable writes the output of ReportAvailable to w
func (p *Pool) WriteAvailable(w io.Writer) error {
	_, err := io.WriteString(w, p.ReportAvailable())
	return err
}

// AddStatistics sums this pool's allocation statistics into stats
func (p *Pool) AddStatistics(stats *memutils.Statistics) {
	memutils.CheckNotNil(p, "pool")

	p.mutex.RLock()
	defer p.mutex.RUnlock()

	p.checkUsable()
	p.metadata.AddStatistics(stats)
}

// AddDetailedStatistics sums this pool's allocation and free gap statistics into stats
func (p *Pool) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	memutils.CheckNotNil(p, "pool")

	p.mutex.RLock()
	defer p.mutex.RUnlock()

	p.checkUsable()
	p.metadata.AddDetailedStatistics(stats)
}

// PrintDetailedMap writes a json object describing the pool and every allocation and free gap
// within it to writer
func (p *Pool) PrintDetailedMap(writer *jwriter.Writer) {
	memutils.CheckNotNil(p, "pool")

	p.mutex.RLock()
	defer p.mutex.RUnlock()

	p.checkUsable()

	objState := writer.Object()
	defer objState.End()

	p.metadata.BlockJsonData(&objState)

	arrayState := objState.Name("Suballocations").Array()
	defer arrayState.End()

	_ = p.metadata.VisitAllRegions(
		func(handle metadata.BlockAllocationHandle, offset int, size int, free bool) error {
			obj := arrayState.Object()
			defer obj.End()

			obj.Name("Offset").Int(offset)
			if free {
				obj.Name("Type").String("Free")
			} else {
				obj.Name("Type").String("Allocation")
			}
			obj.Name("Size").Int(size)

			return nil
		})
}

// Validate checks the pool's internal consistency: allocations must be sorted by address, must not
// overlap, must be nonempty and must lie within the buffer.
func (p *Pool) Validate() error {
	memutils.CheckNotNil(p, "pool")

	p.mutex.RLock()
	defer p.mutex.RUnlock()

	p.checkUsable()

	if len(p.buffer) != p.metadata.Size() {
		return errors.Newf("the pool's buffer is %d bytes, but its metadata manages %d bytes", len(p.buffer), p.metadata.Size())
	}

	return p.metadata.Validate()
}
