package metadata

import "github.com/vkngwrapper/poolsim/memutils"

// AllocationRequest is a type returned from BlockMetadata.CreateAllocationRequest which indicates where
// the metadata intends to allocate new memory. This allocation can be applied to the memory system consuming
// the metadata, and then committed to the metadata with BlockMetadata.Alloc
type AllocationRequest struct {
	// BlockAllocationHandle is the handle the allocation will have once committed
	BlockAllocationHandle BlockAllocationHandle
	// Size is the total size of the allocation in bytes
	Size int
	// Item is the range the allocation will occupy
	Item memutils.Range

	// InsertIndex is the position in the metadata's sorted suballocation list that the new
	// allocation will occupy
	InsertIndex int
}
