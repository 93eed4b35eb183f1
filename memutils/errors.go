package memutils

import "github.com/pkg/errors"

// ErrOutOfSpace is returned when no free region of the pool is large enough to hold a request
var ErrOutOfSpace error = errors.New("no free region is large enough for the request")

// ErrUnknownAddress is returned when an address does not identify the start of a live allocation
var ErrUnknownAddress error = errors.New("address does not identify a live allocation")

// ErrPoolNotEmpty is returned from Destroy while allocations remain outstanding
var ErrPoolNotEmpty error = errors.New("pool still has live allocations")
