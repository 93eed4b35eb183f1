package pool_test

import (
	"math/rand"
	"sync"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/poolsim/memutils"
	"github.com/vkngwrapper/poolsim/pool"
)

// checkInvariant verifies the active and available ranges tile the pool exactly
func checkInvariant(t *testing.T, p *pool.Pool) {
	require.NoError(t, p.Validate())

	active := p.ActiveRanges()
	available := p.AvailableRanges()

	covered := make([]int, p.Capacity())
	for _, r := range active {
		require.Greater(t, r.Size, 0)
		for i := r.Offset; i < r.End(); i++ {
			covered[i]++
		}
	}
	for _, r := range available {
		require.Greater(t, r.Size, 0)
		for i := r.Offset; i < r.End(); i++ {
			covered[i]++
		}
	}
	for offset, count := range covered {
		require.Equal(t, 1, count, "offset %d is covered %d times", offset, count)
	}

	for i := 1; i < len(active); i++ {
		require.LessOrEqual(t, active[i-1].End(), active[i].Offset)
	}
}

func TestPoolRandomOperations(t *testing.T) {
	const capacity = 512
	rng := rand.New(rand.NewSource(1337))
	p := newPool(t, capacity)

	// Every live allocation is filled with a byte derived from its identity so moves can be checked
	contents := map[pool.Address]byte{}
	var nextFill byte = 1

	fill := func(addr pool.Address, value byte) {
		data, ok := p.Bytes(addr)
		require.True(t, ok)
		for i := range data {
			data[i] = value
		}
	}

	for iteration := 0; iteration < 2000; iteration++ {
		switch op := rng.Intn(3); {
		case op == 0 || len(contents) == 0:
			size := rng.Intn(64) + 1
			addr, err := p.Allocate(size)
			if err != nil {
				require.True(t, errors.Is(err, memutils.ErrOutOfSpace))
				require.Equal(t, pool.NullAddress, addr)
				break
			}

			_, exists := contents[addr]
			require.False(t, exists)
			contents[addr] = nextFill
			fill(addr, nextFill)
			nextFill++
		case op == 1:
			addr := pickAddress(rng, contents)
			require.True(t, p.Free(addr))
			delete(contents, addr)
		default:
			addr := pickAddress(rng, contents)
			oldData, _ := p.Bytes(addr)
			oldSize := len(oldData)
			newSize := rng.Intn(96) + 1

			before := p.ReportActive()
			newAddr, err := p.Resize(addr, newSize)
			if err != nil {
				require.True(t, errors.Is(err, memutils.ErrOutOfSpace))
				require.Equal(t, before, p.ReportActive())
				break
			}

			if newSize <= oldSize {
				require.Equal(t, addr, newAddr)
			}

			data, ok := p.Bytes(newAddr)
			require.True(t, ok)
			require.Len(t, data, newSize)

			kept := oldSize
			if newSize < kept {
				kept = newSize
			}
			for i := 0; i < kept; i++ {
				require.Equal(t, contents[addr], data[i], "byte %d of allocation moved from %d to %d", i, addr, newAddr)
			}

			value := contents[addr]
			delete(contents, addr)
			contents[newAddr] = value
			fill(newAddr, value)
		}

		checkInvariant(t, p)
		require.Equal(t, len(contents), p.AllocationCount())
	}

	for addr := range contents {
		require.True(t, p.Free(addr))
	}
	require.NoError(t, p.Destroy())
}

func pickAddress(rng *rand.Rand, contents map[pool.Address]byte) pool.Address {
	index := rng.Intn(len(contents))
	for addr := range contents {
		if index == 0 {
			return addr
		}
		index--
	}
	panic("unreachable")
}

func TestPoolConcurrentUse(t *testing.T) {
	p := pool.New(nil, 4096, pool.CreateOptions{})

	var wg sync.WaitGroup
	for worker := 0; worker < 8; worker++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()

			rng := rand.New(rand.NewSource(seed))
			var mine []pool.Address
			for i := 0; i < 200; i++ {
				if len(mine) > 0 && rng.Intn(2) == 0 {
					last := len(mine) - 1
					if !p.Free(mine[last]) {
						panic("failed to free an address owned by this goroutine")
					}
					mine = mine[:last]
					continue
				}

				addr, err := p.Allocate(rng.Intn(32) + 1)
				if err == nil {
					mine = append(mine, addr)
				}
				_ = p.ReportAvailable()
			}

			for _, addr := range mine {
				p.Free(addr)
			}
		}(int64(worker))
	}
	wg.Wait()

	require.True(t, p.IsEmpty())
	require.Equal(t, "available: 0 [4096]\n", p.ReportAvailable())
	require.NoError(t, p.Destroy())
}
