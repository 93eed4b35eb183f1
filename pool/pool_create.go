package pool

import (
	"io"
	"strings"

	"github.com/vkngwrapper/poolsim/internal/utils"
	"github.com/vkngwrapper/poolsim/memutils"
	"github.com/vkngwrapper/poolsim/memutils/metadata"
	"golang.org/x/exp/slog"
)

// CreateFlags indicate specific pool behaviors to activate or deactivate
type CreateFlags int32

const (
	// CreateExternallySynchronized ensures that this pool will not be synchronized internally. The
	// consumer must guarantee it is used from only one goroutine at a time or is synchronized by some
	// other mechanism, but performance may improve because internal mutexes are not used.
	CreateExternallySynchronized CreateFlags = 1 << iota
)

var createFlagsMapping = map[CreateFlags]string{
	CreateExternallySynchronized: "CreateExternallySynchronized",
}

func (f CreateFlags) String() string {
	if f == 0 {
		return "None"
	}

	var names []string
	for bit := CreateFlags(1); bit != 0 && bit <= f; bit <<= 1 {
		if f&bit == 0 {
			continue
		}

		name, known := createFlagsMapping[bit]
		if !known {
			name = "Unknown"
		}
		names = append(names, name)
	}

	return strings.Join(names, "|")
}

// CreateOptions contains optional settings when creating a pool
type CreateOptions struct {
	// Flags indicates specific pool behaviors to activate or deactivate
	Flags CreateFlags
}

// New creates a new Pool managing a buffer of capacity bytes.
//
// logger - Receives debug output for every pool operation. May be nil, in which case output is discarded.
//
// capacity - The fixed size of the pool in bytes. Must be greater than 0: New panics otherwise.
//
// options - Optional parameters: it is valid to leave all the fields blank
func New(logger *slog.Logger, capacity int, options CreateOptions) *Pool {
	memutils.CheckPositive(capacity, "capacity")

	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard))
	}

	logger.Debug("Pool::New", slog.Int("Capacity", capacity), slog.String("Flags", options.Flags.String()))

	md := metadata.NewFirstFitBlockMetadata()
	md.Init(capacity)

	return &Pool{
		logger: logger,
		mutex: utils.OptionalRWMutex{
			UseMutex: options.Flags&CreateExternallySynchronized == 0,
		},
		buffer:   make([]byte, capacity),
		metadata: md,
	}
}
