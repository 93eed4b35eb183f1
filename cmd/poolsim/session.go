package main

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/poolsim/memutils"
	"github.com/vkngwrapper/poolsim/pool"
	"golang.org/x/exp/slog"
)

var errPoolDestroyed = errors.New("the pool has been destroyed")

// session runs script commands against a single pool, remembering the addresses bound to names
type session struct {
	logger  *slog.Logger
	out     io.Writer
	pool    *pool.Pool
	symbols *swiss.Map[string, pool.Address]
}

func newSession(logger *slog.Logger, capacity int, out io.Writer) *session {
	return &session{
		logger:  logger,
		out:     out,
		pool:    pool.New(logger, capacity, pool.CreateOptions{Flags: pool.CreateExternallySynchronized}),
		symbols: swiss.NewMap[string, pool.Address](16),
	}
}

// Run executes every line of script in order, stopping at the first malformed command
func (s *session) Run(script io.Reader) error {
	scanner := bufio.NewScanner(script)
	lineNumber := 0

	for scanner.Scan() {
		lineNumber++
		err := s.Execute(scanner.Text())
		if err != nil {
			return errors.Wrapf(err, "line %d", lineNumber)
		}
	}

	return scanner.Err()
}

// Execute runs a single script command. Failed allocations and frees are reported in the output
// rather than returned; only malformed commands produce an error.
func (s *session) Execute(line string) error {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return nil
	}

	fields := strings.Fields(line)

	var binding string
	if len(fields) >= 2 && fields[1] == "=" {
		binding = fields[0]
		if _, err := strconv.Atoi(binding); err == nil {
			return errors.Newf("cannot bind to the numeric name %q", binding)
		}
		fields = fields[2:]
		if len(fields) == 0 {
			return errors.New("missing command after '='")
		}
	}

	command, args := fields[0], fields[1:]
	if s.pool == nil {
		return errors.Wrapf(errPoolDestroyed, "cannot run %q", command)
	}

	switch command {
	case "alloc", "malloc":
		if err := expectArgs(command, args, 1); err != nil {
			return err
		}
		size, err := parseSize(args[0])
		if err != nil {
			return err
		}
		return s.alloc(binding, size)
	case "free":
		if err := s.noBinding(binding, command); err != nil {
			return err
		}
		if err := expectArgs(command, args, 1); err != nil {
			return err
		}
		addr, err := s.resolve(args[0])
		if err != nil {
			return err
		}
		s.free(args[0], addr)
		return nil
	case "realloc", "resize":
		if err := expectArgs(command, args, 2); err != nil {
			return err
		}
		addr, err := s.resolve(args[0])
		if err != nil {
			return err
		}
		size, err := parseSize(args[1])
		if err != nil {
			return err
		}
		s.realloc(binding, args[0], addr, size)
		return nil
	case "active":
		if err := s.reportArgs(binding, command, args); err != nil {
			return err
		}
		return s.pool.WriteActive(s.out)
	case "available":
		if err := s.reportArgs(binding, command, args); err != nil {
			return err
		}
		return s.pool.WriteAvailable(s.out)
	case "map":
		if err := s.reportArgs(binding, command, args); err != nil {
			return err
		}
		writer := jwriter.NewWriter()
		s.pool.PrintDetailedMap(&writer)
		return s.writeJson(&writer)
	case "stats":
		if err := s.reportArgs(binding, command, args); err != nil {
			return err
		}
		return s.stats()
	case "destroy":
		if err := s.reportArgs(binding, command, args); err != nil {
			return err
		}
		s.destroy()
		return nil
	default:
		return errors.Newf("unknown command %q", command)
	}
}

func expectArgs(command string, args []string, count int) error {
	if len(args) != count {
		return errors.Newf("%s expects %d argument(s), but got %d", command, count, len(args))
	}
	return nil
}

func (s *session) noBinding(binding, command string) error {
	if binding != "" {
		return errors.Newf("%s does not produce an address to bind to %q", command, binding)
	}
	return nil
}

func (s *session) reportArgs(binding, command string, args []string) error {
	if err := s.noBinding(binding, command); err != nil {
		return err
	}
	return expectArgs(command, args, 0)
}

func parseSize(token string) (int, error) {
	size, err := strconv.Atoi(token)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid size %q", token)
	}
	if size <= 0 {
		return 0, errors.Newf("size must be greater than 0, but was %d", size)
	}
	return size, nil
}

// resolve turns an address literal or a bound name into an address
func (s *session) resolve(token string) (pool.Address, error) {
	if value, err := strconv.Atoi(token); err == nil {
		return pool.Address(value), nil
	}

	addr, bound := s.symbols.Get(token)
	if !bound {
		return pool.NullAddress, errors.Newf("%q is not bound to an address", token)
	}
	return addr, nil
}

func (s *session) bind(binding string, addr pool.Address) {
	if binding != "" {
		s.symbols.Put(binding, addr)
	}
}

// rebind points every name bound to from at to instead
func (s *session) rebind(from, to pool.Address) {
	var names []string
	s.symbols.Iter(func(name string, addr pool.Address) bool {
		if addr == from {
			names = append(names, name)
		}
		return false
	})

	for _, name := range names {
		if to == pool.NullAddress {
			s.symbols.Delete(name)
		} else {
			s.symbols.Put(name, to)
		}
	}
}

func (s *session) alloc(binding string, size int) error {
	addr, err := s.pool.Allocate(size)
	if err != nil {
		s.logger.Debug("alloc failed", slog.Any("error", err))
		fmt.Fprintf(s.out, "alloc %d: failed\n", size)
		return nil
	}

	s.bind(binding, addr)
	fmt.Fprintf(s.out, "alloc %d: %d\n", size, addr)
	return nil
}

func (s *session) free(token string, addr pool.Address) {
	if !s.pool.Free(addr) {
		fmt.Fprintf(s.out, "free %s: failed\n", token)
		return
	}

	s.rebind(addr, pool.NullAddress)
	fmt.Fprintf(s.out, "free %s: ok\n", token)
}

func (s *session) realloc(binding, token string, addr pool.Address, size int) {
	newAddr, err := s.pool.Resize(addr, size)
	if err != nil {
		s.logger.Debug("realloc failed", slog.Any("error", err))
		fmt.Fprintf(s.out, "realloc %s %d: failed\n", token, size)
		return
	}

	s.rebind(addr, newAddr)
	s.bind(binding, newAddr)
	fmt.Fprintf(s.out, "realloc %s %d: %d\n", token, size, newAddr)
}

func (s *session) stats() error {
	var stats memutils.DetailedStatistics
	stats.Clear()
	s.pool.AddDetailedStatistics(&stats)

	writer := jwriter.NewWriter()
	obj := writer.Object()
	obj.Name("TotalBytes").Int(stats.PoolBytes)
	obj.Name("AllocationCount").Int(stats.AllocationCount)
	obj.Name("AllocationBytes").Int(stats.AllocationBytes)
	obj.Name("UnusedBytes").Int(stats.UnusedBytes())
	obj.Name("UnusedRangeCount").Int(stats.UnusedRangeCount)
	if stats.AllocationCount > 0 {
		obj.Name("AllocationSizeMin").Int(stats.AllocationSizeMin)
		obj.Name("AllocationSizeMax").Int(stats.AllocationSizeMax)
	}
	if stats.UnusedRangeCount > 0 {
		obj.Name("UnusedRangeSizeMin").Int(stats.UnusedRangeSizeMin)
		obj.Name("UnusedRangeSizeMax").Int(stats.UnusedRangeSizeMax)
	}
	obj.Name("ExternalFragmentation").Float64(stats.ExternalFragmentation())
	obj.End()

	return s.writeJson(&writer)
}

func (s *session) writeJson(writer *jwriter.Writer) error {
	if err := writer.Error(); err != nil {
		return err
	}

	_, err := fmt.Fprintf(s.out, "%s\n", writer.Bytes())
	return err
}

func (s *session) destroy() {
	err := s.pool.Destroy()
	if err != nil {
		fmt.Fprintf(s.out, "destroy: failed (%d live allocations)\n", s.pool.AllocationCount())
		return
	}

	s.pool = nil
	s.symbols = swiss.NewMap[string, pool.Address](16)
	fmt.Fprintln(s.out, "destroy: ok")
}
