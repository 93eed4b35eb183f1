package main

import (
	"fmt"
	"io"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"golang.org/x/exp/slog"
)

type options struct {
	capacity int
	verbose  bool
}

func newRootCmd(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "poolsim [script]",
		Short: "Run an allocation script against a simulated first-fit memory pool",
		Long: `poolsim creates a fixed-capacity pool and runs allocation commands against it,
one per line, read from the named script file or from standard input:

  [name =] alloc <size>          allocate size bytes
  free <address|name>            free an allocation
  [name =] realloc <address|name> <size>
  active                         print the active report
  available                      print the available report
  map                            print a json map of the pool
  stats                          print json statistics for the pool
  destroy                        destroy the pool

Blank lines and lines starting with # are ignored.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.capacity <= 0 {
				return errors.Newf("--capacity must be greater than 0, but was %d", opts.capacity)
			}

			level := slog.LevelWarn
			if opts.verbose {
				level = slog.LevelDebug
			}
			logger := slog.New(slog.HandlerOptions{Level: level}.NewTextHandler(stderr))

			script := stdin
			name := "<stdin>"
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return errors.Wrap(err, "could not open script")
				}
				defer f.Close()
				script = f
				name = args[0]
			}

			s := newSession(logger, opts.capacity, stdout)
			if err := s.Run(script); err != nil {
				return errors.Wrapf(err, "%s", name)
			}
			return nil
		},
	}

	cmd.SetIn(stdin)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.Flags().IntVarP(&opts.capacity, "capacity", "c", 100, "size of the pool in bytes")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "log every pool operation to stderr")

	return cmd
}

func main() {
	if err := newRootCmd(os.Stdin, os.Stdout, os.Stderr).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
