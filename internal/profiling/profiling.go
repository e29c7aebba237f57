// Package profiling starts and stops the runtime profilers of a shardledger process.
package profiling

import (
	"fmt"
	"os"
	"runtime"
	"runtime/pprof"
	"runtime/trace"

	"github.com/felixge/fgprof"
	"go.uber.org/multierr"
)

// Paths holds the output files of the profilers. An empty path disables that profiler.
type Paths struct {
	CPU    string
	Memory string
	Trace  string
	Fgprof string
}

// Enabled returns true if at least one profiler is enabled.
func (p Paths) Enabled() bool {
	return p.CPU != "" || p.Memory != "" || p.Trace != "" || p.Fgprof != ""
}

// Start starts the enabled profilers. The returned function stops them and writes the
// memory profile; it must be called exactly once.
func Start(paths Paths) (stop func() error, err error) {
	var stops []func() error
	// undo whatever was started if a later profiler fails
	defer func() {
		if err != nil {
			for i := len(stops) - 1; i >= 0; i-- {
				err = multierr.Append(err, stops[i]())
			}
		}
	}()

	if paths.CPU != "" {
		f, err := os.Create(paths.CPU)
		if err != nil {
			return nil, fmt.Errorf("cpu profile: %w", err)
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			return nil, multierr.Append(fmt.Errorf("cpu profile: %w", err), f.Close())
		}
		stops = append(stops, func() error {
			pprof.StopCPUProfile()
			return f.Close()
		})
	}

	if paths.Fgprof != "" {
		f, err := os.Create(paths.Fgprof)
		if err != nil {
			return nil, fmt.Errorf("fgprof profile: %w", err)
		}
		fgprofStop := fgprof.Start(f, fgprof.FormatPprof)
		stops = append(stops, func() error {
			return multierr.Append(fgprofStop(), f.Close())
		})
	}

	if paths.Trace != "" {
		f, err := os.Create(paths.Trace)
		if err != nil {
			return nil, fmt.Errorf("trace: %w", err)
		}
		if err := trace.Start(f); err != nil {
			return nil, multierr.Append(fmt.Errorf("trace: %w", err), f.Close())
		}
		stops = append(stops, func() error {
			trace.Stop()
			return f.Close()
		})
	}

	return func() (err error) {
		if paths.Memory != "" {
			err = writeHeapProfile(paths.Memory)
		}
		for i := len(stops) - 1; i >= 0; i-- {
			err = multierr.Append(err, stops[i]())
		}
		return err
	}, nil
}

func writeHeapProfile(path string) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("memory profile: %w", err)
	}
	defer func() { err = multierr.Append(err, f.Close()) }()
	runtime.GC() // get up-to-date statistics
	return pprof.WriteHeapProfile(f)
}
