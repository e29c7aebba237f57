package profiling

import (
	"os"
	"path/filepath"
	"testing"
)

func TestStartStop(t *testing.T) {
	dir := t.TempDir()
	paths := Paths{
		CPU:    filepath.Join(dir, "cpu.prof"),
		Memory: filepath.Join(dir, "mem.prof"),
		Trace:  filepath.Join(dir, "trace.out"),
		Fgprof: filepath.Join(dir, "fgprof.prof"),
	}
	if !paths.Enabled() {
		t.Fatal("expected profiling to be enabled")
	}
	stop, err := Start(paths)
	if err != nil {
		t.Fatal(err)
	}
	if err := stop(); err != nil {
		t.Fatal(err)
	}
	for _, p := range []string{paths.CPU, paths.Memory, paths.Trace, paths.Fgprof} {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("missing profile: %v", err)
		}
	}
}

func TestStartFailureStopsProfilers(t *testing.T) {
	dir := t.TempDir()
	_, err := Start(Paths{
		CPU:   filepath.Join(dir, "cpu.prof"),
		Trace: filepath.Join(dir, "missing", "trace.out"),
	})
	if err == nil {
		t.Fatal("expected an error")
	}
	// the cpu profiler must have been stopped, so it can be started again
	stop, err := Start(Paths{CPU: filepath.Join(dir, "cpu2.prof")})
	if err != nil {
		t.Fatal(err)
	}
	if err := stop(); err != nil {
		t.Fatal(err)
	}
}

func TestDisabled(t *testing.T) {
	var paths Paths
	if paths.Enabled() {
		t.Error("zero Paths should be disabled")
	}
	stop, err := Start(paths)
	if err != nil {
		t.Fatal(err)
	}
	if err := stop(); err != nil {
		t.Fatal(err)
	}
}
