package metrics

import (
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestWelford(t *testing.T) {
	var w Welford
	if _, v, c := w.Get(); !math.IsNaN(v) || c != 0 {
		t.Errorf("empty estimate: got variance %v, count %d", v, c)
	}
	for _, x := range []float64{2, 4, 4, 4, 5, 5, 7, 9} {
		w.Update(x)
	}
	mean, variance, count := w.Get()
	if mean != 5 || count != 8 {
		t.Errorf("got: mean %v count %d, want: mean 5 count 8", mean, count)
	}
	if want := 32.0 / 7; math.Abs(variance-want) > 1e-9 {
		t.Errorf("variance got: %v, want: %v", variance, want)
	}
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestStopwatches(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1650000000, 0)}
	s := newStopwatches(clock.now)

	if !s.Start("b") || !s.Start("a") {
		t.Fatal("Start failed")
	}
	if s.Start("a") {
		t.Error("Start should refuse a duplicate id")
	}

	clock.advance(10 * time.Millisecond)
	if d, ok := s.Stop("b", "s-1"); !ok || d != 10*time.Millisecond {
		t.Errorf("Stop(b) got: %v %t, want: 10ms true", d, ok)
	}
	clock.advance(20 * time.Millisecond)
	if d, ok := s.Stop("b", "s-2"); ok || d != 10*time.Millisecond {
		t.Errorf("second Stop(b) got: %v %t, want: 10ms false", d, ok)
	}
	if _, ok := s.Stop("unknown", "s-1"); ok {
		t.Error("Stop should ignore unknown ids")
	}
	if n := s.Pending(); n != 1 {
		t.Errorf("Pending() got: %d, want: 1", n)
	}

	got := s.Records()
	want := []Record{
		{ID: "b", Started: time.Unix(1650000000, 0), Elapsed: 10 * time.Millisecond, Done: true, DecidedBy: []string{"s-1", "s-2"}, seq: 1},
		{ID: "a", Started: time.Unix(1650000000, 0), Elapsed: 30 * time.Millisecond, seq: 2},
	}
	if diff := cmp.Diff(want, got, cmp.AllowUnexported(Record{})); diff != "" {
		t.Errorf("Records() mismatch (-want +got):\n%s", diff)
	}

	if mean, _, count := s.Latency(); mean != 10 || count != 1 {
		t.Errorf("Latency() got: mean %v count %d, want: mean 10 count 1", mean, count)
	}
}
