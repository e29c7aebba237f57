package metrics

import (
	"sync"
	"time"

	"github.com/petar/GoLLRB/llrb"
)

// Record is the timing of one transaction.
type Record struct {
	ID      string
	Started time.Time
	// Elapsed is the time until the first decision, or the time so far if Done is false.
	Elapsed   time.Duration
	Done      bool
	DecidedBy []string
	seq       uint64
}

// recordItem orders records by start.
type recordItem struct{ *Record }

func (r recordItem) Less(than llrb.Item) bool {
	return r.seq < than.(recordItem).seq
}

// Stopwatches times transactions from proposal to first decision.
type Stopwatches struct {
	mut   sync.Mutex
	now   func() time.Time
	seq   uint64
	byID  map[string]*Record
	order *llrb.LLRB
	wf    Welford
}

// NewStopwatches returns an empty set of stopwatches.
func NewStopwatches() *Stopwatches {
	return newStopwatches(time.Now)
}

func newStopwatches(now func() time.Time) *Stopwatches {
	return &Stopwatches{
		now:   now,
		byID:  make(map[string]*Record),
		order: llrb.New(),
	}
}

// Start starts the stopwatch for id. It returns false if id was already started.
func (s *Stopwatches) Start(id string) bool {
	s.mut.Lock()
	defer s.mut.Unlock()
	if _, ok := s.byID[id]; ok {
		return false
	}
	s.seq++
	r := &Record{ID: id, Started: s.now(), seq: s.seq}
	s.byID[id] = r
	s.order.ReplaceOrInsert(recordItem{r})
	return true
}

// Stop records that by decided id. The first decision stops the stopwatch and adds the
// latency to the running estimate; later ones are only noted. It returns the latency and
// whether this call stopped the stopwatch.
func (s *Stopwatches) Stop(id, by string) (time.Duration, bool) {
	s.mut.Lock()
	defer s.mut.Unlock()
	r, ok := s.byID[id]
	if !ok {
		return 0, false
	}
	r.DecidedBy = append(r.DecidedBy, by)
	if r.Done {
		return r.Elapsed, false
	}
	r.Done = true
	r.Elapsed = s.now().Sub(r.Started)
	s.wf.UpdateDuration(r.Elapsed)
	return r.Elapsed, true
}

// Records returns a copy of every record, in start order.
func (s *Stopwatches) Records() []Record {
	s.mut.Lock()
	defer s.mut.Unlock()
	if s.order.Len() == 0 {
		return nil
	}
	now := s.now()
	records := make([]Record, 0, s.order.Len())
	s.order.AscendGreaterOrEqual(s.order.Min(), func(i llrb.Item) bool {
		r := *i.(recordItem).Record
		r.DecidedBy = append([]string(nil), r.DecidedBy...)
		if !r.Done {
			r.Elapsed = now.Sub(r.Started)
		}
		records = append(records, r)
		return true
	})
	return records
}

// Latency returns the mean and sample variance of the decision latencies, in milliseconds.
func (s *Stopwatches) Latency() (mean, variance float64, count uint64) {
	s.mut.Lock()
	defer s.mut.Unlock()
	return s.wf.Get()
}

// Pending returns the number of transactions that have not been decided yet.
func (s *Stopwatches) Pending() int {
	s.mut.Lock()
	defer s.mut.Unlock()
	n := 0
	for _, r := range s.byID {
		if !r.Done {
			n++
		}
	}
	return n
}
