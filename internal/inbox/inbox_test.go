package inbox

import (
	"sync"
	"testing"
	"time"

	"github.com/relab/shardledger"
)

func TestPendingEmptyInbox(t *testing.T) {
	q := New()
	if msgs := q.Pending("a"); len(msgs) != 0 {
		t.Errorf("expected no pending messages, got %d", len(msgs))
	}
	if q.Len() != 0 {
		t.Error("expected q.Len() to return 0")
	}
}

func TestPendingFiltersBySystem(t *testing.T) {
	q := New()
	a1 := &shardledger.Message{SystemID: "a", Type: shardledger.Read}
	b1 := &shardledger.Message{SystemID: "b", Type: shardledger.Read}
	a2 := &shardledger.Message{SystemID: "a", Type: shardledger.Write}
	q.Enqueue(a1)
	q.Enqueue(b1)
	q.Enqueue(a2)

	got := q.Pending("a")
	if len(got) != 2 || got[0] != a1 || got[1] != a2 {
		t.Fatalf("Pending(a) = %v, want [%v %v]", got, a1, a2)
	}
	if q.Len() != 3 {
		t.Errorf("q.Len() = %d, want 3", q.Len())
	}
}

func TestDequeue(t *testing.T) {
	q := New()
	m1 := &shardledger.Message{SystemID: "a"}
	m2 := &shardledger.Message{SystemID: "a"}
	q.Enqueue(m1)
	q.Enqueue(m2)

	if !q.Dequeue(m1) {
		t.Fatal("expected m1 to be removed")
	}
	if q.Dequeue(m1) {
		t.Error("m1 removed twice")
	}
	got := q.Pending("a")
	if len(got) != 1 || got[0] != m2 {
		t.Errorf("Pending(a) = %v, want [%v]", got, m2)
	}
}

func TestEnqueueNil(t *testing.T) {
	q := New()
	q.Enqueue(nil)
	if q.Len() != 0 {
		t.Error("nil message should be ignored")
	}
}

func TestChangedWakesAllWaiters(t *testing.T) {
	q := New()
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		c := q.Changed()
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-c
		}()
	}
	q.Enqueue(&shardledger.Message{SystemID: "a"})

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("waiters were not woken up")
	}
}

func TestDiscard(t *testing.T) {
	q := New()
	q.Enqueue(&shardledger.Message{SystemID: "a"})
	b := &shardledger.Message{SystemID: "b"}
	q.Enqueue(b)
	q.Enqueue(&shardledger.Message{SystemID: "a"})

	if n := q.Discard("a"); n != 2 {
		t.Errorf("Discard(a) = %d, want 2", n)
	}
	if got := q.Pending("b"); len(got) != 1 || got[0] != b {
		t.Errorf("Pending(b) = %v, want [%v]", got, b)
	}
	if n := q.Discard("a"); n != 0 {
		t.Errorf("second Discard(a) = %d, want 0", n)
	}
}
