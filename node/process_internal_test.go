package node

import (
	"testing"
	"time"

	"github.com/relab/shardledger"
	"github.com/relab/shardledger/logging"
)

func TestOrphanedMessagesExpire(t *testing.T) {
	p := NewProcess(Config{Host: "127.0.0.1", Owner: "s", Index: 1, OrphanTimeout: time.Minute}, logging.Nop())
	start := time.Unix(1650000000, 0)
	now := start
	p.now = func() time.Time { return now }

	p.handle(&shardledger.Message{Type: shardledger.Read, SystemID: "ghost", Abstraction: shardledger.EpochKey(0)})
	now = start.Add(30 * time.Second)
	p.handle(&shardledger.Message{Type: shardledger.Write, SystemID: "ghost", Abstraction: shardledger.EpochKey(0)})
	p.handle(&shardledger.Message{Type: shardledger.Read, SystemID: "late", Abstraction: shardledger.EpochKey(0)})
	if n := p.inbox.Len(); n != 3 {
		t.Fatalf("inbox length got: %d, want: 3", n)
	}

	p.sweep()
	if n := p.inbox.Len(); n != 3 {
		t.Errorf("inbox length before the timeout got: %d, want: 3", n)
	}

	// the timeout counts from the first message of a run
	now = start.Add(time.Minute)
	p.sweep()
	if n := len(p.inbox.Pending("ghost")); n != 0 {
		t.Errorf("ghost messages left: %d, want: 0", n)
	}
	if n := len(p.inbox.Pending("late")); n != 1 {
		t.Errorf("late messages left: %d, want: 1", n)
	}

	now = start.Add(2 * time.Minute)
	p.sweep()
	if n := p.inbox.Len(); n != 0 {
		t.Errorf("inbox length got: %d, want: 0", n)
	}
	if len(p.orphans) != 0 {
		t.Errorf("orphans left: %v", p.orphans)
	}
}

func TestMessagesWithoutSystemID(t *testing.T) {
	p := NewProcess(Config{Host: "127.0.0.1", Owner: "s", Index: 1}, logging.Nop())
	p.handle(&shardledger.Message{Type: shardledger.Read})
	if n := p.inbox.Len(); n != 0 {
		t.Errorf("inbox length got: %d, want: 0", n)
	}
	if p.cfg.OrphanTimeout != DefaultOrphanTimeout {
		t.Errorf("OrphanTimeout got: %v, want: %v", p.cfg.OrphanTimeout, DefaultOrphanTimeout)
	}
}
