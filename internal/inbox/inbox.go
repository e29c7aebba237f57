// Package inbox implements the process-wide message inbox.
//
// The transport enqueues every message it receives, and each consensus.System takes the
// messages of its own run. Unlike a plain queue, a message stays in the inbox until some
// abstraction consumes it, so messages that arrive ahead of the epoch they belong to are
// retried once that epoch starts.
package inbox

import (
	"sync"

	"github.com/relab/shardledger"
)

// Inbox is a multiple-producer store of pending messages.
// Consumers wait on Changed and take snapshots with Pending.
type Inbox struct {
	mut     sync.Mutex
	entries []*shardledger.Message
	changed chan struct{}
}

// New returns an empty inbox.
func New() *Inbox {
	return &Inbox{changed: make(chan struct{})}
}

// notify wakes every waiter. Must be called with mut held.
func (q *Inbox) notify() {
	close(q.changed)
	q.changed = make(chan struct{})
}

// Enqueue adds a message to the inbox.
func (q *Inbox) Enqueue(msg *shardledger.Message) {
	if msg == nil {
		return
	}
	q.mut.Lock()
	defer q.mut.Unlock()
	q.entries = append(q.entries, msg)
	q.notify()
}

// Changed returns a channel that is closed the next time a message is enqueued.
// Take the channel before calling Pending to avoid missing a wake-up.
func (q *Inbox) Changed() <-chan struct{} {
	q.mut.Lock()
	defer q.mut.Unlock()
	return q.changed
}

// Pending returns, in arrival order, the messages that belong to the given system.
func (q *Inbox) Pending(systemID string) []*shardledger.Message {
	q.mut.Lock()
	defer q.mut.Unlock()

	var msgs []*shardledger.Message
	for _, msg := range q.entries {
		if msg.SystemID == systemID {
			msgs = append(msgs, msg)
		}
	}
	return msgs
}

// Dequeue removes the given message. It returns false if the message was not in the inbox.
func (q *Inbox) Dequeue(msg *shardledger.Message) bool {
	q.mut.Lock()
	defer q.mut.Unlock()

	for i, m := range q.entries {
		if m == msg {
			copy(q.entries[i:], q.entries[i+1:])
			q.entries[len(q.entries)-1] = nil
			q.entries = q.entries[:len(q.entries)-1]
			return true
		}
	}
	return false
}

// Len returns the number of messages in the inbox.
func (q *Inbox) Len() int {
	q.mut.Lock()
	defer q.mut.Unlock()
	return len(q.entries)
}

// Discard removes every message of the given system and returns how many were removed.
func (q *Inbox) Discard(systemID string) int {
	q.mut.Lock()
	defer q.mut.Unlock()

	kept := q.entries[:0]
	for _, msg := range q.entries {
		if msg.SystemID != systemID {
			kept = append(kept, msg)
		}
	}
	n := len(q.entries) - len(kept)
	for i := len(kept); i < len(q.entries); i++ {
		q.entries[i] = nil
	}
	q.entries = kept
	return n
}
