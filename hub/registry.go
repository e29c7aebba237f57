package hub

import (
	"sort"
	"sync"

	"github.com/relab/shardledger"
)

// Registry holds the processes that have registered with the hub.
// Ranks are assigned in registration order and never change.
type Registry struct {
	mut       sync.Mutex
	processes []shardledger.ProcessID
}

// Register adds a process. A process that registers again with the same owner and index
// keeps its rank and address; Register then returns false.
func (r *Registry) Register(host string, port int, owner string, index int) (shardledger.ProcessID, bool) {
	r.mut.Lock()
	defer r.mut.Unlock()
	for _, p := range r.processes {
		if p.Owner == owner && p.Index == index {
			return p, false
		}
	}
	p := shardledger.ProcessID{
		Host:  host,
		Port:  port,
		Owner: owner,
		Index: index,
		Rank:  len(r.processes),
	}
	r.processes = append(r.processes, p)
	return p, true
}

// Lookup returns the process at host:port.
func (r *Registry) Lookup(host string, port int) (shardledger.ProcessID, bool) {
	r.mut.Lock()
	defer r.mut.Unlock()
	return shardledger.Membership(r.processes).Lookup(host, port)
}

// Shard returns the processes of the given shard, ordered by rank.
func (r *Registry) Shard(owner string) []shardledger.ProcessID {
	r.mut.Lock()
	defer r.mut.Unlock()
	var shard []shardledger.ProcessID
	for _, p := range r.processes {
		if p.Owner == owner {
			shard = append(shard, p)
		}
	}
	return shard
}

// All returns every registered process, ordered by shard and rank.
func (r *Registry) All() []shardledger.ProcessID {
	r.mut.Lock()
	all := make([]shardledger.ProcessID, len(r.processes))
	copy(all, r.processes)
	r.mut.Unlock()
	sort.SliceStable(all, func(i, j int) bool { return all[i].Owner < all[j].Owner })
	return all
}
