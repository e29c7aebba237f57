package node_test

import (
	"context"
	"testing"
	"time"

	"github.com/relab/shardledger"
	"github.com/relab/shardledger/consensus"
	"github.com/relab/shardledger/logging"
	"github.com/relab/shardledger/node"
	"github.com/relab/shardledger/transport"
)

const host = "127.0.0.1"

// fakeHub collects the messages sent to the hub.
type fakeHub struct {
	*transport.Transport
	msgs chan *shardledger.Message
}

func newFakeHub(t *testing.T) *fakeHub {
	t.Helper()
	h := &fakeHub{msgs: make(chan *shardledger.Message, 100)}
	h.Transport = transport.New(host, 0, transport.DefaultConfig(), func(msg *shardledger.Message) { h.msgs <- msg }, logging.Nop())
	if err := h.Listen(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { h.Close() })
	return h
}

func (h *fakeHub) expect(t *testing.T, typ shardledger.MessageType) *shardledger.Message {
	t.Helper()
	for {
		select {
		case msg := <-h.msgs:
			if msg.Type == typ {
				return msg
			}
		case <-time.After(10 * time.Second):
			t.Fatalf("timed out waiting for %v", typ)
			return nil
		}
	}
}

func (h *fakeHub) propose(members []shardledger.ProcessID, systemID string, v shardledger.Value) {
	for _, p := range members {
		h.Send(p.Host, p.Port, &shardledger.Message{
			Type:        shardledger.AppPropose,
			SystemID:    systemID,
			Abstraction: shardledger.UniformConsensusKey,
			SenderHost:  h.Host(),
			SenderPort:  h.Port(),
			Value:       v,
			Processes:   members,
		})
	}
}

func testConsensusConfig() consensus.Config {
	return consensus.Config{ElectionTimeout: 200 * time.Millisecond, EpochIncrement: 1}
}

func TestProcessesDecide(t *testing.T) {
	hub := newFakeHub(t)

	var members []shardledger.ProcessID
	for i := 0; i < 3; i++ {
		p := node.NewProcess(node.Config{
			Host:      host,
			Owner:     "s",
			Index:     i + 1,
			HubHost:   hub.Host(),
			HubPort:   hub.Port(),
			Consensus: testConsensusConfig(),
		}, logging.Nop())
		if err := p.Start(context.Background()); err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() {
			if err := p.Stop(); err != nil {
				t.Errorf("failed to stop process: %v", err)
			}
		})

		reg := hub.expect(t, shardledger.AppRegistration)
		if reg.Owner != "s" || reg.SenderPort != p.Port() {
			t.Errorf("unexpected registration %v", reg)
		}
		members = append(members, shardledger.ProcessID{
			Host:  reg.SenderHost,
			Port:  reg.SenderPort,
			Owner: reg.Owner,
			Index: reg.Index,
			Rank:  i,
		})
	}

	v := shardledger.Value{
		Defined:     true,
		Timestamp:   time.Now().Unix(),
		Transaction: shardledger.Transaction{ID: "tx1", From: "alice", To: "bob", Amount: 10, Shard: "s"},
	}
	hub.propose(members, "run-1", v)
	for i := 0; i < len(members); i++ {
		msg := hub.expect(t, shardledger.AppDecide)
		if msg.SystemID != "run-1" || !msg.Value.Equal(v) {
			t.Errorf("unexpected decision %v", msg)
		}
	}
}

func TestHandlerDeployAndStop(t *testing.T) {
	hub := newFakeHub(t)
	h := node.NewHandler(node.HandlerConfig{Host: host, Consensus: testConsensusConfig()}, logging.Nop())
	if err := h.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := h.Close(); err != nil {
			t.Errorf("failed to close handler: %v", err)
		}
	})

	ids := []shardledger.ProcessID{
		{Host: host, Port: 0, Owner: "a", Index: 1},
		{Host: host, Port: 0, Owner: "a", Index: 2},
	}
	if err := h.Deploy(context.Background(), hub.Host(), hub.Port(), ids); err != nil {
		t.Fatalf("Deploy failed: %v", err)
	}
	var ports []shardledger.ProcessID
	for range ids {
		reg := hub.expect(t, shardledger.AppRegistration)
		ports = append(ports, shardledger.ProcessID{Host: reg.SenderHost, Port: reg.SenderPort})
	}
	if n := h.Processes(); n != 2 {
		t.Fatalf("Processes() got: %d, want: 2", n)
	}

	if err := h.StopNodes(ports[:1]); err != nil {
		t.Errorf("StopNodes failed: %v", err)
	}
	if n := h.Processes(); n != 1 {
		t.Errorf("Processes() got: %d, want: 1", n)
	}
}

func TestHandlerMessages(t *testing.T) {
	hub := newFakeHub(t)
	h := node.NewHandler(node.HandlerConfig{Host: host, Consensus: testConsensusConfig()}, logging.Nop())
	if err := h.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { h.Close() })

	hub.Send(host, h.Port(), &shardledger.Message{
		Type:       shardledger.DeployNodes,
		SenderHost: hub.Host(),
		SenderPort: hub.Port(),
		Processes:  []shardledger.ProcessID{{Host: host, Owner: "b", Index: 1}},
	})
	reg := hub.expect(t, shardledger.AppRegistration)
	if reg.Owner != "b" || reg.Index != 1 {
		t.Errorf("unexpected registration %v", reg)
	}

	hub.Send(host, h.Port(), &shardledger.Message{
		Type:       shardledger.StopNodes,
		SenderHost: hub.Host(),
		SenderPort: hub.Port(),
		Processes:  []shardledger.ProcessID{{Host: reg.SenderHost, Port: reg.SenderPort}},
	})
	deadline := time.Now().Add(5 * time.Second)
	for h.Processes() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("process was not stopped")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
