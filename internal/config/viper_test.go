package config_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/relab/shardledger/consensus"
	"github.com/relab/shardledger/hub"
	"github.com/relab/shardledger/internal/config"
	"github.com/relab/shardledger/node"
	"github.com/relab/shardledger/transport"
	"github.com/spf13/viper"
	"go.uber.org/multierr"
)

func newViper(t *testing.T, yaml string) *viper.Viper {
	t.Helper()
	v := viper.New()
	config.SetDefaults(v)
	v.SetConfigType("yaml")
	if err := v.ReadConfig(strings.NewReader(yaml)); err != nil {
		t.Fatal(err)
	}
	return v
}

func TestNewNode(t *testing.T) {
	v := newViper(t, `
host: 10.0.0.1
port: 5001
owner: a
index: 2
hub-port: 6000
election-timeout: 2s
`)
	got, err := config.NewNode(v)
	if err != nil {
		t.Fatal(err)
	}
	want := node.Config{
		Host:      "10.0.0.1",
		Port:      5001,
		Owner:     "a",
		Index:     2,
		HubHost:   "localhost",
		HubPort:   6000,
		Consensus: consensus.Config{ElectionTimeout: 2 * time.Second, EpochIncrement: 1},
		Transport: transport.DefaultConfig(),

		OrphanTimeout: node.DefaultOrphanTimeout,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("NewNode() mismatch (-want +got):\n%s", diff)
	}
}

func TestNewNodeInvalid(t *testing.T) {
	v := newViper(t, `
port: 70000
index: 0
election-timeout: 0s
`)
	_, err := config.NewNode(v)
	if !errors.Is(err, config.ErrInvalidConfig) {
		t.Fatalf("got: %v, want: %v", err, config.ErrInvalidConfig)
	}
	// port, owner, index and election-timeout
	if n := len(multierr.Errors(err)); n != 4 {
		t.Errorf("got %d errors, want 4: %v", n, err)
	}
}

func TestNewHub(t *testing.T) {
	v := newViper(t, `
handler-host: 10.0.0.2
connect-timeout: 1s
`)
	got, err := config.NewHub(v)
	if err != nil {
		t.Fatal(err)
	}
	want := hub.Config{
		Host:        "localhost",
		Port:        5000,
		HandlerHost: "10.0.0.2",
		HandlerPort: 4999,
		Transport:   transport.Config{ConnectTimeout: time.Second, QueueSize: transport.DefaultConfig().QueueSize},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("NewHub() mismatch (-want +got):\n%s", diff)
	}
}

func TestNewHandler(t *testing.T) {
	v := newViper(t, "epoch-increment: 3\n")
	got, err := config.NewHandler(v)
	if err != nil {
		t.Fatal(err)
	}
	if got.Port != 4999 || got.Consensus.EpochIncrement != 3 || got.OrphanTimeout != node.DefaultOrphanTimeout {
		t.Errorf("unexpected handler config %+v", got)
	}
	v.Set("queue-size", -1)
	if _, err := config.NewHandler(v); !errors.Is(err, config.ErrInvalidConfig) {
		t.Errorf("got: %v, want: %v", err, config.ErrInvalidConfig)
	}
	v.Set("queue-size", 1)
	v.Set("orphan-timeout", "0s")
	if _, err := config.NewHandler(v); !errors.Is(err, config.ErrInvalidConfig) {
		t.Errorf("got: %v, want: %v", err, config.ErrInvalidConfig)
	}
}

func TestNewProfiling(t *testing.T) {
	v := newViper(t, "cpu-profile: cpu.prof\n")
	if got := config.NewProfiling(v); got.CPU != "cpu.prof" || got.Memory != "" {
		t.Errorf("unexpected paths %+v", got)
	}
}
