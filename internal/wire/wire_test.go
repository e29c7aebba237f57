package wire_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/relab/shardledger"
	"github.com/relab/shardledger/internal/wire"
	"google.golang.org/protobuf/types/known/structpb"
)

func TestWriteRead(t *testing.T) {
	var buf bytes.Buffer // in-memory stream

	msgs := []*shardledger.Message{
		{
			Type:        shardledger.AppPropose,
			SystemID:    "a1b2c",
			Abstraction: shardledger.UniformConsensusKey,
			SenderHost:  "127.0.0.1",
			SenderPort:  5000,
			Value: shardledger.Value{
				Defined:   true,
				Timestamp: 1700000000,
				Transaction: shardledger.Transaction{
					ID: "tx1", From: "alice", To: "bob", Amount: 10.5, Shard: "s1",
				},
			},
			Processes: []shardledger.ProcessID{
				{Host: "127.0.0.1", Port: 5001, Owner: "s1", Index: 0, Rank: 0},
				{Host: "127.0.0.1", Port: 5002, Owner: "s1", Index: 1, Rank: 3},
			},
		},
		{
			Type:           shardledger.State,
			SystemID:       "a1b2c",
			Abstraction:    shardledger.EpochKey(3),
			SenderHost:     "127.0.0.1",
			SenderPort:     5002,
			EpochTimestamp: 3,
			ValueTimestamp: 2,
		},
		{
			Type:       shardledger.AppRegistration,
			SenderHost: "10.0.0.1",
			SenderPort: 6000,
			Owner:      "s2",
			Index:      4,
		},
	}

	writer := wire.NewWriter(&buf)
	reader := wire.NewReader(&buf)

	for _, msg := range msgs {
		if err := writer.Write(msg); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}
	for _, want := range msgs {
		got, err := reader.Read()
		if err != nil {
			t.Fatalf("Read failed: %v", err)
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("message mismatch (-want +got):\n%s", diff)
		}
	}
	if _, err := reader.Read(); err != io.EOF {
		t.Errorf("expected io.EOF at end of stream, got %v", err)
	}
}

func TestFrameIsBigEndian(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte("hello")
	if err := wire.NewWriter(&buf).WriteFrame(payload); err != nil {
		t.Fatal(err)
	}
	b := buf.Bytes()
	if got := binary.BigEndian.Uint32(b[:4]); got != uint32(len(payload)) {
		t.Fatalf("length prefix = %d, want %d", got, len(payload))
	}
	if !bytes.Equal(b[4:], payload) {
		t.Errorf("payload = %q, want %q", b[4:], payload)
	}
}

func TestTruncatedFrame(t *testing.T) {
	var buf bytes.Buffer
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], 100)
	buf.Write(lenBuf[:])
	buf.WriteString("short")

	_, err := wire.NewReader(&buf).Read()
	if !errors.Is(err, wire.ErrMalformedFrame) {
		t.Fatalf("expected ErrMalformedFrame, got %v", err)
	}
}

func TestOversizedFrame(t *testing.T) {
	var buf bytes.Buffer
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], wire.MaxFrameSize+1)
	buf.Write(lenBuf[:])

	_, err := wire.NewReader(&buf).Read()
	if !errors.Is(err, wire.ErrMalformedFrame) {
		t.Fatalf("expected ErrMalformedFrame, got %v", err)
	}
}

func TestGarbagePayload(t *testing.T) {
	var buf bytes.Buffer
	if err := wire.NewWriter(&buf).WriteFrame([]byte{0xff, 0xff, 0xff}); err != nil {
		t.Fatal(err)
	}
	_, err := wire.NewReader(&buf).Read()
	if !errors.Is(err, wire.ErrMalformedFrame) {
		t.Fatalf("expected ErrMalformedFrame, got %v", err)
	}
}

func TestLargeCountersArePreserved(t *testing.T) {
	want := &shardledger.Message{
		Type:           shardledger.Write,
		SystemID:       "a1b2c",
		Abstraction:    shardledger.EpochKey(1<<53 + 1),
		EpochTimestamp: 1<<53 + 1,
		ValueTimestamp: math.MaxInt64,
		Tick:           math.MaxUint64,
		Value: shardledger.Value{
			Defined:     true,
			Timestamp:   -(1<<60 + 7),
			Transaction: shardledger.Transaction{ID: "tx1", To: "bob", Amount: 1},
		},
	}
	buf, err := wire.Marshal(want)
	if err != nil {
		t.Fatal(err)
	}
	got, err := wire.Unmarshal(buf)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("message mismatch (-want +got):\n%s", diff)
	}
}

func TestMalformedCounter(t *testing.T) {
	s, err := structpb.NewStruct(map[string]any{
		"type": shardledger.Read.String(),
		"ets":  "not a number",
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := wire.FromStruct(s); !errors.Is(err, wire.ErrMalformedFrame) {
		t.Errorf("got: %v, want: %v", err, wire.ErrMalformedFrame)
	}
}
