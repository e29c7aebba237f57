package shardledger

import "testing"

func TestEpochKey(t *testing.T) {
	for _, ets := range []int64{0, 1, 42, 1 << 40} {
		key := EpochKey(ets)
		got, ok := ParseEpochKey(key)
		if !ok || got != ets {
			t.Errorf("ParseEpochKey(%q) = %d, %v; want %d, true", key, got, ok, ets)
		}
	}
	for _, key := range []string{"ec", "uc", "ep", "epx", "ep-1", ""} {
		if _, ok := ParseEpochKey(key); ok {
			t.Errorf("ParseEpochKey(%q) should fail", key)
		}
	}
}

func TestParseMessageType(t *testing.T) {
	for typ := Read; typ <= StopNodes; typ++ {
		got, err := ParseMessageType(typ.String())
		if err != nil {
			t.Fatalf("ParseMessageType(%q): %v", typ.String(), err)
		}
		if got != typ {
			t.Errorf("ParseMessageType(%q) = %v, want %v", typ.String(), got, typ)
		}
	}
	if _, err := ParseMessageType("unknown"); err == nil {
		t.Error("expected error for unknown message type")
	}
}

func TestMembership(t *testing.T) {
	m := NewMembership([]ProcessID{
		{Host: "127.0.0.1", Port: 5003, Owner: "a", Index: 2, Rank: 7},
		{Host: "127.0.0.1", Port: 5001, Owner: "a", Index: 0, Rank: 1},
		{Host: "127.0.0.1", Port: 5002, Owner: "a", Index: 1, Rank: 4},
	})
	if m.QuorumSize() != 2 {
		t.Errorf("quorum size = %d, want 2", m.QuorumSize())
	}
	for i, want := range []int{5001, 5002, 5003, 5001} {
		if got := m.Leader(int64(i)).Port; got != want {
			t.Errorf("Leader(%d).Port = %d, want %d", i, got, want)
		}
	}
	p, ok := m.Lookup("127.0.0.1", 5002)
	if !ok || p.Index != 1 {
		t.Errorf("Lookup returned %v, %v", p, ok)
	}
	if _, ok := m.Lookup("127.0.0.1", 6000); ok {
		t.Error("Lookup found a process that is not a member")
	}
}

func TestValueBottom(t *testing.T) {
	var v Value
	if v.Defined {
		t.Fatal("zero value should be ⊥")
	}
	if v.String() != "⊥" {
		t.Errorf("String() = %q", v.String())
	}
	w := Value{Defined: true, Transaction: Transaction{ID: "x", To: "bob", Amount: 10}}
	if v.Equal(w) || !w.Equal(w) {
		t.Error("Equal compares by content")
	}
}
