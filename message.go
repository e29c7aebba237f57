package shardledger

import (
	"fmt"
	"strconv"
	"strings"
)

// Abstraction keys used to address messages within a consensus run.
const (
	EpochChangeKey      = "ec"
	UniformConsensusKey = "uc"
	epochKeyPrefix      = "ep"
)

// EpochKey returns the abstraction key of the epoch consensus instance for ets.
func EpochKey(ets int64) string {
	return epochKeyPrefix + strconv.FormatInt(ets, 10)
}

// ParseEpochKey returns the epoch timestamp encoded in an ep{ets} key.
func ParseEpochKey(key string) (ets int64, ok bool) {
	if !strings.HasPrefix(key, epochKeyPrefix) {
		return 0, false
	}
	ets, err := strconv.ParseInt(key[len(epochKeyPrefix):], 10, 64)
	if err != nil || ets < 0 {
		return 0, false
	}
	return ets, true
}

// MessageType tags the kind of a Message.
type MessageType int

// The message kinds. The first group is exchanged between replicas of a shard,
// Timeout is only ever enqueued locally, and the last group is exchanged with the hub
// and the node handler.
const (
	Unknown MessageType = iota
	Read
	State
	Write
	WriteAck
	Decided
	NewEpoch
	NewEpochAck
	NewEpochNack
	Heartbeat
	Timeout
	AppPropose
	AppDecide
	AppRegistration
	DeployNodes
	StopNodes
)

var messageTypeNames = [...]string{
	Unknown:         "unknown",
	Read:            "read",
	State:           "state",
	Write:           "write",
	WriteAck:        "write-ack",
	Decided:         "decided",
	NewEpoch:        "new-epoch",
	NewEpochAck:     "new-epoch-ack",
	NewEpochNack:    "new-epoch-nack",
	Heartbeat:       "heartbeat",
	Timeout:         "timeout",
	AppPropose:      "app-propose",
	AppDecide:       "app-decide",
	AppRegistration: "app-registration",
	DeployNodes:     "deploy-nodes",
	StopNodes:       "stop-nodes",
}

func (t MessageType) String() string {
	if t < 0 || int(t) >= len(messageTypeNames) {
		return "MessageType(" + strconv.Itoa(int(t)) + ")"
	}
	return messageTypeNames[t]
}

// ParseMessageType returns the MessageType with the given name.
func ParseMessageType(name string) (MessageType, error) {
	for i, n := range messageTypeNames {
		if n == name && MessageType(i) != Unknown {
			return MessageType(i), nil
		}
	}
	return Unknown, fmt.Errorf("unknown message type %q", name)
}

// Message is the tagged union of everything that travels between processes.
// Which payload fields are meaningful depends on Type.
type Message struct {
	Type        MessageType
	SystemID    string // the consensus run the message belongs to
	Abstraction string // ec, uc or ep{ets}
	SenderHost  string
	SenderPort  int

	// EpochTimestamp is the ets of new-epoch, new-epoch-ack, heartbeat and epoch consensus
	// messages, and the highest accepted ets for new-epoch-nack.
	EpochTimestamp int64
	// ValueTimestamp is set by state replies.
	ValueTimestamp int64
	// Value is set by state, write, decided, app-propose and app-decide.
	Value Value
	// Processes lists the shard members for app-propose, deploy-nodes and stop-nodes.
	Processes []ProcessID
	// Owner and Index identify a registering process.
	Owner string
	Index int
	// Tick numbers local timeout events.
	Tick uint64
}

// From returns true if the message was sent by p.
func (m *Message) From(p ProcessID) bool {
	return p.At(m.SenderHost, m.SenderPort)
}

func (m *Message) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s[%s/%s from %s:%d", m.Type, m.SystemID, m.Abstraction, m.SenderHost, m.SenderPort)
	switch m.Type {
	case NewEpoch, NewEpochAck, NewEpochNack, Heartbeat:
		fmt.Fprintf(&b, " ets=%d", m.EpochTimestamp)
	case State:
		fmt.Fprintf(&b, " valts=%d val=%v", m.ValueTimestamp, m.Value)
	case Write, Decided, AppPropose, AppDecide:
		fmt.Fprintf(&b, " val=%v", m.Value)
	case Timeout:
		fmt.Fprintf(&b, " tick=%d", m.Tick)
	}
	b.WriteByte(']')
	return b.String()
}
