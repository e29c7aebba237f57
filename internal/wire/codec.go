package wire

import (
	"fmt"
	"strconv"

	"github.com/relab/shardledger"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Marshal encodes msg as a protobuf Struct.
func Marshal(msg *shardledger.Message) ([]byte, error) {
	s, err := ToStruct(msg)
	if err != nil {
		return nil, err
	}
	return proto.Marshal(s)
}

// Unmarshal decodes a message encoded by Marshal.
func Unmarshal(buf []byte) (*shardledger.Message, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(buf, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return FromStruct(&s)
}

// Format returns the JSON form of the encoded message, for debug logs.
func Format(msg *shardledger.Message) string {
	s, err := ToStruct(msg)
	if err != nil {
		return msg.String()
	}
	return protojson.Format(s)
}

// ToStruct converts msg to its self-describing Struct form.
func ToStruct(msg *shardledger.Message) (*structpb.Struct, error) {
	fields := map[string]any{
		"type":        msg.Type.String(),
		"systemId":    msg.SystemID,
		"abstraction": msg.Abstraction,
		"senderHost":  msg.SenderHost,
		"senderPort":  msg.SenderPort,
	}
	// Struct numbers are float64; 64-bit counters are sent as decimal strings.
	if msg.EpochTimestamp != 0 {
		fields["ets"] = strconv.FormatInt(msg.EpochTimestamp, 10)
	}
	if msg.ValueTimestamp != 0 {
		fields["valueTimestamp"] = strconv.FormatInt(msg.ValueTimestamp, 10)
	}
	if msg.Value != (shardledger.Value{}) {
		fields["value"] = valueFields(msg.Value)
	}
	if len(msg.Processes) > 0 {
		procs := make([]any, len(msg.Processes))
		for i, p := range msg.Processes {
			procs[i] = map[string]any{
				"host":  p.Host,
				"port":  p.Port,
				"owner": p.Owner,
				"index": p.Index,
				"rank":  p.Rank,
			}
		}
		fields["processes"] = procs
	}
	if msg.Owner != "" {
		fields["owner"] = msg.Owner
		fields["index"] = msg.Index
	}
	if msg.Tick != 0 {
		fields["tick"] = strconv.FormatUint(msg.Tick, 10)
	}
	s, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("wire: failed to convert %v: %w", msg.Type, err)
	}
	return s, nil
}

func valueFields(v shardledger.Value) map[string]any {
	tx := v.Transaction
	return map[string]any{
		"defined":   v.Defined,
		"timestamp": strconv.FormatInt(v.Timestamp, 10),
		"transaction": map[string]any{
			"id":     tx.ID,
			"from":   tx.From,
			"to":     tx.To,
			"amount": tx.Amount,
			"shard":  tx.Shard,
		},
	}
}

// FromStruct converts the Struct form back to a message.
func FromStruct(s *structpb.Struct) (*shardledger.Message, error) {
	f := s.GetFields()
	typ, err := shardledger.ParseMessageType(f["type"].GetStringValue())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	msg := &shardledger.Message{
		Type:        typ,
		SystemID:    f["systemId"].GetStringValue(),
		Abstraction: f["abstraction"].GetStringValue(),
		SenderHost:  f["senderHost"].GetStringValue(),
		SenderPort:  int(f["senderPort"].GetNumberValue()),
		Owner:       f["owner"].GetStringValue(),
		Index:       int(f["index"].GetNumberValue()),
	}
	var ets, vts, tick error
	msg.EpochTimestamp, ets = intField(f, "ets")
	msg.ValueTimestamp, vts = intField(f, "valueTimestamp")
	msg.Tick, tick = uintField(f, "tick")
	for _, err := range []error{ets, vts, tick} {
		if err != nil {
			return nil, err
		}
	}
	if v := f["value"].GetStructValue(); v != nil {
		msg.Value, err = valueFromFields(v.GetFields())
		if err != nil {
			return nil, err
		}
	}
	for _, p := range f["processes"].GetListValue().GetValues() {
		pf := p.GetStructValue().GetFields()
		if pf == nil {
			return nil, fmt.Errorf("%w: process entry is not an object", ErrMalformedFrame)
		}
		msg.Processes = append(msg.Processes, shardledger.ProcessID{
			Host:  pf["host"].GetStringValue(),
			Port:  int(pf["port"].GetNumberValue()),
			Owner: pf["owner"].GetStringValue(),
			Index: int(pf["index"].GetNumberValue()),
			Rank:  int(pf["rank"].GetNumberValue()),
		})
	}
	return msg, nil
}

// intField parses a decimal string field. A missing field is zero.
func intField(f map[string]*structpb.Value, key string) (int64, error) {
	v, ok := f[key]
	if !ok {
		return 0, nil
	}
	n, err := strconv.ParseInt(v.GetStringValue(), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: field %s: %v", ErrMalformedFrame, key, err)
	}
	return n, nil
}

func uintField(f map[string]*structpb.Value, key string) (uint64, error) {
	v, ok := f[key]
	if !ok {
		return 0, nil
	}
	n, err := strconv.ParseUint(v.GetStringValue(), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: field %s: %v", ErrMalformedFrame, key, err)
	}
	return n, nil
}

func valueFromFields(f map[string]*structpb.Value) (shardledger.Value, error) {
	ts, err := intField(f, "timestamp")
	if err != nil {
		return shardledger.Value{}, err
	}
	tf := f["transaction"].GetStructValue().GetFields()
	return shardledger.Value{
		Defined:   f["defined"].GetBoolValue(),
		Timestamp: ts,
		Transaction: shardledger.Transaction{
			ID:     tf["id"].GetStringValue(),
			From:   tf["from"].GetStringValue(),
			To:     tf["to"].GetStringValue(),
			Amount: tf["amount"].GetNumberValue(),
			Shard:  tf["shard"].GetStringValue(),
		},
	}, nil
}
