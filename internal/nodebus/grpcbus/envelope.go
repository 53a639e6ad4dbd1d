package grpcbus

import (
	"encoding/base64"
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"

	"kitchen-sim/internal/nodebus"
)

// The wire service has no protoc-generated message types: every
// request/response is a structpb.Struct envelope, which is itself a
// real, already-compiled proto.Message (google.golang.org/protobuf's
// well-known Struct type), so the default grpc proto codec works
// unmodified. kindNames/valueToStruct/structToValue below are the only
// encode/decode logic the wire format needs.

var kindNames = map[nodebus.Kind]string{
	nodebus.KindBool:      "bool",
	nodebus.KindU16:       "u16",
	nodebus.KindU32:       "u32",
	nodebus.KindU64:       "u64",
	nodebus.KindString:    "string",
	nodebus.KindByteArray: "bytes",
}

var namesToKind = func() map[string]nodebus.Kind {
	m := make(map[string]nodebus.Kind, len(kindNames))
	for k, v := range kindNames {
		m[v] = k
	}
	return m
}()

func valueToStruct(v nodebus.Value) (*structpb.Struct, error) {
	fields := map[string]interface{}{
		"kind": kindNames[v.Kind],
	}
	switch v.Kind {
	case nodebus.KindBool:
		fields["bool"] = v.Bool
	case nodebus.KindU16:
		fields["u16"] = float64(v.U16)
	case nodebus.KindU32:
		fields["u32"] = float64(v.U32)
	case nodebus.KindU64:
		fields["u64"] = float64(v.U64)
	case nodebus.KindString:
		if v.Strs != nil {
			strs := make([]interface{}, len(v.Strs))
			for i, s := range v.Strs {
				strs[i] = s
			}
			fields["strs"] = strs
		} else {
			fields["str"] = v.Str
		}
	case nodebus.KindByteArray:
		fields["bytes"] = base64.StdEncoding.EncodeToString(v.Bytes)
	}
	return structpb.NewStruct(fields)
}

func structToValue(s *structpb.Struct) (nodebus.Value, error) {
	if s == nil {
		return nodebus.Value{}, fmt.Errorf("grpcbus: nil value envelope")
	}
	kindStr := s.Fields["kind"].GetStringValue()
	kind, ok := namesToKind[kindStr]
	if !ok {
		return nodebus.Value{}, fmt.Errorf("grpcbus: unknown value kind %q", kindStr)
	}
	switch kind {
	case nodebus.KindBool:
		return nodebus.Bool(s.Fields["bool"].GetBoolValue()), nil
	case nodebus.KindU16:
		return nodebus.U16(uint16(s.Fields["u16"].GetNumberValue())), nil
	case nodebus.KindU32:
		return nodebus.U32(uint32(s.Fields["u32"].GetNumberValue())), nil
	case nodebus.KindU64:
		return nodebus.U64(uint64(s.Fields["u64"].GetNumberValue())), nil
	case nodebus.KindString:
		if list := s.Fields["strs"].GetListValue(); list != nil {
			strs := make([]string, len(list.Values))
			for i, lv := range list.Values {
				strs[i] = lv.GetStringValue()
			}
			return nodebus.StringArray(strs), nil
		}
		return nodebus.String(s.Fields["str"].GetStringValue()), nil
	case nodebus.KindByteArray:
		raw, err := base64.StdEncoding.DecodeString(s.Fields["bytes"].GetStringValue())
		if err != nil {
			return nodebus.Value{}, fmt.Errorf("grpcbus: decode bytes value: %w", err)
		}
		return nodebus.Bytes(raw), nil
	}
	return nodebus.Value{}, fmt.Errorf("grpcbus: unhandled kind %v", kind)
}

func argsToStruct(args nodebus.MethodArgs) (*structpb.Struct, error) {
	list := make([]interface{}, len(args))
	for i, a := range args {
		s, err := valueToStruct(a)
		if err != nil {
			return nil, err
		}
		list[i] = s.AsMap()
	}
	return structpb.NewStruct(map[string]interface{}{"args": list})
}

func structToArgs(s *structpb.Struct) (nodebus.MethodArgs, error) {
	list := s.Fields["args"].GetListValue()
	if list == nil {
		return nil, nil
	}
	out := make(nodebus.MethodArgs, len(list.Values))
	for i, lv := range list.Values {
		v, err := structToValue(lv.GetStructValue())
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
