package value

import (
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"
)

// ToStruct converts v (which must be KindMap, or KindNull for an empty
// payload) into a structpb.Struct, the wire message the gRPC transport
// adapter sends on the stream.
func ToStruct(v Value) (*structpb.Struct, error) {
	if v.Kind == KindNull {
		return &structpb.Struct{}, nil
	}
	if v.Kind != KindMap {
		return nil, fmt.Errorf("value: ToStruct requires a map value, got kind %d", v.Kind)
	}

	fields := make(map[string]*structpb.Value, len(v.Map))
	for k, fv := range v.Map {
		pv, err := toProtoValue(fv)
		if err != nil {
			return nil, err
		}
		fields[k] = pv
	}
	return &structpb.Struct{Fields: fields}, nil
}

func toProtoValue(v Value) (*structpb.Value, error) {
	switch v.Kind {
	case KindNull:
		return structpb.NewNullValue(), nil
	case KindString:
		return structpb.NewStringValue(v.Str), nil
	case KindInt:
		return structpb.NewNumberValue(float64(v.Int)), nil
	case KindBool:
		return structpb.NewBoolValue(v.Bool), nil
	case KindList:
		items := make([]*structpb.Value, len(v.List))
		for i, item := range v.List {
			pv, err := toProtoValue(item)
			if err != nil {
				return nil, err
			}
			items[i] = pv
		}
		return structpb.NewListValue(&structpb.ListValue{Values: items}), nil
	case KindMap:
		s, err := ToStruct(v)
		if err != nil {
			return nil, err
		}
		return structpb.NewStructValue(s), nil
	default:
		return nil, fmt.Errorf("value: invalid kind %d", v.Kind)
	}
}

// FromStruct converts a structpb.Struct into a KindMap Value.
func FromStruct(s *structpb.Struct) Value {
	if s == nil {
		return Null
	}
	fields := make(map[string]Value, len(s.Fields))
	for k, pv := range s.Fields {
		fields[k] = fromProtoValue(pv)
	}
	return Value{Kind: KindMap, Map: fields}
}

func fromProtoValue(pv *structpb.Value) Value {
	if pv == nil {
		return Null
	}
	switch x := pv.Kind.(type) {
	case *structpb.Value_NullValue:
		return Null
	case *structpb.Value_StringValue:
		return String(x.StringValue)
	case *structpb.Value_NumberValue:
		return Int(int64(x.NumberValue))
	case *structpb.Value_BoolValue:
		return Bool(x.BoolValue)
	case *structpb.Value_ListValue:
		items := make([]Value, len(x.ListValue.Values))
		for i, item := range x.ListValue.Values {
			items[i] = fromProtoValue(item)
		}
		return Value{Kind: KindList, List: items}
	case *structpb.Value_StructValue:
		return FromStruct(x.StructValue)
	default:
		return Null
	}
}
