package value

import (
	"encoding/json"
	"fmt"
)

// MarshalJSON encodes a Value as plain JSON: null, string, number, bool,
// array, or object — the Kind tag is not serialized, it is recovered from
// the JSON type on decode.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindNull:
		return []byte("null"), nil
	case KindString:
		return json.Marshal(v.Str)
	case KindInt:
		return json.Marshal(v.Int)
	case KindBool:
		return json.Marshal(v.Bool)
	case KindList:
		return json.Marshal(v.List)
	case KindMap:
		return json.Marshal(v.Map)
	default:
		return nil, fmt.Errorf("value: invalid kind %d", v.Kind)
	}
}

// UnmarshalJSON decodes plain JSON into a Value, inferring Kind from the
// JSON type.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*v = fromInterface(raw)
	return nil
}

func fromInterface(raw interface{}) Value {
	switch x := raw.(type) {
	case nil:
		return Null
	case string:
		return String(x)
	case bool:
		return Bool(x)
	case float64:
		return Int(int64(x))
	case []interface{}:
		items := make([]Value, len(x))
		for i, item := range x {
			items[i] = fromInterface(item)
		}
		return Value{Kind: KindList, List: items}
	case map[string]interface{}:
		fields := make(map[string]Value, len(x))
		for k, item := range x {
			fields[k] = fromInterface(item)
		}
		return Value{Kind: KindMap, Map: fields}
	default:
		return Null
	}
}
