package bpickle

// FromGo converts a tree of Go primitives (nil, bool, int/int64, float64,
// []byte, string, []any, map[string]any) into a Value. It panics on any
// other type, since callers construct these trees themselves and a type
// outside this set is a programming error, not a runtime condition.
func FromGo(v any) Value {
	switch t := v.(type) {
	case nil:
		return Null()
	case bool:
		return Bool(t)
	case int:
		return Int(int64(t))
	case int64:
		return Int(t)
	case float64:
		return Float(t)
	case []byte:
		return Bytes(t)
	case string:
		return Text(t)
	case []any:
		items := make([]Value, len(t))
		for i, item := range t {
			items[i] = FromGo(item)
		}
		return List(items...)
	case map[string]any:
		m := make(map[string]Value, len(t))
		for k, item := range t {
			m[k] = FromGo(item)
		}
		return Dict(m)
	default:
		panic("bpickle: FromGo: unsupported type")
	}
}

// ToGo converts a Value back into the Go primitive tree FromGo accepts.
func ToGo(v Value) any {
	switch v.Kind {
	case KindNull:
		return nil
	case KindBool:
		return v.Bool
	case KindInt:
		return v.Int
	case KindFloat:
		return v.Float
	case KindBytes:
		return v.Bytes
	case KindText:
		return v.Text
	case KindList:
		out := make([]any, len(v.List))
		for i, item := range v.List {
			out[i] = ToGo(item)
		}
		return out
	case KindDict:
		out := make(map[string]any, len(v.Dict))
		for k, item := range v.Dict {
			out[k] = ToGo(item)
		}
		return out
	default:
		return nil
	}
}
