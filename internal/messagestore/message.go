package messagestore

import "github.com/oriys/courier/internal/bpickle"

// DefaultServerAPI is the message API version courier speaks until the
// server has had a chance to advertise a higher one it understands.
const DefaultServerAPI = "3.2"

// Message is a single queued or received unit of work: a required "type"
// plus arbitrary type-specific fields. It mirrors the dict the original
// passes around, kept as a bpickle Dict so coercion and wire encoding
// never need an intermediate representation.
type Message = bpickle.Value

// NewMessage builds a Message from a type name and field map.
func NewMessage(msgType string, fields map[string]any) Message {
	m := make(map[string]bpickle.Value, len(fields)+1)
	for k, v := range fields {
		m[k] = bpickle.FromGo(v)
	}
	m["type"] = bpickle.Text(msgType)
	return bpickle.Dict(m)
}

// Type returns the "type" field of a message, or "" if missing. A
// bytes-encoded type (as produced by some wire decoders) is normalized
// to text rather than dropped, mirroring API below.
func Type(m Message) string {
	v, ok := m.Get("type")
	if !ok {
		return ""
	}
	switch v.Kind {
	case bpickle.KindText:
		return v.Text
	case bpickle.KindBytes:
		return string(v.Bytes)
	default:
		return ""
	}
}

// API returns the "api" field of a message, defaulting to def if absent.
func API(m Message, def string) string {
	v, ok := m.Get("api")
	if !ok {
		return def
	}
	switch v.Kind {
	case bpickle.KindText:
		return v.Text
	case bpickle.KindBytes:
		return string(v.Bytes)
	default:
		return def
	}
}

// WithField returns a copy of m with key set to value.
func WithField(m Message, key string, value bpickle.Value) Message {
	out := make(map[string]bpickle.Value, len(m.Dict)+1)
	for k, v := range m.Dict {
		out[k] = v
	}
	out[key] = value
	return bpickle.Dict(out)
}

// Coercer validates and normalizes a message of one (type, api) pair
// before it is queued, the Go analog of message_schemas.message.Message.coerce.
type Coercer func(Message) (Message, error)

// Registry holds the coercers known for each message type, keyed by the
// API version they were registered for, mirroring MessageStore._schemas.
type Registry struct {
	schemas map[string]map[string]Coercer
}

// NewRegistry creates an empty schema registry.
func NewRegistry() *Registry {
	return &Registry{schemas: make(map[string]map[string]Coercer)}
}

// Register adds a coercer for msgType at the given api version. An empty
// api registers the default/catch-all coercer used when no better match
// applies, mirroring schema.api defaulting to DefaultServerAPI.
func (r *Registry) Register(msgType, api string, c Coercer) {
	if api == "" {
		api = DefaultServerAPI
	}
	m, ok := r.schemas[msgType]
	if !ok {
		m = make(map[string]Coercer)
		r.schemas[msgType] = m
	}
	m[api] = c
}

// Coerce applies the highest registered API version that is not higher
// than serverAPI to m, matching the sort_versions/is_version_higher scan
// in the original's add().
func (r *Registry) Coerce(m Message, serverAPI string) (Message, error) {
	msgType := Type(m)
	versions, ok := r.schemas[msgType]
	if !ok || len(versions) == 0 {
		return m, nil // no schema registered: pass through unchanged
	}
	sorted := sortVersions(keysOf(versions))
	for _, api := range sorted {
		if isVersionHigherOrEqual(serverAPI, api) {
			return versions[api](m)
		}
	}
	// No registered version is compatible with the server API: fall back
	// to the lowest version we know, same effect as the original's final
	// KeyError-avoiding behavior of always having at least one schema.
	return versions[sorted[len(sorted)-1]](m)
}

func keysOf(m map[string]Coercer) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
