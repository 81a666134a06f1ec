package kvstore

import "github.com/oriys/courier/internal/bpickle"

// GetInt reads an integer at path, returning def if absent or not an int.
func (s *Store) GetInt(path string, def int64) int64 {
	v, ok := s.Get(path)
	if !ok || v.Kind != bpickle.KindInt {
		return def
	}
	return v.Int
}

// SetInt writes an integer at path.
func (s *Store) SetInt(path string, n int64) error {
	return s.Set(path, bpickle.Int(n))
}

// GetText reads a text value at path, returning def if absent.
func (s *Store) GetText(path string, def string) string {
	v, ok := s.Get(path)
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

// SetText writes a text value at path.
func (s *Store) SetText(path string, v string) error {
	return s.Set(path, bpickle.Text(v))
}

// GetTextPtr reads a text value, distinguishing "absent" from "present".
// Used for fields like secure-id where nil and "" are different states.
func (s *Store) GetTextPtr(path string) *string {
	v, ok := s.Get(path)
	if !ok || v.IsNull() {
		return nil
	}
	var out string
	switch v.Kind {
	case bpickle.KindText:
		out = v.Text
	case bpickle.KindBytes:
		out = string(v.Bytes)
	default:
		return nil
	}
	return &out
}

// SetTextPtr writes nil as bpickle Null, and a non-nil string as Text.
func (s *Store) SetTextPtr(path string, v *string) error {
	if v == nil {
		return s.Set(path, bpickle.Null())
	}
	return s.Set(path, bpickle.Text(*v))
}

func (sc *Scoped) GetInt(path string, def int64) int64 {
	return sc.store.GetInt(sc.prefix+"."+path, def)
}

func (sc *Scoped) SetInt(path string, n int64) error {
	return sc.store.SetInt(sc.prefix+"."+path, n)
}

func (sc *Scoped) GetTextPtr(path string) *string {
	return sc.store.GetTextPtr(sc.prefix + "." + path)
}

func (sc *Scoped) SetTextPtr(path string, v *string) error {
	return sc.store.SetTextPtr(sc.prefix+"."+path, v)
}
