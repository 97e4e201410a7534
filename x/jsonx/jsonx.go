// Package jsonx wraps tinyjson for config documents and maps decoded
// values onto plain Go fields.
package jsonx

import (
	"github.com/andreyvit/tinyjson"

	"touchchip-go/x/fmtx"
)

// Decode parses one JSON document. tinyjson panics on malformed input; the
// panic is returned as an error.
func Decode(raw []byte) (val any, err error) {
	defer func() {
		if r := recover(); r != nil {
			val = nil
			if e, ok := r.(error); ok {
				err = e
				return
			}
			err = fmtx.Errorf("%v", r)
		}
	}()
	r := tinyjson.Raw(raw)
	val = r.Value()
	r.EnsureEOF()
	return val, nil
}

// DecodeObject parses raw and requires a top-level object.
func DecodeObject(raw []byte) (map[string]any, error) {
	v, err := Decode(raw)
	if err != nil {
		return nil, err
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmtx.Errorf("not a JSON object")
	}
	return m, nil
}

// Fields walks an object, rejecting keys that are not listed in known.
type Fields struct {
	m   map[string]any
	err error
}

// NewFields checks m against the allowed keys.
func NewFields(m map[string]any, known ...string) *Fields {
	f := &Fields{m: m}
	for k := range m {
		ok := false
		for _, want := range known {
			if k == want {
				ok = true
				break
			}
		}
		if !ok {
			f.err = fmtx.Errorf("unknown field %q", k)
			break
		}
	}
	return f
}

// Err is the first error seen by any accessor.
func (f *Fields) Err() error { return f.err }

func (f *Fields) fail(key, want string, v any) {
	if f.err == nil {
		f.err = fmtx.Errorf("field %q: want %s, got %T", key, want, v)
	}
}

// String returns m[key], or "" when absent.
func (f *Fields) String(key string) string {
	v, ok := f.m[key]
	if !ok || v == nil {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		f.fail(key, "string", v)
	}
	return s
}

// Int returns m[key] as an int, or 0 when absent.
func (f *Fields) Int(key string) int {
	v, ok := f.m[key]
	if !ok || v == nil {
		return 0
	}
	n, ok := Int(v)
	if !ok {
		f.fail(key, "integer", v)
	}
	return n
}

// Object returns the nested object at key, or nil when absent.
func (f *Fields) Object(key string) map[string]any {
	v, ok := f.m[key]
	if !ok || v == nil {
		return nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		f.fail(key, "object", v)
	}
	return m
}

// Array returns the array at key, or nil when absent.
func (f *Fields) Array(key string) []any {
	v, ok := f.m[key]
	if !ok || v == nil {
		return nil
	}
	a, ok := v.([]any)
	if !ok {
		f.fail(key, "array", v)
	}
	return a
}

// Strings returns the array at key as strings.
func (f *Fields) Strings(key string) []string {
	a := f.Array(key)
	if a == nil {
		return nil
	}
	out := make([]string, 0, len(a))
	for _, v := range a {
		s, ok := v.(string)
		if !ok {
			f.fail(key, "string array", v)
			return nil
		}
		out = append(out, s)
	}
	return out
}

// Int converts a decoded JSON number to an int. Fractional values are
// rejected.
func Int(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case uint64:
		return int(n), true
	case float64:
		if n != float64(int(n)) {
			return 0, false
		}
		return int(n), true
	}
	return 0, false
}
