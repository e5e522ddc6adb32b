package codec

import "sort"

// Schema lists the keys whose scalar values are stored in the clear. Keys
// not listed are encrypted leaf by leaf. Containers under a plain key are
// still walked, so nested non-plain keys are encrypted.
type Schema struct {
	Name    string
	Version int
	plain   map[string]struct{}
}

// NewSchema declares a schema version and its plain keys.
func NewSchema(name string, version int, plainKeys ...string) Schema {
	s := Schema{Name: name, Version: version, plain: make(map[string]struct{}, len(plainKeys))}
	for _, k := range plainKeys {
		s.plain[k] = struct{}{}
	}
	return s
}

// IsPlain reports whether key is exempt from encryption.
func (s Schema) IsPlain(key string) bool {
	_, ok := s.plain[key]
	return ok
}

// PlainKeys returns the plain keys in sorted order.
func (s Schema) PlainKeys() []string {
	keys := make([]string, 0, len(s.plain))
	for k := range s.plain {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
