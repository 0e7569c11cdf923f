package machine

// A String is an immutable interned string object with its FNV-1a hash
// precomputed at creation. Any two string values with the same contents are
// the same object, so the machine compares strings by pointer.
type String struct {
	objectHeader
	s    string
	hash uint32
}

var _ Object = (*String)(nil)

func (s *String) String() string { return s.s }
func (s *String) Type() string   { return "string" }

// Value returns the Go string contents.
func (s *String) Value() string { return s.s }

// Len returns the length in bytes.
func (s *String) Len() int { return len(s.s) }

const (
	fnvOffsetBasis = 2166136261
	fnvPrime       = 16777619
)

func hashString(s string) uint32 {
	h := uint32(fnvOffsetBasis)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= fnvPrime
	}
	return h
}
