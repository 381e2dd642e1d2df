package schema

import "time"

// Kind identifies the declared type of a field.
type Kind int

const (
	// KindText stores a Go string as TEXT.
	KindText Kind = iota

	// KindInt stores an int64 as INTEGER.
	KindInt

	// KindBool stores a bool as INTEGER 0/1.
	KindBool

	// KindFloat stores a float64 as REAL.
	KindFloat

	// KindBinary stores a []byte as BLOB.
	KindBinary

	// KindTime stores a time.Time as RFC 3339 TEXT with nanoseconds.
	KindTime

	// KindDuration stores a time.Duration as INTEGER nanoseconds.
	KindDuration

	// KindPath stores a filesystem path as NFC-normalized TEXT.
	KindPath

	// KindStringSet stores a set of strings as delimiter-joined TEXT.
	// Elements must not contain the delimiter.
	KindStringSet

	// KindList stores a []any as JSON TEXT.
	KindList

	// KindMap stores a map[string]any as JSON TEXT.
	KindMap

	// KindStruct stores an arbitrary JSON-marshalable value as JSON TEXT.
	KindStruct
)

var kindNames = map[Kind]string{
	KindText:      "text",
	KindInt:       "int",
	KindBool:      "bool",
	KindFloat:     "float",
	KindBinary:    "binary",
	KindTime:      "time",
	KindDuration:  "duration",
	KindPath:      "path",
	KindStringSet: "stringset",
	KindList:      "list",
	KindMap:       "map",
	KindStruct:    "struct",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// SQLType returns the SQLite column type used to store this kind.
func (k Kind) SQLType() string {
	switch k {
	case KindInt, KindBool, KindDuration:
		return "integer"
	case KindFloat:
		return "real"
	case KindBinary:
		return "blob"
	default:
		return "text"
	}
}

// ZeroValue returns the neutral value substituted when a stored cell of
// this kind cannot be decoded and the field declares no default.
func (k Kind) ZeroValue() any {
	switch k {
	case KindText, KindPath:
		return ""
	case KindInt:
		return int64(0)
	case KindBool:
		return false
	case KindFloat:
		return float64(0)
	case KindBinary:
		return []byte(nil)
	case KindTime:
		return time.Time{}
	case KindDuration:
		return time.Duration(0)
	case KindStringSet:
		return []string(nil)
	case KindList:
		return []any(nil)
	case KindMap:
		return map[string]any(nil)
	default:
		return nil
	}
}
