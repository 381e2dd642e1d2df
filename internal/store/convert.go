package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/robelix/miro/internal/schema"
)

// converter maps typed field values to SQLite cells and back. It owns
// every serialization-format decision: JSON for containers, RFC 3339
// text for times, delimiter-joined text for string sets, NFC-normalized
// text for paths.
//
// Write-path failures are ValidationErrors and fatal to that mutation.
// Read-path failures are MalformedValueErrors and recovered per field.
type converter struct{}

// toCell converts a typed value into its SQLite representation.
func (converter) toCell(table string, f *schema.Field, value any) (any, error) {
	if value == nil {
		if !f.Null {
			return nil, &schema.ValidationError{Table: table, Field: f.Name,
				Reason: "nil value for non-null field"}
		}
		return nil, nil
	}
	switch f.Kind {
	case schema.KindText:
		s, ok := value.(string)
		if !ok {
			return nil, typeErr(table, f, "string", value)
		}
		return s, nil
	case schema.KindInt:
		switch v := value.(type) {
		case int64:
			return v, nil
		case int:
			return int64(v), nil
		}
		return nil, typeErr(table, f, "int64", value)
	case schema.KindBool:
		b, ok := value.(bool)
		if !ok {
			return nil, typeErr(table, f, "bool", value)
		}
		if b {
			return int64(1), nil
		}
		return int64(0), nil
	case schema.KindFloat:
		switch v := value.(type) {
		case float64:
			return v, nil
		case int64:
			return float64(v), nil
		}
		return nil, typeErr(table, f, "float64", value)
	case schema.KindBinary:
		b, ok := value.([]byte)
		if !ok {
			return nil, typeErr(table, f, "[]byte", value)
		}
		return b, nil
	case schema.KindTime:
		t, ok := value.(time.Time)
		if !ok {
			return nil, typeErr(table, f, "time.Time", value)
		}
		return t.Format(time.RFC3339Nano), nil
	case schema.KindDuration:
		d, ok := value.(time.Duration)
		if !ok {
			return nil, typeErr(table, f, "time.Duration", value)
		}
		return int64(d), nil
	case schema.KindPath:
		s, ok := value.(string)
		if !ok {
			return nil, typeErr(table, f, "string", value)
		}
		return norm.NFC.String(s), nil
	case schema.KindStringSet:
		set, ok := value.([]string)
		if !ok {
			return nil, typeErr(table, f, "[]string", value)
		}
		delim := f.SetDelimiter()
		out := make([]string, 0, len(set))
		seen := make(map[string]bool, len(set))
		for _, elem := range set {
			if strings.Contains(elem, delim) {
				return nil, &schema.ValidationError{Table: table, Field: f.Name,
					Reason: fmt.Sprintf("element %q contains the delimiter %q", elem, delim)}
			}
			if !seen[elem] {
				seen[elem] = true
				out = append(out, elem)
			}
		}
		sort.Strings(out)
		return strings.Join(out, delim), nil
	case schema.KindList:
		if _, ok := value.([]any); !ok {
			return nil, typeErr(table, f, "[]any", value)
		}
		return marshalJSONCell(table, f, value)
	case schema.KindMap:
		if _, ok := value.(map[string]any); !ok {
			return nil, typeErr(table, f, "map[string]any", value)
		}
		return marshalJSONCell(table, f, value)
	case schema.KindStruct:
		return marshalJSONCell(table, f, value)
	}
	return nil, &schema.ValidationError{Table: table, Field: f.Name,
		Reason: fmt.Sprintf("unknown field kind %v", f.Kind)}
}

func marshalJSONCell(table string, f *schema.Field, value any) (any, error) {
	if err := f.CheckConstraint(table, value); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(value); err != nil {
		return nil, &schema.ValidationError{Table: table, Field: f.Name,
			Reason: fmt.Sprintf("value not serializable: %v", err)}
	}
	return strings.TrimSpace(buf.String()), nil
}

// fromCell converts a SQLite cell back into its typed value.
func (converter) fromCell(table string, f *schema.Field, cell any) (any, error) {
	if cell == nil {
		return nil, nil
	}
	switch f.Kind {
	case schema.KindText, schema.KindPath:
		return cellText(table, f, cell)
	case schema.KindInt:
		return cellInt(table, f, cell)
	case schema.KindBool:
		n, err := cellInt(table, f, cell)
		if err != nil {
			return nil, err
		}
		return n != 0, nil
	case schema.KindFloat:
		switch v := cell.(type) {
		case float64:
			return v, nil
		case int64:
			return float64(v), nil
		}
		return nil, malformed(table, f, fmt.Errorf("cell %T is not numeric", cell))
	case schema.KindBinary:
		switch v := cell.(type) {
		case []byte:
			return append([]byte(nil), v...), nil
		case string:
			return []byte(v), nil
		}
		return nil, malformed(table, f, fmt.Errorf("cell %T is not a blob", cell))
	case schema.KindTime:
		text, err := cellText(table, f, cell)
		if err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339Nano, text)
		if err != nil {
			return nil, malformed(table, f, err)
		}
		return t, nil
	case schema.KindDuration:
		n, err := cellInt(table, f, cell)
		if err != nil {
			return nil, err
		}
		return time.Duration(n), nil
	case schema.KindStringSet:
		text, err := cellText(table, f, cell)
		if err != nil {
			return nil, err
		}
		if text == "" {
			return []string(nil), nil
		}
		return strings.Split(text, f.SetDelimiter()), nil
	case schema.KindList:
		decoded, err := decodeJSONCell(table, f, cell)
		if err != nil {
			return nil, err
		}
		if decoded == nil {
			return []any(nil), nil
		}
		list, ok := decoded.([]any)
		if !ok {
			return nil, malformed(table, f, fmt.Errorf("stored JSON is not a list"))
		}
		return list, nil
	case schema.KindMap:
		decoded, err := decodeJSONCell(table, f, cell)
		if err != nil {
			return nil, err
		}
		if decoded == nil {
			return map[string]any(nil), nil
		}
		m, ok := decoded.(map[string]any)
		if !ok {
			return nil, malformed(table, f, fmt.Errorf("stored JSON is not a map"))
		}
		return m, nil
	case schema.KindStruct:
		return decodeJSONCell(table, f, cell)
	}
	return nil, malformed(table, f, fmt.Errorf("unknown field kind %v", f.Kind))
}

func decodeJSONCell(table string, f *schema.Field, cell any) (any, error) {
	text, err := cellText(table, f, cell)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(strings.NewReader(text))
	// json.Number keeps large integers exact; normalizeNumbers turns
	// them back into int64 where they fit.
	dec.UseNumber()
	var decoded any
	if err := dec.Decode(&decoded); err != nil {
		return nil, malformed(table, f, err)
	}
	return normalizeNumbers(decoded), nil
}

// normalizeNumbers rewrites json.Number values into int64 when integral
// and float64 otherwise, so decoded containers round-trip against the
// values the application inserted.
func normalizeNumbers(v any) any {
	switch v := v.(type) {
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n
		}
		if fl, err := v.Float64(); err == nil {
			return fl
		}
		return v.String()
	case []any:
		for i := range v {
			v[i] = normalizeNumbers(v[i])
		}
		return v
	case map[string]any:
		for k := range v {
			v[k] = normalizeNumbers(v[k])
		}
		return v
	}
	return v
}

func cellText(table string, f *schema.Field, cell any) (string, error) {
	switch v := cell.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	}
	return "", malformed(table, f, fmt.Errorf("cell %T is not text", cell))
}

func cellInt(table string, f *schema.Field, cell any) (int64, error) {
	if n, ok := cell.(int64); ok {
		return n, nil
	}
	return 0, malformed(table, f, fmt.Errorf("cell %T is not an integer", cell))
}

func typeErr(table string, f *schema.Field, want string, got any) error {
	return &schema.ValidationError{Table: table, Field: f.Name,
		Reason: fmt.Sprintf("expected %s, got %T", want, got)}
}

func malformed(table string, f *schema.Field, err error) error {
	return &MalformedValueError{Table: table, Field: f.Name, Err: err}
}
