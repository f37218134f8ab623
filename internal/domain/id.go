package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"
)

// ID is the canonical string form of any entity id (user, master, template, rule).
// The empty ID is the null grantor.
type ID string

// NullID is the grantor id of system-granted records.
const NullID ID = ""

// IsNull reports whether the id is the null grantor.
func (id ID) IsNull() bool {
	return id == NullID
}

// String renders the id, using "null" for the null id.
func (id ID) String() string {
	if id.IsNull() {
		return "null"
	}
	return string(id)
}

// NormalizeID coerces a raw id of any representation to its canonical string.
//
// Numeric ids render without exponent or trailing ".0" so that 42, int64(42),
// 42.0 and "42" are all ID("42"). Strings are trimmed and NFC normalized;
// case is preserved (ids compare case-sensitively).
func NormalizeID(v any) ID {
	switch val := v.(type) {
	case nil:
		return NullID
	case ID:
		return normalizeString(string(val))
	case string:
		return normalizeString(val)
	case int:
		return ID(strconv.FormatInt(int64(val), 10))
	case int32:
		return ID(strconv.FormatInt(int64(val), 10))
	case int64:
		return ID(strconv.FormatInt(val, 10))
	case uint:
		return ID(strconv.FormatUint(uint64(val), 10))
	case uint32:
		return ID(strconv.FormatUint(uint64(val), 10))
	case uint64:
		return ID(strconv.FormatUint(val, 10))
	case float32:
		return normalizeFloat(float64(val))
	case float64:
		return normalizeFloat(val)
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return ID(strconv.FormatInt(i, 10))
		}
		if f, err := val.Float64(); err == nil {
			return normalizeFloat(f)
		}
		return normalizeString(val.String())
	case fmt.Stringer:
		return normalizeString(val.String())
	default:
		return normalizeString(fmt.Sprint(val))
	}
}

// SameID reports whether two raw ids denote the same entity.
func SameID(a, b any) bool {
	return NormalizeID(a) == NormalizeID(b)
}

func normalizeString(s string) ID {
	s = strings.TrimSpace(s)
	if s == "" || s == "null" {
		return NullID
	}
	return ID(norm.NFC.String(s))
}

func normalizeFloat(f float64) ID {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return NullID
	}
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return ID(strconv.FormatInt(int64(f), 10))
	}
	return ID(strconv.FormatFloat(f, 'f', -1, 64))
}

// UnmarshalJSON accepts both numeric and string ids.
func (id *ID) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return fmt.Errorf("decode id: %w", err)
	}
	*id = NormalizeID(raw)
	return nil
}

// UnmarshalYAML accepts both numeric and string ids.
func (id *ID) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: id must be a scalar", node.Line)
	}
	if node.Tag == "!!float" {
		f, err := strconv.ParseFloat(node.Value, 64)
		if err != nil {
			return fmt.Errorf("line %d: invalid numeric id %q: %w", node.Line, node.Value, err)
		}
		*id = normalizeFloat(f)
		return nil
	}
	if node.Tag == "!!null" {
		*id = NullID
		return nil
	}
	*id = NormalizeID(node.Value)
	return nil
}
