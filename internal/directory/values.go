package directory

import (
	"reflect"
	"sort"
	"strings"
	"time"
)

// String returns the string value of field, or "".
func (d Document) String(field string) string {
	s, _ := d.Fields[field].(string)
	return s
}

// Bool returns the bool value of field, or false.
func (d Document) Bool(field string) bool {
	b, _ := d.Fields[field].(bool)
	return b
}

// Int returns the integer value of field, or 0. Stores may hand numbers back
// with a different width than they were written with.
func (d Document) Int(field string) int64 {
	n, _ := toInt(d.Fields[field])
	return n
}

// Time returns the time value of field, or the zero time.
func (d Document) Time(field string) time.Time {
	t, _ := d.Fields[field].(time.Time)
	return t
}

// Strings returns the string list value of field.
func (d Document) Strings(field string) []string {
	switch v := d.Fields[field].(type) {
	case []string:
		return append([]string(nil), v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func toInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), true
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	if n, ok := toInt(v); ok {
		if f, isFloat := v.(float64); isFloat {
			return f, true
		}
		return float64(n), true
	}
	return 0, false
}

// compareValues orders two values of the same kind. ok is false when they are
// not comparable.
func compareValues(a, b any) (int, bool) {
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		if !ok {
			return 0, false
		}
		switch {
		case fa < fb:
			return -1, true
		case fa > fb:
			return 1, true
		}
		return 0, true
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(av, bv), true
	case time.Time:
		bv, ok := b.(time.Time)
		if !ok {
			return 0, false
		}
		return av.Compare(bv), true
	case bool:
		bv, ok := b.(bool)
		if !ok {
			return 0, false
		}
		if av == bv {
			return 0, true
		}
		if !av {
			return -1, true
		}
		return 1, true
	}
	return 0, false
}

func equalValues(a, b any) bool {
	if c, ok := compareValues(a, b); ok {
		return c == 0
	}
	return reflect.DeepEqual(a, b)
}

func matches(f Fields, preds []Predicate) bool {
	for _, p := range preds {
		v, present := f[p.Field]
		switch p.Op {
		case OpEq:
			if !present || !equalValues(v, p.Value) {
				return false
			}
		case OpNe:
			if present && equalValues(v, p.Value) {
				return false
			}
		case OpLt:
			if !present {
				return false
			}
			c, ok := compareValues(v, p.Value)
			if !ok || c >= 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func copyFields(f Fields) Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		switch vv := v.(type) {
		case []string:
			out[k] = append([]string(nil), vv...)
		case []any:
			out[k] = append([]any(nil), vv...)
		default:
			out[k] = v
		}
	}
	return out
}

// afterCursor reports whether d comes strictly after c in the order given by
// field and desc, with the document id breaking ties.
func afterCursor(d Document, field string, desc bool, c Cursor) bool {
	cmp, ok := compareValues(d.Fields[field], c.Value)
	if !ok || cmp == 0 {
		cmp = strings.Compare(d.ID, c.ID)
	}
	if desc {
		return cmp < 0
	}
	return cmp > 0
}

func sortDocs(docs []Document, field string, desc bool) {
	sort.SliceStable(docs, func(i, j int) bool {
		c, ok := compareValues(docs[i].Fields[field], docs[j].Fields[field])
		if !ok || c == 0 {
			c = strings.Compare(docs[i].ID, docs[j].ID)
		}
		if desc {
			return c > 0
		}
		return c < 0
	})
}
