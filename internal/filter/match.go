package filter

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// matcher evaluates a query against a whole document.
type matcher interface {
	match(doc any) bool
}

type allOf []matcher

func (m allOf) match(doc any) bool {
	for _, sub := range m {
		if !sub.match(doc) {
			return false
		}
	}
	return true
}

type anyOf []matcher

func (m anyOf) match(doc any) bool {
	for _, sub := range m {
		if sub.match(doc) {
			return true
		}
	}
	return false
}

type noneOf []matcher

func (m noneOf) match(doc any) bool {
	return !anyOf(m).match(doc)
}

type notMatcher struct{ m matcher }

func (n notMatcher) match(doc any) bool { return !n.m.match(doc) }

type fieldMatcher struct {
	path []string
	cond condition
}

func (f fieldMatcher) match(doc any) bool {
	values, found := lookup(doc, f.path)
	return f.cond.test(values, found)
}

// condition evaluates against the values a field path resolved to.
// found is false when the path exists nowhere in the document.
type condition interface {
	test(values []any, found bool) bool
}

type allConditions []condition

func (c allConditions) test(values []any, found bool) bool {
	for _, sub := range c {
		if !sub.test(values, found) {
			return false
		}
	}
	return true
}

type notCondition struct{ c condition }

func (n notCondition) test(values []any, found bool) bool { return !n.c.test(values, found) }

type eqCondition struct{ operand any }

func (c eqCondition) test(values []any, found bool) bool {
	if !found {
		return c.operand == nil
	}
	return anyExpanded(values, func(v any) bool { return equal(v, c.operand) })
}

type cmpCondition struct {
	op      string
	operand any
}

func (c cmpCondition) test(values []any, _ bool) bool {
	return anyExpanded(values, func(v any) bool {
		n, ok := compare(v, c.operand)
		if !ok {
			return false
		}
		switch c.op {
		case OpGt:
			return n > 0
		case OpGte:
			return n >= 0
		case OpLt:
			return n < 0
		default:
			return n <= 0
		}
	})
}

type inCondition struct{ operands []any }

func (c inCondition) test(values []any, found bool) bool {
	if !found {
		for _, o := range c.operands {
			if o == nil {
				return true
			}
		}
		return false
	}
	return anyExpanded(values, func(v any) bool {
		for _, o := range c.operands {
			if equal(v, o) {
				return true
			}
		}
		return false
	})
}

type allCondition struct{ operands []any }

func (c allCondition) test(values []any, _ bool) bool {
	if len(c.operands) == 0 {
		return false
	}
	for _, v := range values {
		arr, isArr := v.([]any)
		if !isArr {
			arr = []any{v}
		}
		if containsAll(arr, c.operands) {
			return true
		}
	}
	return false
}

func containsAll(arr, want []any) bool {
	for _, w := range want {
		found := false
		for _, a := range arr {
			if equal(a, w) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

type existsCondition struct{ want bool }

func (c existsCondition) test(_ []any, found bool) bool { return found == c.want }

type modCondition struct {
	divisor   int64
	remainder int64
}

func (c modCondition) test(values []any, _ bool) bool {
	return anyExpanded(values, func(v any) bool {
		f, ok := toFloat(v)
		if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
		return int64(math.Trunc(f))%c.divisor == c.remainder
	})
}

type regexCondition struct{ re *regexp.Regexp }

func (c regexCondition) test(values []any, _ bool) bool {
	return anyExpanded(values, func(v any) bool {
		s, ok := v.(string)
		return ok && c.re.MatchString(s)
	})
}

type valueKind int

const (
	kindString valueKind = iota
	kindNumber
	kindBool
	kindObject
	kindArray
	kindNull
)

var typeNames = map[string]valueKind{
	"string":  kindString,
	"number":  kindNumber,
	"double":  kindNumber,
	"int":     kindNumber,
	"bool":    kindBool,
	"boolean": kindBool,
	"object":  kindObject,
	"array":   kindArray,
	"null":    kindNull,
}

func kindOf(v any) (valueKind, bool) {
	if _, ok := toFloat(v); ok {
		return kindNumber, true
	}
	switch v.(type) {
	case string:
		return kindString, true
	case bool:
		return kindBool, true
	case map[string]any:
		return kindObject, true
	case []any:
		return kindArray, true
	case nil:
		return kindNull, true
	}
	return 0, false
}

type typeCondition struct{ kind valueKind }

func (c typeCondition) test(values []any, _ bool) bool {
	is := func(v any) bool {
		k, ok := kindOf(v)
		return ok && k == c.kind
	}
	if c.kind == kindArray {
		for _, v := range values {
			if is(v) {
				return true
			}
		}
		return false
	}
	// Elements of an array field count too.
	return anyExpanded(values, is)
}

// elemMatchCondition requires an array element satisfying either a
// document query or a set of operators applied to the element itself.
type elemMatchCondition struct {
	query matcher
	value condition
}

func (c elemMatchCondition) test(values []any, _ bool) bool {
	for _, v := range values {
		arr, ok := v.([]any)
		if !ok {
			continue
		}
		for _, elem := range arr {
			if c.query != nil {
				if _, isObj := elem.(map[string]any); isObj && c.query.match(elem) {
					return true
				}
				continue
			}
			if c.value.test([]any{elem}, true) {
				return true
			}
		}
	}
	return false
}

// anyExpanded applies fn to every value and, for array values, to each element.
func anyExpanded(values []any, fn func(any) bool) bool {
	for _, v := range values {
		if fn(v) {
			return true
		}
		if arr, ok := v.([]any); ok {
			for _, elem := range arr {
				if fn(elem) {
					return true
				}
			}
		}
	}
	return false
}

// lookup resolves a dotted path. Arrays on the way are traversed
// element-wise unless the next segment is a valid index.
func lookup(doc any, path []string) ([]any, bool) {
	if len(path) == 0 {
		return []any{doc}, true
	}
	switch v := doc.(type) {
	case map[string]any:
		child, ok := v[path[0]]
		if !ok {
			return nil, false
		}
		return lookup(child, path[1:])
	case []any:
		if i, err := strconv.Atoi(path[0]); err == nil && i >= 0 {
			if i < len(v) {
				return lookup(v[i], path[1:])
			}
			return nil, false
		}
		var out []any
		found := false
		for _, elem := range v {
			switch elem.(type) {
			case map[string]any, []any:
				vals, ok := lookup(elem, path)
				if ok {
					found = true
					out = append(out, vals...)
				}
			}
		}
		return out, found
	}
	return nil, false
}

// normalize converts numbers to float64 so JSON-decoded documents and
// programmatically built filters compare equal.
func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = normalize(e)
		}
		return out
	case []any:
		return normalizeList(t)
	}
	if f, ok := toFloat(v); ok {
		return f
	}
	return v
}

func normalizeList(list []any) []any {
	out := make([]any, len(list))
	for i, e := range list {
		out[i] = normalize(e)
	}
	return out
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func equal(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		return ok && fa == fb
	}
	switch x := a.(type) {
	case nil:
		return b == nil
	case string:
		y, ok := b.(string)
		return ok && x == y
	case bool:
		y, ok := b.(bool)
		return ok && x == y
	case []any:
		y, ok := b.([]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !equal(x[i], y[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		y, ok := b.(map[string]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for k, xv := range x {
			yv, ok := y[k]
			if !ok || !equal(xv, yv) {
				return false
			}
		}
		return true
	}
	return false
}

// compare orders two values of the same kind. Only numbers and strings
// are ordered.
func compare(a, b any) (int, bool) {
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
	sa, ok := a.(string)
	if !ok {
		return 0, false
	}
	sb, ok := b.(string)
	if !ok {
		return 0, false
	}
	return strings.Compare(sa, sb), true
}
