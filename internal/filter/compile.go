package filter

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
)

// Operators.
const (
	OpEq        = "_eq"
	OpNe        = "_ne"
	OpGt        = "_gt"
	OpGte       = "_gte"
	OpLt        = "_lt"
	OpLte       = "_lte"
	OpIn        = "_in"
	OpNin       = "_nin"
	OpAll       = "_all"
	OpExists    = "_exists"
	OpMod       = "_mod"
	OpAnd       = "_and"
	OpOr        = "_or"
	OpNor       = "_nor"
	OpNot       = "_not"
	OpRegex     = "_regex"
	OpOptions   = "_options"
	OpType      = "_type"
	OpElemMatch = "_elemMatch"
	OpWhere     = "_where"
)

const opPrefix = "_"

// InitializeKey marks the synthetic payload delivered when a subscription
// asks to be initialized. It passes every predicate.
const InitializeKey = "__initialize"

// Predicate is a compiled filter. It is immutable and safe for concurrent use.
type Predicate struct {
	root      matcher
	rejectAll bool
}

// Match reports whether doc satisfies the predicate.
func (p *Predicate) Match(doc any) bool {
	if IsInitialize(doc) {
		return true
	}
	if p == nil {
		return true
	}
	if p.rejectAll {
		return false
	}
	if p.root == nil {
		return true
	}
	return p.root.match(doc)
}

// MatchAll returns a predicate that accepts every document.
func MatchAll() *Predicate { return &Predicate{} }

// RejectAll returns a predicate that accepts only the initialize payload.
// It stands in for a filter that failed to compile.
func RejectAll() *Predicate { return &Predicate{rejectAll: true} }

// IsInitialize reports whether doc is the initialize payload.
func IsInitialize(doc any) bool {
	m, ok := doc.(map[string]any)
	if !ok {
		return false
	}
	v, ok := m[InitializeKey].(bool)
	return ok && v
}

// CompileJSON decodes raw and compiles it. Empty input and JSON null
// compile to a predicate that matches everything.
func CompileJSON(raw []byte) (*Predicate, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return MatchAll(), nil
	}
	var query any
	if err := json.Unmarshal(raw, &query); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidFilter, err)
	}
	obj, ok := query.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: filter must be an object", ErrInvalidFilter)
	}
	return Compile(obj)
}

// Compile builds a Predicate from a decoded filter object.
func Compile(query map[string]any) (*Predicate, error) {
	if len(query) == 0 {
		return MatchAll(), nil
	}
	root, err := compileQuery(query)
	if err != nil {
		return nil, err
	}
	return &Predicate{root: root}, nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidFilter, fmt.Sprintf(format, args...))
}

// compileQuery compiles a document-level query: an implicit AND of field
// conditions, logical operators and value operators applied to the whole
// document, so {"_eq": "active"} matches the payload "active".
func compileQuery(query map[string]any) (matcher, error) {
	keys := sortedKeys(query)
	parts := make(allOf, 0, len(keys))
	var valueOps map[string]any

	for _, key := range keys {
		value := query[key]
		if strings.HasPrefix(key, opPrefix) && key != InitializeKey {
			if !isLogical(key) {
				if valueOps == nil {
					valueOps = make(map[string]any)
				}
				valueOps[key] = value
				continue
			}
			m, err := compileLogical(key, value)
			if err != nil {
				return nil, err
			}
			parts = append(parts, m)
			continue
		}
		cond, err := compileCondition(value)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", key, err)
		}
		parts = append(parts, fieldMatcher{path: strings.Split(key, "."), cond: cond})
	}

	if valueOps != nil {
		cond, err := compileOperators(valueOps)
		if err != nil {
			return nil, err
		}
		parts = append(parts, fieldMatcher{cond: cond})
	}

	if len(parts) == 1 {
		return parts[0], nil
	}
	return parts, nil
}

func isLogical(op string) bool {
	switch op {
	case OpAnd, OpOr, OpNor, OpNot, OpWhere:
		return true
	}
	return false
}

func compileLogical(op string, value any) (matcher, error) {
	switch op {
	case OpAnd, OpOr, OpNor:
		list, ok := value.([]any)
		if !ok || len(list) == 0 {
			return nil, invalid("%s expects a non-empty array", op)
		}
		subs := make([]matcher, 0, len(list))
		for i, item := range list {
			obj, ok := item.(map[string]any)
			if !ok {
				return nil, invalid("%s[%d] must be an object", op, i)
			}
			m, err := compileQuery(obj)
			if err != nil {
				return nil, err
			}
			subs = append(subs, m)
		}
		switch op {
		case OpAnd:
			return allOf(subs), nil
		case OpOr:
			return anyOf(subs), nil
		default:
			return noneOf(subs), nil
		}
	case OpNot:
		obj, ok := value.(map[string]any)
		if !ok {
			return nil, invalid("%s expects an object", op)
		}
		m, err := compileQuery(obj)
		if err != nil {
			return nil, err
		}
		return notMatcher{m}, nil
	case OpWhere:
		return nil, fmt.Errorf("%w: %s is not supported", ErrUnknownOperator, op)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownOperator, op)
	}
}

// isOperatorObject reports whether v is an object whose keys are all
// operators. Objects mixing operators and plain keys are rejected.
func isOperatorObject(v any) (map[string]any, bool, error) {
	obj, ok := v.(map[string]any)
	if !ok || len(obj) == 0 {
		return nil, false, nil
	}
	ops := 0
	for k := range obj {
		if strings.HasPrefix(k, opPrefix) {
			ops++
		}
	}
	switch ops {
	case 0:
		return nil, false, nil
	case len(obj):
		return obj, true, nil
	default:
		return nil, false, invalid("object mixes operators and fields")
	}
}

// compileCondition compiles the value side of a field key.
func compileCondition(value any) (condition, error) {
	ops, isOps, err := isOperatorObject(value)
	if err != nil {
		return nil, err
	}
	if !isOps {
		return eqCondition{operand: normalize(value)}, nil
	}
	return compileOperators(ops)
}

func compileOperators(ops map[string]any) (condition, error) {
	if _, ok := ops[OpOptions]; ok {
		if _, ok := ops[OpRegex]; !ok {
			return nil, invalid("%s requires %s", OpOptions, OpRegex)
		}
	}

	conds := make(allConditions, 0, len(ops))
	for _, op := range sortedKeys(ops) {
		if op == OpOptions {
			continue
		}
		c, err := compileOperator(op, ops[op], ops)
		if err != nil {
			return nil, err
		}
		conds = append(conds, c)
	}
	if len(conds) == 1 {
		return conds[0], nil
	}
	return conds, nil
}

func compileOperator(op string, operand any, siblings map[string]any) (condition, error) {
	switch op {
	case OpEq:
		return eqCondition{operand: normalize(operand)}, nil
	case OpNe:
		return notCondition{eqCondition{operand: normalize(operand)}}, nil

	case OpGt, OpGte, OpLt, OpLte:
		n := normalize(operand)
		switch n.(type) {
		case float64, string:
		default:
			return nil, invalid("%s expects a number or string", op)
		}
		return cmpCondition{op: op, operand: n}, nil

	case OpIn, OpNin:
		list, ok := operand.([]any)
		if !ok {
			return nil, invalid("%s expects an array", op)
		}
		in := inCondition{operands: normalizeList(list)}
		if op == OpNin {
			return notCondition{in}, nil
		}
		return in, nil

	case OpAll:
		list, ok := operand.([]any)
		if !ok {
			return nil, invalid("%s expects an array", op)
		}
		return allCondition{operands: normalizeList(list)}, nil

	case OpExists:
		b, ok := operand.(bool)
		if !ok {
			return nil, invalid("%s expects a boolean", op)
		}
		return existsCondition{want: b}, nil

	case OpMod:
		list, ok := operand.([]any)
		if !ok || len(list) != 2 {
			return nil, invalid("%s expects [divisor, remainder]", op)
		}
		d, ok1 := toFloat(list[0])
		r, ok2 := toFloat(list[1])
		if !ok1 || !ok2 {
			return nil, invalid("%s expects numbers", op)
		}
		div, rem := math.Trunc(d), math.Trunc(r)
		if div == 0 {
			return nil, invalid("%s divisor must not be zero", op)
		}
		return modCondition{divisor: int64(div), remainder: int64(rem)}, nil

	case OpRegex:
		pattern, ok := operand.(string)
		if !ok {
			return nil, invalid("%s expects a string", op)
		}
		flags := ""
		if raw, ok := siblings[OpOptions]; ok {
			opts, ok := raw.(string)
			if !ok {
				return nil, invalid("%s expects a string", OpOptions)
			}
			for _, f := range opts {
				switch f {
				case 'i', 'm', 's':
					if !strings.ContainsRune(flags, f) {
						flags += string(f)
					}
				default:
					return nil, invalid("%s: unsupported flag %q", OpOptions, f)
				}
			}
		}
		if flags != "" {
			pattern = "(?" + flags + ")" + pattern
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrInvalidFilter, op, err)
		}
		return regexCondition{re: re}, nil

	case OpType:
		name, ok := operand.(string)
		if !ok {
			return nil, invalid("%s expects a type name", op)
		}
		kind, ok := typeNames[strings.ToLower(name)]
		if !ok {
			return nil, invalid("%s: unknown type %q", op, name)
		}
		return typeCondition{kind: kind}, nil

	case OpElemMatch:
		obj, ok := operand.(map[string]any)
		if !ok || len(obj) == 0 {
			return nil, invalid("%s expects a non-empty object", op)
		}
		if ops, isOps, err := isOperatorObject(obj); err != nil {
			return nil, err
		} else if isOps {
			c, err := compileOperators(ops)
			if err != nil {
				return nil, err
			}
			return elemMatchCondition{value: c}, nil
		}
		q, err := compileQuery(obj)
		if err != nil {
			return nil, err
		}
		return elemMatchCondition{query: q}, nil

	case OpNot:
		switch v := operand.(type) {
		case map[string]any:
			ops, isOps, err := isOperatorObject(v)
			if err != nil {
				return nil, err
			}
			if !isOps {
				return nil, invalid("%s expects an operator object", op)
			}
			c, err := compileOperators(ops)
			if err != nil {
				return nil, err
			}
			return notCondition{c}, nil
		case string:
			re, err := regexp.Compile(v)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %w", ErrInvalidFilter, op, err)
			}
			return notCondition{regexCondition{re: re}}, nil
		default:
			return nil, invalid("%s expects an operator object or pattern", op)
		}

	case OpAnd, OpOr, OpNor:
		return nil, invalid("%s is only valid at query level", op)

	case OpWhere:
		return nil, fmt.Errorf("%w: %s is not supported", ErrUnknownOperator, op)
	}

	return nil, fmt.Errorf("%w: %s", ErrUnknownOperator, op)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
