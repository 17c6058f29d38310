package policy

import (
	"strconv"
	"strings"
)

// Condition operators understood by the evaluator
const (
	CondStringEquals       = "StringEquals"
	CondStringNotEquals    = "StringNotEquals"
	CondStringLike         = "StringLike"
	CondStringNotLike      = "StringNotLike"
	CondBool               = "Bool"
	CondNumericLessThan    = "NumericLessThan"
	CondNumericLessEquals  = "NumericLessThanEquals"
	CondNumericGreaterThan = "NumericGreaterThan"
	CondNumericGreaterEq   = "NumericGreaterThanEquals"
)

const ifExistsSuffix = "IfExists"

// knownOperator reports whether op (without IfExists) is supported
func knownOperator(op string) bool {
	switch strings.TrimSuffix(op, ifExistsSuffix) {
	case CondStringEquals, CondStringNotEquals, CondStringLike, CondStringNotLike,
		CondBool, CondNumericLessThan, CondNumericLessEquals, CondNumericGreaterThan, CondNumericGreaterEq:
		return true
	}
	return false
}

// evaluate reports whether every condition block holds. All operators must
// match (AND); within one key any listed value may match (OR).
func (c Conditions) evaluate(ctx map[string]string) bool {
	for op, tests := range c {
		ifExists := strings.HasSuffix(op, ifExistsSuffix)
		base := strings.TrimSuffix(op, ifExistsSuffix)

		for key, values := range tests {
			actual, present := ctx[key]
			if !present {
				// Negated operators hold when the key is absent, as do IfExists variants
				if ifExists || base == CondStringNotEquals || base == CondStringNotLike {
					continue
				}
				return false
			}
			if !evalOperator(base, actual, values) {
				return false
			}
		}
	}
	return true
}

func evalOperator(op, actual string, values StringOrSlice) bool {
	switch op {
	case CondStringEquals:
		return anyValue(values, func(v string) bool { return v == actual })
	case CondStringNotEquals:
		return !anyValue(values, func(v string) bool { return v == actual })
	case CondStringLike:
		return anyValue(values, func(v string) bool { return wildcardMatch(v, actual) })
	case CondStringNotLike:
		return !anyValue(values, func(v string) bool { return wildcardMatch(v, actual) })
	case CondBool:
		return anyValue(values, func(v string) bool { return strings.EqualFold(v, actual) })
	case CondNumericLessThan, CondNumericLessEquals, CondNumericGreaterThan, CondNumericGreaterEq:
		n, err := strconv.ParseFloat(actual, 64)
		if err != nil {
			return false
		}
		return anyValue(values, func(v string) bool {
			limit, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return false
			}
			switch op {
			case CondNumericLessThan:
				return n < limit
			case CondNumericLessEquals:
				return n <= limit
			case CondNumericGreaterThan:
				return n > limit
			default:
				return n >= limit
			}
		})
	}
	return false
}

func anyValue(values StringOrSlice, fn func(string) bool) bool {
	for _, v := range values {
		if fn(v) {
			return true
		}
	}
	return false
}
