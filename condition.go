package agentflow

import (
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"
)

// comparisonOperators are tried in this order so that two-character
// operators win over their one-character prefixes.
var comparisonOperators = []string{"==", "!=", ">=", "<=", ">", "<"}

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.\-]*$`)

// EvaluateCondition evaluates a restricted comparison expression against vars.
//
// The grammar is closed on purpose: an empty expression, a single comparison
// "<left> <op> <right>", or a bare variable name. There is no boolean
// composition and no function calls. Any parse or evaluation failure yields
// false, so a broken condition never takes the true branch.
func EvaluateCondition(expression string, vars map[string]any) (result bool) {
	defer func() {
		if r := recover(); r != nil {
			result = false
		}
	}()

	expr := strings.TrimSpace(expression)
	if expr == "" {
		return true
	}

	for _, op := range comparisonOperators {
		if !strings.Contains(expr, op) {
			continue
		}
		parts := strings.SplitN(expr, op, 2)
		return compare(strings.TrimSpace(parts[0]), op, strings.TrimSpace(parts[1]), vars)
	}

	if !identifierPattern.MatchString(expr) {
		return false
	}
	value, ok := vars[expr]
	if !ok {
		return false
	}
	return truthy(value)
}

func compare(left, op, right string, vars map[string]any) bool {
	if left == "" {
		return false
	}

	leftValue := left
	if v, ok := vars[left]; ok {
		leftValue = stringify(v)
	}
	right = stripQuotes(right)

	if rightNum, err := strconv.ParseFloat(right, 64); err == nil {
		leftNum, err := strconv.ParseFloat(strings.TrimSpace(leftValue), 64)
		if err != nil {
			return false
		}
		switch op {
		case "==":
			return leftNum == rightNum
		case "!=":
			return leftNum != rightNum
		case ">=":
			return leftNum >= rightNum
		case "<=":
			return leftNum <= rightNum
		case ">":
			return leftNum > rightNum
		case "<":
			return leftNum < rightNum
		}
		return false
	}

	switch op {
	case "==":
		return leftValue == right
	case "!=":
		return leftValue != right
	case ">=":
		return leftValue >= right
	case "<=":
		return leftValue <= right
	case ">":
		return leftValue > right
	case "<":
		return leftValue < right
	}
	return false
}

func stripQuotes(s string) string {
	return strings.Trim(s, `"'`)
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	default:
		return fmt.Sprint(v)
	}
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case int:
		return t != 0
	case int64:
		return t != 0
	case float64:
		return t != 0
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array, reflect.String:
		return rv.Len() > 0
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int() != 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint() != 0
	case reflect.Float32, reflect.Float64:
		return rv.Float() != 0
	case reflect.Pointer, reflect.Interface:
		return !rv.IsNil()
	}
	return true
}
