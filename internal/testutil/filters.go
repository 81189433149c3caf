package testutil

import (
	"encoding/json"
	"net/url"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

// matchKey runs a key-filter list against key.
func matchKey(filters []any, key string) (bool, error) {
	_, ok, err := runFilters(filters, key)
	return ok, err
}

// runFilters applies each [op, args...] tuple in order. Transforms rewrite
// the value seen by later tuples; tests reject it.
func runFilters(filters []any, v any) (any, bool, error) {
	for _, f := range filters {
		tuple, ok := f.([]any)
		if !ok || len(tuple) == 0 {
			return nil, false, failf("key filter %v is not a tuple", f)
		}
		op, ok := tuple[0].(string)
		if !ok {
			return nil, false, failf("key filter %v has no operator", f)
		}
		args := tuple[1:]

		var pass bool
		var err error
		v, pass, err = applyFilter(op, args, v)
		if err != nil {
			return nil, false, err
		}
		if !pass {
			return v, false, nil
		}
	}
	return v, true, nil
}

func subFilters(args []any, n int) ([][]any, error) {
	if len(args) != n {
		return nil, failf("logical filter needs %d filter lists", n)
	}
	out := make([][]any, 0, n)
	for _, a := range args {
		list, ok := a.([]any)
		if !ok {
			return nil, failf("logical filter operand %v is not a list", a)
		}
		out = append(out, list)
	}
	return out, nil
}

func applyFilter(op string, args []any, v any) (any, bool, error) {
	switch op {
	case "and", "or":
		lists, err := subFilters(args, 2)
		if err != nil {
			return nil, false, err
		}
		_, left, err := runFilters(lists[0], v)
		if err != nil {
			return nil, false, err
		}
		_, right, err := runFilters(lists[1], v)
		if err != nil {
			return nil, false, err
		}
		if op == "and" {
			return v, left && right, nil
		}
		return v, left || right, nil
	case "not":
		lists, err := subFilters(args, 1)
		if err != nil {
			return nil, false, err
		}
		_, pass, err := runFilters(lists[0], v)
		return v, !pass, err

	case "int_to_string", "float_to_string":
		n, ok := v.(json.Number)
		if !ok {
			return v, false, nil
		}
		return n.String(), true, nil
	case "string_to_float":
		s, _ := v.(string)
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return v, false, nil
		}
		return json.Number(strconv.FormatFloat(f, 'g', -1, 64)), true, nil
	case "string_to_int":
		s, _ := v.(string)
		i, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return v, false, nil
		}
		return json.Number(strconv.FormatInt(i, 10)), true, nil
	case "to_upper":
		s, _ := v.(string)
		return strings.ToUpper(s), true, nil
	case "to_lower":
		s, _ := v.(string)
		return strings.ToLower(s), true, nil
	case "urldecode":
		s, _ := v.(string)
		un, err := url.QueryUnescape(s)
		if err != nil {
			return v, false, nil
		}
		return un, true, nil
	case "tokenize":
		if len(args) != 2 {
			return nil, false, failf("tokenize needs a separator and a position")
		}
		sep, _ := args[0].(string)
		n, err := toInt(args[1])
		if err != nil || n < 1 {
			return nil, false, failf("tokenize position must be a positive integer")
		}
		s, _ := v.(string)
		tokens := strings.Split(s, sep)
		if int(n) > len(tokens) {
			return "", true, nil
		}
		return tokens[n-1], true, nil

	case "eq", "neq", "greater_than", "less_than", "greater_than_eq", "less_than_eq":
		if len(args) != 1 {
			return nil, false, failf("%s needs one operand", op)
		}
		c, ok := compareValues(v, args[0])
		if !ok {
			return v, op == "neq", nil
		}
		switch op {
		case "eq":
			return v, c == 0, nil
		case "neq":
			return v, c != 0, nil
		case "greater_than":
			return v, c > 0, nil
		case "less_than":
			return v, c < 0, nil
		case "greater_than_eq":
			return v, c >= 0, nil
		default:
			return v, c <= 0, nil
		}
	case "between":
		if len(args) < 2 {
			return nil, false, failf("between needs two bounds")
		}
		lo, ok1 := compareValues(v, args[0])
		hi, ok2 := compareValues(v, args[1])
		return v, ok1 && ok2 && lo >= 0 && hi <= 0, nil
	case "matches":
		if len(args) != 1 {
			return nil, false, failf("matches needs a pattern")
		}
		pattern, _ := args[0].(string)
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, false, failf("matches: %v", err)
		}
		s, _ := v.(string)
		return v, re.MatchString(s), nil
	case "set_member":
		return v, slices.ContainsFunc(args, func(a any) bool {
			c, ok := compareValues(v, a)
			return ok && c == 0
		}), nil
	case "similar_to":
		if len(args) != 2 {
			return nil, false, failf("similar_to needs a string and a distance")
		}
		target, _ := args[0].(string)
		d, err := toInt(args[1])
		if err != nil {
			return nil, false, failf("similar_to distance must be an integer")
		}
		s, _ := v.(string)
		return v, levenshtein(s, target) <= int(d), nil
	case "starts_with", "ends_with":
		if len(args) != 1 {
			return nil, false, failf("%s needs one operand", op)
		}
		s, _ := v.(string)
		affix, _ := args[0].(string)
		if op == "starts_with" {
			return v, strings.HasPrefix(s, affix), nil
		}
		return v, strings.HasSuffix(s, affix), nil
	default:
		return nil, false, failf("unknown key filter %q", op)
	}
}

// compareValues orders two numbers numerically or two strings lexically.
// ok is false for mixed or unsupported types.
func compareValues(a, b any) (int, bool) {
	switch x := a.(type) {
	case string:
		y, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(x, y), true
	case json.Number:
		y, ok := b.(json.Number)
		if !ok {
			return 0, false
		}
		xf, err1 := x.Float64()
		yf, err2 := y.Float64()
		if err1 != nil || err2 != nil {
			return 0, false
		}
		switch {
		case xf < yf:
			return -1, true
		case xf > yf:
			return 1, true
		default:
			return 0, true
		}
	default:
		return 0, false
	}
}

func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	cur := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		cur[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(rb)]
}
