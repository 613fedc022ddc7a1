package ldapfilter

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

func matchValue(f itemFilter, v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case string:
		return matchString(f, val)
	case bool:
		if f.op != opEqual && f.op != opApprox {
			return false
		}
		b, err := strconv.ParseBool(strings.TrimSpace(f.value))
		return err == nil && b == val
	case []string:
		for _, s := range val {
			if matchString(f, s) {
				return true
			}
		}
		return false
	case []any:
		for _, elem := range val {
			if matchValue(f, elem) {
				return true
			}
		}
		return false
	}

	if n, ok := toFloat(v); ok {
		return matchNumber(f, n)
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		for i := 0; i < rv.Len(); i++ {
			if matchValue(f, rv.Index(i).Interface()) {
				return true
			}
		}
		return false
	}

	return matchString(f, fmt.Sprint(v))
}

func matchString(f itemFilter, s string) bool {
	switch f.op {
	case opEqual:
		return s == f.value
	case opApprox:
		return normalizeApprox(s) == normalizeApprox(f.value)
	case opGreaterEq:
		return s >= f.value
	case opLessEq:
		return s <= f.value
	case opSubstring:
		return matchSubstring(f.parts, s)
	}
	return false
}

func matchNumber(f itemFilter, n float64) bool {
	if f.op == opSubstring {
		return matchSubstring(f.parts, strconv.FormatFloat(n, 'f', -1, 64))
	}
	want, err := strconv.ParseFloat(strings.TrimSpace(f.value), 64)
	if err != nil {
		return false
	}
	switch f.op {
	case opEqual, opApprox:
		return n == want
	case opGreaterEq:
		return n >= want
	case opLessEq:
		return n <= want
	}
	return false
}

func matchSubstring(parts []string, s string) bool {
	first, last := parts[0], parts[len(parts)-1]
	if !strings.HasPrefix(s, first) {
		return false
	}
	s = s[len(first):]
	for _, mid := range parts[1 : len(parts)-1] {
		idx := strings.Index(s, mid)
		if idx < 0 {
			return false
		}
		s = s[idx+len(mid):]
	}
	return strings.HasSuffix(s, last)
}

func normalizeApprox(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), ""))
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
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
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
