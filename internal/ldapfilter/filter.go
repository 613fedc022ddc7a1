// Package ldapfilter compiles and evaluates RFC 1960 filter strings against
// property maps, e.g. "(&(osgi.jaxrs.extension.name=*)(ext=logging))".
package ldapfilter

import (
	"fmt"
	"strings"
)

// Filter is a compiled filter expression.
type Filter interface {
	// Match reports whether the properties satisfy the filter. Attribute
	// names are matched case-insensitively.
	Match(props map[string]any) bool
	// String returns the normalized filter text.
	String() string
}

type operator int

const (
	opEqual operator = iota
	opPresent
	opSubstring
	opGreaterEq
	opLessEq
	opApprox
)

type andFilter []Filter

func (f andFilter) Match(props map[string]any) bool {
	for _, sub := range f {
		if !sub.Match(props) {
			return false
		}
	}
	return true
}

func (f andFilter) String() string {
	return composite('&', f)
}

type orFilter []Filter

func (f orFilter) Match(props map[string]any) bool {
	for _, sub := range f {
		if sub.Match(props) {
			return true
		}
	}
	return false
}

func (f orFilter) String() string {
	return composite('|', f)
}

type notFilter struct {
	inner Filter
}

func (f notFilter) Match(props map[string]any) bool {
	return !f.inner.Match(props)
}

func (f notFilter) String() string {
	return "(!" + f.inner.String() + ")"
}

type itemFilter struct {
	attr  string
	op    operator
	value string
	// parts holds the substring pieces split on unescaped '*'. The first and
	// last entries may be empty, meaning the value is unanchored on that side.
	parts []string
}

func (f itemFilter) Match(props map[string]any) bool {
	v, ok := lookup(props, f.attr)
	if !ok {
		return false
	}
	if f.op == opPresent {
		return true
	}
	return matchValue(f, v)
}

func (f itemFilter) String() string {
	var b strings.Builder
	b.WriteByte('(')
	b.WriteString(f.attr)
	switch f.op {
	case opPresent:
		b.WriteString("=*")
	case opSubstring:
		b.WriteByte('=')
		for i, part := range f.parts {
			if i > 0 {
				b.WriteByte('*')
			}
			b.WriteString(escape(part))
		}
	case opGreaterEq:
		b.WriteString(">=" + escape(f.value))
	case opLessEq:
		b.WriteString("<=" + escape(f.value))
	case opApprox:
		b.WriteString("~=" + escape(f.value))
	default:
		b.WriteString("=" + escape(f.value))
	}
	b.WriteByte(')')
	return b.String()
}

func composite(op byte, filters []Filter) string {
	var b strings.Builder
	b.WriteByte('(')
	b.WriteByte(op)
	for _, f := range filters {
		b.WriteString(f.String())
	}
	b.WriteByte(')')
	return b.String()
}

func lookup(props map[string]any, attr string) (any, bool) {
	if v, ok := props[attr]; ok {
		return v, true
	}
	for k, v := range props {
		if strings.EqualFold(k, attr) {
			return v, true
		}
	}
	return nil, false
}

func escape(s string) string {
	if !strings.ContainsAny(s, `()*\`) {
		return s
	}
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '(', ')', '*', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// MustCompile is like Compile but panics on a malformed filter. Intended for
// package-level constants.
func MustCompile(s string) Filter {
	f, err := Compile(s)
	if err != nil {
		panic(fmt.Sprintf("ldapfilter: %v", err))
	}
	return f
}
