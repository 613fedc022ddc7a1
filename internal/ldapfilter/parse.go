package ldapfilter

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidFilter is wrapped by every compile error.
var ErrInvalidFilter = errors.New("invalid filter")

// Compile parses a filter string.
func Compile(s string) (Filter, error) {
	p := &parser{src: s}
	p.skipSpace()
	f, err := p.filter()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if !p.eof() {
		return nil, p.errorf("unexpected trailing input %q", p.src[p.pos:])
	}
	return f, nil
}

type parser struct {
	src string
	pos int
}

func (p *parser) errorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s at offset %d in %q", ErrInvalidFilter, fmt.Sprintf(format, args...), p.pos, p.src)
}

func (p *parser) eof() bool {
	return p.pos >= len(p.src)
}

func (p *parser) peek() byte {
	if p.eof() {
		return 0
	}
	return p.src[p.pos]
}

func (p *parser) skipSpace() {
	for !p.eof() && (p.src[p.pos] == ' ' || p.src[p.pos] == '\t' || p.src[p.pos] == '\n') {
		p.pos++
	}
}

func (p *parser) expect(c byte) error {
	if p.peek() != c {
		if p.eof() {
			return p.errorf("expected %q, got end of input", c)
		}
		return p.errorf("expected %q, got %q", c, p.peek())
	}
	p.pos++
	return nil
}

// filter = "(" ( "&" list | "|" list | "!" filter | item ) ")"
func (p *parser) filter() (Filter, error) {
	if err := p.expect('('); err != nil {
		return nil, err
	}
	p.skipSpace()

	var (
		f   Filter
		err error
	)
	switch p.peek() {
	case '&':
		p.pos++
		var list []Filter
		list, err = p.list()
		f = andFilter(list)
	case '|':
		p.pos++
		var list []Filter
		list, err = p.list()
		f = orFilter(list)
	case '!':
		p.pos++
		p.skipSpace()
		var inner Filter
		inner, err = p.filter()
		f = notFilter{inner: inner}
	default:
		f, err = p.item()
	}
	if err != nil {
		return nil, err
	}

	p.skipSpace()
	if err := p.expect(')'); err != nil {
		return nil, err
	}
	return f, nil
}

func (p *parser) list() ([]Filter, error) {
	var filters []Filter
	for {
		p.skipSpace()
		if p.peek() != '(' {
			break
		}
		f, err := p.filter()
		if err != nil {
			return nil, err
		}
		filters = append(filters, f)
	}
	if len(filters) == 0 {
		return nil, p.errorf("empty filter list")
	}
	return filters, nil
}

func (p *parser) item() (Filter, error) {
	start := p.pos
	for !p.eof() && !strings.ContainsRune("=<>~()", rune(p.peek())) {
		p.pos++
	}
	attr := strings.TrimSpace(p.src[start:p.pos])
	if attr == "" {
		return nil, p.errorf("missing attribute name")
	}

	var op operator
	switch p.peek() {
	case '=':
		p.pos++
		op = opEqual
	case '>', '<', '~':
		c := p.peek()
		p.pos++
		if err := p.expect('='); err != nil {
			return nil, err
		}
		switch c {
		case '>':
			op = opGreaterEq
		case '<':
			op = opLessEq
		default:
			op = opApprox
		}
	default:
		return nil, p.errorf("expected operator after %q", attr)
	}

	parts, err := p.value()
	if err != nil {
		return nil, err
	}

	if op != opEqual {
		if len(parts) > 1 {
			return nil, p.errorf("wildcard not allowed with this operator")
		}
		return itemFilter{attr: attr, op: op, value: parts[0]}, nil
	}

	switch {
	case len(parts) == 1:
		return itemFilter{attr: attr, op: opEqual, value: parts[0]}, nil
	case len(parts) == 2 && parts[0] == "" && parts[1] == "":
		return itemFilter{attr: attr, op: opPresent}, nil
	default:
		return itemFilter{attr: attr, op: opSubstring, parts: parts}, nil
	}
}

// value reads up to the closing paren, splitting on unescaped '*'.
func (p *parser) value() ([]string, error) {
	var (
		parts []string
		cur   strings.Builder
	)
	for {
		if p.eof() {
			return nil, p.errorf("unterminated value")
		}
		c := p.peek()
		switch c {
		case ')':
			return append(parts, cur.String()), nil
		case '(':
			return nil, p.errorf("unescaped '(' in value")
		case '*':
			parts = append(parts, cur.String())
			cur.Reset()
			p.pos++
		case '\\':
			p.pos++
			if p.eof() {
				return nil, p.errorf("dangling escape")
			}
			cur.WriteByte(p.peek())
			p.pos++
		default:
			cur.WriteByte(c)
			p.pos++
		}
	}
}
