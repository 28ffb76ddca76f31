// ABOUTME: Recursive descent parser for compound filter expressions.
// ABOUTME: not binds tighter than and/or, which share one left-associative level.

package filter

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalidExpression is matched by every compound expression syntax error.
var ErrInvalidExpression = errors.New("invalid compound expression")

// SyntaxError reports a malformed expression and the inclusive character
// range at fault.
type SyntaxError struct {
	Start  int
	End    int
	Reason string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("%s at %d-%d: %s", ErrInvalidExpression, e.Start, e.End, e.Reason)
}

func (e *SyntaxError) Unwrap() error { return ErrInvalidExpression }

// Expression is a parsed compound expression. It is immutable and safe for
// concurrent evaluation.
type Expression struct {
	source string
	root   expr
}

// Parse builds an Expression from source.
func Parse(source string) (*Expression, error) {
	p := &parser{tokens: Tokens(source), source: source}
	if len(p.tokens) == 0 {
		return nil, &SyntaxError{Start: 0, End: 0, Reason: "empty expression"}
	}

	root, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if tok, ok := p.peek(); ok {
		if tok.Kind == RParen {
			return nil, &SyntaxError{Start: tok.Start, End: tok.End, Reason: "unbalanced parenthesis"}
		}
		return nil, &SyntaxError{Start: tok.Start, End: tok.End, Reason: fmt.Sprintf("unexpected %s", tok.Kind)}
	}
	return &Expression{source: source, root: root}, nil
}

// MustParse is like Parse but panics on error. Intended for tests and
// package-level expressions.
func MustParse(source string) *Expression {
	e, err := Parse(source)
	if err != nil {
		panic(err)
	}
	return e
}

// String returns the source text.
func (e *Expression) String() string { return e.source }

// Functions lists the data functions called by the expression, once per
// call site, in source order.
func (e *Expression) Functions() []string {
	var names []string
	walk(e.root, func(n expr) {
		if c, ok := n.(*callExpr); ok {
			names = append(names, c.name)
		}
	})
	return names
}

// MarshalJSON encodes the expression as its source string.
func (e *Expression) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.source)
}

// UnmarshalJSON parses a source string.
func (e *Expression) UnmarshalJSON(data []byte) error {
	var src string
	if err := json.Unmarshal(data, &src); err != nil {
		return err
	}
	parsed, err := Parse(src)
	if err != nil {
		return err
	}
	*e = *parsed
	return nil
}

type parser struct {
	tokens []Token
	pos    int
	source string
}

func (p *parser) peek() (Token, bool) {
	if p.pos >= len(p.tokens) {
		return Token{}, false
	}
	return p.tokens[p.pos], true
}

func (p *parser) next() (Token, bool) {
	tok, ok := p.peek()
	if ok {
		p.pos++
	}
	return tok, ok
}

func (p *parser) eofError(reason string) error {
	end := len(p.source) - 1
	if end < 0 {
		end = 0
	}
	return &SyntaxError{Start: end, End: end, Reason: reason}
}

// expr := unary { (and | or) unary }
func (p *parser) parseExpr() (expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		tok, ok := p.peek()
		if !ok || (tok.Kind != And && tok.Kind != Or) {
			return left, nil
		}
		p.pos++
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &binaryExpr{and: tok.Kind == And, left: left, right: right}
	}
}

// unary := not unary | primary
func (p *parser) parseUnary() (expr, error) {
	tok, ok := p.peek()
	if ok && tok.Kind == Not {
		p.pos++
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &notExpr{operand: operand}, nil
	}
	return p.parsePrimary()
}

// primary := ( expr ) | statement | fstatement
func (p *parser) parsePrimary() (expr, error) {
	tok, ok := p.next()
	if !ok {
		return nil, p.eofError("expected a statement")
	}

	switch tok.Kind {
	case LParen:
		inner, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		closing, ok := p.next()
		if !ok {
			return nil, &SyntaxError{Start: tok.Start, End: tok.End, Reason: "unbalanced parenthesis"}
		}
		if closing.Kind != RParen {
			return nil, &SyntaxError{Start: closing.Start, End: closing.End, Reason: fmt.Sprintf("unexpected %s", closing.Kind)}
		}
		return inner, nil
	case Statement:
		return newStatement(tok)
	case FStatement:
		return newCall(tok)
	case BadToken:
		return nil, &SyntaxError{Start: tok.Start, End: tok.End, Reason: fmt.Sprintf("malformed statement %q", tok.Text)}
	case RParen:
		return nil, &SyntaxError{Start: tok.Start, End: tok.End, Reason: "unbalanced parenthesis"}
	default:
		return nil, &SyntaxError{Start: tok.Start, End: tok.End, Reason: fmt.Sprintf("unexpected %s", tok.Kind)}
	}
}

// newStatement builds a fact comparison, or a class test when the text has
// no comparison operator.
func newStatement(tok Token) (expr, error) {
	if _, _, _, ok := splitComparison(tok.Text); ok && !isRegexLiteral(tok.Text) {
		f, err := ParseFact(tok.Text)
		if err != nil {
			return nil, &SyntaxError{Start: tok.Start, End: tok.End, Reason: err.Error()}
		}
		return &factExpr{fact: f}, nil
	}
	if isRegexLiteral(tok.Text) {
		if _, err := compilePattern(tok.Text); err != nil {
			return nil, &SyntaxError{Start: tok.Start, End: tok.End, Reason: err.Error()}
		}
	}
	return &classExpr{class: tok.Text}, nil
}

var (
	callParts = regexp.MustCompile(`^([^()\s]+)\((.*)\)(?:\.([a-zA-Z0-9_]+))?(?:(!=|<=|>=|=~|==|=|>|<)(.+))?$`)
	callArgs  = regexp.MustCompile(`'([^']*)'|"([^"]*)"`)
)

func newCall(tok Token) (expr, error) {
	m := callParts.FindStringSubmatch(tok.Text)
	if m == nil {
		return nil, &SyntaxError{Start: tok.Start, End: tok.End, Reason: fmt.Sprintf("malformed function call %q", tok.Text)}
	}

	c := &callExpr{name: m[1], attribute: m[3], value: m[5]}
	for _, arg := range callArgs.FindAllStringSubmatch(m[2], -1) {
		if strings.HasPrefix(arg[0], "'") {
			c.args = append(c.args, arg[1])
		} else {
			c.args = append(c.args, arg[2])
		}
	}
	if m[4] != "" {
		c.op = m[4]
		if alias, ok := operatorAliases[c.op]; ok {
			c.op = alias
		}
		if c.op == OpEqual && isRegexLiteral(c.value) {
			c.op = OpMatch
		}
	}
	return c, nil
}
