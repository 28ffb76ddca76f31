// ABOUTME: Single-pass scanner for compound filter expressions.
// ABOUTME: Classifies statements, function statements and malformed input.

package filter

import (
	"regexp"
	"strings"
)

var (
	// a function call that never closed its argument list
	unterminatedCall = regexp.MustCompile(`^.+?\($`)
	// anything/ followed directly by a comparison operator
	slashBeforeOperator = regexp.MustCompile(`^.+?/(<|>|=).+`)
	// name('a','b').attr>=value
	callStatement = regexp.MustCompile(
		`^[^()\s]+\((\s*('[^']*'|"[^"]*")\s*(,\s*('[^']*'|"[^"]*")\s*)*)?\)(\.[a-zA-Z0-9_]+)?((!=|<=|>=|=~|==|=|>|<).+)?$`)
)

// Scanner splits a compound expression into tokens. It is not safe for
// concurrent use.
type Scanner struct {
	src string
	pos int
}

// NewScanner returns a scanner positioned at the start of src.
func NewScanner(src string) *Scanner {
	return &Scanner{src: src}
}

// Next returns the next token. The boolean is false once the input is
// exhausted.
func (s *Scanner) Next() (Token, bool) {
	s.skipSpace()
	if s.pos >= len(s.src) {
		return Token{}, false
	}

	start := s.pos
	switch c := s.src[s.pos]; c {
	case '(':
		s.pos++
		return Token{Kind: LParen, Text: "(", Start: start, End: start}, true
	case ')':
		s.pos++
		return Token{Kind: RParen, Text: ")", Start: start, End: start}, true
	case '!':
		if !strings.HasPrefix(s.src[s.pos:], "!=") {
			s.pos++
			return Token{Kind: Not, Text: "not", Start: start, End: start}, true
		}
	}

	for _, kw := range []struct {
		word string
		kind Kind
	}{{"and", And}, {"or", Or}, {"not", Not}} {
		if s.keywordAt(kw.word) {
			s.pos += len(kw.word)
			return Token{Kind: kw.kind, Text: kw.word, Start: start, End: s.pos - 1}, true
		}
	}

	return s.statement(), true
}

// Tokens scans all of src.
func Tokens(src string) []Token {
	s := NewScanner(src)
	var out []Token
	for {
		tok, ok := s.Next()
		if !ok {
			return out
		}
		out = append(out, tok)
	}
}

func (s *Scanner) skipSpace() {
	for s.pos < len(s.src) && isSpace(s.src[s.pos]) {
		s.pos++
	}
}

// keywordAt reports whether word starts at the cursor and is followed by a
// boundary: whitespace, an opening parenthesis or the end of input.
func (s *Scanner) keywordAt(word string) bool {
	if !strings.HasPrefix(s.src[s.pos:], word) {
		return false
	}
	next := s.pos + len(word)
	if next == len(s.src) {
		return true
	}
	c := s.src[next]
	return isSpace(c) || c == '('
}

func (s *Scanner) statement() Token {
	start := s.pos
	call := false

scan:
	for s.pos < len(s.src) {
		c := s.src[s.pos]
		switch {
		case isSpace(c) || c == ')':
			break scan
		case c == '/':
			s.pos++
			s.skipTo('/')
		case c == '(':
			call = true
			s.pos++
			s.skipArguments()
		default:
			s.pos++
		}
	}

	text := s.src[start:s.pos]
	tok := Token{Kind: Statement, Text: text, Start: start, End: s.pos - 1}
	switch {
	case call:
		if unterminatedCall.MatchString(text) || !callStatement.MatchString(text) {
			tok.Kind = BadToken
		} else {
			tok.Kind = FStatement
		}
	case slashBeforeOperator.MatchString(text), unescapedSlashes(text)%2 != 0:
		tok.Kind = BadToken
	}
	return tok
}

// skipTo advances past the next unescaped delim, or to the end of input.
func (s *Scanner) skipTo(delim byte) {
	for s.pos < len(s.src) {
		c := s.src[s.pos]
		s.pos++
		if c == '\\' && s.pos < len(s.src) {
			s.pos++
			continue
		}
		if c == delim {
			return
		}
	}
}

// skipArguments advances past the closing parenthesis of a call, ignoring
// parentheses inside quoted arguments.
func (s *Scanner) skipArguments() {
	for s.pos < len(s.src) {
		c := s.src[s.pos]
		s.pos++
		switch c {
		case '\'', '"':
			s.skipTo(c)
		case ')':
			return
		}
	}
}

func unescapedSlashes(text string) int {
	n := 0
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '\\':
			i++
		case '/':
			n++
		}
	}
	return n
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}
