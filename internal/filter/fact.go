// ABOUTME: Fact comparisons such as os=linux, memory>=4096 and kernel=/^5\./.
// ABOUTME: Parses comparison strings and evaluates them against a node's facts.

package filter

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// ErrInvalidFact is returned when a fact comparison string cannot be parsed.
var ErrInvalidFact = errors.New("invalid fact filter")

// Comparison operators.
const (
	OpEqual        = "=="
	OpNotEqual     = "!="
	OpLess         = "<"
	OpGreater      = ">"
	OpLessEqual    = "<="
	OpGreaterEqual = ">="
	OpMatch        = "=~"
)

// operators in match order; two-character forms first.
var operators = []string{"=~", "==", "!=", "<=", ">=", "=<", "=>", "<", ">", "="}

var operatorAliases = map[string]string{
	"=":  OpEqual,
	"=<": OpLessEqual,
	"=>": OpGreaterEqual,
}

// FactFilter is a single fact comparison.
type FactFilter struct {
	Fact     string `json:"fact"`
	Operator string `json:"operator"`
	Value    string `json:"value"`
}

// ParseFact parses "name<op>value". A /regex/ value with = or == becomes a
// regex match; with != a negated match.
func ParseFact(s string) (FactFilter, error) {
	name, op, value, ok := splitComparison(s)
	if !ok || name == "" || value == "" {
		return FactFilter{}, fmt.Errorf("%w: %q", ErrInvalidFact, s)
	}
	if op == OpEqual && isRegexLiteral(value) {
		op = OpMatch
	}
	if op == OpMatch || isRegexLiteral(value) {
		if _, err := compilePattern(value); err != nil {
			return FactFilter{}, fmt.Errorf("%w: %q: %v", ErrInvalidFact, s, err)
		}
	}
	return FactFilter{Fact: name, Operator: op, Value: value}, nil
}

// String renders the comparison back into source form.
func (f FactFilter) String() string {
	return f.Fact + f.Operator + f.Value
}

// Match reports whether facts satisfy the comparison. A missing fact never
// matches.
func (f FactFilter) Match(facts map[string]string) bool {
	actual, ok := facts[f.Fact]
	if !ok {
		return false
	}
	return compare(actual, f.Operator, f.Value)
}

// splitComparison finds the first comparison operator in s.
func splitComparison(s string) (left, op, right string, ok bool) {
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '=', '!', '<', '>':
		default:
			continue
		}
		for _, candidate := range operators {
			if strings.HasPrefix(s[i:], candidate) {
				if alias, ok := operatorAliases[candidate]; ok {
					op = alias
				} else {
					op = candidate
				}
				return strings.TrimSpace(s[:i]), op, strings.TrimSpace(s[i+len(candidate):]), true
			}
		}
	}
	return "", "", "", false
}

// compare applies op to actual and expected. Ordering operators compare
// numerically when both sides are numbers and lexically otherwise.
func compare(actual, op, expected string) bool {
	switch op {
	case OpMatch:
		return matchPattern(expected, actual)
	case OpEqual:
		if isRegexLiteral(expected) {
			return matchPattern(expected, actual)
		}
		return equalValues(actual, expected)
	case OpNotEqual:
		if isRegexLiteral(expected) {
			return !matchPattern(expected, actual)
		}
		return !equalValues(actual, expected)
	}

	var cmp int
	a, aErr := strconv.ParseFloat(actual, 64)
	b, bErr := strconv.ParseFloat(expected, 64)
	if aErr == nil && bErr == nil {
		switch {
		case a < b:
			cmp = -1
		case a > b:
			cmp = 1
		}
	} else {
		cmp = strings.Compare(actual, expected)
	}

	switch op {
	case OpLess:
		return cmp < 0
	case OpGreater:
		return cmp > 0
	case OpLessEqual:
		return cmp <= 0
	case OpGreaterEqual:
		return cmp >= 0
	}
	return false
}

func equalValues(a, b string) bool {
	if a == b {
		return true
	}
	x, xErr := strconv.ParseFloat(a, 64)
	y, yErr := strconv.ParseFloat(b, 64)
	return xErr == nil && yErr == nil && x == y
}

func isRegexLiteral(s string) bool {
	return len(s) >= 2 && s[0] == '/' && s[len(s)-1] == '/'
}

// patternCacheSize bounds the compiled patterns shared by every filter.
const patternCacheSize = 1024

var patterns, _ = lru.New[string, *regexp.Regexp](patternCacheSize)

// compilePattern compiles /re/ or a bare pattern. Compiled patterns are
// cached, so entries validated when a filter is built are not compiled
// again when it is evaluated.
func compilePattern(s string) (*regexp.Regexp, error) {
	if re, ok := patterns.Get(s); ok {
		return re, nil
	}
	src := s
	if isRegexLiteral(src) {
		src = src[1 : len(src)-1]
	}
	re, err := regexp.Compile(src)
	if err != nil {
		return nil, err
	}
	patterns.Add(s, re)
	return re, nil
}

func matchPattern(pattern, s string) bool {
	re, err := compilePattern(pattern)
	if err != nil {
		return false
	}
	return re.MatchString(s)
}

// matchEntry matches a literal-or-/regex/ entry against s.
func matchEntry(entry, s string) bool {
	if isRegexLiteral(entry) {
		return matchPattern(entry, s)
	}
	return entry == s
}
