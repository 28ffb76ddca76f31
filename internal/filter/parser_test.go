// ABOUTME: Tests for compound expression parsing and evaluation.
// ABOUTME: Covers precedence, parentheses, syntax errors, functions and JSON encoding.

package filter

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testNode() *Node {
	return &Node{
		Identity: "web1.example.com",
		Facts: map[string]string{
			"os":       "linux",
			"memory":   "8192",
			"kernel":   "5.15.0",
			"country":  "uk",
			"hostname": "web1",
		},
		Classes: []string{"webserver", "base::ntp"},
		Agents:  []string{"rpcutil", "package"},
		Functions: map[string]Function{
			"fstat": func(args ...string) (any, error) {
				if len(args) != 1 {
					return nil, errors.New("fstat takes one argument")
				}
				if args[0] != "/etc/hosts" {
					return map[string]any{"present": false, "size": 0}, nil
				}
				return map[string]any{"present": true, "size": float64(512), "owner": "root"}, nil
			},
			"enabled": func(args ...string) (any, error) {
				return len(args) > 0 && args[0] == "yes", nil
			},
			"broken": func(args ...string) (any, error) {
				return nil, errors.New("boom")
			},
		},
	}
}

func TestParse_Evaluate(t *testing.T) {
	tests := []struct {
		expr string
		want bool
	}{
		{"os=linux", true},
		{"os=windows", false},
		{"os!=windows", true},
		{"memory>=4096", true},
		{"memory<4096", false},
		{"memory>10000", false},
		{"kernel=/^5\\./", true},
		{"kernel=~^4", false},
		{"webserver", true},
		{"/^base::/", true},
		{"database", false},
		{"os=linux and webserver", true},
		{"os=linux and database", false},
		{"database or webserver", true},
		{"not database", true},
		{"!webserver", false},
		{"not not webserver", true},
		{"os=windows and database or webserver", true},
		{"webserver or database and os=windows", false},
		{"webserver or (database and os=windows)", true},
		{"(os=linux or os=freebsd) and not /db/", true},
		{"missing=1", false},
		{"not missing=1", true},
		{"fstat('/etc/hosts').present", true},
		{"fstat('/etc/passwd').present", false},
		{"fstat('/etc/hosts').size>=500", true},
		{"fstat('/etc/hosts').size>600", false},
		{"fstat('/etc/hosts').owner=root", true},
		{"fstat('/etc/hosts').owner=/^ro/", true},
		{"fstat('/etc/hosts').nosuch", false},
		{"enabled('yes')", true},
		{"enabled('no')", false},
		{"unknown('x')", false},
		{"broken('x')", false},
		{"fstat('a','b')", false},
	}

	node := testNode()
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			e, err := Parse(tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.want, e.Eval(node))
		})
	}
}

func TestParse_SyntaxErrors(t *testing.T) {
	tests := []struct {
		name  string
		expr  string
		start int
		end   int
	}{
		{"bad token", "foo(bar)", 0, 7},
		{"bad token after operator", "os=linux and foo(", 13, 16},
		{"unclosed paren", "(os=linux", 0, 0},
		{"extra close paren", "os=linux)", 8, 8},
		{"dangling operator", "os=linux and", 11, 11},
		{"adjacent statements", "os=linux webserver", 9, 17},
		{"leading operator", "and os=linux", 0, 2},
		{"empty", "", 0, 0},
		{"empty parens", "()", 1, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.expr)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidExpression)

			var syn *SyntaxError
			require.True(t, errors.As(err, &syn))
			assert.Equal(t, tt.start, syn.Start)
			assert.Equal(t, tt.end, syn.End)
		})
	}
}

func TestExpression_Functions(t *testing.T) {
	e := MustParse("fstat('/a').size>1 and (enabled('yes') or not fstat('/b').present)")
	assert.Equal(t, []string{"fstat", "enabled", "fstat"}, e.Functions())

	assert.Empty(t, MustParse("os=linux").Functions())
}

func TestExpression_JSON(t *testing.T) {
	e := MustParse("os=linux and webserver")

	data, err := json.Marshal(e)
	require.NoError(t, err)
	assert.JSONEq(t, `"os=linux and webserver"`, string(data))

	var decoded Expression
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "os=linux and webserver", decoded.String())
	assert.True(t, decoded.Eval(testNode()))

	err = json.Unmarshal([]byte(`"foo("`), &decoded)
	assert.ErrorIs(t, err, ErrInvalidExpression)
}

func TestMustParse_Panics(t *testing.T) {
	assert.Panics(t, func() { MustParse("(") })
}
