// ABOUTME: Token kinds produced by the compound expression scanner.
// ABOUTME: Kinds print with the names used in error messages and tests.

package filter

// Kind identifies the type of a scanned token.
type Kind int

const (
	LParen Kind = iota
	RParen
	And
	Or
	Not
	Statement
	FStatement
	BadToken
)

var kindNames = [...]string{
	LParen:     "(",
	RParen:     ")",
	And:        "and",
	Or:         "or",
	Not:        "not",
	Statement:  "statement",
	FStatement: "fstatement",
	BadToken:   "bad_token",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// Token is a single lexeme. Start and End are inclusive character offsets
// into the source.
type Token struct {
	Kind  Kind
	Text  string
	Start int
	End   int
}
