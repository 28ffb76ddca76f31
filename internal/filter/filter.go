// ABOUTME: Filter combines identity, fact, class, agent and compound criteria.
// ABOUTME: AND across non-empty categories, OR within identity, fact and class.

package filter

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalidEntry is returned for empty or uncompilable identity and class entries.
var ErrInvalidEntry = errors.New("invalid filter entry")

// Filter selects nodes. The zero value matches every node.
type Filter struct {
	Identity []string      `json:"identity,omitempty"`
	Fact     []FactFilter  `json:"fact,omitempty"`
	Class    []string      `json:"class,omitempty"`
	Agent    []string      `json:"agent,omitempty"`
	Compound []*Expression `json:"compound,omitempty"`
}

// Empty reports whether no category has entries.
func (f *Filter) Empty() bool {
	return f == nil || (len(f.Identity) == 0 && len(f.Fact) == 0 && len(f.Class) == 0 &&
		len(f.Agent) == 0 && len(f.Compound) == 0)
}

// Clone returns a copy that shares no slices with f. Expressions are
// immutable and shared.
func (f *Filter) Clone() *Filter {
	if f == nil {
		return &Filter{}
	}
	return &Filter{
		Identity: append([]string(nil), f.Identity...),
		Fact:     append([]FactFilter(nil), f.Fact...),
		Class:    append([]string(nil), f.Class...),
		Agent:    append([]string(nil), f.Agent...),
		Compound: append([]*Expression(nil), f.Compound...),
	}
}

// AddIdentity appends an identity entry; /regex/ entries are validated.
func (f *Filter) AddIdentity(id string) error {
	if err := validateEntry(id); err != nil {
		return fmt.Errorf("identity filter: %w", err)
	}
	f.Identity = appendUnique(f.Identity, id)
	return nil
}

// AddFact parses and appends a fact comparison.
func (f *Filter) AddFact(s string) error {
	ff, err := ParseFact(s)
	if err != nil {
		return err
	}
	for _, existing := range f.Fact {
		if existing == ff {
			return nil
		}
	}
	f.Fact = append(f.Fact, ff)
	return nil
}

// AddClass appends a class entry.
func (f *Filter) AddClass(class string) error {
	if err := validateEntry(class); err != nil {
		return fmt.Errorf("class filter: %w", err)
	}
	f.Class = appendUnique(f.Class, class)
	return nil
}

// AddAgent appends an agent entry.
func (f *Filter) AddAgent(agent string) {
	f.Agent = appendUnique(f.Agent, agent)
}

// AddCompound parses and appends a compound expression.
func (f *Filter) AddCompound(source string) error {
	e, err := Parse(source)
	if err != nil {
		return err
	}
	f.Compound = append(f.Compound, e)
	return nil
}

// IdentityRegexCount returns how many identity entries are /regex/ patterns.
func (f *Filter) IdentityRegexCount() int {
	n := 0
	for _, id := range f.Identity {
		if strings.HasPrefix(id, "/") {
			n++
		}
	}
	return n
}

// Functions lists the data functions used by compound expressions.
func (f *Filter) Functions() []string {
	var names []string
	for _, e := range f.Compound {
		names = append(names, e.Functions()...)
	}
	return names
}

// HasFunctions reports whether any compound expression calls a data
// function. Such filters can only be decided by the node itself.
func (f *Filter) HasFunctions() bool {
	return f != nil && len(f.Functions()) > 0
}

// WithoutFunctions returns a copy without the compound expressions that
// call data functions. Categories are ANDed, so every node matching f also
// matches the copy.
func (f *Filter) WithoutFunctions() *Filter {
	if !f.HasFunctions() {
		return f
	}
	out := f.Clone()
	out.Compound = out.Compound[:0]
	for _, e := range f.Compound {
		if len(e.Functions()) == 0 {
			out.Compound = append(out.Compound, e)
		}
	}
	return out
}

// Matches reports whether node satisfies every non-empty category.
func (f *Filter) Matches(n *Node) bool {
	if f == nil {
		return true
	}
	if len(f.Identity) > 0 && !anyMatch(f.Identity, func(id string) bool { return matchEntry(id, n.Identity) }) {
		return false
	}
	if len(f.Fact) > 0 {
		matched := false
		for _, ff := range f.Fact {
			if ff.Match(n.Facts) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	if len(f.Class) > 0 && !anyMatch(f.Class, n.HasClass) {
		return false
	}
	for _, a := range f.Agent {
		if !n.HasAgent(a) {
			return false
		}
	}
	for _, e := range f.Compound {
		if !e.Eval(n) {
			return false
		}
	}
	return true
}

// Key is a stable string form used for cache keys and logging.
func (f *Filter) Key() string {
	if f == nil {
		return "{}"
	}
	b, err := json.Marshal(f)
	if err != nil {
		return fmt.Sprintf("%+v", *f)
	}
	return string(b)
}

func (f *Filter) String() string { return f.Key() }

// IdentityAlternation builds a /^(a|b)$/ pattern matching exactly the given
// identities.
func IdentityAlternation(ids []string) string {
	quoted := make([]string, len(ids))
	for i, id := range ids {
		quoted[i] = regexp.QuoteMeta(id)
	}
	return "/^(" + strings.Join(quoted, "|") + ")$/"
}

func validateEntry(entry string) error {
	if entry == "" {
		return fmt.Errorf("%w: empty entry", ErrInvalidEntry)
	}
	if isRegexLiteral(entry) {
		if _, err := compilePattern(entry); err != nil {
			return fmt.Errorf("%w: %q: %v", ErrInvalidEntry, entry, err)
		}
	}
	return nil
}

func anyMatch(entries []string, match func(string) bool) bool {
	for _, e := range entries {
		if match(e) {
			return true
		}
	}
	return false
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}
