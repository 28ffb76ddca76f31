// ABOUTME: Target-count limits ("10" or "10%") and node selection strategies.
// ABOUTME: PickNodes never mutates its input and keeps sets at or below the limit unchanged.

package discovery

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"regexp"
	"strconv"
	"strings"
)

var (
	// ErrInvalidLimit is returned for limits that are not a count or a percentage.
	ErrInvalidLimit = errors.New("invalid limit specified")
	// ErrInvalidLimitMethod is returned for selection strategies other than first and random.
	ErrInvalidLimitMethod = errors.New("invalid limit method")
)

var limitPattern = regexp.MustCompile(`^\d+%*$`)

// Limit caps how many discovered nodes a call targets. The zero value means
// no limit.
type Limit struct {
	Count   int
	Percent bool
}

// ParseLimit parses "10" or "10%". Zero is rejected; unset the limit with
// an empty setting instead.
func ParseLimit(s string) (Limit, error) {
	s = strings.TrimSpace(s)
	if !limitPattern.MatchString(s) {
		return Limit{}, fmt.Errorf("%w: %q", ErrInvalidLimit, s)
	}
	digits := strings.TrimRight(s, "%")
	n, err := strconv.Atoi(digits)
	if err != nil {
		return Limit{}, fmt.Errorf("%w: %q: %v", ErrInvalidLimit, s, err)
	}
	if n == 0 {
		return Limit{}, fmt.Errorf("%w: %q: must be at least 1", ErrInvalidLimit, s)
	}
	return Limit{Count: n, Percent: len(digits) != len(s)}, nil
}

// IsZero reports whether no limit is set.
func (l Limit) IsZero() bool { return l.Count == 0 && !l.Percent }

func (l Limit) String() string {
	if l.Percent {
		return strconv.Itoa(l.Count) + "%"
	}
	return strconv.Itoa(l.Count)
}

// Resolve returns the absolute node count for a discovered set of size n.
// Percentages round down, and a result of zero becomes one.
func (l Limit) Resolve(n int) int {
	if !l.Percent {
		return l.Count
	}
	count := n * l.Count / 100
	if count == 0 {
		count = 1
	}
	return count
}

// LimitMethod selects which nodes survive a limit.
type LimitMethod string

const (
	LimitFirst  LimitMethod = "first"
	LimitRandom LimitMethod = "random"
)

// ParseLimitMethod accepts "first" or "random".
func ParseLimitMethod(s string) (LimitMethod, error) {
	switch m := LimitMethod(strings.ToLower(strings.TrimSpace(s))); m {
	case LimitFirst, LimitRandom:
		return m, nil
	default:
		return "", fmt.Errorf("%w: %q: must be first or random", ErrInvalidLimitMethod, s)
	}
}

// PickNodes reduces discovered to the limit. Sets no larger than the limit
// come back unchanged. LimitFirst keeps a stable prefix; any other method
// samples without replacement using rng, or the global source when rng is nil.
func PickNodes(discovered []string, limit Limit, method LimitMethod, rng *rand.Rand) []string {
	if limit.IsZero() {
		return discovered
	}
	count := limit.Resolve(len(discovered))
	if len(discovered) <= count {
		return discovered
	}

	if method == LimitFirst {
		return append([]string(nil), discovered[:count]...)
	}

	var perm []int
	if rng != nil {
		perm = rng.Perm(len(discovered))
	} else {
		perm = rand.Perm(len(discovered))
	}
	picked := make([]string, count)
	for i := range picked {
		picked[i] = discovered[perm[i]]
	}
	return picked
}
