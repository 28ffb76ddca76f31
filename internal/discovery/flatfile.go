// ABOUTME: Discovery source backed by a text file of identities.
// ABOUTME: Only identity filters apply; other filter categories are ignored.

package discovery

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/2389/coven-rpc/internal/filter"
)

// ErrNoDiscoveryData is returned when the flat file source has no path.
var ErrNoDiscoveryData = errors.New("the flatfile discovery method needs a path to a text file")

// FlatFileSource discovers nodes from a file with one identity per line.
type FlatFileSource struct {
	Path string
}

// NewFlatFileSource uses the first discovery option as the file path.
func NewFlatFileSource(options []string) (*FlatFileSource, error) {
	if len(options) == 0 || strings.TrimSpace(options[0]) == "" {
		return nil, ErrNoDiscoveryData
	}
	return &FlatFileSource{Path: options[0]}, nil
}

// Discover implements Source. Matches are shuffled and truncated when limit
// is positive, otherwise sorted.
func (s *FlatFileSource) Discover(_ context.Context, f *filter.Filter, _ time.Duration, limit int) ([]string, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("reading discovery file: %w", err)
	}
	hosts := ExtractHostsFromList(strings.Split(string(data), "\n"))

	var discovered []string
	if f == nil || len(f.Identity) == 0 {
		discovered = hosts
	} else {
		seen := make(map[string]bool)
		for _, entry := range f.Identity {
			match, err := identityMatcher(entry)
			if err != nil {
				return nil, err
			}
			for _, h := range hosts {
				if !seen[h] && match(h) {
					seen[h] = true
					discovered = append(discovered, h)
				}
			}
		}
	}

	if limit > 0 {
		rand.Shuffle(len(discovered), func(i, j int) {
			discovered[i], discovered[j] = discovered[j], discovered[i]
		})
		if len(discovered) > limit {
			discovered = discovered[:limit]
		}
		return discovered, nil
	}
	sort.Strings(discovered)
	return discovered, nil
}

func identityMatcher(entry string) (func(string) bool, error) {
	if !strings.HasPrefix(entry, "/") {
		return func(h string) bool { return h == entry }, nil
	}
	re, err := regexp.Compile(strings.Trim(entry, "/"))
	if err != nil {
		return nil, fmt.Errorf("identity filter %q: %w", entry, err)
	}
	return re.MatchString, nil
}
