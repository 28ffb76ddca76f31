// ABOUTME: Host list extraction from plain lists and JSON discovery payloads.
// ABOUTME: JSON input is a result array with sender fields or an array of names.

package discovery

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// ErrInvalidDiscoveryData is returned for JSON discovery payloads that are not
// an array of names or of objects carrying a sender.
var ErrInvalidDiscoveryData = errors.New("invalid discovery data")

// ExtractHostsFromList trims entries, drops blanks and # comments, and
// removes duplicates while keeping the first occurrence.
func ExtractHostsFromList(lines []string) []string {
	seen := make(map[string]struct{}, len(lines))
	hosts := make([]string, 0, len(lines))
	for _, line := range lines {
		host := strings.TrimSpace(line)
		if host == "" || strings.HasPrefix(host, "#") {
			continue
		}
		if _, dup := seen[host]; dup {
			continue
		}
		seen[host] = struct{}{}
		hosts = append(hosts, host)
	}
	return hosts
}

// ExtractHostsFromJSON reads the identities out of a JSON array, either the
// output of a previous call (objects with a "sender" field) or plain strings.
func ExtractHostsFromJSON(data []byte) ([]string, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%w: not valid JSON", ErrInvalidDiscoveryData)
	}
	doc := gjson.ParseBytes(data)
	if !doc.IsArray() {
		return nil, fmt.Errorf("%w: expected an array", ErrInvalidDiscoveryData)
	}

	var lines []string
	var bad error
	idx := -1
	doc.ForEach(func(_, value gjson.Result) bool {
		idx++
		switch {
		case value.Type == gjson.String:
			lines = append(lines, value.String())
		case value.IsObject():
			sender := value.Get("sender")
			if sender.Type != gjson.String {
				bad = fmt.Errorf("%w: entry %d has no sender", ErrInvalidDiscoveryData, idx)
				return false
			}
			lines = append(lines, sender.String())
		default:
			bad = fmt.Errorf("%w: entry %d is %s", ErrInvalidDiscoveryData, idx, value.Type)
			return false
		}
		return true
	})
	if bad != nil {
		return nil, bad
	}
	return ExtractHostsFromList(lines), nil
}
