// ABOUTME: Converts command line key=value strings into typed request data.
// ABOUTME: Booleans and numbers follow the descriptor's declared input types.

package ddl

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ErrInvalidArgument is returned when a string cannot be converted to the
// declared type.
var ErrInvalidArgument = errors.New("invalid argument")

var (
	truthy       = regexp.MustCompile(`(?i)^(1|yes|true|y|t)$`)
	falsy        = regexp.MustCompile(`(?i)^(0|no|false|n|f)$`)
	integerValue = regexp.MustCompile(`^-?\d+$`)
	floatValue   = regexp.MustCompile(`^-?\d*\.\d+$`)
)

// ParseBool converts yes/no style strings.
func ParseBool(s string) (bool, error) {
	switch {
	case truthy.MatchString(s):
		return true, nil
	case falsy.MatchString(s):
		return false, nil
	}
	return false, fmt.Errorf("%w: %q is not a boolean", ErrInvalidArgument, s)
}

// ParseNumber converts integers to int64 and decimals to float64.
func ParseNumber(s string) (any, error) {
	switch {
	case integerValue.MatchString(s):
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrInvalidArgument, s, err)
		}
		return n, nil
	case floatValue.MatchString(s):
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrInvalidArgument, s, err)
		}
		return f, nil
	}
	return nil, fmt.Errorf("%w: %q is not a number", ErrInvalidArgument, s)
}

// SplitArgs turns key=value pairs into a string map. The first '=' splits;
// both sides must be non-empty.
func SplitArgs(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" || v == "" {
			return nil, fmt.Errorf("%w: could not parse %q, expected key=value", ErrInvalidArgument, p)
		}
		out[k] = v
	}
	return out, nil
}

// ConvertArgs types raw according to the inputs of action. Keys the action
// does not declare stay strings. A nil Agent or unknown action leaves every
// value as a string.
func (a *Agent) ConvertArgs(action string, raw map[string]string) (map[string]any, error) {
	out := make(map[string]any, len(raw))
	var inputs map[string]*Input
	if a != nil {
		if act, ok := a.Actions[action]; ok {
			inputs = act.Input
		}
	}

	for k, v := range raw {
		in, ok := inputs[k]
		if !ok {
			out[k] = v
			continue
		}
		switch in.Type {
		case TypeBoolean:
			b, err := ParseBool(v)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			out[k] = b
		case TypeNumber, TypeInteger, TypeFloat:
			n, err := ParseNumber(v)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			out[k] = n
		default:
			out[k] = v
		}
	}
	return out, nil
}
