// ABOUTME: Request validation against an agent descriptor.
// ABOUTME: Checks action names, required inputs, types, patterns and lengths.

package ddl

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"unicode/utf8"
)

var (
	ErrUnknownAction = errors.New("unknown action")
	ErrValidation    = errors.New("request validation failed")
)

// ValidationError describes the first input that failed validation.
type ValidationError struct {
	Action string
	Input  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("action %s: input %s: %s", e.Action, e.Input, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// ValidateRequest checks args against the inputs of action.
func (a *Agent) ValidateRequest(action string, args map[string]any) error {
	act, ok := a.Actions[action]
	if !ok {
		return fmt.Errorf("%w: %s#%s", ErrUnknownAction, a.Metadata.Name, action)
	}

	keys := make([]string, 0, len(act.Input))
	for k := range act.Input {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		in := act.Input[key]
		v, present := args[key]
		if !present || v == nil {
			if in.Optional {
				continue
			}
			return &ValidationError{Action: action, Input: key, Reason: "required input is missing"}
		}
		if reason := in.check(v); reason != "" {
			return &ValidationError{Action: action, Input: key, Reason: reason}
		}
	}
	return nil
}

func (in *Input) check(v any) string {
	switch in.Type {
	case "", TypeAny:
		return ""
	case TypeString:
		s, ok := v.(string)
		if !ok {
			return fmt.Sprintf("expected a string, got %T", v)
		}
		if in.MaxLength > 0 && utf8.RuneCountInString(s) > in.MaxLength {
			return fmt.Sprintf("longer than %d characters", in.MaxLength)
		}
		if in.pattern != nil && !in.pattern.MatchString(s) {
			return fmt.Sprintf("does not match %s", in.Validation)
		}
	case TypeInteger:
		if !isInteger(v) {
			return fmt.Sprintf("expected an integer, got %v", v)
		}
	case TypeNumber, TypeFloat:
		if _, ok := toFloat(v); !ok {
			return fmt.Sprintf("expected a number, got %T", v)
		}
	case TypeBoolean:
		if _, ok := v.(bool); !ok {
			return fmt.Sprintf("expected a boolean, got %T", v)
		}
	case TypeList:
		switch v.(type) {
		case []any, []string:
		default:
			return fmt.Sprintf("expected a list, got %T", v)
		}
	case TypeHash:
		if _, ok := v.(map[string]any); !ok {
			return fmt.Sprintf("expected a hash, got %T", v)
		}
	}
	return ""
}

func isInteger(v any) bool {
	switch n := v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return true
	case float64:
		return n == math.Trunc(n) && !math.IsInf(n, 0)
	case float32:
		return float64(n) == math.Trunc(float64(n))
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
