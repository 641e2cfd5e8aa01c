// Package expand substitutes %(name)s placeholders in pipeline descriptions,
// config templates and nested definition data.
//
// Substitution is a single pass: text produced by a replacement is never
// scanned again, so a value containing a placeholder is emitted verbatim.
package expand

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
)

// ErrMissingVariable is returned when a placeholder has no value
var ErrMissingVariable = errors.New("missing template variable")

// Vars is the variable bag available to templates
type Vars map[string]any

// Clone returns a shallow copy of vars
func (v Vars) Clone() Vars {
	out := make(Vars, len(v))
	for k, val := range v {
		out[k] = val
	}
	return out
}

// Merge returns a copy of v overlaid with other. Neither input is modified.
func (v Vars) Merge(other Vars) Vars {
	out := v.Clone()
	for k, val := range other {
		out[k] = val
	}
	return out
}

var placeholderRegex = regexp.MustCompile(`%(?:\(([^)]*)\)([sdifr])|%)`)

// Expand performs one pass of named placeholder substitution. "%%" yields a
// literal percent sign; a lone "%" is left untouched.
func Expand(tmpl string, vars Vars) (string, error) {
	var firstErr error

	out := placeholderRegex.ReplaceAllStringFunc(tmpl, func(match string) string {
		if match == "%%" {
			return "%"
		}

		sub := placeholderRegex.FindStringSubmatch(match)
		name, conv := sub[1], sub[2]
		val, ok := vars[name]
		if !ok {
			if firstErr == nil {
				firstErr = fmt.Errorf("%w: %q", ErrMissingVariable, name)
			}
			return match
		}

		s, err := format(val, conv)
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("variable %q: %w", name, err)
		}
		return s
	})

	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}

func format(val any, conv string) (string, error) {
	switch conv {
	case "d", "i":
		switch n := val.(type) {
		case int:
			return strconv.Itoa(n), nil
		case int64:
			return strconv.FormatInt(n, 10), nil
		case uint64:
			return strconv.FormatUint(n, 10), nil
		case float64:
			return strconv.FormatInt(int64(n), 10), nil
		case bool:
			if n {
				return "1", nil
			}
			return "0", nil
		default:
			return "", fmt.Errorf("%%d format: a number is required, not %T", val)
		}
	case "f":
		switch n := val.(type) {
		case float64:
			return strconv.FormatFloat(n, 'f', 6, 64), nil
		case int:
			return strconv.FormatFloat(float64(n), 'f', 6, 64), nil
		default:
			return "", fmt.Errorf("%%f format: a number is required, not %T", val)
		}
	default:
		return fmt.Sprint(val), nil
	}
}

// ExpandDeep substitutes placeholders in every string leaf of nested maps and
// slices. Other leaves are returned unchanged. The input is not modified.
func ExpandDeep(v any, vars Vars) (any, error) {
	switch t := v.(type) {
	case string:
		return Expand(t, vars)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			e, err := ExpandDeep(val, vars)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			out[k] = e
		}
		return out, nil
	case Vars:
		e, err := ExpandDeep(map[string]any(t), vars)
		if err != nil {
			return nil, err
		}
		return Vars(e.(map[string]any)), nil
	case map[string]string:
		out := make(map[string]string, len(t))
		for k, val := range t {
			e, err := Expand(val, vars)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			out[k] = e
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			e, err := ExpandDeep(val, vars)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = e
		}
		return out, nil
	case []string:
		out := make([]string, len(t))
		for i, val := range t {
			e, err := Expand(val, vars)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = e
		}
		return out, nil
	default:
		return v, nil
	}
}

// ExpandLines expands every line of a multi-line template
func ExpandLines(lines []string, vars Vars) ([]string, error) {
	out, err := ExpandDeep(lines, vars)
	if err != nil {
		return nil, err
	}
	return out.([]string), nil
}
