// Package caps parses serialized capability strings and structures such as
// "video/x-raw, format=(string)I420, framerate=(fraction)25/1".
package caps

import (
	"fmt"
	"strconv"
	"strings"
)

// Field is one name=(type)value entry of a structure
type Field struct {
	Name  string
	Type  string
	Value string
}

// Structure is a named, ordered set of fields
type Structure struct {
	Name   string
	Fields []Field
}

// Caps is a list of structures separated by ';'
type Caps []*Structure

// Parse parses a caps string. Empty input yields empty caps.
func Parse(s string) (Caps, error) {
	var out Caps
	for _, part := range splitTopLevel(s, ';') {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		st, err := ParseStructure(part)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

// ParseStructure parses a single serialized structure
func ParseStructure(s string) (*Structure, error) {
	parts := splitTopLevel(strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), ";")), ',')
	if len(parts) == 0 || strings.TrimSpace(parts[0]) == "" {
		return nil, fmt.Errorf("empty structure %q", s)
	}

	st := &Structure{Name: strings.TrimSpace(parts[0])}
	if strings.ContainsAny(st.Name, "=\"") {
		return nil, fmt.Errorf("invalid structure name %q", st.Name)
	}

	for _, raw := range parts[1:] {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		eq := strings.IndexByte(raw, '=')
		if eq <= 0 {
			return nil, fmt.Errorf("invalid field %q in structure %q", raw, st.Name)
		}
		f := Field{Name: strings.TrimSpace(raw[:eq])}
		val := strings.TrimSpace(raw[eq+1:])
		if strings.HasPrefix(val, "(") {
			if end := strings.IndexByte(val, ')'); end > 0 {
				f.Type = val[1:end]
				val = strings.TrimSpace(val[end+1:])
			}
		}
		f.Value = unquote(val)
		st.Fields = append(st.Fields, f)
	}
	return st, nil
}

// splitTopLevel splits on sep outside of quotes and brackets
func splitTopLevel(s string, sep byte) []string {
	var (
		parts   []string
		depth   int
		inQuote bool
		start   int
	)
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '\\' && inQuote:
			i++
		case c == '"':
			inQuote = !inQuote
		case inQuote:
		case c == '{' || c == '[' || c == '<':
			depth++
		case (c == '}' || c == ']' || c == '>') && depth > 0:
			depth--
		case c == sep && depth == 0:
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	return append(parts, s[start:])
}

func unquote(v string) string {
	if len(v) >= 2 && v[0] == '"' && v[len(v)-1] == '"' {
		if u, err := strconv.Unquote(v); err == nil {
			return u
		}
		return v[1 : len(v)-1]
	}
	return v
}

// Get returns the raw value of a field
func (s *Structure) Get(name string) (string, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return "", false
}

// Bool returns a boolean field, or def when absent or unparsable
func (s *Structure) Bool(name string, def bool) bool {
	v, ok := s.Get(name)
	if !ok {
		return def
	}
	switch strings.ToLower(v) {
	case "true", "yes", "1", "t":
		return true
	case "false", "no", "0", "f":
		return false
	}
	return def
}

// Int returns an integer field, or def when absent or unparsable
func (s *Structure) Int(name string, def int) int {
	v, ok := s.Get(name)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// Float returns a float field, or def when absent or unparsable
func (s *Structure) Float(name string, def float64) float64 {
	v, ok := s.Get(name)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

// Fraction returns a num/den field
func (s *Structure) Fraction(name string) (Fraction, bool) {
	v, ok := s.Get(name)
	if !ok {
		return Fraction{}, false
	}
	f, err := ParseFraction(v)
	if err != nil {
		return Fraction{}, false
	}
	return f, true
}

// Set replaces or appends a field
func (s *Structure) Set(name, typ, value string) {
	for i := range s.Fields {
		if s.Fields[i].Name == name {
			s.Fields[i].Type = typ
			s.Fields[i].Value = value
			return
		}
	}
	s.Fields = append(s.Fields, Field{Name: name, Type: typ, Value: value})
}

// String serializes the structure
func (s *Structure) String() string {
	var b strings.Builder
	b.WriteString(s.Name)
	for _, f := range s.Fields {
		b.WriteString(", ")
		b.WriteString(f.Name)
		b.WriteByte('=')
		if f.Type != "" {
			b.WriteString("(" + f.Type + ")")
		}
		if f.Type == "string" && strings.ContainsAny(f.Value, " ,;\"") {
			b.WriteString(strconv.Quote(f.Value))
		} else {
			b.WriteString(f.Value)
		}
	}
	return b.String()
}

// String serializes the caps
func (c Caps) String() string {
	parts := make([]string, len(c))
	for i, s := range c {
		parts[i] = s.String()
	}
	return strings.Join(parts, "; ")
}

// Fraction is a rational number such as a framerate
type Fraction struct {
	Num int64
	Den int64
}

// ParseFraction parses "num/den" or a plain integer
func ParseFraction(v string) (Fraction, error) {
	num, den, found := strings.Cut(strings.TrimSpace(v), "/")
	n, err := strconv.ParseInt(strings.TrimSpace(num), 10, 64)
	if err != nil {
		return Fraction{}, fmt.Errorf("invalid fraction %q: %w", v, err)
	}
	d := int64(1)
	if found {
		d, err = strconv.ParseInt(strings.TrimSpace(den), 10, 64)
		if err != nil {
			return Fraction{}, fmt.Errorf("invalid fraction %q: %w", v, err)
		}
	}
	if d == 0 {
		return Fraction{}, fmt.Errorf("invalid fraction %q: zero denominator", v)
	}
	return Fraction{Num: n, Den: d}, nil
}

// IsZero reports whether the fraction is 0/x, used for variable framerates
func (f Fraction) IsZero() bool { return f.Num == 0 }

// String implements fmt.Stringer
func (f Fraction) String() string { return fmt.Sprintf("%d/%d", f.Num, f.Den) }
