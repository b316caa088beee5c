// Package config loads the YAML files that describe a machine and the SBI
// call programs replayed against it.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Value is a register-sized number. In YAML it may be written in decimal,
// hex (0x), octal (0o) or binary (0b), with optional underscores. Negative
// values are stored in two's complement, so -1 is all ones.
type Value uint64

func parseValue(s string) (Value, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), "_", "")
	if strings.HasPrefix(s, "-") {
		v, err := strconv.ParseInt(s, 0, 64)
		if err != nil {
			return 0, err
		}
		return Value(v), nil
	}
	v, err := strconv.ParseUint(strings.TrimPrefix(s, "+"), 0, 64)
	if err != nil {
		return 0, err
	}
	return Value(v), nil
}

// UnmarshalYAML accepts any of the number forms Value documents.
func (v *Value) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("config: line %d: expected a number", node.Line)
	}
	parsed, err := parseValue(node.Value)
	if err != nil {
		return fmt.Errorf("config: line %d: %q is not a number", node.Line, node.Value)
	}
	*v = parsed
	return nil
}

// MarshalYAML writes v as an integer, in hex once it is 0x10000 or larger.
func (v Value) MarshalYAML() (interface{}, error) {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: v.String()}, nil
}

// String formats v in decimal below 0x10000 and in hex above.
func (v Value) String() string {
	if v < 0x10000 {
		return strconv.FormatUint(uint64(v), 10)
	}
	return fmt.Sprintf("%#x", uint64(v))
}

// Duration wraps time.Duration for YAML unmarshaling.
type Duration time.Duration

// UnmarshalYAML parses a time.ParseDuration string such as "5s".
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: line %d: invalid duration %q: %w", value.Line, s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML writes d in time.Duration notation.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Duration returns the time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}
