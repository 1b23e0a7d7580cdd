package policy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ValueKind discriminates the Value union.
type ValueKind string

const (
	ValueString    ValueKind = "string"
	ValueInt       ValueKind = "int"
	ValueUint      ValueKind = "uint"
	ValueFloat     ValueKind = "float"
	ValueBool      ValueKind = "bool"
	ValueSet       ValueKind = "set"
	ValueIntRange  ValueKind = "int_range"
	ValueTimeRange ValueKind = "time_range"
)

// Value is the typed right-hand side of a condition.
type Value struct {
	// Kind selects the populated payload field.
	Kind ValueKind `json:"kind" yaml:"kind"`

	Text      string     `json:"text,omitempty" yaml:"text,omitempty"`
	Int       int64      `json:"int,omitempty" yaml:"int,omitempty"`
	Uint      uint64     `json:"uint,omitempty" yaml:"uint,omitempty"`
	Float     float64    `json:"float,omitempty" yaml:"float,omitempty"`
	Bool      bool       `json:"bool,omitempty" yaml:"bool,omitempty"`
	Set       []string   `json:"set,omitempty" yaml:"set,omitempty"`
	IntRange  *IntRange  `json:"int_range,omitempty" yaml:"int_range,omitempty"`
	TimeRange *TimeRange `json:"time_range,omitempty" yaml:"time_range,omitempty"`
}

// IntRange is an inclusive integer interval.
type IntRange struct {
	Min int64 `json:"min" yaml:"min"`
	Max int64 `json:"max" yaml:"max"`
}

// Contains reports whether v lies in the closed interval.
func (r IntRange) Contains(v float64) bool {
	return v >= float64(r.Min) && v <= float64(r.Max)
}

// TimeRange is an inclusive time interval.
type TimeRange struct {
	Start time.Time `json:"start" yaml:"start"`
	End   time.Time `json:"end" yaml:"end"`
}

// Contains reports whether t lies in the closed interval.
func (r TimeRange) Contains(t time.Time) bool {
	return !t.Before(r.Start) && !t.After(r.End)
}

// StringValue returns a string value.
func StringValue(s string) Value { return Value{Kind: ValueString, Text: s} }

// IntValue returns a signed integer value.
func IntValue(i int64) Value { return Value{Kind: ValueInt, Int: i} }

// UintValue returns an unsigned integer value.
func UintValue(u uint64) Value { return Value{Kind: ValueUint, Uint: u} }

// FloatValue returns a floating point value.
func FloatValue(f float64) Value { return Value{Kind: ValueFloat, Float: f} }

// BoolValue returns a boolean value.
func BoolValue(b bool) Value { return Value{Kind: ValueBool, Bool: b} }

// SetValue returns a set-of-strings value.
func SetValue(items ...string) Value { return Value{Kind: ValueSet, Set: items} }

// IntRangeValue returns an inclusive integer range value.
func IntRangeValue(lo, hi int64) Value {
	return Value{Kind: ValueIntRange, IntRange: &IntRange{Min: lo, Max: hi}}
}

// TimeRangeValue returns an inclusive time range value.
func TimeRangeValue(start, end time.Time) Value {
	return Value{Kind: ValueTimeRange, TimeRange: &TimeRange{Start: start, End: end}}
}

// String renders scalar values the way fields are compared. Sets and ranges
// render in a readable but non-comparable form.
func (v Value) String() string {
	switch v.Kind {
	case ValueString:
		return v.Text
	case ValueInt:
		return strconv.FormatInt(v.Int, 10)
	case ValueUint:
		return strconv.FormatUint(v.Uint, 10)
	case ValueFloat:
		return strconv.FormatFloat(v.Float, 'f', -1, 64)
	case ValueBool:
		return strconv.FormatBool(v.Bool)
	case ValueSet:
		return "[" + strings.Join(v.Set, ",") + "]"
	case ValueIntRange:
		if v.IntRange != nil {
			return fmt.Sprintf("%d..%d", v.IntRange.Min, v.IntRange.Max)
		}
	case ValueTimeRange:
		if v.TimeRange != nil {
			return v.TimeRange.Start.Format(time.RFC3339) + ".." + v.TimeRange.End.Format(time.RFC3339)
		}
	}
	return ""
}

// Number returns the numeric form of scalar numeric values.
func (v Value) Number() (float64, bool) {
	switch v.Kind {
	case ValueInt:
		return float64(v.Int), true
	case ValueUint:
		return float64(v.Uint), true
	case ValueFloat:
		return v.Float, true
	case ValueString:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.Text), 64)
		return f, err == nil
	}
	return 0, false
}

// Validate checks the payload matches the kind.
func (v Value) Validate() error {
	switch v.Kind {
	case ValueString, ValueInt, ValueUint, ValueFloat, ValueBool, ValueSet:
		return nil
	case ValueIntRange:
		if v.IntRange == nil {
			return fmt.Errorf("int_range value without bounds")
		}
		if v.IntRange.Min > v.IntRange.Max {
			return fmt.Errorf("int_range min %d exceeds max %d", v.IntRange.Min, v.IntRange.Max)
		}
		return nil
	case ValueTimeRange:
		if v.TimeRange == nil {
			return fmt.Errorf("time_range value without bounds")
		}
		if v.TimeRange.End.Before(v.TimeRange.Start) {
			return fmt.Errorf("time_range ends before it starts")
		}
		return nil
	case "":
		return fmt.Errorf("value kind is required")
	}
	return fmt.Errorf("unknown value kind %q", v.Kind)
}

func (v Value) clone() Value {
	out := v
	if v.Set != nil {
		out.Set = append([]string(nil), v.Set...)
	}
	if v.IntRange != nil {
		r := *v.IntRange
		out.IntRange = &r
	}
	if v.TimeRange != nil {
		r := *v.TimeRange
		out.TimeRange = &r
	}
	return out
}

// UnmarshalYAML accepts the explicit {kind: ...} form as well as bare
// scalars and sequences, which are typed from their YAML tag.
func (v *Value) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		switch node.ShortTag() {
		case "!!int":
			i, err := strconv.ParseInt(node.Value, 0, 64)
			if err != nil {
				u, uerr := strconv.ParseUint(node.Value, 0, 64)
				if uerr != nil {
					return fmt.Errorf("line %d: %w", node.Line, err)
				}
				*v = UintValue(u)
				return nil
			}
			*v = IntValue(i)
		case "!!float":
			f, err := strconv.ParseFloat(node.Value, 64)
			if err != nil {
				return fmt.Errorf("line %d: %w", node.Line, err)
			}
			*v = FloatValue(f)
		case "!!bool":
			var b bool
			if err := node.Decode(&b); err != nil {
				return err
			}
			*v = BoolValue(b)
		default:
			*v = StringValue(node.Value)
		}
		return nil
	case yaml.SequenceNode:
		var items []string
		if err := node.Decode(&items); err != nil {
			return err
		}
		*v = SetValue(items...)
		return nil
	}
	type plain Value
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	*v = Value(p)
	return nil
}

// UnmarshalJSON accepts the explicit {"kind": ...} form as well as bare
// scalars and arrays of strings, mirroring UnmarshalYAML.
func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("empty value")
	}
	switch data[0] {
	case '{':
		type plain Value
		var p plain
		if err := json.Unmarshal(data, &p); err != nil {
			return err
		}
		*v = Value(p)
	case '[':
		var items []string
		if err := json.Unmarshal(data, &items); err != nil {
			return err
		}
		*v = SetValue(items...)
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = StringValue(s)
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return err
		}
		*v = BoolValue(b)
	case 'n':
		*v = Value{}
	default:
		text := string(data)
		if i, err := strconv.ParseInt(text, 10, 64); err == nil {
			*v = IntValue(i)
		} else if u, err := strconv.ParseUint(text, 10, 64); err == nil {
			*v = UintValue(u)
		} else if f, err := strconv.ParseFloat(text, 64); err == nil {
			*v = FloatValue(f)
		} else {
			return fmt.Errorf("invalid value %s", text)
		}
	}
	return nil
}
