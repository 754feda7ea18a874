package transform

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Spec names a transform and its parameters, as written in client configuration.
type Spec struct {
	Name    string `yaml:"name"`
	Pattern string `yaml:"pattern,omitempty"`
	Places  *int   `yaml:"places,omitempty"`
}

// ISOLayout matches JavaScript's Date.prototype.toISOString output.
const ISOLayout = "2006-01-02T15:04:05.000Z"

var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"2006/01/02",
}

var errNotString = errors.New("value is not a string")

// Compile resolves a Spec into a Func. An empty name is identity.
func Compile(spec Spec) (Func, error) {
	switch strings.ToLower(strings.TrimSpace(spec.Name)) {
	case "", "identity":
		return nil, nil
	case "regex_extract":
		if spec.Pattern == "" {
			return nil, fmt.Errorf("regex_extract requires a pattern")
		}
		re, err := regexp.Compile(spec.Pattern)
		if err != nil {
			return nil, fmt.Errorf("regex_extract pattern %q: %w", spec.Pattern, err)
		}
		return RegexExtract(re), nil
	case "iso8601", "iso_date":
		return ISODate, nil
	case "round":
		places := 2
		if spec.Places != nil {
			places = *spec.Places
		}
		if places < 0 || places > 15 {
			return nil, fmt.Errorf("round places must be between 0 and 15, got %d", places)
		}
		return Round(places), nil
	case "to_string":
		return ToString, nil
	case "to_float":
		return ToFloat, nil
	case "lowercase":
		return stringFunc(strings.ToLower), nil
	case "uppercase":
		return stringFunc(strings.ToUpper), nil
	case "trim":
		return stringFunc(strings.TrimSpace), nil
	default:
		return nil, fmt.Errorf("unsupported transform %q", spec.Name)
	}
}

// RegexExtract returns the first capture group of re (or the whole match when re has
// no groups). Unmatched strings pass through unchanged.
func RegexExtract(re *regexp.Regexp) Func {
	return func(value any) (any, error) {
		s, ok := value.(string)
		if !ok {
			return nil, errNotString
		}
		match := re.FindStringSubmatch(s)
		if match == nil {
			return value, nil
		}
		if len(match) > 1 {
			return match[1], nil
		}
		return match[0], nil
	}
}

// ISODate parses a date, date-time or epoch-milliseconds value and re-emits it as a
// UTC ISO-8601 instant with millisecond precision.
func ISODate(value any) (any, error) {
	switch v := value.(type) {
	case string:
		s := strings.TrimSpace(v)
		for _, layout := range dateLayouts {
			if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
				return t.UTC().Format(ISOLayout), nil
			}
		}
		return nil, fmt.Errorf("invalid date %q", v)
	case json.Number, float64, int, int64:
		ms, err := toFloat(v)
		if err != nil {
			return nil, err
		}
		return time.UnixMilli(int64(ms)).UTC().Format(ISOLayout), nil
	default:
		return nil, fmt.Errorf("invalid date value of type %T", value)
	}
}

// Round rounds a numeric value to the given number of decimal places.
func Round(places int) Func {
	factor := math.Pow(10, float64(places))
	return func(value any) (any, error) {
		f, err := toFloat(value)
		if err != nil {
			return nil, err
		}
		return math.Round(f*factor) / factor, nil
	}
}

// ToString renders scalars as strings.
func ToString(value any) (any, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case json.Number:
		return v.String(), nil
	case nil:
		return "", nil
	default:
		return fmt.Sprint(v), nil
	}
}

// ToFloat converts numbers and numeric strings to float64.
func ToFloat(value any) (any, error) {
	return toFloat(value)
}

func stringFunc(fn func(string) string) Func {
	return func(value any) (any, error) {
		s, ok := value.(string)
		if !ok {
			return nil, errNotString
		}
		return fn(s), nil
	}
}

func toFloat(value any) (float64, error) {
	switch v := value.(type) {
	case json.Number:
		return v.Float64()
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, fmt.Errorf("value %q is not numeric", v)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("value of type %T is not numeric", value)
	}
}
