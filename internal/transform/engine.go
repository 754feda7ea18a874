// Package transform maps webhook payloads into a client's shape using ordered
// source-path → target-path rules.
package transform

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Func is a pure value conversion applied to a rule's source value.
type Func func(value any) (any, error)

// Rule copies the value at Source into the result at Target. Paths are dot-delimited.
// SourceSystem, when set, limits the rule to payloads from that source system.
type Rule struct {
	Source        string
	Target        string
	SourceSystem  string
	TransformName string
	Transform     Func
}

// TransformationError reports which rule failed.
type TransformationError struct {
	Index     int
	Source    string
	Transform string
	Err       error
}

func (e *TransformationError) Error() string {
	return fmt.Sprintf("transformation rule %d (%s via %s) failed: %v", e.Index, e.Source, e.TransformName(), e.Err)
}

func (e *TransformationError) Unwrap() error {
	return e.Err
}

// TransformName returns the transform's name, "identity" when none was set.
func (e *TransformationError) TransformName() string {
	if e.Transform == "" {
		return "identity"
	}
	return e.Transform
}

// Apply runs rules in order against payload and returns a fresh object.
// A rule whose source path is missing is skipped. Later writes to the same target win.
// payload is never mutated.
func Apply(payload any, rules []Rule) (map[string]any, error) {
	result := make(map[string]any)

	for i, rule := range rules {
		value, ok := lookup(payload, rule.Source)
		if !ok {
			continue
		}

		if rule.Transform != nil {
			out, err := rule.Transform(value)
			if err != nil {
				return nil, &TransformationError{Index: i, Source: rule.Source, Transform: rule.TransformName, Err: err}
			}
			value = out
		}

		assign(result, rule.Target, deepCopy(value))
	}

	return result, nil
}

// ApplyJSON decodes raw, applies rules and re-encodes the result. Numbers are decoded
// as json.Number so passthrough values keep their precision.
func ApplyJSON(raw json.RawMessage, rules []Rule) (json.RawMessage, error) {
	payload, err := Decode(raw)
	if err != nil {
		return nil, err
	}

	result, err := Apply(payload, rules)
	if err != nil {
		return nil, err
	}

	out, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encode transformed payload: %w", err)
	}
	return out, nil
}

// Decode parses a JSON document keeping numbers as json.Number.
func Decode(raw json.RawMessage) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var payload any
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return payload, nil
}

func lookup(payload any, path string) (any, bool) {
	current := payload
	for _, key := range strings.Split(path, ".") {
		obj, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = obj[key]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func assign(result map[string]any, path string, value any) {
	keys := strings.Split(path, ".")
	last := keys[len(keys)-1]

	current := result
	for _, key := range keys[:len(keys)-1] {
		next, ok := current[key].(map[string]any)
		if !ok {
			next = make(map[string]any)
			current[key] = next
		}
		current = next
	}
	current[last] = value
}

func deepCopy(value any) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = deepCopy(item)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = deepCopy(item)
		}
		return out
	default:
		return v
	}
}
