package transform

import (
	"encoding/json"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestApplyProperties checks path-mapping invariants over generated keys and values.
func TestApplyProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("missing source never writes the target", prop.ForAll(
		func(present, absent, target, value string) bool {
			if present == absent {
				return true
			}
			payload := map[string]any{present: value}
			result, err := Apply(payload, []Rule{{Source: absent, Target: target}})
			return err == nil && len(result) == 0
		},
		gen.Identifier(), gen.Identifier(), gen.Identifier(), gen.AlphaString(),
	))

	properties.Property("nested target round-trips the value", prop.ForAll(
		func(outer, inner, value string) bool {
			result, err := Apply(map[string]any{"v": value}, []Rule{{Source: "v", Target: outer + "." + inner}})
			if err != nil {
				return false
			}
			nested, ok := result[outer].(map[string]any)
			return ok && nested[inner] == value
		},
		gen.Identifier(), gen.Identifier(), gen.AlphaString(),
	))

	properties.Property("payload is unchanged by Apply", prop.ForAll(
		func(keys []string, value string) bool {
			payload := map[string]any{}
			var rules []Rule
			for _, k := range keys {
				payload[k] = map[string]any{"leaf": value}
				rules = append(rules, Rule{Source: k, Target: "copy"}, Rule{Source: k + ".leaf", Target: "copy.extra"})
			}
			before, _ := json.Marshal(payload)
			if _, err := Apply(payload, rules); err != nil {
				return false
			}
			after, _ := json.Marshal(payload)
			return string(before) == string(after)
		},
		gen.SliceOf(gen.Identifier()), gen.AlphaString(),
	))

	properties.TestingRun(t)
}
