package transform

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticRules map[string][]Rule

func (s staticRules) TransformationRules(clientID string) []Rule {
	return s[clientID]
}

func TestResolver_RulesFor(t *testing.T) {
	lookup := staticRules{
		"clientA": {
			{Source: "a", Target: "x"},
			{Source: "b", Target: "y", SourceSystem: "crm"},
		},
		"clientB": {
			{Source: "b", Target: "y", SourceSystem: "crm"},
		},
	}
	r := NewResolver(lookup)

	assert.Len(t, r.RulesFor("clientA", "crm"), 2)
	assert.Len(t, r.RulesFor("clientA", "other"), 1)

	// Scoped-out rules fall back to the built-in defaults.
	assert.Len(t, r.RulesFor("clientB", PropertySystemA), len(PropertySystemRules()))
	assert.Nil(t, r.RulesFor("clientB", "other"))
	assert.Len(t, r.RulesFor("unknown", PropertySystemA), len(PropertySystemRules()))
}

func TestResolver_TransformPassthrough(t *testing.T) {
	r := NewResolver(staticRules{})
	payload := json.RawMessage(`{"anything":[1,2,3],"big":12345678901234567890}`)

	out, err := r.Transform("clientZ", "unknownSystem", payload)
	require.NoError(t, err)
	assert.Equal(t, string(payload), string(out))
}

func TestResolver_TransformDefaults(t *testing.T) {
	r := NewResolver(nil)

	out, err := r.Transform("clientA", PropertySystemA, json.RawMessage(`{"tenant_name":"A B"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"resident":{"fullName":"A B"}}`, string(out))
}
