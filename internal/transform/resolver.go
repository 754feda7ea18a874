package transform

import (
	"encoding/json"
)

// RuleLookup returns the configured rules for a client. Unknown clients yield nil.
type RuleLookup interface {
	TransformationRules(clientID string) []Rule
}

// Resolver picks the rule set for a (client, source system) pair and applies it.
type Resolver struct {
	lookup RuleLookup
}

// NewResolver creates a Resolver backed by the client configuration.
func NewResolver(lookup RuleLookup) *Resolver {
	return &Resolver{lookup: lookup}
}

// RulesFor returns the client's rules scoped to sourceSystem, falling back to the
// built-in defaults. A nil result means passthrough.
func (r *Resolver) RulesFor(clientID, sourceSystem string) []Rule {
	var rules []Rule
	if r.lookup != nil {
		for _, rule := range r.lookup.TransformationRules(clientID) {
			if rule.SourceSystem == "" || rule.SourceSystem == sourceSystem {
				rules = append(rules, rule)
			}
		}
	}
	if len(rules) > 0 {
		return rules
	}
	return DefaultRules(sourceSystem)
}

// Transform shapes payload for the client. With no applicable rules the payload is
// returned as received.
func (r *Resolver) Transform(clientID, sourceSystem string, payload json.RawMessage) (json.RawMessage, error) {
	rules := r.RulesFor(clientID, sourceSystem)
	if len(rules) == 0 {
		return payload, nil
	}
	return ApplyJSON(payload, rules)
}
