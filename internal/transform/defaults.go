package transform

import "regexp"

// PropertySystemA is the source system with a built-in mapping.
const PropertySystemA = "propertysysA"

var (
	unitNumberPattern = regexp.MustCompile(`unit-(\d+)$`)
	buildingPattern   = regexp.MustCompile(`bldg-(\d+)`)
)

// PropertySystemRules is the built-in mapping for propertysysA payloads.
func PropertySystemRules() []Rule {
	return []Rule{
		{Source: "unit_id", Target: "unitNumber", TransformName: "regex_extract", Transform: RegexExtract(unitNumberPattern)},
		{Source: "unit_id", Target: "buildingId", TransformName: "regex_extract", Transform: RegexExtract(buildingPattern)},
		{Source: "tenant_name", Target: "resident.fullName"},
		{Source: "lease_start", Target: "resident.leaseStartDate", TransformName: "iso8601", Transform: ISODate},
		{Source: "monthly_rent", Target: "resident.rentAmount", TransformName: "round", Transform: Round(2)},
	}
}

// DefaultRules returns the built-in rules for a source system, or nil when payloads
// from it pass through unchanged.
func DefaultRules(sourceSystem string) []Rule {
	if sourceSystem == PropertySystemA {
		return PropertySystemRules()
	}
	return nil
}
