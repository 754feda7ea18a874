package transform

import (
	"encoding/json"
	"errors"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, s string) any {
	t.Helper()
	v, err := Decode(json.RawMessage(s))
	require.NoError(t, err)
	return v
}

func TestApply_PropertySystemDefaults(t *testing.T) {
	payload := decode(t, `{"unit_id":"bldg-123-unit-45","tenant_name":"John Smith","lease_start":"2024-01-01","monthly_rent":2500}`)

	out, err := ApplyJSON(mustMarshal(t, payload), PropertySystemRules())
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"unitNumber": "45",
		"buildingId": "123",
		"resident": {
			"fullName": "John Smith",
			"leaseStartDate": "2024-01-01T00:00:00.000Z",
			"rentAmount": 2500.0
		}
	}`, string(out))
}

func TestApply_MissingSourceLeavesTargetUnset(t *testing.T) {
	rules := []Rule{
		{Source: "tenant_name", Target: "resident.fullName"},
		{Source: "missing.deep", Target: "resident.other"},
		{Source: "absent", Target: "top"},
	}

	result, err := Apply(decode(t, `{"tenant_name":"Jane"}`), rules)
	require.NoError(t, err)

	_, ok := result["top"]
	assert.False(t, ok, "absent source must not produce a key")
	resident := result["resident"].(map[string]any)
	_, ok = resident["other"]
	assert.False(t, ok)
	assert.Equal(t, "Jane", resident["fullName"])
}

func TestApply_CreatesIntermediateObjects(t *testing.T) {
	rules := []Rule{{Source: "value", Target: "nested.value"}}

	out, err := ApplyJSON(json.RawMessage(`{"value":100}`), rules)
	require.NoError(t, err)
	assert.JSONEq(t, `{"nested":{"value":100}}`, string(out))
}

func TestApply_LastWriteWins(t *testing.T) {
	rules := []Rule{
		{Source: "a", Target: "out"},
		{Source: "b", Target: "out"},
	}

	result, err := Apply(decode(t, `{"a":"first","b":"second"}`), rules)
	require.NoError(t, err)
	assert.Equal(t, "second", result["out"])
}

func TestApply_NullIsPresent(t *testing.T) {
	result, err := Apply(decode(t, `{"a":null}`), []Rule{{Source: "a", Target: "b"}})
	require.NoError(t, err)

	v, ok := result["b"]
	assert.True(t, ok)
	assert.Nil(t, v)
}

func TestApply_NonObjectIntermediateIsMissing(t *testing.T) {
	result, err := Apply(decode(t, `{"a":"scalar"}`), []Rule{{Source: "a.b", Target: "x"}})
	require.NoError(t, err)
	assert.Empty(t, result)
}

func TestApply_DoesNotMutatePayload(t *testing.T) {
	payload := decode(t, `{"obj":{"k":"v"}}`)
	rules := []Rule{
		{Source: "obj", Target: "copy"},
		{Source: "obj.k", Target: "copy.extra"},
	}

	_, err := Apply(payload, rules)
	require.NoError(t, err)

	obj := payload.(map[string]any)["obj"].(map[string]any)
	assert.Len(t, obj, 1)
}

func TestApply_TransformError(t *testing.T) {
	rules := []Rule{
		{Source: "ok", Target: "ok"},
		{Source: "bad", Target: "bad", TransformName: "iso8601", Transform: ISODate},
	}

	_, err := Apply(decode(t, `{"ok":1,"bad":"not a date"}`), rules)
	require.Error(t, err)

	var terr *TransformationError
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, 1, terr.Index)
	assert.Equal(t, "bad", terr.Source)
	assert.Contains(t, err.Error(), "iso8601")
}

func TestApplyJSON_InvalidPayload(t *testing.T) {
	_, err := ApplyJSON(json.RawMessage(`{not json`), PropertySystemRules())
	assert.Error(t, err)
}

func TestRegexExtract(t *testing.T) {
	fn := RegexExtract(regexp.MustCompile(`unit-(\d+)$`))

	got, err := fn("bldg-9-unit-77")
	require.NoError(t, err)
	assert.Equal(t, "77", got)

	got, err = fn("no-match")
	require.NoError(t, err)
	assert.Equal(t, "no-match", got)

	_, err = fn(json.Number("5"))
	assert.Error(t, err)
}

func TestISODate(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{"2024-01-01", "2024-01-01T00:00:00.000Z"},
		{"2024-03-15T10:30:00Z", "2024-03-15T10:30:00.000Z"},
		{"2024-03-15T10:30:00+02:00", "2024-03-15T08:30:00.000Z"},
		{"2024-03-15T10:30:00.123Z", "2024-03-15T10:30:00.123Z"},
		{json.Number("0"), "1970-01-01T00:00:00.000Z"},
	}
	for _, tt := range tests {
		got, err := ISODate(tt.in)
		require.NoError(t, err, "input %v", tt.in)
		assert.Equal(t, tt.want, got)
	}

	_, err := ISODate("yesterday")
	assert.Error(t, err)
	_, err = ISODate(true)
	assert.Error(t, err)
}

func TestRound(t *testing.T) {
	fn := Round(2)

	got, err := fn(json.Number("1234.5678"))
	require.NoError(t, err)
	assert.Equal(t, 1234.57, got)

	got, err = fn("99.999")
	require.NoError(t, err)
	assert.Equal(t, 100.0, got)

	_, err = fn(map[string]any{})
	assert.Error(t, err)
}

func TestCompile(t *testing.T) {
	zero := 0
	tests := []struct {
		name    string
		spec    Spec
		input   any
		want    any
		wantErr bool
	}{
		{name: "identity", spec: Spec{}, input: "x", want: "x"},
		{name: "regex", spec: Spec{Name: "regex_extract", Pattern: `bldg-(\d+)`}, input: "bldg-4-unit-1", want: "4"},
		{name: "round zero places", spec: Spec{Name: "round", Places: &zero}, input: json.Number("2.6"), want: 3.0},
		{name: "lowercase", spec: Spec{Name: "lowercase"}, input: "ABC", want: "abc"},
		{name: "uppercase", spec: Spec{Name: "uppercase"}, input: "abc", want: "ABC"},
		{name: "trim", spec: Spec{Name: "trim"}, input: "  a ", want: "a"},
		{name: "to_string number", spec: Spec{Name: "to_string"}, input: json.Number("12"), want: "12"},
		{name: "to_float", spec: Spec{Name: "to_float"}, input: "1.5", want: 1.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fn, err := Compile(tt.spec)
			require.NoError(t, err)
			if fn == nil {
				assert.Equal(t, tt.want, tt.input)
				return
			}
			got, err := fn(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCompile_Errors(t *testing.T) {
	negative := -1
	for _, spec := range []Spec{
		{Name: "regex_extract"},
		{Name: "regex_extract", Pattern: "("},
		{Name: "round", Places: &negative},
		{Name: "explode"},
	} {
		_, err := Compile(spec)
		assert.Error(t, err, "spec %+v", spec)
	}
}

func mustMarshal(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}
