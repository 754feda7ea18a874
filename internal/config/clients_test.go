package config

import (
	"errors"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/webhook-relay/internal/models"
)

const sampleClients = `
clients:
  - id: clientA
    secret: client-a-secret
    transformations:
      - source: unit_id
        target: unitNumber
        transform:
          name: regex_extract
          pattern: 'unit-(\d+)$'
      - source: lease_start
        target: resident.leaseStartDate
        transform: iso8601
        source_system: propertysysA
      - source: tenant_name
        target: resident.fullName
    destinations:
      - type: http
        url: https://hooks.example.com/a
        headers:
          Authorization: Bearer abc
      - type: postgres-table
        schema: crm
        table: units
  - id: clientB
    destinations:
      - type: postgres
`

func TestParseClients(t *testing.T) {
	reg, err := ParseClients([]byte(sampleClients))
	require.NoError(t, err)
	assert.Equal(t, 2, reg.Len())

	a, ok := reg.Lookup("clientA")
	require.True(t, ok)
	assert.Equal(t, "client-a-secret", reg.Secret("clientA"))

	require.Len(t, a.Rules, 3)
	assert.Equal(t, "regex_extract", a.Rules[0].TransformName)
	require.NotNil(t, a.Rules[0].Transform)
	got, err := a.Rules[0].Transform("bldg-1-unit-9")
	require.NoError(t, err)
	assert.Equal(t, "9", got)
	assert.Equal(t, "propertysysA", a.Rules[1].SourceSystem)
	assert.Nil(t, a.Rules[2].Transform)

	dests := reg.Destinations("clientA")
	require.Len(t, dests, 2)
	assert.Equal(t, models.DestinationHTTP, dests[0].Type)
	assert.Equal(t, "Bearer abc", dests[0].Headers["Authorization"])
	assert.Equal(t, models.DestinationPostgres, dests[1].Type)
	assert.Equal(t, "crm.units", dests[1].Identifier())

	b := reg.Destinations("clientB")
	require.Len(t, b, 1)
	assert.Equal(t, "public.property_updates", b[0].Identifier())
	assert.Empty(t, reg.Secret("clientB"))
}

func TestParseClients_UnknownClient(t *testing.T) {
	reg, err := ParseClients([]byte(sampleClients))
	require.NoError(t, err)

	_, ok := reg.Lookup("nobody")
	assert.False(t, ok)
	assert.Nil(t, reg.Destinations("nobody"))
	assert.Nil(t, reg.TransformationRules("nobody"))
}

func TestParseClients_Invalid(t *testing.T) {
	tests := map[string]string{
		"missing id":        "clients:\n  - destinations: []\n",
		"duplicate id":      "clients:\n  - id: a\n  - id: a\n",
		"bad transform":     "clients:\n  - id: a\n    transformations:\n      - {source: x, target: y, transform: explode}\n",
		"bad regex":         "clients:\n  - id: a\n    transformations:\n      - source: x\n        target: y\n        transform: {name: regex_extract, pattern: '('}\n",
		"missing target":    "clients:\n  - id: a\n    transformations:\n      - {source: x}\n",
		"bad type":          "clients:\n  - id: a\n    destinations:\n      - {type: ftp}\n",
		"unsafe table name": "clients:\n  - id: a\n    destinations:\n      - {type: postgres, table: 'x; drop table events'}\n",
		"http without url":  "clients:\n  - id: a\n    destinations:\n      - {type: http}\n",
		"not yaml":          "clients: [",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseClients([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadClients_MissingFile(t *testing.T) {
	_, err := LoadClients("/nonexistent/clients.yaml")
	require.Error(t, err)
	assert.True(t, errors.Is(err, fs.ErrNotExist))
}

func TestNewClientRegistry(t *testing.T) {
	reg := NewClientRegistry(&Client{ID: "x", Destinations: []models.Destination{{Type: models.DestinationPostgres}}})
	assert.Len(t, reg.Destinations("x"), 1)

	var nilReg *ClientRegistry
	_, ok := nilReg.Lookup("x")
	assert.False(t, ok)
	assert.Equal(t, 0, nilReg.Len())
}
