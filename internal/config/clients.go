package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/telhawk-systems/webhook-relay/internal/models"
	"github.com/telhawk-systems/webhook-relay/internal/transform"
)

// Client is the resolved, immutable configuration of one webhook client.
type Client struct {
	ID           string
	Secret       string
	Rules        []transform.Rule
	Destinations []models.Destination
}

// ClientRegistry maps client identifiers to their configuration. It is built once at
// startup and shared read-only; lookups of unknown clients report not found.
type ClientRegistry struct {
	clients map[string]*Client
}

type clientsFile struct {
	Clients []clientEntry `yaml:"clients"`
}

type clientEntry struct {
	ID              string             `yaml:"id"`
	Secret          string             `yaml:"secret"`
	Transformations []ruleEntry        `yaml:"transformations"`
	Destinations    []destinationEntry `yaml:"destinations"`
}

type ruleEntry struct {
	Source       string        `yaml:"source"`
	Target       string        `yaml:"target"`
	SourceSystem string        `yaml:"source_system"`
	Transform    transformSpec `yaml:"transform"`
}

type destinationEntry struct {
	Type    string            `yaml:"type"`
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers"`
	Schema  string            `yaml:"schema"`
	Table   string            `yaml:"table"`
}

// transformSpec accepts either a bare name ("iso8601") or a mapping with parameters.
type transformSpec struct {
	transform.Spec
}

func (t *transformSpec) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		t.Name = node.Value
		return nil
	}
	return node.Decode(&t.Spec)
}

// NewClientRegistry builds a registry from already-resolved clients.
func NewClientRegistry(clients ...*Client) *ClientRegistry {
	r := &ClientRegistry{clients: make(map[string]*Client, len(clients))}
	for _, c := range clients {
		r.clients[c.ID] = c
	}
	return r
}

// LoadClients reads and validates the clients YAML file at path.
func LoadClients(path string) (*ClientRegistry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read clients file: %w", err)
	}
	return ParseClients(data)
}

// ParseClients parses clients YAML, compiling transforms and validating destinations.
func ParseClients(data []byte) (*ClientRegistry, error) {
	var file clientsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse clients file: %w", err)
	}

	r := &ClientRegistry{clients: make(map[string]*Client, len(file.Clients))}
	for i, entry := range file.Clients {
		if entry.ID == "" {
			return nil, fmt.Errorf("client %d: id is required", i)
		}
		if _, dup := r.clients[entry.ID]; dup {
			return nil, fmt.Errorf("client %q: defined more than once", entry.ID)
		}

		client, err := entry.resolve()
		if err != nil {
			return nil, fmt.Errorf("client %q: %w", entry.ID, err)
		}
		r.clients[client.ID] = client
	}
	return r, nil
}

func (e clientEntry) resolve() (*Client, error) {
	client := &Client{ID: e.ID, Secret: e.Secret}

	for i, re := range e.Transformations {
		if re.Source == "" || re.Target == "" {
			return nil, fmt.Errorf("transformation %d: source and target are required", i)
		}
		fn, err := transform.Compile(re.Transform.Spec)
		if err != nil {
			return nil, fmt.Errorf("transformation %d: %w", i, err)
		}
		client.Rules = append(client.Rules, transform.Rule{
			Source:        re.Source,
			Target:        re.Target,
			SourceSystem:  re.SourceSystem,
			TransformName: re.Transform.Name,
			Transform:     fn,
		})
	}

	for i, de := range e.Destinations {
		typ, err := models.ParseDestinationType(de.Type)
		if err != nil {
			return nil, fmt.Errorf("destination %d: %w", i, err)
		}
		dest := models.Destination{
			Type:    typ,
			URL:     de.URL,
			Headers: de.Headers,
			Schema:  de.Schema,
			Table:   de.Table,
		}
		if err := dest.Validate(); err != nil {
			return nil, fmt.Errorf("destination %d: %w", i, err)
		}
		client.Destinations = append(client.Destinations, dest)
	}

	return client, nil
}

// Lookup returns the client configuration, or false when the client is unknown.
func (r *ClientRegistry) Lookup(clientID string) (*Client, bool) {
	if r == nil {
		return nil, false
	}
	c, ok := r.clients[clientID]
	return c, ok
}

// TransformationRules returns the client's ordered rules; nil for unknown clients.
func (r *ClientRegistry) TransformationRules(clientID string) []transform.Rule {
	if c, ok := r.Lookup(clientID); ok {
		return c.Rules
	}
	return nil
}

// Destinations returns the client's ordered destinations; nil for unknown clients.
func (r *ClientRegistry) Destinations(clientID string) []models.Destination {
	if c, ok := r.Lookup(clientID); ok {
		return c.Destinations
	}
	return nil
}

// Secret returns the client's signing secret, or "" when it uses the global secret.
func (r *ClientRegistry) Secret(clientID string) string {
	if c, ok := r.Lookup(clientID); ok {
		return c.Secret
	}
	return ""
}

// Len returns the number of configured clients.
func (r *ClientRegistry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.clients)
}
