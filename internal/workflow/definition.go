package workflow

import (
	"time"

	"github.com/goccy/go-yaml"

	"github.com/caplet-dev/caplet/internal/values"
)

// Definition is the YAML form of a workflow used by front-ends.
type Definition struct {
	Name        string           `yaml:"name"`
	Description string           `yaml:"description,omitempty"`
	Version     string           `yaml:"version,omitempty"`
	Nodes       []NodeDefinition `yaml:"nodes"`
}

// NodeDefinition is the YAML form of one node.
type NodeDefinition struct {
	ID        string         `yaml:"id"`
	Kind      string         `yaml:"kind,omitempty"`
	Plugin    string         `yaml:"plugin,omitempty"`
	Function  string         `yaml:"function,omitempty"`
	Condition string         `yaml:"condition,omitempty"`
	DependsOn []string       `yaml:"depends_on,omitempty"`
	Config    map[string]any `yaml:"config,omitempty"`

	ErrorPolicy *ErrorPolicyDefinition `yaml:"error_policy,omitempty"`
}

// ErrorPolicyDefinition is the YAML form of a node error policy.
type ErrorPolicyDefinition struct {
	Kind       string `yaml:"kind"`
	MaxRetries int    `yaml:"max_retries,omitempty"`
	Backoff    string `yaml:"backoff,omitempty"`
	DelayMS    uint64 `yaml:"delay_ms,omitempty"`
	MaxDelayMS uint64 `yaml:"max_delay_ms,omitempty"`
}

// ParseDefinition decodes a YAML workflow document into a validated
// workflow.
func ParseDefinition(data []byte) (*Workflow, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, &InvalidDefinitionError{Detail: "not valid YAML: " + err.Error()}
	}
	return def.Build()
}

// Build converts the definition into a validated workflow.
func (d Definition) Build() (*Workflow, error) {
	w := New(d.Name, d.Description)
	if d.Version != "" {
		w.Version = d.Version
	}

	for _, nd := range d.Nodes {
		kind := NodeKind(nd.Kind)
		if nd.Kind == "" {
			kind = KindTask
		}
		node := Node{
			ID:        values.NodeID(nd.ID),
			Kind:      kind,
			Plugin:    nd.Plugin,
			Function:  nd.Function,
			Condition: nd.Condition,
			Config:    nd.Config,
		}
		if nd.ErrorPolicy != nil {
			node.ErrorPolicy = ErrorPolicy{
				Kind:       PolicyKind(nd.ErrorPolicy.Kind),
				MaxRetries: nd.ErrorPolicy.MaxRetries,
				Backoff:    BackoffKind(nd.ErrorPolicy.Backoff),
				Delay:      time.Duration(nd.ErrorPolicy.DelayMS) * time.Millisecond,
				MaxDelay:   time.Duration(nd.ErrorPolicy.MaxDelayMS) * time.Millisecond,
			}
		}
		w.AddNode(node)
	}

	for _, nd := range d.Nodes {
		for _, dep := range nd.DependsOn {
			if err := w.AddDependency(values.NodeID(dep), values.NodeID(nd.ID)); err != nil {
				return nil, err
			}
		}
	}

	if err := w.Validate(); err != nil {
		return nil, err
	}
	return w, nil
}
