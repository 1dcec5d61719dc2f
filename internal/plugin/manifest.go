package plugin

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/goccy/go-yaml"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/caplet-dev/caplet/internal/capability"
	"github.com/caplet-dev/caplet/internal/isolation"
)

// Manifest is the declarative, serialisable description used to
// bootstrap a plugin.
type Manifest struct {
	Name        string `yaml:"name" json:"name"`
	Version     string `yaml:"version" json:"version"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	Source Source `yaml:"source" json:"source"`

	RequestedCapabilities []CapabilityDecl `yaml:"requested_capabilities,omitempty" json:"requested_capabilities,omitempty"`

	ResourceLimits ResourceLimits `yaml:"resource_limits,omitempty" json:"resource_limits,omitempty"`

	Functions []FunctionDecl `yaml:"functions,omitempty" json:"functions,omitempty"`
}

// Source locates or embeds the plugin bytecode.
type Source struct {
	// Path points at a compiled module on disk or a URL.
	Path string `yaml:"path,omitempty" json:"path,omitempty"`

	// Inline carries base64-encoded bytecode directly.
	Inline string `yaml:"inline,omitempty" json:"inline,omitempty"`
}

// Location returns the human-readable source location for metadata.
func (s Source) Location() string {
	if s.Path != "" {
		return s.Path
	}
	return "inline"
}

// InlineBytes decodes embedded bytecode.
func (s Source) InlineBytes() ([]byte, error) {
	if s.Inline == "" {
		return nil, nil
	}
	return base64.StdEncoding.DecodeString(s.Inline)
}

// CapabilityDecl is the manifest form of one capability literal. Kind
// selects which parameter group applies.
type CapabilityDecl struct {
	Kind string `yaml:"kind" json:"kind"`

	// file
	Paths   []string `yaml:"paths,omitempty" json:"paths,omitempty"`
	Read    bool     `yaml:"read,omitempty" json:"read,omitempty"`
	Write   bool     `yaml:"write,omitempty" json:"write,omitempty"`
	Execute bool     `yaml:"execute,omitempty" json:"execute,omitempty"`

	// network
	Hosts   []string   `yaml:"hosts,omitempty" json:"hosts,omitempty"`
	Ports   []PortDecl `yaml:"ports,omitempty" json:"ports,omitempty"`
	Connect bool       `yaml:"connect,omitempty" json:"connect,omitempty"`
	Listen  bool       `yaml:"listen,omitempty" json:"listen,omitempty"`

	// message
	Topics map[string][]string `yaml:"topics,omitempty" json:"topics,omitempty"`

	// plugin_call
	Targets map[string][]string `yaml:"targets,omitempty" json:"targets,omitempty"`
}

// PortDecl is a port range in a manifest; Hi defaults to Lo.
type PortDecl struct {
	Lo uint16 `yaml:"lo" json:"lo"`
	Hi uint16 `yaml:"hi,omitempty" json:"hi,omitempty"`
}

// ResourceLimits bounds a plugin's execution.
type ResourceLimits struct {
	MemoryBytes uint64 `yaml:"memory_bytes,omitempty" json:"memory_bytes,omitempty"`
	Fuel        uint64 `yaml:"fuel,omitempty" json:"fuel,omitempty"`
	TimeoutMS   uint64 `yaml:"timeout_ms,omitempty" json:"timeout_ms,omitempty"`
}

// IsolationLimits converts manifest limits to per-instance limits.
func (r ResourceLimits) IsolationLimits() isolation.Limits {
	return isolation.Limits{
		Fuel:        r.Fuel,
		CallTimeout: time.Duration(r.TimeoutMS) * time.Millisecond,
	}
}

// FunctionDecl is an optional schema entry for one exported function.
type FunctionDecl struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

const manifestSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["name", "version", "source"],
  "properties": {
    "name": {"type": "string", "minLength": 1, "pattern": "^[a-z0-9][a-z0-9_-]*$"},
    "version": {"type": "string", "minLength": 1},
    "description": {"type": "string"},
    "source": {
      "type": "object",
      "properties": {
        "path": {"type": "string"},
        "inline": {"type": "string"}
      }
    },
    "requested_capabilities": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["kind"],
        "properties": {
          "kind": {"enum": ["file", "network", "message", "plugin_call"]}
        }
      }
    },
    "resource_limits": {
      "type": "object",
      "properties": {
        "memory_bytes": {"type": "integer", "minimum": 0},
        "fuel": {"type": "integer", "minimum": 0},
        "timeout_ms": {"type": "integer", "minimum": 0}
      }
    }
  }
}`

var compiledManifestSchema = jsonschema.MustCompileString("manifest.json", manifestSchema)

// ParseManifest decodes and validates a YAML manifest document.
func ParseManifest(data []byte) (*Manifest, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &ManifestError{Detail: "not valid YAML", Cause: err}
	}
	if err := compiledManifestSchema.Validate(raw); err != nil {
		return nil, &ManifestError{Detail: "schema validation failed", Cause: err}
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, &ManifestError{Detail: "cannot decode manifest", Cause: err}
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks invariants the schema cannot express.
func (m *Manifest) Validate() error {
	if m.Name == "" {
		return &ManifestError{Detail: "name is required"}
	}
	if _, err := semver.NewVersion(m.Version); err != nil {
		return &ManifestError{Detail: fmt.Sprintf("version %q is not semver", m.Version), Cause: err}
	}
	if m.Source.Path == "" && m.Source.Inline == "" {
		return &ManifestError{Detail: "source requires a path or inline bytecode"}
	}
	for i := range m.RequestedCapabilities {
		if _, err := m.RequestedCapabilities[i].ToCapability(); err != nil {
			return &ManifestError{Detail: fmt.Sprintf("requested_capabilities[%d] invalid", i), Cause: err}
		}
	}
	return nil
}

// ToCapability converts a declaration into a capability value.
func (d CapabilityDecl) ToCapability() (capability.Capability, error) {
	switch d.Kind {
	case "file":
		if len(d.Paths) == 0 {
			return nil, fmt.Errorf("file capability requires paths")
		}
		return capability.NewFile(d.Paths, d.Read, d.Write, d.Execute), nil
	case "network":
		if len(d.Hosts) == 0 {
			return nil, fmt.Errorf("network capability requires hosts")
		}
		ports := make([]capability.PortRange, 0, len(d.Ports))
		for _, p := range d.Ports {
			hi := p.Hi
			if hi == 0 {
				hi = p.Lo
			}
			ports = append(ports, capability.PortRange{Lo: p.Lo, Hi: hi})
		}
		return capability.NewNetwork(d.Hosts, ports, d.Connect, d.Listen), nil
	case "message":
		if len(d.Topics) == 0 {
			return nil, fmt.Errorf("message capability requires topics")
		}
		return capability.NewMessage(d.Topics), nil
	case "plugin_call":
		if len(d.Targets) == 0 {
			return nil, fmt.Errorf("plugin_call capability requires targets")
		}
		return capability.NewPluginCall(d.Targets), nil
	default:
		return nil, fmt.Errorf("unknown capability kind %q", d.Kind)
	}
}
