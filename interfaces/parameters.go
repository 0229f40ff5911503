package interfaces

import (
	"fmt"
	"strings"
)

// ParameterType selects how a runtime parameter is resolved.
type ParameterType string

const (
	ParameterSecret   ParameterType = "secret"
	ParameterMetadata ParameterType = "metadata"
	ParameterURL      ParameterType = "url"
	ParameterStatic   ParameterType = "static"
)

// RuntimeParameter is a named value resolved once at the start of a run.
type RuntimeParameter struct {
	Name             string            `yaml:"name" json:"name"`
	Type             ParameterType     `yaml:"type" json:"type"`
	Value            string            `yaml:"value" json:"value"`
	Query            string            `yaml:"query" json:"query"`
	Headers          []Header          `yaml:"headers" json:"headers"`
	VerifyTLS        *bool             `yaml:"verifyTls" json:"verifyTls"`
	IPCalc           string            `yaml:"ipcalc" json:"ipcalc"`
	SecretProvider   *SecretProvider   `yaml:"secretProvider" json:"secretProvider"`
	MetadataProvider *MetadataProvider `yaml:"metadataProvider" json:"metadataProvider"`
}

// Location returns the URI the parameter resolves through.
// Cloud-backed parameters map to "<environment>://secret/<id>" and
// "<environment>://metadata/<type>/<field>".
func (p RuntimeParameter) Location() (string, error) {
	switch p.Type {
	case ParameterURL:
		if p.Value == "" {
			return "", fmt.Errorf("parameter %s: url parameters require a value", p.Name)
		}
		return p.Value, nil
	case ParameterSecret:
		if p.SecretProvider == nil {
			return "", fmt.Errorf("parameter %s: missing secretProvider", p.Name)
		}
		return fmt.Sprintf("%s://secret/%s", strings.ToLower(p.SecretProvider.Environment), p.SecretProvider.SecretID), nil
	case ParameterMetadata:
		if p.MetadataProvider == nil {
			return "", fmt.Errorf("parameter %s: missing metadataProvider", p.Name)
		}
		return fmt.Sprintf("%s://metadata/%s/%s", strings.ToLower(p.MetadataProvider.Environment), p.MetadataProvider.Type, p.MetadataProvider.Field), nil
	default:
		return "", fmt.Errorf("parameter %s: unsupported type %q", p.Name, p.Type)
	}
}

// SecretProvider describes where a secret parameter lives.
type SecretProvider struct {
	Environment   string   `yaml:"environment" json:"environment"`
	Type          string   `yaml:"type" json:"type"`
	SecretID      string   `yaml:"secretId" json:"secretId"`
	Version       string   `yaml:"version" json:"version"`
	VaultServer   string   `yaml:"vaultServer" json:"vaultServer"`
	VaultURL      string   `yaml:"vaultUrl" json:"vaultUrl"`
	SecretsEngine string   `yaml:"secretsEngine" json:"secretsEngine"`
	SecretPath    string   `yaml:"secretPath" json:"secretPath"`
	Field         string   `yaml:"field" json:"field"`
	AppRole       *AppRole `yaml:"appRole" json:"appRole"`
}

// AppRole carries Vault AppRole credentials. RoleID and SecretID are
// themselves locations resolved before login.
type AppRole struct {
	Path     string        `yaml:"path" json:"path"`
	RoleID   ValueLocation `yaml:"roleId" json:"roleId"`
	SecretID ValueLocation `yaml:"secretId" json:"secretId"`
}

// ValueLocation is either a literal value or a location to load it from.
type ValueLocation struct {
	Type  string `yaml:"type" json:"type"`
	Value string `yaml:"value" json:"value"`
}

// MetadataProvider describes which instance metadata a parameter reads.
type MetadataProvider struct {
	Environment string `yaml:"environment" json:"environment"`
	// Type is one of "compute", "network" or "uri".
	Type  string `yaml:"type" json:"type"`
	Field string `yaml:"field" json:"field"`
	Index int    `yaml:"index" json:"index"`
	Value string `yaml:"value" json:"value"`
}

// Parameters is the resolved mapping of runtime parameter names to values.
// Insertion order is the declaration order. It is write-once per name.
type Parameters struct {
	names   []string
	values  map[string]string
	secrets map[string]bool
}

// NewParameters returns an empty mapping.
func NewParameters() *Parameters {
	return &Parameters{
		values:  make(map[string]string),
		secrets: make(map[string]bool),
	}
}

// Set records a resolved value. Names are unique.
func (p *Parameters) Set(name, value string, secret bool) error {
	if _, found := p.values[name]; found {
		return fmt.Errorf("duplicate runtime parameter %q", name)
	}
	p.names = append(p.names, name)
	p.values[name] = value
	if secret {
		p.secrets[name] = true
	}
	return nil
}

// Get returns the value of name.
func (p *Parameters) Get(name string) (string, bool) {
	v, ok := p.values[name]
	return v, ok
}

// Names returns parameter names in declaration order.
func (p *Parameters) Names() []string {
	return append([]string(nil), p.names...)
}

// Len returns the number of parameters.
func (p *Parameters) Len() int {
	return len(p.names)
}

// SecretValues returns the values of parameters resolved from secret stores.
func (p *Parameters) SecretValues() []string {
	var out []string
	for _, name := range p.names {
		if p.secrets[name] {
			out = append(out, p.values[name])
		}
	}
	return out
}
