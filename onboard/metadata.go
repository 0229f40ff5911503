package onboard

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ruteri/runtime-init/resolver"
)

//go:embed metadata.json
var defaultMetadata []byte

// ExtensionMetadata describes the known extensions: their package names,
// management endpoints and downloadable versions.
type ExtensionMetadata struct {
	Components map[string]*Component `json:"components"`
}

// Component is one extension type.
type Component struct {
	PackageName string             `json:"packageName"`
	Endpoints   Endpoints          `json:"endpoints"`
	Versions    map[string]Release `json:"versions"`
}

// Endpoints are management API paths of an extension. Task contains an
// "{id}" placeholder for the id of an asynchronous declaration.
type Endpoints struct {
	Info      string `json:"info"`
	Configure string `json:"configure"`
	Task      string `json:"task"`
}

// Release is a downloadable version of an extension.
type Release struct {
	DownloadURL string `json:"downloadUrl"`
	Hash        string `json:"hash"`
}

// DefaultExtensionMetadata returns the built-in metadata. It carries
// endpoints only; versions come from extensionUrl or remote metadata.
func DefaultExtensionMetadata() *ExtensionMetadata {
	m, err := ParseExtensionMetadata(defaultMetadata)
	if err != nil {
		panic(fmt.Sprintf("invalid built-in extension metadata: %v", err))
	}
	return m
}

// ParseExtensionMetadata decodes a metadata document.
func ParseExtensionMetadata(data []byte) (*ExtensionMetadata, error) {
	var m ExtensionMetadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("invalid extension metadata: %w", err)
	}
	if m.Components == nil {
		m.Components = make(map[string]*Component)
	}
	for name, c := range m.Components {
		if lower := strings.ToLower(name); lower != name {
			delete(m.Components, name)
			m.Components[lower] = c
		}
	}
	return &m, nil
}

// LoadExtensionMetadata fetches a metadata document and merges it over the
// built-in one.
func LoadExtensionMetadata(ctx context.Context, loader ByteLoader, location string, opts resolver.Options) (*ExtensionMetadata, error) {
	data, err := loader.LoadBytes(ctx, location, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to load extension metadata: %w", err)
	}
	remote, err := ParseExtensionMetadata(data)
	if err != nil {
		return nil, err
	}

	m := DefaultExtensionMetadata()
	m.Merge(remote)
	return m, nil
}

// Merge overlays other onto m. Non-empty fields of other win.
func (m *ExtensionMetadata) Merge(other *ExtensionMetadata) {
	for name, oc := range other.Components {
		name = strings.ToLower(name)
		c, ok := m.Components[name]
		if !ok {
			m.Components[name] = oc
			continue
		}
		if oc.PackageName != "" {
			c.PackageName = oc.PackageName
		}
		if oc.Endpoints.Info != "" {
			c.Endpoints.Info = oc.Endpoints.Info
		}
		if oc.Endpoints.Configure != "" {
			c.Endpoints.Configure = oc.Endpoints.Configure
		}
		if oc.Endpoints.Task != "" {
			c.Endpoints.Task = oc.Endpoints.Task
		}
		for v, r := range oc.Versions {
			if c.Versions == nil {
				c.Versions = make(map[string]Release)
			}
			c.Versions[v] = r
		}
	}
}

// Component returns the metadata of an extension type.
func (m *ExtensionMetadata) Component(extensionType string) (*Component, bool) {
	c, ok := m.Components[strings.ToLower(extensionType)]
	return c, ok
}

// HasRelease reports whether a download location is known for version.
func (m *ExtensionMetadata) HasRelease(extensionType, version string) bool {
	c, ok := m.Component(extensionType)
	if !ok {
		return false
	}
	release, ok := c.Versions[version]
	return ok && release.DownloadURL != ""
}

// TaskPath returns the task endpoint for id, or "" when the extension has none.
func (e Endpoints) TaskPath(id string) string {
	if e.Task == "" || id == "" {
		return ""
	}
	return strings.ReplaceAll(e.Task, "{id}", id)
}
