package authconfig

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	GraphEndpoint         = "https://graph.microsoft.com/v1.0/"
	TenantListingEndpoint = "https://management.azure.com/tenants?api-version=2020-01-01"
)

// ResourceEntry maps a URL pattern to the scopes requested for it. A nil
// Scopes list marks the resource as known but never given a token.
type ResourceEntry struct {
	Pattern string   `yaml:"pattern"`
	Scopes  []string `yaml:"scopes"`
}

// RequiresToken reports whether calls matching the entry get a bearer token.
func (e ResourceEntry) RequiresToken() bool {
	return len(e.Scopes) > 0
}

// ProtectedResourceMap is an ordered list of protected resources.
type ProtectedResourceMap struct {
	entries []ResourceEntry
}

// NewProtectedResourceMap returns an empty map.
func NewProtectedResourceMap() *ProtectedResourceMap {
	return &ProtectedResourceMap{}
}

// BuildProtectedResourceMap returns the built-in protected resources for env.
func BuildProtectedResourceMap(env Environment) *ProtectedResourceMap {
	m := NewProtectedResourceMap()
	m.Add(GraphEndpoint, []string{"user.read", "organization.read.all"})
	// tenant listing
	m.Add(TenantListingEndpoint, []string{"https://management.azure.com/user_impersonation"})
	// an endpoint without a scope would demand a token nobody can request
	if env.AuthenticationEndpoint != "" && env.AuthenticationEndpointScope != "" {
		m.Add(env.AuthenticationEndpoint, []string{env.AuthenticationEndpointScope})
	}
	return m
}

// Add appends an entry. Entries added later never shadow earlier ones.
func (m *ProtectedResourceMap) Add(pattern string, scopes []string) {
	var s []string
	if scopes != nil {
		s = append([]string{}, scopes...)
	}
	m.entries = append(m.entries, ResourceEntry{Pattern: pattern, Scopes: s})
}

// Len returns the number of entries.
func (m *ProtectedResourceMap) Len() int {
	return len(m.entries)
}

// Entries returns a copy of the entries in insertion order.
func (m *ProtectedResourceMap) Entries() []ResourceEntry {
	out := make([]ResourceEntry, len(m.entries))
	copy(out, m.entries)
	return out
}

// Match returns the first entry, in insertion order, whose pattern matches
// rawURL. A pattern matches as a prefix; '*' matches any run of characters.
func (m *ProtectedResourceMap) Match(rawURL string) (ResourceEntry, bool) {
	for _, e := range m.entries {
		if matchPattern(e.Pattern, rawURL) {
			return e, true
		}
	}
	return ResourceEntry{}, false
}

func matchPattern(pattern, s string) bool {
	if pattern == "" {
		return false
	}
	parts := strings.Split(pattern, "*")
	if !strings.HasPrefix(s, parts[0]) {
		return false
	}
	s = s[len(parts[0]):]
	for _, p := range parts[1:] {
		i := strings.Index(s, p)
		if i < 0 {
			return false
		}
		s = s[i+len(p):]
	}
	return true
}

type resourceFile struct {
	ProtectedResources []ResourceEntry `yaml:"protectedResources"`
}

// LoadResourceMapFile appends the entries of a YAML resource file to m.
//
//	protectedResources:
//	  - pattern: https://localhost:8000/api/*
//	    scopes: [api://blue-ocean/access]
//	  - pattern: https://products.example.com/
//	    scopes: null
func (m *ProtectedResourceMap) LoadResourceMapFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading protected resources file: %w", err)
	}

	var f resourceFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parsing protected resources file %s: %w", path, err)
	}
	for i, e := range f.ProtectedResources {
		if strings.TrimSpace(e.Pattern) == "" {
			return fmt.Errorf("protected resource %d in %s has no pattern", i, path)
		}
		m.Add(e.Pattern, e.Scopes)
	}
	return nil
}
