package config

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/Mindburn-Labs/attestgate/pkg/contracts"
	"github.com/Mindburn-Labs/attestgate/pkg/executor"
	"github.com/Mindburn-Labs/attestgate/pkg/policy"
)

// Template describes one attestation template: what to capture, which
// channel runs it and what a verified attestation must show.
type Template struct {
	ID   string `yaml:"id" json:"id"`
	Name string `yaml:"name" json:"name"`
	// Provider names the relay provider. Empty templates run through the
	// extension.
	Provider string                      `yaml:"provider,omitempty" json:"provider,omitempty"`
	Captures []contracts.HTTPCaptureSpec `yaml:"captures,omitempty" json:"captures,omitempty"`
	Policy   policy.TemplatePolicy       `yaml:"policy,omitempty" json:"policy,omitempty"`
	Errors   map[string]string           `yaml:"errors,omitempty" json:"errors,omitempty"` // decline code overrides
}

// Relay reports whether the template runs over the OAuth relay.
func (t *Template) Relay() bool { return t.Provider != "" }

// Catalog is the parsed template file.
type Catalog struct {
	Fallback  string            `yaml:"fallback,omitempty" json:"fallback,omitempty"`
	Messages  map[string]string `yaml:"messages,omitempty" json:"messages,omitempty"`
	Templates []Template        `yaml:"templates" json:"templates"`

	byID map[string]*Template
}

// LoadCatalog reads and validates a YAML template catalog.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load catalog %q: %w", path, err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes a YAML template catalog.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	c.byID = make(map[string]*Template, len(c.Templates))
	for i := range c.Templates {
		t := &c.Templates[i]
		if t.ID == "" {
			return nil, fmt.Errorf("template %d: id is required", i)
		}
		if _, dup := c.byID[t.ID]; dup {
			return nil, fmt.Errorf("template %q: duplicate id", t.ID)
		}
		for j, cs := range t.Captures {
			if cs.URL == "" || cs.Method == "" {
				return nil, fmt.Errorf("template %q: capture %d needs url and method", t.ID, j)
			}
		}
		c.byID[t.ID] = t
	}
	return &c, nil
}

// Get returns the template with id.
func (c *Catalog) Get(id string) (*Template, bool) {
	t, ok := c.byID[id]
	return t, ok
}

// IDs returns the template ids in sorted order.
func (c *Catalog) IDs() []string {
	ids := make([]string, 0, len(c.byID))
	for id := range c.byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Policies returns the per-template policies for policy.NewEngine.
func (c *Catalog) Policies() map[string]policy.TemplatePolicy {
	out := make(map[string]policy.TemplatePolicy, len(c.Templates))
	for _, t := range c.Templates {
		if t.Policy != (policy.TemplatePolicy{}) {
			out[t.ID] = t.Policy
		}
	}
	return out
}

// ErrorCatalog layers the file's messages and per-template overrides over
// the built-in decline table.
func (c *Catalog) ErrorCatalog() *executor.ErrorCatalog {
	base := executor.DefaultCatalog()
	msgs := make(map[string]string, len(base.Messages)+len(c.Messages))
	for k, v := range base.Messages {
		msgs[k] = v
	}
	for k, v := range c.Messages {
		msgs[k] = v
	}
	out := &executor.ErrorCatalog{Messages: msgs, Fallback: base.Fallback, Templates: map[string]map[string]string{}}
	if c.Fallback != "" {
		out.Fallback = c.Fallback
	}
	for _, t := range c.Templates {
		if len(t.Errors) > 0 {
			out.Templates[t.ID] = t.Errors
		}
	}
	return out
}
