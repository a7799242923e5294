package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"checkline/internal/domain"
	"checkline/internal/schema"
)

// Config models checkline.yml.
type Config struct {
	Schema   SchemaConfig    `yaml:"schema"`
	Policy   Policy          `yaml:"policy"`
	Webhooks []WebhookConfig `yaml:"webhooks,omitempty"`
}

type SchemaConfig struct {
	Version    string           `yaml:"version"`
	Categories []CategoryConfig `yaml:"categories"`
}

type CategoryConfig struct {
	ID    string       `yaml:"id"`
	Label string       `yaml:"label"`
	Items []ItemConfig `yaml:"items"`
}

type ItemConfig struct {
	ID       string `yaml:"id"`
	Label    string `yaml:"label"`
	Type     string `yaml:"type"`
	Required bool   `yaml:"required"`
}

// Policy toggles engine behaviour that differs between deployments.
type Policy struct {
	// AllowUnattached permits checklists with neither a product nor a delivery plan product.
	AllowUnattached bool `yaml:"allow_unattached"`
	// LockVerified rejects answer changes on a verified checklist until it is reopened.
	LockVerified bool `yaml:"lock_verified"`
	// RequireKnownTargets checks attachments against the product mirror tables.
	RequireKnownTargets bool `yaml:"require_known_targets"`
	// RequireKnownActors checks actor ids against the actors table.
	RequireKnownActors bool `yaml:"require_known_actors"`
}

// WebhookConfig describes an endpoint notified of checklist events by `cl serve`.
type WebhookConfig struct {
	URL string `yaml:"url"`
	// Secret signs each delivery with HMAC-SHA256 in X-Checkline-Signature.
	Secret string `yaml:"secret,omitempty"`
	// Events filters by event type; empty means all.
	Events         []string `yaml:"events,omitempty"`
	Enabled        *bool    `yaml:"enabled,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds,omitempty"`
}

func (w WebhookConfig) Active() bool {
	return (w.Enabled == nil || *w.Enabled) && strings.TrimSpace(w.URL) != ""
}

// DefaultPolicy is applied before decoding so omitted keys keep their defaults.
func DefaultPolicy() Policy {
	return Policy{LockVerified: true, RequireKnownTargets: true}
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Schema.Version == "" {
		return fmt.Errorf("config.schema.version is required")
	}
	if len(c.Schema.Categories) == 0 {
		return fmt.Errorf("config.schema.categories is required")
	}
	for i, w := range c.Webhooks {
		if strings.TrimSpace(w.URL) == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		if w.TimeoutSeconds < 0 {
			return fmt.Errorf("config.webhooks[%d].timeout_seconds must not be negative", i)
		}
	}
	_, err := c.Registry()
	return err
}

// Registry builds the immutable schema registry described by the config.
func (c *Config) Registry() (*schema.Registry, error) {
	cats := make([]schema.Category, 0, len(c.Schema.Categories))
	for _, cc := range c.Schema.Categories {
		cat := schema.Category{ID: cc.ID, Label: cc.Label}
		for _, ic := range cc.Items {
			cat.Items = append(cat.Items, schema.ItemDef{
				ItemID:   ic.ID,
				Label:    ic.Label,
				Type:     domain.ValueType(ic.Type),
				Required: ic.Required,
			})
		}
		cats = append(cats, cat)
	}
	reg, err := schema.New(c.Schema.Version, cats)
	if err != nil {
		return nil, fmt.Errorf("config.schema: %w", err)
	}
	return reg, nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "checkline.yml")
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with cl config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the built-in config.
func Default() *Config {
	cfg, err := FromYAML([]byte(defaultTemplate))
	if err != nil {
		panic(fmt.Sprintf("default config template is invalid: %v", err))
	}
	return cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	cfg := Config{Policy: DefaultPolicy()}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `schema:
  version: "2024-06"
  categories:
    - id: optics
      label: Optics
      items:
        - id: lens-clean
          label: Lens is clean
          type: boolean
          required: true
        - id: lens-scratches
          label: Lens is free of scratches
          type: boolean
          required: true
        - id: optics-notes
          label: Notes on optics
          type: text

    - id: body
      label: Body
      items:
        - id: serial-number
          label: Serial number
          type: text
          required: true
        - id: cosmetic-grade
          label: Cosmetic grade (A-D)
          type: text
          required: true

    - id: function
      label: Function
      items:
        - id: powers-on
          label: Powers on
          type: boolean
          required: true
        - id: shutter-test
          label: Shutter fires at all speeds
          type: boolean

    - id: accessories
      label: Accessories
      items:
        - id: charger-included
          label: Charger included
          type: boolean

policy:
  allow_unattached: false
  lock_verified: true
  require_known_targets: true
  require_known_actors: false
`
