package agents

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed definitions.yaml
var embeddedDefinitions []byte

// ServiceTerms are shared by every specialized agent.
type ServiceTerms struct {
	Cost          float64  `yaml:"cost"`
	Currency      string   `yaml:"currency"`
	PaymentMethod string   `yaml:"payment_method"`
	Protocols     []string `yaml:"protocols"`
}

// Definition describes one specialized agent.
type Definition struct {
	ID            string         `yaml:"id"`
	Name          string         `yaml:"name"`
	Port          int            `yaml:"port"`
	Description   string         `yaml:"description"`
	ModelID       string         `yaml:"model_id"`
	ModelName     string         `yaml:"model_name"`
	WalletAddress string         `yaml:"wallet_address"`
	BusinessModel string         `yaml:"business_model"`
	PricingUnit   string         `yaml:"pricing_unit"`
	Tools         []string       `yaml:"tools"`
	Capabilities  map[string]any `yaml:"capabilities"`
	SystemPrompt  string         `yaml:"system_prompt"`
}

// Catalog is the parsed definitions file.
type Catalog struct {
	Service ServiceTerms `yaml:"service"`
	Agents  []Definition `yaml:"agents"`
}

// DefaultCatalog parses the embedded definitions.
func DefaultCatalog() (*Catalog, error) {
	return ParseCatalog(embeddedDefinitions)
}

// ErrRosterChanged is returned for override files that add, drop, rename
// or move an agent. Only metadata can be overridden.
var ErrRosterChanged = errors.New("agent definitions must keep the built-in agents and ports")

// LoadCatalog reads definitions from path, or the embedded ones when path
// is empty. An override file must list exactly the built-in agent ids on
// their built-in ports.
func LoadCatalog(path string) (*Catalog, error) {
	base, err := DefaultCatalog()
	if err != nil || path == "" {
		return base, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read agent definitions: %w", err)
	}
	c, err := ParseCatalog(data)
	if err != nil {
		return nil, err
	}
	if err := sameRoster(base, c); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

func sameRoster(base, c *Catalog) error {
	if len(c.Agents) != len(base.Agents) {
		return fmt.Errorf("%w: want %d agents, got %d", ErrRosterChanged, len(base.Agents), len(c.Agents))
	}
	ports := make(map[string]int, len(base.Agents))
	for _, a := range base.Agents {
		ports[a.ID] = a.Port
	}
	for _, a := range c.Agents {
		want, ok := ports[a.ID]
		switch {
		case !ok:
			return fmt.Errorf("%w: unknown agent %q", ErrRosterChanged, a.ID)
		case a.Port != want:
			return fmt.Errorf("%w: %s must stay on port %d, got %d", ErrRosterChanged, a.ID, want, a.Port)
		}
	}
	return nil
}

// ParseCatalog decodes and validates YAML agent definitions.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse agent definitions: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks that every agent is addressable and every tool exists.
func (c *Catalog) Validate() error {
	if len(c.Agents) == 0 {
		return errors.New("agent definitions: no agents")
	}

	var errs []error
	ports := make(map[int]string, len(c.Agents))
	ids := make(map[string]bool, len(c.Agents))
	for i, a := range c.Agents {
		label := a.Name
		if label == "" {
			label = fmt.Sprintf("agent #%d", i)
		}
		if strings.TrimSpace(a.Name) == "" {
			errs = append(errs, fmt.Errorf("%s: name is required", label))
		}
		if a.ID == "" {
			errs = append(errs, fmt.Errorf("%s: id is required", label))
		} else if ids[a.ID] {
			errs = append(errs, fmt.Errorf("%s: duplicate id %q", label, a.ID))
		}
		ids[a.ID] = true
		if a.Port <= 0 || a.Port > 65535 {
			errs = append(errs, fmt.Errorf("%s: invalid port %d", label, a.Port))
		} else if other, dup := ports[a.Port]; dup {
			errs = append(errs, fmt.Errorf("%s: port %d already used by %s", label, a.Port, other))
		}
		ports[a.Port] = label
		for _, tool := range a.Tools {
			if _, ok := toolSpecs[tool]; !ok {
				errs = append(errs, fmt.Errorf("%s: unknown tool %q", label, tool))
			}
		}
	}
	if c.Service.Cost < 0 {
		errs = append(errs, fmt.Errorf("service cost must be >= 0, got %v", c.Service.Cost))
	}
	return errors.Join(errs...)
}

// Lookup returns the definition for port.
func (c *Catalog) Lookup(port int) (Definition, bool) {
	for _, a := range c.Agents {
		if a.Port == port {
			return a, true
		}
	}
	return Definition{}, false
}
