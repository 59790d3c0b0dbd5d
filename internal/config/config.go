package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"
)

// Config is the top-level rules document.
type Config struct {
	BaseLayer  string `yaml:"base_layer"`
	GlobalExec string `yaml:"global_exec"`
	Rules      []Rule `yaml:"rules"`
}

// Rule maps a window class/title pattern to a layer switch and optional
// side effects. Rules are evaluated in document order; the first match wins.
type Rule struct {
	Class    OptionalString `yaml:"class"`
	Title    OptionalString `yaml:"title"`
	Layer    OptionalString `yaml:"layer"`
	Cmd      OptionalString `yaml:"cmd"`
	FakeKey  *FakeKey       `yaml:"fake_key"`
	SetMouse *MousePos      `yaml:"set_mouse"`
}

// OptionalString is a string field that may be disabled by setting it to
// false or null, or by omitting it entirely.
type OptionalString struct {
	Value string
	Set   bool
}

// UnmarshalYAML accepts a string, false, or null. The YAML decoder also
// covers the documented JSON config format, since JSON is a YAML subset.
func (o *OptionalString) UnmarshalYAML(value *yaml.Node) error {
	switch value.Tag {
	case "!!null":
		*o = OptionalString{}
		return nil
	case "!!bool":
		var b bool
		if err := value.Decode(&b); err != nil {
			return err
		}
		if b {
			return fmt.Errorf("line %d: true is not a valid value, use a string, false, or null", value.Line)
		}
		*o = OptionalString{}
		return nil
	case "!!str":
		*o = OptionalString{Value: value.Value, Set: true}
		return nil
	default:
		return fmt.Errorf("line %d: expected a string, false, or null", value.Line)
	}
}

// Wildcard reports whether the field places no constraint on matching.
func (o OptionalString) Wildcard() bool {
	return !o.Set || o.Value == "*"
}

// FakeKey names a virtual key defined in the kanata config together with the
// action to perform on it.
type FakeKey struct {
	Name   string
	Action string
}

// UnmarshalYAML decodes the documented [NAME, ACTION] pair form.
func (k *FakeKey) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.SequenceNode || len(value.Content) != 2 {
		return fmt.Errorf("line %d: fake_key must be an array of two strings", value.Line)
	}
	for _, n := range value.Content {
		if n.Tag != "!!str" {
			return fmt.Errorf("line %d: fake_key must be an array of two strings", n.Line)
		}
	}
	k.Name = value.Content[0].Value
	k.Action = value.Content[1].Value
	return nil
}

// MousePos is an absolute cursor position.
type MousePos struct {
	X int
	Y int
}

// UnmarshalYAML decodes the documented [X, Y] pair form.
func (m *MousePos) UnmarshalYAML(value *yaml.Node) error {
	var coords []int
	if err := value.Decode(&coords); err != nil {
		return fmt.Errorf("line %d: set_mouse must be an array of two integers", value.Line)
	}
	if len(coords) != 2 {
		return fmt.Errorf("line %d: set_mouse must be an array of two integers, got %d elements", value.Line, len(coords))
	}
	m.X = coords[0]
	m.Y = coords[1]
	return nil
}

var allowedRuleKeys = []string{"class", "title", "layer", "cmd", "fake_key", "set_mouse"}

// UnmarshalYAML rejects unknown rule keys before decoding the known fields.
func (r *Rule) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: rule must be an object", value.Line)
	}
	if len(value.Content) == 0 {
		return fmt.Errorf("line %d: rule must not be empty", value.Line)
	}
	for i := 0; i < len(value.Content); i += 2 {
		key := value.Content[i].Value
		if !isAllowedKey(allowedRuleKeys, key) {
			return fmt.Errorf("line %d: unexpected key %q, allowed keys: [%s]",
				value.Content[i].Line, key, strings.Join(allowedRuleKeys, ", "))
		}
	}
	type rawRule Rule
	var raw rawRule
	if err := value.Decode(&raw); err != nil {
		return err
	}
	*r = Rule(raw)
	return nil
}

var allowedConfigKeys = []string{"base_layer", "global_exec", "rules"}

// UnmarshalYAML accepts either the full document form (base_layer,
// global_exec, rules) or a bare rule array, the original apps.json shape.
func (c *Config) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.SequenceNode {
		var rules []Rule
		if err := value.Decode(&rules); err != nil {
			return err
		}
		*c = Config{Rules: rules}
		return nil
	}
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("config must be an object or an array of rules")
	}
	for i := 0; i < len(value.Content); i += 2 {
		key := value.Content[i].Value
		if !isAllowedKey(allowedConfigKeys, key) {
			return fmt.Errorf("line %d: unexpected key %q, allowed keys: [%s]",
				value.Content[i].Line, key, strings.Join(allowedConfigKeys, ", "))
		}
	}
	type rawConfig struct {
		BaseLayer  string `yaml:"base_layer"`
		GlobalExec string `yaml:"global_exec"`
		Rules      []Rule `yaml:"rules"`
	}
	var raw rawConfig
	if err := value.Decode(&raw); err != nil {
		return err
	}
	c.BaseLayer = raw.BaseLayer
	c.GlobalExec = raw.GlobalExec
	c.Rules = raw.Rules
	return nil
}

func isAllowedKey(allowed []string, key string) bool {
	for _, k := range allowed {
		if k == key {
			return true
		}
	}
	return false
}

// DefaultPath returns the standard location of the rules file.
func DefaultPath() string {
	return filepath.Join(xdg.ConfigHome, "kanata", "apps.json")
}

// Load reads and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

// Validate performs shape checks and normalizes fake key actions.
func (c *Config) Validate() error {
	for i := range c.Rules {
		r := &c.Rules[i]
		no := i + 1
		for _, field := range []struct {
			key string
			val OptionalString
		}{
			{"class", r.Class},
			{"title", r.Title},
			{"layer", r.Layer},
			{"cmd", r.Cmd},
		} {
			if field.val.Set && strings.TrimSpace(field.val.Value) == "" {
				return fmt.Errorf("rule #%d: %q must be a non-empty string, or false/null to disable it", no, field.key)
			}
		}
		if r.FakeKey != nil {
			if strings.TrimSpace(r.FakeKey.Name) == "" {
				return fmt.Errorf("rule #%d: fake key name must not be blank", no)
			}
			action, err := NormalizeFakeKeyAction(r.FakeKey.Action)
			if err != nil {
				return fmt.Errorf("rule #%d: %w", no, err)
			}
			r.FakeKey.Action = action
		}
	}
	return nil
}

// ValidateLayers checks every referenced layer against the set the daemon
// reports. Called once at startup, after the daemon is reachable.
func (c *Config) ValidateLayers(known []string) error {
	set := make(map[string]struct{}, len(known))
	for _, name := range known {
		set[name] = struct{}{}
	}
	if c.BaseLayer != "" {
		if _, ok := set[c.BaseLayer]; !ok {
			return fmt.Errorf("base_layer %q is not defined in the kanata config", c.BaseLayer)
		}
	}
	for i, r := range c.Rules {
		if !r.Layer.Set {
			continue
		}
		if _, ok := set[r.Layer.Value]; !ok {
			return fmt.Errorf("rule #%d: layer %q is not defined in the kanata config", i+1, r.Layer.Value)
		}
	}
	return nil
}

var fakeKeyActions = []string{"Press", "Release", "Tap", "Toggle"}

// NormalizeFakeKeyAction capitalizes the action and checks it against the
// set kanata understands.
func NormalizeFakeKeyAction(action string) (string, error) {
	if action != "" {
		normalized := strings.ToUpper(action[:1]) + strings.ToLower(action[1:])
		for _, valid := range fakeKeyActions {
			if normalized == valid {
				return normalized, nil
			}
		}
	}
	return "", fmt.Errorf("invalid fake key action %q, must be one of: %s", action, strings.Join(fakeKeyActions, ", "))
}
