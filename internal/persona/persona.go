// Package persona loads user and character cards. A card is a small YAML
// document keyed by file name; its identity name is what appears as the
// speaker tag in history files, so renaming a card orphans its histories.
package persona

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

type Identity struct {
	Name string `yaml:"name"`
	Role string `yaml:"role,omitempty"`
}

type Templates struct {
	// Jailbreak is rendered as the leading prompt section; UserContext as
	// the trailing one before the live user input. Both receive the same
	// template data (see memory.PromptAssembler).
	Jailbreak   string `yaml:"jailbreak,omitempty"`
	UserContext string `yaml:"userContext,omitempty"`
}

type Persona struct {
	Key       string    `yaml:"-"`
	Identity  Identity  `yaml:"identity"`
	Language  string    `yaml:"language,omitempty"`
	Timezone  string    `yaml:"timezone,omitempty"`
	Context   string    `yaml:"context,omitempty"`
	Templates Templates `yaml:"templates,omitempty"`
}

// DisplayName is the speaker tag used in turns and history files.
func (p *Persona) DisplayName() string {
	if name := strings.TrimSpace(p.Identity.Name); name != "" {
		return name
	}
	return p.Key
}

// Load reads dir/<key>.yaml.
func Load(dir, key string) (*Persona, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, fmt.Errorf("persona key is empty")
	}

	path := filepath.Join(dir, key+".yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read persona %q: %w", key, err)
	}

	p := &Persona{Key: key}
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("parse persona %q: %w", key, err)
	}
	return p, nil
}

// LoadOrDefault falls back to a minimal card whose display name is the key
// itself. Missing cards are routine on first run; parse errors are not.
func LoadOrDefault(dir, key string) (*Persona, error) {
	p, err := Load(dir, key)
	if err == nil {
		return p, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return &Persona{Key: key, Identity: Identity{Name: key}}, nil
	}
	return nil, err
}
