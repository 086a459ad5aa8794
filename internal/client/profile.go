package client

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"shopfloor/api/internal/backend"
)

// Profile is the on-disk state of the terminal front-end.
type Profile struct {
	APIURL     string               `yaml:"api_url,omitempty"`
	PublicDemo bool                 `yaml:"public_demo,omitempty"`
	Session    *backend.AuthSession `yaml:"session,omitempty"`

	path string
}

// LoadProfile reads path. A missing file yields an empty profile bound to
// path.
func LoadProfile(path string) (*Profile, error) {
	p := &Profile{path: path}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return p, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read profile: %w", err)
	}
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("parse profile %s: %w", path, err)
	}
	return p, nil
}

func (p *Profile) Path() string {
	return p.path
}

// Save writes the profile with owner-only permissions; it holds tokens.
func (p *Profile) Save() error {
	if p.path == "" {
		return nil
	}
	data, err := yaml.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}
	if dir := filepath.Dir(p.path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create profile dir: %w", err)
		}
	}
	tmp := p.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write profile: %w", err)
	}
	return os.Rename(tmp, p.path)
}
