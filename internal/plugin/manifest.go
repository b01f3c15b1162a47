package plugin

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Manifest file names, in lookup order.
const (
	ManifestJSON = "plugin.json"
	ManifestTOML = "plugin.toml"
)

// DefaultMain is the entry point used when a manifest names none.
const DefaultMain = "main.lua"

// Manifest describes a plugin's metadata and requested permissions.
type Manifest struct {
	// Identity
	ID          string `json:"id" toml:"id"`                   // Unique identifier (e.g., "spam-filter")
	Version     string `json:"version" toml:"version"`         // Semver (e.g., "1.2.0")
	Name        string `json:"name" toml:"name"`               // Human-readable name
	Description string `json:"description" toml:"description"` // Short description
	Author      string `json:"author" toml:"author"`           // Author name or org

	// Entry point
	Main string `json:"main" toml:"main"` // Relative path to main Lua file (default: "main.lua")

	// Permissions requested; validated against the permission registry at
	// grant time.
	Permissions []string `json:"permissions" toml:"permissions"`

	// Config is free-form plugin configuration passed to activate.
	Config map[string]any `json:"config" toml:"config"`

	// Internal: path to the plugin directory
	path string
}

// Validation errors.
var (
	ErrMissingID      = errors.New("manifest: id is required")
	ErrInvalidID      = errors.New("manifest: id must be lowercase alphanumeric with hyphens")
	ErrMissingVersion = errors.New("manifest: version is required")
	ErrInvalidVersion = errors.New("manifest: version must be valid semver")
	ErrInvalidMain    = errors.New("manifest: main must be a relative .lua file")
	ErrEmptyPerm      = errors.New("manifest: empty permission name")
)

// idPattern validates plugin ids.
var idPattern = regexp.MustCompile(`^[a-z][a-z0-9-]*[a-z0-9]$|^[a-z]$`)

// semverPattern validates version strings (simplified semver).
var semverPattern = regexp.MustCompile(`^\d+\.\d+\.\d+(-[a-zA-Z0-9.-]+)?(\+[a-zA-Z0-9.-]+)?$`)

// LoadManifest loads and validates a manifest file. The format follows the
// extension: .json or .toml.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var m Manifest
	switch ext := filepath.Ext(path); ext {
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&m); err != nil {
			return nil, fmt.Errorf("failed to parse manifest: %w", err)
		}
	case ".toml":
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&m); err != nil {
			return nil, fmt.Errorf("failed to parse manifest: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported manifest format %q", ext)
	}

	m.path = filepath.Dir(path)
	m.applyDefaults()

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// FindManifest returns the manifest file of a plugin directory.
func FindManifest(dir string) (string, error) {
	for _, name := range []string{ManifestJSON, ManifestTOML} {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", ErrNoManifest
}

// LoadManifestFromDir loads a manifest from a plugin directory.
func LoadManifestFromDir(dir string) (*Manifest, error) {
	p, err := FindManifest(dir)
	if err != nil {
		return nil, err
	}
	return LoadManifest(p)
}

// applyDefaults sets default values for optional fields.
func (m *Manifest) applyDefaults() {
	if m.Main == "" {
		m.Main = DefaultMain
	}
	if m.Name == "" {
		m.Name = m.ID
	}
}

// Validate checks that the manifest is valid. Permission names are checked
// by the permission manager when the grant is made, not here.
func (m *Manifest) Validate() error {
	if m.ID == "" {
		return ErrMissingID
	}
	if !idPattern.MatchString(m.ID) {
		return fmt.Errorf("%w: %s", ErrInvalidID, m.ID)
	}

	if m.Version == "" {
		return ErrMissingVersion
	}
	if !semverPattern.MatchString(m.Version) {
		return fmt.Errorf("%w: %s", ErrInvalidVersion, m.Version)
	}

	if m.Main != "" {
		if filepath.Ext(m.Main) != ".lua" || filepath.IsAbs(m.Main) || strings.HasPrefix(filepath.Clean(m.Main), "..") {
			return fmt.Errorf("%w: %s", ErrInvalidMain, m.Main)
		}
	}

	for i, p := range m.Permissions {
		if strings.TrimSpace(p) == "" {
			return fmt.Errorf("%w at index %d", ErrEmptyPerm, i)
		}
	}
	return nil
}

// Path returns the path to the plugin directory.
func (m *Manifest) Path() string {
	return m.path
}

// MainPath returns the full path to the main Lua file.
func (m *Manifest) MainPath() string {
	return filepath.Join(m.path, m.Main)
}

// String returns a string representation of the manifest.
func (m *Manifest) String() string {
	return fmt.Sprintf("%s v%s", m.Name, m.Version)
}

// Clone creates a deep copy of the manifest.
func (m *Manifest) Clone() *Manifest {
	clone := *m

	if m.Permissions != nil {
		clone.Permissions = make([]string, len(m.Permissions))
		copy(clone.Permissions, m.Permissions)
	}
	if m.Config != nil {
		clone.Config = make(map[string]any, len(m.Config))
		for k, v := range m.Config {
			clone.Config[k] = v
		}
	}
	return &clone
}
