package plugin

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadManifestJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ManifestJSON)
	writeFile(t, path, `{
		"id": "spam-filter",
		"version": "1.2.0",
		"description": "Drops spam notes",
		"main": "filter.lua",
		"permissions": ["note:read", "note:write"],
		"config": {"threshold": 3}
	}`)

	m, err := LoadManifest(path)
	if err != nil {
		t.Fatalf("LoadManifest() error = %v", err)
	}

	if m.ID != "spam-filter" {
		t.Errorf("ID = %q, want %q", m.ID, "spam-filter")
	}
	if m.Name != "spam-filter" {
		t.Errorf("Name = %q, want it to default to the id", m.Name)
	}
	if m.Version != "1.2.0" {
		t.Errorf("Version = %q, want %q", m.Version, "1.2.0")
	}
	if len(m.Permissions) != 2 || m.Permissions[1] != "note:write" {
		t.Errorf("Permissions = %v", m.Permissions)
	}
	if m.Config["threshold"] != float64(3) {
		t.Errorf("Config = %v", m.Config)
	}
	if m.Path() != dir {
		t.Errorf("Path() = %q, want %q", m.Path(), dir)
	}
	if m.MainPath() != filepath.Join(dir, "filter.lua") {
		t.Errorf("MainPath() = %q", m.MainPath())
	}
}

func TestLoadManifestTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ManifestTOML)
	writeFile(t, path, `
id = "welcome"
version = "0.1.0"
permissions = ["user:read"]

[config]
greeting = "hi"
`)

	m, err := LoadManifest(path)
	if err != nil {
		t.Fatalf("LoadManifest() error = %v", err)
	}
	if m.ID != "welcome" || m.Main != DefaultMain {
		t.Errorf("manifest = %+v", m)
	}
	if m.Config["greeting"] != "hi" {
		t.Errorf("Config = %v", m.Config)
	}
}

func TestLoadManifestUnknownField(t *testing.T) {
	dir := t.TempDir()

	jsonPath := filepath.Join(dir, ManifestJSON)
	writeFile(t, jsonPath, `{"id": "x", "version": "1.0.0", "capabilities": ["io"]}`)
	if _, err := LoadManifest(jsonPath); err == nil {
		t.Error("LoadManifest() should reject unknown JSON fields")
	}

	tomlPath := filepath.Join(dir, ManifestTOML)
	writeFile(t, tomlPath, "id = \"x\"\nversion = \"1.0.0\"\nunsafe = true\n")
	if _, err := LoadManifest(tomlPath); err == nil {
		t.Error("LoadManifest() should reject unknown TOML fields")
	}
}

func TestLoadManifestErrors(t *testing.T) {
	dir := t.TempDir()

	bad := filepath.Join(dir, ManifestJSON)
	writeFile(t, bad, "invalid json")
	if _, err := LoadManifest(bad); err == nil {
		t.Error("LoadManifest() with invalid JSON should return error")
	}

	if _, err := LoadManifest(filepath.Join(dir, "missing.json")); err == nil {
		t.Error("LoadManifest() with nonexistent file should return error")
	}

	yaml := filepath.Join(dir, "plugin.yaml")
	writeFile(t, yaml, "id: x")
	if _, err := LoadManifest(yaml); err == nil {
		t.Error("LoadManifest() should reject unsupported formats")
	}
}

func TestLoadManifestFromDir(t *testing.T) {
	dir := t.TempDir()
	if _, err := LoadManifestFromDir(dir); !errors.Is(err, ErrNoManifest) {
		t.Fatalf("LoadManifestFromDir() error = %v, want ErrNoManifest", err)
	}

	// JSON wins over TOML.
	writeFile(t, filepath.Join(dir, ManifestTOML), "id = \"from-toml\"\nversion = \"1.0.0\"\n")
	writeFile(t, filepath.Join(dir, ManifestJSON), `{"id": "from-json", "version": "1.0.0"}`)

	m, err := LoadManifestFromDir(dir)
	if err != nil {
		t.Fatalf("LoadManifestFromDir() error = %v", err)
	}
	if m.ID != "from-json" {
		t.Errorf("ID = %q, want %q", m.ID, "from-json")
	}
}

func TestManifestValidate(t *testing.T) {
	tests := []struct {
		name     string
		manifest Manifest
		wantErr  error
	}{
		{"valid", Manifest{ID: "ok", Version: "1.0.0", Main: "main.lua"}, nil},
		{"single letter id", Manifest{ID: "a", Version: "1.0.0"}, nil},
		{"prerelease", Manifest{ID: "ok", Version: "1.0.0-beta.1+build.5"}, nil},
		{"missing id", Manifest{Version: "1.0.0"}, ErrMissingID},
		{"uppercase id", Manifest{ID: "Spam", Version: "1.0.0"}, ErrInvalidID},
		{"trailing hyphen", Manifest{ID: "spam-", Version: "1.0.0"}, ErrInvalidID},
		{"missing version", Manifest{ID: "ok"}, ErrMissingVersion},
		{"bad version", Manifest{ID: "ok", Version: "v1"}, ErrInvalidVersion},
		{"non lua main", Manifest{ID: "ok", Version: "1.0.0", Main: "main.js"}, ErrInvalidMain},
		{"absolute main", Manifest{ID: "ok", Version: "1.0.0", Main: "/etc/main.lua"}, ErrInvalidMain},
		{"escaping main", Manifest{ID: "ok", Version: "1.0.0", Main: "../other/main.lua"}, ErrInvalidMain},
		{"empty permission", Manifest{ID: "ok", Version: "1.0.0", Permissions: []string{"note:read", " "}}, ErrEmptyPerm},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.manifest.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestManifestClone(t *testing.T) {
	m := &Manifest{
		ID:          "ok",
		Version:     "1.0.0",
		Permissions: []string{"note:read"},
		Config:      map[string]any{"k": "v"},
	}
	clone := m.Clone()
	clone.Permissions[0] = "note:write"
	clone.Config["k"] = "changed"

	if m.Permissions[0] != "note:read" {
		t.Error("Clone() shares the permissions slice")
	}
	if m.Config["k"] != "v" {
		t.Error("Clone() shares the config map")
	}
}
