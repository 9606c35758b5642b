package loader

import (
	"encoding/json"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/openfroyo/starmod/pkg/fault"
)

// Manifest is the parsed package.json of a sub-package or application.
type Manifest struct {
	// Name is informational only; the directory name is what identifies a
	// sub-package.
	Name string `json:"name,omitempty" validate:"omitempty,max=214"`

	// Version is informational only.
	Version string `json:"version,omitempty"`

	// Main is the entry point relative to the library root.
	Main string `json:"main,omitempty" validate:"omitempty,max=4096"`

	// Lib is an alternate library root relative to the manifest's directory.
	Lib string `json:"lib,omitempty" validate:"omitempty,max=4096"`

	// Environment is injected into the context of every module in the
	// package.
	Environment map[string]interface{} `json:"environment,omitempty"`
}

var manifestValidator = validator.New()

// ParseManifest decodes and validates manifest data.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fault.New(fault.PackageManifestFault, "cannot parse package manifest", err)
	}

	if err := manifestValidator.Struct(&m); err != nil {
		return nil, fault.New(fault.PackageManifestFault, "invalid package manifest", err)
	}

	return &m, nil
}

// MainPath returns the entry point in "./" relative form, relative to the
// library root. An empty Main means DefaultMain. A Main that names the
// library directory, such as "lib/main.star" with Lib "lib", drops that
// prefix so both spellings reach the same file.
func (m *Manifest) MainPath() string {
	if m == nil || m.Main == "" {
		return DefaultMain
	}
	entry := m.Main
	if lib := m.libDir(); lib != "" {
		if rest, ok := strings.CutPrefix(path.Clean(entry), lib+"/"); ok {
			entry = rest
		}
	}
	if strings.HasPrefix(entry, "./") || strings.HasPrefix(entry, "../") {
		return entry
	}
	return "./" + entry
}

// libDir returns Lib in clean slash form, or "" when it names the manifest's
// own directory.
func (m *Manifest) libDir() string {
	if m.Lib == "" {
		return ""
	}
	lib := path.Clean(filepath.ToSlash(m.Lib))
	if lib == "." {
		return ""
	}
	return lib
}

// String returns a short description for logs.
func (m *Manifest) String() string {
	if m == nil {
		return "<no manifest>"
	}
	return fmt.Sprintf("%s (main %s)", m.Name, m.MainPath())
}
