package loader

import (
	"fmt"

	"github.com/openfroyo/starmod/pkg/modpath"
)

// Descriptor is the result of a successful locate. It is produced once per
// resolution and never mutated.
type Descriptor struct {
	// ID is the canonical path without extension.
	ID string

	// Path is the containing directory of ID, used for relative requires.
	Path string

	// Location is the origin-tagged URI of the artifact.
	Location string

	Kind Kind

	// File is the host path for filesystem artifacts.
	File string

	// Content and Revision are set for database artifacts.
	Content  *string
	Revision int64
}

// String describes the descriptor for logs and the resolve command.
func (d *Descriptor) String() string {
	return fmt.Sprintf("[descriptor %q, kind %s, location %q]", d.ID, d.Kind, d.Location)
}

// Module is a loaded unit of code or data. It refers to its package by key
// and the loader owns both.
type Module struct {
	id       string
	pkg      string
	pkgID    string
	path     string
	location string
	kind     Kind
	system   bool
	revision int64

	exports    interface{}
	appContext interface{}
}

// ID returns the canonical module id.
func (m *Module) ID() string { return m.id }

// Path returns the directory relative requires resolve against.
func (m *Module) Path() string { return m.path }

// Location returns the origin-tagged URI the module was loaded from.
func (m *Module) Location() string { return m.location }

// IsSystem reports whether the module belongs to a privileged package.
func (m *Module) IsSystem() bool { return m.system }

// Kind returns the artifact kind.
func (m *Module) Kind() Kind { return m.kind }

// Revision returns the database revision the module was loaded at, or 0.
func (m *Module) Revision() int64 { return m.revision }

// PackageKey returns the key of the owning package.
func (m *Module) PackageKey() string { return m.pkg }

// Exports returns the module's exports value.
func (m *Module) Exports() interface{} { return m.exports }

// SetExports replaces the exports value. The host uses it to populate
// privileged modules.
func (m *Module) SetExports(v interface{}) { m.exports = v }

// String describes the module.
func (m *Module) String() string {
	kind := "module"
	if m.system {
		kind = "system module"
	}
	return fmt.Sprintf("[%s %q, package %q, path %q, origin %q]", kind, m.id, m.pkgID, m.path, m.location)
}

func cacheKey(id string, kind Kind) string {
	return id + "." + string(kind)
}

// Package is a named container of modules with a common origin.
type Package struct {
	key      string
	id       string
	origin   modpath.Origin
	manifest *Manifest
	parent   string
	parentID string
	system   bool
	env      map[string]interface{}

	main    *Module
	modules map[string]*Module

	// packages holds sub-packages found under node_modules, by identifier.
	packages map[string]*Package

	// probes memoizes filesystem locates, including negative results.
	probes map[string]*Descriptor
}

func newPackage(key, id string, origin modpath.Origin, manifest *Manifest, parent *Package, system bool) *Package {
	p := &Package{
		key:      key,
		id:       id,
		origin:   origin,
		manifest: manifest,
		system:   system,
		modules:  make(map[string]*Module),
		packages: make(map[string]*Package),
		probes:   make(map[string]*Descriptor),
	}
	if parent != nil {
		p.parent = parent.key
		p.parentID = parent.id
	}
	if manifest != nil {
		p.env = manifest.Environment
	}
	return p
}

// Key returns the loader-unique package key.
func (p *Package) Key() string { return p.key }

// ID returns the package identifier.
func (p *Package) ID() string { return p.id }

// Origin returns where the package's content lives.
func (p *Package) Origin() modpath.Origin { return p.origin }

// Manifest returns the package manifest, if any.
func (p *Package) Manifest() *Manifest { return p.manifest }

// ParentKey returns the key of the enclosing package, or "".
func (p *Package) ParentKey() string { return p.parent }

// IsSystem reports whether the package holds privileged modules.
func (p *Package) IsSystem() bool { return p.system }

// Main returns the package's entry-point module, if loaded.
func (p *Package) Main() *Module { return p.main }

// Module returns the cached module for id and kind.
func (p *Package) Module(id string, kind Kind) (*Module, bool) {
	m, ok := p.modules[cacheKey(id, kind)]
	return m, ok
}

// Modules returns the number of cached modules.
func (p *Package) Modules() int { return len(p.modules) }

func (p *Package) defineModule(m *Module) {
	p.modules[cacheKey(m.id, m.kind)] = m
}

func (p *Package) clearModule(id string, kind Kind) {
	delete(p.modules, cacheKey(id, kind))
}

func (p *Package) knownPackage(id string) *Package {
	return p.packages[id]
}

func (p *Package) definePackage(id string, sub *Package) {
	p.packages[id] = sub
}

// String describes the package.
func (p *Package) String() string {
	if p.parent == "" {
		return fmt.Sprintf("[package %q, origin %q]", p.id, p.origin.URI())
	}
	return fmt.Sprintf("[package %q, origin %q, parent %q]", p.id, p.origin.URI(), p.parentID)
}
