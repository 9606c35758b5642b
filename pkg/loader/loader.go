// Package loader resolves module identifiers to artifacts, materializes them
// through the execution sandbox and caches the results per package.
//
// A Loader is not safe for concurrent use. The host drives it from a single
// goroutine; nested requires issued by running modules re-enter it on the
// same goroutine.
package loader

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/openfroyo/starmod/pkg/fault"
	"github.com/openfroyo/starmod/pkg/modpath"
	"github.com/openfroyo/starmod/pkg/sandbox"
	"github.com/openfroyo/starmod/pkg/stores"
)

// Privileged module names served without resolution.
const (
	InternalModule = "internal"
	FSModule       = "fs"
	ConsoleModule  = "console"
)

// Reserved package and module ids.
const (
	AppPackageID = "application-package"
	AppModuleID  = "/application-module"
)

// DefaultSystemNamespace is used when Roots.SystemNamespace is empty.
const DefaultSystemNamespace = "system"

const tracerName = "github.com/openfroyo/starmod/pkg/loader"

// Roots is the global search configuration. It is built once at startup and
// never changes for the lifetime of a Loader.
type Roots struct {
	// ModulePaths are filesystem roots searched in order.
	ModulePaths []string

	// Collections are database-backed roots. They are consulted only after
	// every filesystem strategy failed.
	Collections []string

	// SystemNamespace names the privileged package.
	SystemNamespace string
}

func (r Roots) clone() Roots {
	return Roots{
		ModulePaths:     append([]string(nil), r.ModulePaths...),
		Collections:     append([]string(nil), r.Collections...),
		SystemNamespace: r.SystemNamespace,
	}
}

// Option configures a Loader.
type Option func(*Loader)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(l *Loader) { l.logger = logger.With().Str("component", "loader").Logger() }
}

// WithObserver sets the metrics observer.
func WithObserver(o Observer) Option {
	return func(l *Loader) { l.observer = o }
}

// WithTracer sets the tracer used for materialization spans.
func WithTracer(t trace.Tracer) Option {
	return func(l *Loader) { l.tracer = t }
}

// WithGuard installs a require guard.
func WithGuard(g Guard) Option {
	return func(l *Loader) { l.guard = g }
}

// WithPrint overrides where module print output goes.
func WithPrint(fn func(m *Module, msg string)) Option {
	return func(l *Loader) { l.print = fn }
}

// Loader is the module resolution and loading engine.
type Loader struct {
	files   stores.FileStore
	db      stores.Database
	sandbox *sandbox.Sandbox
	roots   Roots

	logger   zerolog.Logger
	observer Observer
	tracer   trace.Tracer
	guard    Guard
	print    func(m *Module, msg string)

	// packages indexes every package by key. Modules and sub-packages hold
	// keys, never pointers to their owners.
	packages map[string]*Package
	seq      int

	globals    []*Package
	system     *Package
	root       *Module
	privileged map[string]*Module

	inflight  *inFlight
	depth     int
	requestID string
}

// New creates a loader over the given roots. files may be nil when roots
// has no module paths, db may be nil when it has no collections.
func New(roots Roots, files stores.FileStore, db stores.Database, sb *sandbox.Sandbox, opts ...Option) (*Loader, error) {
	if sb == nil {
		return nil, errors.New("loader: sandbox is required")
	}
	roots = roots.clone()
	if len(roots.ModulePaths) > 0 && files == nil {
		return nil, errors.New("loader: module paths configured without a file store")
	}
	if roots.SystemNamespace == "" {
		roots.SystemNamespace = DefaultSystemNamespace
	}

	l := &Loader{
		files:      files,
		db:         db,
		sandbox:    sb,
		roots:      roots,
		logger:     zerolog.Nop(),
		observer:   nopObserver{},
		tracer:     otel.Tracer(tracerName),
		packages:   make(map[string]*Package),
		privileged: make(map[string]*Module),
		inflight:   newInFlight(),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.print == nil {
		l.print = func(m *Module, msg string) {
			l.logger.Info().Str("module", m.id).Msg(msg)
		}
	}

	l.system = l.newPackage(roots.SystemNamespace, modpath.SystemOrigin(roots.SystemNamespace), nil, nil, true)
	l.root = &Module{
		id:       "/",
		pkg:      l.system.key,
		pkgID:    l.system.id,
		path:     "/",
		location: modpath.SystemScheme + "/",
		kind:     KindScript,
		system:   true,
		exports:  sb.Engine().NewExports(),
	}
	l.system.main = l.root
	l.system.defineModule(l.root)

	for _, dir := range roots.ModulePaths {
		l.globals = append(l.globals, l.newPackage(dir, modpath.FilesystemOrigin(dir), nil, nil, false))
	}
	for _, coll := range roots.Collections {
		if coll == "" || strings.Contains(coll, "/") {
			return nil, fault.Newf(fault.MalformedLocation, "invalid collection name %q", coll)
		}
		l.globals = append(l.globals, l.newPackage(coll, modpath.DatabaseOrigin(coll), nil, nil, false))
	}

	return l, nil
}

func (l *Loader) newPackage(id string, origin modpath.Origin, manifest *Manifest, parent *Package, system bool) *Package {
	l.seq++
	key := fmt.Sprintf("%s#%d", origin.URI(), l.seq)
	p := newPackage(key, id, origin, manifest, parent, system)
	l.packages[key] = p
	return p
}

func (l *Loader) forgetPackage(p *Package) {
	delete(l.packages, p.key)
}

// Roots returns the loader's search configuration.
func (l *Loader) Roots() Roots {
	return l.roots.clone()
}

// Sandbox returns the execution sandbox.
func (l *Loader) Sandbox() *sandbox.Sandbox {
	return l.sandbox
}

// RootModule returns the system package's "/" module. Global lookups are
// issued from it.
func (l *Loader) RootModule() *Module {
	return l.root
}

// SystemPackage returns the privileged package.
func (l *Loader) SystemPackage() *Package {
	return l.system
}

// Globals returns the global packages in search order.
func (l *Loader) Globals() []*Package {
	return append([]*Package(nil), l.globals...)
}

// PackageOf returns the package owning m.
func (l *Loader) PackageOf(m *Module) *Package {
	if m == nil {
		return nil
	}
	return l.packages[m.pkg]
}

func (l *Loader) parentOf(p *Package) *Package {
	if p == nil || p.parent == "" {
		return nil
	}
	return l.packages[p.parent]
}

// CreatePrivilegedModule defines a module in the system package. The names
// internal, fs and console become requirable from anywhere by that bare
// name; other privileged modules are reachable by absolute path from system
// modules only.
func (l *Loader) CreatePrivilegedModule(p string) (*Module, error) {
	if !modpath.IsAbsolute(p) {
		return nil, fault.Newf(fault.MalformedLocation, "privileged module path %q must be absolute", p)
	}
	id, err := modpath.Normalize("", p)
	if err != nil {
		return nil, err
	}

	m := &Module{
		id:       id,
		pkg:      l.system.key,
		pkgID:    l.system.id,
		path:     modpath.Dir(id),
		location: modpath.SystemScheme + id,
		kind:     KindScript,
		system:   true,
		exports:  l.sandbox.Engine().NewExports(),
	}
	l.system.defineModule(m)

	switch name := strings.TrimPrefix(id, "/"); name {
	case InternalModule, FSModule, ConsoleModule:
		l.privileged[name] = m
	}

	l.logger.Debug().Str("module", id).Msg("Defined privileged module")
	return m, nil
}

// App describes an application rooted in a filesystem directory.
type App struct {
	// Root is the directory holding the application manifest.
	Root string

	Manifest *Manifest

	// Context is exposed to every module of the application as
	// applicationContext.
	Context interface{}
}

// CreateAppPackage creates a package for an application and returns the
// module requires should be issued from.
func (l *Loader) CreateAppPackage(app App) (*Module, error) {
	if l.files == nil {
		return nil, errors.New("loader: application packages need a file store")
	}
	if app.Root == "" {
		return nil, fault.Newf(fault.MalformedLocation, "application root is empty")
	}

	libPath := app.Root
	if app.Manifest != nil && app.Manifest.Lib != "" {
		libPath = l.files.Join(app.Root, app.Manifest.Lib)
	}
	location, err := modpath.FileURI(libPath)
	if err != nil {
		return nil, err
	}

	pkg := l.newPackage(AppPackageID, modpath.FilesystemOrigin(libPath), app.Manifest, nil, false)
	m := &Module{
		id:         AppModuleID,
		pkg:        pkg.key,
		pkgID:      pkg.id,
		path:       "/",
		location:   location,
		kind:       KindScript,
		exports:    l.sandbox.Engine().NewExports(),
		appContext: app.Context,
	}
	pkg.defineModule(m)

	l.logger.Debug().Str("package", pkg.String()).Msg("Created application package")
	return m, nil
}
