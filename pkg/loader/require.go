package loader

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/openfroyo/starmod/pkg/fault"
	"github.com/openfroyo/starmod/pkg/modpath"
	"github.com/openfroyo/starmod/pkg/sandbox"
)

// Require resolves id as seen from the module from and returns the exports
// of the loaded module. A nil from means the system root module.
func (l *Loader) Require(ctx context.Context, from *Module, id string) (interface{}, error) {
	m, err := l.Load(ctx, from, id)
	if err != nil {
		return nil, err
	}
	return m.exports, nil
}

// RequireMain requires id from the system root module. Hosts use it to
// bootstrap.
func (l *Loader) RequireMain(ctx context.Context, id string) (interface{}, error) {
	return l.Require(ctx, l.root, id)
}

// Load is Require returning the module instead of its exports.
func (l *Loader) Load(ctx context.Context, from *Module, id string) (*Module, error) {
	if m, ok := l.privileged[id]; ok {
		return m, nil
	}
	if from == nil {
		from = l.root
	}

	if l.depth == 0 {
		l.requestID = uuid.NewString()
	}
	l.depth++
	defer func() {
		l.depth--
		if l.depth == 0 {
			if ctx.Err() != nil {
				l.CleanupAfterCancellation()
			}
			l.assertSettled("top-level require")
		}
	}()

	start := time.Now()
	log := l.logger.With().
		Str("require_id", l.requestID).
		Str("identifier", id).
		Str("from", from.id).
		Logger()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if l.guard != nil {
		req := RequireRequest{
			Identifier: id,
			FromModule: from.id,
			FromOrigin: from.location,
			System:     from.system,
		}
		if pkg := l.PackageOf(from); pkg != nil {
			req.FromPackage = pkg.id
		}
		if err := l.guard.CheckRequire(ctx, req); err != nil {
			l.observer.ObserveRequire(OutcomeDenied, time.Since(start))
			log.Warn().Err(err).Msg("Require denied")
			return nil, err
		}
	}

	m, err := l.resolve(ctx, from, id)
	if err != nil {
		var f *fault.Fault
		if errors.As(err, &f) {
			f.WithIdentifier(id)
		}
		l.observer.ObserveRequire(OutcomeFailed, time.Since(start))
		log.Debug().Err(err).Msg("Require failed")
		return nil, err
	}
	if m == nil {
		l.observer.ObserveRequire(OutcomeNotFound, time.Since(start))
		log.Debug().Msg("Module not found")
		return nil, fault.Newf(fault.ModuleNotFound, "cannot locate module %q", id).
			WithIdentifier(id).
			WithLocation(from.location)
	}

	l.observer.ObserveRequire(OutcomeLoaded, time.Since(start))
	log.Debug().Str("module", m.id).Str("location", m.location).Msg("Required module")
	return m, nil
}

func (l *Loader) resolve(ctx context.Context, from *Module, id string) (*Module, error) {
	switch {
	case modpath.IsRelative(id):
		p, err := modpath.Normalize(from.path, id)
		if err != nil {
			return nil, err
		}
		return l.requireAbsolute(ctx, from, p)
	case modpath.IsAbsolute(id):
		return l.requireAbsolute(ctx, from, id)
	default:
		return l.requirePackage(ctx, from, id)
	}
}

// requireAbsolute resolves p inside the package owning from. "/" is the
// package's main module when it has one.
func (l *Loader) requireAbsolute(ctx context.Context, from *Module, p string) (*Module, error) {
	p, err := modpath.Normalize("", p)
	if err != nil {
		return nil, err
	}

	pkg := l.PackageOf(from)
	if pkg == nil {
		return nil, fmt.Errorf("loader: module %s has no package", from.id)
	}
	if p == "/" && pkg.main != nil {
		return pkg.main, nil
	}
	return l.requireModuleFrom(ctx, from, pkg, p)
}

// requirePackage runs the bare-identifier search. Each step returns on the
// first hit; not-found results move on to the next step and faults abort.
func (l *Loader) requirePackage(ctx context.Context, from *Module, id string) (*Module, error) {
	p, err := modpath.Normalize("", id)
	if err != nil {
		return nil, err
	}
	pkg := l.PackageOf(from)

	// The owning package, unless it is the privileged one.
	if pkg != nil && !pkg.system {
		if m, err := l.requireModuleFrom(ctx, from, pkg, p); err != nil || m != nil {
			return m, err
		}
	}

	// Global filesystem roots.
	for _, g := range l.globals {
		if g.origin.Kind == modpath.Database {
			continue
		}
		if m, err := l.requireModuleFrom(ctx, l.root, g, p); err != nil || m != nil {
			return m, err
		}
	}

	// Sub-packages along the parent chain.
	for q := pkg; q != nil; q = l.parentOf(q) {
		if m, err := l.requirePackageFrom(ctx, from, q, p); err != nil || m != nil {
			return m, err
		}
	}

	// Sub-packages of the global roots.
	for _, g := range l.globals {
		if m, err := l.requirePackageFrom(ctx, l.root, g, p); err != nil || m != nil {
			return m, err
		}
	}

	// A package named by the first segment, then the rest inside it. When
	// the rest is missing from that package the database roots still run.
	if first, rest, ok := modpath.Split(p); ok {
		m, err := l.requirePackage(ctx, from, first)
		if err != nil {
			return nil, err
		}
		if m != nil {
			if sub, err := l.requireAbsolute(ctx, m, rest); err != nil || sub != nil {
				return sub, err
			}
		}
	}

	// Database roots last.
	for _, g := range l.globals {
		if g.origin.Kind != modpath.Database {
			continue
		}
		if m, err := l.requireModuleFrom(ctx, l.root, g, p); err != nil || m != nil {
			return m, err
		}
	}

	return nil, nil
}

// requireModuleFrom loads p from pkg, serving it from the cache when the
// cached module is still current.
func (l *Loader) requireModuleFrom(ctx context.Context, from *Module, pkg *Package, p string) (*Module, error) {
	d, err := l.locate(ctx, pkg, p)
	if err != nil || d == nil {
		return nil, err
	}

	if m, ok := pkg.Module(d.ID, d.Kind); ok {
		if pkg.origin.Kind != modpath.Database || m.revision == d.Revision {
			l.observer.ObserveCache(pkg.origin.Kind, CacheHit)
			return m, nil
		}
		pkg.clearModule(d.ID, d.Kind)
		l.observer.ObserveCache(pkg.origin.Kind, CacheInvalidated)
		l.logger.Debug().
			Str("module", d.ID).
			Int64("cached_revision", m.revision).
			Int64("revision", d.Revision).
			Msg("Module changed in the database, reloading")
	} else {
		l.observer.ObserveCache(pkg.origin.Kind, CacheMiss)
	}

	var content string
	switch pkg.origin.Kind {
	case modpath.Filesystem:
		data, err := l.files.Read(d.File)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, nil
			}
			return nil, fmt.Errorf("read module %s: %w", d.Location, err)
		}
		content = string(data)
	case modpath.Database:
		content = *d.Content
	default:
		return nil, nil
	}

	return l.materialize(ctx, from, pkg, d, content)
}

// requirePackageFrom looks for a node_modules sub-package named p below a
// filesystem package and returns its main module.
func (l *Loader) requirePackageFrom(ctx context.Context, from *Module, pkg *Package, p string) (*Module, error) {
	if pkg.origin.Kind != modpath.Filesystem || l.files == nil {
		return nil, nil
	}

	if sub := pkg.knownPackage(p); sub != nil {
		return sub.main, nil
	}

	dirname := l.files.Join(pkg.origin.Root, "node_modules", filepath.FromSlash(p))
	filename := l.files.Join(dirname, ManifestName)
	if !l.files.Exists(filename) {
		return nil, nil
	}

	sub, err := l.createPackageAndModule(ctx, from, pkg, p, dirname, filename)
	if err != nil {
		return nil, err
	}
	pkg.definePackage(p, sub)
	return sub.main, nil
}

func (l *Loader) createPackageAndModule(ctx context.Context, from *Module, parent *Package, id, dirname, filename string) (*Package, error) {
	location, err := modpath.FileURI(filename)
	if err != nil {
		return nil, err
	}

	data, err := l.files.Read(filename)
	if err != nil {
		return nil, fault.New(fault.PackageManifestFault, "cannot read package manifest", err).
			WithLocation(location)
	}
	manifest, err := ParseManifest(data)
	if err != nil {
		var f *fault.Fault
		if errors.As(err, &f) {
			f.WithLocation(location)
		}
		return nil, err
	}

	root := dirname
	if manifest.Lib != "" {
		root = l.files.Join(dirname, manifest.Lib)
	}

	// The main file is located under the library root like the package's
	// other modules.
	mainFile := manifest.MainPath()
	d, err := l.locateFile(parent, root, mainFile)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, fault.Newf(fault.PackageManifestFault, "cannot find main file %q", mainFile).
			WithLocation(location)
	}
	if d.Kind != KindScript {
		return nil, fault.Newf(fault.PackageManifestFault, "main file %q is not a script", mainFile).
			WithLocation(d.Location)
	}

	src, err := l.files.Read(d.File)
	if err != nil {
		return nil, fault.New(fault.PackageManifestFault, "cannot read main file", err).
			WithLocation(d.Location)
	}

	sub := l.newPackage(id, modpath.FilesystemOrigin(root), manifest, parent, parent.system)
	m, err := l.materialize(ctx, from, sub, d, string(src))
	if err != nil {
		l.forgetPackage(sub)
		return nil, err
	}
	sub.main = m

	l.logger.Debug().Str("package", sub.String()).Msg("Loaded sub-package")
	return sub, nil
}

// materialize turns located content into a cached module.
func (l *Loader) materialize(ctx context.Context, from *Module, pkg *Package, d *Descriptor, content string) (*Module, error) {
	ctx, span := l.tracer.Start(ctx, "loader.materialize", trace.WithAttributes(
		attribute.String("module.id", d.ID),
		attribute.String("module.kind", string(d.Kind)),
		attribute.String("module.location", d.Location),
		attribute.String("package.id", pkg.id),
	))
	defer span.End()

	start := time.Now()
	var (
		m   *Module
		err error
	)
	if d.Kind.IsData() {
		m, err = l.createDataModule(pkg, d, content)
	} else {
		m, err = l.createModule(ctx, from, pkg, d, content)
	}
	l.observer.ObserveLoad(pkg.origin.Kind, d.Kind, time.Since(start), err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return m, nil
}

func (l *Loader) newModule(from *Module, pkg *Package, d *Descriptor) *Module {
	m := &Module{
		id:       d.ID,
		pkg:      pkg.key,
		pkgID:    pkg.id,
		path:     d.Path,
		location: d.Location,
		kind:     d.Kind,
		system:   pkg.system,
		revision: d.Revision,
	}
	if from != nil {
		m.appContext = from.appContext
	}
	return m
}

// createDataModule decodes a data artifact. Data modules are never executed
// and never enter the in-flight registry.
func (l *Loader) createDataModule(pkg *Package, d *Descriptor, content string) (*Module, error) {
	v, err := decodeData(d.Kind, content, d.Location)
	if err != nil {
		return nil, err
	}
	exports, err := l.sandbox.Engine().ToValue(v)
	if err != nil {
		return nil, fault.New(fault.SyntaxFault, "cannot convert data module", err).
			WithLocation(d.Location)
	}

	m := l.newModule(nil, pkg, d)
	m.exports = exports
	pkg.defineModule(m)
	return m, nil
}

// createModule executes a script artifact. The module is cached before its
// body runs so cyclic requires see the partially populated exports. On
// failure it is evicted again.
func (l *Loader) createModule(ctx context.Context, from *Module, pkg *Package, d *Descriptor, content string) (*Module, error) {
	m := l.newModule(from, pkg, d)
	m.exports = l.sandbox.Engine().NewExports()

	pkg.defineModule(m)
	l.inflight.add(m)
	l.observer.SetInFlight(l.inflight.len())

	ok := false
	defer func() {
		if !ok {
			pkg.clearModule(m.id, m.kind)
		}
		l.inflight.remove(m)
		l.observer.SetInFlight(l.inflight.len())
	}()

	c := &sandbox.Context{
		Print:   func(msg string) { l.print(m, msg) },
		Module:  m,
		Exports: m.exports,
		Require: func(id string) (interface{}, error) {
			return l.Require(ctx, m, id)
		},
		ApplicationContext: m.appContext,
		Env:                pkg.env,
	}
	if d.File != "" {
		c.Filename = d.File
		c.Dirname = filepath.Dir(d.File)
	}

	exports, err := l.sandbox.Run(ctx, d.Location, content, c)
	if err != nil {
		return nil, err
	}

	m.exports = exports
	ok = true
	return m, nil
}
