package loader

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/openfroyo/starmod/pkg/fault"
	"github.com/openfroyo/starmod/pkg/modpath"
)

// locate maps a canonical path inside pkg to a descriptor. A nil descriptor
// with a nil error means not found.
func (l *Loader) locate(ctx context.Context, pkg *Package, p string) (*Descriptor, error) {
	switch pkg.origin.Kind {
	case modpath.Filesystem:
		return l.locateFile(pkg, pkg.origin.Root, p)
	case modpath.Database:
		return l.locateDatabase(ctx, pkg.origin.Root, p)
	case modpath.System:
		return l.locateSystem(pkg, p), nil
	}
	return nil, fault.Newf(fault.BadPackageOrigin, "package %s has an unsupported origin", pkg.id).
		WithLocation(pkg.origin.URI())
}

// locateFile probes root for p through pkg's probe cache. Negative results
// are cached too; faults are not.
func (l *Loader) locateFile(pkg *Package, root, p string) (*Descriptor, error) {
	key := root + "\x00" + p
	if d, ok := pkg.probes[key]; ok {
		l.observer.ObserveCache(modpath.Filesystem, ProbeHit)
		return d, nil
	}
	l.observer.ObserveCache(modpath.Filesystem, ProbeMiss)

	d, err := l.probeFile(root, p)
	if err != nil {
		return nil, err
	}
	pkg.probes[key] = d
	return d, nil
}

// probeFile tries, in order: the exact file, the file with each appended
// extension, and the directory index.
func (l *Loader) probeFile(root, p string) (*Descriptor, error) {
	if l.files == nil {
		return nil, nil
	}
	filename := l.files.Join(root, filepath.FromSlash(p))

	if l.files.IsFile(filename) {
		kind, ext, ok := KindOfFile(filename)
		location, err := modpath.FileURI(filename)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fault.Newf(fault.UnknownArtifactKind, "unknown file type %q", ext).
				WithIdentifier(p).
				WithLocation(location)
		}
		id, err := modpath.Normalize("", strings.TrimSuffix(p, ext))
		if err != nil {
			return nil, err
		}
		return &Descriptor{ID: id, Path: modpath.Dir(id), Location: location, Kind: kind, File: filename}, nil
	}

	id, err := modpath.Normalize("", p)
	if err != nil {
		return nil, err
	}

	for _, ext := range appendedExts {
		candidate := filename + ext
		if !l.files.IsFile(candidate) {
			continue
		}
		location, err := modpath.FileURI(candidate)
		if err != nil {
			return nil, err
		}
		return &Descriptor{ID: id, Path: modpath.Dir(id), Location: location, Kind: kindByExt[ext], File: candidate}, nil
	}

	if l.files.IsDir(filename) {
		index := l.files.Join(filename, IndexName)
		if l.files.IsFile(index) {
			location, err := modpath.FileURI(index)
			if err != nil {
				return nil, err
			}
			indexID, err := modpath.Join(id, strings.TrimSuffix(IndexName, filepath.Ext(IndexName)))
			if err != nil {
				return nil, err
			}
			return &Descriptor{ID: indexID, Path: id, Location: location, Kind: KindScript, File: index}, nil
		}
	}

	return nil, nil
}

// locateDatabase looks p up in collection. Query errors are logged and
// treated as not found so the search can continue.
func (l *Loader) locateDatabase(ctx context.Context, collection, p string) (*Descriptor, error) {
	if l.db == nil {
		return nil, nil
	}

	rec, err := l.db.FindByPath(ctx, collection, p)
	if err != nil {
		l.observer.ObserveDatabaseError(collection)
		l.logger.Warn().Err(err).
			Str("collection", collection).
			Str("path", p).
			Msg("Module lookup failed, treating as not found")
		return nil, nil
	}
	if rec == nil {
		return nil, nil
	}

	location, err := modpath.ToLocation(modpath.Database, collection, p)
	if err != nil {
		return nil, err
	}
	if !rec.HasContent() {
		return nil, fault.Newf(fault.EmptyArtifact, "module record %q in %q has no content", p, collection).
			WithIdentifier(p).
			WithLocation(location)
	}

	return &Descriptor{
		ID:       p,
		Path:     modpath.Dir(p),
		Location: location,
		Kind:     KindScript,
		Content:  rec.Content,
		Revision: rec.Revision,
	}, nil
}

// locateSystem never probes storage. Only modules already defined in the
// system package are found.
func (l *Loader) locateSystem(pkg *Package, p string) *Descriptor {
	m, ok := pkg.Module(p, KindScript)
	if !ok {
		return nil
	}
	return &Descriptor{ID: m.id, Path: m.path, Location: m.location, Kind: m.kind}
}

// Candidate is one place an identifier resolves to without executing it.
type Candidate struct {
	Package    *Package
	Descriptor *Descriptor
}

// Locate reports every global root where id would be found, in search
// order, without loading anything. Sub-packages are not considered.
func (l *Loader) Locate(ctx context.Context, id string) ([]Candidate, error) {
	p, err := modpath.Normalize("", id)
	if err != nil {
		return nil, err
	}

	var out []Candidate
	for _, pkg := range l.globals {
		d, err := l.locate(ctx, pkg, p)
		if err != nil {
			return out, err
		}
		if d != nil {
			out = append(out, Candidate{Package: pkg, Descriptor: d})
		}
	}
	return out, nil
}
