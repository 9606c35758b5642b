package modpath

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/openfroyo/starmod/pkg/fault"
)

// OriginKind tags where a package's content lives.
type OriginKind string

const (
	// Filesystem packages are rooted in a directory tree.
	Filesystem OriginKind = "file"

	// Database packages are backed by a stored collection.
	Database OriginKind = "db"

	// System packages hold the privileged built-in modules.
	System OriginKind = "system"
)

// Scheme prefixes for location URIs.
const (
	FileScheme   = "file://"
	DBScheme     = "db://"
	SystemScheme = "system://"
)

// isWindows selects the volume-aware file URI rules.
var isWindows = runtime.GOOS == "windows"

// Origin identifies a package's storage domain. Root is a directory for
// Filesystem, a collection name for Database and a namespace for System.
type Origin struct {
	Kind OriginKind
	Root string
}

// FilesystemOrigin returns an origin rooted at dir.
func FilesystemOrigin(dir string) Origin {
	return Origin{Kind: Filesystem, Root: dir}
}

// DatabaseOrigin returns an origin backed by collection.
func DatabaseOrigin(collection string) Origin {
	return Origin{Kind: Database, Root: collection}
}

// SystemOrigin returns the privileged origin for namespace.
func SystemOrigin(namespace string) Origin {
	return Origin{Kind: System, Root: namespace}
}

// URI renders the origin the way packages are described in diagnostics:
// "file:///root", "db://collection/" or "system:///".
func (o Origin) URI() string {
	switch o.Kind {
	case Filesystem:
		u, err := FileURI(o.Root)
		if err != nil {
			return FileScheme + "/" + o.Root
		}
		return u
	case Database:
		return DBScheme + o.Root + "/"
	case System:
		return SystemScheme + "/"
	}
	return string(o.Kind) + "://" + o.Root
}

func (o Origin) String() string {
	return o.URI()
}

// Location is a parsed location URI.
type Location struct {
	Kind OriginKind

	// Namespace is the collection for Database locations and empty otherwise.
	Namespace string

	// Path is a filesystem path for Filesystem locations and a canonical
	// module path otherwise.
	Path string
}

// String renders the location back into URI form.
func (l Location) String() string {
	u, err := ToLocation(l.Kind, l.Namespace, l.Path)
	if err != nil {
		return fmt.Sprintf("%s:%s", l.Kind, l.Path)
	}
	return u
}

// ToLocation converts a path into an origin-tagged location URI. For the
// Filesystem kind p is a filesystem path and namespace is ignored; for the
// other kinds p is a canonical module path.
func ToLocation(kind OriginKind, namespace, p string) (string, error) {
	switch kind {
	case Filesystem:
		return FileURI(p)
	case Database:
		if namespace == "" || strings.Contains(namespace, "/") {
			return "", fault.Newf(fault.MalformedLocation, "bad database collection %q (path %q)", namespace, p)
		}
		return DBScheme + namespace + canonicalTail(p), nil
	case System:
		return SystemScheme + canonicalTail(p), nil
	}
	return "", fault.Newf(fault.MalformedLocation, "unknown origin kind %q", kind)
}

// ParseLocation is the inverse of ToLocation.
func ParseLocation(uri string) (Location, error) {
	switch {
	case strings.HasPrefix(uri, FileScheme):
		p, err := FilePath(uri)
		if err != nil {
			return Location{}, err
		}
		return Location{Kind: Filesystem, Path: p}, nil

	case strings.HasPrefix(uri, DBScheme):
		rest := uri[len(DBScheme):]
		ns, p, _ := strings.Cut(rest, "/")
		if ns == "" {
			return Location{}, fault.Newf(fault.MalformedLocation, "database location without collection: %q", uri)
		}
		return Location{Kind: Database, Namespace: ns, Path: "/" + p}, nil

	case strings.HasPrefix(uri, SystemScheme):
		p := uri[len(SystemScheme):]
		if !strings.HasPrefix(p, "/") {
			return Location{}, fault.Newf(fault.MalformedLocation, "system location must be absolute: %q", uri)
		}
		return Location{Kind: System, Path: p}, nil
	}

	return Location{}, fault.Newf(fault.MalformedLocation, "unrecognized location scheme: %q", uri)
}

// FileURI converts a filesystem path into a file URI. Drive letters and
// UNC paths are only recognized on volume-prefixed platforms.
func FileURI(p string) (string, error) {
	return fileURI(p, isWindows)
}

// FilePath converts a file URI back into a filesystem path.
func FilePath(uri string) (string, error) {
	return filePath(uri, isWindows)
}

func fileURI(p string, windows bool) (string, error) {
	if windows {
		p = strings.ReplaceAll(p, `\`, "/")
	}

	switch {
	case p == "":
		return FileScheme + "/", nil
	case p[0] == '.':
		return FileScheme + "/" + p, nil
	case p[0] == '/':
		return FileScheme + p, nil
	}

	if windows && len(p) >= 2 && p[1] == ':' {
		if len(p) < 3 || p[2] != '/' {
			return "", fault.Newf(fault.MalformedLocation, "drive letter must be followed by a slash: %q", p)
		}
		return FileScheme + "/" + p, nil
	}

	return FileScheme + "/./" + p, nil
}

func filePath(uri string, windows bool) (string, error) {
	if !strings.HasPrefix(uri, FileScheme+"/") {
		return "", fault.Newf(fault.MalformedLocation, "not a file location: %q", uri)
	}

	name := uri[len(FileScheme)+1:]
	if strings.HasPrefix(name, ".") {
		return name, nil
	}

	if windows && len(name) >= 2 && name[1] == ':' {
		if len(name) < 3 || name[2] != '/' {
			return "", fault.Newf(fault.MalformedLocation, "drive letter must be followed by a slash: %q", name)
		}
		return name, nil
	}

	return "/" + name, nil
}

func canonicalTail(p string) string {
	if strings.HasPrefix(p, "/") {
		return p
	}
	return "/" + p
}
