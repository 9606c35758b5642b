// Package modpath turns module identifiers into canonical paths and converts
// canonical paths to and from origin-tagged location URIs.
//
// Every function in this package is pure.
package modpath

import (
	"strings"

	"github.com/openfroyo/starmod/pkg/fault"
)

// IsRelative reports whether id starts with a "." or ".." segment.
func IsRelative(id string) bool {
	return id == "." || id == ".." || strings.HasPrefix(id, "./") || strings.HasPrefix(id, "../")
}

// IsAbsolute reports whether id starts with "/".
func IsAbsolute(id string) bool {
	return strings.HasPrefix(id, "/")
}

// Normalize resolves p against base and returns the canonical form: a
// leading "/", no "." or empty segments, no "..".
//
// When p is relative, it is resolved against base. If the last segment of
// base looks like a file name (it contains a "." after its first character)
// that segment is dropped first. Any other p is normalized on its own and
// base is ignored. A ".." that would climb above the root is an
// EscapesRoot fault.
func Normalize(base, p string) (string, error) {
	if p == "" {
		if base == "" {
			return "/", nil
		}
		return Normalize("", base)
	}

	parts := strings.Split(p, "/")

	var segs []string
	if parts[0] == "." || parts[0] == ".." {
		prefix := strings.Split(base, "/")
		if last := prefix[len(prefix)-1]; strings.Index(last, ".") > 0 {
			prefix = prefix[:len(prefix)-1]
		}
		segs = append(prefix, parts...)
	} else {
		segs = parts
	}

	out := make([]string, 0, len(segs))
	for _, s := range segs {
		switch s {
		case "", ".":
		case "..":
			if len(out) == 0 {
				return "", fault.Newf(fault.EscapesRoot,
					"module path can not escape its root (prefix %q, path %q)", base, p).
					WithIdentifier(p)
			}
			out = out[:len(out)-1]
		default:
			out = append(out, s)
		}
	}

	return "/" + strings.Join(out, "/"), nil
}

// MustNormalize is Normalize for paths known to stay inside their root.
func MustNormalize(p string) string {
	n, err := Normalize("", p)
	if err != nil {
		panic(err)
	}
	return n
}

// Dir returns the canonical containing path of p. Dir("/") is "/".
func Dir(p string) string {
	n, err := Normalize("", p+"/..")
	if err != nil {
		return "/"
	}
	return n
}

// Join concatenates canonical path segments and normalizes the result.
func Join(elem ...string) (string, error) {
	return Normalize("", strings.Join(elem, "/"))
}

// Split splits a canonical path into its first segment and the remainder,
// both returned in canonical form. ok is false when there is no remainder.
func Split(p string) (first, rest string, ok bool) {
	trimmed := strings.TrimPrefix(p, "/")
	i := strings.Index(trimmed, "/")
	if i < 0 {
		return "/" + trimmed, "", false
	}
	return "/" + trimmed[:i], "/" + trimmed[i+1:], true
}
