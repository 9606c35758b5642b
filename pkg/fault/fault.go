// Package fault defines the classified error type shared by the path
// normalizer, the loader and the execution sandbox.
package fault

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a fault.
type Kind string

const (
	// EscapesRoot indicates a ".." segment that would climb above the root.
	EscapesRoot Kind = "escapes_root"

	// MalformedLocation indicates a location URI with an unknown scheme or
	// an unusable drive-letter form.
	MalformedLocation Kind = "malformed_location"

	// BadPackageOrigin indicates a package whose origin matches no scheme
	// the loader can resolve against.
	BadPackageOrigin Kind = "bad_package_origin"

	// UnknownArtifactKind indicates an existing file whose extension is not
	// one of the recognized artifact kinds.
	UnknownArtifactKind Kind = "unknown_artifact_kind"

	// EmptyArtifact indicates a database record without content.
	EmptyArtifact Kind = "empty_artifact"

	// ModuleNotFound indicates that every resolution strategy was exhausted.
	ModuleNotFound Kind = "module_not_found"

	// SyntaxFault indicates content rejected by the syntax pre-check.
	SyntaxFault Kind = "syntax"

	// BadWrapperFault indicates a failure while constructing the isolated
	// callable, before any module code ran.
	BadWrapperFault Kind = "bad_wrapper"

	// ModuleInitFault indicates a failure raised by the module body.
	ModuleInitFault Kind = "module_init"

	// PackageManifestFault indicates a missing or unusable package manifest
	// entry point.
	PackageManifestFault Kind = "package_manifest"
)

// Sentinels for errors.Is. Matching is by kind only.
var (
	ErrEscapesRoot         = &Fault{Kind: EscapesRoot}
	ErrMalformedLocation   = &Fault{Kind: MalformedLocation}
	ErrBadPackageOrigin    = &Fault{Kind: BadPackageOrigin}
	ErrUnknownArtifactKind = &Fault{Kind: UnknownArtifactKind}
	ErrEmptyArtifact       = &Fault{Kind: EmptyArtifact}
	ErrModuleNotFound      = &Fault{Kind: ModuleNotFound}
	ErrSyntax              = &Fault{Kind: SyntaxFault}
	ErrBadWrapper          = &Fault{Kind: BadWrapperFault}
	ErrModuleInit          = &Fault{Kind: ModuleInitFault}
	ErrPackageManifest     = &Fault{Kind: PackageManifestFault}
)

// Fault is a classified loader error with enough context to diagnose a
// misconfigured path.
type Fault struct {
	// Kind is the fault classification.
	Kind Kind `json:"kind"`

	// Message is the human-readable message.
	Message string `json:"message"`

	// Identifier is the identifier the caller originally required.
	Identifier string `json:"identifier,omitempty"`

	// Location is the resolved physical location, if resolution got that far.
	Location string `json:"location,omitempty"`

	// Backtrace is the engine-reported stack for execution faults.
	Backtrace string `json:"backtrace,omitempty"`

	// Err is the underlying cause.
	Err error `json:"-"`

	// Details carries kind-specific context.
	Details map[string]interface{} `json:"details,omitempty"`
}

// New creates a fault of the given kind.
func New(kind Kind, message string, err error) *Fault {
	return &Fault{
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// Newf creates a fault of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *Fault {
	return New(kind, fmt.Sprintf(format, args...), nil)
}

// Error implements the error interface.
func (f *Fault) Error() string {
	var b strings.Builder
	b.WriteString("[")
	b.WriteString(string(f.Kind))
	b.WriteString("] ")
	b.WriteString(f.Message)

	var ctx []string
	if f.Identifier != "" {
		ctx = append(ctx, "identifier="+f.Identifier)
	}
	if f.Location != "" {
		ctx = append(ctx, "location="+f.Location)
	}
	if len(ctx) > 0 {
		b.WriteString(" (")
		b.WriteString(strings.Join(ctx, ", "))
		b.WriteString(")")
	}
	if f.Err != nil {
		b.WriteString(": ")
		b.WriteString(f.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying error.
func (f *Fault) Unwrap() error {
	return f.Err
}

// Is reports whether target is a fault of the same kind.
func (f *Fault) Is(target error) bool {
	t, ok := target.(*Fault)
	if !ok {
		return false
	}
	return f.Kind == t.Kind
}

// WithIdentifier records the requesting identifier unless one is already set.
// Faults raised by a nested require keep the innermost identifier.
func (f *Fault) WithIdentifier(id string) *Fault {
	if f.Identifier == "" {
		f.Identifier = id
	}
	return f
}

// WithLocation records the resolved location unless one is already set.
func (f *Fault) WithLocation(location string) *Fault {
	if f.Location == "" {
		f.Location = location
	}
	return f
}

// WithBacktrace attaches an engine stack trace.
func (f *Fault) WithBacktrace(bt string) *Fault {
	f.Backtrace = bt
	return f
}

// WithDetail adds a detail field.
func (f *Fault) WithDetail(key string, value interface{}) *Fault {
	if f.Details == nil {
		f.Details = make(map[string]interface{})
	}
	f.Details[key] = value
	return f
}

// KindOf returns the kind of the first fault in err's chain, or "".
func KindOf(err error) Kind {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind
	}
	return ""
}

// Is reports whether err carries a fault of the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// IsResolution reports whether err is a path-construction fault. These are
// never swallowed by the search strategies.
func IsResolution(err error) bool {
	switch KindOf(err) {
	case EscapesRoot, MalformedLocation, UnknownArtifactKind, BadPackageOrigin:
		return true
	}
	return false
}

// IsExecution reports whether err was raised while materializing a module.
func IsExecution(err error) bool {
	switch KindOf(err) {
	case SyntaxFault, BadWrapperFault, ModuleInitFault:
		return true
	}
	return false
}
