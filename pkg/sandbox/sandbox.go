// Package sandbox runs module source through a script engine in an isolated
// scope whose only free variables are the bindings of a Context.
package sandbox

import (
	"context"
	"errors"
	"sort"
	"unicode"

	"github.com/rs/zerolog"

	"github.com/openfroyo/starmod/pkg/fault"
)

// Fixed binding names every module sees.
const (
	BindPrint              = "print"
	BindModule             = "module"
	BindExports            = "exports"
	BindRequire            = "require"
	BindFilename           = "__filename"
	BindDirname            = "__dirname"
	BindApplicationContext = "applicationContext"
)

// ErrSyntax is wrapped by engines around static errors found while
// compiling, such as references to undefined names.
var ErrSyntax = errors.New("static error in module content")

// Program is an engine-specific compiled module body.
type Program interface{}

// Engine is the host scripting engine.
type Engine interface {
	// Check is a fast syntax pre-check. It must not execute anything.
	Check(name, src string) error

	// Compile builds a callable whose only free variables are bindings.
	Compile(name, src string, bindings []string) (Program, error)

	// Invoke runs a compiled program with the given context and returns the
	// module's exports value.
	Invoke(ctx context.Context, prog Program, c *Context) (interface{}, error)

	// NewExports creates an empty, mutable exports object.
	NewExports() interface{}

	// ToValue converts plain Go data (maps, slices, scalars) to the engine's
	// representation.
	ToValue(v interface{}) (interface{}, error)

	// FromValue converts an engine value back to plain Go data.
	FromValue(v interface{}) (interface{}, error)
}

// ModuleHandle is the module a body runs as.
type ModuleHandle interface {
	ID() string
	Path() string
	Location() string
	IsSystem() bool
}

// Context is the complete set of bindings handed to a module body.
type Context struct {
	Print              func(msg string)
	Module             ModuleHandle
	Exports            interface{}
	Require            func(id string) (interface{}, error)
	ApplicationContext interface{}

	// Filename and Dirname are set for filesystem modules only.
	Filename string
	Dirname  string

	// Env holds package environment variables.
	Env map[string]interface{}
}

// Bindings lists the free variable names of c in a stable order: the fixed
// set first, then the environment keys sorted.
func (c *Context) Bindings() []string {
	names := []string{BindPrint, BindModule, BindExports, BindRequire}
	if c.Filename != "" {
		names = append(names, BindFilename, BindDirname)
	}
	if c.ApplicationContext != nil {
		names = append(names, BindApplicationContext)
	}

	env := make([]string, 0, len(c.Env))
	for k := range c.Env {
		env = append(env, k)
	}
	sort.Strings(env)

	return append(names, env...)
}

// Backtracer is implemented by engine errors that carry a call stack.
type Backtracer interface {
	Backtrace() string
}

// Sandbox wraps an Engine with the check, compile, invoke sequence.
type Sandbox struct {
	engine Engine
	logger zerolog.Logger
}

// New creates a sandbox over engine.
func New(engine Engine, logger zerolog.Logger) *Sandbox {
	return &Sandbox{
		engine: engine,
		logger: logger.With().Str("component", "sandbox").Logger(),
	}
}

// Engine returns the underlying engine.
func (s *Sandbox) Engine() Engine {
	return s.engine
}

// Run pre-checks, compiles and invokes src as the body of c.Module and
// returns its exports. The sandbox never retries.
func (s *Sandbox) Run(ctx context.Context, name, src string, c *Context) (interface{}, error) {
	if err := s.engine.Check(name, src); err != nil {
		return nil, fault.New(fault.SyntaxFault, "module content has a syntax error", err).
			WithLocation(name)
	}

	bindings := c.Bindings()
	for _, b := range bindings {
		if !isIdentifier(b) {
			return nil, fault.Newf(fault.BadWrapperFault, "context variable %q is not a valid identifier", b).
				WithLocation(name).
				WithDetail("bindings", bindings)
		}
	}

	prog, err := s.engine.Compile(name, src, bindings)
	if errors.Is(err, ErrSyntax) {
		return nil, fault.New(fault.SyntaxFault, "module content has a static error", err).
			WithLocation(name)
	}
	if err != nil {
		return nil, fault.New(fault.BadWrapperFault, "failed to build module wrapper", err).
			WithLocation(name).
			WithDetail("bindings", bindings)
	}

	exports, err := s.engine.Invoke(ctx, prog, c)
	if err != nil {
		f := fault.New(fault.ModuleInitFault, "module initialization failed", err).
			WithLocation(name)
		var bt Backtracer
		if errors.As(err, &bt) {
			f.WithBacktrace(bt.Backtrace())
		}
		s.logger.Debug().Err(err).Str("location", name).Msg("Module body raised")
		return nil, f
	}

	return exports, nil
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if r == '_' || unicode.IsLetter(r) {
			continue
		}
		if i > 0 && unicode.IsDigit(r) {
			continue
		}
		return false
	}
	return true
}
