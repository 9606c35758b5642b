// Package starlarkengine implements the sandbox engine on top of Starlark.
//
// Module bodies are compiled as Starlark programs whose predeclared names
// are exactly the context bindings plus a few helper modules. Everything a
// module leaves in its exports dict, together with its public globals,
// becomes the module's exports.
package starlarkengine

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog"
	starjson "go.starlark.net/lib/json"
	"go.starlark.net/resolve"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
	"go.starlark.net/syntax"

	"github.com/openfroyo/starmod/pkg/sandbox"
)

// fileOptions allows top-level control flow and reassignment so module
// bodies read like ordinary scripts.
var fileOptions = &syntax.FileOptions{
	Set:             true,
	While:           true,
	TopLevelControl: true,
	GlobalReassign:  true,
}

// keywords cannot be used as binding names.
var keywords = map[string]bool{
	"and": true, "as": true, "assert": true, "async": true, "await": true,
	"break": true, "class": true, "continue": true, "def": true, "del": true,
	"elif": true, "else": true, "except": true, "finally": true, "for": true,
	"from": true, "global": true, "if": true, "import": true, "in": true,
	"is": true, "lambda": true, "load": true, "nonlocal": true, "not": true,
	"or": true, "pass": true, "raise": true, "return": true, "try": true,
	"while": true, "with": true, "yield": true,
}

// Option configures an Engine.
type Option func(*Engine)

// WithGlobals adds predeclared values visible to every module.
func WithGlobals(globals starlark.StringDict) Option {
	return func(e *Engine) {
		for k, v := range globals {
			e.globals[k] = v
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) { e.logger = logger.With().Str("component", "starlark").Logger() }
}

// WithMaxSteps bounds the number of interpreter steps per module body.
// Zero means unlimited.
func WithMaxSteps(n uint64) Option {
	return func(e *Engine) { e.maxSteps = n }
}

// Engine runs module bodies as Starlark programs.
type Engine struct {
	globals  starlark.StringDict
	maxSteps uint64
	logger   zerolog.Logger
}

var _ sandbox.Engine = (*Engine)(nil)

// New creates an engine.
func New(opts ...Option) *Engine {
	e := &Engine{
		globals: starlark.StringDict{
			"struct": starlark.NewBuiltin("struct", starlarkstruct.Make),
			"json":   starjson.Module,
		},
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Check parses src without resolving or executing it.
func (e *Engine) Check(name, src string) error {
	_, err := fileOptions.Parse(name, src, 0)
	return err
}

// Compile resolves src against the engine globals and bindings.
func (e *Engine) Compile(name, src string, bindings []string) (sandbox.Program, error) {
	names := make(map[string]bool, len(bindings)+len(e.globals))
	for k := range e.globals {
		names[k] = true
	}
	for _, b := range bindings {
		if keywords[b] {
			return nil, fmt.Errorf("binding %q is a reserved word", b)
		}
		names[b] = true
	}

	_, prog, err := starlark.SourceProgramOptions(fileOptions, name, src, func(s string) bool {
		return names[s]
	})
	if err != nil {
		switch err.(type) {
		case resolve.ErrorList, syntax.Error:
			return nil, fmt.Errorf("%w: %w", sandbox.ErrSyntax, err)
		}
		return nil, err
	}
	return prog, nil
}

// Invoke runs prog. Cancelling ctx cancels the Starlark thread, including
// threads of modules required while it runs.
func (e *Engine) Invoke(ctx context.Context, prog sandbox.Program, c *sandbox.Context) (interface{}, error) {
	p, ok := prog.(*starlark.Program)
	if !ok {
		return nil, fmt.Errorf("starlark: unexpected program type %T", prog)
	}

	exports, err := e.toStarlark(c.Exports)
	if err != nil {
		return nil, fmt.Errorf("exports: %w", err)
	}
	predeclared, err := e.predeclared(c, exports)
	if err != nil {
		return nil, err
	}

	thread := &starlark.Thread{
		Name: c.Module.ID(),
		Print: func(_ *starlark.Thread, msg string) {
			if c.Print != nil {
				c.Print(msg)
			}
		},
		Load: func(_ *starlark.Thread, module string) (starlark.StringDict, error) {
			v, err := c.Require(module)
			if err != nil {
				return nil, err
			}
			return e.members(v)
		},
	}

	if e.maxSteps > 0 {
		thread.SetMaxExecutionSteps(e.maxSteps)
	}
	if err := ctx.Err(); err != nil {
		thread.Cancel(err.Error())
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			thread.Cancel(ctx.Err().Error())
		case <-done:
		}
	}()

	globals, err := p.Init(thread, predeclared)
	if err != nil {
		e.logger.Debug().Err(err).Str("module", c.Module.ID()).Uint64("steps", thread.ExecutionSteps()).Msg("Module body failed")
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%w: %w", ctxErr, err)
		}
		return nil, err
	}

	return mergeExports(exports, globals), nil
}

func (e *Engine) predeclared(c *sandbox.Context, exports starlark.Value) (starlark.StringDict, error) {
	d := make(starlark.StringDict, len(e.globals)+8+len(c.Env))
	for k, v := range e.globals {
		d[k] = v
	}

	d[sandbox.BindPrint] = starlark.Universe["print"]
	d[sandbox.BindModule] = &moduleValue{handle: c.Module, exports: exports}
	d[sandbox.BindExports] = exports
	d[sandbox.BindRequire] = starlark.NewBuiltin(sandbox.BindRequire,
		func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var id string
			if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &id); err != nil {
				return nil, err
			}
			v, err := c.Require(id)
			if err != nil {
				return nil, err
			}
			return e.toStarlark(v)
		})

	if c.Filename != "" {
		d[sandbox.BindFilename] = starlark.String(c.Filename)
		d[sandbox.BindDirname] = starlark.String(c.Dirname)
	}
	if c.ApplicationContext != nil {
		v, err := e.toStarlark(c.ApplicationContext)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", sandbox.BindApplicationContext, err)
		}
		d[sandbox.BindApplicationContext] = v
	}
	for k, raw := range c.Env {
		v, err := e.toStarlark(raw)
		if err != nil {
			return nil, fmt.Errorf("environment %s: %w", k, err)
		}
		d[k] = v
	}

	return d, nil
}

// mergeExports returns the module's exports. A module that rebinds the
// exports name exports that value; otherwise public globals not already
// present are added to the exports dict.
func mergeExports(exports starlark.Value, globals starlark.StringDict) starlark.Value {
	if v, ok := globals[sandbox.BindExports]; ok {
		return v
	}

	dict, ok := exports.(*starlark.Dict)
	if !ok {
		return exports
	}
	for _, name := range globals.Keys() {
		if len(name) > 0 && name[0] == '_' {
			continue
		}
		if _, found, _ := dict.Get(starlark.String(name)); found {
			continue
		}
		_ = dict.SetKey(starlark.String(name), globals[name])
	}
	return dict
}

// members turns a required value into load() bindings.
func (e *Engine) members(v interface{}) (starlark.StringDict, error) {
	sv, err := e.toStarlark(v)
	if err != nil {
		return nil, err
	}

	out := make(starlark.StringDict)
	switch val := sv.(type) {
	case *starlark.Dict:
		for _, item := range val.Items() {
			k, ok := item[0].(starlark.String)
			if !ok {
				continue
			}
			out[string(k)] = item[1]
		}
	case starlark.HasAttrs:
		for _, name := range val.AttrNames() {
			attr, err := val.Attr(name)
			if err != nil || attr == nil {
				continue
			}
			out[name] = attr
		}
	default:
		return nil, fmt.Errorf("cannot load from %s", sv.Type())
	}
	return out, nil
}

// NewExports returns an empty dict.
func (e *Engine) NewExports() interface{} {
	return starlark.NewDict(0)
}

// ToValue converts plain Go data to a Starlark value.
func (e *Engine) ToValue(v interface{}) (interface{}, error) {
	return e.toStarlark(v)
}

func (e *Engine) toStarlark(v interface{}) (starlark.Value, error) {
	if sv, ok := v.(starlark.Value); ok {
		return sv, nil
	}
	return toStarlarkValue(v)
}

// FromValue converts a Starlark value to plain Go data.
func (e *Engine) FromValue(v interface{}) (interface{}, error) {
	sv, ok := v.(starlark.Value)
	if !ok {
		return v, nil
	}
	return fromStarlarkValue(sv)
}

// moduleValue is the module binding.
type moduleValue struct {
	handle  sandbox.ModuleHandle
	exports starlark.Value
}

var _ starlark.HasAttrs = (*moduleValue)(nil)

func (m *moduleValue) String() string        { return fmt.Sprintf("<module %q>", m.handle.ID()) }
func (m *moduleValue) Type() string          { return "module" }
func (m *moduleValue) Freeze()               {}
func (m *moduleValue) Truth() starlark.Bool  { return true }
func (m *moduleValue) Hash() (uint32, error) { return 0, errors.New("unhashable type: module") }

func (m *moduleValue) Attr(name string) (starlark.Value, error) {
	switch name {
	case "id":
		return starlark.String(m.handle.ID()), nil
	case "path":
		return starlark.String(m.handle.Path()), nil
	case "location":
		return starlark.String(m.handle.Location()), nil
	case "is_system":
		return starlark.Bool(m.handle.IsSystem()), nil
	case "exports":
		return m.exports, nil
	}
	return nil, nil
}

func (m *moduleValue) AttrNames() []string {
	names := []string{"exports", "id", "is_system", "location", "path"}
	sort.Strings(names)
	return names
}
