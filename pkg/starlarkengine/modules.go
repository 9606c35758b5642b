package starlarkengine

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/openfroyo/starmod/pkg/modpath"
	"github.com/openfroyo/starmod/pkg/stores"
)

// NewConsoleModule returns the console module. Output goes to logger at
// the level named by each function; log is info.
func NewConsoleModule(logger zerolog.Logger) *starlarkstruct.Module {
	logger = logger.With().Str("component", "console").Logger()

	member := func(name string, level zerolog.Level) *starlark.Builtin {
		return starlark.NewBuiltin(name, func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			if len(kwargs) > 0 {
				return nil, starlark.UnpackArgs(b.Name(), nil, kwargs)
			}
			parts := make([]string, len(args))
			for i, a := range args {
				if s, ok := starlark.AsString(a); ok {
					parts[i] = s
				} else {
					parts[i] = a.String()
				}
			}
			logger.WithLevel(level).Str("thread", thread.Name).Msg(strings.Join(parts, " "))
			return starlark.None, nil
		})
	}

	return &starlarkstruct.Module{
		Name: "console",
		Members: starlark.StringDict{
			"log":   member("log", zerolog.InfoLevel),
			"debug": member("debug", zerolog.DebugLevel),
			"info":  member("info", zerolog.InfoLevel),
			"warn":  member("warn", zerolog.WarnLevel),
			"error": member("error", zerolog.ErrorLevel),
		},
	}
}

// NewFSModule returns the read-only fs module over files.
func NewFSModule(files stores.FileStore) *starlarkstruct.Module {
	predicate := func(name string, fn func(string) bool) *starlark.Builtin {
		return starlark.NewBuiltin(name, func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var p string
			if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &p); err != nil {
				return nil, err
			}
			return starlark.Bool(fn(p)), nil
		})
	}

	read := starlark.NewBuiltin("read", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var p string
		if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &p); err != nil {
			return nil, err
		}
		data, err := files.Read(p)
		if err != nil {
			return nil, err
		}
		return starlark.String(data), nil
	})

	join := starlark.NewBuiltin("join", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if len(kwargs) > 0 {
			return nil, starlark.UnpackArgs(b.Name(), nil, kwargs)
		}
		parts := make([]string, len(args))
		for i, a := range args {
			s, ok := starlark.AsString(a)
			if !ok {
				return nil, fmt.Errorf("%s: argument %d is %s, want string", b.Name(), i+1, a.Type())
			}
			parts[i] = s
		}
		return starlark.String(files.Join(parts...)), nil
	})

	return &starlarkstruct.Module{
		Name: "fs",
		Members: starlark.StringDict{
			"exists":       predicate("exists", files.Exists),
			"is_file":      predicate("is_file", files.IsFile),
			"is_directory": predicate("is_directory", files.IsDir),
			"read":         read,
			"join":         join,
		},
	}
}

// Internals is the loader surface the internal module exposes.
type Internals interface {
	CleanupAfterCancellation()
	InFlight() []string
}

// NewInternalModule returns the internal module.
func NewInternalModule(in Internals, version string) *starlarkstruct.Module {
	normalize := starlark.NewBuiltin("normalize", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var p, base string
		if err := starlark.UnpackArgs(b.Name(), args, kwargs, "path", &p, "base?", &base); err != nil {
			return nil, err
		}
		n, err := modpath.Normalize(base, p)
		if err != nil {
			return nil, err
		}
		return starlark.String(n), nil
	})

	cleanup := starlark.NewBuiltin("cleanup_cancellation", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
			return nil, err
		}
		in.CleanupAfterCancellation()
		return starlark.None, nil
	})

	inFlight := starlark.NewBuiltin("in_flight", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
			return nil, err
		}
		ids := in.InFlight()
		list := make([]starlark.Value, len(ids))
		for i, id := range ids {
			list[i] = starlark.String(id)
		}
		return starlark.NewList(list), nil
	})

	return &starlarkstruct.Module{
		Name: "internal",
		Members: starlark.StringDict{
			"normalize":            normalize,
			"cleanup_cancellation": cleanup,
			"in_flight":            inFlight,
			"version":              starlark.String(version),
		},
	}
}
