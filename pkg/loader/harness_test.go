package loader

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"go.starlark.net/starlark"

	"github.com/openfroyo/starmod/pkg/modpath"
	"github.com/openfroyo/starmod/pkg/sandbox"
	"github.com/openfroyo/starmod/pkg/starlarkengine"
	"github.com/openfroyo/starmod/pkg/stores"
)

// fakeDB is an in-memory stores.Database.
type fakeDB struct {
	records map[string]*stores.ModuleRecord
	err     error
	calls   int
}

func newFakeDB() *fakeDB {
	return &fakeDB{records: make(map[string]*stores.ModuleRecord)}
}

func (d *fakeDB) FindByPath(_ context.Context, collection, path string) (*stores.ModuleRecord, error) {
	d.calls++
	if d.err != nil {
		return nil, d.err
	}
	return d.records[collection+path], nil
}

func (d *fakeDB) put(path string, content *string, revision int64) {
	d.records[stores.DefaultCollection+path] = &stores.ModuleRecord{
		Collection: stores.DefaultCollection,
		Path:       path,
		Content:    content,
		Revision:   revision,
	}
}

// harness builds a loader over an in-memory filesystem rooted at /global.
type harness struct {
	tree    map[string]string
	db      *fakeDB
	globals starlark.StringDict
	opts    []Option
}

type built struct {
	*Loader
	fs      afero.Fs
	files   *stores.AferoFileStore
	engine  *starlarkengine.Engine
	printed map[string]int
}

func (h harness) build(t *testing.T) *built {
	t.Helper()

	mem := afero.NewMemMapFs()
	if err := mem.MkdirAll("/global", 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	for name, content := range h.tree {
		if err := afero.WriteFile(mem, name, []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}

	b := &built{
		fs:      mem,
		files:   stores.NewAferoFileStore(mem),
		engine:  starlarkengine.New(starlarkengine.WithGlobals(h.globals)),
		printed: make(map[string]int),
	}

	roots := Roots{ModulePaths: []string{"/global"}}
	var db stores.Database
	if h.db != nil {
		roots.Collections = []string{stores.DefaultCollection}
		db = h.db
	}

	opts := append([]Option{
		WithLogger(zerolog.Nop()),
		WithPrint(func(m *Module, msg string) { b.printed[m.ID()+":"+msg]++ }),
	}, h.opts...)

	l, err := New(roots, b.files, db, sandbox.New(b.engine, zerolog.Nop()), opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	b.Loader = l

	for name, value := range map[string]starlark.Value{
		InternalModule: starlarkengine.NewInternalModule(l, "test"),
		FSModule:       starlarkengine.NewFSModule(b.files),
		ConsoleModule:  starlarkengine.NewConsoleModule(zerolog.Nop()),
	} {
		m, err := l.CreatePrivilegedModule("/" + name)
		if err != nil {
			t.Fatalf("CreatePrivilegedModule(%s) error = %v", name, err)
		}
		m.SetExports(value)
	}

	return b
}

// require loads id from the root module and returns its exports as plain
// Go data.
func (b *built) require(t *testing.T, id string) (map[string]interface{}, error) {
	t.Helper()
	return b.requireFrom(t, context.Background(), nil, id)
}

func (b *built) requireFrom(t *testing.T, ctx context.Context, from *Module, id string) (map[string]interface{}, error) {
	t.Helper()

	v, err := b.Require(ctx, from, id)
	if got := b.InFlight(); len(got) != 0 {
		t.Fatalf("modules left in flight after Require(%q): %v", id, got)
	}
	if err != nil {
		return nil, err
	}
	return b.plain(t, v), nil
}

func (b *built) plain(t *testing.T, v interface{}) map[string]interface{} {
	t.Helper()

	out, err := b.engine.FromValue(v)
	if err != nil {
		t.Fatalf("FromValue() error = %v", err)
	}
	m, ok := out.(map[string]interface{})
	if !ok {
		t.Fatalf("exports are %T, want a dict", out)
	}
	return m
}

func (b *built) write(t *testing.T, name, content string) {
	t.Helper()
	if err := afero.WriteFile(b.fs, name, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func (b *built) global() *Package {
	return b.Globals()[0]
}

func strPtr(s string) *string { return &s }

// countingObserver records observer calls.
type countingObserver struct {
	requires map[string]int
	loads    int
	cache    map[string]int
	dbErrors int
	maxInFl  int
}

func newCountingObserver() *countingObserver {
	return &countingObserver{requires: make(map[string]int), cache: make(map[string]int)}
}

func (o *countingObserver) ObserveRequire(outcome string, _ time.Duration) { o.requires[outcome]++ }
func (o *countingObserver) ObserveLoad(modpath.OriginKind, Kind, time.Duration, error) {
	o.loads++
}
func (o *countingObserver) ObserveCache(_ modpath.OriginKind, event string) { o.cache[event]++ }
func (o *countingObserver) ObserveDatabaseError(string)                     { o.dbErrors++ }
func (o *countingObserver) SetInFlight(n int) {
	if n > o.maxInFl {
		o.maxInFl = n
	}
}
