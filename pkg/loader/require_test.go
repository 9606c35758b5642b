package loader

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.starlark.net/starlark"

	"github.com/openfroyo/starmod/pkg/fault"
)

func TestRequireRelativeAndAbsolute(t *testing.T) {
	b := harness{tree: map[string]string{
		"/global/app/main.star":       `helper = require("./lib/helper")["name"]` + "\n" + `abs = require("/app/lib/helper")["name"]`,
		"/global/app/lib/helper.star": `name = "helper"` + "\n" + `up = require("../sibling")["v"]`,
		"/global/app/sibling.star":    `v = 7`,
	}}.build(t)

	got, err := b.require(t, "app/main")
	if err != nil {
		t.Fatalf("require() error = %v", err)
	}
	if got["helper"] != "helper" || got["abs"] != "helper" {
		t.Errorf("exports = %v", got)
	}

	helper, ok := b.global().Module("/app/lib/helper", KindScript)
	if !ok {
		t.Fatal("helper module was not cached")
	}
	if helper.Path() != "/app/lib" || helper.Location() != "file:///global/app/lib/helper.star" {
		t.Errorf("helper = %s", helper)
	}
}

func TestRequireCachesModules(t *testing.T) {
	obs := newCountingObserver()
	b := harness{
		tree: map[string]string{"/global/once.star": `print("ran")` + "\nvalue = 1"},
		opts: []Option{WithObserver(obs)},
	}.build(t)

	first, err := b.RequireMain(context.Background(), "once")
	if err != nil {
		t.Fatalf("first require error = %v", err)
	}
	second, err := b.RequireMain(context.Background(), "once")
	if err != nil {
		t.Fatalf("second require error = %v", err)
	}

	if first.(*starlark.Dict) != second.(*starlark.Dict) {
		t.Error("second require returned a different exports object")
	}
	if n := b.printed["/once:ran"]; n != 1 {
		t.Errorf("module body ran %d times, want 1", n)
	}
	if obs.cache[CacheHit] != 1 || obs.loads != 1 || obs.requires[OutcomeLoaded] != 2 {
		t.Errorf("observer = %+v", obs)
	}
}

func TestLocatePrecedence(t *testing.T) {
	b := harness{tree: map[string]string{
		"/global/dual.star":          `which = "file"`,
		"/global/dual/index.star":    `which = "index"`,
		"/global/onlydir/index.star": `which = "index"` + "\n" + `near = require("./near")["v"]`,
		"/global/onlydir/near.star":  `v = "near"`,
		"/global/data.json":          `{"which": "json"}`,
		"/global/both.star":          `which = "script"`,
		"/global/both.json":          `{"which": "json"}`,
		"/global/notes.txt":          `plain text`,
		"/global/settings.yaml":      "which: yaml\nlevels: [1, 2]\n",
		"/global/schema.cue":         "which: \"cue\"\nport: 80 + 1\n",
		"/global/exact.star.json":    `{"which": "appended json"}`,
	}}.build(t)

	tests := []struct {
		id   string
		want map[string]interface{}
	}{
		{"dual", map[string]interface{}{"which": "file"}},
		{"onlydir", map[string]interface{}{"which": "index", "near": "near"}},
		{"data", map[string]interface{}{"which": "json"}},
		{"both", map[string]interface{}{"which": "script"}},
		{"both.json", map[string]interface{}{"which": "json"}},
		{"settings.yaml", map[string]interface{}{"which": "yaml", "levels": []interface{}{int64(1), int64(2)}}},
		{"schema", map[string]interface{}{"which": "cue", "port": int64(81)}},
		{"exact.star", map[string]interface{}{"which": "appended json"}},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			got, err := b.require(t, tt.id)
			if err != nil {
				t.Fatalf("require(%q) error = %v", tt.id, err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("exports mismatch (-want +got):\n%s", diff)
			}
		})
	}

	if m, ok := b.global().Module("/onlydir/index", KindScript); !ok || m.Path() != "/onlydir" {
		t.Errorf("directory index cached as %v", m)
	}

	_, err := b.require(t, "notes.txt")
	if !fault.Is(err, fault.UnknownArtifactKind) {
		t.Errorf("require(notes.txt) error = %v, want unknown_artifact_kind", err)
	}
}

func TestRequireFaults(t *testing.T) {
	b := harness{tree: map[string]string{
		"/global/outer.star":  `x = require("./missing_inner")`,
		"/global/broken.star": `x = (`,
		"/global/bad.json":    `{"unterminated": `,
	}}.build(t)

	tests := []struct {
		id         string
		kind       fault.Kind
		identifier string
		also       error
	}{
		{id: "../escape", kind: fault.EscapesRoot, identifier: "../escape"},
		{id: "nowhere", kind: fault.ModuleNotFound, identifier: "nowhere"},
		{id: "outer", kind: fault.ModuleInitFault, identifier: "outer", also: fault.ErrModuleNotFound},
		{id: "broken", kind: fault.SyntaxFault, identifier: "broken"},
		{id: "bad", kind: fault.SyntaxFault, identifier: "bad"},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			_, err := b.require(t, tt.id)

			var f *fault.Fault
			if !errors.As(err, &f) {
				t.Fatalf("require(%q) error = %v, want a fault", tt.id, err)
			}
			if f.Kind != tt.kind || f.Identifier != tt.identifier {
				t.Errorf("fault = %q/%q, want %q/%q", f.Kind, f.Identifier, tt.kind, tt.identifier)
			}
			if tt.also != nil && !errors.Is(err, tt.also) {
				t.Errorf("error %v does not wrap %v", err, tt.also)
			}
		})
	}

	if _, ok := b.global().Module("/outer", KindScript); ok {
		t.Error("failed module left in cache")
	}
}

func TestFailedInitIsRetried(t *testing.T) {
	b := harness{tree: map[string]string{
		"/global/flaky.star": `fail("not yet")`,
	}}.build(t)

	if _, err := b.require(t, "flaky"); !fault.Is(err, fault.ModuleInitFault) {
		t.Fatalf("first require error = %v, want module_init", err)
	}

	b.write(t, "/global/flaky.star", `ready = True`)

	got, err := b.require(t, "flaky")
	if err != nil {
		t.Fatalf("second require error = %v", err)
	}
	if got["ready"] != true {
		t.Errorf("exports = %v", got)
	}
}

func TestCyclicRequire(t *testing.T) {
	b := harness{tree: map[string]string{
		"/global/a.star": `exports["early"] = 1` + "\n" + `b = require("./b")` + "\n" + `late = 2`,
		"/global/b.star": `_a = require("./a")` + "\n" + `seen_early = _a["early"]` + "\n" + `seen_late = "late" in _a`,
	}}.build(t)

	got, err := b.require(t, "a")
	if err != nil {
		t.Fatalf("require(a) error = %v", err)
	}

	bExports, ok := got["b"].(map[string]interface{})
	if !ok {
		t.Fatalf("a.b = %T", got["b"])
	}
	if bExports["seen_early"] != int64(1) || bExports["seen_late"] != false {
		t.Errorf("b saw %v", bExports)
	}
	if got["late"] != int64(2) {
		t.Errorf("a exports = %v", got)
	}
}

func TestRequireSubPackages(t *testing.T) {
	b := harness{tree: map[string]string{
		"/global/node_modules/greeter/package.json": `{"name": "greeter", "main": "main.star", "environment": {"GREETING": "hi"}}`,
		"/global/node_modules/greeter/main.star":    `util = require("./util")` + "\n" + `message = GREETING + " " + util["name"]`,
		"/global/node_modules/greeter/util.star":    `name = "util"`,

		"/global/node_modules/outer/package.json":                    `{"name": "outer"}`,
		"/global/node_modules/outer/index.star":                      `mid = require("mid")["leaf"]`,
		"/global/node_modules/outer/node_modules/mid/package.json":   `{}`,
		"/global/node_modules/outer/node_modules/mid/index.star":     `leaf = require("leaf")["v"]`,
		"/global/node_modules/outer/node_modules/leaf/package.json":  `{"main": "./src/leaf.star"}`,
		"/global/node_modules/outer/node_modules/leaf/src/leaf.star": `v = "leaf"`,

		"/global/node_modules/withlib/package.json":   `{"lib": "lib"}`,
		"/global/node_modules/withlib/lib/index.star": `v = require("./inner")["v"]`,
		"/global/node_modules/withlib/lib/inner.star": `v = "from lib"`,
		"/global/node_modules/withlib/index.star":     `v = "outside lib"`,

		"/global/node_modules/libmain/package.json":    `{"main": "lib/main.star", "lib": "lib"}`,
		"/global/node_modules/libmain/lib/main.star":   `v = require("./helper")["v"]`,
		"/global/node_modules/libmain/lib/helper.star": `v = "helper"`,
	}}.build(t)

	got, err := b.require(t, "greeter")
	if err != nil {
		t.Fatalf("require(greeter) error = %v", err)
	}
	if got["message"] != "hi util" {
		t.Errorf("greeter exports = %v", got)
	}

	util, err := b.require(t, "greeter/util")
	if err != nil {
		t.Fatalf("require(greeter/util) error = %v", err)
	}
	if util["name"] != "util" {
		t.Errorf("greeter/util exports = %v", util)
	}

	outer, err := b.require(t, "outer")
	if err != nil {
		t.Fatalf("require(outer) error = %v", err)
	}
	if outer["mid"] != "leaf" {
		t.Errorf("outer exports = %v", outer)
	}

	withLib, err := b.require(t, "withlib")
	if err != nil {
		t.Fatalf("require(withlib) error = %v", err)
	}
	if withLib["v"] != "from lib" {
		t.Errorf("withlib exports = %v", withLib)
	}

	libMain, err := b.require(t, "libmain")
	if err != nil {
		t.Fatalf("require(libmain) error = %v", err)
	}
	if libMain["v"] != "helper" {
		t.Errorf("libmain exports = %v", libMain)
	}
	if sub := b.global().knownPackage("/libmain"); sub == nil || sub.Main().ID() != "/main" || sub.Main().Path() != "/" {
		t.Errorf("libmain package = %v", sub)
	}

	sub := b.global().knownPackage("/greeter")
	if sub == nil {
		t.Fatal("sub-package not registered on its parent")
	}
	if sub.ParentKey() != b.global().Key() || sub.Main() == nil {
		t.Errorf("sub-package = %s", sub)
	}
	self, err := b.requireFrom(t, context.Background(), sub.Main(), "/")
	if err != nil || self["message"] != "hi util" {
		t.Errorf("require(/) from the main module = %v, %v", self, err)
	}
	if want := `[package "/greeter", origin "file:///global/node_modules/greeter", parent "/global"]`; sub.String() != want {
		t.Errorf("String() = %s, want %s", sub, want)
	}
}

func TestSubPackageManifestFaults(t *testing.T) {
	b := harness{tree: map[string]string{
		"/global/node_modules/nomain/package.json":   `{"main": "missing.star"}`,
		"/global/node_modules/datamain/package.json": `{"main": "data.json"}`,
		"/global/node_modules/datamain/data.json":    `{}`,
		"/global/node_modules/garbled/package.json":  `{"main": `,
	}}.build(t)

	for _, id := range []string{"nomain", "datamain", "garbled"} {
		t.Run(id, func(t *testing.T) {
			_, err := b.require(t, id)
			if !fault.Is(err, fault.PackageManifestFault) {
				t.Fatalf("require(%q) error = %v, want package_manifest", id, err)
			}
			if b.global().knownPackage("/"+id) != nil {
				t.Error("broken sub-package was registered")
			}
		})
	}
}

func TestDatabaseModules(t *testing.T) {
	db := newFakeDB()
	db.put("/dbmod", strPtr(`print("ran")`+"\n"+`v = 1`), 1)
	db.put("/shadowed", strPtr(`v = "db"`), 1)
	db.put("/empty", nil, 1)

	obs := newCountingObserver()
	b := harness{
		tree: map[string]string{"/global/shadowed.star": `v = "file"`},
		db:   db,
		opts: []Option{WithObserver(obs)},
	}.build(t)

	got, err := b.require(t, "dbmod")
	if err != nil {
		t.Fatalf("require(dbmod) error = %v", err)
	}
	if got["v"] != int64(1) {
		t.Errorf("dbmod exports = %v", got)
	}

	if _, err := b.require(t, "dbmod"); err != nil {
		t.Fatalf("cached require error = %v", err)
	}
	if n := b.printed["/dbmod:ran"]; n != 1 {
		t.Errorf("body ran %d times before the revision changed, want 1", n)
	}

	db.put("/dbmod", strPtr(`print("ran")`+"\n"+`v = 2`), 2)
	got, err = b.require(t, "dbmod")
	if err != nil {
		t.Fatalf("require after update error = %v", err)
	}
	if got["v"] != int64(2) || b.printed["/dbmod:ran"] != 2 {
		t.Errorf("stale module served: %v", got)
	}
	if obs.cache[CacheInvalidated] != 1 {
		t.Errorf("invalidations = %d, want 1", obs.cache[CacheInvalidated])
	}

	shadowed, err := b.require(t, "shadowed")
	if err != nil {
		t.Fatalf("require(shadowed) error = %v", err)
	}
	if shadowed["v"] != "file" {
		t.Errorf("database consulted before the filesystem: %v", shadowed)
	}

	if _, err := b.require(t, "empty"); !fault.Is(err, fault.EmptyArtifact) {
		t.Errorf("require(empty) error = %v, want empty_artifact", err)
	}

	db.err = errors.New("database is locked")
	if _, err := b.require(t, "elsewhere"); !fault.Is(err, fault.ModuleNotFound) {
		t.Errorf("require with failing database error = %v, want module_not_found", err)
	}
	if obs.dbErrors == 0 {
		t.Error("database error not observed")
	}
}

func TestProbeCacheRemembersMisses(t *testing.T) {
	obs := newCountingObserver()
	b := harness{opts: []Option{WithObserver(obs)}}.build(t)

	for i := 0; i < 2; i++ {
		if _, err := b.require(t, "ghost"); !fault.Is(err, fault.ModuleNotFound) {
			t.Fatalf("require(ghost) error = %v", err)
		}
	}
	if obs.cache[ProbeHit] == 0 {
		t.Error("second lookup did not hit the probe cache")
	}

	// The negative result sticks until the loader is recreated.
	b.write(t, "/global/ghost.star", `v = 1`)
	if _, err := b.require(t, "ghost"); !fault.Is(err, fault.ModuleNotFound) {
		t.Errorf("require(ghost) after write error = %v, want cached miss", err)
	}
}

func TestPrivilegedModules(t *testing.T) {
	b := harness{tree: map[string]string{
		"/global/uses.star": `fs = require("fs")` + "\n" +
			`console = require("console")` + "\n" +
			`internal = require("internal")` + "\n" +
			`console.info("loading", __filename)` + "\n" +
			`has_self = fs.is_file(__filename)` + "\n" +
			`norm = internal.normalize("../b", "/x/a.star")` + "\n" +
			`version = internal.version`,
	}}.build(t)

	got, err := b.require(t, "uses")
	if err != nil {
		t.Fatalf("require(uses) error = %v", err)
	}
	if got["has_self"] != true || got["norm"] != "/b" || got["version"] != "test" {
		t.Errorf("exports = %v", got)
	}

	fsModule, err := b.Load(context.Background(), nil, "fs")
	if err != nil {
		t.Fatalf("Load(fs) error = %v", err)
	}
	if !fsModule.IsSystem() || fsModule.String() != `[system module "/fs", package "system", path "/", origin "system:///fs"]` {
		t.Errorf("fs module = %s", fsModule)
	}

	if _, err := b.CreatePrivilegedModule("relative"); !fault.Is(err, fault.MalformedLocation) {
		t.Errorf("CreatePrivilegedModule(relative) error = %v", err)
	}
}

func TestCancellationEvictsInFlightModules(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	interrupted := false
	b := harness{
		tree: map[string]string{
			"/global/a.star": `print("ran")` + "\n" + `b = require("./b")`,
			"/global/b.star": `print("ran")` + "\n" + "if interrupt():\n    while True:\n        pass\n" + `done = True`,
		},
		globals: starlark.StringDict{
			"interrupt": starlark.NewBuiltin("interrupt", func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
				if interrupted {
					return starlark.False, nil
				}
				interrupted = true
				cancel()
				return starlark.True, nil
			}),
		},
	}.build(t)

	_, err := b.requireFrom(t, ctx, nil, "a")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("require(a) error = %v, want context.Canceled", err)
	}
	for _, id := range []string{"/a", "/b"} {
		if _, ok := b.global().Module(id, KindScript); ok {
			t.Errorf("interrupted module %s left in cache", id)
		}
	}

	got, err := b.require(t, "a")
	if err != nil {
		t.Fatalf("require(a) after cancellation error = %v", err)
	}
	if b.printed["/a:ran"] != 2 || b.printed["/b:ran"] != 2 {
		t.Errorf("modules were not re-initialized: %v", b.printed)
	}
	if inner, _ := got["b"].(map[string]interface{}); inner["done"] != true {
		t.Errorf("a exports = %v", got)
	}
}

func TestCancellationEvictsAcrossPackages(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	interrupted := false
	b := harness{
		tree: map[string]string{
			"/global/a.star": `print("ran")` + "\n" + `slow = require("inner/slow")`,
			"/global/node_modules/inner/package.json": `{}`,
			"/global/node_modules/inner/index.star":   `print("ran")` + "\n" + `v = 1`,
			"/global/node_modules/inner/slow.star":    `print("ran")` + "\n" + "if interrupt():\n    while True:\n        pass\n" + `done = True`,
		},
		globals: starlark.StringDict{
			"interrupt": starlark.NewBuiltin("interrupt", func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
				if interrupted {
					return starlark.False, nil
				}
				interrupted = true
				cancel()
				return starlark.True, nil
			}),
		},
	}.build(t)

	_, err := b.requireFrom(t, ctx, nil, "a")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("require(a) error = %v, want context.Canceled", err)
	}

	if _, ok := b.global().Module("/a", KindScript); ok {
		t.Error("interrupted module /a left in the global cache")
	}
	sub := b.global().knownPackage("/inner")
	if sub == nil {
		t.Fatal("sub-package inner not registered")
	}
	if _, ok := sub.Module("/slow", KindScript); ok {
		t.Error("interrupted module /slow left in the sub-package cache")
	}
	if _, ok := sub.Module("/index", KindScript); !ok {
		t.Error("completed main module evicted from the sub-package cache")
	}

	got, err := b.require(t, "a")
	if err != nil {
		t.Fatalf("require(a) after cancellation error = %v", err)
	}
	if b.printed["/a:ran"] != 2 || b.printed["/slow:ran"] != 2 || b.printed["/index:ran"] != 1 {
		t.Errorf("unexpected initializations: %v", b.printed)
	}
	if slow, _ := got["slow"].(map[string]interface{}); slow["done"] != true {
		t.Errorf("a exports = %v", got)
	}
}

func TestCleanupAfterCancellationSweepsRegistry(t *testing.T) {
	obs := newCountingObserver()
	b := harness{
		tree: map[string]string{
			"/global/sweep.star": `print("ran")` + "\n" +
				`internal = require("internal")` + "\n" +
				`before = internal.in_flight()` + "\n" +
				`internal.cleanup_cancellation()` + "\n" +
				`after = internal.in_flight()`,
		},
		opts: []Option{WithObserver(obs)},
	}.build(t)

	got, err := b.require(t, "sweep")
	if err != nil {
		t.Fatalf("require(sweep) error = %v", err)
	}
	want := map[string]interface{}{
		"before": []interface{}{"/sweep"},
		"after":  []interface{}{},
	}
	if diff := cmp.Diff(want["before"], got["before"]); diff != "" {
		t.Errorf("before mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(want["after"], got["after"]); diff != "" {
		t.Errorf("after mismatch (-want +got):\n%s", diff)
	}

	if _, ok := b.global().Module("/sweep", KindScript); ok {
		t.Error("swept module is still cached")
	}
	if _, err := b.require(t, "sweep"); err != nil {
		t.Fatalf("second require error = %v", err)
	}
	if b.printed["/sweep:ran"] != 2 {
		t.Errorf("body ran %d times, want 2", b.printed["/sweep:ran"])
	}
	if obs.maxInFl != 1 {
		t.Errorf("max in flight = %d, want 1", obs.maxInFl)
	}
}

func TestAssertSettledPanics(t *testing.T) {
	b := harness{}.build(t)
	b.inflight.add(&Module{id: "/stuck", pkg: b.global().Key(), kind: KindScript})

	defer func() {
		if recover() == nil {
			t.Error("assertSettled did not panic")
		}
	}()
	b.assertSettled("test")
}

type denyGuard struct{ denied []RequireRequest }

func (g *denyGuard) CheckRequire(_ context.Context, req RequireRequest) error {
	if req.Identifier == "forbidden" {
		g.denied = append(g.denied, req)
		return errors.New("denied by policy")
	}
	return nil
}

func TestGuardDeniesRequire(t *testing.T) {
	guard := &denyGuard{}
	b := harness{
		tree: map[string]string{
			"/global/forbidden.star": `v = 1`,
			"/global/caller.star":    `v = require("forbidden")`,
		},
		opts: []Option{WithGuard(guard)},
	}.build(t)

	_, err := b.require(t, "caller")
	if err == nil {
		t.Fatal("require(caller) succeeded through a denied dependency")
	}
	if len(guard.denied) != 1 {
		t.Fatalf("denied = %v", guard.denied)
	}
	want := RequireRequest{
		Identifier:  "forbidden",
		FromModule:  "/caller",
		FromPackage: "/global",
		FromOrigin:  "file:///global/caller.star",
	}
	if diff := cmp.Diff(want, guard.denied[0]); diff != "" {
		t.Errorf("request mismatch (-want +got):\n%s", diff)
	}
}

func TestApplicationPackage(t *testing.T) {
	b := harness{tree: map[string]string{
		"/apps/demo/lib/hello.star": `mount = applicationContext["mount"]` + "\n" + `who = NAME` + "\n" + `other = require("./other")["mount"]`,
		"/apps/demo/lib/other.star": `mount = applicationContext["mount"]`,
	}}.build(t)

	app, err := b.CreateAppPackage(App{
		Root:     "/apps/demo",
		Manifest: &Manifest{Lib: "lib", Environment: map[string]interface{}{"NAME": "demo"}},
		Context:  map[string]interface{}{"mount": "/demo"},
	})
	if err != nil {
		t.Fatalf("CreateAppPackage() error = %v", err)
	}
	if app.ID() != AppModuleID || b.PackageOf(app).ID() != AppPackageID {
		t.Errorf("app module = %s", app)
	}

	got, err := b.requireFrom(t, context.Background(), app, "./hello")
	if err != nil {
		t.Fatalf("require(./hello) error = %v", err)
	}
	want := map[string]interface{}{"mount": "/demo", "who": "demo", "other": "/demo"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("exports mismatch (-want +got):\n%s", diff)
	}
}

func TestLocateCandidates(t *testing.T) {
	db := newFakeDB()
	db.put("/both", strPtr(`v = 1`), 3)

	b := harness{
		tree: map[string]string{"/global/both.star": `v = 1`},
		db:   db,
	}.build(t)

	cands, err := b.Locate(context.Background(), "both")
	if err != nil {
		t.Fatalf("Locate() error = %v", err)
	}
	var got []string
	for _, c := range cands {
		got = append(got, c.Descriptor.Location)
	}
	want := []string{"file:///global/both.star", "db://_modules/both"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Locate() mismatch (-want +got):\n%s", diff)
	}
	if b.printed["/both:ran"] != 0 || b.global().Modules() != 0 {
		t.Error("Locate() executed or cached a module")
	}
}

func TestNewRejectsBadRoots(t *testing.T) {
	b := harness{}.build(t)

	if _, err := New(Roots{ModulePaths: []string{"/x"}}, nil, nil, b.Sandbox()); err == nil {
		t.Error("New() accepted module paths without a file store")
	}
	if _, err := New(Roots{Collections: []string{"a/b"}}, nil, nil, b.Sandbox()); !fault.Is(err, fault.MalformedLocation) {
		t.Errorf("New() error = %v, want malformed_location", err)
	}
	if _, err := New(Roots{}, nil, nil, nil); err == nil {
		t.Error("New() accepted a nil sandbox")
	}
}

func TestRootModuleDescription(t *testing.T) {
	b := harness{}.build(t)

	if want := `[system module "/", package "system", path "/", origin "system:///"]`; b.RootModule().String() != want {
		t.Errorf("String() = %s, want %s", b.RootModule(), want)
	}
	if want := `[package "/global", origin "file:///global"]`; b.global().String() != want {
		t.Errorf("String() = %s, want %s", b.global(), want)
	}
}
