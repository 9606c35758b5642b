package policy

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"github.com/openfroyo/starmod/pkg/loader"
)

func newTestGuard(t *testing.T, opts ...Option) *Guard {
	t.Helper()

	g, err := NewGuard(context.Background(), zerolog.Nop(), opts...)
	if err != nil {
		t.Fatalf("NewGuard() error = %v", err)
	}
	return g
}

func writePolicy(t *testing.T, dir, name, src string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestNewGuard_Builtins(t *testing.T) {
	g := newTestGuard(t)

	var names []string
	for _, p := range g.ListPolicies() {
		names = append(names, p.Name)
	}
	if diff := cmp.Diff([]string{"identifier-shape", "package-boundaries"}, names); diff != "" {
		t.Errorf("built-in policies mismatch (-want +got):\n%s", diff)
	}

	if got := newTestGuard(t, WithoutBuiltins()).ListPolicies(); len(got) != 0 {
		t.Errorf("WithoutBuiltins() guard has %d policies", len(got))
	}
}

func TestCheckRequire_Builtins(t *testing.T) {
	g := newTestGuard(t)

	tests := []struct {
		name       string
		identifier string
		wantPolicy string
	}{
		{name: "bare identifier", identifier: "greeter"},
		{name: "relative path", identifier: "./lib/util"},
		{name: "absolute path", identifier: "/app/main"},
		{name: "empty", identifier: "", wantPolicy: "identifier-shape"},
		{name: "backslash", identifier: `lib\util`, wantPolicy: "identifier-shape"},
		{name: "too long", identifier: strings.Repeat("a", 1025), wantPolicy: "identifier-shape"},
		{name: "node_modules path", identifier: "./node_modules/greeter/index", wantPolicy: "package-boundaries"},
		{name: "node_modules prefix is fine", identifier: "node_modules_helper"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := g.CheckRequire(context.Background(), loader.RequireRequest{
				Identifier: tt.identifier,
				FromModule: "/",
				System:     true,
			})
			if tt.wantPolicy == "" {
				if err != nil {
					t.Fatalf("CheckRequire() error = %v", err)
				}
				return
			}

			if !errors.Is(err, ErrDenied) {
				t.Fatalf("CheckRequire() error = %v, want ErrDenied", err)
			}
			var denied *DeniedError
			if !errors.As(err, &denied) {
				t.Fatalf("error is %T, want *DeniedError", err)
			}
			if len(denied.Violations) != 1 || denied.Violations[0].Policy != tt.wantPolicy {
				t.Errorf("violations = %+v, want one from %s", denied.Violations, tt.wantPolicy)
			}
		})
	}
}

func TestLoadPolicies_CustomRules(t *testing.T) {
	dir := t.TempDir()
	writePolicy(t, dir, "vendor.rego", `# Vendor modules are reserved for system code.
package starmod.policies.vendor

import rego.v1

deny contains msg if {
	not input.require.system
	startswith(input.require.identifier, "vendor/")
	msg := sprintf("%s may not require vendor modules", [input.require.from_module])
}
`)
	writePolicy(t, dir, "deprecated.json", `{
  "name": "deprecated",
  "description": "Warns about deprecated modules",
  "rego": "package starmod.policies.deprecated\n\nimport rego.v1\n\ndeny contains {\"message\": \"legacy is deprecated\", \"severity\": \"warning\"} if input.require.identifier == \"legacy\"\n"
}`)
	writePolicy(t, dir, "README.md", "not a policy")

	g := newTestGuard(t, WithoutBuiltins())
	if err := g.LoadPolicies(context.Background(), []string{dir}); err != nil {
		t.Fatalf("LoadPolicies() error = %v", err)
	}

	p, err := g.GetPolicy("vendor")
	if err != nil {
		t.Fatalf("GetPolicy() error = %v", err)
	}
	if p.Description != "Vendor modules are reserved for system code." || p.Severity != SeverityError {
		t.Errorf("vendor policy = %+v", p)
	}

	ctx := context.Background()
	user := loader.RequireRequest{Identifier: "vendor/x", FromModule: "/app"}
	if err := g.CheckRequire(ctx, user); !errors.Is(err, ErrDenied) {
		t.Fatalf("user require of vendor/x error = %v, want ErrDenied", err)
	} else if !strings.Contains(err.Error(), "/app may not require vendor modules") {
		t.Errorf("error message = %q", err.Error())
	}

	system := user
	system.System = true
	if err := g.CheckRequire(ctx, system); err != nil {
		t.Errorf("system require of vendor/x error = %v", err)
	}

	d, err := g.Evaluate(ctx, loader.RequireRequest{Identifier: "legacy"})
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if !d.Allowed || len(d.Warnings) != 1 || d.Warnings[0].Message != "legacy is deprecated" {
		t.Errorf("decision = %+v, want allowed with one warning", d)
	}
	if diff := cmp.Diff([]string{"deprecated", "vendor"}, d.EvaluatedPolicies); diff != "" {
		t.Errorf("evaluated policies mismatch (-want +got):\n%s", diff)
	}
}

func TestEnableDisablePolicy(t *testing.T) {
	g := newTestGuard(t)
	ctx := context.Background()
	req := loader.RequireRequest{Identifier: ""}

	if err := g.DisablePolicy("identifier-shape"); err != nil {
		t.Fatalf("DisablePolicy() error = %v", err)
	}
	if err := g.CheckRequire(ctx, req); err != nil {
		t.Errorf("CheckRequire() with policy disabled error = %v", err)
	}

	if err := g.EnablePolicy("identifier-shape"); err != nil {
		t.Fatalf("EnablePolicy() error = %v", err)
	}
	if err := g.CheckRequire(ctx, req); !errors.Is(err, ErrDenied) {
		t.Errorf("CheckRequire() with policy enabled error = %v", err)
	}

	if err := g.DisablePolicy("missing"); err == nil {
		t.Error("DisablePolicy(missing) succeeded")
	}
}

func TestMetadataInput(t *testing.T) {
	dir := t.TempDir()
	writePolicy(t, dir, "namespace.rego", `package starmod.policies.namespace

import rego.v1

deny contains msg if {
	startswith(input.require.identifier, input.context.metadata.reserved)
	msg := "reserved prefix"
}
`)

	g := newTestGuard(t, WithoutBuiltins(), WithMetadata(map[string]interface{}{"reserved": "sys/"}))
	if err := g.LoadPolicies(context.Background(), []string{filepath.Join(dir, "namespace.rego")}); err != nil {
		t.Fatalf("LoadPolicies() error = %v", err)
	}

	if err := g.CheckRequire(context.Background(), loader.RequireRequest{Identifier: "sys/x"}); !errors.Is(err, ErrDenied) {
		t.Errorf("CheckRequire(sys/x) error = %v, want ErrDenied", err)
	}
	if err := g.CheckRequire(context.Background(), loader.RequireRequest{Identifier: "app/x"}); err != nil {
		t.Errorf("CheckRequire(app/x) error = %v", err)
	}
}

func TestLoadPolicies_Errors(t *testing.T) {
	dir := t.TempDir()
	broken := writePolicy(t, dir, "broken.rego", "package broken\n\ndeny contains if {")

	g := newTestGuard(t)
	if err := g.LoadPolicies(context.Background(), []string{broken}); err == nil {
		t.Error("LoadPolicies() accepted a policy that does not parse")
	}
	if err := g.LoadPolicies(context.Background(), []string{filepath.Join(dir, "missing")}); err == nil {
		t.Error("LoadPolicies() accepted a missing path")
	}
}

func TestWatchReloadsPolicies(t *testing.T) {
	dir := t.TempDir()
	path := writePolicy(t, dir, "toggle.rego", `package starmod.policies.toggle

import rego.v1

deny contains "blocked" if input.require.identifier == "never-required"
`)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g := newTestGuard(t, WithoutBuiltins())
	if err := g.LoadPolicies(ctx, []string{dir}); err != nil {
		t.Fatalf("LoadPolicies() error = %v", err)
	}
	if err := g.Watch(ctx); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	defer g.Close()

	req := loader.RequireRequest{Identifier: "anything"}
	if err := g.CheckRequire(ctx, req); err != nil {
		t.Fatalf("CheckRequire() before reload error = %v", err)
	}

	writePolicy(t, dir, filepath.Base(path), `package starmod.policies.toggle

import rego.v1

deny contains "blocked" if input.require.identifier != ""
`)

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if err := g.CheckRequire(ctx, req); errors.Is(err, ErrDenied) {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("policy change was not picked up")
}
