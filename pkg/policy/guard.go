package policy

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
	"github.com/rs/zerolog"

	"github.com/openfroyo/starmod/pkg/loader"
)

// Guard evaluates Rego policies before every require. It implements
// loader.Guard and is safe for concurrent use.
type Guard struct {
	mu       sync.RWMutex
	policies map[string]*compiledPolicy
	paths    []string
	metadata map[string]interface{}
	builtins bool
	loader   *Loader
	logger   zerolog.Logger
}

var _ loader.Guard = (*Guard)(nil)

// compiledPolicy represents a compiled Rego policy.
type compiledPolicy struct {
	policy *Policy
	query  rego.PreparedEvalQuery
}

// Option configures a Guard.
type Option func(*Guard)

// WithoutBuiltins starts the guard with no built-in policies.
func WithoutBuiltins() Option {
	return func(g *Guard) { g.builtins = false }
}

// WithMetadata sets values exposed to policies as input.context.metadata.
func WithMetadata(md map[string]interface{}) Option {
	return func(g *Guard) { g.metadata = md }
}

// NewGuard creates a guard holding the built-in policies.
func NewGuard(ctx context.Context, logger zerolog.Logger, opts ...Option) (*Guard, error) {
	g := &Guard{
		policies: make(map[string]*compiledPolicy),
		builtins: true,
		logger:   logger.With().Str("component", "policy-guard").Logger(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.loader = NewLoader(g.logger)

	if g.builtins {
		builtins := BuiltinPolicies()
		for i := range builtins {
			if err := g.compileAndStore(ctx, &builtins[i]); err != nil {
				return nil, fmt.Errorf("failed to compile built-in policy %s: %w", builtins[i].Name, err)
			}
		}
		g.logger.Debug().Int("count", len(builtins)).Msg("Built-in policies loaded")
	}

	return g, nil
}

// CheckRequire returns a *DeniedError when an enabled policy reports a
// blocking violation for req.
func (g *Guard) CheckRequire(ctx context.Context, req loader.RequireRequest) error {
	d, err := g.Evaluate(ctx, req)
	if err != nil {
		return err
	}
	for _, w := range d.Warnings {
		g.logger.Warn().
			Str("policy", w.Policy).
			Str("identifier", req.Identifier).
			Str("from", req.FromModule).
			Msg(w.Message)
	}
	if !d.Allowed {
		return &DeniedError{Identifier: req.Identifier, Violations: d.Violations}
	}
	return nil
}

// Evaluate runs every enabled policy against req. A policy that fails to
// evaluate contributes a warning and does not block.
func (g *Guard) Evaluate(ctx context.Context, req loader.RequireRequest) (*Decision, error) {
	start := time.Now()

	g.mu.RLock()
	defer g.mu.RUnlock()

	input := &Input{
		Require: req,
		Context: &Context{
			Timestamp: start,
			Operation: "require",
			Metadata:  g.metadata,
		},
	}

	d := &Decision{Allowed: true, EvaluatedPolicies: make([]string, 0, len(g.policies))}
	for _, name := range g.sortedNames() {
		cp := g.policies[name]
		if !cp.policy.Enabled {
			continue
		}
		d.EvaluatedPolicies = append(d.EvaluatedPolicies, name)

		violations, err := g.evaluatePolicy(ctx, cp, input)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			g.logger.Error().Err(err).Str("policy", name).Msg("Policy evaluation failed")
			d.Warnings = append(d.Warnings, Violation{
				Policy:   name,
				Message:  fmt.Sprintf("evaluation failed: %v", err),
				Severity: SeverityWarning,
			})
			continue
		}

		for _, v := range violations {
			if v.Severity.blocks() {
				d.Allowed = false
				d.Violations = append(d.Violations, v)
			} else {
				d.Warnings = append(d.Warnings, v)
			}
		}
	}

	d.Duration = time.Since(start)
	g.logger.Debug().
		Str("identifier", req.Identifier).
		Bool("allowed", d.Allowed).
		Int("violations", len(d.Violations)).
		Dur("duration", d.Duration).
		Msg("Require policy evaluation completed")

	return d, nil
}

// evaluatePolicy evaluates a single compiled policy.
func (g *Guard) evaluatePolicy(ctx context.Context, cp *compiledPolicy, input *Input) ([]Violation, error) {
	results, err := cp.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("policy evaluation error: %w", err)
	}

	var violations []Violation
	for _, result := range results {
		if len(result.Expressions) == 0 {
			continue
		}
		denySet, ok := result.Expressions[0].Value.([]interface{})
		if !ok {
			continue
		}
		for _, d := range denySet {
			violations = append(violations, createViolation(cp.policy, d))
		}
	}
	return violations, nil
}

// createViolation creates a Violation from a deny set element.
func createViolation(policy *Policy, result interface{}) Violation {
	v := Violation{Policy: policy.Name, Severity: policy.Severity}

	switch r := result.(type) {
	case string:
		v.Message = r
	case map[string]interface{}:
		if msg, ok := r["message"].(string); ok {
			v.Message = msg
		}
		if sev, ok := r["severity"].(string); ok {
			v.Severity = Severity(sev)
		}
	default:
		v.Message = fmt.Sprintf("%v", result)
	}
	return v
}

// compileAndStore parses a policy, prepares its deny query and stores it.
// Callers hold g.mu or own g exclusively.
func (g *Guard) compileAndStore(ctx context.Context, policy *Policy) error {
	module, err := ast.ParseModule(policy.Name, policy.Rego)
	if err != nil {
		return fmt.Errorf("failed to parse policy: %w", err)
	}
	if module == nil {
		return fmt.Errorf("policy %s is empty", policy.Name)
	}

	query, err := rego.New(
		rego.Module(policy.Name, policy.Rego),
		rego.Query(module.Package.Path.String()+".deny"),
	).PrepareForEval(ctx)
	if err != nil {
		return fmt.Errorf("failed to prepare query: %w", err)
	}

	if policy.Severity == "" {
		policy.Severity = SeverityError
	}
	if policy.LoadedAt.IsZero() {
		policy.LoadedAt = time.Now()
	}

	g.policies[policy.Name] = &compiledPolicy{policy: policy, query: query}
	g.logger.Debug().Str("policy", policy.Name).Msg("Policy compiled successfully")
	return nil
}

// LoadPolicies loads .rego and .json policy files from paths. A policy
// with the name of an existing one replaces it.
func (g *Guard) LoadPolicies(ctx context.Context, paths []string) error {
	policies, err := g.loader.LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.install(ctx, policies); err != nil {
		return err
	}
	g.paths = append(g.paths, paths...)

	g.logger.Info().Int("count", len(policies)).Msg("Policies loaded successfully")
	return nil
}

func (g *Guard) install(ctx context.Context, policies []Policy) error {
	for i := range policies {
		if err := g.compileAndStore(ctx, &policies[i]); err != nil {
			g.logger.Error().Err(err).Str("policy", policies[i].Name).Msg("Failed to compile policy")
			return fmt.Errorf("failed to compile policy %s: %w", policies[i].Name, err)
		}
	}
	return nil
}

// Watch reloads the policies loaded through LoadPolicies whenever one of
// their files changes, until ctx is done.
func (g *Guard) Watch(ctx context.Context) error {
	g.mu.RLock()
	paths := append([]string(nil), g.paths...)
	g.mu.RUnlock()

	return g.loader.Watch(ctx, paths, func(policies []Policy) error {
		g.mu.Lock()
		defer g.mu.Unlock()
		return g.install(ctx, policies)
	})
}

// Close stops watching policy files.
func (g *Guard) Close() error {
	return g.loader.StopWatching()
}

// GetPolicy returns a policy by name.
func (g *Guard) GetPolicy(name string) (*Policy, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	cp, exists := g.policies[name]
	if !exists {
		return nil, fmt.Errorf("policy not found: %s", name)
	}
	p := *cp.policy
	return &p, nil
}

// ListPolicies returns all loaded policies sorted by name.
func (g *Guard) ListPolicies() []Policy {
	g.mu.RLock()
	defer g.mu.RUnlock()

	policies := make([]Policy, 0, len(g.policies))
	for _, name := range g.sortedNames() {
		policies = append(policies, *g.policies[name].policy)
	}
	return policies
}

// EnablePolicy enables a policy by name.
func (g *Guard) EnablePolicy(name string) error {
	return g.setEnabled(name, true)
}

// DisablePolicy disables a policy by name.
func (g *Guard) DisablePolicy(name string) error {
	return g.setEnabled(name, false)
}

func (g *Guard) setEnabled(name string, enabled bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	cp, exists := g.policies[name]
	if !exists {
		return fmt.Errorf("policy not found: %s", name)
	}
	cp.policy.Enabled = enabled
	g.logger.Info().Str("policy", name).Bool("enabled", enabled).Msg("Policy state changed")
	return nil
}

func (g *Guard) sortedNames() []string {
	names := make([]string, 0, len(g.policies))
	for name := range g.policies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
