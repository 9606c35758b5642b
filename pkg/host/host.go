// Package host assembles a ready-to-use module loader from a configuration:
// telemetry, module stores, the Starlark sandbox, the require policy guard
// and the privileged internal, fs and console modules.
package host

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/openfroyo/starmod/pkg/config"
	"github.com/openfroyo/starmod/pkg/loader"
	"github.com/openfroyo/starmod/pkg/policy"
	"github.com/openfroyo/starmod/pkg/sandbox"
	"github.com/openfroyo/starmod/pkg/starlarkengine"
	"github.com/openfroyo/starmod/pkg/stores"
	"github.com/openfroyo/starmod/pkg/telemetry"
)

// ManifestFile is the application manifest read by RunApp.
const ManifestFile = "package.json"

// Option configures a Host.
type Option func(*options)

type options struct {
	files     stores.FileStore
	telemetry *telemetry.Telemetry
	version   string
}

// WithFileStore replaces the OS file store.
func WithFileStore(files stores.FileStore) Option {
	return func(o *options) { o.files = files }
}

// WithTelemetry uses tel instead of building telemetry from the config.
// The host does not shut it down.
func WithTelemetry(tel *telemetry.Telemetry) Option {
	return func(o *options) { o.telemetry = tel }
}

// WithVersion sets the version reported by the internal module.
func WithVersion(v string) Option {
	return func(o *options) { o.version = v }
}

// Host owns a loader and everything it depends on. Its methods serialize
// access to the loader and are safe for concurrent use.
type Host struct {
	cfg    *config.Config
	tel    *telemetry.Telemetry
	ownTel bool
	logger zerolog.Logger

	files  stores.FileStore
	store  *stores.SQLiteStore
	guard  *policy.Guard
	engine *starlarkengine.Engine

	mu     sync.Mutex
	loader *loader.Loader
}

// New builds a host from cfg. On error everything opened so far is closed.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (h *Host, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := options{version: "dev"}
	for _, opt := range opts {
		opt(&o)
	}

	h = &Host{cfg: cfg, tel: o.telemetry, files: o.files}
	defer func() {
		if err != nil {
			_ = h.Close(context.Background())
			h = nil
		}
	}()

	if h.tel == nil {
		tcfg := cfg.Telemetry()
		tcfg.ServiceVersion = o.version
		if h.tel, err = telemetry.NewTelemetry(tcfg); err != nil {
			return h, fmt.Errorf("failed to initialize telemetry: %w", err)
		}
		h.ownTel = true
	}
	h.logger = h.tel.Logger.NewComponentLogger("host").Zerolog()

	if h.files == nil {
		h.files = stores.NewOSFileStore()
	}

	var db stores.Database
	if cfg.Database.Enabled() {
		if h.store, err = openStore(ctx, cfg.Database, h.tel.Logger); err != nil {
			return h, err
		}
		db = h.store
	}

	loaderOpts := []loader.Option{
		loader.WithLogger(h.tel.Logger.NewComponentLogger("loader").Zerolog()),
		loader.WithObserver(h.tel.Metrics),
		loader.WithTracer(h.tel.Tracer.Trace()),
	}
	if cfg.Policy.Enabled {
		if h.guard, err = openGuard(ctx, cfg, h.tel.Logger); err != nil {
			return h, err
		}
		loaderOpts = append(loaderOpts, loader.WithGuard(h.guard))
	}

	h.engine = starlarkengine.New(
		starlarkengine.WithLogger(h.tel.Logger.Zerolog()),
		starlarkengine.WithMaxSteps(cfg.MaxSteps),
	)
	sb := sandbox.New(h.engine, h.tel.Logger.Zerolog())

	if h.loader, err = loader.New(cfg.Roots(), h.files, db, sb, loaderOpts...); err != nil {
		return h, fmt.Errorf("failed to create loader: %w", err)
	}
	if err = h.definePrivileged(o.version); err != nil {
		return h, err
	}

	h.logger.Info().
		Strs("module_paths", cfg.ModulePaths).
		Bool("database", cfg.Database.Enabled()).
		Bool("policy", cfg.Policy.Enabled).
		Msg("Host ready")
	return h, nil
}

func openStore(ctx context.Context, cfg config.DatabaseConfig, logger *telemetry.Logger) (*stores.SQLiteStore, error) {
	store, err := stores.NewSQLiteStore(stores.Config{
		Path:   cfg.Path,
		Logger: logger.NewComponentLogger("store").Zerolog(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create module store: %w", err)
	}
	if err := store.Init(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to open module store: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to migrate module store: %w", err)
	}
	return store, nil
}

func openGuard(ctx context.Context, cfg *config.Config, logger *telemetry.Logger) (*policy.Guard, error) {
	guard, err := policy.NewGuard(ctx, logger.NewComponentLogger("policy").Zerolog(),
		policy.WithMetadata(map[string]interface{}{
			"system_namespace": cfg.SystemNamespace,
			"module_paths":     cfg.ModulePaths,
		}))
	if err != nil {
		return nil, fmt.Errorf("failed to create policy guard: %w", err)
	}
	if len(cfg.Policy.Paths) > 0 {
		if err := guard.LoadPolicies(ctx, cfg.Policy.Paths); err != nil {
			_ = guard.Close()
			return nil, err
		}
	}
	if cfg.Policy.Watch {
		if err := guard.Watch(ctx); err != nil {
			_ = guard.Close()
			return nil, err
		}
	}
	return guard, nil
}

func (h *Host) definePrivileged(version string) error {
	for name, exports := range map[string]interface{}{
		loader.InternalModule: starlarkengine.NewInternalModule(h.loader, version),
		loader.FSModule:       starlarkengine.NewFSModule(h.files),
		loader.ConsoleModule:  starlarkengine.NewConsoleModule(h.tel.Logger.Zerolog()),
	} {
		m, err := h.loader.CreatePrivilegedModule("/" + name)
		if err != nil {
			return err
		}
		m.SetExports(exports)
	}
	return nil
}

// Require loads id from the system root module and returns its exports as
// plain Go data.
func (h *Host) Require(ctx context.Context, id string) (interface{}, error) {
	return h.require(ctx, nil, id)
}

func (h *Host) require(ctx context.Context, from *loader.Module, id string) (interface{}, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	op := telemetry.StartOperation(h.tel.WithContext(ctx), id)
	v, err := h.loader.Require(op.Ctx, from, id)
	d := op.End(err)
	log := op.Logger.Zerolog()
	if err != nil {
		log.Error().Err(err).Dur("duration", d).Msg("Require failed")
		return nil, err
	}
	log.Debug().Dur("duration", d).Msg("Require completed")

	out, err := h.engine.FromValue(v)
	if err != nil {
		return nil, fmt.Errorf("failed to convert exports of %q: %w", id, err)
	}
	return out, nil
}

// RunApp creates the application package rooted at root and requires its
// main module. The manifest is optional; the configured environment fills
// in variables it does not set.
func (h *Host) RunApp(ctx context.Context, root string, appContext interface{}) (interface{}, error) {
	manifest := &loader.Manifest{}
	if path := h.files.Join(root, ManifestFile); h.files.IsFile(path) {
		data, err := h.files.Read(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		if manifest, err = config.ValidateManifest(ctx, data); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}
	manifest.Environment = mergeEnvironment(h.cfg.Environment, manifest.Environment)

	h.mu.Lock()
	app, err := h.loader.CreateAppPackage(loader.App{Root: root, Manifest: manifest, Context: appContext})
	h.mu.Unlock()
	if err != nil {
		return nil, err
	}

	return h.require(ctx, app, manifest.MainPath())
}

func mergeEnvironment(defaults, env map[string]interface{}) map[string]interface{} {
	if len(defaults) == 0 {
		return env
	}
	out := make(map[string]interface{}, len(defaults)+len(env))
	for k, v := range defaults {
		out[k] = v
	}
	for k, v := range env {
		out[k] = v
	}
	return out
}

// Locate reports where id would be found among the global roots.
func (h *Host) Locate(ctx context.Context, id string) ([]loader.Candidate, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.loader.Locate(ctx, id)
}

// Check parses src without executing it.
func (h *Host) Check(name, src string) error {
	return h.engine.Check(name, src)
}

// Config returns the configuration the host was built from.
func (h *Host) Config() *config.Config {
	return h.cfg
}

// Store returns the module store, or nil when no database is configured.
func (h *Host) Store() *stores.SQLiteStore {
	return h.store
}

// Guard returns the policy guard, or nil when policies are disabled.
func (h *Host) Guard() *policy.Guard {
	return h.guard
}

// Telemetry returns the host's telemetry.
func (h *Host) Telemetry() *telemetry.Telemetry {
	return h.tel
}

// Close releases the guard, the store and, when the host built it, the
// telemetry.
func (h *Host) Close(ctx context.Context) error {
	var errs []error
	if h.guard != nil {
		errs = append(errs, h.guard.Close())
	}
	if h.store != nil {
		errs = append(errs, h.store.Close())
	}
	if h.ownTel && h.tel != nil {
		errs = append(errs, h.tel.Shutdown(ctx))
	}
	return errors.Join(errs...)
}
