package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/starmod/pkg/config"
	"github.com/openfroyo/starmod/pkg/host"
)

var (
	// Global flags
	configPath  string
	modulePaths []string
	dbPath      string
	timeout     time.Duration
	jsonOutput  bool

	version = "dev"
)

// Execute runs the root command
func Execute(ctx context.Context, ver, commit, buildDate string) error {
	version = ver
	rootCmd := newRootCommand(ver, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "starmod",
		Short: "starmod - Starlark module loader",
		Long: `starmod resolves and loads Starlark modules from filesystem roots,
database collections and a privileged system namespace.

Features:
  - require() with relative, absolute and bare identifiers
  - node_modules style sub-packages with package.json manifests
  - Modules stored in SQLite collections with revision tracking
  - Require policies written in Rego
  - Prometheus metrics and OpenTelemetry traces`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path (.yaml, .json or .cue)")
	rootCmd.PersistentFlags().StringSliceVarP(&modulePaths, "module-path", "m", nil, "additional module root, searched after configured ones")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite module database (overrides config)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 0, "cancel the operation after this long (0 means no limit)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newResolveCommand())
	rootCmd.AddCommand(newDBCommand())
	rootCmd.AddCommand(newCheckCommand())

	return rootCmd
}

// loadConfig reads the config file, if any, and applies flag overrides.
func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if configPath != "" {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			return nil, err
		}
	}

	cfg.ModulePaths = append(cfg.ModulePaths, modulePaths...)
	if dbPath != "" {
		cfg.Database.Path = dbPath
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// commandContext applies --timeout to the command's context.
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if timeout > 0 {
		return context.WithTimeout(ctx, timeout)
	}
	return context.WithCancel(ctx)
}

// withHost runs fn against a host built from the effective config.
func withHost(ctx context.Context, fn func(h *host.Host) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	h, err := host.New(ctx, cfg, host.WithVersion(version))
	if err != nil {
		return err
	}
	defer func() {
		if err := h.Close(context.Background()); err != nil {
			log.Warn().Err(err).Msg("Failed to close host")
		}
	}()

	if err := h.Telemetry().StartMetricsServer(); err != nil {
		return err
	}
	return fn(h)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
