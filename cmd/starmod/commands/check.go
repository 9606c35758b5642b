package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/starmod/pkg/config"
	"github.com/openfroyo/starmod/pkg/loader"
	"github.com/openfroyo/starmod/pkg/starlarkengine"
)

func newCheckCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check <file>...",
		Short: "Check module files without running them",
		Long: `Pre-check module files. Scripts are parsed, data modules (.json, .yaml,
.cue) are decoded and package.json manifests are validated against the
manifest schema. Nothing is executed.`,
		Example: `  # Check a script and a manifest
  starmod check greeter.star node_modules/greeter/package.json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine := starlarkengine.New()

			failed := 0
			for _, name := range args {
				if err := checkFile(cmd, engine, name); err != nil {
					log.Error().Err(err).Str("file", name).Msg("Check failed")
					failed++
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "ok  %s\n", name)
			}

			if failed > 0 {
				return fmt.Errorf("%d of %d file(s) failed", failed, len(args))
			}
			return nil
		},
	}

	return cmd
}

func checkFile(cmd *cobra.Command, engine *starlarkengine.Engine, name string) error {
	data, err := os.ReadFile(name)
	if err != nil {
		return err
	}

	if filepath.Base(name) == loader.ManifestName {
		_, err := config.ValidateManifest(cmd.Context(), data)
		return err
	}

	kind, ext, ok := loader.KindOfFile(name)
	if !ok {
		return fmt.Errorf("unknown module kind %q", ext)
	}
	if kind.IsData() {
		return loader.CheckData(kind, string(data), name)
	}
	return engine.Check(name, string(data))
}
