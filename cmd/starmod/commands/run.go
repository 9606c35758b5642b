package commands

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/starmod/pkg/host"
)

func newRunCommand() *cobra.Command {
	var (
		appRoot    string
		appContext map[string]string
	)

	cmd := &cobra.Command{
		Use:   "run [identifier]",
		Short: "Require a module and print its exports",
		Long: `Bootstrap a loader and require an identifier from the system root
module, printing the module's exports as JSON.

With --app the directory is loaded as an application package instead: its
package.json is validated, its environment is merged over the configured
one and its main module is required.`,
		Example: `  # Require a bare identifier from the configured roots
  starmod run greeter

  # Add a module root on the command line
  starmod run -m ./modules greeter

  # Run an application with a context value
  starmod run --app ./apps/demo --context mount=/demo`,
		Args: func(cmd *cobra.Command, args []string) error {
			if appRoot != "" {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			return withHost(ctx, func(h *host.Host) error {
				var (
					exports interface{}
					err     error
				)
				if appRoot != "" {
					log.Debug().Str("app", appRoot).Msg("Running application")
					exports, err = h.RunApp(ctx, appRoot, contextValue(appContext))
				} else {
					exports, err = h.Require(ctx, args[0])
				}
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), exports)
			})
		},
	}

	cmd.Flags().StringVar(&appRoot, "app", "", "application directory to run instead of an identifier")
	cmd.Flags().StringToStringVar(&appContext, "context", nil, "application context values (key=value)")

	return cmd
}

// contextValue converts --context pairs to an application context. No
// pairs means no applicationContext binding.
func contextValue(pairs map[string]string) interface{} {
	if len(pairs) == 0 {
		return nil
	}
	out := make(map[string]interface{}, len(pairs))
	for k, v := range pairs {
		out[k] = v
	}
	return out
}
