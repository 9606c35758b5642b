package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/openfroyo/starmod/pkg/host"
)

type resolution struct {
	Package  string `json:"package"`
	Origin   string `json:"origin"`
	ID       string `json:"id"`
	Kind     string `json:"kind"`
	Location string `json:"location"`
	Revision int64  `json:"revision,omitempty"`
}

func newResolveCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve <identifier>",
		Short: "Show where an identifier resolves without running it",
		Long: `List every global root that holds the identifier, in search order.
The first entry is the one require() would load. Nothing is executed and
sub-packages are not considered.`,
		Example: `  # Show candidates for a bare identifier
  starmod resolve greeter

  # Machine readable output
  starmod resolve greeter --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			return withHost(ctx, func(h *host.Host) error {
				candidates, err := h.Locate(ctx, args[0])
				if err != nil {
					return err
				}

				out := make([]resolution, 0, len(candidates))
				for _, c := range candidates {
					out = append(out, resolution{
						Package:  c.Package.ID(),
						Origin:   c.Package.Origin().URI(),
						ID:       c.Descriptor.ID,
						Kind:     string(c.Descriptor.Kind),
						Location: c.Descriptor.Location,
						Revision: c.Descriptor.Revision,
					})
				}

				if jsonOutput {
					return printJSON(cmd.OutOrStdout(), out)
				}
				if len(out) == 0 {
					return fmt.Errorf("cannot locate module %q", args[0])
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "PACKAGE\tKIND\tLOCATION")
				for _, r := range out {
					fmt.Fprintf(w, "%s\t%s\t%s\n", r.Package, r.Kind, r.Location)
				}
				return w.Flush()
			})
		},
	}

	return cmd
}
