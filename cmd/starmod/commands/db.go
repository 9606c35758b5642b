package commands

import (
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/openfroyo/starmod/pkg/host"
	"github.com/openfroyo/starmod/pkg/modpath"
	"github.com/openfroyo/starmod/pkg/stores"
)

var collection string

func newDBCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Manage database-stored modules",
		Long: `Manage modules stored in the SQLite module database.

Every write bumps the collection revision, which makes loaders drop
cached modules of that collection on their next require.`,
	}

	cmd.PersistentFlags().StringVar(&collection, "collection", "", "collection name (default from config)")

	cmd.AddCommand(newDBPutCommand())
	cmd.AddCommand(newDBGetCommand())
	cmd.AddCommand(newDBListCommand())
	cmd.AddCommand(newDBRemoveCommand())

	return cmd
}

// withStore runs fn against the configured module store.
func withStore(cmd *cobra.Command, fn func(h *host.Host, store *stores.SQLiteStore, coll string) error) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	return withHost(ctx, func(h *host.Host) error {
		store := h.Store()
		if store == nil {
			return errors.New("no module database configured (set database.path or --db)")
		}
		coll := collection
		if coll == "" {
			coll = h.Config().Database.Collection
		}
		return fn(h, store, coll)
	})
}

// modulePath turns a command-line module name into a stored path.
func modulePath(name string) (string, error) {
	if !modpath.IsAbsolute(name) {
		name = "/" + name
	}
	return modpath.Normalize("", name)
}

func newDBPutCommand() *cobra.Command {
	var empty bool

	cmd := &cobra.Command{
		Use:   "put <path> [file]",
		Short: "Store a module",
		Long: `Store a module under path. The content is read from file, or from
standard input when file is omitted or "-".`,
		Example: `  # Store a file as /greeter
  starmod db put greeter ./greeter.star

  # Store from stdin
  echo 'v = 1' | starmod db put /lib/v

  # Store a record without content (requiring it fails)
  starmod db put /placeholder --empty`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := modulePath(args[0])
			if err != nil {
				return err
			}

			var content *string
			if !empty {
				src := cmd.InOrStdin()
				if len(args) == 2 && args[1] != "-" {
					f, err := os.Open(args[1])
					if err != nil {
						return err
					}
					defer f.Close()
					src = f
				}
				data, err := io.ReadAll(src)
				if err != nil {
					return fmt.Errorf("failed to read module content: %w", err)
				}
				s := string(data)
				content = &s
			}

			return withStore(cmd, func(_ *host.Host, store *stores.SQLiteStore, coll string) error {
				rec, err := store.PutModule(cmd.Context(), coll, p, content)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(cmd.OutOrStdout(), rec)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Stored %s in %s (revision %d)\n", rec.Path, rec.Collection, rec.Revision)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&empty, "empty", false, "store a record without content")

	return cmd
}

func newDBGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get <path>",
		Short: "Print a stored module",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := modulePath(args[0])
			if err != nil {
				return err
			}

			return withStore(cmd, func(_ *host.Host, store *stores.SQLiteStore, coll string) error {
				rec, err := store.FindByPath(cmd.Context(), coll, p)
				if err != nil {
					return err
				}
				if rec == nil {
					return fmt.Errorf("module %s in %s: %w", p, coll, stores.ErrNotFound)
				}
				if jsonOutput {
					return printJSON(cmd.OutOrStdout(), rec)
				}
				if !rec.HasContent() {
					return fmt.Errorf("module %s in %s has no content", p, coll)
				}
				_, err = io.WriteString(cmd.OutOrStdout(), *rec.Content)
				return err
			})
		},
	}
}

func newDBListCommand() *cobra.Command {
	var (
		limit  int
		offset int
		all    bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored modules or collections",
		Example: `  # List modules of the configured collection
  starmod db list

  # List every collection with its revision
  starmod db list --collections`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(_ *host.Host, store *stores.SQLiteStore, coll string) error {
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)

				if all {
					colls, err := store.ListCollections(cmd.Context())
					if err != nil {
						return err
					}
					if jsonOutput {
						return printJSON(cmd.OutOrStdout(), colls)
					}
					fmt.Fprintln(w, "COLLECTION\tREVISION\tMODULES\tUPDATED")
					for _, c := range colls {
						fmt.Fprintf(w, "%s\t%d\t%d\t%s\n", c.Name, c.Revision, c.Modules, c.UpdatedAt.Format("2006-01-02 15:04:05"))
					}
					return w.Flush()
				}

				recs, err := store.ListModules(cmd.Context(), coll, limit, offset)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(cmd.OutOrStdout(), recs)
				}
				fmt.Fprintln(w, "PATH\tREVISION\tSIZE\tUPDATED")
				for _, r := range recs {
					size := "-"
					if r.HasContent() {
						size = fmt.Sprint(len(*r.Content))
					}
					fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", r.Path, r.Revision, size, r.UpdatedAt.Format("2006-01-02 15:04:05"))
				}
				return w.Flush()
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 100, "maximum number of modules")
	cmd.Flags().IntVar(&offset, "offset", 0, "number of modules to skip")
	cmd.Flags().BoolVar(&all, "collections", false, "list collections instead of modules")

	return cmd
}

func newDBRemoveCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "rm <path>",
		Aliases: []string{"remove"},
		Short:   "Delete a stored module",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := modulePath(args[0])
			if err != nil {
				return err
			}

			return withStore(cmd, func(_ *host.Host, store *stores.SQLiteStore, coll string) error {
				if err := store.DeleteModule(cmd.Context(), coll, p); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s from %s\n", p, coll)
				return nil
			})
		},
	}
}
