package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/SteelMorgan/dspace-editlog/internal/store"
	"github.com/spf13/cobra"
)

func newStateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "state",
		Short: "List tracked log files and their read positions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(cmd.Context(), func(st store.Store) error {
				records, err := st.ListFileRecords(cmd.Context(), a.cfg.ParserName)
				if err != nil {
					return err
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "PATH\tIDENTITY\tOFFSET\tSIZE SEEN\tPENDING\tUPDATED")
				for _, r := range records {
					fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%s\n",
						r.Path, r.Identity, r.Offset, r.SizeSeen, r.SizeSeen-r.Offset,
						r.UpdatedAt.Local().Format(time.DateTime))
				}
				return w.Flush()
			})
		},
	}
}
