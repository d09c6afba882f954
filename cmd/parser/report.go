package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/SteelMorgan/dspace-editlog/internal/domain"
	"github.com/SteelMorgan/dspace-editlog/internal/store"
	"github.com/spf13/cobra"
)

const dateLayout = "2006-01-02"

type reportFlags struct {
	from     string
	to       string
	editor   string
	byEditor bool
	monthly  bool
}

func newReportCmd(a *app) *cobra.Command {
	f := &reportFlags{}

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print counts of recorded item updates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			loc, err := a.cfg.Location()
			if err != nil {
				return failure(err)
			}
			q, err := f.query(loc)
			if err != nil {
				return failure(err)
			}
			return a.withStore(cmd.Context(), func(st store.Store) error {
				return f.print(cmd.Context(), cmd.OutOrStdout(), st, q)
			})
		},
	}

	cmd.Flags().StringVar(&f.from, "from", "", "First day to include, YYYY-MM-DD")
	cmd.Flags().StringVar(&f.to, "to", "", "Last day to include, YYYY-MM-DD")
	cmd.Flags().StringVar(&f.editor, "editor", "", "Only count updates by this editor")
	cmd.Flags().BoolVar(&f.byEditor, "by-editor", false, "Group counts by editor")
	cmd.Flags().BoolVar(&f.monthly, "monthly", false, "Group counts by month")
	return cmd
}

// query turns the day flags into a half-open event time range
func (f *reportFlags) query(loc *time.Location) (store.EventQuery, error) {
	q := store.EventQuery{Editor: f.editor}

	if f.from != "" {
		from, err := time.ParseInLocation(dateLayout, f.from, loc)
		if err != nil {
			return q, fmt.Errorf("%w: --from: %v", domain.ErrConfiguration, err)
		}
		q.From = from.UTC()
	}
	if f.to != "" {
		to, err := time.ParseInLocation(dateLayout, f.to, loc)
		if err != nil {
			return q, fmt.Errorf("%w: --to: %v", domain.ErrConfiguration, err)
		}
		q.To = to.AddDate(0, 0, 1).UTC()
	}
	if !q.From.IsZero() && !q.To.IsZero() && !q.From.Before(q.To) {
		return q, fmt.Errorf("%w: --from must not be after --to", domain.ErrConfiguration)
	}
	return q, nil
}

func (f *reportFlags) print(ctx context.Context, out io.Writer, st store.Store, q store.EventQuery) error {
	total, err := st.CountEvents(ctx, q)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "Total updates:\t%d\n", total)

	if f.byEditor {
		groups, err := st.CountByEditor(ctx, q)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, "\nEDITOR\tUPDATES")
		for _, g := range groups {
			name := g.Key
			if name == "" {
				name = "(unknown)"
			}
			fmt.Fprintf(w, "%s\t%d\n", name, g.Count)
		}
	}

	if f.monthly {
		groups, err := st.CountByMonth(ctx, q)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, "\nMONTH\tUPDATES")
		for _, g := range groups {
			fmt.Fprintf(w, "%s\t%d\n", g.Key, g.Count)
		}
	}

	return w.Flush()
}

// withStore opens the configured store for reading without taking the run lock
func (a *app) withStore(ctx context.Context, fn func(store.Store) error) error {
	backend, err := a.backend()
	if err != nil {
		return failure(err)
	}
	defer backend.Close()

	st, err := backend.Open(ctx)
	if err != nil {
		return failure(fmt.Errorf("%w: open %s store: %v", domain.ErrStorage, backend.Name(), err))
	}
	defer st.Close()

	if err := fn(st); err != nil {
		return failure(err)
	}
	return nil
}
