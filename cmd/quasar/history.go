package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/oriys/quasar/internal/store"
)

func historyCmd() *cobra.Command {
	var (
		limit int
		stats bool
		since time.Duration
		purge time.Duration
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect stored dispatch history",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.Postgres.DSN == "" {
				return fmt.Errorf("postgres DSN is required (--pg-dsn, postgres.dsn or QUASAR_POSTGRES_DSN)")
			}

			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()

			pg, err := store.NewPostgres(ctx, cfg.Postgres.DSN)
			if err != nil {
				return err
			}
			defer pg.Close()

			if purge > 0 {
				n, err := pg.PurgeOlderThan(ctx, purge)
				if err != nil {
					return err
				}
				fmt.Printf("purged %d dispatches older than %v\n", n, purge)
				return nil
			}

			if stats {
				rows, err := pg.ActionStats(ctx, since)
				if err != nil {
					return err
				}
				if len(rows) == 0 {
					fmt.Println("no dispatches recorded")
					return nil
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "ACTION\tDISPATCHES\tRESOLVED\tAVG MS")
				for _, st := range rows {
					fmt.Fprintf(w, "%s\t%d\t%d\t%.1f\n", st.Action, st.Dispatches, st.Resolved, st.AvgDuration)
				}
				w.Flush()
				return nil
			}

			dispatches, err := pg.RecentDispatches(ctx, limit)
			if err != nil {
				return err
			}
			if len(dispatches) == 0 {
				fmt.Println("no dispatches recorded")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tACTION\tTRANSPORT\tMEMBERS\tVALUES\tFAULTS\tUNREACHABLE\tABSENT\tRESOLVED\tMS")
			for _, d := range dispatches {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%d\t%t\t%d\n",
					d.StartedAt.Format("2006-01-02 15:04:05"),
					d.Action,
					d.Transport,
					d.Members,
					d.Values,
					d.Faults,
					d.Unreachable,
					d.Absent,
					d.Resolved,
					d.DurationMs,
				)
			}
			w.Flush()
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Number of dispatches to show")
	cmd.Flags().BoolVar(&stats, "stats", false, "Aggregate per action instead of listing")
	cmd.Flags().DurationVar(&since, "since", time.Hour, "Stats window")
	cmd.Flags().DurationVar(&purge, "purge", 0, "Delete dispatches older than this and exit")

	return cmd
}
