package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/loran-ai/loran/pkg/config"
	"github.com/loran-ai/loran/pkg/journal"
)

func newStatsCmd() *cobra.Command {
	var (
		configPath string
		recent     int
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show per-operation call statistics from the journal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if !cfg.Journal.Enabled {
				return fmt.Errorf("journal is disabled in %s", configPath)
			}

			jr, err := journal.New(cfg.Journal.DBPath)
			if err != nil {
				return err
			}
			defer jr.Close()

			ctx := context.Background()

			if recent > 0 {
				recs, err := jr.Recent(ctx, recent)
				if err != nil {
					return err
				}
				if len(recs) == 0 {
					fmt.Println("No calls recorded.")
					return nil
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "TIME\tOPERATION\tOK\tATTEMPTS\tCACHED\tBATCHED\tFALLBACK\tLATENCY MS\tKIND")
				for _, r := range recs {
					kind := r.Kind
					if kind == "" {
						kind = "-"
					}
					fmt.Fprintf(w, "%s\t%s\t%t\t%d\t%t\t%t\t%t\t%d\t%s\n",
						r.CreatedAt.Format("2006-01-02T15:04:05"), r.Operation, r.Success,
						r.Attempts, r.CacheHit, r.Batched, r.Fallback, r.LatencyMs, kind)
				}
				return w.Flush()
			}

			sums, err := jr.Summary(ctx)
			if err != nil {
				return err
			}
			if len(sums) == 0 {
				fmt.Println("No calls recorded.")
				return nil
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "OPERATION\tCALLS\tSUCCESSES\tFAILURES\tCACHE HITS\tAVG LATENCY MS")
			for _, s := range sums {
				fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%.1f\n",
					s.Operation, s.Calls, s.Successes, s.Failures, s.CacheHits, s.AvgLatencyMs)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "loran.yaml", "path to config file")
	cmd.Flags().IntVar(&recent, "recent", 0, "show the N most recent calls instead of the summary")
	return cmd
}
