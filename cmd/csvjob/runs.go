package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/chtzvt/csvjob/cmd/csvjob/config"
	"github.com/chtzvt/csvjob/internal/job"
	"github.com/chtzvt/csvjob/internal/runtime"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

func newRunsCmd(g *globalOptions) *cobra.Command {
	var (
		jobName    string
		limit      int
		outputJSON bool
	)
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded runs of a job, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if jobName == "" {
				return fmt.Errorf("%w: %s", job.ErrMissingArgument, job.ArgJobName)
			}
			cfg, err := config.LoadConfig(g.cfgFile)
			if err != nil {
				return fmt.Errorf("config error: %w", err)
			}
			if cfg.Runtime.Backend != config.BackendEtcd {
				return fmt.Errorf("run history requires the %s runtime backend", config.BackendEtcd)
			}
			env, err := newEnv(cfg, nil)
			if err != nil {
				return fmt.Errorf("boot failure: %w", err)
			}
			defer env.Close()

			lister, ok := env.runtime.(runtime.RunLister)
			if !ok {
				return fmt.Errorf("runtime does not keep run history")
			}
			runs, err := lister.ListRuns(cmd.Context(), jobName)
			if err != nil {
				return err
			}
			if limit > 0 && len(runs) > limit {
				runs = runs[:limit]
			}
			if outputJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(runs)
			}
			printRunsTable(cmd.OutOrStdout(), runs)
			return nil
		},
	}
	cmd.Flags().StringVar(&jobName, job.ArgJobName, "", "job name (required)")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs to list (0 for all)")
	cmd.Flags().BoolVar(&outputJSON, "json", false, "Output as JSON")
	return cmd
}

func printRunsTable(w io.Writer, runs []runtime.RunInfo) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs found")
		return
	}
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"ID", "Status", "Started", "Finished", "Rows Kept", "Parts", "Error"})
	for _, r := range runs {
		kept, parts := "-", "-"
		if r.Summary != nil {
			kept = strconv.FormatInt(r.Summary.Metrics.RowsKept, 10)
			parts = strconv.Itoa(len(r.Summary.Parts))
		}
		table.Append([]string{
			r.ID,
			string(r.Status),
			valOrDash(r.Started),
			valOrDash(r.Finished),
			kept,
			parts,
			r.Error,
		})
	}
	table.Render()
}

func valOrDash(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("2006-01-02 15:04:05")
}
