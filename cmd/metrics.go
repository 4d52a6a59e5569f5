/*
Copyright © 2025 The shoplingo authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var metricsLimit int

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Inspect persisted API metrics",
	Long:  `Show the monitor snapshots that have been flushed to the SQLite sink.`,
}

var metricsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show recent metric snapshots",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		ctx := context.Background()
		records, err := db.ListMetricRecords(ctx, metricsLimit)
		if err != nil {
			return fmt.Errorf("failed to list metrics: %w", err)
		}

		if len(records) == 0 {
			fmt.Println("No metric snapshots persisted yet.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "CAPTURED\tOPERATION\tWINDOW\tSAMPLES\tFAILURE\tP95\tSTATUS")
		for _, r := range records {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%.1f%%\t%dms\t%s\n",
				r.CapturedAt.Format("2006-01-02 15:04:05"),
				r.Operation,
				time.Duration(r.WindowSpanMS)*time.Millisecond,
				r.SampleSize,
				r.FailureRate*100,
				r.P95DurationMS,
				r.StatusCounts)
		}
		if err := w.Flush(); err != nil {
			return err
		}

		total, err := db.CountMetricRecords(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("\n%d of %d snapshots shown.\n", len(records), total)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(metricsCmd)
	metricsCmd.AddCommand(metricsShowCmd)

	metricsShowCmd.Flags().IntVarP(&metricsLimit, "limit", "n", 20, "number of snapshots to show")
}
