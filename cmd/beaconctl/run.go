package main

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/oriys/beacon/internal/cancel"
	"github.com/oriys/beacon/internal/logs"
	"github.com/oriys/beacon/internal/output"
)

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Inspect and cancel Playwright/k6 runs",
	}
	cmd.AddCommand(runListCmd(), runGetCmd(), runCancelCmd(), runLogsCmd())
	return cmd
}

func runListCmd() *cobra.Command {
	var outputFormat string
	var limit int

	cmd := &cobra.Command{
		Use:   "list <jobId>",
		Short: "List runs for a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := getStore()
			if err != nil {
				return err
			}
			defer s.Close()

			runs, err := s.ListRunsByJob(context.Background(), args[0], limit)
			if err != nil {
				return err
			}

			printer := output.NewPrinter(output.ParseFormat(outputFormat))
			rows := make([]output.RunRow, 0, len(runs))
			for _, r := range runs {
				rows = append(rows, output.RunRow{
					RunID:      r.RunID,
					JobID:      r.JobID,
					Location:   string(r.Location),
					Status:     string(r.Status),
					DurationMs: r.DurationMs,
					Started:    formatTime(r.StartedAt),
				})
			}
			return printer.PrintRuns(rows)
		},
	}
	cmd.Flags().StringVarP(&outputFormat, "output", "o", "table", "Output format (table, json, yaml)")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum runs to list")
	return cmd
}

func runGetCmd() *cobra.Command {
	var outputFormat string

	cmd := &cobra.Command{
		Use:   "get <runId>",
		Short: "Show run detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := getStore()
			if err != nil {
				return err
			}
			defer s.Close()

			r, err := s.GetRun(context.Background(), args[0])
			if err != nil {
				return err
			}

			printer := output.NewPrinter(output.ParseFormat(outputFormat))
			return printer.PrintRunDetail(output.RunDetail{
				RunID:        r.RunID,
				JobID:        r.JobID,
				Location:     string(r.Location),
				Status:       string(r.Status),
				DurationMs:   r.DurationMs,
				ReportURL:    r.ReportURL,
				LogsURL:      r.LogsURL,
				ErrorDetails: r.ErrorDetails,
				Started:      formatTime(r.StartedAt),
				Completed:    formatTime(r.CompletedAt),
			})
		},
	}
	cmd.Flags().StringVarP(&outputFormat, "output", "o", "table", "Output format (table, json, yaml)")
	return cmd
}

// runCancelCmd sets the Redis cancellation flag the container executor
// polls every second during a run (internal/cancel). It does not
// touch the RunRecord itself — the worker still owns that transition once
// its in-flight container observes the flag.
func runCancelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cancel <runId>",
		Short: "Request cancellation of an in-flight run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := getRedis()
			defer client.Close()

			cancel.New(client).Set(context.Background(), args[0])
			fmt.Printf("cancellation requested for run %s\n", args[0])
			return nil
		},
	}
	return cmd
}

// runLogsCmd tails the live console stream of an in-flight run over the
// Redis Pub/Sub channel the k6/Playwright runners publish to. Exits on
// interrupt; a finished run simply produces no further chunks.
func runLogsCmd() *cobra.Command {
	var outputFormat string

	cmd := &cobra.Command{
		Use:   "logs <runId>",
		Short: "Tail the live console output of an in-flight run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := getRedis()
			defer client.Close()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			printer := output.NewPrinter(output.ParseFormat(outputFormat))
			chunks, cancelSub := logs.NewConsolePublisher(client).Subscribe(ctx, args[0])
			defer cancelSub()

			for chunk := range chunks {
				for _, line := range strings.Split(strings.TrimRight(chunk, "\n"), "\n") {
					printer.PrintLogEntry(output.LogEntry{
						Timestamp: time.Now().Format("15:04:05"),
						RunID:     args[0],
						Level:     "INFO",
						Message:   line,
					})
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&outputFormat, "output", "o", "table", "Output format (table, json)")
	return cmd
}
