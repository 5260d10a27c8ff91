package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/oriys/beacon/internal/output"
)

func monitorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Inspect monitors",
	}
	cmd.AddCommand(monitorListCmd(), monitorGetCmd())
	return cmd
}

func monitorListCmd() *cobra.Command {
	var outputFormat string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List monitors",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := getStore()
			if err != nil {
				return err
			}
			defer s.Close()

			monitors, err := s.ListMonitors(context.Background(), limit)
			if err != nil {
				return err
			}

			printer := output.NewPrinter(output.ParseFormat(outputFormat))
			rows := make([]output.MonitorRow, 0, len(monitors))
			for _, m := range monitors {
				rows = append(rows, output.MonitorRow{
					ID:        m.ID,
					Name:      m.Name,
					Kind:      string(m.Kind),
					Target:    m.Target,
					Status:    string(m.Status),
					Strategy:  string(m.Location.EffectiveStrategy()),
					Locations: len(m.Location.EffectiveLocations()),
					LastCheck: formatTime(m.LastCheckAt),
					NextRun:   formatTime(m.NextRunAt),
				})
			}
			return printer.PrintMonitors(rows)
		},
	}
	cmd.Flags().StringVarP(&outputFormat, "output", "o", "table", "Output format (table, wide, json, yaml)")
	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum monitors to list")
	return cmd
}

func monitorGetCmd() *cobra.Command {
	var outputFormat string

	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Show monitor detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := getStore()
			if err != nil {
				return err
			}
			defer s.Close()

			m, err := s.GetMonitor(context.Background(), args[0])
			if err != nil {
				return err
			}

			locations := make([]string, 0, len(m.Location.EffectiveLocations()))
			for _, l := range m.Location.EffectiveLocations() {
				locations = append(locations, string(l))
			}

			printer := output.NewPrinter(output.ParseFormat(outputFormat))
			return printer.PrintMonitorDetail(output.MonitorDetail{
				ID:                m.ID,
				Name:              m.Name,
				Kind:              string(m.Kind),
				Target:            m.Target,
				Status:            string(m.Status),
				Strategy:          string(m.Location.EffectiveStrategy()),
				Threshold:         m.Location.EffectiveThreshold(),
				Locations:         locations,
				AlertEnabled:      m.Alert.Enabled,
				FailureThreshold:  m.Alert.EffectiveFailureThreshold(),
				RecoveryThreshold: m.Alert.EffectiveRecoveryThreshold(),
				CronExpr:          m.CronExpr,
				LastCheck:         formatTime(m.LastCheckAt),
				LastStatusChange:  formatTime(m.LastStatusChangeAt),
				NextRun:           formatTime(m.NextRunAt),
				Created:           formatTime(&m.CreatedAt),
				Updated:           formatTime(&m.UpdatedAt),
			})
		},
	}
	cmd.Flags().StringVarP(&outputFormat, "output", "o", "table", "Output format (table, json, yaml)")
	return cmd
}
