package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"
)

// Format represents output format
type Format string

const (
	FormatTable Format = "table"
	FormatWide  Format = "wide"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

// ParseFormat parses a format string
func ParseFormat(s string) Format {
	switch strings.ToLower(s) {
	case "json":
		return FormatJSON
	case "yaml", "yml":
		return FormatYAML
	case "wide":
		return FormatWide
	default:
		return FormatTable
	}
}

// Printer handles formatted output
type Printer struct {
	format  Format
	writer  io.Writer
	noColor bool
}

// NewPrinter creates a new printer
func NewPrinter(format Format) *Printer {
	return &Printer{
		format:  format,
		writer:  os.Stdout,
		noColor: os.Getenv("NO_COLOR") != "",
	}
}

// SetWriter sets the output writer
func (p *Printer) SetWriter(w io.Writer) {
	p.writer = w
}

// Print outputs data in the configured format
func (p *Printer) Print(data interface{}) error {
	switch p.format {
	case FormatJSON:
		return p.printJSON(data)
	case FormatYAML:
		return p.printYAML(data)
	default:
		// Table and Wide are handled by specific methods
		return p.printJSON(data)
	}
}

func (p *Printer) printJSON(data interface{}) error {
	enc := json.NewEncoder(p.writer)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

func (p *Printer) printYAML(data interface{}) error {
	enc := yaml.NewEncoder(p.writer)
	enc.SetIndent(2)
	return enc.Encode(data)
}

// Color codes
const (
	Reset   = "\033[0m"
	Bold    = "\033[1m"
	Red     = "\033[31m"
	Green   = "\033[32m"
	Yellow  = "\033[33m"
	Blue    = "\033[34m"
	Magenta = "\033[35m"
	Cyan    = "\033[36m"
	Gray    = "\033[90m"
)

// Colorize adds color to text
func (p *Printer) Colorize(color, text string) string {
	if p.noColor {
		return text
	}
	return color + text + Reset
}

// TableWriter creates a tabwriter for aligned output
func (p *Printer) TableWriter() *tabwriter.Writer {
	return tabwriter.NewWriter(p.writer, 0, 0, 2, ' ', 0)
}

// MonitorRow represents a monitor in list output (`beaconctl monitor list`).
type MonitorRow struct {
	ID         string `json:"id" yaml:"id"`
	Name       string `json:"name" yaml:"name"`
	Kind       string `json:"kind" yaml:"kind"`
	Target     string `json:"target" yaml:"target"`
	Status     string `json:"status" yaml:"status"`
	Strategy   string `json:"strategy" yaml:"strategy"`
	Locations  int    `json:"locations" yaml:"locations"`
	LastCheck  string `json:"last_check,omitempty" yaml:"last_check,omitempty"`
	NextRun    string `json:"next_run,omitempty" yaml:"next_run,omitempty"`
}

// statusColor maps an aggregate/run status word to a display color.
func (p *Printer) statusColor(status string) string {
	switch strings.ToLower(status) {
	case "up", "passed":
		return Green
	case "down", "failed", "error":
		return Red
	case "pending", "running", "blocked":
		return Yellow
	default:
		return Gray
	}
}

// PrintMonitors prints a monitor list.
func (p *Printer) PrintMonitors(rows []MonitorRow) error {
	if p.format == FormatJSON || p.format == FormatYAML {
		return p.Print(rows)
	}

	if len(rows) == 0 {
		fmt.Fprintln(p.writer, "No monitors found")
		return nil
	}

	w := p.TableWriter()
	if p.format == FormatWide {
		fmt.Fprintln(w, p.Colorize(Bold, "ID\tNAME\tKIND\tTARGET\tSTATUS\tSTRATEGY\tLOCATIONS\tLAST CHECK\tNEXT RUN"))
	} else {
		fmt.Fprintln(w, p.Colorize(Bold, "ID\tNAME\tKIND\tSTATUS\tLAST CHECK"))
	}

	for _, row := range rows {
		statusText := p.Colorize(p.statusColor(row.Status), row.Status)
		if p.format == FormatWide {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
				row.ID, row.Name, row.Kind, row.Target, statusText, row.Strategy, row.Locations, row.LastCheck, row.NextRun)
		} else {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", row.ID, row.Name, row.Kind, statusText, row.LastCheck)
		}
	}
	return w.Flush()
}

// MonitorDetail is the single-monitor detail view (`beaconctl monitor get`).
type MonitorDetail struct {
	ID                 string   `json:"id" yaml:"id"`
	Name               string   `json:"name" yaml:"name"`
	Kind               string   `json:"kind" yaml:"kind"`
	Target             string   `json:"target" yaml:"target"`
	Status             string   `json:"status" yaml:"status"`
	Strategy           string   `json:"strategy" yaml:"strategy"`
	Threshold          int      `json:"threshold" yaml:"threshold"`
	Locations          []string `json:"locations" yaml:"locations"`
	AlertEnabled       bool     `json:"alert_enabled" yaml:"alert_enabled"`
	FailureThreshold   int      `json:"failure_threshold" yaml:"failure_threshold"`
	RecoveryThreshold  int      `json:"recovery_threshold" yaml:"recovery_threshold"`
	CronExpr           string   `json:"cron_expression,omitempty" yaml:"cron_expression,omitempty"`
	LastCheck          string   `json:"last_check,omitempty" yaml:"last_check,omitempty"`
	LastStatusChange   string   `json:"last_status_change,omitempty" yaml:"last_status_change,omitempty"`
	NextRun            string   `json:"next_run,omitempty" yaml:"next_run,omitempty"`
	Created            string   `json:"created" yaml:"created"`
	Updated            string   `json:"updated" yaml:"updated"`
}

// PrintMonitorDetail prints detailed monitor info.
func (p *Printer) PrintMonitorDetail(d MonitorDetail) error {
	if p.format == FormatJSON || p.format == FormatYAML {
		return p.Print(d)
	}

	fmt.Fprintf(p.writer, "%s %s\n", p.Colorize(Bold, "Monitor:"), p.Colorize(Cyan, d.Name))
	fmt.Fprintf(p.writer, "  %s %s\n", p.Colorize(Gray, "ID:"), d.ID)
	fmt.Fprintf(p.writer, "  %s %s\n", p.Colorize(Gray, "Kind:"), d.Kind)
	fmt.Fprintf(p.writer, "  %s %s\n", p.Colorize(Gray, "Target:"), d.Target)
	fmt.Fprintf(p.writer, "  %s %s\n", p.Colorize(Gray, "Status:"), p.Colorize(p.statusColor(d.Status), d.Status))
	fmt.Fprintf(p.writer, "  %s %s (threshold %d%%)\n", p.Colorize(Gray, "Strategy:"), d.Strategy, d.Threshold)
	if len(d.Locations) > 0 {
		fmt.Fprintf(p.writer, "  %s %s\n", p.Colorize(Gray, "Locations:"), strings.Join(d.Locations, ", "))
	}
	if d.CronExpr != "" {
		fmt.Fprintf(p.writer, "  %s %s\n", p.Colorize(Gray, "Schedule:"), d.CronExpr)
	}
	if d.AlertEnabled {
		fmt.Fprintf(p.writer, "  %s failure=%d recovery=%d\n", p.Colorize(Gray, "Alerts:"), d.FailureThreshold, d.RecoveryThreshold)
	} else {
		fmt.Fprintf(p.writer, "  %s disabled\n", p.Colorize(Gray, "Alerts:"))
	}
	if d.LastCheck != "" {
		fmt.Fprintf(p.writer, "  %s %s\n", p.Colorize(Gray, "Last Check:"), d.LastCheck)
	}
	if d.LastStatusChange != "" {
		fmt.Fprintf(p.writer, "  %s %s\n", p.Colorize(Gray, "Last Status Change:"), d.LastStatusChange)
	}
	if d.NextRun != "" {
		fmt.Fprintf(p.writer, "  %s %s\n", p.Colorize(Gray, "Next Run:"), d.NextRun)
	}
	fmt.Fprintf(p.writer, "  %s %s\n", p.Colorize(Gray, "Created:"), d.Created)
	fmt.Fprintf(p.writer, "  %s %s\n", p.Colorize(Gray, "Updated:"), d.Updated)
	return nil
}

// RunRow represents a Playwright/k6 run in list output (`beaconctl run list`).
type RunRow struct {
	RunID      string `json:"run_id" yaml:"run_id"`
	JobID      string `json:"job_id,omitempty" yaml:"job_id,omitempty"`
	Location   string `json:"location" yaml:"location"`
	Status     string `json:"status" yaml:"status"`
	DurationMs int64  `json:"duration_ms,omitempty" yaml:"duration_ms,omitempty"`
	Started    string `json:"started,omitempty" yaml:"started,omitempty"`
}

// PrintRuns prints a run list.
func (p *Printer) PrintRuns(rows []RunRow) error {
	if p.format == FormatJSON || p.format == FormatYAML {
		return p.Print(rows)
	}
	if len(rows) == 0 {
		fmt.Fprintln(p.writer, "No runs found")
		return nil
	}

	w := p.TableWriter()
	fmt.Fprintln(w, p.Colorize(Bold, "RUN ID\tJOB ID\tLOCATION\tSTATUS\tDURATION\tSTARTED"))
	for _, row := range rows {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%dms\t%s\n",
			row.RunID, row.JobID, row.Location, p.Colorize(p.statusColor(row.Status), row.Status), row.DurationMs, row.Started)
	}
	return w.Flush()
}

// RunDetail is the single-run detail view (`beaconctl run get`).
type RunDetail struct {
	RunID        string `json:"run_id" yaml:"run_id"`
	JobID        string `json:"job_id,omitempty" yaml:"job_id,omitempty"`
	Location     string `json:"location" yaml:"location"`
	Status       string `json:"status" yaml:"status"`
	DurationMs   int64  `json:"duration_ms,omitempty" yaml:"duration_ms,omitempty"`
	ReportURL    string `json:"report_url,omitempty" yaml:"report_url,omitempty"`
	LogsURL      string `json:"logs_url,omitempty" yaml:"logs_url,omitempty"`
	ErrorDetails string `json:"error_details,omitempty" yaml:"error_details,omitempty"`
	Started      string `json:"started,omitempty" yaml:"started,omitempty"`
	Completed    string `json:"completed,omitempty" yaml:"completed,omitempty"`
}

// PrintRunDetail prints detailed run info.
func (p *Printer) PrintRunDetail(d RunDetail) error {
	if p.format == FormatJSON || p.format == FormatYAML {
		return p.Print(d)
	}

	fmt.Fprintf(p.writer, "%s %s\n", p.Colorize(Bold, "Run:"), p.Colorize(Cyan, d.RunID))
	if d.JobID != "" {
		fmt.Fprintf(p.writer, "  %s %s\n", p.Colorize(Gray, "Job:"), d.JobID)
	}
	fmt.Fprintf(p.writer, "  %s %s\n", p.Colorize(Gray, "Location:"), d.Location)
	fmt.Fprintf(p.writer, "  %s %s\n", p.Colorize(Gray, "Status:"), p.Colorize(p.statusColor(d.Status), d.Status))
	if d.DurationMs > 0 {
		fmt.Fprintf(p.writer, "  %s %d ms\n", p.Colorize(Gray, "Duration:"), d.DurationMs)
	}
	if d.ReportURL != "" {
		fmt.Fprintf(p.writer, "  %s %s\n", p.Colorize(Gray, "Report:"), d.ReportURL)
	}
	if d.LogsURL != "" {
		fmt.Fprintf(p.writer, "  %s %s\n", p.Colorize(Gray, "Logs:"), d.LogsURL)
	}
	if d.ErrorDetails != "" {
		fmt.Fprintf(p.writer, "  %s %s\n", p.Colorize(Gray, "Error:"), p.Colorize(Red, d.ErrorDetails))
	}
	if d.Started != "" {
		fmt.Fprintf(p.writer, "  %s %s\n", p.Colorize(Gray, "Started:"), d.Started)
	}
	if d.Completed != "" {
		fmt.Fprintf(p.writer, "  %s %s\n", p.Colorize(Gray, "Completed:"), d.Completed)
	}
	return nil
}

// LogEntry represents a single console-log line streamed from a k6/Playwright
// run (`beaconctl run logs`).
type LogEntry struct {
	Timestamp string `json:"timestamp" yaml:"timestamp"`
	RunID     string `json:"run_id" yaml:"run_id"`
	Level     string `json:"level" yaml:"level"`
	Message   string `json:"message" yaml:"message"`
}

// PrintLogEntry prints a single log entry
func (p *Printer) PrintLogEntry(entry LogEntry) error {
	if p.format == FormatJSON {
		return p.printJSON(entry)
	}

	levelColor := Gray
	switch strings.ToUpper(entry.Level) {
	case "ERROR", "ERR":
		levelColor = Red
	case "WARN", "WARNING":
		levelColor = Yellow
	case "INFO":
		levelColor = Green
	case "DEBUG":
		levelColor = Gray
	}

	fmt.Fprintf(p.writer, "%s %s %s %s\n",
		p.Colorize(Gray, entry.Timestamp),
		p.Colorize(Cyan, "["+entry.RunID+"]"),
		p.Colorize(levelColor, entry.Level),
		entry.Message,
	)

	return nil
}

// Success prints a success message
func (p *Printer) Success(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(p.writer, p.Colorize(Green, "✓ ")+msg)
}

// Error prints an error message
func (p *Printer) Error(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(p.writer, p.Colorize(Red, "✗ ")+msg)
}

// Warning prints a warning message
func (p *Printer) Warning(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(p.writer, p.Colorize(Yellow, "⚠ ")+msg)
}

// Info prints an info message
func (p *Printer) Info(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(p.writer, p.Colorize(Blue, "ℹ ")+msg)
}
