package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/srg/shotbridge/internal/config"
	"github.com/srg/shotbridge/internal/device"
	"github.com/srg/shotbridge/internal/registry"
	"golang.org/x/term"
)

// Output formats
const (
	formatAuto  = "auto"
	formatTable = "table"
	formatJSON  = "json"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for shot timers",
	Long: `Run one scan and list the shot timers in range.

Only devices whose advertised name starts with the configured prefix are
shown unless --all is given. Output is a table on a terminal and one JSON
object per line otherwise.`,
	RunE: runScan,
}

var (
	scanDuration time.Duration
	scanFormat   string
	scanAll      bool
)

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 0, "Scan duration (default from settings)")
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", formatAuto, "Output format (auto, table, json)")
	scanCmd.Flags().BoolVar(&scanAll, "all", false, "Show every named device, not only timers")
}

func runScan(cmd *cobra.Command, _ []string) error {
	format, err := resolveFormat(scanFormat, cmd.OutOrStdout())
	if err != nil {
		return err
	}

	logger, err := configureLogger(cmd, "")
	if err != nil {
		return err
	}

	cfgPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	opts := cfg.RegistryOptions()
	if scanDuration > 0 {
		opts.ScanTimeout = scanDuration
	}
	if scanAll {
		opts.NamePrefix = ""
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := registry.New(newTransport(logger), nil, nil, opts, logger)
	defer reg.Close()

	if format == formatTable {
		fmt.Fprintf(cmd.ErrOrStderr(), "Scanning for %s...\n", opts.ScanTimeout)
	}
	found, err := reg.Scan(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return fmt.Errorf("scan failed: %w", err)
	}

	if format == formatJSON {
		return displayDevicesJSON(cmd.OutOrStdout(), found)
	}
	return displayDevicesTable(cmd.OutOrStdout(), found)
}

// resolveFormat validates format and picks table or JSON for "auto".
func resolveFormat(format string, out io.Writer) (string, error) {
	switch format {
	case formatTable, formatJSON:
		return format, nil
	case formatAuto, "":
		if isTerminal(out) {
			return formatTable, nil
		}
		return formatJSON, nil
	default:
		return "", fmt.Errorf("invalid format '%s': must be one of [%s %s %s]", format, formatAuto, formatTable, formatJSON)
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func displayDevicesTable(out io.Writer, devices []device.Descriptor) error {
	if len(devices) == 0 {
		fmt.Fprintln(out, "No timers discovered")
		return nil
	}

	header := color.New(color.Bold)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	header.Fprintln(w, "NAME\tADDRESS\tMODEL")
	fmt.Fprintln(w, strings.Repeat("-", 60))

	for _, d := range devices {
		model := color.New(modelColor(d.Model)).Sprint(d.Model)
		fmt.Fprintf(w, "%s\t%s\t%s\n", d.Name, d.Address, model)
	}
	return w.Flush()
}

func modelColor(m device.Model) color.Attribute {
	switch m {
	case device.ModelSportTimer:
		return color.FgGreen
	case device.ModelGoTimer:
		return color.FgCyan
	default:
		return color.FgYellow
	}
}

// displayDevicesJSON writes one object per line.
func displayDevicesJSON(out io.Writer, devices []device.Descriptor) error {
	enc := json.NewEncoder(out)
	for _, d := range devices {
		if err := enc.Encode(d); err != nil {
			return err
		}
	}
	return nil
}
