package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/blescan/internal/device"
	"github.com/srg/blescan/pkg/config"
	"github.com/srg/blescan/pkg/connectivity"
	"github.com/srg/blescan/scanner"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for BLE devices",
	Long: `Scan for and display Bluetooth Low Energy devices in the vicinity.

The scan runs for --duration (0 scans until Ctrl+C) and prints every device
seen, once, with its latest signal strength, in discovery order.`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

var (
	scanDuration    time.Duration
	scanFormat      string
	scanServices    []string
	scanAllowList   []string
	scanBlockList   []string
	scanNoDuplicate bool
)

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 10*time.Second, "Scan duration (0 for indefinite)")
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", config.FormatTable, "Output format (table, json)")
	scanCmd.Flags().StringSliceVarP(&scanServices, "services", "s", nil, "Filter by service UUIDs")
	scanCmd.Flags().StringSliceVar(&scanAllowList, "allow", nil, "Only show devices with these addresses")
	scanCmd.Flags().StringSliceVar(&scanBlockList, "block", nil, "Hide devices with these addresses")
	scanCmd.Flags().BoolVar(&scanNoDuplicate, "no-duplicates", false, "Ask the adapter to filter duplicate advertisements")
}

func runScan(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("format") {
		cfg.OutputFormat = scanFormat
	}
	if cmd.Flags().Changed("duration") {
		cfg.ScanPeriod = scanDuration
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	var services []string
	if len(scanServices) > 0 {
		if services, err = device.ValidateUUID(scanServices...); err != nil {
			return fmt.Errorf("invalid service UUID: %w", err)
		}
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	opts := scanner.DefaultScanOptions()
	opts.Period = cfg.ScanPeriod
	opts.AllowDuplicates = !scanNoDuplicate
	opts.ServiceUUIDs = services
	opts.AllowList = scanAllowList
	opts.BlockList = scanBlockList

	mgr, err := newManager(cfg, opts, logger)
	if err != nil {
		return err
	}
	defer mgr.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	devices, err := collectDevices(ctx, mgr, cmd.ErrOrStderr(), cfg.ScanPeriod)
	if err != nil {
		return err
	}

	if strings.EqualFold(cfg.OutputFormat, config.FormatJSON) {
		views := make([]deviceView, len(devices))
		for i, d := range devices {
			views[i] = newDeviceView(d)
		}
		return writeJSON(cmd.OutOrStdout(), views)
	}
	return displayDevicesTable(cmd.OutOrStdout(), devices)
}

// collectDevices runs one scan session until it finishes on its own or ctx is
// cancelled, and returns the deduplicated device list.
func collectDevices(ctx context.Context, mgr *connectivity.Manager, progressOut io.Writer, period time.Duration) ([]device.DeviceRecord, error) {
	list := connectivity.NewDeviceList()
	mgr.RegisterObserver(list)

	ended := make(chan device.Event, 1)
	mgr.RegisterObserver(device.ObserverFunc(func(ev device.Event) {
		if ev.Type == device.ScanFinished || ev.Type == device.ScanFailed {
			select {
			case ended <- ev:
			default:
			}
		}
	}))

	if err := mgr.StartScan(); err != nil {
		return nil, fmt.Errorf("failed to start scan: %w", err)
	}

	if isTerminal(progressOut) {
		progress := NewProgressPrinter(progressOut, "Scanning for BLE devices", "Scanning", period)
		progress.Start()
		defer progress.Stop()
	}

	select {
	case ev := <-ended:
		if ev.Type == device.ScanFailed {
			return nil, fmt.Errorf("%w: code %d", ErrScanFailed, ev.Code)
		}
	case <-ctx.Done():
		mgr.StopScan()
	}

	if err := mgr.Sync(context.Background()); err != nil {
		return nil, err
	}
	return list.Devices(), nil
}

func displayDevicesTable(out io.Writer, devices []device.DeviceRecord) error {
	if len(devices) == 0 {
		_, err := fmt.Fprintln(out, "No devices discovered")
		return err
	}

	pal := newPalette(out)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tADDRESS\tRSSI")
	fmt.Fprintln(w, "----\t-------\t----")

	for _, d := range devices {
		fmt.Fprintf(w, "%s\t%s\t%s\n", truncate(d.DisplayName(), 24), d.ID, pal.rssi(d.RSSI).Sprintf("%d dBm", d.RSSI))
	}
	return w.Flush()
}
