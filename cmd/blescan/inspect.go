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

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/blescan/inspector"
	"github.com/srg/blescan/internal/device"
	"github.com/srg/blescan/pkg/config"
	"github.com/srg/blescan/pkg/connectivity"
)

// inspectCmd represents the inspect command
var inspectCmd = &cobra.Command{
	Use:   "inspect <device-address>",
	Short: "Inspect services and characteristics of a BLE device",
	Long: `Connects to a BLE device by address, discovers its services and
characteristics and reads every readable characteristic.`,
	Args: cobra.ExactArgs(1),
	RunE: runInspect,
}

var (
	inspectFormat  string
	inspectRead    bool
	inspectTimeout time.Duration
)

func init() {
	inspectCmd.Flags().StringVarP(&inspectFormat, "format", "f", config.FormatTable, "Output format (table, json)")
	inspectCmd.Flags().BoolVar(&inspectRead, "read", true, "Read readable characteristics")
	inspectCmd.Flags().DurationVar(&inspectTimeout, "timeout", 60*time.Second, "Connect and discovery timeout")
}

func runInspect(cmd *cobra.Command, args []string) error {
	address := args[0]

	cfg, logger, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("format") {
		cfg.OutputFormat = inspectFormat
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	mgr, err := newManager(cfg, nil, logger)
	if err != nil {
		return err
	}
	defer mgr.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	chars, err := withDevice(ctx, mgr, address, inspectTimeout, cmd.ErrOrStderr(), logger,
		func(mgr *connectivity.Manager) ([]device.CharacteristicRecord, error) {
			if inspectRead {
				readAll(ctx, mgr, logger)
			}
			return mgr.Characteristics(), nil
		})
	if err != nil {
		return err
	}

	if strings.EqualFold(cfg.OutputFormat, config.FormatJSON) {
		views := make([]characteristicView, len(chars))
		for i, ch := range chars {
			views[i] = newCharacteristicView(ch)
		}
		return writeJSON(cmd.OutOrStdout(), struct {
			Address         string               `json:"address"`
			Characteristics []characteristicView `json:"characteristics"`
		}{address, views})
	}
	return displayCharacteristicsTable(cmd.OutOrStdout(), address, chars)
}

// readAll reads every readable characteristic in turn. Failures are logged and
// leave the value empty.
func readAll(ctx context.Context, mgr *connectivity.Manager, logger *logrus.Logger) {
	for _, ch := range mgr.Characteristics() {
		if !ch.Properties.Readable() {
			continue
		}
		readCtx, cancel := context.WithTimeout(ctx, readTimeoutPerRequest)
		_, err := inspector.ReadCharacteristic(readCtx, mgr, ch.UUID)
		cancel()
		if err != nil {
			logger.WithFields(logrus.Fields{
				"uuid":  ch.UUID,
				"error": err,
			}).Warn("Failed to read characteristic")
		}
		if ctx.Err() != nil {
			return
		}
	}
}

func displayCharacteristicsTable(out io.Writer, address string, chars []device.CharacteristicRecord) error {
	pal := newPalette(out)

	services := make(map[string]struct{})
	for _, ch := range chars {
		services[ch.ServiceUUID] = struct{}{}
	}
	fmt.Fprintln(out, pal.header.Sprintf("Device %s: %d services, %d characteristics", address, len(services), len(chars)))
	if len(chars) == 0 {
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SERVICE\tCHARACTERISTIC\tNAME\tPROPERTIES\tVALUE")
	fmt.Fprintln(w, "-------\t--------------\t----\t----------\t-----")
	for _, ch := range chars {
		name := ch.KnownName()
		if name == "" {
			name = "-"
		}
		value := ch.ValueString()
		if !ch.HasValue() {
			value = pal.dim.Sprint(value)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			device.ShortenUUID(ch.ServiceUUID), device.ShortenUUID(ch.UUID), truncate(name, 28), ch.Properties, value)
	}
	return w.Flush()
}
