package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/blescan/inspector"
	"github.com/srg/blescan/internal/device"
	"github.com/srg/blescan/pkg/connectivity"
)

// readCmd represents the read command
var readCmd = &cobra.Command{
	Use:   "read <device-address> <characteristic-uuid>",
	Short: "Read a characteristic value",
	Long: `Connects to a BLE device, reads one characteristic and prints its value.

Values made of printable ASCII are printed as text, anything else as hex bytes.
The characteristic UUID may be given in short (2A19) or full form.`,
	Args: cobra.ExactArgs(2),
	RunE: runRead,
}

var (
	readHex            bool
	readConnectTimeout time.Duration
)

func init() {
	readCmd.Flags().BoolVar(&readHex, "hex", false, "Always print the value as hex bytes")
	readCmd.Flags().DurationVar(&readConnectTimeout, "timeout", 60*time.Second, "Connect and discovery timeout")
}

func runRead(cmd *cobra.Command, args []string) error {
	address := args[0]
	uuids, err := device.ValidateUUID(args[1])
	if err != nil {
		return fmt.Errorf("invalid characteristic UUID: %w", err)
	}

	cfg, logger, err := loadSettings(cmd)
	if err != nil {
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

	rec, err := withDevice(ctx, mgr, address, readConnectTimeout, cmd.ErrOrStderr(), logger,
		func(mgr *connectivity.Manager) (device.CharacteristicRecord, error) {
			readCtx, cancel := context.WithTimeout(ctx, readTimeoutPerRequest)
			defer cancel()
			return inspector.ReadCharacteristic(readCtx, mgr, uuids[0])
		})
	if err != nil {
		return err
	}

	if readHex {
		fmt.Fprintln(cmd.OutOrStdout(), hexString(rec.Value))
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), rec.ValueString())
	return nil
}
