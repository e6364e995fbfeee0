package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/blescan/internal/device"
	"github.com/srg/blescan/pkg/connectivity"
)

// watchCmd represents the watch command
var watchCmd = &cobra.Command{
	Use:   "watch <device-address>",
	Short: "Print characteristic notifications",
	Long: `Connects to a BLE device, subscribes to every notifiable characteristic
and prints each value change until Ctrl+C, --duration or disconnection.`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

var (
	watchUUIDs    []string
	watchDuration time.Duration
	watchTimeout  time.Duration
)

func init() {
	watchCmd.Flags().StringSliceVarP(&watchUUIDs, "uuid", "u", nil, "Only print these characteristic UUIDs")
	watchCmd.Flags().DurationVarP(&watchDuration, "duration", "d", 0, "Stop after this duration (0 until Ctrl+C)")
	watchCmd.Flags().DurationVar(&watchTimeout, "timeout", 60*time.Second, "Connect and discovery timeout")
}

func runWatch(cmd *cobra.Command, args []string) error {
	address := args[0]

	filter := make(map[string]struct{})
	if len(watchUUIDs) > 0 {
		uuids, err := device.ValidateUUID(watchUUIDs...)
		if err != nil {
			return fmt.Errorf("invalid characteristic UUID: %w", err)
		}
		for _, u := range uuids {
			filter[u] = struct{}{}
		}
	}

	cfg, logger, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	cfg.AutoSubscribe = true

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	mgr, err := newManager(cfg, nil, logger)
	if err != nil {
		return err
	}
	defer mgr.Close()

	out := cmd.OutOrStdout()
	pal := newPalette(out)
	lost := make(chan struct{}, 1)

	// Registered before connecting so that no notification of the session is missed.
	mgr.RegisterObserver(device.ObserverFunc(func(ev device.Event) {
		switch ev.Type {
		case device.CharacteristicChanged:
			ch := ev.Characteristic
			if ch == nil {
				return
			}
			if _, ok := filter[ch.UUID]; len(filter) > 0 && !ok {
				return
			}
			label := ch.UUID
			if name := ch.KnownName(); name != "" {
				label = fmt.Sprintf("%s (%s)", ch.UUID, name)
			}
			fmt.Fprintf(out, "%s: %s\n", label, pal.good.Sprint(ch.ValueString()))
		case device.DeviceDisconnected, device.ConnectionFailed:
			select {
			case lost <- struct{}{}:
			default:
			}
		}
	}))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	_, err = withDevice(ctx, mgr, address, watchTimeout, cmd.ErrOrStderr(), logger,
		func(mgr *connectivity.Manager) (struct{}, error) {
			watchCtx := ctx
			if watchDuration > 0 {
				var cancel context.CancelFunc
				watchCtx, cancel = context.WithTimeout(ctx, watchDuration)
				defer cancel()
			}

			if isTerminal(cmd.ErrOrStderr()) {
				fmt.Fprintf(cmd.ErrOrStderr(), "Watching %s, press Ctrl+C to stop\n", address)
			}

			select {
			case <-watchCtx.Done():
				return struct{}{}, nil
			case <-lost:
				return struct{}{}, fmt.Errorf("%w: %s", ErrConnectionLost, address)
			}
		})
	return err
}
