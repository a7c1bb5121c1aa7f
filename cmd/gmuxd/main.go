// gmuxd binds the gmux display multiplexer and serves switching, power and
// backlight controls over the in-process message bus.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"gmuxd/bus"
	"gmuxd/drivers/gmux"
	"gmuxd/platform/acpi"
	"gmuxd/platform/devport"
	"gmuxd/platform/pci"
	"gmuxd/platform/pnp"
	"gmuxd/services/bridge"
	"gmuxd/services/gmuxsvc"
	"gmuxd/services/heartbeat"
)

func init() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		log.Error().Msgf("error: %v", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "gmuxd",
		Short: "Display multiplexer daemon for dual-GPU MacBook Pros",
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			if debug {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
		},
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if cfg.LogLevel != "" && !debug {
				lvl, err := zerolog.ParseLevel(cfg.LogLevel)
				if err != nil {
					return err
				}
				zerolog.SetGlobalLevel(lvl)
			}
			return run(cfg)
		},
	}

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file")
	cmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	return cmd
}

func run(cfg FileConfig) error {
	base, length := cfg.IOBase, cfg.IOLen
	if base == 0 || length == 0 {
		dev, err := pnp.Discover(cfg.DeviceID)
		if err != nil {
			return err
		}
		base, length = dev.IO.Start, dev.IO.Len()
		log.Info().Str("device", dev.Name).Uint64("base", base).Uint64("len", length).
			Msg("found controller on the pnp bus")
	}

	wbase, wlen, err := portWindow(base, length)
	if err != nil {
		return err
	}
	window, err := devport.Open(devport.Config{
		Base:   wbase,
		Len:    wlen,
		MinLen: gmux.MinWindowLen,
		Log:    log.Logger,
	})
	if err != nil {
		return err
	}
	defer window.Close()

	pwrd := acpi.NewPWRD(acpi.PWRDConfig{CallPath: cfg.AcpiCallPath, Log: log.Logger})
	dev, err := gmux.New(window, gmux.Config{
		Log:           log.Logger,
		Firmware:      pwrd,
		FirmwareOrder: cfg.firmwareOrder(),
		PowerTimeout:  cfg.powerTimeout(),
	})
	if err != nil {
		return err
	}
	defer dev.Close()

	gpus, err := pci.ListGPUs()
	if err != nil {
		log.Warn().Err(err).Msg("gpu enumeration failed, continuing without it")
	}

	b := bus.NewBus(16)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	daemonConn := b.NewConnection("gmuxd")
	defer daemonConn.Disconnect()

	svcDone := make(chan struct{})
	go func() {
		defer close(svcDone)
		gmuxsvc.Run(ctx, b.NewConnection("gmuxsvc"), dev, gmuxsvc.Options{
			Log:  log.Logger,
			GPUs: gpus,
		})
	}()

	// The bus drops requests with no subscriber, so external clients must
	// not be let in before the service's control subscription exists. The
	// initial retained state is published after it.
	ready := daemonConn.Subscribe(bus.Topic{"gmux", "state"})
	select {
	case <-ready.Channel():
	case <-time.After(5 * time.Second):
		log.Warn().Msg("service did not signal ready, starting the control surface anyway")
	}
	daemonConn.Unsubscribe(ready)

	if cfg.ControlSocket != "none" {
		go func() {
			err := bridge.Run(ctx, b.NewConnection("bridge"), bridge.Config{
				Socket: cfg.ControlSocket,
				Log:    log.Logger,
			})
			if err != nil {
				log.Warn().Err(err).Msg("control socket unavailable")
			}
		}()
	}

	hb := &heartbeat.Service{Log: log.Logger, Interval: cfg.heartbeatInterval()}
	hb.Start(ctx, b.NewConnection("heartbeat"))

	// Hardware notifications are acknowledged on the delivery goroutine; the
	// service only hears an echo so it can refresh its retained state.
	notify := acpi.NewNotifySource(acpi.NotifyConfig{
		Socket: cfg.AcpidSocket,
		Device: cfg.DeviceID,
		Log:    log.Logger,
	})
	if err := notify.Start(ctx, func() {
		dev.HandleNotify()
		daemonConn.Publish(daemonConn.NewMessage(bus.Topic{"gmux", "event", "notify"}, nil, false))
	}); err != nil {
		log.Warn().Err(err).Msg("notifications unavailable, power waits will always time out")
	} else {
		defer notify.Stop()
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1, syscall.SIGUSR2)
	for sig := range sigc {
		switch sig {
		case syscall.SIGUSR1:
			// Pre-sleep hook: record the routing so resume can restore it.
			daemonConn.Publish(daemonConn.NewMessage(bus.Topic{"gmux", "control", "suspend"}, nil, false))
		case syscall.SIGUSR2:
			daemonConn.Publish(daemonConn.NewMessage(bus.Topic{"gmux", "control", "resume"}, nil, false))
		default:
			log.Info().Str("signal", sig.String()).Msg("shutting down")
			cancel()
			<-svcDone
			return nil
		}
	}
	return nil
}
