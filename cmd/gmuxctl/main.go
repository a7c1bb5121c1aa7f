// gmuxctl drives the gmux display multiplexer from the command line. By
// default it binds the hardware itself; with --socket it talks to a running
// gmuxd instead, which is the only option while the daemon holds the port
// reservation.
package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"gmuxd/drivers/gmux"
	"gmuxd/platform/devport"
	"gmuxd/platform/pci"
	"gmuxd/platform/pnp"
)

func init() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.WarnLevel)
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		log.Error().Msgf("error: %v", err)
		os.Exit(1)
	}
}

func requireRoot() error {
	if os.Geteuid() != 0 {
		return errors.New("this command requires root")
	}
	return nil
}

// socketPath is set by the persistent --socket flag. Non-empty routes every
// command through a running daemon instead of binding the hardware.
var socketPath string

// callDaemon sends one control request over the daemon's socket and prints
// the reply.
func callDaemon(method string, params map[string]any) error {
	c, err := net.Dial("unix", socketPath)
	if err != nil {
		return fmt.Errorf("dial %s: %w", socketPath, err)
	}
	defer c.Close()

	req := map[string]any{"method": method}
	if params != nil {
		req["params"] = params
	}
	raw, err := json.Marshal(req)
	if err != nil {
		return err
	}
	if _, err := c.Write(append(raw, '\n')); err != nil {
		return err
	}

	sc := bufio.NewScanner(c)
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return err
		}
		return errors.New("daemon closed the connection")
	}
	var reply map[string]any
	if err := json.Unmarshal(sc.Bytes(), &reply); err != nil {
		return fmt.Errorf("bad reply %q: %w", sc.Text(), err)
	}
	if reply["ok"] != true {
		if msg, ok := reply["error"].(string); ok {
			return errors.New(msg)
		}
		return fmt.Errorf("request failed: %v", reply)
	}
	for _, k := range []string{"version", "active", "power", "brightness", "value", "max"} {
		if v, ok := reply[k]; ok {
			fmt.Printf("%s: %v\n", k, v)
		}
	}
	return nil
}

// openDevice discovers the controller, reserves its port window and builds
// the driver. The caller must Close both returns.
func openDevice() (*gmux.Device, *devport.Window, error) {
	pnpDev, err := pnp.Discover(pnp.DeviceID)
	if err != nil {
		return nil, nil, err
	}
	window, err := devport.Open(devport.Config{
		Base:   uint16(pnpDev.IO.Start),
		Len:    uint16(pnpDev.IO.Len()),
		MinLen: gmux.MinWindowLen,
		Log:    log.Logger,
	})
	if err != nil {
		return nil, nil, err
	}
	dev, err := gmux.New(window, gmux.Config{Log: log.Logger})
	if err != nil {
		window.Close()
		return nil, nil, err
	}
	return dev, window, nil
}

func withDevice(fn func(*gmux.Device) error) error {
	if err := requireRoot(); err != nil {
		return err
	}
	dev, window, err := openDevice()
	if err != nil {
		return err
	}
	defer window.Close()
	defer dev.Close()
	return fn(dev)
}

func rootCmd() *cobra.Command {
	var debug bool

	cmd := &cobra.Command{
		Use:   "gmuxctl",
		Short: "Inspect and switch the gmux display multiplexer",
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			if debug {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
		},
	}
	cmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	cmd.PersistentFlags().StringVar(&socketPath, "socket", "", "control a running gmuxd over its socket instead of the hardware")

	cmd.AddCommand(statusCmd(), switchCmd(), powerCmd(), brightnessCmd())
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show controller version, routing and backlight",
		RunE: func(_ *cobra.Command, _ []string) error {
			if socketPath != "" {
				return callDaemon("status", nil)
			}
			return withDevice(func(dev *gmux.Device) error {
				fmt.Printf("version:    %s\n", dev.Version())
				if role, err := dev.ActiveDisplay(); err == nil {
					fmt.Printf("display:    %s\n", role)
				}
				if v, err := dev.Brightness(); err == nil {
					fmt.Printf("brightness: %d / %d\n", v, dev.MaxBrightness())
				}
				if gpus, err := pci.ListGPUs(); err == nil {
					for _, g := range gpus {
						fmt.Printf("gpu:        %s %04x:%04x %s (%s)\n",
							g.Address, g.Vendor, g.Device, g.Driver,
							gmux.Classify(g.Vendor, g.Device))
					}
				}
				return nil
			})
		},
	}
}

func switchCmd() *cobra.Command {
	var ddcOnly bool

	cmd := &cobra.Command{
		Use:   "switch igd|dis",
		Short: "Route the panel to the integrated or discrete GPU",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			role, ok := gmux.ParseRole(args[0])
			if !ok {
				return fmt.Errorf("unknown target %q", args[0])
			}
			if socketPath != "" {
				return callDaemon("switch", map[string]any{
					"target":   role.String(),
					"ddc_only": ddcOnly,
				})
			}
			return withDevice(func(dev *gmux.Device) error {
				if ddcOnly {
					return dev.SwitchDDC(role)
				}
				return dev.SwitchTo(role)
			})
		},
	}
	cmd.Flags().BoolVar(&ddcOnly, "ddc-only", false, "move only the DDC lines")
	return cmd
}

func powerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "power on|off",
		Short: "Power the discrete GPU up or down",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			target, ok := gmux.ParsePowerState(args[0])
			if !ok {
				return fmt.Errorf("unknown power state %q", args[0])
			}
			if socketPath != "" {
				return callDaemon("power", map[string]any{"state": target.String()})
			}
			return withDevice(func(dev *gmux.Device) error {
				return dev.SetPower(gmux.RoleDiscrete, target)
			})
		},
	}
}

func brightnessCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "brightness",
		Short: "Read or set the panel backlight",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "get",
			Short: "Print the current backlight level",
			RunE: func(_ *cobra.Command, _ []string) error {
				if socketPath != "" {
					return callDaemon("get_brightness", nil)
				}
				return withDevice(func(dev *gmux.Device) error {
					v, err := dev.Brightness()
					if err != nil {
						return err
					}
					fmt.Printf("%d / %d\n", v, dev.MaxBrightness())
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "set VALUE",
			Short: "Set the backlight level",
			Args:  cobra.ExactArgs(1),
			RunE: func(_ *cobra.Command, args []string) error {
				v, err := strconv.ParseUint(args[0], 0, 32)
				if err != nil {
					return fmt.Errorf("bad value %q: %w", args[0], err)
				}
				if socketPath != "" {
					return callDaemon("brightness", map[string]any{"value": v})
				}
				return withDevice(func(dev *gmux.Device) error {
					return dev.SetBrightness(uint32(v))
				})
			},
		},
	)
	return cmd
}
