package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"gmuxd/drivers/gmux"
	"gmuxd/platform/acpi"
	"gmuxd/platform/pnp"
	"gmuxd/services/bridge"
)

// FileConfig is the on-disk daemon configuration. Every field is optional;
// the zero value runs with hardware discovery and the compiled-in defaults.
type FileConfig struct {
	DeviceID string `yaml:"device_id"`

	// IOBase/IOLen override PNP discovery when both are non-zero.
	IOBase uint64 `yaml:"io_base"`
	IOLen  uint64 `yaml:"io_len"`

	// FirmwareOrder is "after_write" (default) or "before_write".
	FirmwareOrder  string `yaml:"firmware_order"`
	PowerTimeoutMS int    `yaml:"power_timeout_ms"`

	AcpidSocket  string `yaml:"acpid_socket"`
	AcpiCallPath string `yaml:"acpi_call_path"`

	// ControlSocket is where external clients reach the daemon; empty
	// selects the default, "none" disables the listener.
	ControlSocket string `yaml:"control_socket"`

	HeartbeatIntervalMS int `yaml:"heartbeat_interval_ms"`

	LogLevel string `yaml:"log_level"`
}

func loadConfig(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		return cfg.withDefaults(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if cfg.FirmwareOrder != "" && cfg.FirmwareOrder != "after_write" && cfg.FirmwareOrder != "before_write" {
		return cfg, fmt.Errorf("firmware_order: unknown value %q", cfg.FirmwareOrder)
	}
	if cfg.PowerTimeoutMS < 0 {
		return cfg, fmt.Errorf("power_timeout_ms: must not be negative")
	}
	return cfg.withDefaults(), nil
}

func (c FileConfig) withDefaults() FileConfig {
	if c.DeviceID == "" {
		c.DeviceID = pnp.DeviceID
	}
	if c.AcpidSocket == "" {
		c.AcpidSocket = acpi.DefaultAcpidSocket
	}
	if c.AcpiCallPath == "" {
		c.AcpiCallPath = acpi.DefaultCallPath
	}
	if c.FirmwareOrder == "" {
		c.FirmwareOrder = "after_write"
	}
	if c.ControlSocket == "" {
		c.ControlSocket = bridge.DefaultSocket
	}
	return c
}

func (c FileConfig) firmwareOrder() gmux.FirmwareOrder {
	if c.FirmwareOrder == "before_write" {
		return gmux.OrderPowerDownBeforeWrite
	}
	return gmux.OrderPowerDownAfterWrite
}

func (c FileConfig) powerTimeout() time.Duration {
	return time.Duration(c.PowerTimeoutMS) * time.Millisecond
}

func (c FileConfig) heartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatIntervalMS) * time.Millisecond
}

// portWindow narrows a discovered or configured window to port-address
// width. x86 port I/O addresses 16 bits, so anything wider is a bogus
// resource, not a window to truncate.
func portWindow(base, length uint64) (uint16, uint16, error) {
	if base > 0xffff || length > 0xffff || base+length > 0x10000 {
		return 0, 0, fmt.Errorf("I/O window %#x+%#x outside the port address space", base, length)
	}
	return uint16(base), uint16(length), nil
}
