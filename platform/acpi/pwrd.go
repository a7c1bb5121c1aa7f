// Package acpi provides the two platform firmware touchpoints the gmux
// driver needs: invoking the power-ready method during discrete power
// sequencing, and receiving device notifications as they are delivered by
// the platform event daemon.
package acpi

import (
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"gmuxd/errcode"
)

const (
	// DefaultCallPath is the acpi_call debugfs interface: write a method
	// path plus arguments, read back the result buffer.
	DefaultCallPath = "/proc/acpi/call"

	// DefaultPWRDMethod is the fixed path of the power-ready method in the
	// global ACPI namespace.
	DefaultPWRDMethod = `\_SB.PCI0.P0P2.GFX0.PWRD`
)

// PWRDConfig parameterises the firmware caller. Zero values select the
// defaults above.
type PWRDConfig struct {
	CallPath string
	Method   string
	Log      zerolog.Logger
}

// PWRD invokes the firmware power-ready method with one integer argument.
// It implements gmux.FirmwareCaller.
type PWRD struct {
	callPath string
	method   string
	log      zerolog.Logger
}

func NewPWRD(cfg PWRDConfig) *PWRD {
	if cfg.CallPath == "" {
		cfg.CallPath = DefaultCallPath
	}
	if cfg.Method == "" {
		cfg.Method = DefaultPWRDMethod
	}
	return &PWRD{callPath: cfg.CallPath, method: cfg.Method, log: cfg.Log}
}

// CallPowerReady evaluates the method with the given argument. The result
// buffer is read back to complete the call and then discarded; the caller
// only cares whether evaluation succeeded.
func (p *PWRD) CallPowerReady(arg int) error {
	f, err := os.OpenFile(p.callPath, os.O_RDWR, 0)
	if err != nil {
		return &errcode.E{C: errcode.FirmwareCallFailed, Op: "acpi.CallPowerReady", Msg: "open " + p.callPath, Err: err}
	}
	defer f.Close()

	if _, err := fmt.Fprintf(f, "%s %d", p.method, arg); err != nil {
		return &errcode.E{C: errcode.FirmwareCallFailed, Op: "acpi.CallPowerReady", Msg: "method write", Err: err}
	}

	buf := make([]byte, 256)
	n, err := f.ReadAt(buf, 0)
	if err != nil && n == 0 {
		return &errcode.E{C: errcode.FirmwareCallFailed, Op: "acpi.CallPowerReady", Msg: "result read", Err: err}
	}
	result := strings.TrimRight(string(buf[:n]), "\x00\n ")
	if isCallError(result) {
		return &errcode.E{C: errcode.FirmwareCallFailed, Op: "acpi.CallPowerReady", Msg: result}
	}
	p.log.Debug().Int("arg", arg).Str("result", result).Msg("PWRD evaluated")
	return nil
}

// isCallError matches the failure strings acpi_call leaves in its result
// buffer ("Error: AE_NOT_FOUND", "not called", ...).
func isCallError(result string) bool {
	return strings.HasPrefix(result, "Error") ||
		strings.Contains(result, "not called") ||
		strings.Contains(result, "AE_")
}
