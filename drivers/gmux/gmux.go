package gmux

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"gmuxd/errcode"
)

// Role identifies one of the two graphics controllers the mux switches
// between.
type Role uint8

const (
	RoleIntegrated Role = iota
	RoleDiscrete
)

func (r Role) String() string {
	switch r {
	case RoleIntegrated:
		return "integrated"
	case RoleDiscrete:
		return "discrete"
	default:
		return "unknown"
	}
}

// ParseRole maps the wire spelling of a controller role back to the Role.
func ParseRole(s string) (Role, bool) {
	switch s {
	case "integrated", "igd":
		return RoleIntegrated, true
	case "discrete", "dis":
		return RoleDiscrete, true
	default:
		return RoleIntegrated, false
	}
}

// PowerState is the target power state requested of the discrete controller.
type PowerState uint8

const (
	PowerOff PowerState = iota
	PowerOn
)

func (p PowerState) String() string {
	if p == PowerOn {
		return "on"
	}
	return "off"
}

// ParsePowerState maps "on"/"off" to the PowerState.
func ParsePowerState(s string) (PowerState, bool) {
	switch s {
	case "on":
		return PowerOn, true
	case "off":
		return PowerOff, true
	default:
		return PowerOff, false
	}
}

// FirmwareCaller invokes the platform's power-ready method with one integer
// argument (0 before discrete power-up, 1 around discrete power-down). The
// method's return buffer is discarded. A nil caller skips firmware
// coordination entirely.
type FirmwareCaller interface {
	CallPowerReady(arg int) error
}

// FirmwareOrder selects when the power-ready method is invoked relative to
// the discrete-power register writes on power-down. Firmware revisions
// differ on the ordering they expect; power-up always calls before writing.
type FirmwareOrder uint8

const (
	// OrderPowerDownAfterWrite calls PWRD(1) after the power-down writes.
	OrderPowerDownAfterWrite FirmwareOrder = iota
	// OrderPowerDownBeforeWrite calls PWRD(1) before the power-down writes.
	OrderPowerDownBeforeWrite
)

// DefaultPowerTimeout bounds the wait for the power-change interrupt.
const DefaultPowerTimeout = 200 * time.Millisecond

// Config carries the collaborators and tunables for a Device.
type Config struct {
	Log           zerolog.Logger
	Firmware      FirmwareCaller // optional
	FirmwareOrder FirmwareOrder
	PowerTimeout  time.Duration // 0 means DefaultPowerTimeout
}

// Version is the hardware revision triple read at setup. Diagnostic only:
// the switching protocol is identical across revisions.
type Version struct {
	Major, Minor, Release uint8
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Release)
}

// Device is one bound gmux instance. Exactly one Device exists per reserved
// I/O window; it owns all mutable driver state for the binding.
//
// All entry points except HandleNotify serialise on the device mutex.
// HandleNotify runs on the platform event goroutine, touches only the
// interrupt registers and the completion signal, and never blocks.
type Device struct {
	mu sync.Mutex

	io  PortIO
	log zerolog.Logger

	fw           FirmwareCaller
	fwOrder      FirmwareOrder
	powerTimeout time.Duration

	version       Version
	maxBrightness uint32

	// seq is read by HandleNotify, which runs without the mutex.
	seq      atomic.Uint32
	done     *completion
	resumeTo Role
}

// New validates the hardware behind port and builds the Device. It fails
// with errcode.NotPresent when the version ports read the sentinel triple.
// On success interrupts are enabled and the device is ready for switching.
func New(port PortIO, cfg Config) (*Device, error) {
	timeout := cfg.PowerTimeout
	if timeout <= 0 {
		timeout = DefaultPowerTimeout
	}
	d := &Device{
		io:           port,
		log:          cfg.Log,
		fw:           cfg.Firmware,
		fwOrder:      cfg.FirmwareOrder,
		powerTimeout: timeout,
		done:         newCompletion(),
	}

	major, err := port.ReadByte(portVersionMajor)
	if err != nil {
		return nil, &errcode.E{C: errcode.Error, Op: "gmux.New", Msg: "version read", Err: err}
	}
	minor, err := port.ReadByte(portVersionMinor)
	if err != nil {
		return nil, &errcode.E{C: errcode.Error, Op: "gmux.New", Msg: "version read", Err: err}
	}
	release, err := port.ReadByte(portVersionRelease)
	if err != nil {
		return nil, &errcode.E{C: errcode.Error, Op: "gmux.New", Msg: "version read", Err: err}
	}
	if major == VersionSentinel && minor == VersionSentinel && release == VersionSentinel {
		return nil, &errcode.E{C: errcode.NotPresent, Op: "gmux.New", Msg: "version ports read 0xff"}
	}
	d.version = Version{Major: major, Minor: minor, Release: release}
	d.log.Info().Str("version", d.version.String()).Msg("found gmux")

	max, err := port.ReadU32(portMaxBrightness)
	if err != nil {
		return nil, &errcode.E{C: errcode.Error, Op: "gmux.New", Msg: "max brightness read", Err: err}
	}
	if max > BrightnessMask {
		// Old firmware never reports more than 24 bits worth; flag it so the
		// assumption gets revisited if hardware ever does.
		d.log.Warn().Uint32("max", max).Msg("max brightness exceeds 24-bit mask, clamping")
		max = BrightnessMask
	}
	d.maxBrightness = max

	if err := port.WriteByte(portInterruptEn, interruptEnable); err != nil {
		return nil, &errcode.E{C: errcode.Error, Op: "gmux.New", Msg: "interrupt enable", Err: err}
	}
	return d, nil
}

// Version reports the hardware revision triple.
func (d *Device) Version() Version { return d.version }

// MaxBrightness reports the hardware brightness ceiling, clamped to the
// 24-bit mask.
func (d *Device) MaxBrightness() uint32 { return d.maxBrightness }

// Close disables interrupt delivery. The caller releases the I/O window and
// unregisters the notify source afterwards.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.io.WriteByte(portInterruptEn, interruptDisable)
}
