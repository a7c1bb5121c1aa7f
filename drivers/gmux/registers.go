// Package gmux drives the Apple gmux display multiplexer found on dual-GPU
// MacBook Pro models. The chip routes the panel, the DDC lines and the
// external port between the integrated and the discrete graphics controller,
// and gates power to the discrete controller.
//
// Protocol notes (derived from the hardware behaviour):
// • Registers sit in a fixed I/O port window of at least 0x78 bytes.
// • A version triple of 0xFF,0xFF,0xFF means the window decodes nothing;
//   some machines expose the device node without carrying the chip.
// • Display/DDC/external routing writes are fire-and-forget; there is no
//   hardware acknowledgement for them.
// • Discrete power transitions complete asynchronously: the chip raises an
//   interrupt with the power bit set in the status register once the rail
//   has settled. Not every firmware revision delivers it.
// • Brightness is a 24-bit value committed by three byte writes followed by
//   a zero write to the fourth byte. Newer revisions also accept a single
//   32-bit write, but the byte protocol works on all of them.
package gmux

// Port offsets from the I/O window base. Several are unused so far but
// documented here anyhow.
const (
	portVersionMajor   = 0x04
	portVersionMinor   = 0x05
	portVersionRelease = 0x06
	portSwitchDisplay  = 0x10
	portGetDisplay     = 0x11
	portInterruptEn    = 0x14
	portInterruptStat  = 0x16
	portSwitchDDC      = 0x28
	portSwitchExternal = 0x40
	portGetExternal    = 0x41
	portDiscretePower  = 0x50
	portMaxBrightness  = 0x70
	portBrightness     = 0x74
)

// MinWindowLen is the smallest I/O window that covers every register.
const MinWindowLen = portBrightness + 4

// Interrupt enable register values.
const (
	interruptEnable  = 0xff
	interruptDisable = 0x00
)

// Interrupt status bits.
const (
	statusDisplay = 1 << 0
	statusPower   = 1 << 2
	statusHotplug = 1 << 3
)

// BrightnessMask bounds the 24-bit brightness value; the hardware maximum is
// clamped to it as well.
const BrightnessMask = 0x00ffffff

// Routing codes written to the switch registers.
const (
	ddcIntegrated      = 1
	ddcDiscrete        = 2
	displayIntegrated  = 2
	displayDiscrete    = 3
	externalIntegrated = 2
	externalDiscrete   = 3
)

// Discrete power register values. A transition always starts by writing 1,
// then the target value (3 powers up, 0 powers down).
const (
	powerPrepare = 1
	powerRailOn  = 3
	powerRailOff = 0
)

// VersionSentinel is the byte read from every version port when the device
// node exists but no gmux decodes the window.
const VersionSentinel = 0xff
