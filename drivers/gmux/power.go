package gmux

import "gmuxd/errcode"

// seqState tracks where the discrete power sequencer is between request and
// interrupt-confirmed completion. HandleNotify reads it to tell which
// transition a power interrupt confirms.
type seqState uint32

const (
	stateIdle seqState = iota
	stateAwaitingPowerUp
	stateAwaitingPowerDown
)

func (s seqState) String() string {
	switch s {
	case stateAwaitingPowerUp:
		return "power_up"
	case stateAwaitingPowerDown:
		return "power_down"
	default:
		return "idle"
	}
}

// SetPower drives the controller to the target power state. The integrated
// controller is always considered powered, so requests for it succeed
// without touching the hardware.
//
// For the discrete controller the sequencer arms the completion signal,
// coordinates with platform firmware, issues the two-write power sequence
// and blocks for the power-change interrupt, bounded by the configured
// timeout. A missing interrupt is logged and swallowed: firmware revisions
// that never deliver it are common enough that absence of confirmation is
// not a failure.
func (d *Device) SetPower(role Role, target PowerState) error {
	switch role {
	case RoleIntegrated:
		return nil
	case RoleDiscrete:
	default:
		return &errcode.E{C: errcode.InvalidParams, Op: "gmux.SetPower", Msg: "invalid role"}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	// Arm before any write that can raise the interrupt; arming later would
	// lose a wakeup that fires between the write and the wait.
	d.done.arm()

	switch target {
	case PowerOn:
		d.callPowerReady(0)
		// Published before the writes so a notify raised by the sequence
		// itself sees which transition it confirms.
		d.seq.Store(uint32(stateAwaitingPowerUp))
		if err := d.io.WriteByte(portDiscretePower, powerPrepare); err != nil {
			d.seq.Store(uint32(stateIdle))
			return err
		}
		if err := d.io.WriteByte(portDiscretePower, powerRailOn); err != nil {
			d.seq.Store(uint32(stateIdle))
			return err
		}
		d.log.Info().Msg("discrete card powered up")

	case PowerOff:
		if d.fwOrder == OrderPowerDownBeforeWrite {
			d.callPowerReady(1)
		}
		d.seq.Store(uint32(stateAwaitingPowerDown))
		if err := d.io.WriteByte(portDiscretePower, powerPrepare); err != nil {
			d.seq.Store(uint32(stateIdle))
			return err
		}
		if err := d.io.WriteByte(portDiscretePower, powerRailOff); err != nil {
			d.seq.Store(uint32(stateIdle))
			return err
		}
		if d.fwOrder == OrderPowerDownAfterWrite {
			d.callPowerReady(1)
		}
		d.log.Info().Msg("discrete card powered down")

	default:
		return &errcode.E{C: errcode.InvalidParams, Op: "gmux.SetPower", Msg: "invalid power state"}
	}

	if !d.done.wait(d.powerTimeout) {
		d.log.Warn().
			Str("code", string(errcode.CompletionTimeout)).
			Dur("timeout", d.powerTimeout).
			Stringer("target", target).
			Msg("no power-change interrupt, proceeding without confirmation")
	}
	d.seq.Store(uint32(stateIdle))
	return nil
}

// callPowerReady invokes the firmware power-ready method. Failure is logged
// and sequencing continues without firmware coordination.
func (d *Device) callPowerReady(arg int) {
	if d.fw == nil {
		return
	}
	if err := d.fw.CallPowerReady(arg); err != nil {
		d.log.Warn().Err(err).Int("arg", arg).Msg("power-ready call failed")
		return
	}
	d.log.Debug().Int("arg", arg).Msg("power-ready call successful")
}
