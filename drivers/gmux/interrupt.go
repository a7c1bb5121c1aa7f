package gmux

import "gmuxd/errcode"

// HandleNotify is the interrupt bridge. The platform event source invokes it
// once per device notification, on its own goroutine, at arbitrary times
// relative to the synchronous entry points.
//
// It deliberately does not take the device mutex: a SetPower caller holds
// that mutex while blocked on the completion signal, and this handler is
// what unblocks it. The registers it touches (interrupt enable and status)
// are disjoint from every multi-write sequence the synchronous side issues.
func (d *Device) HandleNotify() {
	status, err := d.io.ReadByte(portInterruptStat)
	if err != nil {
		d.log.Error().Err(err).Msg("interrupt status read failed")
		return
	}
	if err := d.io.WriteByte(portInterruptEn, interruptDisable); err != nil {
		d.log.Error().Err(err).Msg("interrupt disable failed")
		return
	}
	d.log.Debug().Uint8("status", status).Msg("notify received")

	d.activateStatus()

	if err := d.io.WriteByte(portInterruptEn, interruptEnable); err != nil {
		d.log.Error().Err(err).Msg("interrupt re-enable failed")
	}

	if status&statusPower != 0 {
		if s := seqState(d.seq.Swap(uint32(stateIdle))); s != stateIdle {
			d.log.Debug().Stringer("transition", s).Msg("power change confirmed")
		}
		d.done.complete()
	}
}

// activateStatus re-arms the status register by writing the current value
// back. A zero re-read means the hardware accepted the acknowledgement; a
// non-zero one is logged but not treated as a failure.
func (d *Device) activateStatus() {
	old, err := d.io.ReadByte(portInterruptStat)
	if err != nil {
		d.log.Error().Err(err).Msg("interrupt status re-read failed")
		return
	}
	if err := d.io.WriteByte(portInterruptStat, old); err != nil {
		d.log.Error().Err(err).Msg("interrupt status write-back failed")
		return
	}
	fresh, err := d.io.ReadByte(portInterruptStat)
	if err != nil {
		d.log.Error().Err(err).Msg("interrupt status re-read failed")
		return
	}
	if fresh != 0 {
		d.log.Warn().
			Str("code", string(errcode.AckMismatch)).
			Uint8("old", old).
			Uint8("new", fresh).
			Msg("status did not clear after write-back")
	}
}
