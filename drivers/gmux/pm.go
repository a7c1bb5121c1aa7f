package gmux

// Suspend snapshots the current display routing so Resume can restore it.
// Only routing is saved: discrete power after wake is the responsibility of
// whatever policy drives SetPower.
func (d *Device) Suspend() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	v, err := d.io.ReadByte(portSwitchDisplay)
	if err != nil {
		return err
	}
	if v == displayIntegrated {
		d.resumeTo = RoleIntegrated
	} else {
		d.resumeTo = RoleDiscrete
	}
	d.log.Debug().Stringer("resume_to", d.resumeTo).Msg("routing saved for resume")
	return nil
}

// Resume reissues the display switch recorded at suspend time.
func (d *Device) Resume() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.switchTo(d.resumeTo)
}
