package gmux

import "gmuxd/errcode"

// SwitchTo routes the panel, the DDC lines and the external port to the
// given controller. The three writes are order-sensitive: DDC first, then
// display, then external. There is no hardware acknowledgement; the only
// failure mode besides I/O errors is an invalid role, which is a
// programming error.
func (d *Device) SwitchTo(role Role) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.switchTo(role)
}

func (d *Device) switchTo(role Role) error {
	var ddc, display, external byte
	switch role {
	case RoleIntegrated:
		ddc, display, external = ddcIntegrated, displayIntegrated, externalIntegrated
	case RoleDiscrete:
		ddc, display, external = ddcDiscrete, displayDiscrete, externalDiscrete
	default:
		return &errcode.E{C: errcode.InvalidParams, Op: "gmux.SwitchTo", Msg: "invalid role"}
	}
	if err := d.io.WriteByte(portSwitchDDC, ddc); err != nil {
		return err
	}
	if err := d.io.WriteByte(portSwitchDisplay, display); err != nil {
		return err
	}
	if err := d.io.WriteByte(portSwitchExternal, external); err != nil {
		return err
	}
	d.log.Info().Stringer("role", role).Msg("display switched")
	return nil
}

// SwitchDDC moves only the DDC lines, leaving display and external routing
// untouched. Used where the monitor identification channel must follow a
// controller the display has not switched to yet.
func (d *Device) SwitchDDC(role Role) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var ddc byte
	switch role {
	case RoleIntegrated:
		ddc = ddcIntegrated
	case RoleDiscrete:
		ddc = ddcDiscrete
	default:
		return &errcode.E{C: errcode.InvalidParams, Op: "gmux.SwitchDDC", Msg: "invalid role"}
	}
	d.log.Info().Stringer("role", role).Msg("switch ddc")
	return d.io.WriteByte(portSwitchDDC, ddc)
}

// ActiveDisplay reads the routing back from the display readback port.
// Diagnostic only.
func (d *Device) ActiveDisplay() (Role, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	v, err := d.io.ReadByte(portGetDisplay)
	if err != nil {
		return RoleIntegrated, err
	}
	if v == displayIntegrated {
		return RoleIntegrated, nil
	}
	return RoleDiscrete, nil
}
