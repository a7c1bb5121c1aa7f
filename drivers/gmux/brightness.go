package gmux

// Brightness reads the current backlight level, masked to 24 bits.
func (d *Device) Brightness() (uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	v, err := d.io.ReadU32(portBrightness)
	if err != nil {
		return 0, err
	}
	return v & BrightnessMask, nil
}

// SetBrightness writes the backlight level. Values beyond the 24-bit mask
// are clamped.
//
// Older gmux revisions require writing the low bytes first and then zeroing
// the top byte to flush the value. Newer revisions accept a single 32-bit
// write, but the byte sequence works everywhere, so it is used for all
// revisions.
func (d *Device) SetBrightness(v uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if v > BrightnessMask {
		d.log.Debug().Uint32("value", v).Msg("brightness clamped to 24-bit mask")
		v &= BrightnessMask
	}
	if err := d.io.WriteByte(portBrightness, byte(v)); err != nil {
		return err
	}
	if err := d.io.WriteByte(portBrightness+1, byte(v>>8)); err != nil {
		return err
	}
	if err := d.io.WriteByte(portBrightness+2, byte(v>>16)); err != nil {
		return err
	}
	return d.io.WriteByte(portBrightness+3, 0)
}
