package gmux

// PortIO is the register access layer: reads and writes addressed by offset
// from the device's I/O window base. Implementations perform the offset
// arithmetic and nothing else; there is no retry or recovery logic at this
// level. The real backend lives in platform/devport; tests inject fakes.
type PortIO interface {
	ReadByte(off uint16) (byte, error)
	WriteByte(off uint16, v byte) error
	// ReadU32 reads four consecutive bytes, least significant first.
	ReadU32(off uint16) (uint32, error)
}
