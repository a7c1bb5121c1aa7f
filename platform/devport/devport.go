// Package devport implements the register access layer over the Linux
// /dev/port character device. Each byte of /dev/port maps to one x86 I/O
// port, so a pread/pwrite at base+offset performs the inb/outb the hardware
// protocol asks for.
//
// The window is reserved for the lifetime of the binding with an exclusive
// flock on a per-base lock file; a second binding attempt fails instead of
// racing the first.
package devport

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"gmuxd/errcode"
)

const (
	DefaultPath    = "/dev/port"
	DefaultLockDir = "/run/gmuxd"
)

// Config describes the window to reserve.
type Config struct {
	Path    string // port device, DefaultPath if empty
	LockDir string // lock file directory, DefaultLockDir if empty
	Base    uint16 // first port of the window
	Len     uint16 // window length in ports
	MinLen  uint16 // smallest acceptable window
	Log     zerolog.Logger
}

// Window is an exclusively reserved span of I/O ports.
type Window struct {
	f      *os.File
	lock   *os.File
	base   int64
	length uint16
	log    zerolog.Logger
}

// Open validates, reserves and opens the window. A window shorter than
// cfg.MinLen or one whose lock is already held fails with
// errcode.ResourceUnavailable.
func Open(cfg Config) (*Window, error) {
	path := cfg.Path
	if path == "" {
		path = DefaultPath
	}
	lockDir := cfg.LockDir
	if lockDir == "" {
		lockDir = DefaultLockDir
	}
	if cfg.Len < cfg.MinLen {
		return nil, &errcode.E{
			C:   errcode.ResourceUnavailable,
			Op:  "devport.Open",
			Msg: fmt.Sprintf("I/O window too small (%#x < %#x)", cfg.Len, cfg.MinLen),
		}
	}

	if err := os.MkdirAll(lockDir, 0o755); err != nil {
		return nil, &errcode.E{C: errcode.ResourceUnavailable, Op: "devport.Open", Msg: "lock dir", Err: err}
	}
	lockPath := filepath.Join(lockDir, fmt.Sprintf("ioport-%#04x.lock", cfg.Base))
	lock, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, &errcode.E{C: errcode.ResourceUnavailable, Op: "devport.Open", Msg: "lock file", Err: err}
	}
	if err := unix.Flock(int(lock.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		lock.Close()
		return nil, &errcode.E{
			C:   errcode.ResourceUnavailable,
			Op:  "devport.Open",
			Msg: fmt.Sprintf("I/O window %#x already reserved", cfg.Base),
			Err: err,
		}
	}

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		unix.Flock(int(lock.Fd()), unix.LOCK_UN)
		lock.Close()
		return nil, &errcode.E{C: errcode.ResourceUnavailable, Op: "devport.Open", Msg: "open " + path, Err: err}
	}

	cfg.Log.Debug().
		Uint16("base", cfg.Base).
		Uint16("len", cfg.Len).
		Str("path", path).
		Msg("I/O window reserved")

	return &Window{
		f:      f,
		lock:   lock,
		base:   int64(cfg.Base),
		length: cfg.Len,
		log:    cfg.Log,
	}, nil
}

func (w *Window) check(off uint16, n uint16) error {
	if off+n > w.length || off+n < off {
		return &errcode.E{
			C:   errcode.InvalidParams,
			Op:  "devport",
			Msg: fmt.Sprintf("offset %#x+%d outside window of %#x", off, n, w.length),
		}
	}
	return nil
}

func (w *Window) ReadByte(off uint16) (byte, error) {
	if err := w.check(off, 1); err != nil {
		return 0, err
	}
	var buf [1]byte
	if _, err := unix.Pread(int(w.f.Fd()), buf[:], w.base+int64(off)); err != nil {
		return 0, err
	}
	return buf[0], nil
}

func (w *Window) WriteByte(off uint16, v byte) error {
	if err := w.check(off, 1); err != nil {
		return err
	}
	buf := [1]byte{v}
	_, err := unix.Pwrite(int(w.f.Fd()), buf[:], w.base+int64(off))
	return err
}

// ReadU32 reads four consecutive ports, least significant first. /dev/port
// performs byte-granular port reads, which is what the brightness registers
// expect.
func (w *Window) ReadU32(off uint16) (uint32, error) {
	if err := w.check(off, 4); err != nil {
		return 0, err
	}
	var buf [4]byte
	if _, err := unix.Pread(int(w.f.Fd()), buf[:], w.base+int64(off)); err != nil {
		return 0, err
	}
	return uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24, nil
}

// Close releases the window and its reservation.
func (w *Window) Close() error {
	err := w.f.Close()
	unix.Flock(int(w.lock.Fd()), unix.LOCK_UN)
	if cerr := w.lock.Close(); err == nil {
		err = cerr
	}
	return err
}
