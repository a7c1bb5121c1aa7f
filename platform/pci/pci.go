// Package pci enumerates the GPUs attached to the PCI bus so the service
// can classify them into switching roles.
package pci

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gmuxd/errcode"
)

// sysfsRoot is overridable in tests.
var sysfsRoot = "/sys/bus/pci/devices"

// Display controller class prefixes: VGA compatible and 3D controller.
const (
	classVGA = "0x0300"
	class3D  = "0x0302"
)

// GPU is one display controller found on the bus.
type GPU struct {
	Address string
	Vendor  uint16
	Device  uint16
	Driver  string
}

// ListGPUs returns every display controller on the PCI bus. The Driver
// field is empty for devices with no driver bound.
func ListGPUs() ([]GPU, error) {
	entries, err := os.ReadDir(sysfsRoot)
	if err != nil {
		return nil, &errcode.E{C: errcode.ResourceUnavailable, Op: "pci.ListGPUs", Msg: "read " + sysfsRoot, Err: err}
	}
	var gpus []GPU
	for _, e := range entries {
		dir := filepath.Join(sysfsRoot, e.Name())
		class, err := readSysfs(dir, "class")
		if err != nil {
			continue
		}
		if !strings.HasPrefix(class, classVGA) && !strings.HasPrefix(class, class3D) {
			continue
		}
		vendor, err := readHex16(dir, "vendor")
		if err != nil {
			continue
		}
		device, err := readHex16(dir, "device")
		if err != nil {
			continue
		}
		gpus = append(gpus, GPU{
			Address: e.Name(),
			Vendor:  vendor,
			Device:  device,
			Driver:  boundDriver(dir),
		})
	}
	return gpus, nil
}

func readSysfs(dir, file string) (string, error) {
	raw, err := os.ReadFile(filepath.Join(dir, file))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(raw)), nil
}

func readHex16(dir, file string) (uint16, error) {
	s, err := readSysfs(dir, file)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(strings.TrimPrefix(s, "0x"), 16, 16)
	if err != nil {
		return 0, err
	}
	return uint16(v), nil
}

func boundDriver(dir string) string {
	target, err := os.Readlink(filepath.Join(dir, "driver"))
	if err != nil {
		return ""
	}
	return filepath.Base(target)
}
