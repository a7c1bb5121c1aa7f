// Package pnp locates the gmux controller on the PNP bus and extracts its
// reserved I/O port window from the resource list.
package pnp

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gmuxd/errcode"
)

// DeviceID is the PNP hardware id of the gmux controller.
const DeviceID = "APP000B"

// sysfsRoot is overridable in tests.
var sysfsRoot = "/sys/bus/pnp/devices"

// Resource is one I/O port range reserved for a device.
type Resource struct {
	Start uint64
	End   uint64
}

func (r Resource) Len() uint64 { return r.End - r.Start + 1 }

// Device is a discovered PNP device and its first I/O resource.
type Device struct {
	Name string
	IO   Resource
}

// Discover scans the PNP bus for a device matching id and returns its
// sysfs name and I/O window. errcode.NotPresent means no such device
// exists on this machine.
func Discover(id string) (Device, error) {
	entries, err := os.ReadDir(sysfsRoot)
	if err != nil {
		return Device{}, &errcode.E{C: errcode.NotPresent, Op: "pnp.Discover", Msg: "read " + sysfsRoot, Err: err}
	}
	for _, e := range entries {
		dir := filepath.Join(sysfsRoot, e.Name())
		if !hasID(dir, id) {
			continue
		}
		res, err := ioResource(dir)
		if err != nil {
			return Device{}, err
		}
		return Device{Name: e.Name(), IO: res}, nil
	}
	return Device{}, &errcode.E{C: errcode.NotPresent, Op: "pnp.Discover", Msg: fmt.Sprintf("no %s device on the pnp bus", id)}
}

func hasID(dir, id string) bool {
	raw, err := os.ReadFile(filepath.Join(dir, "id"))
	if err != nil {
		return false
	}
	for _, line := range strings.Split(string(raw), "\n") {
		if strings.TrimSpace(line) == id {
			return true
		}
	}
	return false
}

// ioResource parses lines of the form "io 0x700-0x7ff" from the device's
// resources file and returns the first one.
func ioResource(dir string) (Resource, error) {
	raw, err := os.ReadFile(filepath.Join(dir, "resources"))
	if err != nil {
		return Resource{}, &errcode.E{C: errcode.ResourceUnavailable, Op: "pnp.Discover", Msg: "read resources", Err: err}
	}
	for _, line := range strings.Split(string(raw), "\n") {
		fields := strings.Fields(line)
		if len(fields) != 2 || fields[0] != "io" {
			continue
		}
		bounds := strings.SplitN(fields[1], "-", 2)
		if len(bounds) != 2 {
			continue
		}
		start, err1 := strconv.ParseUint(strings.TrimPrefix(bounds[0], "0x"), 16, 64)
		end, err2 := strconv.ParseUint(strings.TrimPrefix(bounds[1], "0x"), 16, 64)
		if err1 != nil || err2 != nil || end < start {
			continue
		}
		return Resource{Start: start, End: end}, nil
	}
	return Resource{}, &errcode.E{C: errcode.ResourceUnavailable, Op: "pnp.Discover", Msg: "device has no io resource"}
}
