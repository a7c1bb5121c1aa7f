package pnp

import (
	"os"
	"path/filepath"
	"testing"

	"gmuxd/errcode"
)

// fakeBus builds a sysfs-shaped tree and points the package at it for the
// duration of the test.
func fakeBus(t *testing.T, devices map[string]map[string]string) {
	t.Helper()
	root := t.TempDir()
	for name, files := range devices {
		dir := filepath.Join(root, name)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
		for file, content := range files {
			if err := os.WriteFile(filepath.Join(dir, file), []byte(content), 0o644); err != nil {
				t.Fatal(err)
			}
		}
	}
	prev := sysfsRoot
	sysfsRoot = root
	t.Cleanup(func() { sysfsRoot = prev })
}

func TestDiscover(t *testing.T) {
	fakeBus(t, map[string]map[string]string{
		"00:01": {
			"id":        "PNP0c02\n",
			"resources": "state = active\nio 0x60-0x6f\n",
		},
		"00:03": {
			"id":        "APP000B\n",
			"resources": "state = active\nio 0x700-0x7ff\nirq 21\n",
		},
	})

	dev, err := Discover(DeviceID)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if dev.Name != "00:03" {
		t.Fatalf("Name = %q, want 00:03", dev.Name)
	}
	if dev.IO.Start != 0x700 || dev.IO.End != 0x7ff {
		t.Fatalf("IO = %#x-%#x, want 0x700-0x7ff", dev.IO.Start, dev.IO.End)
	}
	if dev.IO.Len() != 0x100 {
		t.Fatalf("Len = %#x, want 0x100", dev.IO.Len())
	}
}

func TestDiscover_MultipleIDs(t *testing.T) {
	fakeBus(t, map[string]map[string]string{
		"00:05": {
			"id":        "PNP0c01\nAPP000B\n",
			"resources": "io 0x7c0-0x7ff\n",
		},
	})
	dev, err := Discover(DeviceID)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if dev.IO.Start != 0x7c0 {
		t.Fatalf("Start = %#x, want 0x7c0", dev.IO.Start)
	}
}

func TestDiscover_Absent(t *testing.T) {
	fakeBus(t, map[string]map[string]string{
		"00:01": {"id": "PNP0c02\n", "resources": "io 0x60-0x6f\n"},
	})
	_, err := Discover(DeviceID)
	if errcode.Of(err) != errcode.NotPresent {
		t.Fatalf("code = %v, want NotPresent", errcode.Of(err))
	}
}

func TestDiscover_NoIOResource(t *testing.T) {
	fakeBus(t, map[string]map[string]string{
		"00:03": {"id": "APP000B\n", "resources": "irq 21\n"},
	})
	_, err := Discover(DeviceID)
	if errcode.Of(err) != errcode.ResourceUnavailable {
		t.Fatalf("code = %v, want ResourceUnavailable", errcode.Of(err))
	}
}

func TestDiscover_NoBus(t *testing.T) {
	prev := sysfsRoot
	sysfsRoot = filepath.Join(t.TempDir(), "missing")
	t.Cleanup(func() { sysfsRoot = prev })
	_, err := Discover(DeviceID)
	if errcode.Of(err) != errcode.NotPresent {
		t.Fatalf("code = %v, want NotPresent", errcode.Of(err))
	}
}
