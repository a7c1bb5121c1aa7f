package gmuxsvc

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"gmuxd/bus"
	"gmuxd/drivers/gmux"
	"gmuxd/platform/pci"
)

// fakePort emulates the controller's register window for a real
// gmux.Device. Offsets follow the hardware layout: version at 0x04, display
// routing at 0x10 with its readback at 0x11, max brightness at 0x70,
// brightness at 0x74. Routing writes show up on the readback port the way
// the hardware reflects them.
type fakePort struct {
	mu   sync.Mutex
	regs map[uint16]byte
}

func newFakePort() *fakePort {
	return &fakePort{regs: map[uint16]byte{
		0x04: 1, 0x05: 9, 0x06: 9,
		0x10: 2, 0x11: 2,
		0x70: 0xff, 0x71: 0xff, 0x72: 0x0f,
	}}
}

func (f *fakePort) ReadByte(off uint16) (byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.regs[off], nil
}

func (f *fakePort) WriteByte(off uint16, v byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.regs[off] = v
	if off == 0x10 {
		f.regs[0x11] = v
	}
	return nil
}

func (f *fakePort) ReadU32(off uint16) (uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var v uint32
	for i := uint16(0); i < 4; i++ {
		v |= uint32(f.regs[off+i]) << (8 * i)
	}
	return v, nil
}

type rig struct {
	port   *fakePort
	dev    *gmux.Device
	client *bus.Connection
	cancel context.CancelFunc
}

func startService(t *testing.T, gpus []pci.GPU) *rig {
	t.Helper()
	port := newFakePort()
	dev, err := gmux.New(port, gmux.Config{Log: zerolog.Nop(), PowerTimeout: 5 * time.Millisecond})
	if err != nil {
		t.Fatalf("gmux.New: %v", err)
	}

	b := bus.NewBus(16)
	svcConn := b.NewConnection("gmuxsvc")
	client := b.NewConnection("test")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		Run(ctx, svcConn, dev, Options{Log: zerolog.Nop(), GPUs: gpus})
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		client.Disconnect()
	})

	// The loop publishes its initial retained state only after its control
	// subscription exists, so seeing the state means requests won't be lost.
	waitRetained(t, client, bus.Topic{"gmux", "state"})
	return &rig{port: port, dev: dev, client: client, cancel: cancel}
}

func (r *rig) call(t *testing.T, method string, payload any) map[string]any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req := r.client.NewMessage(bus.Topic{"gmux", "control", method}, payload, false)
	resp, err := r.client.RequestWait(ctx, req)
	if err != nil {
		t.Fatalf("%s request: %v", method, err)
	}
	m, ok := resp.Payload.(map[string]any)
	if !ok {
		t.Fatalf("%s reply payload = %T", method, resp.Payload)
	}
	return m
}

func waitRetained(t *testing.T, conn *bus.Connection, topic bus.Topic) map[string]any {
	t.Helper()
	sub := conn.Subscribe(topic)
	defer conn.Unsubscribe(sub)
	select {
	case msg := <-sub.Channel():
		m, _ := msg.Payload.(map[string]any)
		return m
	case <-time.After(2 * time.Second):
		t.Fatalf("no retained message on %v", topic)
		return nil
	}
}

func TestRequestRightAfterStart(t *testing.T) {
	r := startService(t, nil)

	// A freshly started service must not lose the very first request: the
	// bus drops messages with no subscriber, so the subscription has to be
	// in place by the time startService returns.
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	req := r.client.NewMessage(bus.Topic{"gmux", "control", "status"}, nil, false)
	resp, err := r.client.RequestWait(ctx, req)
	if err != nil {
		t.Fatalf("request right after start: %v", err)
	}
	m, _ := resp.Payload.(map[string]any)
	if m["ok"] != true {
		t.Fatalf("reply = %v", m)
	}
}

func TestStatus(t *testing.T) {
	r := startService(t, nil)
	got := r.call(t, "status", nil)
	if got["ok"] != true {
		t.Fatalf("reply = %v", got)
	}
	if got["version"] != "1.9.9" {
		t.Fatalf("version = %v", got["version"])
	}
	if got["active"] != "integrated" {
		t.Fatalf("active = %v", got["active"])
	}
}

func TestSwitch(t *testing.T) {
	r := startService(t, nil)
	got := r.call(t, "switch", map[string]any{"target": "discrete"})
	if got["ok"] != true || got["active"] != "discrete" {
		t.Fatalf("reply = %v", got)
	}
	r.port.mu.Lock()
	disp := r.port.regs[0x10]
	r.port.mu.Unlock()
	if disp != 3 {
		t.Fatalf("display routing = %d, want 3", disp)
	}
}

func TestSwitch_DDCOnly(t *testing.T) {
	r := startService(t, nil)
	got := r.call(t, "switch", map[string]any{"target": "discrete", "ddc_only": true})
	if got["ok"] != true {
		t.Fatalf("reply = %v", got)
	}
	r.port.mu.Lock()
	ddc, disp := r.port.regs[0x28], r.port.regs[0x10]
	r.port.mu.Unlock()
	if ddc != 2 {
		t.Fatalf("ddc routing = %d, want 2", ddc)
	}
	if disp != 2 {
		t.Fatalf("display routing changed to %d", disp)
	}
}

func TestSwitch_BadTarget(t *testing.T) {
	r := startService(t, nil)
	got := r.call(t, "switch", map[string]any{"target": "hybrid"})
	if got["ok"] != false || got["code"] != "invalid_params" {
		t.Fatalf("reply = %v", got)
	}
}

func TestBrightnessRoundTrip(t *testing.T) {
	r := startService(t, nil)
	set := r.call(t, "brightness", map[string]any{"value": 0x1234})
	if set["ok"] != true {
		t.Fatalf("set reply = %v", set)
	}
	got := r.call(t, "get_brightness", nil)
	if got["ok"] != true {
		t.Fatalf("get reply = %v", got)
	}
	// Payloads cross the bus as native Go values here, no JSON re-encode.
	if v, ok := got["value"].(uint32); !ok || v != 0x1234 {
		t.Fatalf("value = %v", got["value"])
	}
}

func TestPower(t *testing.T) {
	r := startService(t, nil)
	got := r.call(t, "power", map[string]any{"state": "off"})
	if got["ok"] != true || got["power"] != "off" {
		t.Fatalf("reply = %v", got)
	}
	status := r.call(t, "status", nil)
	if status["power"] != "off" {
		t.Fatalf("status power = %v", status["power"])
	}
}

func TestNonStringMethodToken(t *testing.T) {
	r := startService(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req := r.client.NewMessage(bus.Topic{"gmux", "control", 7}, nil, false)
	resp, err := r.client.RequestWait(ctx, req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	m, _ := resp.Payload.(map[string]any)
	if m["ok"] != false || m["code"] != "invalid_topic" {
		t.Fatalf("reply = %v", m)
	}
}

func TestUnknownMethod(t *testing.T) {
	r := startService(t, nil)
	got := r.call(t, "defenestrate", nil)
	if got["ok"] != false || got["code"] != "unsupported" {
		t.Fatalf("reply = %v", got)
	}
}

func TestRetainedState(t *testing.T) {
	r := startService(t, nil)
	// An initial retained state exists before any control traffic.
	st := waitRetained(t, r.client, bus.Topic{"gmux", "state"})
	if st["active"] != "integrated" {
		t.Fatalf("retained active = %v", st["active"])
	}

	r.call(t, "switch", map[string]any{"target": "discrete"})
	deadline := time.After(2 * time.Second)
	for {
		st = waitRetained(t, r.client, bus.Topic{"gmux", "state"})
		if st["active"] == "discrete" {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("retained state never showed discrete: %v", st)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestRetainedGPUs(t *testing.T) {
	r := startService(t, []pci.GPU{
		{Address: "0000:00:02.0", Vendor: 0x8086, Device: 0x0166, Driver: "i915"},
		{Address: "0000:01:00.0", Vendor: 0x10de, Device: 0x0fd5, Driver: "nouveau"},
	})
	sub := r.client.Subscribe(bus.Topic{"gmux", "gpus"})
	defer r.client.Unsubscribe(sub)
	select {
	case msg := <-sub.Channel():
		list, ok := msg.Payload.([]map[string]any)
		if !ok || len(list) != 2 {
			t.Fatalf("payload = %#v", msg.Payload)
		}
		if list[0]["role"] != "integrated" || list[1]["role"] != "discrete" {
			t.Fatalf("roles = %v / %v", list[0]["role"], list[1]["role"])
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no retained gpu list")
	}
}

func TestNotifyEchoRefreshesState(t *testing.T) {
	r := startService(t, nil)
	waitRetained(t, r.client, bus.Topic{"gmux", "state"})

	// Flip the readback register behind the service's back, then publish the
	// echo the daemon emits after a hardware notification.
	r.port.mu.Lock()
	r.port.regs[0x11] = 3
	r.port.mu.Unlock()
	r.client.Publish(r.client.NewMessage(bus.Topic{"gmux", "event", "notify"}, nil, false))

	deadline := time.After(2 * time.Second)
	for {
		st := waitRetained(t, r.client, bus.Topic{"gmux", "state"})
		if st["active"] == "discrete" {
			return
		}
		select {
		case <-deadline:
			t.Fatal("state never refreshed after notify echo")
		case <-time.After(5 * time.Millisecond):
		}
	}
}
