package gmux

import (
	"errors"
	"testing"

	"gmuxd/errcode"
)

func TestSwitchTo_Integrated_WriteOrder(t *testing.T) {
	p := newFakePort()
	d := mustNew(t, p, Config{})
	p.reset()

	if err := d.SwitchTo(RoleIntegrated); err != nil {
		t.Fatalf("SwitchTo: %v", err)
	}
	want := []regWrite{
		{portSwitchDDC, 1},
		{portSwitchDisplay, 2},
		{portSwitchExternal, 2},
	}
	assertWrites(t, p.writes, want)
}

func TestSwitchTo_Discrete_WriteOrder(t *testing.T) {
	p := newFakePort()
	d := mustNew(t, p, Config{})
	p.reset()

	if err := d.SwitchTo(RoleDiscrete); err != nil {
		t.Fatalf("SwitchTo: %v", err)
	}
	want := []regWrite{
		{portSwitchDDC, 2},
		{portSwitchDisplay, 3},
		{portSwitchExternal, 3},
	}
	assertWrites(t, p.writes, want)
}

func TestSwitchDDC_OnlyTouchesDDC(t *testing.T) {
	p := newFakePort()
	d := mustNew(t, p, Config{})

	for _, tc := range []struct {
		role Role
		want byte
	}{
		{RoleIntegrated, 1},
		{RoleDiscrete, 2},
	} {
		p.reset()
		if err := d.SwitchDDC(tc.role); err != nil {
			t.Fatalf("SwitchDDC(%v): %v", tc.role, err)
		}
		assertWrites(t, p.writes, []regWrite{{portSwitchDDC, tc.want}})
	}
}

func TestSwitch_InvalidRole(t *testing.T) {
	p := newFakePort()
	d := mustNew(t, p, Config{})
	p.reset()

	err := d.SwitchTo(Role(42))
	if errcode.Of(err) != errcode.InvalidParams {
		t.Fatalf("SwitchTo(42) err = %v", err)
	}
	var e *errcode.E
	if !errors.As(err, &e) || e.Op != "gmux.SwitchTo" {
		t.Fatalf("unexpected error shape: %#v", err)
	}
	if len(p.writes) != 0 {
		t.Fatalf("invalid role wrote registers: %v", p.writes)
	}
}

func TestActiveDisplay_Readback(t *testing.T) {
	p := newFakePort()
	d := mustNew(t, p, Config{})

	p.regs[portGetDisplay] = 2
	if r, err := d.ActiveDisplay(); err != nil || r != RoleIntegrated {
		t.Fatalf("ActiveDisplay = %v, %v", r, err)
	}
	p.regs[portGetDisplay] = 3
	if r, err := d.ActiveDisplay(); err != nil || r != RoleDiscrete {
		t.Fatalf("ActiveDisplay = %v, %v", r, err)
	}
}

func assertWrites(t *testing.T, got, want []regWrite) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("write log = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("write %d = %v, want %v (log %v)", i, got[i], want[i], got)
		}
	}
}
