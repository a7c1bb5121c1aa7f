package gmux

import (
	"testing"
	"time"
)

func TestHandleNotify_AcknowledgeSequence(t *testing.T) {
	p := newFakePort()
	d := mustNew(t, p, Config{})
	p.regs[portInterruptStat] = statusDisplay
	p.reset()

	d.HandleNotify()

	want := []regWrite{
		{portInterruptEn, interruptDisable},
		{portInterruptStat, statusDisplay}, // write back what was read
		{portInterruptEn, interruptEnable},
	}
	assertWrites(t, p.writes, want)
}

func TestHandleNotify_PowerBitFulfilsCompletion(t *testing.T) {
	p := newFakePort()
	d := mustNew(t, p, Config{})
	p.regs[portInterruptStat] = statusPower | statusHotplug

	d.done.arm()
	d.HandleNotify()

	if !d.done.wait(10 * time.Millisecond) {
		t.Fatal("power status bit did not fulfil the completion")
	}
}

func TestHandleNotify_PowerBitClearsSequencerState(t *testing.T) {
	p := newFakePort()
	d := mustNew(t, p, Config{})
	p.regs[portInterruptStat] = statusPower

	d.done.arm()
	d.seq.Store(uint32(stateAwaitingPowerUp))
	d.HandleNotify()

	if got := seqState(d.seq.Load()); got != stateIdle {
		t.Fatalf("sequencer state after power interrupt = %v, want idle", got)
	}
	if !d.done.wait(10 * time.Millisecond) {
		t.Fatal("power status bit did not fulfil the completion")
	}
}

func TestHandleNotify_NonPowerBitLeavesSequencerState(t *testing.T) {
	p := newFakePort()
	d := mustNew(t, p, Config{})
	p.regs[portInterruptStat] = statusDisplay

	d.seq.Store(uint32(stateAwaitingPowerDown))
	d.HandleNotify()

	if got := seqState(d.seq.Load()); got != stateAwaitingPowerDown {
		t.Fatalf("sequencer state after display interrupt = %v, want power_down", got)
	}
}

func TestHandleNotify_NonPowerBitLeavesCompletionArmed(t *testing.T) {
	p := newFakePort()
	d := mustNew(t, p, Config{})
	p.regs[portInterruptStat] = statusDisplay

	d.done.arm()
	d.HandleNotify()

	if d.done.wait(10 * time.Millisecond) {
		t.Fatal("display interrupt must not fulfil the power completion")
	}
}

// A status register that reads back non-zero after the write-back is a
// diagnostic, not a failure: interrupts still get re-enabled.
func TestHandleNotify_StickyStatusStillReenables(t *testing.T) {
	p := newFakePort()
	d := mustNew(t, p, Config{})
	p.regs[portInterruptStat] = statusHotplug
	p.reset()

	d.HandleNotify()

	en := p.writesTo(portInterruptEn)
	if len(en) != 2 || en[0] != interruptDisable || en[1] != interruptEnable {
		t.Fatalf("interrupt enable writes = %v", en)
	}
}
