package daemon

import (
	"testing"
	"time"

	"github.com/endlessm/eam/internal/config"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) NewTicker(d time.Duration) (<-chan time.Time, func()) {
	ch := make(chan time.Time)
	return ch, func() {}
}

func TestShouldShutdownIdleAfterTimeout(t *testing.T) {
	cfg, err := config.Load("", nil)
	if err != nil {
		t.Fatal(err)
	}
	clk := &fakeClock{now: time.Unix(0, 0)}
	d := New(nil, cfg, nil, nil, nil, nil)
	d.Clock = clk
	d.lastActivity = clk.now

	if d.shouldShutdownIdle() {
		t.Error("should not be idle immediately")
	}

	clk.now = clk.now.Add(cfg.Snapshot().InactivityTimeout + time.Second)
	if !d.shouldShutdownIdle() {
		t.Error("expected idle shutdown after InactivityTimeout elapses")
	}
}

func TestShouldNotShutdownIdleWhileBusy(t *testing.T) {
	cfg, err := config.Load("", nil)
	if err != nil {
		t.Fatal(err)
	}
	clk := &fakeClock{now: time.Unix(0, 0)}
	d := New(nil, cfg, nil, nil, nil, nil)
	d.Clock = clk
	d.lastActivity = clk.now
	d.busy = 1

	clk.now = clk.now.Add(cfg.Snapshot().InactivityTimeout + time.Hour)
	if d.shouldShutdownIdle() {
		t.Error("must not shut down while a transaction is in flight")
	}
}

func TestResetActivity(t *testing.T) {
	cfg, err := config.Load("", nil)
	if err != nil {
		t.Fatal(err)
	}
	clk := &fakeClock{now: time.Unix(0, 0)}
	d := New(nil, cfg, nil, nil, nil, nil)
	d.Clock = clk
	d.lastActivity = clk.now

	clk.now = clk.now.Add(time.Hour)
	d.resetActivity()
	if !d.lastActivity.Equal(clk.now) {
		t.Errorf("resetActivity did not update lastActivity: %v != %v", d.lastActivity, clk.now)
	}
}
