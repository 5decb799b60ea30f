package gate

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hvnguyen/smartpark/internal/anpr"
	"github.com/hvnguyen/smartpark/internal/camera"
	"github.com/hvnguyen/smartpark/internal/config"
	"github.com/hvnguyen/smartpark/internal/lot"
	"github.com/hvnguyen/smartpark/internal/master"
	"github.com/hvnguyen/smartpark/internal/metrics"
)

// Timing holds the lane choreography delays. The zero value is
// replaced by the site defaults; tests shrink everything to
// milliseconds.
type Timing struct {
	Tick         time.Duration // trigger drain interval
	Settle       time.Duration // pause after the arrival beep
	GateDelay    time.Duration // barrier open window before commit
	DisplayReset time.Duration // idle screen restore delay
}

func DefaultTiming() Timing {
	return Timing{
		Tick:         25 * time.Millisecond,
		Settle:       50 * time.Millisecond,
		GateDelay:    3 * time.Second,
		DisplayReset: 8 * time.Second,
	}
}

// Deps wires the controller to its collaborators.
type Deps struct {
	Panel      *master.Panel
	Table      *master.Turntable
	Store      *lot.Store
	CamIn      camera.Source
	CamOut     camera.Source
	Recognizer anpr.Recognizer
	Billing    func() config.BillingConfig
	Metrics    *metrics.Set
	Timing     Timing
}

// Controller fans triggers into the entry and exit procedures. Each
// direction runs at most one worker at a time; a trigger landing while
// its direction is busy is counted and dropped, never queued.
type Controller struct {
	d   Deps
	now func() time.Time

	entryBusy atomic.Bool
	exitBusy  atomic.Bool

	resetMu    sync.Mutex
	resetTimer *time.Timer
}

func New(d Deps) *Controller {
	if d.Timing == (Timing{}) {
		d.Timing = DefaultTiming()
	}
	if d.Metrics == nil {
		d.Metrics = metrics.New()
	}
	return &Controller{d: d, now: time.Now}
}

// SetClock replaces the time source used for ledger timestamps.
func (c *Controller) SetClock(now func() time.Time) { c.now = now }

// Run drains the listener's trigger channels on a short ticker until
// ctx is cancelled. The loop itself never blocks and never sleeps for
// choreography; all waiting happens inside the spawned workers.
func (c *Controller) Run(ctx context.Context, l *master.Listener) {
	c.showIdle()

	ticker := time.NewTicker(c.d.Timing.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		for drained := false; !drained; {
			select {
			case uid := <-l.RFIDIn():
				c.TriggerEntry(ctx, Trigger{Kind: KindRFID, Credential: uid, At: c.now()})
			case uid := <-l.RFIDOut():
				c.TriggerExit(ctx, Trigger{Kind: KindRFID, Credential: uid, At: c.now()})
			case <-l.TouchIn():
				c.TriggerEntry(ctx, Trigger{Kind: KindTouch, At: c.now()})
			case <-l.TouchOut():
				c.TriggerExit(ctx, Trigger{Kind: KindTouch, At: c.now()})
			default:
				drained = true
			}
		}
	}
}

// TriggerEntry starts an entry worker unless one is already running.
// Reports whether the trigger was accepted.
func (c *Controller) TriggerEntry(ctx context.Context, t Trigger) bool {
	if !c.entryBusy.CompareAndSwap(false, true) {
		c.d.Metrics.BusyDrops.WithLabelValues("in").Inc()
		log.Printf("[gate] entry busy, dropping %s trigger", t.Kind)
		return false
	}
	if t.At.IsZero() {
		t.At = c.now()
	}
	c.d.Metrics.Triggers.WithLabelValues("in", t.Kind.String()).Inc()
	go c.runEntry(ctx, t)
	return true
}

// TriggerExit starts an exit worker unless one is already running.
func (c *Controller) TriggerExit(ctx context.Context, t Trigger) bool {
	if !c.exitBusy.CompareAndSwap(false, true) {
		c.d.Metrics.BusyDrops.WithLabelValues("out").Inc()
		log.Printf("[gate] exit busy, dropping %s trigger", t.Kind)
		return false
	}
	if t.At.IsZero() {
		t.At = c.now()
	}
	c.d.Metrics.Triggers.WithLabelValues("out", t.Kind.String()).Inc()
	go c.runExit(ctx, t)
	return true
}

func (c *Controller) showIdle() {
	c.d.Panel.ShowEntry("SMART PARKING")
	c.d.Panel.ShowExit("SMART PARKING")
}

// scheduleIdle restores the idle screen after the display-reset delay.
// A later event rearms the timer so the newest message wins.
func (c *Controller) scheduleIdle() {
	c.resetMu.Lock()
	defer c.resetMu.Unlock()
	if c.resetTimer != nil {
		c.resetTimer.Stop()
	}
	c.resetTimer = time.AfterFunc(c.d.Timing.DisplayReset, c.showIdle)
}

// recognize captures one frame and runs one recognition attempt.
// Returns the normalized plate, or "" when no usable plate came back.
func (c *Controller) recognize(ctx context.Context, src camera.Source) string {
	frame, err := src.Capture()
	if err != nil {
		log.Printf("[gate] capture from %s failed: %v", src.Name(), err)
		return ""
	}
	raw, err := c.d.Recognizer.Recognize(ctx, frame)
	if err != nil {
		log.Printf("[gate] recognition failed: %v", err)
		return ""
	}
	plate := anpr.Normalize(raw)
	if !anpr.Valid(plate) {
		log.Printf("[gate] recognizer output %q is not a plate", raw)
		return ""
	}
	return plate
}

func (c *Controller) updateOccupied() {
	n := 0
	for _, sp := range c.d.Store.Spots() {
		if sp.Status == "occupied" {
			n++
		}
	}
	c.d.Metrics.OccupiedBays.Set(float64(n))
}
