package gate

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/hvnguyen/smartpark/internal/lot"
	"github.com/hvnguyen/smartpark/internal/master"
)

// runEntry is the entry lane procedure. The ledger is written exactly
// once, after the move and gate cycle both succeeded; every failure
// before that point only talks to the operator display.
func (c *Controller) runEntry(ctx context.Context, t Trigger) {
	defer c.entryBusy.Store(false)

	c.d.Panel.ShowEntry("XE VAO")
	c.d.Panel.ShowEntry("SCAN PLATE")

	plate := c.recognize(ctx, c.d.CamIn)
	if plate == "" {
		c.d.Metrics.OCRFailures.Inc()
		c.d.Panel.ShowEntry("OCR FAIL")
		c.scheduleIdle()
		return
	}

	bay, res, err := c.d.Store.SelectEntryBay(plate)
	if err != nil {
		switch {
		case errors.Is(err, lot.ErrPlateInside):
			c.d.Panel.ShowEntry("DA CO TRONG BAI")
		case errors.Is(err, lot.ErrLotFull):
			c.d.Panel.ShowEntry("BAI DAY")
		default:
			log.Printf("[gate] entry selection for %s: %v", plate, err)
			c.d.Panel.ShowEntry("ERROR")
		}
		c.scheduleIdle()
		return
	}
	if res != nil {
		log.Printf("[gate] %s takes reserved bay %s (reservation %s)", plate, bay, res.ID)
	}

	c.d.Panel.ShowEntry("SPOT " + bay)

	pos := lot.PositionOf(bay)
	if err := c.d.Table.MoveTo(ctx, pos); err != nil {
		if errors.Is(err, master.ErrMoveTimeout) {
			c.d.Metrics.MoveTimeouts.Inc()
		}
		log.Printf("[gate] entry move to %d failed: %v", pos, err)
		c.d.Panel.ShowEntry("MOVE TIMEOUT")
		c.scheduleIdle()
		return
	}
	c.d.Metrics.Position.Set(float64(pos))

	c.d.Panel.Beep(1)
	time.Sleep(c.d.Timing.Settle)

	c.d.Panel.ShowEntry("OPEN GATE")
	c.d.Panel.OpenEntryGate()
	time.Sleep(c.d.Timing.GateDelay)

	if err := c.d.Store.CommitEntry(bay, plate, t.Credential, t.At); err != nil {
		log.Printf("[gate] entry commit for %s at %s: %v", plate, bay, err)
		c.d.Panel.ShowEntry("ERROR")
		c.scheduleIdle()
		return
	}
	c.d.Metrics.Entries.Inc()
	c.updateOccupied()
	c.scheduleIdle()
}
