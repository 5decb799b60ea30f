package gate

import (
	"context"
	"errors"
	"log"
	"strconv"
	"time"

	"github.com/hvnguyen/smartpark/internal/lot"
	"github.com/hvnguyen/smartpark/internal/master"
)

// runExit is the exit lane procedure. An RFID credential is the
// authoritative lookup key, but the vehicle never leaves on the card
// alone: the exit camera must produce a plate, and it must match the
// ledger. Touch and manual triggers have no credential, so for them the
// plate read (or the operator-supplied plate) is the key.
func (c *Controller) runExit(ctx context.Context, t Trigger) {
	defer c.exitBusy.Store(false)

	c.d.Panel.ShowExit("XE RA")
	c.d.Panel.ShowExit("SCAN PLATE")

	var spot lot.Spot
	if t.Kind == KindRFID {
		var err error
		spot, err = c.d.Store.FindByCredential(t.Credential)
		if err != nil {
			log.Printf("[gate] exit lookup: %v", err)
			c.d.Panel.ShowExit("UID NOT FOUND")
			c.scheduleIdle()
			return
		}
		seen := t.Plate
		if seen == "" {
			seen = c.recognize(ctx, c.d.CamOut)
		}
		if seen == "" {
			c.d.Metrics.OCRFailures.Inc()
			c.d.Panel.ShowExit("OCR FAIL")
			c.scheduleIdle()
			return
		}
		if seen != spot.Plate {
			log.Printf("[gate] plate mismatch at exit: card says %s, camera says %s", spot.Plate, seen)
			c.d.Panel.ShowExit("PLATE MISMATCH")
			c.scheduleIdle()
			return
		}
	} else {
		seen := t.Plate
		if seen == "" {
			seen = c.recognize(ctx, c.d.CamOut)
		}
		if seen == "" {
			c.d.Metrics.OCRFailures.Inc()
			c.d.Panel.ShowExit("OCR FAIL")
			c.scheduleIdle()
			return
		}
		var err error
		spot, err = c.d.Store.FindByPlate(seen)
		if err != nil {
			log.Printf("[gate] exit lookup: %v", err)
			c.d.Panel.ShowExit("NOT FOUND")
			c.scheduleIdle()
			return
		}
	}

	c.d.Panel.AnnounceExit(spot.Plate)
	c.d.Panel.ShowExit("SPOT " + spot.Bay)

	if err := c.d.Table.MoveTo(ctx, spot.Position); err != nil {
		if errors.Is(err, master.ErrMoveTimeout) {
			c.d.Metrics.MoveTimeouts.Inc()
		}
		log.Printf("[gate] exit move to %d failed: %v", spot.Position, err)
		c.d.Panel.ShowExit("MOVE TIMEOUT")
		c.scheduleIdle()
		return
	}
	c.d.Metrics.Position.Set(float64(spot.Position))

	c.d.Panel.Beep(1)
	time.Sleep(c.d.Timing.Settle)

	c.d.Panel.ShowExit("OPEN GATE")
	c.d.Panel.OpenExitGate()

	bill := c.d.Billing()
	rcpt, err := c.d.Store.CommitExit(spot.Bay, t.At, bill.FeePerHour, bill.RoundUnit)
	if err != nil {
		log.Printf("[gate] exit commit for %s: %v", spot.Plate, err)
		c.d.Panel.ShowExit("ERROR")
		c.scheduleIdle()
		return
	}

	c.d.Panel.ShowExit("FEE " + strconv.Itoa(rcpt.Fee))
	if rcpt.Shortfall > 0 {
		log.Printf("[gate] %s owes %d after prepaid", spot.Plate, rcpt.Shortfall)
	}
	time.Sleep(c.d.Timing.GateDelay)

	c.d.Metrics.Exits.Inc()
	c.updateOccupied()
	c.scheduleIdle()
}
