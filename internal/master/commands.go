package master

import (
	"fmt"
	"strconv"
)

const (
	lcdWidth = 16

	beepMin = 1
	beepMax = 5
)

// Panel wraps the command vocabulary the MASTER board understands:
// gates, buzzer, the per-lane LCDs and the exit announcement relayed
// to the slave display.
type Panel struct {
	s Sender
}

func NewPanel(s Sender) *Panel { return &Panel{s: s} }

// Beep sounds the buzzer. The firmware only supports 1..5 pulses, so
// the count is clamped rather than rejected.
func (p *Panel) Beep(times int) error {
	if times < beepMin {
		times = beepMin
	}
	if times > beepMax {
		times = beepMax
	}
	return p.s.Send(fmt.Sprintf("BEEP:%d", times))
}

func (p *Panel) OpenEntryGate() error { return p.s.Send("OPEN_IN") }
func (p *Panel) OpenExitGate() error  { return p.s.Send("OPEN_OUT") }

// ShowEntry writes to the entry-lane LCD. Text longer than the 16-char
// display is truncated by the firmware anyway; truncating here keeps
// the serial line short.
func (p *Panel) ShowEntry(text string) error {
	return p.s.Send("LCD1:" + fitLCD(text))
}

// ShowExit writes to the exit-lane LCD.
func (p *Panel) ShowExit(text string) error {
	return p.s.Send("LCD2:" + fitLCD(text))
}

// AnnounceExit forwards the departing plate to the slave display at the
// exit lane.
func (p *Panel) AnnounceExit(plate string) error {
	return p.s.Send("OUT," + plate)
}

func fitLCD(s string) string {
	if len(s) > lcdWidth {
		return s[:lcdWidth]
	}
	return s
}

// moveCommand is the bare position number; the firmware treats a lone
// digit line as a move request.
func moveCommand(pos int) string { return strconv.Itoa(pos) }

// setPosCommand overwrites the firmware's position register without
// moving. Used for the resync handshake after (re)connect.
func setPosCommand(pos int) string { return fmt.Sprintf("SETPOS:%d", pos) }
