package master

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"
	"time"
)

const (
	// The board occasionally repeats a line when a read straddles the
	// reader's polling window; identical lines inside this window are
	// treated as one.
	dupWindow = 700 * time.Millisecond

	// A card held against the antenna re-reads every few hundred ms.
	// One event per card per direction inside this window.
	uidCooldown = 2500 * time.Millisecond

	queueDepth = 16
)

// Listener ingests the MASTER event stream: one goroutine scans lines
// and fans classified events out to bounded per-purpose channels. The
// gate run loop drains the channels non-blockingly; if a channel is
// full the event is dropped rather than stalling the reader.
type Listener struct {
	r   io.Reader
	now func() time.Time

	rfidIn   chan string
	rfidOut  chan string
	touchIn  chan struct{}
	touchOut chan struct{}
	arrivals chan int

	// Dropped, when set, is called once per discarded line (malformed,
	// duplicate, cooldown or queue overflow).
	Dropped func()

	onArrived func(pos int)

	lastLine   string
	lastLineAt time.Time
	lastUID    map[string]time.Time
}

func NewListener(r io.Reader) *Listener {
	return &Listener{
		r:        r,
		now:      time.Now,
		rfidIn:   make(chan string, queueDepth),
		rfidOut:  make(chan string, queueDepth),
		touchIn:  make(chan struct{}, queueDepth),
		touchOut: make(chan struct{}, queueDepth),
		arrivals: make(chan int, queueDepth),
		lastUID:  make(map[string]time.Time),
	}
}

// SetClock replaces the time source. Tests use this to step through the
// duplicate and cooldown windows without sleeping.
func (l *Listener) SetClock(now func() time.Time) { l.now = now }

// OnArrived registers a hook invoked for every ARRIVED report, before
// the event is queued. The turntable uses it to track position even
// for stale arrivals from an abandoned move.
func (l *Listener) OnArrived(fn func(pos int)) { l.onArrived = fn }

func (l *Listener) RFIDIn() <-chan string     { return l.rfidIn }
func (l *Listener) RFIDOut() <-chan string    { return l.rfidOut }
func (l *Listener) TouchIn() <-chan struct{}  { return l.touchIn }
func (l *Listener) TouchOut() <-chan struct{} { return l.touchOut }
func (l *Listener) Arrivals() <-chan int      { return l.arrivals }

// Run scans the stream until the reader fails or ctx is cancelled.
// A read error is returned to the caller, which owns reconnect policy;
// the listener itself never reopens the port.
func (l *Listener) Run(ctx context.Context) error {
	scanner := bufio.NewScanner(l.r)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		l.handleLine(strings.TrimSpace(scanner.Text()))
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("master: event stream: %w", err)
	}
	return io.EOF
}

func (l *Listener) handleLine(line string) {
	if line == "" {
		return
	}

	now := l.now()
	if line == l.lastLine && now.Sub(l.lastLineAt) < dupWindow {
		l.drop()
		return
	}
	l.lastLine = line
	l.lastLineAt = now

	switch {
	case strings.HasPrefix(line, "RFID_IN:"):
		uid := strings.TrimSpace(strings.TrimPrefix(line, "RFID_IN:"))
		if uid == "" || !l.uidReady("in", uid, now) {
			l.drop()
			return
		}
		l.push(func() bool {
			select {
			case l.rfidIn <- uid:
				return true
			default:
				return false
			}
		})

	case strings.HasPrefix(line, "RFID_OUT:"):
		uid := strings.TrimSpace(strings.TrimPrefix(line, "RFID_OUT:"))
		if uid == "" || !l.uidReady("out", uid, now) {
			l.drop()
			return
		}
		l.push(func() bool {
			select {
			case l.rfidOut <- uid:
				return true
			default:
				return false
			}
		})

	// The touch lines sometimes carry debug text around the keyword,
	// so these are contains-matches, not prefix-matches.
	case strings.Contains(line, "TOUCH_IN"):
		l.push(func() bool {
			select {
			case l.touchIn <- struct{}{}:
				return true
			default:
				return false
			}
		})

	case strings.Contains(line, "TOUCH_OUT"):
		l.push(func() bool {
			select {
			case l.touchOut <- struct{}{}:
				return true
			default:
				return false
			}
		})

	case strings.HasPrefix(line, "ARRIVED:"):
		pos, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, "ARRIVED:")))
		if err != nil {
			l.drop()
			return
		}
		if l.onArrived != nil {
			l.onArrived(pos)
		}
		l.push(func() bool {
			select {
			case l.arrivals <- pos:
				return true
			default:
				return false
			}
		})

	default:
		log.Printf("[master] unrecognized line: %q", line)
		l.drop()
	}
}

// uidReady enforces the per-card cooldown, tracked per direction so an
// entry scan does not mask a later exit scan of the same card.
func (l *Listener) uidReady(direction, uid string, now time.Time) bool {
	key := direction + ":" + uid
	if last, ok := l.lastUID[key]; ok && now.Sub(last) < uidCooldown {
		return false
	}
	l.lastUID[key] = now
	return true
}

func (l *Listener) push(send func() bool) {
	if !send() {
		l.drop()
	}
}

func (l *Listener) drop() {
	if l.Dropped != nil {
		l.Dropped()
	}
}
