package master

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

// ErrMoveTimeout reports that the carousel never confirmed arrival at
// the requested position within the wait ceiling.
var ErrMoveTimeout = errors.New("master: move timed out")

const (
	// Bays on the carousel; position 1 is the loading platform home.
	MinPosition = 1
	MaxPosition = 4

	arriveTimeout = 28 * time.Second
	arrivePoll    = 200 * time.Millisecond
)

// Turntable tracks the carousel position and drives moves. Moves are
// serialized: both gate workers share one physical platform, so a
// second MoveTo blocks until the first settles.
type Turntable struct {
	s        Sender
	arrivals <-chan int

	timeout time.Duration
	poll    time.Duration

	moveMu sync.Mutex

	mu       sync.Mutex
	position int
}

func NewTurntable(s Sender, arrivals <-chan int) *Turntable {
	return &Turntable{
		s:        s,
		arrivals: arrivals,
		timeout:  arriveTimeout,
		poll:     arrivePoll,
		position: MinPosition,
	}
}

// SetTiming overrides the arrival wait ceiling and poll interval.
func (t *Turntable) SetTiming(timeout, poll time.Duration) {
	if timeout > 0 {
		t.timeout = timeout
	}
	if poll > 0 {
		t.poll = poll
	}
}

func (t *Turntable) Position() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.position
}

// SetPosition records a position report. Wired to the listener's
// ARRIVED hook so even stale arrivals from an abandoned move keep the
// tracked position honest.
func (t *Turntable) SetPosition(pos int) {
	if pos < MinPosition || pos > MaxPosition {
		return
	}
	t.mu.Lock()
	t.position = pos
	t.mu.Unlock()
}

// Resync forces firmware and tracked position back to home. Called on
// every (re)connect, before any move is attempted.
func (t *Turntable) Resync() error {
	t.mu.Lock()
	t.position = MinPosition
	t.mu.Unlock()
	return t.s.Send(setPosCommand(MinPosition))
}

// MoveTo rotates the carousel to target and blocks until the board
// confirms arrival. A target equal to the current position is a no-op:
// no command is sent, success is immediate. On timeout the tracked
// position is left as-is; the next move drains whatever late arrival
// eventually lands.
func (t *Turntable) MoveTo(ctx context.Context, target int) error {
	if target < MinPosition || target > MaxPosition {
		return fmt.Errorf("master: position %d out of range", target)
	}

	t.moveMu.Lock()
	defer t.moveMu.Unlock()

	// Drop arrivals left over from a previous timed-out move so they
	// cannot satisfy this wait.
	for {
		select {
		case pos := <-t.arrivals:
			log.Printf("[master] discarding stale arrival at %d", pos)
			t.SetPosition(pos)
			continue
		default:
		}
		break
	}

	if t.Position() == target {
		return nil
	}

	if err := t.s.Send(moveCommand(target)); err != nil {
		return err
	}

	deadline := time.Now().Add(t.timeout)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case pos := <-t.arrivals:
			t.SetPosition(pos)
			if pos == target {
				return nil
			}
		case <-time.After(t.poll):
			// The ARRIVED hook may have updated position directly.
			if t.Position() == target {
				return nil
			}
		}
		// Checked on every iteration so a stream of arrivals at the
		// wrong position cannot postpone the ceiling.
		if time.Now().After(deadline) {
			return fmt.Errorf("%w (target %d, at %d)", ErrMoveTimeout, target, t.Position())
		}
	}
}
