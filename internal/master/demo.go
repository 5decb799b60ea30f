package master

import (
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DemoLink simulates the MASTER board for development without hardware.
// Commands are logged; move requests produce an ARRIVED report on the
// event stream after a short rotation delay, so the whole pipeline runs
// unchanged against it.
type DemoLink struct {
	mu sync.Mutex
	pr *io.PipeReader
	pw *io.PipeWriter

	rotateDelay time.Duration
}

func NewDemoLink() *DemoLink {
	pr, pw := io.Pipe()
	return &DemoLink{pr: pr, pw: pw, rotateDelay: 400 * time.Millisecond}
}

func (d *DemoLink) Send(line string) error {
	log.Printf("[master] demo <- %s", line)

	target := 0
	if n, err := strconv.Atoi(line); err == nil {
		target = n
	} else if rest, ok := strings.CutPrefix(line, "SETPOS:"); ok {
		if n, err := strconv.Atoi(rest); err == nil {
			// SETPOS is silent on real hardware; echo an arrival so the
			// tracked position settles the same way.
			target = n
		}
	}
	if target >= MinPosition && target <= MaxPosition {
		go func() {
			time.Sleep(d.rotateDelay)
			d.Inject(fmt.Sprintf("ARRIVED:%d", target))
		}()
	}
	return nil
}

// Inject writes a raw event line to the simulated stream. The demo
// driver uses it for arrivals; tests and the demo kiosk can use it to
// fake card scans.
func (d *DemoLink) Inject(line string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fmt.Fprintln(d.pw, line)
}

func (d *DemoLink) Reader() io.Reader { return d.pr }

func (d *DemoLink) Close() error {
	d.pw.Close()
	return d.pr.Close()
}
