package master

import (
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"go.bug.st/serial"
)

// Sender pushes one newline-terminated command line to the MASTER board.
type Sender interface {
	Send(line string) error
}

// Link is a full-duplex connection to the MASTER board: commands go out
// through Sender, events come back through Reader.
type Link interface {
	Sender
	Reader() io.Reader
	Close() error
}

const (
	// The Arduino resets when the port opens; give the bootloader time
	// before the first command.
	postOpenDelay  = 1500 * time.Millisecond
	drainSilenceMs = 100
	drainTimeout   = 1000 * time.Millisecond
)

// Conn is a serial Link. Writes are serialized with a mutex since the
// turntable controller and both gate workers share the line.
type Conn struct {
	portPath string
	baudRate int

	mu   sync.Mutex
	port serial.Port
}

// Dial opens the serial port, waits out the board reset and drains any
// boot banner so the listener starts on a clean line boundary.
func Dial(portPath string, baudRate int) (*Conn, error) {
	if baudRate == 0 {
		baudRate = 9600
	}
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(portPath, mode)
	if err != nil {
		return nil, fmt.Errorf("master: failed to open %s: %w", portPath, err)
	}
	if err := port.SetReadTimeout(200 * time.Millisecond); err != nil {
		port.Close()
		return nil, fmt.Errorf("master: failed to set timeout: %w", err)
	}

	c := &Conn{portPath: portPath, baudRate: baudRate, port: port}
	log.Printf("[master] opened %s at %d baud", portPath, baudRate)

	time.Sleep(postOpenDelay)
	c.drain("boot")
	return c, nil
}

// drain reads and discards pending bytes until the line is silent for
// drainSilenceMs or drainTimeout has elapsed.
func (c *Conn) drain(label string) {
	c.port.ResetInputBuffer()
	c.port.SetReadTimeout(time.Duration(drainSilenceMs) * time.Millisecond)
	defer c.port.SetReadTimeout(200 * time.Millisecond)

	total := 0
	deadline := time.Now().Add(drainTimeout)
	buf := make([]byte, 256)
	for time.Now().Before(deadline) {
		n, _ := c.port.Read(buf)
		if n == 0 {
			break
		}
		total += n
	}
	if total > 0 {
		log.Printf("[master] drain(%s) cleared %d bytes", label, total)
	}
}

// Send writes one command line. The newline is appended here so callers
// never worry about framing.
func (c *Conn) Send(line string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.port == nil {
		return fmt.Errorf("master: not connected")
	}
	if _, err := c.port.Write([]byte(line + "\n")); err != nil {
		return fmt.Errorf("master: write %q: %w", line, err)
	}
	return nil
}

// Reader exposes the inbound byte stream for the event listener.
func (c *Conn) Reader() io.Reader { return c.port }

func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.port == nil {
		return nil
	}
	err := c.port.Close()
	c.port = nil
	return err
}
