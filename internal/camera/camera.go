package camera

import (
	"fmt"
	"log"
	"os"
	"time"
)

// Frame is one captured image handed to the plate recognizer. The
// controller never inspects the bytes; they pass through opaque.
type Frame struct {
	Data    []byte
	Source  string
	TakenAt time.Time
}

// Source produces frames for one lane. Capture is called once per
// trigger, at trigger time, so the recognizer sees the vehicle that
// caused the event rather than whatever is in front of the lens later.
type Source interface {
	Name() string
	Capture() (*Frame, error)
}

// Open picks a source for the configured lane: an existing file path
// yields a static-file source (bench setups point this at a test
// photo), anything else falls back to the simulated source.
func Open(source string) Source {
	if source != "" {
		if st, err := os.Stat(source); err == nil && !st.IsDir() {
			return NewFile(source)
		}
	}
	log.Printf("[camera] no capturable source at %q, using demo frames", source)
	return NewDemo(source)
}

// FileSource re-reads a still image on every capture.
type FileSource struct {
	path string
}

func NewFile(path string) *FileSource { return &FileSource{path: path} }

func (f *FileSource) Name() string { return "file:" + f.path }

func (f *FileSource) Capture() (*Frame, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("camera: read %s: %w", f.path, err)
	}
	return &Frame{Data: data, Source: f.Name(), TakenAt: time.Now()}, nil
}

// DemoSource fabricates frames for development and tests.
type DemoSource struct {
	label string
	seq   int
}

func NewDemo(label string) *DemoSource {
	if label == "" {
		label = "demo"
	}
	return &DemoSource{label: label}
}

func (d *DemoSource) Name() string { return "demo:" + d.label }

func (d *DemoSource) Capture() (*Frame, error) {
	d.seq++
	payload := fmt.Sprintf("frame %d from %s", d.seq, d.label)
	return &Frame{Data: []byte(payload), Source: d.Name(), TakenAt: time.Now()}, nil
}
