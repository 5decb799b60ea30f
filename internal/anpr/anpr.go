package anpr

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"

	"github.com/hvnguyen/smartpark/internal/camera"
)

// ErrNoPlate reports that the recognizer found no readable plate in the
// frame. One attempt per trigger; the caller does not retry.
var ErrNoPlate = errors.New("anpr: no plate found")

// Recognizer extracts a license plate string from a frame. Engines are
// black boxes behind this interface; the controller only sees the
// normalized plate or an error.
type Recognizer interface {
	Name() string
	Recognize(ctx context.Context, f *camera.Frame) (string, error)
}

// Vietnamese plate shape: two-digit province code, one or two series
// letters, then a 4-5 digit number, e.g. 51F-12345 or 29AB-1234.
var plateRe = regexp.MustCompile(`^[0-9]{2}[A-Z]{1,2}-?[0-9]{4,5}$`)

// Normalize canonicalizes raw recognizer output: uppercase, with the
// separators OCR engines tend to invent (spaces, dots) stripped.
func Normalize(raw string) string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, ".", "")
	return s
}

// Valid reports whether a normalized plate matches the expected shape.
func Valid(plate string) bool { return plateRe.MatchString(plate) }

// Demo cycles through a fixed plate list, one per capture.
type Demo struct {
	mu     sync.Mutex
	plates []string
	idx    int
}

func NewDemo(plates ...string) *Demo {
	if len(plates) == 0 {
		plates = []string{"51F-12345", "29A-5678", "30E-99999"}
	}
	return &Demo{plates: plates}
}

func (d *Demo) Name() string { return "Demo (Simulated)" }

func (d *Demo) Recognize(ctx context.Context, f *camera.Frame) (string, error) {
	if f == nil || len(f.Data) == 0 {
		return "", ErrNoPlate
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	plate := d.plates[d.idx%len(d.plates)]
	d.idx++
	return plate, nil
}
