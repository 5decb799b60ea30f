package gate

import "time"

// Kind classifies what fired a lane.
type Kind int

const (
	KindRFID Kind = iota
	KindTouch
	KindManual
)

func (k Kind) String() string {
	switch k {
	case KindRFID:
		return "rfid"
	case KindTouch:
		return "touch"
	case KindManual:
		return "manual"
	default:
		return "unknown"
	}
}

// Trigger is one request to run a lane procedure. Credential is set for
// RFID triggers; Plate may be set on manual exit triggers fired from
// the operator console. At is the trigger time and becomes the ledger
// timestamp; the controller stamps it on accept when left zero.
type Trigger struct {
	Kind       Kind
	Credential string
	Plate      string
	At         time.Time
}
