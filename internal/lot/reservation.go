package lot

import (
	"errors"
	"time"
)

// Reservation lifecycle. There is no automatic expiry: a reservation
// holds its bay until the vehicle arrives or staff cancel it.
const (
	ResReserved  = "reserved"
	ResIn        = "in"
	ResDone      = "done"
	ResCancelled = "cancelled"
)

// Intake rejection reasons. The web layer maps these to HTTP statuses.
var (
	ErrMissingFields = errors.New("lot: missing required fields")
	ErrUnknownBay    = errors.New("lot: unknown bay")
	ErrBayOccupied   = errors.New("lot: bay already occupied")
	ErrBayReserved   = errors.New("lot: bay held by another reservation")
	ErrPlateActive   = errors.New("lot: plate already has an active reservation or parked vehicle")
)

// Entry selection failures.
var (
	ErrPlateInside = errors.New("lot: plate already inside")
	ErrLotFull     = errors.New("lot: no free bay")
)

// Exit lookup failures.
var (
	ErrCredentialUnknown = errors.New("lot: credential not found")
	ErrPlateUnknown      = errors.New("lot: plate not found")
)

// Reservation is one advance booking for a specific bay.
type Reservation struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Phone         string    `json:"phone"`
	Plate         string    `json:"plate"`
	Bay           string    `json:"bay"`
	ExpectedHours float64   `json:"expectedHours"`
	Prepaid       int       `json:"prepaid"`
	CreatedAt     time.Time `json:"createdAt"`
	Status        string    `json:"status"`
	ArrivalTime   time.Time `json:"arrivalTime,omitempty"`
	ExitTime      time.Time `json:"exitTime,omitempty"`
	Fee           int       `json:"fee,omitempty"`
	PaidPrepaid   int       `json:"paidFromPrepaid,omitempty"`
	Shortfall     int       `json:"shortfall,omitempty"`
}

func (r *Reservation) Active() bool {
	return r.Status == ResReserved || r.Status == ResIn
}

// ReservationRequest is the intake payload from the web form.
type ReservationRequest struct {
	Name          string  `json:"name"`
	Phone         string  `json:"phone"`
	Plate         string  `json:"plate"`
	Bay           string  `json:"bay"`
	ExpectedHours float64 `json:"expectedHours"`
	Prepaid       int     `json:"prepaid"`
}
