package lot

import "time"

// Bays lists the carousel bays in position order: bay A<n> sits at
// turntable position n.
var Bays = []string{"A1", "A2", "A3", "A4"}

// Spot is one carousel bay's ledger entry. An empty Plate means the bay
// holds no vehicle; reservation linkage stays on the spot from commit
// until exit so crash recovery can settle prepaid balances.
type Spot struct {
	Bay          string    `json:"bay"`
	Position     int       `json:"position"`
	Plate        string    `json:"plate,omitempty"`
	Credential   string    `json:"credential,omitempty"`
	EntryTime    time.Time `json:"entryTime,omitempty"`
	BillingStart time.Time `json:"billingStart,omitempty"`
	Prepaid      int       `json:"prepaid,omitempty"`
	ReservationID string   `json:"reservationId,omitempty"`
	ReservedAt   time.Time `json:"reservedAt,omitempty"`
}

func (s *Spot) Occupied() bool { return s.Plate != "" }

// SpotView is the API/broadcast shape of a bay, with the derived status.
type SpotView struct {
	Spot
	Status string `json:"status"` // empty | reserved | occupied
}

// PositionOf maps a bay name to its turntable position, 0 if unknown.
func PositionOf(bay string) int {
	for i, b := range Bays {
		if b == bay {
			return i + 1
		}
	}
	return 0
}
