package lot

import (
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store owns the lot state: four bay slots, the reservation book and
// the exit history. Every mutation is flushed to CSV before it returns,
// so a controller restart resumes from the last committed state.
type Store struct {
	mu  sync.Mutex
	dir string
	now func() time.Time

	spots        map[string]*Spot
	reservations []*Reservation

	history *historyLog

	onChange func()
}

// Receipt summarizes a settled exit.
type Receipt struct {
	Bay          string    `json:"bay"`
	Plate        string    `json:"plate"`
	Credential   string    `json:"credential,omitempty"`
	EntryTime    time.Time `json:"entryTime"`
	BillingStart time.Time `json:"billingStart"`
	ExitTime     time.Time `json:"exitTime"`
	Fee          int       `json:"fee"`
	PaidPrepaid  int       `json:"paidFromPrepaid"`
	Shortfall    int       `json:"shortfall"`
	Remaining    int       `json:"remaining"`
}

// Open loads (or seeds) the ledgers under dir.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("lot: mkdir %s: %w", dir, err)
	}
	s := &Store{
		dir:   dir,
		now:   time.Now,
		spots: make(map[string]*Spot, len(Bays)),
	}
	for i, bay := range Bays {
		s.spots[bay] = &Spot{Bay: bay, Position: i + 1}
	}
	if err := s.loadSpots(); err != nil {
		return nil, err
	}
	if err := s.loadReservations(); err != nil {
		return nil, err
	}
	h, err := openHistory(filepath.Join(dir, "history.csv"))
	if err != nil {
		return nil, err
	}
	s.history = h
	return s, nil
}

// SetClock replaces the time source used for intake timestamps.
func (s *Store) SetClock(now func() time.Time) { s.now = now }

// OnChange registers a hook called after every committed mutation, with
// no locks held, so it may read the store freely. The web layer uses it
// to push state frames to websocket clients.
func (s *Store) OnChange(fn func()) { s.onChange = fn }

func (s *Store) Close() error {
	if s.history != nil {
		return s.history.Close()
	}
	return nil
}

func (s *Store) notify() {
	if s.onChange != nil {
		s.onChange()
	}
}

// Spots returns a snapshot of all bays with their derived status.
func (s *Store) Spots() []SpotView {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]SpotView, 0, len(Bays))
	for _, bay := range Bays {
		sp := s.spots[bay]
		out = append(out, SpotView{Spot: *sp, Status: s.statusLocked(sp)})
	}
	return out
}

func (s *Store) statusLocked(sp *Spot) string {
	if sp.Occupied() {
		return "occupied"
	}
	if s.activeReservationForBayLocked(sp.Bay) != nil {
		return "reserved"
	}
	return "empty"
}

// Reservations returns a snapshot of the whole reservation book,
// newest first.
func (s *Store) Reservations() []Reservation {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Reservation, 0, len(s.reservations))
	for i := len(s.reservations) - 1; i >= 0; i-- {
		out = append(out, *s.reservations[i])
	}
	return out
}

func (s *Store) activeReservationForBayLocked(bay string) *Reservation {
	for _, r := range s.reservations {
		if r.Bay == bay && r.Active() {
			return r
		}
	}
	return nil
}

func (s *Store) activeReservationForPlateLocked(plate string) *Reservation {
	for _, r := range s.reservations {
		if r.Plate == plate && r.Active() {
			return r
		}
	}
	return nil
}

// AddReservation validates and books a bay. The bay must be empty and
// not held by another active reservation; the plate must not already be
// booked or parked.
func (s *Store) AddReservation(req ReservationRequest) (*Reservation, error) {
	r, err := s.addReservation(req)
	if err != nil {
		return nil, err
	}
	log.Printf("[lot] reservation %s: %s -> %s (prepaid %d)", r.ID, r.Plate, r.Bay, r.Prepaid)
	s.notify()
	return r, nil
}

func (s *Store) addReservation(req ReservationRequest) (*Reservation, error) {
	plate := req.Plate
	if req.Name == "" || req.Phone == "" || plate == "" || req.Bay == "" {
		return nil, ErrMissingFields
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sp, ok := s.spots[req.Bay]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownBay, req.Bay)
	}
	if sp.Occupied() {
		return nil, fmt.Errorf("%w: %s", ErrBayOccupied, req.Bay)
	}
	if s.activeReservationForBayLocked(req.Bay) != nil {
		return nil, fmt.Errorf("%w: %s", ErrBayReserved, req.Bay)
	}
	if s.activeReservationForPlateLocked(plate) != nil {
		return nil, fmt.Errorf("%w: %s", ErrPlateActive, plate)
	}
	for _, bay := range Bays {
		if s.spots[bay].Plate == plate {
			return nil, fmt.Errorf("%w: %s", ErrPlateActive, plate)
		}
	}
	if req.Prepaid < 0 {
		req.Prepaid = 0
	}

	r := &Reservation{
		ID:            uuid.NewString(),
		Name:          req.Name,
		Phone:         req.Phone,
		Plate:         plate,
		Bay:           req.Bay,
		ExpectedHours: req.ExpectedHours,
		Prepaid:       req.Prepaid,
		CreatedAt:     s.now(),
		Status:        ResReserved,
	}
	s.reservations = append(s.reservations, r)
	if err := s.saveReservationsLocked(); err != nil {
		return nil, err
	}
	cp := *r
	return &cp, nil
}

// CancelReservation releases a bay hold. Only reservations still in the
// reserved state can be cancelled; once the vehicle is inside the exit
// flow owns the record.
func (s *Store) CancelReservation(id string) error {
	if err := s.cancelReservation(id); err != nil {
		return err
	}
	log.Printf("[lot] reservation %s cancelled", id)
	s.notify()
	return nil
}

func (s *Store) cancelReservation(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.reservations {
		if r.ID != id {
			continue
		}
		if r.Status != ResReserved {
			return fmt.Errorf("lot: reservation %s is %s, not cancellable", id, r.Status)
		}
		r.Status = ResCancelled
		return s.saveReservationsLocked()
	}
	return fmt.Errorf("lot: reservation %s not found", id)
}

// SelectEntryBay picks the bay for an arriving plate without mutating
// anything. A matching reservation wins its booked bay; otherwise the
// first empty bay not held by someone else's reservation is used.
func (s *Store) SelectEntryBay(plate string) (string, *Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, bay := range Bays {
		if s.spots[bay].Plate == plate {
			return "", nil, fmt.Errorf("%w: %s", ErrPlateInside, plate)
		}
	}

	if r := s.activeReservationForPlateLocked(plate); r != nil && r.Status == ResReserved {
		if s.spots[r.Bay].Occupied() {
			// Booked bay is blocked by a foreign vehicle; treat the
			// reservation as unusable and fall through to the pool.
			log.Printf("[lot] reserved bay %s for %s is occupied, using fallback", r.Bay, plate)
		} else {
			cp := *r
			return r.Bay, &cp, nil
		}
	}

	for _, bay := range Bays {
		sp := s.spots[bay]
		if sp.Occupied() {
			continue
		}
		if s.activeReservationForBayLocked(bay) != nil {
			continue
		}
		return bay, nil, nil
	}
	return "", nil, ErrLotFull
}

// CommitEntry records the vehicle in its bay after the move and gate
// cycle completed. This is the single ledger write of the entry flow:
// nothing before it touches the files, so a failed move leaves no
// trace. Billing starts at the reservation's creation for booked
// vehicles, at the entry itself otherwise.
func (s *Store) CommitEntry(bay, plate, credential string, at time.Time) error {
	if err := s.commitEntry(bay, plate, credential, at); err != nil {
		return err
	}
	log.Printf("[lot] entry committed: %s at %s", plate, bay)
	s.notify()
	return nil
}

func (s *Store) commitEntry(bay, plate, credential string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sp, ok := s.spots[bay]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownBay, bay)
	}
	if sp.Occupied() {
		return fmt.Errorf("%w: %s", ErrBayOccupied, bay)
	}

	sp.Plate = plate
	sp.Credential = credential
	sp.EntryTime = at
	sp.BillingStart = at
	sp.Prepaid = 0
	sp.ReservationID = ""
	sp.ReservedAt = time.Time{}

	if r := s.activeReservationForPlateLocked(plate); r != nil && r.Status == ResReserved && r.Bay == bay {
		r.Status = ResIn
		r.ArrivalTime = at
		sp.BillingStart = r.CreatedAt
		sp.Prepaid = r.Prepaid
		sp.ReservationID = r.ID
		sp.ReservedAt = r.CreatedAt
		if err := s.saveReservationsLocked(); err != nil {
			return err
		}
	}

	return s.saveSpotsLocked()
}

// FindByCredential locates the occupied bay for an RFID card.
func (s *Store) FindByCredential(uid string) (Spot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, bay := range Bays {
		sp := s.spots[bay]
		if sp.Occupied() && sp.Credential == uid {
			return *sp, nil
		}
	}
	return Spot{}, fmt.Errorf("%w: %s", ErrCredentialUnknown, uid)
}

// FindByPlate locates the occupied bay for a plate.
func (s *Store) FindByPlate(plate string) (Spot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, bay := range Bays {
		sp := s.spots[bay]
		if sp.Occupied() && sp.Plate == plate {
			return *sp, nil
		}
	}
	return Spot{}, fmt.Errorf("%w: %s", ErrPlateUnknown, plate)
}

// CommitExit settles the stay: fee from the billing-start timestamp,
// prepaid offset, history row, bay cleared, linked reservation closed.
func (s *Store) CommitExit(bay string, at time.Time, ratePerHour, unit int) (*Receipt, error) {
	rcpt, err := s.commitExit(bay, at, ratePerHour, unit)
	if err != nil {
		return nil, err
	}
	log.Printf("[lot] exit committed: %s from %s, fee %d (prepaid %d, shortfall %d)",
		rcpt.Plate, bay, rcpt.Fee, rcpt.PaidPrepaid, rcpt.Shortfall)
	s.notify()
	return rcpt, nil
}

func (s *Store) commitExit(bay string, at time.Time, ratePerHour, unit int) (*Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sp, ok := s.spots[bay]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownBay, bay)
	}
	if !sp.Occupied() {
		return nil, fmt.Errorf("lot: bay %s is empty", bay)
	}

	fee := Fee(sp.BillingStart, at, ratePerHour, unit)
	paid, shortfall, remaining := Settle(fee, sp.Prepaid)

	rcpt := &Receipt{
		Bay:          bay,
		Plate:        sp.Plate,
		Credential:   sp.Credential,
		EntryTime:    sp.EntryTime,
		BillingStart: sp.BillingStart,
		ExitTime:     at,
		Fee:          fee,
		PaidPrepaid:  paid,
		Shortfall:    shortfall,
		Remaining:    remaining,
	}

	if sp.ReservationID != "" {
		for _, r := range s.reservations {
			if r.ID == sp.ReservationID {
				r.Status = ResDone
				r.ExitTime = at
				r.Fee = fee
				r.PaidPrepaid = paid
				r.Shortfall = shortfall
				break
			}
		}
		if err := s.saveReservationsLocked(); err != nil {
			return nil, err
		}
	}

	if err := s.history.Append(rcpt); err != nil {
		return nil, err
	}

	*sp = Spot{Bay: sp.Bay, Position: sp.Position}
	if err := s.saveSpotsLocked(); err != nil {
		return nil, err
	}
	return rcpt, nil
}

// ============================================================================
// CSV persistence
// ============================================================================

var spotsHeader = []string{
	"bay", "plate", "rfid_uid", "entry_time", "billing_start",
	"prepaid", "reservation_id", "reserved_at",
}

var reservationsHeader = []string{
	"id", "name", "phone", "plate", "bay", "expected_hours", "prepaid",
	"created_at", "status", "arrival_time", "exit_time",
	"fee", "paid_from_prepaid", "shortfall",
}

func (s *Store) spotsPath() string        { return filepath.Join(s.dir, "spots.csv") }
func (s *Store) reservationsPath() string { return filepath.Join(s.dir, "reservations.csv") }

func (s *Store) loadSpots() error {
	rows, err := readCSV(s.spotsPath())
	if err != nil {
		if os.IsNotExist(err) {
			return s.saveSpotsLocked()
		}
		return err
	}
	for _, row := range rows {
		if len(row) < len(spotsHeader) {
			continue
		}
		sp, ok := s.spots[row[0]]
		if !ok {
			continue
		}
		sp.Plate = row[1]
		sp.Credential = row[2]
		sp.EntryTime = parseTime(row[3])
		sp.BillingStart = parseTime(row[4])
		sp.Prepaid, _ = strconv.Atoi(row[5])
		sp.ReservationID = row[6]
		sp.ReservedAt = parseTime(row[7])
	}
	return nil
}

func (s *Store) saveSpotsLocked() error {
	records := [][]string{spotsHeader}
	for _, bay := range Bays {
		sp := s.spots[bay]
		records = append(records, []string{
			sp.Bay, sp.Plate, sp.Credential,
			formatTime(sp.EntryTime), formatTime(sp.BillingStart),
			strconv.Itoa(sp.Prepaid), sp.ReservationID, formatTime(sp.ReservedAt),
		})
	}
	return writeCSV(s.spotsPath(), records)
}

func (s *Store) loadReservations() error {
	rows, err := readCSV(s.reservationsPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, row := range rows {
		if len(row) < len(reservationsHeader) {
			continue
		}
		r := &Reservation{
			ID:          row[0],
			Name:        row[1],
			Phone:       row[2],
			Plate:       row[3],
			Bay:         row[4],
			CreatedAt:   parseTime(row[7]),
			Status:      row[8],
			ArrivalTime: parseTime(row[9]),
			ExitTime:    parseTime(row[10]),
		}
		r.ExpectedHours, _ = strconv.ParseFloat(row[5], 64)
		r.Prepaid, _ = strconv.Atoi(row[6])
		r.Fee, _ = strconv.Atoi(row[11])
		r.PaidPrepaid, _ = strconv.Atoi(row[12])
		r.Shortfall, _ = strconv.Atoi(row[13])
		s.reservations = append(s.reservations, r)
	}
	return nil
}

func (s *Store) saveReservationsLocked() error {
	records := [][]string{reservationsHeader}
	for _, r := range s.reservations {
		records = append(records, []string{
			r.ID, r.Name, r.Phone, r.Plate, r.Bay,
			strconv.FormatFloat(r.ExpectedHours, 'f', -1, 64),
			strconv.Itoa(r.Prepaid),
			formatTime(r.CreatedAt), r.Status,
			formatTime(r.ArrivalTime), formatTime(r.ExitTime),
			strconv.Itoa(r.Fee), strconv.Itoa(r.PaidPrepaid), strconv.Itoa(r.Shortfall),
		})
	}
	return writeCSV(s.reservationsPath(), records)
}

func readCSV(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	rd := csv.NewReader(f)
	rd.FieldsPerRecord = -1
	rows, err := rd.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("lot: parse %s: %w", path, err)
	}
	if len(rows) > 0 {
		rows = rows[1:] // header
	}
	return rows, nil
}

func writeCSV(path string, records [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("lot: create %s: %w", path, err)
	}
	w := csv.NewWriter(f)
	if err := w.WriteAll(records); err != nil {
		f.Close()
		return fmt.Errorf("lot: write %s: %w", path, err)
	}
	return f.Close()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
