package gate

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hvnguyen/smartpark/internal/anpr"
	"github.com/hvnguyen/smartpark/internal/camera"
	"github.com/hvnguyen/smartpark/internal/config"
	"github.com/hvnguyen/smartpark/internal/lot"
	"github.com/hvnguyen/smartpark/internal/master"
)

// board records outbound commands and, when auto is set, answers move
// requests with an arrival like the real firmware would.
type board struct {
	mu       sync.Mutex
	lines    []string
	arrivals chan int
	auto     bool
}

func newBoard(auto bool) *board {
	return &board{arrivals: make(chan int, 8), auto: auto}
}

func (b *board) Send(line string) error {
	b.mu.Lock()
	b.lines = append(b.lines, line)
	auto := b.auto
	b.mu.Unlock()

	if auto {
		if n, err := strconv.Atoi(line); err == nil {
			b.arrivals <- n
		}
	}
	return nil
}

func (b *board) sent() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.lines...)
}

func (b *board) has(want string) bool {
	for _, l := range b.sent() {
		if l == want {
			return true
		}
	}
	return false
}

// scriptedANPR pops one plate per recognition; an optional hold channel
// lets tests freeze a worker mid-procedure.
type scriptedANPR struct {
	mu     sync.Mutex
	plates []string
	hold   chan struct{}
}

func (r *scriptedANPR) Name() string { return "scripted" }

func (r *scriptedANPR) Recognize(ctx context.Context, f *camera.Frame) (string, error) {
	if r.hold != nil {
		<-r.hold
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.plates) == 0 {
		return "", anpr.ErrNoPlate
	}
	p := r.plates[0]
	r.plates = r.plates[1:]
	return p, nil
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type harness struct {
	ctrl  *Controller
	board *board
	store *lot.Store
	rec   *scriptedANPR
	clock *fakeClock
	table *master.Turntable
}

func newHarness(t *testing.T, auto bool, plates ...string) *harness {
	t.Helper()

	store, err := lot.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	clock := &fakeClock{t: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)}
	store.SetClock(clock.Now)

	b := newBoard(auto)
	table := master.NewTurntable(b, b.arrivals)
	table.SetTiming(500*time.Millisecond, 2*time.Millisecond)

	rec := &scriptedANPR{plates: plates}
	ctrl := New(Deps{
		Panel:      master.NewPanel(b),
		Table:      table,
		Store:      store,
		CamIn:      camera.NewDemo("in"),
		CamOut:     camera.NewDemo("out"),
		Recognizer: rec,
		Billing: func() config.BillingConfig {
			return config.BillingConfig{FeePerHour: 5000, RoundUnit: 1000}
		},
		Timing: Timing{
			Tick:         time.Millisecond,
			Settle:       time.Millisecond,
			GateDelay:    time.Millisecond,
			DisplayReset: 50 * time.Millisecond,
		},
	})
	ctrl.SetClock(clock.Now)

	return &harness{ctrl: ctrl, board: b, store: store, rec: rec, clock: clock, table: table}
}

func waitIdle(t *testing.T, h *harness) {
	t.Helper()
	require.Eventually(t, func() bool {
		return !h.ctrl.entryBusy.Load() && !h.ctrl.exitBusy.Load()
	}, time.Second, 2*time.Millisecond)
}

func TestWalkInEntryUsesHomeBayWithoutMoving(t *testing.T) {
	h := newHarness(t, true, "29A-5678")

	require.True(t, h.ctrl.TriggerEntry(context.Background(), Trigger{Kind: KindTouch}))
	waitIdle(t, h)

	sp, err := h.store.FindByPlate("29A-5678")
	require.NoError(t, err)
	require.Equal(t, "A1", sp.Bay)

	// Position 1 is home: gate cycle without a move command.
	require.True(t, h.board.has("BEEP:1"))
	require.True(t, h.board.has("OPEN_IN"))
	require.False(t, h.board.has("1"))
}

func TestReservedVehicleFullCycle(t *testing.T) {
	h := newHarness(t, true, "51F-12345", "51F-12345")

	_, err := h.store.AddReservation(lot.ReservationRequest{
		Name: "Nguyen Van A", Phone: "0901234567",
		Plate: "51F-12345", Bay: "A3", ExpectedHours: 2, Prepaid: 20000,
	})
	require.NoError(t, err)

	// Arrives half an hour after booking, straight to the booked bay.
	h.clock.Advance(30 * time.Minute)
	require.True(t, h.ctrl.TriggerEntry(context.Background(),
		Trigger{Kind: KindRFID, Credential: "CAFE01"}))
	waitIdle(t, h)

	sp, err := h.store.FindByPlate("51F-12345")
	require.NoError(t, err)
	require.Equal(t, "A3", sp.Bay)
	require.Equal(t, 20000, sp.Prepaid)
	require.True(t, h.board.has("3"))
	require.True(t, h.board.has("OPEN_IN"))

	// Leaves two hours after booking: 2h * 5000 = 10000, fully covered
	// by the prepaid balance.
	h.clock.Advance(90 * time.Minute)
	require.True(t, h.ctrl.TriggerExit(context.Background(),
		Trigger{Kind: KindRFID, Credential: "CAFE01"}))
	waitIdle(t, h)

	_, err = h.store.FindByPlate("51F-12345")
	require.ErrorIs(t, err, lot.ErrPlateUnknown)
	require.True(t, h.board.has("OUT,51F-12345"))
	require.True(t, h.board.has("OPEN_OUT"))

	entries, err := h.store.History()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, 10000, entries[0].Fee)
	require.Equal(t, 10000, entries[0].PaidPrepaid)
	require.Equal(t, 0, entries[0].Shortfall)

	for _, r := range h.store.Reservations() {
		require.Equal(t, lot.ResDone, r.Status)
	}
}

func TestSecondEntryTriggerDroppedWhileBusy(t *testing.T) {
	h := newHarness(t, true, "29A-5678")
	h.rec.hold = make(chan struct{})

	require.True(t, h.ctrl.TriggerEntry(context.Background(), Trigger{Kind: KindTouch}))
	require.False(t, h.ctrl.TriggerEntry(context.Background(), Trigger{Kind: KindTouch}))

	// The exit direction is independent of the entry busy flag.
	require.True(t, h.ctrl.TriggerExit(context.Background(), Trigger{Kind: KindRFID, Credential: "NOPE"}))

	close(h.rec.hold)
	waitIdle(t, h)
}

func TestEntryMoveTimeoutLeavesLedgerUntouched(t *testing.T) {
	h := newHarness(t, false, "29A-5678") // board never reports arrival
	h.table.SetTiming(20*time.Millisecond, 2*time.Millisecond)

	// Occupy home so the walk-in needs an actual move.
	require.NoError(t, h.store.CommitEntry("A1", "30E-11111", "", h.clock.Now()))

	require.True(t, h.ctrl.TriggerEntry(context.Background(), Trigger{Kind: KindTouch}))
	waitIdle(t, h)

	_, err := h.store.FindByPlate("29A-5678")
	require.ErrorIs(t, err, lot.ErrPlateUnknown)
	require.False(t, h.board.has("OPEN_IN"))
	require.True(t, h.board.has("2"))
}

func TestEntryOCRFailureStopsBeforeSelection(t *testing.T) {
	h := newHarness(t, true) // recognizer has nothing to offer

	require.True(t, h.ctrl.TriggerEntry(context.Background(), Trigger{Kind: KindTouch}))
	waitIdle(t, h)

	for _, sp := range h.store.Spots() {
		require.Equal(t, "empty", sp.Status)
	}
	require.False(t, h.board.has("OPEN_IN"))
}

func TestEntryRejectsDuplicatePlate(t *testing.T) {
	h := newHarness(t, true, "29A-5678")
	require.NoError(t, h.store.CommitEntry("A2", "29A-5678", "", h.clock.Now()))

	require.True(t, h.ctrl.TriggerEntry(context.Background(), Trigger{Kind: KindTouch}))
	waitIdle(t, h)

	require.False(t, h.board.has("OPEN_IN"))
	require.True(t, h.board.has("LCD1:DA CO TRONG BAI"))
}

func TestExitPlateMismatchRejected(t *testing.T) {
	h := newHarness(t, true, "77C-4444") // camera disagrees with the card
	require.NoError(t, h.store.CommitEntry("A2", "29A-5678", "CAFE01", h.clock.Now()))

	require.True(t, h.ctrl.TriggerExit(context.Background(), Trigger{Kind: KindRFID, Credential: "CAFE01"}))
	waitIdle(t, h)

	sp, err := h.store.FindByPlate("29A-5678")
	require.NoError(t, err)
	require.Equal(t, "A2", sp.Bay)
	require.False(t, h.board.has("OPEN_OUT"))
	require.True(t, h.board.has("LCD2:PLATE MISMATCH"))
}

func TestExitRFIDAbortsWhenPlateUnread(t *testing.T) {
	h := newHarness(t, true) // recognizer has nothing to offer
	require.NoError(t, h.store.CommitEntry("A2", "29A-5678", "CAFE01", h.clock.Now()))

	require.True(t, h.ctrl.TriggerExit(context.Background(), Trigger{Kind: KindRFID, Credential: "CAFE01"}))
	waitIdle(t, h)

	// The card alone never releases a vehicle: no move, no gate, no
	// settlement.
	sp, err := h.store.FindByPlate("29A-5678")
	require.NoError(t, err)
	require.Equal(t, "A2", sp.Bay)
	require.False(t, h.board.has("OPEN_OUT"))
	require.False(t, h.board.has("OUT,29A-5678"))
	require.False(t, h.board.has("2"))
	require.True(t, h.board.has("LCD2:OCR FAIL"))
}

func TestExitUnknownCredential(t *testing.T) {
	h := newHarness(t, true)

	require.True(t, h.ctrl.TriggerExit(context.Background(), Trigger{Kind: KindRFID, Credential: "NOPE"}))
	waitIdle(t, h)

	require.False(t, h.board.has("OPEN_OUT"))
	require.True(t, h.board.has("LCD2:UID NOT FOUND"))
}

func TestLaneMessagesStayOnTheirDisplay(t *testing.T) {
	h := newHarness(t, true, "29A-5678", "29A-5678")

	require.True(t, h.ctrl.TriggerEntry(context.Background(), Trigger{Kind: KindTouch}))
	waitIdle(t, h)
	require.True(t, h.board.has("LCD1:XE VAO"))
	require.False(t, h.board.has("LCD2:XE VAO"))
	require.True(t, h.board.has("LCD1:OPEN GATE"))

	require.True(t, h.ctrl.TriggerExit(context.Background(), Trigger{Kind: KindTouch}))
	waitIdle(t, h)
	require.True(t, h.board.has("LCD2:XE RA"))
	require.False(t, h.board.has("LCD1:XE RA"))
	require.True(t, h.board.has("LCD2:OPEN GATE"))
	require.True(t, h.board.has("LCD2:FEE 0"))
}

func TestExitByTouchLooksUpPlate(t *testing.T) {
	h := newHarness(t, true, "29A-5678")
	require.NoError(t, h.store.CommitEntry("A2", "29A-5678", "", h.clock.Now()))

	h.clock.Advance(time.Hour)
	require.True(t, h.ctrl.TriggerExit(context.Background(), Trigger{Kind: KindTouch}))
	waitIdle(t, h)

	_, err := h.store.FindByPlate("29A-5678")
	require.ErrorIs(t, err, lot.ErrPlateUnknown)
	require.True(t, h.board.has("OPEN_OUT"))
}

func TestEntryCommitUsesTriggerTimestamp(t *testing.T) {
	h := newHarness(t, true, "29A-5678")
	at := h.clock.Now().Add(-2 * time.Minute)

	require.True(t, h.ctrl.TriggerEntry(context.Background(), Trigger{Kind: KindTouch, At: at}))
	waitIdle(t, h)

	sp, err := h.store.FindByPlate("29A-5678")
	require.NoError(t, err)
	require.True(t, sp.EntryTime.Equal(at))
}

func TestRunDispatchesListenerEvents(t *testing.T) {
	h := newHarness(t, true, "29A-5678")

	l := master.NewListener(strings.NewReader("RFID_IN:CAFE01\n"))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go l.Run(ctx)
	go h.ctrl.Run(ctx, l)

	require.Eventually(t, func() bool {
		_, err := h.store.FindByPlate("29A-5678")
		return err == nil
	}, time.Second, 5*time.Millisecond)

	sp, err := h.store.FindByPlate("29A-5678")
	require.NoError(t, err)
	require.Equal(t, "CAFE01", sp.Credential)
}
