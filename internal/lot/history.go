package lot

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"
)

var historyHeader = []string{
	"credential", "plate", "entry_time", "exit_time",
	"fee", "paid_from_prepaid", "shortfall",
}

// HistoryEntry is one completed stay.
type HistoryEntry struct {
	Credential  string    `json:"credential,omitempty"`
	Plate       string    `json:"plate"`
	EntryTime   time.Time `json:"entryTime"`
	ExitTime    time.Time `json:"exitTime"`
	Fee         int       `json:"fee"`
	PaidPrepaid int       `json:"paidFromPrepaid"`
	Shortfall   int       `json:"shortfall"`
}

// historyLog appends settled exits to history.csv. The file stays open
// with a flush per row, same discipline as any long-running CSV log.
type historyLog struct {
	mu     sync.Mutex
	path   string
	file   *os.File
	writer *csv.Writer
}

func openHistory(path string) (*historyLog, error) {
	fresh := false
	if _, err := os.Stat(path); os.IsNotExist(err) {
		fresh = true
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("lot: open %s: %w", path, err)
	}
	h := &historyLog{path: path, file: f, writer: csv.NewWriter(f)}
	if fresh {
		if err := h.writer.Write(historyHeader); err != nil {
			f.Close()
			return nil, err
		}
		h.writer.Flush()
	}
	return h, nil
}

func (h *historyLog) Append(r *Receipt) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	row := []string{
		r.Credential, r.Plate,
		formatTime(r.EntryTime), formatTime(r.ExitTime),
		strconv.Itoa(r.Fee), strconv.Itoa(r.PaidPrepaid), strconv.Itoa(r.Shortfall),
	}
	if err := h.writer.Write(row); err != nil {
		return fmt.Errorf("lot: append history: %w", err)
	}
	h.writer.Flush()
	return h.writer.Error()
}

func (h *historyLog) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.writer.Flush()
	return h.file.Close()
}

// History reads back the full exit log, oldest first.
func (s *Store) History() ([]HistoryEntry, error) {
	rows, err := readCSV(s.history.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]HistoryEntry, 0, len(rows))
	for _, row := range rows {
		if len(row) < len(historyHeader) {
			continue
		}
		e := HistoryEntry{
			Credential: row[0],
			Plate:      row[1],
			EntryTime:  parseTime(row[2]),
			ExitTime:   parseTime(row[3]),
		}
		e.Fee, _ = strconv.Atoi(row[4])
		e.PaidPrepaid, _ = strconv.Atoi(row[5])
		e.Shortfall, _ = strconv.Atoi(row[6])
		out = append(out, e)
	}
	return out, nil
}
