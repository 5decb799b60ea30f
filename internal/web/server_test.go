package web

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hvnguyen/smartpark/internal/config"
	"github.com/hvnguyen/smartpark/internal/lot"
	"github.com/hvnguyen/smartpark/internal/metrics"
)

func newTestServer(t *testing.T) (*httptest.Server, *lot.Store) {
	t.Helper()
	store, err := lot.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	srv := New(config.Default(), store, metrics.New())
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)
	return ts, store
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func TestReservationIntake(t *testing.T) {
	ts, _ := newTestServer(t)

	req := lot.ReservationRequest{
		Name: "Nguyen Van A", Phone: "0901234567",
		Plate: "51F-12345", Bay: "A3", ExpectedHours: 2, Prepaid: 20000,
	}
	resp := postJSON(t, ts.URL+"/api/reservations", req)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var res lot.Reservation
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	require.NotEmpty(t, res.ID)
	require.Equal(t, "reserved", res.Status)

	// The same bay cannot be booked twice.
	req.Plate = "29A-5678"
	resp2 := postJSON(t, ts.URL+"/api/reservations", req)
	defer resp2.Body.Close()
	require.Equal(t, http.StatusConflict, resp2.StatusCode)

	// Missing fields are a client error.
	resp3 := postJSON(t, ts.URL+"/api/reservations", lot.ReservationRequest{Plate: "30E-1111"})
	defer resp3.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp3.StatusCode)
}

func TestSpotsSnapshot(t *testing.T) {
	ts, store := newTestServer(t)
	require.NoError(t, store.CommitEntry("A2", "29A-5678", "CAFE01", time.Now()))

	resp, err := http.Get(ts.URL + "/api/spots")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var spots []lot.SpotView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&spots))
	require.Len(t, spots, 4)
	require.Equal(t, "occupied", spots[1].Status)
	require.Equal(t, "29A-5678", spots[1].Plate)
}

func TestConfigEndpointHotReload(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/config", map[string]any{
		"billing": map[string]any{"feePerHour": 7000},
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	get, err := http.Get(ts.URL + "/api/config")
	require.NoError(t, err)
	defer get.Body.Close()

	var cfg struct {
		Billing struct {
			FeePerHour int `json:"feePerHour"`
			RoundUnit  int `json:"roundUnit"`
		} `json:"billing"`
	}
	require.NoError(t, json.NewDecoder(get.Body).Decode(&cfg))
	require.Equal(t, 7000, cfg.Billing.FeePerHour)
	require.Equal(t, 1000, cfg.Billing.RoundUnit)
}

func TestMetricsExposed(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
