package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/hvnguyen/smartpark/internal/config"
	"github.com/hvnguyen/smartpark/internal/lot"
	"github.com/hvnguyen/smartpark/internal/metrics"
)

// Server exposes the reservation intake, the read-only lot state, the
// settings endpoint and a websocket feed of lot-state frames.
type Server struct {
	cfg   *config.Config
	store *lot.Store
	met   *metrics.Set

	clients   map[*wsClient]struct{}
	clientsMu sync.RWMutex
	upgrader  websocket.Upgrader
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Frame is the JSON structure pushed to websocket clients whenever the
// lot state changes.
type Frame struct {
	Spots        []lot.SpotView    `json:"spots"`
	Reservations []lot.Reservation `json:"reservations"`
	Stamp        int64             `json:"stamp"` // Unix ms
}

func New(cfg *config.Config, store *lot.Store, met *metrics.Set) *Server {
	return &Server{
		cfg:     cfg,
		store:   store,
		met:     met,
		clients: make(map[*wsClient]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Routes builds the HTTP surface.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/spots", s.handleSpots)
		r.Get("/reservations", s.handleListReservations)
		r.Post("/reservations", s.handleAddReservation)
		r.Delete("/reservations/{id}", s.handleCancelReservation)
		r.Get("/history", s.handleHistory)
		r.Get("/config", s.handleGetConfig)
		r.Post("/config", s.handlePostConfig)
	})
	r.Get("/ws", s.handleWS)
	r.Handle("/metrics", s.met.Handler())
	return r
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	addr := s.cfg.Server.ListenAddr
	srv := &http.Server{Addr: addr, Handler: s.Routes()}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	log.Printf("[web] listening on %s", addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleSpots(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.store.Spots())
}

func (s *Server) handleListReservations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.store.Reservations())
}

func (s *Server) handleAddReservation(w http.ResponseWriter, r *http.Request) {
	var req lot.ReservationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	res, err := s.store.AddReservation(req)
	if err != nil {
		switch {
		case errors.Is(err, lot.ErrMissingFields), errors.Is(err, lot.ErrUnknownBay):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, lot.ErrBayOccupied), errors.Is(err, lot.ErrBayReserved),
			errors.Is(err, lot.ErrPlateActive):
			writeError(w, http.StatusConflict, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(res)
}

func (s *Server) handleCancelReservation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.store.CancelReservation(id); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.History()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if entries == nil {
		entries = []lot.HistoryEntry{}
	}
	writeJSON(w, entries)
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	data, err := s.cfg.ToJSON()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func (s *Server) handlePostConfig(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad request")
		return
	}
	if err := s.cfg.UpdateFromJSON(body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.cfg.Save(); err != nil {
		log.Printf("[web] config save failed: %v", err)
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade error: %v", err)
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan []byte, 16),
	}

	s.clientsMu.Lock()
	s.clients[client] = struct{}{}
	total := len(s.clients)
	s.clientsMu.Unlock()
	log.Printf("[ws] client connected (%d total)", total)

	// Initial snapshot so the client renders immediately.
	if data, err := json.Marshal(s.frame()); err == nil {
		client.send <- data
	}

	// Writer goroutine
	go func() {
		defer conn.Close()
		for msg := range client.send {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				break
			}
		}
	}()

	// Reader goroutine (keep-alive; inbound messages are ignored)
	go func() {
		defer func() {
			s.clientsMu.Lock()
			delete(s.clients, client)
			total := len(s.clients)
			s.clientsMu.Unlock()
			close(client.send)
			log.Printf("[ws] client disconnected (%d total)", total)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

func (s *Server) frame() Frame {
	return Frame{
		Spots:        s.store.Spots(),
		Reservations: s.store.Reservations(),
		Stamp:        time.Now().UnixMilli(),
	}
}

// BroadcastState pushes the current lot state to all clients. Wired to
// the store's change hook. Slow clients are skipped, not waited on.
func (s *Server) BroadcastState() {
	data, err := json.Marshal(s.frame())
	if err != nil {
		return
	}

	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for client := range s.clients {
		select {
		case client.send <- data:
		default:
			// Client too slow, skip
		}
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
