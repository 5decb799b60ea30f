package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Set holds the controller's Prometheus instruments on a private
// registry, so tests can build as many Sets as they like without
// duplicate-registration panics.
type Set struct {
	reg *prometheus.Registry

	Triggers     *prometheus.CounterVec
	BusyDrops    *prometheus.CounterVec
	OCRFailures  prometheus.Counter
	MoveTimeouts prometheus.Counter
	Entries      prometheus.Counter
	Exits        prometheus.Counter
	DroppedLines prometheus.Counter

	OccupiedBays prometheus.Gauge
	Position     prometheus.Gauge
}

func New() *Set {
	s := &Set{
		reg: prometheus.NewRegistry(),
		Triggers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "smartpark_triggers_total",
			Help: "Accepted gate triggers by direction and kind.",
		}, []string{"direction", "kind"}),
		BusyDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "smartpark_busy_drops_total",
			Help: "Triggers dropped because the direction was busy.",
		}, []string{"direction"}),
		OCRFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "smartpark_ocr_failures_total",
			Help: "Plate recognition attempts that produced no usable plate.",
		}),
		MoveTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "smartpark_move_timeouts_total",
			Help: "Carousel moves that never confirmed arrival.",
		}),
		Entries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "smartpark_entries_total",
			Help: "Committed vehicle entries.",
		}),
		Exits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "smartpark_exits_total",
			Help: "Committed vehicle exits.",
		}),
		DroppedLines: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "smartpark_dropped_lines_total",
			Help: "Event lines discarded by the serial listener.",
		}),
		OccupiedBays: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "smartpark_occupied_bays",
			Help: "Bays currently holding a vehicle.",
		}),
		Position: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "smartpark_turntable_position",
			Help: "Last confirmed carousel position.",
		}),
	}
	s.reg.MustRegister(
		s.Triggers, s.BusyDrops, s.OCRFailures, s.MoveTimeouts,
		s.Entries, s.Exits, s.DroppedLines, s.OccupiedBays, s.Position,
	)
	return s
}

// Handler serves this set's registry for the /metrics endpoint.
func (s *Set) Handler() http.Handler {
	return promhttp.HandlerFor(s.reg, promhttp.HandlerOpts{})
}
