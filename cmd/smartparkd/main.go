package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hvnguyen/smartpark/internal/anpr"
	"github.com/hvnguyen/smartpark/internal/camera"
	"github.com/hvnguyen/smartpark/internal/config"
	"github.com/hvnguyen/smartpark/internal/gate"
	"github.com/hvnguyen/smartpark/internal/lot"
	"github.com/hvnguyen/smartpark/internal/master"
	"github.com/hvnguyen/smartpark/internal/metrics"
	"github.com/hvnguyen/smartpark/internal/web"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to config file")
	demo := flag.Bool("demo", false, "Run with a simulated MASTER board and recognizer")
	listenAddr := flag.String("listen", "", "Override listen address (e.g. :8080)")
	serialPort := flag.String("port", "", "Override serial port path")
	flag.Parse()

	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	log.Println("[main] smartparkd starting")

	cfg := config.Load(*configPath)
	if *listenAddr != "" {
		cfg.Server.ListenAddr = *listenAddr
	}
	if *serialPort != "" {
		cfg.Serial.PortPath = *serialPort
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("[main] received %v, shutting down", sig)
		cancel()
	}()

	store, err := lot.Open(cfg.Data.Dir)
	if err != nil {
		log.Fatalf("[main] open ledgers: %v", err)
	}
	defer store.Close()

	met := metrics.New()

	srv := web.New(cfg, store, met)
	store.OnChange(srv.BroadcastState)

	var rec anpr.Recognizer
	switch {
	case *demo, cfg.ANPR.Type == "demo":
		rec = anpr.NewDemo()
	default:
		// The on-prem engine is driven through the same interface; until
		// its binding lands here the demo recognizer stands in for it.
		log.Printf("[main] anpr engine %q not available, using demo", cfg.ANPR.Type)
		rec = anpr.NewDemo()
	}
	log.Printf("[main] recognizer: %s", rec.Name())

	go runSerial(ctx, cfg, store, rec, met, *demo)

	if err := srv.Run(ctx); err != nil {
		log.Printf("[main] server exited: %v", err)
	}
}

// runSerial owns the MASTER connection lifecycle: connect with backoff,
// resync the carousel, run the listener and gate controller until the
// stream dies or the configured port changes, then start over. Ledgers
// and the web server live outside this loop and survive reconnects.
func runSerial(ctx context.Context, cfg *config.Config, store *lot.Store,
	rec anpr.Recognizer, met *metrics.Set, demo bool) {
	for ctx.Err() == nil {
		_, serialCfg := cfg.Snapshot()

		link := connect(ctx, serialCfg, demo)
		if link == nil {
			return // ctx cancelled
		}

		listener := master.NewListener(link.Reader())
		listener.Dropped = met.DroppedLines.Inc

		table := master.NewTurntable(link, listener.Arrivals())
		listener.OnArrived(table.SetPosition)
		if err := table.Resync(); err != nil {
			log.Printf("[main] resync failed: %v", err)
			link.Close()
			continue
		}

		ctrl := gate.New(gate.Deps{
			Panel:      master.NewPanel(link),
			Table:      table,
			Store:      store,
			CamIn:      camera.Open(cfg.Camera.In),
			CamOut:     camera.Open(cfg.Camera.Out),
			Recognizer: rec,
			Billing: func() config.BillingConfig {
				billing, _ := cfg.Snapshot()
				return billing
			},
			Metrics: met,
		})

		connCtx, cancelConn := context.WithCancel(ctx)
		go ctrl.Run(connCtx, listener)
		go watchPortChange(connCtx, cfg, serialCfg.PortPath, cancelConn)

		err := listener.Run(connCtx)
		cancelConn()
		link.Close()
		if ctx.Err() != nil {
			return
		}
		log.Printf("[main] event stream ended (%v), reconnecting", err)
	}
}

// connect dials the MASTER with exponential backoff. Starts at 1s,
// doubles up to 60s, keeps trying until it succeeds or ctx ends.
// Returns nil only on cancellation.
func connect(ctx context.Context, serialCfg config.SerialConfig, demo bool) master.Link {
	if demo || serialCfg.PortPath == "" {
		log.Println("[main] using simulated MASTER board")
		return master.NewDemoLink()
	}

	delay := 1 * time.Second
	maxDelay := 60 * time.Second
	attempt := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		link, err := master.Dial(serialCfg.PortPath, serialCfg.BaudRate)
		if err == nil {
			log.Printf("[main] MASTER connected (attempt %d)", attempt+1)
			return link
		}
		attempt++
		log.Printf("[main] connect attempt %d failed: %v (retry in %v)", attempt, err, delay)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}

// watchPortChange cancels the current connection when the operator
// changes the serial port through the settings endpoint, so the
// supervisor reconnects on the new path.
func watchPortChange(ctx context.Context, cfg *config.Config, current string, cancel context.CancelFunc) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, serialCfg := cfg.Snapshot()
			if serialCfg.PortPath != current {
				log.Printf("[main] serial port changed %q -> %q, reconnecting", current, serialCfg.PortPath)
				cancel()
				return
			}
		}
	}
}
