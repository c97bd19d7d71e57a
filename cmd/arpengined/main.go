// Command arpengined is the small read-only HTTP+WebSocket status daemon
// spec.md §6 names as the other external collaborator: it runs the core
// engine against one interface and exposes its device table, blocked set
// and log-event stream over the network for a separate UI to render.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/gopacket/pcap"
	"github.com/gorilla/websocket"

	"arpengine"
	"arpengine/internal/blocking"
	"arpengine/internal/config"
	"arpengine/internal/netctx"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The status daemon is read-only and same-origin by default; a
	// deployment fronting it with a browser UI on another origin sets its
	// own reverse proxy, so no origin check is enforced here.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type daemon struct {
	eng     *arpengine.ArpEngine
	blocker *arpengine.BlockingEngine
	logger  *slog.Logger
}

func main() {
	iface := flag.String("iface", "", "interface to bind (required)")
	addr := flag.String("addr", ":8787", "HTTP listen address")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	if *iface == "" {
		logger.Error("arpengined: -iface is required")
		os.Exit(2)
	}

	// spec.md §6's fatal precondition: an empty pcap device list means this
	// host cannot capture at all, so fail fast rather than starting a
	// server that can never populate anything.
	devs, err := pcap.FindAllDevs()
	if err != nil || len(devs) == 0 {
		logger.Error("arpengined: no capturable devices found", "err", err)
		os.Exit(1)
	}

	if err := run(*iface, *addr, logger); err != nil {
		logger.Error("arpengined exiting", "err", err)
		os.Exit(1)
	}
}

func run(ifaceName, addr string, logger *slog.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer cancel()

	binding, err := netctx.NewBindingForInterface(ifaceName)
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	eng, err := arpengine.NewArpEngine(binding, cfg, logger)
	if err != nil {
		return err
	}
	defer eng.Close()

	eng.Start(ctx)
	go func() {
		if err := eng.Scan(ctx, nil); err != nil && ctx.Err() == nil {
			logger.Warn("initial scan", "err", err)
		}
	}()

	d := &daemon{eng: eng, logger: logger}

	if gw, ok := eng.Gateway(); ok {
		d.blocker = arpengine.NewBlockingEngine(eng, gw)
		if err := d.blocker.Start(ctx); err != nil {
			logger.Warn("starting blocking engine", "err", err)
			d.blocker = nil
		} else {
			defer d.blocker.Stop()
		}
	}

	srv := &http.Server{Addr: addr, Handler: d.routes()}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("arpengined listening", "addr", addr, "iface", ifaceName)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (d *daemon) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/devices", d.handleDevices)
	r.Get("/blocked", d.handleBlocked)
	r.Get("/gateway", d.handleGateway)
	r.Get("/logs", d.handleLogsWS)

	return r
}

func (d *daemon) handleDevices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, d.eng.Devices())
}

func (d *daemon) handleGateway(w http.ResponseWriter, r *http.Request) {
	gw, ok := d.eng.Gateway()
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	writeJSON(w, gw)
}

func (d *daemon) handleBlocked(w http.ResponseWriter, r *http.Request) {
	if d.blocker == nil {
		writeJSON(w, []*blocking.Info{})
		return
	}
	writeJSON(w, d.blocker.BlockedDevices())
}

// handleLogsWS upgrades to a WebSocket and forwards every log-bus event as a
// JSON text frame until the client disconnects.
func (d *daemon) handleLogsWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		d.logger.Warn("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	events, unsubscribe := d.eng.Logs()
	defer unsubscribe()

	for ev := range events {
		if err := conn.WriteJSON(ev); err != nil {
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
