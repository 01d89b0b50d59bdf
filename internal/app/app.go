// Package app wires together the HTTP server, the WebSocket hub, the vehicle
// link and the mission controller. It owns the daemon's lifecycle: every
// long-running piece runs under one errgroup, so the first failure or a
// shutdown signal stops them all.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/large-farva/flight-arbiter/internal/clock"
	"github.com/large-farva/flight-arbiter/internal/config"
	"github.com/large-farva/flight-arbiter/internal/gateway"
	"github.com/large-farva/flight-arbiter/internal/logging"
	"github.com/large-farva/flight-arbiter/internal/mission"
	"github.com/large-farva/flight-arbiter/internal/sim"
	"github.com/large-farva/flight-arbiter/internal/store"
	"github.com/large-farva/flight-arbiter/internal/telemetry"
	"github.com/large-farva/flight-arbiter/internal/ws"
)

// Options holds everything the App needs from the caller.
type Options struct {
	Cfg        config.Config
	ConfigPath string
	Bind       string
}

// App is the top-level daemon process.
type App struct {
	log        *logging.Logger
	cfg        config.Config
	configPath string
	bind       string
	server     *http.Server

	startedAt time.Time

	wsHub    *ws.Hub
	gw       *gateway.Gateway
	vehicle  *sim.Vehicle
	ctrl     *mission.Controller
	store    *store.SQLite
	storeErr error
}

// New builds the daemon from configuration. Nothing is started until Run.
func New(opts Options) *App {
	a := &App{
		cfg:        opts.Cfg,
		configPath: opts.ConfigPath,
		bind:       opts.Bind,
		startedAt:  time.Now(),
	}
	a.wsHub = ws.NewHub(a.dispatchFrame, nil)
	a.log = logging.New("arbiterd", a.cfg.Logging, a.logSink)

	var link gateway.Link
	switch a.cfg.Link.Kind {
	case "websocket":
		link = &gateway.WSLink{
			URL:         a.cfg.Link.URL,
			DialTimeout: config.Seconds(a.cfg.Link.DialTimeoutSeconds),
			ReadTimeout: config.Seconds(a.cfg.Safety.ConnectionTimeoutSeconds) * 2,
			Log:         a.log.With("component", "link"),
		}
	default:
		a.vehicle = sim.New(a.cfg.Sim, a.log.With("component", "sim"))
		link = a.vehicle
	}

	a.gw = gateway.New(gateway.Options{
		Logger:         a.log.With("component", "gateway"),
		Clock:          clock.Real{},
		Link:           link,
		CommandTimeout: config.Seconds(a.cfg.Link.CommandTimeoutSeconds),
	})

	copts := mission.Options{
		Config:  a.cfg,
		Logger:  a.log.With("component", "mission"),
		Clock:   clock.Real{},
		Gateway: a.gw,
		Events:  a.wsHub,
	}
	if a.cfg.Storage.Path != "" {
		a.store = store.NewSQLite(a.cfg.Storage.Path)
		copts.Store = a.store
	}
	a.ctrl = mission.New(copts)
	return a
}

// Run starts every component and blocks until ctx is cancelled or one of
// them fails.
func (a *App) Run(ctx context.Context) error {
	defer a.log.Close()

	bind := a.bind
	if bind == "" {
		bind = a.cfg.Server.Bind
	}

	if a.store != nil {
		if a.storeErr = a.store.Init(); a.storeErr != nil {
			a.log.Error("summary store unavailable; summaries kept in memory only", "path", a.cfg.Storage.Path, "err", a.storeErr)
		}
		defer a.store.Close()
	}

	a.server = &http.Server{
		Addr:              bind,
		Handler:           a.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ln, err := net.Listen("tcp", bind)
	if err != nil {
		return err
	}
	a.log.Info("listening", "addr", "http://"+bind, "link", a.cfg.Link.Kind, "log_file", a.log.LogFile)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.wsHub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return a.ctrl.Run(gctx)
	})
	g.Go(func() error {
		a.heartbeatLoop(gctx)
		return nil
	})
	g.Go(func() error {
		if err := a.server.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.log.Info("shutdown requested")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func (a *App) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", a.handleHealthz)
	mux.HandleFunc("/api/status", a.handleStatus)
	mux.HandleFunc("/api/version", a.handleVersion)
	mux.HandleFunc("/api/config", a.handleConfig)
	mux.HandleFunc("/api/summaries", a.handleSummaries)
	mux.HandleFunc("/api/command", a.handleCommand)
	mux.HandleFunc("/api/sim/fault", a.handleSimFault)
	mux.Handle("/ws", a.wsHub.Handler())
	return mux
}

// heartbeatLoop sends a periodic heartbeat event so clients can detect
// connectivity and track uptime without polling.
func (a *App) heartbeatLoop(ctx context.Context) {
	t := time.NewTicker(time.Duration(a.cfg.Server.HeartbeatIntervalSeconds) * time.Second)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			a.wsHub.BroadcastJSON(a.heartbeat())
		}
	}
}

func (a *App) heartbeat() telemetry.Heartbeat {
	st := a.ctrl.Status()
	hb := telemetry.Heartbeat{
		Event:         telemetry.NewEvent(telemetry.EventHeartbeat),
		State:         mission.Idle.String(),
		Arbiter:       st.Arbiter.State,
		Link:          "down",
		UptimeSeconds: int64(time.Since(a.startedAt).Seconds()),
	}
	if st.Mission != nil {
		hb.State = st.Mission.State.String()
	}
	if st.Link.Connected {
		hb.Link = "up"
	}
	return hb
}

// logSink mirrors log records to WebSocket clients as log events.
func (a *App) logSink(level slog.Level, msg string, attrs map[string]any) {
	component, _ := attrs["component"].(string)
	a.wsHub.BroadcastJSON(telemetry.LogLine{
		Event:     telemetry.NewEvent(telemetry.EventLog),
		Level:     levelName(level),
		Component: component,
		Message:   msg,
	})
}

func levelName(l slog.Level) string {
	switch {
	case l >= slog.LevelError:
		return "error"
	case l >= slog.LevelWarn:
		return "warn"
	case l >= slog.LevelInfo:
		return "info"
	default:
		return "debug"
	}
}
