// Arbiterd is the UAV mission safety and navigation arbiter daemon.
//
// It loads configuration, connects to the vehicle link (the built-in
// simulator or a WebSocket bridge), runs the mission controller, and serves
// the operator HTTP/WebSocket API. Shutdown is handled gracefully on SIGINT
// or SIGTERM.
package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/large-farva/flight-arbiter/internal/app"
	"github.com/large-farva/flight-arbiter/internal/config"
)

func main() {
	var (
		configPath = pflag.StringP("config", "c", "/etc/flight-arbiter/arbiter.toml", "Path to config TOML")
		bind       = pflag.String("bind", "", "HTTP bind address (overrides server.bind)")
		link       = pflag.String("link", "", "Vehicle link kind: sim or websocket (overrides link.kind)")
		defaults   = pflag.Bool("defaults", false, "Run with built-in defaults instead of a config file")
	)
	pflag.Parse()

	cfg := config.Default()
	if !*defaults {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			log.Fatalf("config load failed: %v", err)
		}
	}
	switch *link {
	case "":
	case "sim", "websocket":
		cfg.Link.Kind = *link
	default:
		log.Fatalf("unknown link kind %q", *link)
	}

	opts := app.Options{Cfg: cfg, Bind: *bind}
	if !*defaults {
		opts.ConfigPath = *configPath
	}
	a := app.New(opts)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("arbiterd failed: %v", err)
	}

	// Brief pause so in-flight log writes can flush before exit.
	time.Sleep(50 * time.Millisecond)
}
