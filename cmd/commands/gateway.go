package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/smoothstream/internal/config"
	"github.com/dohr-michael/smoothstream/internal/events"
	"github.com/dohr-michael/smoothstream/internal/gateway"
	"github.com/dohr-michael/smoothstream/internal/heartbeat"
	"github.com/dohr-michael/smoothstream/internal/relay"
	"github.com/dohr-michael/smoothstream/internal/smooth"
	"github.com/dohr-michael/smoothstream/internal/storage"
)

// NewGatewayCommand returns the gateway subcommand.
func NewGatewayCommand() *cli.Command {
	return &cli.Command{
		Name:  "gateway",
		Usage: "Start the smoothstream gateway server",
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:  "host",
				Usage: "Host to listen on",
			},
			&cli.IntFlag{
				Name:  "port",
				Usage: "Port to listen on",
			},
		}, smoothingFlags()...),
		Action: runGateway,
	}
}

func runGateway(ctx context.Context, cmd *cli.Command) error {
	configPath := cmd.String("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Warn("config not found, using defaults", "path", configPath, "error", err)
		cfg = config.Default()
	}
	setupLogging(cmd, cfg.Log.SlogLevel())

	// CLI flags override config
	if cmd.IsSet("host") {
		cfg.Gateway.Host = cmd.String("host")
	}
	if cmd.IsSet("port") {
		cfg.Gateway.Port = int(cmd.Int("port"))
	}

	sc, err := smoothConfig(cmd, cfg)
	if err != nil {
		return fmt.Errorf("smoothing config: %w", err)
	}
	factory := smooth.NewFactory(sc)
	slog.Info("smoothing configured", "delay", sc.Delay, "chunking", sc.Chunking)

	if err := os.MkdirAll(config.HomePath(), 0o755); err != nil {
		return fmt.Errorf("create home: %w", err)
	}

	// Event bus
	bus := events.NewBus(cfg.Events.BufferSize)
	defer bus.Close()

	// Smoothing relay
	rl := relay.New(relay.Config{EventBus: bus, Factory: factory})
	defer rl.Close()

	// Sinks
	if dir := cfg.Storage.EventLogDir; dir != "" {
		el := storage.NewEventLogger(homeRelative(dir), bus)
		defer el.Close()
	}

	server := gateway.NewServer(bus, factory, cfg.Gateway.Host, cfg.Gateway.Port)

	if path := cfg.Storage.SQLitePath; path != "" {
		rec, err := storage.OpenSQLite(homeRelative(path))
		if err != nil {
			return err
		}
		defer rec.Close()
		rec.Attach(bus)
		server.SetRecorder(rec)
	}

	// Hot reload: sessions and connections opened afterwards use the new settings.
	reloader := config.NewReloader(configPath, config.DotenvPath(), cfg)
	reloader.OnReload(func(next *config.Config) {
		nsc, err := next.Smoothing.Smooth()
		if err != nil {
			slog.Error("reload smoothing", "error", err)
			return
		}
		nsc.Logger = slog.Default()
		f := smooth.NewFactory(nsc)
		rl.SetFactory(f)
		server.Hub().SetFactory(f)
	})
	stopReload := watchReload(ctx, reloader)
	defer stopReload()

	// Heartbeat
	hb := heartbeat.NewWriter(filepath.Join(config.HomePath(), "heartbeat.json"), server.Addr(), 0, func() heartbeat.Stats {
		return heartbeat.Stats{Sessions: rl.Sessions(), Clients: server.Hub().Clients()}
	})
	if err := hb.Start(); err != nil {
		slog.Warn("heartbeat disabled", "error", err)
	}
	defer hb.Stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// homeRelative resolves relative storage paths against the home directory.
func homeRelative(p string) string {
	if p == ":memory:" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(config.HomePath(), p)
}
