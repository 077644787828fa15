package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"codeberg.org/mutker/treadlink/internal/api"
	"codeberg.org/mutker/treadlink/internal/ble"
	"codeberg.org/mutker/treadlink/internal/config"
	"codeberg.org/mutker/treadlink/internal/coordinator"
	"codeberg.org/mutker/treadlink/internal/events"
	"codeberg.org/mutker/treadlink/internal/link"
	"codeberg.org/mutker/treadlink/internal/logger"
	"codeberg.org/mutker/treadlink/internal/protocol"
	"codeberg.org/mutker/treadlink/internal/session"
	"codeberg.org/mutker/treadlink/internal/sink"
	"codeberg.org/mutker/treadlink/internal/store"
)

const shutdownTimeout = 5 * time.Second

var cfg *config.Config

func init() {
	var err error
	cfg, err = config.Load()
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.Debug, cfg.Verbose, logger.IsService())
	logger.Debug().Msg("Config loaded")
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(cancel)

	if err := run(ctx); err != nil {
		logger.Fatal().Err(err).Msg("daemon failed")
	}
}

func run(ctx context.Context) error {
	repo, err := store.NewRepository(cfg.Database)
	if err != nil {
		return err
	}
	defer repo.Close()

	snk, err := sink.New(cfg.SinkKind, cfg.SinkURL, cfg.MQTTBroker, cfg.MQTTTopic)
	if err != nil {
		return err
	}
	defer snk.Close()

	transport, err := ble.NewTransport()
	if err != nil {
		return err
	}

	bus := events.NewBus()
	agg := session.NewAggregator(repo, time.Now())

	coord := coordinator.New(coordinator.Config{
		IdleWindow:        time.Duration(cfg.IdleWindow) * time.Second,
		IdleCheckInterval: time.Duration(cfg.IdleCheckInterval) * time.Second,
	}, agg, snk, bus)

	linkCfg := link.DefaultConfig()
	linkCfg.DeviceFilter = cfg.DeviceFilter
	linkCfg.ScanTimeout = time.Duration(cfg.ScanTimeout) * time.Second
	linkCfg.ConnectTimeout = time.Duration(cfg.ConnectTimeout) * time.Second
	linkCfg.PollInterval = time.Duration(cfg.PollInterval) * time.Millisecond
	linkCfg.ReconnectAttempts = cfg.ReconnectAttempts
	linkCfg.SilentThreshold = cfg.SilentThreshold

	mgr := link.NewManager(linkCfg, transport, protocol.NewCodec(), repo)
	mgr.Notify(coord.HandleState, coord.HandleSample)

	srv := api.NewServer(cfg.Listen, api.NewRouter(mgr, coord, bus))
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	go coord.Run(ctx)
	mgr.Start(ctx)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	logger.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}

func handleSignals(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	logger.Info().Msg("Received termination signal.")
	cancel()
}
