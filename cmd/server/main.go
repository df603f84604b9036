// Command server runs an authoritative game server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-gl/mathgl/mgl32"

	"voxelstrike/netcore/internal/auth"
	"voxelstrike/netcore/internal/config"
	"voxelstrike/netcore/internal/health"
	"voxelstrike/netcore/internal/httpapi"
	"voxelstrike/netcore/internal/input"
	"voxelstrike/netcore/internal/logging"
	"voxelstrike/netcore/internal/master"
	"voxelstrike/netcore/internal/networking"
	"voxelstrike/netcore/internal/physics"
	"voxelstrike/netcore/internal/protocol"
	"voxelstrike/netcore/internal/replay"
	"voxelstrike/netcore/internal/server"
	"voxelstrike/netcore/internal/simulation"
	"voxelstrike/netcore/internal/transport"
)

type readiness struct {
	srv     *server.Server
	started time.Time
}

func (r readiness) SnapshotClientCounts() (int, int) {
	stats := r.srv.Stats()
	return stats.Clients, stats.Peers
}

func (r readiness) StartupError() error { return nil }

func (r readiness) Uptime() time.Duration { return time.Since(r.started) }

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	flag.StringVar(&cfg.Address, "addr", cfg.Address, "game transport listen address")
	flag.StringVar(&cfg.Proto, "proto", cfg.Proto, "game transport: tcp, kcp or ws")
	flag.IntVar(&cfg.TickRate, "tick-rate", cfg.TickRate, "simulation rate in Hz")
	flag.IntVar(&cfg.MaxClients, "max-clients", cfg.MaxClients, "maximum concurrent players")
	flag.StringVar(&cfg.DemoDir, "demo-dir", cfg.DemoDir, "directory for demo bundles; empty disables recording")
	flag.StringVar(&cfg.Logging.Path, "log-path", cfg.Logging.Path, "structured log file")
	flag.Parse()
	if cfg.TickRate <= 0 || cfg.TickRate > 240 {
		fmt.Fprintf(os.Stderr, "tick-rate must be in 1..240, got %d\n", cfg.TickRate)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logging:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", logging.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *logging.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	//1.- Codec and transport.
	compressor, err := protocol.CompressorByName(cfg.Compression)
	if err != nil {
		return err
	}
	codec, err := protocol.NewCodec(compressor, protocol.DefaultCompressThreshold)
	if err != nil {
		return err
	}
	tr, err := transport.Listen(cfg.Proto, cfg.Address, transport.Options{Logger: logger.With(logging.String("component", "transport")).Logr()})
	if err != nil {
		return err
	}
	logger.Info("game transport listening", logging.String("proto", tr.Proto()), logging.String("address", tr.Addr().String()))

	//2.- Simulation and server glue.
	var spawns []mgl32.Vec3
	for _, raw := range cfg.SpawnPoints {
		point, _ := config.ParseVec3(raw)
		spawns = append(spawns, mgl32.Vec3(point))
	}
	simOpts := []server.SimulationOption{server.WithSimulationLogger(logger)}
	if len(spawns) > 0 {
		simOpts = append(simOpts, server.WithSpawnPoints(server.NewSpawnRing(spawns...)))
	}
	sim := server.NewSimulation(server.SimulationConfig{TickRate: cfg.TickRate}, physics.NewMovement(physics.DefaultTuning()), nil, simOpts...)

	snapshots := networking.NewSnapshotMetrics()
	bandwidth := networking.NewBandwidthRegulator(networking.DefaultBandwidthLimitBytesPerSecond, nil)
	gate := input.NewGate(input.ConfigForTickRate(cfg.TickRate, server.MaxInputBuffer), logger)
	opts := []server.Option{
		server.WithCodec(codec),
		server.WithGate(gate),
		server.WithSnapshotMetrics(snapshots),
		server.WithBandwidth(bandwidth),
		server.WithLogger(logger),
	}
	if cfg.SessionSecret != "" {
		issuer, err := auth.NewIssuer(cfg.SessionSecret, cfg.SessionTTL, nil)
		if err != nil {
			return err
		}
		opts = append(opts, server.WithIssuer(issuer))
	}

	var (
		recorder *replay.Recorder
		cleaner  *replay.Cleaner
	)
	if cfg.DemoDir != "" {
		recorder, err = replay.NewRecorder(cfg.DemoDir, replay.Header{Mode: sim.ModeName(), TickRate: cfg.TickRate}, 0, nil)
		if err != nil {
			return err
		}
		cleaner = replay.NewCleaner(cfg.DemoDir, replay.RetentionPolicy{MaxMatches: cfg.DemoMaxMatches, MaxAge: cfg.DemoMaxAge}, logger)
		opts = append(opts, server.WithDemoSink(recorder))
	}

	srv, err := server.New(server.Config{MaxClients: cfg.MaxClients, ServerName: cfg.ServerName}, tr, sim, opts...)
	if err != nil {
		tr.Close()
		return err
	}

	//3.- Fixed-step loop.
	monitor := simulation.NewTickMonitor(time.Second / time.Duration(cfg.TickRate))
	loop := simulation.NewLoop(cfg.TickRate, srv.Step, simulation.WithMonitor(monitor))
	loop.Start(ctx)

	//4.- Operational surfaces.
	handlerOpts := httpapi.Options{
		Logger:      logger.With(logging.String("component", "httpapi")),
		Readiness:   readiness{srv: srv, started: time.Now()},
		ServerStats: srv.Stats,
		TickStats:   monitor.Snapshot,
		GateDrops:   srv.GateMetrics,
		Snapshots:   snapshots,
		Bandwidth:   bandwidth,
		AdminToken:  cfg.AdminToken,
		RateLimiter: httpapi.NewFlushLimiter(cfg.DemoFlushWindow, cfg.DemoFlushBurst, nil),
	}
	if recorder != nil {
		handlerOpts.Demo = httpapi.DemoFlusherFunc(func(context.Context) (string, error) { return recorder.Roll("") })
		handlerOpts.DemoStats = recorder.Snapshot
		handlerOpts.StorageStats = cleaner.Stats
		go cleaner.Run(ctx, time.Hour)
	}
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddress,
		Handler:           httpapi.NewHandlerSet(handlerOpts).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", logging.Error(err))
		}
	}()

	var healthSvc *health.Service
	if cfg.GRPCAddress != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddress)
		if err != nil {
			logger.Warn("grpc health disabled", logging.Error(err))
		} else {
			healthSvc = health.New(health.WithSharedSecret(cfg.AdminToken), health.WithLogger(logger))
			healthSvc.SetServing(true)
			go func() {
				if err := healthSvc.Serve(lis); err != nil {
					logger.Error("grpc health server failed", logging.Error(err))
				}
			}()
		}
	}

	registrar := master.NewRegistrar(cfg.MasterURL, cfg.MasterInterval, func() master.Listing {
		stats := srv.Stats()
		return master.Listing{
			Name:       cfg.ServerName,
			Address:    tr.Addr().String(),
			Players:    stats.Clients,
			MaxPlayers: cfg.MaxClients,
			Mode:       sim.ModeName(),
			TickRate:   cfg.TickRate,
		}
	}, logger)
	go registrar.Run(ctx)

	logger.Info("server started", logging.Int("tick_rate", cfg.TickRate), logging.Int("max_clients", cfg.MaxClients))
	<-ctx.Done()
	logger.Info("shutting down")

	//5.- Stop ticking before telling clients goodbye from this goroutine.
	if healthSvc != nil {
		healthSvc.SetServing(false)
	}
	loop.Stop()
	srv.Shutdown("server shutting down")
	if recorder != nil {
		if path, err := recorder.Roll(""); err == nil {
			logger.Info("final demo written", logging.String("path", path))
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", logging.Error(err))
	}
	if healthSvc != nil {
		healthSvc.Stop()
	}
	return tr.Close()
}
