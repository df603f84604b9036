// Command client runs a headless bot that connects to a server, walks in a
// circle and reports its prediction health.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"voxelstrike/netcore/internal/client"
	"voxelstrike/netcore/internal/config"
	"voxelstrike/netcore/internal/httpapi"
	"voxelstrike/netcore/internal/logging"
	"voxelstrike/netcore/internal/prediction"
	"voxelstrike/netcore/internal/protocol"
	"voxelstrike/netcore/internal/state"
)

func main() {
	addr := flag.String("addr", "127.0.0.1"+config.DefaultAddr, "server address")
	proto := flag.String("proto", config.DefaultProto, "transport: tcp, kcp or ws")
	name := flag.String("name", "bot", "player name")
	token := flag.String("token", "", "session token for reconnects")
	compression := flag.String("compression", config.DefaultCompression, "payload compressor")
	fps := flag.Int("fps", 60, "render frames per second")
	duration := flag.Duration("duration", 0, "stop after this long; zero runs until interrupted")
	httpAddr := flag.String("http", "", "serve metrics on this address")
	logPath := flag.String("log-path", "netcore-client.log", "structured log file")
	logLevel := flag.String("log-level", config.DefaultLogLevel, "log level")
	flag.Parse()

	logger, err := logging.New(config.LoggingConfig{
		Level:      *logLevel,
		Path:       *logPath,
		MaxSizeMB:  config.DefaultLogMaxSizeMB,
		MaxBackups: config.DefaultLogMaxBackups,
		MaxAgeDays: config.DefaultLogMaxAgeDays,
		Compress:   config.DefaultLogCompress,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logging:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if *duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	compressor, err := protocol.CompressorByName(*compression)
	if err != nil {
		logger.Fatal("invalid compression", logging.Error(err))
	}
	codec, err := protocol.NewCodec(compressor, protocol.DefaultCompressThreshold)
	if err != nil {
		logger.Fatal("codec", logging.Error(err))
	}

	session, err := client.Dial(ctx, *proto, *addr, *name, *token, client.WithCodec(codec), client.WithLogger(logger))
	if err != nil {
		logger.Fatal("connect failed", logging.Error(err), logging.String("address", *addr))
	}
	identity := session.Identity()
	logger.Info("joined server",
		logging.Uint64("player_id", uint64(identity.PlayerID)),
		logging.Int("team", int(identity.Team)),
		logging.String("mode", identity.Mode),
		logging.String("session_token", identity.SessionToken))

	var corrections atomic.Uint64
	if *httpAddr != "" {
		handlers := httpapi.NewHandlerSet(httpapi.Options{Logger: logger, Corrections: corrections.Load})
		httpServer := &http.Server{Addr: *httpAddr, Handler: handlers.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server failed", logging.Error(err))
			}
		}()
		defer httpServer.Close()
	}

	if err := drive(ctx, session, identity.TickRate, *fps, &corrections); err != nil {
		logger.Warn("session ended", logging.Error(err))
	}
	stats := session.Stats()
	logger.Info("bot finished",
		logging.Uint64("inputs_sent", stats.InputsSent),
		logging.Uint64("corrections", stats.Prediction.Corrections),
		logging.Int("pending", stats.Pending))
	_ = session.Close()
}

// drive runs the frame loop: every frame polls the server and renders, and
// whole ticks of elapsed time each produce one input.
func drive(ctx context.Context, session *client.Session, tickRate, fps int, corrections *atomic.Uint64) error {
	if tickRate <= 0 {
		tickRate = config.DefaultTickRate
	}
	if fps <= 0 {
		fps = 60
	}
	step := time.Second / time.Duration(tickRate)
	frame := time.NewTicker(time.Second / time.Duration(fps))
	defer frame.Stop()

	last := time.Now()
	var accumulator time.Duration
	var ticks int
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-frame.C:
			delta := now.Sub(last)
			last = now
			session.Update(delta)
			if closed, reason := session.Closed(); closed {
				return fmt.Errorf("%w: %s", client.ErrDisconnected, reason)
			}
			accumulator += delta
			for accumulator >= step {
				accumulator -= step
				ticks++
				//1.- Walk forward while turning a full circle every four seconds.
				yaw := float32(math.Mod(float64(ticks)*2*math.Pi/float64(4*tickRate), 2*math.Pi))
				if err := session.Tick(state.ButtonForward, prediction.Camera{Yaw: yaw}); err != nil {
					return err
				}
			}
			session.Render()
			corrections.Store(session.Stats().Prediction.Corrections)
		}
	}
}
