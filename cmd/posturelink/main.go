// Command posturelink runs the posture monitoring daemon: it keeps the
// device link alive, accounts seated time, syncs readings to the external
// store, and serves the local control API.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/posturedev/posturelink/internal/config"
	"github.com/posturedev/posturelink/internal/link"
	"github.com/posturedev/posturelink/internal/logging"
	"github.com/posturedev/posturelink/internal/notify"
	"github.com/posturedev/posturelink/internal/protocol"
	"github.com/posturedev/posturelink/internal/queue"
	"github.com/posturedev/posturelink/internal/server"
	"github.com/posturedev/posturelink/internal/session"
	"github.com/posturedev/posturelink/internal/store"
	"github.com/posturedev/posturelink/internal/syncer"
	"github.com/posturedev/posturelink/internal/transport"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	q, err := queue.Open(cfg.QueuePath, cfg.QueueCapacity)
	if err != nil {
		logger.Fatal("open offline buffer", zap.String("path", cfg.QueuePath), zap.Error(err))
	}
	defer q.Close()

	var st store.Store
	if cfg.StoreEnabled() {
		redisStore := store.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, logger)
		defer redisStore.Close()
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := redisStore.Ping(pingCtx); err != nil {
			logger.Warn("external store unreachable, buffering locally", zap.Error(err))
		}
		cancel()
		st = redisStore
	} else {
		logger.Info("no external store configured, running offline")
	}

	var archiver *syncer.Archiver
	if cfg.ArchiveEnabled() {
		archiver, err = syncer.NewArchiver(syncer.ArchiveConfig{
			Endpoint:  cfg.ArchiveEndpoint,
			Bucket:    cfg.ArchiveBucket,
			Prefix:    cfg.ArchivePrefix,
			AccessKey: cfg.ArchiveAccessKey,
			SecretKey: cfg.ArchiveSecretKey,
			Region:    cfg.ArchiveRegion,
		})
		if err != nil {
			logger.Fatal("init session archive", zap.Error(err))
		}
	}

	notifier := notify.NewDesktop(cfg.AlarmEnabled, logger)

	linkMetrics := link.NewMetrics()
	sessionMetrics := session.NewMetrics()
	syncMetrics := syncer.NewMetrics()

	sync := syncer.New(st, q, archiver, notifier, syncer.Config{OwnerID: cfg.OwnerID}, logger.Named("syncer"), syncMetrics)

	engine := session.NewEngine(session.Config{
		OwnerID:      cfg.OwnerID,
		SustainDelay: cfg.SustainDelay,
		BreakAfter:   cfg.BreakAfter,
		AlarmEnabled: cfg.AlarmEnabled,
	}, logger.Named("session"), sessionMetrics, notifier, func(rec session.Record) {
		recCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		sync.PersistSession(recCtx, rec)
	})

	var tr transport.Transport
	switch cfg.Transport {
	case "mqtt":
		hostname, _ := os.Hostname()
		tr = transport.NewMQTTTransport(cfg.MQTTBroker, cfg.MQTTPrefix, "posturelink-"+hostname)
	default:
		tr = transport.NewTCPTransport()
	}

	peers := make([]link.Peer, 0, len(cfg.Peers))
	for _, p := range cfg.Peers {
		peers = append(peers, link.Peer{Name: p.Name, Address: p.Address})
	}

	codec := protocol.NewCodec(cfg.LinkKey, cfg.LinkCRC, cfg.LinkCipher)
	ctrl := link.NewController(tr, codec, link.Config{
		Peers:       peers,
		PeerPattern: cfg.PeerPattern,
	}, logger.Named("link"), linkMetrics)

	// Persistence happens off the read loop so a slow store never stalls
	// line handling. The channel is lossy under sustained backpressure;
	// the device keeps reporting and history tolerates gaps.
	readings := make(chan protocol.Reading, 64)
	go func() {
		for r := range readings {
			writeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			sync.PersistReading(writeCtx, r)
			cancel()
		}
	}()

	unsubReadings := ctrl.SubscribeReadings(func(r protocol.Reading) {
		engine.OnReading(r)
		select {
		case readings <- r:
		default:
		}
	})
	defer unsubReadings()

	unsubState := ctrl.SubscribeState(func(s link.ConnectionState) {
		engine.OnConnectionState(s)
		if s == link.Disconnected {
			go func() {
				clearCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				sync.ClearCurrent(clearCtx)
			}()
		}
	})
	defer unsubState()

	registry := prometheus.NewRegistry()
	registry.MustRegister(linkMetrics.Collectors()...)
	registry.MustRegister(sessionMetrics.Collectors()...)
	registry.MustRegister(syncMetrics.Collectors()...)
	registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "posturelink_build_info",
		Help: "Build information",
	}, func() float64 { return 1 }))

	mux := http.NewServeMux()
	api := server.NewAPI(ctrl, engine, sync, logger.Named("api"))
	api.Routes(mux)
	mux.Handle("/metrics", server.MetricsHandler(registry))

	httpServer := server.NewHTTPServer(cfg.HTTPAddr, mux)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http serve", zap.Error(err))
		}
	}()
	logger.Info("control api listening", zap.String("addr", cfg.HTTPAddr))

	go ctrl.Run(ctx)
	go engine.RunClock(ctx)

	if peer, ok := ctrl.FindDefaultPeer(); ok {
		if err := ctrl.Connect(ctx, peer); err != nil {
			logger.Warn("initial connect failed, backoff reconnect scheduled",
				zap.String("peer", peer.Name), zap.Error(err))
		}
	} else {
		logger.Warn("no device matches the peer pattern", zap.String("pattern", cfg.PeerPattern))
	}

	<-ctx.Done()
	logger.Info("shutting down")

	if rec, ok := engine.Finalize(); ok {
		logger.Info("session finalized on shutdown", zap.Int64("duration_ms", rec.DurationMS))
	}
	ctrl.Disconnect()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
}
