// Package main — cmd/swarmd/main.go
//
// Swarm coordinator entrypoint.
//
// Startup sequence:
//  1. Load and validate config from /etc/swarmcore/config.yaml.
//  2. Initialise structured logger (zap, JSON format).
//  3. Open the archive and quantum log BoltDB files.
//  4. Prune stale archive ledger entries.
//  5. Start Prometheus metrics server (127.0.0.1:9092).
//  6. Build the fabric: in-process only, or wrapped by the gRPC+mTLS peer
//     transport when fabric.peers is configured.
//  7. Construct and awaken the coordinator.
//  8. Start the operator socket (if enabled).
//  9. Register SIGHUP handler for config hot-reload.
// 10. Block on SIGINT/SIGTERM for graceful shutdown.
//
// Shutdown sequence (on SIGINT/SIGTERM):
//  1. Sleep the coordinator (stops cycles, deregisters fabric keys).
//  2. Cancel root context (propagates to all goroutines).
//  3. Close the fabric, quantum log, and archive.
//  4. Flush logger.
//  5. Exit 0.
//
// On config validation failure: exit 1 immediately.

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/seleneswarm/swarmcore/internal/config"
	"github.com/seleneswarm/swarmcore/internal/fabric"
	"github.com/seleneswarm/swarmcore/internal/observability"
	"github.com/seleneswarm/swarmcore/internal/operator"
	"github.com/seleneswarm/swarmcore/internal/ports"
	"github.com/seleneswarm/swarmcore/internal/replicationlog"
	"github.com/seleneswarm/swarmcore/internal/storage"
	"github.com/seleneswarm/swarmcore/internal/swarm"
	"github.com/seleneswarm/swarmcore/internal/transport"
)

func main() {
	// ── Flags ─────────────────────────────────────────────────────────────────
	configPath := flag.String("config", "/etc/swarmcore/config.yaml", "Path to config.yaml")
	version := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *version {
		fmt.Printf("swarmd %s (commit=%s built=%s)\n",
			config.Version, config.GitCommit, config.BuildTime)
		os.Exit(0)
	}

	// ── Step 1: Load config ───────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: config load failed: %v\n", err)
		os.Exit(1)
	}

	// ── Step 2: Initialise logger ─────────────────────────────────────────────
	log, err := buildLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync() //nolint:errcheck

	log.Info("swarmd starting",
		zap.String("version", config.Version),
		zap.String("commit", config.GitCommit),
		zap.String("built", config.BuildTime),
		zap.String("node_id", cfg.NodeID),
		zap.String("config", *configPath),
	)

	// ── Root context with cancellation ────────────────────────────────────────
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Step 3: Open BoltDB files ─────────────────────────────────────────────
	archive, err := storage.Open(cfg.Storage.ArchivePath, cfg.Storage.RetentionDays)
	if err != nil {
		log.Fatal("archive open failed", zap.Error(err),
			zap.String("path", cfg.Storage.ArchivePath))
	}
	defer archive.Close() //nolint:errcheck
	log.Info("archive opened", zap.String("path", cfg.Storage.ArchivePath))

	verifier := ports.NewDeterministicVerifier()
	qlog, err := replicationlog.Open(cfg.Storage.DBPath, verifier, cfg.Replication.MaxBatchSize)
	if err != nil {
		log.Fatal("quantum log open failed", zap.Error(err),
			zap.String("path", cfg.Storage.DBPath))
	}
	defer qlog.Close() //nolint:errcheck
	log.Info("quantum log opened", zap.String("path", cfg.Storage.DBPath))

	// ── Step 4: Prune stale archive entries ───────────────────────────────────
	pruned, err := archive.PruneOldAuditEntries()
	if err != nil {
		log.Warn("archive pruning failed", zap.Error(err))
	} else {
		log.Info("archive pruned", zap.Int("deleted", pruned))
	}

	// ── Step 5: Prometheus metrics ────────────────────────────────────────────
	metrics := observability.NewMetrics()
	go func() {
		if err := metrics.ServeMetrics(ctx, cfg.Observability.MetricsAddr); err != nil {
			log.Error("metrics server error", zap.Error(err))
		}
	}()
	log.Info("metrics server started", zap.String("addr", cfg.Observability.MetricsAddr))

	// ── Step 6: Fabric ────────────────────────────────────────────────────────
	fab, err := buildFabric(ctx, cfg, log)
	if err != nil {
		log.Fatal("fabric init failed", zap.Error(err))
	}
	defer fab.Close() //nolint:errcheck

	// ── Step 7: Coordinator ───────────────────────────────────────────────────
	coord := swarm.New(cfg, swarm.Dependencies{
		Fabric:         fab,
		Verifier:       verifier,
		Audit:          ports.NewMemoryAudit(),
		ReplicationLog: qlog,
		Metrics:        metrics,
		Archive:        archive,
		Logger:         log,
	})
	if err := coord.Awaken(ctx); err != nil {
		log.Fatal("coordinator awaken failed", zap.Error(err))
	}
	log.Info("coordinator awake", zap.String("status", string(coord.Status())))

	// ── Step 8: Operator socket ───────────────────────────────────────────────
	if cfg.Operator.Enabled {
		opSrv := operator.NewServer(cfg.Operator.SocketPath, coord, log)
		go func() {
			if err := opSrv.ListenAndServe(ctx); err != nil {
				log.Error("operator socket error", zap.Error(err))
			}
		}()
		log.Info("operator socket started", zap.String("path", cfg.Operator.SocketPath))
	}

	// ── Step 9: SIGHUP hot-reload ─────────────────────────────────────────────
	// Interval, threshold, and peer changes take effect at the next restart;
	// the reload only proves the file still validates so a bad edit is caught
	// before the operator walks away.
	sighup := make(chan os.Signal, 1)
	signal.Notify(sighup, syscall.SIGHUP)
	go func() {
		for range sighup {
			log.Info("SIGHUP received — reloading config...")
			newCfg, err := config.Load(*configPath)
			if err != nil {
				log.Error("config hot-reload failed — retaining old config", zap.Error(err))
				continue
			}
			log.Info("config hot-reload successful",
				zap.Duration("consensus_check_interval", newCfg.Consensus.CheckInterval),
				zap.Float64("consensus_threshold", newCfg.Consensus.Threshold))
		}
	}()

	// ── Step 10: Wait for shutdown signal ─────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("shutdown signal received", zap.String("signal", sig.String()))

	// Sleep before cancelling so the cycles stop on their timers rather than
	// mid-flight on a dead context.
	sleepCtx, sleepCancel := context.WithTimeout(context.Background(), 5*time.Second)
	coord.Sleep(sleepCtx)
	sleepCancel()
	cancel()

	log.Info("swarmd shutdown complete")
}

// buildFabric returns the in-process fabric, wrapped by the gRPC+mTLS peer
// transport when static peers are configured. The transport identity is
// generated fresh per process; the public key is logged so operators can
// add it to each peer's trusted set.
func buildFabric(ctx context.Context, cfg *config.Config, log *zap.Logger) (fabric.Fabric, error) {
	local := fabric.New()
	if len(cfg.Fabric.Peers) == 0 {
		log.Info("peer transport disabled (standalone mode)")
		return local, nil
	}

	identity, err := transport.GenerateIdentity(cfg.NodeID)
	if err != nil {
		return nil, err
	}
	log.Info("transport identity generated",
		zap.String("public_key", transport.EncodePublicKey(identity.PublicKey)))

	entries := make(map[string]string, len(cfg.Fabric.Peers))
	for _, p := range cfg.Fabric.Peers {
		entries[p.NodeID] = p.PublicKey
	}
	trusted, err := transport.TrustedPeerSet(entries)
	if err != nil {
		return nil, err
	}

	pf := transport.NewPeerFabric(local, cfg.NodeID, identity.PrivateKey, log)
	srv := transport.NewServer(cfg.NodeID, trusted, cfg.Fabric.EnvelopeTTL, pf, log)
	go func() {
		if err := transport.ListenAndServe(
			ctx,
			cfg.Fabric.ListenAddr,
			cfg.Fabric.TLSCertFile,
			cfg.Fabric.TLSKeyFile,
			cfg.Fabric.TLSCAFile,
			srv,
			log,
		); err != nil {
			log.Error("transport server error", zap.Error(err))
		}
	}()
	log.Info("transport server started", zap.String("addr", cfg.Fabric.ListenAddr))

	for _, p := range cfg.Fabric.Peers {
		peer, err := transport.DialPeer(ctx, p.NodeID, p.Addr,
			cfg.Fabric.TLSCertFile, cfg.Fabric.TLSKeyFile, cfg.Fabric.TLSCAFile)
		if err != nil {
			// Peers come and go; discovery keeps running without them.
			log.Warn("peer dial failed", zap.String("peer", p.NodeID),
				zap.String("addr", p.Addr), zap.Error(err))
			continue
		}
		pf.AddPeer(peer)
		log.Info("peer connected", zap.String("peer", p.NodeID), zap.String("addr", p.Addr))
	}
	return pf, nil
}

// buildLogger constructs a zap.Logger with the given level and format.
func buildLogger(level, format string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var cfg zap.Config
	if format == "console" {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)

	return cfg.Build()
}
