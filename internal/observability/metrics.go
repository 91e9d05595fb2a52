// Package observability — metrics.go
//
// Prometheus metrics for the swarm coordinator.
//
// Endpoint: GET /metrics on 127.0.0.1:9092 (configurable).
// Format: Prometheus text exposition format (OpenMetrics compatible).
// Bind: loopback only — no external exposure.
//
// Metric naming convention: swarm_<subsystem>_<name>_<unit>
//
// All metrics are registered on a dedicated prometheus.Registry (not the
// default global registry) to avoid collisions with other instrumented
// libraries in the same process.
//
// Cardinality control:
//   - Peer/node id is NOT used as a label (unbounded cardinality).
//   - State labels use the enum string (small, fixed set).
package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metric descriptors for the coordinator.
type Metrics struct {
	registry *prometheus.Registry

	// ─── Coordinator ────────────────────────────────────────────────────

	// CoordinatorStateTransitionsTotal counts lifecycle state transitions.
	// Labels: from_state, to_state
	CoordinatorStateTransitionsTotal *prometheus.CounterVec

	// PeersKnown is the current size of the discovery peer cache.
	PeersKnown prometheus.Gauge

	// DiscoveryCyclesTotal counts completed discovery cycles.
	DiscoveryCyclesTotal prometheus.Counter

	// ─── Heartbeat ────────────────────────────────────────────────────

	// HeartbeatsWrittenTotal counts heartbeat writes to the fabric.
	HeartbeatsWrittenTotal prometheus.Counter

	// HeartbeatWriteLatency records fabric write latency for heartbeats.
	HeartbeatWriteLatency prometheus.Histogram

	// ─── SPECIES-ID ─────────────────────────────────────────────────────

	// SpeciesChallengesTotal counts challenge rounds, by outcome.
	// Labels: outcome (accepted, rejected, timeout)
	SpeciesChallengesTotal *prometheus.CounterVec

	// ─── Quantum Immune System ──────────────────────────────────────────

	// ThreatLevelGauge is the most recent computed threat level.
	ThreatLevelGauge prometheus.Gauge

	// ThreatsDetectedTotal counts detected threats, by severity.
	ThreatsDetectedTotal *prometheus.CounterVec

	// QuarantineZonesActive is the current count of active quarantine zones.
	QuarantineZonesActive prometheus.Gauge

	// ─── Quantum Log Replication ────────────────────────────────────────

	// LogEntriesAppendedTotal counts locally appended log entries.
	LogEntriesAppendedTotal prometheus.Counter

	// LogCommitIndex is the highest committed log index.
	LogCommitIndex prometheus.Gauge

	// ReplicationConflictsTotal counts detected conflicts, by kind.
	// Labels: kind (content, ordering, dependency)
	ReplicationConflictsTotal *prometheus.CounterVec

	// ─── Harmonic Consensus Engine ──────────────────────────────────────

	// ConsensusRoundsTotal counts consensus rounds, by outcome.
	// Labels: outcome (committed, read_only)
	ConsensusRoundsTotal *prometheus.CounterVec

	// ConsensusRoundDuration records wall time per consensus round.
	ConsensusRoundDuration prometheus.Histogram

	// HarmonicScoreGauge is the harmonic_score of the most recent result.
	HarmonicScoreGauge prometheus.Gauge

	// ─── Emergence Generator ─────────────────────────────────────────────

	// EmergencePatternsGeneratedTotal counts completed evolution runs.
	EmergencePatternsGeneratedTotal prometheus.Counter

	// ─── Coordinator uptime ───────────────────────────────────────────────────

	// CoordinatorUptimeSeconds is seconds since this coordinator awoke.
	CoordinatorUptimeSeconds prometheus.Gauge

	// startTime records when the coordinator started (for uptime calculation).
	startTime time.Time
}

// NewMetrics creates and registers all swarm coordinator Prometheus metrics.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		CoordinatorStateTransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "swarm",
			Subsystem: "coordinator",
			Name:      "state_transitions_total",
			Help:      "Total lifecycle state transitions, by from_state and to_state.",
		}, []string{"from_state", "to_state"}),

		PeersKnown: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "swarm",
			Subsystem: "coordinator",
			Name:      "peers_known",
			Help:      "Current size of the discovery peer cache.",
		}),

		DiscoveryCyclesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "swarm",
			Subsystem: "coordinator",
			Name:      "discovery_cycles_total",
			Help:      "Total completed discovery cycles.",
		}),

		HeartbeatsWrittenTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "swarm",
			Subsystem: "heartbeat",
			Name:      "written_total",
			Help:      "Total heartbeat writes to the fabric.",
		}),

		HeartbeatWriteLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "swarm",
			Subsystem: "heartbeat",
			Name:      "write_latency_seconds",
			Help:      "Fabric write latency for heartbeat writes, in seconds.",
			Buckets:   prometheus.DefBuckets,
		}),

		SpeciesChallengesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "swarm",
			Subsystem: "species",
			Name:      "challenges_total",
			Help:      "Total SPECIES-ID challenge rounds, by outcome.",
		}, []string{"outcome"}),

		ThreatLevelGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "swarm",
			Subsystem: "immune",
			Name:      "threat_level",
			Help:      "Most recently computed aggregate threat level, in [0,1].",
		}),

		ThreatsDetectedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "swarm",
			Subsystem: "immune",
			Name:      "threats_detected_total",
			Help:      "Total detected threats, by severity.",
		}, []string{"severity"}),

		QuarantineZonesActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "swarm",
			Subsystem: "immune",
			Name:      "quarantine_zones_active",
			Help:      "Current number of active quarantine zones.",
		}),

		LogEntriesAppendedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "swarm",
			Subsystem: "replication",
			Name:      "entries_appended_total",
			Help:      "Total log entries appended locally.",
		}),

		LogCommitIndex: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "swarm",
			Subsystem: "replication",
			Name:      "commit_index",
			Help:      "Highest committed log index.",
		}),

		ReplicationConflictsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "swarm",
			Subsystem: "replication",
			Name:      "conflicts_total",
			Help:      "Total detected replication conflicts, by kind.",
		}, []string{"kind"}),

		ConsensusRoundsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "swarm",
			Subsystem: "consensus",
			Name:      "rounds_total",
			Help:      "Total consensus rounds, by outcome.",
		}, []string{"outcome"}),

		ConsensusRoundDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "swarm",
			Subsystem: "consensus",
			Name:      "round_duration_seconds",
			Help:      "Wall-clock duration of a consensus round, in seconds.",
			Buckets:   prometheus.DefBuckets,
		}),

		HarmonicScoreGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "swarm",
			Subsystem: "consensus",
			Name:      "harmonic_score",
			Help:      "harmonic_score of the most recent ConsensusResult.",
		}),

		EmergencePatternsGeneratedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "swarm",
			Subsystem: "emergence",
			Name:      "patterns_generated_total",
			Help:      "Total completed emergence pattern evolution runs.",
		}),

		CoordinatorUptimeSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "swarm",
			Subsystem: "coordinator",
			Name:      "uptime_seconds",
			Help:      "Number of seconds since this coordinator awoke.",
		}),
	}

	reg.MustRegister(
		m.CoordinatorStateTransitionsTotal,
		m.PeersKnown,
		m.DiscoveryCyclesTotal,
		m.HeartbeatsWrittenTotal,
		m.HeartbeatWriteLatency,
		m.SpeciesChallengesTotal,
		m.ThreatLevelGauge,
		m.ThreatsDetectedTotal,
		m.QuarantineZonesActive,
		m.LogEntriesAppendedTotal,
		m.LogCommitIndex,
		m.ReplicationConflictsTotal,
		m.ConsensusRoundsTotal,
		m.ConsensusRoundDuration,
		m.HarmonicScoreGauge,
		m.EmergencePatternsGeneratedTotal,
		m.CoordinatorUptimeSeconds,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)

	return m
}

// ServeMetrics starts the Prometheus HTTP metrics server on the given address.
// Blocks until ctx is cancelled or the server fails.
func (m *Metrics) ServeMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go m.updateUptime(ctx)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("metrics server on %s: %w", addr, err)
	}
	return nil
}

// updateUptime periodically updates the CoordinatorUptimeSeconds gauge.
func (m *Metrics) updateUptime(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.CoordinatorUptimeSeconds.Set(time.Since(m.startTime).Seconds())
		case <-ctx.Done():
			return
		}
	}
}
