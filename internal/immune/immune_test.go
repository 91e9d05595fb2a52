package immune

import (
	"context"
	"testing"
	"time"

	"github.com/seleneswarm/swarmcore/internal/breaker"
	"github.com/seleneswarm/swarmcore/internal/budget"
	"github.com/seleneswarm/swarmcore/internal/protocol"
)

func newTestSystem() *System {
	b := breaker.New(breaker.Options{FailureThreshold: 100, MonitoringWindow: time.Minute, Timeout: time.Second})
	return New(b, nil, Options{})
}

func TestSystem_New_PreloadsThreeBaseDefenses(t *testing.T) {
	s := newTestSystem()
	if len(s.Defenses()) != 3 {
		t.Fatalf("expected 3 pre-loaded base defenses, got %d", len(s.Defenses()))
	}
}

func TestSystem_Scan_IgnoresReadingsBelowThreshold(t *testing.T) {
	s := newTestSystem()
	responses := s.Scan(context.Background(), []VitalsReading{
		{PeerID: "peer-1", CPULoad: 0.1, MemoryPressure: 0.1, SystemLoad: 0.1},
	})
	if len(responses) != 0 {
		t.Fatalf("expected no responses below threat level threshold, got %d", len(responses))
	}
}

func TestSystem_Scan_CriticalLevelTriggersIsolation(t *testing.T) {
	s := newTestSystem()
	responses := s.Scan(context.Background(), []VitalsReading{
		{PeerID: "peer-1", CPULoad: 0.95, MemoryPressure: 0.95, SystemLoad: 0.95},
	})
	if len(responses) != 1 {
		t.Fatalf("expected 1 response, got %d", len(responses))
	}
	if responses[0].Action != protocol.ActionIsolation {
		t.Fatalf("expected isolation response at critical level, got %s", responses[0].Action)
	}
	if !s.IsQuarantined("peer-1") {
		t.Fatalf("expected peer to be quarantined after isolation response")
	}
}

func TestSystem_Scan_MediumLevelTriggersAdaptation(t *testing.T) {
	s := newTestSystem()
	responses := s.Scan(context.Background(), []VitalsReading{
		{PeerID: "peer-2", CPULoad: 0.65, MemoryPressure: 0.6, SystemLoad: 0.6},
	})
	if len(responses) != 1 || responses[0].Action != protocol.ActionAdaptation {
		t.Fatalf("expected adaptation response at medium level, got %+v", responses)
	}
}

func TestSystem_QuarantinePeer_CapsActiveZonesAtFive(t *testing.T) {
	s := newTestSystem()
	for i := 0; i < 7; i++ {
		s.quarantinePeer("peer-x", "threat-x", "test")
	}
	if len(s.QuarantineZones()) != maxQuarantineZones {
		t.Fatalf("expected quarantine zones capped at %d, got %d", maxQuarantineZones, len(s.QuarantineZones()))
	}
}

func TestSimilarity_IdenticalMarkersScoreOne(t *testing.T) {
	markers := []protocol.BehavioralMarker{{Name: "latency", Value: 0.5}, {Name: "errors", Value: 0.3}}
	score := similarity(markers, markers)
	if score != 1.0 {
		t.Fatalf("expected identical markers to score 1.0, got %f", score)
	}
}

func TestSimilarity_NoOverlapScoresZero(t *testing.T) {
	a := []protocol.BehavioralMarker{{Name: "latency", Value: 0.5}}
	b := []protocol.BehavioralMarker{{Name: "errors", Value: 0.5}}
	if similarity(a, b) != 0 {
		t.Fatalf("expected no overlapping markers to score 0")
	}
}

func TestSystem_RegisterSignature_CapsCatalogAtTwenty(t *testing.T) {
	s := newTestSystem()
	for i := 0; i < 25; i++ {
		s.RegisterSignature(protocol.ThreatSignature{ID: "sig"})
	}
	if len(s.Signatures()) != maxThreatSignatures {
		t.Fatalf("expected signature catalog capped at %d, got %d", maxThreatSignatures, len(s.Signatures()))
	}
}

func TestSystem_Scan_SkipsResponsesWhenBreakerOpen(t *testing.T) {
	b := breaker.New(breaker.Options{FailureThreshold: 1, MonitoringWindow: time.Minute, Timeout: time.Second})
	b.Execute(context.Background(), func(context.Context) error { return errTest })
	if b.State() != breaker.Open {
		t.Fatalf("expected breaker to be open for test setup")
	}

	s := New(b, nil, Options{})
	responses := s.Scan(context.Background(), []VitalsReading{
		{PeerID: "peer-1", CPULoad: 0.95, MemoryPressure: 0.95, SystemLoad: 0.95},
	})
	if len(responses) != 0 {
		t.Fatalf("expected scan to skip responses while breaker is open, got %d", len(responses))
	}
}

func TestSystem_Scan_DefersResponsesWhenBudgetExhausted(t *testing.T) {
	b := breaker.New(breaker.Options{FailureThreshold: 100, MonitoringWindow: time.Minute, Timeout: time.Second})
	bucket := budget.New(25, time.Hour)
	defer bucket.Close()

	s := New(b, bucket, Options{})
	critical := []VitalsReading{{PeerID: "peer-1", CPULoad: 0.95, MemoryPressure: 0.95, SystemLoad: 0.95}}

	// First isolation costs 20 of the 25 tokens; the second cannot afford
	// another 20 and must be deferred, with the scan itself unaffected.
	if got := len(s.Scan(context.Background(), critical)); got != 1 {
		t.Fatalf("expected first critical scan to respond, got %d responses", got)
	}
	if got := len(s.Scan(context.Background(), critical)); got != 0 {
		t.Fatalf("expected second response to be deferred on exhausted budget, got %d", got)
	}
	if bucket.Remaining() != 5 {
		t.Fatalf("expected deferred response to leave tokens untouched, remaining=%d", bucket.Remaining())
	}
}

var errTest = context.DeadlineExceeded
