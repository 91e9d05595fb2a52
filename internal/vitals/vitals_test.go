package vitals

import (
	"testing"

	"github.com/seleneswarm/swarmcore/internal/protocol"
)

type fakeSampler struct {
	cpuNanos    float64
	uptime      float64
	cpuCount    int
	heapUsed    uint64
	heapTotal   uint64
	loadAvg     float64
	connections int
}

func (f fakeSampler) CPUTimeNanos() float64    { return f.cpuNanos }
func (f fakeSampler) UptimeSeconds() float64   { return f.uptime }
func (f fakeSampler) CPUCount() int            { return f.cpuCount }
func (f fakeSampler) HeapUsed() uint64         { return f.heapUsed }
func (f fakeSampler) HeapTotal() uint64        { return f.heapTotal }
func (f fakeSampler) LoadAverage1m() float64   { return f.loadAvg }
func (f fakeSampler) ActiveConnections() int   { return f.connections }

func TestSource_Sample_HealthCriticalWhenMemoryAbove90Percent(t *testing.T) {
	s := NewSource(fakeSampler{
		uptime: 10, cpuCount: 4, cpuNanos: 1e9,
		heapUsed: 95, heapTotal: 100,
	})
	v := s.Sample()
	if v.Health != protocol.HealthCritical {
		t.Fatalf("expected critical health at 95%% memory, got %s", v.Health)
	}
}

func TestSource_Sample_HealthCriticalWhenCPUAbove95Percent(t *testing.T) {
	s := NewSource(fakeSampler{
		uptime: 1, cpuCount: 1, cpuNanos: 0.97e9,
		heapUsed: 10, heapTotal: 100,
	})
	v := s.Sample()
	if v.Health != protocol.HealthCritical {
		t.Fatalf("expected critical health at 97%% cpu, got %s", v.Health)
	}
}

func TestSource_Sample_HealthWarningBetweenThresholds(t *testing.T) {
	s := NewSource(fakeSampler{
		uptime: 10, cpuCount: 4, cpuNanos: 1e9,
		heapUsed: 85, heapTotal: 100,
	})
	v := s.Sample()
	if v.Health != protocol.HealthWarning {
		t.Fatalf("expected warning health at 85%% memory, got %s", v.Health)
	}
}

func TestSource_Sample_HealthHealthyWhenNominal(t *testing.T) {
	s := NewSource(fakeSampler{
		uptime: 100, cpuCount: 8, cpuNanos: 1e9,
		heapUsed: 10, heapTotal: 100,
	})
	v := s.Sample()
	if v.Health != protocol.HealthHealthy {
		t.Fatalf("expected healthy at low load, got %s", v.Health)
	}
	if v.Load.CPU < 0 || v.Load.CPU > 1 {
		t.Fatalf("cpu load out of [0,1]: %f", v.Load.CPU)
	}
	if v.Load.Memory < 0 || v.Load.Memory > 1 {
		t.Fatalf("memory load out of [0,1]: %f", v.Load.Memory)
	}
}

func TestSource_UpdateSigns_SmoothsTowardObservation(t *testing.T) {
	s := NewSource(fakeSampler{uptime: 1, cpuCount: 1, heapTotal: 1})
	v := protocol.Vitals{Health: protocol.HealthHealthy}

	first := s.UpdateSigns(v, 1.0, 1.0, 1.0)
	if first.Harmony <= 0 || first.Harmony >= 1 {
		t.Fatalf("expected partial movement toward observation on first update, got %f", first.Harmony)
	}

	var last protocol.VitalSigns
	for i := 0; i < 200; i++ {
		last = s.UpdateSigns(v, 1.0, 1.0, 1.0)
	}
	if last.Harmony < 0.99 {
		t.Fatalf("expected convergence toward 1.0 after many updates, got %f", last.Harmony)
	}
}

func TestSource_UpdateSigns_ClampsToUnitInterval(t *testing.T) {
	s := NewSource(fakeSampler{uptime: 1, cpuCount: 1, heapTotal: 1})
	v := protocol.Vitals{Health: protocol.HealthHealthy}

	signs := s.UpdateSigns(v, 5.0, -5.0, 2.0)
	if signs.Harmony < 0 || signs.Harmony > 1 {
		t.Fatalf("harmony not clamped: %f", signs.Harmony)
	}
	if signs.Creativity < 0 || signs.Creativity > 1 {
		t.Fatalf("creativity not clamped: %f", signs.Creativity)
	}
}
