// Package vitals produces a coordinator's Vitals and VitalSigns from
// process/host measurements. Vitals are unsmoothed snapshots; the
// VitalSigns aesthetic signals are smoothed with an EWMA.
package vitals

import (
	"runtime"
	"sync"
	"time"

	"github.com/seleneswarm/swarmcore/internal/protocol"
)

// Sampler exposes the raw process/host measurements vitals are derived
// from. The default implementation reads runtime.MemStats and process
// uptime; tests substitute a fake.
type Sampler interface {
	// CPUTimeNanos returns cumulative process CPU time in nanoseconds.
	CPUTimeNanos() float64
	// UptimeSeconds returns process uptime in seconds.
	UptimeSeconds() float64
	// CPUCount returns the number of usable CPUs.
	CPUCount() int
	// HeapUsed and HeapTotal are in bytes.
	HeapUsed() uint64
	HeapTotal() uint64
	// LoadAverage1m is a normalized [0,1] host load reading.
	LoadAverage1m() float64
	// ActiveConnections is the current count of open peer connections.
	ActiveConnections() int
}

// runtimeSampler is the production Sampler backed by the Go runtime.
type runtimeSampler struct {
	start       time.Time
	connCounter func() int
}

// NewRuntimeSampler returns a Sampler reading real process/runtime state.
// connCounter supplies the current active connection count; pass a constant
// closure if unavailable.
func NewRuntimeSampler(connCounter func() int) Sampler {
	if connCounter == nil {
		connCounter = func() int { return 0 }
	}
	return &runtimeSampler{start: time.Now(), connCounter: connCounter}
}

func (s *runtimeSampler) CPUTimeNanos() float64 {
	// runtime does not expose cumulative process CPU time portably;
	// approximate with GC CPU fraction over uptime.
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return m.GCCPUFraction * s.UptimeSeconds() * float64(runtime.NumCPU()) * 1e9
}

func (s *runtimeSampler) UptimeSeconds() float64 {
	return time.Since(s.start).Seconds()
}

func (s *runtimeSampler) CPUCount() int { return runtime.NumCPU() }

func (s *runtimeSampler) HeapUsed() uint64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return m.HeapAlloc
}

func (s *runtimeSampler) HeapTotal() uint64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	if m.HeapSys == 0 {
		return 1
	}
	return m.HeapSys
}

func (s *runtimeSampler) LoadAverage1m() float64 { return 0 }

func (s *runtimeSampler) ActiveConnections() int { return s.connCounter() }

// Source produces Vitals/VitalSigns readings for one coordinator.
type Source struct {
	mu      sync.Mutex
	sampler Sampler

	// harmony/creativity/stress are EWMA-smoothed aesthetic signals fed
	// by the soul's scalars at update time.
	alpha    float64
	harmony  float64
	creative float64
	stress   float64
}

// NewSource creates a Source reading from sampler.
func NewSource(sampler Sampler) *Source {
	return &Source{sampler: sampler, alpha: 0.8}
}

// Sample computes the current Vitals snapshot.
func (s *Source) Sample() protocol.Vitals {
	uptime := s.sampler.UptimeSeconds()
	cpuCount := float64(s.sampler.CPUCount())
	if cpuCount <= 0 {
		cpuCount = 1
	}

	cpu := 0.0
	if uptime > 0 {
		cpu = s.sampler.CPUTimeNanos() / (uptime * cpuCount * 1e9)
	}
	cpu = clamp01(cpu)

	heapTotal := s.sampler.HeapTotal()
	memory := 0.0
	if heapTotal > 0 {
		memory = float64(s.sampler.HeapUsed()) / float64(heapTotal)
	}
	memory = clamp01(memory)

	network := clamp01(0.5*s.sampler.LoadAverage1m() + 0.5*connectionPressure(s.sampler.ActiveConnections()))

	health := protocol.HealthHealthy
	switch {
	case memory > 0.9 || cpu > 0.95:
		health = protocol.HealthCritical
	case memory > 0.8 || cpu > 0.8:
		health = protocol.HealthWarning
	}

	return protocol.Vitals{
		Health: health,
		Load: protocol.Load{
			CPU:     cpu,
			Memory:  memory,
			Network: network,
			Storage: 0,
		},
		Connections: s.sampler.ActiveConnections(),
		UptimeMs:    int64(uptime * 1000),
	}
}

// connectionPressure maps an active connection count linearly onto [0,1],
// saturating at 32 peers.
func connectionPressure(active int) float64 {
	return clamp01(float64(active) / 32.0)
}

// UpdateSigns advances the EWMA-smoothed aesthetic signals toward the given
// instantaneous observations and returns the resulting VitalSigns.
func (s *Source) UpdateSigns(v protocol.Vitals, harmonyObs, creativityObs, stressObs float64) protocol.VitalSigns {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.harmony = ewma(s.alpha, s.harmony, harmonyObs)
	s.creative = ewma(s.alpha, s.creative, creativityObs)
	s.stress = ewma(s.alpha, s.stress, stressObs)

	health := healthScalar(v.Health)

	return protocol.VitalSigns{
		Health:     health,
		Harmony:    clamp01(s.harmony),
		Creativity: clamp01(s.creative),
		Stress:     clamp01(s.stress),
	}
}

func ewma(alpha, prev, observed float64) float64 {
	return alpha*prev + (1-alpha)*observed
}

func healthScalar(h protocol.HealthLevel) float64 {
	switch h {
	case protocol.HealthOptimal:
		return 1.0
	case protocol.HealthHealthy:
		return 0.8
	case protocol.HealthWarning:
		return 0.5
	case protocol.HealthCritical:
		return 0.2
	case protocol.HealthFailing:
		return 0.0
	default:
		return 0.5
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
