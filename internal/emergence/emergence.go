// Package emergence implements the Emergence Generator: a
// deterministic, reseedable procedural engine that relaxes a seeded array
// of floats into an EmergencePattern, scored by order/harmony/beauty.
//
// Every number in this file is reproducible from its seed; no call here
// ever reads the clock or a random source mid-computation.
package emergence

import (
	"math"
	"time"

	"github.com/seleneswarm/swarmcore/internal/protocol"
)

const (
	patternSize        = 50
	defaultIterations  = 100
	collectiveIterations = 200
	lcgMultiplier      = 1664525
	lcgIncrement       = 1013904223
	lcgModulus         = 1 << 32
	relaxationPull     = 0.3
	goldenRatio        = 1.618033988749895
)

// Engine generates EmergencePatterns from integer seeds.
type Engine struct{}

// NewEngine constructs an Engine. It holds no mutable state: every method
// is a pure function of its arguments.
func NewEngine() *Engine {
	return &Engine{}
}

// lcgSeed returns the 50-element initial pattern derived from seed via the
// linear congruential generator.
func lcgSeed(seed uint32) [patternSize]float64 {
	var out [patternSize]float64
	state := seed
	for i := 0; i < patternSize; i++ {
		state = uint32((lcgMultiplier*uint64(state) + lcgIncrement) % lcgModulus)
		out[i] = float64(state)/float64(lcgModulus)*2 - 1
	}
	return out
}

// Generate runs the full relaxation for `iterations` steps (0 means the
// default of 100) starting from the LCG-seeded initial array, and returns
// the resulting EmergencePattern. Evolution records one summary state per
// iteration; only the final state carries the full pattern array.
func (e *Engine) Generate(id string, seed uint32, iterations int) protocol.EmergencePattern {
	if iterations <= 0 {
		iterations = defaultIterations
	}

	pattern := lcgSeed(seed)
	entropy := 1.0
	evolution := make([]protocol.EmergenceState, 0, iterations)

	var order, harmony float64
	for i := 0; i < iterations; i++ {
		pattern = relax(pattern)
		variance := varianceOf(pattern[:])
		convergence := math.Max(0, 1-2*variance)
		entropy = math.Max(0.1, 0.95*entropy+0.05*(1-convergence))

		order = orderOf(pattern[:])
		harmony = harmonyOf(pattern[:])
		beauty := clamp01(order * (1 - entropy) * harmony)

		evolution = append(evolution, protocol.EmergenceState{
			Iteration: i + 1,
			Entropy:   entropy,
			Order:     order,
			Beauty:    beauty,
		})
	}

	variance := varianceOf(pattern[:])
	beauty := clamp01(order * (1 - entropy) * harmony)
	complexity := complexityOf(variance, entropy)

	final := protocol.EmergenceState{
		Iteration: iterations,
		Entropy:   entropy,
		Order:     order,
		Beauty:    beauty,
		Pattern:   append([]float64(nil), pattern[:]...),
	}

	return protocol.EmergencePattern{
		ID:         id,
		Seed:       int64(seed),
		Complexity: complexity,
		Harmony:    harmony,
		Evolution:  evolution,
		Final:      final,
		Timestamp:  time.Now(),
	}
}

// relax pulls each element 0.3 toward the mean of its two cyclic
// neighbors, clamped to [-1,1].
func relax(pattern [patternSize]float64) [patternSize]float64 {
	n := len(pattern)
	var next [patternSize]float64
	for i := 0; i < n; i++ {
		prev := pattern[(i-1+n)%n]
		nxt := pattern[(i+1)%n]
		neighborMean := (prev + nxt) / 2
		next[i] = clampUnit(pattern[i] + relaxationPull*(neighborMean-pattern[i]))
	}
	return next
}

func varianceOf(pattern []float64) float64 {
	mean := 0.0
	for _, v := range pattern {
		mean += v
	}
	mean /= float64(len(pattern))

	sumSq := 0.0
	for _, v := range pattern {
		d := v - mean
		sumSq += d * d
	}
	return sumSq / float64(len(pattern))
}

// orderOf is the mean similarity (1 - |pattern[i]-pattern[i+p]|) averaged
// over periods p in {2,3,4,5}.
func orderOf(pattern []float64) float64 {
	n := len(pattern)
	periods := []int{2, 3, 4, 5}
	total := 0.0
	count := 0
	for _, p := range periods {
		for i := 0; i < n; i++ {
			diff := math.Abs(pattern[i] - pattern[(i+p)%n])
			total += 1 - diff
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return total / float64(count)
}

// harmonyOf rewards smooth transitions and adjacent ratios near the golden
// ratio.
func harmonyOf(pattern []float64) float64 {
	n := len(pattern)
	smoothness := 0.0
	goldenness := 0.0
	for i := 0; i < n; i++ {
		a := pattern[i]
		b := pattern[(i+1)%n]
		smoothness += 1 - math.Abs(a-b)/2

		denom := math.Max(0.001, math.Abs(a))
		ratio := math.Abs(b) / denom
		goldenness += 1 - math.Min(1, math.Abs(ratio-goldenRatio)/goldenRatio)
	}
	smoothness /= float64(n)
	goldenness /= float64(n)
	return clamp01(0.5*smoothness + 0.5*goldenness)
}

// complexityOf combines variance and entropy. The variance term is passed
// through a floored-absolute-value log to avoid a singularity at zero,
// then rescaled back to the variance term's native range before blending.
func complexityOf(variance, entropy float64) float64 {
	logVariance := math.Log(math.Max(0.001, math.Abs(variance)))
	dampened := math.Max(0, 1+logVariance/10)
	return clamp01((dampened*variance + entropy/10) / 2)
}

func clampUnit(v float64) float64 {
	if v < -1 {
		return -1
	}
	if v > 1 {
		return 1
	}
	return v
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

// CollectivePattern re-runs the engine with the sum of the given seeds
// for collectiveIterations (200) steps.
func (e *Engine) CollectivePattern(id string, seeds []uint32) protocol.EmergencePattern {
	var sum uint64
	for _, s := range seeds {
		sum += uint64(s)
	}
	combined := uint32(sum % lcgModulus)
	return e.Generate(id, combined, collectiveIterations)
}

// CollectiveBeauty returns the beauty score of the collective pattern.
func (e *Engine) CollectiveBeauty(id string, seeds []uint32) float64 {
	return e.CollectivePattern(id, seeds).Final.Beauty
}
