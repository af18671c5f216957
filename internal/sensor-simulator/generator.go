package sensor_simulator

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// DataGenerator produces dust levels around a baseline. Longer sampling
// windows average out more of the noise, as a real counter would.
type DataGenerator struct {
	mu        sync.Mutex
	baseline  float64
	amplitude float64
	rng       *rand.Rand
}

func NewDataGenerator(baseline, amplitude float64, seed int64) *DataGenerator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &DataGenerator{
		baseline:  math.Max(0, baseline),
		amplitude: math.Max(0, amplitude),
		rng:       rand.New(rand.NewSource(seed)),
	}
}

// Next returns one reading for a sampling window of the given length.
func (g *DataGenerator) Next(sampled time.Duration) uint16 {
	g.mu.Lock()
	defer g.mu.Unlock()

	noise := g.rng.Float64()*2 - 1
	// a window shorter than 10s reads noisier
	if sampled > 0 && sampled < 10*time.Second {
		noise *= 1.5
	}
	return clampRegister(g.baseline + g.amplitude*noise)
}

func clampRegister(x float64) uint16 {
	switch {
	case x < 0:
		return 0
	case x > math.MaxUint16-1:
		return math.MaxUint16 - 1
	}
	return uint16(math.Round(x))
}
