package mcts

import (
	"math"
	"math/rand"
)

var uniform = [3]float32{1.0 / 3.0, 1.0 / 3.0, 1.0 / 3.0}

// Sampler turns Q-vectors into move distributions ("softermax") and draws from them.
type Sampler struct {
	base float64
	rng  *rand.Rand
}

// NewSampler returns a sampler with the given softmax base. base must be > 1;
// the larger it is the more mass goes to the best move.
func NewSampler(base float64, rng *rand.Rand) *Sampler {
	return &Sampler{base: base, rng: rng}
}

// Softermax computes p_i proportional to base^atanh(z_i).
//
// atanh stretches [-1,1] over the whole real line, so values near the ends are
// separated much more than a linear score would. A move at exactly -1 gets no
// mass. If every move is at -1 the result is uniform.
func (s *Sampler) Softermax(z [3]float32) [3]float32 {
	var normalized [3]float64
	var sum float64
	infinite := 0
	for i, v := range z {
		x := float64(v)
		switch {
		case math.IsNaN(x) || x < -1:
			x = -1
		case x > 1:
			x = 1
		}
		normalized[i] = math.Pow(s.base, math.Atanh(x))
		if math.IsInf(normalized[i], 1) {
			infinite++
		}
		sum += normalized[i]
	}

	// Certain wins share the mass between themselves.
	if infinite > 0 {
		var out [3]float32
		for i, n := range normalized {
			if math.IsInf(n, 1) {
				out[i] = float32(1.0 / float64(infinite))
			}
		}
		return out
	}
	if sum == 0 {
		return uniform
	}

	var out [3]float32
	for i, n := range normalized {
		out[i] = float32(n / sum)
	}
	return out
}

// Sample draws a move index from probs.
func (s *Sampler) Sample(probs [3]float32) int {
	r := s.rng.Float32()
	cumulative := float32(0)
	last := 0
	for i, p := range probs {
		if p <= 0 {
			continue
		}
		last = i
		cumulative += p
		if r < cumulative {
			return i
		}
	}
	return last
}

// Argmax picks the best move. Ties are broken by the two-step comparison
// below, which prefers straight over turn-left and turn-right over both.
func Argmax(z [3]float32) int {
	if z[0] > z[1] {
		if z[0] > z[2] {
			return 0
		}
		return 2
	}
	if z[1] > z[2] {
		return 1
	}
	return 2
}

func dot(a, b [3]float32) float32 {
	return a[0]*b[0] + a[1]*b[1] + a[2]*b[2]
}
