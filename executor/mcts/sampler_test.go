package mcts

import (
	"math/rand"
	"testing"
)

func TestSoftermax_IsDistribution(t *testing.T) {
	s := NewSampler(1000, rand.New(rand.NewSource(1)))
	inputs := [][3]float32{
		{0, 0, 0},
		{-1, 0, 0.5},
		{0.99, -0.99, 0},
		{1, 0.5, -1},
		{1, 1, -1},
		{-3, 2, 0},
	}
	for _, z := range inputs {
		p := s.Softermax(z)
		var sum float32
		for _, v := range p {
			if v < 0 || v > 1 {
				t.Fatalf("softermax(%v)=%v has out of range entry", z, p)
			}
			sum += v
		}
		if !approx(sum, 1) {
			t.Fatalf("softermax(%v)=%v sums to %v", z, p, sum)
		}
	}
}

func TestSoftermax_Edges(t *testing.T) {
	s := NewSampler(1000, rand.New(rand.NewSource(1)))

	if p := s.Softermax([3]float32{-1, -1, -1}); p != uniform {
		t.Fatalf("all lethal: %v want uniform", p)
	}
	if p := s.Softermax([3]float32{-1, 0, 0}); p[0] != 0 || !approx(p[1], 0.5) {
		t.Fatalf("lethal move got mass: %v", p)
	}
	if p := s.Softermax([3]float32{1, 0.9, 1}); p != [3]float32{0.5, 0, 0.5} {
		t.Fatalf("certain wins: %v", p)
	}
	// Larger values always get more mass.
	p := s.Softermax([3]float32{0.1, 0.2, 0.3})
	if !(p[0] < p[1] && p[1] < p[2]) {
		t.Fatalf("not monotone: %v", p)
	}
}

func TestSample_NeverPicksZeroMass(t *testing.T) {
	s := NewSampler(1000, rand.New(rand.NewSource(7)))
	for i := 0; i < 1000; i++ {
		if m := s.Sample([3]float32{0, 1, 0}); m != 1 {
			t.Fatalf("sample=%d want 1", m)
		}
		if m := s.Sample([3]float32{0.5, 0, 0.5}); m == 1 {
			t.Fatal("sampled a zero probability move")
		}
	}
}

func TestSample_UniformOnEqualValues(t *testing.T) {
	s := NewSampler(1000, rand.New(rand.NewSource(42)))
	const n = 30000
	var counts [3]int
	for i := 0; i < n; i++ {
		counts[s.Sample(s.Softermax([3]float32{0, 0, 0}))]++
	}
	for m, c := range counts {
		f := float64(c) / n
		if f < 0.31 || f > 0.36 {
			t.Fatalf("move %d frequency %.3f, counts=%v", m, f, counts)
		}
	}
}

func TestArgmax(t *testing.T) {
	tests := []struct {
		z    [3]float32
		want int
	}{
		{[3]float32{0.2, 0.9, 0.5}, 1},
		{[3]float32{0.9, 0.2, 0.5}, 0},
		{[3]float32{0.2, 0.5, 0.9}, 2},
		{[3]float32{0.5, 0.5, 0.2}, 1},
		{[3]float32{0.5, 0.2, 0.5}, 2},
		{[3]float32{0, 0, 0}, 2},
		{[3]float32{-1, -1, -0.5}, 2},
	}
	for _, tt := range tests {
		if got := Argmax(tt.z); got != tt.want {
			t.Errorf("Argmax(%v)=%d want %d", tt.z, got, tt.want)
		}
	}
}
