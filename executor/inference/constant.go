package inference

import (
	"context"

	"github.com/brensch/alphasnake/encode"
)

// Constant is a value oracle that scores every move of every state the same.
// It is used for smoke tests and for running search without a trained model.
type Constant [3]float32

func (c Constant) Evaluate(_ context.Context, states []encode.StateTensor) ([][3]float32, error) {
	out := make([][3]float32, len(states))
	for i := range out {
		out[i] = c
	}
	return out, nil
}

func (Constant) Stats() RuntimeStats { return RuntimeStats{} }

func (Constant) Close() error { return nil }
