package mcts

import (
	"context"

	"github.com/brensch/alphasnake/encode"
)

// ValueOracle scores a batch of states. Each result holds one value in [-1,1]
// per relative move (turn-left, straight, turn-right) and is aligned with the
// input batch. Implementations must be free of side effects.
type ValueOracle interface {
	Evaluate(ctx context.Context, states []encode.StateTensor) ([][3]float32, error)
}

// OracleFunc adapts a plain function to ValueOracle.
type OracleFunc func(ctx context.Context, states []encode.StateTensor) ([][3]float32, error)

func (f OracleFunc) Evaluate(ctx context.Context, states []encode.StateTensor) ([][3]float32, error) {
	return f(ctx, states)
}
