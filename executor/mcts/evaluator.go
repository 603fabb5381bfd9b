package mcts

import (
	"context"
	"fmt"

	"github.com/brensch/alphasnake/encode"
)

type leafRequest struct {
	key    encode.StateKey
	tensor encode.StateTensor
}

// evaluator resolves Q-vectors for a batch of states, serving known states
// from the store and sending each unknown state to the oracle exactly once.
type evaluator struct {
	oracle    ValueOracle
	store     *Store
	threshold float32

	oracleCalls     int
	statesEvaluated int
}

func newEvaluator(oracle ValueOracle, store *Store, threshold float32) *evaluator {
	return &evaluator{oracle: oracle, store: store, threshold: threshold}
}

func (e *evaluator) evaluate(ctx context.Context, reqs []leafRequest) ([][3]float32, error) {
	out := make([][3]float32, len(reqs))

	// pending maps an unseen key to its slot in unique.
	pending := make(map[encode.StateKey]int)
	var unique []encode.StateTensor
	var uniqueKeys []encode.StateKey
	waiting := make(map[int]int)

	for i, r := range reqs {
		if q, ok := e.store.Lookup(r.key); ok {
			out[i] = q
			continue
		}
		slot, ok := pending[r.key]
		if !ok {
			slot = len(unique)
			pending[r.key] = slot
			unique = append(unique, r.tensor)
			uniqueKeys = append(uniqueKeys, r.key)
		}
		waiting[i] = slot
	}

	if len(unique) == 0 {
		return out, nil
	}

	raw, err := e.oracle.Evaluate(ctx, unique)
	if err != nil {
		return nil, fmt.Errorf("value oracle: %w", err)
	}
	if len(raw) != len(unique) {
		return nil, fmt.Errorf("value oracle returned %d vectors for %d states", len(raw), len(unique))
	}
	e.oracleCalls++
	e.statesEvaluated += len(unique)

	qs := make([][3]float32, len(unique))
	for j, t := range unique {
		qs[j] = e.store.EnsureInitialized(uniqueKeys[j], MaskLethal(t, raw[j], e.threshold))
	}
	for i, slot := range waiting {
		out[i] = qs[slot]
	}
	return out, nil
}

// MaskLethal forces the value of every move whose destination cell is at or
// below threshold on the obstacle channel to -1, whatever the oracle said.
func MaskLethal(t encode.StateTensor, v [3]float32, threshold float32) [3]float32 {
	cy, cx := t.Center()
	cells := [3][2]int{
		{cy, cx - 1}, // turn left
		{cy - 1, cx}, // straight
		{cy, cx + 1}, // turn right
	}
	for m, c := range cells {
		if c[0] < 0 || c[1] < 0 || c[1] >= t.Width || t.At(c[0], c[1], encode.ChannelObstacle) <= threshold {
			v[m] = -1.0
		}
	}
	return v
}
