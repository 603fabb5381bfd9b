package mcts

import (
	"context"
	"fmt"

	"github.com/brensch/alphasnake/encode"
	"github.com/brensch/alphasnake/sim"
)

// trace is the ordered list of edges one snake took during one iteration.
type trace struct {
	keys  []encode.StateKey
	moves []int
}

// playout is the move provider for a single search iteration. It evaluates
// and samples every requested snake, and backs up the snake's trace with the
// expected value of its current state before extending it.
type playout struct {
	store   *Store
	eval    *evaluator
	sampler *Sampler
	traces  map[string]map[string]*trace
}

func newPlayout(store *Store, eval *evaluator, sampler *Sampler, games map[string]*sim.Game) *playout {
	traces := make(map[string]map[string]*trace, len(games))
	for id, g := range games {
		snakes := g.Snakes()
		traces[id] = make(map[string]*trace, len(snakes))
		for _, s := range snakes {
			traces[id][s.Id] = &trace{}
		}
	}
	return &playout{store: store, eval: eval, sampler: sampler, traces: traces}
}

func (p *playout) trace(ref sim.SnakeRef) (*trace, error) {
	tr, ok := p.traces[ref.GameID][ref.SnakeID]
	if !ok {
		return nil, fmt.Errorf("playout %s: %w", ref, sim.ErrUnknownSnake)
	}
	return tr, nil
}

// MakeMoves implements sim.MoveProvider.
func (p *playout) MakeMoves(ctx context.Context, games map[string]*sim.Game, ids []sim.SnakeRef) ([]int, error) {
	reqs := make([]leafRequest, len(ids))
	for i, ref := range ids {
		g, ok := games[ref.GameID]
		if !ok {
			return nil, fmt.Errorf("playout: unknown game %s", ref.GameID)
		}
		t, err := g.Encode(ref.SnakeID)
		if err != nil {
			return nil, err
		}
		reqs[i] = leafRequest{key: t.Key(), tensor: t}
	}

	qs, err := p.eval.evaluate(ctx, reqs)
	if err != nil {
		return nil, err
	}

	moves := make([]int, len(ids))
	for i, ref := range ids {
		tr, err := p.trace(ref)
		if err != nil {
			return nil, err
		}
		probs := p.sampler.Softermax(qs[i])
		moves[i] = p.sampler.Sample(probs)

		// Every edge so far receives the expected value of the current state.
		if err := p.backup(tr, dot(probs, qs[i])); err != nil {
			return nil, err
		}
		tr.keys = append(tr.keys, reqs[i].key)
		tr.moves = append(tr.moves, moves[i])
	}
	return moves, nil
}

func (p *playout) backup(tr *trace, reward float32) error {
	for j := len(tr.keys) - 1; j >= 0; j-- {
		if err := p.store.Backup(tr.keys[j], tr.moves[j], reward); err != nil {
			return err
		}
	}
	return nil
}

// finish backs up the full trace of every snake that reached a terminal
// outcome. Snakes without a reward are left alone.
func (p *playout) finish(rewards sim.Rewards) error {
	for gameID, snakes := range p.traces {
		for snakeID, tr := range snakes {
			r := rewards.Get(sim.SnakeRef{GameID: gameID, SnakeID: snakeID})
			if r == nil {
				continue
			}
			if err := p.backup(tr, *r); err != nil {
				return fmt.Errorf("terminal backup %s/%s: %w", gameID, snakeID, err)
			}
		}
	}
	return nil
}

// root returns the first state the snake visited this iteration.
func (p *playout) root(ref sim.SnakeRef) (encode.StateKey, bool) {
	tr, ok := p.traces[ref.GameID][ref.SnakeID]
	if !ok || len(tr.keys) == 0 {
		return "", false
	}
	return tr.keys[0], true
}
