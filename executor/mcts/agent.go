// Package mcts implements the value-network guided search that picks moves
// for one or more snakes across one or more live games.
//
// Each decision runs Breadth independent playouts from the real position.
// Playouts share a transposition Store, so statistics learned by one iteration
// steer the next. Leaf values come from a ValueOracle instead of random
// rollouts, and moves that certainly kill the snake are pinned to -1.
package mcts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/brensch/alphasnake/encode"
	"github.com/brensch/alphasnake/sim"
)

var ErrNoRoot = errors.New("no root statistics for snake")

// Config holds the search configuration.
type Config struct {
	// SoftmaxBase sharpens the move distribution; must be > 1.
	SoftmaxBase float64
	// MaxDepth is reduced by the number of snakes in a game to get its depth budget.
	MaxDepth int
	// Breadth is the number of playouts per decision.
	Breadth int
	// Training samples the final move and records training samples.
	Training bool
	// LethalThreshold is the obstacle value at or below which a move is masked.
	// Zero means encode.LethalThreshold; empty cells encode as 0 and must stay open.
	LethalThreshold float32
}

func DefaultConfig() Config {
	return Config{
		SoftmaxBase:     1000,
		MaxDepth:        8,
		Breadth:         32,
		LethalThreshold: encode.LethalThreshold,
	}
}

// Runner advances simulated games; sim.Runner is the default.
type Runner interface {
	Run(ctx context.Context, games map[string]*sim.Game, provider sim.MoveProvider, depth map[string]int) (sim.Rewards, error)
}

// Sample is one training example: the encoded root state of a snake and the
// Q-vector search produced for it.
type Sample struct {
	GameID  string
	SnakeID string
	Turn    int32
	State   encode.StateTensor
	Q       [3]float32
	Move    int
}

// DecisionStats summarises the last SelectMoves call.
type DecisionStats struct {
	Iterations      int
	OracleCalls     int
	StatesEvaluated int
	StoreSize       int
	Elapsed         time.Duration
}

type Option func(*Agent)

func WithRunner(r Runner) Option {
	return func(a *Agent) { a.runner = r }
}

func WithRand(rng *rand.Rand) Option {
	return func(a *Agent) { a.rng = rng }
}

func WithLogger(l *slog.Logger) Option {
	return func(a *Agent) { a.logger = l }
}

// Agent is the search orchestrator. It is not safe for concurrent use;
// run one Agent per goroutine.
type Agent struct {
	cfg     Config
	oracle  ValueOracle
	runner  Runner
	rng     *rand.Rand
	logger  *slog.Logger
	store   *Store
	sampler *Sampler

	samples []Sample
	last    DecisionStats
}

func NewAgent(oracle ValueOracle, cfg Config, opts ...Option) *Agent {
	def := DefaultConfig()
	if cfg.SoftmaxBase <= 1 {
		cfg.SoftmaxBase = def.SoftmaxBase
	}
	if cfg.MaxDepth < 1 {
		cfg.MaxDepth = 1
	}
	if cfg.Breadth < 1 {
		cfg.Breadth = 1
	}
	if cfg.LethalThreshold == 0 {
		cfg.LethalThreshold = def.LethalThreshold
	}

	a := &Agent{
		cfg:    cfg,
		oracle: oracle,
		store:  NewStore(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.runner == nil {
		a.runner = sim.NewRunner()
	}
	if a.rng == nil {
		a.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	a.sampler = NewSampler(cfg.SoftmaxBase, a.rng)
	return a
}

func (a *Agent) Config() Config { return a.cfg }

// Store exposes the transposition table of the current decision cycle.
func (a *Agent) Store() *Store { return a.store }

// LastStats returns statistics about the most recent SelectMoves call.
func (a *Agent) LastStats() DecisionStats { return a.last }

// Reset clears the decision-cycle state: the store and the training buffer.
func (a *Agent) Reset() {
	a.store.Reset()
	a.samples = nil
}

// TrainingSamples returns the samples recorded since the last Reset.
func (a *Agent) TrainingSamples() []Sample {
	return append([]Sample(nil), a.samples...)
}

// SelectMoves returns one relative move per requested snake, aligned with ids.
//
// If ctx is cancelled after at least one playout has completed, the moves are
// chosen from the statistics gathered so far.
func (a *Agent) SelectMoves(ctx context.Context, games map[string]*sim.Game, ids []sim.SnakeRef) ([]int, error) {
	start := time.Now()
	for _, ref := range ids {
		g, ok := games[ref.GameID]
		if !ok {
			return nil, fmt.Errorf("select moves: unknown game %s", ref.GameID)
		}
		if s := g.State().Snake(ref.SnakeID); s == nil || !s.Alive() {
			return nil, fmt.Errorf("select moves %s: %w", ref, sim.ErrUnknownSnake)
		}
	}

	depth := make(map[string]int, len(games))
	for id, g := range games {
		d := a.cfg.MaxDepth - len(g.Snakes())
		if d < 1 {
			d = 1
		}
		depth[id] = d
	}

	eval := newEvaluator(a.oracle, a.store, a.cfg.LethalThreshold)
	var last *playout
	completed := 0
	for i := 0; i < a.cfg.Breadth; i++ {
		if err := ctx.Err(); err != nil {
			if completed > 0 {
				break
			}
			return nil, err
		}

		subgames := make(map[string]*sim.Game, len(games))
		for id, g := range games {
			subgames[id] = g.Subgame(id)
		}
		pl := newPlayout(a.store, eval, a.sampler, subgames)

		rewards, err := a.runner.Run(ctx, subgames, pl, depth)
		if err != nil {
			if ctx.Err() != nil && completed > 0 {
				break
			}
			return nil, fmt.Errorf("playout %d: %w", i, err)
		}
		if err := pl.finish(rewards); err != nil {
			return nil, err
		}
		last = pl
		completed++
	}

	moves := make([]int, len(ids))
	for i, ref := range ids {
		key, ok := last.root(ref)
		if !ok {
			return nil, fmt.Errorf("select moves %s: %w", ref, ErrNoRoot)
		}
		q, ok := a.store.Lookup(key)
		if !ok {
			return nil, fmt.Errorf("select moves %s: %w", ref, ErrUnknownState)
		}

		if !a.cfg.Training {
			moves[i] = Argmax(q)
			continue
		}

		moves[i] = a.sampler.Sample(a.sampler.Softermax(q))
		g := games[ref.GameID]
		state, err := g.Encode(ref.SnakeID)
		if err != nil {
			return nil, err
		}
		a.samples = append(a.samples, Sample{
			GameID:  ref.GameID,
			SnakeID: ref.SnakeID,
			Turn:    g.Turn(),
			State:   state,
			Q:       q,
			Move:    moves[i],
		})
	}

	a.last = DecisionStats{
		Iterations:      completed,
		OracleCalls:     eval.oracleCalls,
		StatesEvaluated: eval.statesEvaluated,
		StoreSize:       a.store.Len(),
		Elapsed:         time.Since(start),
	}
	a.logger.Debug("search finished",
		"snakes", len(ids),
		"iterations", completed,
		"oracle_calls", eval.oracleCalls,
		"states", eval.statesEvaluated,
		"store", a.last.StoreSize,
		"elapsed", a.last.Elapsed,
	)
	return moves, nil
}
