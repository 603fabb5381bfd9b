package selfplay

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"

	"github.com/brensch/alphasnake/executor/mcts"
	"github.com/brensch/alphasnake/game"
	"github.com/brensch/alphasnake/rules"
	"github.com/brensch/alphasnake/sim"
	"github.com/brensch/alphasnake/store"
	"github.com/google/uuid"
	"github.com/muesli/termenv"
)

// Decider is the part of mcts.Agent a self-play game needs.
type Decider interface {
	SelectMoves(ctx context.Context, games map[string]*sim.Game, ids []sim.SnakeRef) ([]int, error)
	TrainingSamples() []mcts.Sample
	Reset()
}

type Config struct {
	Width    int32
	Height   int32
	Snakes   int
	MaxTurns int
	Food     rules.FoodSettings
	Source   string
	// Trace logs the board every turn at debug level.
	Trace        bool
	TraceProfile termenv.Profile
}

func DefaultConfig() Config {
	return Config{
		Width:        11,
		Height:       11,
		Snakes:       2,
		MaxTurns:     500,
		Food:         rules.DefaultFoodSettings,
		Source:       "selfplay",
		TraceProfile: termenv.Ascii,
	}
}

type GameResult struct {
	GameID   string
	WinnerID string
	Turns    int
	Rows     []store.TrainingRow
}

// StartPositions returns the standard Battlesnake spawn points for a board:
// the four corners one cell in, then the four edge midpoints.
func StartPositions(width, height int32) []game.Point {
	mnX, mnY := int32(1), int32(1)
	mdX, mdY := (width-1)/2, (height-1)/2
	mxX, mxY := width-2, height-2
	return []game.Point{
		{X: mnX, Y: mnY}, {X: mnX, Y: mxY}, {X: mxX, Y: mnY}, {X: mxX, Y: mxY},
		{X: mnX, Y: mdY}, {X: mdX, Y: mnY}, {X: mdX, Y: mxY}, {X: mxX, Y: mdY},
	}
}

// NewInitialState places cfg.Snakes snakes with stacked length-3 bodies on
// shuffled start positions and spawns the minimum food.
func NewInitialState(cfg Config, rng *rand.Rand) (*game.GameState, error) {
	starts := StartPositions(cfg.Width, cfg.Height)
	if cfg.Snakes < 1 || cfg.Snakes > len(starts) {
		return nil, fmt.Errorf("snakes must be between 1 and %d, got %d", len(starts), cfg.Snakes)
	}
	if cfg.Width < 5 || cfg.Height < 5 {
		return nil, fmt.Errorf("board %dx%d is too small", cfg.Width, cfg.Height)
	}
	// Corners fill up before edge midpoints.
	corners, edges := starts[:4], starts[4:]
	rng.Shuffle(len(corners), func(i, j int) { corners[i], corners[j] = corners[j], corners[i] })
	rng.Shuffle(len(edges), func(i, j int) { edges[i], edges[j] = edges[j], edges[i] })

	state := &game.GameState{Width: cfg.Width, Height: cfg.Height}
	for i := 0; i < cfg.Snakes; i++ {
		p := starts[i]
		state.Snakes = append(state.Snakes, game.Snake{
			Id:     fmt.Sprintf("snake%d", i+1),
			Health: rules.MaxHealth,
			Body:   []game.Point{p, p, p},
		})
	}
	rules.ApplyFoodSettings(state, rng, rules.FoodSettings{MinimumFood: cfg.Food.MinimumFood})
	return state, nil
}

// PlayGame plays one full game with agent choosing for every snake. Each turn
// is one decision cycle: all live snakes are searched together, samples are
// collected as rows and the agent is reset.
//
// onTurn, if set, is called after every turn. If ctx is cancelled the partial
// result is returned together with the context error.
func PlayGame(ctx context.Context, agent Decider, cfg Config, rng *rand.Rand, onTurn func()) (GameResult, error) {
	state, err := NewInitialState(cfg, rng)
	if err != nil {
		return GameResult{}, err
	}
	res := GameResult{GameID: uuid.NewString()}
	logger := slog.Default().With("game", res.GameID)

	g := sim.NewGame(res.GameID, state, sim.WithRand(rng), sim.WithFoodSettings(cfg.Food))
	games := map[string]*sim.Game{res.GameID: g}

	for !g.Over() && (cfg.MaxTurns <= 0 || int(g.Turn()) < cfg.MaxTurns) {
		if err := ctx.Err(); err != nil {
			res.Turns = int(g.Turn())
			return res, err
		}

		snakes := g.Snakes()
		ids := make([]sim.SnakeRef, len(snakes))
		for i, s := range snakes {
			ids[i] = sim.SnakeRef{GameID: res.GameID, SnakeID: s.Id}
		}

		moves, err := agent.SelectMoves(ctx, games, ids)
		if err != nil {
			agent.Reset()
			res.Turns = int(g.Turn())
			return res, fmt.Errorf("turn %d: %w", g.Turn(), err)
		}
		for _, s := range agent.TrainingSamples() {
			res.Rows = append(res.Rows, store.RowFromSample(s, cfg.Source))
		}
		agent.Reset()

		if cfg.Trace {
			logger.Debug("turn", "moves", moves, "board", "\n"+RenderBoard(g.State(), cfg.TraceProfile))
		}

		moveMap := make(map[string]int, len(ids))
		for i, ref := range ids {
			moveMap[ref.SnakeID] = moves[i]
		}
		died, err := g.Step(moveMap)
		if err != nil {
			return res, err
		}
		if len(died) > 0 {
			logger.Debug("snakes died", "turn", g.Turn(), "ids", died)
		}
		if onTurn != nil {
			onTurn()
		}
	}

	res.Turns = int(g.Turn())
	res.WinnerID, _ = g.Winner()
	return res, nil
}
