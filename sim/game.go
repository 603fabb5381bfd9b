// Package sim holds the playable game wrapper used by search and self-play,
// and the runner that advances many simulated games in lockstep.
package sim

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/brensch/alphasnake/encode"
	"github.com/brensch/alphasnake/game"
	"github.com/brensch/alphasnake/rules"
)

var ErrUnknownSnake = errors.New("unknown snake")

// SnakeRef names one snake in one game.
type SnakeRef struct {
	GameID  string
	SnakeID string
}

func (r SnakeRef) String() string {
	return r.GameID + "/" + r.SnakeID
}

// Game is a board plus the bookkeeping needed to play relative moves on it:
// each snake's heading, the food rules and the number of snakes it started with.
type Game struct {
	ID string

	state       *game.GameState
	headings    map[string]game.Direction
	startSnakes int
	food        rules.FoodSettings
	rng         *rand.Rand
}

type GameOption func(*Game)

// WithFoodSettings overrides rules.DefaultFoodSettings.
func WithFoodSettings(fs rules.FoodSettings) GameOption {
	return func(g *Game) { g.food = fs }
}

// WithRand sets the food RNG. Without it food placement is deterministic.
func WithRand(rng *rand.Rand) GameOption {
	return func(g *Game) { g.rng = rng }
}

// WithHeadings sets explicit headings, e.g. remembered from the previous turn.
// Snakes missing from the map fall back to the heading inferred from their body.
func WithHeadings(h map[string]game.Direction) GameOption {
	return func(g *Game) {
		for id, d := range h {
			g.headings[id] = d
		}
	}
}

// WithStartSnakes records how many snakes the game began with, which decides
// whether a lone survivor has won. Defaults to the current snake count.
func WithStartSnakes(n int) GameOption {
	return func(g *Game) { g.startSnakes = n }
}

// NewGame wraps state. The state is owned by the game from here on.
func NewGame(id string, state *game.GameState, opts ...GameOption) *Game {
	g := &Game{
		ID:          id,
		state:       state,
		headings:    make(map[string]game.Direction, len(state.Snakes)),
		startSnakes: len(state.Snakes),
		food:        rules.DefaultFoodSettings,
	}
	for i := range state.Snakes {
		g.headings[state.Snakes[i].Id] = game.HeadingOf(&state.Snakes[i])
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Subgame returns an independent copy for one search iteration. Copies use
// deterministic food placement so they never touch the parent's RNG.
func (g *Game) Subgame(id string) *Game {
	headings := make(map[string]game.Direction, len(g.headings))
	for k, v := range g.headings {
		headings[k] = v
	}
	return &Game{
		ID:          id,
		state:       g.state.Clone(),
		headings:    headings,
		startSnakes: g.startSnakes,
		food:        g.food,
	}
}

// State exposes the underlying board. Callers must not modify it.
func (g *Game) State() *game.GameState { return g.state }

func (g *Game) Turn() int32 { return g.state.Turn }

func (g *Game) StartSnakes() int { return g.startSnakes }

// Snakes returns the live snakes in state order.
func (g *Game) Snakes() []game.Snake {
	out := make([]game.Snake, 0, len(g.state.Snakes))
	for _, s := range g.state.Snakes {
		if s.Alive() {
			out = append(out, s)
		}
	}
	return out
}

// Heading is the direction the snake moved last.
func (g *Game) Heading(snakeID string) game.Direction {
	return g.headings[snakeID]
}

// Encode returns the egocentric tensor for one snake.
func (g *Game) Encode(snakeID string) (encode.StateTensor, error) {
	return encode.Encode(g.state, snakeID, g.headings[snakeID])
}

// States encodes every live snake, in the same order as Snakes.
func (g *Game) States() ([]encode.StateTensor, error) {
	snakes := g.Snakes()
	out := make([]encode.StateTensor, 0, len(snakes))
	for _, s := range snakes {
		t, err := g.Encode(s.Id)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// Over reports whether the game has finished.
func (g *Game) Over() bool {
	return rules.IsGameOver(g.state, g.startSnakes)
}

// Winner returns the sole survivor of a finished multi-snake game.
func (g *Game) Winner() (string, bool) {
	if g.startSnakes < 2 || !g.Over() {
		return "", false
	}
	snakes := g.Snakes()
	if len(snakes) != 1 {
		return "", false
	}
	return snakes[0].Id, true
}

// Step applies one relative move per live snake and returns the ids of the
// snakes that died. Live snakes without a move are eliminated.
func (g *Game) Step(moves map[string]int) ([]string, error) {
	abs := make(map[string]game.Direction, len(moves))
	for id, rel := range moves {
		if rel < game.TurnLeft || rel > game.TurnRight {
			return nil, fmt.Errorf("snake %s: relative move %d out of range", id, rel)
		}
		if g.state.Snake(id) == nil {
			return nil, fmt.Errorf("step %s: %w", id, ErrUnknownSnake)
		}
		abs[id] = game.Turn(g.headings[id], rel)
	}

	next, died := rules.NextState(g.state, abs, g.rng, g.food)
	for id, d := range abs {
		g.headings[id] = d
	}
	for _, id := range died {
		delete(g.headings, id)
	}
	g.state = next
	return died, nil
}
