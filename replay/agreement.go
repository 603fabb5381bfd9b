package replay

import (
	"context"
	"fmt"

	"github.com/brensch/alphasnake/executor/mcts"
	"github.com/brensch/alphasnake/game"
	"github.com/brensch/alphasnake/sim"
)

// Decider is the part of mcts.Agent replay needs.
type Decider interface {
	SelectMoves(ctx context.Context, games map[string]*sim.Game, ids []sim.SnakeRef) ([]int, error)
	TrainingSamples() []mcts.Sample
	Reset()
}

// Report counts agreement between the agent and the recorded moves.
type Report struct {
	GameID    string
	Decisions int
	Agreed    int
	// Skipped counts decisions whose recorded move went backwards relative to
	// the inferred heading, which happens on the first turn of stacked bodies.
	Skipped int
	// Confusion[played][chosen] over relative moves.
	Confusion [game.NumRelativeMoves][game.NumRelativeMoves]int
	// Samples holds training samples when the agent runs in training mode.
	Samples []mcts.Sample
}

func (r Report) Rate() float64 {
	if r.Decisions == 0 {
		return 0
	}
	return float64(r.Agreed) / float64(r.Decisions)
}

// Add folds o into r.
func (r *Report) Add(o Report) {
	r.Decisions += o.Decisions
	r.Agreed += o.Agreed
	r.Skipped += o.Skipped
	for i := range r.Confusion {
		for j := range r.Confusion[i] {
			r.Confusion[i][j] += o.Confusion[i][j]
		}
	}
	r.Samples = append(r.Samples, o.Samples...)
}

// Evaluate replays g turn by turn. For every frame that has a successor it
// rebuilds the board, asks the agent to move the given snakes (every live
// snake when none are named) and compares its choice with the move the snake
// actually made. Snakes that are dead in a frame are not asked.
func Evaluate(ctx context.Context, d Decider, g Game, snakeIDs ...string) (Report, error) {
	rep := Report{GameID: g.ID}
	if len(g.Frames) == 0 {
		return rep, nil
	}
	startSnakes := len(g.Frames[0].Snakes)
	want := make(map[string]bool, len(snakeIDs))
	for _, id := range snakeIDs {
		want[id] = true
	}

	for i := 0; i+1 < len(g.Frames); i++ {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		state := g.State(i)
		next := g.Frames[i+1]

		var ids []sim.SnakeRef
		var played []int
		for j := range state.Snakes {
			s := &state.Snakes[j]
			if len(want) > 0 && !want[s.Id] {
				continue
			}
			rel, ok := playedMove(s, next)
			if !ok {
				rep.Skipped++
				continue
			}
			ids = append(ids, sim.SnakeRef{GameID: g.ID, SnakeID: s.Id})
			played = append(played, rel)
		}
		if len(ids) == 0 {
			continue
		}

		games := map[string]*sim.Game{g.ID: sim.NewGame(g.ID, state, sim.WithStartSnakes(startSnakes))}
		moves, err := d.SelectMoves(ctx, games, ids)
		if err != nil {
			d.Reset()
			return rep, fmt.Errorf("turn %d: %w", g.Frames[i].Turn, err)
		}
		rep.Samples = append(rep.Samples, d.TrainingSamples()...)
		d.Reset()

		for k, chosen := range moves {
			rep.Decisions++
			rep.Confusion[played[k]][chosen]++
			if chosen == played[k] {
				rep.Agreed++
			}
		}
	}
	return rep, nil
}

// playedMove finds the relative move s made between its current frame and
// next. ok is false when the snake is missing from next or the step is not a
// legal relative move from the inferred heading.
func playedMove(s *game.Snake, next Frame) (int, bool) {
	for _, ns := range next.Snakes {
		if ns.ID != s.Id || len(ns.Body) == 0 {
			continue
		}
		abs, ok := game.DirectionBetween(s.Head(), ns.Body[0].Point())
		if !ok {
			return 0, false
		}
		return game.Relative(game.HeadingOf(s), abs)
	}
	return 0, false
}
