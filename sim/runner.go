package sim

import (
	"context"
	"fmt"
	"sort"
)

const (
	WinReward  = float32(1.0)
	LossReward = float32(-1.0)
)

// Rewards holds the terminal reward per game and snake. A nil entry means
// the snake was still alive when its game stopped.
type Rewards map[string]map[string]*float32

// Get returns the reward for ref, or nil.
func (r Rewards) Get(ref SnakeRef) *float32 {
	return r[ref.GameID][ref.SnakeID]
}

// MoveProvider picks a relative move for every requested snake. The returned
// slice is aligned with ids.
type MoveProvider interface {
	MakeMoves(ctx context.Context, games map[string]*Game, ids []SnakeRef) ([]int, error)
}

// Runner advances a set of games in lockstep. Every step all live snakes of
// every unfinished game are requested from the provider in a single call, so
// the provider can batch its work.
type Runner struct{}

func NewRunner() *Runner {
	return &Runner{}
}

// Run plays each game for at most depth[gameID] steps (missing entries are 0)
// or until it is over. Games are mutated in place.
func (r *Runner) Run(ctx context.Context, games map[string]*Game, provider MoveProvider, depth map[string]int) (Rewards, error) {
	rewards := make(Rewards, len(games))
	remaining := make(map[string]int, len(games))
	gameIDs := make([]string, 0, len(games))
	for id, g := range games {
		gameIDs = append(gameIDs, id)
		remaining[id] = depth[id]
		rewards[id] = make(map[string]*float32, len(g.state.Snakes))
		for _, s := range g.Snakes() {
			rewards[id][s.Id] = nil
		}
	}
	sort.Strings(gameIDs)

	for {
		if err := ctx.Err(); err != nil {
			return rewards, err
		}

		active := make(map[string]*Game, len(games))
		var ids []SnakeRef
		for _, id := range gameIDs {
			g := games[id]
			if remaining[id] <= 0 || g.Over() {
				continue
			}
			active[id] = g
			for _, s := range g.Snakes() {
				ids = append(ids, SnakeRef{GameID: id, SnakeID: s.Id})
			}
		}
		if len(ids) == 0 {
			return rewards, nil
		}

		moves, err := provider.MakeMoves(ctx, active, ids)
		if err != nil {
			return rewards, err
		}
		if len(moves) != len(ids) {
			return rewards, fmt.Errorf("provider returned %d moves for %d snakes", len(moves), len(ids))
		}

		perGame := make(map[string]map[string]int, len(active))
		for i, ref := range ids {
			if perGame[ref.GameID] == nil {
				perGame[ref.GameID] = make(map[string]int)
			}
			perGame[ref.GameID][ref.SnakeID] = moves[i]
		}

		for id, g := range active {
			died, err := g.Step(perGame[id])
			if err != nil {
				return rewards, fmt.Errorf("game %s: %w", id, err)
			}
			for _, sid := range died {
				loss := LossReward
				rewards[id][sid] = &loss
			}
			if winner, ok := g.Winner(); ok {
				win := WinReward
				rewards[id][winner] = &win
			}
			remaining[id]--
		}
	}
}
