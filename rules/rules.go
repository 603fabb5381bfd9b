package rules

import (
	"math/rand"

	"github.com/brensch/alphasnake/game"
)

const MaxHealth = 100

// SafeMoves returns the absolute directions that do not immediately run the
// snake into a wall or a body segment. Tails are treated as solid.
func SafeMoves(state *game.GameState, id string) []game.Direction {
	you := state.Snake(id)
	if you == nil || !you.Alive() {
		return nil
	}

	head := you.Head()
	moves := make([]game.Direction, 0, 4)
	for d := game.Up; d <= game.Left; d++ {
		if isSafe(state, head.Add(d.Delta())) {
			moves = append(moves, d)
		}
	}
	return moves
}

func isSafe(state *game.GameState, p game.Point) bool {
	if !state.InBounds(p) {
		return false
	}
	for _, s := range state.Snakes {
		for _, bp := range s.Body {
			if p == bp {
				return false
			}
		}
	}
	return true
}

// NextState advances the game with a move for every live snake. Snakes without
// a move are eliminated. The returned slice lists the ids of snakes that died
// during the transition, in state order.
//
// rng drives food spawning; nil selects a deterministic pseudo-random source
// derived from the state.
func NextState(state *game.GameState, moves map[string]game.Direction, rng *rand.Rand, food FoodSettings) (*game.GameState, []string) {
	newState := state.Clone()
	newState.Turn++

	// 1. Move heads.
	newHeads := make(map[string]game.Point, len(newState.Snakes))
	for i := range newState.Snakes {
		s := &newState.Snakes[i]
		if !s.Alive() {
			continue
		}
		move, ok := moves[s.Id]
		if !ok {
			continue
		}
		newHeads[s.Id] = s.Head().Add(move.Delta())
	}

	// 2. Food. Several snakes may eat the same item; each of them grows.
	eatenFood := make(map[int]bool)
	snakeAte := make(map[string]bool)
	for id, head := range newHeads {
		for i, f := range newState.Food {
			if f == head {
				eatenFood[i] = true
				snakeAte[id] = true
			}
		}
	}
	if len(eatenFood) > 0 {
		remaining := make([]game.Point, 0, len(newState.Food))
		for i, f := range newState.Food {
			if !eatenFood[i] {
				remaining = append(remaining, f)
			}
		}
		newState.Food = remaining
	}

	// 3. Bodies and health.
	for i := range newState.Snakes {
		s := &newState.Snakes[i]
		newHead, ok := newHeads[s.Id]
		if !ok {
			s.Health = 0
			continue
		}

		newBody := make([]game.Point, 0, len(s.Body)+1)
		newBody = append(newBody, newHead)
		newBody = append(newBody, s.Body...)

		if snakeAte[s.Id] {
			s.Health = MaxHealth
		} else {
			s.Health--
			newBody = newBody[:len(newBody)-1]
		}
		s.Body = newBody
	}

	// 4. Eliminations, evaluated against the post-move bodies.
	dead := make(map[string]bool)
	for _, s := range newState.Snakes {
		if s.Health <= 0 {
			dead[s.Id] = true
			continue
		}
		head := s.Body[0]

		if !newState.InBounds(head) {
			dead[s.Id] = true
			continue
		}

		for _, other := range newState.Snakes {
			if other.Health <= 0 {
				continue
			}
			// Index 0 is a head; head-to-head is resolved below.
			for j := 1; j < len(other.Body); j++ {
				if other.Body[j] == head {
					dead[s.Id] = true
				}
			}
		}
	}

	for i := 0; i < len(newState.Snakes); i++ {
		s1 := newState.Snakes[i]
		if s1.Health <= 0 {
			continue
		}
		for j := i + 1; j < len(newState.Snakes); j++ {
			s2 := newState.Snakes[j]
			if s2.Health <= 0 {
				continue
			}
			if s1.Body[0] != s2.Body[0] {
				continue
			}
			switch {
			case len(s1.Body) > len(s2.Body):
				dead[s2.Id] = true
			case len(s2.Body) > len(s1.Body):
				dead[s1.Id] = true
			default:
				dead[s1.Id] = true
				dead[s2.Id] = true
			}
		}
	}

	var died []string
	alive := make([]game.Snake, 0, len(newState.Snakes))
	for _, s := range newState.Snakes {
		if dead[s.Id] {
			died = append(died, s.Id)
			continue
		}
		alive = append(alive, s)
	}
	newState.Snakes = alive

	applyFoodRules(newState, rng, food, 0x535445505F464F4F) // "STEP_FOO" salt

	return newState, died
}

// IsGameOver reports whether the game has finished. Multi-snake games end
// when at most one snake is left; solo games end when the snake dies.
func IsGameOver(state *game.GameState, startSnakes int) bool {
	living := 0
	for i := range state.Snakes {
		if state.Snakes[i].Alive() {
			living++
		}
	}
	if startSnakes > 1 {
		return living <= 1
	}
	return living == 0
}
