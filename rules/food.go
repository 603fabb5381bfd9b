package rules

import (
	"encoding/binary"
	"math/rand"

	"github.com/brensch/alphasnake/game"
	"github.com/cespare/xxhash/v2"
)

// FoodSettings mirrors the Battlesnake ruleset knobs:
// MinimumFood is topped up after every turn and FoodSpawnChance is the
// percentage chance of one extra item per turn.
type FoodSettings struct {
	MinimumFood     int
	FoodSpawnChance int
}

var DefaultFoodSettings = FoodSettings{MinimumFood: 1, FoodSpawnChance: 15}

// applyFoodRules tops food up to the minimum and rolls for one extra item.
// Without rng the roll and the placement are derived from the state and salt,
// so replaying the same position spawns the same food.
func applyFoodRules(state *game.GameState, rng *rand.Rand, settings FoodSettings, salt uint64) {
	if state == nil || state.Width <= 0 || state.Height <= 0 {
		return
	}
	chance := min(max(settings.FoodSpawnChance, 0), 100)
	n := max(settings.MinimumFood-len(state.Food), 0)

	var roll int
	if rng != nil {
		roll = rng.Intn(100)
	} else {
		roll = int(deterministicU64Fast(state, salt) % 100)
	}
	if roll < chance {
		n++
	}
	if n == 0 {
		return
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(int64(deterministicU64Fast(state, ^salt)) | 1))
	}

	w := int(state.Width)
	taken := make([]bool, w*int(state.Height))
	mark := func(p game.Point) {
		if state.InBounds(p) {
			taken[int(p.Y)*w+int(p.X)] = true
		}
	}
	for _, s := range state.Snakes {
		if s.Alive() {
			for _, p := range s.Body {
				mark(p)
			}
		}
	}
	for _, f := range state.Food {
		mark(f)
	}
	free := make([]game.Point, 0, len(taken))
	for i, t := range taken {
		if !t {
			free = append(free, game.Point{X: int32(i % w), Y: int32(i / w)})
		}
	}

	// Partial Fisher-Yates: the first n slots end up as the new food.
	n = min(n, len(free))
	for i := 0; i < n; i++ {
		j := i + rng.Intn(len(free)-i)
		free[i], free[j] = free[j], free[i]
		state.Food = append(state.Food, free[i])
	}
}

// ApplyFoodSettings spawns food on an existing state, e.g. to place the
// starting food before turn 0.
func ApplyFoodSettings(state *game.GameState, rng *rand.Rand, settings FoodSettings) {
	applyFoodRules(state, rng, settings, 0x464F4F445F494E49) // "FOOD_INI" salt
}

// deterministicU64Fast mixes turn, board size, food count and snake heads.
// It sits on the simulation hot path so it skips the full bodies.
func deterministicU64Fast(state *game.GameState, salt uint64) uint64 {
	d := xxhash.New()
	var buf [8]byte

	binary.LittleEndian.PutUint64(buf[:], uint64(uint32(state.Width))|(uint64(uint32(state.Height))<<32))
	_, _ = d.Write(buf[:])
	binary.LittleEndian.PutUint64(buf[:], uint64(uint32(state.Turn))|(uint64(len(state.Food))<<32))
	_, _ = d.Write(buf[:])
	binary.LittleEndian.PutUint64(buf[:], salt)
	_, _ = d.Write(buf[:])

	for _, s := range state.Snakes {
		if !s.Alive() {
			continue
		}
		_, _ = d.WriteString(s.Id)
		head := s.Head()
		binary.LittleEndian.PutUint64(buf[:], (uint64(uint32(head.X))<<32)|uint64(uint32(head.Y)))
		_, _ = d.Write(buf[:])
	}

	return d.Sum64()
}
