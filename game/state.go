// Package game defines the core game state types for Battlesnake.
//
// These types represent the minimal state needed for rules evaluation and
// state encoding. The state is designed to be cheaply clonable so that every
// search iteration can play on its own copy.
package game

// Point is a board coordinate.
// Coordinates follow Battlesnake conventions: (0,0) is bottom-left.
type Point struct {
	X int32
	Y int32
}

// Add returns p shifted by d.
func (p Point) Add(d Point) Point {
	return Point{X: p.X + d.X, Y: p.Y + d.Y}
}

type Snake struct {
	Id     string
	Health int32
	Body   []Point
}

// Head returns the first body segment. Callers must not call it on an empty body.
func (s *Snake) Head() Point {
	return s.Body[0]
}

// Alive reports whether the snake still takes part in the game.
func (s *Snake) Alive() bool {
	return s.Health > 0 && len(s.Body) > 0
}

// GameState is the complete state needed for rules + encoding.
type GameState struct {
	Width  int32
	Height int32
	Snakes []Snake
	Food   []Point
	Turn   int32
}

// Snake returns a pointer into s.Snakes for the given id, or nil.
func (s *GameState) Snake(id string) *Snake {
	for i := range s.Snakes {
		if s.Snakes[i].Id == id {
			return &s.Snakes[i]
		}
	}
	return nil
}

// InBounds reports whether p lies on the board.
func (s *GameState) InBounds(p Point) bool {
	return p.X >= 0 && p.X < s.Width && p.Y >= 0 && p.Y < s.Height
}

// Clone performs a deep copy of the game state.
func (s *GameState) Clone() *GameState {
	if s == nil {
		return nil
	}

	out := &GameState{
		Width:  s.Width,
		Height: s.Height,
		Turn:   s.Turn,
	}

	if len(s.Food) > 0 {
		out.Food = make([]Point, len(s.Food))
		copy(out.Food, s.Food)
	}

	if len(s.Snakes) > 0 {
		out.Snakes = make([]Snake, len(s.Snakes))
		for i := range s.Snakes {
			out.Snakes[i] = Snake{Id: s.Snakes[i].Id, Health: s.Snakes[i].Health}
			if len(s.Snakes[i].Body) > 0 {
				out.Snakes[i].Body = make([]Point, len(s.Snakes[i].Body))
				copy(out.Snakes[i].Body, s.Snakes[i].Body)
			}
		}
	}

	return out
}
