package game

import "fmt"

// Direction is an absolute move on the board. The values are ordered clockwise
// so that relative turns are plain modular arithmetic.
type Direction int

const (
	Up Direction = iota
	Right
	Down
	Left
)

// Relative moves, indexed the way value vectors are laid out.
const (
	TurnLeft  = 0
	Straight  = 1
	TurnRight = 2

	NumRelativeMoves = 3
)

var directionNames = [4]string{"up", "right", "down", "left"}

func (d Direction) String() string {
	if d < Up || d > Left {
		return fmt.Sprintf("Direction(%d)", int(d))
	}
	return directionNames[d]
}

// Delta is the unit step for d. Y grows upwards.
func (d Direction) Delta() Point {
	switch d {
	case Up:
		return Point{X: 0, Y: 1}
	case Right:
		return Point{X: 1, Y: 0}
	case Down:
		return Point{X: 0, Y: -1}
	case Left:
		return Point{X: -1, Y: 0}
	}
	return Point{}
}

// ParseDirection maps the Battlesnake API strings back to a Direction.
func ParseDirection(s string) (Direction, error) {
	for i, name := range directionNames {
		if name == s {
			return Direction(i), nil
		}
	}
	return Up, fmt.Errorf("unknown direction %q", s)
}

// Turn converts a relative move into an absolute direction given the current heading.
func Turn(heading Direction, rel int) Direction {
	return Direction(((int(heading)+rel-1)%4 + 4) % 4)
}

// Relative is the inverse of Turn. ok is false when abs points backwards.
func Relative(heading, abs Direction) (rel int, ok bool) {
	rel = ((int(abs)-int(heading))%4+4)%4 + 1
	if rel > 3 {
		rel -= 4
	}
	if rel < 0 || rel > 2 {
		return 0, false
	}
	return rel, true
}

// DirectionBetween returns the direction of a single step from -> to.
func DirectionBetween(from, to Point) (Direction, bool) {
	d := Point{X: to.X - from.X, Y: to.Y - from.Y}
	for dir := Up; dir <= Left; dir++ {
		if dir.Delta() == d {
			return dir, true
		}
	}
	return Up, false
}

// HeadingOf infers the direction the snake last moved from its head and neck.
// Stacked bodies (turn 0) have no heading and default to Up.
func HeadingOf(s *Snake) Direction {
	if len(s.Body) < 2 {
		return Up
	}
	if d, ok := DirectionBetween(s.Body[1], s.Body[0]); ok {
		return d
	}
	return Up
}
