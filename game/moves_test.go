package game

import "testing"

func TestTurn(t *testing.T) {
	tests := []struct {
		heading Direction
		rel     int
		want    Direction
	}{
		{Up, TurnLeft, Left},
		{Up, Straight, Up},
		{Up, TurnRight, Right},
		{Right, TurnLeft, Up},
		{Right, TurnRight, Down},
		{Down, TurnLeft, Right},
		{Down, TurnRight, Left},
		{Left, TurnLeft, Down},
		{Left, Straight, Left},
		{Left, TurnRight, Up},
	}
	for _, tt := range tests {
		if got := Turn(tt.heading, tt.rel); got != tt.want {
			t.Errorf("Turn(%s,%d)=%s want %s", tt.heading, tt.rel, got, tt.want)
		}
		rel, ok := Relative(tt.heading, tt.want)
		if !ok || rel != tt.rel {
			t.Errorf("Relative(%s,%s)=%d,%v want %d", tt.heading, tt.want, rel, ok, tt.rel)
		}
	}
}

func TestRelative_Backwards(t *testing.T) {
	for d := Up; d <= Left; d++ {
		back := Direction((int(d) + 2) % 4)
		if _, ok := Relative(d, back); ok {
			t.Errorf("Relative(%s,%s) should be rejected", d, back)
		}
	}
}

func TestHeadingOf(t *testing.T) {
	s := Snake{Id: "a", Health: 100, Body: []Point{{X: 4, Y: 5}, {X: 5, Y: 5}, {X: 6, Y: 5}}}
	if got := HeadingOf(&s); got != Left {
		t.Fatalf("heading=%s want left", got)
	}

	stacked := Snake{Id: "b", Health: 100, Body: []Point{{X: 1, Y: 1}, {X: 1, Y: 1}, {X: 1, Y: 1}}}
	if got := HeadingOf(&stacked); got != Up {
		t.Fatalf("stacked heading=%s want up", got)
	}
}

func TestParseDirection(t *testing.T) {
	for d := Up; d <= Left; d++ {
		got, err := ParseDirection(d.String())
		if err != nil || got != d {
			t.Fatalf("ParseDirection(%q)=%v,%v", d.String(), got, err)
		}
	}
	if _, err := ParseDirection("sideways"); err == nil {
		t.Fatal("expected error")
	}
}

func TestClone_IsDeep(t *testing.T) {
	s := &GameState{
		Width:  7,
		Height: 7,
		Snakes: []Snake{{Id: "a", Health: 90, Body: []Point{{X: 1, Y: 1}, {X: 1, Y: 0}}}},
		Food:   []Point{{X: 3, Y: 3}},
	}
	c := s.Clone()
	c.Snakes[0].Body[0] = Point{X: 6, Y: 6}
	c.Food[0] = Point{X: 0, Y: 0}
	c.Snakes[0].Health = 1

	if s.Snakes[0].Body[0] != (Point{X: 1, Y: 1}) || s.Food[0] != (Point{X: 3, Y: 3}) || s.Snakes[0].Health != 90 {
		t.Fatalf("clone shares memory with original: %+v", s)
	}
}
