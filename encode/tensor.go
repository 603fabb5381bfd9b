// Package encode turns a Battlesnake board into the egocentric tensors the
// value network consumes, and derives the canonical keys used to share
// search statistics between identical views.
package encode

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/brensch/alphasnake/game"
)

// Channel layout (HWC, 3 total):
// 0 food (1.0); the centre cell carries the ego health / 100
// 1 obstacles: -1 lethal, -0.3 contested by a longer head, -0.2 moving tail,
//   +0.3 contested by a shorter head
// 2 snakes: ego body TTL in (0,1], enemy bodies the negated TTL
const (
	ChannelFood     = 0
	ChannelObstacle = 1
	ChannelSnakes   = 2
	NumChannels     = 3
)

// LethalThreshold is the obstacle value at or below which a cell is certain death.
const LethalThreshold = float32(-0.4)

const (
	obstacleLethal    = float32(-1.0)
	obstacleContested = float32(-0.3)
	obstacleTail      = float32(-0.2)
	obstacleHunt      = float32(0.3)
)

var ErrSnakeNotFound = errors.New("snake not on board")

// StateTensor is an immutable egocentric view of the board for one snake.
// Data is laid out as [Height][Width][Channels]. The snake's head sits at the
// centre cell and its heading points towards row cy-1.
type StateTensor struct {
	Height   int
	Width    int
	Channels int
	Data     []float32
}

// StateKey is the canonical serialization of a StateTensor.
type StateKey string

func (t StateTensor) index(y, x, c int) int {
	return (y*t.Width+x)*t.Channels + c
}

// At returns the value at row y, column x, channel c.
func (t StateTensor) At(y, x, c int) float32 {
	return t.Data[t.index(y, x, c)]
}

// Center returns the row and column of the ego head.
func (t StateTensor) Center() (cy, cx int) {
	return t.Height / 2, t.Width / 2
}

// Len is the number of float32 values in the tensor.
func (t StateTensor) Len() int {
	return t.Height * t.Width * t.Channels
}

// Bytes flattens the tensor to float32 little endian, HWC order.
func (t StateTensor) Bytes() []byte {
	out := make([]byte, len(t.Data)*4)
	for i, v := range t.Data {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
	}
	return out
}

// FromBytes is the inverse of Bytes.
func FromBytes(height, width, channels int, b []byte) (StateTensor, error) {
	n := height * width * channels
	if n <= 0 || len(b) != n*4 {
		return StateTensor{}, fmt.Errorf("tensor %dx%dx%d needs %d bytes, got %d", height, width, channels, n*4, len(b))
	}
	data := make([]float32, n)
	for i := range data {
		data[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return StateTensor{Height: height, Width: width, Channels: channels, Data: data}, nil
}

var keyBufPool = sync.Pool{
	New: func() interface{} {
		b := make([]byte, 0, 6+21*21*NumChannels*4)
		return &b
	},
}

// Key returns the canonical identity of the tensor: its dimensions followed by
// the raw payload. Two tensors have equal keys iff they are bitwise equal.
func (t StateTensor) Key() StateKey {
	bufPtr := keyBufPool.Get().(*[]byte)
	buf := (*bufPtr)[:0]

	buf = binary.LittleEndian.AppendUint16(buf, uint16(t.Height))
	buf = binary.LittleEndian.AppendUint16(buf, uint16(t.Width))
	buf = binary.LittleEndian.AppendUint16(buf, uint16(t.Channels))
	for _, v := range t.Data {
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(v))
	}
	key := StateKey(buf)

	*bufPtr = buf
	keyBufPool.Put(bufPtr)
	return key
}

// frame maps board coordinates into the rotated egocentric grid.
type frame struct {
	head    game.Point
	forward game.Point
	right   game.Point
	cy, cx  int
}

func newFrame(head game.Point, heading game.Direction, cy, cx int) frame {
	f := heading.Delta()
	return frame{
		head:    head,
		forward: f,
		right:   game.Point{X: f.Y, Y: -f.X},
		cy:      cy,
		cx:      cx,
	}
}

func (fr frame) toGrid(p game.Point) (y, x int) {
	d := game.Point{X: p.X - fr.head.X, Y: p.Y - fr.head.Y}
	fwd := d.X*fr.forward.X + d.Y*fr.forward.Y
	rgt := d.X*fr.right.X + d.Y*fr.right.Y
	return fr.cy - int(fwd), fr.cx + int(rgt)
}

func (fr frame) toBoard(y, x int) game.Point {
	fwd := int32(fr.cy - y)
	rgt := int32(x - fr.cx)
	return game.Point{
		X: fr.head.X + fwd*fr.forward.X + rgt*fr.right.X,
		Y: fr.head.Y + fwd*fr.forward.Y + rgt*fr.right.Y,
	}
}

// Encode builds the egocentric tensor for snakeID. The grid is
// (2*Height-1) x (2*Width-1) so the whole board is visible from any cell.
func Encode(state *game.GameState, snakeID string, heading game.Direction) (StateTensor, error) {
	ego := state.Snake(snakeID)
	if ego == nil || !ego.Alive() {
		return StateTensor{}, fmt.Errorf("encode %s: %w", snakeID, ErrSnakeNotFound)
	}

	t := StateTensor{
		Height:   2*int(state.Height) - 1,
		Width:    2*int(state.Width) - 1,
		Channels: NumChannels,
	}
	t.Data = make([]float32, t.Len())
	cy, cx := t.Center()
	fr := newFrame(ego.Head(), heading, cy, cx)

	inGrid := func(y, x int) bool {
		return y >= 0 && y < t.Height && x >= 0 && x < t.Width
	}
	set := func(p game.Point, c int, v float32) {
		y, x := fr.toGrid(p)
		if inGrid(y, x) {
			t.Data[t.index(y, x, c)] = v
		}
	}
	lower := func(p game.Point, v float32) {
		y, x := fr.toGrid(p)
		if !inGrid(y, x) {
			return
		}
		i := t.index(y, x, ChannelObstacle)
		if v < t.Data[i] {
			t.Data[i] = v
		}
	}

	// Off-board cells are walls.
	for y := 0; y < t.Height; y++ {
		for x := 0; x < t.Width; x++ {
			if !state.InBounds(fr.toBoard(y, x)) {
				t.Data[t.index(y, x, ChannelObstacle)] = obstacleLethal
			}
		}
	}

	for _, f := range state.Food {
		set(f, ChannelFood, 1.0)
	}

	for i := range state.Snakes {
		s := &state.Snakes[i]
		if !s.Alive() {
			continue
		}
		l := len(s.Body)
		sign := float32(-1)
		if s.Id == snakeID {
			sign = 1
		}
		// A snake that just ate keeps its tail next turn.
		tailMoves := s.Health < 100
		for j := l - 1; j >= 0; j-- {
			p := s.Body[j]
			if j == l-1 && tailMoves {
				lower(p, obstacleTail)
			} else {
				lower(p, obstacleLethal)
			}
			set(p, ChannelSnakes, sign*float32(l-j)/float32(l))
		}
	}

	for i := range state.Snakes {
		s := &state.Snakes[i]
		if !s.Alive() || s.Id == snakeID {
			continue
		}
		for d := game.Up; d <= game.Left; d++ {
			n := s.Head().Add(d.Delta())
			if len(s.Body) >= len(ego.Body) {
				lower(n, obstacleContested)
				continue
			}
			y, x := fr.toGrid(n)
			if inGrid(y, x) && t.Data[t.index(y, x, ChannelObstacle)] == 0 {
				t.Data[t.index(y, x, ChannelObstacle)] = obstacleHunt
			}
		}
	}

	t.Data[t.index(cy, cx, ChannelFood)] = float32(ego.Health) / 100.0

	return t, nil
}
