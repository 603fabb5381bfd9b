// visualize.go - terminal rendering of boards and encoded tensors for
// tracing self-play games.
package selfplay

import (
	"fmt"
	"strings"

	"github.com/brensch/alphasnake/encode"
	"github.com/brensch/alphasnake/game"
	"github.com/muesli/termenv"
)

var snakeColors = []string{"#e74c3c", "#3498db", "#2ecc71", "#f1c40f", "#9b59b6", "#e67e22", "#1abc9c", "#ecf0f1"}

// RenderBoard draws the board with (0,0) at the bottom left. Snakes are
// lettered in state order, heads in upper case. Colour is applied according
// to profile; termenv.Ascii gives plain text.
func RenderBoard(state *game.GameState, profile termenv.Profile) string {
	grid := make([][]string, state.Height)
	for y := range grid {
		grid[y] = make([]string, state.Width)
		for x := range grid[y] {
			grid[y][x] = "."
		}
	}

	for _, f := range state.Food {
		if state.InBounds(f) {
			grid[f.Y][f.X] = profile.String("*").Foreground(profile.Color("#ff79c6")).String()
		}
	}

	var legend []string
	for i, s := range state.Snakes {
		if !s.Alive() {
			continue
		}
		letter := rune('a' + i%26)
		color := profile.Color(snakeColors[i%len(snakeColors)])
		// Draw back to front so a stacked head stays visible.
		for j := len(s.Body) - 1; j >= 0; j-- {
			p := s.Body[j]
			if !state.InBounds(p) {
				continue
			}
			ch := string(letter)
			style := profile.String(ch).Foreground(color)
			if j == 0 {
				style = profile.String(strings.ToUpper(ch)).Foreground(color).Bold()
			}
			grid[p.Y][p.X] = style.String()
		}
		legend = append(legend, fmt.Sprintf("%c=%s(len %d, hp %d)", letter, s.Id, len(s.Body), s.Health))
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "turn %d  %s\n", state.Turn, strings.Join(legend, " "))
	for y := int(state.Height) - 1; y >= 0; y-- {
		sb.WriteString(strings.Join(grid[y], " "))
		sb.WriteString("\n")
	}
	return sb.String()
}

var channelNames = [encode.NumChannels]string{"food/health", "obstacles", "snakes"}

// RenderChannels prints every channel of t, top row first. Zero cells are dots.
func RenderChannels(t encode.StateTensor) string {
	var sb strings.Builder
	for c := 0; c < t.Channels; c++ {
		name := "unknown"
		if c < len(channelNames) {
			name = channelNames[c]
		}
		fmt.Fprintf(&sb, "channel %d (%s):\n", c, name)
		for y := 0; y < t.Height; y++ {
			for x := 0; x < t.Width; x++ {
				v := t.At(y, x, c)
				if v == 0 {
					sb.WriteString("    . ")
					continue
				}
				fmt.Fprintf(&sb, "%5.2f ", v)
			}
			sb.WriteString("\n")
		}
	}
	return sb.String()
}
