// Package replay pulls finished games from the Battlesnake engine and measures
// how often the search agrees with the moves real snakes played.
package replay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brensch/alphasnake/game"
	"github.com/gorilla/websocket"
)

const defaultBoardSize = 11

// Config holds downloader configuration
type Config struct {
	EngineURL      string // WebSocket URL template, %s is the game id
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
}

func DefaultConfig() Config {
	return Config{
		EngineURL:      "wss://engine.battlesnake.com/games/%s/events",
		ConnectTimeout: 10 * time.Second,
		ReadTimeout:    30 * time.Second,
	}
}

// GameEvent is one message from the engine's event stream.
type GameEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// GameInfo from the "game_info" event
type GameInfo struct {
	Game    GameDetails `json:"game"`
	Ruleset RulesetInfo `json:"ruleset"`
}

type GameDetails struct {
	ID      string `json:"id"`
	Timeout int    `json:"timeout"`
	Width   int    `json:"width,omitempty"`
	Height  int    `json:"height,omitempty"`
}

type RulesetInfo struct {
	Name     string          `json:"name"`
	Version  string          `json:"version"`
	Settings json.RawMessage `json:"settings"`
}

// Frame is the board after one turn.
type Frame struct {
	Turn   int         `json:"turn"`
	Snakes []SnakeData `json:"snakes"`
	Food   []Coord     `json:"food"`
	Board  BoardData   `json:"board,omitempty"`
}

type SnakeData struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Health int     `json:"health"`
	Body   []Coord `json:"body"`
	Author string  `json:"author,omitempty"`
	Death  *Death  `json:"death,omitempty"`
}

// Alive is false once the engine has recorded a death, even though the
// frame still carries the body.
func (s SnakeData) Alive() bool {
	return s.Death == nil && s.Health > 0 && len(s.Body) > 0
}

type Coord struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func (c Coord) Point() game.Point {
	return game.Point{X: int32(c.X), Y: int32(c.Y)}
}

type BoardData struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type Death struct {
	Cause string `json:"cause"`
	Turn  int    `json:"turn"`
}

// Game is a downloaded game: its metadata and every frame in turn order.
type Game struct {
	ID     string
	Info   GameInfo
	Frames []Frame
	Winner string
}

// Size returns the board dimensions, preferring the frames over game_info.
func (g Game) Size() (width, height int) {
	for _, f := range g.Frames {
		if f.Board.Width > 0 && f.Board.Height > 0 {
			return f.Board.Width, f.Board.Height
		}
	}
	if g.Info.Game.Width > 0 && g.Info.Game.Height > 0 {
		return g.Info.Game.Width, g.Info.Game.Height
	}
	return defaultBoardSize, defaultBoardSize
}

// State converts frame i into an engine state holding only live snakes.
func (g Game) State(i int) *game.GameState {
	f := g.Frames[i]
	w, h := g.Size()
	state := &game.GameState{
		Width:  int32(w),
		Height: int32(h),
		Turn:   int32(f.Turn),
		Food:   make([]game.Point, 0, len(f.Food)),
	}
	for _, c := range f.Food {
		state.Food = append(state.Food, c.Point())
	}
	for _, s := range f.Snakes {
		if !s.Alive() {
			continue
		}
		snake := game.Snake{Id: s.ID, Health: int32(s.Health), Body: make([]game.Point, len(s.Body))}
		for j, c := range s.Body {
			snake.Body[j] = c.Point()
		}
		state.Snakes = append(state.Snakes, snake)
	}
	return state
}

// Downloader reads games from the engine's websocket event stream.
type Downloader struct {
	cfg    Config
	dialer *websocket.Dialer
	logger *slog.Logger
}

func NewDownloader(cfg Config, logger *slog.Logger) *Downloader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Downloader{
		cfg:    cfg,
		dialer: &websocket.Dialer{HandshakeTimeout: cfg.ConnectTimeout},
		logger: logger,
	}
}

// Download connects to the game's event stream and collects frames until the
// engine sends game_end or closes the connection.
func (d *Downloader) Download(ctx context.Context, gameID string) (Game, error) {
	url := fmt.Sprintf(d.cfg.EngineURL, gameID)

	conn, _, err := d.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return Game{}, fmt.Errorf("failed to connect: %w", err)
	}
	defer conn.Close()

	// ReadMessage does not take a context, so closing the connection is what
	// unblocks it on cancellation.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	g := Game{ID: gameID}
	logger := d.logger.With("game", gameID)

read:
	for {
		if d.cfg.ReadTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(d.cfg.ReadTimeout))
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return Game{}, ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				break
			}
			// Timeout or unexpected close. Keep what we have.
			if len(g.Frames) > 0 {
				logger.Warn("stream ended early", "frames", len(g.Frames), "err", err)
				break
			}
			return Game{}, fmt.Errorf("read error: %w", err)
		}

		var event GameEvent
		if err := json.Unmarshal(message, &event); err != nil {
			logger.Warn("failed to parse event", "err", err)
			continue
		}

		switch event.Type {
		case "game_info":
			if err := json.Unmarshal(event.Data, &g.Info); err != nil {
				logger.Warn("failed to parse game_info", "err", err)
			}
		case "frame":
			var f Frame
			if err := json.Unmarshal(event.Data, &f); err != nil {
				logger.Warn("failed to parse frame", "err", err)
				continue
			}
			g.Frames = append(g.Frames, f)
		case "game_end":
			break read
		}
	}

	if len(g.Frames) == 0 {
		return Game{}, errors.New("no frames received")
	}
	g.Winner = winner(g.Frames[len(g.Frames)-1])
	return g, nil
}

// winner returns the id of the only live snake in the final frame, or "draw".
func winner(f Frame) string {
	var alive []SnakeData
	for _, s := range f.Snakes {
		if s.Alive() {
			alive = append(alive, s)
		}
	}
	if len(alive) == 1 {
		return alive[0].ID
	}
	return "draw"
}
