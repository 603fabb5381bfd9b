package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/brensch/alphasnake/encode"
	"github.com/brensch/alphasnake/executor/mcts"
	"github.com/brensch/alphasnake/game"
	"github.com/brensch/alphasnake/rules"
	"github.com/brensch/alphasnake/sim"
)

// Server answers the Battlesnake API with moves picked by the search agent.
type Server struct {
	// mu serialises access to the agent, which is single threaded.
	mu    sync.Mutex
	agent *mcts.Agent

	oracle        mcts.ValueOracle
	search        bool
	moveTimeout   time.Duration
	latencyBuffer time.Duration
	logger        *slog.Logger
	info          InfoResponse
}

type ServerConfig struct {
	// Search runs the full agent. Without it the move is the masked argmax of
	// one oracle call on the current state.
	Search        bool
	MoveTimeout   time.Duration
	LatencyBuffer time.Duration
	Color         string
}

func NewServer(agent *mcts.Agent, oracle mcts.ValueOracle, cfg ServerConfig, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Color == "" {
		cfg.Color = "#00ffff"
	}
	return &Server{
		agent:         agent,
		oracle:        oracle,
		search:        cfg.Search,
		moveTimeout:   cfg.MoveTimeout,
		latencyBuffer: cfg.LatencyBuffer,
		logger:        logger,
		info: InfoResponse{
			APIVersion: "1",
			Author:     "alphasnake",
			Color:      cfg.Color,
			Head:       "bwc-scarf",
			Tail:       "freckled",
			Version:    "1.0.0",
		},
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("POST /start", s.handleStart)
	mux.HandleFunc("POST /move", s.handleMove)
	mux.HandleFunc("POST /end", s.handleEnd)
	return mux
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.info)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req GameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.logger.Info("game started", "game", req.Game.ID, "snakes", len(req.Board.Snakes), "you", req.You.Name)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleEnd(w http.ResponseWriter, r *http.Request) {
	var req GameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	result := "lost"
	for _, snake := range req.Board.Snakes {
		if snake.ID == req.You.ID {
			result = "won"
			break
		}
	}
	if len(req.Board.Snakes) == 0 {
		result = "draw"
	}
	s.logger.Info("game ended", "game", req.Game.ID, "turn", req.Turn, "result", result)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleMove(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req GameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	timeout := s.moveTimeout
	if req.Game.Timeout > 0 {
		timeout = time.Duration(req.Game.Timeout) * time.Millisecond
	}
	compute := timeout - s.latencyBuffer
	if compute < 20*time.Millisecond {
		compute = 20 * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(r.Context(), compute)
	defer cancel()

	dir, shout, err := s.decide(ctx, &req)
	if err != nil {
		dir = fallbackMove(toGameState(&req), req.You.ID)
		shout = "fallback"
		s.logger.Warn("search failed, using fallback", "game", req.Game.ID, "turn", req.Turn, "err", err)
	}

	s.logger.Info("move",
		"game", req.Game.ID,
		"turn", req.Turn,
		"move", dir.String(),
		"elapsed", time.Since(start),
	)
	writeJSON(w, MoveResponse{Move: dir.String(), Shout: shout})
}

// decide runs one decision cycle for the requesting snake and maps the
// relative answer back to an absolute direction.
func (s *Server) decide(ctx context.Context, req *GameRequest) (game.Direction, string, error) {
	state := toGameState(req)
	you := state.Snake(req.You.ID)
	if you == nil || !you.Alive() {
		return game.Up, "", fmt.Errorf("you (%s): %w", req.You.ID, sim.ErrUnknownSnake)
	}
	heading := game.HeadingOf(you)
	g := sim.NewGame(req.Game.ID, state)

	if !s.search {
		t, err := g.Encode(req.You.ID)
		if err != nil {
			return game.Up, "", err
		}
		values, err := s.oracle.Evaluate(ctx, []encode.StateTensor{t})
		if err != nil {
			return game.Up, "", err
		}
		q := mcts.MaskLethal(t, values[0], s.agent.Config().LethalThreshold)
		return game.Turn(heading, mcts.Argmax(q)), "", nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.agent.Reset()

	ref := sim.SnakeRef{GameID: req.Game.ID, SnakeID: req.You.ID}
	moves, err := s.agent.SelectMoves(ctx, map[string]*sim.Game{req.Game.ID: g}, []sim.SnakeRef{ref})
	if err != nil {
		return game.Up, "", err
	}
	stats := s.agent.LastStats()
	return game.Turn(heading, moves[0]), fmt.Sprintf("%d playouts", stats.Iterations), nil
}

// fallbackMove picks the first move that does not hit a wall or body, or up.
func fallbackMove(state *game.GameState, id string) game.Direction {
	if safe := rules.SafeMoves(state, id); len(safe) > 0 {
		return safe[0]
	}
	return game.Up
}
