// Command debuggame plays a single traced self-play game and prints the board,
// the chosen moves and optionally the encoded tensors every turn.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand"
	"os"
	"time"

	"github.com/brensch/alphasnake/config"
	"github.com/brensch/alphasnake/encode"
	"github.com/brensch/alphasnake/executor/inference"
	"github.com/brensch/alphasnake/executor/mcts"
	"github.com/brensch/alphasnake/executor/selfplay"
	"github.com/brensch/alphasnake/game"
	"github.com/brensch/alphasnake/logging"
	"github.com/brensch/alphasnake/sim"
	"github.com/muesli/termenv"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		log.Fatalf("Failed to load .env: %v", err)
	}

	modelPath := flag.String("model", config.EnvOr("MODEL_PATH", ""), "Path to ONNX model (empty plays against a constant oracle)")
	breadth := flag.Int("breadth", 32, "Search iterations per move")
	maxDepth := flag.Int("max-depth", 8, "Playout depth before subtracting the snake count")
	softmaxBase := flag.Float64("softmax-base", 1000, "Softermax base")
	snakes := flag.Int("snakes", 2, "Number of snakes")
	width := flag.Int("width", 11, "Board width")
	height := flag.Int("height", 11, "Board height")
	maxTurns := flag.Int("max-turns", 300, "Stop after this many turns")
	seed := flag.Int64("seed", time.Now().UnixNano(), "Random seed")
	tensors := flag.Bool("tensors", false, "Print the first snake's encoded tensor every turn")
	cuda := flag.Bool("cuda", false, "Enable CUDA for inference")
	flag.Parse()

	if _, err := logging.Setup(os.Stderr, logging.FormatPretty, "warn"); err != nil {
		log.Fatalf("Bad logging flags: %v", err)
	}

	cfg := inference.DefaultOnnxClientConfig()
	cfg.DisableCUDA = !*cuda
	oracle, err := inference.Open(*modelPath, 1, cfg)
	if err != nil {
		log.Fatalf("Failed to load model: %v", err)
	}
	defer oracle.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	rng := rand.New(rand.NewSource(*seed))
	agent := mcts.NewAgent(oracle, mcts.Config{
		SoftmaxBase: *softmaxBase,
		MaxDepth:    *maxDepth,
		Breadth:     *breadth,

		LethalThreshold: encode.LethalThreshold,
	}, mcts.WithRand(rand.New(rand.NewSource(rng.Int63()))))

	playCfg := selfplay.DefaultConfig()
	playCfg.Width, playCfg.Height = int32(*width), int32(*height)
	playCfg.Snakes = *snakes
	playCfg.MaxTurns = *maxTurns

	tr := &tracer{out: os.Stdout, profile: termenv.ColorProfile(), tensors: *tensors}
	res, err := selfplay.PlayGame(ctx, tr.wrap(agent), playCfg, rng, nil)
	if err != nil {
		log.Fatalf("Game failed: %v", err)
	}

	winner := res.WinnerID
	if winner == "" {
		winner = "draw"
	}
	fmt.Printf("game %s finished after %d turns, winner: %s (seed %d)\n", res.GameID, res.Turns, winner, *seed)
}

// tracer prints every decision before handing the moves back to PlayGame.
type tracer struct {
	out     io.Writer
	profile termenv.Profile
	tensors bool
}

type tracedDecider struct {
	*mcts.Agent
	tr *tracer
}

func (t *tracer) wrap(a *mcts.Agent) selfplay.Decider {
	return tracedDecider{Agent: a, tr: t}
}

func (d tracedDecider) SelectMoves(ctx context.Context, games map[string]*sim.Game, ids []sim.SnakeRef) ([]int, error) {
	moves, err := d.Agent.SelectMoves(ctx, games, ids)
	if err != nil {
		return nil, err
	}
	d.tr.print(d.Agent, games, ids, moves)
	return moves, nil
}

func (t *tracer) print(a *mcts.Agent, games map[string]*sim.Game, ids []sim.SnakeRef, moves []int) {
	names := [game.NumRelativeMoves]string{"left", "straight", "right"}
	for i, ref := range ids {
		g := games[ref.GameID]
		if i == 0 {
			fmt.Fprint(t.out, selfplay.RenderBoard(g.State(), t.profile))
		}
		st, err := g.Encode(ref.SnakeID)
		if err != nil {
			fmt.Fprintf(t.out, "  %s: %v\n", ref.SnakeID, err)
			continue
		}
		q, _ := a.Store().Lookup(st.Key())
		abs := game.Turn(g.Heading(ref.SnakeID), moves[i])
		fmt.Fprintf(t.out, "  %s: %s (%s)  q=[%+.3f %+.3f %+.3f]\n", ref.SnakeID, names[moves[i]], abs, q[0], q[1], q[2])
		if t.tensors && i == 0 {
			fmt.Fprint(t.out, selfplay.RenderChannels(st))
		}
	}
	s := a.LastStats()
	fmt.Fprintf(t.out, "  search: %d iterations, %d oracle calls, %d states, %s\n\n", s.Iterations, s.OracleCalls, s.StatesEvaluated, s.Elapsed.Round(time.Microsecond))
}
