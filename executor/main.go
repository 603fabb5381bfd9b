package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/brensch/alphasnake/config"
	"github.com/brensch/alphasnake/encode"
	"github.com/brensch/alphasnake/executor/inference"
	"github.com/brensch/alphasnake/executor/mcts"
	"github.com/brensch/alphasnake/executor/selfplay"
	"github.com/brensch/alphasnake/logging"
	"github.com/brensch/alphasnake/rules"
	"github.com/brensch/alphasnake/store"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/muesli/termenv"
	"golang.org/x/sync/errgroup"
)

var totalTurns atomic.Int64
var totalStates atomic.Int64
var totalGames atomic.Int64

// countingOracle counts evaluated states for the throughput display.
type countingOracle struct {
	inference.Oracle
}

func (c countingOracle) Evaluate(ctx context.Context, states []encode.StateTensor) ([][3]float32, error) {
	totalStates.Add(int64(len(states)))
	return c.Oracle.Evaluate(ctx, states)
}

type GameUpdate struct {
	WorkerID int
	Result   selfplay.GameResult
}

type model struct {
	gamesPlayed int
	rows        int
	turns       int64
	states      int64
	startTime   time.Time
	recentGames []string
	updates     chan GameUpdate
	oracle      inference.Oracle
}

func initialModel(updates chan GameUpdate, oracle inference.Oracle) model {
	return model{
		startTime: time.Now(),
		updates:   updates,
		oracle:    oracle,
	}
}

type TickMsg time.Time

func tickCmd() tea.Cmd {
	return tea.Tick(time.Millisecond*200, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

func (m model) Init() tea.Cmd {
	return tea.Batch(waitForUpdate(m.updates), tickCmd())
}

func waitForUpdate(updates chan GameUpdate) tea.Cmd {
	return func() tea.Msg {
		return <-updates
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
	case TickMsg:
		m.turns = totalTurns.Load()
		m.states = totalStates.Load()
		return m, tickCmd()
	case GameUpdate:
		m.gamesPlayed++
		m.rows += len(msg.Result.Rows)
		winner := msg.Result.WinnerID
		if winner == "" {
			winner = "draw"
		}
		line := fmt.Sprintf("worker %d: %s winner=%s turns=%d rows=%d", msg.WorkerID, msg.Result.GameID[:8], winner, msg.Result.Turns, len(msg.Result.Rows))
		m.recentGames = append([]string{line}, m.recentGames...)
		if len(m.recentGames) > 10 {
			m.recentGames = m.recentGames[:10]
		}
		return m, waitForUpdate(m.updates)
	}
	return m, nil
}

func (m model) View() string {
	secs := time.Since(m.startTime).Seconds()
	rate := func(n float64) float64 {
		if secs < 1 {
			return 0
		}
		return n / secs
	}

	s := fmt.Sprintf("Games played:  %d\n", m.gamesPlayed)
	s += fmt.Sprintf("Rows:          %d\n", m.rows)
	s += fmt.Sprintf("Turns:         %d\n", m.turns)
	s += fmt.Sprintf("States scored: %d\n", m.states)
	s += fmt.Sprintf("Duration:      %s\n", time.Since(m.startTime).Round(time.Second))
	s += fmt.Sprintf("Games/s:       %.2f\n", rate(float64(m.gamesPlayed)))
	s += fmt.Sprintf("Turns/s:       %.2f\n", rate(float64(m.turns)))
	s += fmt.Sprintf("States/s:      %.2f\n", rate(float64(m.states)))
	if m.oracle != nil {
		st := m.oracle.Stats()
		s += fmt.Sprintf("Batch avg:     %.1f (last %d, queue %d, run %.2fms)\n", st.AvgBatchSize, st.LastBatchSize, st.QueueLen, st.AvgRunMs)
	}

	s += "\nRecent games:\n"
	for _, g := range m.recentGames {
		s += g + "\n"
	}
	s += "\nPress q to quit.\n"
	return s
}

func main() {
	if err := config.LoadDotEnv(); err != nil {
		log.Fatalf("Failed to load .env: %v", err)
	}

	outDir := flag.String("out-dir", config.EnvOr("OUT_DIR", "data/generated"), "Output directory for training parquet batches")
	workers := flag.Int("workers", config.EnvInt("WORKERS", 8), "Number of self-play workers")
	gamesPerFlush := flag.Int("games-per-flush", config.EnvInt("GAMES_PER_FLUSH", 50), "Number of games to buffer per parquet flush")
	maxGames := flag.Int64("max-games", int64(config.EnvInt("MAX_GAMES", 0)), "If > 0, stop after generating this many games (across all workers)")
	modelPath := flag.String("model", config.EnvOr("MODEL_PATH", "models/latest.onnx"), "ONNX value model; empty runs with a constant oracle")
	onnxSessions := flag.Int("onnx-sessions", config.EnvInt("ONNX_SESSIONS", 1), "Number of ONNX Runtime sessions (each has its own batching loop)")
	onnxBatchSize := flag.Int("onnx-batch-size", config.EnvInt("ONNX_BATCH_SIZE", inference.DefaultBatchSize), "States that trigger an immediate ONNX run")
	onnxBatchTimeout := flag.Duration("onnx-batch-timeout", config.EnvDuration("ONNX_BATCH_TIMEOUT", inference.DefaultBatchTimeout), "Max time to wait for filling an ONNX batch")
	breadth := flag.Int("breadth", config.EnvInt("BREADTH", 32), "Search iterations per decision")
	maxDepth := flag.Int("max-depth", config.EnvInt("MAX_DEPTH", 8), "Playout depth before subtracting the snake count")
	softmaxBase := flag.Float64("softmax-base", config.EnvFloat("SOFTMAX_BASE", 1000), "Softermax base")
	snakes := flag.Int("snakes", config.EnvInt("SNAKES", 2), "Snakes per game")
	width := flag.Int("width", config.EnvInt("WIDTH", 11), "Board width")
	height := flag.Int("height", config.EnvInt("HEIGHT", 11), "Board height")
	maxTurns := flag.Int("max-turns", config.EnvInt("MAX_TURNS", 500), "Stop a game after this many turns")
	useTUI := flag.Bool("tui", config.EnvBool("TUI", false), "Show a live terminal dashboard")
	trace := flag.Bool("trace", config.EnvBool("TRACE", false), "Log worker 0's boards every turn at debug level")
	logFormat := flag.String("log-format", config.EnvOr("LOG_FORMAT", "text"), "text, json or pretty")
	logLevel := flag.String("log-level", config.EnvOr("LOG_LEVEL", "info"), "debug, info, warn or error")
	logFile := flag.String("log-file", config.EnvOr("LOG_FILE", "selfplay.log"), "Log destination while the TUI is shown")
	flag.Parse()

	logOut := os.Stderr
	if *useTUI {
		f, err := os.OpenFile(*logFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
		if err != nil {
			log.Fatalf("error opening log file: %v", err)
		}
		defer f.Close()
		logOut = f
	}
	if _, err := logging.Setup(logOut, *logFormat, *logLevel); err != nil {
		log.Fatalf("Bad logging flags: %v", err)
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(sigCtx)
	defer cancel()

	oracle, err := inference.Open(*modelPath, *onnxSessions, inference.OnnxClientConfig{BatchSize: *onnxBatchSize, BatchTimeout: *onnxBatchTimeout})
	if err != nil {
		log.Fatalf("Failed to open value model: %v", err)
	}
	defer oracle.Close()
	if *modelPath == "" {
		slog.Warn("no model given; every state scores zero")
	}

	agentCfg := mcts.Config{
		SoftmaxBase:     *softmaxBase,
		MaxDepth:        *maxDepth,
		Breadth:         *breadth,
		Training:        true,
		LethalThreshold: encode.LethalThreshold,
	}
	playCfg := selfplay.DefaultConfig()
	playCfg.Width = int32(*width)
	playCfg.Height = int32(*height)
	playCfg.Snakes = *snakes
	playCfg.MaxTurns = *maxTurns
	playCfg.Food = rules.DefaultFoodSettings
	playCfg.TraceProfile = termenv.EnvColorProfile()

	slog.Info("starting self-play",
		"workers", *workers,
		"out_dir", *outDir,
		"model", *modelPath,
		"breadth", *breadth,
		"max_depth", *maxDepth,
		"snakes", *snakes,
	)

	updates := make(chan GameUpdate, *workers)
	results := make(chan selfplay.GameResult, (*workers)*4)
	writerDone := make(chan struct{})
	go func() {
		parquetWriterLoop(*outDir, *gamesPerFlush, results)
		close(writerDone)
	}()

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < *workers; i++ {
		workerID := i
		g.Go(func() error {
			return runWorker(gctx, workerID, countingOracle{Oracle: oracle}, agentCfg, playCfg, *trace && workerID == 0, *maxGames, cancel, results, updates)
		})
	}

	workersDone := make(chan error, 1)
	go func() {
		err := g.Wait()
		close(results)
		<-writerDone
		workersDone <- err
	}()

	if *useTUI {
		p := tea.NewProgram(initialModel(updates, oracle), tea.WithAltScreen(), tea.WithContext(ctx))
		if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
			slog.Error("tui stopped", "err", err)
		}
		cancel()
	} else {
		reportLoop(ctx, oracle, updates)
	}

	slog.Info("shutdown requested; waiting for workers to finish current games")
	if err := <-workersDone; err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("self-play failed", "err", err)
		os.Exit(1)
	}
	slog.Info("shutdown complete", "games", totalGames.Load())
}

// A worker gives up after this many games in a row fail, waiting
// failureBackoff (doubling each time) between attempts.
var (
	maxConsecutiveFailures = 5
	failureBackoff         = 200 * time.Millisecond
)

func runWorker(ctx context.Context, workerID int, oracle mcts.ValueOracle, agentCfg mcts.Config, playCfg selfplay.Config, trace bool, maxGames int64, cancel context.CancelFunc, results chan<- selfplay.GameResult, updates chan<- GameUpdate) error {
	seed := time.Now().UnixNano() + int64(workerID)*1000003
	rng := rand.New(rand.NewSource(seed))
	logger := slog.Default().With("worker", workerID)
	agent := mcts.NewAgent(oracle, agentCfg, mcts.WithRand(rand.New(rand.NewSource(rng.Int63()))), mcts.WithLogger(logger))
	playCfg.Trace = trace

	failures := 0
	for ctx.Err() == nil {
		res, err := selfplay.PlayGame(ctx, agent, playCfg, rng, func() { totalTurns.Add(1) })
		if err != nil {
			if ctx.Err() != nil {
				// Partial games are not written.
				return nil
			}
			failures++
			attrs := []any{"failures", failures, "err", err}
			if res.GameID != "" {
				attrs = append(attrs, "game", res.GameID, "turn", res.Turns)
			}
			logger.Error("game aborted", attrs...)
			if failures >= maxConsecutiveFailures {
				return fmt.Errorf("worker %d: %d games failed in a row: %w", workerID, failures, err)
			}
			select {
			case <-time.After(failureBackoff << (failures - 1)):
			case <-ctx.Done():
				return nil
			}
			continue
		}
		failures = 0

		total := totalGames.Add(1)
		if maxGames > 0 && total >= maxGames {
			cancel()
		}
		results <- res

		// Avoid blocking shutdown if the UI loop stops consuming.
		select {
		case updates <- GameUpdate{WorkerID: workerID, Result: res}:
		default:
		}
	}
	return nil
}

func reportLoop(ctx context.Context, oracle inference.Oracle, updates <-chan GameUpdate) {
	startTime := time.Now()
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case u := <-updates:
			slog.Info("game finished",
				"worker", u.WorkerID,
				"game", u.Result.GameID,
				"winner", u.Result.WinnerID,
				"turns", u.Result.Turns,
				"rows", len(u.Result.Rows),
			)
		case <-ticker.C:
			secs := time.Since(startTime).Seconds()
			st := oracle.Stats()
			slog.Info("stats",
				"games", totalGames.Load(),
				"turns_per_sec", float64(totalTurns.Load())/secs,
				"states_per_sec", float64(totalStates.Load())/secs,
				"batch_avg", st.AvgBatchSize,
				"batch_last", st.LastBatchSize,
				"queue", st.QueueLen,
				"run_avg_ms", st.AvgRunMs,
			)
		}
	}
}

// parquetWriterLoop streams finished games into batch files, finalizing one
// every gamesPerFlush games and once more when in is closed.
func parquetWriterLoop(outDir string, gamesPerFlush int, in <-chan selfplay.GameResult) {
	if gamesPerFlush <= 0 {
		gamesPerFlush = 50
	}

	var w *store.BatchWriter
	finalize := func(reason string) {
		if w == nil {
			return
		}
		path, rows, games, err := w.Finalize()
		w = nil
		if err != nil {
			slog.Error("parquet flush failed", "reason", reason, "err", err)
			return
		}
		if path != "" {
			slog.Info("parquet flush ok", "reason", reason, "path", path, "games", games, "rows", rows)
		}
	}

	for res := range in {
		if len(res.Rows) == 0 {
			continue
		}
		if w == nil {
			var err error
			w, err = store.NewBatchWriter(outDir)
			if err != nil {
				slog.Error("open batch writer", "err", err)
				continue
			}
		}
		if err := w.WriteGame(res.Rows); err != nil {
			// The file may hold a partial row group; drop the whole batch.
			slog.Error("write game", "game", res.GameID, "err", err, "dropped_games", w.BufferedGames())
			if err := w.Abort(); err != nil {
				slog.Error("abort batch", "err", err)
			}
			w = nil
			continue
		}
		if w.BufferedGames() >= gamesPerFlush {
			finalize("full")
		}
	}
	finalize("final")
}
