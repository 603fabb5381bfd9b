// Command replay downloads real games from the Battlesnake engine, replays
// them through the search and reports how often it picks the move the snake
// actually played. With -out-dir the searched positions are also written as
// training rows.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/brensch/alphasnake/config"
	"github.com/brensch/alphasnake/encode"
	"github.com/brensch/alphasnake/executor/inference"
	"github.com/brensch/alphasnake/executor/mcts"
	"github.com/brensch/alphasnake/logging"
	"github.com/brensch/alphasnake/replay"
	"github.com/brensch/alphasnake/store"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		log.Fatalf("Failed to load .env: %v", err)
	}

	gamesFlag := flag.String("games", "", "Comma separated game ids")
	discoverURL := flag.String("discover", "", "HTML page to scrape game ids from")
	snakesFlag := flag.String("snakes", "", "Comma separated snake ids to evaluate (default all)")
	engineURL := flag.String("engine-url", config.EnvOr("ENGINE_URL", replay.DefaultConfig().EngineURL), "Engine websocket URL template")
	modelPath := flag.String("model", config.EnvOr("MODEL_PATH", "models/latest.onnx"), "Path to the ONNX value model")
	sessions := flag.Int("sessions", config.EnvInt("ONNX_SESSIONS", 1), "Number of ONNX sessions")
	disableCUDA := flag.Bool("disable-cuda", config.EnvBool("DISABLE_CUDA", false), "Disable the CUDA execution provider")
	workers := flag.Int("workers", config.EnvInt("WORKERS", 4), "Games replayed in parallel")
	breadth := flag.Int("breadth", config.EnvInt("BREADTH", 32), "Search iterations per move")
	maxDepth := flag.Int("max-depth", config.EnvInt("MAX_DEPTH", 8), "Playout depth before subtracting the snake count")
	softmaxBase := flag.Float64("softmax-base", config.EnvFloat("SOFTMAX_BASE", 1000), "Softermax base")
	outDir := flag.String("out-dir", config.EnvOr("REPLAY_OUT_DIR", ""), "Write searched positions as training rows here")
	doneLogPath := flag.String("done-log", config.EnvOr("REPLAY_DONE_LOG", ""), "File of already replayed game ids to skip")
	logFormat := flag.String("log-format", config.EnvOr("LOG_FORMAT", "text"), "text, json or pretty")
	logLevel := flag.String("log-level", config.EnvOr("LOG_LEVEL", "info"), "debug, info, warn or error")
	flag.Parse()

	logger, err := logging.Setup(os.Stderr, *logFormat, *logLevel)
	if err != nil {
		log.Fatalf("Bad logging flags: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ids := splitList(*gamesFlag)
	if *discoverURL != "" {
		client := &http.Client{Timeout: 30 * time.Second}
		found, err := replay.Discover(ctx, client, *discoverURL)
		if err != nil {
			log.Fatalf("Failed to discover games: %v", err)
		}
		logger.Info("discovered games", "url", *discoverURL, "count", len(found))
		ids = append(ids, found...)
	}
	if len(ids) == 0 {
		log.Fatal("No games: pass -games or -discover")
	}

	var done *store.DoneLog
	if *doneLogPath != "" {
		done, err = store.OpenDoneLog(*doneLogPath)
		if err != nil {
			log.Fatalf("Failed to open done log: %v", err)
		}
		defer done.Close()
	}

	onnxCfg := inference.DefaultOnnxClientConfig()
	onnxCfg.DisableCUDA = *disableCUDA
	oracle, err := inference.Open(*modelPath, *sessions, onnxCfg)
	if err != nil {
		log.Fatalf("Failed to open value model: %v", err)
	}
	defer oracle.Close()

	var writer *store.BatchWriter
	if *outDir != "" {
		writer, err = store.NewBatchWriter(*outDir)
		if err != nil {
			log.Fatalf("Failed to create writer: %v", err)
		}
	}

	dlCfg := replay.DefaultConfig()
	dlCfg.EngineURL = *engineURL
	downloader := replay.NewDownloader(dlCfg, logger)

	agentCfg := mcts.Config{
		SoftmaxBase: *softmaxBase,
		MaxDepth:    *maxDepth,
		Breadth:     *breadth,
		Training:    writer != nil,

		LethalThreshold: encode.LethalThreshold,
	}
	snakes := splitList(*snakesFlag)

	var (
		mu    sync.Mutex
		total replay.Report
	)
	jobs := make(chan string)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(jobs)
		for _, id := range ids {
			if done != nil && done.Has(id) {
				continue
			}
			select {
			case jobs <- id:
			case <-gctx.Done():
				return nil
			}
		}
		return nil
	})
	for w := 0; w < max(*workers, 1); w++ {
		g.Go(func() error {
			wl := logger.With("worker", w)
			agent := mcts.NewAgent(oracle, agentCfg, mcts.WithRand(rand.New(rand.NewSource(time.Now().UnixNano()+int64(w)))), mcts.WithLogger(wl))
			for id := range jobs {
				rep, err := replayGame(gctx, downloader, agent, id, snakes)
				if err != nil {
					if gctx.Err() != nil {
						return nil
					}
					wl.Error("replay failed", "game", id, "err", err)
					continue
				}
				wl.Info("replayed game", "game", id, "decisions", rep.Decisions, "agreement", fmt.Sprintf("%.3f", rep.Rate()))

				mu.Lock()
				err = record(writer, done, rep)
				total.Add(replay.Report{Decisions: rep.Decisions, Agreed: rep.Agreed, Skipped: rep.Skipped, Confusion: rep.Confusion})
				mu.Unlock()
				if err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		slog.Error("replay stopped", "err", err)
	}

	if writer != nil {
		path, rows, games, err := writer.Finalize()
		if err != nil {
			log.Fatalf("Failed to write training rows: %v", err)
		}
		if rows > 0 {
			logger.Info("wrote training rows", "path", path, "rows", rows, "games", games)
		}
	}

	fmt.Printf("decisions=%d agreed=%d skipped=%d agreement=%.3f\n", total.Decisions, total.Agreed, total.Skipped, total.Rate())
	fmt.Println("played\\chosen  left  straight  right")
	for i, name := range []string{"left", "straight", "right"} {
		c := total.Confusion[i]
		fmt.Printf("%-14s %5d %9d %6d\n", name, c[0], c[1], c[2])
	}
}

func replayGame(ctx context.Context, d *replay.Downloader, agent *mcts.Agent, id string, snakes []string) (replay.Report, error) {
	g, err := d.Download(ctx, id)
	if err != nil {
		return replay.Report{}, fmt.Errorf("download: %w", err)
	}
	return replay.Evaluate(ctx, agent, g, snakes...)
}

// record buffers a finished game's rows and marks it done. Callers hold the lock.
func record(w *store.BatchWriter, done *store.DoneLog, rep replay.Report) error {
	if w != nil && len(rep.Samples) > 0 {
		rows := make([]store.TrainingRow, len(rep.Samples))
		for i, s := range rep.Samples {
			rows[i] = store.RowFromSample(s, "replay")
		}
		if err := w.WriteGame(rows); err != nil {
			return err
		}
	}
	if done != nil {
		return done.Add(rep.GameID)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
