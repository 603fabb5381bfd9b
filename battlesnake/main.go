// Command battlesnake serves the Battlesnake HTTP API, choosing each move with
// the value-network guided search.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brensch/alphasnake/config"
	"github.com/brensch/alphasnake/encode"
	"github.com/brensch/alphasnake/executor/inference"
	"github.com/brensch/alphasnake/executor/mcts"
	"github.com/brensch/alphasnake/logging"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		log.Fatalf("Failed to load .env: %v", err)
	}

	listen := flag.String("listen", ":"+config.EnvOr("PORT", "8080"), "HTTP listen address")
	modelPath := flag.String("model", config.EnvOr("MODEL_PATH", "models/latest.onnx"), "Path to the ONNX value model")
	sessions := flag.Int("sessions", config.EnvInt("ONNX_SESSIONS", 1), "Number of ONNX sessions")
	disableCUDA := flag.Bool("disable-cuda", config.EnvBool("DISABLE_CUDA", false), "Disable the CUDA execution provider")
	search := flag.Bool("search", config.EnvBool("SEARCH", true), "Run the search; false plays the raw network")
	breadth := flag.Int("breadth", config.EnvInt("BREADTH", 32), "Search iterations per move")
	maxDepth := flag.Int("max-depth", config.EnvInt("MAX_DEPTH", 8), "Playout depth before subtracting the snake count")
	softmaxBase := flag.Float64("softmax-base", config.EnvFloat("SOFTMAX_BASE", 1000), "Softermax base")
	moveTimeout := flag.Duration("move-timeout", config.EnvDuration("MOVE_TIMEOUT", 500*time.Millisecond), "Move timeout when the game does not send one")
	latencyBuffer := flag.Duration("latency-buffer", config.EnvDuration("LATENCY_BUFFER", 150*time.Millisecond), "Time kept back from the move timeout for network latency")
	color := flag.String("color", config.EnvOr("SNAKE_COLOR", "#00ffff"), "Snake colour")
	logFormat := flag.String("log-format", config.EnvOr("LOG_FORMAT", "text"), "text, json or pretty")
	logLevel := flag.String("log-level", config.EnvOr("LOG_LEVEL", "info"), "debug, info, warn or error")
	flag.Parse()

	logger, err := logging.Setup(os.Stderr, *logFormat, *logLevel)
	if err != nil {
		log.Fatalf("Bad logging flags: %v", err)
	}

	onnxCfg := inference.DefaultOnnxClientConfig()
	onnxCfg.DisableCUDA = *disableCUDA
	logger.Info("loading model", "path", *modelPath, "sessions", *sessions, "cuda", !*disableCUDA)
	oracle, err := inference.Open(*modelPath, *sessions, onnxCfg)
	if err != nil {
		log.Fatalf("Failed to open value model: %v", err)
	}
	defer oracle.Close()

	agent := mcts.NewAgent(oracle, mcts.Config{
		SoftmaxBase:     *softmaxBase,
		MaxDepth:        *maxDepth,
		Breadth:         *breadth,
		LethalThreshold: encode.LethalThreshold,
	}, mcts.WithRand(rand.New(rand.NewSource(time.Now().UnixNano()))), mcts.WithLogger(logger))

	server := NewServer(agent, oracle, ServerConfig{
		Search:        *search,
		MoveTimeout:   *moveTimeout,
		LatencyBuffer: *latencyBuffer,
		Color:         *color,
	}, logger)

	srv := &http.Server{
		Addr:              *listen,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("battlesnake server listening", "addr", *listen, "search", *search)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server stopped", "err", err)
		os.Exit(1)
	}
}
