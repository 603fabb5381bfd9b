// Package inference serves batched value-network evaluations through ONNX
// Runtime. Concurrent callers are coalesced into one session run per batch.
package inference

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brensch/alphasnake/encode"
	ort "github.com/yalue/onnxruntime_go"
)

const (
	InputName  = "input"
	OutputName = "value"
	ValueSize  = 3
)

const (
	DefaultBatchSize    = 256
	DefaultBatchTimeout = 1 * time.Millisecond
)

var ErrClosed = errors.New("onnx client closed")

type OnnxClientConfig struct {
	// BatchSize is the number of states that triggers an immediate run.
	BatchSize    int
	BatchTimeout time.Duration
	DisableCUDA  bool
}

func DefaultOnnxClientConfig() OnnxClientConfig {
	return OnnxClientConfig{BatchSize: DefaultBatchSize, BatchTimeout: DefaultBatchTimeout}
}

// RuntimeStats describes the batching behaviour of a client or pool.
type RuntimeStats struct {
	TotalBatches  int64
	TotalItems    int64
	TotalRunNanos int64
	LastBatchSize int64
	QueueLen      int
	AvgBatchSize  float64
	AvgRunMs      float64
}

type inferenceRequest struct {
	height, width int
	states        []encode.StateTensor
	respChan      chan inferenceResponse
}

type inferenceResponse struct {
	values [][3]float32
	err    error
}

// OnnxClient implements mcts.ValueOracle on top of an ONNX model with one
// NHWC float input named "input" and one [N,3] output named "value".
type OnnxClient struct {
	session      *ort.DynamicAdvancedSession
	requestsChan chan inferenceRequest
	done         chan struct{}
	stopped      chan struct{} // closed once batchLoop has returned
	closeOnce    sync.Once
	cfg          OnnxClientConfig
	logger       *slog.Logger

	batches   atomic.Int64
	items     atomic.Int64
	runNanos  atomic.Int64
	lastBatch atomic.Int64
}

var ortInitOnce sync.Once
var ortInitErr error

func NewOnnxClient(modelPath string) (*OnnxClient, error) {
	return NewOnnxClientWithConfig(modelPath, DefaultOnnxClientConfig())
}

func NewOnnxClientWithConfig(modelPath string, cfg OnnxClientConfig) (*OnnxClient, error) {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = DefaultBatchTimeout
	}
	logger := slog.Default().With("component", "onnx", "model", filepath.Base(modelPath))

	if err := InitRuntime(); err != nil {
		return nil, err
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, err
	}
	defer options.Destroy()

	// Many sessions can run side by side; keep each one single threaded.
	options.SetIntraOpNumThreads(1)
	options.SetInterOpNumThreads(1)

	if !cfg.DisableCUDA {
		cudaOptions, err := ort.NewCUDAProviderOptions()
		if err == nil {
			defer cudaOptions.Destroy()
			if err := options.AppendExecutionProviderCUDA(cudaOptions); err != nil {
				logger.Warn("CUDA provider unavailable", "err", err)
			} else {
				logger.Info("CUDA provider enabled")
			}
		} else {
			logger.Warn("failed to create CUDA options", "err", err)
		}
	}

	session, err := ort.NewDynamicAdvancedSession(modelPath, []string{InputName}, []string{OutputName}, options)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	client := &OnnxClient{
		session:      session,
		cfg:          cfg,
		logger:       logger,
		requestsChan: make(chan inferenceRequest, cfg.BatchSize*2),
		done:         make(chan struct{}),
		stopped:      make(chan struct{}),
	}

	go client.batchLoop()

	return client, nil
}

// InitRuntime locates the ONNX Runtime shared library and initializes the
// process-wide environment. It is safe to call more than once.
func InitRuntime() error {
	ortInitOnce.Do(func() {
		if runtime.GOOS == "linux" {
			ensureLinuxLibraryPath()
		}
		if p := sharedLibraryPath(); p != "" {
			ort.SetSharedLibraryPath(p)
		}
		ortInitErr = ort.InitializeEnvironment()
	})
	if ortInitErr != nil {
		return fmt.Errorf("failed to init ort: %w", ortInitErr)
	}
	return nil
}

// sharedLibraryPath honours ORT_SHARED_LIBRARY_PATH and otherwise searches the
// working directory and its parents for libonnxruntime.
func sharedLibraryPath() string {
	if p := os.Getenv("ORT_SHARED_LIBRARY_PATH"); p != "" {
		return p
	}
	candidates := []string{
		"libonnxruntime.so",
		"libonnxruntime.so.1",
		"libonnxruntime.dylib",
		"onnxruntime.dll",
	}
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for up := 0; up < 6; up++ {
		for _, name := range candidates {
			abs := filepath.Join(dir, name)
			if _, err := os.Stat(abs); err == nil {
				return abs
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ""
}

// ensureLinuxLibraryPath prepends the CUDA libraries that pip installs into
// the project's .venv to LD_LIBRARY_PATH.
func ensureLinuxLibraryPath() {
	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	candidateDirs := []string{cwd}
	patterns := []string{
		filepath.Join(cwd, ".venv", "lib", "python*", "site-packages", "nvidia", "*", "lib"),
		filepath.Join(cwd, ".venv", "lib", "python*", "site-packages", "onnxruntime", "capi"),
	}
	for _, pat := range patterns {
		matches, _ := filepath.Glob(pat)
		candidateDirs = append(candidateDirs, matches...)
	}

	existing := os.Getenv("LD_LIBRARY_PATH")
	existingSet := map[string]bool{}
	for _, p := range strings.Split(existing, ":") {
		if p != "" {
			existingSet[p] = true
		}
	}

	toAdd := make([]string, 0, len(candidateDirs))
	for _, d := range candidateDirs {
		if existingSet[d] {
			continue
		}
		if st, err := os.Stat(d); err == nil && st.IsDir() {
			toAdd = append(toAdd, d)
		}
	}
	if len(toAdd) == 0 {
		return
	}

	newVal := strings.Join(toAdd, ":")
	if existing != "" {
		newVal = newVal + ":" + existing
	}
	_ = os.Setenv("LD_LIBRARY_PATH", newVal)
}

func (c *OnnxClient) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		// The session must outlive any batch still running.
		<-c.stopped
		if c.session != nil {
			err = c.session.Destroy()
		}
	})
	return err
}

func (c *OnnxClient) Stats() RuntimeStats {
	batches := c.batches.Load()
	items := c.items.Load()
	runNanos := c.runNanos.Load()
	st := RuntimeStats{
		TotalBatches:  batches,
		TotalItems:    items,
		TotalRunNanos: runNanos,
		LastBatchSize: c.lastBatch.Load(),
		QueueLen:      len(c.requestsChan),
	}
	if batches > 0 {
		st.AvgBatchSize = float64(items) / float64(batches)
		st.AvgRunMs = (float64(runNanos) / 1e6) / float64(batches)
	}
	return st
}

// Evaluate implements mcts.ValueOracle. All states must share one shape.
func (c *OnnxClient) Evaluate(ctx context.Context, states []encode.StateTensor) ([][3]float32, error) {
	if len(states) == 0 {
		return nil, nil
	}
	h, w := states[0].Height, states[0].Width
	for i, s := range states {
		if s.Height != h || s.Width != w || s.Channels != encode.NumChannels {
			return nil, fmt.Errorf("state %d has shape %dx%dx%d, want %dx%dx%d", i, s.Height, s.Width, s.Channels, h, w, encode.NumChannels)
		}
	}

	respChan := make(chan inferenceResponse, 1)
	req := inferenceRequest{height: h, width: w, states: states, respChan: respChan}
	select {
	case c.requestsChan <- req:
	case <-c.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case resp := <-respChan:
		return resp.values, resp.err
	case <-c.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *OnnxClient) batchLoop() {
	defer close(c.stopped)

	var requests []inferenceRequest
	pending := 0

	ticker := time.NewTicker(c.cfg.BatchTimeout)
	defer ticker.Stop()

	flush := func() {
		if len(requests) == 0 {
			return
		}
		c.runBatch(requests, pending)
		requests = requests[:0]
		pending = 0
	}

	for {
		select {
		case <-c.done:
			for _, req := range requests {
				req.respChan <- inferenceResponse{err: ErrClosed}
			}
			return
		case req := <-c.requestsChan:
			// One run needs one input shape.
			if len(requests) > 0 && (requests[0].height != req.height || requests[0].width != req.width) {
				flush()
			}
			requests = append(requests, req)
			pending += len(req.states)
			if pending >= c.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (c *OnnxClient) runBatch(requests []inferenceRequest, n int) {
	h, w := requests[0].height, requests[0].width
	stride := h * w * encode.NumChannels

	batchInput := make([]float32, 0, n*stride)
	for _, req := range requests {
		for _, s := range req.states {
			batchInput = append(batchInput, s.Data...)
		}
	}

	inputTensor, err := ort.NewTensor(ort.NewShape(int64(n), int64(h), int64(w), int64(encode.NumChannels)), batchInput)
	if err != nil {
		c.failBatch(requests, err)
		return
	}
	defer inputTensor.Destroy()

	valueTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(int64(n), ValueSize))
	if err != nil {
		c.failBatch(requests, err)
		return
	}
	defer valueTensor.Destroy()

	start := time.Now()
	if err := c.session.Run([]ort.Value{inputTensor}, []ort.Value{valueTensor}); err != nil {
		c.failBatch(requests, err)
		return
	}
	c.runNanos.Add(time.Since(start).Nanoseconds())
	c.batches.Add(1)
	c.items.Add(int64(n))
	c.lastBatch.Store(int64(n))

	valueData := valueTensor.GetData()
	offset := 0
	for _, req := range requests {
		values := make([][3]float32, len(req.states))
		for i := range values {
			copy(values[i][:], valueData[(offset+i)*ValueSize:(offset+i+1)*ValueSize])
		}
		offset += len(req.states)
		req.respChan <- inferenceResponse{values: values}
	}
}

func (c *OnnxClient) failBatch(requests []inferenceRequest, err error) {
	c.logger.Error("batch failed", "requests", len(requests), "err", err)
	for _, req := range requests {
		req.respChan <- inferenceResponse{err: err}
	}
}
