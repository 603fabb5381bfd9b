package inference

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/brensch/alphasnake/encode"
	"github.com/brensch/alphasnake/game"
)

func testState(t testing.TB) encode.StateTensor {
	t.Helper()
	s := &game.GameState{
		Width:  11,
		Height: 11,
		Food:   []game.Point{{X: 5, Y: 5}},
		Snakes: []game.Snake{{Id: "me", Health: 90, Body: []game.Point{{X: 1, Y: 1}, {X: 1, Y: 0}, {X: 0, Y: 0}}}},
	}
	tensor, err := encode.Encode(s, "me", game.Up)
	if err != nil {
		t.Fatal(err)
	}
	return tensor
}

func findModel(t testing.TB) string {
	t.Helper()
	candidates := []string{
		"../../models/value_net.onnx",
		"../../models/latest.onnx",
	}
	if p := os.Getenv("ALPHASNAKE_ONNX_MODEL"); p != "" {
		candidates = append([]string{p}, candidates...)
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	t.Skip("ONNX model not found; set ALPHASNAKE_ONNX_MODEL to run")
	return ""
}

func TestConstant(t *testing.T) {
	c := Constant{0.1, -0.2, 0.3}
	out, err := c.Evaluate(context.Background(), []encode.StateTensor{testState(t), testState(t)})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 || out[1] != [3]float32{0.1, -0.2, 0.3} {
		t.Fatalf("out=%v", out)
	}
}

func TestOpen_WithoutModel(t *testing.T) {
	o, err := Open("", 4, DefaultOnnxClientConfig())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := o.(Constant); !ok {
		t.Fatalf("oracle=%T want Constant", o)
	}
	if _, err := Open(filepath.Join(t.TempDir(), "missing.onnx"), 1, DefaultOnnxClientConfig()); err == nil {
		t.Fatal("expected error for missing model")
	}
}

func TestEvaluate_RejectsMixedShapes(t *testing.T) {
	c := &OnnxClient{requestsChan: make(chan inferenceRequest, 1), done: make(chan struct{})}
	small := encode.StateTensor{Height: 3, Width: 3, Channels: 3, Data: make([]float32, 27)}
	if _, err := c.Evaluate(context.Background(), []encode.StateTensor{testState(t), small}); err == nil {
		t.Fatal("expected shape error")
	}
	if len(c.requestsChan) != 0 {
		t.Fatal("request was queued")
	}
}

func TestEvaluate_ContextCancelled(t *testing.T) {
	// No batch loop runs, so the request is never answered.
	c := &OnnxClient{requestsChan: make(chan inferenceRequest, 1), done: make(chan struct{})}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.Evaluate(ctx, []encode.StateTensor{testState(t)}); err == nil {
		t.Fatal("expected context error")
	}
}

func TestClose_WaitsForBatchLoop(t *testing.T) {
	c := &OnnxClient{
		requestsChan: make(chan inferenceRequest, 1),
		done:         make(chan struct{}),
		stopped:      make(chan struct{}),
	}

	// Stand in for a batch loop stuck in a session run.
	closed := make(chan struct{})
	go func() {
		c.Close()
		close(closed)
	}()
	select {
	case <-closed:
		t.Fatal("Close returned while the batch loop was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(c.stopped)
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("Close did not return after the batch loop stopped")
	}
}

func TestClose_StopsBatchLoop(t *testing.T) {
	c := &OnnxClient{
		cfg:          OnnxClientConfig{BatchSize: 4, BatchTimeout: time.Millisecond},
		requestsChan: make(chan inferenceRequest, 1),
		done:         make(chan struct{}),
		stopped:      make(chan struct{}),
	}
	go c.batchLoop()

	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	select {
	case <-c.stopped:
	default:
		t.Fatal("batch loop still running after Close")
	}
	if _, err := c.Evaluate(context.Background(), []encode.StateTensor{testState(t)}); err != ErrClosed {
		t.Fatalf("err=%v want ErrClosed", err)
	}
}

func TestSharedLibraryPath(t *testing.T) {
	t.Setenv("ORT_SHARED_LIBRARY_PATH", "/opt/ort/libonnxruntime.so")
	if got := sharedLibraryPath(); got != "/opt/ort/libonnxruntime.so" {
		t.Fatalf("path=%q", got)
	}

	dir := t.TempDir()
	lib := filepath.Join(dir, "libonnxruntime.so")
	if err := os.WriteFile(lib, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	sub := filepath.Join(dir, "a", "b")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ORT_SHARED_LIBRARY_PATH", "")
	t.Chdir(sub)
	if got := sharedLibraryPath(); got != lib {
		t.Fatalf("path=%q want %q", got, lib)
	}
}

func TestPool_Empty(t *testing.T) {
	p := &OnnxPool{}
	if _, err := p.Evaluate(context.Background(), []encode.StateTensor{testState(t)}); err == nil {
		t.Fatal("expected error from empty pool")
	}
	if st := p.Stats(); st.TotalBatches != 0 || st.AvgBatchSize != 0 {
		t.Fatalf("stats=%+v", st)
	}
}

func TestOnnxClient_Evaluate(t *testing.T) {
	modelPath := findModel(t)
	if err := InitRuntime(); err != nil {
		t.Skipf("ORT unavailable: %v", err)
	}
	c, err := NewOnnxClientWithConfig(modelPath, OnnxClientConfig{BatchSize: 8, DisableCUDA: true})
	if err != nil {
		t.Skipf("session failed: %v", err)
	}
	defer c.Close()

	states := []encode.StateTensor{testState(t), testState(t), testState(t)}
	out, err := c.Evaluate(context.Background(), states)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != len(states) {
		t.Fatalf("got %d values for %d states", len(out), len(states))
	}
	for i, v := range out {
		if v != out[0] {
			t.Fatalf("identical states scored differently: %v vs %v (index %d)", out[0], v, i)
		}
	}
	if st := c.Stats(); st.TotalItems != 3 {
		t.Fatalf("stats=%+v", st)
	}
}

func BenchmarkOnnxClient(b *testing.B) {
	modelPath := findModel(b)
	c, err := NewOnnxClient(modelPath)
	if err != nil {
		b.Skipf("session failed: %v", err)
	}
	defer c.Close()

	states := make([]encode.StateTensor, 64)
	for i := range states {
		states[i] = testState(b)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := c.Evaluate(context.Background(), states); err != nil {
			b.Fatal(err)
		}
	}
	b.StopTimer()
	if dt := b.Elapsed().Seconds(); dt > 0 {
		b.ReportMetric(float64(b.N*len(states))/dt, "states/s")
	}
}
