package inference

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/brensch/alphasnake/encode"
)

// OnnxPool fans out Evaluate calls across multiple OnnxClient instances.
// Each client has its own batching loop and ORT session, allowing parallel
// inference execution on the GPU.
type OnnxPool struct {
	clients []*OnnxClient
	rr      atomic.Uint64
}

func (p *OnnxPool) Stats() RuntimeStats {
	var st RuntimeStats
	for _, c := range p.clients {
		cs := c.Stats()
		st.TotalBatches += cs.TotalBatches
		st.TotalItems += cs.TotalItems
		st.TotalRunNanos += cs.TotalRunNanos
		st.QueueLen += cs.QueueLen
		if cs.LastBatchSize > st.LastBatchSize {
			st.LastBatchSize = cs.LastBatchSize
		}
	}
	if st.TotalBatches > 0 {
		st.AvgBatchSize = float64(st.TotalItems) / float64(st.TotalBatches)
		st.AvgRunMs = (float64(st.TotalRunNanos) / 1e6) / float64(st.TotalBatches)
	}
	return st
}

func NewOnnxClientPool(modelPath string, sessions int) (*OnnxPool, error) {
	return NewOnnxClientPoolWithConfig(modelPath, sessions, DefaultOnnxClientConfig())
}

func NewOnnxClientPoolWithConfig(modelPath string, sessions int, cfg OnnxClientConfig) (*OnnxPool, error) {
	if sessions <= 0 {
		sessions = 1
	}

	clients := make([]*OnnxClient, 0, sessions)
	for i := 0; i < sessions; i++ {
		c, err := NewOnnxClientWithConfig(modelPath, cfg)
		if err != nil {
			for _, created := range clients {
				_ = created.Close()
			}
			return nil, fmt.Errorf("create onnx client %d/%d: %w", i+1, sessions, err)
		}
		clients = append(clients, c)
	}

	return &OnnxPool{clients: clients}, nil
}

func (p *OnnxPool) Close() error {
	var firstErr error
	for _, c := range p.clients {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Evaluate implements mcts.ValueOracle.
func (p *OnnxPool) Evaluate(ctx context.Context, states []encode.StateTensor) ([][3]float32, error) {
	if len(p.clients) == 0 {
		return nil, fmt.Errorf("onnx pool has no clients")
	}
	idx := int(p.rr.Add(1)-1) % len(p.clients)
	return p.clients[idx].Evaluate(ctx, states)
}

// Oracle is a closable value oracle with batching statistics.
type Oracle interface {
	Evaluate(ctx context.Context, states []encode.StateTensor) ([][3]float32, error)
	Stats() RuntimeStats
	Close() error
}

// Open loads modelPath into one client, or a pool when sessions > 1. An empty
// modelPath gives a zero Constant oracle so search can run without a model.
func Open(modelPath string, sessions int, cfg OnnxClientConfig) (Oracle, error) {
	if modelPath == "" {
		return Constant{}, nil
	}
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("model %s: %w", modelPath, err)
	}
	if sessions <= 1 {
		return NewOnnxClientWithConfig(modelPath, cfg)
	}
	return NewOnnxClientPoolWithConfig(modelPath, sessions, cfg)
}
