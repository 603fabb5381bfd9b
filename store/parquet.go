// Package store persists training samples as zstd-compressed Parquet and
// queries them back with DuckDB.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/brensch/alphasnake/encode"
	"github.com/brensch/alphasnake/executor/mcts"
	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress/zstd"
)

const SchemaVersion = "alphasnake_training_row_v1"

// TrainingRow is one search result: the egocentric state a snake saw and
// the root Q-vector the search produced for it.
//
// State is the raw float32 little-endian HWC tensor. Move is the relative
// move that was played: 0=turn-left, 1=straight, 2=turn-right.
type TrainingRow struct {
	GameID    string  `parquet:"game_id,dict"`
	Turn      int32   `parquet:"turn"`
	SnakeID   string  `parquet:"snake_id,dict"`
	Height    int32   `parquet:"height"`
	Width     int32   `parquet:"width"`
	Channels  int32   `parquet:"channels"`
	State     []byte  `parquet:"state"`
	QLeft     float32 `parquet:"q_left"`
	QStraight float32 `parquet:"q_straight"`
	QRight    float32 `parquet:"q_right"`
	Move      int32   `parquet:"move"`
	Source    string  `parquet:"source,dict"`
}

// RowFromSample converts a search sample into a row.
func RowFromSample(s mcts.Sample, source string) TrainingRow {
	return TrainingRow{
		GameID:    s.GameID,
		Turn:      s.Turn,
		SnakeID:   s.SnakeID,
		Height:    int32(s.State.Height),
		Width:     int32(s.State.Width),
		Channels:  int32(s.State.Channels),
		State:     s.State.Bytes(),
		QLeft:     s.Q[0],
		QStraight: s.Q[1],
		QRight:    s.Q[2],
		Move:      int32(s.Move),
		Source:    source,
	}
}

// Tensor decodes the stored state.
func (r TrainingRow) Tensor() (encode.StateTensor, error) {
	return encode.FromBytes(int(r.Height), int(r.Width), int(r.Channels), r.State)
}

func (r TrainingRow) Q() [3]float32 {
	return [3]float32{r.QLeft, r.QStraight, r.QRight}
}

func writerOptions() []parquet.WriterOption {
	return []parquet.WriterOption{
		parquet.Compression(&zstd.Codec{Level: zstd.SpeedBetterCompression}),
		// State blobs are opaque; page bounds for them are useless.
		parquet.SkipPageBounds("state"),
		parquet.KeyValueMetadata("schema", SchemaVersion),
	}
}

// WriteBatchParquetAtomic writes a Parquet file into outDir/tmp and then
// atomically moves it into outDir, so readers never observe partial files.
// The returned path is the final parquet file path.
func WriteBatchParquetAtomic(outDir string, rows []TrainingRow) (string, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}

	tmpDir := filepath.Join(outDir, "tmp")
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return "", fmt.Errorf("create tmp dir: %w", err)
	}

	name := fmt.Sprintf("batch_%d.parquet", time.Now().UnixNano())
	finalPath := filepath.Join(outDir, name)
	tmpPath := filepath.Join(tmpDir, name+".tmp")
	_ = os.Remove(tmpPath)

	if err := parquet.WriteFile(tmpPath, rows, writerOptions()...); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("write parquet: %w", err)
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("rename parquet: %w", err)
	}

	return finalPath, nil
}

// ReadTrainingRows loads every row of one parquet file.
func ReadTrainingRows(path string) ([]TrainingRow, error) {
	rows, err := parquet.ReadFile[TrainingRow](path)
	if err != nil {
		return nil, fmt.Errorf("read parquet %s: %w", path, err)
	}
	return rows, nil
}
