package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/parquet-go/parquet-go"
)

var errWriterClosed = errors.New("batch writer is closed")

// BatchWriter streams rows from many games into one parquet file under
// outDir/tmp and moves it into outDir on Finalize.
type BatchWriter struct {
	tmpPath string
	outPath string

	file   *os.File
	writer *parquet.GenericWriter[TrainingRow]

	bufferedGames int
	bufferedRows  int
}

func NewBatchWriter(outDir string) (*BatchWriter, error) {
	if outDir == "" {
		return nil, errors.New("outDir is required")
	}
	dir, err := filepath.Abs(outDir)
	if err != nil {
		dir = outDir
	}
	if err := os.MkdirAll(filepath.Join(dir, "tmp"), 0o755); err != nil {
		return nil, fmt.Errorf("create tmp dir: %w", err)
	}

	b := &BatchWriter{outPath: filepath.Join(dir, fmt.Sprintf("batch_%d.parquet", time.Now().UnixNano()))}
	b.tmpPath = filepath.Join(dir, "tmp", filepath.Base(b.outPath))
	if b.file, err = os.Create(b.tmpPath); err != nil {
		return nil, fmt.Errorf("open tmp parquet: %w", err)
	}
	b.writer = parquet.NewGenericWriter[TrainingRow](b.file, writerOptions()...)
	return b, nil
}

func (b *BatchWriter) OutPath() string    { return b.outPath }
func (b *BatchWriter) BufferedGames() int { return b.bufferedGames }
func (b *BatchWriter) BufferedRows() int  { return b.bufferedRows }

// WriteGame appends the rows of one finished game.
func (b *BatchWriter) WriteGame(rows []TrainingRow) error {
	if b.writer == nil {
		return errWriterClosed
	}
	if len(rows) > 0 {
		if _, err := b.writer.Write(rows); err != nil {
			return err
		}
	}
	b.bufferedRows += len(rows)
	b.bufferedGames++
	return nil
}

// close flushes and closes the writer and file once. Later calls are no-ops.
func (b *BatchWriter) close() error {
	if b.writer == nil {
		return nil
	}
	var errs []error
	if err := b.writer.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close parquet writer: %w", err))
	}
	if err := b.file.Sync(); err != nil {
		errs = append(errs, fmt.Errorf("sync parquet file: %w", err))
	}
	if err := b.file.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close parquet file: %w", err))
	}
	b.writer, b.file = nil, nil
	return errors.Join(errs...)
}

// Finalize closes the batch and publishes it to outDir. A batch without rows
// is discarded and reported with an empty path.
func (b *BatchWriter) Finalize() (outPath string, rows int, games int, err error) {
	if b.writer == nil {
		return "", 0, 0, nil
	}
	if err := b.close(); err != nil {
		return "", 0, 0, err
	}
	if b.bufferedRows == 0 {
		_ = os.Remove(b.tmpPath)
		return "", 0, 0, nil
	}
	if err := os.Rename(b.tmpPath, b.outPath); err != nil {
		return "", 0, 0, fmt.Errorf("rename parquet: %w", err)
	}
	return b.outPath, b.bufferedRows, b.bufferedGames, nil
}

// Abort drops the batch without publishing it.
func (b *BatchWriter) Abort() error {
	err := b.close()
	if rmErr := os.Remove(b.tmpPath); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
		err = errors.Join(err, rmErr)
	}
	return err
}
