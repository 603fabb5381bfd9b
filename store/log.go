package store

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// DoneLog remembers which game ids a long-running job has already handled.
// It is an append-only file with one id per line, loaded into memory on open.
// A partial last line left by a crash is read back as an ordinary id and is
// harmless.
type DoneLog struct {
	mu   sync.RWMutex
	file *os.File
	done map[string]struct{}
}

func OpenDoneLog(path string) (*DoneLog, error) {
	if path == "" {
		return nil, fmt.Errorf("log path is required")
	}

	done := make(map[string]struct{})
	if f, err := os.Open(path); err == nil {
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			if id := strings.TrimSpace(scanner.Text()); id != "" {
				done[id] = struct{}{}
			}
		}
		_ = f.Close()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return &DoneLog{file: file, done: done}, nil
}

func (l *DoneLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

func (l *DoneLog) Has(gameID string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.done[gameID]
	return ok
}

func (l *DoneLog) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.done)
}

// Add appends gameID and syncs. Known ids are ignored.
func (l *DoneLog) Add(gameID string) error {
	if gameID == "" {
		return fmt.Errorf("gameID is empty")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.done[gameID]; ok {
		return nil
	}
	if l.file == nil {
		return fmt.Errorf("log file is closed")
	}
	if _, err := l.file.WriteString(gameID + "\n"); err != nil {
		return fmt.Errorf("append log: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("sync log: %w", err)
	}
	l.done[gameID] = struct{}{}
	return nil
}
