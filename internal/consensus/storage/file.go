// Package storage provides two interchangeable consensus.Storage backends:
// plain files on disk (this file, the default, zero external dependencies;
// the log is a JSON-lines file rewritten whole on every save) and a
// lib/pq-backed Postgres table (postgres.go, opt-in).
package storage

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ruvnet/raftbooking/internal/consensus"
)

// FileStorage persists PersistentState as one JSON object and the log as
// JSON lines, in two plain files under dir. It is best-effort: a write failure is surfaced to
// the caller but never blocks consensus progress, per the Non-goals around
// full-cluster-restart durability.
type FileStorage struct {
	mu       sync.Mutex
	stateDir string
	statePath string
	logPath   string
}

// NewFileStorage creates dir if necessary and returns a FileStorage whose
// state.json and log.jsonl live under it; the files themselves are written
// on the first SaveState/SaveLog.
func NewFileStorage(dir string) (*FileStorage, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &FileStorage{
		stateDir:  dir,
		statePath: filepath.Join(dir, "state.json"),
		logPath:   filepath.Join(dir, "log.jsonl"),
	}, nil
}

// SaveState overwrites state.json with the current term/votedFor.
func (f *FileStorage) SaveState(state consensus.PersistentState) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	return os.WriteFile(f.statePath, data, 0o644)
}

// LoadState reads state.json, returning the zero value if it doesn't exist yet.
func (f *FileStorage) LoadState() (consensus.PersistentState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.statePath)
	if os.IsNotExist(err) {
		return consensus.PersistentState{}, nil
	}
	if err != nil {
		return consensus.PersistentState{}, fmt.Errorf("read state: %w", err)
	}

	var state consensus.PersistentState
	if err := json.Unmarshal(data, &state); err != nil {
		return consensus.PersistentState{}, fmt.Errorf("unmarshal state: %w", err)
	}
	return state, nil
}

// SaveLog rewrites log.jsonl with entries, one JSON object per line. The
// log is small enough in this system's test scenarios that a full rewrite
// per call is simpler and safer than an append-plus-compaction scheme.
func (f *FileStorage) SaveLog(entries []*consensus.LogEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	tmp := f.logPath + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create log tmp file: %w", err)
	}

	w := bufio.NewWriter(file)
	enc := json.NewEncoder(w)
	for _, entry := range entries {
		if err := enc.Encode(entry); err != nil {
			file.Close()
			return fmt.Errorf("encode log entry: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		file.Close()
		return fmt.Errorf("flush log: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("close log tmp file: %w", err)
	}

	return os.Rename(tmp, f.logPath)
}

// LoadLog reads log.jsonl, returning an empty slice if it doesn't exist yet.
func (f *FileStorage) LoadLog() ([]*consensus.LogEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	file, err := os.Open(f.logPath)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open log: %w", err)
	}
	defer file.Close()

	var entries []*consensus.LogEntry
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		var entry consensus.LogEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			return nil, fmt.Errorf("decode log entry: %w", err)
		}
		entries = append(entries, &entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan log: %w", err)
	}

	return entries, nil
}

// Close is a no-op: FileStorage holds no open file handles between calls.
func (f *FileStorage) Close() error {
	return nil
}
