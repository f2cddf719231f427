package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// FileStore keeps bot records in one JSON file, rewritten atomically
// (write temp, rename) on every change.
type FileStore struct {
	mu   sync.Mutex
	path string
	bots map[string]BotRecord
}

func NewFileStore(path string) (*FileStore, error) {
	fs := &FileStore{path: path, bots: make(map[string]BotRecord)}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return fs, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read bot store: %w", err)
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &fs.bots); err != nil {
			return nil, fmt.Errorf("parse bot store %s: %w", path, err)
		}
	}
	return fs, nil
}

func (fs *FileStore) SaveBot(_ context.Context, rec BotRecord) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.bots[rec.ID] = rec
	return fs.flushLocked()
}

func (fs *FileStore) DeleteBot(_ context.Context, id string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	delete(fs.bots, id)
	return fs.flushLocked()
}

func (fs *FileStore) LoadBots(_ context.Context) ([]BotRecord, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	out := make([]BotRecord, 0, len(fs.bots))
	for _, rec := range fs.bots {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (fs *FileStore) Close() error { return nil }

func (fs *FileStore) flushLocked() error {
	data, err := json.MarshalIndent(fs.bots, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal bot store: %w", err)
	}
	tempPath := fs.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o644); err != nil {
		return fmt.Errorf("write bot store: %w", err)
	}
	if err := os.Rename(tempPath, fs.path); err != nil {
		return fmt.Errorf("replace bot store: %w", err)
	}
	return nil
}
