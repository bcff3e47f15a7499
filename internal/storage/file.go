package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "cronkeep/pkg/logx"
)

// fileStore keeps every collection in one JSON document.
//
// Each Put rewrites the whole document to <path>.tmp, fsyncs it and renames it
// over <path>, so a crash leaves either the old or the new document.
type fileStore struct {
	log  logx.Logger
	path string

	mu     sync.Mutex
	docs   map[string]json.RawMessage
	closed bool
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	docs := map[string]json.RawMessage{}
	b, err := os.ReadFile(path)
	switch {
	case err == nil:
		if len(strings.TrimSpace(string(b))) > 0 {
			if err := json.Unmarshal(b, &docs); err != nil {
				return nil, fmt.Errorf("storage: decode %s: %w", path, err)
			}
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, err
	}

	log.Debug("file store opened", logx.String("path", path), logx.Int("collections", len(docs)))
	return &fileStore{log: log, path: path, docs: docs}, nil
}

func (s *fileStore) Get(ctx context.Context, name string, out any) (bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrClosed
	}
	raw, ok := s.docs[name]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("storage: decode %s: %w", name, err)
	}
	return true, nil
}

func (s *fileStore) Put(ctx context.Context, name string, v any) error {
	_ = ctx
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("storage: encode %s: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	prev, had := s.docs[name]
	s.docs[name] = b
	if err := s.flushLocked(); err != nil {
		// keep memory consistent with disk
		if had {
			s.docs[name] = prev
		} else {
			delete(s.docs, name)
		}
		return err
	}
	return nil
}

func (s *fileStore) flushLocked() error {
	b, err := json.MarshalIndent(s.docs, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
