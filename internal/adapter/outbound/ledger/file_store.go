// Package ledger provides durable certificate ledger stores: an append-only
// JSONL file and a sqlite database.
package ledger

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/execguard/execguard/internal/domain/cert"
)

// FileStore is an append-only JSONL certificate ledger. The file is held
// under an exclusive advisory lock for the lifetime of the store so two
// processes cannot interleave appends. Every append is fsynced; chain
// integrity depends on the ledger surviving a crash.
type FileStore struct {
	mu    sync.Mutex
	file  *os.File
	path  string
	certs []cert.Certificate
}

// OpenFileStore opens (or creates) the ledger file, acquires the lock, and
// recovers the existing chain by re-reading the file.
func OpenFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create ledger directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("open ledger file: %w", err)
	}

	if err := flockLock(f.Fd()); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("lock ledger file: %w", err)
	}

	s := &FileStore{file: f, path: path}
	if err := s.recover(); err != nil {
		_ = flockUnlock(f.Fd())
		_ = f.Close()
		return nil, err
	}
	return s, nil
}

// recover re-reads the ledger file into memory. A trailing malformed line
// (torn write) aborts the open; the operator must repair the file rather
// than have the store silently truncate a chain.
func (s *FileStore) recover() error {
	if _, err := s.file.Seek(0, 0); err != nil {
		return fmt.Errorf("seek ledger file: %w", err)
	}

	scanner := bufio.NewScanner(s.file)
	scanner.Buffer(make([]byte, 0, 256*1024), 1024*1024)

	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var c cert.Certificate
		if err := json.Unmarshal(raw, &c); err != nil {
			return fmt.Errorf("ledger file %s line %d: %w", s.path, line, err)
		}
		s.certs = append(s.certs, c)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read ledger file: %w", err)
	}
	return nil
}

// Append writes a certificate as one JSON line and fsyncs.
func (s *FileStore) Append(_ context.Context, c *cert.Certificate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal certificate: %w", err)
	}

	if _, err := s.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write certificate: %w", err)
	}
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("sync ledger file: %w", err)
	}

	s.certs = append(s.certs, *c)
	return nil
}

// All returns every certificate in append order.
func (s *FileStore) All(_ context.Context) ([]cert.Certificate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]cert.Certificate(nil), s.certs...), nil
}

// Count returns the number of certificates in the ledger.
func (s *FileStore) Count(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.certs), nil
}

// Close releases the lock and closes the file.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return nil
	}
	_ = s.file.Sync()
	_ = flockUnlock(s.file.Fd())
	err := s.file.Close()
	s.file = nil
	return err
}

// Compile-time interface verification.
var _ cert.LedgerStore = (*FileStore)(nil)
