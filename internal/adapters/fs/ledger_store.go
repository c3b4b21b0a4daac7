package fs

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/trebuchet-org/treb-plan/internal/domain"
	"github.com/trebuchet-org/treb-plan/internal/usecase"
)

// LedgerFileStore implements LedgerStore as an append-only JSON lines file.
// Every Append is fsynced before it returns. A torn final line left by a
// crash mid-write is ignored on read.
type LedgerFileStore struct {
	path string
	mu   sync.Mutex
}

// NewLedgerFileStore creates a new LedgerFileStore
func NewLedgerFileStore(path string) *LedgerFileStore {
	return &LedgerFileStore{path: path}
}

// Location returns the ledger file path
func (s *LedgerFileStore) Location() string {
	return s.path
}

// Append writes one record and syncs it to disk
func (s *LedgerFileStore) Append(_ context.Context, record *domain.LedgerRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	line, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal ledger record: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create ledger directory: %w", err)
	}

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open ledger file: %w", err)
	}
	defer f.Close()

	if err := dropTornTail(f); err != nil {
		return fmt.Errorf("failed to repair ledger file: %w", err)
	}

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to write ledger record: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("failed to sync ledger file: %w", err)
	}
	return nil
}

// Records reads every record in append order. A missing file is an empty ledger.
func (s *LedgerFileStore) Records(_ context.Context) ([]*domain.LedgerRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read ledger file: %w", err)
	}

	var lines [][]byte
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		if line := bytes.TrimSpace(scanner.Bytes()); len(line) > 0 {
			lines = append(lines, bytes.Clone(line))
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan ledger file: %w", err)
	}

	records := make([]*domain.LedgerRecord, 0, len(lines))
	for i, line := range lines {
		record, err := decodeRecord(line)
		if err != nil {
			// Only the final line can be a torn write
			if i == len(lines)-1 {
				break
			}
			return nil, fmt.Errorf("corrupt ledger record on line %d of %s: %w", i+1, s.path, err)
		}
		records = append(records, record)
	}
	return records, nil
}

// dropTornTail truncates a final line that was never terminated. Such a
// line was not acknowledged to the caller, so nothing depends on it.
func dropTornTail(f *os.File) error {
	info, err := f.Stat()
	if err != nil || info.Size() == 0 {
		return err
	}
	last := make([]byte, 1)
	if _, err := f.ReadAt(last, info.Size()-1); err != nil {
		return err
	}
	if last[0] == '\n' {
		return nil
	}

	data, err := os.ReadFile(f.Name())
	if err != nil {
		return err
	}
	return f.Truncate(int64(bytes.LastIndexByte(data, '\n') + 1))
}

func decodeRecord(line []byte) (*domain.LedgerRecord, error) {
	dec := json.NewDecoder(bytes.NewReader(line))
	// Numbers in step args must re-encode exactly for the hash check
	dec.UseNumber()
	var record domain.LedgerRecord
	if err := dec.Decode(&record); err != nil {
		return nil, err
	}
	return &record, nil
}

// Ensure LedgerFileStore implements LedgerStore
var _ usecase.LedgerStore = (*LedgerFileStore)(nil)
