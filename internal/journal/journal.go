// internal/journal/journal.go
package journal

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/user/botstream/internal/types"
)

// Journal is a JSONL-backed append-only outcome log.
// Records are stored per-session in sessions/<sessionID>/events.jsonl.
type Journal struct {
	root  string
	mu    sync.Mutex
	locks map[types.SessionID]*sync.Mutex
	// last assigned seq per session, loaded from disk on first append
	seqs map[types.SessionID]int64
}

// New creates a file-backed Journal rooted at the given directory.
func New(root string) *Journal {
	return &Journal{
		root:  root,
		locks: make(map[types.SessionID]*sync.Mutex),
		seqs:  make(map[types.SessionID]int64),
	}
}

// getLock returns the per-session mutex, creating one if it doesn't exist.
func (j *Journal) getLock(sessionID types.SessionID) *sync.Mutex {
	j.mu.Lock()
	defer j.mu.Unlock()

	if lock, ok := j.locks[sessionID]; ok {
		return lock
	}
	lock := &sync.Mutex{}
	j.locks[sessionID] = lock
	return lock
}

func (j *Journal) recordsPath(sessionID types.SessionID) string {
	return filepath.Join(j.root, "sessions", string(sessionID), "events.jsonl")
}

// count reads the journal file and counts lines. Caller must hold the session lock.
func (j *Journal) count(sessionID types.SessionID) (int64, error) {
	f, err := os.Open(j.recordsPath(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("open journal file: %w", err)
	}
	defer f.Close()

	var count int64
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		count++
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("scan journal file: %w", err)
	}
	return count, nil
}

// Append adds a record to the session's journal with an auto-incremented sequence
// number. The file is counted once per session; later appends use the cached seq.
func (j *Journal) Append(_ context.Context, rec *types.Record) error {
	if rec.SessionID == "" {
		return fmt.Errorf("append record: empty session id")
	}
	lock := j.getLock(rec.SessionID)
	lock.Lock()
	defer lock.Unlock()

	dir := filepath.Dir(j.recordsPath(rec.SessionID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}

	last, err := j.lastSeq(rec.SessionID)
	if err != nil {
		return err
	}
	rec.Seq = last + 1

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	f, err := os.OpenFile(j.recordsPath(rec.SessionID), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open journal file: %w", err)
	}
	defer f.Close()

	data = append(data, '\n')
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("write record: %w", err)
	}

	j.mu.Lock()
	j.seqs[rec.SessionID] = rec.Seq
	j.mu.Unlock()
	return nil
}

// lastSeq returns the last seq written for the session, counting the file
// only the first time. Caller must hold the session lock.
func (j *Journal) lastSeq(sessionID types.SessionID) (int64, error) {
	j.mu.Lock()
	last, ok := j.seqs[sessionID]
	j.mu.Unlock()
	if ok {
		return last, nil
	}
	return j.count(sessionID)
}

// Tail returns the last N records for the given session.
func (j *Journal) Tail(_ context.Context, sessionID types.SessionID, limit int) ([]*types.Record, error) {
	lock := j.getLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	f, err := os.Open(j.recordsPath(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open journal file: %w", err)
	}
	defer f.Close()

	var records []*types.Record
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec types.Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return nil, fmt.Errorf("unmarshal record: %w", err)
		}
		records = append(records, &rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan journal file: %w", err)
	}

	if limit > 0 && len(records) > limit {
		records = records[len(records)-limit:]
	}

	return records, nil
}

// Count returns the number of records for the given session.
func (j *Journal) Count(_ context.Context, sessionID types.SessionID) (int64, error) {
	lock := j.getLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	return j.count(sessionID)
}

// Sessions lists the session ids that have a journal under the root.
func (j *Journal) Sessions() ([]types.SessionID, error) {
	entries, err := os.ReadDir(filepath.Join(j.root, "sessions"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read sessions dir: %w", err)
	}
	var ids []types.SessionID
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(j.root, "sessions", e.Name(), "events.jsonl")); err == nil {
			ids = append(ids, types.SessionID(e.Name()))
		}
	}
	return ids, nil
}
