// Package engram buffers session snapshots awaiting decision extraction.
// The capture path appends one NDJSON line per snapshot to a day file under
// the pending directory and mirrors a searchable entry into a badger index;
// the batch processor drains the queue and writes extracted decisions to the
// graph. Single producer, single consumer.
package engram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"membria/internal/logging"
	"membria/internal/model"
)

const (
	// SoftCap is the backlog size past which draining accelerates.
	SoftCap = 1000
	// HardCap is the backlog size past which new writes are rejected.
	HardCap = 5000
)

// ErrQueueFull rejects writes once the backlog reaches HardCap. Callers
// surface it without retrying; only draining clears the condition.
var ErrQueueFull = errors.New("engram queue full")

// indexPrefix namespaces queue keys inside the badger store.
const indexPrefix = "pending/"

// PendingEngram is one queued snapshot plus the raw session text the
// extractor will mine for decisions.
type PendingEngram struct {
	EngramID   string `json:"engram_id"`
	SessionID  string `json:"session_id,omitempty"`
	Branch     string `json:"branch,omitempty"`
	CommitSHA  string `json:"commit_sha,omitempty"`
	Intent     string `json:"intent,omitempty"`
	AgentType  string `json:"agent_type,omitempty"`
	AgentModel string `json:"agent_model,omitempty"`
	Text       string `json:"text"`
	QueuedAt   int64  `json:"queued_at"`
}

// IndexEntry is the searchable projection kept per queued engram.
type IndexEntry struct {
	EngramID  string `json:"engram_id"`
	Timestamp int64  `json:"timestamp"`
	Branch    string `json:"branch,omitempty"`
	CommitSHA string `json:"commit_sha,omitempty"`
	Intent    string `json:"intent,omitempty"`
	FilePath  string `json:"file_path"`
}

// Queue is the durable pending-engram store: NDJSON day files for payloads,
// badger for the index. Safe for one producer and one consumer.
type Queue struct {
	dir    string
	db     *badger.DB
	logger logging.Logger
	now    func() time.Time

	mu      sync.Mutex
	backlog int
	softCap int
	hardCap int
}

// Open prepares the pending directory and index under dir and counts the
// surviving backlog so caps apply across restarts.
func Open(dir string, logger logging.Logger) (*Queue, error) {
	if logging.IsNil(logger) {
		logger = logging.Nop()
	}
	pendingDir := filepath.Join(dir, "pending")
	if err := os.MkdirAll(pendingDir, 0o755); err != nil {
		return nil, fmt.Errorf("open engram queue: %w", err)
	}
	opts := badger.DefaultOptions(filepath.Join(dir, "index")).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open engram index: %w", err)
	}
	q := &Queue{dir: pendingDir, db: db, logger: logger, now: time.Now, softCap: SoftCap, hardCap: HardCap}
	n, err := q.countIndexed()
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open engram queue: %w", err)
	}
	q.backlog = n
	return q, nil
}

// SetCaps overrides the backlog thresholds. Non-positive values keep the
// defaults; call before the queue is shared with a consumer.
func (q *Queue) SetCaps(soft, hard int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if soft > 0 {
		q.softCap = soft
	}
	if hard > 0 {
		q.hardCap = hard
	}
}

// Close releases the index. Pending day files stay on disk.
func (q *Queue) Close() error {
	return q.db.Close()
}

// Len reports the current backlog.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.backlog
}

// Backlogged reports whether the backlog has passed the soft cap, the signal
// for the batch processor to drain more aggressively.
func (q *Queue) Backlogged() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.backlog > q.softCap
}

// Enqueue appends one pending engram. Missing ids and timestamps are
// assigned; re-enqueueing a known id is a no-op. Returns ErrQueueFull at the
// hard cap.
func (q *Queue) Enqueue(p PendingEngram) (PendingEngram, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.backlog >= q.hardCap {
		return PendingEngram{}, fmt.Errorf("%w: %d entries pending", ErrQueueFull, q.backlog)
	}
	if p.EngramID == "" {
		p.EngramID = model.NewEngramID()
	}
	if p.QueuedAt == 0 {
		p.QueuedAt = q.now().Unix()
	}

	known, err := q.indexed(p.EngramID)
	if err != nil {
		return PendingEngram{}, fmt.Errorf("enqueue engram: %w", err)
	}
	if known {
		q.logger.Debug("engram %s already queued", p.EngramID)
		return p, nil
	}

	file := filepath.Join(q.dir, fmt.Sprintf("engrams-%s.ndjson", q.now().UTC().Format("20060102")))
	if err := appendLine(file, p); err != nil {
		return PendingEngram{}, fmt.Errorf("enqueue engram: %w", err)
	}

	entry := IndexEntry{
		EngramID:  p.EngramID,
		Timestamp: p.QueuedAt,
		Branch:    p.Branch,
		CommitSHA: p.CommitSHA,
		Intent:    p.Intent,
		FilePath:  file,
	}
	if err := q.putEntry(entry); err != nil {
		return PendingEngram{}, fmt.Errorf("enqueue engram: %w", err)
	}
	q.backlog++
	return p, nil
}

// List returns index entries, newest first.
func (q *Queue) List(limit int) ([]IndexEntry, error) {
	entries, err := q.allEntries()
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Timestamp > entries[j].Timestamp })
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// Search matches term as a substring of engram id, branch, commit sha or
// intent, newest first.
func (q *Queue) Search(term string, limit int) ([]IndexEntry, error) {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return q.List(limit)
	}
	entries, err := q.allEntries()
	if err != nil {
		return nil, err
	}
	matched := entries[:0]
	for _, e := range entries {
		haystack := strings.ToLower(e.EngramID + " " + e.Branch + " " + e.CommitSHA + " " + e.Intent)
		if strings.Contains(haystack, term) {
			matched = append(matched, e)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Timestamp > matched[j].Timestamp })
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// Drain feeds up to max pending engrams, oldest first, through fn. Entries fn
// accepts are removed from the queue; entries fn rejects stay queued for the
// next run. Lines that no longer parse are dropped with a warning. The queue
// lock is not held while fn runs, so the producer is never blocked on graph
// writes.
func (q *Queue) Drain(ctx context.Context, max int, fn func(context.Context, PendingEngram) error) (int, error) {
	batch, err := q.snapshot(max)
	if err != nil {
		return 0, err
	}
	if len(batch) == 0 {
		return 0, nil
	}

	processed := 0
	done := make([]string, 0, len(batch))
	for _, p := range batch {
		if err := ctx.Err(); err != nil {
			break
		}
		if err := fn(ctx, p); err != nil {
			q.logger.Warn("engram %s kept in queue: %v", p.EngramID, err)
			continue
		}
		processed++
		done = append(done, p.EngramID)
	}

	if err := q.remove(done); err != nil {
		return processed, err
	}
	return processed, ctx.Err()
}

// snapshot loads up to max pending payloads, oldest first. Index entries
// whose payload line is missing or malformed are dropped here.
func (q *Queue) snapshot(max int) ([]PendingEngram, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	entries, err := q.allEntries()
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Timestamp < entries[j].Timestamp })
	if max > 0 && len(entries) > max {
		entries = entries[:max]
	}

	payloads := make(map[string]PendingEngram)
	for _, file := range filesOf(entries) {
		if err := readLines(file, payloads, q.logger); err != nil {
			return nil, err
		}
	}

	batch := make([]PendingEngram, 0, len(entries))
	var dead []string
	for _, e := range entries {
		p, ok := payloads[e.EngramID]
		if !ok {
			q.logger.Warn("engram %s has no readable payload in %s, dropping", e.EngramID, e.FilePath)
			dead = append(dead, e.EngramID)
			continue
		}
		batch = append(batch, p)
	}
	if err := q.removeLocked(dead); err != nil {
		return nil, err
	}
	return batch, nil
}

// remove deletes processed ids from the index and compacts their day files.
func (q *Queue) remove(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.removeLocked(ids)
}

func (q *Queue) removeLocked(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	files := make(map[string]bool)
	for _, id := range ids {
		entry, ok, err := q.getEntry(id)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		files[entry.FilePath] = true
		if err := q.deleteEntry(id); err != nil {
			return err
		}
		q.backlog--
	}
	for file := range files {
		if err := q.compactLocked(file); err != nil {
			return err
		}
	}
	return nil
}

// compactLocked rewrites a day file with only the lines still indexed, or
// removes it when none survive. Lines queued while a drain was running are
// still indexed and therefore kept.
func (q *Queue) compactLocked(file string) error {
	payloads := make(map[string]PendingEngram)
	if err := readLines(file, payloads, q.logger); err != nil {
		return err
	}

	var kept []PendingEngram
	for id, p := range payloads {
		ok, err := q.indexed(id)
		if err != nil {
			return err
		}
		if ok {
			kept = append(kept, p)
		}
	}
	if len(kept) == 0 {
		if err := os.Remove(file); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("compact %s: %w", file, err)
		}
		return nil
	}

	sort.Slice(kept, func(i, j int) bool { return kept[i].QueuedAt < kept[j].QueuedAt })
	tmp := file + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("compact %s: %w", file, err)
	}
	for _, p := range kept {
		line, err := json.Marshal(p)
		if err != nil {
			_ = f.Close()
			return fmt.Errorf("compact %s: %w", file, err)
		}
		if _, err := f.Write(append(line, '\n')); err != nil {
			_ = f.Close()
			return fmt.Errorf("compact %s: %w", file, err)
		}
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("compact %s: %w", file, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("compact %s: %w", file, err)
	}
	if err := os.Rename(tmp, file); err != nil {
		return fmt.Errorf("compact %s: %w", file, err)
	}
	return nil
}

// ---- badger index plumbing ----

func indexKey(id string) []byte {
	return []byte(indexPrefix + id)
}

func (q *Queue) putEntry(e IndexEntry) error {
	buf, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return q.db.Update(func(txn *badger.Txn) error {
		return txn.Set(indexKey(e.EngramID), buf)
	})
}

func (q *Queue) getEntry(id string) (IndexEntry, bool, error) {
	var entry IndexEntry
	found := false
	err := q.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(indexKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &entry)
		})
	})
	return entry, found, err
}

func (q *Queue) deleteEntry(id string) error {
	return q.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(indexKey(id))
	})
}

func (q *Queue) indexed(id string) (bool, error) {
	_, ok, err := q.getEntry(id)
	return ok, err
}

func (q *Queue) allEntries() ([]IndexEntry, error) {
	var entries []IndexEntry
	err := q.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()
		prefix := []byte(indexPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var e IndexEntry
				if err := json.Unmarshal(val, &e); err != nil {
					q.logger.Warn("unreadable index entry %s: %v", it.Item().Key(), err)
					return nil
				}
				entries = append(entries, e)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return entries, err
}

func (q *Queue) countIndexed() (int, error) {
	n := 0
	err := q.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		prefix := []byte(indexPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

// ---- NDJSON plumbing ----

func appendLine(file string, p PendingEngram) error {
	line, err := json.Marshal(p)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// readLines folds a day file into dst keyed by engram id. Malformed lines are
// logged and skipped; a later line for the same id wins.
func readLines(file string, dst map[string]PendingEngram, logger logging.Logger) error {
	data, err := os.ReadFile(file)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", file, err)
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var p PendingEngram
		if err := json.Unmarshal([]byte(line), &p); err != nil {
			logger.Warn("skipping malformed line in %s: %v", file, err)
			continue
		}
		if p.EngramID == "" {
			continue
		}
		dst[p.EngramID] = p
	}
	return nil
}

func filesOf(entries []IndexEntry) []string {
	seen := make(map[string]bool)
	var files []string
	for _, e := range entries {
		if !seen[e.FilePath] {
			seen[e.FilePath] = true
			files = append(files, e.FilePath)
		}
	}
	return files
}
