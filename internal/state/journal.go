package state

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ducminhle1904/order-pipeline/pkg/types"
)

const (
	JournalVersion = 1
	indexFileName  = "index.log"
	dayLayout      = "2006-01-02"
)

// JournalEntry is one row of the append-only order journal
type JournalEntry struct {
	Version    int       `json:"v"`
	RecordedAt time.Time `json:"recorded_at"`
	// ParentOrderID links a synced fill row to the broker order it belongs to
	ParentOrderID string `json:"parent_order_id,omitempty"`
	types.ExecutionResult
}

// Journal appends execution results to day partitioned JSONL files and keeps a
// persisted set of seen order ids so each id is written at most once. The set
// lives in an append-only index log, one id per line.
type Journal struct {
	dir    string
	loc    *time.Location
	logger Logger

	mu   sync.Mutex
	seen map[string]struct{}
	// bytes of the index log already folded into seen
	indexOffset int64
}

// OpenJournal loads the seen-id index and heals it from the day files, which are
// the source of truth when a crash landed between a row append and the index append.
func OpenJournal(dir string, loc *time.Location, logger Logger) (*Journal, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}
	if loc == nil {
		loc = time.UTC
	}

	j := &Journal{
		dir:    dir,
		loc:    loc,
		logger: logger,
		seen:   make(map[string]struct{}),
	}
	j.mergeIndex()
	if err := j.trimIndex(); err != nil {
		return nil, err
	}

	entries, err := j.ReadAll()
	if err != nil {
		return nil, err
	}
	var missing []string
	for _, e := range entries {
		if _, ok := j.seen[e.OrderID]; !ok {
			j.seen[e.OrderID] = struct{}{}
			missing = append(missing, e.OrderID)
		}
	}
	if len(missing) > 0 {
		j.logger.LogWarning("Journal", "index was missing %d order ids, appending", len(missing))
		if err := j.appendIndex(missing...); err != nil {
			return nil, err
		}
	}
	return j, nil
}

// Append writes the entry unless its order id was already journaled.
// It reports whether a row was written.
func (j *Journal) Append(entry JournalEntry) (bool, error) {
	if entry.OrderID == "" {
		return false, fmt.Errorf("journal entry without order id")
	}
	if strings.ContainsAny(entry.OrderID, "\r\n") {
		return false, fmt.Errorf("journal order id %q contains a line break", entry.OrderID)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	// another process may have journaled the id since we last looked
	j.mergeIndex()
	if _, ok := j.seen[entry.OrderID]; ok {
		return false, nil
	}

	entry.Version = JournalVersion
	if entry.RecordedAt.IsZero() {
		entry.RecordedAt = time.Now().UTC()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = entry.RecordedAt
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return false, fmt.Errorf("failed to marshal journal entry: %w", err)
	}

	path := j.dayPath(entry.Timestamp.In(j.loc).Format(dayLayout))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return false, fmt.Errorf("failed to open journal file: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		f.Close()
		return false, fmt.Errorf("failed to append journal entry: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return false, fmt.Errorf("failed to sync journal file: %w", err)
	}
	if err := f.Close(); err != nil {
		return false, err
	}

	j.seen[entry.OrderID] = struct{}{}
	if err := j.appendIndex(entry.OrderID); err != nil {
		// the row is durable; OpenJournal heals the index
		j.logger.LogWarning("Journal", "failed to append to index: %v", err)
	}
	return true, nil
}

// Seen reports whether the order id is already journaled
func (j *Journal) Seen(orderID string) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	_, ok := j.seen[orderID]
	return ok
}

// Days lists journal partitions in ascending order
func (j *Journal) Days() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(j.dir, "*.jsonl"))
	if err != nil {
		return nil, err
	}
	days := make([]string, 0, len(matches))
	for _, m := range matches {
		days = append(days, strings.TrimSuffix(filepath.Base(m), ".jsonl"))
	}
	sort.Strings(days)
	return days, nil
}

// ReadDay returns the rows of one day. Malformed lines are logged and skipped.
func (j *Journal) ReadDay(day string) ([]JournalEntry, error) {
	f, err := os.Open(j.dayPath(day))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open journal day %s: %w", day, err)
	}
	defer f.Close()

	var entries []JournalEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		var e JournalEntry
		if err := json.Unmarshal([]byte(raw), &e); err != nil || e.OrderID == "" {
			j.logger.LogWarning("Journal", "skipping unreadable row %s:%d", day, lineNo)
			continue
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return entries, fmt.Errorf("failed to read journal day %s: %w", day, err)
	}
	return entries, nil
}

// ReadAll returns every row across all days, oldest day first
func (j *Journal) ReadAll() ([]JournalEntry, error) {
	days, err := j.Days()
	if err != nil {
		return nil, err
	}
	var all []JournalEntry
	for _, day := range days {
		entries, err := j.ReadDay(day)
		if err != nil {
			return nil, err
		}
		all = append(all, entries...)
	}
	return all, nil
}

func (j *Journal) dayPath(day string) string {
	return filepath.Join(j.dir, day+".jsonl")
}

func (j *Journal) indexPath() string {
	return filepath.Join(j.dir, indexFileName)
}

// mergeIndex folds index lines written since the last read into the seen set,
// including lines other processes appended. A torn last line is left unread.
func (j *Journal) mergeIndex() {
	f, err := os.Open(j.indexPath())
	if err != nil {
		if !os.IsNotExist(err) {
			j.logger.LogWarning("Journal", "failed to read index: %v", err)
		}
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		j.logger.LogWarning("Journal", "failed to stat index: %v", err)
		return
	}
	if info.Size() < j.indexOffset {
		// trimmed by another process, read it again
		j.indexOffset = 0
	}
	if info.Size() == j.indexOffset {
		return
	}
	if _, err := f.Seek(j.indexOffset, io.SeekStart); err != nil {
		j.logger.LogWarning("Journal", "failed to seek index: %v", err)
		return
	}

	r := bufio.NewReader(f)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		j.indexOffset += int64(len(line))
		if id := strings.TrimSpace(line); id != "" {
			j.seen[id] = struct{}{}
		}
	}
}

// trimIndex cuts a torn last line left by a crash mid-append. The id it held,
// if its row landed, is healed from the day files.
func (j *Journal) trimIndex() error {
	f, err := os.Open(j.indexPath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to open index: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("failed to stat index: %w", err)
	}
	last := make([]byte, 1)
	if info.Size() > 0 {
		if _, err := f.ReadAt(last, info.Size()-1); err != nil {
			f.Close()
			return fmt.Errorf("failed to read index tail: %w", err)
		}
	}
	f.Close()
	if info.Size() == 0 || last[0] == '\n' || info.Size() <= j.indexOffset {
		return nil
	}
	j.logger.LogWarning("Journal", "dropping %d torn bytes from index", info.Size()-j.indexOffset)
	if err := os.Truncate(j.indexPath(), j.indexOffset); err != nil {
		return fmt.Errorf("failed to trim index: %w", err)
	}
	return nil
}

func (j *Journal) appendIndex(ids ...string) error {
	var b strings.Builder
	for _, id := range ids {
		b.WriteString(id)
		b.WriteByte('\n')
	}

	f, err := os.OpenFile(j.indexPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(b.String()); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
