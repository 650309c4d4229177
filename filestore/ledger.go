package filestore

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/deepnoodle-ai/autopilot"
	homedir "github.com/mitchellh/go-homedir"
)

const ledgerExt = ".jsonl"

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// entry is one line of an execution file.
type entry struct {
	Kind   string                     `json:"kind"`
	Record *autopilot.ExecutionRecord `json:"record,omitempty"`
	Step   *autopilot.Step            `json:"step,omitempty"`
	Result *autopilot.ExecutionResult `json:"result,omitempty"`
	At     time.Time                  `json:"at"`
}

const (
	kindCreated = "created"
	kindStep    = "step"
	kindResult  = "result"
)

// Ledger is an autopilot.Ledger that stores each execution as a JSON Lines
// file named {id}.jsonl in its directory.
type Ledger struct {
	mu  sync.RWMutex
	dir string
	now func() time.Time

	// step counts of open executions, to check ordering without rereading
	counts map[string]int
}

var _ autopilot.Ledger = (*Ledger)(nil)

// NewLedger creates a ledger rooted at dir, creating the directory if
// needed. A leading ~ is expanded to the home directory.
func NewLedger(dir string) (*Ledger, error) {
	dir, err := prepareDir(dir)
	if err != nil {
		return nil, err
	}
	return &Ledger{dir: dir, now: time.Now, counts: map[string]int{}}, nil
}

func prepareDir(dir string) (string, error) {
	expanded, err := homedir.Expand(dir)
	if err != nil {
		return "", fmt.Errorf("filestore: expand %s: %w", dir, err)
	}
	if err := os.MkdirAll(expanded, 0o755); err != nil {
		return "", fmt.Errorf("filestore: create %s: %w", expanded, err)
	}
	return expanded, nil
}

func (l *Ledger) path(id string) (string, error) {
	if !idPattern.MatchString(id) {
		return "", fmt.Errorf("filestore: %q: %w", id, autopilot.ErrInvalidExecutionID)
	}
	return filepath.Join(l.dir, id+ledgerExt), nil
}

func (l *Ledger) Create(ctx context.Context, record *autopilot.ExecutionRecord) (string, error) {
	cp := record.Clone()
	if cp.ID == "" {
		cp.ID = autopilot.NewExecutionID()
	}
	if cp.Status == "" {
		cp.Status = autopilot.StatusRunning
	}
	if cp.StartedAt.IsZero() {
		cp.StartedAt = l.now()
	}
	cp.Steps = []autopilot.Step{}
	path, err := l.path(cp.ID)
	if err != nil {
		return "", err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return "", fmt.Errorf("filestore: execution %s already exists", cp.ID)
		}
		return "", fmt.Errorf("filestore: create execution %s: %w", cp.ID, err)
	}
	defer f.Close()
	if err := writeEntry(f, entry{Kind: kindCreated, Record: cp, At: l.now()}); err != nil {
		return "", fmt.Errorf("filestore: create execution %s: %w", cp.ID, err)
	}
	l.counts[cp.ID] = 0
	return cp.ID, nil
}

func (l *Ledger) AppendStep(ctx context.Context, id string, step autopilot.Step) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	count, err := l.openCount(id)
	if err != nil {
		return err
	}
	if step.Index != count {
		return fmt.Errorf("filestore: execution %s: step %d, expected %d: %w", id, step.Index, count, autopilot.ErrStepOutOfOrder)
	}
	if err := l.append(id, entry{Kind: kindStep, Step: &step, At: l.now()}); err != nil {
		return err
	}
	l.counts[id] = count + 1
	return nil
}

func (l *Ledger) Finalize(ctx context.Context, id string, result *autopilot.ExecutionResult) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.openCount(id); err != nil {
		return err
	}
	if err := l.append(id, entry{Kind: kindResult, Result: result, At: l.now()}); err != nil {
		return err
	}
	delete(l.counts, id)
	return nil
}

// openCount returns the stored step count of a running execution, replaying
// its file when the ledger was reopened.
func (l *Ledger) openCount(id string) (int, error) {
	if count, ok := l.counts[id]; ok {
		return count, nil
	}
	record, err := l.read(id)
	if err != nil {
		return 0, err
	}
	if record.Status.IsTerminal() {
		return 0, fmt.Errorf("filestore: execution %s: %w", id, autopilot.ErrTerminal)
	}
	l.counts[id] = len(record.Steps)
	return len(record.Steps), nil
}

func (l *Ledger) append(id string, e entry) error {
	path, err := l.path(id)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("filestore: open execution %s: %w", id, err)
	}
	defer f.Close()
	if err := writeEntry(f, e); err != nil {
		return fmt.Errorf("filestore: write execution %s: %w", id, err)
	}
	return nil
}

func writeEntry(f *os.File, e entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	if _, err := f.Write(data); err != nil {
		return err
	}
	return f.Sync()
}

func (l *Ledger) Get(ctx context.Context, id string) (*autopilot.ExecutionRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.read(id)
}

func (l *Ledger) read(id string) (*autopilot.ExecutionRecord, error) {
	path, err := l.path(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("filestore: execution %s: %w", id, autopilot.ErrNotFound)
		}
		return nil, fmt.Errorf("filestore: read execution %s: %w", id, err)
	}
	return replay(id, data)
}

// replay rebuilds a record from its entries. A truncated last line, left by
// a crash during a write, is ignored.
func replay(id string, data []byte) (*autopilot.ExecutionRecord, error) {
	var record *autopilot.ExecutionRecord
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var e entry
		if err := json.Unmarshal(line, &e); err != nil {
			break
		}
		switch e.Kind {
		case kindCreated:
			record = e.Record
			if record.Steps == nil {
				record.Steps = []autopilot.Step{}
			}
		case kindStep:
			if record != nil && e.Step != nil {
				record.Steps = append(record.Steps, *e.Step)
			}
		case kindResult:
			if record != nil && e.Result != nil {
				record.ApplyResult(e.Result, e.At)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("filestore: read execution %s: %w", id, err)
	}
	if record == nil {
		return nil, fmt.Errorf("filestore: execution %s has no header", id)
	}
	return record, nil
}

func (l *Ledger) ListByDefinition(ctx context.Context, definitionID string, limit int) ([]*autopilot.ExecutionRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("filestore: list executions: %w", err)
	}
	var records []*autopilot.ExecutionRecord
	for _, de := range entries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), ledgerExt) {
			continue
		}
		id := strings.TrimSuffix(de.Name(), ledgerExt)
		record, err := l.read(id)
		if err != nil {
			continue // skip unreadable files
		}
		if record.DefinitionID == definitionID {
			records = append(records, record)
		}
	}
	autopilot.SortRecordsNewestFirst(records)
	if limit > 0 && limit < len(records) {
		records = records[:limit]
	}
	return records, nil
}
