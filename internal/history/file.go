package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/bimmerbailey/prompthakcer/internal/config"
	"github.com/bimmerbailey/prompthakcer/internal/engine"
)

// errCorruptStats marks a stats file that exists but cannot be decoded.
var errCorruptStats = errors.New("corrupt stats file")

type fileState struct {
	TotalScans         int64            `json:"totalScans"`
	TotalOptimizations int64            `json:"totalOptimizations"`
	TotalTokensSaved   int64            `json:"totalTokensSaved"`
	TotalCharsSaved    int64            `json:"totalCharsSaved"`
	DLPBlocks          int64            `json:"dlpBlocks"`
	FindingsByType     map[string]int64 `json:"findingsByType"`
	History            []Entry          `json:"history"`
}

// FileSink keeps all stats in one JSON file. Every call reads and rewrites
// the file so separate processes (hooks, CLI runs) share it. Writers hold an
// exclusive lock on a sibling .lock file and replace the stats file by
// rename, so readers never see a partial write.
type FileSink struct {
	path       string
	maxEntries int
	now        func() time.Time
	logger     *slog.Logger

	mu   sync.Mutex
	lock *flock.Flock
}

// NewFileSink creates a FileSink at path.
func NewFileSink(path string, maxEntries int, logger *slog.Logger) *FileSink {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &FileSink{
		path:       path,
		maxEntries: maxEntries,
		now:        time.Now,
		logger:     logger,
		lock:       flock.New(path + ".lock"),
	}
}

// RecordScan implements Sink.
func (s *FileSink) RecordScan(_ context.Context, findings engine.Findings) error {
	return s.update(func(st *fileState) {
		st.TotalScans++
		if len(findings) == 0 {
			return
		}
		st.DLPBlocks++
		for _, f := range findings {
			st.FindingsByType[f.RuleID] += int64(f.MatchCount)
		}
	})
}

// RecordOptimization implements Sink.
func (s *FileSink) RecordOptimization(_ context.Context, level string, res *engine.OptimizationResult) error {
	entry := newEntry(s.now(), level, res)
	return s.update(func(st *fileState) {
		st.TotalOptimizations++
		st.TotalTokensSaved += int64(res.Stats.TokensSaved)
		st.TotalCharsSaved += int64(res.Stats.CharsSaved)
		st.History = append(st.History, entry)
		if len(st.History) > s.maxEntries {
			st.History = st.History[len(st.History)-s.maxEntries:]
		}
	})
}

// Summary implements Sink.
func (s *FileSink) Summary(_ context.Context) (*Summary, error) {
	st, err := s.read()
	if err != nil {
		return nil, err
	}
	return &Summary{
		TotalScans:         st.TotalScans,
		TotalOptimizations: st.TotalOptimizations,
		TotalTokensSaved:   st.TotalTokensSaved,
		TotalCharsSaved:    st.TotalCharsSaved,
		DLPBlocks:          st.DLPBlocks,
		TopFindings:        rankFindings(st.FindingsByType),
		RecentHistory:      lastN(st.History, recentEntries),
	}, nil
}

// Entries implements Sink.
func (s *FileSink) Entries(_ context.Context, q Query) ([]Entry, error) {
	st, err := s.read()
	if err != nil {
		return nil, err
	}
	return q.Apply(st.History), nil
}

// Reset implements Sink.
func (s *FileSink) Reset(_ context.Context) error {
	return s.locked(func() error { return s.save(emptyState()) })
}

// Close implements Sink.
func (s *FileSink) Close() error { return nil }

func (s *FileSink) update(fn func(*fileState)) error {
	return s.locked(func() error {
		st, err := s.load()
		if errors.Is(err, errCorruptStats) {
			st, err = s.quarantine(err)
		}
		if err != nil {
			return err
		}
		fn(st)
		return s.save(st)
	})
}

// locked runs fn holding both the in-process mutex and the file lock.
func (s *FileSink) locked(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create stats directory: %w", err)
	}
	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("failed to lock stats: %w", err)
	}
	defer func() {
		if err := s.lock.Unlock(); err != nil {
			s.logger.Warn("failed to unlock stats", "path", s.path, "error", err)
		}
	}()
	return fn()
}

// read loads the stats for a query. A corrupt file reads as empty; the next
// write moves it aside.
func (s *FileSink) read() (*fileState, error) {
	st, err := s.load()
	if errors.Is(err, errCorruptStats) {
		s.logger.Warn("ignoring unreadable stats", "path", s.path, "error", err)
		return emptyState(), nil
	}
	return st, err
}

// quarantine renames a corrupt stats file so recording can start over.
func (s *FileSink) quarantine(cause error) (*fileState, error) {
	bad := s.path + ".corrupt"
	if err := os.Rename(s.path, bad); err != nil {
		return nil, fmt.Errorf("failed to move aside corrupt stats: %w", err)
	}
	s.logger.Warn("stats file was corrupt, starting over", "path", s.path, "moved_to", bad, "error", cause)
	return emptyState(), nil
}

func emptyState() *fileState {
	return &fileState{FindingsByType: map[string]int64{}, History: []Entry{}}
}

func (s *FileSink) load() (*fileState, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return emptyState(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read stats: %w", err)
	}

	st := emptyState()
	if err := json.Unmarshal(data, st); err != nil {
		return nil, fmt.Errorf("%w %s: %v", errCorruptStats, s.path, err)
	}
	if st.FindingsByType == nil {
		st.FindingsByType = map[string]int64{}
	}
	return st, nil
}

func (s *FileSink) save(st *fileState) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode stats: %w", err)
	}
	return config.WriteFileAtomic(s.path, data)
}
