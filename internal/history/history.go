// Package history records DLP scans and optimizations and summarizes them.
// Three backends are available: a JSON file, Redis and SQLite.
package history

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/bimmerbailey/prompthakcer/internal/engine"
)

const (
	// DefaultMaxEntries caps the number of optimization entries kept.
	DefaultMaxEntries = 100

	topFindings   = 10
	recentEntries = 10
)

// Sort orders accepted by Query.SortBy.
const (
	SortNewest      = "newest"
	SortOldest      = "oldest"
	SortTokensSaved = "tokensSaved"
)

// Backend names accepted by Open.
const (
	BackendFile   = "file"
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
)

// Entry is one recorded optimization.
type Entry struct {
	ID           string    `json:"id" msgpack:"id"`
	Timestamp    time.Time `json:"timestamp" msgpack:"ts"`
	Level        string    `json:"level,omitempty" msgpack:"level"`
	TokensSaved  int       `json:"tokensSaved" msgpack:"tokens"`
	CharsSaved   int       `json:"charsSaved" msgpack:"chars"`
	PercentSaved int       `json:"percentSaved" msgpack:"percent"`
	RulesApplied int       `json:"rulesApplied" msgpack:"rules"`
}

// FindingCount is the accumulated match count of one DLP rule.
type FindingCount struct {
	RuleID string `json:"ruleId" db:"rule_id"`
	Count  int64  `json:"count" db:"count"`
}

// Summary aggregates everything a sink has recorded.
type Summary struct {
	TotalScans         int64          `json:"totalScans"`
	TotalOptimizations int64          `json:"totalOptimizations"`
	TotalTokensSaved   int64          `json:"totalTokensSaved"`
	TotalCharsSaved    int64          `json:"totalCharsSaved"`
	DLPBlocks          int64          `json:"dlpBlocks"`
	TopFindings        []FindingCount `json:"topFindings"`
	RecentHistory      []Entry        `json:"recentHistory"`
}

// Query filters and orders history entries. Zero fields are ignored.
type Query struct {
	Since  time.Time
	Until  time.Time
	Limit  int
	SortBy string
}

// Sink persists scan and optimization records.
type Sink interface {
	// RecordScan counts one DLP scan. A scan with findings counts as a block.
	RecordScan(ctx context.Context, findings engine.Findings) error
	// RecordOptimization adds an entry for an optimization at level.
	RecordOptimization(ctx context.Context, level string, res *engine.OptimizationResult) error
	Summary(ctx context.Context) (*Summary, error)
	Entries(ctx context.Context, q Query) ([]Entry, error)
	Reset(ctx context.Context) error
	Close() error
}

// Options selects and configures a Sink backend.
type Options struct {
	Backend    string
	Path       string
	MaxEntries int
	Redis      *redis.Client
	KeyPrefix  string
	Logger     *slog.Logger
}

// Open creates the sink named by opts.Backend. An empty backend selects the
// file sink.
func Open(opts Options) (Sink, error) {
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = DefaultMaxEntries
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}

	switch opts.Backend {
	case "", BackendFile:
		return NewFileSink(opts.Path, opts.MaxEntries, opts.Logger), nil
	case BackendRedis:
		if opts.Redis == nil {
			return nil, fmt.Errorf("redis history backend requires a redis client")
		}
		return NewRedisSink(opts.Redis, opts.KeyPrefix, opts.MaxEntries, opts.Logger), nil
	case BackendSQLite:
		return NewSQLSink(opts.Path, opts.MaxEntries, opts.Logger)
	default:
		return nil, fmt.Errorf("unknown history backend %q (expected file, redis or sqlite)", opts.Backend)
	}
}

func newEntry(now time.Time, level string, res *engine.OptimizationResult) Entry {
	return Entry{
		ID:           uuid.NewString(),
		Timestamp:    now.UTC(),
		Level:        level,
		TokensSaved:  res.Stats.TokensSaved,
		CharsSaved:   res.Stats.CharsSaved,
		PercentSaved: res.Stats.PercentSaved,
		RulesApplied: len(res.AppliedRules),
	}
}

// Apply filters, sorts and limits entries held in chronological order.
func (q Query) Apply(entries []Entry) []Entry {
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if !q.Since.IsZero() && e.Timestamp.Before(q.Since) {
			continue
		}
		if !q.Until.IsZero() && e.Timestamp.After(q.Until) {
			continue
		}
		out = append(out, e)
	}

	switch q.SortBy {
	case SortOldest:
	case SortTokensSaved:
		sort.SliceStable(out, func(i, j int) bool {
			return out[i].TokensSaved > out[j].TokensSaved
		})
	default:
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}

	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

// ValidSort reports whether s is an accepted Query.SortBy value.
func ValidSort(s string) bool {
	switch s {
	case "", SortNewest, SortOldest, SortTokensSaved:
		return true
	}
	return false
}

func rankFindings(counts map[string]int64) []FindingCount {
	out := make([]FindingCount, 0, len(counts))
	for id, n := range counts {
		out = append(out, FindingCount{RuleID: id, Count: n})
	}
	sortFindings(out)
	if len(out) > topFindings {
		out = out[:topFindings]
	}
	return out
}

func sortFindings(f []FindingCount) {
	sort.Slice(f, func(i, j int) bool {
		if f[i].Count != f[j].Count {
			return f[i].Count > f[j].Count
		}
		return f[i].RuleID < f[j].RuleID
	})
}

func lastN(entries []Entry, n int) []Entry {
	if len(entries) > n {
		entries = entries[len(entries)-n:]
	}
	out := make([]Entry, len(entries))
	copy(out, entries)
	return out
}
