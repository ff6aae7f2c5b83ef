package history

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/bimmerbailey/prompthakcer/internal/engine"
)

const (
	fieldScans         = "totalScans"
	fieldOptimizations = "totalOptimizations"
	fieldTokensSaved   = "totalTokensSaved"
	fieldCharsSaved    = "totalCharsSaved"
	fieldDLPBlocks     = "dlpBlocks"
)

// RedisSink stores counters in a hash, per-rule finding counts in a sorted
// set and entries as msgpack blobs in a capped list, newest first.
type RedisSink struct {
	client     *redis.Client
	maxEntries int
	logger     *slog.Logger
	now        func() time.Time

	countersKey string
	findingsKey string
	entriesKey  string
}

// NewRedisSink creates a RedisSink whose keys start with prefix.
func NewRedisSink(client *redis.Client, prefix string, maxEntries int, logger *slog.Logger) *RedisSink {
	if prefix == "" {
		prefix = "prompthakcer:"
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &RedisSink{
		client:      client,
		maxEntries:  maxEntries,
		logger:      logger,
		now:         time.Now,
		countersKey: prefix + "stats",
		findingsKey: prefix + "findings",
		entriesKey:  prefix + "history",
	}
}

// RecordScan implements Sink.
func (s *RedisSink) RecordScan(ctx context.Context, findings engine.Findings) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HIncrBy(ctx, s.countersKey, fieldScans, 1)
		if len(findings) == 0 {
			return nil
		}
		pipe.HIncrBy(ctx, s.countersKey, fieldDLPBlocks, 1)
		for _, f := range findings {
			pipe.ZIncrBy(ctx, s.findingsKey, float64(f.MatchCount), f.RuleID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to record scan: %w", err)
	}
	return nil
}

// RecordOptimization implements Sink.
func (s *RedisSink) RecordOptimization(ctx context.Context, level string, res *engine.OptimizationResult) error {
	blob, err := msgpack.Marshal(newEntry(s.now(), level, res))
	if err != nil {
		return fmt.Errorf("failed to encode history entry: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HIncrBy(ctx, s.countersKey, fieldOptimizations, 1)
		pipe.HIncrBy(ctx, s.countersKey, fieldTokensSaved, int64(res.Stats.TokensSaved))
		pipe.HIncrBy(ctx, s.countersKey, fieldCharsSaved, int64(res.Stats.CharsSaved))
		pipe.LPush(ctx, s.entriesKey, blob)
		pipe.LTrim(ctx, s.entriesKey, 0, int64(s.maxEntries-1))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to record optimization: %w", err)
	}
	return nil
}

// Summary implements Sink.
func (s *RedisSink) Summary(ctx context.Context) (*Summary, error) {
	counters, err := s.client.HGetAll(ctx, s.countersKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read stats: %w", err)
	}

	zs, err := s.client.ZRevRangeWithScores(ctx, s.findingsKey, 0, topFindings-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read findings: %w", err)
	}
	top := make([]FindingCount, 0, len(zs))
	for _, z := range zs {
		id, _ := z.Member.(string)
		top = append(top, FindingCount{RuleID: id, Count: int64(z.Score)})
	}
	sortFindings(top)

	recent, err := s.readEntries(ctx, recentEntries)
	if err != nil {
		return nil, err
	}

	return &Summary{
		TotalScans:         parseCounter(counters[fieldScans]),
		TotalOptimizations: parseCounter(counters[fieldOptimizations]),
		TotalTokensSaved:   parseCounter(counters[fieldTokensSaved]),
		TotalCharsSaved:    parseCounter(counters[fieldCharsSaved]),
		DLPBlocks:          parseCounter(counters[fieldDLPBlocks]),
		TopFindings:        top,
		RecentHistory:      recent,
	}, nil
}

// Entries implements Sink.
func (s *RedisSink) Entries(ctx context.Context, q Query) ([]Entry, error) {
	entries, err := s.readEntries(ctx, -1)
	if err != nil {
		return nil, err
	}
	return q.Apply(entries), nil
}

// Reset implements Sink.
func (s *RedisSink) Reset(ctx context.Context) error {
	if err := s.client.Del(ctx, s.countersKey, s.findingsKey, s.entriesKey).Err(); err != nil {
		return fmt.Errorf("failed to reset stats: %w", err)
	}
	return nil
}

// Close implements Sink.
func (s *RedisSink) Close() error {
	return s.client.Close()
}

// readEntries returns up to n of the newest entries in chronological order.
// A negative n reads them all. Undecodable blobs are skipped.
func (s *RedisSink) readEntries(ctx context.Context, n int) ([]Entry, error) {
	stop := int64(n - 1)
	if n < 0 {
		stop = -1
	}
	blobs, err := s.client.LRange(ctx, s.entriesKey, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}

	entries := make([]Entry, 0, len(blobs))
	for i := len(blobs) - 1; i >= 0; i-- {
		var e Entry
		if err := msgpack.Unmarshal([]byte(blobs[i]), &e); err != nil {
			s.logger.Warn("skipping undecodable history entry", "error", err)
			continue
		}
		e.Timestamp = e.Timestamp.UTC()
		entries = append(entries, e)
	}
	return entries, nil
}

func parseCounter(v string) int64 {
	n, _ := strconv.ParseInt(v, 10, 64)
	return n
}
