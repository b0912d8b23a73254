package logger

import (
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	defaultRecentCapacity = 500
	defaultRecentPageSize = 50
	maxRecentPageSize     = 200
)

// RecentEntry is a log line kept for the admin diagnostics endpoint.
type RecentEntry struct {
	ID        int64                  `json:"id"`
	Timestamp time.Time              `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Caller    string                 `json:"caller,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

type RecentQuery struct {
	Level   string
	Keyword string
	Since   time.Time
	Limit   int
}

// RecentLog keeps the last N entries at or above a minimum level in a ring.
// Fields are sanitized before they are stored.
type RecentLog struct {
	mu       sync.RWMutex
	minLevel zapcore.Level
	entries  []RecentEntry
	next     int
	count    int
	seq      int64
}

func NewRecentLog(capacity int, minLevel zapcore.Level) *RecentLog {
	if capacity <= 0 {
		capacity = defaultRecentCapacity
	}
	return &RecentLog{
		minLevel: minLevel,
		entries:  make([]RecentEntry, capacity),
	}
}

// Attach tees base into the ring.
func (r *RecentLog) Attach(base *zap.Logger) *zap.Logger {
	if base == nil || r == nil {
		return base
	}
	return base.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return &recentCore{Core: core, log: r}
	}))
}

// Query returns matching entries newest first.
func (r *RecentLog) Query(q RecentQuery) []RecentEntry {
	if r == nil {
		return nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = defaultRecentPageSize
	}
	if limit > maxRecentPageSize {
		limit = maxRecentPageSize
	}
	level := strings.ToLower(strings.TrimSpace(q.Level))
	keyword := strings.ToLower(strings.TrimSpace(q.Keyword))

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]RecentEntry, 0, min(limit, r.count))
	for i := 0; i < r.count && len(out) < limit; i++ {
		idx := r.next - 1 - i
		if idx < 0 {
			idx += len(r.entries)
		}
		entry := r.entries[idx]
		if level != "" && entry.Level != level {
			continue
		}
		if !q.Since.IsZero() && entry.Timestamp.Before(q.Since.UTC()) {
			continue
		}
		if keyword != "" && !strings.Contains(strings.ToLower(entry.Message), keyword) {
			continue
		}
		out = append(out, entry)
	}
	return out
}

func (r *RecentLog) add(entry zapcore.Entry, fields []zapcore.Field) {
	stored := RecentEntry{
		Timestamp: entry.Time.UTC(),
		Level:     entry.Level.String(),
		Message:   entry.Message,
		Caller:    entry.Caller.TrimmedPath(),
		Fields:    fieldsToMap(SanitizeFields(fields)),
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	stored.ID = r.seq
	r.entries[r.next] = stored
	r.next = (r.next + 1) % len(r.entries)
	if r.count < len(r.entries) {
		r.count++
	}
}

func fieldsToMap(fields []zapcore.Field) map[string]interface{} {
	if len(fields) == 0 {
		return nil
	}

	enc := zapcore.NewMapObjectEncoder()
	for _, field := range fields {
		field.AddTo(enc)
	}
	if len(enc.Fields) == 0 {
		return nil
	}
	return enc.Fields
}

type recentCore struct {
	zapcore.Core
	log     *RecentLog
	context []zapcore.Field
}

func (c *recentCore) With(fields []zapcore.Field) zapcore.Core {
	ctx := make([]zapcore.Field, 0, len(c.context)+len(fields))
	ctx = append(ctx, c.context...)
	ctx = append(ctx, fields...)
	return &recentCore{Core: c.Core.With(fields), log: c.log, context: ctx}
}

func (c *recentCore) Enabled(level zapcore.Level) bool {
	return level >= c.log.minLevel || c.Core.Enabled(level)
}

func (c *recentCore) Check(entry zapcore.Entry, checked *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(entry.Level) {
		return checked.AddCore(entry, c)
	}
	return checked
}

func (c *recentCore) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	if entry.Level >= c.log.minLevel {
		all := fields
		if len(c.context) > 0 {
			all = append(append(make([]zapcore.Field, 0, len(c.context)+len(fields)), c.context...), fields...)
		}
		c.log.add(entry, all)
	}
	if !c.Core.Enabled(entry.Level) {
		return nil
	}
	return c.Core.Write(entry, fields)
}
