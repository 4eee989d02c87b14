package logger

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// CollectorConfig controls aggregation of warn/error log entries.
type CollectorConfig struct {
	MaxEntries int           // bound on distinct entries kept (e.g. 200)
	MaxAge     time.Duration // entries older than this are pruned
}

// AggregatedEntry is one distinct warn/error message with occurrence stats.
// Repeated identical messages bump Count instead of growing the buffer.
type AggregatedEntry struct {
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields"`
	Caller    string                 `json:"caller"`
	Count     int                    `json:"count"`
	FirstSeen time.Time              `json:"first_seen"`
	LastSeen  time.Time              `json:"last_seen"`
}

// ErrorCollector keeps a bounded, deduplicated window of recent warn/error
// entries so the health endpoint can report them without scraping log
// files.
type ErrorCollector struct {
	config CollectorConfig
	mu     sync.RWMutex
	byKey  map[string]*AggregatedEntry
	order  []string // insertion order for eviction
}

// NewErrorCollector creates a collector with sane bounds.
func NewErrorCollector(cfg CollectorConfig) *ErrorCollector {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 200
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 15 * time.Minute
	}
	return &ErrorCollector{
		config: cfg,
		byKey:  make(map[string]*AggregatedEntry),
	}
}

// Add records one occurrence.
func (c *ErrorCollector) Add(level, message string, fields map[string]interface{}, caller string) {
	now := time.Now()
	key := c.generateKey(level, message, caller)

	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, exists := c.byKey[key]; exists {
		entry.Count++
		entry.LastSeen = now
		entry.Fields = fields
		return
	}

	c.byKey[key] = &AggregatedEntry{
		Level:     level,
		Message:   message,
		Fields:    fields,
		Caller:    caller,
		Count:     1,
		FirstSeen: now,
		LastSeen:  now,
	}
	c.order = append(c.order, key)

	for len(c.order) > c.config.MaxEntries {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.byKey, oldest)
	}
}

// Recent returns entries seen within the configured age window, oldest
// first.
func (c *ErrorCollector) Recent() []AggregatedEntry {
	cutoff := time.Now().Add(-c.config.MaxAge)

	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]AggregatedEntry, 0, len(c.order))
	for _, key := range c.order {
		if e, ok := c.byKey[key]; ok && e.LastSeen.After(cutoff) {
			out = append(out, *e)
		}
	}
	return out
}

// Close drops all aggregated entries.
func (c *ErrorCollector) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byKey = make(map[string]*AggregatedEntry)
	c.order = nil
}

func (c *ErrorCollector) generateKey(level, message, caller string) string {
	data := struct {
		Level   string `json:"level"`
		Message string `json:"message"`
		Caller  string `json:"caller"`
	}{level, message, caller}

	jsonData, _ := json.Marshal(data)
	hash := sha256.Sum256(jsonData)
	return fmt.Sprintf("%x", hash)
}
