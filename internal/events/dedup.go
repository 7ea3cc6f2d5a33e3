package events

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
)

// DedupConfig holds deduplication settings.
type DedupConfig struct {
	Enabled         bool
	TTL             time.Duration
	MaxEntries      int
	CleanupInterval time.Duration
}

// DefaultDedupConfig returns the default deduplication settings.
func DefaultDedupConfig() DedupConfig {
	return DedupConfig{
		Enabled:         true,
		TTL:             5 * time.Minute,
		MaxEntries:      1024,
		CleanupInterval: time.Minute,
	}
}

// Deduplicator suppresses repeats of the same event within a TTL window so
// a flapping component cannot flood the consumers. Events are keyed by a
// content hash computed by the caller.
type Deduplicator struct {
	config DedupConfig

	mu    sync.Mutex
	cache map[uint64]*dedupeEntry

	seen       atomic.Uint64
	suppressed atomic.Uint64

	stopCleanup chan struct{}
	cleanupDone chan struct{}
	logger      *slog.Logger
}

type dedupeEntry struct {
	firstSeen  time.Time
	lastSeen   time.Time
	count      int64
	suppressed int64
}

// NewDeduplicator creates a deduplicator and, when enabled, starts its
// cleanup loop. Shutdown must be called to stop the loop.
func NewDeduplicator(config DedupConfig, logger *slog.Logger) *Deduplicator {
	if config.TTL <= 0 {
		config.TTL = DefaultDedupConfig().TTL
	}
	if config.MaxEntries <= 0 {
		config.MaxEntries = DefaultDedupConfig().MaxEntries
	}
	if logger == nil {
		logger = slog.Default()
	}

	d := &Deduplicator{
		config:      config,
		cache:       make(map[uint64]*dedupeEntry),
		stopCleanup: make(chan struct{}),
		cleanupDone: make(chan struct{}),
		logger:      logger,
	}

	if config.Enabled && config.CleanupInterval > 0 {
		go d.cleanupLoop()
	}
	return d
}

// ShouldProcess reports whether an event with the given key should be
// delivered, suppressing repeats seen within the TTL window.
func (d *Deduplicator) ShouldProcess(key uint64) bool {
	if d == nil || !d.config.Enabled {
		return true
	}

	d.seen.Add(1)
	now := time.Now()

	d.mu.Lock()
	defer d.mu.Unlock()

	entry, exists := d.cache[key]
	if !exists {
		if len(d.cache) >= d.config.MaxEntries {
			d.evictOldest()
		}
		d.cache[key] = &dedupeEntry{firstSeen: now, lastSeen: now, count: 1}
		return true
	}

	if now.Sub(entry.lastSeen) > d.config.TTL {
		entry.firstSeen = now
		entry.lastSeen = now
		entry.count = 1
		entry.suppressed = 0
		return true
	}

	entry.lastSeen = now
	entry.count++
	entry.suppressed++
	d.suppressed.Add(1)

	if entry.suppressed%10 == 0 {
		d.logger.Debug("suppressing duplicate event",
			"count", entry.count,
			"suppressed", entry.suppressed,
			"first_seen", entry.firstSeen)
	}
	return false
}

// evictOldest removes the entry with the oldest lastSeen. Caller holds
// d.mu.
func (d *Deduplicator) evictOldest() {
	var oldestKey uint64
	var oldestTime time.Time
	first := true

	for key, entry := range d.cache {
		if first || entry.lastSeen.Before(oldestTime) {
			oldestKey = key
			oldestTime = entry.lastSeen
			first = false
		}
	}
	if !first {
		delete(d.cache, oldestKey)
	}
}

func (d *Deduplicator) cleanupLoop() {
	ticker := time.NewTicker(d.config.CleanupInterval)
	defer ticker.Stop()
	defer close(d.cleanupDone)

	for {
		select {
		case <-ticker.C:
			d.cleanup()
		case <-d.stopCleanup:
			return
		}
	}
}

func (d *Deduplicator) cleanup() {
	now := time.Now()

	d.mu.Lock()
	defer d.mu.Unlock()

	expired := 0
	for key, entry := range d.cache {
		if now.Sub(entry.lastSeen) > d.config.TTL {
			delete(d.cache, key)
			expired++
		}
	}
	if expired > 0 {
		d.logger.Debug("cleaned up expired deduplication entries",
			"expired", expired,
			"remaining", len(d.cache))
	}
}

// Shutdown stops the cleanup loop.
func (d *Deduplicator) Shutdown() {
	if d == nil {
		return
	}
	if d.config.Enabled && d.config.CleanupInterval > 0 {
		close(d.stopCleanup)
		<-d.cleanupDone
	}
}

// DedupStats contains deduplication counters.
type DedupStats struct {
	Seen       uint64
	Suppressed uint64
	CacheSize  int
}

// Stats returns deduplication counters.
func (d *Deduplicator) Stats() DedupStats {
	if d == nil {
		return DedupStats{}
	}
	d.mu.Lock()
	size := len(d.cache)
	d.mu.Unlock()
	return DedupStats{
		Seen:       d.seen.Load(),
		Suppressed: d.suppressed.Load(),
		CacheSize:  size,
	}
}

// ErrorKey hashes the identity of an error event: component, category and
// message, plus the operation context when present. Values that change per
// occurrence, like timestamps, stay out of the key.
func ErrorKey(event ErrorEvent) uint64 {
	h := xxhash.New()
	_, _ = h.WriteString(event.GetComponent())
	_, _ = h.WriteString(event.GetCategory())
	_, _ = h.WriteString(event.GetMessage())
	if ctx := event.GetContext(); ctx != nil {
		if op, ok := ctx["operation"].(string); ok {
			_, _ = h.WriteString(op)
		}
	}
	return h.Sum64()
}

// SignalKey hashes the identity of a pipeline signal: kind, severity and
// component. The message is left out so value fluctuations in the text do
// not defeat the window.
func SignalKey(signal Signal) uint64 {
	h := xxhash.New()
	_, _ = h.WriteString(string(signal.Kind))
	_, _ = h.WriteString(signal.Severity)
	_, _ = h.WriteString(signal.Component)
	return h.Sum64()
}
