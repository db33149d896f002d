package engine

import (
	"hash/fnv"
	"sync"
	"time"

	"github.com/PNdlovu/WriteCareNotes-sub010/pkg/connector/core"
)

const limiterShards = 16

// defaultBurstWindow applies when a policy sets BurstLimit without an
// explicit WindowSize.
const defaultBurstWindow = time.Second

// Limiter is a fixed-window call counter keyed by (instanceID, endpointID).
// Each key tracks independent windows for the burst, minute, hour, and day
// limits of whatever policy is presented at call time. Keys are sharded so
// unrelated instances never contend on the same lock.
type Limiter struct {
	shards [limiterShards]limiterShard
	now    func() time.Time
}

type limiterShard struct {
	mu      sync.Mutex
	entries map[string]*limiterEntry
}

type limiterEntry struct {
	burst  countWindow
	minute countWindow
	hour   countWindow
	day    countWindow
}

type countWindow struct {
	start time.Time
	count int
}

// NewLimiter creates an empty limiter.
func NewLimiter() *Limiter {
	l := &Limiter{now: time.Now}
	for i := range l.shards {
		l.shards[i].entries = make(map[string]*limiterEntry)
	}
	return l
}

// Allow reports whether one more call for the given key fits within the
// policy, and records the call if it does. A rejected call consumes no
// budget in any window. A zero policy always allows.
func (l *Limiter) Allow(instanceID, endpointID string, policy core.RateLimitPolicy) bool {
	if policy.Zero() {
		return true
	}

	key := instanceID + "/" + endpointID
	shard := &l.shards[shardFor(key)]
	now := l.now()

	shard.mu.Lock()
	defer shard.mu.Unlock()

	entry, ok := shard.entries[key]
	if !ok {
		entry = &limiterEntry{}
		shard.entries[key] = entry
	}

	burstWindow := policy.WindowSize
	if burstWindow <= 0 {
		burstWindow = defaultBurstWindow
	}

	if !entry.burst.fits(now, burstWindow, policy.BurstLimit) ||
		!entry.minute.fits(now, time.Minute, policy.RequestsPerMinute) ||
		!entry.hour.fits(now, time.Hour, policy.RequestsPerHour) ||
		!entry.day.fits(now, 24*time.Hour, policy.RequestsPerDay) {
		return false
	}

	entry.burst.record(now)
	entry.minute.record(now)
	entry.hour.record(now)
	entry.day.record(now)
	return true
}

// fits rolls the window forward if it has elapsed and reports whether one
// more call stays under the limit. A limit of zero means unbounded.
func (w *countWindow) fits(now time.Time, size time.Duration, limit int) bool {
	if limit <= 0 {
		return true
	}
	if now.Sub(w.start) >= size {
		w.start = now
		w.count = 0
	}
	return w.count < limit
}

func (w *countWindow) record(now time.Time) {
	if w.start.IsZero() {
		w.start = now
	}
	w.count++
}

func shardFor(key string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(key))
	return h.Sum32() % limiterShards
}
