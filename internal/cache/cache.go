// Package cache implements the process-wide typed cache store. The store is
// partitioned by resource type; each partition has its own default TTL and
// capacity, LRU eviction, and hit/miss counters. A background sweep removes
// expired entries that are never read again, and slow-changing partitions
// can be snapshotted to a durable store (see persist.go).
package cache

import (
	"encoding/json"
	"slices"
	"sync"
	"time"

	"github.com/LX-media/orgdash/internal/errlog"
)

// Partition names one semantic resource type held by the store.
type Partition string

const (
	PartitionPullRequest  Partition = "pull_request"
	PartitionRepository   Partition = "repository"
	PartitionOrganization Partition = "organization"
	PartitionUser         Partition = "user"
	PartitionWorkflowRun  Partition = "workflow_run"
)

// Partitions returns every known partition.
func Partitions() []Partition {
	return []Partition{
		PartitionPullRequest,
		PartitionRepository,
		PartitionOrganization,
		PartitionUser,
		PartitionWorkflowRun,
	}
}

// Entry is a cached value with its bookkeeping metadata.
type Entry struct {
	Data         any
	CreatedAt    time.Time
	LastAccessed time.Time
	ExpiresAt    time.Time
	Partition    Partition
}

// Limit configures one partition.
type Limit struct {
	TTL        time.Duration
	MaxEntries int
}

// DefaultLimits returns the per-partition defaults. Users and organizations
// rarely change, so they get long TTLs; workflow runs churn the fastest.
func DefaultLimits() map[Partition]Limit {
	return map[Partition]Limit{
		PartitionPullRequest:  {TTL: 60 * time.Minute, MaxEntries: 500},
		PartitionRepository:   {TTL: 6 * time.Hour, MaxEntries: 200},
		PartitionOrganization: {TTL: 24 * time.Hour, MaxEntries: 50},
		PartitionUser:         {TTL: 24 * time.Hour, MaxEntries: 1000},
		PartitionWorkflowRun:  {TTL: 30 * time.Minute, MaxEntries: 300},
	}
}

// DefaultSweepInterval is how often the background sweep scans for expired
// entries when no interval is configured.
const DefaultSweepInterval = time.Minute

// Stats reports one partition's counters.
type Stats struct {
	Hits    int64
	Misses  int64
	Entries int
}

type partition struct {
	entries map[string]*Entry
	ttl     time.Duration
	baseTTL time.Duration
	max     int
	hits    int64
	misses  int64
}

// Options configures a Store.
type Options struct {
	// Limits overrides DefaultLimits per partition; unnamed partitions keep
	// their defaults.
	Limits map[Partition]Limit

	// Reporter receives persistence and sweep failures. Required when
	// persistence is configured.
	Reporter *errlog.Reporter

	// SweepInterval overrides DefaultSweepInterval. Zero keeps the default;
	// a negative interval disables the background sweep.
	SweepInterval time.Duration

	// Persist enables durable snapshots, see persist.go.
	Persist *PersistOptions
}

// Store is the typed cache store. Safe for concurrent use.
type Store struct {
	mu         sync.Mutex
	partitions map[Partition]*partition
	reporter   *errlog.Reporter
	persister  *persister
	now        func() time.Time
	stopSweep  chan struct{}
	sweepOnce  sync.Once
}

// New creates a Store, rehydrates any persisted snapshot and starts the
// background sweep.
func New(opts Options) *Store {
	limits := DefaultLimits()
	for p, l := range opts.Limits {
		base := limits[p]
		if l.TTL > 0 {
			base.TTL = l.TTL
		}
		if l.MaxEntries > 0 {
			base.MaxEntries = l.MaxEntries
		}
		limits[p] = base
	}

	s := &Store{
		partitions: make(map[Partition]*partition, len(limits)),
		reporter:   opts.Reporter,
		now:        time.Now,
		stopSweep:  make(chan struct{}),
	}
	for p, l := range limits {
		s.partitions[p] = &partition{
			entries: make(map[string]*Entry),
			ttl:     l.TTL,
			baseTTL: l.TTL,
			max:     l.MaxEntries,
		}
	}

	if opts.Persist != nil {
		s.persister = newPersister(s, *opts.Persist)
		s.rehydrate()
	}

	interval := opts.SweepInterval
	if interval == 0 {
		interval = DefaultSweepInterval
	}
	if interval > 0 {
		go s.sweepLoop(interval)
	}
	return s
}

// Get returns the cached value for key, or false when the key is absent or
// expired. An expired entry is removed as a side effect.
func (s *Store) Get(p Partition, key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	part, ok := s.partitions[p]
	if !ok {
		return nil, false
	}
	entry, ok := part.entries[key]
	if !ok {
		part.misses++
		return nil, false
	}
	now := s.now()
	if !now.Before(entry.ExpiresAt) {
		delete(part.entries, key)
		part.misses++
		return nil, false
	}
	entry.LastAccessed = now
	part.hits++
	return entry.Data, true
}

// Set stores data under key with the partition's default TTL.
func (s *Store) Set(p Partition, key string, data any) {
	s.SetWithTTL(p, key, data, 0)
}

// SetWithTTL stores data under key. A ttl <= 0 uses the partition default.
// When the partition is at capacity the least-recently-used 10% of entries
// (at least one) are evicted first, so insertion always succeeds.
func (s *Store) SetWithTTL(p Partition, key string, data any, ttl time.Duration) {
	s.mu.Lock()
	part, ok := s.partitions[p]
	if !ok {
		s.mu.Unlock()
		return
	}
	if ttl <= 0 {
		ttl = part.ttl
	}
	if _, exists := part.entries[key]; !exists && len(part.entries) >= part.max {
		s.evictLRU(part)
	}
	now := s.now()
	part.entries[key] = &Entry{
		Data:         data,
		CreatedAt:    now,
		LastAccessed: now,
		ExpiresAt:    now.Add(ttl),
		Partition:    p,
	}
	s.mu.Unlock()

	if s.persister != nil && s.persister.covers(p) {
		s.persister.markDirty()
	}
}

// evictLRU removes the least-recently-used 10% of the partition, minimum one
// entry. Caller holds the lock.
func (s *Store) evictLRU(part *partition) {
	n := part.max / 10
	if n < 1 {
		n = 1
	}

	type access struct {
		key string
		at  time.Time
	}
	order := make([]access, 0, len(part.entries))
	for k, e := range part.entries {
		order = append(order, access{key: k, at: e.LastAccessed})
	}
	slices.SortFunc(order, func(a, b access) int {
		return a.at.Compare(b.at)
	})
	if n > len(order) {
		n = len(order)
	}
	for _, a := range order[:n] {
		delete(part.entries, a.key)
	}
}

// Remove deletes a single key.
func (s *Store) Remove(p Partition, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if part, ok := s.partitions[p]; ok {
		delete(part.entries, key)
	}
}

// ClearPartition drops every entry in one partition.
func (s *Store) ClearPartition(p Partition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if part, ok := s.partitions[p]; ok {
		part.entries = make(map[string]*Entry)
	}
}

// ClearAll drops every entry in every partition.
func (s *Store) ClearAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, part := range s.partitions {
		part.entries = make(map[string]*Entry)
	}
}

// SetDefaultTTL changes a partition's default TTL. The new value also becomes
// the base for ScaleTTL.
func (s *Store) SetDefaultTTL(p Partition, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if part, ok := s.partitions[p]; ok && ttl > 0 {
		part.ttl = ttl
		part.baseTTL = ttl
	}
}

// DefaultTTL returns a partition's current default TTL.
func (s *Store) DefaultTTL(p Partition) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if part, ok := s.partitions[p]; ok {
		return part.ttl
	}
	return 0
}

// ScaleTTL sets a partition's default TTL to factor times its base TTL.
// The base is remembered, so applying the same factor twice is a no-op and
// a factor of 1 restores the original default. Used by the rate-limit
// back-pressure policy.
func (s *Store) ScaleTTL(p Partition, factor int) {
	if factor < 1 {
		factor = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if part, ok := s.partitions[p]; ok {
		part.ttl = part.baseTTL * time.Duration(factor)
	}
}

// Stats returns one partition's counters.
func (s *Store) Stats(p Partition) Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	part, ok := s.partitions[p]
	if !ok {
		return Stats{}
	}
	return Stats{Hits: part.hits, Misses: part.misses, Entries: len(part.entries)}
}

// Sweep removes expired entries from every partition, independent of access
// patterns. The background loop calls this on a fixed interval; it is
// exported so callers and tests can force a pass.
func (s *Store) Sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for _, part := range s.partitions {
		for k, e := range part.entries {
			if !now.Before(e.ExpiresAt) {
				delete(part.entries, k)
			}
		}
	}
}

func (s *Store) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.Sweep()
		case <-s.stopSweep:
			return
		}
	}
}

// Close stops the background sweep and flushes any pending snapshot.
func (s *Store) Close() {
	s.sweepOnce.Do(func() { close(s.stopSweep) })
	if s.persister != nil {
		s.persister.flush()
	}
}

// Value reads a typed value from the store. Entries rehydrated from a
// snapshot hold raw JSON; Value decodes those transparently and upgrades the
// entry in place so later reads skip the decode.
func Value[T any](s *Store, p Partition, key string) (T, bool) {
	var zero T
	data, ok := s.Get(p, key)
	if !ok {
		return zero, false
	}
	if v, ok := data.(T); ok {
		return v, true
	}
	raw, ok := data.(json.RawMessage)
	if !ok {
		return zero, false
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		s.Remove(p, key)
		return zero, false
	}
	s.upgrade(p, key, v)
	return v, true
}

// upgrade swaps a rehydrated entry's raw JSON for its decoded form without
// touching TTL or access bookkeeping.
func (s *Store) upgrade(p Partition, key string, data any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if part, ok := s.partitions[p]; ok {
		if entry, ok := part.entries[key]; ok {
			entry.Data = data
		}
	}
}
