package cache

import (
	"encoding/json"
	"slices"
	"sync"
	"time"

	"github.com/LX-media/orgdash/internal/errlog"
	"github.com/LX-media/orgdash/internal/store"
)

// DefaultSnapshotKey is the durable-store key the snapshot is written under.
const DefaultSnapshotKey = "cache/snapshot"

// DefaultDebounce is the quiet period before a snapshot write.
const DefaultDebounce = 2 * time.Second

// PersistOptions configures durable snapshots of slow-changing partitions.
type PersistOptions struct {
	// KV is the durable store the snapshot is written to.
	KV store.KV

	// Partitions to persist. Defaults to USER and ORGANIZATION.
	Partitions []Partition

	// Key the snapshot is stored under. Defaults to DefaultSnapshotKey.
	Key string

	// Debounce is the quiet period that coalesces bursts of writes into one
	// persistence operation. Defaults to DefaultDebounce.
	Debounce time.Duration
}

type persister struct {
	store      *Store
	kv         store.KV
	partitions []Partition
	key        string
	debounce   time.Duration

	mu    sync.Mutex
	timer *time.Timer
}

type snapshot struct {
	SavedAt    time.Time                          `json:"saved_at"`
	Partitions map[Partition]map[string]snapEntry `json:"partitions"`
}

type snapEntry struct {
	Data         json.RawMessage `json:"data"`
	CreatedAt    time.Time       `json:"created_at"`
	LastAccessed time.Time       `json:"last_accessed"`
	ExpiresAt    time.Time       `json:"expires_at"`
}

func newPersister(s *Store, opts PersistOptions) *persister {
	p := &persister{
		store:      s,
		kv:         opts.KV,
		partitions: opts.Partitions,
		key:        opts.Key,
		debounce:   opts.Debounce,
	}
	if len(p.partitions) == 0 {
		p.partitions = []Partition{PartitionUser, PartitionOrganization}
	}
	if p.key == "" {
		p.key = DefaultSnapshotKey
	}
	if p.debounce <= 0 {
		p.debounce = DefaultDebounce
	}
	return p
}

func (p *persister) covers(part Partition) bool {
	return slices.Contains(p.partitions, part)
}

// markDirty arms (or re-arms) the debounce timer. Bursts of writes collapse
// into a single snapshot after the quiet period.
func (p *persister) markDirty() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.timer != nil {
		p.timer.Reset(p.debounce)
		return
	}
	p.timer = time.AfterFunc(p.debounce, p.flush)
}

// flush writes the snapshot now. Failures are reported at WARNING severity
// and never propagate; persistence is best-effort.
func (p *persister) flush() {
	p.mu.Lock()
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.mu.Unlock()

	snap := p.store.snapshotPartitions(p.partitions)
	data, err := json.Marshal(snap)
	if err != nil {
		p.report("failed to serialize cache snapshot", err)
		return
	}
	if err := p.kv.Set(p.key, string(data)); err != nil {
		p.report("failed to persist cache snapshot", err)
	}
}

func (p *persister) report(msg string, err error) {
	if p.store.reporter == nil {
		return
	}
	p.store.reporter.Record(msg, errlog.Report{
		Err:      err,
		Category: errlog.CategoryCache,
		Severity: errlog.SeverityWarning,
	})
}

// snapshotPartitions serializes the named partitions. Entries that fail to
// marshal are skipped so one odd value cannot block the snapshot.
func (s *Store) snapshotPartitions(parts []Partition) snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := snapshot{
		SavedAt:    s.now(),
		Partitions: make(map[Partition]map[string]snapEntry, len(parts)),
	}
	for _, p := range parts {
		part, ok := s.partitions[p]
		if !ok {
			continue
		}
		out := make(map[string]snapEntry, len(part.entries))
		for k, e := range part.entries {
			raw, err := json.Marshal(e.Data)
			if err != nil {
				continue
			}
			out[k] = snapEntry{
				Data:         raw,
				CreatedAt:    e.CreatedAt,
				LastAccessed: e.LastAccessed,
				ExpiresAt:    e.ExpiresAt,
			}
		}
		snap.Partitions[p] = out
	}
	return snap
}

// rehydrate loads the persisted snapshot at construction, dropping entries
// that expired while the process was down.
func (s *Store) rehydrate() {
	value, err := s.persister.kv.Get(s.persister.key)
	if err != nil {
		if err != store.ErrNotFound {
			s.persister.report("failed to load cache snapshot", err)
		}
		return
	}
	var snap snapshot
	if err := json.Unmarshal([]byte(value), &snap); err != nil {
		s.persister.report("failed to decode cache snapshot", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for p, entries := range snap.Partitions {
		part, ok := s.partitions[p]
		if !ok {
			continue
		}
		for k, e := range entries {
			if !now.Before(e.ExpiresAt) {
				continue
			}
			if len(part.entries) >= part.max {
				break
			}
			part.entries[k] = &Entry{
				Data:         e.Data,
				CreatedAt:    e.CreatedAt,
				LastAccessed: e.LastAccessed,
				ExpiresAt:    e.ExpiresAt,
				Partition:    p,
			}
		}
	}
}
