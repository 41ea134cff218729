package cache

import (
	"encoding/json"
	"log"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LX-media/orgdash/internal/errlog"
	"github.com/LX-media/orgdash/internal/store"
)

type profile struct {
	Login string `json:"login"`
	Name  string `json:"name"`
}

func waitForSnapshot(t *testing.T, kv store.KV, key string) string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if v, err := kv.Get(key); err == nil {
			return v
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("snapshot was never written")
	return ""
}

func TestDebouncedSnapshotWrite(t *testing.T) {
	kv := store.NewMemStore()
	s := New(Options{
		SweepInterval: -1,
		Persist: &PersistOptions{
			KV:       kv,
			Debounce: 20 * time.Millisecond,
		},
	})
	defer s.Close()

	// A burst of writes should coalesce into one snapshot after the quiet
	// period.
	s.Set(PartitionUser, "user:alice", profile{Login: "alice", Name: "Alice"})
	s.Set(PartitionUser, "user:bob", profile{Login: "bob", Name: "Bob"})

	raw := waitForSnapshot(t, kv, DefaultSnapshotKey)

	var snap map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(raw), &snap))
	assert.Contains(t, raw, "user:alice")
	assert.Contains(t, raw, "user:bob")
}

func TestCloseFlushesPendingSnapshot(t *testing.T) {
	kv := store.NewMemStore()
	s := New(Options{
		SweepInterval: -1,
		Persist: &PersistOptions{
			KV:       kv,
			Debounce: time.Hour, // would never fire on its own
		},
	})

	s.Set(PartitionOrganization, "org:acme", profile{Login: "acme"})
	s.Close()

	v, err := kv.Get(DefaultSnapshotKey)
	require.NoError(t, err)
	assert.Contains(t, v, "org:acme")
}

func TestNonPersistedPartitionNotSnapshotted(t *testing.T) {
	kv := store.NewMemStore()
	s := New(Options{
		SweepInterval: -1,
		Persist: &PersistOptions{
			KV:       kv,
			Debounce: 10 * time.Millisecond,
		},
	})
	defer s.Close()

	s.Set(PartitionPullRequest, "prs:open:acme", "volatile")
	time.Sleep(100 * time.Millisecond)

	_, err := kv.Get(DefaultSnapshotKey)
	assert.ErrorIs(t, err, store.ErrNotFound, "pull-request writes must not trigger persistence")
}

func TestRehydrateRestoresTypedValues(t *testing.T) {
	kv := store.NewMemStore()

	first := New(Options{
		SweepInterval: -1,
		Persist:       &PersistOptions{KV: kv, Debounce: time.Hour},
	})
	first.Set(PartitionUser, "user:alice", profile{Login: "alice", Name: "Alice"})
	first.Close()

	second := New(Options{
		SweepInterval: -1,
		Persist:       &PersistOptions{KV: kv, Debounce: time.Hour},
	})
	defer second.Close()

	restored, ok := Value[profile](second, PartitionUser, "user:alice")
	require.True(t, ok)
	assert.Equal(t, profile{Login: "alice", Name: "Alice"}, restored)

	// The entry is upgraded in place; a second read skips the decode.
	again, ok := Value[profile](second, PartitionUser, "user:alice")
	require.True(t, ok)
	assert.Equal(t, restored, again)
}

func TestRehydrateDiscardsExpiredEntries(t *testing.T) {
	kv := store.NewMemStore()

	first := New(Options{
		SweepInterval: -1,
		Persist:       &PersistOptions{KV: kv, Debounce: time.Hour},
	})
	first.SetWithTTL(PartitionUser, "user:stale", profile{Login: "stale"}, time.Millisecond)
	first.Set(PartitionUser, "user:fresh", profile{Login: "fresh"})
	time.Sleep(5 * time.Millisecond)
	first.Close()

	second := New(Options{
		SweepInterval: -1,
		Persist:       &PersistOptions{KV: kv, Debounce: time.Hour},
	})
	defer second.Close()

	_, ok := Value[profile](second, PartitionUser, "user:stale")
	assert.False(t, ok, "expired entries must not be rehydrated")
	_, ok = Value[profile](second, PartitionUser, "user:fresh")
	assert.True(t, ok)
}

func TestPersistenceFailureReportedNotPropagated(t *testing.T) {
	var sink strings.Builder
	reporter := errlog.New(10, log.New(&sink, "", 0))

	s := New(Options{
		SweepInterval: -1,
		Reporter:      reporter,
		Persist:       &PersistOptions{KV: failingKV{}, Debounce: time.Hour},
	})

	s.Set(PartitionUser, "user:alice", profile{Login: "alice"})
	assert.NotPanics(t, s.Close)

	entries := reporter.Entries()
	require.NotEmpty(t, entries)
	assert.Equal(t, errlog.CategoryCache, entries[0].Category)
	assert.Equal(t, errlog.SeverityWarning, entries[0].Severity)
}

type failingKV struct{}

func (failingKV) Get(string) (string, error) { return "", store.ErrNotFound }
func (failingKV) Set(string, string) error   { return assert.AnError }
func (failingKV) Delete(string) error        { return nil }
