// Package testutil provides an in-memory fake of the vault's persistence
// layer for deterministic tests.
package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/wtsi-hgi/hgi-vault/internal/store"
)

// MemoryStore is an in-memory store.Store used by unit tests in place of
// PostgresStore.
type MemoryStore struct {
	mu            sync.Mutex
	files         map[store.FileKey]*store.File
	statuses      map[store.FileKey][]*store.Status
	warnings      map[int64]int64 // statusID -> tminusHours
	notifications map[int64]map[int64]bool
	groupOwners   map[int64][]int64
	staged        map[int64]*store.StagedQueueEntry
	nextStatusID  int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		files:         map[store.FileKey]*store.File{},
		statuses:      map[store.FileKey][]*store.Status{},
		warnings:      map[int64]int64{},
		notifications: map[int64]map[int64]bool{},
		groupOwners:   map[int64][]int64{},
		staged:        map[int64]*store.StagedQueueEntry{},
	}
}

func (m *MemoryStore) Persist(_ context.Context, file *store.File, state store.State, tminusHours int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := file.Key()
	if file.FirstSeenAt.IsZero() {
		file.FirstSeenAt = time.Now()
	}
	stored := *file
	if prev, ok := m.files[key]; ok {
		stored.FirstSeenAt = prev.FirstSeenAt
	}
	m.files[key] = &stored

	m.nextStatusID++
	id := m.nextStatusID
	m.statuses[key] = append(m.statuses[key], &store.Status{
		ID: id, Device: file.Device, Inode: file.Inode, State: state, CreatedAt: time.Now(),
	})

	switch state {
	case store.StateWarned:
		m.warnings[id] = tminusHours
	case store.StateStaged:
		m.staged[id] = &store.StagedQueueEntry{StatusID: id, VaultKey: file.VaultKey, SizeBytes: file.Size, QueuedAt: time.Now()}
	}
	return id, nil
}

func (m *MemoryStore) Clear(_ context.Context, key store.FileKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, key)
	delete(m.statuses, key)
	return nil
}

func (m *MemoryStore) Files(_ context.Context, filter store.Filter) ([]store.File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []store.File
	for key, statuses := range m.statuses {
		if len(statuses) == 0 {
			continue
		}
		latest := statuses[len(statuses)-1]
		if latest.State != filter.State {
			continue
		}

		file := m.files[key]
		if file.OwnerUID != filter.Stakeholder && !contains(m.groupOwnersOf(file.GroupGID), filter.Stakeholder) {
			continue
		}
		if filter.ExcludeNotified && m.notifications[latest.ID][filter.Stakeholder] {
			continue
		}
		if filter.State == store.StateWarned && m.warnings[latest.ID] != filter.TminusHours {
			continue
		}
		withStatus := *file
		withStatus.StatusID = latest.ID
		out = append(out, withStatus)
	}
	return out, nil
}

func (m *MemoryStore) groupOwnersOf(gid int64) []int64 {
	return m.groupOwners[gid]
}

func contains(xs []int64, x int64) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

func (m *MemoryStore) Stakeholders(_ context.Context) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := map[int64]bool{}
	for key, statuses := range m.statuses {
		if len(statuses) == 0 {
			continue
		}
		latest := statuses[len(statuses)-1]
		file := m.files[key]
		if !m.notifications[latest.ID][file.OwnerUID] {
			seen[file.OwnerUID] = true
		}
		for _, owner := range m.groupOwnersOf(file.GroupGID) {
			if !m.notifications[latest.ID][owner] {
				seen[owner] = true
			}
		}
	}

	var uids []int64
	for uid := range seen {
		uids = append(uids, uid)
	}
	return uids, nil
}

func (m *MemoryStore) MarkNotified(_ context.Context, statusID, stakeholder int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.notifications[statusID] == nil {
		m.notifications[statusID] = map[int64]bool{}
	}
	m.notifications[statusID][stakeholder] = true
	return nil
}

func (m *MemoryStore) EnsureGroup(_ context.Context, gid int64, owners []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.groupOwners[gid] = append([]int64{}, owners...)
	return nil
}

func (m *MemoryStore) GroupOwners(_ context.Context, gid int64) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int64{}, m.groupOwners[gid]...), nil
}

func (m *MemoryStore) WarnedSince(_ context.Context, key store.FileKey, tminusHours int64, since time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, status := range m.statuses[key] {
		if status.State != store.StateWarned || status.CreatedAt.Before(since) {
			continue
		}
		if m.warnings[status.ID] == tminusHours {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) StagedQueue(_ context.Context, limit int) ([]store.StagedQueueEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var entries []store.StagedQueueEntry
	for _, e := range m.staged {
		entries = append(entries, *e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].QueuedAt.Equal(entries[j].QueuedAt) {
			return entries[i].QueuedAt.Before(entries[j].QueuedAt)
		}
		return entries[i].StatusID < entries[j].StatusID
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (m *MemoryStore) DequeueStaged(_ context.Context, statusID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.staged, statusID)
	return nil
}

func (m *MemoryStore) PurgeExpired(_ context.Context, now time.Time, nonStagedTTL time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var purged int64
	for key, file := range m.files {
		statuses := m.statuses[key]
		if len(statuses) == 0 {
			continue
		}
		latest := statuses[len(statuses)-1]

		if latest.State == store.StateDeleted && m.fullyNotified(latest.ID, file) {
			delete(m.files, key)
			delete(m.statuses, key)
			purged++
			continue
		}

		hasStaged := false
		for _, s := range statuses {
			if s.State == store.StateStaged {
				hasStaged = true
				break
			}
		}
		if !hasStaged && now.Sub(file.FirstSeenAt) > nonStagedTTL {
			delete(m.files, key)
			delete(m.statuses, key)
			purged++
		}
	}
	return purged, nil
}

func (m *MemoryStore) fullyNotified(statusID int64, file *store.File) bool {
	notified := m.notifications[statusID]
	if !notified[file.OwnerUID] {
		return false
	}
	for _, owner := range m.groupOwnersOf(file.GroupGID) {
		if !notified[owner] {
			return false
		}
	}
	return true
}

func (m *MemoryStore) Close() error { return nil }

var _ store.Store = (*MemoryStore)(nil)
