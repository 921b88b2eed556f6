package core

import (
	"sync"

	"github.com/raainshe/qbitdash/internal/qbittorrent"
)

// instanceState is the per-instance sync cursor and folded snapshot.
// Only the goroutine fetching for the instance mutates it during a cycle.
type instanceState struct {
	mutex    sync.Mutex
	cursor   int64
	snapshot *Snapshot
}

// StateStore holds sync state for every instance in the roster
type StateStore struct {
	mutex  sync.RWMutex
	states map[int64]*instanceState
}

// NewStateStore creates an empty store
func NewStateStore() *StateStore {
	return &StateStore{states: make(map[int64]*instanceState)}
}

func (s *StateStore) getOrCreate(instanceID int64) *instanceState {
	s.mutex.RLock()
	st, ok := s.states[instanceID]
	s.mutex.RUnlock()
	if ok {
		return st
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()
	if st, ok = s.states[instanceID]; ok {
		return st
	}
	st = &instanceState{}
	s.states[instanceID] = st
	return st
}

// Cursor returns the rid to send on the next fetch, 0 for a new instance
func (s *StateStore) Cursor(instanceID int64) int64 {
	s.mutex.RLock()
	st, ok := s.states[instanceID]
	s.mutex.RUnlock()
	if !ok {
		return 0
	}

	st.mutex.Lock()
	defer st.mutex.Unlock()
	return st.cursor
}

// Apply folds data into the instance's snapshot and advances its cursor.
// An instance without a snapshot treats any response as a full update.
func (s *StateStore) Apply(instanceID int64, data *qbittorrent.MainData, policy TagPolicy) *Snapshot {
	st := s.getOrCreate(instanceID)

	st.mutex.Lock()
	defer st.mutex.Unlock()

	if st.snapshot == nil {
		st.snapshot = NewSnapshot()
		if data.Kind != qbittorrent.KindFull {
			full := *data
			full.Kind = qbittorrent.KindFull
			data = &full
		}
	}

	Fold(st.snapshot, data, policy)
	st.cursor = data.RID
	return st.snapshot
}

// Snapshot returns the current snapshot of an instance, if it has one
func (s *StateStore) Snapshot(instanceID int64) (*Snapshot, bool) {
	s.mutex.RLock()
	st, ok := s.states[instanceID]
	s.mutex.RUnlock()
	if !ok {
		return nil, false
	}

	st.mutex.Lock()
	defer st.mutex.Unlock()
	return st.snapshot, st.snapshot != nil
}

// Reset discards the cursor and snapshot of an instance so the next fetch is full
func (s *StateStore) Reset(instanceID int64) {
	s.mutex.Lock()
	delete(s.states, instanceID)
	s.mutex.Unlock()
}

// Retain drops every instance not in keep and returns the dropped ids
func (s *StateStore) Retain(keep map[int64]struct{}) []int64 {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	var dropped []int64
	for id := range s.states {
		if _, ok := keep[id]; !ok {
			delete(s.states, id)
			dropped = append(dropped, id)
		}
	}
	return dropped
}

// Len returns the number of tracked instances
func (s *StateStore) Len() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.states)
}
