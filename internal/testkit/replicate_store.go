package testkit

import (
	"context"
	"sort"
	"sync"

	"github.com/USGS-R/EGRETci/domain/core"
	"github.com/USGS-R/EGRETci/internal/errors"
	"github.com/USGS-R/EGRETci/ports"
)

// InMemoryReplicateStore implements ports.ReplicateStore with in-memory storage
type InMemoryReplicateStore struct {
	sessions map[core.SessionID]*ports.ReplicateSnapshot
	mu       sync.RWMutex
}

// NewInMemoryReplicateStore creates an empty store
func NewInMemoryReplicateStore() *InMemoryReplicateStore {
	return &InMemoryReplicateStore{
		sessions: make(map[core.SessionID]*ports.ReplicateSnapshot),
	}
}

func (s *InMemoryReplicateStore) Save(ctx context.Context, snap *ports.ReplicateSnapshot) error {
	if snap == nil || snap.Info.ID.IsEmpty() {
		return errors.InvalidInput("snapshot must carry a session ID")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[snap.Info.ID] = cloneSnapshot(snap)
	return nil
}

func (s *InMemoryReplicateStore) Load(ctx context.Context, id core.SessionID) (*ports.ReplicateSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.sessions[id]
	if !ok {
		return nil, errors.WithCode(errors.CodeNotFound, core.ErrSessionNotFound)
	}
	return cloneSnapshot(snap), nil
}

func (s *InMemoryReplicateStore) List(ctx context.Context, limit int) ([]ports.SessionInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ports.SessionInfo, 0, len(s.sessions))
	for _, snap := range s.sessions {
		out = append(out, snap.Info)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryReplicateStore) Delete(ctx context.Context, id core.SessionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return errors.WithCode(errors.CodeNotFound, core.ErrSessionNotFound)
	}
	delete(s.sessions, id)
	return nil
}

func cloneSnapshot(in *ports.ReplicateSnapshot) *ports.ReplicateSnapshot {
	out := &ports.ReplicateSnapshot{
		Info:    in.Info,
		Spine:   append(in.Spine[:0:0], in.Spine...),
		Sources: append([]int(nil), in.Sources...),
		Conc:    make([][]float64, len(in.Conc)),
		Flux:    make([][]float64, len(in.Flux)),
	}
	for i := range in.Conc {
		out.Conc[i] = append([]float64(nil), in.Conc[i]...)
	}
	for i := range in.Flux {
		out.Flux[i] = append([]float64(nil), in.Flux[i]...)
	}
	return out
}
