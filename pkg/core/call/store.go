package call

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/carelink/voicegate/pkg/core"
)

// Store persists voice calls and conversation turns. Implementations must make
// AppendTurn atomic: the turn row and its link on the owning call become
// visible together or not at all.
type Store interface {
	CreateCall(ctx context.Context, c *VoiceCall) error
	UpdateCall(ctx context.Context, c *VoiceCall) error
	DeleteCall(ctx context.Context, id string) error
	GetCall(ctx context.Context, id string) (*VoiceCall, error)
	GetCallByProviderID(ctx context.Context, providerCallID string) (*VoiceCall, error)
	CallsForElder(ctx context.Context, elderID string) ([]*VoiceCall, error)

	AppendTurn(ctx context.Context, turn *ConversationTurn) error
	TurnsForCall(ctx context.Context, callID string) ([]*ConversationTurn, error)
}

// MemoryStore is an in-process Store used in tests and when the service runs
// without a database URL configured.
type MemoryStore struct {
	mu         sync.RWMutex
	calls      map[string]*VoiceCall
	byProvider map[string]string
	turns      map[string][]*ConversationTurn
	seq        int64
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		calls:      make(map[string]*VoiceCall),
		byProvider: make(map[string]string),
		turns:      make(map[string][]*ConversationTurn),
	}
}

func (s *MemoryStore) CreateCall(ctx context.Context, c *VoiceCall) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.calls[c.ID]; exists {
		return core.NewAPIError("call already exists: " + c.ID)
	}
	s.calls[c.ID] = c.Clone()
	if c.ProviderCallID != "" {
		s.byProvider[c.ProviderCallID] = c.ID
	}
	return nil
}

func (s *MemoryStore) UpdateCall(ctx context.Context, c *VoiceCall) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.calls[c.ID]; !exists {
		return core.NewNotFoundError("call not found: " + c.ID)
	}
	s.calls[c.ID] = c.Clone()
	if c.ProviderCallID != "" {
		s.byProvider[c.ProviderCallID] = c.ID
	}
	return nil
}

func (s *MemoryStore) DeleteCall(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, exists := s.calls[id]
	if !exists {
		return core.NewNotFoundError("call not found: " + id)
	}
	if c.ProviderCallID != "" {
		delete(s.byProvider, c.ProviderCallID)
	}
	delete(s.calls, id)
	delete(s.turns, id)
	return nil
}

func (s *MemoryStore) GetCall(ctx context.Context, id string) (*VoiceCall, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.calls[id]
	if !ok {
		return nil, core.NewNotFoundError("call not found: " + id)
	}
	return c.Clone(), nil
}

func (s *MemoryStore) GetCallByProviderID(ctx context.Context, providerCallID string) (*VoiceCall, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byProvider[providerCallID]
	if !ok {
		return nil, core.NewNotFoundError("call not found for provider id: " + providerCallID)
	}
	return s.calls[id].Clone(), nil
}

func (s *MemoryStore) CallsForElder(ctx context.Context, elderID string) ([]*VoiceCall, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*VoiceCall, 0, 8)
	for _, c := range s.calls {
		if c.ElderID == elderID {
			out = append(out, c.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) AppendTurn(ctx context.Context, turn *ConversationTurn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.calls[turn.CallID]
	if !ok {
		return core.NewNotFoundError("call not found: " + turn.CallID)
	}

	// Monotonic per-store tiebreak so turns appended within the same clock
	// tick still read back in append order.
	s.seq++
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}
	turn.CreatedAt = turn.CreatedAt.Add(time.Duration(s.seq) * time.Nanosecond)

	stored := *turn
	s.turns[turn.CallID] = append(s.turns[turn.CallID], &stored)
	c.TurnIDs = append(c.TurnIDs, turn.ID)
	c.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) TurnsForCall(ctx context.Context, callID string) ([]*ConversationTurn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.calls[callID]; !ok {
		return nil, core.NewNotFoundError("call not found: " + callID)
	}
	src := s.turns[callID]
	out := make([]*ConversationTurn, len(src))
	for i, t := range src {
		copied := *t
		out[i] = &copied
	}
	return out, nil
}
