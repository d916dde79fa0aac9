package chunkstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Session is the bookkeeping for one chunked upload.
type Session struct {
	ID          string    `json:"upload_id"`
	Filename    string    `json:"file_name"`
	TotalChunks int       `json:"total_chunks"`
	Received    []int     `json:"received"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Finalizing  bool      `json:"finalizing"`
}

// Complete reports whether every index in [0, TotalChunks) has arrived.
func (s Session) Complete() bool {
	return s.TotalChunks > 0 && len(s.Missing()) == 0
}

// Missing lists the indices still outstanding. It is empty while the total is
// undeclared.
func (s Session) Missing() []int {
	have := make(map[int]struct{}, len(s.Received))
	for _, i := range s.Received {
		have[i] = struct{}{}
	}
	var missing []int
	for i := 0; i < s.TotalChunks; i++ {
		if _, ok := have[i]; !ok {
			missing = append(missing, i)
		}
	}
	return missing
}

// Registry stores session metadata. Chunk bytes live on disk; the registry only
// tracks which indices exist.
type Registry interface {
	Create(ctx context.Context, s Session) error
	Get(ctx context.Context, id string) (Session, error)
	// DeclareTotal records total on first use and rejects a different value later.
	DeclareTotal(ctx context.Context, id string, total int) error
	MarkReceived(ctx context.Context, id string, index int, at time.Time) error
	// Claim marks the session as being finalized. Only one caller wins; the
	// others get ErrFinalizing until Release.
	Claim(ctx context.Context, id string) error
	Release(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]Session, error)
}

type memoryEntry struct {
	session  Session
	received map[int]struct{}
}

// MemoryRegistry keeps sessions in process memory.
type MemoryRegistry struct {
	mu       sync.Mutex
	sessions map[string]*memoryEntry
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{sessions: make(map[string]*memoryEntry)}
}

func (m *MemoryRegistry) Create(_ context.Context, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[s.ID]; exists {
		return fmt.Errorf("session %s already exists", s.ID)
	}
	m.sessions[s.ID] = &memoryEntry{session: s, received: make(map[int]struct{})}
	return nil
}

func (m *MemoryRegistry) Get(_ context.Context, id string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[id]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	return e.snapshot(), nil
}

func (m *MemoryRegistry) DeclareTotal(_ context.Context, id string, total int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	switch e.session.TotalChunks {
	case 0:
		e.session.TotalChunks = total
	case total:
	default:
		return fmt.Errorf("%w: total chunks %d, session declared %d", ErrInconsistentUpload, total, e.session.TotalChunks)
	}
	return nil
}

func (m *MemoryRegistry) MarkReceived(_ context.Context, id string, index int, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	e.received[index] = struct{}{}
	e.session.UpdatedAt = at
	return nil
}

func (m *MemoryRegistry) Claim(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	if e.session.Finalizing {
		return ErrFinalizing
	}
	e.session.Finalizing = true
	return nil
}

func (m *MemoryRegistry) Release(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.sessions[id]; ok {
		e.session.Finalizing = false
	}
	return nil
}

func (m *MemoryRegistry) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

func (m *MemoryRegistry) List(_ context.Context) ([]Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Session, 0, len(m.sessions))
	for _, e := range m.sessions {
		out = append(out, e.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (e *memoryEntry) snapshot() Session {
	s := e.session
	s.Received = make([]int, 0, len(e.received))
	for i := range e.received {
		s.Received = append(s.Received, i)
	}
	sort.Ints(s.Received)
	return s
}
