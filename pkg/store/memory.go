package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dossier-hq/dossier/pkg/models"
)

// MemoryStore is an in-memory Store used in tests and database-less
// development runs. Safe for concurrent use.
type MemoryStore struct {
	mu        sync.RWMutex
	sessions  map[string]*models.Session
	sources   map[string][]models.Source
	findings  map[string][]models.Finding
	artifacts map[string]map[string]json.RawMessage
	reports   map[string]*models.Report
	nextID    int64
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:  make(map[string]*models.Session),
		sources:   make(map[string][]models.Source),
		findings:  make(map[string][]models.Finding),
		artifacts: make(map[string]map[string]json.RawMessage),
		reports:   make(map[string]*models.Report),
	}
}

func (m *MemoryStore) CreateSession(_ context.Context, s *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; ok {
		return fmt.Errorf("session %s already exists", s.ID)
	}
	cp := *s
	m.sessions[s.ID] = &cp
	return nil
}

func (m *MemoryStore) GetSession(_ context.Context, id string) (*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) ListSessions(_ context.Context, f models.SessionFilters) ([]*models.Session, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var all []*models.Session
	for _, s := range m.sessions {
		if f.Status != "" && s.Status != f.Status {
			continue
		}
		cp := *s
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	total := len(all)
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	start := f.Offset
	if start > len(all) {
		start = len(all)
	}
	end := start + limit
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], total, nil
}

func (m *MemoryStore) UpdateSessionStatus(_ context.Context, id string, status models.SessionStatus, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	if status == models.StatusRunning && s.StartedAt == nil {
		s.StartedAt = &now
	}
	if status.IsTerminal() {
		s.CompletedAt = &now
	}
	s.Status = status
	s.ErrorMessage = errMsg
	return nil
}

func (m *MemoryStore) UpdateSessionCounts(_ context.Context, id string, sources, findings int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	s.SourceCount = sources
	s.FindingCount = findings
	return nil
}

func (m *MemoryStore) ClaimNextSession(_ context.Context) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var oldest *models.Session
	for _, s := range m.sessions {
		if s.Status != models.StatusPending {
			continue
		}
		if oldest == nil || s.CreatedAt.Before(oldest.CreatedAt) {
			oldest = s
		}
	}
	if oldest == nil {
		return nil, ErrNoSessionsAvailable
	}
	now := time.Now().UTC()
	oldest.Status = models.StatusRunning
	oldest.StartedAt = &now
	cp := *oldest
	return &cp, nil
}

func (m *MemoryStore) InsertSources(_ context.Context, sessionID string, sources []models.Source) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[string]bool)
	for _, existing := range m.sources[sessionID] {
		seen[existing.URL] = true
	}

	inserted := 0
	for _, src := range sources {
		if seen[src.URL] {
			continue
		}
		seen[src.URL] = true
		m.nextID++
		src.ID = m.nextID
		src.SessionID = sessionID
		if src.CreatedAt.IsZero() {
			src.CreatedAt = time.Now().UTC()
		}
		m.sources[sessionID] = append(m.sources[sessionID], src)
		inserted++
	}
	return inserted, nil
}

func (m *MemoryStore) ListSources(_ context.Context, sessionID string) ([]models.Source, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.Source(nil), m.sources[sessionID]...), nil
}

func (m *MemoryStore) CountSources(_ context.Context, sessionID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sources[sessionID]), nil
}

func (m *MemoryStore) InsertFindings(_ context.Context, sessionID string, findings []models.Finding) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range findings {
		m.nextID++
		f.ID = m.nextID
		f.SessionID = sessionID
		if f.CreatedAt.IsZero() {
			f.CreatedAt = time.Now().UTC()
		}
		m.findings[sessionID] = append(m.findings[sessionID], f)
	}
	return nil
}

func (m *MemoryStore) ListFindings(_ context.Context, sessionID string) ([]models.Finding, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.Finding(nil), m.findings[sessionID]...), nil
}

func (m *MemoryStore) PutArtifact(_ context.Context, sessionID, key string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode artifact %q: %w", key, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.artifacts[sessionID] == nil {
		m.artifacts[sessionID] = make(map[string]json.RawMessage)
	}
	m.artifacts[sessionID][key] = raw
	return nil
}

func (m *MemoryStore) GetArtifact(_ context.Context, sessionID, key string, out any) error {
	m.mu.RLock()
	raw, ok := m.artifacts[sessionID][key]
	m.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode artifact %q: %w", key, err)
	}
	return nil
}

func (m *MemoryStore) SaveReport(_ context.Context, r *models.Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	m.reports[r.SessionID] = &cp
	return nil
}

func (m *MemoryStore) GetReport(_ context.Context, sessionID string) (*models.Report, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.reports[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}
