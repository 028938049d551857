package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/vanshika/swapguard/internal/domain"
)

type memoryTrade struct {
	version  int64
	partyA   string
	partyB   string
	document []byte
}

type memoryProfile struct {
	version  int64
	document []byte
}

// MemoryStore keeps encoded documents in process memory. Records are
// encoded on write and decoded on read, so callers never share state with
// the store. Safe for concurrent use.
type MemoryStore struct {
	mu           sync.RWMutex
	trades       map[string]*memoryTrade
	profiles     map[string]*memoryProfile
	violations   map[string][]domain.ViolationRecord
	violationIDs map[string]struct{}
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		trades:       make(map[string]*memoryTrade),
		profiles:     make(map[string]*memoryProfile),
		violations:   make(map[string][]domain.ViolationRecord),
		violationIDs: make(map[string]struct{}),
	}
}

func (s *MemoryStore) CreateTrade(_ context.Context, t *domain.Trade) error {
	if t == nil || t.ID == "" {
		return fmt.Errorf("trade id is required")
	}
	doc, err := encodeDocument(t)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.trades[t.ID]; exists {
		return fmt.Errorf("create trade %s: %w", t.ID, domain.ErrAlreadyExists)
	}
	s.trades[t.ID] = &memoryTrade{
		version:  t.Version,
		partyA:   t.PartyA.UserID,
		partyB:   t.PartyB.UserID,
		document: doc,
	}
	return nil
}

func (s *MemoryStore) GetTrade(_ context.Context, id string) (*domain.Trade, error) {
	s.mu.RLock()
	rec, ok := s.trades[id]
	s.mu.RUnlock()
	if !ok {
		return nil, domain.TradeNotFound(id)
	}

	var t domain.Trade
	if err := decodeDocument(rec.document, &t); err != nil {
		return nil, fmt.Errorf("load trade %s: %w", id, err)
	}
	return &t, nil
}

// UpdateTrade replaces the stored trade only if its version still equals
// t.Version. On success t.Version is advanced.
func (s *MemoryStore) UpdateTrade(_ context.Context, t *domain.Trade) error {
	next := t.Clone()
	next.Version++
	doc, err := encodeDocument(next)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.trades[t.ID]
	if !ok {
		return domain.TradeNotFound(t.ID)
	}
	if rec.version != t.Version {
		return fmt.Errorf("update trade %s at version %d: %w", t.ID, t.Version, domain.ErrVersionConflict)
	}
	rec.version = next.Version
	rec.document = doc
	t.Version = next.Version
	return nil
}

func (s *MemoryStore) ListTradesByUser(ctx context.Context, userID string) ([]*domain.Trade, error) {
	s.mu.RLock()
	var ids []string
	for id, rec := range s.trades {
		if rec.partyA == userID || rec.partyB == userID {
			ids = append(ids, id)
		}
	}
	s.mu.RUnlock()
	sort.Strings(ids)

	out := make([]*domain.Trade, 0, len(ids))
	for _, id := range ids {
		t, err := s.GetTrade(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *MemoryStore) CreateProfile(_ context.Context, p *domain.UserTrustProfile) error {
	if p == nil || p.UserID == "" {
		return fmt.Errorf("user id is required")
	}
	doc, err := encodeDocument(p)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.profiles[p.UserID]; exists {
		return fmt.Errorf("create profile %s: %w", p.UserID, domain.ErrAlreadyExists)
	}
	s.profiles[p.UserID] = &memoryProfile{document: doc}
	return nil
}

func (s *MemoryStore) GetProfile(_ context.Context, userID string) (*domain.UserTrustProfile, error) {
	s.mu.RLock()
	rec, ok := s.profiles[userID]
	s.mu.RUnlock()
	if !ok {
		return nil, domain.ProfileNotFound(userID)
	}
	return decodeProfile(rec.document)
}

// UpdateProfile applies fn to the current profile and stores the result
// atomically. If fn returns an error nothing is written.
func (s *MemoryStore) UpdateProfile(_ context.Context, userID string, fn func(*domain.UserTrustProfile) error) (*domain.UserTrustProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateProfileLocked(userID, fn)
}

func (s *MemoryStore) updateProfileLocked(userID string, fn func(*domain.UserTrustProfile) error) (*domain.UserTrustProfile, error) {
	rec, ok := s.profiles[userID]
	if !ok {
		return nil, domain.ProfileNotFound(userID)
	}
	p, err := decodeProfile(rec.document)
	if err != nil {
		return nil, err
	}
	if err := fn(p); err != nil {
		return nil, err
	}
	doc, err := encodeDocument(p)
	if err != nil {
		return nil, err
	}
	rec.version++
	rec.document = doc
	return p, nil
}

func (s *MemoryStore) ListProfileIDs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.profiles))
	for id := range s.profiles {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// AppendViolation stores rec and applies fn to the offender's profile as one
// unit.
func (s *MemoryStore) AppendViolation(_ context.Context, rec domain.ViolationRecord, fn func(*domain.UserTrustProfile) error) (*domain.UserTrustProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.violationIDs[rec.ID]; exists {
		return nil, fmt.Errorf("append violation %s: %w", rec.ID, domain.ErrAlreadyExists)
	}
	p, err := s.updateProfileLocked(rec.UserID, fn)
	if err != nil {
		return nil, err
	}
	s.violations[rec.UserID] = append(s.violations[rec.UserID], rec)
	s.violationIDs[rec.ID] = struct{}{}
	return p, nil
}

func (s *MemoryStore) ListViolations(_ context.Context, userID string) ([]domain.ViolationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.profiles[userID]; !ok {
		return nil, domain.ProfileNotFound(userID)
	}
	return append([]domain.ViolationRecord(nil), s.violations[userID]...), nil
}

// Ping satisfies the health check contract.
func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}

func decodeProfile(doc []byte) (*domain.UserTrustProfile, error) {
	var p domain.UserTrustProfile
	if err := decodeDocument(doc, &p); err != nil {
		return nil, err
	}
	if p.Violations.ByKind == nil {
		p.Violations.ByKind = map[domain.ViolationKind]int{}
	}
	return &p, nil
}
