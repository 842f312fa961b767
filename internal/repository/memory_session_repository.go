package repository

import (
	"context"
	"sync"
	"time"

	"github.com/lanki/edge/internal/db/models"
)

// MemorySessionRepository is an in-process SessionRepository for
// single-instance deployments and tests. Sessions do not survive a
// restart.
type MemorySessionRepository struct {
	mu     sync.RWMutex
	byID   map[string]*models.Session
	byHash map[string]string // token hash -> session ID
}

// NewMemorySessionRepository creates an empty in-memory repository.
func NewMemorySessionRepository() *MemorySessionRepository {
	return &MemorySessionRepository{
		byID:   make(map[string]*models.Session),
		byHash: make(map[string]string),
	}
}

func (r *MemorySessionRepository) Create(_ context.Context, session *models.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *session
	r.byID[cp.ID] = &cp
	r.byHash[cp.TokenHash] = cp.ID
	return nil
}

func (r *MemorySessionRepository) GetByTokenHash(_ context.Context, tokenHash string) (*models.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byHash[tokenHash]
	if !ok {
		return nil, ErrSessionNotFound
	}
	session, ok := r.byID[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	cp := *session
	return &cp, nil
}

func (r *MemorySessionRepository) UpdateLastUsed(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.byID[id]
	if !ok {
		return ErrSessionNotFound
	}
	session.LastUsedAt = time.Now()
	return nil
}

func (r *MemorySessionRepository) Revoke(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.byID[id]
	if !ok {
		return ErrSessionNotFound
	}
	session.Revoked = true
	return nil
}

func (r *MemorySessionRepository) DeleteExpired(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	var deleted int64
	for id, session := range r.byID {
		if session.ExpiresAt.Before(now) {
			delete(r.byHash, session.TokenHash)
			delete(r.byID, id)
			deleted++
		}
	}
	return deleted, nil
}
