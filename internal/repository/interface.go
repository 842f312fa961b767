package repository

import (
	"context"
	"errors"

	"github.com/lanki/edge/internal/db/models"
)

// ErrSessionNotFound is returned when no session matches the lookup.
var ErrSessionNotFound = errors.New("session not found")

// SessionRepository exposes persistence operations for browser sessions.
type SessionRepository interface {
	Create(ctx context.Context, session *models.Session) error
	// GetByTokenHash is the hot path: every authenticated request
	// resolves its cookie through it.
	GetByTokenHash(ctx context.Context, tokenHash string) (*models.Session, error)
	UpdateLastUsed(ctx context.Context, id string) error
	Revoke(ctx context.Context, id string) error
	DeleteExpired(ctx context.Context) (int64, error)
}
