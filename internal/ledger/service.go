package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrUnknownUser is returned when an award targets a user that does not exist.
var ErrUnknownUser = errors.New("unknown user")

// Service credits reputation at most once per event key.
type Service interface {
	Award(ctx context.Context, userID uuid.UUID, amount int, eventKey string) (bool, error)
}

type store interface {
	Award(ctx context.Context, userID uuid.UUID, amount int, eventKey string) (bool, error)
}

type service struct {
	repo store
}

func NewService(repo *Repository) Service {
	return &service{repo: repo}
}

var _ Service = (*service)(nil)

func (s *service) Award(ctx context.Context, userID uuid.UUID, amount int, eventKey string) (bool, error) {
	if eventKey == "" {
		return false, errors.New("event key required")
	}
	if amount < 0 {
		return false, fmt.Errorf("negative award %d", amount)
	}
	if amount == 0 {
		return false, nil
	}
	return s.repo.Award(ctx, userID, amount, eventKey)
}
