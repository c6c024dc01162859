package engine

import (
	"context"

	"stratline/internal/domain"
)

// Store lets an editor session save straight into the local database as ActorID.
type Store struct {
	Engine  Engine
	ActorID string
}

func (s Store) CreateStrategy(ctx context.Context, st domain.Strategy) (domain.Strategy, error) {
	rec, err := s.Engine.CreateStrategy(ctx, st, s.ActorID)
	return rec.Strategy, err
}

func (s Store) UpdateStrategy(ctx context.Context, id string, st domain.Strategy) (domain.Strategy, error) {
	rec, err := s.Engine.UpdateStrategy(ctx, id, st, s.ActorID)
	return rec.Strategy, err
}
