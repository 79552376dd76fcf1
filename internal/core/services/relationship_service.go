package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/jupiterclapton/cenackle/services/social-service/internal/core/domain"
	"github.com/jupiterclapton/cenackle/services/social-service/internal/core/ports"
)

var _ ports.RelationshipService = (*RelationshipService)(nil)

type RelationshipService struct {
	repo      ports.RelationshipRepository
	cache     ports.FeedCache
	publisher ports.EventPublisher
}

func NewRelationshipService(repo ports.RelationshipRepository, cache ports.FeedCache, publisher ports.EventPublisher) *RelationshipService {
	return &RelationshipService{
		repo:      repo,
		cache:     cache,
		publisher: publisher,
	}
}

func (s *RelationshipService) Add(ctx context.Context, initiatorID, otherID string) (domain.FriendshipCreateResult, error) {
	if initiatorID == otherID {
		return 0, fmt.Errorf("%w: cannot befriend yourself", domain.ErrIllegalState)
	}
	if err := validateIDs(initiatorID, otherID); err != nil {
		return 0, err
	}

	res, err := s.repo.AddFriend(ctx, initiatorID, otherID)
	if err != nil {
		return 0, err
	}

	switch res {
	case domain.FriendshipAccepted:
		s.graphChanged(ctx, initiatorID, otherID, res.String())
	case domain.FriendshipRequestSent:
		s.publish(ctx, initiatorID, otherID, res.String())
	}
	return res, nil
}

func (s *RelationshipService) End(ctx context.Context, initiatorID, otherID string, block bool) (domain.FriendshipEndResult, error) {
	if initiatorID == otherID {
		return 0, fmt.Errorf("%w: cannot end a relationship with yourself", domain.ErrIllegalState)
	}
	if err := validateIDs(initiatorID, otherID); err != nil {
		return 0, err
	}

	res, err := s.repo.EndFriendship(ctx, initiatorID, otherID, block)
	if err != nil {
		return 0, err
	}
	if res != domain.FriendshipNotInFriendship {
		s.graphChanged(ctx, initiatorID, otherID, res.String())
	}
	return res, nil
}

func (s *RelationshipService) Get(ctx context.Context, a, b string) (*domain.Relationship, error) {
	if err := validateIDs(a, b); err != nil {
		return nil, err
	}
	return s.repo.GetRelationship(ctx, a, b)
}

func (s *RelationshipService) FollowerIDs(ctx context.Context, userID string) ([]string, error) {
	if err := validateIDs(userID); err != nil {
		return nil, err
	}
	return s.repo.GetFollowerIDs(ctx, userID)
}

// graphChanged : les feeds des deux côtés ne reflètent plus le graphe, on force une reconstruction
func (s *RelationshipService) graphChanged(ctx context.Context, a, b, outcome string) {
	if err := s.cache.Invalidate(ctx, a, b); err != nil {
		slog.Warn("Failed to invalidate feeds", "initiator_id", a, "other_id", b, "error", err)
	}
	s.publish(ctx, a, b, outcome)
}

func (s *RelationshipService) publish(ctx context.Context, a, b, outcome string) {
	if err := s.publisher.PublishFriendshipChanged(ctx, a, b, outcome); err != nil {
		slog.Warn("Failed to publish friendship.changed", "outcome", outcome, "error", err)
	}
}

func validateIDs(ids ...string) error {
	for _, id := range ids {
		if _, err := uuid.Parse(id); err != nil {
			return fmt.Errorf("%w: %q", domain.ErrInvalidID, id)
		}
	}
	return nil
}
