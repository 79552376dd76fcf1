package ports

import (
	"context"

	"github.com/jupiterclapton/cenackle/services/social-service/internal/core/domain"
)

// --- DRIVING (Ce que le service expose) ---
// Les IDs reçus sont déjà authentifiés/validés par la couche d'accès.

type FeedService interface {
	Create(ctx context.Context, authorID, text string) (*domain.Post, error)
	Update(ctx context.Context, authorID, postID, text string) (*domain.Post, error)
	Delete(ctx context.Context, authorID, postID string) error
	Get(ctx context.Context, postID string) (*domain.Post, error)

	// Feed renvoie une page du feed (ordre chronologique inverse)
	Feed(ctx context.Context, req domain.FeedRequest) ([]*domain.Post, error)

	// DistributePost pousse un post dans les index de tous les followers de l'auteur.
	// Appelé inline à la création, ou par le consumer NATS en mode async.
	DistributePost(ctx context.Context, post *domain.Post) error
}

type RelationshipService interface {
	Add(ctx context.Context, initiatorID, otherID string) (domain.FriendshipCreateResult, error)
	End(ctx context.Context, initiatorID, otherID string, block bool) (domain.FriendshipEndResult, error)
	Get(ctx context.Context, a, b string) (*domain.Relationship, error)
	FollowerIDs(ctx context.Context, userID string) ([]string, error)
}
