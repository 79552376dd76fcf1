package ports

import (
	"context"

	"github.com/jupiterclapton/cenackle/services/social-service/internal/core/domain"
)

// --- DRIVEN (Ce dont le service a besoin) ---

// PostRepository est le store autoritaire des posts (Postgres).
type PostRepository interface {
	Create(ctx context.Context, authorID, text string) (*domain.Post, error)

	// Update/Delete filtrent sur (auteur, post) : 0 ligne => domain.ErrNotUpdated
	Update(ctx context.Context, authorID, postID, text string) (*domain.Post, error)
	Delete(ctx context.Context, authorID, postID string) error

	Get(ctx context.Context, postID string) (*domain.Post, error)

	// GetMany : batch fetch pour l'hydratation du feed. Les IDs absents sont ignorés.
	GetMany(ctx context.Context, postIDs []string) ([]*domain.Post, error)

	// FeedPage joint les connexions du viewer à leurs posts, created_at DESC.
	FeedPage(ctx context.Context, viewerID string, limit, offset int64) ([]*domain.Post, error)
}

// RelationshipRepository persiste les arêtes d'amitié/abonnement.
type RelationshipRepository interface {
	// GetFollowerIDs renvoie les users qui doivent recevoir les posts de userID (blocked exclus)
	GetFollowerIDs(ctx context.Context, userID string) ([]string, error)

	// AddFriend exécute la transaction "accept-or-request"
	AddFriend(ctx context.Context, initiatorID, otherID string) (domain.FriendshipCreateResult, error)

	EndFriendship(ctx context.Context, initiatorID, otherID string, block bool) (domain.FriendshipEndResult, error)

	GetRelationship(ctx context.Context, a, b string) (*domain.Relationship, error)
}

// FeedCache est l'index matérialisé par viewer + le store dénormalisé des posts.
// Il est purement consultatif : le service doit fonctionner sans lui.
type FeedCache interface {
	HasMaterialized(ctx context.Context, viewerID string) (bool, error)
	PageIDs(ctx context.Context, viewerID string, limit, offset int64) ([]string, error)

	// Hydrate ignore silencieusement les IDs sans body en cache
	Hydrate(ctx context.Context, postIDs []string) ([]*domain.Post, error)

	Append(ctx context.Context, viewerID string, post *domain.Post) error
	// AppendMany pousse le post chez plusieurs viewers (pipeline) et renvoie ceux en échec
	AppendMany(ctx context.Context, viewerIDs []string, post *domain.Post) (failed []string, err error)
	RemoveFromIndexes(ctx context.Context, viewerIDs []string, postID string) error

	StoreBody(ctx context.Context, post *domain.Post) error
	DeleteBody(ctx context.Context, postID string) error

	MarkMaterialized(ctx context.Context, viewerID string) error

	// Materialize stocke bodies + index puis pose le marqueur, en une transaction Redis
	Materialize(ctx context.Context, viewerID string, posts []*domain.Post) error

	// Invalidate supprime marqueur et index : le prochain Feed reconstruira depuis le store
	Invalidate(ctx context.Context, viewerIDs ...string) error

	// CachedPost est le cache-aside sur le body d'un post
	CachedPost(ctx context.Context, postID string, load func(context.Context) (*domain.Post, error)) (*domain.Post, error)
}

// EventPublisher notifie les autres services (best effort).
type EventPublisher interface {
	PublishPostCreated(ctx context.Context, post *domain.Post) error
	PublishPostUpdated(ctx context.Context, post *domain.Post) error
	PublishPostDeleted(ctx context.Context, authorID, postID string) error
	PublishFriendshipChanged(ctx context.Context, initiatorID, otherID, outcome string) error
}
