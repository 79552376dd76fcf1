package services

import (
	"context"
	"log/slog"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/jupiterclapton/cenackle/services/social-service/internal/core/domain"
	"github.com/jupiterclapton/cenackle/services/social-service/internal/core/ports"
)

type FanoutMode string

const (
	FanoutSync  FanoutMode = "sync"
	FanoutAsync FanoutMode = "async"
)

const (
	BatchSize               = 1000 // Taille des paquets pour Redis
	DefaultFanoutWorkers    = 4
	DefaultMaterializeDepth = 500
)

var tracer = otel.Tracer("social-service/services")

var _ ports.FeedService = (*FeedService)(nil)

type FeedConfig struct {
	FanoutMode        FanoutMode
	FanoutBatchSize   int
	FanoutConcurrency int
	// MaterializeDepth : nombre de posts relus depuis Postgres lors d'une reconstruction
	MaterializeDepth int64
}

type FeedService struct {
	posts     ports.PostRepository
	relations ports.RelationshipRepository
	cache     ports.FeedCache
	publisher ports.EventPublisher
	cfg       FeedConfig
}

func NewFeedService(posts ports.PostRepository, relations ports.RelationshipRepository, cache ports.FeedCache, publisher ports.EventPublisher, cfg FeedConfig) *FeedService {
	if cfg.FanoutMode == "" {
		cfg.FanoutMode = FanoutSync
	}
	if cfg.FanoutBatchSize <= 0 {
		cfg.FanoutBatchSize = BatchSize
	}
	if cfg.FanoutConcurrency <= 0 {
		cfg.FanoutConcurrency = DefaultFanoutWorkers
	}
	if cfg.MaterializeDepth <= 0 {
		cfg.MaterializeDepth = DefaultMaterializeDepth
	}
	return &FeedService{
		posts:     posts,
		relations: relations,
		cache:     cache,
		publisher: publisher,
		cfg:       cfg,
	}
}

func (s *FeedService) Create(ctx context.Context, authorID, text string) (*domain.Post, error) {
	if err := validateIDs(authorID); err != nil {
		return nil, err
	}
	post, err := s.posts.Create(ctx, authorID, text)
	if err != nil {
		return nil, err
	}

	if s.cfg.FanoutMode == FanoutAsync {
		if err := s.cache.StoreBody(ctx, post); err != nil {
			slog.Warn("Failed to cache post body", "post_id", post.ID, "error", err)
		}
		// Le consumer NATS fera le fan-out
		err := s.publisher.PublishPostCreated(ctx, post)
		if err == nil {
			return post, nil
		}
		slog.Warn("⚠️ Publish failed, falling back to inline fan-out", "post_id", post.ID, "error", err)
		s.distribute(ctx, post)
		return post, nil
	}

	s.distribute(ctx, post)
	if err := s.publisher.PublishPostCreated(ctx, post); err != nil {
		slog.Warn("Failed to publish post.created", "post_id", post.ID, "error", err)
	}
	return post, nil
}

// distribute : le post est déjà commité, un échec du fan-out ne remonte pas
func (s *FeedService) distribute(ctx context.Context, post *domain.Post) {
	if err := s.DistributePost(ctx, post); err != nil {
		slog.Error("❌ Fan-out failed", "post_id", post.ID, "error", err)
	}
}

func (s *FeedService) Update(ctx context.Context, authorID, postID, text string) (*domain.Post, error) {
	post, err := s.posts.Update(ctx, authorID, postID, text)
	if err != nil {
		return nil, err
	}

	// Le score dans les index ne bouge pas (created_at), seul le body change
	if err := s.cache.StoreBody(ctx, post); err != nil {
		slog.Warn("Failed to refresh post body", "post_id", post.ID, "error", err)
	}
	if err := s.publisher.PublishPostUpdated(ctx, post); err != nil {
		slog.Warn("Failed to publish post.updated", "post_id", post.ID, "error", err)
	}
	return post, nil
}

func (s *FeedService) Delete(ctx context.Context, authorID, postID string) error {
	if err := s.posts.Delete(ctx, authorID, postID); err != nil {
		return err
	}

	if err := s.cache.DeleteBody(ctx, postID); err != nil {
		slog.Warn("Failed to drop post body", "post_id", postID, "error", err)
	}

	followers, err := s.relations.GetFollowerIDs(ctx, authorID)
	if err != nil {
		slog.Warn("Failed to load followers for index cleanup", "post_id", postID, "error", err)
	} else if err := s.cache.RemoveFromIndexes(ctx, followers, postID); err != nil {
		slog.Warn("Failed to remove post from feeds", "post_id", postID, "error", err)
	}

	if err := s.publisher.PublishPostDeleted(ctx, authorID, postID); err != nil {
		slog.Warn("Failed to publish post.deleted", "post_id", postID, "error", err)
	}
	return nil
}

func (s *FeedService) Get(ctx context.Context, postID string) (*domain.Post, error) {
	return s.cache.CachedPost(ctx, postID, func(ctx context.Context) (*domain.Post, error) {
		return s.posts.Get(ctx, postID)
	})
}

// Feed : Redis d'abord, Postgres en secours. Le cache n'est jamais une source de vérité.
func (s *FeedService) Feed(ctx context.Context, req domain.FeedRequest) ([]*domain.Post, error) {
	req = req.Normalize()

	// Au-delà de la profondeur matérialisée, l'index ne peut pas répondre
	if req.Offset >= s.cfg.MaterializeDepth {
		return s.posts.FeedPage(ctx, req.ViewerID, req.Limit, req.Offset)
	}

	materialized, err := s.cache.HasMaterialized(ctx, req.ViewerID)
	if err != nil {
		slog.Warn("Feed cache unavailable, reading from store", "viewer_id", req.ViewerID, "error", err)
		return s.posts.FeedPage(ctx, req.ViewerID, req.Limit, req.Offset)
	}
	if !materialized {
		return s.rebuild(ctx, req)
	}

	ids, err := s.cache.PageIDs(ctx, req.ViewerID, req.Limit, req.Offset)
	if err != nil {
		slog.Warn("Feed cache read failed, reading from store", "viewer_id", req.ViewerID, "error", err)
		return s.posts.FeedPage(ctx, req.ViewerID, req.Limit, req.Offset)
	}
	if len(ids) == 0 {
		// Marqueur posé et index vide : le feed est réellement vide
		if req.Offset == 0 {
			return []*domain.Post{}, nil
		}
		// Fenêtre au-delà de l'index : le store tranche, sans reconstruction
		return s.posts.FeedPage(ctx, req.ViewerID, req.Limit, req.Offset)
	}

	posts, err := s.hydrate(ctx, req.ViewerID, ids)
	if err != nil {
		slog.Warn("Feed cache read failed, reading from store", "viewer_id", req.ViewerID, "error", err)
		return s.posts.FeedPage(ctx, req.ViewerID, req.Limit, req.Offset)
	}
	if len(posts) > 0 {
		return posts, nil
	}
	return s.rebuild(ctx, req)
}

func (s *FeedService) hydrate(ctx context.Context, viewerID string, ids []string) ([]*domain.Post, error) {
	posts, err := s.cache.Hydrate(ctx, ids)
	if err != nil {
		return nil, err
	}
	if len(posts) < len(ids) {
		posts = s.backfill(ctx, viewerID, ids, posts)
	}
	return posts, nil
}

// backfill complète les bodies expirés depuis Postgres et retire de l'index les posts supprimés
func (s *FeedService) backfill(ctx context.Context, viewerID string, ids []string, cached []*domain.Post) []*domain.Post {
	byID := make(map[string]*domain.Post, len(ids))
	for _, p := range cached {
		byID[p.ID] = p
	}

	missing := make([]string, 0, len(ids)-len(cached))
	for _, id := range ids {
		if _, ok := byID[id]; !ok {
			missing = append(missing, id)
		}
	}

	fetched, err := s.posts.GetMany(ctx, missing)
	if err != nil {
		slog.Warn("Feed backfill failed, serving partial page", "viewer_id", viewerID, "error", err)
		return cached
	}
	for _, p := range fetched {
		byID[p.ID] = p
		if err := s.cache.StoreBody(ctx, p); err != nil {
			slog.Warn("Failed to cache post body", "post_id", p.ID, "error", err)
		}
	}

	var gone []string
	posts := make([]*domain.Post, 0, len(ids))
	for _, id := range ids {
		if p, ok := byID[id]; ok {
			posts = append(posts, p)
		} else {
			gone = append(gone, id)
		}
	}
	for _, id := range gone {
		if err := s.cache.RemoveFromIndexes(ctx, []string{viewerID}, id); err != nil {
			slog.Warn("Failed to drop stale feed entry", "viewer_id", viewerID, "post_id", id, "error", err)
		}
	}
	return posts
}

// rebuild relit le feed depuis Postgres et repeuple l'index (best effort)
func (s *FeedService) rebuild(ctx context.Context, req domain.FeedRequest) ([]*domain.Post, error) {
	posts, err := s.posts.FeedPage(ctx, req.ViewerID, s.cfg.MaterializeDepth, 0)
	if err != nil {
		return nil, err
	}

	if err := s.cache.Materialize(ctx, req.ViewerID, posts); err != nil {
		slog.Warn("Failed to materialize feed", "viewer_id", req.ViewerID, "error", err)
	} else {
		slog.Debug("🧱 Feed materialized", "viewer_id", req.ViewerID, "count", len(posts))
	}

	// Offset < MaterializeDepth ici : la soustraction ne déborde pas
	total := int64(len(posts))
	if req.Limit <= total-req.Offset || total < s.cfg.MaterializeDepth {
		if req.Offset >= total {
			return []*domain.Post{}, nil
		}
		return posts[req.Offset : req.Offset+min(req.Limit, total-req.Offset)], nil
	}
	return s.posts.FeedPage(ctx, req.ViewerID, req.Limit, req.Offset)
}

// DistributePost pousse le post dans l'index de chaque follower.
// Les erreurs Redis par viewer sont loguées : seul l'échec de la lecture des followers remonte.
func (s *FeedService) DistributePost(ctx context.Context, post *domain.Post) error {
	ctx, span := tracer.Start(ctx, "FeedService.DistributePost", trace.WithAttributes(
		attribute.String("post.id", post.ID),
		attribute.String("post.author_id", post.AuthorID),
	))
	defer span.End()

	slog.Info("📢 Fan-out starting", "post_id", post.ID, "author_id", post.AuthorID)

	if err := s.cache.StoreBody(ctx, post); err != nil {
		slog.Warn("Failed to cache post body", "post_id", post.ID, "error", err)
	}

	followers, err := s.relations.GetFollowerIDs(ctx, post.AuthorID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "followers lookup failed")
		return err
	}
	if len(followers) == 0 {
		return nil
	}

	// Batch processing en parallèle, borné par FanoutConcurrency
	var g errgroup.Group
	g.SetLimit(s.cfg.FanoutConcurrency)
	var failedCount atomic.Int64

	for i := 0; i < len(followers); i += s.cfg.FanoutBatchSize {
		end := min(i+s.cfg.FanoutBatchSize, len(followers))
		batch := followers[i:end]
		start := i

		g.Go(func() error {
			failed, err := s.cache.AppendMany(ctx, batch, post)
			if err != nil || len(failed) > 0 {
				slog.Error("❌ Failed to push batch to redis", "error", err, "batch_start", start, "failed", len(failed))
				failedCount.Add(int64(len(failed)))
			}
			return nil
		})
	}
	_ = g.Wait()

	span.SetAttributes(
		attribute.Int("fanout.followers", len(followers)),
		attribute.Int64("fanout.failed", failedCount.Load()),
	)
	slog.Info("✅ Fan-out complete", "count", len(followers), "failed", failedCount.Load())
	return nil
}
