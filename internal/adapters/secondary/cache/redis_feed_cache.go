package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jupiterclapton/cenackle/services/social-service/internal/core/domain"
)

type Options struct {
	MarkerTTL   time.Duration // durée de vie du marqueur "feed matérialisé"
	IndexTTL    time.Duration // rafraîchi à chaque ajout dans l'index
	BodyTTL     time.Duration
	MaxIndexLen int64 // 0 = pas de capping
}

func DefaultOptions() Options {
	return Options{
		MarkerTTL:   time.Hour,
		IndexTTL:    24 * time.Hour,
		BodyTTL:     DefaultTTL,
		MaxIndexLen: 1000,
	}
}

type RedisFeedCache struct {
	client redis.UniversalClient
	opts   Options
}

func NewRedisFeedCache(client redis.UniversalClient, opts Options) *RedisFeedCache {
	def := DefaultOptions()
	if opts.MarkerTTL <= 0 {
		opts.MarkerTTL = def.MarkerTTL
	}
	if opts.IndexTTL <= 0 {
		opts.IndexTTL = def.IndexTTL
	}
	if opts.BodyTTL <= 0 {
		opts.BodyTTL = def.BodyTTL
	}
	if opts.MaxIndexLen < 0 {
		opts.MaxIndexLen = 0
	}
	return &RedisFeedCache{client: client, opts: opts}
}

func (c *RedisFeedCache) HasMaterialized(ctx context.Context, viewerID string) (bool, error) {
	n, err := c.client.Exists(ctx, FeedMarkerKey(viewerID)).Result()
	if err != nil {
		return false, fmt.Errorf("feed marker: %w", err)
	}
	return n > 0, nil
}

// PageIDs : pagination Redis inclusive, du plus récent au plus ancien
func (c *RedisFeedCache) PageIDs(ctx context.Context, viewerID string, limit, offset int64) ([]string, error) {
	if limit <= 0 {
		return []string{}, nil
	}
	if offset < 0 {
		offset = 0
	}
	stop := offset + limit - 1
	if stop < offset {
		// dépassement int64 : jusqu'au bout de l'index
		stop = -1
	}
	ids, err := c.client.ZRevRange(ctx, FeedIndexKey(viewerID), offset, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("feed index range: %w", err)
	}
	return ids, nil
}

// Hydrate garde l'ordre des ids ; les bodies absents ou corrompus sont ignorés.
func (c *RedisFeedCache) Hydrate(ctx context.Context, postIDs []string) ([]*domain.Post, error) {
	if len(postIDs) == 0 {
		return []*domain.Post{}, nil
	}
	keys := make([]string, len(postIDs))
	for i, id := range postIDs {
		keys[i] = PostBodyKey(id)
	}

	values, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("hydrate posts: %w", err)
	}

	posts := make([]*domain.Post, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var p domain.Post
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			slog.Warn("Corrupted post body in cache", "post_id", postIDs[i], "error", err)
			continue
		}
		posts = append(posts, &p)
	}
	return posts, nil
}

func (c *RedisFeedCache) Append(ctx context.Context, viewerID string, post *domain.Post) error {
	pipe := c.client.Pipeline()
	c.queueAppend(ctx, pipe, viewerID, post)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("append to feed %s: %w", viewerID, err)
	}
	return nil
}

// AppendMany implémente le Fan-out par batch (un seul aller-retour Redis)
func (c *RedisFeedCache) AppendMany(ctx context.Context, viewerIDs []string, post *domain.Post) ([]string, error) {
	if len(viewerIDs) == 0 {
		return nil, nil
	}
	pipe := c.client.Pipeline()
	adds := make([]*redis.IntCmd, len(viewerIDs))
	for i, uid := range viewerIDs {
		adds[i] = c.queueAppend(ctx, pipe, uid, post)
	}

	_, execErr := pipe.Exec(ctx)

	// Chaque commande porte sa propre erreur : on isole les viewers en échec
	var failed []string
	for i, cmd := range adds {
		if cmd.Err() != nil {
			failed = append(failed, viewerIDs[i])
		}
	}
	if execErr != nil {
		// Pipeline entier en échec (Redis injoignable) : aucun viewer n'a reçu le post
		if len(failed) == 0 {
			failed = viewerIDs
		}
		return failed, fmt.Errorf("fan-out pipeline: %w", execErr)
	}
	return failed, nil
}

func (c *RedisFeedCache) queueAppend(ctx context.Context, pipe redis.Pipeliner, viewerID string, post *domain.Post) *redis.IntCmd {
	key := FeedIndexKey(viewerID)

	// Même membre => le score est remplacé, pas de doublon
	add := pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(post.CreatedAt.UnixMilli()),
		Member: post.ID,
	})
	// Capping : on garde les MaxIndexLen plus récents
	if c.opts.MaxIndexLen > 0 {
		pipe.ZRemRangeByRank(ctx, key, 0, -(c.opts.MaxIndexLen + 1))
	}
	pipe.Expire(ctx, key, c.opts.IndexTTL)
	return add
}

func (c *RedisFeedCache) RemoveFromIndexes(ctx context.Context, viewerIDs []string, postID string) error {
	if len(viewerIDs) == 0 {
		return nil
	}
	pipe := c.client.Pipeline()
	for _, uid := range viewerIDs {
		pipe.ZRem(ctx, FeedIndexKey(uid), postID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("remove from feeds: %w", err)
	}
	return nil
}

func (c *RedisFeedCache) StoreBody(ctx context.Context, post *domain.Post) error {
	data, err := json.Marshal(post)
	if err != nil {
		return fmt.Errorf("marshal post: %w", err)
	}
	if err := c.client.Set(ctx, PostBodyKey(post.ID), data, c.opts.BodyTTL).Err(); err != nil {
		return fmt.Errorf("store post body: %w", err)
	}
	return nil
}

func (c *RedisFeedCache) DeleteBody(ctx context.Context, postID string) error {
	if err := c.client.Del(ctx, PostBodyKey(postID)).Err(); err != nil {
		return fmt.Errorf("delete post body: %w", err)
	}
	return nil
}

func (c *RedisFeedCache) MarkMaterialized(ctx context.Context, viewerID string) error {
	if err := c.client.Set(ctx, FeedMarkerKey(viewerID), 1, c.opts.MarkerTTL).Err(); err != nil {
		return fmt.Errorf("mark feed: %w", err)
	}
	return nil
}

// Materialize n'efface pas l'index existant : un fan-out concurrent ne doit pas être perdu.
// Le nettoyage passe par Invalidate.
func (c *RedisFeedCache) Materialize(ctx context.Context, viewerID string, posts []*domain.Post) error {
	key := FeedIndexKey(viewerID)

	pipe := c.client.TxPipeline()
	if len(posts) > 0 {
		members := make([]redis.Z, 0, len(posts))
		for _, p := range posts {
			data, err := json.Marshal(p)
			if err != nil {
				return fmt.Errorf("marshal post: %w", err)
			}
			pipe.Set(ctx, PostBodyKey(p.ID), data, c.opts.BodyTTL)
			members = append(members, redis.Z{Score: float64(p.CreatedAt.UnixMilli()), Member: p.ID})
		}
		pipe.ZAdd(ctx, key, members...)
		if c.opts.MaxIndexLen > 0 {
			pipe.ZRemRangeByRank(ctx, key, 0, -(c.opts.MaxIndexLen + 1))
		}
		pipe.Expire(ctx, key, c.opts.IndexTTL)
	}
	pipe.Set(ctx, FeedMarkerKey(viewerID), 1, c.opts.MarkerTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("materialize feed %s: %w", viewerID, err)
	}
	return nil
}

func (c *RedisFeedCache) Invalidate(ctx context.Context, viewerIDs ...string) error {
	if len(viewerIDs) == 0 {
		return nil
	}
	pipe := c.client.Pipeline()
	for _, uid := range viewerIDs {
		pipe.Del(ctx, FeedMarkerKey(uid), FeedIndexKey(uid))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("invalidate feeds: %w", err)
	}
	return nil
}

func (c *RedisFeedCache) CachedPost(ctx context.Context, postID string, load func(context.Context) (*domain.Post, error)) (*domain.Post, error) {
	return GetOrCompute(ctx, c.client, PostBodyKey(postID), c.opts.BodyTTL, load)
}
