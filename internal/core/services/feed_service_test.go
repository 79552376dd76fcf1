package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jupiterclapton/cenackle/services/social-service/internal/adapters/secondary/cache"
	"github.com/jupiterclapton/cenackle/services/social-service/internal/core/domain"
)

type feedFixture struct {
	svc   *FeedService
	rel   *RelationshipService
	store *memStore
	mr    *miniredis.Miniredis
	pub   *mockPublisher
}

func newFeedFixture(t *testing.T, cfg FeedConfig) *feedFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })

	store := newMemStore()
	pub := &mockPublisher{}
	feedCache := cache.NewRedisFeedCache(client, cache.DefaultOptions())
	return &feedFixture{
		svc:   NewFeedService(store, store, feedCache, pub, cfg),
		rel:   NewRelationshipService(store, feedCache, pub),
		store: store,
		mr:    mr,
		pub:   pub,
	}
}

func (f *feedFixture) befriend(t *testing.T, a, b string) {
	t.Helper()
	ctx := context.Background()
	_, err := f.rel.Add(ctx, a, b)
	require.NoError(t, err)
	res, err := f.rel.Add(ctx, b, a)
	require.NoError(t, err)
	require.Equal(t, domain.FriendshipAccepted, res)
}

func postIDs(posts []*domain.Post) []string {
	ids := make([]string, len(posts))
	for i, p := range posts {
		ids[i] = p.ID
	}
	return ids
}

func TestCreateThenGet(t *testing.T) {
	assert := assert.New(t)
	f := newFeedFixture(t, FeedConfig{})
	ctx := context.Background()
	u1 := uuid.NewString()

	p1, err := f.svc.Create(ctx, u1, "hello")
	require.NoError(t, err)

	got, err := f.svc.Get(ctx, p1.ID)
	require.NoError(t, err)
	assert.Equal("hello", got.Text)
	assert.Equal(u1, got.AuthorID)
	assert.True(f.mr.Exists(cache.PostBodyKey(p1.ID)), "body should be cached at creation")
	assert.Equal([]string{"post.created"}, f.pub.events)

	// Body expiré : relu depuis le store puis remis en cache
	f.mr.Del(cache.PostBodyKey(p1.ID))
	got, err = f.svc.Get(ctx, p1.ID)
	require.NoError(t, err)
	assert.Equal("hello", got.Text)
	assert.True(f.mr.Exists(cache.PostBodyKey(p1.ID)))
}

func TestCreateRejectsInvalidAuthor(t *testing.T) {
	f := newFeedFixture(t, FeedConfig{})
	_, err := f.svc.Create(context.Background(), "not-a-uuid", "hello")
	assert.ErrorIs(t, err, domain.ErrInvalidID)
	assert.ErrorIs(t, err, domain.ErrIllegalState)
}

func TestGetUnknownPost(t *testing.T) {
	f := newFeedFixture(t, FeedConfig{})
	_, err := f.svc.Get(context.Background(), uuid.NewString())
	assert.ErrorIs(t, err, domain.ErrPostNotFound)
}

func TestFeedNewestFirst(t *testing.T) {
	assert := assert.New(t)
	f := newFeedFixture(t, FeedConfig{})
	ctx := context.Background()
	u1, u2 := uuid.NewString(), uuid.NewString()
	f.befriend(t, u1, u2)

	old, err := f.svc.Create(ctx, u1, "old")
	require.NoError(t, err)

	// Première lecture : reconstruction depuis le store
	feed, err := f.svc.Feed(ctx, domain.FeedRequest{ViewerID: u2, Limit: 10})
	require.NoError(t, err)
	assert.Equal([]string{old.ID}, postIDs(feed))
	assert.Equal(1, f.store.feedPageCalls)
	assert.True(f.mr.Exists(cache.FeedMarkerKey(u2)))

	p2, err := f.svc.Create(ctx, u1, "new")
	require.NoError(t, err)

	// Deuxième lecture : servie par l'index alimenté par le fan-out
	feed, err = f.svc.Feed(ctx, domain.FeedRequest{ViewerID: u2, Limit: 10})
	require.NoError(t, err)
	assert.Equal([]string{p2.ID, old.ID}, postIDs(feed))
	assert.Equal(1, f.store.feedPageCalls, "materialized feed should not hit the store")
}

func TestFeedPagination(t *testing.T) {
	assert := assert.New(t)
	f := newFeedFixture(t, FeedConfig{})
	ctx := context.Background()
	u1, u2 := uuid.NewString(), uuid.NewString()
	f.befriend(t, u1, u2)

	var created []string
	for i := 0; i < 5; i++ {
		p, err := f.svc.Create(ctx, u1, fmt.Sprintf("post %d", i))
		require.NoError(t, err)
		created = append([]string{p.ID}, created...)
	}

	page, err := f.svc.Feed(ctx, domain.FeedRequest{ViewerID: u2, Limit: 2, Offset: 1})
	require.NoError(t, err)
	assert.Equal(created[1:3], postIDs(page))

	page, err = f.svc.Feed(ctx, domain.FeedRequest{ViewerID: u2, Limit: 2, Offset: 4})
	require.NoError(t, err)
	assert.Equal(created[4:], postIDs(page))

	page, err = f.svc.Feed(ctx, domain.FeedRequest{ViewerID: u2, Limit: 2, Offset: 10})
	require.NoError(t, err)
	assert.Empty(page)
}

func TestFeedBeyondMaterializeDepthReadsStore(t *testing.T) {
	assert := assert.New(t)
	f := newFeedFixture(t, FeedConfig{MaterializeDepth: 2})
	ctx := context.Background()
	u1, u2 := uuid.NewString(), uuid.NewString()
	f.befriend(t, u1, u2)

	var created []string
	for i := 0; i < 3; i++ {
		p, err := f.svc.Create(ctx, u1, "x")
		require.NoError(t, err)
		created = append([]string{p.ID}, created...)
	}
	f.mr.Del(cache.FeedMarkerKey(u2))

	// La fenêtre dépasse le slice reconstruit : relecture directe
	page, err := f.svc.Feed(ctx, domain.FeedRequest{ViewerID: u2, Limit: 2, Offset: 1})
	require.NoError(t, err)
	assert.Equal(created[1:3], postIDs(page))

	page, err = f.svc.Feed(ctx, domain.FeedRequest{ViewerID: u2, Limit: 2, Offset: 2})
	require.NoError(t, err)
	assert.Equal(created[2:], postIDs(page))
}

func TestFeedRebuildsWhenMarkerMissing(t *testing.T) {
	assert := assert.New(t)
	f := newFeedFixture(t, FeedConfig{})
	ctx := context.Background()
	u1, u2 := uuid.NewString(), uuid.NewString()
	f.befriend(t, u1, u2)

	_, err := f.svc.Feed(ctx, domain.FeedRequest{ViewerID: u2})
	require.NoError(t, err)

	// Le fan-out a raté le viewer et le marqueur a expiré
	f.mr.Del(cache.FeedIndexKey(u2))
	p, err := f.store.Create(ctx, u1, "missed by fan-out")
	require.NoError(t, err)
	f.mr.Del(cache.FeedMarkerKey(u2))

	feed, err := f.svc.Feed(ctx, domain.FeedRequest{ViewerID: u2})
	require.NoError(t, err)
	assert.Equal([]string{p.ID}, postIDs(feed))
	members, err := f.mr.ZMembers(cache.FeedIndexKey(u2))
	require.NoError(t, err)
	assert.Contains(members, p.ID)
}

func TestFeedBackfillsExpiredBodies(t *testing.T) {
	assert := assert.New(t)
	f := newFeedFixture(t, FeedConfig{})
	ctx := context.Background()
	u1, u2 := uuid.NewString(), uuid.NewString()
	f.befriend(t, u1, u2)

	p1, err := f.svc.Create(ctx, u1, "first")
	require.NoError(t, err)
	p2, err := f.svc.Create(ctx, u1, "second")
	require.NoError(t, err)
	_, err = f.svc.Feed(ctx, domain.FeedRequest{ViewerID: u2})
	require.NoError(t, err)

	f.mr.Del(cache.PostBodyKey(p1.ID))
	feed, err := f.svc.Feed(ctx, domain.FeedRequest{ViewerID: u2})
	require.NoError(t, err)
	assert.Equal([]string{p2.ID, p1.ID}, postIDs(feed))
	assert.True(f.mr.Exists(cache.PostBodyKey(p1.ID)), "backfilled body should be re-stored")
}

func TestDeleteRemovesPostFromFeeds(t *testing.T) {
	assert := assert.New(t)
	f := newFeedFixture(t, FeedConfig{})
	ctx := context.Background()
	u1, u2 := uuid.NewString(), uuid.NewString()
	f.befriend(t, u1, u2)

	keep, err := f.svc.Create(ctx, u1, "keep")
	require.NoError(t, err)
	drop, err := f.svc.Create(ctx, u1, "drop")
	require.NoError(t, err)
	_, err = f.svc.Feed(ctx, domain.FeedRequest{ViewerID: u2})
	require.NoError(t, err)

	require.NoError(t, f.svc.Delete(ctx, u1, drop.ID))
	assert.False(f.mr.Exists(cache.PostBodyKey(drop.ID)))

	feed, err := f.svc.Feed(ctx, domain.FeedRequest{ViewerID: u2})
	require.NoError(t, err)
	assert.Equal([]string{keep.ID}, postIDs(feed))
	assert.Contains(f.pub.events, "post.deleted")
}

func TestUpdateRefreshesCachedBody(t *testing.T) {
	assert := assert.New(t)
	f := newFeedFixture(t, FeedConfig{})
	ctx := context.Background()
	u1 := uuid.NewString()

	p, err := f.svc.Create(ctx, u1, "draft")
	require.NoError(t, err)
	_, err = f.svc.Update(ctx, u1, p.ID, "final")
	require.NoError(t, err)

	got, err := f.svc.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal("final", got.Text)
	assert.Contains(f.pub.events, "post.updated")
}

func TestMutationByOtherAuthorLooksLikeMissingPost(t *testing.T) {
	assert := assert.New(t)
	f := newFeedFixture(t, FeedConfig{})
	ctx := context.Background()
	owner, intruder := uuid.NewString(), uuid.NewString()

	p, err := f.svc.Create(ctx, owner, "mine")
	require.NoError(t, err)

	_, errForeign := f.svc.Update(ctx, intruder, p.ID, "hacked")
	_, errMissing := f.svc.Update(ctx, intruder, uuid.NewString(), "hacked")
	assert.ErrorIs(errForeign, domain.ErrNotFound)
	assert.Equal(errMissing, errForeign)

	errForeign = f.svc.Delete(ctx, intruder, p.ID)
	errMissing = f.svc.Delete(ctx, intruder, uuid.NewString())
	assert.ErrorIs(errForeign, domain.ErrNotUpdated)
	assert.Equal(errMissing, errForeign)

	got, err := f.svc.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal("mine", got.Text)
}

func TestFeedSurvivesCacheOutage(t *testing.T) {
	assert := assert.New(t)
	f := newFeedFixture(t, FeedConfig{})
	ctx := context.Background()
	u1, u2 := uuid.NewString(), uuid.NewString()
	f.befriend(t, u1, u2)

	p1, err := f.svc.Create(ctx, u1, "before outage")
	require.NoError(t, err)
	_, err = f.svc.Feed(ctx, domain.FeedRequest{ViewerID: u2})
	require.NoError(t, err)

	f.mr.Close()

	// Les écritures réussissent, le fan-out échoue en silence
	p2, err := f.svc.Create(ctx, u1, "during outage")
	require.NoError(t, err)

	feed, err := f.svc.Feed(ctx, domain.FeedRequest{ViewerID: u2, Limit: 10})
	require.NoError(t, err)
	assert.Equal([]string{p2.ID, p1.ID}, postIDs(feed))

	got, err := f.svc.Get(ctx, p1.ID)
	require.NoError(t, err)
	assert.Equal("before outage", got.Text)
}

func TestDistributePostBatches(t *testing.T) {
	assert := assert.New(t)
	f := newFeedFixture(t, FeedConfig{FanoutBatchSize: 2, FanoutConcurrency: 2})
	ctx := context.Background()
	author := uuid.NewString()

	followers := make([]string, 5)
	for i := range followers {
		followers[i] = uuid.NewString()
		f.befriend(t, author, followers[i])
	}

	p, err := f.svc.Create(ctx, author, "broadcast")
	require.NoError(t, err)

	for _, uid := range followers {
		members, err := f.mr.ZMembers(cache.FeedIndexKey(uid))
		require.NoError(t, err)
		assert.Equal([]string{p.ID}, members, "follower %s", uid)
	}
}

func TestDistributePostFollowerLookupError(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	boom := fmt.Errorf("%w: follower ids: boom", domain.ErrStorage)
	rel := &mockRelations{followersFn: func(string) ([]string, error) { return nil, boom }}
	svc := NewFeedService(newMemStore(), rel, cache.NewRedisFeedCache(client, cache.DefaultOptions()), &mockPublisher{}, FeedConfig{})

	err := svc.DistributePost(context.Background(), &domain.Post{ID: uuid.NewString(), AuthorID: uuid.NewString()})
	assert.ErrorIs(t, err, domain.ErrStorage)
}

func TestCreateAsyncPublishesInsteadOfFanout(t *testing.T) {
	assert := assert.New(t)
	f := newFeedFixture(t, FeedConfig{FanoutMode: FanoutAsync})
	ctx := context.Background()
	u1, u2 := uuid.NewString(), uuid.NewString()
	f.befriend(t, u1, u2)

	p, err := f.svc.Create(ctx, u1, "async")
	require.NoError(t, err)
	assert.True(f.mr.Exists(cache.PostBodyKey(p.ID)))
	assert.False(f.mr.Exists(cache.FeedIndexKey(u2)), "fan-out belongs to the consumer")
	assert.Contains(f.pub.events, "post.created")
}

func TestCreateAsyncFallsBackWhenPublishFails(t *testing.T) {
	f := newFeedFixture(t, FeedConfig{FanoutMode: FanoutAsync})
	ctx := context.Background()
	u1, u2 := uuid.NewString(), uuid.NewString()
	f.befriend(t, u1, u2)
	f.pub.err = errors.New("nats: no responders available for request")

	p, err := f.svc.Create(ctx, u1, "async")
	require.NoError(t, err)

	members, err := f.mr.ZMembers(cache.FeedIndexKey(u2))
	require.NoError(t, err)
	assert.Equal(t, []string{p.ID}, members)
}

func TestEndFriendshipRebuildsFeed(t *testing.T) {
	assert := assert.New(t)
	f := newFeedFixture(t, FeedConfig{})
	ctx := context.Background()
	u1, u2 := uuid.NewString(), uuid.NewString()
	f.befriend(t, u1, u2)

	_, err := f.svc.Create(ctx, u1, "from u1")
	require.NoError(t, err)
	p2, err := f.svc.Create(ctx, u2, "from u2")
	require.NoError(t, err)

	feed, err := f.svc.Feed(ctx, domain.FeedRequest{ViewerID: u2})
	require.NoError(t, err)
	assert.Len(feed, 1)

	// u2 rompt : u1 devient simple abonné de u2
	res, err := f.rel.End(ctx, u2, u1, false)
	require.NoError(t, err)
	assert.Equal(domain.FriendshipSubscribed, res)

	feed, err = f.svc.Feed(ctx, domain.FeedRequest{ViewerID: u2})
	require.NoError(t, err)
	assert.Empty(feed)

	feed, err = f.svc.Feed(ctx, domain.FeedRequest{ViewerID: u1})
	require.NoError(t, err)
	assert.Equal([]string{p2.ID}, postIDs(feed))
}

func TestFeedHugeLimitIsCapped(t *testing.T) {
	assert := assert.New(t)
	f := newFeedFixture(t, FeedConfig{})
	ctx := context.Background()
	u1, u2 := uuid.NewString(), uuid.NewString()
	f.befriend(t, u1, u2)

	var created []string
	for i := 0; i < 3; i++ {
		p, err := f.svc.Create(ctx, u1, fmt.Sprintf("post %d", i))
		require.NoError(t, err)
		created = append([]string{p.ID}, created...)
	}

	// Reconstruction puis lecture depuis l'index : aucune des deux ne doit déborder
	for range 2 {
		page, err := f.svc.Feed(ctx, domain.FeedRequest{ViewerID: u2, Limit: math.MaxInt64, Offset: 1})
		require.NoError(t, err)
		assert.Equal(created[1:], postIDs(page))
	}
}

func TestFeedEmptyMaterializedFeedServedFromCache(t *testing.T) {
	assert := assert.New(t)
	f := newFeedFixture(t, FeedConfig{})
	ctx := context.Background()
	loner := uuid.NewString()

	for range 3 {
		page, err := f.svc.Feed(ctx, domain.FeedRequest{ViewerID: loner})
		require.NoError(t, err)
		assert.Empty(page)
	}
	assert.Equal(1, f.store.feedPageCalls, "an empty materialized feed should not be rebuilt")
	assert.True(f.mr.Exists(cache.FeedMarkerKey(loner)))
}

func TestFeedOffsetPastIndexReadsStoreWithoutRebuild(t *testing.T) {
	assert := assert.New(t)
	f := newFeedFixture(t, FeedConfig{})
	ctx := context.Background()
	u1, u2 := uuid.NewString(), uuid.NewString()
	f.befriend(t, u1, u2)

	_, err := f.svc.Create(ctx, u1, "only")
	require.NoError(t, err)
	_, err = f.svc.Feed(ctx, domain.FeedRequest{ViewerID: u2})
	require.NoError(t, err)
	require.Equal(t, 1, f.store.feedPageCalls)

	// Un post créé hors fan-out ne doit pas être réinjecté dans l'index
	_, err = f.store.Create(ctx, u1, "missed by fan-out")
	require.NoError(t, err)

	page, err := f.svc.Feed(ctx, domain.FeedRequest{ViewerID: u2, Limit: 10, Offset: 5})
	require.NoError(t, err)
	assert.Empty(page)
	assert.Equal(2, f.store.feedPageCalls)
	members, err := f.mr.ZMembers(cache.FeedIndexKey(u2))
	require.NoError(t, err)
	assert.Len(members, 1)
}

func TestDistributePostCacheDownDoesNotFail(t *testing.T) {
	f := newFeedFixture(t, FeedConfig{})
	ctx := context.Background()
	u1, u2 := uuid.NewString(), uuid.NewString()
	f.befriend(t, u1, u2)
	post, err := f.store.Create(ctx, u1, "hello")
	require.NoError(t, err)

	f.mr.Close()
	assert.NoError(t, f.svc.DistributePost(ctx, post))
}
