package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jupiterclapton/cenackle/services/social-service/internal/core/domain"
)

// memStore est un store en mémoire avec la même sémantique que les repos Postgres.
type memStore struct {
	mu    sync.Mutex
	posts map[string]*domain.Post
	edges map[[2]string]*domain.Relationship // clé = paire ordonnée
	clock time.Time

	feedPageCalls int
}

func newMemStore() *memStore {
	return &memStore{
		posts: map[string]*domain.Post{},
		edges: map[[2]string]*domain.Relationship{},
		clock: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
	}
}

func pairKey(a, b string) [2]string {
	if a < b {
		return [2]string{a, b}
	}
	return [2]string{b, a}
}

func (m *memStore) now() time.Time {
	m.clock = m.clock.Add(time.Second)
	return m.clock
}

func (m *memStore) Create(_ context.Context, authorID, text string) (*domain.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ts := m.now()
	p := &domain.Post{ID: uuid.NewString(), AuthorID: authorID, Text: text, CreatedAt: ts, UpdatedAt: ts}
	m.posts[p.ID] = p
	cp := *p
	return &cp, nil
}

func (m *memStore) Update(_ context.Context, authorID, postID, text string) (*domain.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.posts[postID]
	if !ok || p.AuthorID != authorID {
		return nil, domain.ErrNotUpdated
	}
	p.Text = text
	p.UpdatedAt = m.now()
	cp := *p
	return &cp, nil
}

func (m *memStore) Delete(_ context.Context, authorID, postID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.posts[postID]
	if !ok || p.AuthorID != authorID {
		return domain.ErrNotUpdated
	}
	delete(m.posts, postID)
	return nil
}

func (m *memStore) Get(_ context.Context, postID string) (*domain.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.posts[postID]
	if !ok {
		return nil, domain.ErrPostNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memStore) GetMany(_ context.Context, postIDs []string) ([]*domain.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Post
	for _, id := range postIDs {
		if p, ok := m.posts[id]; ok {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memStore) FeedPage(_ context.Context, viewerID string, limit, offset int64) ([]*domain.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.feedPageCalls++

	var out []*domain.Post
	for _, p := range m.posts {
		if m.follows(viewerID, p.AuthorID) {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if offset >= int64(len(out)) {
		return []*domain.Post{}, nil
	}
	return out[offset:min(offset+limit, int64(len(out)))], nil
}

// follows : viewer reçoit les posts de author
func (m *memStore) follows(viewer, author string) bool {
	e, ok := m.edges[pairKey(viewer, author)]
	if !ok {
		return false
	}
	switch e.Status {
	case domain.StatusAccepted:
		return true
	case domain.StatusSubscriber:
		return e.InitiatorID == viewer
	}
	return false
}

func (m *memStore) GetFollowerIDs(_ context.Context, userID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for k := range m.edges {
		other := k[0]
		if other == userID {
			other = k[1]
		} else if k[1] != userID {
			continue
		}
		if m.follows(other, userID) {
			out = append(out, other)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *memStore) AddFriend(_ context.Context, initiatorID, otherID string) (domain.FriendshipCreateResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := pairKey(initiatorID, otherID)
	e, ok := m.edges[key]
	if !ok {
		m.edges[key] = &domain.Relationship{InitiatorID: initiatorID, OtherID: otherID, Status: domain.StatusPending, UpdatedAt: m.now()}
		return domain.FriendshipRequestSent, nil
	}
	if e.InitiatorID == otherID && (e.Status == domain.StatusPending || e.Status == domain.StatusSubscriber) {
		e.Status = domain.StatusAccepted
		e.UpdatedAt = m.now()
		return domain.FriendshipAccepted, nil
	}
	return domain.FriendshipAlreadyExists, nil
}

func (m *memStore) EndFriendship(_ context.Context, initiatorID, otherID string, block bool) (domain.FriendshipEndResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.edges[pairKey(initiatorID, otherID)]
	if !ok {
		return domain.FriendshipNotInFriendship, nil
	}
	if block {
		if e.Status == domain.StatusBlocked && e.InitiatorID == otherID {
			return domain.FriendshipNotInFriendship, nil
		}
		e.InitiatorID, e.OtherID, e.Status = initiatorID, otherID, domain.StatusBlocked
		return domain.FriendshipBlocked, nil
	}
	if e.Status == domain.StatusAccepted || (e.Status == domain.StatusPending && e.InitiatorID == otherID) {
		e.InitiatorID, e.OtherID, e.Status = otherID, initiatorID, domain.StatusSubscriber
		return domain.FriendshipSubscribed, nil
	}
	return domain.FriendshipNotInFriendship, nil
}

func (m *memStore) GetRelationship(_ context.Context, a, b string) (*domain.Relationship, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.edges[pairKey(a, b)]
	if !ok {
		return nil, domain.ErrRelationshipNotFound
	}
	cp := *e
	return &cp, nil
}

// mockPublisher enregistre les subjects publiés
type mockPublisher struct {
	mu     sync.Mutex
	events []string
	err    error
}

func (p *mockPublisher) record(name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, name)
	return p.err
}

func (p *mockPublisher) PublishPostCreated(context.Context, *domain.Post) error {
	return p.record("post.created")
}

func (p *mockPublisher) PublishPostUpdated(context.Context, *domain.Post) error {
	return p.record("post.updated")
}

func (p *mockPublisher) PublishPostDeleted(context.Context, string, string) error {
	return p.record("post.deleted")
}

func (p *mockPublisher) PublishFriendshipChanged(_ context.Context, _, _, outcome string) error {
	return p.record("friendship." + outcome)
}

// mockRelations : repository à fonctions injectables
type mockRelations struct {
	followersFn func(userID string) ([]string, error)
	addFn       func(a, b string) (domain.FriendshipCreateResult, error)
	endFn       func(a, b string, block bool) (domain.FriendshipEndResult, error)
	getFn       func(a, b string) (*domain.Relationship, error)
}

func (m *mockRelations) GetFollowerIDs(_ context.Context, userID string) ([]string, error) {
	return m.followersFn(userID)
}

func (m *mockRelations) AddFriend(_ context.Context, a, b string) (domain.FriendshipCreateResult, error) {
	return m.addFn(a, b)
}

func (m *mockRelations) EndFriendship(_ context.Context, a, b string, block bool) (domain.FriendshipEndResult, error) {
	return m.endFn(a, b, block)
}

func (m *mockRelations) GetRelationship(_ context.Context, a, b string) (*domain.Relationship, error) {
	return m.getFn(a, b)
}
