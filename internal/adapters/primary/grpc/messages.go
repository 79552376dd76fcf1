package grpc

import (
	"time"

	"github.com/jupiterclapton/cenackle/services/social-service/internal/core/domain"
)

// user_id est l'appelant déjà authentifié par la couche d'accès

type Post struct {
	ID        string    `json:"id"`
	AuthorID  string    `json:"author_id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Empty struct{}

type CreatePostRequest struct {
	UserID string `json:"user_id"`
	Text   string `json:"text"`
}

type UpdatePostRequest struct {
	UserID string `json:"user_id"`
	PostID string `json:"post_id"`
	Text   string `json:"text"`
}

type DeletePostRequest struct {
	UserID string `json:"user_id"`
	PostID string `json:"post_id"`
}

type GetPostRequest struct {
	PostID string `json:"post_id"`
}

type PostResponse struct {
	Post *Post `json:"post"`
}

type GetFeedRequest struct {
	UserID string `json:"user_id"`
	Limit  int64  `json:"limit"`
	Offset int64  `json:"offset"`
}

type GetFeedResponse struct {
	Posts []*Post `json:"posts"`
}

type AddFriendRequest struct {
	UserID  string `json:"user_id"`
	OtherID string `json:"other_id"`
}

type EndFriendshipRequest struct {
	UserID  string `json:"user_id"`
	OtherID string `json:"other_id"`
	Block   bool   `json:"block"`
}

// FriendshipResponse.Result : request_sent, accepted, already_exists, subscribed, blocked, not_in_friendship
type FriendshipResponse struct {
	Result string `json:"result"`
}

type GetRelationshipRequest struct {
	UserID  string `json:"user_id"`
	OtherID string `json:"other_id"`
}

type RelationshipResponse struct {
	InitiatorID string    `json:"initiator_id"`
	OtherID     string    `json:"other_id"`
	Status      string    `json:"status"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type GetFollowersRequest struct {
	UserID string `json:"user_id"`
}

type GetFollowersResponse struct {
	UserIDs []string `json:"user_ids"`
}

// --- HELPERS (Mappers) ---

func mapDomainToPost(p *domain.Post) *Post {
	return &Post{
		ID:        p.ID,
		AuthorID:  p.AuthorID,
		Text:      p.Text,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
}
