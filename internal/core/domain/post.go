package domain

import "time"

const (
	// DefaultPageSize est la taille de page quand l'appelant ne fixe pas de limite.
	DefaultPageSize = 100
	// MaxPageSize : protection, une page plus grande est ramenée à cette taille
	MaxPageSize = 1000
)

// Post est possédé par son auteur : seul lui peut le modifier ou le supprimer.
// Les tags JSON servent uniquement à la sérialisation dans le cache.
type Post struct {
	ID        string    `json:"id"`
	AuthorID  string    `json:"author_id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FeedRequest encapsule les critères de pagination du feed
type FeedRequest struct {
	ViewerID string
	Limit    int64
	Offset   int64
}

// Normalize applique les valeurs par défaut (limit=100, offset=0) et borne limit à MaxPageSize.
func (r FeedRequest) Normalize() FeedRequest {
	if r.Limit <= 0 {
		r.Limit = DefaultPageSize
	}
	if r.Limit > MaxPageSize {
		r.Limit = MaxPageSize
	}
	if r.Offset < 0 {
		r.Offset = 0
	}
	return r
}
