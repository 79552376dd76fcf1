package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jupiterclapton/cenackle/services/social-service/internal/core/domain"
)

const (
	insertPostQuery = `INSERT INTO posts (id, user_id, text) VALUES ($1, $2, $3) RETURNING created_at, updated_at`

	updatePostQuery = `UPDATE posts SET text = $1, updated_at = NOW() WHERE user_id = $2 AND id = $3
		RETURNING id, user_id, text, created_at, updated_at`

	deletePostQuery = `DELETE FROM posts WHERE user_id = $1 AND id = $2`

	selectPostQuery = `SELECT id, user_id, text, created_at, updated_at FROM posts WHERE id = $1`

	selectPostsByIDsQuery = `SELECT id, user_id, text, created_at, updated_at FROM posts WHERE id = ANY($1)`

	// Auteurs suivis par le viewer : l'autre côté d'une amitié acceptée,
	// ou la cible d'un abonnement initié par le viewer.
	feedPageQuery = `
		SELECT p.id, p.user_id, p.text, p.created_at, p.updated_at
		FROM (
			SELECT friend_id AS author_id FROM friends
			WHERE initiator_id = $1 AND status IN ('accepted', 'subscriber')
			UNION
			SELECT initiator_id FROM friends
			WHERE friend_id = $1 AND status = 'accepted'
		) c
		JOIN posts p ON p.user_id = c.author_id
		ORDER BY p.created_at DESC, p.id DESC
		LIMIT $2 OFFSET $3`
)

type PostgresPostRepo struct {
	db Pools
}

func NewPostgresPostRepo(db Pools) *PostgresPostRepo {
	return &PostgresPostRepo{db: db}
}

// Create : l'identité est générée ici, les timestamps par la DB
func (r *PostgresPostRepo) Create(ctx context.Context, authorID, text string) (*domain.Post, error) {
	post := &domain.Post{
		ID:       uuid.NewString(),
		AuthorID: authorID,
		Text:     text,
	}
	err := r.db.Primary.QueryRow(ctx, insertPostQuery, post.ID, authorID, text).Scan(&post.CreatedAt, &post.UpdatedAt)
	if err != nil {
		return nil, storageError("create post", err)
	}
	return post, nil
}

func (r *PostgresPostRepo) Update(ctx context.Context, authorID, postID, text string) (*domain.Post, error) {
	if !validID(postID) || !validID(authorID) {
		return nil, domain.ErrNotUpdated
	}
	post, err := scanPost(r.db.Primary.QueryRow(ctx, updatePostQuery, text, authorID, postID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotUpdated
		}
		return nil, storageError("update post", err)
	}
	return post, nil
}

func (r *PostgresPostRepo) Delete(ctx context.Context, authorID, postID string) error {
	if !validID(postID) || !validID(authorID) {
		return domain.ErrNotUpdated
	}
	tag, err := r.db.Primary.Exec(ctx, deletePostQuery, authorID, postID)
	if err != nil {
		return storageError("delete post", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotUpdated
	}
	return nil
}

func (r *PostgresPostRepo) Get(ctx context.Context, postID string) (*domain.Post, error) {
	if !validID(postID) {
		return nil, domain.ErrPostNotFound
	}
	post, err := scanPost(r.db.reader().QueryRow(ctx, selectPostQuery, postID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrPostNotFound
		}
		return nil, storageError("get post", err)
	}
	return post, nil
}

// GetMany : BATCH FETCH (Hydratation Feed), WHERE id = ANY($1)
func (r *PostgresPostRepo) GetMany(ctx context.Context, postIDs []string) ([]*domain.Post, error) {
	ids := make([]string, 0, len(postIDs))
	for _, id := range postIDs {
		if validID(id) {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return []*domain.Post{}, nil
	}

	rows, err := r.db.reader().Query(ctx, selectPostsByIDsQuery, ids)
	if err != nil {
		return nil, storageError("get posts", err)
	}
	return collectPosts(rows, "get posts")
}

func (r *PostgresPostRepo) FeedPage(ctx context.Context, viewerID string, limit, offset int64) ([]*domain.Post, error) {
	req := domain.FeedRequest{ViewerID: viewerID, Limit: limit, Offset: offset}.Normalize()
	if !validID(viewerID) {
		return []*domain.Post{}, nil
	}

	rows, err := r.db.reader().Query(ctx, feedPageQuery, req.ViewerID, req.Limit, req.Offset)
	if err != nil {
		return nil, storageError("feed page", err)
	}
	return collectPosts(rows, "feed page")
}

// --- Helpers ---

func scanPost(row pgx.Row) (*domain.Post, error) {
	var p domain.Post
	if err := row.Scan(&p.ID, &p.AuthorID, &p.Text, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func collectPosts(rows pgx.Rows, op string) ([]*domain.Post, error) {
	defer rows.Close()

	posts := make([]*domain.Post, 0)
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, storageError(op, err)
		}
		posts = append(posts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError(op, err)
	}
	return posts, nil
}

// validID évite un aller-retour DB (et une erreur de cast uuid) pour un ID malformé
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
