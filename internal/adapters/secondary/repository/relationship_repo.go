package repository

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"github.com/jupiterclapton/cenackle/services/social-service/internal/core/domain"
)

const (
	// Followers : l'autre côté d'une amitié acceptée + les abonnés (initiator d'un 'subscriber')
	followerIDsQuery = `
		SELECT initiator_id FROM friends WHERE friend_id = $1 AND status IN ('accepted', 'subscriber')
		UNION
		SELECT friend_id FROM friends WHERE initiator_id = $1 AND status = 'accepted'`

	// $1 = l'autre (auteur de la demande en attente), $2 = celui qui ajoute
	acceptReciprocalQuery = `UPDATE friends SET status = 'accepted', updated_at = NOW()
		WHERE initiator_id = $1 AND friend_id = $2 AND status IN ('pending', 'subscriber')`

	// Sans cible de conflit : couvre la PK et l'index unique de paire non ordonnée
	insertPendingQuery = `INSERT INTO friends (initiator_id, friend_id, status) VALUES ($1, $2, 'pending')
		ON CONFLICT DO NOTHING`

	// L'autre partie ($2) devient l'initiator de l'abonnement à sens unique
	subscribeQuery = `UPDATE friends SET status = 'subscriber', initiator_id = $2, friend_id = $1, updated_at = NOW()
		WHERE (status = 'accepted' AND ((initiator_id = $1 AND friend_id = $2) OR (initiator_id = $2 AND friend_id = $1)))
		   OR (status = 'pending' AND initiator_id = $2 AND friend_id = $1)`

	// Re-bloquer par le même user réécrit les mêmes valeurs ; un blocage de l'autre côté est conservé
	blockQuery = `UPDATE friends SET status = 'blocked', initiator_id = $1, friend_id = $2, updated_at = NOW()
		WHERE ((initiator_id = $1 AND friend_id = $2) OR (initiator_id = $2 AND friend_id = $1))
		  AND (status <> 'blocked' OR initiator_id = $1)`

	selectRelationshipQuery = `SELECT initiator_id, friend_id, status, updated_at FROM friends
		WHERE (initiator_id = $1 AND friend_id = $2) OR (initiator_id = $2 AND friend_id = $1)
		LIMIT 1`
)

type PostgresRelationshipRepo struct {
	db Pools
}

func NewPostgresRelationshipRepo(db Pools) *PostgresRelationshipRepo {
	return &PostgresRelationshipRepo{db: db}
}

func (r *PostgresRelationshipRepo) GetFollowerIDs(ctx context.Context, userID string) ([]string, error) {
	if !validID(userID) {
		return []string{}, nil
	}
	rows, err := r.db.reader().Query(ctx, followerIDsQuery, userID)
	if err != nil {
		return nil, storageError("follower ids", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, storageError("follower ids", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("follower ids", err)
	}
	return ids, nil
}

// AddFriend : check-then-act dans une seule transaction.
// L'UPDATE conditionnel pose un verrou de ligne, l'INSERT est protégé par l'index unique.
func (r *PostgresRelationshipRepo) AddFriend(ctx context.Context, initiatorID, otherID string) (domain.FriendshipCreateResult, error) {
	tx, err := r.db.Primary.Begin(ctx)
	if err != nil {
		return 0, storageError("begin add friend", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, acceptReciprocalQuery, otherID, initiatorID)
	if err != nil {
		return 0, storageError("accept friend", err)
	}
	if tag.RowsAffected() > 0 {
		if err := tx.Commit(ctx); err != nil {
			return 0, storageError("commit add friend", err)
		}
		slog.Debug("Friendship request accepted", "initiator_id", initiatorID, "other_id", otherID)
		return domain.FriendshipAccepted, nil
	}

	tag, err = tx.Exec(ctx, insertPendingQuery, initiatorID, otherID)
	if err != nil {
		return 0, storageError("insert friend request", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, storageError("commit add friend", err)
	}

	if tag.RowsAffected() > 0 {
		slog.Debug("Friendship request added", "initiator_id", initiatorID, "other_id", otherID)
		return domain.FriendshipRequestSent, nil
	}
	slog.Debug("Friendship already exists", "initiator_id", initiatorID, "other_id", otherID)
	return domain.FriendshipAlreadyExists, nil
}

func (r *PostgresRelationshipRepo) EndFriendship(ctx context.Context, initiatorID, otherID string, block bool) (domain.FriendshipEndResult, error) {
	query, outcome := subscribeQuery, domain.FriendshipSubscribed
	if block {
		query, outcome = blockQuery, domain.FriendshipBlocked
	}

	tag, err := r.db.Primary.Exec(ctx, query, initiatorID, otherID)
	if err != nil {
		return 0, storageError("end friendship", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.FriendshipNotInFriendship, nil
	}
	return outcome, nil
}

func (r *PostgresRelationshipRepo) GetRelationship(ctx context.Context, a, b string) (*domain.Relationship, error) {
	var rel domain.Relationship
	var status string
	err := r.db.Primary.QueryRow(ctx, selectRelationshipQuery, a, b).Scan(&rel.InitiatorID, &rel.OtherID, &status, &rel.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrRelationshipNotFound
		}
		return nil, storageError("get relationship", err)
	}
	rel.Status = domain.RelationStatus(status)
	return &rel, nil
}
