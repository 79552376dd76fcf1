package domain

import "time"

// RelationStatus est l'état d'une arête dirigée initiator -> other.
// L'absence de ligne correspond à l'état "none".
type RelationStatus string

const (
	StatusPending    RelationStatus = "pending"    // A a demandé B
	StatusAccepted   RelationStatus = "accepted"   // amitié mutuelle
	StatusSubscriber RelationStatus = "subscriber" // initiator suit other (ex-ami)
	StatusBlocked    RelationStatus = "blocked"    // initiator a bloqué other
)

// Relationship représente l'unique arête entre deux utilisateurs.
type Relationship struct {
	InitiatorID string
	OtherID     string
	Status      RelationStatus
	UpdatedAt   time.Time
}

// FriendshipCreateResult classe le résultat d'un Add. Ce ne sont pas des erreurs.
type FriendshipCreateResult int

const (
	FriendshipRequestSent FriendshipCreateResult = iota + 1
	FriendshipAccepted
	FriendshipAlreadyExists
)

func (r FriendshipCreateResult) String() string {
	switch r {
	case FriendshipRequestSent:
		return "request_sent"
	case FriendshipAccepted:
		return "accepted"
	case FriendshipAlreadyExists:
		return "already_exists"
	}
	return "unknown"
}

// FriendshipEndResult classe le résultat d'un End.
type FriendshipEndResult int

const (
	FriendshipSubscribed FriendshipEndResult = iota + 1
	FriendshipBlocked
	FriendshipNotInFriendship
)

func (r FriendshipEndResult) String() string {
	switch r {
	case FriendshipSubscribed:
		return "subscribed"
	case FriendshipBlocked:
		return "blocked"
	case FriendshipNotInFriendship:
		return "not_in_friendship"
	}
	return "unknown"
}
