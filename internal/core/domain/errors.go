package domain

import (
	"errors"
	"fmt"
)

// --- ERREURS DU DOMAINE ---
var (
	// ErrStorage : échec de connexion ou de requête sur le store relationnel.
	ErrStorage = errors.New("storage error")
	// ErrPool : impossible d'obtenir une connexion du pool (épuisement, timeout, pool fermé).
	ErrPool = errors.New("pool error")
	// ErrIllegalState : précondition métier violée (ex: s'ajouter soi-même en ami).
	ErrIllegalState = errors.New("illegal state")

	ErrNotFound = errors.New("not found")
)

// ErrPostNotFound et ErrNotUpdated restent comparables à ErrNotFound via errors.Is.
var (
	ErrPostNotFound = fmt.Errorf("post %w", ErrNotFound)

	// ErrNotUpdated est renvoyée par Update/Delete quand aucune ligne ne correspond
	// à (auteur, post). Un post d'un autre auteur donne exactement la même erreur.
	ErrNotUpdated = fmt.Errorf("not updated: %w", ErrNotFound)

	ErrRelationshipNotFound = fmt.Errorf("relationship %w", ErrNotFound)

	// ErrInvalidID : identifiant qui n'est pas un UUID, rejeté comme ErrIllegalState.
	ErrInvalidID = fmt.Errorf("invalid id: %w", ErrIllegalState)
)
