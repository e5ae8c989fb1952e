package auth

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// AccessTokenPayload captures the data available when minting a JWT.
type AccessTokenPayload struct {
	PersonID    uuid.UUID
	IsOrganizer bool
	JTI         string
}

// AccessTokenClaims represents the typed JWT issued to clients.
type AccessTokenClaims struct {
	PersonID    uuid.UUID `json:"person_id"`
	IsOrganizer bool      `json:"is_organizer,omitempty"`
	jwt.RegisteredClaims
}
