package providers

import (
	"context"

	"github.com/cbodonnell/gserver/pkg/repositories/models"
)

type AuthProvider interface {
	VerifyToken(ctx context.Context, idToken string) (*TokenClaims, error)
}

type TokenClaims struct {
	UID   string `json:"uid"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// Identity returns the session identity carried by the token.
func (c *TokenClaims) Identity() *models.Identity {
	return &models.Identity{
		UserID:      c.UID,
		DisplayName: c.Name,
		Email:       c.Email,
	}
}
