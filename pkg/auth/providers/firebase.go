package providers

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go"
	"firebase.google.com/go/auth"
)

var _ AuthProvider = &FirebaseAuthProvider{}

type FirebaseAuthProvider struct {
	// auth is the Firebase Auth client
	auth *auth.Client
}

// NewFirebaseAuthProvider creates a new FirebaseAuthProvider from an initialized app
func NewFirebaseAuthProvider(ctx context.Context, app *firebase.App) (*FirebaseAuthProvider, error) {
	auth, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting Auth client: %v", err)
	}

	return &FirebaseAuthProvider{
		auth: auth,
	}, nil
}

// VerifyToken verifies a Firebase ID token
func (p *FirebaseAuthProvider) VerifyToken(ctx context.Context, idToken string) (*TokenClaims, error) {
	token, err := p.auth.VerifyIDToken(ctx, idToken)
	if err != nil {
		return nil, fmt.Errorf("error verifying token: %v", err)
	}

	claims := &TokenClaims{
		UID: token.UID,
	}
	if email, ok := token.Claims["email"].(string); ok {
		claims.Email = email
	}
	if name, ok := token.Claims["name"].(string); ok {
		claims.Name = name
	}
	return claims, nil
}
