package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
)

// KeycloakClaims are the claims the gateway cares about from an access token.
type KeycloakClaims struct {
	PreferredUsername string `json:"preferred_username"`
	Email             string `json:"email"`
}

type keycloakTokenClaims struct {
	jwt.RegisteredClaims
	PreferredUsername string `json:"preferred_username"`
	Email             string `json:"email"`
}

// KeycloakValidator validates Keycloak-issued JWTs against the realm's JWKS.
// Token issuance stays with Keycloak; the gateway only verifies.
type KeycloakValidator struct {
	jwks      *keyfunc.JWKS
	issuerURL string
}

// NewKeycloakValidator fetches and caches the realm's JWKS, retrying while
// Keycloak may still be starting. If issuerOverride is non-empty it replaces
// the issuer derived from keycloakURL (the browser-facing URL can differ
// from the internal one).
func NewKeycloakValidator(keycloakURL, realm, issuerOverride string) (*KeycloakValidator, error) {
	jwksURL := fmt.Sprintf("%s/realms/%s/protocol/openid-connect/certs", keycloakURL, realm)
	issuerURL := fmt.Sprintf("%s/realms/%s", keycloakURL, realm)
	if issuerOverride != "" {
		issuerURL = issuerOverride
	}

	slog.Info("Initializing Keycloak JWKS validator", "jwks_url", jwksURL)

	var jwks *keyfunc.JWKS
	var err error
	for attempt := 1; attempt <= 30; attempt++ {
		jwks, err = keyfunc.Get(jwksURL, keyfunc.Options{
			Ctx:                 context.Background(),
			RefreshInterval:     5 * time.Minute,
			RefreshRateLimit:    1 * time.Minute,
			RefreshUnknownKID:   true,
			RefreshErrorHandler: func(err error) { slog.Error("JWKS refresh error", "error", err) },
		})
		if err == nil {
			break
		}
		slog.Info("Waiting for Keycloak JWKS", "attempt", attempt, "error", err)
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch Keycloak JWKS after retries: %w", err)
	}

	return &KeycloakValidator{jwks: jwks, issuerURL: issuerURL}, nil
}

// ValidateToken parses and validates an access token.
func (v *KeycloakValidator) ValidateToken(tokenString string) (*KeycloakClaims, error) {
	claims := &keycloakTokenClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, v.jwks.Keyfunc,
		jwt.WithIssuer(v.issuerURL),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("token validation failed: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("token is not valid")
	}

	return &KeycloakClaims{
		PreferredUsername: claims.PreferredUsername,
		Email:             claims.Email,
	}, nil
}

// Close stops the JWKS background refresh.
func (v *KeycloakValidator) Close() {
	v.jwks.EndBackground()
}
