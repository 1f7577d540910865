package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

type accessTokenClaims struct {
	jwt.RegisteredClaims
	PreferredUsername string `json:"preferred_username"`
}

// tokenValidator verifies Keycloak-issued bearer tokens against the realm's
// JWKS. Issuance stays with Keycloak.
type tokenValidator struct {
	jwks      *keyfunc.JWKS
	issuerURL string
}

func newTokenValidator(keycloakURL, realm, issuerOverride string) (*tokenValidator, error) {
	jwksURL := fmt.Sprintf("%s/realms/%s/protocol/openid-connect/certs", keycloakURL, realm)
	issuerURL := fmt.Sprintf("%s/realms/%s", keycloakURL, realm)
	if issuerOverride != "" {
		issuerURL = issuerOverride
	}

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
	return &tokenValidator{jwks: jwks, issuerURL: issuerURL}, nil
}

func (v *tokenValidator) Close() {
	v.jwks.EndBackground()
}

// requireAuth is gin middleware that rejects requests without a valid bearer
// token. A nil validator disables the check for local development.
func requireAuth(v *tokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if v == nil {
			c.Next()
			return
		}

		token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		claims := &accessTokenClaims{}
		parsed, err := jwt.ParseWithClaims(token, claims, v.jwks.Keyfunc,
			jwt.WithIssuer(v.issuerURL),
			jwt.WithExpirationRequired(),
		)
		if err != nil || !parsed.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set("user", claims.PreferredUsername)
		c.Next()
	}
}
