package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	mcpauth "github.com/modelcontextprotocol/go-sdk/auth"
)

// noExpiry stands in for the expiration of tokens signed without one.
const noExpiry = 100 * 365 * 24 * time.Hour

var (
	// ErrMissingToken is returned when a protected route has no bearer token.
	ErrMissingToken = errors.New("missing or invalid token")
	// ErrInvalidClaims is returned when a valid token names no owner.
	ErrInvalidClaims = errors.New("invalid token claims")
	// ErrForbidden is returned when the caller does not own the bot.
	ErrForbidden = errors.New("bot belongs to another owner")
)

type ownerKey struct{}

// Claims are the JWT claims the API reads. The owner comes from owner_id,
// falling back to the standard subject.
type Claims struct {
	OwnerID string `json:"owner_id,omitempty"`
	jwt.RegisteredClaims
}

func (c *Claims) owner() string {
	if c.OwnerID != "" {
		return c.OwnerID
	}
	return c.Subject
}

// Authenticator validates HS256 bearer tokens. A zero secret disables
// authentication.
type Authenticator struct {
	secret []byte
}

// NewAuthenticator returns an authenticator for secret.
func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

// Enabled reports whether tokens are required.
func (a *Authenticator) Enabled() bool {
	return a != nil && len(a.secret) > 0
}

// Middleware rejects requests without a valid token and stores the owner
// in the request context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	if !a.Enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			writeError(w, http.StatusUnauthorized, ErrMissingToken)
			return
		}

		claims, err := a.parse(strings.TrimPrefix(auth, "Bearer "))
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}

		ctx := context.WithValue(r.Context(), ownerKey{}, claims.owner())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *Authenticator) parse(raw string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return nil, ErrMissingToken
	}
	if claims.owner() == "" {
		return nil, ErrInvalidClaims
	}
	return claims, nil
}

// VerifyToken adapts the authenticator to the MCP transport's bearer
// check. The owner becomes the token's UserID.
func (a *Authenticator) VerifyToken(_ context.Context, token string, _ *http.Request) (*mcpauth.TokenInfo, error) {
	claims, err := a.parse(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", mcpauth.ErrInvalidToken, err)
	}
	expires := time.Now().Add(noExpiry)
	if claims.ExpiresAt != nil {
		expires = claims.ExpiresAt.Time
	}
	return &mcpauth.TokenInfo{UserID: claims.owner(), Expiration: expires}, nil
}

// Sign issues a token for ownerID. Used by operators and tests.
func (a *Authenticator) Sign(ownerID string, claims jwt.RegisteredClaims) (string, error) {
	claims.Subject = ownerID
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{OwnerID: ownerID, RegisteredClaims: claims})
	return tok.SignedString(a.secret)
}

// OwnerFromContext returns the authenticated owner, if any.
func OwnerFromContext(ctx context.Context) (string, bool) {
	owner, ok := ctx.Value(ownerKey{}).(string)
	return owner, ok && owner != ""
}
