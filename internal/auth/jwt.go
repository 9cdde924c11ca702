package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/isdelr/access-panel-be/internal/models"
	"github.com/rs/zerolog/log"
)

// SessionCookieName is the cookie carrying the session token.
const SessionCookieName = "token"

// DefaultSessionDuration bounds how long a login stays valid.
const DefaultSessionDuration = 24 * time.Hour

// Claims defines the JWT claims structure.
type Claims struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

type contextKey string

// UserClaimsKey is the context key for user claims.
const UserClaimsKey = contextKey("userClaims")

// SessionManager mints and checks the session tokens handed out at login.
type SessionManager struct {
	key      []byte
	duration time.Duration
	now      func() time.Time
}

// NewSessionManager creates a session manager signing with a key derived from secret.
func NewSessionManager(secret string, duration time.Duration) (*SessionManager, error) {
	if secret == "" {
		return nil, errors.New("session manager: secret is required")
	}
	if duration <= 0 {
		duration = DefaultSessionDuration
	}
	return &SessionManager{key: deriveKey(secret, SessionSalt), duration: duration, now: time.Now}, nil
}

// Duration returns the session lifetime.
func (m *SessionManager) Duration() time.Duration {
	return m.duration
}

// GenerateJWT creates a new JWT for a given user.
func (m *SessionManager) GenerateJWT(user models.User) (string, error) {
	now := m.now()
	claims := &Claims{
		UserID:   user.ID,
		Username: user.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.duration)),
			Audience:  jwt.ClaimStrings{SessionSalt},
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.key)
}

// ValidateJWT parses and validates a JWT string.
func (m *SessionManager) ValidateJWT(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		return m.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(SessionSalt),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

// ClaimsFromContext returns the claims stored by JWTMiddleware.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(UserClaimsKey).(*Claims)
	return claims, ok
}

// JWTMiddleware creates a middleware for protecting routes.
func (m *SessionManager) JWTMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var tokenStr string

			// Bearer header first, then the session cookie.
			if authHeader := r.Header.Get("Authorization"); authHeader != "" {
				if after, ok := strings.CutPrefix(authHeader, "Bearer "); ok {
					tokenStr = after
				}
			}
			if tokenStr == "" {
				if cookie, err := r.Cookie(SessionCookieName); err == nil {
					tokenStr = cookie.Value
				}
			}
			if tokenStr == "" {
				http.Error(w, "Missing auth token", http.StatusUnauthorized)
				return
			}

			claims, err := m.ValidateJWT(tokenStr)
			if err != nil {
				log.Debug().Err(err).Msg("Rejected session token")
				http.Error(w, "Invalid auth token", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), UserClaimsKey, claims)
			log.Debug().Str("username", claims.Username).Str("user_id", claims.UserID).Msg("Authenticated request")
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
