package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultVerificationMaxAge is how long an email verification link stays valid.
const DefaultVerificationMaxAge = 3600 * time.Second

var (
	// ErrInvalidToken is the single outcome callers branch on; it always wraps
	// one of the more specific causes below.
	ErrInvalidToken = errors.New("verification token invalid or expired")

	ErrTokenMalformed = errors.New("token malformed")
	ErrTokenSignature = errors.New("token signature mismatch")
	ErrTokenExpired   = errors.New("token expired")
	ErrTokenPurpose   = errors.New("token issued for another purpose")
)

type verificationClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// VerificationCodec issues and checks signed, timestamped email tokens.
type VerificationCodec struct {
	key  []byte
	salt string
	now  func() time.Time
}

// VerificationOption customises a VerificationCodec.
type VerificationOption func(*VerificationCodec)

// WithVerificationClock injects a custom time source.
func WithVerificationClock(clock func() time.Time) VerificationOption {
	return func(c *VerificationCodec) {
		if clock != nil {
			c.now = clock
		}
	}
}

// WithVerificationSalt overrides the purpose separator.
func WithVerificationSalt(salt string) VerificationOption {
	return func(c *VerificationCodec) {
		if salt != "" {
			c.salt = salt
		}
	}
}

// NewVerificationCodec creates a codec bound to secret.
func NewVerificationCodec(secret string, opts ...VerificationOption) (*VerificationCodec, error) {
	if secret == "" {
		return nil, errors.New("verification codec: secret is required")
	}
	c := &VerificationCodec{salt: VerificationSalt, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	c.key = deriveKey(secret, c.salt)
	return c, nil
}

// Issue returns a URL-safe token binding email to the current time.
func (c *VerificationCodec) Issue(email string) (string, error) {
	claims := verificationClaims{
		Email: strings.TrimSpace(email),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(c.now()),
			Audience: jwt.ClaimStrings{c.salt},
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(c.key)
	if err != nil {
		return "", fmt.Errorf("verification codec: sign: %w", err)
	}
	return signed, nil
}

// Verify returns the email bound to token if the signature, purpose and age
// all check out. Any failure is reported as ErrInvalidToken wrapping its cause.
// A non-positive maxAge falls back to DefaultVerificationMaxAge.
func (c *VerificationCodec) Verify(tokenStr string, maxAge time.Duration) (string, error) {
	if maxAge <= 0 {
		maxAge = DefaultVerificationMaxAge
	}

	claims := &verificationClaims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(c.salt),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(c.now),
	)
	_, err := parser.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (interface{}, error) {
		return c.key, nil
	})
	if err != nil {
		return "", invalid(classify(err))
	}

	if claims.IssuedAt == nil || claims.Email == "" {
		return "", invalid(ErrTokenMalformed)
	}
	// iat has whole-second precision; compare at the same precision.
	if c.now().Truncate(time.Second).Sub(claims.IssuedAt.Time) > maxAge {
		return "", invalid(ErrTokenExpired)
	}
	return claims.Email, nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return ErrTokenSignature
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return ErrTokenPurpose
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrTokenExpired
	default:
		return ErrTokenMalformed
	}
}

func invalid(cause error) error {
	return fmt.Errorf("%w: %w", ErrInvalidToken, cause)
}
