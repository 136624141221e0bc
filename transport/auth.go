package transport

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenSigner mints short-lived HS256 bearer tokens for backend requests.
type TokenSigner struct {
	secret  []byte
	subject string
	ttl     time.Duration
	now     func() time.Time
}

// NewTokenSigner creates a signer. A non-positive ttl defaults to five minutes.
func NewTokenSigner(secret []byte, subject string, ttl time.Duration) (*TokenSigner, error) {
	if len(secret) == 0 {
		return nil, errors.New("jwt secret must not be empty")
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &TokenSigner{secret: secret, subject: subject, ttl: ttl, now: time.Now}, nil
}

// Token returns a freshly signed token.
func (s *TokenSigner) Token() (string, error) {
	now := s.now()
	claims := jwt.MapClaims{
		"sub": s.subject,
		"iat": now.Unix(),
		"exp": now.Add(s.ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Verify parses a token minted with the same secret and returns its subject.
// Backends and tests use it to check incoming requests.
func (s *TokenSigner) Verify(tokenStr string) (string, error) {
	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", err
	}
	return token.Claims.GetSubject()
}
