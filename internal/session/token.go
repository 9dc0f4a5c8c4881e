package session

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const tokenAudience = "background-remover"

var ErrInvalidToken = errors.New("invalid session token")

// TokenSigner issues and verifies the HS256 session cookie. The subject claim
// carries the session identifier.
type TokenSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenSigner(secret string, ttl time.Duration) *TokenSigner {
	return &TokenSigner{secret: []byte(strings.TrimSpace(secret)), ttl: ttl, now: time.Now}
}

// Issue signs a token for sessionID.
func (s *TokenSigner) Issue(sessionID string) (string, error) {
	if len(s.secret) == 0 {
		return "", errors.New("missing session secret")
	}
	now := s.now()
	claims := jwt.RegisteredClaims{
		Subject:   sessionID,
		Audience:  jwt.ClaimStrings{tokenAudience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Claims is the verified content of a session token.
type Claims struct {
	SessionID string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Parse verifies tokenString and returns its session identifier.
func (s *TokenSigner) Parse(tokenString string) (string, error) {
	claims, err := s.Verify(tokenString)
	if err != nil {
		return "", err
	}
	return claims.SessionID, nil
}

// NeedsRefresh reports whether claims are past half their lifetime, so an
// active session gets a fresh token before it expires.
func (s *TokenSigner) NeedsRefresh(claims Claims) bool {
	if claims.IssuedAt.IsZero() || claims.ExpiresAt.IsZero() {
		return true
	}
	half := claims.ExpiresAt.Sub(claims.IssuedAt) / 2
	return !s.now().Before(claims.IssuedAt.Add(half))
}

// Verify checks tokenString and returns its claims.
func (s *TokenSigner) Verify(tokenString string) (Claims, error) {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" || len(s.secret) == 0 {
		return Claims{}, ErrInvalidToken
	}

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.secret, nil
	}, jwt.WithAudience(tokenAudience), jwt.WithTimeFunc(s.now))
	if err != nil || !token.Valid {
		return Claims{}, ErrInvalidToken
	}
	if claims.Subject == "" {
		return Claims{}, ErrInvalidToken
	}

	out := Claims{SessionID: claims.Subject}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
	}
	return out, nil
}
