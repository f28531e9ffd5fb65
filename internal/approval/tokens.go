package approval

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"radar-engine/internal/notify"
)

var ErrInvalidToken = errors.New("invalid or expired action token")

type actionClaims struct {
	Fingerprint string `json:"fp"`
	Action      string `json:"act"`
	jwt.RegisteredClaims
}

// TokenSigner issues and checks HS256 tokens that authorize one action on
// one candidate. It is the notify.TokenIssuer used for links and email replies.
type TokenSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenSigner(secret string, ttl time.Duration) (*TokenSigner, error) {
	if len(secret) < 16 {
		return nil, errors.New("token secret must be at least 16 bytes")
	}
	if ttl <= 0 {
		ttl = 72 * time.Hour
	}
	return &TokenSigner{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

func (s *TokenSigner) SetClock(now func() time.Time) { s.now = now }

func (s *TokenSigner) Issue(fingerprint, action string) (string, error) {
	now := s.now()
	claims := actionClaims{
		Fingerprint: fingerprint,
		Action:      action,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "radar",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Verify returns the candidate and action a token authorizes.
func (s *TokenSigner) Verify(token string) (fingerprint, action string, err error) {
	var claims actionClaims
	_, err = jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer("radar"),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	switch claims.Action {
	case notify.ActionApprove, notify.ActionEdit, notify.ActionSkip:
	default:
		return "", "", fmt.Errorf("%w: unknown action %q", ErrInvalidToken, claims.Action)
	}
	if claims.Fingerprint == "" {
		return "", "", fmt.Errorf("%w: no candidate", ErrInvalidToken)
	}
	return claims.Fingerprint, claims.Action, nil
}
