package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid terminal token")

// Claims identify the terminal and cashier a backend write comes from.
type Claims struct {
	TerminalID string `json:"terminal_id"`
	CashierID  string `json:"cashier_id"`
	jwt.RegisteredClaims
}

// Signer issues short-lived HS256 tokens for calls to the authoritative backend.
type Signer struct {
	secret     []byte
	terminalID string
	cashierID  string
	ttl        time.Duration
	now        func() time.Time
}

func NewSigner(secret, terminalID, cashierID string) *Signer {
	return &Signer{
		secret:     []byte(secret),
		terminalID: terminalID,
		cashierID:  cashierID,
		ttl:        5 * time.Minute,
		now:        time.Now,
	}
}

func (s *Signer) Sign() (string, error) {
	now := s.now()
	claims := Claims{
		TerminalID: s.terminalID,
		CashierID:  s.cashierID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   s.terminalID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign terminal token: %w", err)
	}
	return token, nil
}

// Authorize sets the bearer header. With no secret configured the request is left untouched.
func (s *Signer) Authorize(req *http.Request) error {
	if s == nil || len(s.secret) == 0 {
		return nil
	}
	token, err := s.Sign()
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}

// Parse validates a token produced by a Signer sharing the same secret.
func Parse(tokenString, secret string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims, nil
}

func ExtractAccessToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	return ""
}
