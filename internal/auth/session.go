package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidSession = errors.New("invalid or expired session")
	ErrMissingSession = errors.New("session token required")
)

// SessionManager mints and verifies signed viewer sessions.
// A session binds a participant name to one receipt so that status
// polls can report the viewer's own totals without re-prompting.
type SessionManager struct {
	secretKey []byte
	ttl       time.Duration
}

// SessionClaims represents the custom JWT claims for a viewer session.
type SessionClaims struct {
	ReceiptID string `json:"receipt_id"`
	Name      string `json:"name"`
	jwt.RegisteredClaims
}

// NewSessionManager creates a new session manager with the given secret and TTL.
// secretKey should be a strong random string (e.g., 32 bytes).
// ttl is how long sessions remain valid (e.g., 72 hours).
func NewSessionManager(secretKey string, ttl time.Duration) *SessionManager {
	return &SessionManager{
		secretKey: []byte(secretKey),
		ttl:       ttl,
	}
}

// Issue creates a session token binding a viewer name to a receipt.
func (m *SessionManager) Issue(receiptID, name string) (string, error) {
	claims := &SessionClaims{
		ReceiptID: receiptID,
		Name:      name,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(m.ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(m.secretKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}

	return tokenString, nil
}

// Verify parses and validates a session token, returning the claims if valid.
func (m *SessionManager) Verify(tokenString string) (*SessionClaims, error) {
	token, err := jwt.ParseWithClaims(
		tokenString,
		&SessionClaims{},
		func(token *jwt.Token) (interface{}, error) {
			// Verify the signing method
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return m.secretKey, nil
		},
	)

	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidSession
	}

	return claims, nil
}
