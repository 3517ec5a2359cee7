package auth

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrBadEditorKey     = errors.New("invalid editor key")
	ErrMissingEditorKey = errors.New("editor key required")
)

// NewEditorKey generates the secret that authorizes edits to a receipt.
// It is shown to the uploader exactly once; only its hash is stored.
func NewEditorKey() string {
	return uuid.New().String()
}

// HashEditorKey hashes an editor key for storage using bcrypt.
func HashEditorKey(key string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash editor key: %w", err)
	}
	return string(hashed), nil
}

// VerifyEditorKey checks a presented editor key against the stored hash.
func VerifyEditorKey(hash, key string) error {
	if key == "" {
		return ErrMissingEditorKey
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)); err != nil {
		return ErrBadEditorKey
	}
	return nil
}
