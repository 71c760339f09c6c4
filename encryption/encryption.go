// Package encryption signs and encrypts relay credentials with fernet.
package encryption

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fernet/fernet-go"
	"github.com/google/uuid"
	"github.com/moby/sys/atomicwriter"
)

// tokenTTL bounds how long an issued credential verifies; revocation is by database row
const tokenTTL = 24 * time.Hour * 365 * 10

// EncryptionService handles encryption/decryption of relay credentials
type EncryptionService struct {
	key *fernet.Key
}

// NewEncryptionService creates a new encryption service with the provided key
func NewEncryptionService(keyString string) (*EncryptionService, error) {
	if keyString == "" {
		return nil, fmt.Errorf("encryption key cannot be empty")
	}

	key, err := fernet.DecodeKey(keyString)
	if err != nil {
		return nil, fmt.Errorf("invalid encryption key: %w", err)
	}

	return &EncryptionService{key: key}, nil
}

// GenerateKey returns a new encoded fernet key
func GenerateKey() (string, error) {
	var key fernet.Key
	if err := key.Generate(); err != nil {
		return "", fmt.Errorf("failed to generate key: %w", err)
	}
	return key.Encode(), nil
}

// LoadOrCreateKey reads the key at path, generating one with 0600 permissions if absent
func LoadOrCreateKey(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err == nil {
		return strings.TrimSpace(string(raw)), nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("failed to read key file: %w", err)
	}

	key, err := GenerateKey()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return "", fmt.Errorf("failed to create key directory: %w", err)
	}
	if err := atomicwriter.WriteFile(path, []byte(key+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("failed to write key file: %w", err)
	}
	return key, nil
}

// Encrypt encrypts plaintext and returns a base64-encoded token
func (e *EncryptionService) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	token, err := fernet.EncryptAndSign([]byte(plaintext), e.key)
	if err != nil {
		return "", fmt.Errorf("encryption failed: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(token), nil
}

// Decrypt decrypts a base64-encoded token and returns plaintext
func (e *EncryptionService) Decrypt(token string) (string, error) {
	if token == "" {
		return "", nil
	}

	tokenBytes, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", fmt.Errorf("invalid token format: %w", err)
	}

	plaintext := fernet.VerifyAndDecrypt(tokenBytes, tokenTTL, []*fernet.Key{e.key})
	if plaintext == nil {
		return "", fmt.Errorf("failed to decrypt token: invalid or expired")
	}

	return string(plaintext), nil
}

// relayClaims is what a relay credential carries
type relayClaims struct {
	TokenID   uuid.UUID `json:"id"`
	Container string    `json:"container"`
}

// SealRelayToken produces the credential handed to a container
func (e *EncryptionService) SealRelayToken(id uuid.UUID, container string) (string, error) {
	data, err := json.Marshal(relayClaims{TokenID: id, Container: container})
	if err != nil {
		return "", fmt.Errorf("failed to serialize relay token: %w", err)
	}
	return e.Encrypt(string(data))
}

// OpenRelayToken verifies a credential and returns the token id and container it names
func (e *EncryptionService) OpenRelayToken(sealed string) (uuid.UUID, string, error) {
	if sealed == "" {
		return uuid.Nil, "", fmt.Errorf("empty relay token")
	}
	plaintext, err := e.Decrypt(sealed)
	if err != nil {
		return uuid.Nil, "", err
	}
	var claims relayClaims
	if err := json.Unmarshal([]byte(plaintext), &claims); err != nil {
		return uuid.Nil, "", fmt.Errorf("failed to deserialize relay token: %w", err)
	}
	if claims.TokenID == uuid.Nil || claims.Container == "" {
		return uuid.Nil, "", fmt.Errorf("relay token is incomplete")
	}
	return claims.TokenID, claims.Container, nil
}
