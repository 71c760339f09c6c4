package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/oar-cd/bubble/domain"
	"github.com/oar-cd/bubble/encryption"
	"github.com/oar-cd/bubble/repository"
)

// Tokens issues and verifies per-container relay credentials. A credential is a
// sealed token id; it verifies only while its database row exists.
type Tokens struct {
	repo repository.RelayTokenRepository
	enc  *encryption.EncryptionService
}

func NewTokens(repo repository.RelayTokenRepository, enc *encryption.EncryptionService) *Tokens {
	return &Tokens{repo: repo, enc: enc}
}

// Issue stores a fresh token for container and returns its credential.
// Any earlier credential of the container stops verifying.
func (t *Tokens) Issue(ctx context.Context, container string) (string, error) {
	token := domain.NewRelayToken(container)
	if err := t.repo.Issue(&token); err != nil {
		return "", fmt.Errorf("failed to store relay token: %w", err)
	}
	sealed, err := t.enc.SealRelayToken(token.ID, container)
	if err != nil {
		return "", err
	}
	slog.Debug("Relay token issued", "container", container)
	return sealed, nil
}

func (t *Tokens) Revoke(ctx context.Context, container string) error {
	return t.repo.Revoke(container)
}

// Verify returns the container a credential was issued to
func (t *Tokens) Verify(ctx context.Context, sealed string) (string, error) {
	id, container, err := t.enc.OpenRelayToken(sealed)
	if err != nil {
		return "", &domain.UnauthorizedRelayError{Reason: "invalid relay token"}
	}

	stored, err := t.repo.FindByID(id)
	if errors.Is(err, repository.ErrTokenNotFound) {
		return "", &domain.UnauthorizedRelayError{Reason: "invalid relay token"}
	}
	if err != nil {
		return "", err
	}
	if stored.ContainerName != container {
		return "", &domain.UnauthorizedRelayError{Reason: "invalid relay token"}
	}
	return container, nil
}
