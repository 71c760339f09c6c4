package relay

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/oar-cd/bubble/db"
	"github.com/oar-cd/bubble/domain"
	"github.com/oar-cd/bubble/encryption"
	"github.com/oar-cd/bubble/repository"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	database, err := db.Open(db.Config{
		Path:     db.MemoryPath,
		LogLevel: logger.Silent,
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrateAll(database))
	return database
}

func newTestTokens(t *testing.T) *Tokens {
	t.Helper()
	key, err := encryption.GenerateKey()
	require.NoError(t, err)
	enc, err := encryption.NewEncryptionService(key)
	require.NoError(t, err)
	return NewTokens(repository.NewRelayTokenRepository(setupTestDB(t)), enc)
}

func TestTokens_IssueVerifyRevoke(t *testing.T) {
	ctx := context.Background()
	tokens := newTestTokens(t)

	sealed, err := tokens.Issue(ctx, "mathlib4-pr-1")
	require.NoError(t, err)
	assert.Less(t, len(sealed), MaxTokenLength)

	container, err := tokens.Verify(ctx, sealed)
	require.NoError(t, err)
	assert.Equal(t, "mathlib4-pr-1", container)

	require.NoError(t, tokens.Revoke(ctx, "mathlib4-pr-1"))
	_, err = tokens.Verify(ctx, sealed)
	var unauthorized *domain.UnauthorizedRelayError
	assert.ErrorAs(t, err, &unauthorized)
}

func TestTokens_ReissueInvalidatesPrevious(t *testing.T) {
	ctx := context.Background()
	tokens := newTestTokens(t)

	first, err := tokens.Issue(ctx, "batteries-pr-7")
	require.NoError(t, err)
	second, err := tokens.Issue(ctx, "batteries-pr-7")
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	_, err = tokens.Verify(ctx, first)
	assert.Error(t, err)
	container, err := tokens.Verify(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, "batteries-pr-7", container)
}

func TestTokens_VerifyRejectsForeignCredentials(t *testing.T) {
	ctx := context.Background()
	tokens := newTestTokens(t)
	other := newTestTokens(t)

	foreign, err := other.Issue(ctx, "mathlib4-pr-1")
	require.NoError(t, err)

	for _, sealed := range []string{"", "garbage", foreign} {
		_, err := tokens.Verify(ctx, sealed)
		var unauthorized *domain.UnauthorizedRelayError
		assert.ErrorAs(t, err, &unauthorized, sealed)
	}
}
