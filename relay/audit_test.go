package relay

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oar-cd/bubble/domain"
	"github.com/oar-cd/bubble/repository"
)

func TestAuditor_RecordsAndLogs(t *testing.T) {
	repo := repository.NewRelayAuditRepository(setupTestDB(t))
	var buf bytes.Buffer
	a := NewAuditor(repo, slog.New(slog.NewTextHandler(&buf, nil)))

	a.Accept("mathlib4-pr-1", "batteries/pull/7", "batteries-pr-7")
	a.Reject("mathlib4-pr-1", "evil\nACCEPT forged", "invalid characters in target")

	recent, err := repo.ListRecent(10)
	require.NoError(t, err)
	require.Len(t, recent, 2)

	outcomes := map[domain.RelayOutcome]*domain.RelayRequest{}
	for _, r := range recent {
		outcomes[r.Outcome] = r
	}
	assert.Equal(t, "batteries-pr-7", outcomes[domain.RelayOutcomeAccepted].BubbleName)
	assert.Equal(t, `evil\nACCEPT forged`, outcomes[domain.RelayOutcomeRejected].Target)

	logged := buf.String()
	assert.Contains(t, logged, "msg=ACCEPT")
	assert.Contains(t, logged, "msg=REJECT")
	assert.Equal(t, 2, bytes.Count(buf.Bytes(), []byte("\n")), "injected newlines must not add log lines")
}

func TestAuditor_WithoutRepository(t *testing.T) {
	a := NewAuditor(nil, nil)
	assert.NotPanics(t, func() {
		a.Reject("", "", "timeout")
	})
}
