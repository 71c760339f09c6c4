package relay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oar-cd/bubble/domain"
)

func TestResponseErr(t *testing.T) {
	tests := []struct {
		name      string
		resp      Response
		wantErr   bool
		retryable bool
	}{
		{name: "ok", resp: Response{Status: StatusOK, Name: "batteries-pr-7"}},
		{name: "rate limited", resp: Response{Status: StatusRateLimited, RetryAfter: 30}, wantErr: true, retryable: true},
		{name: "busy", resp: Response{Status: StatusBusy}, wantErr: true, retryable: true},
		{name: "unauthorized", resp: Response{Status: StatusUnauthorized}, wantErr: true},
		{name: "unknown repo", resp: Response{Status: StatusUnknownRepo}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.resp.Err()
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			var rejected *RejectedError
			require.ErrorAs(t, err, &rejected)
			assert.Equal(t, tt.resp.Status, rejected.Status)
			assert.Equal(t, tt.retryable, domain.IsRetryable(err))
		})
	}
}
