package relay

import (
	"log/slog"

	"github.com/oar-cd/bubble/domain"
	"github.com/oar-cd/bubble/repository"
)

const maxLoggedField = 200

// Auditor records every admission decision to the database and the relay log
type Auditor struct {
	repo   repository.RelayAuditRepository
	logger *slog.Logger
}

// NewAuditor creates an auditor. A nil logger discards log lines.
func NewAuditor(repo repository.RelayAuditRepository, logger *slog.Logger) *Auditor {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Auditor{repo: repo, logger: logger}
}

func (a *Auditor) Accept(container, target, bubble string) {
	a.record(&domain.RelayRequest{
		ContainerName: container,
		Target:        target,
		Outcome:       domain.RelayOutcomeAccepted,
		BubbleName:    bubble,
	})
}

func (a *Auditor) Reject(container, target, reason string) {
	a.record(&domain.RelayRequest{
		ContainerName: container,
		Target:        target,
		Outcome:       domain.RelayOutcomeRejected,
		Reason:        reason,
	})
}

func (a *Auditor) record(req *domain.RelayRequest) {
	req.ContainerName = sanitizeForLog(req.ContainerName, maxLoggedField)
	req.Target = sanitizeForLog(req.Target, maxLoggedField)
	req.Reason = sanitizeForLog(req.Reason, maxLoggedField)

	attrs := []any{"container", req.ContainerName, "target", req.Target}
	if req.Outcome == domain.RelayOutcomeAccepted {
		a.logger.Info("ACCEPT", append(attrs, "bubble", req.BubbleName)...)
	} else {
		a.logger.Warn("REJECT", append(attrs, "reason", req.Reason)...)
	}

	if a.repo == nil {
		return
	}
	if err := a.repo.Record(req); err != nil {
		slog.Error("Service operation failed",
			"layer", "relay",
			"operation", "audit",
			"container", req.ContainerName,
			"error", err)
	}
}
