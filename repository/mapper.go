// Package repository provides the data access layer for relay tokens and the relay audit trail.
package repository

import (
	"github.com/oar-cd/bubble/db"
	"github.com/oar-cd/bubble/domain"
)

type RelayTokenMapper struct{}

func (m *RelayTokenMapper) ToDomain(t *db.RelayTokenModel) *domain.RelayToken {
	return &domain.RelayToken{
		ID:            t.ID,
		ContainerName: t.ContainerName,
		IssuedAt:      t.IssuedAt,
	}
}

func (m *RelayTokenMapper) ToModel(t *domain.RelayToken) *db.RelayTokenModel {
	return &db.RelayTokenModel{
		BaseModel: db.BaseModel{
			ID: t.ID,
		},
		ContainerName: t.ContainerName,
		IssuedAt:      t.IssuedAt,
	}
}

type RelayRequestMapper struct{}

func (m *RelayRequestMapper) ToDomain(r *db.RelayRequestModel) *domain.RelayRequest {
	outcome, err := domain.ParseRelayOutcome(r.Outcome)
	if err != nil {
		outcome = domain.RelayOutcomeUnknown
	}
	return &domain.RelayRequest{
		ID:            r.ID,
		ContainerName: r.ContainerName,
		Target:        r.Target,
		Outcome:       outcome,
		Reason:        r.Reason,
		BubbleName:    r.BubbleName,
		CreatedAt:     r.CreatedAt,
	}
}

func (m *RelayRequestMapper) ToModel(r *domain.RelayRequest) *db.RelayRequestModel {
	return &db.RelayRequestModel{
		BaseModel: db.BaseModel{
			ID:        r.ID,
			CreatedAt: r.CreatedAt,
		},
		ContainerName: r.ContainerName,
		Target:        r.Target,
		Outcome:       r.Outcome.String(),
		Reason:        r.Reason,
		BubbleName:    r.BubbleName,
	}
}
