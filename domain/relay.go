package domain

import (
	"time"

	"github.com/google/uuid"
)

// RelayToken is a per-container credential for relayed requests
type RelayToken struct {
	ID            uuid.UUID
	ContainerName string
	IssuedAt      time.Time
}

func NewRelayToken(containerName string) RelayToken {
	return RelayToken{
		ID:            uuid.New(),
		ContainerName: containerName,
	}
}

// RelayRequest is one audited admission decision
type RelayRequest struct {
	ID            uuid.UUID
	ContainerName string
	Target        string
	Outcome       RelayOutcome
	Reason        string
	BubbleName    string
	CreatedAt     time.Time
}
