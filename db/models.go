// Package db provides database models and utilities for bubble.
package db

import (
	"time"

	"github.com/google/uuid"
)

type BaseModel struct {
	ID        uuid.UUID `gorm:"type:char(36);primaryKey"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

type MigrationModel struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	Name      string `gorm:"not null;uniqueIndex"`
	AppliedAt time.Time
}

func (MigrationModel) TableName() string {
	return "migrations"
}

// RelayTokenModel is a live relay credential. Revocation deletes the row.
type RelayTokenModel struct {
	BaseModel
	ContainerName string    `gorm:"not null;uniqueIndex;check:container_name <> ''"`
	IssuedAt      time.Time `gorm:"not null"`
}

func (RelayTokenModel) TableName() string {
	return "relay_tokens"
}

// RelayRequestModel is one admission decision of the relay
type RelayRequestModel struct {
	BaseModel
	ContainerName string `gorm:"index"` // empty when the caller could not be identified
	Target        string `gorm:"type:text"`
	Outcome       string `gorm:"not null;check:outcome <> ''"` // accepted, rejected
	Reason        string `gorm:"type:text"`
	BubbleName    string
}

func (RelayRequestModel) TableName() string {
	return "relay_requests"
}
