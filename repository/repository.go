package repository

import (
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/oar-cd/bubble/db"
	"github.com/oar-cd/bubble/domain"
	"gorm.io/gorm"
)

// ErrTokenNotFound is returned for unknown or revoked relay tokens
var ErrTokenNotFound = errors.New("relay token not found")

type RelayTokenRepository interface {
	// Issue stores a new token for the container, replacing any previous one
	Issue(token *domain.RelayToken) error
	FindByID(id uuid.UUID) (*domain.RelayToken, error)
	FindByContainer(name string) (*domain.RelayToken, error)
	Revoke(containerName string) error
	RevokeAll() error
	List() ([]*domain.RelayToken, error)
}

type relayTokenRepository struct {
	db     *gorm.DB
	mapper *RelayTokenMapper
}

func (r *relayTokenRepository) Issue(token *domain.RelayToken) error {
	if token.ID == uuid.Nil {
		token.ID = uuid.New()
	}
	if token.IssuedAt.IsZero() {
		token.IssuedAt = time.Now().UTC()
	}
	m := r.mapper.ToModel(token)

	err := r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("container_name = ?", token.ContainerName).Delete(&db.RelayTokenModel{}).Error; err != nil {
			return err
		}
		return tx.Create(m).Error
	})
	if err != nil {
		slog.Error("Database operation failed",
			"layer", "repository",
			"operation", "issue_relay_token",
			"container", token.ContainerName,
			"error", err)
		return err
	}
	*token = *r.mapper.ToDomain(m)
	return nil
}

func (r *relayTokenRepository) FindByID(id uuid.UUID) (*domain.RelayToken, error) {
	var m db.RelayTokenModel
	if err := r.db.Where("id = ?", id).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTokenNotFound
		}
		return nil, err
	}
	return r.mapper.ToDomain(&m), nil
}

func (r *relayTokenRepository) FindByContainer(name string) (*domain.RelayToken, error) {
	var m db.RelayTokenModel
	if err := r.db.Where("container_name = ?", name).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTokenNotFound
		}
		return nil, err
	}
	return r.mapper.ToDomain(&m), nil
}

// Revoke deletes the container's token. Revoking a missing token is not an error.
func (r *relayTokenRepository) Revoke(containerName string) error {
	err := r.db.Where("container_name = ?", containerName).Delete(&db.RelayTokenModel{}).Error
	if err != nil {
		slog.Error("Database operation failed",
			"layer", "repository",
			"operation", "revoke_relay_token",
			"container", containerName,
			"error", err)
	}
	return err
}

func (r *relayTokenRepository) RevokeAll() error {
	return r.db.Where("1 = 1").Delete(&db.RelayTokenModel{}).Error
}

func (r *relayTokenRepository) List() ([]*domain.RelayToken, error) {
	var models []db.RelayTokenModel
	if err := r.db.Order("container_name").Find(&models).Error; err != nil {
		return nil, err
	}
	tokens := make([]*domain.RelayToken, len(models))
	for i := range models {
		tokens[i] = r.mapper.ToDomain(&models[i])
	}
	return tokens, nil
}

func NewRelayTokenRepository(db *gorm.DB) RelayTokenRepository {
	return &relayTokenRepository{
		db:     db,
		mapper: &RelayTokenMapper{},
	}
}

type RelayAuditRepository interface {
	Record(req *domain.RelayRequest) error
	// ListRecent returns up to limit requests, newest first
	ListRecent(limit int) ([]*domain.RelayRequest, error)
	CountSince(since time.Time, outcome domain.RelayOutcome) (int64, error)
}

type relayAuditRepository struct {
	db     *gorm.DB
	mapper *RelayRequestMapper
}

func (r *relayAuditRepository) Record(req *domain.RelayRequest) error {
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	m := r.mapper.ToModel(req)
	if err := r.db.Create(m).Error; err != nil {
		slog.Error("Database operation failed",
			"layer", "repository",
			"operation", "record_relay_request",
			"container", req.ContainerName,
			"error", err)
		return err
	}
	*req = *r.mapper.ToDomain(m)
	return nil
}

func (r *relayAuditRepository) ListRecent(limit int) ([]*domain.RelayRequest, error) {
	var models []db.RelayRequestModel
	if err := r.db.Order("created_at DESC").Limit(limit).Find(&models).Error; err != nil {
		return nil, err
	}
	requests := make([]*domain.RelayRequest, len(models))
	for i := range models {
		requests[i] = r.mapper.ToDomain(&models[i])
	}
	return requests, nil
}

func (r *relayAuditRepository) CountSince(since time.Time, outcome domain.RelayOutcome) (int64, error) {
	var count int64
	err := r.db.Model(&db.RelayRequestModel{}).
		Where("created_at >= ? AND outcome = ?", since, outcome.String()).
		Count(&count).
		Error
	return count, err
}

func NewRelayAuditRepository(db *gorm.DB) RelayAuditRepository {
	return &relayAuditRepository{
		db:     db,
		mapper: &RelayRequestMapper{},
	}
}
