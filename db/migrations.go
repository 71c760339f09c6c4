package db

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Migration represents a single database migration
type Migration struct {
	ID   int
	Name string
	Up   func(*gorm.DB) error
}

// allMigrations is the ordered list of all migrations
var allMigrations = []Migration{
	{
		ID:   1,
		Name: "0001_add_relay_tokens_issued_at",
		Up:   migration0001AddRelayTokensIssuedAt,
	},
	{
		ID:   2,
		Name: "0002_index_relay_requests_created_at",
		Up:   migration0002IndexRelayRequestsCreatedAt,
	},
}

// AllModels returns all the models that need to be migrated
func AllModels() []any {
	return []any{
		&MigrationModel{},
		&RelayTokenModel{},
		&RelayRequestModel{},
	}
}

// AutoMigrateAll runs manual migrations followed by auto-migration of every model
func AutoMigrateAll(db *gorm.DB) error {
	if err := db.AutoMigrate(&MigrationModel{}); err != nil {
		return err
	}

	if err := RunMigrations(db, len(allMigrations)); err != nil {
		return err
	}

	if err := db.AutoMigrate(AllModels()...); err != nil {
		return err
	}

	// Fresh databases skip the index migration because the table did not exist yet
	return createRelayRequestsIndex(db)
}

// RunMigrations runs all migrations up to and including targetID.
// If targetID is 0 or negative, all migrations are run.
func RunMigrations(db *gorm.DB, targetID int) error {
	if targetID <= 0 {
		targetID = len(allMigrations)
	}

	for _, migration := range allMigrations {
		if migration.ID > targetID {
			break
		}

		applied, err := migrationApplied(db, migration.Name)
		if err != nil {
			return fmt.Errorf("failed to check migration %s: %w", migration.Name, err)
		}
		if applied {
			continue
		}

		if err := migration.Up(db); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", migration.Name, err)
		}

		if err := recordMigration(db, migration.Name); err != nil {
			return fmt.Errorf("failed to record migration %s: %w", migration.Name, err)
		}
	}

	return nil
}

func migrationApplied(db *gorm.DB, name string) (bool, error) {
	var count int64
	err := db.Model(&MigrationModel{}).Where("name = ?", name).Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func recordMigration(db *gorm.DB, name string) error {
	return db.Create(&MigrationModel{Name: name, AppliedAt: time.Now()}).Error
}

// CreateSchemaAtMigration creates the schema as it existed after migrationID.
// 0 is the initial schema. Used by tests.
func CreateSchemaAtMigration(db *gorm.DB, migrationID int) error {
	if err := db.AutoMigrate(&MigrationModel{}); err != nil {
		return err
	}
	if err := createInitialSchema(db); err != nil {
		return err
	}
	if migrationID > 0 {
		return RunMigrations(db, migrationID)
	}
	return nil
}

func createInitialSchema(db *gorm.DB) error {
	if err := db.Exec(`
		CREATE TABLE IF NOT EXISTS relay_tokens (
			id TEXT PRIMARY KEY,
			container_name TEXT NOT NULL UNIQUE,
			created_at DATETIME,
			updated_at DATETIME
		)
	`).Error; err != nil {
		return err
	}
	return db.Exec(`
		CREATE TABLE IF NOT EXISTS relay_requests (
			id TEXT PRIMARY KEY,
			container_name TEXT,
			target TEXT,
			outcome TEXT NOT NULL,
			reason TEXT,
			bubble_name TEXT,
			created_at DATETIME,
			updated_at DATETIME
		)
	`).Error
}

// migration0001AddRelayTokensIssuedAt splits the issue time from the row's creation time
// so tokens can be re-issued in place; existing rows take their creation time.
func migration0001AddRelayTokensIssuedAt(db *gorm.DB) error {
	if !db.Migrator().HasTable("relay_tokens") || db.Migrator().HasColumn(&RelayTokenModel{}, "issued_at") {
		return nil
	}
	if err := db.Exec("ALTER TABLE relay_tokens ADD COLUMN issued_at DATETIME").Error; err != nil {
		return err
	}
	return db.Exec("UPDATE relay_tokens SET issued_at = created_at WHERE issued_at IS NULL").Error
}

// migration0002IndexRelayRequestsCreatedAt speeds up the audit listing, which reads newest first
func migration0002IndexRelayRequestsCreatedAt(db *gorm.DB) error {
	if !db.Migrator().HasTable("relay_requests") {
		return nil
	}
	return createRelayRequestsIndex(db)
}

func createRelayRequestsIndex(db *gorm.DB) error {
	return db.Exec("CREATE INDEX IF NOT EXISTS idx_relay_requests_created_at ON relay_requests(created_at)").Error
}
