// collector/store/registration_store.go
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	"github.com/sitepulse/collector/apperrors"
	"github.com/sitepulse/collector/models"
)

type RegistrationStore struct {
	db *sql.DB
}

func NewRegistrationStore(db *sql.DB) *RegistrationStore {
	return &RegistrationStore{db: db}
}

// Upsert registers a site or, if it is already registered, overwrites its
// notification address.
func (s *RegistrationStore) Upsert(ctx context.Context, siteID, notifyAddress string) (*models.Registration, error) {
	reg := &models.Registration{}
	query := `
		INSERT INTO registrations (site_id, notify_address)
		VALUES ($1, $2)
		ON CONFLICT (site_id)
		DO UPDATE SET notify_address = EXCLUDED.notify_address, updated_at = now()
		RETURNING id, site_id, notify_address, created_at, updated_at;
	`
	err := s.db.QueryRowContext(ctx, query, siteID, notifyAddress).Scan(
		&reg.ID,
		&reg.SiteID,
		&reg.NotifyAddress,
		&reg.CreatedAt,
		&reg.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: register site %s: %v", apperrors.ErrPersistence, siteID, err)
	}

	log.Printf("Site registered: ID=%d, SiteID=%s", reg.ID, reg.SiteID)
	return reg, nil
}

// List returns every registration. The reporting job scans this once per run.
func (s *RegistrationStore) List(ctx context.Context) ([]models.Registration, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, site_id, notify_address, created_at, updated_at
		FROM registrations
		ORDER BY site_id ASC;
	`)
	if err != nil {
		return nil, fmt.Errorf("%w: list registrations: %v", apperrors.ErrPersistence, err)
	}
	defer rows.Close()

	var regs []models.Registration
	for rows.Next() {
		var reg models.Registration
		if err := rows.Scan(&reg.ID, &reg.SiteID, &reg.NotifyAddress, &reg.CreatedAt, &reg.UpdatedAt); err != nil {
			log.Printf("Error scanning registration row: %v", err)
			continue
		}
		regs = append(regs, reg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: row error listing registrations: %v", apperrors.ErrPersistence, err)
	}
	return regs, nil
}
