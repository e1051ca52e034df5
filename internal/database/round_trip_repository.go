package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/intercity/booking-backend/internal/models"
	"github.com/jmoiron/sqlx"
)

// RoundTripRepository handles driver-curated outbound/return links
type RoundTripRepository struct {
	db *sqlx.DB
}

// NewRoundTripRepository creates a new RoundTripRepository
func NewRoundTripRepository(db *sqlx.DB) *RoundTripRepository {
	return &RoundTripRepository{db: db}
}

// RoundTripLinkConstraint rejects linking the same pair twice
const RoundTripLinkConstraint = "round_trip_links_outbound_trip_id_return_trip_id_key"

// Create inserts a link
func (r *RoundTripRepository) Create(ctx context.Context, link *models.RoundTripLink) error {
	if link.ID == uuid.Nil {
		link.ID = uuid.New()
	}

	query := `
		INSERT INTO round_trip_links (id, driver_id, outbound_trip_id, return_trip_id, discount_rate)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`

	return r.db.QueryRowxContext(ctx, query,
		link.ID, link.DriverID, link.OutboundTripID, link.ReturnTripID, link.DiscountRate,
	).Scan(&link.CreatedAt)
}

// ListByOutbound returns every return option configured for an outbound trip
func (r *RoundTripRepository) ListByOutbound(ctx context.Context, outboundTripID uuid.UUID) ([]models.RoundTripLink, error) {
	links := []models.RoundTripLink{}
	query := `
		SELECT id, driver_id, outbound_trip_id, return_trip_id, discount_rate, created_at
		FROM round_trip_links
		WHERE outbound_trip_id = $1
		ORDER BY created_at`

	if err := r.db.SelectContext(ctx, &links, query, outboundTripID); err != nil {
		return nil, fmt.Errorf("failed to list round trip links: %w", err)
	}
	return links, nil
}
