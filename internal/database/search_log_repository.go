package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/intercity/booking-backend/internal/models"
	"github.com/jmoiron/sqlx"
)

// SearchLogRepository stores search analytics
type SearchLogRepository struct {
	db *sqlx.DB
}

// NewSearchLogRepository creates a new SearchLogRepository
func NewSearchLogRepository(db *sqlx.DB) *SearchLogRepository {
	return &SearchLogRepository{db: db}
}

// LogSearch records a search for analytics
func (r *SearchLogRepository) LogSearch(ctx context.Context, log *models.SearchLog) error {
	if log.ID == uuid.Nil {
		log.ID = uuid.New()
	}

	query := `
		INSERT INTO search_logs (
			id, from_input, to_input, departure_date,
			results_count, response_time_ms,
			user_id, ip_address, client_platform
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := r.db.ExecContext(ctx, query,
		log.ID, log.FromInput, log.ToInput, log.DepartureDate,
		log.ResultsCount, log.ResponseTimeMs,
		log.UserID, log.IPAddress, log.ClientPlatform,
	)
	return err
}
