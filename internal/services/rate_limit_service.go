package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/intercity/booking-backend/internal/database"
)

// RateLimitService limits how many holds one passenger or address may open.
// Holds do not consume seats, but a flood of them still squats on checkout.
type RateLimitService struct {
	db     database.DB
	config RateLimitConfig
	now    func() time.Time
}

// NewRateLimitService creates a new rate limit service
func NewRateLimitService(db database.DB, config RateLimitConfig) *RateLimitService {
	return &RateLimitService{
		db:     db,
		config: config,
		now:    time.Now,
	}
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	MaxEmailRequests int           // Max holds per passenger email, 0 disables
	EmailWindow      time.Duration // Time window for email rate limit
	MaxIPRequests    int           // Max holds per client IP, 0 disables
	IPWindow         time.Duration // Time window for IP rate limit
}

// DefaultRateLimitConfig returns the default rate limit configuration
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		MaxEmailRequests: 5,                // 5 holds
		EmailWindow:      15 * time.Minute, // per 15 minutes
		MaxIPRequests:    30,               // 30 holds
		IPWindow:         1 * time.Hour,    // per hour
	}
}

// RateLimitError represents a rate limit exceeded error
type RateLimitError struct {
	Message    string
	RetryAfter time.Time
	Type       string // "email" or "ip"
}

func (e *RateLimitError) Error() string {
	return e.Message
}

// CheckHoldRateLimit checks if a passenger email or IP has exceeded rate limits.
// Retry-After is when the oldest hold in the window leaves it.
func (s *RateLimitService) CheckHoldRateLimit(ctx context.Context, email, ip string) error {
	email = strings.ToLower(strings.TrimSpace(email))

	if email != "" && s.config.MaxEmailRequests > 0 {
		count, oldestRequest, err := s.getRequestCount(ctx, email, "email", s.config.EmailWindow)
		if err != nil {
			return fmt.Errorf("failed to check email rate limit: %w", err)
		}
		if count >= s.config.MaxEmailRequests {
			retryAfter := oldestRequest.Add(s.config.EmailWindow)
			return &RateLimitError{
				Message:    fmt.Sprintf("Too many holds for this email address. Please try again after %s", retryAfter.UTC().Format("15:04:05 MST")),
				RetryAfter: retryAfter,
				Type:       "email",
			}
		}
	}

	if ip != "" && s.config.MaxIPRequests > 0 {
		count, oldestRequest, err := s.getRequestCount(ctx, ip, "ip", s.config.IPWindow)
		if err != nil {
			return fmt.Errorf("failed to check IP rate limit: %w", err)
		}
		if count >= s.config.MaxIPRequests {
			retryAfter := oldestRequest.Add(s.config.IPWindow)
			return &RateLimitError{
				Message:    fmt.Sprintf("Too many holds from this IP address. Please try again after %s", retryAfter.UTC().Format("15:04:05 MST")),
				RetryAfter: retryAfter,
				Type:       "ip",
			}
		}
	}

	return nil
}

type requestCount struct {
	Count         int       `db:"count"`
	OldestRequest time.Time `db:"oldest_request"`
}

func (s *RateLimitService) getRequestCount(ctx context.Context, identifier, identifierType string, window time.Duration) (int, time.Time, error) {
	query := `
		SELECT COUNT(*) AS count, COALESCE(MIN(created_at), NOW()) AS oldest_request
		FROM hold_rate_limits
		WHERE identifier = $1
		  AND identifier_type = $2
		  AND created_at > $3`

	var rc requestCount
	if err := s.db.GetContext(ctx, &rc, query, identifier, identifierType, s.now().Add(-window)); err != nil {
		return 0, time.Time{}, err
	}
	return rc.Count, rc.OldestRequest, nil
}

// RecordHoldRequest records a created hold for rate limiting
func (s *RateLimitService) RecordHoldRequest(ctx context.Context, email, ip string) error {
	if email = strings.ToLower(strings.TrimSpace(email)); email != "" && s.config.MaxEmailRequests > 0 {
		if err := s.recordRequest(ctx, email, "email"); err != nil {
			return fmt.Errorf("failed to record email request: %w", err)
		}
	}
	if ip != "" && s.config.MaxIPRequests > 0 {
		if err := s.recordRequest(ctx, ip, "ip"); err != nil {
			return fmt.Errorf("failed to record IP request: %w", err)
		}
	}
	return nil
}

func (s *RateLimitService) recordRequest(ctx context.Context, identifier, identifierType string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO hold_rate_limits (identifier, identifier_type, created_at)
		VALUES ($1, $2, NOW())`,
		identifier, identifierType)
	return err
}

// CleanupExpiredRateLimits removes records older than the longest window
func (s *RateLimitService) CleanupExpiredRateLimits(ctx context.Context) (int64, error) {
	maxWindow := s.config.IPWindow
	if s.config.EmailWindow > maxWindow {
		maxWindow = s.config.EmailWindow
	}

	result, err := s.db.ExecContext(ctx, `DELETE FROM hold_rate_limits WHERE created_at < $1`, s.now().Add(-maxWindow))
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup rate limits: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected, nil
}
