package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/intercity/booking-backend/internal/database"
	"github.com/intercity/booking-backend/internal/models"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

// maxCleanupBatches bounds one cleanup run so a backlog cannot pin the job
const maxCleanupBatches = 20

// HoldServiceConfig holds configuration for the hold service
type HoldServiceConfig struct {
	HoldTTL          time.Duration
	Currency         string
	BcryptCost       int
	CleanupBatchSize int
}

// DefaultHoldServiceConfig returns default configuration
func DefaultHoldServiceConfig() HoldServiceConfig {
	return HoldServiceConfig{
		HoldTTL:          15 * time.Minute,
		Currency:         "EUR",
		BcryptCost:       bcrypt.DefaultCost,
		CleanupBatchSize: 500,
	}
}

// HoldService manages temporary seat holds ahead of payment
type HoldService struct {
	holds        *database.TempBookingRepository
	reservations *database.ReservationRepository
	payments     *database.PaymentRepository
	audits       *database.PaymentAuditRepository
	search       *SearchService
	processor    PaymentProcessor
	config       HoldServiceConfig
	logger       *logrus.Logger
	now          func() time.Time
}

// NewHoldService creates a new hold service
func NewHoldService(
	holds *database.TempBookingRepository,
	reservations *database.ReservationRepository,
	payments *database.PaymentRepository,
	audits *database.PaymentAuditRepository,
	search *SearchService,
	processor PaymentProcessor,
	config HoldServiceConfig,
	logger *logrus.Logger,
) *HoldService {
	return &HoldService{
		holds:        holds,
		reservations: reservations,
		payments:     payments,
		audits:       audits,
		search:       search,
		processor:    processor,
		config:       config,
		logger:       logger,
		now:          time.Now,
	}
}

// ============================================================================
// CREATE HOLD
// ============================================================================

// CreateHold prices the requested segment and stores a time-boxed hold.
// Holds never consume capacity; availability is checked here and enforced
// again at conversion. created is false when an idempotent retry returned
// an existing hold.
func (s *HoldService) CreateHold(ctx context.Context, req *models.CreateHoldRequest) (resp *models.HoldResponse, created bool, err error) {
	// Step 1: idempotent replay
	if req.IdempotencyKey != nil {
		existing, err := s.holds.GetByIdempotencyKey(ctx, *req.IdempotencyKey)
		if err != nil {
			return nil, false, err
		}
		if existing != nil {
			resp, err := s.replayHold(ctx, existing, req)
			return resp, false, err
		}
	}

	// Step 2: validate request
	if err := req.Validate(); err != nil {
		return nil, false, err
	}

	// Step 3: price the segment between the chosen stations
	candidate, quote, err := s.search.QuoteStations(ctx, req.TripID, req.PickupStationID, req.DropoffStationID)
	if err != nil {
		return nil, false, err
	}

	now := s.now()
	if !candidate.IsBookable(now) {
		return nil, false, models.ErrTripNotBookable
	}

	// Step 4: availability
	if len(req.Seats) > candidate.AvailableSeats {
		return nil, false, fmt.Errorf("%w: requested %d, %d left",
			models.ErrCapacityConflict, len(req.Seats), candidate.AvailableSeats)
	}
	taken, err := s.reservations.FindBookedSeats(ctx, req.TripID, req.Seats)
	if err != nil {
		return nil, false, err
	}
	if len(taken) > 0 {
		return nil, false, fmt.Errorf("%w: %s", models.ErrSeatUnavailable, strings.Join(taken, ", "))
	}

	// Step 5: luggage and total
	luggageFee, err := LuggageFee(candidate.LuggagePolicy(), req.NumberOfBags)
	if err != nil {
		return nil, false, err
	}
	total := roundMoney(quote.SegmentPrice*float64(len(req.Seats)) + luggageFee)

	// Step 6: hold token
	token, tokenHash, err := s.newHoldToken()
	if err != nil {
		return nil, false, err
	}

	hold := &models.TempBooking{
		TripID:           req.TripID,
		PassengerID:      req.PassengerID,
		PickupStationID:  req.PickupStationID,
		DropoffStationID: req.DropoffStationID,
		Seats:            models.SeatList(req.Seats),
		NumberOfBags:     req.NumberOfBags,
		SegmentPrice:     quote.SegmentPrice,
		LuggageFee:       luggageFee,
		TotalPrice:       total,
		Currency:         s.config.Currency,
		Status:           models.TempBookingStatusPending,
		ExpiresAt:        now.Add(s.config.HoldTTL),
		IdempotencyKey:   req.IdempotencyKey,
		HoldTokenHash:    tokenHash,
		ClientPlatform:   req.ClientPlatform,
		PassengerInfo:    req.Passenger,
	}

	// Step 7: persist
	if err := s.holds.Create(ctx, hold); err != nil {
		if req.IdempotencyKey != nil && database.IsUniqueViolation(err, database.TempBookingIdempotencyKeyConstraint) {
			existing, getErr := s.holds.GetByIdempotencyKey(ctx, *req.IdempotencyKey)
			if getErr == nil && existing != nil {
				resp, err := s.replayHold(ctx, existing, req)
				return resp, false, err
			}
		}
		return nil, false, fmt.Errorf("failed to create hold: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"hold_id":      hold.ID,
		"trip_id":      hold.TripID,
		"seats":        len(hold.Seats),
		"bags":         hold.NumberOfBags,
		"total":        hold.TotalPrice,
		"price_source": quote.PriceSource,
		"expires_at":   hold.ExpiresAt,
	}).Info("Hold created")

	resp = holdResponse(hold, now)
	resp.HoldToken = token
	resp.PriceSource = quote.PriceSource
	return resp, true, nil
}

// replayHold answers a retried create. The client lost the first response,
// so a fresh token is issued for the still-open hold.
func (s *HoldService) replayHold(ctx context.Context, hold *models.TempBooking, req *models.CreateHoldRequest) (*models.HoldResponse, error) {
	if hold.TripID != req.TripID {
		return nil, models.ErrInvalidInput("idempotency key was already used for a different trip")
	}

	now := s.now()
	resp := holdResponse(hold, now)
	if !hold.Status.IsOpen() || hold.IsExpired(now) {
		return resp, nil
	}

	token, tokenHash, err := s.newHoldToken()
	if err != nil {
		return nil, err
	}
	rotated, err := s.holds.RotateTokenHash(ctx, hold.ID, tokenHash)
	if err != nil {
		return nil, err
	}
	if rotated {
		resp.HoldToken = token
	}

	s.logger.WithFields(logrus.Fields{
		"hold_id": hold.ID,
		"rotated": rotated,
	}).Info("Returning existing hold for idempotency key")
	return resp, nil
}

// ============================================================================
// HOLD ACCESS
// ============================================================================

// GetHold returns a hold to the holder of its token
func (s *HoldService) GetHold(ctx context.Context, holdID uuid.UUID, token string) (*models.HoldResponse, error) {
	hold, err := s.authorize(ctx, holdID, token)
	if err != nil {
		return nil, err
	}
	return holdResponse(hold, s.now()), nil
}

// AbandonHold closes a hold the passenger no longer wants. Abandoning an
// already expired hold is a no-op.
func (s *HoldService) AbandonHold(ctx context.Context, holdID uuid.UUID, token string) error {
	hold, err := s.authorize(ctx, holdID, token)
	if err != nil {
		return err
	}
	if hold.Status == models.TempBookingStatusCompleted {
		return models.ErrHoldClosed
	}

	closed, err := s.holds.MarkExpired(ctx, hold.ID)
	if err != nil {
		return err
	}
	if closed {
		s.logger.WithField("hold_id", hold.ID).Info("Hold abandoned")
	}
	return nil
}

// InitiatePayment hands the hold to the card processor and moves it to processing
func (s *HoldService) InitiatePayment(ctx context.Context, holdID uuid.UUID, token string) (*models.PaymentSessionResponse, error) {
	hold, err := s.authorize(ctx, holdID, token)
	if err != nil {
		return nil, err
	}
	if !hold.Status.IsOpen() {
		if hold.Status == models.TempBookingStatusExpired {
			return nil, models.ErrHoldExpired
		}
		return nil, models.ErrHoldClosed
	}
	if hold.IsExpired(s.now()) {
		return nil, models.ErrHoldExpired
	}

	session, err := s.processor.InitiatePayment(ctx, &InitiatePaymentParams{
		InvoiceID:        hold.ID.String(),
		Amount:           hold.TotalPrice,
		CurrencyCode:     hold.Currency,
		CustomerName:     hold.Name,
		CustomerPhone:    hold.Phone,
		CustomerEmail:    hold.Email,
		OrderDescription: fmt.Sprintf("%d seat(s) on trip %s", hold.SeatCount(), hold.TripID),
	})
	if err != nil {
		s.logAudit(ctx, models.NewPaymentAudit(models.PaymentEventError, models.PaymentSourceProcessor).
			SetHold(hold.ID).
			SetError(err.Error(), "INITIATION_FAILED"))
		return nil, fmt.Errorf("failed to initiate payment: %w", err)
	}

	payment := &models.Payment{
		TempBookingID:      &hold.ID,
		ProcessorPaymentID: session.ProcessorPaymentID,
		Amount:             hold.TotalPrice,
		Currency:           hold.Currency,
	}
	if session.StatusIndicator != "" {
		payment.StatusIndicator = &session.StatusIndicator
	}
	if err := s.payments.CreatePending(ctx, payment); err != nil {
		return nil, err
	}

	ok, err := s.holds.MarkProcessing(ctx, hold.ID, session.ProcessorPaymentID, s.now())
	if err != nil {
		return nil, err
	}
	if !ok {
		// Lapsed or closed while the processor was being called
		return nil, models.ErrHoldExpired
	}

	audit := models.NewPaymentAudit(models.PaymentEventInitiated, models.PaymentSourceBackend).
		SetHold(hold.ID).
		SetProcessorPaymentID(session.ProcessorPaymentID)
	audit.SetAmounts(hold.TotalPrice, hold.TotalPrice, hold.Currency)
	s.logAudit(ctx, audit)

	s.logger.WithFields(logrus.Fields{
		"hold_id":    hold.ID,
		"payment_id": session.ProcessorPaymentID,
		"amount":     hold.TotalPrice,
	}).Info("Payment initiated for hold")

	return &models.PaymentSessionResponse{
		HoldID:          hold.ID,
		PaymentIntentID: session.ProcessorPaymentID,
		PaymentURL:      session.PaymentURL,
		Amount:          hold.TotalPrice,
		Currency:        hold.Currency,
		ExpiresAt:       hold.ExpiresAt,
	}, nil
}

// ============================================================================
// CLEANUP
// ============================================================================

// CleanupExpiredHolds deletes holds whose expiry has passed. Holds that
// are mid-conversion are skipped and picked up by a later run.
func (s *HoldService) CleanupExpiredHolds(ctx context.Context) (int, error) {
	cutoff := s.now()
	batch := s.config.CleanupBatchSize
	if batch <= 0 {
		batch = DefaultHoldServiceConfig().CleanupBatchSize
	}

	total := 0
	for i := 0; i < maxCleanupBatches; i++ {
		deleted, err := s.holds.DeleteLapsed(ctx, cutoff, batch)
		if err != nil {
			return total, err
		}
		total += deleted
		if deleted < batch {
			break
		}
	}

	if total > 0 {
		s.logger.WithFields(logrus.Fields{
			"deleted": total,
			"cutoff":  cutoff,
		}).Info("Expired holds cleaned up")
	}
	return total, nil
}

// ============================================================================
// HELPERS
// ============================================================================

func (s *HoldService) authorize(ctx context.Context, holdID uuid.UUID, token string) (*models.TempBooking, error) {
	hold, err := s.holds.GetByID(ctx, holdID)
	if err != nil {
		return nil, err
	}
	if hold == nil {
		return nil, models.ErrHoldNotFound
	}
	if token == "" || bcrypt.CompareHashAndPassword([]byte(hold.HoldTokenHash), []byte(token)) != nil {
		return nil, models.ErrInvalidHoldToken
	}
	return hold, nil
}

func (s *HoldService) newHoldToken() (token, hash string, err error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("failed to generate hold token: %w", err)
	}
	token = hex.EncodeToString(buf)

	cost := s.config.BcryptCost
	if cost < bcrypt.MinCost {
		cost = bcrypt.DefaultCost
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(token), cost)
	if err != nil {
		return "", "", fmt.Errorf("failed to hash hold token: %w", err)
	}
	return token, string(hashed), nil
}

func (s *HoldService) logAudit(ctx context.Context, audit *models.PaymentAudit) {
	if err := s.audits.Log(ctx, audit); err != nil {
		s.logger.WithError(err).WithField("event_type", audit.EventType).Warn("Failed to write payment audit")
	}
}

// holdResponse renders a hold. An open hold past its expiry is reported
// as expired even before cleanup reaches it.
func holdResponse(hold *models.TempBooking, now time.Time) *models.HoldResponse {
	status := hold.Status
	if status.IsOpen() && hold.IsExpired(now) {
		status = models.TempBookingStatusExpired
	}
	return &models.HoldResponse{
		HoldID:       hold.ID,
		TripID:       hold.TripID,
		Seats:        []string(hold.Seats),
		NumberOfBags: hold.NumberOfBags,
		SegmentPrice: hold.SegmentPrice,
		LuggageFee:   hold.LuggageFee,
		TotalPrice:   hold.TotalPrice,
		Currency:     hold.Currency,
		Status:       status,
		ExpiresAt:    hold.ExpiresAt,

		BookingReference: hold.BookingReference,
	}
}
