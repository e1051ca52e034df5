package handlers

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/intercity/booking-backend/internal/models"
	"github.com/intercity/booking-backend/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHolds struct {
	lastCreate *models.CreateHoldRequest
	lastToken  string
	created    bool
	err        error
	abandoned  []uuid.UUID
}

func (f *fakeHolds) CreateHold(_ context.Context, req *models.CreateHoldRequest) (*models.HoldResponse, bool, error) {
	f.lastCreate = req
	if f.err != nil {
		return nil, false, f.err
	}
	return &models.HoldResponse{
		HoldID:     uuid.New(),
		HoldToken:  "token-abc",
		TripID:     req.TripID,
		Seats:      req.Seats,
		TotalPrice: 50,
		Currency:   "EUR",
		Status:     models.TempBookingStatusPending,
	}, f.created, nil
}

func (f *fakeHolds) GetHold(_ context.Context, holdID uuid.UUID, token string) (*models.HoldResponse, error) {
	f.lastToken = token
	if f.err != nil {
		return nil, f.err
	}
	return &models.HoldResponse{HoldID: holdID, Status: models.TempBookingStatusPending}, nil
}

func (f *fakeHolds) AbandonHold(_ context.Context, holdID uuid.UUID, token string) error {
	f.lastToken = token
	if f.err != nil {
		return f.err
	}
	f.abandoned = append(f.abandoned, holdID)
	return nil
}

func (f *fakeHolds) InitiatePayment(_ context.Context, holdID uuid.UUID, token string) (*models.PaymentSessionResponse, error) {
	f.lastToken = token
	if f.err != nil {
		return nil, f.err
	}
	return &models.PaymentSessionResponse{
		HoldID:          holdID,
		PaymentIntentID: "pi_123",
		PaymentURL:      "https://pay.example.test/checkout/pi_123",
		Amount:          50,
		Currency:        "EUR",
	}, nil
}

type fakeLimiter struct {
	checkErr error
	checks   int
	records  []string
}

func (f *fakeLimiter) CheckHoldRateLimit(_ context.Context, email, ip string) error {
	f.checks++
	return f.checkErr
}

func (f *fakeLimiter) RecordHoldRequest(_ context.Context, email, ip string) error {
	f.records = append(f.records, email+"|"+ip)
	return nil
}

func holdRequestBody() map[string]interface{} {
	return map[string]interface{}{
		"trip_id":            uuid.New(),
		"pickup_station_id":  uuid.New(),
		"dropoff_station_id": uuid.New(),
		"seats":              []string{"1A"},
		"number_of_bags":     1,
		"passenger": map[string]string{
			"name":  "Ana Petrova",
			"email": "ana@example.test",
			"phone": "+359888000111",
		},
	}
}

func newHoldRouter(holds *fakeHolds, limiter HoldRateLimiter) *HoldHandler {
	_, logger, _ := setupTestRouter()
	return NewHoldHandler(holds, limiter, logger)
}

func TestHoldHandler_CreateHold(t *testing.T) {
	t.Run("Created", func(t *testing.T) {
		router, _, _ := setupTestRouter()
		holds := &fakeHolds{created: true}
		limiter := &fakeLimiter{}
		h := newHoldRouter(holds, limiter)
		router.POST("/holds", h.CreateHold)

		w := performRequest(router, "POST", "/holds", holdRequestBody(), map[string]string{
			"Idempotency-Key": "  retry-1  ",
			"User-Agent":      "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1",
			"X-Real-IP":       "203.0.113.7",
		})

		assert.Equal(t, http.StatusCreated, w.Code)
		assert.Equal(t, "token-abc", decodeBody(t, w)["hold_token"])
		require.NotNil(t, holds.lastCreate.IdempotencyKey)
		assert.Equal(t, "retry-1", *holds.lastCreate.IdempotencyKey)
		require.NotNil(t, holds.lastCreate.ClientPlatform)
		assert.Equal(t, "ios", *holds.lastCreate.ClientPlatform)
		assert.Equal(t, 1, limiter.checks)
		assert.Equal(t, []string{"ana@example.test|203.0.113.7"}, limiter.records)
	})

	t.Run("Idempotent replay returns 200 and is not recorded", func(t *testing.T) {
		router, _, _ := setupTestRouter()
		holds := &fakeHolds{created: false}
		limiter := &fakeLimiter{}
		router.POST("/holds", newHoldRouter(holds, limiter).CreateHold)

		w := performRequest(router, "POST", "/holds", holdRequestBody(), map[string]string{"Idempotency-Key": "retry-1"})

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, limiter.records)
	})

	t.Run("Rate limited", func(t *testing.T) {
		router, _, _ := setupTestRouter()
		holds := &fakeHolds{created: true}
		limiter := &fakeLimiter{checkErr: &services.RateLimitError{
			Message:    "Too many holds for this email address",
			RetryAfter: time.Now().Add(time.Minute),
			Type:       "email",
		}}
		router.POST("/holds", newHoldRouter(holds, limiter).CreateHold)

		w := performRequest(router, "POST", "/holds", holdRequestBody(), nil)

		assert.Equal(t, http.StatusTooManyRequests, w.Code)
		assert.NotEmpty(t, w.Header().Get("Retry-After"))
		assert.Nil(t, holds.lastCreate)
	})

	t.Run("Without limiter", func(t *testing.T) {
		router, _, _ := setupTestRouter()
		holds := &fakeHolds{created: true}
		router.POST("/holds", newHoldRouter(holds, nil).CreateHold)

		w := performRequest(router, "POST", "/holds", holdRequestBody(), nil)

		assert.Equal(t, http.StatusCreated, w.Code)
	})

	t.Run("Oversized idempotency key", func(t *testing.T) {
		router, _, _ := setupTestRouter()
		holds := &fakeHolds{created: true}
		router.POST("/holds", newHoldRouter(holds, nil).CreateHold)

		long := make([]byte, maxIdempotencyKeyLen+1)
		for i := range long {
			long[i] = 'k'
		}
		w := performRequest(router, "POST", "/holds", holdRequestBody(), map[string]string{"Idempotency-Key": string(long)})

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Nil(t, holds.lastCreate)
	})

	t.Run("Malformed body", func(t *testing.T) {
		router, _, _ := setupTestRouter()
		router.POST("/holds", newHoldRouter(&fakeHolds{}, nil).CreateHold)

		w := performRequest(router, "POST", "/holds", "{not json", nil)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "invalid_request", decodeBody(t, w)["error"])
	})

	t.Run("Service errors are mapped", func(t *testing.T) {
		tests := []struct {
			name       string
			err        error
			wantStatus int
		}{
			{"Seat taken", models.ErrSeatUnavailable, http.StatusConflict},
			{"Too many bags", models.ErrInvalidField("number_of_bags", "exceeds limit of 2"), http.StatusBadRequest},
			{"Unknown trip", models.ErrTripNotFound, http.StatusNotFound},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				router, _, _ := setupTestRouter()
				limiter := &fakeLimiter{}
				router.POST("/holds", newHoldRouter(&fakeHolds{err: tt.err}, limiter).CreateHold)

				w := performRequest(router, "POST", "/holds", holdRequestBody(), nil)

				assert.Equal(t, tt.wantStatus, w.Code)
				assert.Empty(t, limiter.records)
			})
		}
	})
}

func TestHoldHandler_TokenRoutes(t *testing.T) {
	holdID := uuid.New()

	t.Run("Get passes the token", func(t *testing.T) {
		router, _, _ := setupTestRouter()
		holds := &fakeHolds{}
		router.GET("/holds/:id", newHoldRouter(holds, nil).GetHold)

		w := performRequest(router, "GET", "/holds/"+holdID.String(), nil, map[string]string{"X-Hold-Token": "secret"})

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "secret", holds.lastToken)
	})

	t.Run("Missing token", func(t *testing.T) {
		router, _, _ := setupTestRouter()
		router.GET("/holds/:id", newHoldRouter(&fakeHolds{}, nil).GetHold)

		w := performRequest(router, "GET", "/holds/"+holdID.String(), nil, nil)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("Invalid id", func(t *testing.T) {
		router, _, _ := setupTestRouter()
		router.GET("/holds/:id", newHoldRouter(&fakeHolds{}, nil).GetHold)

		w := performRequest(router, "GET", "/holds/not-a-uuid", nil, map[string]string{"X-Hold-Token": "secret"})

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Wrong token", func(t *testing.T) {
		router, _, _ := setupTestRouter()
		router.GET("/holds/:id", newHoldRouter(&fakeHolds{err: models.ErrInvalidHoldToken}, nil).GetHold)

		w := performRequest(router, "GET", "/holds/"+holdID.String(), nil, map[string]string{"X-Hold-Token": "guess"})

		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("Abandon", func(t *testing.T) {
		router, _, _ := setupTestRouter()
		holds := &fakeHolds{}
		router.DELETE("/holds/:id", newHoldRouter(holds, nil).AbandonHold)

		w := performRequest(router, "DELETE", "/holds/"+holdID.String(), nil, map[string]string{"X-Hold-Token": "secret"})

		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Equal(t, []uuid.UUID{holdID}, holds.abandoned)
	})

	t.Run("Payment on expired hold", func(t *testing.T) {
		router, _, _ := setupTestRouter()
		router.POST("/holds/:id/payment", newHoldRouter(&fakeHolds{err: models.ErrHoldExpired}, nil).InitiatePayment)

		w := performRequest(router, "POST", "/holds/"+holdID.String()+"/payment", nil, map[string]string{"X-Hold-Token": "secret"})

		assert.Equal(t, http.StatusGone, w.Code)
		assert.Equal(t, "hold_expired", decodeBody(t, w)["error"])
	})

	t.Run("Payment session", func(t *testing.T) {
		router, _, _ := setupTestRouter()
		router.POST("/holds/:id/payment", newHoldRouter(&fakeHolds{}, nil).InitiatePayment)

		w := performRequest(router, "POST", "/holds/"+holdID.String()+"/payment", nil, map[string]string{"X-Hold-Token": "secret"})

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "pi_123", decodeBody(t, w)["payment_intent_id"])
	})
}
