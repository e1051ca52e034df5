package models

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// PaymentEventType represents the type of payment event
type PaymentEventType string

const (
	PaymentEventInitiated          PaymentEventType = "payment_initiated"
	PaymentEventWebhookReceived    PaymentEventType = "webhook_received"
	PaymentEventSuccess            PaymentEventType = "payment_success"
	PaymentEventFailed             PaymentEventType = "payment_failed"
	PaymentEventReservationCreated PaymentEventType = "reservation_created"
	PaymentEventConversionFailed   PaymentEventType = "conversion_failed"
	PaymentEventDuplicate          PaymentEventType = "duplicate_event"
	PaymentEventRefundRequested    PaymentEventType = "refund_requested"
	PaymentEventError              PaymentEventType = "error"
)

// PaymentEventSource identifies where the event originated
type PaymentEventSource string

const (
	PaymentSourceBackend   PaymentEventSource = "backend"
	PaymentSourceWebhook   PaymentEventSource = "processor_webhook"
	PaymentSourceProcessor PaymentEventSource = "processor_api"
	PaymentSourceSystem    PaymentEventSource = "system"
)

// Error codes recorded on conversion failures so operators can tell
// a slow payment from a sold-out trip.
const (
	AuditCodeHoldExpired      = "HOLD_EXPIRED"
	AuditCodeCapacityConflict = "CAPACITY_CONFLICT"
	AuditCodeAmountMismatch   = "AMOUNT_MISMATCH"
	AuditCodeSeatUnavailable  = "SEAT_UNAVAILABLE"
	AuditCodeDuplicatePayment = "DUPLICATE_PAYMENT"
	AuditCodeHoldNotFound     = "HOLD_NOT_FOUND"
	AuditCodeUnverified       = "UNVERIFIED_PAYMENT"
	AuditCodeStaleCheckout    = "STALE_CHECKOUT"
)

// PaymentAudit represents an immutable audit log entry for payment events
type PaymentAudit struct {
	ID                 uuid.UUID  `json:"id" db:"id"`
	TempBookingID      *uuid.UUID `json:"temp_booking_id,omitempty" db:"temp_booking_id"`
	ReservationID      *uuid.UUID `json:"reservation_id,omitempty" db:"reservation_id"`
	ProcessorPaymentID *string    `json:"processor_payment_id,omitempty" db:"processor_payment_id"`

	EventType   PaymentEventType   `json:"event_type" db:"event_type"`
	EventSource PaymentEventSource `json:"event_source" db:"event_source"`

	ExpectedAmount *float64 `json:"expected_amount,omitempty" db:"expected_amount"`
	ReceivedAmount *float64 `json:"received_amount,omitempty" db:"received_amount"`
	Currency       *string  `json:"currency,omitempty" db:"currency"`
	AmountsMatch   *bool    `json:"amounts_match,omitempty" db:"amounts_match"`

	PaymentStatus *string `json:"payment_status,omitempty" db:"payment_status"`
	Payload       JSONB   `json:"payload,omitempty" db:"payload"`
	RawBody       *string `json:"raw_body,omitempty" db:"raw_body"`

	ErrorMessage *string `json:"error_message,omitempty" db:"error_message"`
	ErrorCode    *string `json:"error_code,omitempty" db:"error_code"`

	IsDuplicate   bool    `json:"is_duplicate" db:"is_duplicate"`
	IPAddress     *string `json:"ip_address,omitempty" db:"ip_address"`
	UserAgent     *string `json:"user_agent,omitempty" db:"user_agent"`
	CorrelationID *string `json:"correlation_id,omitempty" db:"correlation_id"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// NewPaymentAudit creates a new payment audit entry with required fields
func NewPaymentAudit(eventType PaymentEventType, source PaymentEventSource) *PaymentAudit {
	return &PaymentAudit{
		ID:          uuid.New(),
		EventType:   eventType,
		EventSource: source,
		CreatedAt:   time.Now(),
	}
}

// SetHold sets the hold the event belongs to
func (pa *PaymentAudit) SetHold(holdID uuid.UUID) *PaymentAudit {
	pa.TempBookingID = &holdID
	return pa
}

// SetReservation sets the reservation created by the event
func (pa *PaymentAudit) SetReservation(reservationID uuid.UUID) *PaymentAudit {
	pa.ReservationID = &reservationID
	return pa
}

// SetProcessorPaymentID sets the card processor's payment id
func (pa *PaymentAudit) SetProcessorPaymentID(id string) *PaymentAudit {
	if id != "" {
		pa.ProcessorPaymentID = &id
	}
	return pa
}

// SetAmounts sets and verifies amounts - returns whether they match
func (pa *PaymentAudit) SetAmounts(expected, received float64, currency string) bool {
	pa.ExpectedAmount = &expected
	pa.ReceivedAmount = &received
	pa.Currency = &currency

	match := math.Abs(expected-received) < 0.01
	pa.AmountsMatch = &match
	return match
}

// SetPaymentStatus sets the payment status reported by the processor
func (pa *PaymentAudit) SetPaymentStatus(status string) *PaymentAudit {
	pa.PaymentStatus = &status
	return pa
}

// SetError sets error information
func (pa *PaymentAudit) SetError(message string, code string) *PaymentAudit {
	pa.ErrorMessage = &message
	if code != "" {
		pa.ErrorCode = &code
	}
	return pa
}

// SetRawBody stores the raw webhook body before parsing
func (pa *PaymentAudit) SetRawBody(body string) *PaymentAudit {
	pa.RawBody = &body
	return pa
}

// SetPayload stores structured event details
func (pa *PaymentAudit) SetPayload(payload map[string]interface{}) *PaymentAudit {
	pa.Payload = JSONB(payload)
	return pa
}

// SetMetadata sets request metadata
func (pa *PaymentAudit) SetMetadata(ip, userAgent, correlationID string) *PaymentAudit {
	if ip != "" {
		pa.IPAddress = &ip
	}
	if userAgent != "" {
		pa.UserAgent = &userAgent
	}
	if correlationID != "" {
		pa.CorrelationID = &correlationID
	}
	return pa
}

// MarkAsDuplicate marks this event as a duplicate delivery
func (pa *PaymentAudit) MarkAsDuplicate() *PaymentAudit {
	pa.IsDuplicate = true
	return pa
}
