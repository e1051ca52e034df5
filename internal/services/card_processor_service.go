package services

import (
	"bytes"
	"context"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/intercity/booking-backend/internal/config"
	"github.com/intercity/booking-backend/internal/models"
	"github.com/sirupsen/logrus"
)

// PaymentProcessor is the hosted card checkout used to collect payment for holds
type PaymentProcessor interface {
	InitiatePayment(ctx context.Context, params *InitiatePaymentParams) (*PaymentSession, error)
	ParseWebhook(body []byte) (*ProcessorWebhook, error)
	CheckStatus(ctx context.Context, uid, statusIndicator string) (*ProcessorPaymentStatus, error)
	IsConfigured() bool
}

// CardProcessorService talks to the card processor's hosted checkout API
type CardProcessorService struct {
	config *config.PaymentConfig
	logger *logrus.Logger
	client *http.Client
}

// checkoutRequest is the body sent to the processor.
// merchantToken is never sent; it only signs the check value.
type checkoutRequest struct {
	MerchantKey      string `json:"merchantKey"`
	LogoURL          string `json:"logoUrl,omitempty"`
	ReturnURL        string `json:"returnUrl"`
	WebhookURL       string `json:"webhookUrl,omitempty"`
	InvoiceID        string `json:"invoiceId"`
	Amount           string `json:"amount"`
	CurrencyCode     string `json:"currencyCode"`
	OrderDescription string `json:"orderDescription,omitempty"`

	CustomerFirstName string `json:"customerFirstName"`
	CustomerLastName  string `json:"customerLastName"`
	CustomerEmail     string `json:"customerEmail"`
	CustomerPhone     string `json:"customerMobilePhone"`

	CheckValue string `json:"checkValue"`
}

// checkoutResponse is the processor's answer to a checkout request
type checkoutResponse struct {
	Status          string `json:"status"`          // "success" or "PENDING" when the page is ready
	UID             string `json:"uid"`             // processor payment id
	StatusIndicator string `json:"statusIndicator"` // token for status checks
	PaymentPage     string `json:"paymentPage"`     // URL the passenger is redirected to
	Message         string `json:"message,omitempty"`
}

type statusRequest struct {
	MerchantKey     string `json:"merchantKey"`
	UID             string `json:"uid"`
	StatusIndicator string `json:"statusIndicator"`
}

// ProcessorPaymentStatus is the processor's own record of a payment
type ProcessorPaymentStatus struct {
	Status        string `json:"status"`
	PaymentStatus string `json:"paymentStatus"` // "pending", "success", "failed", "cancelled"
	Amount        string `json:"amount"`
	CurrencyCode  string `json:"currencyCode,omitempty"`
	InvoiceID     string `json:"invoiceId"`
	TransactionID string `json:"transactionId,omitempty"`
	Message       string `json:"message,omitempty"`
}

// IsSuccessful reports whether the processor captured the payment
func (s *ProcessorPaymentStatus) IsSuccessful() bool {
	return strings.EqualFold(s.PaymentStatus, "SUCCESS")
}

// IsFinal reports whether the payment can no longer change
func (s *ProcessorPaymentStatus) IsFinal() bool {
	switch strings.ToUpper(s.PaymentStatus) {
	case "SUCCESS", "FAILED", "CANCELLED":
		return true
	}
	return false
}

// ProcessorWebhook is the payment outcome pushed by the processor
type ProcessorWebhook struct {
	UID           string `json:"uid"`
	InvoiceID     string `json:"invoiceId"`
	Amount        string `json:"amount"`
	CurrencyCode  string `json:"currencyCode"`
	PaymentStatus string `json:"paymentStatus"` // "SUCCESS", "FAILED", "CANCELLED"
	TransactionID string `json:"transactionId,omitempty"`
}

// IsSuccessful reports whether the webhook confirms a captured payment
func (w *ProcessorWebhook) IsSuccessful() bool {
	return strings.EqualFold(w.PaymentStatus, "SUCCESS")
}

// PaymentSession is a started hosted checkout
type PaymentSession struct {
	ProcessorPaymentID string
	StatusIndicator    string
	PaymentURL         string
}

// InitiatePaymentParams contains all parameters needed to initiate a payment
type InitiatePaymentParams struct {
	InvoiceID        string
	Amount           float64
	CurrencyCode     string
	CustomerName     string // split into first/last name
	CustomerPhone    string
	CustomerEmail    string
	OrderDescription string
}

// NewCardProcessorService creates a new card processor client
func NewCardProcessorService(cfg *config.PaymentConfig, logger *logrus.Logger) *CardProcessorService {
	return &CardProcessorService{
		config: cfg,
		logger: logger,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// GenerateCheckValue creates the SHA-512 check value that authenticates a request
// Step 1: hash1 = SHA512(merchantToken) uppercase hex
// Step 2: hash2 = SHA512("merchantKey|invoiceId|amount|currencyCode|hash1") uppercase hex
func (s *CardProcessorService) GenerateCheckValue(invoiceID, amount, currencyCode string) string {
	hash1 := sha512.Sum512([]byte(s.config.MerchantToken))
	hash1Hex := strings.ToUpper(hex.EncodeToString(hash1[:]))

	data := fmt.Sprintf("%s|%s|%s|%s|%s",
		s.config.MerchantKey,
		invoiceID,
		amount,
		currencyCode,
		hash1Hex,
	)
	hash2 := sha512.Sum512([]byte(data))
	return strings.ToUpper(hex.EncodeToString(hash2[:]))
}

// InitiatePayment creates a hosted checkout and returns the payment page URL
func (s *CardProcessorService) InitiatePayment(ctx context.Context, params *InitiatePaymentParams) (*PaymentSession, error) {
	if !s.IsConfigured() {
		return nil, fmt.Errorf("card processor not configured: missing merchant credentials")
	}

	amount := FormatAmount(params.Amount)
	firstName, lastName := splitName(params.CustomerName)
	if lastName == "" {
		lastName = "."
	}

	request := &checkoutRequest{
		MerchantKey:       s.config.MerchantKey,
		LogoURL:           s.config.LogoURL,
		ReturnURL:         s.config.ReturnURL,
		WebhookURL:        s.config.WebhookURL,
		InvoiceID:         params.InvoiceID,
		Amount:            amount,
		CurrencyCode:      params.CurrencyCode,
		OrderDescription:  params.OrderDescription,
		CustomerFirstName: firstName,
		CustomerLastName:  lastName,
		CustomerEmail:     params.CustomerEmail,
		CustomerPhone:     params.CustomerPhone,
		CheckValue:        s.GenerateCheckValue(params.InvoiceID, amount, params.CurrencyCode),
	}

	s.logger.WithFields(logrus.Fields{
		"invoice_id":  params.InvoiceID,
		"amount":      amount,
		"currency":    params.CurrencyCode,
		"environment": s.config.Environment,
	}).Info("Initiating card payment")

	jsonBody, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.ProcessorURL, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.WithError(err).Error("Failed to call card processor")
		return nil, fmt.Errorf("failed to call card processor: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"status_code": resp.StatusCode,
		"invoice_id":  params.InvoiceID,
	}).Debug("Card processor response received")

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("card processor returned status %d: %s", resp.StatusCode, string(body))
	}

	var checkout checkoutResponse
	if err := json.Unmarshal(body, &checkout); err != nil {
		s.logger.WithError(err).WithField("body", string(body)).Error("Failed to parse card processor response")
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if !strings.EqualFold(checkout.Status, "success") && !strings.EqualFold(checkout.Status, "PENDING") {
		errMsg := checkout.Message
		if errMsg == "" {
			errMsg = fmt.Sprintf("status=%s", checkout.Status)
		}
		return nil, fmt.Errorf("payment initiation failed: %s", errMsg)
	}
	if checkout.UID == "" || checkout.PaymentPage == "" {
		return nil, fmt.Errorf("payment initiation failed: incomplete checkout response")
	}

	s.logger.WithFields(logrus.Fields{
		"uid":        checkout.UID,
		"invoice_id": params.InvoiceID,
	}).Info("Card payment initiated")

	return &PaymentSession{
		ProcessorPaymentID: checkout.UID,
		StatusIndicator:    checkout.StatusIndicator,
		PaymentURL:         checkout.PaymentPage,
	}, nil
}

// CheckStatus asks the processor for the current state of a payment.
// Webhook bodies are unsigned, so this answer is the one conversions trust.
func (s *CardProcessorService) CheckStatus(ctx context.Context, uid, statusIndicator string) (*ProcessorPaymentStatus, error) {
	statusURL := s.config.CheckStatusURL()
	if !s.IsConfigured() || statusURL == "" {
		return nil, fmt.Errorf("card processor not configured: cannot check payment %s", uid)
	}

	s.logger.WithFields(logrus.Fields{
		"uid":         uid,
		"environment": s.config.Environment,
	}).Info("Checking card payment status")

	jsonBody, err := json.Marshal(&statusRequest{
		MerchantKey:     s.config.MerchantKey,
		UID:             uid,
		StatusIndicator: statusIndicator,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, statusURL, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to check status: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("card processor returned status %d: %s", resp.StatusCode, string(body))
	}

	var status ProcessorPaymentStatus
	if err := json.Unmarshal(body, &status); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if strings.EqualFold(status.Status, "error") {
		return nil, fmt.Errorf("status check failed: %s", status.Message)
	}

	return &status, nil
}

// ParseWebhook validates and parses a webhook payload. The body is only a
// notification; the conversion service confirms it with CheckStatus.
func (s *CardProcessorService) ParseWebhook(body []byte) (*ProcessorWebhook, error) {
	var payload ProcessorWebhook
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, &models.ValidationError{Message: "invalid webhook payload: " + err.Error()}
	}

	if payload.UID == "" || payload.InvoiceID == "" {
		return nil, models.ErrInvalidInput("webhook missing required fields")
	}

	s.logger.WithFields(logrus.Fields{
		"uid":            payload.UID,
		"invoice_id":     payload.InvoiceID,
		"payment_status": payload.PaymentStatus,
		"amount":         payload.Amount,
	}).Info("Webhook payload parsed")

	return &payload, nil
}

// IsConfigured returns true if the card processor is properly configured
func (s *CardProcessorService) IsConfigured() bool {
	return s.config.MerchantKey != "" && s.config.MerchantToken != "" && s.config.ProcessorURL != ""
}

// FormatAmount renders an amount the way the processor signs it
func FormatAmount(amount float64) string {
	return fmt.Sprintf("%.2f", amount)
}

func splitName(fullName string) (firstName, lastName string) {
	parts := strings.Fields(fullName)
	if len(parts) == 0 {
		return "Customer", ""
	}
	if len(parts) == 1 {
		return parts[0], ""
	}
	return parts[0], strings.Join(parts[1:], " ")
}
