package services

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/intercity/booking-backend/internal/database"
	"github.com/intercity/booking-backend/internal/models"
	"github.com/phpdave11/gofpdf"
	"github.com/sirupsen/logrus"
)

// TicketService looks up reservations for passengers and renders e-tickets
type TicketService struct {
	reservations *database.ReservationRepository
	logger       *logrus.Logger
}

// NewTicketService creates a new TicketService
func NewTicketService(reservations *database.ReservationRepository, logger *logrus.Logger) *TicketService {
	return &TicketService{reservations: reservations, logger: logger}
}

// GetReservation returns a reservation to a passenger who knows both its
// booking reference and the email it was booked with
func (s *TicketService) GetReservation(ctx context.Context, reference, email string) (*models.ReservationDetails, error) {
	details, err := s.reservations.GetDetailsByReference(ctx, strings.ToUpper(strings.TrimSpace(reference)))
	if err != nil {
		return nil, err
	}
	if details == nil || !strings.EqualFold(strings.TrimSpace(email), details.Email) {
		return nil, models.ErrReservationNotFound
	}
	return details, nil
}

// GenerateETicket renders a reservation as a PDF. Returns the document and
// a file name for download.
func (s *TicketService) GenerateETicket(ctx context.Context, reference, email string) ([]byte, string, error) {
	details, err := s.GetReservation(ctx, reference, email)
	if err != nil {
		return nil, "", err
	}
	if details.Status == models.ReservationStatusCancelled {
		return nil, "", fmt.Errorf("%w: reservation was cancelled", models.ErrReservationNotFound)
	}

	doc, err := renderETicket(details)
	if err != nil {
		s.logger.WithError(err).WithField("booking_reference", details.BookingReference).Error("Failed to render e-ticket")
		return nil, "", err
	}

	s.logger.WithField("booking_reference", details.BookingReference).Info("E-ticket generated")
	return doc, fmt.Sprintf("eticket-%s.pdf", details.BookingReference), nil
}

func renderETicket(d *models.ReservationDetails) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("E-Ticket "+d.BookingReference, false)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 18)
	pdf.Cell(0, 10, "E-TICKET")
	pdf.Ln(12)

	pdf.SetFont("Helvetica", "B", 14)
	pdf.Cell(0, 8, d.BookingReference)
	pdf.Ln(10)

	arrival := "-"
	if d.ArrivalTime != nil {
		arrival = d.ArrivalTime.UTC().Format("02 Jan 2006 15:04 MST")
	}

	pdf.SetFont("Helvetica", "", 12)
	lines := []string{
		fmt.Sprintf("Passenger : %s", orDash(d.Name)),
		fmt.Sprintf("Phone     : %s", orDash(d.Phone)),
		fmt.Sprintf("Route     : %s", orDash(d.RouteName)),
		fmt.Sprintf("From      : %s, %s", orDash(d.PickupStationName), orDash(d.PickupCity)),
		fmt.Sprintf("To        : %s, %s", orDash(d.DropoffStationName), orDash(d.DropoffCity)),
		fmt.Sprintf("Departure : %s", d.DepartureTime.UTC().Format("02 Jan 2006 15:04 MST")),
		fmt.Sprintf("Arrival   : %s", arrival),
		fmt.Sprintf("Seats     : %s", orDash(strings.Join(d.Seats, ", "))),
		fmt.Sprintf("Bags      : %d", d.NumberOfBags),
		fmt.Sprintf("Driver    : %s", orDash(d.DriverName)),
		fmt.Sprintf("Vehicle   : %s", orDash(d.VehiclePlate)),
		fmt.Sprintf("Paid      : %s %s", FormatAmount(d.TotalPrice), d.Currency),
	}
	for _, line := range lines {
		pdf.Cell(0, 7, line)
		pdf.Ln(7)
	}

	pdf.Ln(6)
	pdf.SetFont("Helvetica", "I", 10)
	pdf.MultiCell(0, 6, fmt.Sprintf(
		"Show this ticket and the booking reference to the driver at boarding. Issued %s.",
		time.Now().UTC().Format("02 Jan 2006")), "", "", false)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to render e-ticket: %w", err)
	}
	return buf.Bytes(), nil
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
