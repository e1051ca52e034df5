package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/intercity/booking-backend/internal/database"
	"github.com/intercity/booking-backend/internal/models"
	"github.com/sirupsen/logrus"
)

// RoundTripService composes outbound and return legs into discounted offers
type RoundTripService struct {
	links  *database.RoundTripRepository
	trips  *database.TripRepository
	search *SearchService
	logger *logrus.Logger
}

// NewRoundTripService creates a new RoundTripService
func NewRoundTripService(
	links *database.RoundTripRepository,
	trips *database.TripRepository,
	search *SearchService,
	logger *logrus.Logger,
) *RoundTripService {
	return &RoundTripService{
		links:  links,
		trips:  trips,
		search: search,
		logger: logger,
	}
}

// ComposeRoundTrip applies a discount rate to the sum of both legs.
// Rates above MaxRoundTripDiscountRate are rejected, never clamped.
func ComposeRoundTrip(outboundPrice, returnPrice, rate float64) (subtotal, discount, total float64, err error) {
	if rate < 0 || rate > models.MaxRoundTripDiscountRate {
		return 0, 0, 0, models.ErrInvalidField("discount_rate",
			fmt.Sprintf("must be between 0 and %.2f", models.MaxRoundTripDiscountRate))
	}
	subtotal = roundMoney(outboundPrice + returnPrice)
	total = roundMoney((outboundPrice + returnPrice) * (1 - rate))
	discount = roundMoney(subtotal - total)
	return subtotal, discount, total, nil
}

// CreateLink lets a driver pair two of their own trips
func (s *RoundTripService) CreateLink(ctx context.Context, driver *models.Driver, req *models.CreateRoundTripLinkRequest) (*models.RoundTripLink, error) {
	rate, err := req.Validate()
	if err != nil {
		return nil, err
	}

	legs := make([]*models.Trip, 0, 2)
	for _, id := range []uuid.UUID{req.OutboundTripID, req.ReturnTripID} {
		trip, err := s.trips.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if trip == nil {
			return nil, models.ErrTripNotFound
		}
		if trip.DriverID != driver.ID {
			return nil, models.ErrForbidden
		}
		legs = append(legs, trip)
	}

	outbound, ret := legs[0], legs[1]
	if !ret.DepartureTime.After(outbound.DepartureTime) {
		return nil, models.ErrInvalidField("return_trip_id", "must depart after the outbound trip")
	}

	link := &models.RoundTripLink{
		DriverID:       driver.ID,
		OutboundTripID: req.OutboundTripID,
		ReturnTripID:   req.ReturnTripID,
		DiscountRate:   rate,
	}
	if err := s.links.Create(ctx, link); err != nil {
		if database.IsUniqueViolation(err, database.RoundTripLinkConstraint) {
			return nil, models.ErrInvalidField("return_trip_id", "trips are already linked")
		}
		return nil, fmt.Errorf("failed to create round trip link: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"link_id":       link.ID,
		"outbound_trip": link.OutboundTripID,
		"return_trip":   link.ReturnTripID,
		"discount_rate": link.DiscountRate,
	}).Info("Round trip link created")

	return link, nil
}

// GetOffers prices every return option linked to an outbound trip.
// The return leg runs toCity back to fromCity. Return trips that do not
// serve that segment are left out.
func (s *RoundTripService) GetOffers(ctx context.Context, outboundTripID uuid.UUID, fromCity, toCity string) ([]models.RoundTripOffer, error) {
	_, outbound, err := s.search.QuoteTrip(ctx, outboundTripID, fromCity, toCity)
	if err != nil {
		return nil, err
	}

	links, err := s.links.ListByOutbound(ctx, outboundTripID)
	if err != nil {
		return nil, err
	}

	offers := make([]models.RoundTripOffer, 0, len(links))
	for _, link := range links {
		retCandidate, ret, err := s.search.QuoteTrip(ctx, link.ReturnTripID, toCity, fromCity)
		if errors.Is(err, models.ErrInvalidSegment) || errors.Is(err, models.ErrTripNotFound) {
			s.logger.WithError(err).WithField("link_id", link.ID).Debug("Skipping round trip link")
			continue
		}
		if err != nil {
			return nil, err
		}
		if retCandidate.Status != models.TripStatusScheduled {
			continue
		}

		subtotal, discount, total, err := ComposeRoundTrip(outbound.SegmentPrice, ret.SegmentPrice, link.DiscountRate)
		if err != nil {
			// Stored rates are range-checked by the schema
			s.logger.WithError(err).WithField("link_id", link.ID).Error("Invalid stored discount rate")
			continue
		}

		offers = append(offers, models.RoundTripOffer{
			LinkID:         link.ID,
			Outbound:       *outbound,
			Return:         *ret,
			Subtotal:       subtotal,
			DiscountRate:   link.DiscountRate,
			DiscountAmount: discount,
			TotalPrice:     total,
		})
	}

	return offers, nil
}
