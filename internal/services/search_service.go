package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/intercity/booking-backend/internal/config"
	"github.com/intercity/booking-backend/internal/database"
	"github.com/intercity/booking-backend/internal/models"
	"github.com/sirupsen/logrus"
)

// candidateFactor sets the candidate page size per requested result
const candidateFactor = 5

// SearchMeta carries request context recorded with search analytics
type SearchMeta struct {
	UserID         *uuid.UUID
	IPAddress      string
	ClientPlatform string
}

// SearchService handles business logic for trip search
type SearchService struct {
	trips      *database.TripRepository
	catalog    *database.RouteCatalogRepository
	searchLogs *database.SearchLogRepository
	pricer     *SegmentPricer
	cfg        config.BookingConfig
	currency   string
	logger     *logrus.Logger
	now        func() time.Time
}

// NewSearchService creates a new search service. searchLogs may be nil to
// disable analytics.
func NewSearchService(
	trips *database.TripRepository,
	catalog *database.RouteCatalogRepository,
	searchLogs *database.SearchLogRepository,
	pricer *SegmentPricer,
	cfg config.BookingConfig,
	currency string,
	logger *logrus.Logger,
) *SearchService {
	return &SearchService{
		trips:      trips,
		catalog:    catalog,
		searchLogs: searchLogs,
		pricer:     pricer,
		cfg:        cfg,
		currency:   currency,
		logger:     logger,
		now:        time.Now,
	}
}

// SearchTrips finds bookable trips serving fromCity before toCity
func (s *SearchService) SearchTrips(ctx context.Context, req *models.SearchRequest, meta SearchMeta) (*models.SearchResponse, error) {
	startTime := time.Now()

	if err := req.Validate(s.cfg.SearchDefaultLimit, s.cfg.SearchMaxLimit); err != nil {
		return nil, err
	}

	loc, err := s.resolveZone(req.Country)
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"from":      req.From,
		"to":        req.To,
		"date":      req.DepartureDate,
		"time_zone": loc.String(),
		"user_id":   meta.UserID,
	}).Info("Processing search request")

	filter := database.CandidateFilter{
		FromCity:    req.From,
		ToCity:      req.To,
		DepartAfter: s.now(),
		MinSeats:    req.MinSeats,
		Limit:       req.Limit * candidateFactor,
	}
	if req.DepartureDate != nil {
		day, _ := time.ParseInLocation(models.DateLayout, *req.DepartureDate, loc)
		end := day.AddDate(0, 0, 1)
		filter.WindowStart = &day
		filter.WindowEnd = &end
	}

	// Pages arrive in departure order, so a departure sort can stop once it
	// has enough results. Any other ranking needs every candidate priced.
	results := make([]models.TripSearchResult, 0, req.Limit)
	candidates := 0
	for {
		page, err := s.trips.SearchCandidates(ctx, filter)
		if err != nil {
			s.logger.WithError(err).Error("Error finding trips")
			return nil, fmt.Errorf("error searching for trips: %w", err)
		}
		candidates += len(page)

		priced, err := s.priceCandidates(ctx, page, req.From, req.To)
		if err != nil {
			return nil, err
		}
		for _, r := range priced {
			if req.MaxPrice != nil && r.SegmentPrice > *req.MaxPrice {
				continue
			}
			results = append(results, r)
		}

		if len(page) < filter.Limit {
			break
		}
		if req.SortBy == models.SortByDeparture && len(results) >= req.Limit {
			break
		}
		last := page[len(page)-1]
		filter.After = &database.CandidateCursor{DepartureTime: last.DepartureTime, ID: last.ID}
	}

	SortResults(results, req.SortBy)
	if len(results) > req.Limit {
		results = results[:req.Limit]
	}

	response := &models.SearchResponse{
		Status:   "success",
		TimeZone: loc.String(),
		Results:  results,
	}
	if len(results) == 0 {
		response.Status = "no_results"
		response.Message = fmt.Sprintf("No trips found from %s to %s. Try a different date or nearby city.", req.From, req.To)
	} else {
		response.Message = fmt.Sprintf("Found %d trip(s) from %s to %s", len(results), req.From, req.To)
	}

	responseTime := time.Since(startTime)
	response.SearchTimeMs = responseTime.Milliseconds()

	s.logSearch(req, len(results), meta, responseTime)

	s.logger.WithFields(logrus.Fields{
		"from":        req.From,
		"to":          req.To,
		"results":     len(results),
		"candidates":  candidates,
		"response_ms": response.SearchTimeMs,
	}).Info("Search completed successfully")

	return response, nil
}

// QuoteTrip prices one trip for a segment. The returned candidate carries
// the trip's served stations.
func (s *SearchService) QuoteTrip(ctx context.Context, tripID uuid.UUID, fromCity, toCity string) (*models.TripCandidate, *models.TripSearchResult, error) {
	candidate, cities, fares, err := s.loadCandidate(ctx, tripID)
	if err != nil {
		return nil, nil, err
	}

	result, err := s.buildResult(candidate, cities, fares, fromCity, toCity)
	if err != nil {
		return nil, nil, err
	}
	return candidate, result, nil
}

// QuoteStations prices one trip between two of its served stations.
// The pickup station must allow boarding and the dropoff station must allow
// alighting; the segment itself is checked by the pricer.
func (s *SearchService) QuoteStations(ctx context.Context, tripID, pickupID, dropoffID uuid.UUID) (*models.TripCandidate, *models.TripSearchResult, error) {
	candidate, cities, fares, err := s.loadCandidate(ctx, tripID)
	if err != nil {
		return nil, nil, err
	}

	pickup, ok := candidate.Station(pickupID)
	if !ok || !pickup.IsPickupPoint {
		return nil, nil, models.ErrInvalidField("pickup_station_id", "is not a pickup point on this trip")
	}
	dropoff, ok := candidate.Station(dropoffID)
	if !ok || !dropoff.IsDropoffPoint {
		return nil, nil, models.ErrInvalidField("dropoff_station_id", "is not a dropoff point on this trip")
	}

	result, err := s.buildResult(candidate, cities, fares, pickup.CityName, dropoff.CityName)
	if err != nil {
		return nil, nil, err
	}
	return candidate, result, nil
}

func (s *SearchService) loadCandidate(ctx context.Context, tripID uuid.UUID) (
	*models.TripCandidate,
	map[uuid.UUID][]models.RouteCity,
	map[uuid.UUID][]models.IntercityFare,
	error,
) {
	candidate, err := s.trips.GetCandidate(ctx, tripID)
	if err != nil {
		return nil, nil, nil, err
	}
	if candidate == nil {
		return nil, nil, nil, models.ErrTripNotFound
	}

	stations, cities, fares, err := s.loadTripContext(ctx, []models.TripCandidate{*candidate})
	if err != nil {
		return nil, nil, nil, err
	}
	candidate.Stations = stations[tripID]
	return candidate, cities, fares, nil
}

func (s *SearchService) priceCandidates(ctx context.Context, candidates []models.TripCandidate, fromCity, toCity string) ([]models.TripSearchResult, error) {
	results := make([]models.TripSearchResult, 0, len(candidates))
	if len(candidates) == 0 {
		return results, nil
	}

	stations, cities, fares, err := s.loadTripContext(ctx, candidates)
	if err != nil {
		return nil, err
	}

	for i := range candidates {
		c := &candidates[i]
		c.Stations = stations[c.ID]

		result, err := s.buildResult(c, cities, fares, fromCity, toCity)
		if errors.Is(err, models.ErrInvalidSegment) {
			s.logger.WithError(err).WithField("trip_id", c.ID).Debug("Skipping trip for segment")
			continue
		}
		if err != nil {
			return nil, err
		}
		results = append(results, *result)
	}
	return results, nil
}

func (s *SearchService) loadTripContext(ctx context.Context, candidates []models.TripCandidate) (
	map[uuid.UUID][]models.TripStation,
	map[uuid.UUID][]models.RouteCity,
	map[uuid.UUID][]models.IntercityFare,
	error,
) {
	tripIDs := make([]uuid.UUID, 0, len(candidates))
	templateSeen := make(map[uuid.UUID]bool)
	templateIDs := make([]uuid.UUID, 0)
	for _, c := range candidates {
		tripIDs = append(tripIDs, c.ID)
		if !templateSeen[c.RouteTemplateID] {
			templateSeen[c.RouteTemplateID] = true
			templateIDs = append(templateIDs, c.RouteTemplateID)
		}
	}

	stations, err := s.trips.GetStationsForTrips(ctx, tripIDs)
	if err != nil {
		return nil, nil, nil, err
	}
	cities, err := s.catalog.GetCitiesForTemplates(ctx, templateIDs)
	if err != nil {
		return nil, nil, nil, err
	}
	fares, err := s.catalog.GetFaresForTemplates(ctx, templateIDs)
	if err != nil {
		return nil, nil, nil, err
	}
	return stations, cities, fares, nil
}

func (s *SearchService) buildResult(
	c *models.TripCandidate,
	cities map[uuid.UUID][]models.RouteCity,
	fares map[uuid.UUID][]models.IntercityFare,
	fromCity, toCity string,
) (*models.TripSearchResult, error) {
	quote, err := s.pricer.Quote(PricingInput{
		RouteTemplateID: c.RouteTemplateID,
		BasePrice:       c.BasePrice,
		Cities:          cities[c.RouteTemplateID],
		Fares:           fares[c.RouteTemplateID],
		ServedCities:    c.ServedCities(),
	}, fromCity, toCity)
	if err != nil {
		return nil, err
	}

	pickups := c.StationsIn(quote.FromCity, true)
	dropoffs := c.StationsIn(quote.ToCity, false)
	if len(pickups) == 0 {
		return nil, &models.SegmentError{From: fromCity, To: toCity, Reason: "no pickup station in origin city"}
	}
	if len(dropoffs) == 0 {
		return nil, &models.SegmentError{From: fromCity, To: toCity, Reason: "no dropoff station in destination city"}
	}

	result := &models.TripSearchResult{
		TripID:          c.ID,
		RouteTemplateID: c.RouteTemplateID,
		RouteName:       c.RouteName,
		FromCity:        quote.FromCity,
		ToCity:          quote.ToCity,
		DepartureTime:   c.DepartureTime,
		ArrivalTime:     c.ArrivalTime,
		AvailableSeats:  c.AvailableSeats,
		SegmentPrice:    quote.SegmentPrice,
		FullRoutePrice:  quote.FullRoutePrice,
		PriceSource:     quote.PriceSource,
		Currency:        s.currency,
		Driver: models.DriverInfo{
			ID:     c.DriverID,
			Name:   c.DriverName,
			Rating: c.DriverRating,
		},
		Vehicle: models.VehicleInfo{
			Make:         c.VehicleMake,
			Model:        c.VehicleModel,
			LicensePlate: c.VehiclePlate,
			SeatCapacity: c.VehicleSeats,
			HasAC:        c.VehicleHasAC,
			HasWifi:      c.VehicleWifi,
		},
		Luggage:         c.LuggagePolicy().Summary(),
		PickupStations:  stationInfos(pickups),
		DropoffStations: stationInfos(dropoffs),
	}
	if d, ok := c.Duration(); ok {
		minutes := int(d.Minutes())
		result.DurationMinutes = &minutes
	}
	return result, nil
}

// SortResults orders results by key. Ties are broken by trip id so the
// order is stable across calls. Trips without an arrival time sort last
// by duration.
func SortResults(results []models.TripSearchResult, key models.SearchSortKey) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		switch key {
		case models.SortByPrice:
			if a.SegmentPrice != b.SegmentPrice {
				return a.SegmentPrice < b.SegmentPrice
			}
		case models.SortByDuration:
			switch {
			case a.DurationMinutes == nil && b.DurationMinutes != nil:
				return false
			case a.DurationMinutes != nil && b.DurationMinutes == nil:
				return true
			case a.DurationMinutes != nil && *a.DurationMinutes != *b.DurationMinutes:
				return *a.DurationMinutes < *b.DurationMinutes
			}
		case models.SortByRating:
			if a.Driver.Rating != b.Driver.Rating {
				return a.Driver.Rating > b.Driver.Rating
			}
		default:
			if !a.DepartureTime.Equal(b.DepartureTime) {
				return a.DepartureTime.Before(b.DepartureTime)
			}
		}
		return a.TripID.String() < b.TripID.String()
	})
}

// resolveZone picks the calendar used for departure_date matching: UTC,
// or the configured zone of the destination country
func (s *SearchService) resolveZone(country *string) (*time.Location, error) {
	if country == nil {
		return time.UTC, nil
	}
	zone, ok := s.cfg.CountryTimeZones[*country]
	if !ok {
		return nil, models.ErrInvalidField("country", fmt.Sprintf("no time zone configured for %s", *country))
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, fmt.Errorf("failed to load time zone %s: %w", zone, err)
	}
	return loc, nil
}

// logSearch logs the search request for analytics
func (s *SearchService) logSearch(req *models.SearchRequest, resultCount int, meta SearchMeta, responseTime time.Duration) {
	if s.searchLogs == nil {
		return
	}

	log := &models.SearchLog{
		FromInput:      req.From,
		ToInput:        req.To,
		DepartureDate:  req.DepartureDate,
		ResultsCount:   resultCount,
		ResponseTimeMs: responseTime.Milliseconds(),
		UserID:         meta.UserID,
	}
	if meta.IPAddress != "" {
		log.IPAddress = &meta.IPAddress
	}
	if meta.ClientPlatform != "" {
		log.ClientPlatform = &meta.ClientPlatform
	}

	// Log asynchronously to not block response
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.searchLogs.LogSearch(ctx, log); err != nil {
			s.logger.WithError(err).Warn("Failed to log search")
		}
	}()
}

func stationInfos(stations []models.TripStation) []models.StationInfo {
	out := make([]models.StationInfo, 0, len(stations))
	for _, st := range stations {
		out = append(out, models.StationInfo{
			ID:      st.StationID,
			Name:    st.StationName,
			Address: st.StationAddress,
		})
	}
	return out
}
