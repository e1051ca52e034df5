package services

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/intercity/booking-backend/internal/models"
	"github.com/sirupsen/logrus"
)

// PricingInput is everything the pricing engine needs for one trip
type PricingInput struct {
	RouteTemplateID uuid.UUID
	BasePrice       float64
	Cities          []models.RouteCity     // template cities, any order
	Fares           []models.IntercityFare // template fare table
	ServedCities    []string               // cities the trip serves; nil means all template cities
}

// SegmentPricer resolves sub-segment fares on a route template
type SegmentPricer struct {
	logger *logrus.Logger
}

// NewSegmentPricer creates a new SegmentPricer
func NewSegmentPricer(logger *logrus.Logger) *SegmentPricer {
	return &SegmentPricer{logger: logger}
}

// Quote validates the from/to pair against the trip and prices it.
//
// Resolution order: exact directional fare, then the sum of adjacent hop
// fares, then the template base price if any hop is missing.
func (p *SegmentPricer) Quote(in PricingInput, fromCity, toCity string) (*models.SegmentQuote, error) {
	cities := orderedCities(in.Cities)

	if in.ServedCities != nil {
		if !containsCity(in.ServedCities, fromCity) {
			return nil, &models.SegmentError{From: fromCity, To: toCity, Reason: "origin is not served by this trip"}
		}
		if !containsCity(in.ServedCities, toCity) {
			return nil, &models.SegmentError{From: fromCity, To: toCity, Reason: "destination is not served by this trip"}
		}
	}

	fromIdx := cityIndex(cities, fromCity)
	toIdx := cityIndex(cities, toCity)
	if fromIdx < 0 || toIdx < 0 {
		return nil, &models.SegmentError{From: fromCity, To: toCity, Reason: "city is not on the route"}
	}
	if cities[fromIdx].SequenceOrder >= cities[toIdx].SequenceOrder {
		return nil, &models.SegmentError{From: fromCity, To: toCity, Reason: "segment runs against the route direction"}
	}

	fares := indexFares(in.Fares)
	price, source := p.resolve(in, cities, fares, fromIdx, toIdx, true)

	quote := &models.SegmentQuote{
		FromCity:     cities[fromIdx].CityName,
		ToCity:       cities[toIdx].CityName,
		SegmentPrice: price,
		PriceSource:  source,
	}

	if len(cities) < 2 {
		quote.FullRoutePrice = roundMoney(in.BasePrice)
	} else {
		// Display only, a fallback here is not worth a warning
		quote.FullRoutePrice, _ = p.resolve(in, cities, fares, 0, len(cities)-1, false)
	}

	return quote, nil
}

// resolve prices cities[fromIdx] to cities[toIdx]. Hops run over every
// template city in between, including cities the trip does not serve.
func (p *SegmentPricer) resolve(
	in PricingInput,
	cities []models.RouteCity,
	fares map[string]float64,
	fromIdx, toIdx int,
	logFallback bool,
) (float64, models.PriceSource) {
	if price, ok := fares[fareKey(cities[fromIdx].CityName, cities[toIdx].CityName)]; ok {
		return roundMoney(price), models.PriceSourceExactFare
	}

	if toIdx-fromIdx > 1 {
		sum := 0.0
		complete := true
		for i := fromIdx; i < toIdx; i++ {
			hop, ok := fares[fareKey(cities[i].CityName, cities[i+1].CityName)]
			if !ok {
				complete = false
				break
			}
			sum += hop
		}
		if complete {
			return roundMoney(sum), models.PriceSourceHopSum
		}
	}

	if !logFallback {
		return roundMoney(in.BasePrice), models.PriceSourceBasePriceFallback
	}
	p.logger.WithFields(logrus.Fields{
		"route_template_id": in.RouteTemplateID,
		"from_city":         cities[fromIdx].CityName,
		"to_city":           cities[toIdx].CityName,
		"base_price":        in.BasePrice,
	}).Warn("Missing intercity fare, falling back to route base price")

	return roundMoney(in.BasePrice), models.PriceSourceBasePriceFallback
}

// LuggageFee charges every bag after the first. Exceeding the policy's
// additional bag cap is rejected, never clamped.
func LuggageFee(policy models.LuggagePolicy, numberOfBags int) (float64, error) {
	if numberOfBags < 0 {
		return 0, models.ErrInvalidField("number_of_bags", "must not be negative")
	}
	extra := numberOfBags - 1
	if extra <= 0 {
		return 0, nil
	}
	if extra > policy.MaxAdditionalBags {
		return 0, models.ErrInvalidField("number_of_bags",
			fmt.Sprintf("exceeds the luggage policy: at most %d bags allowed", policy.MaxAdditionalBags+1))
	}
	return roundMoney(float64(extra) * policy.ExcessFeePerBag), nil
}

func orderedCities(cities []models.RouteCity) []models.RouteCity {
	out := make([]models.RouteCity, len(cities))
	copy(out, cities)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].SequenceOrder < out[j].SequenceOrder
	})
	return out
}

func cityIndex(cities []models.RouteCity, name string) int {
	for i, c := range cities {
		if normalizeCity(c.CityName) == normalizeCity(name) {
			return i
		}
	}
	return -1
}

func containsCity(cities []string, name string) bool {
	for _, c := range cities {
		if normalizeCity(c) == normalizeCity(name) {
			return true
		}
	}
	return false
}

func indexFares(fares []models.IntercityFare) map[string]float64 {
	idx := make(map[string]float64, len(fares))
	for _, f := range fares {
		idx[fareKey(f.FromCity, f.ToCity)] = f.Price
	}
	return idx
}

func fareKey(from, to string) string {
	return normalizeCity(from) + "\x00" + normalizeCity(to)
}

func normalizeCity(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func roundMoney(v float64) float64 {
	return math.Round(v*100) / 100
}
