package client

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bobby-s-dev/heat-guard/internal/models"
	"go.uber.org/zap"
)

const (
	geocodeTimeout     = 5 * time.Second
	geocodeMaxAttempts = 3
)

type ResolutionStatus string

const (
	ResolutionFound       ResolutionStatus = "found"
	ResolutionNotFound    ResolutionStatus = "not_found"
	ResolutionUnreachable ResolutionStatus = "unreachable"
)

// Resolution is the outcome of a geocoding lookup. NotFound and Unreachable
// are ordinary outcomes, not errors; Location is only set when Found.
type Resolution struct {
	Status   ResolutionStatus
	Location models.ResolvedLocation
	Cause    error
}

func (r Resolution) Found() bool {
	return r.Status == ResolutionFound
}

type NominatimClient struct {
	fetcher      *Fetcher
	logger       *zap.Logger
	baseURL      string
	userAgent    string
	countryCodes string
}

type nominatimPlace struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
}

func NewNominatimClient(fetcher *Fetcher, baseURL, userAgent, countryCodes string, logger *zap.Logger) *NominatimClient {
	return &NominatimClient{
		fetcher:      fetcher,
		logger:       logger,
		baseURL:      strings.TrimRight(baseURL, "/"),
		userAgent:    userAgent,
		countryCodes: countryCodes,
	}
}

// Resolve looks up the single best match for query within the configured
// countries. Only an Unauthorized failure or a malformed coordinate in the
// provider response is returned as an error.
func (c *NominatimClient) Resolve(ctx context.Context, query string) (Resolution, error) {
	params := url.Values{
		"format":       {"json"},
		"q":            {query},
		"limit":        {"1"},
		"countrycodes": {c.countryCodes},
	}

	places, err := FetchJSON[[]nominatimPlace](ctx, c.fetcher, c.baseURL+"/search?"+params.Encode(), FetchOptions{
		Upstream:    "nominatim",
		Timeout:     geocodeTimeout,
		MaxAttempts: geocodeMaxAttempts,
		Headers:     map[string]string{"User-Agent": c.userAgent},
	})
	if err != nil {
		if IsKind(err, KindUnauthorized) {
			return Resolution{}, err
		}
		c.logger.Warn("Geocoding failed, treating location as unresolved",
			zap.String("query", query),
			zap.Error(err))
		return Resolution{Status: ResolutionUnreachable, Cause: err}, nil
	}

	if len(places) == 0 {
		c.logger.Debug("Geocoding returned no results", zap.String("query", query))
		return Resolution{Status: ResolutionNotFound}, nil
	}

	place := places[0]
	lat, err := strconv.ParseFloat(place.Lat, 64)
	if err != nil {
		return Resolution{}, NewError(KindUpstream, "nominatim returned an invalid latitude "+strconv.Quote(place.Lat), err)
	}
	lon, err := strconv.ParseFloat(place.Lon, 64)
	if err != nil {
		return Resolution{}, NewError(KindUpstream, "nominatim returned an invalid longitude "+strconv.Quote(place.Lon), err)
	}

	coord := models.Coordinate{Latitude: lat, Longitude: lon}
	if !coord.Valid() {
		return Resolution{}, NewError(KindUpstream, "nominatim returned an out-of-range coordinate "+coord.String(), nil)
	}

	return Resolution{
		Status: ResolutionFound,
		Location: models.ResolvedLocation{
			Coordinate:  coord,
			DisplayName: place.DisplayName,
		},
	}, nil
}
