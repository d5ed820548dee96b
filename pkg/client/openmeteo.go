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
	weatherTimeout     = 10 * time.Second
	weatherMaxAttempts = 3

	currentFields = "temperature_2m,relative_humidity_2m,apparent_temperature,uv_index"
)

type OpenMeteoClient struct {
	fetcher  *Fetcher
	logger   *zap.Logger
	baseURL  string
	timezone string
}

// OpenMeteoCurrentResponse keeps every reading as a pointer so a missing
// field can be told apart from a zero reading.
type OpenMeteoCurrentResponse struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Current   *struct {
		Time                string   `json:"time"`
		Temperature2M       *float64 `json:"temperature_2m"`
		RelativeHumidity2M  *float64 `json:"relative_humidity_2m"`
		ApparentTemperature *float64 `json:"apparent_temperature"`
		UVIndex             *float64 `json:"uv_index"`
	} `json:"current"`
}

func NewOpenMeteoClient(fetcher *Fetcher, baseURL, timezone string, logger *zap.Logger) *OpenMeteoClient {
	return &OpenMeteoClient{
		fetcher:  fetcher,
		logger:   logger,
		baseURL:  strings.TrimRight(baseURL, "/"),
		timezone: timezone,
	}
}

// CurrentURL builds the request URL for the current conditions at coord.
func (c *OpenMeteoClient) CurrentURL(coord models.Coordinate) string {
	params := url.Values{
		"latitude":  {strconv.FormatFloat(coord.Latitude, 'f', -1, 64)},
		"longitude": {strconv.FormatFloat(coord.Longitude, 'f', -1, 64)},
		"current":   {currentFields},
		"timezone":  {c.timezone},
	}
	return c.baseURL + "/forecast?" + params.Encode()
}

func (c *OpenMeteoClient) GetCurrentWeather(ctx context.Context, coord models.Coordinate) (*models.WeatherSnapshot, error) {
	response, err := FetchJSON[OpenMeteoCurrentResponse](ctx, c.fetcher, c.CurrentURL(coord), FetchOptions{
		Upstream:    "open-meteo",
		Timeout:     weatherTimeout,
		MaxAttempts: weatherMaxAttempts,
	})
	if err != nil {
		return nil, err
	}

	current := response.Current
	if current == nil || current.Temperature2M == nil || current.RelativeHumidity2M == nil ||
		current.ApparentTemperature == nil || current.UVIndex == nil {
		return nil, NewError(KindUpstream, "open-meteo response is missing current fields", nil)
	}

	// Open-Meteo reports wall-clock time in the requested timezone without an
	// offset. A zero ObservedAt means the timestamp was absent or unreadable.
	observedAt, err := time.Parse("2006-01-02T15:04", current.Time)
	if err != nil {
		c.logger.Debug("Ignoring unreadable observation time",
			zap.String("time", current.Time),
			zap.Error(err))
		observedAt = time.Time{}
	}

	c.logger.Debug("Fetched current weather",
		zap.Float64("latitude", coord.Latitude),
		zap.Float64("longitude", coord.Longitude),
		zap.Float64("temperature", *current.Temperature2M))

	return &models.WeatherSnapshot{
		TemperatureC:         *current.Temperature2M,
		RelativeHumidityPct:  *current.RelativeHumidity2M,
		ApparentTemperatureC: *current.ApparentTemperature,
		UVIndex:              *current.UVIndex,
		ObservedAt:           observedAt,
	}, nil
}
