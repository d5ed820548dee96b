package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"
	"time"

	"github.com/bobby-s-dev/heat-guard/internal/models"
	"github.com/bobby-s-dev/heat-guard/pkg/client"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

const (
	locationRequiredMessage = "either a location name or both lat and lon coordinates are required"
	authFailureMessage      = "Authentication failed: an upstream weather or geocoding service rejected our credentials. Check the service API key and client identification settings."
	unavailableMessage      = "Service temporarily unavailable: the weather or geocoding service did not respond. Please try again in a few minutes."
	genericFailureMessage   = "An unexpected error occurred while running the tool"
)

type Geocoder interface {
	Resolve(ctx context.Context, query string) (client.Resolution, error)
}

type WeatherProvider interface {
	GetCurrentWeather(ctx context.Context, coord models.Coordinate) (*models.WeatherSnapshot, error)
}

type ToolObserver interface {
	ObserveTool(tool, outcome string, duration time.Duration)
}

type nopObserver struct{}

func (nopObserver) ObserveTool(string, string, time.Duration) {}

type RouterConfig struct {
	// Location is the time zone used for SOS timestamps. Defaults to UTC.
	Location        *time.Location
	EmergencyNumber string
}

type RouterOption func(*Router)

func WithRouterClock(c clockwork.Clock) RouterOption {
	return func(r *Router) {
		r.clock = c
	}
}

func WithToolObserver(o ToolObserver) RouterOption {
	return func(r *Router) {
		r.observer = o
	}
}

type toolHandler func(ctx context.Context, args map[string]any, logger *zap.Logger) (string, error)

// HeatReport is the outcome of a heat-risk assessment for one location.
type HeatReport struct {
	Location models.ResolvedLocation
	Weather  models.WeatherSnapshot
	Risk     models.RiskAssessment
}

// Router dispatches tool invocations. It keeps no per-call state, so one
// Router serves concurrent invocations.
type Router struct {
	geocoder        Geocoder
	weather         WeatherProvider
	shelters        *ShelterDirectory
	logger          *zap.Logger
	clock           clockwork.Clock
	observer        ToolObserver
	validate        *validator.Validate
	location        *time.Location
	emergencyNumber string
	handlers        map[string]toolHandler
}

func NewRouter(geocoder Geocoder, weather WeatherProvider, shelters *ShelterDirectory, cfg RouterConfig, logger *zap.Logger, opts ...RouterOption) *Router {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		if name := fld.Tag.Get("arg"); name != "" {
			return name
		}
		return fld.Name
	})

	r := &Router{
		geocoder:        geocoder,
		weather:         weather,
		shelters:        shelters,
		logger:          logger,
		clock:           clockwork.NewRealClock(),
		observer:        nopObserver{},
		validate:        validate,
		location:        cfg.Location,
		emergencyNumber: cfg.EmergencyNumber,
	}
	if r.location == nil {
		r.location = time.UTC
	}
	if r.emergencyNumber == "" {
		r.emergencyNumber = "119"
	}

	r.handlers = map[string]toolHandler{
		ToolGeocode:  r.handleGeocode,
		ToolHeatRisk: r.handleHeatRisk,
		ToolShelters: r.handleShelters,
		ToolSOS:      r.handleSOS,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Definitions returns the schemas of the tools this router accepts.
func (r *Router) Definitions() []models.ToolDefinition {
	return Definitions()
}

// Invoke runs one tool call. Every failure, including a panic inside a
// handler, comes back as a ToolResult with IsError set.
func (r *Router) Invoke(ctx context.Context, inv models.ToolInvocation) (result models.ToolResult) {
	start := time.Now()
	logger := r.logger.With(
		zap.String("invocation_id", uuid.NewString()),
		zap.String("tool", inv.Name))

	toolLabel := inv.Name
	if _, ok := r.handlers[inv.Name]; !ok {
		toolLabel = "unknown"
	}
	outcome := "success"

	defer func() {
		if p := recover(); p != nil {
			logger.Error("Tool invocation panicked", zap.Any("panic", p), zap.Stack("stack"))
			outcome = "panic"
			result = models.ErrorResult(genericFailureMessage + ".")
		}
		r.observer.ObserveTool(toolLabel, outcome, time.Since(start))
	}()

	text, err := r.dispatch(ctx, inv, logger)
	if err != nil {
		kind := client.KindOf(err)
		outcome = string(kind)
		if outcome == "" {
			outcome = "error"
		}
		logFailure(logger, kind, err, time.Since(start))
		return renderError(err)
	}

	logger.Info("Tool invocation completed", zap.Duration("duration", time.Since(start)))
	return models.TextResult(text)
}

func (r *Router) dispatch(ctx context.Context, inv models.ToolInvocation, logger *zap.Logger) (string, error) {
	handler, ok := r.handlers[inv.Name]
	if !ok {
		return "", client.NewError(client.KindUnknownTool, fmt.Sprintf("unknown tool %q", inv.Name), nil)
	}
	return handler(ctx, inv.Arguments, logger)
}

// AssessHeatRisk geocodes query and classifies the current heat risk there.
func (r *Router) AssessHeatRisk(ctx context.Context, query string) (*HeatReport, error) {
	loc, err := r.geocode(ctx, query, r.logger)
	if err != nil {
		return nil, err
	}
	return r.assess(ctx, loc)
}

func (r *Router) assess(ctx context.Context, loc models.ResolvedLocation) (*HeatReport, error) {
	snapshot, err := r.weather.GetCurrentWeather(ctx, loc.Coordinate)
	if err != nil {
		return nil, fmt.Errorf("fetching weather: %w", err)
	}

	return &HeatReport{
		Location: loc,
		Weather:  *snapshot,
		Risk:     Classify(snapshot.TemperatureC, snapshot.RelativeHumidityPct),
	}, nil
}

func (r *Router) handleGeocode(ctx context.Context, args map[string]any, logger *zap.Logger) (string, error) {
	var in geocodeInput
	var err error
	if in.Location, err = stringArg(args, "location"); err != nil {
		return "", err
	}
	if err := r.validateInput(in); err != nil {
		return "", err
	}

	loc, err := r.geocode(ctx, in.Location, logger)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("Location: %s\nLatitude: %.6f\nLongitude: %.6f",
		loc.DisplayName, loc.Coordinate.Latitude, loc.Coordinate.Longitude), nil
}

func (r *Router) handleHeatRisk(ctx context.Context, args map[string]any, logger *zap.Logger) (string, error) {
	in, err := decodeLocationInput(args)
	if err != nil {
		return "", err
	}
	if err := r.validateInput(in); err != nil {
		return "", err
	}

	loc, err := r.resolveLocation(ctx, in, logger)
	if err != nil {
		return "", err
	}

	report, err := r.assess(ctx, loc)
	if err != nil {
		return "", err
	}

	logger.Info("Heat risk assessed",
		zap.String("tier", string(report.Risk.Tier)),
		zap.Float64("feels_like", report.Risk.FeelsLikeC))

	return formatHeatReport(report), nil
}

func (r *Router) handleShelters(ctx context.Context, args map[string]any, logger *zap.Logger) (string, error) {
	in, err := decodeLocationInput(args)
	if err != nil {
		return "", err
	}
	if err := r.validateInput(in); err != nil {
		return "", err
	}

	loc, err := r.resolveLocation(ctx, in, logger)
	if err != nil {
		return "", err
	}

	region, shelters := r.shelters.Lookup(loc.Coordinate)
	return formatShelters(loc, region, shelters), nil
}

func (r *Router) handleSOS(ctx context.Context, args map[string]any, logger *zap.Logger) (string, error) {
	in, err := decodeSOSInput(args)
	if err != nil {
		return "", err
	}
	if err := r.validateInput(in); err != nil {
		return "", err
	}

	loc, err := r.resolveLocation(ctx, in.place(), logger)
	if err != nil {
		return "", err
	}

	return FormatSOSMessage(r.clock.Now().In(r.location), loc, in.Symptoms, r.emergencyNumber), nil
}

// resolveLocation prefers the location name and falls back to a complete
// lat/lon pair.
func (r *Router) resolveLocation(ctx context.Context, in locationInput, logger *zap.Logger) (models.ResolvedLocation, error) {
	if in.Location != "" {
		return r.geocode(ctx, in.Location, logger)
	}
	if in.Lat != nil && in.Lon != nil {
		return models.ResolvedLocation{
			Coordinate: models.Coordinate{Latitude: *in.Lat, Longitude: *in.Lon},
		}, nil
	}
	return models.ResolvedLocation{}, client.NewError(client.KindInvalidInput, locationRequiredMessage, nil)
}

func (r *Router) geocode(ctx context.Context, query string, logger *zap.Logger) (models.ResolvedLocation, error) {
	res, err := r.geocoder.Resolve(ctx, query)
	if err != nil {
		return models.ResolvedLocation{}, fmt.Errorf("resolving %q: %w", query, err)
	}

	switch res.Status {
	case client.ResolutionFound:
		logger.Debug("Location resolved",
			zap.String("query", query),
			zap.String("display_name", res.Location.DisplayName))
		return res.Location, nil
	case client.ResolutionUnreachable:
		// Reported to the caller exactly like an unknown place.
		logger.Warn("Geocoder unreachable, reporting location as not found",
			zap.String("query", query),
			zap.Error(res.Cause))
	}

	return models.ResolvedLocation{}, client.NewError(client.KindNotFound, query, res.Cause)
}

func (r *Router) validateInput(in any) error {
	err := r.validate.Struct(in)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return client.NewError(client.KindInvalidInput, "invalid arguments", err)
	}

	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, describeFieldError(fe))
	}
	return client.NewError(client.KindInvalidInput, strings.Join(msgs, "; "), nil)
}

func describeFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "gte":
		return fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be at most %s", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
	default:
		return fe.Field() + " is invalid"
	}
}

func renderError(err error) models.ToolResult {
	var e *client.Error
	if !errors.As(err, &e) {
		return models.ErrorResult(fmt.Sprintf("%s: %v", genericFailureMessage, err))
	}

	switch e.Kind {
	case client.KindUnauthorized:
		return models.ErrorResult(authFailureMessage)
	case client.KindExhaustedRetries, client.KindTransient:
		return models.ErrorResult(unavailableMessage)
	case client.KindNotFound:
		return models.ErrorResult(fmt.Sprintf("Location not found: %q could not be found. Try a different or more specific location name.", e.Message))
	case client.KindInvalidInput:
		return models.ErrorResult("Invalid input: " + e.Message + ".")
	case client.KindUnknownTool:
		return models.ErrorResult("Tool execution failed: " + e.Message + ".")
	default:
		return models.ErrorResult(fmt.Sprintf("%s: %v", genericFailureMessage, err))
	}
}

func logFailure(logger *zap.Logger, kind client.Kind, err error, duration time.Duration) {
	fields := []zap.Field{
		zap.String("kind", string(kind)),
		zap.Duration("duration", duration),
		zap.Error(err),
	}
	switch kind {
	case client.KindInvalidInput, client.KindNotFound:
		logger.Info("Tool invocation rejected", fields...)
	case client.KindUnknownTool:
		logger.Warn("Tool invocation for unknown tool", fields...)
	default:
		logger.Error("Tool invocation failed", fields...)
	}
}

func formatHeatReport(report *HeatReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Heat risk for %s\n", report.Location.Label())
	fmt.Fprintf(&b, "Coordinates: %s\n", report.Location.Coordinate)
	fmt.Fprintf(&b, "Risk tier: %s\n", report.Risk.Tier)
	fmt.Fprintf(&b, "%s\n", report.Risk.Description)
	fmt.Fprintf(&b, "Temperature: %.1f°C\n", report.Weather.TemperatureC)
	fmt.Fprintf(&b, "Apparent temperature: %.1f°C\n", report.Weather.ApparentTemperatureC)
	fmt.Fprintf(&b, "Humidity-adjusted feels-like: %.1f°C\n", report.Risk.FeelsLikeC)
	fmt.Fprintf(&b, "Relative humidity: %.0f%%\n", report.Weather.RelativeHumidityPct)
	fmt.Fprintf(&b, "UV index: %.1f", report.Weather.UVIndex)
	if !report.Weather.ObservedAt.IsZero() {
		fmt.Fprintf(&b, "\nObserved at: %s (local time)", report.Weather.ObservedAt.Format("2006-01-02 15:04"))
	}
	return b.String()
}

type geocodeInput struct {
	Location string `arg:"location" validate:"required,max=200"`
}

type locationInput struct {
	Location string   `arg:"location" validate:"max=200"`
	Lat      *float64 `arg:"lat" validate:"omitempty,gte=-90,lte=90"`
	Lon      *float64 `arg:"lon" validate:"omitempty,gte=-180,lte=180"`
}

type sosInput struct {
	Location string   `arg:"location" validate:"max=200"`
	Lat      *float64 `arg:"lat" validate:"omitempty,gte=-90,lte=90"`
	Lon      *float64 `arg:"lon" validate:"omitempty,gte=-180,lte=180"`
	Symptoms string   `arg:"symptoms" validate:"max=1000"`
}

func (in sosInput) place() locationInput {
	return locationInput{Location: in.Location, Lat: in.Lat, Lon: in.Lon}
}

// decodeLocationInput ignores lat and lon entirely when a location name is
// given, since the name is what gets resolved.
func decodeLocationInput(args map[string]any) (locationInput, error) {
	var in locationInput
	var err error
	if in.Location, err = stringArg(args, "location"); err != nil {
		return in, err
	}
	if in.Location != "" {
		return in, nil
	}
	if in.Lat, err = numberArg(args, "lat"); err != nil {
		return in, err
	}
	if in.Lon, err = numberArg(args, "lon"); err != nil {
		return in, err
	}
	return in, nil
}

func decodeSOSInput(args map[string]any) (sosInput, error) {
	place, err := decodeLocationInput(args)
	if err != nil {
		return sosInput{}, err
	}
	in := sosInput{Location: place.Location, Lat: place.Lat, Lon: place.Lon}
	if in.Symptoms, err = stringArg(args, "symptoms"); err != nil {
		return in, err
	}
	return in, nil
}

func stringArg(args map[string]any, key string) (string, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", client.NewError(client.KindInvalidInput, key+" must be a string", nil)
	}
	return strings.TrimSpace(s), nil
}

func numberArg(args map[string]any, key string) (*float64, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return nil, nil
	}

	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return nil, client.NewError(client.KindInvalidInput, key+" must be a number", err)
		}
		f = parsed
	default:
		return nil, client.NewError(client.KindInvalidInput, key+" must be a number", nil)
	}

	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, client.NewError(client.KindInvalidInput, key+" must be a finite number", nil)
	}
	return &f, nil
}
