package services

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bobby-s-dev/heat-guard/internal/models"
	"github.com/bobby-s-dev/heat-guard/internal/observability"
	"github.com/bobby-s-dev/heat-guard/pkg/client"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeGeocoder struct {
	results map[string]client.Resolution
	err     error
}

func (g *fakeGeocoder) Resolve(_ context.Context, query string) (client.Resolution, error) {
	if g.err != nil {
		return client.Resolution{}, g.err
	}
	if res, ok := g.results[query]; ok {
		return res, nil
	}
	return client.Resolution{Status: client.ResolutionNotFound}, nil
}

type fakeWeather struct {
	mu       sync.Mutex
	snapshot models.WeatherSnapshot
	err      error
	coords   []models.Coordinate
}

func (w *fakeWeather) GetCurrentWeather(_ context.Context, coord models.Coordinate) (*models.WeatherSnapshot, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.coords = append(w.coords, coord)
	if w.err != nil {
		return nil, w.err
	}
	snapshot := w.snapshot
	return &snapshot, nil
}

var seoul = client.Resolution{
	Status: client.ResolutionFound,
	Location: models.ResolvedLocation{
		Coordinate:  models.Coordinate{Latitude: 37.57, Longitude: 126.98},
		DisplayName: "Seoul, South Korea",
	},
}

func newTestRouter(t *testing.T, geo Geocoder, weather WeatherProvider, opts ...RouterOption) *Router {
	t.Helper()
	shelters, err := NewShelterDirectory()
	require.NoError(t, err)

	kst := time.FixedZone("KST", 9*60*60)
	return NewRouter(geo, weather, shelters, RouterConfig{Location: kst, EmergencyNumber: "119"}, zap.NewNop(), opts...)
}

func call(r *Router, name string, args map[string]any) models.ToolResult {
	return r.Invoke(context.Background(), models.ToolInvocation{Name: name, Arguments: args})
}

func TestInvoke_HeatRiskByName(t *testing.T) {
	weather := &fakeWeather{snapshot: models.WeatherSnapshot{
		TemperatureC:         34.2,
		RelativeHumidityPct:  68,
		ApparentTemperatureC: 39.1,
		UVIndex:              8.5,
	}}
	r := newTestRouter(t, &fakeGeocoder{results: map[string]client.Resolution{"Seoul": seoul}}, weather)

	res := call(r, ToolHeatRisk, map[string]any{"location": "Seoul"})
	require.False(t, res.IsError, res.Text())

	text := res.Text()
	assert.Contains(t, text, "Seoul, South Korea")
	assert.Contains(t, text, "Risk tier: WARNING")
	assert.Contains(t, text, "Temperature: 34.2°C")
	assert.Contains(t, text, "Apparent temperature: 39.1°C")
	assert.Contains(t, text, "Relative humidity: 68%")
	assert.Contains(t, text, "UV index: 8.5")
	assert.Equal(t, []models.Coordinate{seoul.Location.Coordinate}, weather.coords)
}

func TestInvoke_HeatRiskByCoordinates(t *testing.T) {
	weather := &fakeWeather{snapshot: models.WeatherSnapshot{TemperatureC: 22, RelativeHumidityPct: 40}}
	r := newTestRouter(t, &fakeGeocoder{}, weather)

	res := call(r, ToolHeatRisk, map[string]any{"lat": 35.16, "lon": 129.06})
	require.False(t, res.IsError, res.Text())

	assert.Contains(t, res.Text(), "Heat risk for 35.1600, 129.0600")
	assert.Contains(t, res.Text(), "Risk tier: CONCERN")
	assert.Equal(t, []models.Coordinate{{Latitude: 35.16, Longitude: 129.06}}, weather.coords)
}

func TestInvoke_NameTakesPrecedenceOverCoordinates(t *testing.T) {
	weather := &fakeWeather{snapshot: models.WeatherSnapshot{TemperatureC: 30, RelativeHumidityPct: 50}}
	r := newTestRouter(t, &fakeGeocoder{results: map[string]client.Resolution{"Seoul": seoul}}, weather)

	res := call(r, ToolHeatRisk, map[string]any{"location": "Seoul", "lat": 1.0, "lon": 2.0})
	require.False(t, res.IsError, res.Text())
	assert.Equal(t, []models.Coordinate{seoul.Location.Coordinate}, weather.coords)
}

func TestInvoke_LocationNameOverridesMalformedCoordinates(t *testing.T) {
	weather := &fakeWeather{snapshot: models.WeatherSnapshot{TemperatureC: 30, RelativeHumidityPct: 50}}
	r := newTestRouter(t, &fakeGeocoder{results: map[string]client.Resolution{"Seoul": seoul}}, weather)

	for _, args := range []map[string]any{
		{"location": "Seoul", "lat": "37.5"},
		{"location": "Seoul", "lat": 91.0, "lon": true},
	} {
		res := call(r, ToolHeatRisk, args)
		require.False(t, res.IsError, res.Text())
		assert.Contains(t, res.Text(), "Seoul, South Korea")
	}

	sos := call(r, ToolSOS, map[string]any{"location": "Seoul", "lon": "east", "symptoms": "cramps"})
	require.False(t, sos.IsError, sos.Text())
	assert.Contains(t, sos.Text(), "Symptoms: cramps")
}

func TestInvoke_HeatRiskShowsObservationTime(t *testing.T) {
	weather := &fakeWeather{snapshot: models.WeatherSnapshot{
		TemperatureC:        29,
		RelativeHumidityPct: 55,
		ObservedAt:          time.Date(2026, 8, 1, 14, 15, 0, 0, time.UTC),
	}}
	r := newTestRouter(t, &fakeGeocoder{}, weather)

	res := call(r, ToolHeatRisk, map[string]any{"lat": 37.57, "lon": 126.98})
	require.False(t, res.IsError, res.Text())
	assert.Contains(t, res.Text(), "Observed at: 2026-08-01 14:15 (local time)")

	weather.snapshot.ObservedAt = time.Time{}
	res = call(r, ToolHeatRisk, map[string]any{"lat": 37.57, "lon": 126.98})
	assert.NotContains(t, res.Text(), "Observed at")
}

func TestInvoke_InvalidInput(t *testing.T) {
	weather := &fakeWeather{}
	r := newTestRouter(t, &fakeGeocoder{}, weather)

	tests := []struct {
		name string
		tool string
		args map[string]any
		want string
	}{
		{"no arguments", ToolHeatRisk, nil, locationRequiredMessage},
		{"latitude only", ToolShelters, map[string]any{"lat": 37.5}, locationRequiredMessage},
		{"blank location", ToolSOS, map[string]any{"location": "   "}, locationRequiredMessage},
		{"latitude out of range", ToolHeatRisk, map[string]any{"lat": 91.0, "lon": 10.0}, "lat must be at most 90"},
		{"longitude out of range", ToolHeatRisk, map[string]any{"lat": 10.0, "lon": -181.0}, "lon must be at least -180"},
		{"latitude as string", ToolHeatRisk, map[string]any{"lat": "37.5", "lon": 127.0}, "lat must be a number"},
		{"geocode without location", ToolGeocode, map[string]any{}, "location is required"},
		{"location not a string", ToolGeocode, map[string]any{"location": 42}, "location must be a string"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := call(r, tt.tool, tt.args)
			require.True(t, res.IsError)
			assert.True(t, strings.HasPrefix(res.Text(), "Invalid input: "), res.Text())
			assert.Contains(t, res.Text(), tt.want)
		})
	}

	assert.Empty(t, weather.coords)
}

func TestInvoke_UnknownTool(t *testing.T) {
	metrics := observability.NewMetricsForTesting()
	r := newTestRouter(t, &fakeGeocoder{}, &fakeWeather{}, WithToolObserver(metrics))

	res := call(r, "get_weather", map[string]any{"location": "Seoul"})
	require.True(t, res.IsError)
	assert.Contains(t, res.Text(), `unknown tool "get_weather"`)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ToolInvocations.WithLabelValues("unknown", "unknown_tool")))
}

func TestInvoke_ErrorKindsRenderDistinctMessages(t *testing.T) {
	unauthorized := client.NewError(client.KindUnauthorized, "open-meteo rejected the request credentials", nil)
	exhausted := client.NewError(client.KindExhaustedRetries, "open-meteo failed after 3 attempts", errors.New("timeout"))

	geo := &fakeGeocoder{results: map[string]client.Resolution{"Seoul": seoul}}

	authRes := call(newTestRouter(t, geo, &fakeWeather{err: unauthorized}), ToolHeatRisk, map[string]any{"location": "Seoul"})
	exhaustedRes := call(newTestRouter(t, geo, &fakeWeather{err: exhausted}), ToolHeatRisk, map[string]any{"location": "Seoul"})
	notFoundRes := call(newTestRouter(t, geo, &fakeWeather{}), ToolHeatRisk, map[string]any{"location": "Atlantis"})
	upstreamRes := call(newTestRouter(t, geo, &fakeWeather{err: client.NewError(client.KindUpstream, "open-meteo returned HTTP 500", nil)}),
		ToolHeatRisk, map[string]any{"location": "Seoul"})

	for _, res := range []models.ToolResult{authRes, exhaustedRes, notFoundRes, upstreamRes} {
		assert.True(t, res.IsError)
	}

	assert.Equal(t, authFailureMessage, authRes.Text())
	assert.Equal(t, unavailableMessage, exhaustedRes.Text())
	assert.Contains(t, notFoundRes.Text(), `"Atlantis" could not be found`)
	assert.Contains(t, upstreamRes.Text(), genericFailureMessage)

	texts := map[string]bool{}
	for _, res := range []models.ToolResult{authRes, exhaustedRes, notFoundRes, upstreamRes} {
		texts[res.Text()] = true
	}
	assert.Len(t, texts, 4)
}

func TestInvoke_GeocoderUnreachableRendersAsNotFound(t *testing.T) {
	geo := &fakeGeocoder{results: map[string]client.Resolution{
		"Seoul": {Status: client.ResolutionUnreachable, Cause: client.NewError(client.KindExhaustedRetries, "nominatim failed after 3 attempts", nil)},
	}}
	r := newTestRouter(t, geo, &fakeWeather{})

	unreachable := call(r, ToolGeocode, map[string]any{"location": "Seoul"})
	missing := call(r, ToolGeocode, map[string]any{"location": "Atlantis"})

	require.True(t, unreachable.IsError)
	require.True(t, missing.IsError)
	assert.Equal(t,
		strings.Replace(missing.Text(), "Atlantis", "Seoul", 1),
		unreachable.Text())
}

func TestInvoke_GeocoderUnauthorizedIsNotHidden(t *testing.T) {
	geo := &fakeGeocoder{err: client.NewError(client.KindUnauthorized, "nominatim rejected the request credentials", nil)}
	r := newTestRouter(t, geo, &fakeWeather{})

	res := call(r, ToolShelters, map[string]any{"location": "Seoul"})
	require.True(t, res.IsError)
	assert.Equal(t, authFailureMessage, res.Text())
}

func TestInvoke_Geocode(t *testing.T) {
	r := newTestRouter(t, &fakeGeocoder{results: map[string]client.Resolution{"Seoul": seoul}}, &fakeWeather{})

	res := call(r, ToolGeocode, map[string]any{"location": "  Seoul "})
	require.False(t, res.IsError, res.Text())
	assert.Equal(t, "Location: Seoul, South Korea\nLatitude: 37.570000\nLongitude: 126.980000", res.Text())
}

func TestInvoke_SheltersInSeoul(t *testing.T) {
	r := newTestRouter(t, &fakeGeocoder{}, &fakeWeather{})

	res := call(r, ToolShelters, map[string]any{"lat": 37.57, "lon": 126.98})
	require.False(t, res.IsError, res.Text())

	text := res.Text()
	assert.Contains(t, text, "(region: Seoul)")
	assert.Contains(t, text, "1. Jongno-gu Senior Welfare Center Cooling Shelter")
	assert.Contains(t, text, "2. Gwanghwamun Station Underground Rest Area")
	assert.Contains(t, text, "destination=37.575000,126.985000")
	assert.Contains(t, text, "destination=37.565000,126.975000")
	assert.NotContains(t, text, "3.")
}

func TestInvoke_SOSIsDeterministicForFixedInputs(t *testing.T) {
	fc := clockwork.NewFakeClockAt(time.Date(2026, 8, 1, 5, 30, 0, 0, time.UTC))
	r := newTestRouter(t, &fakeGeocoder{}, &fakeWeather{}, WithRouterClock(fc))
	args := map[string]any{"lat": 37.57, "lon": 126.98, "symptoms": "dizziness, nausea"}

	first := call(r, ToolSOS, args)
	second := call(r, ToolSOS, args)
	require.False(t, first.IsError, first.Text())
	assert.Equal(t, first.Text(), second.Text())
	assert.Contains(t, first.Text(), "Time: 2026-08-01 14:30:00 KST")

	fc.Advance(90 * time.Second)
	third := call(r, ToolSOS, args)

	firstLines := strings.Split(first.Text(), "\n")
	thirdLines := strings.Split(third.Text(), "\n")
	require.Len(t, thirdLines, len(firstLines))
	for i := range firstLines {
		if strings.HasPrefix(firstLines[i], "Time: ") {
			assert.Equal(t, "Time: 2026-08-01 14:31:30 KST", thirdLines[i])
			continue
		}
		assert.Equal(t, firstLines[i], thirdLines[i])
	}
}

func TestInvoke_SOSPlaceholderSymptoms(t *testing.T) {
	r := newTestRouter(t, &fakeGeocoder{results: map[string]client.Resolution{"Seoul": seoul}}, &fakeWeather{})

	res := call(r, ToolSOS, map[string]any{"location": "Seoul", "symptoms": ""})
	require.False(t, res.IsError, res.Text())
	assert.Contains(t, res.Text(), "Symptoms: Not specified")
	assert.Contains(t, res.Text(), "Location: Seoul, South Korea")
	assert.Contains(t, res.Text(), "query=37.570000,126.980000")
	assert.Contains(t, res.Text(), "call 119")
}

type panickingWeather struct{}

func (panickingWeather) GetCurrentWeather(context.Context, models.Coordinate) (*models.WeatherSnapshot, error) {
	panic("boom")
}

func TestInvoke_RecoversFromPanic(t *testing.T) {
	metrics := observability.NewMetricsForTesting()
	r := newTestRouter(t, &fakeGeocoder{}, panickingWeather{}, WithToolObserver(metrics))

	res := call(r, ToolHeatRisk, map[string]any{"lat": 37.57, "lon": 126.98})
	require.True(t, res.IsError)
	assert.Contains(t, res.Text(), genericFailureMessage)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ToolInvocations.WithLabelValues(ToolHeatRisk, "panic")))
}

func TestInvoke_RecordsSuccessMetric(t *testing.T) {
	metrics := observability.NewMetricsForTesting()
	r := newTestRouter(t, &fakeGeocoder{}, &fakeWeather{}, WithToolObserver(metrics))

	call(r, ToolShelters, map[string]any{"lat": 35.16, "lon": 129.06})
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ToolInvocations.WithLabelValues(ToolShelters, "success")))
}

// A coordinate obtained from geocoding and the same coordinate passed in
// directly must reach the weather service as the same request.
func TestInvoke_GeocodedAndDirectCoordinatesProduceSameRequest(t *testing.T) {
	geoSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[{"lat":"37.5665","lon":"126.9780","display_name":"Seoul, South Korea"}]`))
	}))
	defer geoSrv.Close()

	var mu sync.Mutex
	var queries []string
	weatherSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		queries = append(queries, r.URL.RawQuery)
		mu.Unlock()
		_, _ = w.Write([]byte(`{"current":{"time":"2026-08-01T14:00","temperature_2m":33,"relative_humidity_2m":60,"apparent_temperature":36,"uv_index":7}}`))
	}))
	defer weatherSrv.Close()

	newFetcher := func(name string) *client.Fetcher {
		return client.NewFetcher(name, client.FetcherConfig{}, zap.NewNop(), client.WithClock(clockwork.NewFakeClock()))
	}
	geo := client.NewNominatimClient(newFetcher("nominatim"), geoSrv.URL, "heat-guard-test/1.0", "kr", zap.NewNop())
	weather := client.NewOpenMeteoClient(newFetcher("open-meteo"), weatherSrv.URL, "Asia/Seoul", zap.NewNop())
	r := newTestRouter(t, geo, weather)

	geocoded := call(r, ToolGeocode, map[string]any{"location": "Seoul"})
	require.False(t, geocoded.IsError, geocoded.Text())
	assert.Contains(t, geocoded.Text(), "Latitude: 37.566500")

	byName := call(r, ToolHeatRisk, map[string]any{"location": "Seoul"})
	require.False(t, byName.IsError, byName.Text())
	byCoords := call(r, ToolHeatRisk, map[string]any{"lat": 37.5665, "lon": 126.978})
	require.False(t, byCoords.IsError, byCoords.Text())

	require.Len(t, queries, 2)
	assert.Equal(t, queries[0], queries[1])
	assert.Equal(t,
		weather.CurrentURL(models.Coordinate{Latitude: 37.5665, Longitude: 126.978}),
		weatherSrv.URL+"/forecast?"+queries[0])
}

func TestAssessHeatRisk(t *testing.T) {
	weather := &fakeWeather{snapshot: models.WeatherSnapshot{TemperatureC: 37, RelativeHumidityPct: 70}}
	r := newTestRouter(t, &fakeGeocoder{results: map[string]client.Resolution{"Seoul": seoul}}, weather)

	report, err := r.AssessHeatRisk(context.Background(), "Seoul")
	require.NoError(t, err)
	assert.Equal(t, models.TierDanger, report.Risk.Tier)
	assert.Equal(t, "Seoul, South Korea", report.Location.DisplayName)

	_, err = r.AssessHeatRisk(context.Background(), "Atlantis")
	require.Error(t, err)
	assert.Equal(t, client.KindNotFound, client.KindOf(err))
}

func TestDefinitions(t *testing.T) {
	r := newTestRouter(t, &fakeGeocoder{}, &fakeWeather{})

	names := make([]string, 0, 4)
	for _, d := range r.Definitions() {
		names = append(names, d.Name)
		assert.NotEmpty(t, d.Description)
		assert.Equal(t, "object", d.InputSchema.Type)
	}
	assert.ElementsMatch(t, []string{ToolGeocode, ToolHeatRisk, ToolShelters, ToolSOS}, names)
}
