package models

import (
	"fmt"
	"strings"
	"time"
)

type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Valid reports whether the coordinate lies within [-90,90] x [-180,180].
func (c Coordinate) Valid() bool {
	return c.Latitude >= -90 && c.Latitude <= 90 &&
		c.Longitude >= -180 && c.Longitude <= 180
}

func (c Coordinate) String() string {
	return fmt.Sprintf("%.4f, %.4f", c.Latitude, c.Longitude)
}

// ResolvedLocation is the coordinate a tool call operates on. DisplayName is
// only set when the coordinate came from geocoding.
type ResolvedLocation struct {
	Coordinate  Coordinate `json:"coordinate"`
	DisplayName string     `json:"display_name,omitempty"`
}

// Label is the display name when present, otherwise the raw coordinate.
func (l ResolvedLocation) Label() string {
	if l.DisplayName != "" {
		return l.DisplayName
	}
	return l.Coordinate.String()
}

type WeatherSnapshot struct {
	TemperatureC         float64   `json:"temperature_c"`
	RelativeHumidityPct  float64   `json:"relative_humidity_pct"`
	ApparentTemperatureC float64   `json:"apparent_temperature_c"`
	UVIndex              float64   `json:"uv_index"`
	ObservedAt           time.Time `json:"observed_at"`
}

type RiskTier string

const (
	TierConcern RiskTier = "CONCERN"
	TierCaution RiskTier = "CAUTION"
	TierWarning RiskTier = "WARNING"
	TierDanger  RiskTier = "DANGER"
)

type RiskAssessment struct {
	Tier        RiskTier `json:"tier"`
	Description string   `json:"description"`
	FeelsLikeC  float64  `json:"feels_like_c"`
}

type Shelter struct {
	Name       string     `json:"name"`
	Kind       string     `json:"kind"`
	DistanceKm float64    `json:"distance_km"`
	Coordinate Coordinate `json:"coordinate"`
	MapURL     string     `json:"map_url"`
}

// ToolInvocation is one request to run a named tool. Arguments are untrusted.
type ToolInvocation struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

const ContentTypeText = "text"

type Content struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ToolResult is the response shape for every tool, success or failure.
type ToolResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError"`
}

func TextResult(text string) ToolResult {
	return ToolResult{Content: []Content{{Type: ContentTypeText, Text: text}}}
}

func ErrorResult(text string) ToolResult {
	return ToolResult{Content: []Content{{Type: ContentTypeText, Text: text}}, IsError: true}
}

// Text joins all text segments with newlines.
func (r ToolResult) Text() string {
	parts := make([]string, 0, len(r.Content))
	for _, c := range r.Content {
		parts = append(parts, c.Text)
	}
	return strings.Join(parts, "\n")
}
