package services

import "github.com/bobby-s-dev/heat-guard/internal/models"

const (
	ToolGeocode  = "geocode_location"
	ToolHeatRisk = "analyze_heat_risk"
	ToolShelters = "find_nearby_shelters"
	ToolSOS      = "generate_sos_message"
)

func bound(v float64) *float64 {
	return &v
}

func locationProperties() map[string]*models.JSONSchema {
	return map[string]*models.JSONSchema{
		"location": {
			Type:        "string",
			Description: "Place name or address, e.g. \"Jongno-gu, Seoul\". Takes precedence over lat/lon.",
		},
		"lat": {
			Type:        "number",
			Description: "Latitude in decimal degrees. Used with lon when no location name is given.",
			Minimum:     bound(-90),
			Maximum:     bound(90),
		},
		"lon": {
			Type:        "number",
			Description: "Longitude in decimal degrees. Used with lat when no location name is given.",
			Minimum:     bound(-180),
			Maximum:     bound(180),
		},
	}
}

// Definitions lists every tool the router accepts.
func Definitions() []models.ToolDefinition {
	sosProperties := locationProperties()
	sosProperties["symptoms"] = &models.JSONSchema{
		Type:        "string",
		Description: "Free-text description of the person's symptoms, e.g. \"dizziness, nausea\".",
	}

	return []models.ToolDefinition{
		{
			Name:        ToolGeocode,
			Description: "Convert a place name into latitude/longitude coordinates.",
			InputSchema: models.JSONSchema{
				Type: "object",
				Properties: map[string]*models.JSONSchema{
					"location": {Type: "string", Description: "Place name or address to look up."},
				},
				Required: []string{"location"},
			},
		},
		{
			Name:        ToolHeatRisk,
			Description: "Fetch live weather for a location and classify the heat-illness risk (CONCERN, CAUTION, WARNING, DANGER).",
			InputSchema: models.JSONSchema{Type: "object", Properties: locationProperties()},
		},
		{
			Name:        ToolShelters,
			Description: "List cooling shelters near a location with directions links.",
			InputSchema: models.JSONSchema{Type: "object", Properties: locationProperties()},
		},
		{
			Name:        ToolSOS,
			Description: "Generate an emergency SOS message for a person suffering from heat illness at a location.",
			InputSchema: models.JSONSchema{Type: "object", Properties: sosProperties},
		},
	}
}
