package services

import (
	_ "embed"
	"fmt"
	"strconv"
	"strings"

	"github.com/bobby-s-dev/heat-guard/internal/models"
	"gopkg.in/yaml.v3"
)

//go:embed shelters.yaml
var defaultShelterTable []byte

type bounds struct {
	MinLat float64 `yaml:"min_lat"`
	MaxLat float64 `yaml:"max_lat"`
	MinLon float64 `yaml:"min_lon"`
	MaxLon float64 `yaml:"max_lon"`
}

func (b bounds) contains(c models.Coordinate) bool {
	return c.Latitude >= b.MinLat && c.Latitude <= b.MaxLat &&
		c.Longitude >= b.MinLon && c.Longitude <= b.MaxLon
}

type shelterTemplate struct {
	Name       string  `yaml:"name"`
	Kind       string  `yaml:"kind"`
	DistanceKm float64 `yaml:"distance_km"`
}

type region struct {
	Name     string            `yaml:"name"`
	Bounds   bounds            `yaml:"bounds"`
	Shelters []shelterTemplate `yaml:"shelters"`
}

type shelterTable struct {
	OffsetDeg float64  `yaml:"offset_deg"`
	Regions   []region `yaml:"regions"`
	Fallback  region   `yaml:"fallback"`
}

// ShelterDirectory answers shelter lookups from a static region table.
// It is read-only after construction.
type ShelterDirectory struct {
	table shelterTable
}

// NewShelterDirectory loads the embedded shelter table.
func NewShelterDirectory() (*ShelterDirectory, error) {
	return LoadShelterDirectory(defaultShelterTable)
}

func LoadShelterDirectory(data []byte) (*ShelterDirectory, error) {
	var table shelterTable
	if err := yaml.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("parsing shelter table: %w", err)
	}

	for _, r := range table.Regions {
		if r.Bounds.MinLat >= r.Bounds.MaxLat || r.Bounds.MinLon >= r.Bounds.MaxLon {
			return nil, fmt.Errorf("region %q has an empty bounding box", r.Name)
		}
		if len(r.Shelters) == 0 {
			return nil, fmt.Errorf("region %q lists no shelters", r.Name)
		}
	}
	if len(table.Fallback.Shelters) == 0 {
		return nil, fmt.Errorf("fallback region lists no shelters")
	}

	return &ShelterDirectory{table: table}, nil
}

// Lookup returns the region containing coord and its shelters. Each shelter
// is placed OffsetDeg away from coord, alternating north-east and south-west.
func (d *ShelterDirectory) Lookup(coord models.Coordinate) (string, []models.Shelter) {
	r := d.table.Fallback
	for _, candidate := range d.table.Regions {
		if candidate.Bounds.contains(coord) {
			r = candidate
			break
		}
	}

	shelters := make([]models.Shelter, 0, len(r.Shelters))
	for i, tmpl := range r.Shelters {
		delta := d.table.OffsetDeg
		if i%2 == 1 {
			delta = -delta
		}
		position := models.Coordinate{
			Latitude:  coord.Latitude + delta,
			Longitude: coord.Longitude + delta,
		}
		shelters = append(shelters, models.Shelter{
			Name:       tmpl.Name,
			Kind:       tmpl.Kind,
			DistanceKm: tmpl.DistanceKm,
			Coordinate: position,
			MapURL:     DirectionsURL(position),
		})
	}

	return r.Name, shelters
}

func DirectionsURL(c models.Coordinate) string {
	return "https://www.google.com/maps/dir/?api=1&destination=" + formatLatLon(c)
}

func SearchURL(c models.Coordinate) string {
	return "https://www.google.com/maps/search/?api=1&query=" + formatLatLon(c)
}

func formatLatLon(c models.Coordinate) string {
	return strconv.FormatFloat(c.Latitude, 'f', 6, 64) + "," + strconv.FormatFloat(c.Longitude, 'f', 6, 64)
}

func formatShelters(loc models.ResolvedLocation, regionName string, shelters []models.Shelter) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Cooling shelters near %s (region: %s)\n", loc.Label(), regionName)
	for i, s := range shelters {
		fmt.Fprintf(&b, "%d. %s [%s] - about %.1f km\n", i+1, s.Name, strings.ReplaceAll(s.Kind, "_", " "), s.DistanceKm)
		fmt.Fprintf(&b, "   Directions: %s\n", s.MapURL)
	}
	b.WriteString("Shelter locations and distances are indicative. Confirm opening hours with the local district office.")
	return b.String()
}
