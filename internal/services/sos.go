package services

import (
	"fmt"
	"strings"
	"time"

	"github.com/bobby-s-dev/heat-guard/internal/models"
)

const symptomsPlaceholder = "Not specified"

// FormatSOSMessage renders the emergency message. The output depends only on
// its arguments.
func FormatSOSMessage(now time.Time, loc models.ResolvedLocation, symptoms, emergencyNumber string) string {
	symptoms = strings.TrimSpace(symptoms)
	if symptoms == "" {
		symptoms = symptomsPlaceholder
	}

	var b strings.Builder
	b.WriteString("[EMERGENCY SOS - SUSPECTED HEAT ILLNESS]\n")
	fmt.Fprintf(&b, "Time: %s\n", now.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(&b, "Location: %s\n", loc.Label())
	fmt.Fprintf(&b, "Coordinates: %s\n", loc.Coordinate)
	fmt.Fprintf(&b, "Symptoms: %s\n", symptoms)
	fmt.Fprintf(&b, "Map: %s\n", SearchURL(loc.Coordinate))
	fmt.Fprintf(&b, "I need help. Please call %s or send assistance to the location above.", emergencyNumber)
	return b.String()
}
