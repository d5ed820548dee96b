package services

import "github.com/bobby-s-dev/heat-guard/internal/models"

type tierBand struct {
	min         float64
	tier        models.RiskTier
	description string
}

// Ordered from the highest threshold down; the first band whose minimum is
// reached wins, so a boundary value belongs to the higher tier.
var tierBands = []tierBand{
	{38, models.TierDanger, "Danger: extreme heat stress. Stop outdoor activity, move to a cooled space and seek medical help for any sign of heat illness."},
	{35, models.TierWarning, "Warning: high heat stress. Avoid outdoor work in the afternoon, drink water every 15-20 minutes and rest in the shade."},
	{31, models.TierCaution, "Caution: heat stress is likely with prolonged exposure. Stay hydrated and take regular breaks out of the sun."},
}

const concernDescription = "Concern: low heat stress. Keep an eye on the forecast and stay hydrated."

// FeelsLike approximates the perceived temperature from air temperature and
// relative humidity.
func FeelsLike(temperatureC, relativeHumidityPct float64) float64 {
	return temperatureC + (0.55-0.0055*relativeHumidityPct)*(temperatureC-14.5)
}

// TierFor maps a feels-like temperature to its tier and description.
func TierFor(feelsLikeC float64) (models.RiskTier, string) {
	for _, band := range tierBands {
		if feelsLikeC >= band.min {
			return band.tier, band.description
		}
	}
	return models.TierConcern, concernDescription
}

// Classify is total over finite inputs; it does not judge whether the
// readings are physically plausible.
func Classify(temperatureC, relativeHumidityPct float64) models.RiskAssessment {
	feelsLike := FeelsLike(temperatureC, relativeHumidityPct)
	tier, description := TierFor(feelsLike)
	return models.RiskAssessment{
		Tier:        tier,
		Description: description,
		FeelsLikeC:  feelsLike,
	}
}

// TierLevel orders tiers from 0 (CONCERN) to 3 (DANGER).
func TierLevel(tier models.RiskTier) int {
	switch tier {
	case models.TierDanger:
		return 3
	case models.TierWarning:
		return 2
	case models.TierCaution:
		return 1
	default:
		return 0
	}
}
