package config

import (
	"fmt"
	"time"
	_ "time/tzdata"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap"
)

// Config is populated from the environment. Each section's envconfig tag is
// the prefix of its variables, e.g. Geocoder.UserAgent reads
// GEOCODER_USER_AGENT. Only the log level also reads an unprefixed name.
type Config struct {
	Server struct {
		Port         string        `split_words:"true" default:"8080" validate:"required,numeric"`
		ReadTimeout  time.Duration `split_words:"true" default:"10s" validate:"gt=0"`
		WriteTimeout time.Duration `split_words:"true" default:"45s" validate:"gt=0"`
		// Read from FIBER_LOG_LEVEL, falling back to LOG_LEVEL.
		LogLevel string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`
	} `envconfig:"FIBER"`

	Geocoder struct {
		URL          string `split_words:"true" default:"https://nominatim.openstreetmap.org" validate:"required,url"`
		UserAgent    string `split_words:"true" default:"heat-guard/1.0 (+https://github.com/bobby-s-dev/heat-guard)" validate:"required"`
		CountryCodes string `split_words:"true" default:"kr"`
	} `envconfig:"GEOCODER"`

	Weather struct {
		URL      string         `split_words:"true" default:"https://api.open-meteo.com/v1" validate:"required,url"`
		Timezone string         `split_words:"true" default:"Asia/Seoul" validate:"required"`
		Location *time.Location `ignored:"true"`
	} `envconfig:"WEATHER"`

	Retry struct {
		Delay time.Duration `split_words:"true" default:"1s" validate:"gt=0"`
	} `envconfig:"RETRY"`

	CircuitBreaker struct {
		Enabled   bool          `split_words:"true" default:"false"`
		Threshold int           `split_words:"true" default:"5" validate:"min=1"`
		Timeout   time.Duration `split_words:"true" default:"30s" validate:"gt=0"`
	} `envconfig:"CIRCUIT_BREAKER"`

	HeatWatch struct {
		Enabled   bool          `split_words:"true" default:"true"`
		Schedule  string        `split_words:"true" default:"@every 30m" validate:"required"`
		Locations []string      `split_words:"true" default:"Seoul,Busan,Daegu" validate:"dive,required"`
		Timeout   time.Duration `split_words:"true" default:"2m" validate:"gt=0"`
	} `envconfig:"HEAT_WATCH"`

	Emergency struct {
		Number string `split_words:"true" default:"119" validate:"required"`
	} `envconfig:"EMERGENCY"`
}

func LoadConfig() (*Config, error) {
	// Load .env file if exists
	if err := godotenv.Load(); err != nil {
		zap.L().Info("No .env file found, using environment variables")
	}

	cfg := &Config{}
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	loc, err := time.LoadLocation(cfg.Weather.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid WEATHER_TIMEZONE %q: %w", cfg.Weather.Timezone, err)
	}
	cfg.Weather.Location = loc

	return cfg, nil
}
