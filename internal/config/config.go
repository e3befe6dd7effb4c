package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

const (
	// defaultOfferValueThreshold is the offer amount above which a pending
	// offer is considered high value.
	defaultOfferValueThreshold = 500
	// defaultOfferRatingThreshold is the counterparty rating above which a
	// verified counterparty escalates offer priority.
	defaultOfferRatingThreshold = 4.5
	// defaultOfferFreshness is the window within which a pending offer still
	// produces a notification.
	defaultOfferFreshness = 24 * time.Hour
)

type Config struct {
	// ServerURL is the base URL of the Beacon server API.
	ServerURL string

	// BeaconHome is the directory where Beacon stores local state.
	BeaconHome string

	// Role selects the account role for role-scoped endpoints and events
	// (merchant|customer).
	Role string

	// Debug enables verbose logging.
	Debug bool
	// LogLevel is the zerolog level name (debug|info|warn|error).
	LogLevel string
	// LogFile is an optional log file path.
	LogFile string

	// OfferValueThreshold is the amount above which an offer counts as high
	// value for priority escalation.
	OfferValueThreshold float64
	// OfferRatingThreshold is the counterparty rating above which a verified
	// counterparty escalates priority.
	OfferRatingThreshold float64
	// OfferFreshness is how long a pending offer keeps producing a
	// notification.
	OfferFreshness time.Duration
}

// Load loads configuration from environment and defaults.
func Load() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}

	beaconHome := getenvFirst("BEACON_HOME_DIR", "PULSE_HOME_DIR")
	if beaconHome == "" {
		beaconHome = filepath.Join(homeDir, ".beacon")
	}
	if err := os.MkdirAll(beaconHome, 0700); err != nil {
		return nil, fmt.Errorf("failed to create beacon home: %w", err)
	}

	serverURL := getenvFirst("BEACON_SERVER_URL", "PULSE_SERVER_URL")
	if serverURL == "" {
		serverURL = "https://api.beacon.usehq.dev"
	}

	role := getenvFirst("BEACON_ROLE", "PULSE_ROLE")
	if role == "" {
		role = "customer"
	}
	if role != "merchant" && role != "customer" {
		return nil, fmt.Errorf("invalid BEACON_ROLE %q (expected merchant or customer)", role)
	}

	debug := os.Getenv("DEBUG") == "true" || os.Getenv("DEBUG") == "1"
	if !debug {
		debug = getenvFirst("BEACON_DEBUG", "PULSE_DEBUG") == "true" ||
			getenvFirst("BEACON_DEBUG", "PULSE_DEBUG") == "1"
	}
	logLevel := getenvFirst("BEACON_LOG_LEVEL", "PULSE_LOG_LEVEL")
	if logLevel == "" {
		if debug {
			logLevel = "debug"
		} else {
			logLevel = "info"
		}
	}

	cfg := &Config{
		ServerURL:            serverURL,
		BeaconHome:           beaconHome,
		Role:                 role,
		Debug:                debug,
		LogLevel:             logLevel,
		LogFile:              os.Getenv("BEACON_LOG_FILE"),
		OfferValueThreshold:  defaultOfferValueThreshold,
		OfferRatingThreshold: defaultOfferRatingThreshold,
		OfferFreshness:       defaultOfferFreshness,
	}

	if raw := os.Getenv("BEACON_OFFER_VALUE_THRESHOLD"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid BEACON_OFFER_VALUE_THRESHOLD %q: %w", raw, err)
		}
		cfg.OfferValueThreshold = v
	}
	if raw := os.Getenv("BEACON_OFFER_RATING_THRESHOLD"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid BEACON_OFFER_RATING_THRESHOLD %q: %w", raw, err)
		}
		cfg.OfferRatingThreshold = v
	}
	if raw := os.Getenv("BEACON_OFFER_FRESHNESS"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid BEACON_OFFER_FRESHNESS %q: %w", raw, err)
		}
		cfg.OfferFreshness = d
	}

	return cfg, nil
}

func getenvFirst(primary, fallback string) string {
	if val := os.Getenv(primary); val != "" {
		return val
	}
	return os.Getenv(fallback)
}
