package usgs

import (
	"errors"
	"fmt"
	"time"
)

const (
	// DefaultTopic is the short topic name earthquakes are published under.
	DefaultTopic = "usgs_earthquake_data"
	// DefaultBaseURL is the USGS FDSN event web service.
	DefaultBaseURL = "https://earthquake.usgs.gov/fdsnws/event/1"

	DefaultRadius       = 400
	DefaultMinMagnitude = 2
	DefaultMaxMagnitude = 10

	// Cerro Pachon.
	DefaultLatitude  = -30.22573200864174
	DefaultLongitude = -70.73932987127506

	MinDuration = time.Hour
	MaxDuration = 10000 * 24 * time.Hour
	MaxRadius   = 5000
)

// ErrInvalidQuery is wrapped by every query validation failure.
var ErrInvalidQuery = errors.New("invalid earthquake query")

// Config holds the query parameters for the USGS source.
type Config struct {
	// Duration is how far back from now to search.
	Duration time.Duration
	// Radius of the search around the center coordinates, in km.
	Radius int
	// Latitude and Longitude of the center of the search.
	Latitude  float64
	Longitude float64
	// MinMagnitude and MaxMagnitude bound the magnitudes searched (inclusive).
	MinMagnitude int
	MaxMagnitude int

	// Topic overrides DefaultTopic.
	Topic string
	// Namespace the schema is bound to.
	Namespace string
	// BaseURL overrides DefaultBaseURL, mainly for tests.
	BaseURL string
}

// DefaultConfig returns a query for the given duration with every other
// parameter at its default.
func DefaultConfig(duration time.Duration) Config {
	return Config{
		Duration:     duration,
		Radius:       DefaultRadius,
		Latitude:     DefaultLatitude,
		Longitude:    DefaultLongitude,
		MinMagnitude: DefaultMinMagnitude,
		MaxMagnitude: DefaultMaxMagnitude,
		Topic:        DefaultTopic,
		BaseURL:      DefaultBaseURL,
	}
}

// DurationFrom converts a (days, hours) pair to a duration.
func DurationFrom(days, hours int) time.Duration {
	return time.Duration(days)*24*time.Hour + time.Duration(hours)*time.Hour
}

// Validate checks the query parameters against the bounds the USGS API and the
// deployment accept.
func (c Config) Validate() error {
	if c.Duration > MaxDuration {
		return fmt.Errorf("%w: duration %s is too large, the maximum is 10000 days", ErrInvalidQuery, c.Duration)
	}
	if c.Duration < MinDuration {
		return fmt.Errorf("%w: duration %s is too small, the minimum is 1 hour", ErrInvalidQuery, c.Duration)
	}
	if c.Radius > MaxRadius {
		return fmt.Errorf("%w: radius %d is too large, the maximum is %d", ErrInvalidQuery, c.Radius, MaxRadius)
	}
	if c.Radius <= 0 {
		return fmt.Errorf("%w: radius %d is too small, it must be positive", ErrInvalidQuery, c.Radius)
	}
	if c.Latitude < -90 || c.Latitude > 90 {
		return fmt.Errorf("%w: latitude %v is out of bounds, the range is -90 to 90", ErrInvalidQuery, c.Latitude)
	}
	if c.Longitude < -180 || c.Longitude > 180 {
		return fmt.Errorf("%w: longitude %v is out of bounds, the range is -180 to 180", ErrInvalidQuery, c.Longitude)
	}
	if c.MinMagnitude < 0 || c.MinMagnitude > 10 {
		return fmt.Errorf("%w: minimum magnitude %d is out of bounds, the range is 0 to 10", ErrInvalidQuery, c.MinMagnitude)
	}
	if c.MaxMagnitude < 0 || c.MaxMagnitude > 10 {
		return fmt.Errorf("%w: maximum magnitude %d is out of bounds, the range is 0 to 10", ErrInvalidQuery, c.MaxMagnitude)
	}
	if c.MinMagnitude > c.MaxMagnitude {
		return fmt.Errorf("%w: minimum magnitude %d cannot exceed maximum magnitude %d", ErrInvalidQuery, c.MinMagnitude, c.MaxMagnitude)
	}
	return nil
}
