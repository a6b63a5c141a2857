package duration

import (
	"fmt"
	"time"
)

// DefaultTimezone is used when a data cube declares none.
const DefaultTimezone = "Etc/UTC"

// LoadLocation resolves an IANA zone name; the empty string means UTC.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" || name == "UTC" || name == DefaultTimezone {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("unknown timezone %q: %w", name, err)
	}
	return loc, nil
}

// ZoneName returns the name to persist for loc.
func ZoneName(loc *time.Location) string {
	if loc == nil || loc == time.UTC {
		return DefaultTimezone
	}
	return loc.String()
}
