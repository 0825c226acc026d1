package tools

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/liliang-cn/waktusolat-mcp/pkg/domain"
)

// DefaultCoordinateZone is used when no centroid is closer than +Inf, which
// only happens for NaN input.
const DefaultCoordinateZone = "SGR03"

// Centroid is an approximate location for a zone.
type Centroid struct {
	Zone      string
	Place     string
	Latitude  float64
	Longitude float64
}

// Centroids covers the major zones only; ties go to the earlier entry.
var Centroids = []Centroid{
	{"SGR01", "Petaling", 3.0738, 101.5183},
	{"SGR02", "Gombak", 3.3333, 101.5000},
	{"SGR03", "Kuala Lumpur", 3.1570, 101.7123},
	{"SGR04", "Sepang", 3.0000, 101.7500},
	{"PRK01", "Ipoh", 4.5943, 101.0901},
	{"PRK02", "Kuala Kangsar", 4.7500, 100.9167},
	{"PRK03", "Teluk Intan", 4.0167, 101.0333},
	{"PRK04", "Taiping", 5.3333, 100.7333},
	{"PNG01", "George Town", 5.4145, 100.3292},
	{"JHR01", "Johor Bahru", 1.4927, 103.7414},
	{"KDH01", "Alor Setar", 6.1167, 100.3667},
	{"TRG01", "Kuala Terengganu", 5.3333, 103.1500},
	{"KTN01", "Kota Bharu", 6.1333, 102.2500},
	{"MLK01", "Melaka", 2.1889, 102.2511},
}

// ZoneLister returns the full zone listing.
type ZoneLister func(ctx context.Context) ([]domain.Zone, error)

// Locator resolves free-form places to zone codes.
type Locator struct {
	zones ZoneLister
}

func NewLocator(zones ZoneLister) *Locator {
	return &Locator{zones: zones}
}

// DefaultCity is looked up when no city is given.
const DefaultCity = "kuala lumpur"

// ByCity returns the zone whose name contains city, case-insensitively. A
// valid zone code is returned as is. A blank city, or one that matches
// nothing, resolves to the Kuala Lumpur zone.
func (l *Locator) ByCity(ctx context.Context, city string) (string, error) {
	city = strings.TrimSpace(city)
	if domain.ZoneCodePattern.MatchString(city) {
		return city, nil
	}
	if city == "" {
		city = DefaultCity
	}

	zones, err := l.zones(ctx)
	if err != nil {
		return "", err
	}

	needle := strings.ToLower(city)
	for _, z := range zones {
		if strings.Contains(strings.ToLower(z.Name()), needle) {
			return z.Code(), nil
		}
	}
	for _, z := range zones {
		if strings.Contains(strings.ToLower(z.Name()), DefaultCity) {
			return z.Code(), nil
		}
	}
	return "", domain.NewValidationError(
		"Could not find prayer times for %s. Try using a major city in Malaysia.", needle)
}

// ByCoordinates returns the zone with the nearest centroid by planar distance.
func (l *Locator) ByCoordinates(latitude, longitude float64) (string, error) {
	if latitude < -90 || latitude > 90 {
		return "", domain.NewValidationError("Latitude must be between -90 and 90")
	}
	if longitude < -180 || longitude > 180 {
		return "", domain.NewValidationError("Longitude must be between -180 and 180")
	}

	zone := DefaultCoordinateZone
	best := math.Inf(1)
	for _, c := range Centroids {
		d := math.Hypot(latitude-c.Latitude, longitude-c.Longitude)
		if d < best {
			best = d
			zone = c.Zone
		}
	}
	return zone, nil
}

// FormatDay renders a day as the plain-text block shown to users.
func FormatDay(day domain.PrayerDay) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Prayer Times for %s (%s):", day.DateString(), day.Weekday())
	for _, line := range []struct{ label, name string }{
		{"Imsak", domain.Imsak},
		{"Fajr", domain.Fajr},
		{"Sunrise", domain.Sunrise},
		{"Dhuhr", domain.Dhuhr},
		{"Asr", domain.Asr},
		{"Maghrib", domain.Maghrib},
		{"Isha", domain.Isha},
	} {
		if v, ok := day.Time(line.name); ok {
			fmt.Fprintf(&b, "\n%s: %s", line.label, v)
		}
	}
	return b.String()
}
