package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/liliang-cn/waktusolat-mcp/pkg/cache"
	"github.com/liliang-cn/waktusolat-mcp/pkg/domain"
	"github.com/liliang-cn/waktusolat-mcp/pkg/log"
	"github.com/liliang-cn/waktusolat-mcp/pkg/waktusolat"
)

// Tool names.
const (
	GetPrayerTimes              = "get_prayer_times"
	ListZones                   = "list_zones"
	GetCurrentPrayer            = "get_current_prayer"
	GetPrayerTimesByCity        = "get_prayer_times_by_city"
	GetPrayerTimesByCoordinates = "get_prayer_times_by_coordinates"
	DebugAPIResponse            = "debug_api_response"
)

const debugDefaultZone = "SGR03"

// Upstream is the subset of the API client the handlers need.
type Upstream interface {
	FetchPrayerDays(ctx context.Context, zone string) ([]domain.PrayerDay, error)
	FetchZones(ctx context.Context) ([]domain.Zone, error)
	FetchCurrentStatus(ctx context.Context, zone string) (*domain.CurrentPrayerStatus, error)
	RawZonePayload(ctx context.Context, zone string) (*waktusolat.PayloadSummary, error)
}

// TTLs are the cache lifetimes per cached operation.
type TTLs struct {
	PrayerTimes   time.Duration
	Zones         time.Duration
	CurrentStatus time.Duration
}

var DefaultTTLs = TTLs{
	PrayerTimes:   time.Hour,
	Zones:         24 * time.Hour,
	CurrentStatus: time.Minute,
}

type Options struct {
	TTLs     TTLs
	Location *time.Location
	Now      func() time.Time
	Logger   *slog.Logger
}

// Handlers implements every tool on top of a cached upstream.
type Handlers struct {
	upstream Upstream
	cache    cache.Cache
	ttl      TTLs
	loc      *time.Location
	now      func() time.Time
	locator  *Locator
	logger   *slog.Logger
}

func NewHandlers(upstream Upstream, c cache.Cache, opts Options) *Handlers {
	h := &Handlers{
		upstream: upstream,
		cache:    c,
		ttl:      opts.TTLs,
		loc:      opts.Location,
		now:      opts.Now,
		logger:   opts.Logger,
	}
	if h.ttl.PrayerTimes <= 0 {
		h.ttl.PrayerTimes = DefaultTTLs.PrayerTimes
	}
	if h.ttl.Zones <= 0 {
		h.ttl.Zones = DefaultTTLs.Zones
	}
	if h.ttl.CurrentStatus <= 0 {
		h.ttl.CurrentStatus = DefaultTTLs.CurrentStatus
	}
	if h.loc == nil {
		h.loc = time.Local
	}
	if h.now == nil {
		h.now = time.Now
	}
	if h.logger == nil {
		h.logger = log.WithModule("tools")
	}
	h.locator = NewLocator(h.Zones)
	return h
}

func (h *Handlers) Locator() *Locator { return h.locator }

// PrayerDays returns the cached month of prayer days for zone.
func (h *Handlers) PrayerDays(ctx context.Context, zone string) ([]domain.PrayerDay, error) {
	if err := domain.ValidateZoneCode(zone); err != nil {
		return nil, err
	}
	return cache.GetOrCompute(ctx, h.cache, cache.Key("prayer_days", zone), h.ttl.PrayerTimes,
		func(ctx context.Context) ([]domain.PrayerDay, error) {
			return h.upstream.FetchPrayerDays(ctx, zone)
		})
}

// Zones returns the cached zone listing.
func (h *Handlers) Zones(ctx context.Context) ([]domain.Zone, error) {
	return cache.GetOrCompute(ctx, h.cache, cache.Key("zones"), h.ttl.Zones, h.upstream.FetchZones)
}

// CurrentStatus returns the cached current/next prayer status for zone.
func (h *Handlers) CurrentStatus(ctx context.Context, zone string) (*domain.CurrentPrayerStatus, error) {
	if err := domain.ValidateZoneCode(zone); err != nil {
		return nil, err
	}
	return cache.GetOrCompute(ctx, h.cache, cache.Key("current_status", zone), h.ttl.CurrentStatus,
		func(ctx context.Context) (*domain.CurrentPrayerStatus, error) {
			return h.upstream.FetchCurrentStatus(ctx, zone)
		})
}

// Today picks today's row from days, falling back to the first one.
func (h *Handlers) Today(days []domain.PrayerDay) (domain.PrayerDay, bool) {
	if len(days) == 0 {
		return domain.PrayerDay{}, false
	}
	today := h.now().In(h.loc).Format(domain.DateLayout)
	for _, d := range days {
		if d.DateString() == today {
			return d, true
		}
	}
	return days[0], true
}

// Tools returns the three core tools served over the stdio dispatcher.
func (h *Handlers) Tools() []Tool {
	return []Tool{
		{
			Name:        GetPrayerTimes,
			Description: "Get prayer times for a specific zone in Malaysia",
			InputSchema: schemaFor[ZoneArgs](),
			Handler:     h.HandleGetPrayerTimes,
		},
		{
			Name:        ListZones,
			Description: "List all available prayer time zones in Malaysia",
			InputSchema: schemaFor[ListZonesArgs](),
			Handler:     h.HandleListZones,
		},
		{
			Name:        GetCurrentPrayer,
			Description: "Get the current prayer time status for a specific zone",
			InputSchema: schemaFor[ZoneArgs](),
			Handler:     h.HandleGetCurrentPrayer,
		},
	}
}

// ExtendedTools returns the core tools plus the place-based and diagnostic ones.
func (h *Handlers) ExtendedTools() []Tool {
	return append(h.Tools(),
		Tool{
			Name:        GetPrayerTimesByCity,
			Description: "Get prayer times for a city in Malaysia, or for a zone code",
			InputSchema: schemaFor[CityArgs](),
			Handler:     h.HandleGetPrayerTimesByCity,
		},
		Tool{
			Name:        GetPrayerTimesByCoordinates,
			Description: "Get prayer times for a location using coordinates",
			InputSchema: schemaFor[CoordinatesArgs](),
			Handler:     h.HandleGetPrayerTimesByCoordinates,
		},
		Tool{
			Name:        DebugAPIResponse,
			Description: "Debug the raw API response for a specific zone",
			InputSchema: schemaFor[DebugArgs](),
			Handler:     h.HandleDebugAPIResponse,
		},
	)
}

type ZoneArgs struct {
	Zone string `json:"zone" jsonschema:"The zone code (e.g., 'SGR01', 'KUL01', etc.)"`
}

type ListZonesArgs struct{}

type CityArgs struct {
	City string `json:"city,omitempty" jsonschema:"Name of the city or a zone code (e.g., 'Shah Alam' or 'SGR03'; default: Kuala Lumpur)"`
}

type CoordinatesArgs struct {
	Latitude  float64 `json:"latitude" jsonschema:"Latitude of the location"`
	Longitude float64 `json:"longitude" jsonschema:"Longitude of the location"`
}

type DebugArgs struct {
	Zone     string `json:"zone,omitempty" jsonschema:"Zone code to inspect (default: SGR03)"`
	ZoneCode string `json:"zone_code,omitempty" jsonschema:"Alias of zone"`
}

func (h *Handlers) HandleGetPrayerTimes(ctx context.Context, args map[string]any) Result {
	return h.run(GetPrayerTimes, func() (string, error) {
		in, err := decodeArgs[ZoneArgs](args)
		if err != nil {
			return "", err
		}
		days, err := h.PrayerDays(ctx, in.Zone)
		if err != nil {
			return "", err
		}
		return prettyJSON(days)
	})
}

func (h *Handlers) HandleListZones(ctx context.Context, _ map[string]any) Result {
	return h.run(ListZones, func() (string, error) {
		zones, err := h.Zones(ctx)
		if err != nil {
			return "", err
		}
		return FormatZones(zones), nil
	})
}

func (h *Handlers) HandleGetCurrentPrayer(ctx context.Context, args map[string]any) Result {
	return h.run(GetCurrentPrayer, func() (string, error) {
		in, err := decodeArgs[ZoneArgs](args)
		if err != nil {
			return "", err
		}
		status, err := h.CurrentStatus(ctx, in.Zone)
		if err != nil {
			return "", err
		}
		return prettyJSON(status)
	})
}

func (h *Handlers) HandleGetPrayerTimesByCity(ctx context.Context, args map[string]any) Result {
	return h.run(GetPrayerTimesByCity, func() (string, error) {
		in, err := decodeArgs[CityArgs](args)
		if err != nil {
			return "", err
		}
		zone, err := h.locator.ByCity(ctx, in.City)
		if err != nil {
			return "", err
		}
		return h.dayText(ctx, zone, fmt.Sprintf("No prayer times available for %s", zone))
	})
}

func (h *Handlers) HandleGetPrayerTimesByCoordinates(ctx context.Context, args map[string]any) Result {
	return h.run(GetPrayerTimesByCoordinates, func() (string, error) {
		for _, key := range []string{"latitude", "longitude"} {
			if _, ok := args[key]; !ok {
				return "", domain.NewValidationError("%s is required", key)
			}
		}
		in, err := decodeArgs[CoordinatesArgs](args)
		if err != nil {
			return "", err
		}
		zone, err := h.locator.ByCoordinates(in.Latitude, in.Longitude)
		if err != nil {
			return "", err
		}
		return h.dayText(ctx, zone, fmt.Sprintf(
			"No prayer times available for coordinates (%g, %g) using zone %s", in.Latitude, in.Longitude, zone))
	})
}

func (h *Handlers) HandleDebugAPIResponse(ctx context.Context, args map[string]any) Result {
	return h.run(DebugAPIResponse, func() (string, error) {
		in, err := decodeArgs[DebugArgs](args)
		if err != nil {
			return "", err
		}
		if in.Zone == "" {
			in.Zone = in.ZoneCode
		}
		if in.Zone == "" {
			in.Zone = debugDefaultZone
		}
		summary, err := h.upstream.RawZonePayload(ctx, in.Zone)
		if err != nil {
			return "", err
		}
		text, err := prettyJSON(summary)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("API Response for zone %s:\n%s", in.Zone, text), nil
	})
}

func (h *Handlers) dayText(ctx context.Context, zone, emptyMsg string) (string, error) {
	days, err := h.PrayerDays(ctx, zone)
	if err != nil {
		return "", err
	}
	day, ok := h.Today(days)
	if !ok {
		return "", domain.NewResponseFormatError("%s", emptyMsg)
	}
	return fmt.Sprintf("Zone: %s\n%s", zone, FormatDay(day)), nil
}

// run converts fn's outcome into a Result. API errors keep their message;
// anything else is reported as an internal error.
func (h *Handlers) run(tool string, fn func() (string, error)) Result {
	start := time.Now()
	text, err := fn()
	if err != nil {
		if errors.Is(err, domain.ErrAPI) {
			h.logger.Warn("tool failed", "tool", tool, "error", err, "elapsed", time.Since(start))
			return errorResult(err.Error())
		}
		h.logger.Error("tool failed unexpectedly", "tool", tool, "error", err, "elapsed", time.Since(start))
		return errorResult("Internal server error: " + err.Error())
	}
	h.logger.Debug("tool succeeded", "tool", tool, "elapsed", time.Since(start))
	return textResult(text)
}

// FormatZones renders zones as "CODE: Name (State)" lines ordered by state then code.
func FormatZones(zones []domain.Zone) string {
	sorted := append([]domain.Zone(nil), zones...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].State() != sorted[j].State() {
			return sorted[i].State() < sorted[j].State()
		}
		return sorted[i].Code() < sorted[j].Code()
	})

	lines := make([]string, len(sorted))
	for i, z := range sorted {
		lines[i] = fmt.Sprintf("%s: %s (%s)", z.Code(), z.Name(), z.State())
	}
	return strings.Join(lines, "\n")
}

func decodeArgs[T any](args map[string]any) (T, error) {
	var out T
	if len(args) == 0 {
		return out, nil
	}
	data, err := json.Marshal(args)
	if err != nil {
		return out, domain.NewValidationError("Invalid arguments: %v", err)
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, domain.NewValidationError("Invalid arguments: %v", err)
	}
	return out, nil
}

func prettyJSON(v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode result: %w", err)
	}
	return string(data), nil
}
