package waktusolat

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/tidwall/gjson"

	"github.com/liliang-cn/waktusolat-mcp/pkg/domain"
)

// FetchPrayerDays returns the month of prayer days the API holds for zone.
// An empty, non-nil slice means the request succeeded but no row was usable.
func (c *Client) FetchPrayerDays(ctx context.Context, zone string) ([]domain.PrayerDay, error) {
	if err := domain.ValidateZoneCode(zone); err != nil {
		return nil, err
	}

	body, err := c.get(ctx, "/v2/solat/"+zone)
	if err != nil {
		return nil, err
	}

	payload := classifyPrayerPayload(body)
	if payload.shape == shapeUnknown {
		return nil, domain.NewResponseFormatError(
			"Invalid prayer times data format in response. Received: %s", describeKind(payload.parent))
	}
	c.logger.Debug("classified prayer payload", "zone", zone, "shape", payload.shape.String(), "rows", len(payload.rows))

	if len(payload.rows) == 0 {
		c.logger.Warn("no prayer times in response", "zone", zone)
		return []domain.PrayerDay{}, nil
	}

	days := c.normalizer().prayerDays(payload)
	if len(days) == 0 {
		c.logger.Warn("no valid prayer times in response", "zone", zone, "rows", len(payload.rows))
	}
	return days, nil
}

// FetchZones returns every zone the API lists. Entries missing a field are
// skipped; an empty result is a format error.
func (c *Client) FetchZones(ctx context.Context) ([]domain.Zone, error) {
	body, err := c.get(ctx, "/zones")
	if err != nil {
		return nil, err
	}
	return c.normalizer().zones(body)
}

// PayloadSummary describes a raw prayer-times payload for diagnostics.
type PayloadSummary struct {
	Zone        string          `json:"zone"`
	URL         string          `json:"url"`
	Shape       string          `json:"shape"`
	Year        string          `json:"year,omitempty"`
	Month       string          `json:"month,omitempty"`
	LastUpdated string          `json:"last_updated,omitempty"`
	Rows        int             `json:"rows"`
	ValidRows   int             `json:"valid_rows"`
	FirstRow    json.RawMessage `json:"first_row,omitempty"`
}

// RawZonePayload fetches the raw prayer-times payload for zone and summarises it
// without caching anything.
func (c *Client) RawZonePayload(ctx context.Context, zone string) (*PayloadSummary, error) {
	if err := domain.ValidateZoneCode(zone); err != nil {
		return nil, err
	}

	path := "/v2/solat/" + zone
	body, err := c.get(ctx, path)
	if err != nil {
		return nil, err
	}

	payload := classifyPrayerPayload(body)
	summary := &PayloadSummary{
		Zone:  zone,
		URL:   c.baseURL + path,
		Shape: payload.shape.String(),
		Rows:  len(payload.rows),
	}
	if payload.shape == shapePrayersObject {
		summary.Year = rawString(payload.parent.Get("year"))
		summary.Month = rawString(payload.parent.Get("month"))
		summary.LastUpdated = rawString(payload.parent.Get("last_updated"))
	}
	if len(payload.rows) > 0 {
		summary.FirstRow = json.RawMessage(payload.rows[0].Raw)
	}
	summary.ValidRows = len(c.normalizer().prayerDays(payload))
	return summary, nil
}

func rawString(v gjson.Result) string {
	switch v.Type {
	case gjson.String:
		return v.Str
	case gjson.Number:
		return strconv.FormatInt(v.Int(), 10)
	}
	return ""
}
