package waktusolat

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/liliang-cn/waktusolat-mcp/pkg/domain"
)

// payloadShape tags the layouts the prayer-times endpoint has been seen to return.
type payloadShape int

const (
	shapeUnknown payloadShape = iota
	// {"zone": "...", "year": 2024, "month": "APR", "prayers": [...]}
	shapePrayersObject
	// [{...}, {...}]
	shapeLegacyArray
)

func (s payloadShape) String() string {
	switch s {
	case shapePrayersObject:
		return "prayers-object"
	case shapeLegacyArray:
		return "legacy-array"
	}
	return "unknown"
}

type prayerPayload struct {
	shape  payloadShape
	parent gjson.Result
	rows   []gjson.Result
}

func classifyPrayerPayload(body []byte) prayerPayload {
	root := gjson.ParseBytes(body)
	switch {
	case root.IsObject():
		if prayers := root.Get("prayers"); prayers.IsArray() {
			return prayerPayload{shape: shapePrayersObject, parent: root, rows: prayers.Array()}
		}
	case root.IsArray():
		return prayerPayload{shape: shapeLegacyArray, rows: root.Array()}
	}
	return prayerPayload{shape: shapeUnknown, parent: root}
}

func describeKind(r gjson.Result) string {
	switch {
	case r.IsObject():
		return "object"
	case r.IsArray():
		return "array"
	}
	switch r.Type {
	case gjson.String:
		return "string"
	case gjson.Number:
		return "number"
	case gjson.True, gjson.False:
		return "boolean"
	case gjson.Null:
		return "null"
	}
	return "unknown"
}

// requiredRowKeys must all be present on a row for it to be considered.
var requiredRowKeys = []string{"day", "fajr", "dhuhr", "asr", "maghrib", "isha", "syuruk"}

// upstream key -> domain prayer name
var rowTimeKeys = []struct{ src, dst string }{
	{"imsak", domain.Imsak},
	{"fajr", domain.Fajr},
	{"syuruk", domain.Sunrise},
	{"dhuhr", domain.Dhuhr},
	{"asr", domain.Asr},
	{"maghrib", domain.Maghrib},
	{"isha", domain.Isha},
}

// maxEpoch is 9999-12-31T23:59:59Z.
const maxEpoch = 253402300799

var dateLayouts = []string{domain.DateLayout, "02-Jan-2006", "2-Jan-2006", "02/01/2006"}

type normalizer struct {
	loc    *time.Location
	now    time.Time
	logger *slog.Logger
}

func (c *Client) normalizer() *normalizer {
	return &normalizer{loc: c.loc, now: c.now().In(c.loc), logger: c.logger}
}

// prayerDays converts every usable row; unusable rows are logged and skipped.
func (n *normalizer) prayerDays(p prayerPayload) []domain.PrayerDay {
	days := make([]domain.PrayerDay, 0, len(p.rows))
	for i, row := range p.rows {
		day, err := n.prayerDay(p.parent, row)
		if err != nil {
			n.logger.Warn("skipping prayer time row", "index", i, "error", err)
			continue
		}
		days = append(days, day)
	}
	return days
}

func (n *normalizer) prayerDay(parent, row gjson.Result) (domain.PrayerDay, error) {
	if !row.IsObject() {
		return domain.PrayerDay{}, fmt.Errorf("row is %s, not an object", describeKind(row))
	}
	for _, key := range requiredRowKeys {
		if !row.Get(key).Exists() {
			return domain.PrayerDay{}, fmt.Errorf("missing required field %q", key)
		}
	}

	date, err := n.rowDate(parent, row)
	if err != nil {
		return domain.PrayerDay{}, err
	}

	times := make(map[string]string, len(rowTimeKeys))
	for _, k := range rowTimeKeys {
		v, ok := n.clockValue(k.src, row.Get(k.src))
		if !ok {
			continue
		}
		if k.dst == domain.Imsak && !domain.ClockPattern.MatchString(v) {
			n.logger.Warn("dropping malformed imsak", "value", v)
			continue
		}
		times[k.dst] = v
	}

	return domain.NewPrayerDay(domain.PrayerDayInput{
		Date:    date,
		Imsak:   times[domain.Imsak],
		Fajr:    times[domain.Fajr],
		Sunrise: times[domain.Sunrise],
		Dhuhr:   times[domain.Dhuhr],
		Asr:     times[domain.Asr],
		Maghrib: times[domain.Maghrib],
		Isha:    times[domain.Isha],
	})
}

// rowDate returns the row's explicit date, or rebuilds one from the payload's
// year and month plus the row's day-of-month.
func (n *normalizer) rowDate(parent, row gjson.Result) (string, error) {
	if d := row.Get("date"); d.Type == gjson.String {
		return normalizeDate(d.Str), nil
	}

	dayField := row.Get("day")
	if dayField.Type != gjson.Number || !isInteger(dayField) {
		return "", fmt.Errorf("day %q is not a day-of-month number", dayField.Raw)
	}

	year := n.year(parent.Get("year"))
	month := n.month(parent.Get("month"))
	day := int(dayField.Int())

	t := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	if t.Day() != day || t.Month() != month {
		return "", fmt.Errorf("day %d does not exist in %04d-%02d", day, year, int(month))
	}
	return t.Format(domain.DateLayout), nil
}

func (n *normalizer) year(v gjson.Result) int {
	switch v.Type {
	case gjson.Number:
		if y := int(v.Int()); y > 0 {
			return y
		}
	case gjson.String:
		if y, err := strconv.Atoi(strings.TrimSpace(v.Str)); err == nil && y > 0 {
			return y
		}
	}
	return n.now.Year()
}

func (n *normalizer) month(v gjson.Result) time.Month {
	switch v.Type {
	case gjson.Number:
		if m := v.Int(); m >= 1 && m <= 12 {
			return time.Month(m)
		}
	case gjson.String:
		if m, ok := parseMonth(v.Str); ok {
			return m
		}
	}
	if v.Exists() {
		n.logger.Debug("unrecognised month, using current month", "month", v.Raw)
	}
	return n.now.Month()
}

func parseMonth(s string) (time.Month, bool) {
	s = strings.TrimSpace(s)
	if m, err := strconv.Atoi(s); err == nil {
		if m >= 1 && m <= 12 {
			return time.Month(m), true
		}
		return 0, false
	}
	s = strings.ToLower(s)
	for m := time.January; m <= time.December; m++ {
		name := strings.ToLower(m.String())
		if s == name || s == name[:3] {
			return m, true
		}
	}
	return 0, false
}

// normalizeDate rewrites known upstream date layouts as YYYY-MM-DD. Anything
// else is returned unchanged and left for validation to reject.
func normalizeDate(s string) string {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format(domain.DateLayout)
		}
	}
	return s
}

// clockValue converts an upstream time field to HH:MM. Integer values are
// Unix epoch seconds rendered in the configured location. A false return
// means the field is null or could not be converted.
func (n *normalizer) clockValue(field string, v gjson.Result) (string, bool) {
	switch v.Type {
	case gjson.Number:
		if !isInteger(v) {
			n.logger.Warn("non-integer time value", "field", field, "value", v.Raw)
			return "", false
		}
		sec := v.Int()
		if sec < 0 || sec > maxEpoch {
			n.logger.Warn("epoch time out of range", "field", field, "value", v.Raw)
			return "", false
		}
		return time.Unix(sec, 0).In(n.loc).Format("15:04"), true
	case gjson.String:
		s := normalizeClock(v.Str)
		if s == "" {
			return "", false
		}
		return s, true
	}
	return "", false
}

// normalizeClock accepts H:MM, HH:MM and HH:MM:SS, optionally followed by a
// zone suffix such as " (MYT)" or " MYT", and returns HH:MM. Anything else,
// including 12-hour forms like "7:21 PM", is returned trimmed so validation
// rejects it.
func normalizeClock(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.Index(s, "("); i > 0 && strings.HasSuffix(s, ")") {
		s = strings.TrimSpace(s[:i])
	}
	s = strings.TrimSpace(strings.TrimSuffix(s, " MYT"))
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return s
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || len(parts[0]) > 2 {
		return s
	}
	if len(parts[1]) != 2 {
		return s
	}
	if _, err := strconv.Atoi(parts[1]); err != nil {
		return s
	}
	return fmt.Sprintf("%02d:%s", h, parts[1])
}

func isInteger(v gjson.Result) bool {
	return !strings.ContainsAny(v.Raw, ".eE")
}

// zones converts the zones listing; entries with missing or blank fields are skipped.
func (n *normalizer) zones(body []byte) ([]domain.Zone, error) {
	root := gjson.ParseBytes(body)
	if !root.IsArray() {
		return nil, domain.NewResponseFormatError("Invalid zones data format in response. Received: %s", describeKind(root))
	}

	var zones []domain.Zone
	for i, item := range root.Array() {
		code, name, state := item.Get("jakimCode"), item.Get("daerah"), item.Get("negeri")
		if code.Type != gjson.String || name.Type != gjson.String || state.Type != gjson.String {
			n.logger.Warn("skipping zone entry with missing fields", "index", i)
			continue
		}
		z, err := domain.NewZone(code.Str, name.Str, state.Str)
		if err != nil {
			n.logger.Warn("skipping invalid zone entry", "index", i, "error", err)
			continue
		}
		zones = append(zones, z)
	}

	if len(zones) == 0 {
		return nil, domain.NewResponseFormatError("No valid zones found in response")
	}
	return zones, nil
}
