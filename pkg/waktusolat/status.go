package waktusolat

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/tidwall/gjson"

	"github.com/liliang-cn/waktusolat-mcp/pkg/domain"
)

// upstream key for each checkpoint
var checkpointKeys = map[string]string{
	domain.Fajr:    "fajr",
	domain.Sunrise: "syuruk",
	domain.Dhuhr:   "dhuhr",
	domain.Asr:     "asr",
	domain.Maghrib: "maghrib",
	domain.Isha:    "isha",
}

// FetchCurrentStatus reports which checkpoint is current and which is next
// for zone at the client's notion of now.
func (c *Client) FetchCurrentStatus(ctx context.Context, zone string) (*domain.CurrentPrayerStatus, error) {
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

	n := c.normalizer()
	row, ok := n.todayRow(payload.rows)
	if !ok {
		return nil, domain.NewResponseFormatError("No prayer times available for today")
	}

	times := make(map[string]*string, len(domain.Checkpoints))
	for _, name := range domain.Checkpoints {
		times[name] = nil
		if v, ok := n.clockValue(checkpointKeys[name], row.Get(checkpointKeys[name])); ok {
			times[name] = &v
		}
	}

	current, next := CurrentAndNext(times, n.now, c.logger)

	status := &domain.CurrentPrayerStatus{
		Zone:          zone,
		CurrentPrayer: current,
		NextPrayer:    next,
		PrayerTimes:   times,
	}
	if date, err := n.rowDate(payload.parent, row); err == nil {
		status.Date = date
	}
	return status, nil
}

// todayRow picks the row for today: exact date match first, then day-of-month,
// then the first row.
func (n *normalizer) todayRow(rows []gjson.Result) (gjson.Result, bool) {
	if len(rows) == 0 {
		return gjson.Result{}, false
	}

	today := n.now.Format(domain.DateLayout)
	for _, row := range rows {
		if d := row.Get("date"); d.Type == gjson.String && normalizeDate(d.Str) == today {
			return row, true
		}
	}
	for _, row := range rows {
		if d := row.Get("day"); d.Type == gjson.Number && isInteger(d) && int(d.Int()) == n.now.Day() {
			return row, true
		}
	}

	n.logger.Warn("no row for today, using first row", "today", today)
	return rows[0], true
}

// CurrentAndNext scans the checkpoints in order for the first one strictly
// later than now. The checkpoint before it is current. When every checkpoint
// has passed, or none of them is usable, isha is current and fajr is next.
// Times that cannot be parsed are logged and ignored.
func CurrentAndNext(times map[string]*string, now time.Time, logger *slog.Logger) (current, next *string) {
	nowSec := now.Hour()*3600 + now.Minute()*60 + now.Second()

	for i, name := range domain.Checkpoints {
		v := times[name]
		if v == nil {
			continue
		}
		sec, err := clockSeconds(*v)
		if err != nil {
			if logger != nil {
				logger.Warn("ignoring malformed prayer time", "prayer", name, "value", *v, "error", err)
			}
			continue
		}
		if nowSec < sec {
			next = strPtr(name)
			if i > 0 {
				current = strPtr(domain.Checkpoints[i-1])
			}
			return current, next
		}
	}
	return strPtr(domain.Isha), strPtr(domain.Fajr)
}

func clockSeconds(s string) (int, error) {
	s = normalizeClock(s)
	if !domain.ClockPattern.MatchString(s) {
		return 0, fmt.Errorf("expected HH:MM, got %q", s)
	}
	h, _ := strconv.Atoi(s[:2])
	m, _ := strconv.Atoi(s[3:])
	return h*3600 + m*60, nil
}

func strPtr(s string) *string { return &s }
