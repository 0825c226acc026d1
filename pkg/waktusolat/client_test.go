package waktusolat

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liliang-cn/waktusolat-mcp/pkg/domain"
)

var myt = time.FixedZone("MYT", 8*3600)

func newTestClient(t *testing.T, handler http.HandlerFunc, now time.Time) (*Client, *int32) {
	t.Helper()
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	c, err := NewClient(Options{
		BaseURL:   srv.URL,
		Timeout:   2 * time.Second,
		UserAgent: "waktusolat-mcp/test",
		Location:  myt,
		Now:       func() time.Time { return now },
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, &hits
}

func jsonHandler(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, body)
	}
}

func epoch(day, hour, min int) int64 {
	return time.Date(2024, time.April, day, hour, min, 0, 0, myt).Unix()
}

func epochPayload() string {
	return fmt.Sprintf(`{
		"zone": "SGR01", "year": 2024, "month": "APR", "last_updated": "2024-03-28",
		"prayers": [
			{"day": 4, "hijri": "1445-09-24", "imsak": %d, "fajr": %d, "syuruk": %d,
			 "dhuhr": %d, "asr": %d, "maghrib": %d, "isha": %d},
			{"day": 5, "imsak": %d, "fajr": %d, "syuruk": %d,
			 "dhuhr": %d, "asr": %d, "maghrib": %d, "isha": %d}
		]}`,
		epoch(4, 5, 45), epoch(4, 5, 55), epoch(4, 7, 8), epoch(4, 13, 16), epoch(4, 16, 27), epoch(4, 19, 21), epoch(4, 20, 30),
		epoch(5, 5, 45), epoch(5, 5, 55), epoch(5, 7, 8), epoch(5, 13, 16), epoch(5, 16, 26), epoch(5, 19, 21), epoch(5, 20, 30),
	)
}

const legacyPayload = `[
	{"date": "2024-04-04", "day": 4, "imsak": "05:45", "fajr": "05:55", "syuruk": "07:08",
	 "dhuhr": "13:16", "asr": "16:27", "maghrib": "19:21", "isha": "20:30"},
	{"date": "2024-04-05", "day": 5, "imsak": "05:45", "fajr": "05:55", "syuruk": "07:08",
	 "dhuhr": "13:16", "asr": "16:26", "maghrib": "19:21", "isha": "20:30"}
]`

var testNow = time.Date(2024, time.April, 4, 16, 0, 0, 0, myt)

func TestNewClient_Defaults(t *testing.T) {
	c, err := NewClient(Options{})
	require.NoError(t, err)
	assert.Equal(t, DefaultBaseURL, c.BaseURL())
	assert.Equal(t, DefaultMaxRetries, c.maxRetries)

	c, err = NewClient(Options{BaseURL: "https://example.com/api/"})
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/api", c.BaseURL())

	_, err = NewClient(Options{BaseURL: "ftp://example.com"})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestFetchPrayerDays_EpochAndStringAreEquivalent(t *testing.T) {
	ctx := t.Context()

	epochClient, _ := newTestClient(t, jsonHandler(epochPayload()), testNow)
	fromEpoch, err := epochClient.FetchPrayerDays(ctx, "SGR01")
	require.NoError(t, err)

	stringClient, _ := newTestClient(t, jsonHandler(legacyPayload), testNow)
	fromStrings, err := stringClient.FetchPrayerDays(ctx, "SGR01")
	require.NoError(t, err)

	require.Len(t, fromEpoch, 2)
	a, err := json.Marshal(fromEpoch)
	require.NoError(t, err)
	b, err := json.Marshal(fromStrings)
	require.NoError(t, err)
	assert.JSONEq(t, string(b), string(a))

	assert.Equal(t, "2024-04-04", fromEpoch[0].DateString())
	assert.Equal(t, time.Thursday, fromEpoch[0].Weekday())
	assert.Equal(t, "07:08", fromEpoch[0].Sunrise())
}

func TestFetchPrayerDays_SendsHeaders(t *testing.T) {
	var gotPath, gotUA, gotAccept string
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotUA, gotAccept = r.URL.Path, r.UserAgent(), r.Header.Get("Accept")
		fmt.Fprint(w, legacyPayload)
	}, testNow)

	_, err := c.FetchPrayerDays(t.Context(), "KUL01")
	require.NoError(t, err)
	assert.Equal(t, "/v2/solat/KUL01", gotPath)
	assert.Equal(t, "waktusolat-mcp/test", gotUA)
	assert.Equal(t, "application/json", gotAccept)
}

func TestFetchPrayerDays_SkipsBadRows(t *testing.T) {
	payload := `{"year": 2024, "month": "APR", "prayers": [
		{"day": 1, "fajr": "05:56", "syuruk": "07:09", "dhuhr": "13:17", "asr": "16:28", "maghrib": "19:21", "isha": "20:31"},
		{"day": 2, "fajr": "05:56", "dhuhr": "13:17", "asr": "16:28", "maghrib": "19:21", "isha": "20:31"},
		{"day": 3, "fajr": "25:00", "syuruk": "07:09", "dhuhr": "13:17", "asr": "16:28", "maghrib": "19:21", "isha": "20:31"},
		{"day": 31, "fajr": "05:56", "syuruk": "07:09", "dhuhr": "13:17", "asr": "16:28", "maghrib": "19:21", "isha": "20:31"},
		"not-an-object",
		{"day": 5, "fajr": "05:55", "syuruk": "07:08", "dhuhr": "13:16", "asr": "16:27", "maghrib": "7:21 PM", "isha": "20:30"},
		{"day": 4, "imsak": "nope", "fajr": "5:55", "syuruk": "07:08:00", "dhuhr": "13:16", "asr": "16:27", "maghrib": "19:21", "isha": "20:30 (MYT)"}
	]}`
	c, _ := newTestClient(t, jsonHandler(payload), testNow)

	days, err := c.FetchPrayerDays(t.Context(), "SGR01")
	require.NoError(t, err)
	require.Len(t, days, 2)

	assert.Equal(t, "2024-04-01", days[0].DateString())
	_, hasImsak := days[0].Imsak()
	assert.False(t, hasImsak)

	assert.Equal(t, "2024-04-04", days[1].DateString())
	assert.Equal(t, "05:55", days[1].Fajr())
	assert.Equal(t, "07:08", days[1].Sunrise())
	assert.Equal(t, "20:30", days[1].Isha())
	_, hasImsak = days[1].Imsak()
	assert.False(t, hasImsak, "malformed imsak is dropped, not fatal")
}

func TestFetchPrayerDays_DateReconstruction(t *testing.T) {
	row := `{"day": 9, "fajr": "05:56", "syuruk": "07:09", "dhuhr": "13:17", "asr": "16:28", "maghrib": "19:21", "isha": "20:31"}`
	tests := []struct {
		name   string
		parent string
		want   string
	}{
		{"short month", `"year": 2023, "month": "JUN"`, "2023-06-09"},
		{"full month", `"year": 2023, "month": "june"`, "2023-06-09"},
		{"numeric month", `"year": "2023", "month": 6`, "2023-06-09"},
		{"defaults to current month", `"zone": "SGR01"`, "2024-04-09"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := fmt.Sprintf(`{%s, "prayers": [%s]}`, tt.parent, row)
			c, _ := newTestClient(t, jsonHandler(payload), testNow)
			days, err := c.FetchPrayerDays(t.Context(), "SGR01")
			require.NoError(t, err)
			require.Len(t, days, 1)
			assert.Equal(t, tt.want, days[0].DateString())
		})
	}
}

func TestFetchPrayerDays_ExplicitDateLayouts(t *testing.T) {
	payload := `[{"date": "04-Apr-2024", "day": 4, "fajr": "05:55", "syuruk": "07:08", "dhuhr": "13:16", "asr": "16:27", "maghrib": "19:21", "isha": "20:30"}]`
	c, _ := newTestClient(t, jsonHandler(payload), testNow)
	days, err := c.FetchPrayerDays(t.Context(), "SGR01")
	require.NoError(t, err)
	require.Len(t, days, 1)
	assert.Equal(t, "2024-04-04", days[0].DateString())
}

func TestFetchPrayerDays_EmptyRows(t *testing.T) {
	for _, body := range []string{`{"prayers": []}`, `[]`} {
		c, _ := newTestClient(t, jsonHandler(body), testNow)
		days, err := c.FetchPrayerDays(t.Context(), "SGR01")
		require.NoError(t, err)
		assert.NotNil(t, days)
		assert.Empty(t, days)
	}
}

func TestFetchPrayerDays_UnknownShape(t *testing.T) {
	for _, body := range []string{`{"data": []}`, `"hello"`, `42`} {
		c, hits := newTestClient(t, jsonHandler(body), testNow)
		_, err := c.FetchPrayerDays(t.Context(), "SGR01")
		assert.ErrorIs(t, err, domain.ErrResponseFormat, body)
		assert.ErrorIs(t, err, domain.ErrAPI)
		assert.Equal(t, int32(1), atomic.LoadInt32(hits))
	}
}

func TestFetchPrayerDays_InvalidZone(t *testing.T) {
	c, hits := newTestClient(t, jsonHandler(legacyPayload), testNow)
	for _, zone := range []string{"", "sgr01", "SGR1", "SGR011"} {
		_, err := c.FetchPrayerDays(t.Context(), zone)
		assert.ErrorIs(t, err, domain.ErrValidation, zone)
	}
	assert.Equal(t, int32(0), atomic.LoadInt32(hits), "invalid zones never reach upstream")
}

func TestGet_RetriesStatusErrors(t *testing.T) {
	var calls int32
	c, hits := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, legacyPayload)
	}, testNow)

	days, err := c.FetchPrayerDays(t.Context(), "SGR01")
	require.NoError(t, err)
	assert.Len(t, days, 2)
	assert.Equal(t, int32(3), atomic.LoadInt32(hits))
}

func TestGet_GivesUpAfterMaxRetries(t *testing.T) {
	c, hits := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}, testNow)

	_, err := c.FetchPrayerDays(t.Context(), "SGR01")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUpstreamStatus)
	assert.Contains(t, err.Error(), "HTTP 500")
	assert.Equal(t, int32(DefaultMaxRetries), atomic.LoadInt32(hits))

	var apiErr *domain.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
}

func TestGet_InvalidJSONIsNotRetried(t *testing.T) {
	for _, body := range []string{`{"prayers": [`, ``, `   `} {
		c, hits := newTestClient(t, jsonHandler(body), testNow)
		_, err := c.FetchPrayerDays(t.Context(), "SGR01")
		assert.ErrorIs(t, err, domain.ErrResponseFormat)
		assert.Equal(t, int32(1), atomic.LoadInt32(hits))
	}
}

func TestGet_ConnectionError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := NewClient(Options{BaseURL: url, Timeout: time.Second})
	require.NoError(t, err)
	_, err = c.FetchZones(t.Context())
	assert.ErrorIs(t, err, domain.ErrUpstreamConnection)
	assert.ErrorIs(t, err, domain.ErrAPI)
}

func TestClient_CloseIsIdempotentAndReacquires(t *testing.T) {
	c, hits := newTestClient(t, jsonHandler(legacyPayload), testNow)

	require.NoError(t, c.Close())
	_, err := c.FetchPrayerDays(t.Context(), "SGR01")
	require.NoError(t, err)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	_, err = c.FetchPrayerDays(t.Context(), "SGR01")
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(hits))
}

func TestFetchZones(t *testing.T) {
	body := `[
		{"jakimCode": "SGR01", "daerah": "Gombak, Petaling, Sepang", "negeri": "Selangor"},
		{"jakimCode": "WLY01", "daerah": " Kuala Lumpur, Putrajaya ", "negeri": "Wilayah Persekutuan"},
		{"jakimCode": "SGR02", "daerah": "Kuala Selangor"},
		{"jakimCode": "bad", "daerah": "x", "negeri": "y"},
		{"jakimCode": "JHR01", "daerah": "", "negeri": "Johor"}
	]`
	var path string
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		fmt.Fprint(w, body)
	}, testNow)

	zones, err := c.FetchZones(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "/zones", path)
	require.Len(t, zones, 2)
	assert.Equal(t, "SGR01", zones[0].Code())
	assert.Equal(t, "Kuala Lumpur, Putrajaya", zones[1].Name())
}

func TestFetchZones_FormatErrors(t *testing.T) {
	for _, body := range []string{`{"zones": []}`, `[]`, `[{"jakimCode": "SGR01"}]`} {
		c, _ := newTestClient(t, jsonHandler(body), testNow)
		_, err := c.FetchZones(t.Context())
		assert.ErrorIs(t, err, domain.ErrResponseFormat, body)
	}
}

func TestRawZonePayload(t *testing.T) {
	c, _ := newTestClient(t, jsonHandler(epochPayload()), testNow)

	summary, err := c.RawZonePayload(t.Context(), "SGR01")
	require.NoError(t, err)
	assert.Equal(t, "prayers-object", summary.Shape)
	assert.Equal(t, "2024", summary.Year)
	assert.Equal(t, "APR", summary.Month)
	assert.Equal(t, 2, summary.Rows)
	assert.Equal(t, 2, summary.ValidRows)
	assert.Contains(t, string(summary.FirstRow), `"hijri"`)
	assert.Equal(t, c.BaseURL()+"/v2/solat/SGR01", summary.URL)
}

func TestNormalizeClock(t *testing.T) {
	tests := map[string]string{
		"05:58":          "05:58",
		"5:58":           "05:58",
		"05:58:00":       "05:58",
		" 20:30 ":        "20:30",
		"20:30 (MYT)":    "20:30",
		"20:30:00 (MYT)": "20:30",
		"20:30 MYT":      "20:30",
		"7:21 PM":        "7:21 PM",
		"07:21 am":       "07:21 am",
		"20:30 (MYT":     "20:30 (MYT",
		"nope":           "nope",
		"5.45":           "5.45",
		"123:00":         "123:00",
		"05:5":           "05:5",
	}
	for in, want := range tests {
		assert.Equal(t, want, normalizeClock(in), in)
	}
}
