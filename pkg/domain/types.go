package domain

import (
	"encoding/json"
	"time"
)

// DateLayout is the calendar date format used on the wire and in cache keys.
const DateLayout = "2006-01-02"

// Prayer and checkpoint names.
const (
	Imsak   = "imsak"
	Fajr    = "fajr"
	Sunrise = "sunrise"
	Dhuhr   = "dhuhr"
	Asr     = "asr"
	Maghrib = "maghrib"
	Isha    = "isha"
)

// Checkpoints are the six ordered daily times used for current/next prayer status.
var Checkpoints = []string{Fajr, Sunrise, Dhuhr, Asr, Maghrib, Isha}

// PrayerDayInput is the unvalidated form of a PrayerDay as produced by the
// upstream normalizer. An empty Imsak means absent.
type PrayerDayInput struct {
	Date    string `validate:"required,datetime=2006-01-02"`
	Imsak   string `validate:"omitempty,hhmm"`
	Fajr    string `validate:"required,hhmm"`
	Sunrise string `validate:"required,hhmm"`
	Dhuhr   string `validate:"required,hhmm"`
	Asr     string `validate:"required,hhmm"`
	Maghrib string `validate:"required,hhmm"`
	Isha    string `validate:"required,hhmm"`
}

// PrayerDay is one calendar day's set of prayer times for one zone. It can
// only be obtained from NewPrayerDay and is immutable afterwards.
type PrayerDay struct {
	date  time.Time
	times map[string]string
}

// NewPrayerDay validates in and builds a PrayerDay. The weekday is always
// derived from the date.
func NewPrayerDay(in PrayerDayInput) (PrayerDay, error) {
	if err := validateStruct(in); err != nil {
		return PrayerDay{}, err
	}
	date, err := time.Parse(DateLayout, in.Date)
	if err != nil {
		return PrayerDay{}, NewValidationError("invalid date %q: expected YYYY-MM-DD", in.Date)
	}

	times := map[string]string{
		Fajr:    in.Fajr,
		Sunrise: in.Sunrise,
		Dhuhr:   in.Dhuhr,
		Asr:     in.Asr,
		Maghrib: in.Maghrib,
		Isha:    in.Isha,
	}
	if in.Imsak != "" {
		times[Imsak] = in.Imsak
	}
	return PrayerDay{date: date, times: times}, nil
}

func (p PrayerDay) Date() time.Time        { return p.date }
func (p PrayerDay) DateString() string     { return p.date.Format(DateLayout) }
func (p PrayerDay) Weekday() time.Weekday  { return p.date.Weekday() }
func (p PrayerDay) Imsak() (string, bool)  { return p.Time(Imsak) }
func (p PrayerDay) Fajr() string           { return p.times[Fajr] }
func (p PrayerDay) Sunrise() string        { return p.times[Sunrise] }
func (p PrayerDay) Dhuhr() string          { return p.times[Dhuhr] }
func (p PrayerDay) Asr() string            { return p.times[Asr] }
func (p PrayerDay) Maghrib() string        { return p.times[Maghrib] }
func (p PrayerDay) Isha() string           { return p.times[Isha] }

// Time returns the HH:MM value for a prayer name.
func (p PrayerDay) Time(name string) (string, bool) {
	v, ok := p.times[name]
	return v, ok
}

type prayerDayJSON struct {
	Date    string  `json:"date"`
	Day     string  `json:"day"`
	Imsak   *string `json:"imsak"`
	Fajr    string  `json:"fajr"`
	Sunrise string  `json:"sunrise"`
	Dhuhr   string  `json:"dhuhr"`
	Asr     string  `json:"asr"`
	Maghrib string  `json:"maghrib"`
	Isha    string  `json:"isha"`
}

func (p PrayerDay) MarshalJSON() ([]byte, error) {
	out := prayerDayJSON{
		Date:    p.DateString(),
		Day:     p.Weekday().String(),
		Fajr:    p.Fajr(),
		Sunrise: p.Sunrise(),
		Dhuhr:   p.Dhuhr(),
		Asr:     p.Asr(),
		Maghrib: p.Maghrib(),
		Isha:    p.Isha(),
	}
	if imsak, ok := p.Imsak(); ok {
		out.Imsak = &imsak
	}
	return json.Marshal(out)
}

// Zone is a JAKIM prayer-time region.
type Zone struct {
	code  string
	name  string
	state string
}

type zoneInput struct {
	Code  string `validate:"required,zonecode"`
	Name  string `validate:"required"`
	State string `validate:"required"`
}

// NewZone trims all fields and validates them.
func NewZone(code, name, state string) (Zone, error) {
	in := zoneInput{Code: trim(code), Name: trim(name), State: trim(state)}
	if err := validateStruct(in); err != nil {
		return Zone{}, err
	}
	return Zone{code: in.Code, name: in.Name, state: in.State}, nil
}

func (z Zone) Code() string  { return z.code }
func (z Zone) Name() string  { return z.name }
func (z Zone) State() string { return z.state }

func (z Zone) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Code  string `json:"code"`
		Name  string `json:"name"`
		State string `json:"state"`
	}{z.code, z.name, z.state})
}

// CurrentPrayerStatus is produced fresh per lookup and never stored beyond the cache TTL.
type CurrentPrayerStatus struct {
	Zone          string             `json:"zone"`
	Date          string             `json:"date,omitempty"`
	CurrentPrayer *string            `json:"current_prayer"`
	NextPrayer    *string            `json:"next_prayer"`
	PrayerTimes   map[string]*string `json:"prayer_times"`
}
