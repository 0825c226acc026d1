package waktu

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/liliang-cn/waktusolat-mcp/pkg/domain"
	"github.com/liliang-cn/waktusolat-mcp/pkg/log"
	"github.com/liliang-cn/waktusolat-mcp/pkg/tools"
	"github.com/liliang-cn/waktusolat-mcp/pkg/waktusolat"
)

var (
	asJSON    bool
	zoneState string
	showMonth bool
	city      string
	latitude  float64
	longitude float64
)

var prayerLabels = []struct{ label, name string }{
	{"Imsak", domain.Imsak},
	{"Fajr", domain.Fajr},
	{"Sunrise", domain.Sunrise},
	{"Dhuhr", domain.Dhuhr},
	{"Asr", domain.Asr},
	{"Maghrib", domain.Maghrib},
	{"Isha", domain.Isha},
}

var zonesCmd = &cobra.Command{
	Use:   "zones",
	Short: "List the prayer time zones",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		zones, err := a.handlers.Zones(cmd.Context())
		if err != nil {
			return err
		}
		if zoneState != "" {
			filtered := zones[:0:0]
			for _, z := range zones {
				if strings.Contains(strings.ToLower(z.State()), strings.ToLower(zoneState)) {
					filtered = append(filtered, z)
				}
			}
			zones = filtered
		}

		out := cmd.OutOrStdout()
		if asJSON {
			return writeJSON(out, zones)
		}
		t := &table{headers: []string{"CODE", "STATE", "AREA"}}
		for _, z := range zones {
			t.add(z.Code(), z.State(), z.Name())
		}
		t.render(out)
		return nil
	},
}

var timesCmd = &cobra.Command{
	Use:   "times ZONE [ZONE...]",
	Short: "Show today's prayer times for one or more zones",
	Example: `  waktu times SGR01
  waktu times WLY01 JHR02 --month`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		zones := normalizeZones(args)
		months := make([][]domain.PrayerDay, len(zones))
		g, ctx := errgroup.WithContext(cmd.Context())
		for i, zone := range zones {
			g.Go(func() error {
				days, err := a.handlers.PrayerDays(ctx, zone)
				if err != nil {
					return fmt.Errorf("%s: %w", zone, err)
				}
				months[i] = days
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if asJSON {
			byZone := make(map[string][]domain.PrayerDay, len(zones))
			for i, zone := range zones {
				byZone[zone] = months[i]
			}
			return writeJSON(out, byZone)
		}

		now := time.Now().In(cfg.Server.Location())
		for i, zone := range zones {
			if i > 0 {
				fmt.Fprintln(out)
			}
			if showMonth {
				renderMonth(out, zone, months[i])
				continue
			}
			day, ok := a.handlers.Today(months[i])
			if !ok {
				fmt.Fprintf(out, "%s: no prayer times available\n", zone)
				continue
			}
			renderDay(out, zone, day, now)
		}
		return nil
	},
}

var nowCmd = &cobra.Command{
	Use:   "now ZONE [ZONE...]",
	Short: "Show the current and next prayer for one or more zones",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		zones := normalizeZones(args)
		statuses := make([]*domain.CurrentPrayerStatus, len(zones))
		g, ctx := errgroup.WithContext(cmd.Context())
		for i, zone := range zones {
			g.Go(func() error {
				st, err := a.handlers.CurrentStatus(ctx, zone)
				if err != nil {
					return fmt.Errorf("%s: %w", zone, err)
				}
				statuses[i] = st
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if asJSON {
			return writeJSON(out, statuses)
		}
		t := &table{headers: []string{"ZONE", "CURRENT", "NEXT", "AT"}}
		for _, st := range statuses {
			at := "-"
			if st.NextPrayer != nil {
				at = deref(st.PrayerTimes[*st.NextPrayer])
			}
			t.add(st.Zone, deref(st.CurrentPrayer), deref(st.NextPrayer), at)
		}
		t.render(out)
		return nil
	},
}

var locateCmd = &cobra.Command{
	Use:   "locate",
	Short: "Find the zone for a city or coordinates and show its prayer times",
	Example: `  waktu locate --city "Shah Alam"
  waktu locate --lat 5.41 --lon 100.33`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		byCity := cmd.Flags().Changed("city")
		byCoords := cmd.Flags().Changed("lat") || cmd.Flags().Changed("lon")
		if byCity == byCoords {
			return fmt.Errorf("%w: pass either --city or both --lat and --lon", domain.ErrInvalidArgument)
		}

		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		var zone string
		if byCity {
			zone, err = a.handlers.Locator().ByCity(cmd.Context(), city)
		} else {
			zone, err = a.handlers.Locator().ByCoordinates(latitude, longitude)
		}
		if err != nil {
			return err
		}
		log.WithModule("cli").Debug("resolved zone", "zone", zone)

		days, err := a.handlers.PrayerDays(cmd.Context(), zone)
		if err != nil {
			return err
		}
		day, ok := a.handlers.Today(days)
		if !ok {
			return domain.NewResponseFormatError("No prayer times available for zone %s", zone)
		}

		out := cmd.OutOrStdout()
		if asJSON {
			return writeJSON(out, map[string]any{"zone": zone, "day": day})
		}
		fmt.Fprintf(out, "Zone: %s\n%s\n", zone, tools.FormatDay(day))
		return nil
	},
}

func init() {
	zonesCmd.Flags().StringVar(&zoneState, "state", "", "only list zones whose state contains this text")
	timesCmd.Flags().BoolVar(&showMonth, "month", false, "show every day returned for the zone")
	locateCmd.Flags().StringVar(&city, "city", "", "city or area name, or a zone code")
	locateCmd.Flags().Float64Var(&latitude, "lat", 0, "latitude")
	locateCmd.Flags().Float64Var(&longitude, "lon", 0, "longitude")

	for _, c := range []*cobra.Command{zonesCmd, timesCmd, nowCmd, locateCmd} {
		c.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	}
}

func normalizeZones(args []string) []string {
	zones := make([]string, 0, len(args))
	seen := map[string]bool{}
	for _, arg := range args {
		z := strings.ToUpper(strings.TrimSpace(arg))
		if !seen[z] {
			seen[z] = true
			zones = append(zones, z)
		}
	}
	return zones
}

func renderDay(w io.Writer, zone string, day domain.PrayerDay, now time.Time) {
	times := make(map[string]*string, len(domain.Checkpoints))
	for _, name := range domain.Checkpoints {
		if v, ok := day.Time(name); ok {
			times[name] = &v
		}
	}
	// Only mark progress when the row shown is actually today.
	var current, next string
	if day.DateString() == now.Format(domain.DateLayout) {
		c, n := waktusolat.CurrentAndNext(times, now, nil)
		current, next = deref(c), deref(n)
	}

	fmt.Fprintln(w, styles.title.Render(fmt.Sprintf("%s  %s (%s)", zone, day.DateString(), day.Weekday())))

	var rowStyles []*lipgloss.Style
	t := &table{headers: []string{"PRAYER", "TIME", ""}}
	for _, p := range prayerLabels {
		v, ok := day.Time(p.name)
		if !ok {
			continue
		}
		switch p.name {
		case current:
			t.add(p.label, v, "now")
			rowStyles = append(rowStyles, &styles.current)
		case next:
			t.add(p.label, v, "next")
			rowStyles = append(rowStyles, &styles.next)
		default:
			t.add(p.label, v, "")
			rowStyles = append(rowStyles, nil)
		}
	}
	t.styleRow = func(i int) *lipgloss.Style { return rowStyles[i] }
	t.render(w)
}

func renderMonth(w io.Writer, zone string, days []domain.PrayerDay) {
	fmt.Fprintln(w, styles.title.Render(zone))
	t := &table{headers: []string{"DATE", "DAY", "IMSAK", "FAJR", "SUNRISE", "DHUHR", "ASR", "MAGHRIB", "ISHA"}}
	for _, d := range days {
		imsak, ok := d.Imsak()
		if !ok {
			imsak = "-"
		}
		t.add(d.DateString(), d.Weekday().String()[:3], imsak, d.Fajr(), d.Sunrise(), d.Dhuhr(), d.Asr(), d.Maghrib(), d.Isha())
	}
	t.render(w)
	fmt.Fprintln(w, styles.dim.Render(fmt.Sprintf("%d days", len(days))))
}
