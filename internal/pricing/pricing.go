// Package pricing computes rental prices under a day/night tariff.
package pricing

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"parkovka/internal/models"
)

// Clock is a time of day measured from midnight.
type Clock time.Duration

// ParseClock parses "HH:MM".
func ParseClock(s string) (Clock, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid clock %q: %w", s, err)
	}
	return Clock(time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute), nil
}

func (c Clock) String() string {
	d := time.Duration(c)
	return fmt.Sprintf("%02d:%02d", int(d.Hours()), int(d.Minutes())%60)
}

func (c Clock) on(y int, m time.Month, d int, loc *time.Location) time.Time {
	dur := time.Duration(c)
	return time.Date(y, m, d, int(dur/time.Hour), int(dur%time.Hour/time.Minute), 0, 0, loc)
}

// Tariff describes the day/night price tables.
type Tariff struct {
	Location       *time.Location
	DayStart       Clock
	NightStart     Clock
	DayPrices      map[int]int64 // total price by hour count, 1..24
	ExtraHourPrice int64         // per hour when a remainder is missing from DayPrices
	NightPrices    map[int]int64 // total price by hour count for long night segments
	NightMinPrice  int64
	NightMinHours  int
}

// DefaultTariff mirrors the published price list: 150/h up to 3h, 120/h up to
// 6h, 90/h up to 10h, then 60/h capped at 1200 per day; night from 20:00 to
// 08:00 with a 600 minimum.
func DefaultTariff() Tariff {
	day := make(map[int]int64, 24)
	for h := 1; h <= 24; h++ {
		var p int64
		switch {
		case h <= 3:
			p = int64(h) * 150
		case h <= 6:
			p = int64(h) * 120
		case h <= 10:
			p = int64(h) * 90
		default:
			p = int64(h) * 60
			if p > 1200 {
				p = 1200
			}
		}
		day[h] = p
	}
	return Tariff{
		Location:       time.UTC,
		DayStart:       Clock(8 * time.Hour),
		NightStart:     Clock(20 * time.Hour),
		DayPrices:      day,
		ExtraHourPrice: 60,
		NightPrices:    map[int]int64{10: 600, 11: 650, 12: 700},
		NightMinPrice:  600,
		NightMinHours:  10,
	}
}

// Validate checks that the tariff can price any interval.
func (t *Tariff) Validate() error {
	if t.DayStart == t.NightStart {
		return fmt.Errorf("day start and night start must differ")
	}
	if _, ok := t.DayPrices[24]; !ok {
		return fmt.Errorf("day prices must define 24 hours")
	}
	for h, p := range t.DayPrices {
		if h < 1 || h > 24 {
			return fmt.Errorf("day price hour %d out of range 1..24", h)
		}
		if p < 0 {
			return fmt.Errorf("day price for %dh is negative", h)
		}
	}
	for h, p := range t.NightPrices {
		if h < 1 || p < 0 {
			return fmt.Errorf("invalid night price %d for %dh", p, h)
		}
	}
	if t.NightMinPrice < 0 || t.ExtraHourPrice < 0 {
		return fmt.Errorf("prices must not be negative")
	}
	return nil
}

// Engine prices intervals. It holds no mutable state.
type Engine struct {
	tariff Tariff
}

// NewEngine validates the tariff and returns an engine.
func NewEngine(t Tariff) (*Engine, error) {
	if t.Location == nil {
		t.Location = time.UTC
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &Engine{tariff: t}, nil
}

// Tariff returns a copy of the configured tariff.
func (e *Engine) Tariff() Tariff {
	return e.tariff
}

// Segment is a homogeneous day or night piece of an interval.
type Segment struct {
	Start time.Time
	End   time.Time
	Night bool
	Hours int
}

// CeilHours returns the duration in whole hours, rounded up.
func CeilHours(start, end time.Time) int {
	d := end.Sub(start)
	if d <= 0 {
		return 0
	}
	h := int(d / time.Hour)
	if d%time.Hour != 0 {
		h++
	}
	return h
}

// Segments splits [start,end) at every day/night boundary.
func (e *Engine) Segments(start, end time.Time) ([]Segment, error) {
	if !end.After(start) {
		return nil, models.ErrInvalidInterval
	}
	loc := e.tariff.Location
	s, en := start.In(loc), end.In(loc)

	points := []time.Time{s}
	var cuts []time.Time
	first := time.Date(s.Year(), s.Month(), s.Day(), 0, 0, 0, 0, loc)
	for d := first; !d.After(en); d = d.AddDate(0, 0, 1) {
		for _, c := range []Clock{e.tariff.DayStart, e.tariff.NightStart} {
			b := c.on(d.Year(), d.Month(), d.Day(), loc)
			if b.After(s) && b.Before(en) {
				cuts = append(cuts, b)
			}
		}
	}
	sort.Slice(cuts, func(i, j int) bool { return cuts[i].Before(cuts[j]) })
	points = append(points, cuts...)
	points = append(points, en)

	segs := make([]Segment, 0, len(points)-1)
	for i := 0; i+1 < len(points); i++ {
		a, b := points[i], points[i+1]
		segs = append(segs, Segment{
			Start: a,
			End:   b,
			Night: e.isNight(a),
			Hours: CeilHours(a, b),
		})
	}
	return segs, nil
}

func (e *Engine) isNight(t time.Time) bool {
	c := Clock(time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute +
		time.Duration(t.Second())*time.Second)
	ds, ns := e.tariff.DayStart, e.tariff.NightStart
	if ds < ns {
		return c >= ns || c < ds
	}
	// night window does not wrap midnight
	return c >= ns && c < ds
}

// Price returns the total price of [start,end).
func (e *Engine) Price(start, end time.Time) (int64, error) {
	segs, err := e.Segments(start, end)
	if err != nil {
		return 0, err
	}

	dayHours := 0
	var nights []int
	for _, s := range segs {
		if s.Night {
			nights = append(nights, s.Hours)
		} else {
			dayHours += s.Hours
		}
	}
	mixed := dayHours > 0 && len(nights) > 0

	var total int64
	if dayHours > 0 {
		total += e.dayPrice(dayHours)
	}
	for _, h := range nights {
		p := e.nightPrice(h)
		if mixed && p < e.tariff.NightMinPrice {
			p = e.tariff.NightMinPrice
		}
		total += p
	}
	return total, nil
}

func (e *Engine) dayPrice(hours int) int64 {
	if p, ok := e.tariff.DayPrices[hours]; ok {
		return p
	}
	days, rem := hours/24, hours%24
	total := int64(days) * e.tariff.DayPrices[24]
	if rem > 0 {
		if p, ok := e.tariff.DayPrices[rem]; ok {
			total += p
		} else {
			total += int64(rem) * e.tariff.ExtraHourPrice
		}
	}
	return total
}

func (e *Engine) nightPrice(hours int) int64 {
	if hours <= e.tariff.NightMinHours {
		return e.tariff.NightMinPrice
	}
	if p, ok := e.tariff.NightPrices[hours]; ok {
		return p
	}
	best := -1
	for h := range e.tariff.NightPrices {
		if h <= hours && h > best {
			best = h
		}
	}
	if best < 0 {
		return e.tariff.NightMinPrice
	}
	return e.tariff.NightPrices[best]
}

// Describe renders the tariff for display.
func (e *Engine) Describe() []string {
	t := e.tariff
	hours := make([]int, 0, len(t.DayPrices))
	for h := range t.DayPrices {
		hours = append(hours, h)
	}
	sort.Ints(hours)

	lines := []string{fmt.Sprintf("Day %s–%s:", t.DayStart, t.NightStart)}
	for _, h := range hours {
		lines = append(lines, fmt.Sprintf("  %dh: %d", h, t.DayPrices[h]))
	}
	lines = append(lines, fmt.Sprintf("Night %s–%s: minimum %d up to %dh",
		t.NightStart, t.DayStart, t.NightMinPrice, t.NightMinHours))

	nh := make([]int, 0, len(t.NightPrices))
	for h := range t.NightPrices {
		nh = append(nh, h)
	}
	sort.Ints(nh)
	for _, h := range nh {
		if h > t.NightMinHours {
			lines = append(lines, fmt.Sprintf("  %dh: %d", h, t.NightPrices[h]))
		}
	}
	return lines
}
