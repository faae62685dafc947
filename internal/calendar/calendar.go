// Package calendar answers trading-day and market-window questions for a
// single exchange timezone. All functions are pure: no clocks, no I/O.
package calendar

import (
	"fmt"
	"time"
)

// ClockTime is a wall-clock time of day (exchange local).
type ClockTime struct {
	Hour   int
	Minute int
}

// Minutes returns the time of day in minutes since midnight.
func (c ClockTime) Minutes() int { return c.Hour*60 + c.Minute }

// String renders the time as HH:MM.
func (c ClockTime) String() string { return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute) }

// ParseClockTime parses "HH:MM" into a ClockTime. The input must be exactly
// five characters, zero-padded, with nothing trailing.
func ParseClockTime(s string) (ClockTime, error) {
	if len(s) != 5 || s[2] != ':' {
		return ClockTime{}, fmt.Errorf("clock time %q must be HH:MM", s)
	}
	for _, i := range []int{0, 1, 3, 4} {
		if s[i] < '0' || s[i] > '9' {
			return ClockTime{}, fmt.Errorf("clock time %q must be HH:MM", s)
		}
	}
	h := int(s[0]-'0')*10 + int(s[1]-'0')
	m := int(s[3]-'0')*10 + int(s[4]-'0')
	if h > 23 || m > 59 {
		return ClockTime{}, fmt.Errorf("clock time %q out of range", s)
	}
	return ClockTime{Hour: h, Minute: m}, nil
}

// Calendar decides trading days, the market window, and the expected latest
// data date for a market with fixed open/close/cutoff times.
type Calendar struct {
	loc    *time.Location
	open   ClockTime
	close  ClockTime
	cutoff ClockTime
	extra  map[string]struct{} // extra holidays, YYYY-MM-DD
}

// New builds a Calendar. Invalid configuration (unknown timezone, open not
// before close, cutoff outside [open, close]) fails here rather than at
// query time.
func New(timezone string, open, close, cutoff ClockTime, extraHolidays []string) (*Calendar, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("loading timezone %q: %w", timezone, err)
	}
	if open.Minutes() >= close.Minutes() {
		return nil, fmt.Errorf("market open %s must be before close %s", open, close)
	}
	if cutoff.Minutes() < open.Minutes() {
		return nil, fmt.Errorf("cutoff %s must not be before open %s", cutoff, open)
	}
	if cutoff.Minutes() > close.Minutes() {
		return nil, fmt.Errorf("cutoff %s must not be after close %s", cutoff, close)
	}

	extra := make(map[string]struct{}, len(extraHolidays))
	for _, h := range extraHolidays {
		if _, err := time.Parse("2006-01-02", h); err != nil {
			return nil, fmt.Errorf("parsing extra holiday %q: %w", h, err)
		}
		extra[h] = struct{}{}
	}

	return &Calendar{loc: loc, open: open, close: close, cutoff: cutoff, extra: extra}, nil
}

// Location returns the exchange timezone.
func (c *Calendar) Location() *time.Location { return c.loc }

// IsTradingDay reports whether the date of t (in the exchange timezone) is a
// weekday that is not a market holiday.
func (c *Calendar) IsTradingDay(t time.Time) bool {
	lt := t.In(c.loc)
	switch lt.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	key := lt.Format("2006-01-02")
	if _, ok := c.extra[key]; ok {
		return false
	}
	_, holiday := usMarketHolidays(lt.Year())[key]
	return !holiday
}

// InWindow reports whether t falls on a trading day within [open, close].
func (c *Calendar) InWindow(t time.Time) bool {
	if !c.IsTradingDay(t) {
		return false
	}
	lt := t.In(c.loc)
	m := lt.Hour()*60 + lt.Minute()
	return m >= c.open.Minutes() && m <= c.close.Minutes()
}

// LastTradingDay returns the most recent trading day at or before t, as a
// midnight-UTC date.
func (c *Calendar) LastTradingDay(t time.Time) time.Time {
	d := t.In(c.loc)
	for !c.IsTradingDay(d) {
		d = d.AddDate(0, 0, -1)
	}
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
}

// ExpectedLatestDataDate returns the trading date whose data should exist as
// of t: on a trading day at or past the cutoff it is that day, otherwise the
// previous trading day. Weekends and holidays resolve to the most recent
// prior trading day.
func (c *Calendar) ExpectedLatestDataDate(t time.Time) time.Time {
	lt := t.In(c.loc)
	if c.IsTradingDay(lt) {
		m := lt.Hour()*60 + lt.Minute()
		if m >= c.cutoff.Minutes() {
			return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, time.UTC)
		}
		return c.LastTradingDay(lt.AddDate(0, 0, -1))
	}
	return c.LastTradingDay(lt)
}

// TradingDaysBetween returns the trading dates in [start, end], inclusive,
// as midnight-UTC dates. Start and end are interpreted as dates.
func (c *Calendar) TradingDaysBetween(start, end time.Time) []time.Time {
	var days []time.Time
	for d := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC); !d.After(time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, time.UTC)); d = d.AddDate(0, 0, 1) {
		// Evaluate holiday membership at exchange-local noon to avoid any
		// DST edge around midnight.
		local := time.Date(d.Year(), d.Month(), d.Day(), 12, 0, 0, 0, c.loc)
		if c.IsTradingDay(local) {
			days = append(days, d)
		}
	}
	return days
}
