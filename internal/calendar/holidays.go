package calendar

import "time"

// usMarketHolidays returns the NYSE full-day holidays for a year, keyed by
// YYYY-MM-DD. Weekend holidays shift to the observed weekday (Saturday → the
// Friday before, Sunday → the Monday after), matching exchange practice.
func usMarketHolidays(year int) map[string]struct{} {
	set := make(map[string]struct{}, 10)

	add := func(t time.Time) { set[t.Format("2006-01-02")] = struct{}{} }
	observed := func(t time.Time) time.Time {
		switch t.Weekday() {
		case time.Saturday:
			return t.AddDate(0, 0, -1)
		case time.Sunday:
			return t.AddDate(0, 0, 1)
		}
		return t
	}
	fixed := func(month time.Month, day int) time.Time {
		return observed(time.Date(year, month, day, 0, 0, 0, 0, time.UTC))
	}
	nthWeekday := func(month time.Month, weekday time.Weekday, n int) time.Time {
		t := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
		offset := (int(weekday) - int(t.Weekday()) + 7) % 7
		return t.AddDate(0, 0, offset+(n-1)*7)
	}
	lastWeekday := func(month time.Month, weekday time.Weekday) time.Time {
		t := time.Date(year, month+1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1)
		offset := (int(t.Weekday()) - int(weekday) + 7) % 7
		return t.AddDate(0, 0, -offset)
	}

	add(fixed(time.January, 1))                       // New Year's Day
	add(nthWeekday(time.January, time.Monday, 3))     // Martin Luther King Jr. Day
	add(nthWeekday(time.February, time.Monday, 3))    // Washington's Birthday
	add(easter(year).AddDate(0, 0, -2))               // Good Friday
	add(lastWeekday(time.May, time.Monday))           // Memorial Day
	if year >= 2022 {
		add(fixed(time.June, 19)) // Juneteenth
	}
	add(fixed(time.July, 4))                          // Independence Day
	add(nthWeekday(time.September, time.Monday, 1))   // Labor Day
	add(nthWeekday(time.November, time.Thursday, 4))  // Thanksgiving
	add(fixed(time.December, 25))                     // Christmas

	return set
}

// easter computes the Gregorian Easter Sunday for a year using the anonymous
// Gregorian computus.
func easter(year int) time.Time {
	a := year % 19
	b := year / 100
	c := year % 100
	d := b / 4
	e := b % 4
	f := (b + 8) / 25
	g := (b - f + 1) / 3
	h := (19*a + b - d - g + 15) % 30
	i := c / 4
	k := c % 4
	l := (32 + 2*e + 2*i - h - k) % 7
	m := (a + 11*h + 22*l) / 451
	month := (h + l - 7*m + 114) / 31
	day := (h+l-7*m+114)%31 + 1
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
}
