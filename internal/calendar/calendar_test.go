package calendar

import (
	"testing"
	"time"
)

func newTestCalendar(t *testing.T) *Calendar {
	t.Helper()
	cal, err := New("America/New_York",
		ClockTime{9, 45}, ClockTime{16, 45}, ClockTime{16, 30}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return cal
}

func et(t *testing.T, value string) time.Time {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("LoadLocation: %v", err)
	}
	ts, err := time.ParseInLocation("2006-01-02 15:04", value, loc)
	if err != nil {
		t.Fatalf("parsing %q: %v", value, err)
	}
	return ts
}

func TestNewValidation(t *testing.T) {
	if _, err := New("Not/AZone", ClockTime{9, 45}, ClockTime{16, 45}, ClockTime{16, 30}, nil); err == nil {
		t.Error("unknown timezone should fail construction")
	}
	if _, err := New("America/New_York", ClockTime{16, 45}, ClockTime{9, 45}, ClockTime{16, 30}, nil); err == nil {
		t.Error("open after close should fail construction")
	}
	if _, err := New("America/New_York", ClockTime{9, 45}, ClockTime{16, 45}, ClockTime{9, 0}, nil); err == nil {
		t.Error("cutoff before open should fail construction")
	}
	if _, err := New("America/New_York", ClockTime{9, 45}, ClockTime{16, 45}, ClockTime{23, 0}, nil); err == nil {
		t.Error("cutoff after close should fail construction")
	}
	if _, err := New("America/New_York", ClockTime{9, 45}, ClockTime{16, 45}, ClockTime{16, 30}, []string{"junk"}); err == nil {
		t.Error("malformed extra holiday should fail construction")
	}
}

func TestParseClockTime(t *testing.T) {
	ct, err := ParseClockTime("09:45")
	if err != nil {
		t.Fatalf("ParseClockTime: %v", err)
	}
	if ct.Hour != 9 || ct.Minute != 45 {
		t.Errorf("ParseClockTime = %v, want 09:45", ct)
	}
	if _, err := ParseClockTime("25:00"); err == nil {
		t.Error("out-of-range hour should fail")
	}
	if _, err := ParseClockTime("nope"); err == nil {
		t.Error("garbage should fail")
	}
	if _, err := ParseClockTime("09:45xyz"); err == nil {
		t.Error("trailing characters should fail")
	}
	if _, err := ParseClockTime("9:45"); err == nil {
		t.Error("unpadded hour should fail")
	}
	if _, err := ParseClockTime("09:5"); err == nil {
		t.Error("unpadded minute should fail")
	}
	if _, err := ParseClockTime("09:60"); err == nil {
		t.Error("out-of-range minute should fail")
	}
}

func TestIsTradingDay(t *testing.T) {
	cal := newTestCalendar(t)

	cases := []struct {
		when string
		want bool
		name string
	}{
		{"2025-06-20 12:00", true, "ordinary Friday"},
		{"2025-06-21 12:00", false, "Saturday"},
		{"2025-06-22 12:00", false, "Sunday"},
		{"2025-06-19 12:00", false, "Juneteenth"},
		{"2025-07-04 12:00", false, "Independence Day"},
		{"2025-01-01 12:00", false, "New Year's Day"},
		{"2025-01-20 12:00", false, "MLK Day (3rd Monday Jan)"},
		{"2025-04-18 12:00", false, "Good Friday"},
		{"2025-05-26 12:00", false, "Memorial Day"},
		{"2025-11-27 12:00", false, "Thanksgiving"},
		{"2025-12-25 12:00", false, "Christmas"},
		{"2026-07-03 12:00", false, "July 4 2026 observed Friday"},
		{"2025-06-23 12:00", true, "ordinary Monday"},
	}
	for _, c := range cases {
		if got := cal.IsTradingDay(et(t, c.when)); got != c.want {
			t.Errorf("IsTradingDay(%s) = %v, want %v (%s)", c.when, got, c.want, c.name)
		}
	}
}

func TestExtraHolidays(t *testing.T) {
	cal, err := New("America/New_York",
		ClockTime{9, 45}, ClockTime{16, 45}, ClockTime{16, 30}, []string{"2025-06-23"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if cal.IsTradingDay(et(t, "2025-06-23 12:00")) {
		t.Error("configured extra holiday should not be a trading day")
	}
}

func TestInWindow(t *testing.T) {
	cal := newTestCalendar(t)

	cases := []struct {
		when string
		want bool
	}{
		{"2025-06-20 09:44", false},
		{"2025-06-20 09:45", true},
		{"2025-06-20 12:00", true},
		{"2025-06-20 16:45", true},
		{"2025-06-20 16:46", false},
		{"2025-06-21 12:00", false}, // Saturday
		{"2025-06-19 12:00", false}, // holiday
	}
	for _, c := range cases {
		if got := cal.InWindow(et(t, c.when)); got != c.want {
			t.Errorf("InWindow(%s) = %v, want %v", c.when, got, c.want)
		}
	}
}

func TestExpectedLatestDataDate(t *testing.T) {
	cal := newTestCalendar(t)

	cases := []struct {
		when string
		want string
		name string
	}{
		{"2025-06-20 10:00", "2025-06-18", "trading day before cutoff → previous trading day (skips Juneteenth)"},
		{"2025-06-20 16:30", "2025-06-20", "at cutoff → same day"},
		{"2025-06-20 18:00", "2025-06-20", "after cutoff → same day"},
		{"2025-06-21 12:00", "2025-06-20", "Saturday → Friday"},
		{"2025-06-22 12:00", "2025-06-20", "Sunday → Friday"},
		{"2025-06-19 12:00", "2025-06-18", "holiday → prior trading day"},
		{"2025-06-23 09:00", "2025-06-20", "Monday pre-market → Friday"},
	}
	for _, c := range cases {
		got := cal.ExpectedLatestDataDate(et(t, c.when))
		if got.Format("2006-01-02") != c.want {
			t.Errorf("ExpectedLatestDataDate(%s) = %s, want %s (%s)",
				c.when, got.Format("2006-01-02"), c.want, c.name)
		}
		if !got.Equal(time.Date(got.Year(), got.Month(), got.Day(), 0, 0, 0, 0, time.UTC)) {
			t.Errorf("ExpectedLatestDataDate(%s) not normalized to midnight UTC: %v", c.when, got)
		}
	}
}

func TestLastTradingDay(t *testing.T) {
	cal := newTestCalendar(t)

	// Sunday 2025-06-22 → Friday 2025-06-20.
	got := cal.LastTradingDay(et(t, "2025-06-22 12:00"))
	if got.Format("2006-01-02") != "2025-06-20" {
		t.Errorf("LastTradingDay(Sunday) = %s, want 2025-06-20", got.Format("2006-01-02"))
	}

	// Thursday Juneteenth 2025-06-19 → Wednesday 2025-06-18.
	got = cal.LastTradingDay(et(t, "2025-06-19 12:00"))
	if got.Format("2006-01-02") != "2025-06-18" {
		t.Errorf("LastTradingDay(holiday) = %s, want 2025-06-18", got.Format("2006-01-02"))
	}
}

func TestTradingDaysBetween(t *testing.T) {
	cal := newTestCalendar(t)

	start := time.Date(2025, 6, 16, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 6, 22, 0, 0, 0, 0, time.UTC)
	days := cal.TradingDaysBetween(start, end)

	// Mon 16, Tue 17, Wed 18, Fri 20 (Thu 19 is Juneteenth, 21/22 weekend).
	want := []string{"2025-06-16", "2025-06-17", "2025-06-18", "2025-06-20"}
	if len(days) != len(want) {
		t.Fatalf("TradingDaysBetween returned %d days, want %d: %v", len(days), len(want), days)
	}
	for i, d := range days {
		if d.Format("2006-01-02") != want[i] {
			t.Errorf("day[%d] = %s, want %s", i, d.Format("2006-01-02"), want[i])
		}
	}
}

func TestEaster(t *testing.T) {
	cases := map[int]string{
		2024: "2024-03-31",
		2025: "2025-04-20",
		2026: "2026-04-05",
	}
	for year, want := range cases {
		if got := easter(year).Format("2006-01-02"); got != want {
			t.Errorf("easter(%d) = %s, want %s", year, got, want)
		}
	}
}
