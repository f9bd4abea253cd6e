package schedule

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// calendarFile is the on-disk YAML shape.
type calendarFile struct {
	Timezone string   `yaml:"timezone"`
	Open     string   `yaml:"open"`
	Close    string   `yaml:"close"`
	Holidays []string `yaml:"holidays"`
}

// Calendar answers session-time questions: whether a day trades, when
// the session opens and closes, and what the next trading day is.
// Weekends never trade; holidays come from the calendar file.
type Calendar struct {
	loc                 *time.Location
	openHour, openMin   int
	closeHour, closeMin int
	holidays            map[string]bool
}

// DefaultCalendar trades weekdays 09:30 to 16:00 UTC with no holidays.
func DefaultCalendar() *Calendar {
	return &Calendar{
		loc:       time.UTC,
		openHour:  9, openMin: 30,
		closeHour: 16, closeMin: 0,
		holidays: map[string]bool{},
	}
}

// LoadCalendar reads a calendar YAML file. A missing path yields the
// default calendar.
func LoadCalendar(path string) (*Calendar, error) {
	if path == "" {
		return DefaultCalendar(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultCalendar(), nil
		}
		return nil, fmt.Errorf("read calendar %s: %w", path, err)
	}

	var f calendarFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse calendar %s: %w", path, err)
	}

	c := DefaultCalendar()
	if f.Timezone != "" {
		loc, err := time.LoadLocation(f.Timezone)
		if err != nil {
			return nil, fmt.Errorf("calendar timezone %q: %w", f.Timezone, err)
		}
		c.loc = loc
	}
	if f.Open != "" {
		if c.openHour, c.openMin, err = parseClock(f.Open); err != nil {
			return nil, fmt.Errorf("calendar open time: %w", err)
		}
	}
	if f.Close != "" {
		if c.closeHour, c.closeMin, err = parseClock(f.Close); err != nil {
			return nil, fmt.Errorf("calendar close time: %w", err)
		}
	}
	for _, h := range f.Holidays {
		if _, err := time.Parse("2006-01-02", h); err != nil {
			return nil, fmt.Errorf("calendar holiday %q: %w", h, err)
		}
		c.holidays[h] = true
	}
	return c, nil
}

func parseClock(s string) (int, int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, fmt.Errorf("want HH:MM, got %q", s)
	}
	return t.Hour(), t.Minute(), nil
}

// IsTradingDay reports whether the calendar day containing t trades.
func (c *Calendar) IsTradingDay(t time.Time) bool {
	lt := t.In(c.loc)
	switch lt.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	return !c.holidays[lt.Format("2006-01-02")]
}

// SessionOpen returns the session open instant for t's calendar day.
func (c *Calendar) SessionOpen(t time.Time) time.Time {
	lt := t.In(c.loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), c.openHour, c.openMin, 0, 0, c.loc)
}

// SessionClose returns the session close instant for t's calendar day.
func (c *Calendar) SessionClose(t time.Time) time.Time {
	lt := t.In(c.loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), c.closeHour, c.closeMin, 0, 0, c.loc)
}

// IsOpen reports whether the market is in session at t.
func (c *Calendar) IsOpen(t time.Time) bool {
	if !c.IsTradingDay(t) {
		return false
	}
	return !t.Before(c.SessionOpen(t)) && t.Before(c.SessionClose(t))
}

// NextTradingDay returns the first trading day strictly after t's day.
func (c *Calendar) NextTradingDay(t time.Time) time.Time {
	lt := t.In(c.loc)
	for {
		lt = lt.AddDate(0, 0, 1)
		if c.IsTradingDay(lt) {
			return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, c.loc)
		}
	}
}
