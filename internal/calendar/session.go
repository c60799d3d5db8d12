package calendar

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Session models the exchange trading window (NSE: 09:15-15:30 IST,
// Monday-Friday). Exchange holidays are not modelled; the calendar feed and
// broker rejections cover those days.
type Session struct {
	loc                      *time.Location
	openHH, openMM           int
	closeHH, closeMM         int
	squareOffHH, squareOffMM int
}

// NewSession parses HH:MM clock strings in the given location.
func NewSession(loc *time.Location, open, close, squareOff string) (*Session, error) {
	s := &Session{loc: loc}
	var err error
	if s.openHH, s.openMM, err = parseClock(open); err != nil {
		return nil, fmt.Errorf("market open: %w", err)
	}
	if s.closeHH, s.closeMM, err = parseClock(close); err != nil {
		return nil, fmt.Errorf("market close: %w", err)
	}
	if s.squareOffHH, s.squareOffMM, err = parseClock(squareOff); err != nil {
		return nil, fmt.Errorf("square-off: %w", err)
	}
	return s, nil
}

func parseClock(v string) (hh, mm int, err error) {
	parts := strings.SplitN(v, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid clock %q", v)
	}
	if hh, err = strconv.Atoi(parts[0]); err != nil {
		return 0, 0, fmt.Errorf("invalid clock %q", v)
	}
	if mm, err = strconv.Atoi(parts[1]); err != nil {
		return 0, 0, fmt.Errorf("invalid clock %q", v)
	}
	if hh < 0 || hh > 23 || mm < 0 || mm > 59 {
		return 0, 0, fmt.Errorf("clock %q out of range", v)
	}
	return hh, mm, nil
}

// IsOpen reports whether the exchange is trading at t.
func (s *Session) IsOpen(t time.Time) bool {
	t = t.In(s.loc)
	if wd := t.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return false
	}
	open := s.at(t, s.openHH, s.openMM)
	close := s.at(t, s.closeHH, s.closeMM)
	return !t.Before(open) && !t.After(close)
}

// PastSquareOff reports whether t is past the day's forced square-off time.
func (s *Session) PastSquareOff(t time.Time) bool {
	t = t.In(s.loc)
	return !t.Before(s.at(t, s.squareOffHH, s.squareOffMM))
}

func (s *Session) at(day time.Time, hh, mm int) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), hh, mm, 0, 0, s.loc)
}
