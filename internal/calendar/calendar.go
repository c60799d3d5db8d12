// Package calendar fetches economic events and classifies them into veto,
// high-impact and medium-impact tiers. RBI/Fed veto detection gates every
// entry and forces square-off of existing positions.
package calendar

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
)

// Impact is the event classification tier.
type Impact string

const (
	ImpactVeto   Impact = "VETO"
	ImpactHigh   Impact = "HIGH_IMPACT"
	ImpactMedium Impact = "MEDIUM_IMPACT"
	ImpactLow    Impact = "LOW"
)

var vetoKeywords = []string{
	"rbi monetary policy", "rbi policy", "reserve bank of india",
	"repo rate decision", "mpc meeting",
	"fomc", "federal reserve meeting", "fed meeting",
	"federal funds rate decision",
}

var highImpactKeywords = []string{
	"gdp", "gross domestic product",
	"nfp", "non-farm payroll",
	"cpi", "consumer price index",
	"union budget", "budget speech",
}

var mediumImpactKeywords = []string{
	"pmi", "manufacturing pmi", "services pmi",
	"industrial production",
	"retail sales",
}

// Event is one classified calendar entry.
type Event struct {
	Title     string    `json:"title"`
	Country   string    `json:"country"`
	Time      time.Time `json:"time"`
	Impact    Impact    `json:"impact"`
	IsVeto    bool      `json:"is_veto"`
	HoursAway float64   `json:"hours_away"`
	// SquareOffBy is set for upcoming veto events: event−2h when the event
	// is within 24 hours, otherwise the prior trading day at 14:00 local.
	SquareOffBy time.Time `json:"square_off_by,omitempty"`
}

// Engine fetches and classifies events.
type Engine struct {
	client *resty.Client
	logger *logrus.Logger
	loc    *time.Location
}

// NewEngine builds a calendar engine for the given market timezone.
func NewEngine(logger *logrus.Logger, loc *time.Location) *Engine {
	return &Engine{
		client: resty.New().
			SetBaseURL("https://economic-calendar.tradingview.com").
			SetTimeout(10*time.Second).
			SetHeader("User-Agent", "Mozilla/5.0").
			SetHeader("Accept", "application/json"),
		logger: logger,
		loc:    loc,
	}
}

// Fetch returns classified events in the next daysAhead days. A feed failure
// returns an error; callers decide whether to proceed without calendar data.
func (e *Engine) Fetch(ctx context.Context, daysAhead int) ([]Event, error) {
	now := time.Now()
	var out struct {
		Result []struct {
			Title      string `json:"title"`
			Country    string `json:"country"`
			Date       int64  `json:"date"`
			Importance int    `json:"importance"`
		} `json:"result"`
	}
	resp, err := e.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"from":       strconv.FormatInt(now.Unix(), 10),
			"to":         strconv.FormatInt(now.AddDate(0, 0, daysAhead).Unix(), 10),
			"countries":  "IN,US",
			"importance": "1,2,3",
		}).
		SetResult(&out).
		Get("/events")
	if err != nil {
		return nil, fmt.Errorf("fetch calendar: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("calendar feed returned %d", resp.StatusCode())
	}

	events := make([]Event, 0, len(out.Result))
	vetoCount := 0
	for _, item := range out.Result {
		if item.Date == 0 || item.Title == "" {
			continue
		}
		when := time.Unix(item.Date, 0).In(e.loc)
		ev := Event{
			Title:     item.Title,
			Country:   item.Country,
			Time:      when,
			Impact:    Classify(item.Title),
			HoursAway: when.Sub(now).Hours(),
		}
		ev.IsVeto = ev.Impact == ImpactVeto
		if ev.IsVeto && ev.HoursAway > 0 {
			ev.SquareOffBy = e.SquareOffTime(when)
			vetoCount++
		}
		events = append(events, ev)
	}
	e.logger.WithFields(logrus.Fields{
		"events": len(events),
		"veto":   vetoCount,
	}).Info("calendar fetched")
	return events, nil
}

// Classify maps an event title to its impact tier by keyword.
func Classify(title string) Impact {
	t := strings.ToLower(title)
	for _, kw := range vetoKeywords {
		if strings.Contains(t, kw) {
			return ImpactVeto
		}
	}
	for _, kw := range highImpactKeywords {
		if strings.Contains(t, kw) {
			return ImpactHigh
		}
	}
	for _, kw := range mediumImpactKeywords {
		if strings.Contains(t, kw) {
			return ImpactMedium
		}
	}
	return ImpactLow
}

// SquareOffTime returns when positions must be flat ahead of a veto event:
// event−2h inside 24 hours, else the prior trading day at 14:00 local.
func (e *Engine) SquareOffTime(eventTime time.Time) time.Time {
	if time.Until(eventTime) <= 24*time.Hour {
		return eventTime.Add(-2 * time.Hour)
	}
	day := eventTime.In(e.loc).AddDate(0, 0, -1)
	for day.Weekday() == time.Saturday || day.Weekday() == time.Sunday {
		day = day.AddDate(0, 0, -1)
	}
	return time.Date(day.Year(), day.Month(), day.Day(), 14, 0, 0, 0, e.loc)
}

// VetoWithin reports the nearest upcoming veto event inside the window.
func VetoWithin(events []Event, window time.Duration) (Event, bool) {
	var nearest Event
	found := false
	for _, ev := range events {
		if !ev.IsVeto || ev.HoursAway <= 0 {
			continue
		}
		if ev.HoursAway <= window.Hours() {
			if !found || ev.HoursAway < nearest.HoursAway {
				nearest = ev
				found = true
			}
		}
	}
	return nearest, found
}

// CountHighImpact returns upcoming high-impact events in the list.
func CountHighImpact(events []Event) int {
	n := 0
	for _, ev := range events {
		if ev.Impact == ImpactHigh && ev.HoursAway > 0 {
			n++
		}
	}
	return n
}
