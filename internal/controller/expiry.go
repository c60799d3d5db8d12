package controller

import (
	"fmt"
	"sort"
	"time"
)

const expiryLayout = "2006-01-02"

// expirySet is the three expiry buckets the engine scores.
type expirySet struct {
	Weekly     string
	NextWeekly string
	Monthly    string
}

// pickExpiries buckets the broker's upcoming expiry dates: nearest, second
// nearest, and the last expiry of its month (the monthly contract).
func pickExpiries(dates []string, now time.Time, loc *time.Location) (expirySet, error) {
	var upcoming []time.Time
	today := now.In(loc).Truncate(24 * time.Hour)
	for _, d := range dates {
		t, err := time.ParseInLocation(expiryLayout, d, loc)
		if err != nil {
			continue
		}
		if !t.Before(today) {
			upcoming = append(upcoming, t)
		}
	}
	if len(upcoming) == 0 {
		return expirySet{}, fmt.Errorf("no upcoming expiries in %d dates", len(dates))
	}
	sort.Slice(upcoming, func(i, j int) bool { return upcoming[i].Before(upcoming[j]) })

	set := expirySet{Weekly: upcoming[0].Format(expiryLayout)}
	if len(upcoming) > 1 {
		set.NextWeekly = upcoming[1].Format(expiryLayout)
	} else {
		set.NextWeekly = set.Weekly
	}

	// Monthly is the last expiry in the nearest expiry's month. When the
	// nearest expiry is itself the month's last, roll to the last expiry of
	// the following month.
	monthly := lastInMonth(upcoming, upcoming[0])
	if monthly.Equal(upcoming[0]) {
		for _, t := range upcoming {
			if t.After(upcoming[0]) {
				monthly = lastInMonth(upcoming, t)
				break
			}
		}
	}
	set.Monthly = monthly.Format(expiryLayout)
	return set, nil
}

func lastInMonth(sorted []time.Time, ref time.Time) time.Time {
	last := ref
	for _, t := range sorted {
		if t.Year() == ref.Year() && t.Month() == ref.Month() && t.After(last) {
			last = t
		}
	}
	return last
}

// dte returns whole days from now until the expiry date.
func dte(expiry string, now time.Time, loc *time.Location) int {
	t, err := time.ParseInLocation(expiryLayout, expiry, loc)
	if err != nil {
		return 0
	}
	days := int(t.Sub(now.In(loc).Truncate(24*time.Hour)).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}
