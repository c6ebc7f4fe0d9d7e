package metadata

import (
	"strings"
	"time"
)

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
	"sun":       time.Sunday,
	"mon":       time.Monday,
	"tue":       time.Tuesday,
	"wed":       time.Wednesday,
	"thu":       time.Thursday,
	"fri":       time.Friday,
	"sat":       time.Saturday,
}

// ResolveDueExpr is the default due-date resolver: relative names, weekday
// names (next occurrence, never today's), and ISO dates. The full calendar
// grammar belongs to callers; anything unrecognized simply doesn't resolve.
func ResolveDueExpr(expr string, now time.Time) (time.Time, bool) {
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	switch s := strings.ToLower(strings.TrimSpace(expr)); s {
	case "today":
		return day, true
	case "tomorrow", "tom":
		return day.AddDate(0, 0, 1), true
	default:
		if wd, ok := weekdays[s]; ok {
			delta := (int(wd) - int(day.Weekday()) + 7) % 7
			if delta == 0 {
				delta = 7
			}
			return day.AddDate(0, 0, delta), true
		}
		if t, err := time.ParseInLocation("2006-01-02", s, now.Location()); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
