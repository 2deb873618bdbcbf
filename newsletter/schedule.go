package newsletter

import (
	"strings"
	"time"

	"github.com/quantonganh/bulletin"
)

// Schedule decides which scheduled run types are due on a given day.
// Daily runs are always due, weekly runs on Weekday and monthly runs on MonthDay.
type Schedule struct {
	Weekday  time.Weekday
	MonthDay int
}

// DefaultSchedule sends weekly newsletters on Monday and monthly ones on the 1st.
var DefaultSchedule = Schedule{
	Weekday:  time.Monday,
	MonthDay: 1,
}

// ParseSchedule builds a schedule from config values. Zero values keep the defaults.
func ParseSchedule(weekday string, monthDay int) (Schedule, error) {
	s := DefaultSchedule

	if weekday != "" {
		found := false
		for d := time.Sunday; d <= time.Saturday; d++ {
			if strings.EqualFold(d.String(), weekday) || strings.EqualFold(d.String()[:3], weekday) {
				s.Weekday = d
				found = true
				break
			}
		}
		if !found {
			return s, bulletin.Errorf(bulletin.ErrInvalid, "Unknown weekday %q.", weekday)
		}
	}

	if monthDay != 0 {
		if monthDay < 1 || monthDay > 31 {
			return s, bulletin.Errorf(bulletin.ErrInvalid, "Day of month must be between 1 and 31, got %d.", monthDay)
		}
		s.MonthDay = monthDay
	}

	return s, nil
}

// Due reports whether runType should send on the day of now.
func (s Schedule) Due(runType bulletin.RunType, now time.Time) bool {
	switch runType {
	case bulletin.RunDaily:
		return true
	case bulletin.RunWeekly:
		return now.Weekday() == s.Weekday
	case bulletin.RunMonthly:
		day := s.MonthDay
		// A day past the end of a short month falls on its last day.
		if last := lastDayOfMonth(now); day > last {
			day = last
		}
		return now.Day() == day
	default:
		return false
	}
}

func lastDayOfMonth(t time.Time) int {
	return time.Date(t.Year(), t.Month()+1, 0, 0, 0, 0, 0, t.Location()).Day()
}
