package native

import (
	"fmt"
	"strconv"

	"cronkeep/internal/schedule"
)

var weekdayNames = [...]string{"Sun", "Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"}

// OnCalendar renders an interval as a systemd calendar expression,
// "[Weekday ]*-MM-DD HH:MM:00" with "*" for unset fields.
func OnCalendar(iv schedule.Interval) string {
	date := "*-" + twoDigits(iv.Month) + "-" + twoDigits(iv.Day)
	clock := twoDigits(iv.Hour) + ":" + twoDigits(iv.Minute) + ":00"
	if iv.Weekday == nil {
		return date + " " + clock
	}
	wd := *iv.Weekday
	name := strconv.Itoa(wd)
	if wd >= 0 && wd < len(weekdayNames) {
		name = weekdayNames[wd]
	}
	return name + " " + date + " " + clock
}

func twoDigits(v *int) string {
	if v == nil {
		return "*"
	}
	return fmt.Sprintf("%02d", *v)
}
