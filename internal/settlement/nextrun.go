package settlement

import (
	"fmt"
	"time"

	"github.com/transfa/wallet-service/internal/domain"
)

// NextRun returns the first wall-clock occurrence of the schedule strictly after
// max(now, last_run), in now's location. Threshold and manual schedules have no next run.
func NextRun(schedule domain.SettlementSchedule, now time.Time) (*time.Time, error) {
	if !schedule.Type.IsTimeBased() {
		return nil, nil
	}
	hour, minute, err := domain.ParseTimeOfDay(schedule.TimeOfDay)
	if err != nil {
		return nil, err
	}

	loc := now.Location()
	base := now
	if schedule.LastRun != nil && schedule.LastRun.After(base) {
		base = *schedule.LastRun
	}
	base = base.In(loc)
	y, m, d := base.Date()

	var next time.Time
	switch schedule.Type {
	case domain.ScheduleTypeDaily:
		next = time.Date(y, m, d, hour, minute, 0, 0, loc)
		if !next.After(base) {
			next = time.Date(y, m, d+1, hour, minute, 0, 0, loc)
		}

	case domain.ScheduleTypeWeekly:
		if schedule.DayOfWeek == nil || *schedule.DayOfWeek < 0 || *schedule.DayOfWeek > 6 {
			return nil, fmt.Errorf("%w: weekly schedule without a valid day_of_week", domain.ErrInvalidSchedule)
		}
		// day_of_week counts from Monday; time.Weekday counts from Sunday.
		target := time.Weekday((*schedule.DayOfWeek + 1) % 7)
		days := (int(target) - int(base.Weekday()) + 7) % 7
		next = time.Date(y, m, d+days, hour, minute, 0, 0, loc)
		if !next.After(base) {
			next = time.Date(y, m, d+days+7, hour, minute, 0, 0, loc)
		}

	case domain.ScheduleTypeMonthly:
		if schedule.DayOfMonth == nil || *schedule.DayOfMonth < 1 || *schedule.DayOfMonth > 31 {
			return nil, fmt.Errorf("%w: monthly schedule without a valid day_of_month", domain.ErrInvalidSchedule)
		}
		for offset := 0; offset <= 2; offset++ {
			first := time.Date(y, m+time.Month(offset), 1, 0, 0, 0, 0, loc)
			day := min(*schedule.DayOfMonth, daysIn(first.Year(), first.Month(), loc))
			next = time.Date(first.Year(), first.Month(), day, hour, minute, 0, 0, loc)
			if next.After(base) {
				break
			}
		}
	}
	return &next, nil
}

func daysIn(year int, month time.Month, loc *time.Location) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}
