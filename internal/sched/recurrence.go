package sched

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"taskd/internal/task"
)

// cronParser accepts both 5-field and 6-field (with seconds) cron specs,
// plus descriptors like @daily.
var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// NextOccurrence computes when the next occurrence of t should run, anchored
// on the ORIGINAL scheduled time. Anchoring on the original instant (never
// "now" or the completion time) keeps recurring tasks drift-free no matter
// how long each run takes.
//
// ok is false for non-recurring tasks. The switch is exhaustive over
// RecurrenceKind so a new kind is a compile-visible change here.
func NextOccurrence(t *task.Task) (next time.Time, ok bool, err error) {
	orig := t.ScheduledTime
	switch t.Recurrence.Kind {
	case task.RecurNone:
		return time.Time{}, false, nil
	case task.RecurDaily:
		return orig.AddDate(0, 0, 1), true, nil
	case task.RecurWeekly:
		return orig.AddDate(0, 0, 7), true, nil
	case task.RecurMonthly:
		return orig.AddDate(0, 1, 0), true, nil
	case task.RecurYearly:
		return orig.AddDate(1, 0, 0), true, nil
	case task.RecurCustom:
		days := t.Recurrence.IntervalDays
		if days <= 0 {
			return time.Time{}, false, fmt.Errorf("task %s: custom recurrence with interval_days=%d", t.ID, days)
		}
		return orig.AddDate(0, 0, days), true, nil
	case task.RecurCron:
		sched, perr := cronParser.Parse(t.Recurrence.CronSpec)
		if perr != nil {
			return time.Time{}, false, fmt.Errorf("task %s: bad cron spec %q: %w", t.ID, t.Recurrence.CronSpec, perr)
		}
		return sched.Next(orig), true, nil
	default:
		return time.Time{}, false, fmt.Errorf("task %s: unknown recurrence kind %d", t.ID, int(t.Recurrence.Kind))
	}
}

// ValidateRecurrence is the admission-time counterpart of NextOccurrence:
// it rejects specs that would only fail once the task has already run.
func ValidateRecurrence(r task.Recurrence) error {
	if err := r.Validate(); err != nil {
		return err
	}
	if r.Kind == task.RecurCron {
		if _, err := cronParser.Parse(r.CronSpec); err != nil {
			return fmt.Errorf("bad cron spec %q: %w", r.CronSpec, err)
		}
	}
	return nil
}
