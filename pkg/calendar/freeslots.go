package calendar

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// Window is a candidate free time range on a single date.
type Window struct {
	Date  string `json:"date"`
	Start string `json:"start"`
	End   string `json:"end"`
}

// FindFreeSlots searches a working-hours window on the given date for gaps
// long enough to hold duration. Results are returned earliest first, capped
// at limit.
func FindFreeSlots(ctx context.Context, store Store, date string, duration time.Duration, workStart, workEnd string, limit int) ([]Window, error) {
	if limit <= 0 {
		limit = 3
	}
	items, err := store.Query(ctx, QueryFilter{Date: date})
	if err != nil {
		return nil, err
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Start < items[j].Start })

	var out []Window
	cursor := workStart
	need := int(duration.Minutes())

	for _, item := range items {
		if item.Start > cursor && minutesBetween(cursor, item.Start) >= need {
			out = append(out, Window{Date: date, Start: cursor, End: addMinutes(cursor, need)})
			if len(out) >= limit {
				return out, nil
			}
		}
		if item.End > cursor {
			cursor = item.End
		}
	}
	if cursor < workEnd && minutesBetween(cursor, workEnd) >= need {
		out = append(out, Window{Date: date, Start: cursor, End: addMinutes(cursor, need)})
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func minutesBetween(start, end string) int {
	return toMinutes(end) - toMinutes(start)
}

func toMinutes(hhmm string) int {
	var h, m int
	fmt.Sscanf(hhmm, "%d:%d", &h, &m)
	return h*60 + m
}

func addMinutes(hhmm string, minutes int) string {
	total := toMinutes(hhmm) + minutes
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}
