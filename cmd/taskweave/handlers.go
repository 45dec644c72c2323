// Copyright 2026 © The Taskweave Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/taskweave/taskweave/pkg/calendar"
	"github.com/taskweave/taskweave/pkg/executor"
)

// registerHandlers binds the local and script handlers the bundled
// capability pack refers to. Handlers for capabilities not present in the
// pack are harmless; the executor resolves by name at dispatch time.
func registerHandlers(exec *executor.Executor, cal calendar.Store) {
	exec.RegisterLocal("book_meeting", bookMeetingHandler(cal))
	exec.RegisterLocal("check_schedule", checkScheduleHandler(cal))
	exec.RegisterLocal("cancel_meeting", cancelMeetingHandler(cal))
	exec.RegisterScript("reminder-v1", reminderHandler)

	exec.RegisterChecker("workday_hours", workdayChecker)
}

func bookMeetingHandler(cal calendar.Store) executor.Handler {
	return func(ctx context.Context, params map[string]any) (map[string]any, error) {
		duration := 60
		if d, ok := params["duration"].(float64); ok {
			duration = int(d)
		}
		start, _ := params["startTime"].(string)
		item := calendar.Item{
			Title: fmt.Sprintf("%v", params["title"]),
			Date:  fmt.Sprintf("%v", params["date"]),
			Start: start,
			End:   addMinutes(start, duration),
		}
		if arr, ok := params["attendees"].([]any); ok {
			for _, a := range arr {
				item.Attendees = append(item.Attendees, fmt.Sprintf("%v", a))
			}
		}
		if err := cal.Create(ctx, item); err != nil {
			return nil, err
		}
		return map[string]any{
			"title": item.Title,
			"date":  item.Date,
			"start": item.Start,
			"end":   item.End,
		}, nil
	}
}

func checkScheduleHandler(cal calendar.Store) executor.Handler {
	return func(ctx context.Context, params map[string]any) (map[string]any, error) {
		filter := calendar.QueryFilter{}
		if d, ok := params["date"].(string); ok {
			filter.Date = d
		}
		items, err := cal.Query(ctx, filter)
		if err != nil {
			return nil, err
		}
		entries := make([]any, 0, len(items))
		for _, item := range items {
			entries = append(entries, map[string]any{
				"title": item.Title,
				"date":  item.Date,
				"start": item.Start,
				"end":   item.End,
			})
		}
		return map[string]any{"count": len(items), "items": entries}, nil
	}
}

func cancelMeetingHandler(cal calendar.Store) executor.Handler {
	return func(ctx context.Context, params map[string]any) (map[string]any, error) {
		title, _ := params["title"].(string)
		items, err := cal.Query(ctx, calendar.QueryFilter{Keyword: title})
		if err != nil {
			return nil, err
		}
		if len(items) == 0 {
			return map[string]any{"cancelled": false, "reason": "no matching meeting"}, nil
		}
		// The store boundary has no delete; record the cancellation intent.
		return map[string]any{"cancelled": true, "title": items[0].Title, "date": items[0].Date}, nil
	}
}

// reminderHandler backs the send_reminder script resource. A real deployment
// would route to a notification service; the bundled pack just echoes.
func reminderHandler(ctx context.Context, params map[string]any) (map[string]any, error) {
	return map[string]any{
		"delivered": true,
		"recipient": params["recipient"],
		"message":   params["message"],
	}, nil
}

// workdayChecker flags start times outside 08:00-20:00. Paired with an
// auto_fix policy it nudges the start into the window.
func workdayChecker(ctx context.Context, params map[string]any) (map[string]any, error) {
	start, _ := params["startTime"].(string)
	if start == "" {
		return nil, nil
	}
	if start < "08:00" {
		return map[string]any{"startTime": "08:00"}, fmt.Errorf("start %s is before the workday", start)
	}
	if start >= "20:00" {
		return map[string]any{"startTime": "19:00"}, fmt.Errorf("start %s is after the workday", start)
	}
	return nil, nil
}

func addMinutes(hhmm string, minutes int) string {
	parts := strings.SplitN(hhmm, ":", 2)
	if len(parts) != 2 {
		return hhmm
	}
	var h, m int
	fmt.Sscanf(hhmm, "%d:%d", &h, &m)
	total := h*60 + m + minutes
	return fmt.Sprintf("%02d:%02d", (total/60)%24, total%60)
}
