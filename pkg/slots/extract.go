package slots

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/taskweave/taskweave/pkg/capability"
	"github.com/taskweave/taskweave/pkg/session"
)

// Extraction is one candidate slot value with its confidence and provenance.
type Extraction struct {
	Field      string
	Value      any
	Confidence float64
	Source     session.SlotSource
}

var (
	isoDateRe   = regexp.MustCompile(`\b(\d{4})-(\d{1,2})-(\d{1,2})\b`)
	shortDateRe = regexp.MustCompile(`\b(\d{1,2})[/-](\d{1,2})\b`)
	clockRe     = regexp.MustCompile(`\b([01]?\d|2[0-3]):([0-5]\d)\b`)
	meridiemRe  = regexp.MustCompile(`(?i)\b(\d{1,2})(?::([0-5]\d))?\s*(am|pm)\b`)
	oclockRe    = regexp.MustCompile(`(?i)\b(\d{1,2})\s*o'?clock\b`)
	halfPastRe  = regexp.MustCompile(`(?i)\bhalf\s+past\s+(\d{1,2})\b`)
	integerRe   = regexp.MustCompile(`-?\d+`)
	quotedRe    = regexp.MustCompile(`["“']([^"”']{1,80})["”']`)
	attendeesRe = regexp.MustCompile(`(?i)\bwith\s+([A-Z][\w]*(?:\s*(?:,|and|&)\s*[A-Z][\w]*)*)`)
)

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday,
	"wednesday": time.Wednesday, "thursday": time.Thursday,
	"friday": time.Friday, "saturday": time.Saturday,
}

var positiveWords = []string{"yes", "yeah", "yep", "sure", "ok", "okay", "true", "please do", "confirm"}
var negativeWords = []string{"no", "nope", "not", "don't", "dont", "false", "cancel", "never mind"}

// extractField attempts a type-directed extraction for one field. A nil
// return means no candidate: the engine never guesses.
func extractField(input string, f *capability.FieldSchema, currentDate time.Time) *Extraction {
	switch f.Type {
	case capability.TypeDate:
		if value, conf := extractDate(input, currentDate); value != "" {
			return &Extraction{Field: f.Name, Value: value, Confidence: conf, Source: session.SourceUserInput}
		}
	case capability.TypeTime:
		if value, conf := extractTime(input); value != "" {
			return &Extraction{Field: f.Name, Value: value, Confidence: conf, Source: session.SourceUserInput}
		}
	case capability.TypeDatetime:
		return extractDatetime(f.Name, input, currentDate)
	case capability.TypeNumber:
		return extractNumber(f, input)
	case capability.TypeBoolean:
		if value, conf := extractBoolean(input); conf > 0 {
			return &Extraction{Field: f.Name, Value: value, Confidence: conf, Source: session.SourceUserInput}
		}
	case capability.TypeString:
		return extractString(f, input)
	case capability.TypeArray:
		if values := extractArray(input); len(values) > 0 {
			return &Extraction{Field: f.Name, Value: values, Confidence: 0.85, Source: session.SourceUserInput}
		}
	}
	return nil
}

// extractDate resolves relative markers, weekday expressions and absolute
// forms against the session's current date. Returns an ISO date and a
// confidence reflecting how explicit the expression was.
func extractDate(input string, currentDate time.Time) (string, float64) {
	lowered := strings.ToLower(input)

	switch {
	case strings.Contains(lowered, "day after tomorrow"):
		return currentDate.AddDate(0, 0, 2).Format("2006-01-02"), 0.95
	case strings.Contains(lowered, "tomorrow"):
		return currentDate.AddDate(0, 0, 1).Format("2006-01-02"), 0.95
	case strings.Contains(lowered, "today"):
		return currentDate.Format("2006-01-02"), 0.95
	}

	for name, wd := range weekdays {
		if !strings.Contains(lowered, name) {
			continue
		}
		delta := (int(wd) - int(currentDate.Weekday()) + 7) % 7
		if delta == 0 {
			delta = 7
		}
		if strings.Contains(lowered, "next "+name) && delta < 7 {
			delta += 7
		}
		return currentDate.AddDate(0, 0, delta).Format("2006-01-02"), 0.85
	}

	if m := isoDateRe.FindStringSubmatch(input); m != nil {
		year, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		day, _ := strconv.Atoi(m[3])
		if validMonthDay(month, day) {
			return fmt.Sprintf("%04d-%02d-%02d", year, month, day), 0.95
		}
	}

	// MM-DD or MM/DD in the current (or next) year.
	if m := shortDateRe.FindStringSubmatch(input); m != nil {
		month, _ := strconv.Atoi(m[1])
		day, _ := strconv.Atoi(m[2])
		if validMonthDay(month, day) {
			candidate := time.Date(currentDate.Year(), time.Month(month), day, 0, 0, 0, 0, currentDate.Location())
			if candidate.Before(currentDate) {
				candidate = candidate.AddDate(1, 0, 0)
			}
			return candidate.Format("2006-01-02"), 0.85
		}
	}

	return "", 0
}

func validMonthDay(month, day int) bool {
	return month >= 1 && month <= 12 && day >= 1 && day <= 31
}

// extractTime resolves HH:MM exact forms and colloquialisms with AM/PM
// inference.
func extractTime(input string) (string, float64) {
	if m := meridiemRe.FindStringSubmatch(input); m != nil {
		hour, _ := strconv.Atoi(m[1])
		minute := 0
		if m[2] != "" {
			minute, _ = strconv.Atoi(m[2])
		}
		if strings.EqualFold(m[3], "pm") && hour < 12 {
			hour += 12
		}
		if strings.EqualFold(m[3], "am") && hour == 12 {
			hour = 0
		}
		if hour < 24 {
			return fmt.Sprintf("%02d:%02d", hour, minute), 0.9
		}
	}

	if m := clockRe.FindStringSubmatch(input); m != nil {
		hour, _ := strconv.Atoi(m[1])
		minute, _ := strconv.Atoi(m[2])
		return fmt.Sprintf("%02d:%02d", hour, minute), 0.95
	}

	if m := halfPastRe.FindStringSubmatch(input); m != nil {
		hour, _ := strconv.Atoi(m[1])
		return fmt.Sprintf("%02d:30", inferMeridiem(hour)), 0.9
	}

	if m := oclockRe.FindStringSubmatch(input); m != nil {
		hour, _ := strconv.Atoi(m[1])
		return fmt.Sprintf("%02d:00", inferMeridiem(hour)), 0.9
	}

	return "", 0
}

// inferMeridiem maps a bare 1–7 hour to the afternoon; business hours bias.
func inferMeridiem(hour int) int {
	if hour >= 1 && hour <= 7 {
		return hour + 12
	}
	return hour
}

const fallbackTime = "09:00"

// extractDatetime combines date and time extraction. When only the date
// resolves, the time defaults to 09:00 at reduced confidence and the value
// is marked inferred.
func extractDatetime(field, input string, currentDate time.Time) *Extraction {
	date, dateConf := extractDate(input, currentDate)
	if date == "" {
		return nil
	}
	timeOfDay, timeConf := extractTime(input)
	if timeOfDay == "" {
		return &Extraction{
			Field:      field,
			Value:      date + " " + fallbackTime,
			Confidence: dateConf * 0.8,
			Source:     session.SourceInferred,
		}
	}
	conf := dateConf
	if timeConf < conf {
		conf = timeConf
	}
	return &Extraction{
		Field:      field,
		Value:      date + " " + timeOfDay,
		Confidence: conf,
		Source:     session.SourceUserInput,
	}
}

// extractNumber takes the first integer token, rejecting values outside the
// field's declared bounds.
func extractNumber(f *capability.FieldSchema, input string) *Extraction {
	m := integerRe.FindString(input)
	if m == "" {
		return nil
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		return nil
	}
	if v := f.Validation; v != nil {
		if v.Min != nil && float64(n) < *v.Min {
			return nil
		}
		if v.Max != nil && float64(n) > *v.Max {
			return nil
		}
	}
	return &Extraction{Field: f.Name, Value: n, Confidence: 0.85, Source: session.SourceUserInput}
}

// Affirmation interprets the input as a yes or no answer against the boolean
// lexicon. ok is false when the input is neither; the caller must re-ask.
func Affirmation(input string) (value, ok bool) {
	v, conf := extractBoolean(input)
	return v, conf > 0
}

// extractBoolean matches a positive/negative lexicon.
func extractBoolean(input string) (bool, float64) {
	lowered := " " + strings.ToLower(input) + " "
	for _, w := range negativeWords {
		if strings.Contains(lowered, " "+w+" ") || strings.Contains(lowered, " "+w+".") {
			return false, 0.85
		}
	}
	for _, w := range positiveWords {
		if strings.Contains(lowered, " "+w+" ") || strings.Contains(lowered, " "+w+".") {
			return true, 0.85
		}
	}
	return false, 0
}

// extractString handles enum containment and quoted literals. Enum fields
// never guess: no containment match means no extraction.
func extractString(f *capability.FieldSchema, input string) *Extraction {
	if len(f.Enum) > 0 {
		lowered := strings.ToLower(input)
		for _, allowed := range f.Enum {
			if strings.Contains(lowered, strings.ToLower(allowed)) {
				return &Extraction{Field: f.Name, Value: allowed, Confidence: 0.9, Source: session.SourceUserInput}
			}
		}
		return nil
	}
	if m := quotedRe.FindStringSubmatch(input); m != nil {
		return &Extraction{Field: f.Name, Value: strings.TrimSpace(m[1]), Confidence: 0.9, Source: session.SourceUserInput}
	}
	return nil
}

// extractArray pulls a delimited name list after a "with" cue, then falls
// back to splitting an explicitly delimited input.
func extractArray(input string) []string {
	if m := attendeesRe.FindStringSubmatch(input); m != nil {
		return splitList(m[1])
	}
	if strings.ContainsAny(input, ",;") {
		return splitList(input)
	}
	return nil
}

var listSplitRe = regexp.MustCompile(`(?i)\s*(?:,|;|\band\b|&)\s*`)

func splitList(raw string) []string {
	parts := listSplitRe.Split(raw, -1)
	var out []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
