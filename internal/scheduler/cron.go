package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// cronFields is the number of fields in a supported expression:
// minute hour day-of-month month day-of-week.
const cronFields = 5

// parseCron validates a 5-field expression in the supported subset: each
// field is either "*" or a literal integer. Ranges, lists, and step values
// are deliberately unsupported.
func parseCron(expr string) ([]int, error) {
	fields := strings.Fields(expr)
	if len(fields) != cronFields {
		return nil, fmt.Errorf("cron %q: want %d fields, got %d", expr, cronFields, len(fields))
	}
	parsed := make([]int, cronFields)
	for i, f := range fields {
		if f == "*" {
			parsed[i] = -1
			continue
		}
		n, err := strconv.Atoi(f)
		if err != nil {
			return nil, fmt.Errorf("cron %q: field %d: %w", expr, i+1, err)
		}
		parsed[i] = n
	}
	return parsed, nil
}

// cronMatches reports whether expr matches the wall clock at t.
// Day-of-week uses 0 = Sunday, matching time.Weekday.
func cronMatches(expr string, t time.Time) (bool, error) {
	fields, err := parseCron(expr)
	if err != nil {
		return false, err
	}
	actual := []int{
		t.Minute(),
		t.Hour(),
		t.Day(),
		int(t.Month()),
		int(t.Weekday()),
	}
	for i, want := range fields {
		if want >= 0 && want != actual[i] {
			return false, nil
		}
	}
	return true, nil
}
