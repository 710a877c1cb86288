package model

import (
	"database/sql/driver"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Weekdays is a set of weekdays stored as a comma separated list ("1,3,5").
type Weekdays []time.Weekday

// Contains reports whether d is in the set.
func (w Weekdays) Contains(d time.Weekday) bool {
	for _, day := range w {
		if day == d {
			return true
		}
	}
	return false
}

func (w Weekdays) String() string {
	days := make([]int, 0, len(w))
	for _, d := range w {
		days = append(days, int(d))
	}
	sort.Ints(days)
	parts := make([]string, 0, len(days))
	for _, d := range days {
		parts = append(parts, strconv.Itoa(d))
	}
	return strings.Join(parts, ",")
}

// Value implements driver.Valuer.
func (w Weekdays) Value() (driver.Value, error) {
	return w.String(), nil
}

// Scan implements sql.Scanner.
func (w *Weekdays) Scan(src any) error {
	var raw string
	switch v := src.(type) {
	case nil:
		*w = nil
		return nil
	case string:
		raw = v
	case []byte:
		raw = string(v)
	default:
		return fmt.Errorf("scan weekdays: unsupported type %T", src)
	}
	parsed, err := ParseWeekdays(raw)
	if err != nil {
		return err
	}
	*w = parsed
	return nil
}

// ParseWeekdays parses "1,3,5" (0 = Sunday) into a set.
func ParseWeekdays(raw string) (Weekdays, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var out Weekdays
	for _, part := range strings.Split(raw, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || n < 0 || n > 6 {
			return nil, fmt.Errorf("invalid weekday %q", part)
		}
		if !out.Contains(time.Weekday(n)) {
			out = append(out, time.Weekday(n))
		}
	}
	return out, nil
}
