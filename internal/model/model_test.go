package model

import (
	"testing"
	"time"
)

func TestParseWeekdays(t *testing.T) {
	days, err := ParseWeekdays(" 5, 1,3,1 ")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(days) != 3 || !days.Contains(time.Monday) || !days.Contains(time.Friday) || days.Contains(time.Sunday) {
		t.Fatalf("unexpected days %v", days)
	}
	if got := days.String(); got != "1,3,5" {
		t.Fatalf("expected sorted form, got %q", got)
	}
	for _, bad := range []string{"7", "mon", "1,,2"} {
		if _, err := ParseWeekdays(bad); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}
}

func TestWeekdaysScan(t *testing.T) {
	var w Weekdays
	if err := w.Scan([]byte("0,6")); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if !w.Contains(time.Sunday) || !w.Contains(time.Saturday) {
		t.Fatalf("unexpected scan result %v", w)
	}
	if err := w.Scan(nil); err != nil || w != nil {
		t.Fatalf("expected nil set, got %v err=%v", w, err)
	}
	if err := w.Scan(42); err == nil {
		t.Fatalf("expected error for unsupported type")
	}
}

func TestEscalationLevelRank(t *testing.T) {
	order := []EscalationLevel{LevelNormal, LevelWarning, LevelCritical, LevelBlocking}
	for i := 1; i < len(order); i++ {
		if order[i].Rank() <= order[i-1].Rank() {
			t.Fatalf("%s should outrank %s", order[i], order[i-1])
		}
	}
}

func TestTaskIsOverdue(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	task := Task{DueAt: now.Add(-time.Minute), Status: StatusPending}
	if !task.IsOverdue(now) {
		t.Fatalf("expected pending past-due task to be overdue")
	}
	task.Status = StatusDone
	if task.IsOverdue(now) {
		t.Fatalf("done task is never overdue")
	}
}

func TestUserLocationFallback(t *testing.T) {
	if loc := (User{Timezone: "Not/AZone"}).Location(); loc != time.UTC {
		t.Fatalf("expected UTC fallback, got %v", loc)
	}
}
