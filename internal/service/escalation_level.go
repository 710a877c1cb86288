package service

import (
	"time"

	"coach-planner/internal/model"
)

// LevelFor maps a priority and the minutes a task has been overdue to the
// escalation level it deserves. Thresholds are strict (> not >=).
func LevelFor(priority model.TaskPriority, minutesOverdue float64) model.EscalationLevel {
	switch priority {
	case model.PriorityUrgent:
		switch {
		case minutesOverdue > 120:
			return model.LevelBlocking
		case minutesOverdue > 60:
			return model.LevelCritical
		case minutesOverdue > 30:
			return model.LevelWarning
		}
	case model.PriorityHigh:
		switch {
		case minutesOverdue > 240:
			return model.LevelBlocking
		case minutesOverdue > 120:
			return model.LevelCritical
		case minutesOverdue > 60:
			return model.LevelWarning
		}
	case model.PriorityMedium, model.PriorityLow:
		switch {
		case minutesOverdue > 240:
			return model.LevelCritical
		case minutesOverdue > 120:
			return model.LevelWarning
		}
	}
	return model.LevelNormal
}

// minutesOverdue is (now - due) in minutes.
func minutesOverdue(task model.Task, now time.Time) float64 {
	return now.Sub(task.DueAt).Minutes()
}
