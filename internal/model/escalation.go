package model

import "time"

// EscalationLevel is the severity tier of an overdue task.
type EscalationLevel string

const (
	LevelNormal   EscalationLevel = "normal"
	LevelWarning  EscalationLevel = "warning"
	LevelCritical EscalationLevel = "critical"
	LevelBlocking EscalationLevel = "blocking"
)

// Rank orders levels so that higher is more severe.
func (l EscalationLevel) Rank() int {
	switch l {
	case LevelWarning:
		return 1
	case LevelCritical:
		return 2
	case LevelBlocking:
		return 3
	default:
		return 0
	}
}

// Escalation tracks reminder and coach-alert state for one overdue task.
type Escalation struct {
	ID                 uint            `gorm:"primaryKey"`
	TaskID             uint            `gorm:"uniqueIndex"`
	Level              EscalationLevel `gorm:"column:escalation_level;type:varchar(16)"`
	NotificationCount  int
	LastNotificationAt *time.Time
	BecameOverdueAt    *time.Time
	CoachesNotified    bool
	CoachesNotifiedAt  *time.Time
	BlockingApp        bool
	BlockingStartedAt  *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}
