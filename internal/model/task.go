package model

import "time"

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	StatusPending TaskStatus = "pending"
	StatusDone    TaskStatus = "done"
	StatusDeleted TaskStatus = "deleted"
)

// TaskPriority drives how fast an overdue task escalates.
type TaskPriority string

const (
	PriorityLow    TaskPriority = "low"
	PriorityMedium TaskPriority = "medium"
	PriorityHigh   TaskPriority = "high"
	PriorityUrgent TaskPriority = "urgent"
)

// Valid reports whether p is one of the known priorities.
func (p TaskPriority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// RecurrencePattern describes how a template advances between occurrences.
type RecurrencePattern string

const (
	RecurDaily   RecurrencePattern = "daily"
	RecurWeekly  RecurrencePattern = "weekly"
	RecurMonthly RecurrencePattern = "monthly"
	RecurCustom  RecurrencePattern = "custom"
)

// InstanceDateLayout is the calendar-date format used for instance dedup and streak dates.
const InstanceDateLayout = "2006-01-02"

// Task is a single item in a shared list. Templates (IsTemplate) carry the
// recurrence rule; generated instances point back through RecurringTemplateID.
type Task struct {
	ID          uint  `gorm:"primaryKey"`
	ListID      *uint `gorm:"index"`
	OwnerID     uint  `gorm:"index"`
	CreatorID   uint  `gorm:"index"`
	Title       string
	Description string
	Note        string
	DueAt       time.Time    `gorm:"index"`
	Status      TaskStatus   `gorm:"type:varchar(16);index"`
	Priority    TaskPriority `gorm:"type:varchar(16)"`

	CanBeSnoozed                bool
	NotificationIntervalMinutes int
	RequiresExplanationIfMissed bool
	MissedReason                *string
	MissedReasonSubmittedAt     *time.Time

	ParentTaskID *uint `gorm:"index"`

	IsTemplate          bool  `gorm:"index"`
	RecurringTemplateID *uint `gorm:"uniqueIndex:idx_template_instance_date"`
	// InstanceDate is the owner-local calendar date of a generated instance.
	InstanceDate       *string           `gorm:"type:varchar(10);uniqueIndex:idx_template_instance_date"`
	RecurrencePattern  RecurrencePattern `gorm:"type:varchar(16)"`
	RecurrenceInterval int
	RecurrenceDays     Weekdays `gorm:"type:varchar(32)"`
	RecurrenceTime     string   `gorm:"type:varchar(5)"` // HH:MM
	RecurrenceEndDate  *time.Time

	LocationName         string
	Latitude             *float64
	Longitude            *float64
	LocationRadiusMeters int
	NotifyOnArrival      bool
	NotifyOnDeparture    bool

	ReminderSentAt *time.Time
	CompletedAt    *time.Time
	DeletedAt      *time.Time `gorm:"index"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// IsOpen reports whether the task still takes part in sweeps.
func (t Task) IsOpen() bool {
	return t.Status == StatusPending && t.DeletedAt == nil
}

// IsOverdue reports whether an open task is past its due time at now.
func (t Task) IsOverdue(now time.Time) bool {
	return t.IsOpen() && t.DueAt.Before(now)
}
