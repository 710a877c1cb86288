package model

import "time"

// Predefined reschedule reasons. Any other non-empty text is accepted as a free-form reason.
const (
	ReasonMoreTimeNeeded    = "more_time_needed"
	ReasonBlocked           = "blocked"
	ReasonPrioritiesChanged = "priorities_changed"
	ReasonScheduleConflict  = "schedule_conflict"
	ReasonUnwell            = "unwell"
	ReasonOther             = "other"
)

// RescheduleReasons lists the predefined reasons in display order.
var RescheduleReasons = []string{
	ReasonMoreTimeNeeded,
	ReasonBlocked,
	ReasonPrioritiesChanged,
	ReasonScheduleConflict,
	ReasonUnwell,
	ReasonOther,
}

// RescheduleEvent is an append-only record of a due date change.
type RescheduleEvent struct {
	ID            uint `gorm:"primaryKey"`
	TaskID        uint `gorm:"index"`
	Reason        string
	PreviousDueAt time.Time
	NewDueAt      time.Time
	CreatedAt     time.Time
}
