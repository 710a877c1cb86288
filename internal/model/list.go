package model

import "time"

// TaskList groups tasks that are shared between users.
type TaskList struct {
	ID        uint   `gorm:"primaryKey"`
	OwnerID   uint   `gorm:"index"`
	Name      string `gorm:"index"`
	CreatedAt time.Time
	UpdatedAt time.Time
	Tasks     []Task `gorm:"foreignKey:ListID"`
}
