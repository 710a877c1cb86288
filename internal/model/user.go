package model

import "time"

// User stores profile, delivery and streak data.
type User struct {
	ID             uint  `gorm:"primaryKey"`
	TelegramID     int64 `gorm:"index"`
	Email          string
	Name           string
	Timezone       string
	IsCoach        bool
	CurrentStreak  int
	LastStreakDate *string `gorm:"type:varchar(10)"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Location resolves the user's timezone, falling back to UTC.
func (u User) Location() *time.Location {
	if u.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(u.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// CoachLink puts a user under a coach's oversight.
type CoachLink struct {
	ID        uint `gorm:"primaryKey"`
	CoachID   uint `gorm:"uniqueIndex:idx_coach_user"`
	UserID    uint `gorm:"uniqueIndex:idx_coach_user;index"`
	CreatedAt time.Time
}

// JobLock is a named mutex with a time-to-live shared by scheduler replicas.
type JobLock struct {
	Name      string `gorm:"primaryKey;type:varchar(64)"`
	Owner     string `gorm:"type:varchar(64)"`
	ExpiresAt time.Time
	CreatedAt time.Time
}
