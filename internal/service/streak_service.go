package service

import (
	"context"
	"log"
	"time"

	"coach-planner/internal/model"
	"coach-planner/internal/repository"
)

// StreakService rolls up daily completion streaks.
type StreakService struct {
	taskRepo *repository.TaskRepository
	userRepo *repository.UserRepository
	workers  int
}

func NewStreakService(taskRepo *repository.TaskRepository, userRepo *repository.UserRepository, workers int) *StreakService {
	return &StreakService{taskRepo: taskRepo, userRepo: userRepo, workers: workers}
}

// Sweep updates the streak of every user.
func (s *StreakService) Sweep(ctx context.Context, now time.Time) (SweepReport, error) {
	users, err := s.userRepo.ListAll(ctx)
	if err != nil {
		return SweepReport{Name: SweepStreaks, At: now}, err
	}
	report := runEach(ctx, SweepStreaks, s.workers, users, func(u model.User) uint { return u.ID }, func(ctx context.Context, user model.User) (bool, error) {
		return s.UpdateStreak(ctx, &user, now)
	})
	report.At = now
	return report, nil
}

// streakDay returns the most recently completed day before now in loc.
func streakDay(now time.Time, loc *time.Location) (start, end time.Time) {
	local := now.In(loc)
	end = time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	start = end.AddDate(0, 0, -1)
	return start, end
}

// UpdateStreak evaluates yesterday (in the user's timezone) and updates the
// user's streak. Re-running for a day already counted is a no-op. It reports
// whether the stored streak changed.
func (s *StreakService) UpdateStreak(ctx context.Context, user *model.User, now time.Time) (bool, error) {
	start, end := streakDay(now, user.Location())
	day := start.Format(model.InstanceDateLayout)
	prevDay := start.AddDate(0, 0, -1).Format(model.InstanceDateLayout)

	if user.LastStreakDate != nil && *user.LastStreakDate >= day {
		return false, nil
	}

	tasks, err := s.taskRepo.ListDueBetweenForOwner(ctx, user.ID, start, end)
	if err != nil {
		return false, err
	}

	continues := user.LastStreakDate == nil || *user.LastStreakDate == prevDay

	if len(tasks) == 0 {
		// Nothing was due: the streak neither grows nor breaks, but stays contiguous.
		if user.LastStreakDate == nil || !continues {
			return false, nil
		}
		if err := s.userRepo.UpdateStreak(ctx, user.ID, user.CurrentStreak, &day); err != nil {
			return false, err
		}
		user.LastStreakDate = &day
		return true, nil
	}

	if !allDoneBy(tasks, end) {
		if user.CurrentStreak == 0 {
			return false, nil
		}
		log.Printf("[streak] user=%d day=%s broken after %d", user.ID, day, user.CurrentStreak)
		if err := s.userRepo.UpdateStreak(ctx, user.ID, 0, nil); err != nil {
			return false, err
		}
		user.CurrentStreak = 0
		return true, nil
	}

	next := 1
	if continues {
		next = user.CurrentStreak + 1
	}
	if err := s.userRepo.UpdateStreak(ctx, user.ID, next, &day); err != nil {
		return false, err
	}
	user.CurrentStreak = next
	user.LastStreakDate = &day
	return true, nil
}

func allDoneBy(tasks []model.Task, end time.Time) bool {
	for _, task := range tasks {
		if task.Status != model.StatusDone || task.CompletedAt == nil || task.CompletedAt.After(end) {
			return false
		}
	}
	return true
}
