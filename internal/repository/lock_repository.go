package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"coach-planner/internal/model"
)

// LockRepository implements named mutexes with a time-to-live on the job_locks table.
type LockRepository struct {
	db *gorm.DB
}

func NewLockRepository(db *gorm.DB) *LockRepository {
	return &LockRepository{db: db}
}

// Acquire takes the named lock for owner until now+ttl. An expired lock held
// by someone else is taken over.
func (r *LockRepository) Acquire(ctx context.Context, name, owner string, ttl time.Duration, now time.Time) (bool, error) {
	db := r.db.WithContext(ctx)
	lock := model.JobLock{Name: name, Owner: owner, ExpiresAt: now.Add(ttl).UTC(), CreatedAt: now.UTC()}
	res := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&lock)
	if res.Error != nil {
		return false, fmt.Errorf("acquire lock %s: %w", name, res.Error)
	}
	if res.RowsAffected == 1 {
		return true, nil
	}
	res = db.Model(&model.JobLock{}).
		Where("name = ? AND expires_at < ?", name, now.UTC()).
		Updates(map[string]interface{}{
			"owner":      owner,
			"expires_at": now.Add(ttl).UTC(),
		})
	if res.Error != nil {
		return false, fmt.Errorf("take over lock %s: %w", name, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// Release drops the lock if owner still holds it.
func (r *LockRepository) Release(ctx context.Context, name, owner string) error {
	if err := r.db.WithContext(ctx).Where("name = ? AND owner = ?", name, owner).Delete(&model.JobLock{}).Error; err != nil {
		return fmt.Errorf("release lock %s: %w", name, err)
	}
	return nil
}

// DeleteExpired removes locks whose owner never released them.
func (r *LockRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Where("expires_at < ?", now.UTC()).Delete(&model.JobLock{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete expired locks: %w", res.Error)
	}
	return res.RowsAffected, nil
}
