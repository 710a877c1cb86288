package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"coach-planner/internal/model"
)

// UserRepository reads users, their coaches and streak fields.
type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) Create(ctx context.Context, user *model.User) error {
	if err := r.db.WithContext(ctx).Create(user).Error; err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (r *UserRepository) FindByID(ctx context.Context, id uint) (*model.User, error) {
	var user model.User
	if err := r.db.WithContext(ctx).First(&user, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

func (r *UserRepository) FindByTelegramID(ctx context.Context, telegramID int64) (*model.User, error) {
	var user model.User
	if err := r.db.WithContext(ctx).Where("telegram_id = ?", telegramID).First(&user).Error; err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

func (r *UserRepository) ListAll(ctx context.Context) ([]model.User, error) {
	var users []model.User
	if err := r.db.WithContext(ctx).Order("id ASC").Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}

// LinkCoach puts userID under coachID's oversight.
func (r *UserRepository) LinkCoach(ctx context.Context, coachID, userID uint) error {
	link := model.CoachLink{CoachID: coachID, UserID: userID}
	if err := r.db.WithContext(ctx).Where(link).FirstOrCreate(&link).Error; err != nil {
		return fmt.Errorf("link coach: %w", err)
	}
	return nil
}

// ListCoaches returns the coaches overseeing userID.
func (r *UserRepository) ListCoaches(ctx context.Context, userID uint) ([]model.User, error) {
	var coaches []model.User
	err := r.db.WithContext(ctx).
		Joins("JOIN coach_links ON coach_links.coach_id = users.id").
		Where("coach_links.user_id = ?", userID).
		Order("users.id ASC").
		Find(&coaches).Error
	if err != nil {
		return nil, fmt.Errorf("list coaches: %w", err)
	}
	return coaches, nil
}

// UpdateStreak stores the streak counters. A nil lastDate leaves the stored date untouched.
func (r *UserRepository) UpdateStreak(ctx context.Context, id uint, streak int, lastDate *string) error {
	updates := map[string]interface{}{"current_streak": streak}
	if lastDate != nil {
		updates["last_streak_date"] = *lastDate
	}
	if err := r.db.WithContext(ctx).Model(&model.User{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return fmt.Errorf("update streak: %w", err)
	}
	return nil
}
