package repository

import (
	"coursely/internal/models"

	"gorm.io/gorm"
)

type EnrollmentRepository struct {
	db *gorm.DB
}

func NewEnrollmentRepository(db *gorm.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

func (r *EnrollmentRepository) Exists(userID, courseID uint) (bool, error) {
	var count int64
	err := r.db.Model(&models.Enrollment{}).
		Where("user_id = ? AND course_id = ?", userID, courseID).Count(&count).Error
	return count > 0, err
}

func (r *EnrollmentRepository) ListByUser(userID uint) ([]models.Enrollment, error) {
	var list []models.Enrollment
	err := r.db.Preload("Course").Where("user_id = ?", userID).
		Order("created_at DESC").Find(&list).Error
	return list, err
}
