package repository

import (
	"coursely/internal/domain"
	"coursely/internal/models"

	"gorm.io/gorm"
)

type CourseRepository struct {
	db *gorm.DB
}

func NewCourseRepository(db *gorm.DB) *CourseRepository {
	return &CourseRepository{db: db}
}

func (r *CourseRepository) Create(c *models.Course) error {
	return r.db.Create(c).Error
}

func (r *CourseRepository) GetByID(id uint) (*models.Course, error) {
	var c models.Course
	if err := r.db.First(&c, id).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *CourseRepository) Update(c *models.Course) error {
	return r.db.Save(c).Error
}

func (r *CourseRepository) ListPublished(limit, offset int) ([]models.Course, error) {
	var list []models.Course
	err := r.db.Where("status = ?", domain.CourseStatusPublished).
		Order("created_at DESC").Limit(limit).Offset(offset).Find(&list).Error
	return list, err
}

func (r *CourseRepository) ListByInstructor(instructorID uint) ([]models.Course, error) {
	var list []models.Course
	err := r.db.Where("instructor_id = ?", instructorID).Order("created_at DESC").Find(&list).Error
	return list, err
}

func (r *CourseRepository) CreateLesson(l *models.Lesson) error {
	return r.db.Create(l).Error
}

func (r *CourseRepository) ListLessons(courseID uint) ([]models.Lesson, error) {
	var list []models.Lesson
	err := r.db.Where("course_id = ?", courseID).Order("position ASC, id ASC").Find(&list).Error
	return list, err
}
