package repository

import (
	"errors"

	"coursely/internal/domain"
	"coursely/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PaymentRepository is the gorm-backed PaymentStore, plus the read-side
// queries used by history and stats endpoints.
type PaymentRepository struct {
	db   *gorm.DB
	inTx bool
}

func NewPaymentRepository(db *gorm.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

func (r *PaymentRepository) Transaction(fn func(tx PaymentStore) error) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		return fn(&PaymentRepository{db: tx, inTx: true})
	})
}

// locked adds FOR UPDATE inside a transaction so concurrent creations or
// callback deliveries for the same rows serialize.
func (r *PaymentRepository) locked() *gorm.DB {
	if r.inTx {
		return r.db.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return r.db
}

func (r *PaymentRepository) PendingByUserCourse(userID, courseID uint) (*models.Payment, error) {
	var p models.Payment
	err := r.locked().
		Where("user_id = ? AND course_id = ? AND status = ?", userID, courseID, domain.PaymentStatusPending).
		First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PaymentRepository) ByTransactionRef(ref string) (*models.Payment, error) {
	var p models.Payment
	err := r.locked().Where("transaction_ref = ?", ref).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PaymentRepository) Create(p *models.Payment) error {
	return r.db.Create(p).Error
}

func (r *PaymentRepository) Save(p *models.Payment) error {
	return r.db.Save(p).Error
}

func (r *PaymentRepository) HasEnrollment(userID, courseID uint) (bool, error) {
	var count int64
	err := r.db.Model(&models.Enrollment{}).
		Where("user_id = ? AND course_id = ?", userID, courseID).Count(&count).Error
	return count > 0, err
}

// UpsertEnrollment creates the enrollment if it does not exist yet; an
// already-present row is not an error.
func (r *PaymentRepository) UpsertEnrollment(e *models.Enrollment) error {
	return r.db.Where("user_id = ? AND course_id = ?", e.UserID, e.CourseID).
		FirstOrCreate(e).Error
}

func (r *PaymentRepository) ListByUser(userID uint, limit, offset int) ([]models.Payment, error) {
	var list []models.Payment
	err := r.db.Where("user_id = ?", userID).Order("created_at DESC").
		Limit(limit).Offset(offset).Find(&list).Error
	return list, err
}

// CourseStats aggregates the terminal SUCCESS intents per course; because
// enrollments are only ever created with a successful payment, sales double
// as the enrollment count.
type CourseStats struct {
	CourseID uint   `json:"course_id"`
	Title    string `json:"title"`
	Sales    int64  `json:"sales"`
	Revenue  int64  `json:"revenue"`
}

func (r *PaymentRepository) StatsByInstructor(instructorID uint) ([]CourseStats, error) {
	var stats []CourseStats
	err := r.db.Model(&models.Payment{}).
		Select("payments.course_id AS course_id, courses.title AS title, COUNT(*) AS sales, SUM(payments.amount) AS revenue").
		Joins("JOIN courses ON courses.id = payments.course_id").
		Where("courses.instructor_id = ? AND payments.status = ?", instructorID, domain.PaymentStatusSuccess).
		Group("payments.course_id, courses.title").
		Scan(&stats).Error
	return stats, err
}
