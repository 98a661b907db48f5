package models

import (
	"time"

	"coursely/internal/domain"

	"gorm.io/gorm"
)

type Course struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	InstructorID uint           `gorm:"not null;index" json:"instructor_id"`
	Title        string         `gorm:"size:255;not null" json:"title"`
	Description  string         `gorm:"type:text" json:"description"`
	Price        int64          `gorm:"not null;default:0" json:"price"` // whole VND; 0 means not payable
	Status       string         `gorm:"size:20;not null;index;default:'DRAFT'" json:"status"`
	ThumbnailURL string         `gorm:"size:512" json:"thumbnail_url"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"-"`

	Instructor User     `gorm:"foreignKey:InstructorID" json:"-"`
	Lessons    []Lesson `gorm:"foreignKey:CourseID" json:"lessons,omitempty"`
}

func (Course) TableName() string {
	return "courses"
}

func (c *Course) Published() bool { return c.Status == domain.CourseStatusPublished }
