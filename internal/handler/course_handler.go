package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"coursely/internal/domain"
	"coursely/internal/middleware"
	"coursely/internal/models"
	"coursely/internal/repository"
	"coursely/pkg/cloudinary"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type CourseHandler struct {
	courseRepo     *repository.CourseRepository
	enrollmentRepo *repository.EnrollmentRepository
	paymentRepo    *repository.PaymentRepository
	cloud          cloudinary.Client
}

func NewCourseHandler(courseRepo *repository.CourseRepository, enrollmentRepo *repository.EnrollmentRepository, paymentRepo *repository.PaymentRepository, cloud cloudinary.Client) *CourseHandler {
	return &CourseHandler{courseRepo: courseRepo, enrollmentRepo: enrollmentRepo, paymentRepo: paymentRepo, cloud: cloud}
}

type CreateCourseRequest struct {
	Title       string `json:"title" binding:"required,min=3,max=255"`
	Description string `json:"description"`
	Price       int64  `json:"price" binding:"min=0"`
}

type UpdateCourseRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Price       *int64  `json:"price"`
}

type AddLessonRequest struct {
	Title    string `json:"title" binding:"required,min=1,max=255"`
	Content  string `json:"content"`
	VideoURL string `json:"video_url"`
	Position int    `json:"position"`
}

func (h *CourseHandler) Create(c *gin.Context) {
	var req CreateCourseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	course := &models.Course{
		InstructorID: middleware.GetUserID(c),
		Title:        req.Title,
		Description:  req.Description,
		Price:        req.Price,
		Status:       domain.CourseStatusDraft,
	}
	if err := h.courseRepo.Create(course); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create course"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"course": course})
}

func (h *CourseHandler) List(c *gin.Context) {
	limit, offset := pagination(c)
	list, err := h.courseRepo.ListPublished(limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not list courses"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"courses": list})
}

func (h *CourseHandler) Get(c *gin.Context) {
	course, ok := h.loadCourse(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"course": course})
}

// Lessons returns the ordered lesson list. Content is paid: only enrolled
// users and the course's own instructor get it.
func (h *CourseHandler) Lessons(c *gin.Context) {
	course, ok := h.loadCourse(c)
	if !ok {
		return
	}
	userID := middleware.GetUserID(c)
	if course.InstructorID != userID {
		enrolled, err := h.enrollmentRepo.Exists(userID, course.ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not check enrollment"})
			return
		}
		if !enrolled {
			c.JSON(http.StatusForbidden, gin.H{"error": "enroll to access lessons"})
			return
		}
	}
	lessons, err := h.courseRepo.ListLessons(course.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load lessons"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"lessons": lessons})
}

func (h *CourseHandler) Update(c *gin.Context) {
	course, ok := h.loadOwnCourse(c)
	if !ok {
		return
	}
	var req UpdateCourseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Title != nil {
		course.Title = *req.Title
	}
	if req.Description != nil {
		course.Description = *req.Description
	}
	if req.Price != nil {
		if *req.Price < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "price cannot be negative"})
			return
		}
		// Pending intents keep the price they were created with.
		course.Price = *req.Price
	}
	if err := h.courseRepo.Update(course); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not update course"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"course": course})
}

func (h *CourseHandler) Publish(c *gin.Context) {
	course, ok := h.loadOwnCourse(c)
	if !ok {
		return
	}
	course.Status = domain.CourseStatusPublished
	if err := h.courseRepo.Update(course); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not publish course"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"course": course})
}

func (h *CourseHandler) AddLesson(c *gin.Context) {
	course, ok := h.loadOwnCourse(c)
	if !ok {
		return
	}
	var req AddLessonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	lesson := &models.Lesson{
		CourseID: course.ID,
		Title:    req.Title,
		Content:  req.Content,
		VideoURL: req.VideoURL,
		Position: req.Position,
	}
	if err := h.courseRepo.CreateLesson(lesson); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not add lesson"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"lesson": lesson})
}

// UploadThumbnail stores the course image on Cloudinary and saves the
// optimized delivery URL.
func (h *CourseHandler) UploadThumbnail(c *gin.Context) {
	course, ok := h.loadOwnCourse(c)
	if !ok {
		return
	}
	if h.cloud == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "uploads not configured"})
		return
	}
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file required"})
		return
	}
	f, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "could not read file"})
		return
	}
	defer f.Close()
	folder := "coursely/courses/" + strconv.FormatUint(uint64(course.ID), 10)
	publicID := "img_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:16]
	url, _, err := h.cloud.UploadImage(c.Request.Context(), f, folder, publicID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "upload failed"})
		return
	}
	course.ThumbnailURL = url
	if err := h.courseRepo.Update(course); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not save thumbnail"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"thumbnail_url": url})
}

// MyCourses lists the instructor's own courses, drafts included.
func (h *CourseHandler) MyCourses(c *gin.Context) {
	list, err := h.courseRepo.ListByInstructor(middleware.GetUserID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not list courses"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"courses": list})
}

// Stats aggregates sales and revenue per course for the instructor.
func (h *CourseHandler) Stats(c *gin.Context) {
	stats, err := h.paymentRepo.StatsByInstructor(middleware.GetUserID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load stats"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"stats": stats})
}

func (h *CourseHandler) loadCourse(c *gin.Context) (*models.Course, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid course id"})
		return nil, false
	}
	course, err := h.courseRepo.GetByID(uint(id))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "course not found"})
			return nil, false
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load course"})
		return nil, false
	}
	return course, true
}

func (h *CourseHandler) loadOwnCourse(c *gin.Context) (*models.Course, bool) {
	course, ok := h.loadCourse(c)
	if !ok {
		return nil, false
	}
	if course.InstructorID != middleware.GetUserID(c) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not your course"})
		return nil, false
	}
	return course, true
}

func pagination(c *gin.Context) (limit, offset int) {
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", "20"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
