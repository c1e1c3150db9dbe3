package handler

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Shauryam-singh/Advance-Attendance/internal/attendance"
	"github.com/Shauryam-singh/Advance-Attendance/internal/queue"
	"github.com/Shauryam-singh/Advance-Attendance/internal/roster"
	"github.com/Shauryam-singh/Advance-Attendance/internal/timetable"
	"github.com/Shauryam-singh/Advance-Attendance/internal/tokenstore"
)

// Store is the persistence the HTTP surface needs.
type Store interface {
	AddStudent(ctx context.Context, s roster.Student) error
	RenameStudent(ctx context.Context, batch, studentID, name string) error
	DeleteStudent(ctx context.Context, batch, studentID string) error
	Roster(ctx context.Context, batch string) ([]roster.Student, error)
	AddTimetableEntry(ctx context.Context, batch string, e timetable.Entry) (timetable.Entry, error)
	UpdateTimetableEntry(ctx context.Context, batch string, day timetable.Day, code string, name *string, start *timetable.TimeOfDay) error
	DeleteTimetableEntry(ctx context.Context, batch string, day timetable.Day, code string) error
	Timetable(ctx context.Context, batch string) ([]timetable.Entry, error)
	ListAttendance(ctx context.Context, batch, studentID string, limit, offset int) ([]attendance.Record, error)
}

// Lectures resolves the lecture running now.
type Lectures interface {
	CurrentLecture(ctx context.Context, batch string) (timetable.Lecture, bool, error)
}

// Issuer regenerates every token for one batch.
type Issuer interface {
	IssueAll(ctx context.Context) (int, error)
}

// TokenImages serves the latest token image for a student.
type TokenImages interface {
	Load(studentID string) ([]byte, error)
}

// Batch bundles the per-batch collaborators.
type Batch struct {
	Queue  queue.Queue
	Issuer Issuer
	Tokens TokenImages
}

// Health reports whether a dependency is reachable.
type Health func(ctx context.Context) bool

// Handler serves the admin and scan-intake API.
type Handler struct {
	store    Store
	lectures Lectures
	batches  map[string]Batch
	checks   map[string]Health
	logger   *slog.Logger
}

// New builds a handler. Requests naming a batch not in batches get 404.
func New(store Store, lectures Lectures, batches map[string]Batch, checks map[string]Health, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{store: store, lectures: lectures, batches: batches, checks: checks, logger: logger}
}

// Register mounts the routes on r. scanLimit, when non-nil, guards scan
// intake only.
func (h *Handler) Register(r gin.IRouter, scanLimit gin.HandlerFunc) {
	r.GET("/healthz", h.healthz)

	v1 := r.Group("/v1/batches/:batch", h.requireBatch)
	v1.GET("/students", h.listStudents)
	v1.POST("/students", h.addStudent)
	v1.PATCH("/students/:id", h.renameStudent)
	v1.DELETE("/students/:id", h.deleteStudent)
	v1.GET("/students/:id/token", h.studentToken)

	v1.GET("/timetable", h.listTimetable)
	v1.POST("/timetable", h.addTimetableEntry)
	v1.PATCH("/timetable/:day/:code", h.updateTimetableEntry)
	v1.DELETE("/timetable/:day/:code", h.deleteTimetableEntry)
	v1.GET("/lecture", h.currentLecture)

	v1.POST("/tokens", h.issueTokens)

	if scanLimit != nil {
		v1.POST("/scans", scanLimit, h.submitScan)
	} else {
		v1.POST("/scans", h.submitScan)
	}
	v1.GET("/attendance", h.listAttendance)
}

func (h *Handler) healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	body := gin.H{}
	status := http.StatusOK
	for name, check := range h.checks {
		ok := check(ctx)
		body[name] = ok
		if !ok {
			status = http.StatusServiceUnavailable
		}
	}
	if status == http.StatusOK {
		body["status"] = "ok"
	} else {
		body["status"] = "degraded"
	}
	c.JSON(status, body)
}

func (h *Handler) requireBatch(c *gin.Context) {
	if _, ok := h.batches[c.Param("batch")]; !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "unknown batch"})
		return
	}
	c.Next()
}

func (h *Handler) listStudents(c *gin.Context) {
	students, err := h.store.Roster(c.Request.Context(), c.Param("batch"))
	if err != nil {
		h.fail(c, err)
		return
	}
	if students == nil {
		students = []roster.Student{}
	}
	c.JSON(http.StatusOK, gin.H{"students": students})
}

func (h *Handler) addStudent(c *gin.Context) {
	var req struct {
		StudentID string `json:"student_id" binding:"required"`
		Name      string `json:"name" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s := roster.Student{StudentID: strings.TrimSpace(req.StudentID), Name: strings.TrimSpace(req.Name), Batch: c.Param("batch")}
	if err := h.store.AddStudent(c.Request.Context(), s); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, s)
}

func (h *Handler) renameStudent(c *gin.Context) {
	var req struct {
		Name string `json:"name" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.store.RenameStudent(c.Request.Context(), c.Param("batch"), c.Param("id"), strings.TrimSpace(req.Name)); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) deleteStudent(c *gin.Context) {
	if err := h.store.DeleteStudent(c.Request.Context(), c.Param("batch"), c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) studentToken(c *gin.Context) {
	b := h.batches[c.Param("batch")]
	if b.Tokens == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "token storage not configured"})
		return
	}
	img, err := b.Tokens.Load(c.Param("id"))
	switch {
	case errors.Is(err, fs.ErrNotExist):
		c.JSON(http.StatusNotFound, gin.H{"error": "no token issued yet"})
		return
	case errors.Is(err, tokenstore.ErrInvalidID):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case err != nil:
		h.fail(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/png", img)
}

func (h *Handler) listTimetable(c *gin.Context) {
	entries, err := h.store.Timetable(c.Request.Context(), c.Param("batch"))
	if err != nil {
		h.fail(c, err)
		return
	}
	if entries == nil {
		entries = []timetable.Entry{}
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

func (h *Handler) addTimetableEntry(c *gin.Context) {
	var e timetable.Entry
	if err := c.ShouldBindJSON(&e); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if strings.TrimSpace(e.SubjectCode) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "subject_code required"})
		return
	}
	saved, err := h.store.AddTimetableEntry(c.Request.Context(), c.Param("batch"), e)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, saved)
}

func (h *Handler) updateTimetableEntry(c *gin.Context) {
	day, err := timetable.ParseDay(c.Param("day"))
	if err != nil {
		h.fail(c, err)
		return
	}
	var req struct {
		SubjectName *string              `json:"subject_name"`
		Start       *timetable.TimeOfDay `json:"start"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.SubjectName == nil && req.Start == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "nothing to update"})
		return
	}
	if err := h.store.UpdateTimetableEntry(c.Request.Context(), c.Param("batch"), day, c.Param("code"), req.SubjectName, req.Start); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) deleteTimetableEntry(c *gin.Context) {
	day, err := timetable.ParseDay(c.Param("day"))
	if err != nil {
		h.fail(c, err)
		return
	}
	if err := h.store.DeleteTimetableEntry(c.Request.Context(), c.Param("batch"), day, c.Param("code")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) currentLecture(c *gin.Context) {
	lec, ok, err := h.lectures.CurrentLecture(c.Request.Context(), c.Param("batch"))
	if err != nil {
		h.fail(c, err)
		return
	}
	if !ok {
		c.JSON(http.StatusOK, gin.H{"active": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"active": true, "lecture": lec})
}

func (h *Handler) issueTokens(c *gin.Context) {
	b := h.batches[c.Param("batch")]
	if b.Issuer == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "issuance not configured"})
		return
	}
	n, err := b.Issuer.IssueAll(c.Request.Context())
	if err != nil {
		h.logger.Warn("token issuance incomplete", "batch", c.Param("batch"), "issued", n, "err", err)
		c.JSON(http.StatusMultiStatus, gin.H{"issued": n, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"issued": n})
}

func (h *Handler) submitScan(c *gin.Context) {
	var req struct {
		Payload string `json:"payload" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	b := h.batches[c.Param("batch")]
	if b.Queue == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "scan intake not configured"})
		return
	}
	msg := queue.Message{Type: queue.TypeScan, Body: []byte(req.Payload)}
	if err := b.Queue.Publish(c.Request.Context(), msg); err != nil {
		h.logger.Error("queue publish failed", "batch", c.Param("batch"), "err", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "scan queue unavailable"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
}

func (h *Handler) listAttendance(c *gin.Context) {
	limit, offset := 50, 0
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			limit = parsed
		}
	}
	if v := c.Query("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			offset = parsed
		}
	}
	records, err := h.store.ListAttendance(c.Request.Context(), c.Param("batch"), c.Query("student_id"), limit, offset)
	if err != nil {
		h.fail(c, err)
		return
	}
	if records == nil {
		records = []attendance.Record{}
	}
	c.JSON(http.StatusOK, gin.H{"records": records})
}

// fail maps domain errors onto status codes; anything unknown is a 500.
func (h *Handler) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, attendance.ErrStudentNotFound), errors.Is(err, attendance.ErrEntryNotFound):
		status = http.StatusNotFound
	case errors.Is(err, attendance.ErrDuplicateStudent), errors.Is(err, timetable.ErrDuplicateSubject):
		status = http.StatusConflict
	case errors.Is(err, timetable.ErrInvalidWindow), errors.Is(err, timetable.ErrInvalidTime),
		errors.Is(err, timetable.ErrInvalidDay):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", "path", c.FullPath(), "err", err)
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
