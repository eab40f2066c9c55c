package api

import (
	"bytes"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/reportmill/internal/artifact"
	"github.com/reportmill/internal/auth"
	"github.com/reportmill/internal/config"
	"github.com/reportmill/internal/database"
	"github.com/reportmill/internal/metrics"
	"github.com/reportmill/internal/models"
	"github.com/reportmill/internal/report"
	"github.com/reportmill/internal/runner"
	"github.com/reportmill/internal/schedule"
	"github.com/reportmill/internal/store"
)

type Server struct {
	cfg       *config.Config
	schedules *store.ScheduleStore
	runs      *store.RunStore
	runner    *runner.Runner
	router    *gin.Engine
}

func NewServer(cfg *config.Config, schedules *store.ScheduleStore, runs *store.RunStore, dueRunner *runner.Runner) *Server {
	server := &Server{
		cfg:       cfg,
		schedules: schedules,
		runs:      runs,
		runner:    dueRunner,
		router:    gin.Default(),
	}

	server.setupRoutes()
	return server
}

func (s *Server) setupRoutes() {
	// Public routes
	s.router.POST("/api/v1/auth/login", s.login)
	s.router.GET("/metrics", metrics.Handler())

	// Trigger endpoint: shared-secret authenticated, not JWT
	s.router.POST("/api/v1/scheduled-reports/run-due", s.runDue)

	// Download gateway: the token is the capability; operator JWT is the
	// fallback, checked inside the handler
	s.router.GET("/scheduled-reports/runs/:id/download", s.downloadRun)

	// Protected routes (require authentication)
	api := s.router.Group("/api/v1/scheduled-reports")
	api.Use(auth.AuthMiddleware())

	api.GET("/schedules", s.listSchedules)
	api.POST("/schedules", auth.RequireRole(models.RoleAdmin, models.RoleUser), s.createSchedule)
	api.GET("/schedules/:id", s.getSchedule)
	api.PUT("/schedules/:id", auth.RequireRole(models.RoleAdmin, models.RoleUser), s.updateSchedule)
	api.DELETE("/schedules/:id", auth.RequireRole(models.RoleAdmin), s.deleteSchedule)

	api.GET("/runs", s.listRuns)
	api.GET("/runs/:id", s.getRun)
}

func (s *Server) Start(port int) error {
	return s.router.Run(fmt.Sprintf(":%d", port))
}

// Router exposes the gin engine for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// runDue is the externally triggered entry point. Overlapping calls are
// safe: ClaimDue partitions the due set.
func (s *Server) runDue(c *gin.Context) {
	secret := s.cfg.Trigger.Secret
	if secret == "" {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "trigger secret not configured"})
		return
	}
	candidate := c.GetHeader("X-Trigger-Secret")
	if subtle.ConstantTimeCompare([]byte(candidate), []byte(secret)) != 1 {
		c.JSON(http.StatusForbidden, gin.H{"error": "invalid trigger secret"})
		return
	}

	limit := s.cfg.Trigger.DefaultLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = parsed
	}
	if limit > s.cfg.Trigger.MaxLimit {
		limit = s.cfg.Trigger.MaxLimit
	}

	summary, err := s.runner.RunDue(limit, time.Now())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, summary)
}

type scheduleRequest struct {
	Name       string   `json:"name" binding:"required"`
	ReportKind string   `json:"report_kind" binding:"required"`
	Scope      string   `json:"scope"`
	Cadence    string   `json:"cadence" binding:"required"`
	TimeOfDay  string   `json:"time_of_day" binding:"required"`
	DayOfWeek  *int     `json:"day_of_week"`
	DayOfMonth *int     `json:"day_of_month"`
	Format     string   `json:"format" binding:"required"`
	Recipients []string `json:"recipients" binding:"required"`
	Enabled    *bool    `json:"enabled"`
}

func (s *Server) createSchedule(c *gin.Context) {
	var req scheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !report.KnownKind(req.ReportKind) {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown report kind: %s", req.ReportKind)})
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	sch := models.ReportSchedule{
		Name:       req.Name,
		ReportKind: req.ReportKind,
		Scope:      req.Scope,
		Cadence:    models.Cadence(req.Cadence),
		TimeOfDay:  req.TimeOfDay,
		DayOfWeek:  req.DayOfWeek,
		DayOfMonth: req.DayOfMonth,
		Format:     models.OutputFormat(req.Format),
		Recipients: req.Recipients,
		Enabled:    enabled,
	}

	if err := s.schedules.Create(&sch, time.Now()); err != nil {
		if errors.Is(err, store.ErrInvalidSchedule) || errors.Is(err, schedule.ErrInvalidCadence) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, sch)
}

type scheduleUpdateRequest struct {
	Name       *string   `json:"name"`
	ReportKind *string   `json:"report_kind"`
	Scope      *string   `json:"scope"`
	Cadence    *string   `json:"cadence"`
	TimeOfDay  *string   `json:"time_of_day"`
	DayOfWeek  *int      `json:"day_of_week"`
	DayOfMonth *int      `json:"day_of_month"`
	Format     *string   `json:"format"`
	Recipients *[]string `json:"recipients"`
	Enabled    *bool     `json:"enabled"`
}

func (s *Server) updateSchedule(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid schedule ID"})
		return
	}

	var req scheduleUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.ReportKind != nil && !report.KnownKind(*req.ReportKind) {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown report kind: %s", *req.ReportKind)})
		return
	}

	upd := store.ScheduleUpdate{
		Name:       req.Name,
		ReportKind: req.ReportKind,
		Scope:      req.Scope,
		TimeOfDay:  req.TimeOfDay,
		DayOfWeek:  req.DayOfWeek,
		DayOfMonth: req.DayOfMonth,
		Recipients: req.Recipients,
		Enabled:    req.Enabled,
	}
	if req.Cadence != nil {
		cadence := models.Cadence(*req.Cadence)
		upd.Cadence = &cadence
	}
	if req.Format != nil {
		format := models.OutputFormat(*req.Format)
		upd.Format = &format
	}

	sch, err := s.schedules.Update(uint(id), upd, time.Now())
	if err != nil {
		switch {
		case errors.Is(err, store.ErrScheduleNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "schedule not found"})
		case errors.Is(err, store.ErrInvalidSchedule), errors.Is(err, schedule.ErrInvalidCadence):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusOK, sch)
}

func (s *Server) deleteSchedule(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid schedule ID"})
		return
	}

	if err := s.schedules.Delete(uint(id)); err != nil {
		if errors.Is(err, store.ErrScheduleNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "schedule not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "schedule deleted successfully"})
}

func (s *Server) getSchedule(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid schedule ID"})
		return
	}

	sch, err := s.schedules.Get(uint(id))
	if err != nil {
		if errors.Is(err, store.ErrScheduleNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "schedule not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, sch)
}

func (s *Server) listSchedules(c *gin.Context) {
	schedules, err := s.schedules.List()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, schedules)
}

func (s *Server) listRuns(c *gin.Context) {
	var scheduleID uint64
	if raw := c.Query("schedule_id"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid schedule_id"})
			return
		}
		scheduleID = parsed
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	runs, err := s.runs.List(uint(scheduleID), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, runs)
}

func (s *Server) getRun(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run ID"})
		return
	}

	run, err := s.runs.Get(uint(id))
	if err != nil {
		if errors.Is(err, store.ErrRunNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, run)
}

// downloadRun streams a run's artifact. A valid, unexpired token is a
// capability in itself; without one the caller must be an operator with
// download permission.
func (s *Server) downloadRun(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run ID"})
		return
	}

	run, err := s.runs.Get(uint(id))
	if err != nil {
		if errors.Is(err, store.ErrRunNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !run.HasOutput() {
		c.JSON(http.StatusNotFound, gin.H{"error": "run has no generated output"})
		return
	}

	if !s.downloadAuthorized(c, run) {
		c.JSON(http.StatusForbidden, gin.H{"error": "download not authorized"})
		return
	}

	reader, err := artifact.NewReader(bytes.NewReader(run.OutputBytes), run.Encoding)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	defer reader.Close()

	contentType := run.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.DataFromReader(http.StatusOK, run.RawSize, contentType, reader, map[string]string{
		"Cache-Control":       "no-store",
		"Content-Disposition": fmt.Sprintf("attachment; filename=%q", sanitizeFilename(run.Filename)),
	})
}

func (s *Server) downloadAuthorized(c *gin.Context, run *models.ReportRun) bool {
	if token := c.Query("token"); token != "" {
		if artifact.VerifyToken(token, run.TokenHash) &&
			run.TokenExpiresAt != nil && time.Now().Before(*run.TokenExpiresAt) {
			return true
		}
	}

	user, err := auth.UserFromRequest(c)
	if err != nil {
		return false
	}
	return user.HasPermission("download_reports")
}

var unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// sanitizeFilename strips path separators and anything else hostile to a
// Content-Disposition header.
func sanitizeFilename(name string) string {
	cleaned := unsafeFilenameChars.ReplaceAllString(name, "_")
	if cleaned == "" || cleaned == "." || cleaned == ".." {
		return "report"
	}
	return cleaned
}

func (s *Server) login(c *gin.Context) {
	var loginReq struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}

	if err := c.ShouldBindJSON(&loginReq); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var user models.User
	if err := database.GetDB().Where("username = ?", loginReq.Username).First(&user).Error; err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	if !user.CheckPassword(loginReq.Password) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	token, err := auth.GenerateToken(&user)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token})
}
