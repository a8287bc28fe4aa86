package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"flash-agent/internal/models"
	"flash-agent/internal/services"
)

const (
	defaultMaxUploadBytes = 20 << 20
	requestIDHeader       = "X-Request-ID"
	requestIDKey          = "request_id"
	jobTTL                = time.Hour
)

// Flashcards runs the creation and check workflows.
type Flashcards interface {
	GenerateFromPDF(ctx context.Context, filename string, data []byte) (*services.GenerationResult, error)
	CheckAnswer(ctx context.Context, flashcardID int64, userAnswer string) (*models.CheckResult, error)
}

// Documents lists processed uploads.
type Documents interface {
	List(ctx context.Context, limit int) ([]models.Document, error)
}

// UploadResult is the body of a successful upload.
type UploadResult struct {
	Success  bool   `json:"success"`
	Response string `json:"response"`
	Filename string `json:"filename"`
}

type Config struct {
	Flashcards     Flashcards
	Documents      Documents // optional
	MaxUploadBytes int64
	Logger         logrus.FieldLogger
	// BaseContext bounds background upload jobs. Cancelling it stops them.
	BaseContext context.Context
}

type Server struct {
	engine     *gin.Engine
	flashcards Flashcards
	documents  Documents
	jobs       *JobManager
	maxUpload  int64
	log        logrus.FieldLogger
	baseCtx    context.Context
}

func NewServer(cfg Config) *Server {
	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	maxUpload := cfg.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = defaultMaxUploadBytes
	}
	baseCtx := cfg.BaseContext
	if baseCtx == nil {
		baseCtx = context.Background()
	}

	s := &Server{
		engine:     gin.New(),
		flashcards: cfg.Flashcards,
		documents:  cfg.Documents,
		jobs:       NewJobManager(jobTTL),
		maxUpload:  maxUpload,
		log:        log,
		baseCtx:    baseCtx,
	}
	s.engine.MaxMultipartMemory = maxUpload
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() {
	s.engine.Use(requestID(), s.accessLog(), cors(), gin.CustomRecovery(s.recover))

	s.engine.GET("/health", s.handleHealth)
	s.engine.POST("/upload-pdf", s.handleUploadPDF)
	s.engine.POST("/upload-pdf/jobs", s.handleCreateUploadJob)
	s.engine.GET("/upload-pdf/jobs/:id", s.handleJobStatus)
	s.engine.POST("/check-answer", s.handleCheckAnswer)
	s.engine.GET("/documents", s.handleListDocuments)
}

func (s *Server) handleHealth(c *gin.Context) {
	writeJSON(c, http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleUploadPDF(c *gin.Context) {
	filename, data, err := s.readUpload(c)
	if err != nil {
		writeJSON(c, http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	result, err := s.flashcards.GenerateFromPDF(c.Request.Context(), filename, data)
	if err != nil {
		s.requestLog(c).WithError(err).Error("upload failed")
		writeJSON(c, http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}

	writeJSON(c, http.StatusOK, UploadResult{
		Success:  true,
		Response: result.Response,
		Filename: result.Filename,
	})
}

func (s *Server) handleCreateUploadJob(c *gin.Context) {
	filename, data, err := s.readUpload(c)
	if err != nil {
		writeJSON(c, http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	jobID, snapshot := s.jobs.CreateJob(filename)
	log := s.requestLog(c).WithField("job_id", jobID)
	go s.runUploadJob(jobID, filename, data, log)

	writeJSON(c, http.StatusAccepted, snapshot)
}

func (s *Server) handleJobStatus(c *gin.Context) {
	job, ok := s.jobs.GetJob(c.Param("id"))
	if !ok {
		writeError(c, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(c, http.StatusOK, job)
}

func (s *Server) runUploadJob(jobID, filename string, data []byte, log logrus.FieldLogger) {
	defer func() {
		if rec := recover(); rec != nil {
			log.WithField("panic", rec).Error("upload job panicked")
			s.jobs.MarkFailed(jobID, fmt.Sprint(rec))
		}
	}()

	s.jobs.MarkProcessing(jobID)
	result, err := s.flashcards.GenerateFromPDF(s.baseCtx, filename, data)
	if err != nil {
		log.WithError(err).Error("upload job failed")
		s.jobs.MarkFailed(jobID, err.Error())
		return
	}
	s.jobs.MarkCompleted(jobID, UploadResult{
		Success:  true,
		Response: result.Response,
		Filename: result.Filename,
	})
}

func (s *Server) handleCheckAnswer(c *gin.Context) {
	rawID, ok := c.GetPostForm("flashcard_id")
	if !ok || strings.TrimSpace(rawID) == "" {
		writeError(c, http.StatusBadRequest, "flashcard_id is required")
		return
	}
	flashcardID, err := strconv.ParseInt(strings.TrimSpace(rawID), 10, 64)
	if err != nil || flashcardID <= 0 {
		writeError(c, http.StatusBadRequest, "flashcard_id must be a positive integer")
		return
	}
	userAnswer, ok := c.GetPostForm("user_answer")
	if !ok || strings.TrimSpace(userAnswer) == "" {
		writeError(c, http.StatusBadRequest, "user_answer is required")
		return
	}

	result, err := s.flashcards.CheckAnswer(c.Request.Context(), flashcardID, strings.TrimSpace(userAnswer))
	if err != nil {
		s.requestLog(c).WithError(err).WithField("flashcard_id", flashcardID).Error("check answer failed")
		writeError(c, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(c, http.StatusOK, result)
}

func (s *Server) handleListDocuments(c *gin.Context) {
	if s.documents == nil {
		writeJSON(c, http.StatusOK, gin.H{"documents": []models.Document{}})
		return
	}
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(c, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	docs, err := s.documents.List(c.Request.Context(), limit)
	if err != nil {
		writeError(c, http.StatusInternalServerError, err.Error())
		return
	}
	if docs == nil {
		docs = []models.Document{}
	}
	writeJSON(c, http.StatusOK, gin.H{"documents": docs})
}

// readUpload reads the multipart "file" field fully into memory.
func (s *Server) readUpload(c *gin.Context) (string, []byte, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.maxUpload+(1<<20))
	header, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return "", nil, fmt.Errorf("file exceeds %d bytes", s.maxUpload)
		}
		return "", nil, errors.New("file is required")
	}
	if header.Size > s.maxUpload {
		return "", nil, fmt.Errorf("file exceeds %d bytes", s.maxUpload)
	}
	file, err := header.Open()
	if err != nil {
		return "", nil, fmt.Errorf("open upload: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return "", nil, fmt.Errorf("read upload: %w", err)
	}
	return header.Filename, data, nil
}

func (s *Server) recover(c *gin.Context, rec any) {
	s.requestLog(c).WithField("panic", rec).Error("handler panicked")
	writeError(c, http.StatusInternalServerError, fmt.Sprint(rec))
	c.Abort()
}

func (s *Server) requestLog(c *gin.Context) logrus.FieldLogger {
	return s.log.WithField(requestIDKey, c.GetString(requestIDKey))
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()
		s.log.WithFields(logrus.Fields{
			requestIDKey: c.GetString(requestIDKey),
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     c.Writer.Status(),
			"duration":   time.Since(started).String(),
		}).Info("request completed")
	}
}

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "*")
		c.Writer.Header().Set("Access-Control-Expose-Headers", requestIDHeader)

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func writeJSON(c *gin.Context, status int, payload interface{}) {
	c.Header("Content-Type", "application/json")
	c.Status(status)
	if payload == nil {
		return
	}
	enc := json.NewEncoder(c.Writer)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}

func writeError(c *gin.Context, status int, message string) {
	writeJSON(c, status, gin.H{"error": message})
}
