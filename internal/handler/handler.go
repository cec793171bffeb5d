// Package handler - HTTP API движка непрерывности на gin.
package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"novel-continuity/internal/models"
	"novel-continuity/internal/pacing"
	"novel-continuity/internal/service"
	"novel-continuity/pkg/taskmanager"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ContinuityService - то, что HTTP слой использует из service.ContinuityService.
type ContinuityService interface {
	AssembleMemoryBank(ctx context.Context, storyID uuid.UUID) (*models.MemoryBank, error)
	MemoryContext(ctx context.Context, storyID uuid.UUID, currentChapter, maxCharacters int) (*service.MemoryContext, error)
	EnhanceBrief(ctx context.Context, storyID uuid.UUID, chapterNumber int, brief string) (string, error)
	AdvanceIfComplete(ctx context.Context, storyID uuid.UUID, chapterNumber int, brief string) (*pacing.AdvanceResult, error)
	PacingProgress(ctx context.Context, storyID uuid.UUID) (*models.PacingProgress, error)
	ConfigurePacing(ctx context.Context, storyID uuid.UUID, enabled bool, activationChapter int) (*models.PacingProgress, error)
	ResolveForeshadowing(ctx context.Context, storyID, itemID uuid.UUID, chapter int) error
	PublishChapter(ctx context.Context, ch models.Chapter) (*service.PublishResult, error)
	GenerateVolumeOutline(ctx context.Context, req service.VolumeOutlineRequest) (uuid.UUID, error)
	MineWorldFacts(ctx context.Context, req service.MineWorldFactsRequest) (uuid.UUID, error)
	GetTask(ctx context.Context, taskID uuid.UUID) (taskmanager.Task, error)
	ListTasks(kind string) []taskmanager.Task
	CancelTask(ctx context.Context, taskID uuid.UUID) (taskmanager.Task, error)
	RetryTask(ctx context.Context, taskID uuid.UUID) (taskmanager.Task, error)
}

var _ ContinuityService = (*service.ContinuityService)(nil)

const defaultContextCharacters = 10

// APIError - стандартный ответ об ошибке.
type APIError struct {
	Message string `json:"message"`
}

// Handler обрабатывает HTTP запросы движка.
type Handler struct {
	service ContinuityService
	logger  *zap.Logger
}

func NewHandler(s ContinuityService, logger *zap.Logger) *Handler {
	return &Handler{service: s, logger: logger.Named("ContinuityHandler")}
}

// RegisterRoutes регистрирует маршруты API.
func (h *Handler) RegisterRoutes(r gin.IRouter) {
	stories := r.Group("/stories/:story_id")
	{
		stories.GET("/memory-bank", h.getMemoryBank)
		stories.GET("/memory-context", h.getMemoryContext)
		stories.POST("/briefs/enhance", h.enhanceBrief)
		stories.GET("/pacing", h.getPacing)
		stories.PUT("/pacing", h.configurePacing)
		stories.POST("/pacing/advance", h.advancePacing)
		stories.POST("/chapters", h.publishChapter)
		stories.POST("/volumes/:volume/outline", h.generateVolumeOutline)
		stories.POST("/world-facts/mine", h.mineWorldFacts)
		stories.POST("/foreshadowing/:item_id/resolve", h.resolveForeshadowing)
	}

	tasks := r.Group("/tasks")
	{
		tasks.GET("", h.listTasks)
		tasks.GET("/:id", h.getTask)
		tasks.POST("/:id/cancel", h.cancelTask)
		tasks.POST("/:id/retry", h.retryTask)
	}
}

// handleServiceError переводит ошибки сервиса в HTTP ответ.
func handleServiceError(c *gin.Context, err error, logger *zap.Logger) {
	var statusCode int
	apiErr := APIError{Message: err.Error()}

	switch {
	case errors.Is(err, models.ErrValidation):
		statusCode = http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound):
		statusCode = http.StatusNotFound
	case errors.Is(err, models.ErrConsistencyConflict):
		statusCode = http.StatusConflict
	case errors.Is(err, models.ErrProvider):
		statusCode = http.StatusBadGateway
	case errors.Is(err, models.ErrTransientIO):
		statusCode = http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		statusCode = http.StatusGatewayTimeout
		apiErr.Message = "request timed out"
	default:
		logger.Error("Unhandled internal error", zap.Error(err))
		statusCode = http.StatusInternalServerError
		apiErr.Message = "Internal server error"
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(statusCode, apiErr)
}

func badRequest(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, APIError{Message: message})
}

func parseUUIDParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		badRequest(c, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

func parseIntQuery(c *gin.Context, name string, def int) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		badRequest(c, "invalid '"+name+"' parameter")
		return 0, false
	}
	return v, true
}

// --- Банк памяти --- //

func (h *Handler) getMemoryBank(c *gin.Context) {
	storyID, ok := parseUUIDParam(c, "story_id")
	if !ok {
		return
	}
	bank, err := h.service.AssembleMemoryBank(c.Request.Context(), storyID)
	if err != nil {
		handleServiceError(c, err, h.logger)
		return
	}
	c.JSON(http.StatusOK, bank)
}

func (h *Handler) getMemoryContext(c *gin.Context) {
	storyID, ok := parseUUIDParam(c, "story_id")
	if !ok {
		return
	}
	chapter, ok := parseIntQuery(c, "chapter", 0)
	if !ok {
		return
	}
	maxCharacters, ok := parseIntQuery(c, "max_characters", defaultContextCharacters)
	if !ok {
		return
	}
	mc, err := h.service.MemoryContext(c.Request.Context(), storyID, chapter, maxCharacters)
	if err != nil {
		handleServiceError(c, err, h.logger)
		return
	}
	c.JSON(http.StatusOK, mc)
}

// --- Темп --- //

type briefRequest struct {
	ChapterNumber int    `json:"chapterNumber" binding:"required,gte=1"`
	Brief         string `json:"brief" binding:"required"`
}

type enhanceBriefResponse struct {
	Brief    string `json:"brief"`
	Enhanced bool   `json:"enhanced"`
}

func (h *Handler) enhanceBrief(c *gin.Context) {
	storyID, ok := parseUUIDParam(c, "story_id")
	if !ok {
		return
	}
	var req briefRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	enhanced, err := h.service.EnhanceBrief(c.Request.Context(), storyID, req.ChapterNumber, req.Brief)
	if err != nil {
		handleServiceError(c, err, h.logger)
		return
	}
	c.JSON(http.StatusOK, enhanceBriefResponse{Brief: enhanced, Enhanced: enhanced != req.Brief})
}

func (h *Handler) advancePacing(c *gin.Context) {
	storyID, ok := parseUUIDParam(c, "story_id")
	if !ok {
		return
	}
	var req briefRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	res, err := h.service.AdvanceIfComplete(c.Request.Context(), storyID, req.ChapterNumber, req.Brief)
	if err != nil {
		handleServiceError(c, err, h.logger)
		return
	}
	c.JSON(http.StatusOK, res)
}

type resolveForeshadowingRequest struct {
	Chapter int `json:"chapter" binding:"required,min=1"`
}

func (h *Handler) resolveForeshadowing(c *gin.Context) {
	storyID, ok := parseUUIDParam(c, "story_id")
	if !ok {
		return
	}
	itemID, ok := parseUUIDParam(c, "item_id")
	if !ok {
		return
	}
	var req resolveForeshadowingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := h.service.ResolveForeshadowing(c.Request.Context(), storyID, itemID, req.Chapter); err != nil {
		handleServiceError(c, err, h.logger)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) getPacing(c *gin.Context) {
	storyID, ok := parseUUIDParam(c, "story_id")
	if !ok {
		return
	}
	p, err := h.service.PacingProgress(c.Request.Context(), storyID)
	if err != nil {
		handleServiceError(c, err, h.logger)
		return
	}
	c.JSON(http.StatusOK, p)
}

// enabled - указатель, иначе binding:"required" отвергает false
type configurePacingRequest struct {
	Enabled           *bool `json:"enabled" binding:"required"`
	ActivationChapter int   `json:"activationChapter" binding:"required,gte=1"`
}

func (h *Handler) configurePacing(c *gin.Context) {
	storyID, ok := parseUUIDParam(c, "story_id")
	if !ok {
		return
	}
	var req configurePacingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	p, err := h.service.ConfigurePacing(c.Request.Context(), storyID, *req.Enabled, req.ActivationChapter)
	if err != nil {
		handleServiceError(c, err, h.logger)
		return
	}
	c.JSON(http.StatusOK, p)
}

// --- Главы --- //

type publishChapterRequest struct {
	ChapterNumber int    `json:"chapterNumber" binding:"required,gte=1"`
	Title         string `json:"title"`
	Content       string `json:"content" binding:"required"`
	Brief         string `json:"brief"`
}

func (h *Handler) publishChapter(c *gin.Context) {
	storyID, ok := parseUUIDParam(c, "story_id")
	if !ok {
		return
	}
	var req publishChapterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	res, err := h.service.PublishChapter(c.Request.Context(), models.Chapter{
		StoryID:       storyID,
		ChapterNumber: req.ChapterNumber,
		Title:         req.Title,
		Content:       req.Content,
		Brief:         req.Brief,
		UpdatedAt:     time.Now().UTC(),
	})
	if err != nil {
		handleServiceError(c, err, h.logger)
		return
	}
	c.JSON(http.StatusOK, res)
}

// --- Фоновые задачи --- //

type taskAcceptedResponse struct {
	TaskID uuid.UUID `json:"taskId"`
}

type volumeOutlineRequest struct {
	StartChapter int      `json:"startChapter" binding:"required,gte=1"`
	Briefs       []string `json:"briefs" binding:"required,min=1"`
}

func (h *Handler) generateVolumeOutline(c *gin.Context) {
	storyID, ok := parseUUIDParam(c, "story_id")
	if !ok {
		return
	}
	volume, err := strconv.Atoi(c.Param("volume"))
	if err != nil || volume < 1 {
		badRequest(c, "invalid volume")
		return
	}
	var req volumeOutlineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	id, err := h.service.GenerateVolumeOutline(c.Request.Context(), service.VolumeOutlineRequest{
		StoryID:      storyID,
		Volume:       volume,
		StartChapter: req.StartChapter,
		Briefs:       req.Briefs,
	})
	if err != nil {
		handleServiceError(c, err, h.logger)
		return
	}
	c.JSON(http.StatusAccepted, taskAcceptedResponse{TaskID: id})
}

type mineWorldFactsRequest struct {
	Chapters []int `json:"chapters" binding:"required,min=1"`
}

func (h *Handler) mineWorldFacts(c *gin.Context) {
	storyID, ok := parseUUIDParam(c, "story_id")
	if !ok {
		return
	}
	var req mineWorldFactsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	id, err := h.service.MineWorldFacts(c.Request.Context(), service.MineWorldFactsRequest{StoryID: storyID, Chapters: req.Chapters})
	if err != nil {
		handleServiceError(c, err, h.logger)
		return
	}
	c.JSON(http.StatusAccepted, taskAcceptedResponse{TaskID: id})
}

func (h *Handler) listTasks(c *gin.Context) {
	tasks := h.service.ListTasks(c.Query("kind"))
	if tasks == nil {
		tasks = []taskmanager.Task{}
	}
	c.JSON(http.StatusOK, tasks)
}

func (h *Handler) getTask(c *gin.Context) {
	id, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}
	task, err := h.service.GetTask(c.Request.Context(), id)
	if err != nil {
		handleServiceError(c, err, h.logger)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (h *Handler) cancelTask(c *gin.Context) {
	id, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}
	task, err := h.service.CancelTask(c.Request.Context(), id)
	if err != nil {
		handleServiceError(c, err, h.logger)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (h *Handler) retryTask(c *gin.Context) {
	id, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}
	task, err := h.service.RetryTask(c.Request.Context(), id)
	if err != nil {
		handleServiceError(c, err, h.logger)
		return
	}
	c.JSON(http.StatusAccepted, task)
}
