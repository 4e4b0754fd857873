package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"habitledger/internal/habit"
	"habitledger/pkg/logger"
)

// HabitService is the engine surface exposed over HTTP; *habit.Engine implements it.
type HabitService interface {
	ListHabits(ctx context.Context, userID int, date habit.DateKey) ([]habit.HabitView, error)
	CreateHabit(ctx context.Context, h *habit.Habit) error
	UpdateHabit(ctx context.Context, userID, habitID int, patch habit.HabitPatch) (habit.Habit, error)
	ReplaceLinks(ctx context.Context, userID, habitID int, links []habit.Link) error
	ArchiveHabit(ctx context.Context, userID, habitID int) error
	ToggleCompletion(ctx context.Context, userID, habitID int, date habit.DateKey, desired bool, note string) (habit.ToggleResult, error)
	UpdateNote(ctx context.Context, userID, habitID int, date habit.DateKey, note string) error
	SkipHabit(ctx context.Context, userID, habitID int, date habit.DateKey, reason string) error
	GetProfile(ctx context.Context, userID int) (habit.Profile, error)
}

// ArrearsReader 欠账查询（带缓存）；写操作成功后调用 Invalidate
type ArrearsReader interface {
	ListArrears(ctx context.Context, userID int, today habit.DateKey) ([]habit.ArrearEntry, error)
	Invalidate(ctx context.Context, userID int) error
}

type HabitHandler struct {
	habits  HabitService
	arrears ArrearsReader
	logger  *zap.Logger
	today   func() habit.DateKey
}

func NewHabitHandler(habits HabitService, arrears ArrearsReader, logger *zap.Logger) *HabitHandler {
	return &HabitHandler{
		habits:  habits,
		arrears: arrears,
		logger:  logger,
		today:   func() habit.DateKey { return habit.DateKeyOf(time.Now()) },
	}
}

type createHabitRequest struct {
	Title        string          `json:"title"`
	Category     string          `json:"category"`
	TimeOfDay    string          `json:"time_of_day"`
	Frequency    habit.Frequency `json:"frequency"`
	Type         habit.Type      `json:"type"`
	GoalDuration int             `json:"goal_duration"`
	Priority     int             `json:"priority"`
}

type toggleRequest struct {
	Completed *bool  `json:"completed"`
	Note      string `json:"note"`
}

type noteRequest struct {
	Note string `json:"note"`
}

type skipRequest struct {
	Reason string `json:"reason"`
}

type linksRequest struct {
	Links []habit.Link `json:"links"`
}

func (h *HabitHandler) ListHabits(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}
	date, ok := h.dateParam(c, c.Query("date"))
	if !ok {
		return
	}

	views, err := h.habits.ListHabits(c.Request.Context(), userID, date)
	if err != nil {
		h.writeError(c, "ListHabits", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"date": date, "habits": views})
}

func (h *HabitHandler) CreateHabit(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}
	var req createHabitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	hb := &habit.Habit{
		UserID:       userID,
		Title:        req.Title,
		Category:     req.Category,
		TimeOfDay:    req.TimeOfDay,
		Frequency:    req.Frequency,
		Type:         req.Type,
		GoalDuration: req.GoalDuration,
		Priority:     req.Priority,
	}
	if err := h.habits.CreateHabit(c.Request.Context(), hb); err != nil {
		h.writeError(c, "CreateHabit", err)
		return
	}
	h.invalidateArrears(c, userID)

	logger.WithTrace(c.Request.Context(), h.logger).Info("Habit created",
		zap.Int("user_id", userID),
		zap.Int("habit_id", hb.ID),
	)
	c.JSON(http.StatusCreated, hb)
}

func (h *HabitHandler) UpdateHabit(c *gin.Context) {
	userID, habitID, ok := h.ids(c)
	if !ok {
		return
	}
	var patch habit.HabitPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	updated, err := h.habits.UpdateHabit(c.Request.Context(), userID, habitID, patch)
	if err != nil {
		h.writeError(c, "UpdateHabit", err)
		return
	}
	h.invalidateArrears(c, userID)
	c.JSON(http.StatusOK, updated)
}

func (h *HabitHandler) ReplaceLinks(c *gin.Context) {
	userID, habitID, ok := h.ids(c)
	if !ok {
		return
	}
	var req linksRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	// source_habit_id 可省略，默认取路径里的 habit_id
	for i := range req.Links {
		switch req.Links[i].SourceHabitID {
		case 0:
			req.Links[i].SourceHabitID = habitID
		case habitID:
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf(
				"links[%d]: source_habit_id %d does not match habit %d", i, req.Links[i].SourceHabitID, habitID)})
			return
		}
	}

	if err := h.habits.ReplaceLinks(c.Request.Context(), userID, habitID, req.Links); err != nil {
		h.writeError(c, "ReplaceLinks", err)
		return
	}
	h.invalidateArrears(c, userID)
	c.JSON(http.StatusOK, gin.H{"status": "ok", "links": len(req.Links)})
}

func (h *HabitHandler) ArchiveHabit(c *gin.Context) {
	userID, habitID, ok := h.ids(c)
	if !ok {
		return
	}
	if err := h.habits.ArchiveHabit(c.Request.Context(), userID, habitID); err != nil {
		h.writeError(c, "ArchiveHabit", err)
		return
	}
	h.invalidateArrears(c, userID)
	c.JSON(http.StatusOK, gin.H{"status": "archived"})
}

func (h *HabitHandler) ToggleCompletion(c *gin.Context) {
	userID, habitID, ok := h.ids(c)
	if !ok {
		return
	}
	date, ok := h.dateParam(c, c.Param("date"))
	if !ok {
		return
	}
	var req toggleRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Completed == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "completed is required"})
		return
	}

	res, err := h.habits.ToggleCompletion(c.Request.Context(), userID, habitID, date, *req.Completed, req.Note)
	if err != nil {
		h.writeError(c, "ToggleCompletion", err)
		return
	}
	if res.Changed {
		h.invalidateArrears(c, userID)
	}
	c.JSON(http.StatusOK, res)
}

func (h *HabitHandler) UpdateNote(c *gin.Context) {
	userID, habitID, ok := h.ids(c)
	if !ok {
		return
	}
	date, ok := h.dateParam(c, c.Param("date"))
	if !ok {
		return
	}
	var req noteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if err := h.habits.UpdateNote(c.Request.Context(), userID, habitID, date, req.Note); err != nil {
		h.writeError(c, "UpdateNote", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *HabitHandler) SkipHabit(c *gin.Context) {
	userID, habitID, ok := h.ids(c)
	if !ok {
		return
	}
	date, ok := h.dateParam(c, c.Param("date"))
	if !ok {
		return
	}
	// 原因可选，空 body 也接受
	var req skipRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
	}

	if err := h.habits.SkipHabit(c.Request.Context(), userID, habitID, date, req.Reason); err != nil {
		h.writeError(c, "SkipHabit", err)
		return
	}
	h.invalidateArrears(c, userID)
	c.JSON(http.StatusOK, gin.H{"status": "skipped", "date": date})
}

func (h *HabitHandler) ListArrears(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}
	today, ok := h.dateParam(c, c.Query("today"))
	if !ok {
		return
	}

	entries, err := h.arrears.ListArrears(c.Request.Context(), userID, today)
	if err != nil {
		h.writeError(c, "ListArrears", err)
		return
	}
	if entries == nil {
		entries = []habit.ArrearEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"today": today, "arrears": entries})
}

func (h *HabitHandler) GetProfile(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}
	p, err := h.habits.GetProfile(c.Request.Context(), userID)
	if err != nil {
		h.writeError(c, "GetProfile", err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// invalidateArrears 同步清掉欠账缓存，MQ 消费者关闭时也不会读到旧数据。
// 失败只记日志，写操作本身已经提交。
func (h *HabitHandler) invalidateArrears(c *gin.Context, userID int) {
	if h.arrears == nil {
		return
	}
	if err := h.arrears.Invalidate(c.Request.Context(), userID); err != nil {
		logger.WithTrace(c.Request.Context(), h.logger).Warn("Failed to invalidate arrears cache",
			zap.Int("user_id", userID),
			zap.Error(err),
		)
	}
}

func (h *HabitHandler) userID(c *gin.Context) (int, bool) {
	raw := c.Param("user_id")
	id, err := strconv.Atoi(raw)
	if err != nil || id <= 0 {
		h.logger.Warn("Invalid user_id", zap.String("user_id", raw))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user_id"})
		return 0, false
	}
	return id, true
}

func (h *HabitHandler) ids(c *gin.Context) (int, int, bool) {
	userID, ok := h.userID(c)
	if !ok {
		return 0, 0, false
	}
	raw := c.Param("habit_id")
	habitID, err := strconv.Atoi(raw)
	if err != nil || habitID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid habit_id"})
		return 0, 0, false
	}
	return userID, habitID, true
}

// dateParam parses a YYYY-MM-DD value; empty means the local calendar date.
func (h *HabitHandler) dateParam(c *gin.Context, raw string) (habit.DateKey, bool) {
	if raw == "" {
		return h.today(), true
	}
	d, err := habit.ParseDateKey(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return "", false
	}
	return d, true
}

func (h *HabitHandler) writeError(c *gin.Context, op string, err error) {
	log := logger.WithTrace(c.Request.Context(), h.logger)
	switch {
	case habit.IsValidation(err):
		log.Warn(op+": rejected", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case habit.IsNotFound(err):
		log.Info(op+": not found", zap.Error(err))
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case habit.IsUpstreamUnavailable(err):
		log.Error(op+": store unavailable", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store unavailable"})
	case errors.Is(err, context.Canceled):
		c.Status(499)
	default:
		log.Error(op+": failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
